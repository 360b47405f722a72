package lists

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store persists list history. Implementations need not serialize writers; the Governor does.
type Store interface {
	// LoadActive returns every active entry across all lists.
	LoadActive(ctx context.Context) ([]Entry, error)
	// Insert writes a new row and returns it with ID and timestamps populated.
	Insert(ctx context.Context, e Entry) (Entry, error)
	// Update rewrites the row identified by e.ID.
	Update(ctx context.Context, e Entry) error
	// Latest returns the most recent row for (list, identifier), active or not.
	Latest(ctx context.Context, list ListType, identifier string) (Entry, bool, error)
	// History returns every row for (list, identifier), oldest first.
	History(ctx context.Context, list ListType, identifier string) ([]Entry, error)
}

// MemoryStore keeps list history in process memory.
type MemoryStore struct {
	mu     sync.Mutex
	nextID int64
	rows   []Entry
	now    func() time.Time
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

// LoadActive returns every active entry.
func (s *MemoryStore) LoadActive(ctx context.Context) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.rows))
	for _, row := range s.rows {
		if row.Active {
			out = append(out, row)
		}
	}
	return out, nil
}

// Insert assigns an id and timestamps and keeps e.
func (s *MemoryStore) Insert(ctx context.Context, e Entry) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	now := s.now().UTC()
	e.ID = s.nextID
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	s.rows = append(s.rows, e)
	return e, nil
}

// Update replaces the stored entry with the same id.
func (s *MemoryStore) Update(ctx context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rows {
		if s.rows[i].ID == e.ID {
			e.UpdatedAt = s.now().UTC()
			s.rows[i] = e
			return nil
		}
	}
	return errRowMissing(e.ID)
}

// Latest returns the newest entry for identifier on list, active or not.
func (s *MemoryStore) Latest(ctx context.Context, list ListType, identifier string) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.rows) - 1; i >= 0; i-- {
		row := s.rows[i]
		if row.List == list && row.Identifier == identifier {
			return row, true, nil
		}
	}
	return Entry{}, false, nil
}

// History returns every entry for identifier on list, oldest first.
func (s *MemoryStore) History(ctx context.Context, list ListType, identifier string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Entry
	for _, row := range s.rows {
		if row.List == list && row.Identifier == identifier {
			out = append(out, row)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
