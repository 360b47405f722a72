package journal

import (
	"context"
	"sync"
)

// Ledger stores records in memory for quick inspection.
type Ledger struct {
	mu   sync.Mutex
	recs []Record
}

// NewLedger creates an empty ledger optionally pre-sizing storage.
func NewLedger(capacity int) *Ledger {
	if capacity < 0 {
		capacity = 0
	}
	return &Ledger{recs: make([]Record, 0, capacity)}
}

// Append keeps rec.
func (l *Ledger) Append(ctx context.Context, rec Record) error {
	rec.stamp()
	l.mu.Lock()
	l.recs = append(l.recs, rec)
	l.mu.Unlock()
	return nil
}

// Recent returns up to limit records, oldest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return tail(l.recs, limit), nil
}

// Snapshot returns a copy of every record.
func (l *Ledger) Snapshot() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	return tail(l.recs, 0)
}

// Reset clears all stored records.
func (l *Ledger) Reset() {
	l.mu.Lock()
	l.recs = l.recs[:0]
	l.mu.Unlock()
}
