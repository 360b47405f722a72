package lists

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"swarmbot-go/internal/exception"
	"swarmbot-go/internal/metrics"
	"swarmbot-go/internal/util"
)

type listState struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// Governor owns the active view of every list. Writers are serialized; readers of one list
// never observe a write to that list half applied.
type Governor struct {
	store Store
	log   zerolog.Logger
	now   func() time.Time

	writeMu sync.Mutex
	lists   map[ListType]*listState

	pump PumplistDeps
}

// NewGovernor builds a governor over store. Call Load to hydrate from persisted state.
func NewGovernor(store Store, log zerolog.Logger) *Governor {
	g := &Governor{
		store: store,
		log:   util.Component(log, "lists"),
		now:   time.Now,
		lists: make(map[ListType]*listState, len(All)),
	}
	for _, t := range All {
		g.lists[t] = &listState{entries: make(map[string]Entry)}
	}
	return g
}

// Load replaces the in-memory view with the store's active rows.
func (g *Governor) Load(ctx context.Context) error {
	rows, err := g.store.LoadActive(ctx)
	if err != nil {
		return fmt.Errorf("load lists: %w", err)
	}
	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	fresh := make(map[ListType]map[string]Entry, len(All))
	for _, t := range All {
		fresh[t] = make(map[string]Entry)
	}
	for _, row := range rows {
		if !row.List.Valid() {
			continue
		}
		row.ListName = row.List.String()
		if prev, ok := fresh[row.List][row.Identifier]; ok && prev.ID > row.ID {
			continue
		}
		fresh[row.List][row.Identifier] = row
	}
	for _, t := range All {
		st := g.lists[t]
		st.mu.Lock()
		st.entries = fresh[t]
		st.mu.Unlock()
	}
	g.log.Info().Int("entries", len(rows)).Msg("lists loaded")
	return nil
}

func (g *Governor) state(list ListType) (*listState, error) {
	st, ok := g.lists[list]
	if !ok {
		return nil, fmt.Errorf("%w: %s", exception.ErrUnknownListType, list)
	}
	return st, nil
}

func normalize(identifier string) (string, error) {
	id := strings.TrimSpace(identifier)
	if id == "" {
		return "", fmt.Errorf("%w: empty identifier", exception.ErrListGovernance)
	}
	return id, nil
}

// Get returns the active entries of list ordered by creation.
func (g *Governor) Get(list ListType) ([]Entry, error) {
	st, err := g.state(list)
	if err != nil {
		return nil, err
	}
	st.mu.RLock()
	out := make([]Entry, 0, len(st.entries))
	for _, e := range st.entries {
		out = append(out, e)
	}
	st.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// GetGreenlist returns the active greenlist entries.
func (g *Governor) GetGreenlist() ([]Entry, error) { return g.Get(Greenlist) }

// GetBlacklist returns the active blacklist entries.
func (g *Governor) GetBlacklist() ([]Entry, error) { return g.Get(Blacklist) }

// GetRedlist returns the active redlist entries.
func (g *Governor) GetRedlist() ([]Entry, error) { return g.Get(Redlist) }

// GetWhitelist returns the active whitelist entries.
func (g *Governor) GetWhitelist() ([]Entry, error) { return g.Get(Whitelist) }

// GetPumplist returns the active pumplist entries.
func (g *Governor) GetPumplist() ([]Entry, error) { return g.Get(Pumplist) }

// Lookup returns the active entry for identifier on list.
func (g *Governor) Lookup(list ListType, identifier string) (Entry, bool) {
	st, err := g.state(list)
	if err != nil {
		return Entry{}, false
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	e, ok := st.entries[strings.TrimSpace(identifier)]
	return e, ok
}

// Contains reports whether identifier is active on list.
func (g *Governor) Contains(list ListType, identifier string) bool {
	_, ok := g.Lookup(list, identifier)
	return ok
}

// Add creates an active entry, or refreshes the metadata of the one already active.
func (g *Governor) Add(ctx context.Context, list ListType, identifier string, md Metadata) (Entry, error) {
	st, err := g.state(list)
	if err != nil {
		return Entry{}, err
	}
	id, err := normalize(identifier)
	if err != nil {
		return Entry{}, err
	}

	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	st.mu.Lock()
	defer st.mu.Unlock()

	if cur, ok := st.entries[id]; ok {
		cur.apply(md)
		if err := g.store.Update(ctx, cur); err != nil {
			return Entry{}, fmt.Errorf("update %s entry %s: %w", list, id, err)
		}
		cur.UpdatedAt = g.now().UTC()
		st.entries[id] = cur
		metrics.ListWrites.WithLabelValues(list.String(), "refresh").Inc()
		return cur, nil
	}

	e := Entry{Identifier: id, List: list, ListName: list.String(), Active: true}
	e.apply(md)
	saved, err := g.store.Insert(ctx, e)
	if err != nil {
		return Entry{}, fmt.Errorf("insert %s entry %s: %w", list, id, err)
	}
	saved.ListName = list.String()
	st.entries[id] = saved
	metrics.ListWrites.WithLabelValues(list.String(), "add").Inc()
	g.log.Info().Str("list", list.String()).Str("identifier", id).Str("added_by", saved.AddedBy).Msg("list entry added")
	return saved, nil
}

// AddToGreenlist marks identifier eligible for accumulation, on behalf of user.
func (g *Governor) AddToGreenlist(ctx context.Context, identifier, user string) (Entry, error) {
	return g.Add(ctx, Greenlist, identifier, Metadata{AddedBy: user})
}

// AddToBlacklist bans identifier outright.
func (g *Governor) AddToBlacklist(ctx context.Context, identifier, user, reason string) (Entry, error) {
	return g.Add(ctx, Blacklist, identifier, Metadata{AddedBy: user, Reason: reason})
}

// AddToRedlist flags identifier as risky; targetType says what the flag applies to.
func (g *Governor) AddToRedlist(ctx context.Context, identifier, reason, targetType string) (Entry, error) {
	return g.Add(ctx, Redlist, identifier, Metadata{Reason: reason, TargetType: targetType})
}

// AddToWhitelist vouches for identifier so it skips the reputation lookup.
func (g *Governor) AddToWhitelist(ctx context.Context, identifier, user string) (Entry, error) {
	return g.Add(ctx, Whitelist, identifier, Metadata{AddedBy: user})
}

// AddToPumplist focuses the swarm on identifier for focus (zero means open ended) and keeps
// its pool liquidity at or above minLiquidity.
func (g *Governor) AddToPumplist(ctx context.Context, identifier string, focus time.Duration, user string, minLiquidity float64) (Entry, error) {
	return g.Add(ctx, Pumplist, identifier, Metadata{FocusDuration: focus, AddedBy: user, MinLiquidity: minLiquidity})
}

// Update changes the metadata of an active entry.
func (g *Governor) Update(ctx context.Context, list ListType, identifier string, md Metadata) (Entry, error) {
	st, err := g.state(list)
	if err != nil {
		return Entry{}, err
	}
	id, err := normalize(identifier)
	if err != nil {
		return Entry{}, err
	}

	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	st.mu.Lock()
	defer st.mu.Unlock()

	cur, ok := st.entries[id]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s on %s", exception.ErrUnknownEntry, id, list)
	}
	cur.apply(md)
	if err := g.store.Update(ctx, cur); err != nil {
		return Entry{}, fmt.Errorf("update %s entry %s: %w", list, id, err)
	}
	cur.UpdatedAt = g.now().UTC()
	st.entries[id] = cur
	metrics.ListWrites.WithLabelValues(list.String(), "update").Inc()
	return cur, nil
}

// Deactivate is UpdateListStatus(identifier, list, false).
func (g *Governor) Deactivate(ctx context.Context, list ListType, identifier string) (Entry, error) {
	return g.UpdateListStatus(ctx, identifier, list, false)
}

// UpdateListStatus is the single activation path. Flipping to the current state is a no-op;
// an identifier that never appeared on list is rejected.
func (g *Governor) UpdateListStatus(ctx context.Context, identifier string, list ListType, active bool) (Entry, error) {
	st, err := g.state(list)
	if err != nil {
		return Entry{}, err
	}
	id, err := normalize(identifier)
	if err != nil {
		return Entry{}, err
	}

	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	st.mu.Lock()
	defer st.mu.Unlock()

	if cur, ok := st.entries[id]; ok {
		if active {
			return cur, nil
		}
		return g.deactivateLocked(ctx, st, list, cur)
	}

	last, found, err := g.store.Latest(ctx, list, id)
	if err != nil {
		return Entry{}, fmt.Errorf("lookup %s entry %s: %w", list, id, err)
	}
	if !found {
		return Entry{}, fmt.Errorf("%w: %s on %s", exception.ErrUnknownEntry, id, list)
	}
	last.ListName = list.String()
	if !active {
		return last, nil
	}
	last.Active = true
	if err := g.store.Update(ctx, last); err != nil {
		return Entry{}, fmt.Errorf("reactivate %s entry %s: %w", list, id, err)
	}
	last.UpdatedAt = g.now().UTC()
	st.entries[id] = last
	metrics.ListWrites.WithLabelValues(list.String(), "reactivate").Inc()
	g.log.Info().Str("list", list.String()).Str("identifier", id).Msg("list entry reactivated")
	return last, nil
}

// History returns every row ever written for identifier on list.
func (g *Governor) History(ctx context.Context, list ListType, identifier string) ([]Entry, error) {
	if _, err := g.state(list); err != nil {
		return nil, err
	}
	id, err := normalize(identifier)
	if err != nil {
		return nil, err
	}
	rows, err := g.store.History(ctx, list, id)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].ListName = list.String()
	}
	return rows, nil
}

// Permit applies list trading policy to asset. Blacklisted and redlisted assets are refused;
// when requireGreenlist is set the asset must also be greenlisted or whitelisted.
func (g *Governor) Permit(asset string, requireGreenlist bool) error {
	switch {
	case g.Contains(Blacklist, asset):
		return fmt.Errorf("%w: %s is blacklisted", exception.ErrListDenied, asset)
	case g.Contains(Redlist, asset):
		return fmt.Errorf("%w: %s is redlisted", exception.ErrListDenied, asset)
	case requireGreenlist && !g.Contains(Greenlist, asset) && !g.Contains(Whitelist, asset):
		return fmt.Errorf("%w: %s is not greenlisted", exception.ErrListDenied, asset)
	}
	return nil
}

// deactivateLocked retires cur. The caller holds writeMu and st.mu.
func (g *Governor) deactivateLocked(ctx context.Context, st *listState, list ListType, cur Entry) (Entry, error) {
	cur.Active = false
	if err := g.store.Update(ctx, cur); err != nil {
		return Entry{}, fmt.Errorf("deactivate %s entry %s: %w", list, cur.Identifier, err)
	}
	cur.UpdatedAt = g.now().UTC()
	delete(st.entries, cur.Identifier)
	metrics.ListWrites.WithLabelValues(list.String(), "deactivate").Inc()
	g.log.Info().Str("list", list.String()).Str("identifier", cur.Identifier).Msg("list entry deactivated")
	return cur, nil
}

// expireFocus deactivates the pumplist entry for identifier when its focus window has elapsed
// at now, judged on the entry as it stands under the write lock. It returns the entry as left
// behind; a zero entry means it is no longer active.
func (g *Governor) expireFocus(ctx context.Context, identifier string, now time.Time) (Entry, bool, error) {
	st := g.lists[Pumplist]
	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	st.mu.Lock()
	defer st.mu.Unlock()

	cur, ok := st.entries[identifier]
	if !ok {
		return Entry{}, false, nil
	}
	if !cur.FocusExpired(now) {
		return cur, false, nil
	}
	e, err := g.deactivateLocked(ctx, st, Pumplist, cur)
	return e, true, err
}
