package safety

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"swarmbot-go/internal/exception"
	"swarmbot-go/internal/lists"
	"swarmbot-go/internal/util"
)

// ListView is the read side of the list governor.
type ListView interface {
	Contains(list lists.ListType, identifier string) bool
}

type cachedVerdict struct {
	verdict Verdict
	expires time.Time
}

// PoisonChecker rejects blacklisted assets, accepts whitelisted ones and defers everything
// else to a cached reputation lookup. A failed lookup rejects and is not cached.
type PoisonChecker struct {
	lists ListView
	rep   Reputation
	ttl   time.Duration
	max   int
	log   zerolog.Logger
	now   func() time.Time

	mu    sync.Mutex
	cache map[string]cachedVerdict
	group singleflight.Group
}

// NewPoisonChecker caches reputation verdicts for ttl, holding at most maxEntries.
func NewPoisonChecker(view ListView, rep Reputation, ttl time.Duration, maxEntries int, log zerolog.Logger) *PoisonChecker {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	return &PoisonChecker{
		lists: view,
		rep:   rep,
		ttl:   ttl,
		max:   maxEntries,
		log:   util.Component(log, "poison"),
		now:   time.Now,
		cache: make(map[string]cachedVerdict),
	}
}

// Check returns nil when asset may be traded.
func (p *PoisonChecker) Check(ctx context.Context, asset string) error {
	if p.lists != nil {
		if p.lists.Contains(lists.Blacklist, asset) {
			return fmt.Errorf("%w: %s is blacklisted", exception.ErrPoisonToken, asset)
		}
		if p.lists.Contains(lists.Whitelist, asset) {
			return nil
		}
	}
	if p.rep == nil {
		return fmt.Errorf("%w: %s has no reputation source", exception.ErrPoisonToken, asset)
	}

	verdict, err := p.lookup(ctx, asset)
	if err != nil {
		p.log.Warn().Err(err).Str("asset", asset).Msg("reputation lookup failed")
		return fmt.Errorf("%w: %s reputation lookup failed: %v", exception.ErrPoisonToken, asset, err)
	}
	if !verdict.Safe {
		return fmt.Errorf("%w: %s flagged unsafe: %s", exception.ErrPoisonToken, asset, verdict.Reason)
	}
	return nil
}

func (p *PoisonChecker) lookup(ctx context.Context, asset string) (Verdict, error) {
	now := p.now()
	p.mu.Lock()
	if hit, ok := p.cache[asset]; ok && now.Before(hit.expires) {
		p.mu.Unlock()
		return hit.verdict, nil
	}
	p.mu.Unlock()

	v, err, _ := p.group.Do(asset, func() (any, error) {
		verdict, err := p.rep.Lookup(ctx, asset)
		if err != nil {
			return Verdict{}, err
		}
		p.store(asset, verdict)
		return verdict, nil
	})
	if err != nil {
		return Verdict{}, err
	}
	return v.(Verdict), nil
}

func (p *PoisonChecker) store(asset string, v Verdict) {
	now := p.now()
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.cache) >= p.max {
		var (
			oldestKey string
			oldest    time.Time
		)
		for k, c := range p.cache {
			if !now.Before(c.expires) {
				delete(p.cache, k)
				continue
			}
			if oldestKey == "" || c.expires.Before(oldest) {
				oldestKey, oldest = k, c.expires
			}
		}
		if len(p.cache) >= p.max && oldestKey != "" {
			delete(p.cache, oldestKey)
		}
	}
	p.cache[asset] = cachedVerdict{verdict: v, expires: now.Add(p.ttl)}
}

// CacheLen reports the number of cached verdicts.
func (p *PoisonChecker) CacheLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.cache)
}
