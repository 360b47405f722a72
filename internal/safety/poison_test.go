package safety

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"swarmbot-go/internal/exception"
	"swarmbot-go/internal/lists"
)

type stubLists map[lists.ListType]map[string]bool

func (s stubLists) Contains(list lists.ListType, id string) bool { return s[list][id] }

type countingReputation struct {
	calls   atomic.Int32
	verdict Verdict
	err     error
	delay   time.Duration
}

func (c *countingReputation) Lookup(ctx context.Context, asset string) (Verdict, error) {
	c.calls.Add(1)
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	return c.verdict, c.err
}

func TestBlacklistBeatsWhitelist(t *testing.T) {
	view := stubLists{
		lists.Blacklist: {"TOK": true},
		lists.Whitelist: {"TOK": true},
	}
	rep := &countingReputation{verdict: Verdict{Safe: true}}
	p := NewPoisonChecker(view, rep, time.Minute, 10, zerolog.Nop())
	if err := p.Check(context.Background(), "TOK"); !errors.Is(err, exception.ErrPoisonToken) {
		t.Fatalf("expected poison rejection, got %v", err)
	}
	if rep.calls.Load() != 0 {
		t.Fatalf("blacklist must short-circuit the lookup")
	}
}

func TestWhitelistSkipsReputation(t *testing.T) {
	view := stubLists{lists.Whitelist: {"TOK": true}}
	rep := &countingReputation{verdict: Verdict{Safe: false}}
	p := NewPoisonChecker(view, rep, time.Minute, 10, zerolog.Nop())
	if err := p.Check(context.Background(), "TOK"); err != nil {
		t.Fatalf("whitelisted token rejected: %v", err)
	}
	if rep.calls.Load() != 0 {
		t.Fatalf("whitelist must short-circuit the lookup")
	}
}

func TestReputationVerdictsAndCache(t *testing.T) {
	rep := &countingReputation{verdict: Verdict{Safe: false, Reason: "honeypot"}}
	p := NewPoisonChecker(stubLists{}, rep, time.Minute, 10, zerolog.Nop())
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		err := p.Check(ctx, "TOK")
		if !errors.Is(err, exception.ErrPoisonToken) || !errors.Is(err, exception.ErrSafetyViolation) {
			t.Fatalf("expected unsafe verdict to reject, got %v", err)
		}
	}
	if rep.calls.Load() != 1 {
		t.Fatalf("expected cached verdict, got %d lookups", rep.calls.Load())
	}

	now := time.Now()
	p.now = func() time.Time { return now.Add(2 * time.Minute) }
	_ = p.Check(ctx, "TOK")
	if rep.calls.Load() != 2 {
		t.Fatalf("expected expired verdict to be refetched")
	}
}

func TestFailedLookupRejectsAndIsNotCached(t *testing.T) {
	rep := &countingReputation{err: errors.New("timeout")}
	p := NewPoisonChecker(stubLists{}, rep, time.Minute, 10, zerolog.Nop())
	ctx := context.Background()
	if err := p.Check(ctx, "TOK"); !errors.Is(err, exception.ErrPoisonToken) {
		t.Fatalf("failed lookup must reject, got %v", err)
	}
	_ = p.Check(ctx, "TOK")
	if rep.calls.Load() != 2 {
		t.Fatalf("failures must not be cached, got %d lookups", rep.calls.Load())
	}
	if p.CacheLen() != 0 {
		t.Fatalf("cache should be empty")
	}
}

func TestConcurrentLookupsAreDeduplicated(t *testing.T) {
	rep := &countingReputation{verdict: Verdict{Safe: true}, delay: 50 * time.Millisecond}
	p := NewPoisonChecker(stubLists{}, rep, time.Minute, 10, zerolog.Nop())
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.Check(context.Background(), "TOK"); err != nil {
				t.Errorf("unexpected rejection: %v", err)
			}
		}()
	}
	wg.Wait()
	if rep.calls.Load() != 1 {
		t.Fatalf("expected one shared lookup, got %d", rep.calls.Load())
	}
}

func TestCacheIsBounded(t *testing.T) {
	rep := &countingReputation{verdict: Verdict{Safe: true}}
	p := NewPoisonChecker(stubLists{}, rep, time.Minute, 2, zerolog.Nop())
	for _, asset := range []string{"A", "B", "C", "D"} {
		_ = p.Check(context.Background(), asset)
	}
	if p.CacheLen() > 2 {
		t.Fatalf("cache exceeded bound: %d", p.CacheLen())
	}
}

func TestHTTPReputation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/tokens/GOOD":
			_, _ = w.Write([]byte(`{"safe":true}`))
		case "/tokens/BAD":
			_, _ = w.Write([]byte(`{"safe":false,"reason":"mint authority"}`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	rep := NewHTTPReputation(srv.URL+"/", time.Second)
	ctx := context.Background()
	v, err := rep.Lookup(ctx, "GOOD")
	if err != nil || !v.Safe {
		t.Fatalf("expected safe verdict, got %+v %v", v, err)
	}
	v, err = rep.Lookup(ctx, "BAD")
	if err != nil || v.Safe || v.Reason != "mint authority" {
		t.Fatalf("expected unsafe verdict, got %+v %v", v, err)
	}
	if _, err := rep.Lookup(ctx, "ERR"); err == nil {
		t.Fatalf("expected status error")
	}
}

func TestGateCheck(t *testing.T) {
	b := NewCircuitBreaker(Thresholds{MaxPriceChange: 0.05}, zerolog.Nop())
	p := NewPoisonChecker(stubLists{lists.Whitelist: {"OK": true}}, nil, time.Minute, 10, zerolog.Nop())
	g := NewGate(b, p, NewWindow(time.Minute))
	ctx := context.Background()
	if err := g.Check(ctx, "OK"); err != nil {
		t.Fatalf("expected pass, got %v", err)
	}
	if err := g.Check(ctx, "UNKNOWN"); !errors.Is(err, exception.ErrPoisonToken) {
		t.Fatalf("no reputation source should reject unlisted tokens, got %v", err)
	}
	b.Record(Observation{PriceChange: 0.2})
	if err := g.Check(ctx, "OK"); !errors.Is(err, exception.ErrBreakerTripped) {
		t.Fatalf("expected breaker denial, got %v", err)
	}
}
