package lists

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

func TestPGStoreRoundTrip(t *testing.T) {
	dsn := os.Getenv("SWARMBOT_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("SWARMBOT_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer pool.Close()
	if _, err := pool.Exec(ctx, `DROP TABLE IF EXISTS list_entries`); err != nil {
		t.Fatalf("reset: %v", err)
	}
	store := NewPGStore(pool)
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	g := NewGovernor(store, zerolog.Nop())
	if _, err := g.AddToGreenlist(ctx, "0xABC", "1"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := g.Deactivate(ctx, Greenlist, "0xABC"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := g.AddToGreenlist(ctx, "0xABC", "2"); err != nil {
		t.Fatalf("re-add: %v", err)
	}
	history, err := g.History(ctx, Greenlist, "0xABC")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 || history[0].Active || !history[1].Active {
		t.Fatalf("unexpected history %+v", history)
	}

	reloaded := NewGovernor(store, zerolog.Nop())
	if err := reloaded.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reloaded.Contains(Greenlist, "0xABC") {
		t.Fatalf("active entry missing after reload")
	}
}
