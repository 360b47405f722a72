package journal

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func sample(order string, status string) Record {
	return Record{
		OrderID: order,
		Wallet:  "w1",
		Asset:   "SOL",
		Side:    "BUY",
		Size:    decimal.NewFromInt(25),
		Price:   decimal.RequireFromString("142.5"),
		Status:  status,
	}
}

func TestLedgerAppendRecent(t *testing.T) {
	ctx := context.Background()
	l := NewLedger(2)
	for _, id := range []string{"a", "b", "c"} {
		if err := l.Append(ctx, sample(id, StatusSuccess)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	recent, _ := l.Recent(ctx, 2)
	if len(recent) != 2 || recent[0].OrderID != "b" || recent[1].OrderID != "c" {
		t.Fatalf("unexpected tail %+v", recent)
	}
	if recent[0].ID == "" || recent[0].Timestamp.IsZero() {
		t.Fatalf("record not stamped")
	}
	l.Reset()
	if len(l.Snapshot()) != 0 {
		t.Fatalf("reset did not clear")
	}
}

func TestJSONLPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "trades.jsonl")
	j, err := NewJSONL(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := j.Append(ctx, sample("a", StatusSuccess)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := j.Append(ctx, sample("b", StatusFailure)); err != nil {
		t.Fatalf("append: %v", err)
	}
	_ = j.Close()
	if err := j.Append(ctx, sample("c", StatusSuccess)); err == nil {
		t.Fatalf("append after close should fail")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if strings.Count(string(data), "\n") != 2 || !strings.Contains(string(data), `"status":"failure"`) {
		t.Fatalf("unexpected file contents %s", data)
	}

	j, err = NewJSONL(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer j.Close()
	recs, err := j.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recs) != 2 || !recs[0].Price.Equal(decimal.RequireFromString("142.5")) {
		t.Fatalf("unexpected records %+v", recs)
	}
}

type failingStore struct{}

func (failingStore) Append(ctx context.Context, rec Record) error { return errors.New("disk full") }
func (failingStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	return nil, nil
}

func TestTeeFansOut(t *testing.T) {
	ctx := context.Background()
	a, b := NewLedger(0), NewLedger(0)
	tee := Tee{a, b}
	if err := tee.Append(ctx, sample("x", StatusSuccess)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if len(a.Snapshot()) != 1 || len(b.Snapshot()) != 1 {
		t.Fatalf("tee did not reach every store")
	}
	if a.Snapshot()[0].ID != b.Snapshot()[0].ID {
		t.Fatalf("tee should stamp once so ids match")
	}
	if err := (Tee{a, failingStore{}}).Append(ctx, sample("y", StatusSuccess)); err == nil {
		t.Fatalf("expected joined error")
	}
	if len(a.Snapshot()) != 2 {
		t.Fatalf("healthy store should still receive the record")
	}
}

func TestOptionDSN(t *testing.T) {
	dsn, err := Option{User: "bot", Password: "pw", Database: "swarm"}.dsn()
	if err != nil {
		t.Fatalf("dsn: %v", err)
	}
	if dsn != "postgres://bot:pw@localhost:5432/swarm?sslmode=disable" {
		t.Fatalf("unexpected dsn %s", dsn)
	}
	if _, err := (Option{}).dsn(); err == nil {
		t.Fatalf("expected missing database error")
	}
	if dsn, _ := (Option{ConnString: "postgres://x"}).dsn(); dsn != "postgres://x" {
		t.Fatalf("conn string should pass through")
	}
}

func TestGormStoreRoundTrip(t *testing.T) {
	dsn := os.Getenv("SWARMBOT_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("SWARMBOT_TEST_DATABASE_URL not set")
	}
	store, err := OpenGorm(Option{ConnString: dsn})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()
	ctx := context.Background()
	rec := sample("gorm-1", StatusSuccess)
	if err := store.Append(ctx, rec); err != nil {
		t.Fatalf("append: %v", err)
	}
	recent, err := store.Recent(ctx, 1)
	if err != nil || len(recent) != 1 {
		t.Fatalf("recent: %v %v", recent, err)
	}
	if !recent[0].Size.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("size lost precision: %s", recent[0].Size)
	}
}
