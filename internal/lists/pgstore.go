package lists

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const listSchemaSQL = `
CREATE TABLE IF NOT EXISTS list_entries (
    id                  BIGSERIAL PRIMARY KEY,
    identifier          TEXT             NOT NULL,
    list_type           TEXT             NOT NULL,
    active              BOOLEAN          NOT NULL DEFAULT TRUE,
    reason              TEXT             NOT NULL DEFAULT '',
    added_by            TEXT             NOT NULL DEFAULT '',
    focus_duration_secs BIGINT,
    target_type         TEXT,
    min_liquidity       DOUBLE PRECISION NOT NULL DEFAULT 0,
    created_at          TIMESTAMPTZ      NOT NULL DEFAULT now(),
    updated_at          TIMESTAMPTZ      NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS list_entries_one_active
    ON list_entries (identifier, list_type) WHERE active;
`

const listColumns = `id, identifier, list_type, active, reason, added_by, focus_duration_secs, target_type, min_liquidity, created_at, updated_at`

// PGStore keeps list history in postgres.
type PGStore struct {
	db *pgxpool.Pool
}

// NewPGStore wraps an existing pool.
func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

// Migrate creates the list table and its one-active-row index.
func (s *PGStore) Migrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := s.db.Exec(ctx, listSchemaSQL); err != nil {
		return fmt.Errorf("migrate list_entries: %w", err)
	}
	return nil
}

// LoadActive returns every active row.
func (s *PGStore) LoadActive(ctx context.Context) ([]Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, 4*time.Second)
	defer cancel()
	rows, err := s.db.Query(ctx, `SELECT `+listColumns+` FROM list_entries WHERE active ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return collectEntries(rows)
}

// Insert stores a new row and returns it with its id and timestamps.
func (s *PGStore) Insert(ctx context.Context, e Entry) (Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, 4*time.Second)
	defer cancel()
	row := s.db.QueryRow(ctx, `
        INSERT INTO list_entries (identifier, list_type, active, reason, added_by, focus_duration_secs, target_type, min_liquidity)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        RETURNING `+listColumns,
		e.Identifier, e.List.String(), e.Active, e.Reason, e.AddedBy,
		focusSeconds(e.FocusDuration), nullableString(e.TargetType), e.MinLiquidity,
	)
	return scanEntry(row)
}

// Update rewrites the metadata and active flag of an existing row.
func (s *PGStore) Update(ctx context.Context, e Entry) error {
	ctx, cancel := context.WithTimeout(ctx, 4*time.Second)
	defer cancel()
	tag, err := s.db.Exec(ctx, `
        UPDATE list_entries SET
            active              = $2,
            reason              = $3,
            added_by            = $4,
            focus_duration_secs = $5,
            target_type         = $6,
            min_liquidity       = $7,
            updated_at          = now()
        WHERE id = $1`,
		e.ID, e.Active, e.Reason, e.AddedBy,
		focusSeconds(e.FocusDuration), nullableString(e.TargetType), e.MinLiquidity,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errRowMissing(e.ID)
	}
	return nil
}

// Latest returns the newest row for identifier on list, active or not.
func (s *PGStore) Latest(ctx context.Context, list ListType, identifier string) (Entry, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	row := s.db.QueryRow(ctx, `
        SELECT `+listColumns+` FROM list_entries
        WHERE list_type = $1 AND identifier = $2
        ORDER BY id DESC LIMIT 1`, list.String(), identifier)
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

// History returns every row for identifier on list, oldest first.
func (s *PGStore) History(ctx context.Context, list ListType, identifier string) ([]Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, 4*time.Second)
	defer cancel()
	rows, err := s.db.Query(ctx, `
        SELECT `+listColumns+` FROM list_entries
        WHERE list_type = $1 AND identifier = $2
        ORDER BY id`, list.String(), identifier)
	if err != nil {
		return nil, err
	}
	return collectEntries(rows)
}

func collectEntries(rows pgx.Rows) ([]Entry, error) {
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEntry(row pgx.Row) (Entry, error) {
	var (
		e          Entry
		listName   string
		focusSecs  *int64
		targetType *string
	)
	if err := row.Scan(&e.ID, &e.Identifier, &listName, &e.Active, &e.Reason, &e.AddedBy,
		&focusSecs, &targetType, &e.MinLiquidity, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return Entry{}, err
	}
	list, err := ParseListType(listName)
	if err != nil {
		return Entry{}, err
	}
	e.List = list
	e.ListName = list.String()
	if focusSecs != nil {
		e.FocusDuration = time.Duration(*focusSecs) * time.Second
	}
	if targetType != nil {
		e.TargetType = *targetType
	}
	return e, nil
}

func focusSeconds(d time.Duration) *int64 {
	if d <= 0 {
		return nil
	}
	secs := int64(d / time.Second)
	return &secs
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func errRowMissing(id int64) error {
	return fmt.Errorf("list entry %d not found", id)
}
