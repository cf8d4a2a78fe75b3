// Package ledger keeps an append-only SQLite audit log of every ready
// decision the poll loop makes.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	// Registers the sqlite3 driver.
	_ "github.com/mattn/go-sqlite3"
)

const driverName = "sqlite3"

const schema = `
CREATE TABLE IF NOT EXISTS triggers (
	id             TEXT PRIMARY KEY,
	invocation_id  TEXT NOT NULL,
	triggered_at   TIMESTAMP NOT NULL,
	total_rows     INTEGER NOT NULL,
	usable_rows    INTEGER NOT NULL,
	expect_before  INTEGER NOT NULL,
	expect_after   INTEGER NOT NULL,
	desired_window INTEGER NOT NULL,
	carried_rows   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS triggers_triggered_at ON triggers (triggered_at);
`

// ErrInvalidLimit is returned by List for a non-positive limit.
var ErrInvalidLimit = errors.New("ledger: limit must be positive")

// Entry is one recorded trigger.
type Entry struct {
	ID            string    `json:"id"             yaml:"id"`
	InvocationID  string    `json:"invocation_id"  yaml:"invocation_id"`
	TriggeredAt   time.Time `json:"triggered_at"   yaml:"triggered_at"`
	TotalRows     int64     `json:"total_rows"     yaml:"total_rows"`
	UsableRows    int64     `json:"usable_rows"    yaml:"usable_rows"`
	ExpectBefore  int64     `json:"expect_before"  yaml:"expect_before"`
	ExpectAfter   int64     `json:"expect_after"   yaml:"expect_after"`
	DesiredWindow int64     `json:"desired_window" yaml:"desired_window"`
	CarriedRows   int64     `json:"carried_rows"   yaml:"carried_rows"`
}

// Ledger is a trigger log backed by a SQLite database file.
type Ledger struct {
	db *sql.DB
}

// Open opens or creates the ledger at dsn and applies the schema.
// Use ":memory:" for a throwaway ledger.
func Open(ctx context.Context, dsn string) (*Ledger, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", dsn, err)
	}

	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	err = db.PingContext(ctx)
	if err != nil {
		db.Close()

		return nil, fmt.Errorf("ping ledger %s: %w", dsn, err)
	}

	_, err = db.ExecContext(ctx, schema)
	if err != nil {
		db.Close()

		return nil, fmt.Errorf("apply ledger schema: %w", err)
	}

	return &Ledger{db: db}, nil
}

// Close releases the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Append stores e. An empty ID is filled with a new UUID and a zero
// TriggeredAt with the current time. The stored entry is returned.
func (l *Ledger) Append(ctx context.Context, e Entry) (Entry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	if e.TriggeredAt.IsZero() {
		e.TriggeredAt = time.Now()
	}

	e.TriggeredAt = e.TriggeredAt.UTC()

	query := `
		INSERT INTO triggers (id, invocation_id, triggered_at, total_rows, usable_rows,
			expect_before, expect_after, desired_window, carried_rows)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := l.db.ExecContext(ctx, query,
		e.ID,
		e.InvocationID,
		e.TriggeredAt,
		e.TotalRows,
		e.UsableRows,
		e.ExpectBefore,
		e.ExpectAfter,
		e.DesiredWindow,
		e.CarriedRows,
	)
	if err != nil {
		return Entry{}, fmt.Errorf("append trigger: %w", err)
	}

	return e, nil
}

// List returns up to limit entries, newest first.
func (l *Ledger) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}

	query := `
		SELECT id, invocation_id, triggered_at, total_rows, usable_rows,
			expect_before, expect_after, desired_window, carried_rows
		FROM triggers
		ORDER BY triggered_at DESC, rowid DESC
		LIMIT ?
	`

	rows, err := l.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list triggers: %w", err)
	}
	defer rows.Close()

	var entries []Entry

	for rows.Next() {
		var e Entry

		err = rows.Scan(
			&e.ID,
			&e.InvocationID,
			&e.TriggeredAt,
			&e.TotalRows,
			&e.UsableRows,
			&e.ExpectBefore,
			&e.ExpectAfter,
			&e.DesiredWindow,
			&e.CarriedRows,
		)
		if err != nil {
			return nil, fmt.Errorf("scan trigger: %w", err)
		}

		entries = append(entries, e)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("list triggers: %w", err)
	}

	return entries, nil
}
