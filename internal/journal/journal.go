// Package journal keeps an append-only sqlite log of phase events. The log
// is for operators; nothing reads it back into the pick engine.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/newhook/nextpick/internal/logging"
	"github.com/newhook/nextpick/internal/pick"
	"github.com/newhook/nextpick/internal/poller"
)

const writeTimeout = 2 * time.Second

// Entry is one recorded event.
type Entry struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	BatchID    string    `json:"batchId,omitempty"`
	PicklistID string    `json:"picklistId,omitempty"`
	At         time.Time `json:"at"`
}

// Journal wraps the sqlite database.
type Journal struct {
	db    *sql.DB
	newID func() string
}

// Open opens the journal at path and applies pending migrations. The path
// ":memory:" gives a private in-memory journal.
func Open(ctx context.Context, path string) (*Journal, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	// One connection: an in-memory database exists per connection, and
	// sqlite has a single writer anyway.
	db.SetMaxOpenConns(1)

	if err := RunMigrations(ctx, db, migrationsFS); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return &Journal{db: db, newID: uuid.NewString}, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Migrations returns the applied schema versions.
func (j *Journal) Migrations(ctx context.Context) ([]string, error) {
	return MigrationStatus(ctx, j.db)
}

// Migrate applies pending migrations. Open already does this.
func (j *Journal) Migrate(ctx context.Context) error {
	return RunMigrations(ctx, j.db, migrationsFS)
}

// Rollback undoes the most recent migration.
func (j *Journal) Rollback(ctx context.Context) error {
	return RollbackMigration(ctx, j.db, migrationsFS)
}

// Record appends events in one transaction.
func (j *Journal) Record(ctx context.Context, events []pick.Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events (id, kind, batch_id, picklist_id, at_ms)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		if _, err := stmt.ExecContext(ctx, j.newID(), string(e.Kind), e.BatchID, e.PicklistID, e.At.UnixMilli()); err != nil {
			return fmt.Errorf("failed to record %s event: %w", e.Kind, err)
		}
	}
	return tx.Commit()
}

// Filter narrows Recent.
type Filter struct {
	BatchID string
	Kind    pick.EventKind
	Since   time.Time
	Limit   int
}

// Recent returns the newest entries matching f, newest first. Limit defaults
// to 50.
func (j *Journal) Recent(ctx context.Context, f Filter) ([]Entry, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	var since int64
	if !f.Since.IsZero() {
		since = f.Since.UnixMilli()
	}

	rows, err := j.db.QueryContext(ctx, `
		SELECT id, kind, batch_id, picklist_id, at_ms FROM events
		WHERE (? = '' OR batch_id = ?)
		  AND (? = '' OR kind = ?)
		  AND at_ms >= ?
		ORDER BY at_ms DESC, rowid DESC
		LIMIT ?
	`, f.BatchID, f.BatchID, string(f.Kind), string(f.Kind), since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e  Entry
			ms int64
		)
		if err := rows.Scan(&e.ID, &e.Kind, &e.BatchID, &e.PicklistID, &ms); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.At = time.UnixMilli(ms).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ObserveTick records the events of a poll tick. Failures are logged; the
// poll loop never waits on the journal for longer than a short timeout.
func (j *Journal) ObserveTick(s poller.Snapshot) {
	if len(s.Events) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := j.Record(ctx, s.Events); err != nil {
		logging.Warn("failed to journal events", "count", len(s.Events), "error", err)
	}
}
