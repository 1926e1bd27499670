// Package sqldb implements storage.Driver on top of database/sql. The sqlite
// and postgres drivers differ only in connection setup and schema.
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/papercomputeco/coach/pkg/llm"
	"github.com/papercomputeco/coach/pkg/storage"
)

// Dialect selects placeholder style and schema.
type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

var schemas = map[Dialect][]string{
	SQLite: {
		`CREATE TABLE IF NOT EXISTS messages (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			id         TEXT    NOT NULL UNIQUE,
			thread_id  TEXT    NOT NULL,
			role       TEXT    NOT NULL,
			content    TEXT    NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS messages_thread_seq ON messages (thread_id, seq)`,
	},
	Postgres: {
		`CREATE TABLE IF NOT EXISTS messages (
			seq        BIGSERIAL PRIMARY KEY,
			id         TEXT   NOT NULL UNIQUE,
			thread_id  TEXT   NOT NULL,
			role       TEXT   NOT NULL,
			content    TEXT   NOT NULL,
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS messages_thread_seq ON messages (thread_id, seq)`,
	},
}

// Driver implements storage.Driver over a *sql.DB.
type Driver struct {
	db      *sql.DB
	dialect Dialect
}

// Open wraps db and creates the schema if needed.
func Open(ctx context.Context, db *sql.DB, dialect Dialect) (*Driver, error) {
	d := &Driver{db: db, dialect: dialect}

	for _, stmt := range schemas[dialect] {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return d, nil
}

// DB returns the underlying database handle.
func (d *Driver) DB() *sql.DB {
	return d.db
}

// Append inserts records in a single transaction.
func (d *Driver) Append(ctx context.Context, records ...storage.Record) error {
	for i := range records {
		if err := records[i].Validate(); err != nil {
			return err
		}
	}
	if len(records) == 0 {
		return nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, d.rebind(
		`INSERT INTO messages (id, thread_id, role, content, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO NOTHING`))
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		createdAt := rec.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		if _, err := stmt.ExecContext(ctx, rec.ID, rec.ThreadID, string(rec.Role), rec.Content, createdAt.UnixNano()); err != nil {
			return fmt.Errorf("inserting record %s: %w", rec.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// List returns a thread's records in insertion order.
func (d *Driver) List(ctx context.Context, threadID string) ([]storage.Record, error) {
	rows, err := d.db.QueryContext(ctx, d.rebind(
		`SELECT id, thread_id, role, content, created_at
		 FROM messages WHERE thread_id = ? ORDER BY seq`), threadID)
	if err != nil {
		return nil, fmt.Errorf("querying thread %s: %w", threadID, err)
	}
	defer rows.Close()

	var records []storage.Record
	for rows.Next() {
		var (
			rec       storage.Record
			role      string
			createdAt int64
		)
		if err := rows.Scan(&rec.ID, &rec.ThreadID, &role, &rec.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		rec.Role = llm.Role(role)
		rec.CreatedAt = time.Unix(0, createdAt).UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating records: %w", err)
	}

	if len(records) == 0 {
		return nil, storage.NotFoundError{ThreadID: threadID}
	}
	return records, nil
}

// Threads returns every thread, most recently updated first.
func (d *Driver) Threads(ctx context.Context) ([]storage.ThreadSummary, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT thread_id, COUNT(*), MAX(created_at)
		 FROM messages GROUP BY thread_id
		 ORDER BY MAX(created_at) DESC, thread_id`)
	if err != nil {
		return nil, fmt.Errorf("querying threads: %w", err)
	}
	defer rows.Close()

	threads := []storage.ThreadSummary{}
	for rows.Next() {
		var (
			summary   storage.ThreadSummary
			updatedAt int64
		)
		if err := rows.Scan(&summary.ID, &summary.MessageCount, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning thread: %w", err)
		}
		summary.UpdatedAt = time.Unix(0, updatedAt).UTC()
		threads = append(threads, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating threads: %w", err)
	}
	return threads, nil
}

// Close closes the database.
func (d *Driver) Close() error {
	if err := d.db.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		return err
	}
	return nil
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (d *Driver) rebind(query string) string {
	if d.dialect != Postgres {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

var _ storage.Driver = (*Driver)(nil)
