// Package sqlite wraps the embedded destination database behind a small
// repository type. It performs batched INSERTs inside a transaction; SQLite
// does not have a dedicated bulk-load API like Postgres COPY, but transactions
// keep performance acceptable for gazetteer-scale volumes.
//
// The importer owns exactly one DB value for the duration of a run; the
// connection pool is pinned to a single connection because SQLite is a
// single-writer engine and the pipeline is strictly sequential.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // cgo-free SQLite driver with FTS5 support
)

// Config configures the destination database connection.
type Config struct {
	// Path is the database file. ":memory:" is accepted for tests.
	Path string
	// TempStore selects SQLite temporary storage: "memory" (default) or
	// "file" for constrained-memory hosts.
	TempStore string
}

// InsertPolicy selects the conflict behavior of a bulk insert.
type InsertPolicy string

const (
	// InsertPlain appends rows with no conflict handling (tables without a
	// natural key, e.g. alternate names).
	InsertPlain InsertPolicy = "INSERT"
	// InsertReplace keeps the last row per primary key, making a re-run
	// against a cleared table equivalent to a fresh load.
	InsertReplace InsertPolicy = "INSERT OR REPLACE"
	// InsertIgnore keeps the first row per primary key.
	InsertIgnore InsertPolicy = "INSERT OR IGNORE"
)

// DB is the pipeline-owned handle to the destination database.
type DB struct {
	sql *sql.DB
}

// Open opens (creating if needed) the destination database and applies the
// connection pragmas the importer relies on: WAL journaling, NORMAL
// synchronization, configurable temp storage, and a large page/cache size for
// bulk loading.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("sqlite: path must not be empty")
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// Single writer; pragmas are per-connection state.
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}

	tempStore := "MEMORY"
	if strings.EqualFold(cfg.TempStore, "file") {
		tempStore = "FILE"
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA temp_store=" + tempStore + ";",
		"PRAGMA page_size=32768;",
		"PRAGMA cache_size=-400000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", strings.TrimSuffix(p, ";"), err)
		}
	}

	return &DB{sql: db}, nil
}

// Handle exposes the underlying database/sql handle for read-only consumers
// and index building.
func (d *DB) Handle() *sql.DB { return d.sql }

// Close closes the database.
func (d *DB) Close() error { return d.sql.Close() }

// InsertRows inserts the given rows into table using a single transaction and
// a prepared statement with the requested conflict policy. The columns slice
// must match len(row) for every row.
//
// It returns the number of rows executed or an error; on error the whole
// transaction is rolled back (no partial batch survives).
func (d *DB) InsertRows(
	ctx context.Context,
	table string,
	columns []string,
	policy InsertPolicy,
	rows [][]any,
) (int64, error) {
	if len(columns) == 0 {
		return 0, fmt.Errorf("sqlite: InsertRows: columns must not be empty")
	}
	if len(rows) == 0 {
		return 0, nil
	}
	if policy == "" {
		policy = InsertPlain
	}

	placeholders := make([]string, len(columns))
	for i := range placeholders {
		placeholders[i] = "?"
	}
	stmtSQL := fmt.Sprintf(
		"%s INTO %s (%s) VALUES (%s)",
		policy,
		table,
		strings.Join(columns, ", "),
		strings.Join(placeholders, ", "),
	)

	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite: begin tx: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, stmtSQL)
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("sqlite: prepare insert: %w", err)
	}
	defer stmt.Close()

	var inserted int64
	for _, row := range rows {
		if len(row) != len(columns) {
			_ = tx.Rollback()
			return 0, fmt.Errorf("sqlite: InsertRows: row length %d != columns length %d", len(row), len(columns))
		}
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("sqlite: insert into %s: %w", table, err)
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite: commit: %w", err)
	}
	return inserted, nil
}

// Exec executes an arbitrary SQL statement (typically DDL).
func (d *DB) Exec(ctx context.Context, query string, args ...any) error {
	if strings.TrimSpace(query) == "" {
		return nil
	}
	if _, err := d.sql.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("sqlite: exec: %w", err)
	}
	return nil
}

// Clear removes every row from table. Each load stage clears its destination
// before streaming, which is what makes whole-pipeline re-runs idempotent.
func (d *DB) Clear(ctx context.Context, table string) error {
	if _, err := d.sql.ExecContext(ctx, "DELETE FROM "+table); err != nil {
		return fmt.Errorf("sqlite: clear %s: %w", table, err)
	}
	return nil
}

// TableExists reports whether a table or view with the given name exists.
func (d *DB) TableExists(ctx context.Context, name string) (bool, error) {
	const q = "SELECT name FROM sqlite_master WHERE type IN ('table','view') AND name = ?"
	var got string
	err := d.sql.QueryRowContext(ctx, q, name).Scan(&got)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("sqlite: table lookup %s: %w", name, err)
	}
	return true, nil
}

// Count returns the number of rows in table.
func (d *DB) Count(ctx context.Context, table string) (int64, error) {
	var n int64
	if err := d.sql.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count %s: %w", table, err)
	}
	return n, nil
}

// Vacuum compacts the database file. Run after a successful import; it can
// take a while on a full planet load.
func (d *DB) Vacuum(ctx context.Context) error {
	if _, err := d.sql.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("sqlite: vacuum: %w", err)
	}
	return nil
}
