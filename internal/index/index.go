// Package index builds the search structures after bulk load: the FTS5
// shadow tables (with alternate-name aggregation), the fallback name indices
// when FTS5 is missing, and the postal-code deduplication pass.
//
// FTS population runs in bounded rowid-keyed chunks so the whole gazetteer is
// never materialized at once. Failure on the FTS path downgrades to the
// fallback indices with a warning; failure during deduplication is fatal
// because it would otherwise leave duplicate rows silently.
package index

import (
	"context"
	"fmt"
	"log"
	"strings"

	"geoimport/internal/storage/sqlite"
)

// DefaultChunkSize bounds how many rows one INSERT ... SELECT moves into the
// FTS tables per transaction.
const DefaultChunkSize = 50000

// Builder populates search structures on an already-loaded database.
type Builder struct {
	DB *sqlite.DB
	// ChunkSize overrides DefaultChunkSize when > 0.
	ChunkSize int
	// FTSClasses limits which feature classes enter fts_place, keeping the
	// index small. Empty falls back to A,P.
	FTSClasses []string
}

func (b *Builder) chunk() int {
	if b.ChunkSize > 0 {
		return b.ChunkSize
	}
	return DefaultChunkSize
}

// BuildSearch populates the place and postal search structures. When fullText
// is true it fills the FTS5 shadow tables; any failure there downgrades to
// the fallback indices with a warning (never fatal). When fullText is false
// it goes straight to the fallback. The returned bool reports whether the
// full-text index was actually built.
func (b *Builder) BuildSearch(ctx context.Context, fullText bool) (bool, error) {
	if fullText {
		err := b.buildPlaceFTS(ctx)
		if err == nil {
			err = b.buildPostalFTS(ctx)
		}
		if err != nil {
			log.Printf("index: full-text population failed, using fallback indices: %v", err)
			// The half-built shadow tables must not survive: schema detection
			// keys the full-text flag on their presence, and readers would
			// search an empty index.
			if dropErr := b.dropFullText(ctx); dropErr != nil {
				return false, fmt.Errorf("index: drop stale full-text tables: %w", dropErr)
			}
			fullText = false
		}
	}
	if !fullText {
		return false, b.createFallbackIndices(ctx)
	}
	return true, nil
}

func (b *Builder) dropFullText(ctx context.Context) error {
	for _, stmt := range []string{
		`DROP TABLE IF EXISTS fts_place`,
		`DROP TABLE IF EXISTS fts_postal`,
	} {
		if err := b.DB.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// buildPlaceFTS fills fts_place in rowid-keyed chunks. For every place row it
// aggregates the concatenated alternate names and the resolved country name,
// so a search for a localized name or a country hits the right rows.
func (b *Builder) buildPlaceFTS(ctx context.Context) error {
	// fts_place is contentless (content=''); plain DELETE is not supported,
	// the special delete-all command is.
	if err := b.DB.Exec(ctx, "INSERT INTO fts_place(fts_place) VALUES('delete-all')"); err != nil {
		return err
	}

	classes := b.FTSClasses
	if len(classes) == 0 {
		classes = []string{"A", "P"}
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(classes)), ",")
	classArgs := make([]any, 0, len(classes))
	for _, c := range classes {
		classArgs = append(classArgs, c)
	}

	bound := fmt.Sprintf(`
		SELECT COALESCE(MAX(rowid), ?) FROM (
			SELECT rowid FROM places
			WHERE fclass IN (%s) AND rowid > ?
			ORDER BY rowid LIMIT ?
		)`, placeholders)
	insert := fmt.Sprintf(`
		INSERT INTO fts_place(rowid, name, ascii, alt, country)
		SELECT p.rowid, p.name, p.ascii,
		       COALESCE((SELECT group_concat(a.name, ' ')
		                 FROM alt_names a WHERE a.geonameid = p.geonameid), ''),
		       COALESCE((SELECT c.name FROM countries c WHERE c.iso2 = p.country_code), p.country_code)
		FROM places p
		WHERE p.fclass IN (%s) AND p.rowid > ? AND p.rowid <= ?`, placeholders)

	// Keyset pagination on the base table's rowid; a contentless FTS table
	// cannot be scanned for a high-water mark.
	var last int64
	for {
		var next int64
		boundArgs := append([]any{last}, classArgs...)
		boundArgs = append(boundArgs, last, b.chunk())
		if err := b.DB.Handle().QueryRowContext(ctx, bound, boundArgs...).Scan(&next); err != nil {
			return fmt.Errorf("index: fts_place chunk bound after rowid %d: %w", last, err)
		}
		if next == last {
			return nil
		}
		insertArgs := append(append([]any{}, classArgs...), last, next)
		if err := b.DB.Exec(ctx, insert, insertArgs...); err != nil {
			return fmt.Errorf("index: fts_place chunk (%d,%d]: %w", last, next, err)
		}
		last = next
	}
}

func (b *Builder) buildPostalFTS(ctx context.Context) error {
	if err := b.DB.Exec(ctx, "INSERT INTO fts_postal(fts_postal) VALUES('delete-all')"); err != nil {
		return err
	}

	const bound = `
		SELECT COALESCE(MAX(rowid), ?) FROM (
			SELECT rowid FROM postal WHERE rowid > ? ORDER BY rowid LIMIT ?
		)`
	const insert = `
		INSERT INTO fts_postal(rowid, place, postcode, admin1, admin2, admin3, country)
		SELECT rowid, place, postcode,
		       COALESCE(admin1, ''), COALESCE(admin2, ''), COALESCE(admin3, ''), country_code
		FROM postal
		WHERE rowid > ? AND rowid <= ?`

	var last int64
	for {
		var next int64
		if err := b.DB.Handle().QueryRowContext(ctx, bound, last, last, b.chunk()).Scan(&next); err != nil {
			return fmt.Errorf("index: fts_postal chunk bound after rowid %d: %w", last, err)
		}
		if next == last {
			return nil
		}
		if err := b.DB.Exec(ctx, insert, last, next); err != nil {
			return fmt.Errorf("index: fts_postal chunk (%d,%d]: %w", last, next, err)
		}
		last = next
	}
}

// createFallbackIndices builds conventional indices over the raw name
// columns. This is the documented degraded mode: search stays indexed but is
// name-only, without alternate-name awareness.
func (b *Builder) createFallbackIndices(ctx context.Context) error {
	ddl := []string{
		`CREATE INDEX IF NOT EXISTS idx_places_name ON places(name)`,
		`CREATE INDEX IF NOT EXISTS idx_places_ascii ON places(ascii)`,
		`CREATE INDEX IF NOT EXISTS idx_postal_code ON postal(country_code, postcode)`,
		`CREATE INDEX IF NOT EXISTS idx_postal_place ON postal(place)`,
	}
	for _, stmt := range ddl {
		if err := b.DB.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("index: fallback index: %w", err)
		}
	}
	return nil
}

// DedupPostal enforces at most one postal row per (country_code, postcode).
// The survivor for each pair is the row with the minimal rowid.
//
// SQLite has no atomic multi-table swap, so the well-known substitute is used:
// build the survivor set into a new table, then drop + rename inside a single
// transaction. A crash can never leave both old and new tables visible.
func DedupPostal(ctx context.Context, db *sqlite.DB) error {
	tx, err := db.Handle().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: dedup begin: %w", err)
	}
	defer tx.Rollback()

	steps := []string{
		`CREATE TEMP TABLE postal_keep AS
		 SELECT MIN(rowid) AS rowid FROM postal GROUP BY country_code, postcode`,
		`CREATE TABLE postal_dedup AS
		 SELECT p.* FROM postal p JOIN postal_keep k ON p.rowid = k.rowid`,
		`DROP TABLE postal`,
		`ALTER TABLE postal_dedup RENAME TO postal`,
		`DROP TABLE postal_keep`,
	}
	for _, stmt := range steps {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("index: dedup postal: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("index: dedup commit: %w", err)
	}
	return nil
}
