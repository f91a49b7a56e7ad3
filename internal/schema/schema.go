// Package schema owns the destination DDL: the gazetteer tables, the optional
// FTS5 shadow tables, and the fallback secondary indices.
//
// All creation is idempotent (CREATE ... IF NOT EXISTS) so Ensure is safe to
// call against an existing database. Whether FTS5 is compiled into the engine
// is a runtime question; ProbeFullText answers it without failing the run.
package schema

import (
	"context"
	"errors"
	"fmt"
	"log"

	"geoimport/internal/storage/sqlite"
)

// Table names used by the importer. The flexible-schema variants handled by
// Detect may expose different names (e.g. "cities" for places).
const (
	TableCountries = "countries"
	TableAdmin1    = "admin1"
	TableAdmin2    = "admin2"
	TablePlaces    = "places"
	TableAltNames  = "alt_names"
	TablePostal    = "postal"
	TableFTSPlace  = "fts_place"
	TableFTSPostal = "fts_postal"
)

// ErrIndexEngineUnavailable reports that the FTS5 extension is missing from
// the SQLite build. It is recoverable: callers fall back to ordinary indices.
var ErrIndexEngineUnavailable = errors.New("schema: full-text engine (FTS5) unavailable")

var tableDDL = []string{
	`CREATE TABLE IF NOT EXISTS countries(
		iso2 TEXT PRIMARY KEY, iso3 TEXT, name TEXT, capital TEXT,
		continent TEXT, population INTEGER, area_km2 REAL, currency TEXT,
		languages TEXT, tld TEXT, geoname_id INTEGER
	)`,
	`CREATE TABLE IF NOT EXISTS admin1(
		code TEXT PRIMARY KEY, name TEXT, name_ascii TEXT, geoname_id INTEGER, country_code TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS admin2(
		code TEXT PRIMARY KEY, name TEXT, name_ascii TEXT, geoname_id INTEGER, country_code TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS places(
		geonameid INTEGER PRIMARY KEY,
		name TEXT, ascii TEXT, country_code TEXT,
		admin1 TEXT, admin2 TEXT, admin3 TEXT, admin4 TEXT,
		fclass TEXT, fcode TEXT, lat REAL, lon REAL,
		population INTEGER, elevation INTEGER, dem INTEGER,
		timezone TEXT, moddate TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS alt_names(
		geonameid INTEGER, lang TEXT, name TEXT, is_pref INTEGER, is_short INTEGER
	)`,
	`CREATE TABLE IF NOT EXISTS postal(
		country_code TEXT, postcode TEXT, place TEXT,
		admin1 TEXT, admin1_code TEXT, admin2 TEXT, admin2_code TEXT,
		admin3 TEXT, admin3_code TEXT, lat REAL, lon REAL, accuracy INTEGER
	)`,
}

var ftsDDL = []string{
	`CREATE VIRTUAL TABLE IF NOT EXISTS fts_place USING fts5(
		name, ascii, alt, country, content=''
	)`,
	`CREATE VIRTUAL TABLE IF NOT EXISTS fts_postal USING fts5(
		place, postcode, admin1, admin2, admin3, country, content=''
	)`,
}

// Ensure creates every destination table if absent. Errors here are fatal:
// without the mandatory tables there is nothing to import into.
func Ensure(ctx context.Context, db *sqlite.DB) error {
	for _, ddl := range tableDDL {
		if err := db.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("schema: create table: %w", err)
		}
	}
	// Population and country-code indices are useful on both the FTS and the
	// fallback path.
	general := []string{
		`CREATE INDEX IF NOT EXISTS idx_places_cc ON places(country_code)`,
		`CREATE INDEX IF NOT EXISTS idx_places_pop ON places(population)`,
	}
	for _, ddl := range general {
		if err := db.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("schema: create index: %w", err)
		}
	}
	return nil
}

// ProbeFullText attempts to create the FTS5 shadow tables and reports whether
// the engine supports them. Failure is recoverable and logged once per run;
// callers branch to the fallback index strategy when false.
func ProbeFullText(ctx context.Context, db *sqlite.DB) bool {
	for _, ddl := range ftsDDL {
		if err := db.Exec(ctx, ddl); err != nil {
			log.Printf("schema: FTS5 unavailable, falling back to name indices: %v", err)
			return false
		}
	}
	return true
}
