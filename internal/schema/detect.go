// Runtime schema detection.
//
// Deployed databases come in two naming conventions: the one this importer
// writes (places/lat/lon/fclass with a countries table) and an older variant
// (cities or places with latitude/longitude/feature_class and a companion
// iso2 code table). Rather than scattering conditional column names through
// query strings, Detect introspects the live database once per run and
// returns a typed descriptor that is threaded into every reader.
package schema

import (
	"context"
	"database/sql"
	"fmt"
)

// Descriptor names the concrete tables and columns a reader should use.
// It is produced once by Detect and passed as a value thereafter.
type Descriptor struct {
	// PlaceTable is the gazetteer table ("places" or "cities").
	PlaceTable string

	// Column names on PlaceTable.
	NameCol       string
	AsciiCol      string // empty when the variant has no ASCII column
	CountryCol    string
	PopulationCol string
	LatCol        string
	LonCol        string
	ClassCol      string
	CodeCol       string

	// CountryTable is the country metadata table ("countries" or "iso2"),
	// empty when neither exists. CountryCodeCol/CountryNameCol name its
	// code and display-name columns.
	CountryTable   string
	CountryCodeCol string
	CountryNameCol string

	// FullText reports whether the fts_place shadow table is present.
	FullText bool
}

// column alternatives, probed in order of preference.
var (
	placeTableCandidates = []string{TablePlaces, "cities"}
	nameAlts             = []string{"name", "city"}
	asciiAlts            = []string{"ascii", "asciiname", "name_ascii"}
	countryAlts          = []string{"country_code", "country", "cc"}
	populationAlts       = []string{"population", "pop"}
	latAlts              = []string{"lat", "latitude"}
	lonAlts              = []string{"lon", "lng", "longitude"}
	classAlts            = []string{"fclass", "feature_class"}
	codeAlts             = []string{"fcode", "feature_code"}
)

// Detect inspects db and returns a Descriptor for the first candidate place
// table that exists. Optional columns (ascii, feature class/code) resolve to
// "" when absent rather than failing; mandatory ones (name, country,
// population, lat, lon) must be present.
func Detect(ctx context.Context, db *sql.DB, candidates []string) (Descriptor, error) {
	if len(candidates) == 0 {
		candidates = placeTableCandidates
	}

	var d Descriptor
	for _, table := range candidates {
		cols, err := tableColumns(ctx, db, table)
		if err != nil {
			return d, err
		}
		if len(cols) == 0 {
			continue
		}

		d.PlaceTable = table
		d.NameCol = pick(cols, nameAlts)
		d.AsciiCol = pick(cols, asciiAlts)
		d.CountryCol = pick(cols, countryAlts)
		d.PopulationCol = pick(cols, populationAlts)
		d.LatCol = pick(cols, latAlts)
		d.LonCol = pick(cols, lonAlts)
		d.ClassCol = pick(cols, classAlts)
		d.CodeCol = pick(cols, codeAlts)

		for _, required := range []struct{ what, col string }{
			{"name", d.NameCol},
			{"country", d.CountryCol},
			{"population", d.PopulationCol},
			{"latitude", d.LatCol},
			{"longitude", d.LonCol},
		} {
			if required.col == "" {
				return d, fmt.Errorf("schema: table %s has no recognizable %s column", table, required.what)
			}
		}
		break
	}
	if d.PlaceTable == "" {
		return d, fmt.Errorf("schema: none of the candidate place tables %v exist", candidates)
	}

	// Companion country table: prefer the full metadata table, accept the
	// bare ISO-code variant.
	for _, ct := range []struct{ table, code, name string }{
		{TableCountries, "iso2", "name"},
		{"iso2", "code", "name"},
	} {
		cols, err := tableColumns(ctx, db, ct.table)
		if err != nil {
			return d, err
		}
		if _, ok := cols[ct.code]; !ok {
			continue
		}
		if _, ok := cols[ct.name]; !ok {
			continue
		}
		d.CountryTable = ct.table
		d.CountryCodeCol = ct.code
		d.CountryNameCol = ct.name
		break
	}

	d.FullText = tableExists(ctx, db, TableFTSPlace)
	return d, nil
}

// tableColumns returns the column-name set of table, empty when the table
// does not exist.
func tableColumns(ctx context.Context, db *sql.DB, table string) (map[string]struct{}, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%q)", table))
	if err != nil {
		return nil, fmt.Errorf("schema: table_info %s: %w", table, err)
	}
	defer rows.Close()

	cols := make(map[string]struct{})
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &defaultVal, &pk); err != nil {
			return nil, fmt.Errorf("schema: scan table_info %s: %w", table, err)
		}
		cols[name] = struct{}{}
	}
	return cols, rows.Err()
}

func tableExists(ctx context.Context, db *sql.DB, name string) bool {
	const q = "SELECT name FROM sqlite_master WHERE type IN ('table','view') AND name = ?"
	var got string
	return db.QueryRowContext(ctx, q, name).Scan(&got) == nil
}

func pick(cols map[string]struct{}, alts []string) string {
	for _, a := range alts {
		if _, ok := cols[a]; ok {
			return a
		}
	}
	return ""
}
