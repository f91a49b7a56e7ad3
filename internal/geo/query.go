// Package geo is the read-only query surface over an imported gazetteer
// database. Downstream consumers (the conversational skills, the HTTP façade)
// depend on exactly three operations: place search, country resolution, and
// code-to-name lookup. None of them touch import internals.
//
// A Queries value is bound to a schema.Descriptor produced once per process
// by schema.Detect, so the same code serves both the importer's own schema
// and the older flexible-schema variants without conditional column names
// scattered through SQL strings.
package geo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"geoimport/internal/schema"
)

// Place is one row of a place search result.
type Place struct {
	Name          string
	CountryCode   string
	Country       string // resolved display name, falls back to the code
	Population    int64
	HasPopulation bool
	Lat           float64
	Lon           float64
	FeatureClass  string
	FeatureCode   string
}

// Country is a resolved country.
type Country struct {
	Code string
	Name string
}

// iso2Fallback maps common ISO2 codes to display names. Used only when the
// database has no country table, so a degraded deployment still answers.
var iso2Fallback = map[string]string{
	"DE": "Germany", "FR": "France", "CH": "Switzerland", "IT": "Italy",
	"ES": "Spain", "AT": "Austria", "US": "United States",
	"GB": "United Kingdom", "JP": "Japan", "CN": "China", "IN": "India",
	"BR": "Brazil", "CA": "Canada", "AU": "Australia",
}

// countrySynonyms maps lowercased natural-language country names (German
// first, matching the assistant front-end) to English names or codes that the
// country table can resolve.
var countrySynonyms = map[string][]string{
	"schweiz":                {"switzerland", "ch"},
	"spanien":                {"spain", "es"},
	"deutschland":            {"germany", "de"},
	"österreich":             {"austria", "at"},
	"frankreich":             {"france", "fr"},
	"italien":                {"italy", "it"},
	"vereinigtes königreich": {"united kingdom", "uk", "gb"},
	"großbritannien":         {"united kingdom", "uk", "gb"},
	"usa":                    {"united states", "us", "usa"},
}

// Queries answers read-only lookups against one gazetteer database.
type Queries struct {
	db   *sql.DB
	desc schema.Descriptor
}

// New binds a Queries value to a database handle and a detected descriptor
// (see schema.Detect).
func New(db *sql.DB, desc schema.Descriptor) *Queries {
	return &Queries{db: db, desc: desc}
}

// SearchPlaces returns up to limit places whose name contains query
// (case-insensitive), ordered by population descending with NULLs last.
//
// When the full-text shadow table exists the match also covers ASCII names,
// alternate names, and the resolved country name; the fallback path is
// name-only over the ordinary index — a documented precision trade-off.
func (q *Queries) SearchPlaces(ctx context.Context, query string, limit int) ([]Place, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	d := q.desc
	sel := fmt.Sprintf("p.%s, p.%s, p.%s, p.%s, p.%s, %s, %s",
		d.NameCol, d.CountryCol, d.PopulationCol, d.LatCol, d.LonCol,
		colOrNull(d.ClassCol), colOrNull(d.CodeCol))

	var (
		rows *sql.Rows
		err  error
	)
	if d.FullText && d.PlaceTable == "places" {
		stmt := fmt.Sprintf(`
			SELECT %s FROM fts_place f
			JOIN places p ON p.rowid = f.rowid
			WHERE fts_place MATCH ?
			ORDER BY p.%s DESC NULLS LAST
			LIMIT ?`, sel, d.PopulationCol)
		rows, err = q.db.QueryContext(ctx, stmt, ftsQuery(query), limit)
	} else {
		stmt := fmt.Sprintf(`
			SELECT %s FROM %s p
			WHERE p.%s LIKE ? COLLATE NOCASE
			ORDER BY p.%s DESC NULLS LAST
			LIMIT ?`, sel, d.PlaceTable, d.NameCol, d.PopulationCol)
		rows, err = q.db.QueryContext(ctx, stmt, "%"+query+"%", limit)
	}
	if err != nil {
		return nil, fmt.Errorf("geo: search places: %w", err)
	}
	defer rows.Close()

	var out []Place
	for rows.Next() {
		var (
			p             Place
			pop           sql.NullInt64
			lat, lon      sql.NullFloat64
			fclass, fcode sql.NullString
		)
		if err := rows.Scan(&p.Name, &p.CountryCode, &pop, &lat, &lon, &fclass, &fcode); err != nil {
			return nil, fmt.Errorf("geo: scan place: %w", err)
		}
		p.Population, p.HasPopulation = pop.Int64, pop.Valid
		p.Lat, p.Lon = lat.Float64, lon.Float64
		p.FeatureClass, p.FeatureCode = fclass.String, fcode.String
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Release the cursor before the name lookups. The repository handle is
	// pinned to a single connection; a nested query while the cursor is open
	// would wait on the connection the cursor itself holds.
	rows.Close()

	for i := range out {
		if name, ok := q.CountryNameForCode(ctx, out[i].CountryCode); ok {
			out[i].Country = name
		} else {
			out[i].Country = out[i].CountryCode
		}
	}
	return out, nil
}

// BestMatch returns the single best place for query: an exact
// case-insensitive name match wins, otherwise the largest population.
// Returns nil when nothing matches.
func (q *Queries) BestMatch(ctx context.Context, query string) (*Place, error) {
	candidates, err := q.SearchPlaces(ctx, query, 10)
	if err != nil || len(candidates) == 0 {
		return nil, err
	}
	qn := strings.ToLower(strings.TrimSpace(query))
	for i := range candidates {
		if strings.ToLower(candidates[i].Name) == qn {
			return &candidates[i], nil
		}
	}
	// Results are population-ordered; the first row with a population is the
	// largest one.
	for i := range candidates {
		if candidates[i].HasPopulation {
			return &candidates[i], nil
		}
	}
	return &candidates[0], nil
}

// ResolveCountry resolves query to a country by exact code, by name
// substring, or through the built-in synonym table. Returns nil when no
// country matches or the database has no country table.
func (q *Queries) ResolveCountry(ctx context.Context, query string) (*Country, error) {
	query = strings.TrimSpace(query)
	if query == "" || q.desc.CountryTable == "" {
		return nil, nil
	}

	if c, err := q.countryByNameOrCode(ctx, query); c != nil || err != nil {
		return c, err
	}
	for _, syn := range countrySynonyms[strings.ToLower(query)] {
		if c, err := q.countryByNameOrCode(ctx, syn); c != nil || err != nil {
			return c, err
		}
	}
	return nil, nil
}

func (q *Queries) countryByNameOrCode(ctx context.Context, s string) (*Country, error) {
	d := q.desc
	stmt := fmt.Sprintf(`
		SELECT %[1]s, %[2]s FROM %[3]s
		WHERE %[1]s = ? COLLATE NOCASE OR %[2]s LIKE ? COLLATE NOCASE
		LIMIT 1`, d.CountryCodeCol, d.CountryNameCol, d.CountryTable)

	var c Country
	err := q.db.QueryRowContext(ctx, stmt, strings.ToUpper(s), "%"+s+"%").Scan(&c.Code, &c.Name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("geo: resolve country: %w", err)
	}
	return &c, nil
}

// CountryNameForCode returns the display name for an ISO2 code. The built-in
// fallback table answers when the country table is absent or has no row.
func (q *Queries) CountryNameForCode(ctx context.Context, code string) (string, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return "", false
	}
	d := q.desc
	if d.CountryTable != "" {
		stmt := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ? COLLATE NOCASE",
			d.CountryNameCol, d.CountryTable, d.CountryCodeCol)
		var name string
		err := q.db.QueryRowContext(ctx, stmt, code).Scan(&name)
		if err == nil && name != "" {
			return name, true
		}
	}
	name, ok := iso2Fallback[code]
	return name, ok
}

// colOrNull lets a SELECT list tolerate columns the schema variant lacks.
func colOrNull(col string) string {
	if col == "" {
		return "NULL"
	}
	return "p." + col
}

// ftsQuery turns free text into an FTS5 phrase-prefix query, quoting the
// input so user text is never interpreted as FTS syntax.
func ftsQuery(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"*`
}
