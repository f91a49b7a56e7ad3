// Package transform converts raw dump field tuples into database-ready rows.
//
// Every converter is a pure function from fields + rules to a Result: either
// a typed row aligned with the table's column order, or a skip with a reason.
// Ordinary data-quality problems (short rows, unparseable numbers) are not
// errors and never propagate; callers count them via Counters and move on.
//
// Skip reasons are deliberately split in two: Malformed means the row could
// not be represented at all, Filtered means it was valid but excluded by
// policy. The end-of-run report surfaces both separately.
package transform

import (
	"strconv"
	"strings"
)

// SkipReason classifies why a row produced no record.
type SkipReason int

const (
	// SkipNone marks a successful conversion.
	SkipNone SkipReason = iota
	// SkipMalformed marks a row with too few fields or an unparseable
	// numeric field.
	SkipMalformed
	// SkipFiltered marks a valid row excluded by an inclusion rule.
	SkipFiltered
)

// Result is the outcome of converting one raw row.
type Result struct {
	// Row holds values aligned with the destination column order.
	// Nil when Skip != SkipNone.
	Row  []any
	Skip SkipReason
}

func keep(row []any) Result    { return Result{Row: row} }
func skip(r SkipReason) Result { return Result{Skip: r} }

// Rules holds the per-run inclusion configuration. Build one with NewRules
// and share it across calls; converters never mutate it.
type Rules struct {
	keepClasses map[string]struct{}
	keepCodes   map[string]struct{}
	minPop      int64
	altLangs    map[string]struct{}
}

// NewRules builds a Rules value from the configured allow-lists.
// An empty code list means no code-level restriction; minPop 0 disables the
// population filter.
func NewRules(classes, codes, langs []string, minPop int64) Rules {
	return Rules{
		keepClasses: toSet(classes),
		keepCodes:   toSet(codes),
		minPop:      minPop,
		altLangs:    toSet(langs),
	}
}

func toSet(in []string) map[string]struct{} {
	if len(in) == 0 {
		return nil
	}
	m := make(map[string]struct{}, len(in))
	for _, s := range in {
		m[strings.TrimSpace(s)] = struct{}{}
	}
	return m
}

// Counters accumulates per-stage row statistics. Not safe for concurrent use;
// each stage owns one.
type Counters struct {
	Kept      int64
	Malformed int64
	Filtered  int64
}

// Observe records a Result and reports whether the row should be loaded.
func (c *Counters) Observe(r Result) bool {
	switch r.Skip {
	case SkipNone:
		c.Kept++
		return true
	case SkipMalformed:
		c.Malformed++
	case SkipFiltered:
		c.Filtered++
	}
	return false
}

// Destination column orders. These must match the DDL in internal/schema and
// the order of values produced by the converters below.
var (
	CountryColumns = []string{
		"iso2", "iso3", "name", "capital", "continent",
		"population", "area_km2", "currency", "languages", "tld", "geoname_id",
	}
	AdminColumns = []string{"code", "name", "name_ascii", "geoname_id", "country_code"}
	PlaceColumns = []string{
		"geonameid", "name", "ascii", "country_code",
		"admin1", "admin2", "admin3", "admin4",
		"fclass", "fcode", "lat", "lon",
		"population", "elevation", "dem", "timezone", "moddate",
	}
	AltNameColumns = []string{"geonameid", "lang", "name", "is_pref", "is_short"}
	PostalColumns = []string{
		"country_code", "postcode", "place",
		"admin1", "admin1_code", "admin2", "admin2_code",
		"admin3", "admin3_code", "lat", "lon", "accuracy",
	}
)

// Country converts a countryInfo row:
//
//	0 iso2, 1 iso3, 4 name, 5 capital, 6 area, 7 population,
//	8 continent, 10 tld, 11 currency, 15 languages, 16 geonameid
//
// Population, area, and the external id are tolerated absent (NULL).
func Country(fields []string) Result {
	if len(fields) < 16 {
		return skip(SkipMalformed)
	}
	var area any
	if fields[6] != "" {
		f, err := strconv.ParseFloat(fields[6], 64)
		if err != nil {
			return skip(SkipMalformed)
		}
		area = f
	}
	var pop any
	if fields[7] != "" {
		n, err := strconv.ParseInt(fields[7], 10, 64)
		if err != nil {
			return skip(SkipMalformed)
		}
		pop = n
	}
	var gid any
	if len(fields) > 16 && fields[16] != "" {
		n, err := strconv.ParseInt(fields[16], 10, 64)
		if err == nil {
			gid = n
		}
	}
	return keep([]any{
		fields[0], fields[1], fields[4], fields[5], fields[8],
		pop, area, fields[11], fields[15], fields[10], gid,
	})
}

// Admin converts an admin1/admin2 code row: code, name, ascii name, geonameid.
// The owning country is the code prefix before the first dot; the reference
// is informational, orphans are tolerated.
func Admin(fields []string) Result {
	if len(fields) < 4 {
		return skip(SkipMalformed)
	}
	gid, err := strconv.ParseInt(fields[3], 10, 64)
	if err != nil {
		return skip(SkipMalformed)
	}
	country, _, _ := strings.Cut(fields[0], ".")
	return keep([]any{fields[0], fields[1], fields[2], gid, country})
}

// Place converts a gazetteer row (19 tab-separated fields) and applies the
// inclusion rules: feature-class allow-list, optional feature-code allow-list,
// and the minimum population for populated places (class "P") only.
//
// Population defaults to 0 when absent; elevation and dem stay NULL.
func Place(fields []string, r Rules) Result {
	if len(fields) < 19 {
		return skip(SkipMalformed)
	}
	gid, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return skip(SkipMalformed)
	}
	lat, err := strconv.ParseFloat(fields[4], 64)
	if err != nil {
		return skip(SkipMalformed)
	}
	lon, err := strconv.ParseFloat(fields[5], 64)
	if err != nil {
		return skip(SkipMalformed)
	}
	var pop int64
	if fields[14] != "" {
		pop, err = strconv.ParseInt(fields[14], 10, 64)
		if err != nil || pop < 0 {
			return skip(SkipMalformed)
		}
	}
	var elev, dem any
	if fields[15] != "" {
		n, err := strconv.ParseInt(fields[15], 10, 64)
		if err != nil {
			return skip(SkipMalformed)
		}
		elev = n
	}
	if fields[16] != "" {
		n, err := strconv.ParseInt(fields[16], 10, 64)
		if err != nil {
			return skip(SkipMalformed)
		}
		dem = n
	}

	fclass, fcode := fields[6], fields[7]
	if r.keepClasses != nil {
		if _, ok := r.keepClasses[fclass]; !ok {
			return skip(SkipFiltered)
		}
	}
	if r.keepCodes != nil {
		if _, ok := r.keepCodes[fcode]; !ok {
			return skip(SkipFiltered)
		}
	}
	if fclass == "P" && r.minPop > 0 && pop < r.minPop {
		return skip(SkipFiltered)
	}

	return keep([]any{
		gid, fields[1], fields[2], fields[8],
		fields[10], fields[11], fields[12], fields[13],
		fclass, fcode, lat, lon,
		pop, elev, dem, fields[17], fields[18],
	})
}

// AltName converts an alternate-name row:
//
//	1 geonameid, 2 language tag, 3 name, 4 is-preferred, 5 is-short
//
// The language tag may carry a comma-separated variant list; only the first
// entry counts against the allow-list.
func AltName(fields []string, r Rules) Result {
	if len(fields) < 5 {
		return skip(SkipMalformed)
	}
	gid, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return skip(SkipMalformed)
	}
	lang, _, _ := strings.Cut(fields[2], ",")
	lang = strings.ToLower(lang)
	if r.altLangs != nil {
		if _, ok := r.altLangs[lang]; !ok {
			return skip(SkipFiltered)
		}
	}
	isPref := 0
	if fields[4] == "1" {
		isPref = 1
	}
	isShort := 0
	if len(fields) > 5 && fields[5] == "1" {
		isShort = 1
	}
	return keep([]any{gid, lang, fields[3], isPref, isShort})
}

// Postal converts a postal-code row (12 fields). Coordinates and accuracy are
// tolerated absent or unparseable (NULL); the row itself survives, matching
// the upstream data where many entries lack a centroid.
func Postal(fields []string) Result {
	if len(fields) < 12 {
		return skip(SkipMalformed)
	}
	var lat, lon any
	if f, err := strconv.ParseFloat(fields[9], 64); err == nil {
		lat = f
	}
	if f, err := strconv.ParseFloat(fields[10], 64); err == nil {
		lon = f
	}
	// A one-sided coordinate is useless; drop the pair.
	if lat == nil || lon == nil {
		lat, lon = nil, nil
	}
	var acc any
	if n, err := strconv.ParseInt(fields[11], 10, 64); err == nil {
		acc = n
	}
	return keep([]any{
		fields[0], fields[1], fields[2],
		fields[3], fields[4], fields[5], fields[6],
		fields[7], fields[8], lat, lon, acc,
	})
}
