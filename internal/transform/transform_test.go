package transform

import (
	"strconv"
	"strings"
	"testing"
)

// placeRow builds a 19-field gazetteer row with the given essentials and
// empty optional fields, mirroring the dump layout.
func placeRow(gid, name, fclass, fcode, cc, pop string) []string {
	f := make([]string, 19)
	f[0] = gid
	f[1] = name
	f[2] = name // ascii
	f[4] = "47.3769"
	f[5] = "8.5417"
	f[6] = fclass
	f[7] = fcode
	f[8] = cc
	f[14] = pop
	f[17] = "Europe/Zurich"
	f[18] = "2025-01-01"
	return f
}

/*
TestPlace_Filters verifies the inclusion rules on gazetteer rows:
  - feature classes outside the allow-list are filtered, not malformed,
  - the minimum-population threshold applies to class P only,
  - the feature-code allow-list restricts within kept classes,
  - MIN_POP=0 disables the population filter.
*/
func TestPlace_Filters(t *testing.T) {
	rules := NewRules([]string{"P"}, nil, nil, 100000)

	tests := []struct {
		name   string
		fields []string
		rules  Rules
		want   SkipReason
	}{
		{"large city kept", placeRow("1", "Zürich", "P", "PPL", "CH", "402762"), rules, SkipNone},
		{"capital kept", placeRow("2", "Bern", "P", "PPLC", "CH", "133883"), rules, SkipNone},
		{"hamlet below threshold", placeRow("3", "Hinterdorf", "P", "PPL", "CH", "500"), rules, SkipFiltered},
		{"mountain class excluded", placeRow("4", "Matterhorn", "T", "MT", "CH", "0"), rules, SkipFiltered},
		{"code not in allow-list", placeRow("5", "Zürich", "P", "PPLX", "CH", "402762"),
			NewRules([]string{"P"}, []string{"PPL", "PPLC"}, nil, 0), SkipFiltered},
		{"min pop disabled", placeRow("6", "Hinterdorf", "P", "PPL", "CH", "500"),
			NewRules([]string{"P"}, nil, nil, 0), SkipNone},
		{"admin class exempt from min pop", placeRow("7", "Kanton Zürich", "A", "ADM1", "CH", "0"),
			NewRules([]string{"A", "P"}, nil, nil, 100000), SkipNone},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Place(tc.fields, tc.rules)
			if got.Skip != tc.want {
				t.Fatalf("Place() skip = %v, want %v", got.Skip, tc.want)
			}
			if tc.want == SkipNone && len(got.Row) != len(PlaceColumns) {
				t.Fatalf("row width = %d, want %d", len(got.Row), len(PlaceColumns))
			}
		})
	}
}

/*
TestPlace_Malformed verifies that unrepresentable rows are classified as
malformed, never filtered and never a panic:
  - too few fields,
  - unparseable id, coordinates, population,
  - negative population.
*/
func TestPlace_Malformed(t *testing.T) {
	rules := NewRules([]string{"A", "H", "L", "P", "R", "S"}, nil, nil, 0)

	bad := map[string][]string{
		"short row":      strings.Split("1\tBern\tBern", "\t"),
		"bad geonameid":  placeRow("x", "Bern", "P", "PPL", "CH", "1000"),
		"bad latitude":   func() []string { f := placeRow("1", "Bern", "P", "PPL", "CH", "1000"); f[4] = "north"; return f }(),
		"bad longitude":  func() []string { f := placeRow("1", "Bern", "P", "PPL", "CH", "1000"); f[5] = "east"; return f }(),
		"bad population": placeRow("1", "Bern", "P", "PPL", "CH", "many"),
		"negative pop":   placeRow("1", "Bern", "P", "PPL", "CH", "-5"),
		"bad elevation":  func() []string { f := placeRow("1", "Bern", "P", "PPL", "CH", "1000"); f[15] = "high"; return f }(),
	}

	for name, fields := range bad {
		t.Run(name, func(t *testing.T) {
			if got := Place(fields, rules); got.Skip != SkipMalformed {
				t.Fatalf("Place() skip = %v, want SkipMalformed", got.Skip)
			}
		})
	}
}

// TestPlace_PopulationDefault checks that an absent population loads as 0,
// not NULL and not a reject.
func TestPlace_PopulationDefault(t *testing.T) {
	rules := NewRules([]string{"H"}, nil, nil, 1000)
	res := Place(placeRow("10", "Zürichsee", "H", "LK", "CH", ""), rules)
	if res.Skip != SkipNone {
		t.Fatalf("skip = %v, want SkipNone", res.Skip)
	}
	if pop := res.Row[12].(int64); pop != 0 {
		t.Fatalf("population = %d, want 0", pop)
	}
}

/*
TestCounters_Observe verifies the filter scenario from the population-filter
property: with KEEP_FCLASS={P} and MIN_POP=100000, three fixture rows (Zürich
402762, Bern 133883, a hamlet 500) yield exactly two kept rows and one
filtered; the hamlet must not be counted as malformed.
*/
func TestCounters_Observe(t *testing.T) {
	rules := NewRules([]string{"P"}, nil, nil, 100000)
	rows := [][]string{
		placeRow("2657896", "Zürich", "P", "PPL", "CH", "402762"),
		placeRow("2661552", "Bern", "P", "PPLC", "CH", "133883"),
		placeRow("999", "Hinterdorf", "P", "PPL", "CH", "500"),
	}

	var c Counters
	var kept []string
	for _, fields := range rows {
		res := Place(fields, rules)
		if c.Observe(res) {
			kept = append(kept, fields[1])
		}
	}

	if c.Kept != 2 || c.Filtered != 1 || c.Malformed != 0 {
		t.Fatalf("counters = %+v, want kept=2 filtered=1 malformed=0", c)
	}
	if len(kept) != 2 || kept[0] != "Zürich" || kept[1] != "Bern" {
		t.Fatalf("kept = %v, want [Zürich Bern]", kept)
	}
}

/*
TestCountry verifies countryInfo conversion:
  - field positions map to the destination column order,
  - absent population/area/geoname id become NULL rather than rejects,
  - unparseable numerics reject the row as malformed.
*/
func TestCountry(t *testing.T) {
	row := make([]string, 19)
	row[0] = "CH"
	row[1] = "CHE"
	row[4] = "Switzerland"
	row[5] = "Bern"
	row[6] = "41290"
	row[7] = "8516543"
	row[8] = "EU"
	row[10] = ".ch"
	row[11] = "CHF"
	row[15] = "de-CH,fr-CH,it-CH,rm"
	row[16] = "2658434"

	res := Country(row)
	if res.Skip != SkipNone {
		t.Fatalf("skip = %v, want SkipNone", res.Skip)
	}
	if res.Row[0] != "CH" || res.Row[2] != "Switzerland" || res.Row[3] != "Bern" {
		t.Fatalf("unexpected row: %v", res.Row)
	}
	if pop := res.Row[5].(int64); pop != 8516543 {
		t.Fatalf("population = %d", pop)
	}

	// Absent optionals become NULL.
	row[6], row[7], row[16] = "", "", ""
	res = Country(row)
	if res.Skip != SkipNone || res.Row[5] != nil || res.Row[6] != nil || res.Row[10] != nil {
		t.Fatalf("optionals not NULL: %v", res.Row)
	}

	// Unparseable population is malformed.
	row[7] = "n/a"
	if res := Country(row); res.Skip != SkipMalformed {
		t.Fatalf("skip = %v, want SkipMalformed", res.Skip)
	}

	// Too few fields.
	if res := Country([]string{"CH", "CHE"}); res.Skip != SkipMalformed {
		t.Fatalf("short row not malformed")
	}
}

// TestAdmin verifies admin-code conversion and the country prefix split.
func TestAdmin(t *testing.T) {
	res := Admin([]string{"CH.ZH", "Zurich", "Zurich", "2657895"})
	if res.Skip != SkipNone {
		t.Fatalf("skip = %v", res.Skip)
	}
	if res.Row[0] != "CH.ZH" || res.Row[4] != "CH" {
		t.Fatalf("unexpected row: %v", res.Row)
	}
	if gid := res.Row[3].(int64); gid != 2657895 {
		t.Fatalf("geoname id = %d", gid)
	}

	if res := Admin([]string{"CH.ZH", "Zurich", "Zurich", "abc"}); res.Skip != SkipMalformed {
		t.Fatalf("bad geoname id accepted")
	}
	if res := Admin([]string{"CH.ZH", "Zurich"}); res.Skip != SkipMalformed {
		t.Fatalf("short row accepted")
	}
}

/*
TestAltName verifies alternate-name conversion:
  - the language allow-list filters by the first comma-separated tag,
  - language comparison is case-insensitive (tags are lowered),
  - preferred/short flags parse "1" only,
  - rows without a numeric place id are malformed.
*/
func TestAltName(t *testing.T) {
	rules := NewRules(nil, nil, []string{"de", "en"}, 0)

	tests := []struct {
		name   string
		fields []string
		want   SkipReason
	}{
		{"german kept", []string{"1", "2657896", "de", "Zürich", "1", "0"}, SkipNone},
		{"english kept", []string{"2", "2657896", "en", "Zurich", "0", ""}, SkipNone},
		{"variant tag uses first", []string{"3", "2657896", "de,1996", "Zürich", "", ""}, SkipNone},
		{"upper-case tag", []string{"4", "2657896", "DE", "Zürich", "", ""}, SkipNone},
		{"french filtered", []string{"5", "2657896", "fr", "Zurich", "", ""}, SkipFiltered},
		{"link filtered", []string{"6", "2657896", "link", "https://x", "", ""}, SkipFiltered},
		{"bad id", []string{"7", "x", "de", "Zürich", "", ""}, SkipMalformed},
		{"short row", []string{"8", "2657896", "de"}, SkipMalformed},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := AltName(tc.fields, rules)
			if got.Skip != tc.want {
				t.Fatalf("AltName() skip = %v, want %v", got.Skip, tc.want)
			}
		})
	}

	// Flag parsing.
	res := AltName([]string{"1", "42", "de", "Zürich", "1", "1"}, rules)
	if res.Row[3].(int) != 1 || res.Row[4].(int) != 1 {
		t.Fatalf("flags = %v %v, want 1 1", res.Row[3], res.Row[4])
	}
}

// TestAltName_NoLanguageRestriction pins that an empty allow-list keeps
// every language rather than dropping all rows.
func TestAltName_NoLanguageRestriction(t *testing.T) {
	open := NewRules(nil, nil, nil, 0)
	for _, lang := range []string{"fr", "ja", "link"} {
		res := AltName([]string{"1", "42", lang, "x", "0", "0"}, open)
		if res.Skip != SkipNone {
			t.Fatalf("lang %q skipped (%v) with no allow-list", lang, res.Skip)
		}
	}
}

/*
TestPostal verifies postal-code conversion:
  - 12 fields map positionally,
  - unparseable or one-sided coordinates become a NULL pair, the row survives,
  - absent accuracy is NULL,
  - short rows are malformed.
*/
func TestPostal(t *testing.T) {
	full := []string{"CH", "8001", "Zürich", "Zurich", "ZH", "Bezirk Zürich", "112", "Zürich", "261", "47.3769", "8.5417", "4"}
	res := Postal(full)
	if res.Skip != SkipNone {
		t.Fatalf("skip = %v", res.Skip)
	}
	if res.Row[9].(float64) != 47.3769 || res.Row[11].(int64) != 4 {
		t.Fatalf("unexpected row: %v", res.Row)
	}

	// Bad latitude drops the coordinate pair, keeps the row.
	bad := append([]string{}, full...)
	bad[9] = "north"
	res = Postal(bad)
	if res.Skip != SkipNone {
		t.Fatalf("row with bad coords rejected")
	}
	if res.Row[9] != nil || res.Row[10] != nil {
		t.Fatalf("coordinate pair not NULLed: %v %v", res.Row[9], res.Row[10])
	}

	if res := Postal(full[:5]); res.Skip != SkipMalformed {
		t.Fatalf("short row accepted")
	}
}

// TestColumnWidths pins the converter outputs to the destination column
// orders so a drifting schema fails loudly here instead of at insert time.
func TestColumnWidths(t *testing.T) {
	rules := NewRules(nil, nil, nil, 0)

	country := make([]string, 17)
	for i := range country {
		country[i] = strconv.Itoa(i)
	}
	country[6], country[7], country[16] = "1.5", "10", "99"

	checks := []struct {
		name string
		res  Result
		cols []string
	}{
		{"country", Country(country), CountryColumns},
		{"admin", Admin([]string{"CH.ZH", "n", "a", "1"}), AdminColumns},
		{"place", Place(placeRow("1", "Bern", "P", "PPL", "CH", "1"), rules), PlaceColumns},
		{"altname", AltName([]string{"1", "2", "de", "x", "1", "0"}, rules), AltNameColumns},
		{"postal", Postal(make([]string, 12)), PostalColumns},
	}
	for _, c := range checks {
		if c.res.Skip != SkipNone {
			t.Fatalf("%s: unexpected skip %v", c.name, c.res.Skip)
		}
		if len(c.res.Row) != len(c.cols) {
			t.Fatalf("%s: width %d != columns %d", c.name, len(c.res.Row), len(c.cols))
		}
	}
}
