package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"

	"geoimport/internal/config"
	"geoimport/internal/storage/sqlite"
)

// tsv joins rows of tab-separated fields into file content.
func tsv(rows ...[]string) string {
	var b strings.Builder
	for _, r := range rows {
		b.WriteString(strings.Join(r, "\t"))
		b.WriteByte('\n')
	}
	return b.String()
}

// countryRow builds a 17-field country-metadata row with only the consumed
// positions populated.
func countryRow(iso2, iso3, name, capital, area, pop, continent, tld, currency, langs, gid string) []string {
	f := make([]string, 17)
	f[0], f[1], f[4], f[5] = iso2, iso3, name, capital
	f[6], f[7], f[8] = area, pop, continent
	f[10], f[11], f[15], f[16] = tld, currency, langs, gid
	return f
}

// placeRow builds a 19-field gazetteer row.
func placeRow(gid, name, lat, lon, fclass, fcode, cc, pop string) []string {
	f := make([]string, 19)
	f[0], f[1], f[2] = gid, name, name
	f[4], f[5] = lat, lon
	f[6], f[7], f[8] = fclass, fcode, cc
	f[14] = pop
	f[17], f[18] = "Europe/Zurich", "2024-01-01"
	return f
}

func writeFixture(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func writeZipFixture(t *testing.T, dir, name, member, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	w, err := zw.Create(member)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
}

// fixtureConfig writes a complete miniature dump set into a temp directory
// and returns a config pointing at it.
//
// The data is chosen to exercise each counter: two places pass the default
// filters, one is below the population threshold, one has an excluded
// feature class, one row is truncated; the postal set carries a duplicate
// (country, postcode) pair.
func fixtureConfig(t *testing.T, withPostal bool) config.Config {
	t.Helper()
	dir := t.TempDir()

	writeFixture(t, dir, config.DefaultCountryFile, "#ISO\tISO3\t...\n"+tsv(
		countryRow("CH", "CHE", "Switzerland", "Bern", "41284", "8516543", "EU", ".ch", "CHF", "de-CH,fr-CH,it-CH", "2658434"),
		countryRow("DE", "DEU", "Germany", "Berlin", "357022", "82927922", "EU", ".de", "EUR", "de", "2921044"),
	))
	writeFixture(t, dir, config.DefaultAdmin1File, tsv(
		[]string{"CH.ZH", "Zurich", "Zurich", "2657895"},
		[]string{"CH.BE", "Bern", "Bern", "2661551"},
	))
	writeFixture(t, dir, config.DefaultAdmin2File, tsv(
		[]string{"CH.ZH.112", "Zurich District", "Zurich District", "6458798"},
	))

	writeZipFixture(t, dir, config.DefaultPlacesArchive, "allCountries.txt", tsv(
		placeRow("2657896", "Zürich", "47.36667", "8.55", "P", "PPLA", "CH", "402762"),
		placeRow("2661552", "Bern", "46.94809", "7.44744", "P", "PPLC", "CH", "133883"),
		placeRow("1111111", "Kleinweiler", "47.0", "8.0", "P", "PPL", "CH", "500"),
		placeRow("2661910", "Eiger", "46.5775", "8.00528", "T", "MT", "CH", "0"),
		[]string{"9999999", "Truncated"},
	))
	writeZipFixture(t, dir, config.DefaultAltNamesArchive, "alternateNamesV2.txt", tsv(
		[]string{"1", "2657896", "it", "Zurigo", "0", "0"},
		[]string{"2", "2657896", "fr", "Zurich", "1", "0"},
		[]string{"3", "2657896", "link", "https://example.org/zurich", "0", "0"},
	))
	if withPostal {
		writeZipFixture(t, dir, config.DefaultPostalArchive, "allCountries.txt", tsv(
			[]string{"CH", "8001", "Zürich", "Zurich", "ZH", "", "", "", "", "47.3683", "8.5441", "4"},
			[]string{"CH", "8001", "Zürich Altstadt", "Zurich", "ZH", "", "", "", "", "47.37", "8.54", "4"},
			[]string{"CH", "3000", "Bern", "Bern", "BE", "", "", "", "", "46.9481", "7.4474", "4"},
		))
	}

	cfg := config.Default()
	cfg.SourceDir = dir
	cfg.DBPath = filepath.Join(t.TempDir(), "geo.db")
	cfg.Vacuum = false
	return cfg
}

func stageStats(t *testing.T, r *Report, name string) StageStats {
	t.Helper()
	for _, s := range r.Stages {
		if s.Name == name {
			return s.Stats
		}
	}
	t.Fatalf("stage %s missing from report (have %v)", name, r.Stages)
	return StageStats{}
}

/*
TestRun_EndToEnd drives the whole pipeline over a miniature dump set and
checks the report and the resulting database:
  - per-stage inserted/filtered/malformed counters,
  - postal deduplication (one survivor per country+postcode),
  - a populated full-text index that resolves an alternate name,
  - source fingerprints for every present input.
*/
func TestRun_EndToEnd(t *testing.T) {
	cfg := fixtureConfig(t, true)
	ctx := context.Background()

	report, err := Run(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if !report.FullText {
		t.Fatal("FullText = false with an FTS5-capable driver")
	}
	if !report.PostalLoaded || !report.Deduped {
		t.Fatalf("PostalLoaded=%v Deduped=%v, want both", report.PostalLoaded, report.Deduped)
	}

	places := stageStats(t, report, "places")
	if places.Inserted != 2 || places.Filtered != 2 || places.Malformed != 1 {
		t.Fatalf("places stats = %+v, want 2/2/1", places)
	}
	alt := stageStats(t, report, "alt_names")
	if alt.Inserted != 2 || alt.Filtered != 1 {
		t.Fatalf("alt_names stats = %+v, want inserted 2 filtered 1", alt)
	}
	if got := stageStats(t, report, "countries").Inserted; got != 2 {
		t.Fatalf("countries inserted = %d, want 2", got)
	}
	if got := stageStats(t, report, "postal").Inserted; got != 3 {
		t.Fatalf("postal inserted = %d, want 3 (dedup happens later)", got)
	}
	if len(report.Fingerprints) != 6 {
		t.Fatalf("fingerprints = %d entries, want 6", len(report.Fingerprints))
	}

	db, err := sqlite.Open(ctx, sqlite.Config{Path: cfg.DBPath})
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	counts := map[string]int64{
		"countries": 2,
		"admin1":    2,
		"admin2":    1,
		"places":    2,
		"alt_names": 2,
		"postal":    2, // after dedup
	}
	for table, want := range counts {
		got, err := db.Count(ctx, table)
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Fatalf("%s rows = %d, want %d", table, got, want)
		}
	}

	var name string
	err = db.Handle().QueryRowContext(ctx, `
		SELECT p.name FROM fts_place f
		JOIN places p ON p.rowid = f.rowid
		WHERE fts_place MATCH ?`, `"Zurigo"`).Scan(&name)
	if err != nil {
		t.Fatalf("alt-name search through the index: %v", err)
	}
	if name != "Zürich" {
		t.Fatalf("indexed alt-name resolves to %q, want Zürich", name)
	}
}

// TestRun_Idempotent runs the same import twice into the same database;
// clear-before-load must yield identical row counts, not doubled ones.
func TestRun_Idempotent(t *testing.T) {
	cfg := fixtureConfig(t, true)
	ctx := context.Background()

	if _, err := Run(ctx, cfg); err != nil {
		t.Fatal(err)
	}
	report, err := Run(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if got := stageStats(t, report, "alt_names").Inserted; got != 2 {
		t.Fatalf("second run alt_names inserted = %d, want 2", got)
	}

	db, err := sqlite.Open(ctx, sqlite.Config{Path: cfg.DBPath})
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	for table, want := range map[string]int64{"places": 2, "alt_names": 2, "postal": 2} {
		got, err := db.Count(ctx, table)
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Fatalf("%s rows after rerun = %d, want %d", table, got, want)
		}
	}
}

/*
TestRun_MissingMandatory removes one mandatory file and verifies the
precondition contract: the error is a MissingSourceError naming the exact
path, and the destination database is never created.
*/
func TestRun_MissingMandatory(t *testing.T) {
	cfg := fixtureConfig(t, false)
	if err := os.Remove(cfg.Admin2Path()); err != nil {
		t.Fatal(err)
	}

	_, err := Run(context.Background(), cfg)
	var missing *MissingSourceError
	if !errors.As(err, &missing) {
		t.Fatalf("err = %v, want MissingSourceError", err)
	}
	if len(missing.Paths) != 1 || missing.Paths[0] != cfg.Admin2Path() {
		t.Fatalf("missing paths = %v, want exactly %s", missing.Paths, cfg.Admin2Path())
	}
	if _, statErr := os.Stat(cfg.DBPath); !os.IsNotExist(statErr) {
		t.Fatal("database file created despite failed precondition")
	}
}

// TestRun_NoPostal verifies the optional stage: a missing postal archive
// skips loading and deduplication without failing the run.
func TestRun_NoPostal(t *testing.T) {
	cfg := fixtureConfig(t, false)

	report, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if report.PostalLoaded || report.Deduped {
		t.Fatalf("PostalLoaded=%v Deduped=%v, want both false", report.PostalLoaded, report.Deduped)
	}
	for _, s := range report.Stages {
		if s.Name == "postal" {
			t.Fatal("postal stage ran without its archive")
		}
	}
}

// TestRun_FilterOverride narrows the class allow-list and raises the
// population floor, checking the filters compose.
func TestRun_FilterOverride(t *testing.T) {
	cfg := fixtureConfig(t, false)
	cfg.KeepFeatureClasses = []string{"P"}
	cfg.MinPopulation = 200000

	report, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	places := stageStats(t, report, "places")
	if places.Inserted != 1 {
		t.Fatalf("inserted = %d, want only the city above the floor", places.Inserted)
	}
	if places.Filtered != 3 {
		t.Fatalf("filtered = %d, want 3 (small town, hamlet, mountain)", places.Filtered)
	}
}

// TestSourceFingerprint pins the fingerprint shape and its sensitivity to
// content changes.
func TestSourceFingerprint(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(path, []byte("generation one"), 0o644); err != nil {
		t.Fatal(err)
	}

	fp1, err := sourceFingerprint(path)
	if err != nil {
		t.Fatal(err)
	}
	parts := strings.Split(fp1, "-")
	if len(parts) != 2 || len(parts[0]) != 16 {
		t.Fatalf("fingerprint %q not in hash-size form", fp1)
	}

	if err := os.WriteFile(path, []byte("generation two"), 0o644); err != nil {
		t.Fatal(err)
	}
	fp2, err := sourceFingerprint(path)
	if err != nil {
		t.Fatal(err)
	}
	if fp1 == fp2 {
		t.Fatal("fingerprint unchanged across content change")
	}
}
