// Package pipeline sequences the full gazetteer import: source verification,
// schema creation, the five load stages, index building, and the optional
// final compaction.
//
// The run is strictly sequential; the only concurrency is the reader/loader
// goroutine pair inside one stage, connected by a bounded channel for
// back-pressure. The database is single-writer by design and the stages have
// hard ordering dependencies (places must exist before alternate-name
// aggregation, every table before index building).
//
// There is no cross-stage rollback: when a later stage fails, committed data
// from earlier stages remains on disk, and the supported recovery is simply
// re-running the pipeline — every stage clears its destination table first,
// which is also what makes re-runs idempotent.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/zeebo/xxh3"
	"golang.org/x/sync/errgroup"

	"geoimport/internal/config"
	"geoimport/internal/index"
	"geoimport/internal/metrics"
	"geoimport/internal/schema"
	"geoimport/internal/source"
	"geoimport/internal/storage"
	"geoimport/internal/storage/sqlite"
	"geoimport/internal/transform"
)

// Member names inside the GeoNames zip archives.
const (
	placesMember   = "allCountries.txt"
	altNamesMember = "alternateNamesV2.txt"
	postalMember   = "allCountries.txt"
)

// fingerprintSample bounds how much of each source file is hashed for the run
// report. Dumps run to gigabytes; a bounded prefix plus the file size is
// enough to tell two dump generations apart.
const fingerprintSample = 4 << 20

// MissingSourceError reports every mandatory source file that is absent. It
// is raised before any destructive operation, so a failed precondition never
// touches existing data.
type MissingSourceError struct {
	Paths []string
}

func (e *MissingSourceError) Error() string {
	return "pipeline: missing mandatory source files: " + strings.Join(e.Paths, ", ")
}

// StageStats summarizes one load stage.
type StageStats struct {
	Inserted  int64
	Filtered  int64
	Malformed int64
	Elapsed   time.Duration
}

// StageResult pairs a stage name with its statistics, preserving run order.
type StageResult struct {
	Name  string
	Stats StageStats
}

// Report is the end-of-run summary.
type Report struct {
	Elapsed      time.Duration
	FullText     bool
	PostalLoaded bool
	Deduped      bool
	Stages       []StageResult
	Fingerprints map[string]string
}

// Summary renders the report as a human-readable multi-line string.
func (r *Report) Summary(cfg config.Config) string {
	var b strings.Builder
	fmt.Fprintf(&b, "import completed in %s\n", r.Elapsed.Truncate(time.Millisecond))
	fmt.Fprintf(&b, "  filters: classes=%s codes=%s min_pop=%d langs=%s\n",
		strings.Join(cfg.KeepFeatureClasses, ","),
		orAll(strings.Join(cfg.KeepFeatureCodes, ",")),
		cfg.MinPopulation,
		strings.Join(cfg.AltNameLangs, ","),
	)
	fmt.Fprintf(&b, "  full-text: %v  postal: %v  dedup: %v\n", r.FullText, r.PostalLoaded, r.Deduped)
	for _, s := range r.Stages {
		fmt.Fprintf(&b, "  %-10s inserted=%d filtered=%d malformed=%d in %s\n",
			s.Name, s.Stats.Inserted, s.Stats.Filtered, s.Stats.Malformed,
			s.Stats.Elapsed.Truncate(time.Millisecond))
	}
	return strings.TrimRight(b.String(), "\n")
}

func orAll(s string) string {
	if s == "" {
		return "ALL"
	}
	return s
}

// Importer owns the single live database handle for the duration of one run.
// All stage functions receive it explicitly; there is no package-level state.
type Importer struct {
	cfg   config.Config
	db    *sqlite.DB
	rules transform.Rules
}

// Run executes the whole pipeline against cfg and returns the run report.
// On error the report carries whatever stages completed before the failure.
func Run(ctx context.Context, cfg config.Config) (*Report, error) {
	start := time.Now()
	report := &Report{Fingerprints: map[string]string{}}

	// Fail fast, and with the complete list, before touching the database.
	var missing []string
	for _, p := range cfg.MandatoryPaths() {
		if _, err := os.Stat(p); err != nil {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		return report, &MissingSourceError{Paths: missing}
	}

	hasPostal := true
	if _, err := os.Stat(cfg.PostalPath()); err != nil {
		hasPostal = false
		log.Printf("pipeline: postal archive %s not found, skipping postal stage", cfg.PostalPath())
	}

	for _, p := range append(cfg.MandatoryPaths(), cfg.PostalPath()) {
		fp, err := sourceFingerprint(p)
		if err != nil {
			continue // optional postal, or a race with the precondition check
		}
		report.Fingerprints[p] = fp
	}

	db, err := sqlite.Open(ctx, sqlite.Config{Path: cfg.DBPath, TempStore: cfg.TempStore})
	if err != nil {
		return report, err
	}
	defer db.Close()

	if err := schema.Ensure(ctx, db); err != nil {
		return report, err
	}
	report.FullText = schema.ProbeFullText(ctx, db)

	imp := &Importer{
		cfg: cfg,
		db:  db,
		rules: transform.NewRules(
			cfg.KeepFeatureClasses,
			cfg.KeepFeatureCodes,
			cfg.AltNameLangs,
			cfg.MinPopulation,
		),
	}

	type stage struct {
		name string
		run  func(context.Context) (StageStats, error)
	}
	stages := []stage{
		{"countries", imp.loadCountries},
		{"admin1", imp.loadAdmin1},
		{"admin2", imp.loadAdmin2},
		{"places", imp.loadPlaces},
		{"alt_names", imp.loadAltNames},
	}
	if hasPostal {
		stages = append(stages, stage{"postal", imp.loadPostal})
	}

	for _, st := range stages {
		log.Printf("pipeline: >> %s", st.name)
		stats, err := st.run(ctx)
		metrics.RecordStage(st.name, err, stats.Elapsed)
		metrics.RecordRows(st.name, "inserted", stats.Inserted)
		metrics.RecordRows(st.name, "filtered", stats.Filtered)
		metrics.RecordRows(st.name, "malformed", stats.Malformed)
		report.Stages = append(report.Stages, StageResult{Name: st.name, Stats: stats})
		if err != nil {
			return report, fmt.Errorf("pipeline: stage %s: %w", st.name, err)
		}
	}
	report.PostalLoaded = hasPostal

	if hasPostal && cfg.DedupPostal {
		log.Printf("pipeline: >> postal dedup (one row per country+postcode)")
		dedupStart := time.Now()
		err := index.DedupPostal(ctx, db)
		metrics.RecordStage("postal_dedup", err, time.Since(dedupStart))
		if err != nil {
			return report, err
		}
		report.Deduped = true
	}

	log.Printf("pipeline: >> search indices (full-text=%v)", report.FullText)
	idxStart := time.Now()
	builder := &index.Builder{DB: db, FTSClasses: cfg.FTSFeatureClasses}
	fullText, err := builder.BuildSearch(ctx, report.FullText)
	report.FullText = fullText
	metrics.RecordStage("index", err, time.Since(idxStart))
	if err != nil {
		return report, err
	}

	if cfg.Vacuum {
		log.Printf("pipeline: >> vacuum")
		if err := db.Vacuum(ctx); err != nil {
			return report, err
		}
	}

	report.Elapsed = time.Since(start)
	log.Print(report.Summary(cfg))
	return report, nil
}

func (imp *Importer) loadCountries(ctx context.Context) (StageStats, error) {
	return imp.loadStage(ctx,
		schema.TableCountries, transform.CountryColumns, sqlite.InsertReplace,
		func() (*source.Reader, error) { return source.Open(imp.cfg.CountryPath()) },
		func(fields []string) transform.Result { return transform.Country(fields) },
	)
}

func (imp *Importer) loadAdmin1(ctx context.Context) (StageStats, error) {
	return imp.loadStage(ctx,
		schema.TableAdmin1, transform.AdminColumns, sqlite.InsertReplace,
		func() (*source.Reader, error) { return source.Open(imp.cfg.Admin1Path()) },
		func(fields []string) transform.Result { return transform.Admin(fields) },
	)
}

func (imp *Importer) loadAdmin2(ctx context.Context) (StageStats, error) {
	return imp.loadStage(ctx,
		schema.TableAdmin2, transform.AdminColumns, sqlite.InsertReplace,
		func() (*source.Reader, error) { return source.Open(imp.cfg.Admin2Path()) },
		func(fields []string) transform.Result { return transform.Admin(fields) },
	)
}

func (imp *Importer) loadPlaces(ctx context.Context) (StageStats, error) {
	return imp.loadStage(ctx,
		schema.TablePlaces, transform.PlaceColumns, sqlite.InsertReplace,
		func() (*source.Reader, error) {
			return source.OpenZipMember(imp.cfg.PlacesPath(), placesMember)
		},
		func(fields []string) transform.Result { return transform.Place(fields, imp.rules) },
	)
}

func (imp *Importer) loadAltNames(ctx context.Context) (StageStats, error) {
	return imp.loadStage(ctx,
		schema.TableAltNames, transform.AltNameColumns, sqlite.InsertPlain,
		func() (*source.Reader, error) {
			return source.OpenZipMember(imp.cfg.AltNamesPath(), altNamesMember)
		},
		func(fields []string) transform.Result { return transform.AltName(fields, imp.rules) },
	)
}

func (imp *Importer) loadPostal(ctx context.Context) (StageStats, error) {
	return imp.loadStage(ctx,
		schema.TablePostal, transform.PostalColumns, sqlite.InsertPlain,
		func() (*source.Reader, error) {
			return source.OpenZipMember(imp.cfg.PostalPath(), postalMember)
		},
		func(fields []string) transform.Result { return transform.Postal(fields) },
	)
}

// loadStage clears the destination table and streams one source through
// convert into batched inserts. The reader goroutine and the loader goroutine
// are joined by a bounded channel; either side's error cancels the other via
// the errgroup context.
func (imp *Importer) loadStage(
	ctx context.Context,
	table string,
	columns []string,
	policy sqlite.InsertPolicy,
	open func() (*source.Reader, error),
	convert func([]string) transform.Result,
) (StageStats, error) {
	start := time.Now()
	var stats StageStats

	if err := imp.db.Clear(ctx, table); err != nil {
		return stats, err
	}

	r, err := open()
	if err != nil {
		return stats, err
	}
	defer r.Close()

	rows := make(chan []any, imp.cfg.BatchSize)
	var counters transform.Counters

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(rows)
		for {
			fields, err := r.Next()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return err
			}
			res := convert(fields)
			if !counters.Observe(res) {
				continue
			}
			select {
			case rows <- res.Row:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	var inserted int64
	g.Go(func() error {
		n, err := storage.LoadBatches(gctx, rows, imp.cfg.BatchSize, imp.cfg.ProgressEvery,
			func(ctx context.Context, batch [][]any) (int64, error) {
				return imp.db.InsertRows(ctx, table, columns, policy, batch)
			})
		inserted = n
		return err
	})

	err = g.Wait()
	stats = StageStats{
		Inserted:  inserted,
		Filtered:  counters.Filtered,
		Malformed: counters.Malformed,
		Elapsed:   time.Since(start),
	}
	return stats, err
}

// sourceFingerprint hashes a bounded prefix of path and combines it with the
// file size, identifying the dump generation in the run report without a full
// read of a multi-gigabyte file.
func sourceFingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := xxh3.New()
	if _, err := io.Copy(h, io.LimitReader(f, fingerprintSample)); err != nil {
		return "", err
	}
	fi, err := f.Stat()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%016x-%d", h.Sum64(), fi.Size()), nil
}
