// Command geoimport builds a query-ready gazetteer database from GeoNames
// dump files.
//
// Example:
//
//	geoimport -src geo_data/src -db geo_data/geo.db
//	MIN_POP=0 geoimport -src geo_data/src -db geo.db -keep-fclass P
//
// Configuration precedence is defaults → environment → flags; see
// internal/config for the recognized environment variables.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"geoimport/internal/config"
	"geoimport/internal/metrics"
	"geoimport/internal/metrics/prompush"
	"geoimport/internal/pipeline"
)

func main() {
	cfg := config.FromEnv()

	var (
		metricsBackendFlg string
		pushGatewayURLFlg string
		validate          bool
		keepClasses       string
		keepCodes         string
		altLangs          string
		ftsClasses        string
	)

	flag.StringVar(&cfg.SourceDir, "src", "geo_data/src", "source directory with GeoNames dumps")
	flag.StringVar(&cfg.DBPath, "db", "geo_data/geo.db", "destination database file")
	flag.Int64Var(&cfg.MinPopulation, "min-pop", cfg.MinPopulation, "minimum population for populated places (0 = all)")
	flag.IntVar(&cfg.BatchSize, "batch", cfg.BatchSize, "rows per insert transaction")
	flag.IntVar(&cfg.ProgressEvery, "progress", cfg.ProgressEvery, "progress log interval in rows")
	flag.StringVar(&keepClasses, "keep-fclass", "", "comma list of feature classes to keep (overrides KEEP_FCLASS)")
	flag.StringVar(&keepCodes, "keep-fcodes", "", "comma list of feature codes to keep (overrides KEEP_FCODES)")
	flag.StringVar(&altLangs, "alt-langs", "", "comma list of alternate-name languages (overrides ALT_LANGS)")
	flag.StringVar(&ftsClasses, "fts-fclass", "", "feature classes included in the full-text index")
	flag.BoolVar(&cfg.DedupPostal, "dedup-postal", cfg.DedupPostal, "deduplicate postal codes per (country, postcode)")
	flag.BoolVar(&cfg.Vacuum, "vacuum", cfg.Vacuum, "compact the database after import")
	flag.StringVar(&cfg.TempStore, "temp-store", cfg.TempStore, `SQLite temporary storage: "memory" or "file"`)
	flag.StringVar(&metricsBackendFlg, "metrics-backend", "none", "metrics backend to use (pushgateway, none)")
	flag.StringVar(&pushGatewayURLFlg, "pushgateway-url", "", "Pushgateway base URL (overrides env PUSHGATEWAY_URL)")
	flag.BoolVar(&validate, "validate", false, "validate the configuration and exit")

	flag.Parse()

	if keepClasses != "" {
		cfg.KeepFeatureClasses = config.SplitList(keepClasses)
	}
	if keepCodes != "" {
		cfg.KeepFeatureCodes = config.SplitList(keepCodes)
	}
	if altLangs != "" {
		cfg.AltNameLangs = config.SplitList(altLangs)
	}
	if ftsClasses != "" {
		cfg.FTSFeatureClasses = config.SplitList(ftsClasses)
	}

	issues := config.Validate(cfg)
	hasError := false
	for _, iss := range issues {
		fmt.Fprintf(os.Stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
		if iss.Severity == config.SeverityError {
			hasError = true
		}
	}
	if hasError {
		fatalf("configuration is invalid")
	}
	if validate {
		log.Printf("configuration is valid")
		os.Exit(0)
	}

	// Decide metrics backend: flag → env → default.
	backendName := metricsBackendFlg
	if backendName == "" {
		backendName = os.Getenv("METRICS_BACKEND")
	}
	switch backendName {
	case "pushgateway":
		gwURL := pushGatewayURLFlg
		if gwURL == "" {
			gwURL = os.Getenv("PUSHGATEWAY_URL")
		}
		if gwURL == "" {
			gwURL = "http://localhost:9091"
		}
		b, err := prompush.NewBackend("geoimport", gwURL)
		if err != nil {
			log.Printf("metrics: failed to init push backend: %v; using nop", err)
		} else {
			metrics.SetBackend(b)
			defer func() {
				if err := metrics.Flush(); err != nil {
					log.Printf("metrics: flush error: %v", err)
				}
			}()
		}
	case "", "none":
		// metrics disabled; nop backend remains
	default:
		log.Printf("metrics: unknown backend %q; metrics disabled", backendName)
	}

	// An interrupt aborts the in-flight stage; committed batches persist and
	// the supported recovery is re-running the pipeline.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	if _, err := pipeline.Run(ctx, cfg); err != nil {
		log.Fatalf("import failed after %s: %v", time.Since(start).Truncate(time.Millisecond), err)
	}
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
