// Package config defines the canonical configuration model for the gazetteer
// import pipeline. It is intentionally small, explicit, and dependency-free:
// values are resolved from built-in defaults, then environment variables, then
// CLI flags, and passed through the program without additional glue code.
//
// Design goals:
//
//  1. Stability: Changes to this package should be additive and backwards-
//     compatible whenever possible.
//  2. Clarity: Every recognized knob of the importer is a named field here;
//     nothing reads the environment ad hoc elsewhere in the program.
//  3. Minimalism: No third-party config libraries; parsing is performed by the
//     standard library.
//
// Recognized environment variables (all optional):
//
//	KEEP_FCLASS     comma list of feature classes to keep (default A,H,L,P,R,S)
//	KEEP_FCODES     comma list of feature codes to keep (empty = all)
//	MIN_POP         minimum population for populated places (default 1000)
//	ALT_LANGS       comma list of alternate-name languages
//	FTS_FCLASS      feature classes included in the full-text index (default A,P)
//	DEDUP_POSTAL    "0" disables postal-code deduplication
//	BATCH_SIZE      rows per insert transaction (default 5000)
//	PROGRESS_EVERY  progress log interval in rows (default 20000)
//	VACUUM          "0" disables the final VACUUM
//	TEMP_STORE      "memory" (default) or "file" for constrained hosts
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Default file names inside the source directory. They mirror the GeoNames
// dump layout and can be overridden per field on Config.
const (
	DefaultCountryFile     = "countryInfo.txt"
	DefaultAdmin1File      = "admin1CodesASCII.txt"
	DefaultAdmin2File      = "admin2Codes.txt"
	DefaultPlacesArchive   = "allCountries.zip"
	DefaultAltNamesArchive = "alternateNamesV2.zip"
	DefaultPostalArchive   = "postal/allCountries.zip"
)

// Config carries every knob recognized by the import pipeline.
type Config struct {
	// SourceDir is the directory holding the gazetteer dumps.
	SourceDir string
	// DBPath is the destination database file.
	DBPath string

	// Per-file overrides, relative to SourceDir unless absolute.
	CountryFile     string
	Admin1File      string
	Admin2File      string
	PlacesArchive   string
	AltNamesArchive string
	// PostalArchive is optional; a missing file skips the postal stage.
	PostalArchive string

	// KeepFeatureClasses is the feature-class allow-list for place rows.
	KeepFeatureClasses []string
	// KeepFeatureCodes restricts feature codes within the kept classes.
	// Empty means no code-level restriction.
	KeepFeatureCodes []string
	// MinPopulation applies to feature class "P" only; 0 disables the filter.
	MinPopulation int64
	// AltNameLangs is the language allow-list for alternate names.
	AltNameLangs []string
	// FTSFeatureClasses limits which place classes enter the full-text index.
	FTSFeatureClasses []string
	// DedupPostal keeps at most one postal row per (country, postcode).
	DedupPostal bool

	// BatchSize is the number of rows committed per transaction.
	BatchSize int
	// ProgressEvery is the progress-log interval in inserted rows.
	ProgressEvery int
	// Vacuum compacts the database file after a successful run.
	Vacuum bool
	// TempStore selects SQLite temporary storage: "memory" or "file".
	TempStore string
}

// Default returns a Config populated with the built-in defaults.
func Default() Config {
	return Config{
		CountryFile:        DefaultCountryFile,
		Admin1File:         DefaultAdmin1File,
		Admin2File:         DefaultAdmin2File,
		PlacesArchive:      DefaultPlacesArchive,
		AltNamesArchive:    DefaultAltNamesArchive,
		PostalArchive:      DefaultPostalArchive,
		KeepFeatureClasses: []string{"A", "H", "L", "P", "R", "S"},
		KeepFeatureCodes:   nil,
		MinPopulation:      1000,
		AltNameLangs: []string{
			"de", "en", "fr", "it", "es", "ru", "zh", "ar", "pt", "tr", "pl",
		},
		FTSFeatureClasses: []string{"A", "P"},
		DedupPostal:       true,
		BatchSize:         5000,
		ProgressEvery:     20000,
		Vacuum:            true,
		TempStore:         "memory",
	}
}

// FromEnv returns Default() with environment overrides applied.
// Unset or unparseable variables keep the default value.
func FromEnv() Config {
	cfg := Default()

	if v := os.Getenv("KEEP_FCLASS"); v != "" {
		cfg.KeepFeatureClasses = SplitList(v)
	}
	if v := os.Getenv("KEEP_FCODES"); v != "" {
		cfg.KeepFeatureCodes = SplitList(v)
	}
	if v := os.Getenv("MIN_POP"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			cfg.MinPopulation = n
		}
	}
	if v := os.Getenv("ALT_LANGS"); v != "" {
		cfg.AltNameLangs = SplitList(v)
	}
	if v := os.Getenv("FTS_FCLASS"); v != "" {
		cfg.FTSFeatureClasses = SplitList(v)
	}
	if v := os.Getenv("DEDUP_POSTAL"); v != "" {
		cfg.DedupPostal = v != "0"
	}
	if v := os.Getenv("BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.BatchSize = n
		}
	}
	if v := os.Getenv("PROGRESS_EVERY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ProgressEvery = n
		}
	}
	if v := os.Getenv("VACUUM"); v != "" {
		cfg.Vacuum = v != "0"
	}
	if v := os.Getenv("TEMP_STORE"); v != "" {
		cfg.TempStore = strings.ToLower(v)
	}
	return cfg
}

// SplitList splits a comma-separated list, trimming whitespace and dropping
// empty elements. "A, P" and "A,P" are equivalent; "" yields nil.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// resolve joins a possibly-relative file name with the source directory.
func (c Config) resolve(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.SourceDir, name)
}

// CountryPath returns the absolute path of the country-metadata file.
func (c Config) CountryPath() string { return c.resolve(c.CountryFile) }

// Admin1Path returns the absolute path of the admin1 codes file.
func (c Config) Admin1Path() string { return c.resolve(c.Admin1File) }

// Admin2Path returns the absolute path of the admin2 codes file.
func (c Config) Admin2Path() string { return c.resolve(c.Admin2File) }

// PlacesPath returns the absolute path of the place gazetteer archive.
func (c Config) PlacesPath() string { return c.resolve(c.PlacesArchive) }

// AltNamesPath returns the absolute path of the alternate-names archive.
func (c Config) AltNamesPath() string { return c.resolve(c.AltNamesArchive) }

// PostalPath returns the absolute path of the optional postal-code archive.
func (c Config) PostalPath() string { return c.resolve(c.PostalArchive) }

// MandatoryPaths lists every source file that must exist before the pipeline
// touches the database. The postal archive is deliberately absent: it is
// optional and skipped with a notice when missing.
func (c Config) MandatoryPaths() []string {
	return []string{
		c.CountryPath(),
		c.Admin1Path(),
		c.Admin2Path(),
		c.PlacesPath(),
		c.AltNamesPath(),
	}
}
