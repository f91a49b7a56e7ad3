// This file adds a lightweight linter/validator for Config values. It performs
// static checks and returns a list of issues (errors and warnings) that
// callers can surface in a CLI or tests.
package config

import "fmt"

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError indicates a configuration error that should block execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning indicates a configuration warning that should be surfaced
	// to users but may not necessarily block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation finding for a Config.
//
// Path is a dotted path into the config (e.g. "batch_size"). Message is
// human-readable.
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface so an Issue can be treated as a single
// error in contexts that expect error.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// Validate performs static validation of a Config.
//
// It does not mutate the config. Callers may decide whether to treat warnings
// as fatal or not.
func Validate(c Config) []Issue {
	var issues []Issue

	add := func(sev IssueSeverity, path, msg string) {
		issues = append(issues, Issue{Severity: sev, Path: path, Message: msg})
	}

	if c.SourceDir == "" {
		add(SeverityError, "source_dir", "source directory must not be empty")
	}
	if c.DBPath == "" {
		add(SeverityError, "db_path", "destination database path must not be empty")
	}
	if c.BatchSize <= 0 {
		add(SeverityError, "batch_size", "batch size must be > 0")
	}
	if c.ProgressEvery <= 0 {
		add(SeverityError, "progress_every", "progress interval must be > 0")
	}
	if c.MinPopulation < 0 {
		add(SeverityError, "min_population", "minimum population must be >= 0")
	}
	if len(c.KeepFeatureClasses) == 0 {
		add(SeverityError, "keep_feature_classes", "feature-class allow-list must not be empty; nothing would be imported")
	}
	for _, fc := range c.KeepFeatureClasses {
		if len(fc) != 1 {
			add(SeverityWarning, "keep_feature_classes",
				fmt.Sprintf("%q is not a single-letter feature class", fc))
		}
	}
	switch c.TempStore {
	case "memory", "file":
	default:
		add(SeverityError, "temp_store",
			fmt.Sprintf("temp store must be \"memory\" or \"file\", got %q", c.TempStore))
	}
	if len(c.FTSFeatureClasses) == 0 {
		add(SeverityWarning, "fts_feature_classes", "full-text class list is empty; the built-in default (A,P) will be indexed")
	}
	if len(c.AltNameLangs) == 0 {
		add(SeverityWarning, "alt_name_langs", "language allow-list is empty; alternate names of every language will be imported")
	}

	return issues
}
