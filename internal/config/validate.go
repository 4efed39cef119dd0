package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lucasnoah/fixloop/internal/checks"
	"github.com/lucasnoah/fixloop/internal/db"
	"github.com/lucasnoah/fixloop/internal/logging"
	"github.com/lucasnoah/fixloop/internal/oracle"
	"github.com/lucasnoah/fixloop/internal/ticket"
)

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// recognizedParsers is the set of valid parser names for checks.
var recognizedParsers = func() map[string]bool {
	m := make(map[string]bool)
	for _, name := range checks.ParserNames() {
		m[name] = true
	}
	return m
}()

var recognizedProviders = map[string]bool{
	oracle.ProviderOpenAI: true,
	oracle.ProviderOllama: true,
	oracle.ProviderReplay: true,
}

// Validate checks a Config for structural and semantic errors.
// It returns a slice of all validation errors found (empty if valid).
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if cfg.Run.MaxIterations < 1 {
		add("run.max_iterations", "must be at least 1, got %d", cfg.Run.MaxIterations)
	}
	if cfg.Run.Timeout.Duration() <= 0 {
		add("run.timeout", "must be positive")
	}
	if cfg.NoopLimit() < 0 {
		add("run.noop_limit", "must not be negative")
	}

	if p := cfg.Verification.Parser; p != "" && !recognizedParsers[p] {
		add("verification.parser", "unrecognized parser %q", p)
	}
	names := make([]string, 0, len(cfg.Verification.Checks))
	for name := range cfg.Verification.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c := cfg.Verification.Checks[name]
		prefix := "verification.checks." + name
		if c.Command == "" {
			add(prefix+".command", "is required")
		}
		if c.Parser != "" && !recognizedParsers[c.Parser] {
			add(prefix+".parser", "unrecognized parser %q", c.Parser)
		}
		switch ticket.RunType(c.RunType) {
		case ticket.RunLint, ticket.RunTypecheck:
		default:
			add(prefix+".run_type", "must be lint or typecheck, got %q", c.RunType)
		}
	}

	if cfg.Selection.MaxCandidates < 0 {
		add("selection.max_candidates", "must not be negative")
	}

	o := cfg.Oracle
	if !recognizedProviders[o.Provider] {
		add("oracle.provider", "unrecognized provider %q", o.Provider)
	}
	if o.Provider != oracle.ProviderReplay && o.Model == "" {
		add("oracle.model", "is required")
	}
	if o.Provider == oracle.ProviderReplay && o.ReplayFile == "" {
		add("oracle.replay_file", "is required for the replay provider")
	}
	if o.Temperature < 0 || o.Temperature > 2 {
		add("oracle.temperature", "must be between 0 and 2")
	}
	if o.RatePerSec < 0 {
		add("oracle.rate_per_sec", "must not be negative")
	}

	if dsn := cfg.Audit.DSN; strings.Contains(dsn, "://") && db.DialectFor(dsn) != db.Postgres {
		add("audit.dsn", "unsupported scheme in %q (want postgres:// or a SQLite path)", dsn)
	}

	if err := (logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format}).Validate(); err != nil {
		add("log", "%v", err)
	}
	return errs
}
