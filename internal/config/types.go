package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config is the full fixloop configuration.
type Config struct {
	Run          RunConfig          `koanf:"run" yaml:"run"`
	Verification VerificationConfig `koanf:"verification" yaml:"verification"`
	Selection    SelectionConfig    `koanf:"selection" yaml:"selection"`
	Policy       PolicyConfig       `koanf:"policy" yaml:"policy"`
	Oracle       OracleConfig       `koanf:"oracle" yaml:"oracle"`
	Audit        AuditConfig        `koanf:"audit" yaml:"audit"`
	Metrics      MetricsConfig      `koanf:"metrics" yaml:"metrics"`
	Telemetry    TelemetryConfig    `koanf:"telemetry" yaml:"telemetry"`
	Log          LogConfig          `koanf:"log" yaml:"log"`
}

// RunConfig bounds a single remediation run.
type RunConfig struct {
	MaxIterations int      `koanf:"max_iterations" yaml:"max_iterations"`
	Timeout       Duration `koanf:"timeout" yaml:"timeout"`
	// NoopLimit escalates after this many consecutive passes without a patch. 0 disables.
	NoopLimit *int   `koanf:"noop_limit" yaml:"noop_limit"`
	StateDir  string `koanf:"state_dir" yaml:"state_dir,omitempty"`
	// WorktreeDir holds per-run worktrees created by run --worktree.
	WorktreeDir string `koanf:"worktree_dir" yaml:"worktree_dir,omitempty"`
}

// VerificationConfig controls the test command and the advisory checks.
type VerificationConfig struct {
	Command        string           `koanf:"command" yaml:"command,omitempty"`
	Parser         string           `koanf:"parser" yaml:"parser,omitempty"`
	InstallCommand string           `koanf:"install_command" yaml:"install_command,omitempty"`
	Checks         map[string]Check `koanf:"checks" yaml:"checks,omitempty"`
}

// Check defines an advisory lint or typecheck command run after each verification.
type Check struct {
	Command string   `koanf:"command" yaml:"command"`
	Parser  string   `koanf:"parser" yaml:"parser,omitempty"`
	RunType string   `koanf:"run_type" yaml:"run_type"`
	Timeout Duration `koanf:"timeout" yaml:"timeout,omitempty"`
}

// SelectionConfig restricts the files offered for selection.
type SelectionConfig struct {
	SourceRoots   []string `koanf:"source_roots" yaml:"source_roots,omitempty"`
	MaxCandidates int      `koanf:"max_candidates" yaml:"max_candidates"`
}

// PolicyConfig extends the built-in path allow-list.
type PolicyConfig struct {
	ExtraSensitiveMarkers []string `koanf:"extra_sensitive_markers" yaml:"extra_sensitive_markers,omitempty"`
	TestDirs              []string `koanf:"test_dirs" yaml:"test_dirs,omitempty"`
	DocExtensions         []string `koanf:"doc_extensions" yaml:"doc_extensions,omitempty"`
}

// OracleConfig selects the suggestion model.
type OracleConfig struct {
	Provider       string   `koanf:"provider" yaml:"provider"`
	Model          string   `koanf:"model" yaml:"model"`
	BaseURL        string   `koanf:"base_url" yaml:"base_url,omitempty"`
	APIKeyEnv      string   `koanf:"api_key_env" yaml:"api_key_env,omitempty"`
	Temperature    float64  `koanf:"temperature" yaml:"temperature"`
	RequestTimeout Duration `koanf:"request_timeout" yaml:"request_timeout"`
	RatePerSec     float64  `koanf:"rate_per_sec" yaml:"rate_per_sec"`
	TemplatesDir   string   `koanf:"templates_dir" yaml:"templates_dir,omitempty"`
	ReplayFile     string   `koanf:"replay_file" yaml:"replay_file,omitempty"`
}

// AuditConfig points at the audit database. Empty DSN means ~/.fixloop/fixloop.db.
type AuditConfig struct {
	DSN      string `koanf:"dsn" yaml:"dsn,omitempty"`
	Disabled bool   `koanf:"disabled" yaml:"disabled"`
}

// MetricsConfig writes Prometheus metrics in textfile-collector format after each run.
type MetricsConfig struct {
	Textfile string `koanf:"textfile" yaml:"textfile,omitempty"`
}

// TelemetryConfig enables trace export.
type TelemetryConfig struct {
	StdoutTrace bool `koanf:"stdout_trace" yaml:"stdout_trace"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `koanf:"level" yaml:"level"`
	Format string `koanf:"format" yaml:"format"`
}

// Duration wraps time.Duration so config files can use "30s" or "2m".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	if parsed < 0 {
		return fmt.Errorf("duration cannot be negative: %s", text)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration().String()), nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration().String())
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}
