package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/lucasnoah/fixloop/internal/checks"
	"github.com/lucasnoah/fixloop/internal/oracle"
	"github.com/lucasnoah/fixloop/internal/policy"
	"github.com/lucasnoah/fixloop/internal/ticket"
)

// EnvPrefix marks environment overrides: FIXLOOP_ORACLE_MODEL sets oracle.model.
const EnvPrefix = "FIXLOOP_"

const maxConfigFileSize = 1 << 20

// Defaults.
const (
	DefaultMaxIterations  = 5
	DefaultTimeout        = 30 * time.Second
	DefaultNoopLimit      = 0
	DefaultMaxCandidates  = 2000
	DefaultProvider       = oracle.ProviderOpenAI
	DefaultModel          = "gpt-4o-mini"
	DefaultRequestTimeout = 60 * time.Second
	DefaultAPIKeyEnv      = "OPENAI_API_KEY"
)

// Load reads the YAML file at path (skipped when path is ""), applies FIXLOOP_
// environment overrides, then fills defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if info.Size() > maxConfigFileSize {
			return nil, fmt.Errorf("config file %s exceeds %d bytes", path, maxConfigFileSize)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parsing config YAML: %w", err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment overrides: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// envKey maps FIXLOOP_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

// SearchPaths lists the config files LoadDefault tries, in order.
func SearchPaths() []string {
	candidates := []string{"fixloop.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".fixloop", "config.yaml"))
	}
	return candidates
}

// LoadDefault loads the first config found in SearchPaths. Without one, only the
// environment and defaults apply.
func LoadDefault() (*Config, string, error) {
	for _, path := range SearchPaths() {
		if _, err := os.Stat(path); err == nil {
			cfg, err := Load(path)
			return cfg, path, err
		}
	}
	cfg, err := Load("")
	return cfg, "", err
}

func applyDefaults(cfg *Config) {
	if cfg.Run.MaxIterations == 0 {
		cfg.Run.MaxIterations = DefaultMaxIterations
	}
	if cfg.Run.Timeout == 0 {
		cfg.Run.Timeout = Duration(DefaultTimeout)
	}
	if cfg.Run.NoopLimit == nil {
		n := DefaultNoopLimit
		cfg.Run.NoopLimit = &n
	}
	if cfg.Selection.MaxCandidates == 0 {
		cfg.Selection.MaxCandidates = DefaultMaxCandidates
	}
	if cfg.Oracle.Provider == "" {
		cfg.Oracle.Provider = DefaultProvider
	}
	if cfg.Oracle.Model == "" && cfg.Oracle.Provider == oracle.ProviderOpenAI {
		cfg.Oracle.Model = DefaultModel
	}
	if cfg.Oracle.APIKeyEnv == "" && cfg.Oracle.Provider == oracle.ProviderOpenAI {
		cfg.Oracle.APIKeyEnv = DefaultAPIKeyEnv
	}
	if cfg.Oracle.RequestTimeout == 0 {
		cfg.Oracle.RequestTimeout = Duration(DefaultRequestTimeout)
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	for name, c := range cfg.Verification.Checks {
		if c.Parser == "" {
			c.Parser = "generic"
		}
		if c.RunType == "" {
			c.RunType = string(ticket.RunLint)
		}
		if c.Timeout == 0 {
			c.Timeout = Duration(checks.DefaultTimeout)
		}
		cfg.Verification.Checks[name] = c
	}
}

// NoopLimit returns the configured no-op streak limit.
func (c *Config) NoopLimit() int {
	if c.Run.NoopLimit == nil {
		return DefaultNoopLimit
	}
	return *c.Run.NoopLimit
}

// TimeoutSec returns the run timeout in whole seconds, rounded up so a
// sub-second timeout never collapses to 0.
func (c *Config) TimeoutSec() int {
	return int(math.Ceil(c.Run.Timeout.Duration().Seconds()))
}

// CheckConfigs returns the advisory checks sorted by name.
func (c *Config) CheckConfigs() []checks.CheckConfig {
	names := make([]string, 0, len(c.Verification.Checks))
	for name := range c.Verification.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]checks.CheckConfig, 0, len(names))
	for _, name := range names {
		ch := c.Verification.Checks[name]
		out = append(out, checks.CheckConfig{
			Name:    name,
			RunType: ticket.RunType(ch.RunType),
			Command: ch.Command,
			Parser:  ch.Parser,
			Timeout: ch.Timeout.Duration(),
		})
	}
	return out
}

// PolicyOptions converts the policy section.
func (c *Config) PolicyOptions() policy.Options {
	return policy.Options{
		ExtraSensitiveMarkers: c.Policy.ExtraSensitiveMarkers,
		TestDirs:              c.Policy.TestDirs,
		DocExtensions:         c.Policy.DocExtensions,
	}
}

// OracleSettings converts the oracle section, reading the API key from its env var.
func (c *Config) OracleSettings() oracle.Settings {
	s := oracle.Settings{
		Provider:       c.Oracle.Provider,
		Model:          c.Oracle.Model,
		BaseURL:        c.Oracle.BaseURL,
		Temperature:    c.Oracle.Temperature,
		RequestTimeout: c.Oracle.RequestTimeout.Duration(),
		RatePerSec:     c.Oracle.RatePerSec,
		ReplayFile:     c.Oracle.ReplayFile,
	}
	if c.Oracle.APIKeyEnv != "" {
		s.APIKey = os.Getenv(c.Oracle.APIKeyEnv)
	}
	return s
}
