// Package config loads the YAML run configuration for an llmist agent
// loop: marker strings, parameter encoding, gadget/run timeouts, iteration
// and concurrency limits, subagent recursion depth, and the ambient
// logging/tracing/metrics toggles.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zbigniewsobiecki/llmist/pkg/encoding"
	"github.com/zbigniewsobiecki/llmist/pkg/markers"
)

// Config is the top-level run configuration.
type Config struct {
	Model    string         `yaml:"model"`
	Markers  MarkersConfig  `yaml:"markers"`
	Encoding string         `yaml:"encoding"`
	Run      RunConfig      `yaml:"run"`
	Subagent SubagentConfig `yaml:"subagent"`
	Logging  LoggingConfig  `yaml:"logging"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// MarkersConfig mirrors markers.Config with YAML tags; Resolve converts it.
type MarkersConfig struct {
	StartPrefix string `yaml:"start_prefix"`
	EndPrefix   string `yaml:"end_prefix"`
	ArgPrefix   string `yaml:"arg_prefix"`
}

// Resolve converts MarkersConfig into markers.Config, falling back to
// markers.Default() for any field left blank.
func (m MarkersConfig) Resolve() markers.Config {
	def := markers.Default()
	cfg := markers.Config{
		StartPrefix: m.StartPrefix,
		EndPrefix:   m.EndPrefix,
		ArgPrefix:   m.ArgPrefix,
	}
	if cfg.StartPrefix == "" {
		cfg.StartPrefix = def.StartPrefix
	}
	if cfg.EndPrefix == "" {
		cfg.EndPrefix = def.EndPrefix
	}
	if cfg.ArgPrefix == "" {
		cfg.ArgPrefix = def.ArgPrefix
	}
	return cfg
}

// RunConfig bounds a single agent.Loop run.
type RunConfig struct {
	MaxIterations  int           `yaml:"max_iterations"`
	MaxConcurrency int           `yaml:"max_concurrency"`
	MaxTokens      int           `yaml:"max_tokens"`
	Timeout        time.Duration `yaml:"timeout"`
	GadgetTimeout  time.Duration `yaml:"gadget_timeout"`
}

// SubagentConfig bounds recursive subagent gadgets (spec.md §4.H).
type SubagentConfig struct {
	MaxDepth int `yaml:"max_depth"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig toggles the OpenTelemetry span exporter.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// MetricsConfig toggles the Prometheus metrics registry.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Logger builds a slog.Logger from LoggingConfig, matching the teacher's
// cmd/nexus main() (slog.NewJSONHandler to stderr, level from config).
func (l LoggingConfig) Logger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: l.slogLevel()}
	if strings.ToLower(l.Format) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func (l LoggingConfig) slogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Load reads path, expands ${VAR} environment references (matching the
// teacher's config.Load), applies defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Model == "" {
		cfg.Model = "scripted"
	}
	if cfg.Encoding == "" {
		cfg.Encoding = string(encoding.Block)
	}
	if cfg.Run.MaxIterations == 0 {
		cfg.Run.MaxIterations = 10
	}
	if cfg.Run.MaxConcurrency == 0 {
		cfg.Run.MaxConcurrency = 5
	}
	if cfg.Subagent.MaxDepth == 0 {
		cfg.Subagent.MaxDepth = 5
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

// ValidationError collects every config issue found by validate, matching
// the teacher's ConfigValidationError shape (report everything wrong in one
// pass rather than failing on the first issue).
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validate(cfg *Config) error {
	var issues []string

	if !encoding.Encoding(cfg.Encoding).Valid() {
		issues = append(issues, fmt.Sprintf("encoding %q is not one of block, json, yaml, toml, xml", cfg.Encoding))
	}
	if err := cfg.Markers.Resolve().Validate(); err != nil {
		issues = append(issues, fmt.Sprintf("markers: %v", err))
	}
	if cfg.Run.MaxIterations < 0 {
		issues = append(issues, "run.max_iterations must be >= 0")
	}
	if cfg.Run.MaxConcurrency < 0 {
		issues = append(issues, "run.max_concurrency must be >= 0")
	}
	if cfg.Run.Timeout < 0 {
		issues = append(issues, "run.timeout must be >= 0")
	}
	if cfg.Run.GadgetTimeout < 0 {
		issues = append(issues, "run.gadget_timeout must be >= 0")
	}
	if cfg.Subagent.MaxDepth < 0 {
		issues = append(issues, "subagent.max_depth must be >= 0")
	}
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		issues = append(issues, fmt.Sprintf("logging.level %q must be debug, info, warn, or error", cfg.Logging.Level))
	}
	switch strings.ToLower(cfg.Logging.Format) {
	case "text", "json":
	default:
		issues = append(issues, fmt.Sprintf("logging.format %q must be text or json", cfg.Logging.Format))
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}
