package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/pingsantohq/pathprobe/pkg/types"
)

const (
	envConfigPath     = "PATHPROBE_CONFIG"
	DefaultConfigPath = "configs/streams.yaml"

	DefaultResultsPath  = "ping_results.csv"
	DefaultStateDir     = ".pathprobe"
	DefaultProbeTimeout = time.Second
	DefaultMetricsAddr  = "127.0.0.1:9310"
	DefaultGlobalPPSCap = 50
)

// ErrInvalidConfig marks every error that prevents a run from starting.
var ErrInvalidConfig = errors.New("invalid config")

// ResultsMode selects what happens to an existing log at start.
type ResultsMode string

const (
	ResultsAppend   ResultsMode = "append"
	ResultsTruncate ResultsMode = "truncate"
)

type Config struct {
	Engine  EngineConfig  `yaml:"engine" toml:"engine"`
	Logging LoggingConfig `yaml:"logging" toml:"logging"`
	Streams []StreamEntry `yaml:"streams" toml:"streams"`

	// Path is the file the config was loaded from.
	Path string `yaml:"-" toml:"-"`
}

type EngineConfig struct {
	ResultsPath     string               `yaml:"results_path" toml:"results_path"`
	ResultsMode     ResultsMode          `yaml:"results_mode" toml:"results_mode"`
	StateDir        string               `yaml:"state_dir" toml:"state_dir"`
	ProbeTimeout    Seconds              `yaml:"probe_timeout" toml:"probe_timeout"`
	ErrorRetryAfter Seconds              `yaml:"error_retry_after" toml:"error_retry_after"`
	Unprivileged    bool                 `yaml:"unprivileged" toml:"unprivileged"`
	MetricsAddr     *string              `yaml:"metrics_addr" toml:"metrics_addr"`
	RateGovernance  RateGovernanceConfig `yaml:"rate_governance" toml:"rate_governance"`
}

type RateGovernanceConfig struct {
	Enabled      bool `yaml:"enabled" toml:"enabled"`
	GlobalPPSCap int  `yaml:"global_pps_cap" toml:"global_pps_cap"`
}

type LoggingConfig struct {
	Level      string `yaml:"level" toml:"level"`
	File       string `yaml:"file" toml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" toml:"max_age_days"`
	Compress   bool   `yaml:"compress" toml:"compress"`
}

// Load reads, decodes and validates the document at path. The format is
// chosen by extension: .toml is TOML, anything else goes through the YAML
// decoder, which also accepts JSON.
func Load(ctx context.Context, path string) (Config, error) {
	var cfg Config

	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return cfg, fmt.Errorf("open config %q: %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return cfg, fmt.Errorf("read config %q: %w", path, err)
	}

	cfg, err = Parse(data, formatFor(path))
	if err != nil {
		return cfg, fmt.Errorf("parse config %q: %w", path, err)
	}
	cfg.Path = path
	return cfg, nil
}

func LoadFromEnv(ctx context.Context) (Config, error) {
	path := os.Getenv(envConfigPath)
	if path == "" {
		path = DefaultConfigPath
	}
	return Load(ctx, path)
}

// Format names a supported config syntax.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

func formatFor(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatYAML
}

// Parse decodes data, applies defaults and validates the result.
func Parse(data []byte, format Format) (Config, error) {
	var cfg Config

	switch format {
	case FormatTOML:
		md, err := toml.Decode(string(data), &cfg)
		if err != nil {
			return cfg, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		for _, key := range md.Undecoded() {
			// stream tables are checked key by key in StreamEntry.UnmarshalTOML
			if len(key) > 0 && key[0] == "streams" {
				continue
			}
			return cfg, fmt.Errorf("%w: unknown key %q", ErrInvalidConfig, key.String())
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			if errors.Is(err, io.EOF) {
				return cfg, fmt.Errorf("%w: empty document", ErrInvalidConfig)
			}
			return cfg, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Engine.ResultsPath == "" {
		c.Engine.ResultsPath = DefaultResultsPath
	}
	if c.Engine.ResultsMode == "" {
		c.Engine.ResultsMode = ResultsAppend
	}
	if c.Engine.StateDir == "" {
		c.Engine.StateDir = DefaultStateDir
	}
	if c.Engine.ProbeTimeout == 0 {
		c.Engine.ProbeTimeout = Seconds(DefaultProbeTimeout)
	}
	if c.Engine.MetricsAddr == nil {
		addr := DefaultMetricsAddr
		c.Engine.MetricsAddr = &addr
	}
	if c.Engine.RateGovernance.Enabled && c.Engine.RateGovernance.GlobalPPSCap == 0 {
		c.Engine.RateGovernance.GlobalPPSCap = DefaultGlobalPPSCap
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	for i := range c.Streams {
		c.Streams[i].ID = fmt.Sprintf("stream-%d", i)
	}
}

// Validate checks the engine settings and every stream entry.
func (c Config) Validate() error {
	if len(c.Streams) == 0 {
		return fmt.Errorf("%w: at least one stream is required", ErrInvalidConfig)
	}
	for i, s := range c.Streams {
		if err := s.StreamConfig.Validate(); err != nil {
			return fmt.Errorf("%w: streams[%d]: %w", ErrInvalidConfig, i, err)
		}
	}
	switch c.Engine.ResultsMode {
	case ResultsAppend, ResultsTruncate:
	default:
		return fmt.Errorf("%w: results_mode %q (allowed: append, truncate)", ErrInvalidConfig, c.Engine.ResultsMode)
	}
	if c.Engine.ProbeTimeout < 0 {
		return fmt.Errorf("%w: probe_timeout must not be negative", ErrInvalidConfig)
	}
	if c.Engine.ErrorRetryAfter < 0 {
		return fmt.Errorf("%w: error_retry_after must not be negative", ErrInvalidConfig)
	}
	if c.Engine.RateGovernance.Enabled && c.Engine.RateGovernance.GlobalPPSCap < 0 {
		return fmt.Errorf("%w: global_pps_cap must be positive", ErrInvalidConfig)
	}
	return nil
}

// StreamConfigs returns the validated streams with engine defaults applied.
func (c Config) StreamConfigs() []types.StreamConfig {
	streams := make([]types.StreamConfig, 0, len(c.Streams))
	for _, entry := range c.Streams {
		s := entry.StreamConfig
		if s.Timeout <= 0 {
			s.Timeout = c.Engine.ProbeTimeout.Duration()
		}
		streams = append(streams, s)
	}
	return streams
}

// MetricsListenAddr returns the monitoring address; empty disables it.
func (c Config) MetricsListenAddr() string {
	if c.Engine.MetricsAddr == nil {
		return DefaultMetricsAddr
	}
	return *c.Engine.MetricsAddr
}
