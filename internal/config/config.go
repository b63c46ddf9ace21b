// Package config handles configuration loading from YAML files and environment variables.
// Configuration precedence: CLI flags > environment variables > config file >
// embedded defaults > built-in defaults. Out-of-range values are clamped with
// a warning rather than rejected.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/c2h5oh/datasize"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Bounds and defaults for the collection loop and history retention.
// Entity capacity is deliberately absent: it is a compile-time constant in
// the store package, not a runtime knob.
const (
	MinInterval     = 100 * time.Millisecond
	MaxInterval     = 10 * time.Second
	DefaultInterval = 1 * time.Second

	DefaultSourceBudget = 250 * time.Millisecond
	DefaultCycleBudget  = 50 * time.Millisecond

	MinHistorySamples = 16
	MaxHistorySamples = 86400

	DefaultChannelDepth = 2

	DefaultMemoryBudget = 8 * datasize.MB
)

// Duration is a wrapper around time.Duration that supports YAML unmarshaling
// from human-readable strings like "250ms", "1s", "5m".
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements the yaml.Unmarshaler interface for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		parsed, err := time.ParseDuration(value.Value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value.Value, err)
		}
		d.Duration = parsed
		return nil
	default:
		return fmt.Errorf("unsupported duration format: %v", value.Kind)
	}
}

// MarshalYAML implements the yaml.Marshaler interface for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// ByteSize wraps datasize.ByteSize with YAML unmarshaling from strings like
// "8MB" or "512KB".
type ByteSize struct {
	datasize.ByteSize
}

// UnmarshalYAML implements the yaml.Unmarshaler interface for ByteSize.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		parsed, err := datasize.ParseString(value.Value)
		if err != nil {
			return fmt.Errorf("invalid size %q: %w", value.Value, err)
		}
		b.ByteSize = parsed
		return nil
	default:
		return fmt.Errorf("unsupported size format: %v", value.Kind)
	}
}

// MarshalYAML implements the yaml.Marshaler interface for ByteSize.
func (b ByteSize) MarshalYAML() (interface{}, error) {
	return b.ByteSize.String(), nil
}

// Config holds all agent configuration.
type Config struct {
	Collection     CollectionConfig `yaml:"collection"`
	History        HistoryConfig    `yaml:"history"`
	Channel        ChannelConfig    `yaml:"channel"`
	Sources        SourcesConfig    `yaml:"sources"`
	Logging        LoggingConfig    `yaml:"logging"`
	StalenessAfter Duration         `yaml:"staleness_after"`
	MemoryBudget   ByteSize         `yaml:"memory_budget"`
}

// CollectionConfig holds the collection loop settings.
type CollectionConfig struct {
	// Interval is the time between collection cycle starts.
	Interval Duration `yaml:"interval"`
	// SourceBudget bounds one source's Collect call; a source that does
	// not answer within it is recorded as failed for that cycle.
	SourceBudget Duration `yaml:"source_budget"`
	// CycleBudget is the soft budget for a whole cycle. Exceeding it marks
	// the snapshot over budget and is counted, never aborted.
	CycleBudget Duration `yaml:"cycle_budget"`
}

// HistoryConfig holds the time-series retention settings.
type HistoryConfig struct {
	Retention Retention `yaml:"retention"`
}

// ChannelConfig holds the snapshot transfer queue settings.
type ChannelConfig struct {
	Depth int `yaml:"depth"`
}

// SourcesConfig enables or disables the optional metric sources. The cpu,
// memory, and process sources are the pipeline's reason to exist and cannot
// be turned off.
type SourcesConfig struct {
	Network bool `yaml:"network"`
	DiskIO  bool `yaml:"diskio"`
	Kernel  bool `yaml:"kernel"`
	GPU     bool `yaml:"gpu"`
	// ProcessHandles enables per-process open-descriptor counting, which
	// costs one directory scan per process on Linux.
	ProcessHandles bool `yaml:"process_handles"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Collection: CollectionConfig{
			Interval:     Duration{DefaultInterval},
			SourceBudget: Duration{DefaultSourceBudget},
			CycleBudget:  Duration{DefaultCycleBudget},
		},
		History: HistoryConfig{
			Retention: Retention1Hour,
		},
		Channel: ChannelConfig{
			Depth: DefaultChannelDepth,
		},
		Sources: SourcesConfig{
			Network:        true,
			DiskIO:         true,
			Kernel:         true,
			GPU:            true,
			ProcessHandles: true,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
		StalenessAfter: Duration{0}, // derived from the interval in Normalize
		MemoryBudget:   ByteSize{DefaultMemoryBudget},
	}
}

// CLIOverrides holds values from command-line flags.
// Empty strings are treated as "not set" and skipped.
type CLIOverrides struct {
	Interval  string
	Retention string
}

// Locate searches standard config file paths and returns the first one found.
// Returns empty string if no config file exists.
func Locate() string {
	candidates := configSearchPaths()
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// LoadLayered loads configuration with the full precedence chain:
// CLI flags > env vars > external YAML file > embedded bytes > defaults.
//
// An optional configPath argument controls external-file discovery:
//   - omitted        → auto-discover via Locate()
//   - explicit value → use that path ("" means no external file)
func LoadLayered(cli CLIOverrides, embedded []byte, configPath ...string) (*Config, error) {
	cfg := DefaultConfig()

	// Layer 1: embedded config (lowest priority data layer)
	if len(embedded) > 0 {
		if err := yaml.Unmarshal(embedded, cfg); err != nil {
			return nil, fmt.Errorf("parsing embedded config: %w", err)
		}
	}

	// Layer 2: external YAML file
	var filePath string
	if len(configPath) > 0 {
		filePath = configPath[0] // caller-supplied (may be "")
	} else {
		filePath = Locate() // auto-discover
	}
	if filePath != "" {
		data, err := os.ReadFile(filePath)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file %s: %w", filePath, err)
			}
		}
	}

	// Layer 3: environment variables
	applyEnvOverrides(cfg)

	// Layer 4: CLI flags (highest priority)
	if cli.Interval != "" {
		d, err := time.ParseDuration(cli.Interval)
		if err != nil {
			return nil, fmt.Errorf("invalid -interval flag %q: %w", cli.Interval, err)
		}
		cfg.Collection.Interval = Duration{d}
	}
	if cli.Retention != "" {
		r, err := ParseRetention(cli.Retention)
		if err != nil {
			return nil, fmt.Errorf("invalid -retention flag: %w", err)
		}
		cfg.History.Retention = r
	}

	return cfg, nil
}

// Load reads configuration from a YAML file plus environment overrides.
// If path is empty or the file does not exist, only defaults and environment
// variables are used.
func Load(path string) (*Config, error) {
	return LoadLayered(CLIOverrides{}, nil, path)
}

// applyEnvOverrides applies environment variable overrides to the
// configuration. Unparsable values are skipped; the loader has no logger yet.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PROCSCOPE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Collection.Interval = Duration{d}
		}
	}
	if v := os.Getenv("PROCSCOPE_RETENTION"); v != "" {
		if r, err := ParseRetention(v); err == nil {
			cfg.History.Retention = r
		}
	}
	if v := os.Getenv("PROCSCOPE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("PROCSCOPE_LOG_FILE"); v != "" {
		cfg.Logging.File = v
	}
}

// Normalize clamps out-of-range values into their documented bounds and
// derives dependent defaults. It logs one warning per adjusted field and
// never fails: after Normalize the configuration is safe to run with.
func (c *Config) Normalize(logger *zap.Logger) {
	if c.Collection.Interval.Duration < MinInterval {
		logger.Warn("Collection interval below minimum, clamping",
			zap.Duration("configured", c.Collection.Interval.Duration),
			zap.Duration("minimum", MinInterval))
		c.Collection.Interval = Duration{MinInterval}
	}
	if c.Collection.Interval.Duration > MaxInterval {
		logger.Warn("Collection interval above maximum, clamping",
			zap.Duration("configured", c.Collection.Interval.Duration),
			zap.Duration("maximum", MaxInterval))
		c.Collection.Interval = Duration{MaxInterval}
	}
	if c.Collection.SourceBudget.Duration <= 0 {
		c.Collection.SourceBudget = Duration{DefaultSourceBudget}
	}
	if c.Collection.CycleBudget.Duration <= 0 {
		c.Collection.CycleBudget = Duration{DefaultCycleBudget}
	}
	if c.Channel.Depth < 1 {
		logger.Warn("Channel depth below minimum, using default",
			zap.Int("configured", c.Channel.Depth),
			zap.Int("default", DefaultChannelDepth))
		c.Channel.Depth = DefaultChannelDepth
	}
	if c.History.Retention.Duration() == 0 {
		logger.Warn("Unknown history retention, using default",
			zap.String("configured", string(c.History.Retention)),
			zap.String("default", string(Retention1Hour)))
		c.History.Retention = Retention1Hour
	}
	if c.StalenessAfter.Duration <= 0 {
		c.StalenessAfter = Duration{3 * c.Collection.Interval.Duration}
	}
	if c.MemoryBudget.Bytes() == 0 {
		c.MemoryBudget = ByteSize{DefaultMemoryBudget}
	}
}

// HistoryCapacity derives the per-series ring capacity from the retention
// window and the collection interval, clamped to [MinHistorySamples,
// MaxHistorySamples]. Call after Normalize.
func (c *Config) HistoryCapacity() int {
	interval := c.Collection.Interval.Duration
	if interval <= 0 {
		interval = DefaultInterval
	}
	n := int(c.History.Retention.Duration() / interval)
	if n < MinHistorySamples {
		return MinHistorySamples
	}
	if n > MaxHistorySamples {
		return MaxHistorySamples
	}
	return n
}
