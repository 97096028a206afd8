package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration for YAML unmarshaling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Config drives one simulation run.
type Config struct {
	// Start and Size describe the simulated pmem range.
	Start uint64 `yaml:"start"`
	Size  uint64 `yaml:"size"`

	// BackingFile, when set, backs the range with an mmap'd file persisted
	// via msync. Empty means a volatile in-memory backend.
	BackingFile string `yaml:"backing_file"`

	// QueueSlots is the flush queue depth.
	QueueSlots int `yaml:"queue_slots"`

	// Latency and Jitter delay host completions.
	Latency Duration `yaml:"latency"`
	Jitter  Duration `yaml:"jitter"`

	// Workers concurrent flushers each issue Flushes barriers.
	Workers int `yaml:"workers"`
	Flushes int `yaml:"flushes"`

	// WriteSize is how many bytes each worker dirties before a barrier.
	WriteSize int `yaml:"write_size"`
}

// DefaultConfig returns a small but representative run.
func DefaultConfig() Config {
	return Config{
		Start:      0x1_0000_0000,
		Size:       64 << 20,
		QueueSlots: 64,
		Latency:    Duration(100 * time.Microsecond),
		Workers:    8,
		Flushes:    500,
		WriteSize:  4096,
	}
}

// LoadConfig reads a YAML config, filling unset fields with defaults. An
// empty path returns the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Size == 0 {
		return fmt.Errorf("config: size must be nonzero")
	}
	if c.WriteSize <= 0 || uint64(c.WriteSize) >= c.Size {
		return fmt.Errorf("config: write_size must be in (0, size)")
	}
	if c.Workers <= 0 || c.Flushes <= 0 {
		return fmt.Errorf("config: workers and flushes must be positive")
	}
	return nil
}
