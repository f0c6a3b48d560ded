package server

import (
	"fmt"
	"os"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"gopkg.in/yaml.v3"

	"github.com/wbrown/janus-dataflow/datalog/dataflow"
	"github.com/wbrown/janus-dataflow/datalog/plan"
)

// Config holds server settings. The zero value of a field selects its
// default.
type Config struct {
	// Workers is the number of queries stepped in parallel (0 = NumCPU)
	Workers int `yaml:"workers"`
	// MaxIterations bounds fixpoint rounds per epoch in recursive rules
	MaxIterations int `yaml:"max_iterations"`
	// DefaultInterval is the TRUNCATE interval when a transform names none
	DefaultInterval string `yaml:"default_interval"`
	// LogLevel is one of debug, info, warn, error
	LogLevel string `yaml:"log_level"`
}

// DefaultConfig returns the settings used when no configuration is given
func DefaultConfig() Config {
	return Config{
		MaxIterations:   dataflow.DefaultMaxIterations,
		DefaultInterval: plan.DefaultInterval,
		LogLevel:        "info",
	}
}

// LoadConfig reads a YAML configuration file
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML settings over the defaults
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("workers cannot be negative")
	}
	if c.MaxIterations < 0 {
		return fmt.Errorf("max iterations cannot be negative")
	}
	if c.DefaultInterval != "" {
		if err := plan.CheckInterval(c.DefaultInterval); err != nil {
			return err
		}
	}
	if _, err := levelOption(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// NewLogger filters logger to the configured level
func (c *Config) NewLogger(logger log.Logger) (log.Logger, error) {
	opt, err := levelOption(c.LogLevel)
	if err != nil {
		return nil, err
	}
	return level.NewFilter(logger, opt), nil
}

func levelOption(name string) (level.Option, error) {
	switch name {
	case "debug":
		return level.AllowDebug(), nil
	case "", "info":
		return level.AllowInfo(), nil
	case "warn":
		return level.AllowWarn(), nil
	case "error":
		return level.AllowError(), nil
	}
	return nil, fmt.Errorf("unknown log level %q", name)
}
