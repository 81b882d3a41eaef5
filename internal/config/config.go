// Package config loads walker settings from a YAML file and the environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"fswalk/internal/ignore"
	"fswalk/internal/logging"
	"fswalk/internal/walk"

	"gopkg.in/yaml.v3"
)

const (
	EnvPath     = "FSWALK_PATH"
	EnvLogLevel = "FSWALK_LOG_LEVEL"
)

// Config mirrors the YAML document.
type Config struct {
	Path        string        `yaml:"path"`
	Watch       bool          `yaml:"watch"`
	Ignore      []string      `yaml:"ignore"`
	IgnoreGlobs []string      `yaml:"ignore_globs"`
	Debounce    time.Duration `yaml:"debounce"`
	MaxWatches  int           `yaml:"max_watches"`
	LogLevel    string        `yaml:"log_level"`
	Rules       []Rule        `yaml:"rules"`

	Sources map[string]Source `yaml:"-"`
}

// Source records where a setting came from.
type Source string

const (
	SourceDefault Source = "default"
	SourceFile    Source = "file"
	SourceEnv     Source = "env"
	SourceFlag    Source = "flag"
)

func Default() Config {
	return Config{
		LogLevel: string(logging.LevelInfo),
		Sources: map[string]Source{
			"path":      SourceDefault,
			"log_level": SourceDefault,
		},
	}
}

// Load reads and validates the file at path. An empty path yields the
// defaults.
func Load(path string) (Config, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	payload, err := os.ReadFile(path)
	if err != nil {
		return Config{}, invalid("config", fmt.Errorf("read %s: %w", path, err))
	}
	return Decode(payload)
}

// Decode parses a YAML document. Unknown keys are rejected.
func Decode(data []byte) (Config, error) {
	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, invalid("config", fmt.Errorf("decode yaml: %w", err))
	}
	if cfg.Sources == nil {
		cfg.Sources = make(map[string]Source)
	}
	if cfg.Path != "" {
		cfg.Sources["path"] = SourceFile
	}
	if cfg.LogLevel != string(logging.LevelInfo) {
		cfg.Sources["log_level"] = SourceFile
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides the root and log level from FSWALK_PATH and
// FSWALK_LOG_LEVEL.
func (c *Config) ApplyEnv() {
	if c.Sources == nil {
		c.Sources = make(map[string]Source)
	}
	if rawPath := strings.TrimSpace(os.Getenv(EnvPath)); rawPath != "" {
		c.Path = rawPath
		c.Sources["path"] = SourceEnv
	}
	if rawLevel := strings.TrimSpace(os.Getenv(EnvLogLevel)); rawLevel != "" {
		c.LogLevel = rawLevel
		c.Sources["log_level"] = SourceEnv
	}
}

// Validate checks every setting that can be checked without touching the
// filesystem.
func (c Config) Validate() error {
	if _, err := c.Level(); err != nil {
		return err
	}
	if c.Debounce < 0 {
		return invalid("debounce", fmt.Errorf("must not be negative, got %s", c.Debounce))
	}
	if c.MaxWatches < 0 {
		return invalid("max_watches", fmt.Errorf("must not be negative, got %d", c.MaxWatches))
	}
	if _, err := c.IgnorePatterns(); err != nil {
		return err
	}
	for index, rule := range c.Rules {
		if _, err := rule.kind(); err != nil {
			return invalid(rule.label(index), err)
		}
		if _, err := rule.Matcher(); err != nil {
			return invalid(rule.label(index), err)
		}
	}
	return nil
}

// Level parses LogLevel.
func (c Config) Level() (logging.Level, error) {
	level, ok := logging.ParseLevel(c.LogLevel)
	if !ok {
		return "", invalid("log_level", fmt.Errorf("unknown level %q", c.LogLevel))
	}
	return level, nil
}

// IgnorePatterns compiles the ignore regexps followed by the ignore globs.
func (c Config) IgnorePatterns() ([]ignore.Pattern, error) {
	patterns, err := ignore.Compile(c.Ignore)
	if err != nil {
		return nil, invalid("ignore", err)
	}
	for _, raw := range c.IgnoreGlobs {
		pattern, err := ignore.Glob(raw)
		if err != nil {
			return nil, invalid("ignore_globs", err)
		}
		patterns = append(patterns, pattern)
	}
	return patterns, nil
}

func invalid(op string, err error) error {
	return &walk.ConfigError{Op: op, Err: err}
}
