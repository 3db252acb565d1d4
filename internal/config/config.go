// Package config handles handlecheck.toml configuration for the
// conformance tool.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"

	"github.com/obinnaokechukwu/polyhandle/internal/handles"
)

// FileName is the default configuration file name.
const FileName = "handlecheck.toml"

// validate is a package-level singleton; building a validator is expensive.
var validate = validator.New()

// Config controls a conformance run.
type Config struct {
	// Registry settings
	Reuse string `toml:"reuse" validate:"oneof=lifo fifo"`
	Limit int    `toml:"limit" validate:"gte=0"`
	Bits  int    `toml:"bits" validate:"omitempty,min=8,max=64"`

	// Stress settings
	Workers    int `toml:"workers" validate:"min=1,max=1024"`
	Iterations int `toml:"iterations" validate:"min=1,max=1000000"`

	// Boundaries to run the round trip through.
	Boundaries  []string `toml:"boundaries" validate:"min=1,dive,oneof=native guest"`
	Interpreter bool     `toml:"interpreter"`

	LogLevel string `toml:"log_level" validate:"oneof=debug info warn error"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Reuse:      "lifo",
		Workers:    8,
		Iterations: 1000,
		Boundaries: []string{"native", "guest"},
		LogLevel:   "info",
	}
}

// Load reads path on top of the defaults. An empty path returns the
// defaults; a missing default file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	explicit := path != ""
	if !explicit {
		path = FileName
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("cannot read %s: %w", path, err)
	}
	return Parse(data, path)
}

// Parse decodes TOML data on top of the defaults and validates it.
// name is used in error messages.
func Parse(data []byte, name string) (Config, error) {
	cfg := Default()
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("parse error in %s: %w", name, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("unknown key %q in %s", undecoded[0].String(), name)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid %s: %w", name, err)
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// RegistryOptions translates the registry settings.
func (c Config) RegistryOptions(logger *slog.Logger) []handles.Option {
	opts := []handles.Option{handles.WithLogger(logger)}
	if c.Reuse == "fifo" {
		opts = append(opts, handles.WithReuse(handles.ReuseFIFO))
	}
	if c.Limit > 0 {
		opts = append(opts, handles.WithLimit(c.Limit))
	}
	if c.Bits > 0 {
		opts = append(opts, handles.WithBits(c.Bits))
	}
	return opts
}

// SlogLevel returns the configured log level.
func (c Config) SlogLevel() slog.Level {
	switch c.LogLevel {
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

// Has reports whether boundary is enabled.
func (c Config) Has(boundary string) bool {
	for _, b := range c.Boundaries {
		if b == boundary {
			return true
		}
	}
	return false
}
