// Copyright 2026 The StepFlow Authors
// SPDX-License-Identifier: Apache-2.0

// Package config defines the configuration of the stepflow-api server.
package config

import (
	"fmt"

	"github.com/spf13/pflag"

	coreconfig "github.com/stepflow/stepflow/internal/config"
)

// Config is the top-level configuration for stepflow-api.
type Config struct {
	// Server defines HTTP server settings.
	Server ServerConfig `koanf:"server"`
	// Database defines persistence settings.
	Database DatabaseConfig `koanf:"database"`
	// Logging defines logging settings.
	Logging LoggingConfig `koanf:"logging"`
}

// Defaults returns the default configuration.
func Defaults() Config {
	return Config{
		Server:   ServerDefaults(),
		Database: DatabaseDefaults(),
		Logging:  LoggingDefaults(),
	}
}

// FlagMappings maps CLI flag names to config keys for Load.
var FlagMappings = map[string]string{
	"port":      "server.port",
	"database":  "database.path",
	"log-level": "logging.level",
}

// Load loads configuration from defaults, the optional config file,
// STEPFLOW__-prefixed environment variables, and explicitly set flags,
// in ascending priority. Example: STEPFLOW__SERVER__PORT=9090.
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	loader := coreconfig.NewLoader("STEPFLOW")

	if err := loader.LoadWithDefaults(Defaults(), configPath); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if flags != nil {
		if err := loader.LoadFlags(flags, FlagMappings); err != nil {
			return nil, fmt.Errorf("failed to apply flag overrides: %w", err)
		}
	}

	var cfg Config
	if err := loader.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs coreconfig.ValidationErrors

	errs = append(errs, c.Server.Validate(coreconfig.NewPath("server"))...)
	errs = append(errs, c.Database.Validate(coreconfig.NewPath("database"))...)
	errs = append(errs, c.Logging.Validate(coreconfig.NewPath("logging"))...)

	return errs.OrNil()
}
