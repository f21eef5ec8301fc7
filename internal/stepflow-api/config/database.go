// Copyright 2026 The StepFlow Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"github.com/stepflow/stepflow/internal/config"
)

// DatabaseConfig defines persistence settings.
type DatabaseConfig struct {
	// Path is the SQLite database file path. ":memory:" runs without a
	// file and loses state on restart.
	Path string `koanf:"path"`
}

// DatabaseDefaults returns the default database configuration.
func DatabaseDefaults() DatabaseConfig {
	return DatabaseConfig{
		Path: "stepflow.db",
	}
}

// Validate validates the database configuration.
func (c *DatabaseConfig) Validate(path *config.Path) config.ValidationErrors {
	var errs config.ValidationErrors

	if err := config.MustNotBeEmpty(path.Child("path"), c.Path); err != nil {
		errs = append(errs, err)
	}

	return errs
}
