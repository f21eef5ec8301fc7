// Copyright 2026 The StepFlow Authors
// SPDX-License-Identifier: Apache-2.0

// Package storage persists workflow revisions and execution checkpoints
// in SQLite through gorm. Revisions are stored in dual representation:
// the authored YAML source verbatim plus the structured form as JSON,
// always written in the same transaction.
package storage

import (
	"fmt"
	"log/slog"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Open initializes the SQLite database at path and migrates the schema.
// Use ":memory:" for an ephemeral database in tests.
func Open(path string, logger *slog.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	if err := db.AutoMigrate(&revisionRow{}, &executionRow{}, &stepResultRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	logger.Debug("storage initialized", "path", path)
	return db, nil
}
