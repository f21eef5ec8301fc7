// Copyright 2026 The StepFlow Authors
// SPDX-License-Identifier: Apache-2.0

package step

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/stepflow/stepflow/internal/logging"
)

// KindLogTask is the registry tag of the built-in logging task.
const KindLogTask = "LogTask"

// LogTask is the reference leaf step: it writes a message to the
// execution's logger and records the message as its output.
type LogTask struct {
	ID      string `yaml:"id,omitempty" json:"id,omitempty"`
	Message string `yaml:"message" json:"message"`
	Level   string `yaml:"level,omitempty" json:"level,omitempty"`
}

func init() {
	Register(Definition{
		Tag:         KindLogTask,
		New:         func() Step { return &LogTask{} },
		DisplayName: "Log",
		Description: "Writes a message to the execution log.",
	})
}

func (s *LogTask) Kind() string   { return KindLogTask }
func (s *LogTask) StepID() string { return s.ID }

// Validate implements Validatable.
func (s *LogTask) Validate() error {
	if s.Message == "" {
		return errors.New("log task requires a message")
	}
	switch strings.ToLower(s.Level) {
	case "", "debug", "info", "warn", "error":
		return nil
	default:
		return errors.New("log task level must be one of: debug, info, warn, error")
	}
}

// Run implements Task.
func (s *LogTask) Run(ctx context.Context, sc *Scope) (map[string]any, error) {
	logger := logging.FromContext(ctx)
	logger.Log(ctx, s.level(), s.Message, slog.String("step_id", s.ID))
	return map[string]any{"message": s.Message}, nil
}

func (s *LogTask) level() slog.Level {
	switch strings.ToLower(s.Level) {
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
