// Copyright 2026 The StepFlow Authors
// SPDX-License-Identifier: Apache-2.0

// Package services implements the business operations of the StepFlow
// API: revision lifecycle management with optimistic locking, and
// execution launch and history. It composes the stores, the codec and
// the engine, and enforces every invariant the storage schema does not
// guarantee structurally.
package services

import (
	"log/slog"
	"time"

	"github.com/stepflow/stepflow/internal/engine"
	"github.com/stepflow/stepflow/internal/storage"
)

// Services aggregates the service instances handed to the HTTP layer.
type Services struct {
	Workflows  *WorkflowService
	Executions *ExecutionService
}

// New wires the services against the given stores and engine.
func New(revisions *storage.RevisionStore, executions *storage.ExecutionStore, eng *engine.Engine, logger *slog.Logger) *Services {
	return &Services{
		Workflows:  NewWorkflowService(revisions, logger),
		Executions: NewExecutionService(revisions, executions, eng, logger),
	}
}

// now returns the current instant the way the system stamps entities:
// UTC, millisecond precision. Truncation keeps stored timestamps equal
// to their rendering in authored sources, which the optimistic lock
// compares against.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
