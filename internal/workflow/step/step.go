// Copyright 2026 The StepFlow Authors
// SPDX-License-Identifier: Apache-2.0

// Package step defines the polymorphic step tree that workflow revisions
// are built from, along with the registry that maps step kind tags to
// their concrete implementations.
package step

import (
	"context"
)

// Status is the outcome of executing a single step.
type Status string

const (
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusSkipped   Status = "SKIPPED"
)

// Step is a node in a workflow's execution tree. Every concrete step kind
// is registered under its tag in a Registry; the codec and the execution
// engine resolve steps exclusively through that tag.
type Step interface {
	// Kind returns the registry tag identifying the step's type.
	Kind() string
	// StepID returns the author-assigned identifier of this step, or ""
	// when the author did not name it.
	StepID() string
}

// Task is a leaf step that performs work. The engine checkpoints every
// task result durably before traversal continues.
type Task interface {
	Step
	// Run executes the task against the current scope and returns its
	// output data. A non-nil error marks the step FAILED.
	Run(ctx context.Context, sc *Scope) (map[string]any, error)
}

// Orchestrator is a step that contains other steps. It drives its
// children through the Walker so that every visited leaf is checkpointed
// by the engine; orchestration nodes themselves produce no checkpoint
// rows.
type Orchestrator interface {
	Step
	// Orchestrate schedules the node's children. A non-nil error aborts
	// the whole execution; a StatusFailed return with nil error is an
	// ordinary step failure that propagates up the tree.
	Orchestrate(ctx context.Context, w Walker, sc *Scope) (Status, error)
}

// Walker executes a single step subtree. It is implemented by the
// execution engine and passed back into orchestration steps.
type Walker interface {
	Walk(ctx context.Context, s Step, sc *Scope) (Status, error)
}

// Container is implemented by steps that hold child steps. It exists for
// structural traversal (depth and node-count validation), independent of
// execution order.
type Container interface {
	Children() []Step
}

// Validatable is implemented by steps that carry structural constraints
// beyond what decoding enforces.
type Validatable interface {
	Validate() error
}
