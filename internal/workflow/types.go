// Copyright 2026 The StepFlow Authors
// SPDX-License-Identifier: Apache-2.0

// Package workflow defines the domain entities of the revision catalog
// and the execution log: versioned workflow revisions, executions, and
// per-step results.
package workflow

import (
	"fmt"
	"time"

	"github.com/stepflow/stepflow/internal/workflow/step"
)

// WorkflowID identifies a workflow across all of its revisions.
type WorkflowID struct {
	Namespace string `json:"namespace"`
	ID        string `json:"id"`
}

func (w WorkflowID) String() string {
	return w.Namespace + "/" + w.ID
}

// RevisionID identifies one numbered revision of a workflow.
type RevisionID struct {
	Namespace string `json:"namespace"`
	ID        string `json:"id"`
	Version   int    `json:"version"`
}

// WorkflowID returns the identifier of the owning workflow.
func (r RevisionID) WorkflowID() WorkflowID {
	return WorkflowID{Namespace: r.Namespace, ID: r.ID}
}

func (r RevisionID) String() string {
	return fmt.Sprintf("%s/%s/%d", r.Namespace, r.ID, r.Version)
}

// Revision is the structured form of one workflow definition version.
//
// Namespace, ID, Version and CreatedAt are immutable after creation.
// Name, Description and Steps may change only while Active is false.
// Active and UpdatedAt may always change.
type Revision struct {
	Namespace   string    `json:"namespace"`
	ID          string    `json:"id"`
	Version     int       `json:"version"`
	Name        string    `json:"name" validate:"required,min=1,max=255"`
	Description string    `json:"description,omitempty" validate:"max=1000"`
	Steps       step.Node `json:"steps"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// RevisionID returns the identifier of this revision.
func (r *Revision) RevisionID() RevisionID {
	return RevisionID{Namespace: r.Namespace, ID: r.ID, Version: r.Version}
}

// RevisionWithSource pairs a structured revision with the authored YAML
// it was parsed from. The source is preserved verbatim (comments,
// whitespace, key order) except for the metadata fields the system owns.
type RevisionWithSource struct {
	Revision
	YAMLSource string `json:"-"`
}

// ExecutionStatus is the lifecycle state of a workflow execution.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "PENDING"
	ExecutionRunning   ExecutionStatus = "RUNNING"
	ExecutionCompleted ExecutionStatus = "COMPLETED"
	ExecutionFailed    ExecutionStatus = "FAILED"
	ExecutionCancelled ExecutionStatus = "CANCELLED"
)

// Terminal reports whether the status permits no further transitions.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed, ExecutionCancelled:
		return true
	default:
		return false
	}
}

// Valid reports whether s is one of the defined execution statuses.
func (s ExecutionStatus) Valid() bool {
	switch s {
	case ExecutionPending, ExecutionRunning, ExecutionCompleted, ExecutionFailed, ExecutionCancelled:
		return true
	default:
		return false
	}
}

// Execution is the header row of one workflow run. It is created once,
// moves through at most one non-terminal to terminal transition, and is
// read-only afterwards.
type Execution struct {
	ExecutionID     string          `json:"executionId"`
	RevisionID      RevisionID      `json:"revisionId"`
	InputParameters map[string]any  `json:"inputParameters,omitempty"`
	Status          ExecutionStatus `json:"status"`
	ErrorMessage    string          `json:"errorMessage,omitempty"`
	StartedAt       time.Time       `json:"startedAt"`
	CompletedAt     *time.Time      `json:"completedAt,omitempty"`
	LastUpdatedAt   time.Time       `json:"lastUpdatedAt"`
}

// StepResult is the durable checkpoint of one visited leaf step. Rows are
// append-only; (ExecutionID, StepIndex) is unique within the store.
type StepResult struct {
	ResultID     string         `json:"resultId"`
	ExecutionID  string         `json:"executionId"`
	StepIndex    int            `json:"stepIndex"`
	StepID       string         `json:"stepId,omitempty"`
	StepType     string         `json:"stepType"`
	Status       step.Status    `json:"status"`
	InputData    map[string]any `json:"inputData,omitempty"`
	OutputData   map[string]any `json:"outputData,omitempty"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	ErrorDetails string         `json:"errorDetails,omitempty"`
	StartedAt    time.Time      `json:"startedAt"`
	CompletedAt  time.Time      `json:"completedAt"`
}
