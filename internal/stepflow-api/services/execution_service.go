// Copyright 2026 The StepFlow Authors
// SPDX-License-Identifier: Apache-2.0

package services

import (
	"context"
	"errors"
	"log/slog"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/stepflow/stepflow/internal/engine"
	"github.com/stepflow/stepflow/internal/logging"
	"github.com/stepflow/stepflow/internal/storage"
	"github.com/stepflow/stepflow/internal/workflow"
	"github.com/stepflow/stepflow/internal/workflow/step"
)

// ExecutionService launches workflow executions and serves their
// progress and history.
type ExecutionService struct {
	revisions  *storage.RevisionStore
	executions *storage.ExecutionStore
	engine     *engine.Engine
	logger     *slog.Logger
}

// NewExecutionService creates an execution service.
func NewExecutionService(revisions *storage.RevisionStore, executions *storage.ExecutionStore, eng *engine.Engine, logger *slog.Logger) *ExecutionService {
	return &ExecutionService{
		revisions:  revisions,
		executions: executions,
		engine:     eng,
		logger:     logger.With("module", "execution_service"),
	}
}

// ExecutionSummary is one history entry, the execution header enriched
// with step counts derived from the checkpoint log.
type ExecutionSummary struct {
	workflow.Execution
	StepsTotal     int    `json:"stepsTotal"`
	StepsCompleted int    `json:"stepsCompleted"`
	StepsFailed    int    `json:"stepsFailed"`
	DurationMillis *int64 `json:"durationMillis,omitempty"`
}

// History is one page of a workflow's execution history.
type History struct {
	Executions []ExecutionSummary `json:"executions"`
	Total      int64              `json:"total"`
	Limit      int                `json:"limit"`
	Offset     int                `json:"offset"`
}

// Launch starts an asynchronous execution of a revision and returns the
// header once it is durably recorded. The step tree runs on its own
// goroutine; callers observe progress through Get and GetStepResults.
func (s *ExecutionService) Launch(ctx context.Context, rid workflow.RevisionID, params map[string]any) (*workflow.Execution, error) {
	rev, err := s.revisions.FindByID(ctx, rid)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrRevisionNotFound
		}
		return nil, err
	}

	executionID, err := gonanoid.New()
	if err != nil {
		return nil, err
	}

	ts := now()
	exec := &workflow.Execution{
		ExecutionID:     executionID,
		RevisionID:      rid,
		InputParameters: params,
		Status:          workflow.ExecutionRunning,
		StartedAt:       ts,
		LastUpdatedAt:   ts,
	}
	if err := s.executions.CreateExecution(ctx, exec); err != nil {
		return nil, err
	}
	s.logger.Info("execution launched", "execution_id", executionID, "revision", rid.String())

	// The request context ends with the response; the run gets its own.
	runCtx := logging.NewContext(context.Background(), s.logger)
	go s.run(runCtx, executionID, rev, params)

	return exec, nil
}

// run drives one execution to its terminal status and records the
// outcome on the header. Separate from Launch so tests can run it
// synchronously.
func (s *ExecutionService) run(ctx context.Context, executionID string, rev *workflow.Revision, params map[string]any) {
	status, runErr := s.engine.Run(ctx, executionID, rev.Steps.Step, params)

	errorMessage := ""
	if runErr != nil {
		errorMessage = runErr.Error()
	}
	if err := s.executions.UpdateExecutionStatus(ctx, executionID, status, errorMessage); err != nil {
		if errors.Is(err, storage.ErrTerminalState) {
			// A concurrent cancel won; the stored outcome stands.
			s.logger.Warn("execution already terminal",
				"execution_id", executionID, "status", status)
			return
		}
		s.logger.Error("recording execution outcome failed",
			"execution_id", executionID, "status", status, "error", err)
	}
}

// Cancel requests cooperative cancellation of a running execution.
// Cancelling an execution that already reached a terminal status is a
// no-op.
func (s *ExecutionService) Cancel(ctx context.Context, executionID string) (*workflow.Execution, error) {
	exec, err := s.Get(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if exec.Status.Terminal() {
		return exec, nil
	}

	if !s.engine.Cancel(executionID) {
		// Not running in this process: likely orphaned by a crash. The
		// header transition is all there is to cancel. The run may also
		// have finished between the read above and here, in which case
		// the store's terminal guard keeps the recorded outcome.
		err := s.executions.UpdateExecutionStatus(ctx, executionID, workflow.ExecutionCancelled, "")
		if err != nil && !errors.Is(err, storage.ErrTerminalState) {
			return nil, err
		}
		return s.Get(ctx, executionID)
	}

	s.logger.Info("cancellation requested", "execution_id", executionID)
	return exec, nil
}

// Get returns one execution header, or ErrExecutionNotFound.
func (s *ExecutionService) Get(ctx context.Context, executionID string) (*workflow.Execution, error) {
	exec, err := s.executions.FindByID(ctx, executionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrExecutionNotFound
		}
		return nil, err
	}
	return exec, nil
}

// Summary returns one execution header enriched with its step counts.
func (s *ExecutionService) Summary(ctx context.Context, executionID string) (*ExecutionSummary, error) {
	exec, err := s.Get(ctx, executionID)
	if err != nil {
		return nil, err
	}
	return s.summarize(ctx, exec)
}

// GetStepResults returns the checkpoint log of an execution ordered by
// step index.
func (s *ExecutionService) GetStepResults(ctx context.Context, executionID string) ([]workflow.StepResult, error) {
	if _, err := s.Get(ctx, executionID); err != nil {
		return nil, err
	}
	return s.executions.FindStepResultsByExecutionID(ctx, executionID)
}

// HistoryQuery filters and paginates History.
type HistoryQuery struct {
	Version *int
	Status  *workflow.ExecutionStatus
	Limit   int
	Offset  int
}

// History returns a page of a workflow's executions, newest first, each
// enriched with its step counts.
func (s *ExecutionService) History(ctx context.Context, wid workflow.WorkflowID, q HistoryQuery) (*History, error) {
	exists, err := s.revisions.Exists(ctx, wid)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrWorkflowNotFound
	}

	limit := q.Limit
	if limit <= 0 {
		limit = storage.DefaultQueryLimit
	}
	if limit > storage.MaxQueryLimit {
		limit = storage.MaxQueryLimit
	}
	query := storage.ExecutionQuery{
		Version: q.Version,
		Status:  q.Status,
		Limit:   limit,
		Offset:  q.Offset,
	}

	execs, err := s.executions.FindByWorkflow(ctx, wid, query)
	if err != nil {
		return nil, err
	}
	total, err := s.executions.CountByWorkflow(ctx, wid, query)
	if err != nil {
		return nil, err
	}

	summaries := make([]ExecutionSummary, 0, len(execs))
	for i := range execs {
		summary, err := s.summarize(ctx, &execs[i])
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, *summary)
	}

	return &History{
		Executions: summaries,
		Total:      total,
		Limit:      limit,
		Offset:     q.Offset,
	}, nil
}

func (s *ExecutionService) summarize(ctx context.Context, exec *workflow.Execution) (*ExecutionSummary, error) {
	results, err := s.executions.FindStepResultsByExecutionID(ctx, exec.ExecutionID)
	if err != nil {
		return nil, err
	}

	summary := &ExecutionSummary{Execution: *exec, StepsTotal: len(results)}
	for i := range results {
		switch results[i].Status {
		case step.StatusCompleted:
			summary.StepsCompleted++
		case step.StatusFailed:
			summary.StepsFailed++
		}
	}
	if exec.CompletedAt != nil {
		millis := exec.CompletedAt.Sub(exec.StartedAt).Milliseconds()
		summary.DurationMillis = &millis
	}
	return summary, nil
}
