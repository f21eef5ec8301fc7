// Copyright 2026 The StepFlow Authors
// SPDX-License-Identifier: Apache-2.0

// Package engine walks workflow step trees and persists a durable
// checkpoint for every visited leaf before traversal continues. One
// execution runs on a single goroutine; concurrency exists only across
// executions, which share nothing but the execution store.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/stepflow/stepflow/internal/storage"
	"github.com/stepflow/stepflow/internal/workflow"
	"github.com/stepflow/stepflow/internal/workflow/step"
)

// errCancelled aborts traversal when the execution's cancel flag is set.
var errCancelled = errors.New("execution cancelled")

// Engine executes workflow revisions.
type Engine struct {
	executions *storage.ExecutionStore
	logger     *slog.Logger

	mu      sync.Mutex
	running map[string]*runState
	wg      sync.WaitGroup
}

type runState struct {
	cancelled atomic.Bool
}

// New creates an engine writing checkpoints through the given store.
func New(executions *storage.ExecutionStore, logger *slog.Logger) *Engine {
	return &Engine{
		executions: executions,
		logger:     logger.With("module", "engine"),
		running:    make(map[string]*runState),
	}
}

// Run executes the step tree of one launched execution to completion and
// returns the aggregated terminal status. The returned error carries the
// first failure for the caller to record on the execution header; Run
// itself never updates the header.
func (e *Engine) Run(ctx context.Context, executionID string, root step.Step, params map[string]any) (workflow.ExecutionStatus, error) {
	state := &runState{}
	e.mu.Lock()
	e.running[executionID] = state
	e.mu.Unlock()
	e.wg.Add(1)
	defer func() {
		e.mu.Lock()
		delete(e.running, executionID)
		e.mu.Unlock()
		e.wg.Done()
	}()

	w := &walker{
		engine:      e,
		executionID: executionID,
		state:       state,
	}

	e.logger.Debug("execution starting", "execution_id", executionID)
	status, err := w.Walk(ctx, root, step.NewScope(params))
	switch {
	case errors.Is(err, errCancelled):
		e.logger.Info("execution cancelled", "execution_id", executionID, "steps", w.nextIndex)
		return workflow.ExecutionCancelled, nil
	case err != nil:
		e.logger.Error("execution aborted", "execution_id", executionID, "error", err)
		return workflow.ExecutionFailed, err
	case status == step.StatusFailed:
		failure := w.firstErr
		if failure == nil {
			failure = errors.New("a step failed")
		}
		e.logger.Info("execution failed", "execution_id", executionID, "error", failure)
		return workflow.ExecutionFailed, failure
	default:
		e.logger.Debug("execution completed", "execution_id", executionID, "steps", w.nextIndex)
		return workflow.ExecutionCompleted, nil
	}
}

// Cancel sets the cooperative cancel flag of a running execution. It
// reports whether the execution was found running in this process.
// In-flight step executors are not aborted; traversal halts at the next
// step boundary.
func (e *Engine) Cancel(executionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	state, ok := e.running[executionID]
	if ok {
		state.cancelled.Store(true)
	}
	return ok
}

// Shutdown blocks until all running executions finish or the context
// expires.
func (e *Engine) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("executions still running: %w", ctx.Err())
	}
}

// walker drives one execution. It implements step.Walker so that
// orchestration steps can schedule their children through the engine.
type walker struct {
	engine      *Engine
	executionID string
	state       *runState
	nextIndex   int
	firstErr    error
}

func (w *walker) Walk(ctx context.Context, s step.Step, sc *step.Scope) (step.Status, error) {
	// Cancellation is polled at every step boundary.
	if w.state.cancelled.Load() {
		return step.StatusFailed, errCancelled
	}
	if err := ctx.Err(); err != nil {
		return step.StatusFailed, errCancelled
	}

	switch t := s.(type) {
	case step.Orchestrator:
		status, err := t.Orchestrate(ctx, w, sc)
		if err != nil && !errors.Is(err, errCancelled) && w.firstErr == nil {
			w.firstErr = err
		}
		return status, err
	case step.Task:
		return w.runTask(ctx, t, sc)
	default:
		return step.StatusFailed, fmt.Errorf("step kind %q is neither a task nor an orchestrator", s.Kind())
	}
}

// runTask applies the per-step checkpoint protocol: run the executor,
// then commit the result durably before traversal may continue. A commit
// failure is non-retryable and fails the whole execution.
func (w *walker) runTask(ctx context.Context, t step.Task, sc *step.Scope) (step.Status, error) {
	startedAt := time.Now().UTC()
	output, runErr := t.Run(ctx, sc)
	completedAt := time.Now().UTC()

	result := &workflow.StepResult{
		ResultID:    uuid.NewString(),
		ExecutionID: w.executionID,
		StepIndex:   w.nextIndex,
		StepID:      t.StepID(),
		StepType:    t.Kind(),
		Status:      step.StatusCompleted,
		InputData:   sc.Params(),
		OutputData:  output,
		StartedAt:   startedAt,
		CompletedAt: completedAt,
	}
	if runErr != nil {
		result.Status = step.StatusFailed
		result.ErrorMessage = runErr.Error()
	}

	// The commit is not interruptible: once a leaf has run it either
	// leaves a durable result or the execution fails.
	if err := w.engine.executions.SaveStepResult(context.WithoutCancel(ctx), result); err != nil {
		return step.StatusFailed, fmt.Errorf("committing result of step %d: %w", w.nextIndex, err)
	}
	w.nextIndex++

	if runErr != nil {
		if w.firstErr == nil {
			w.firstErr = fmt.Errorf("step %q (%s) failed: %w", t.StepID(), t.Kind(), runErr)
		}
		return step.StatusFailed, nil
	}

	sc.SetOutput(t.StepID(), output)
	return step.StatusCompleted, nil
}
