// Copyright 2026 The StepFlow Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/stepflow/stepflow/internal/workflow"
	"github.com/stepflow/stepflow/internal/workflow/step"
)

// Pagination bounds for execution history queries.
const (
	DefaultQueryLimit = 20
	MaxQueryLimit     = 100
)

type executionRow struct {
	ExecutionID     string     `gorm:"column:execution_id;primaryKey;size:30"`
	Namespace       string     `gorm:"column:namespace;size:100;index:idx_executions_workflow,priority:1"`
	WorkflowID      string     `gorm:"column:workflow_id;size:100;index:idx_executions_workflow,priority:2"`
	RevisionVersion int        `gorm:"column:revision_version"`
	InputParameters string     `gorm:"column:input_parameters;type:text"`
	Status          string     `gorm:"column:status;size:20;index"`
	ErrorMessage    string     `gorm:"column:error_message;type:text"`
	StartedAt       time.Time  `gorm:"column:started_at;index"`
	CompletedAt     *time.Time `gorm:"column:completed_at"`
	LastUpdatedAt   time.Time  `gorm:"column:last_updated_at;autoUpdateTime:false"`
}

func (executionRow) TableName() string { return "workflow_executions" }

type stepResultRow struct {
	ResultID     string    `gorm:"column:result_id;primaryKey;size:40"`
	ExecutionID  string    `gorm:"column:execution_id;size:30;uniqueIndex:ux_execution_step,priority:1"`
	StepIndex    int       `gorm:"column:step_index;uniqueIndex:ux_execution_step,priority:2"`
	StepID       string    `gorm:"column:step_id;size:255"`
	StepType     string    `gorm:"column:step_type;size:100"`
	Status       string    `gorm:"column:status;size:20"`
	InputData    string    `gorm:"column:input_data;type:text"`
	OutputData   string    `gorm:"column:output_data;type:text"`
	ErrorMessage string    `gorm:"column:error_message;type:text"`
	ErrorDetails string    `gorm:"column:error_details;type:text"`
	StartedAt    time.Time `gorm:"column:started_at;autoCreateTime:false"`
	CompletedAt  time.Time `gorm:"column:completed_at"`
}

func (stepResultRow) TableName() string { return "execution_step_results" }

// ExecutionStore is the append-only log of execution progress: one header
// row per execution plus one immutable result row per checkpointed step.
type ExecutionStore struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewExecutionStore creates an execution store on top of an opened
// database.
func NewExecutionStore(db *gorm.DB, logger *slog.Logger) *ExecutionStore {
	return &ExecutionStore{db: db, logger: logger.With("module", "execution_store")}
}

// ExecutionQuery filters and paginates history reads.
type ExecutionQuery struct {
	// Version restricts results to executions of one revision version.
	Version *int
	// Status restricts results to one execution status.
	Status *workflow.ExecutionStatus
	// Limit caps the page size; zero means DefaultQueryLimit.
	Limit int
	// Offset skips that many rows ordered by startedAt descending.
	Offset int
}

func encodeMap(m map[string]any) (string, error) {
	if m == nil {
		return "", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encoding data map: %w", err)
	}
	return string(b), nil
}

func decodeMap(s string) (map[string]any, error) {
	if s == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("decoding data map: %w", err)
	}
	return m, nil
}

func toExecutionRow(e *workflow.Execution) (*executionRow, error) {
	params, err := encodeMap(e.InputParameters)
	if err != nil {
		return nil, err
	}
	return &executionRow{
		ExecutionID:     e.ExecutionID,
		Namespace:       e.RevisionID.Namespace,
		WorkflowID:      e.RevisionID.ID,
		RevisionVersion: e.RevisionID.Version,
		InputParameters: params,
		Status:          string(e.Status),
		ErrorMessage:    e.ErrorMessage,
		StartedAt:       e.StartedAt,
		CompletedAt:     e.CompletedAt,
		LastUpdatedAt:   e.LastUpdatedAt,
	}, nil
}

func (r *executionRow) toExecution() (*workflow.Execution, error) {
	params, err := decodeMap(r.InputParameters)
	if err != nil {
		return nil, err
	}
	return &workflow.Execution{
		ExecutionID: r.ExecutionID,
		RevisionID: workflow.RevisionID{
			Namespace: r.Namespace,
			ID:        r.WorkflowID,
			Version:   r.RevisionVersion,
		},
		InputParameters: params,
		Status:          workflow.ExecutionStatus(r.Status),
		ErrorMessage:    r.ErrorMessage,
		StartedAt:       r.StartedAt,
		CompletedAt:     r.CompletedAt,
		LastUpdatedAt:   r.LastUpdatedAt,
	}, nil
}

// CreateExecution inserts a new execution header. Returns
// ErrAlreadyExists on a duplicate execution id.
func (s *ExecutionStore) CreateExecution(ctx context.Context, e *workflow.Execution) error {
	row, err := toExecutionRow(e)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("creating execution %s: %w", e.ExecutionID, err)
	}
	return nil
}

// SaveStepResult appends one step checkpoint. The insert commits
// immediately so a crash after this call leaves the result visible.
// Returns ErrAlreadyExists when (executionId, stepIndex) is taken.
func (s *ExecutionStore) SaveStepResult(ctx context.Context, r *workflow.StepResult) error {
	input, err := encodeMap(r.InputData)
	if err != nil {
		return err
	}
	output, err := encodeMap(r.OutputData)
	if err != nil {
		return err
	}

	row := &stepResultRow{
		ResultID:     r.ResultID,
		ExecutionID:  r.ExecutionID,
		StepIndex:    r.StepIndex,
		StepID:       r.StepID,
		StepType:     r.StepType,
		Status:       string(r.Status),
		InputData:    input,
		OutputData:   output,
		ErrorMessage: r.ErrorMessage,
		ErrorDetails: r.ErrorDetails,
		StartedAt:    r.StartedAt,
		CompletedAt:  r.CompletedAt,
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("saving step result %d of execution %s: %w", r.StepIndex, r.ExecutionID, err)
	}
	return nil
}

// UpdateExecutionStatus transitions an execution header. lastUpdatedAt is
// restamped and completedAt is set when the target status is terminal.
// Returns ErrNotFound when the header does not exist and ErrTerminalState
// when the stored status is already terminal; terminal headers are
// read-only.
func (s *ExecutionStore) UpdateExecutionStatus(ctx context.Context, executionID string, status workflow.ExecutionStatus, errorMessage string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing executionRow
		if err := tx.Where("execution_id = ?", executionID).First(&existing).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if workflow.ExecutionStatus(existing.Status).Terminal() {
			return ErrTerminalState
		}

		now := time.Now().UTC()
		updates := map[string]any{
			"status":          string(status),
			"error_message":   errorMessage,
			"last_updated_at": now,
		}
		if status.Terminal() {
			updates["completed_at"] = now
		}
		return tx.Model(&executionRow{}).
			Where("execution_id = ?", executionID).
			Updates(updates).Error
	})
}

// FindByID returns the execution header, or ErrNotFound.
func (s *ExecutionStore) FindByID(ctx context.Context, executionID string) (*workflow.Execution, error) {
	var row executionRow
	if err := s.db.WithContext(ctx).Where("execution_id = ?", executionID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return row.toExecution()
}

// FindStepResultsByExecutionID returns all checkpoints of an execution
// ordered by stepIndex ascending.
func (s *ExecutionStore) FindStepResultsByExecutionID(ctx context.Context, executionID string) ([]workflow.StepResult, error) {
	var rows []stepResultRow
	if err := s.db.WithContext(ctx).
		Where("execution_id = ?", executionID).
		Order("step_index ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}

	results := make([]workflow.StepResult, 0, len(rows))
	for _, row := range rows {
		input, err := decodeMap(row.InputData)
		if err != nil {
			return nil, err
		}
		output, err := decodeMap(row.OutputData)
		if err != nil {
			return nil, err
		}
		results = append(results, workflow.StepResult{
			ResultID:     row.ResultID,
			ExecutionID:  row.ExecutionID,
			StepIndex:    row.StepIndex,
			StepID:       row.StepID,
			StepType:     row.StepType,
			Status:       step.Status(row.Status),
			InputData:    input,
			OutputData:   output,
			ErrorMessage: row.ErrorMessage,
			ErrorDetails: row.ErrorDetails,
			StartedAt:    row.StartedAt,
			CompletedAt:  row.CompletedAt,
		})
	}
	return results, nil
}

// FindByWorkflow returns a page of executions for a workflow ordered by
// startedAt descending with execution id as tiebreak.
func (s *ExecutionStore) FindByWorkflow(ctx context.Context, wid workflow.WorkflowID, q ExecutionQuery) ([]workflow.Execution, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	if limit > MaxQueryLimit {
		limit = MaxQueryLimit
	}

	var rows []executionRow
	if err := s.workflowQuery(ctx, wid, q).
		Order("started_at DESC, execution_id DESC").
		Limit(limit).
		Offset(q.Offset).
		Find(&rows).Error; err != nil {
		return nil, err
	}

	execs := make([]workflow.Execution, 0, len(rows))
	for i := range rows {
		e, err := rows[i].toExecution()
		if err != nil {
			return nil, err
		}
		execs = append(execs, *e)
	}
	return execs, nil
}

// CountByWorkflow returns the total number of executions matching the
// query filters, ignoring pagination.
func (s *ExecutionStore) CountByWorkflow(ctx context.Context, wid workflow.WorkflowID, q ExecutionQuery) (int64, error) {
	var count int64
	if err := s.workflowQuery(ctx, wid, q).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (s *ExecutionStore) workflowQuery(ctx context.Context, wid workflow.WorkflowID, q ExecutionQuery) *gorm.DB {
	tx := s.db.WithContext(ctx).Model(&executionRow{}).
		Where("namespace = ? AND workflow_id = ?", wid.Namespace, wid.ID)
	if q.Version != nil {
		tx = tx.Where("revision_version = ?", *q.Version)
	}
	if q.Status != nil {
		tx = tx.Where("status = ?", string(*q.Status))
	}
	return tx
}
