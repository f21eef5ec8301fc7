// Copyright 2026 The StepFlow Authors
// SPDX-License-Identifier: Apache-2.0

package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/stepflow/stepflow/internal/storage"
	"github.com/stepflow/stepflow/internal/workflow"
	"github.com/stepflow/stepflow/internal/workflow/codec"
)

// WorkflowService owns the revision lifecycle: creation, versioning,
// optimistic-lock updates, activation state, and deletion.
type WorkflowService struct {
	revisions *storage.RevisionStore
	logger    *slog.Logger
}

// NewWorkflowService creates a workflow service.
func NewWorkflowService(revisions *storage.RevisionStore, logger *slog.Logger) *WorkflowService {
	return &WorkflowService{
		revisions: revisions,
		logger:    logger.With("module", "workflow_service"),
	}
}

// CreateWorkflow registers a new workflow from authored source and
// stores it as version 1, inactive. The body must carry namespace and
// id; timestamps and version are assigned here.
func (s *WorkflowService) CreateWorkflow(ctx context.Context, source string) (*workflow.RevisionWithSource, error) {
	rev, err := codec.ParseRevision(source, false)
	if err != nil {
		return nil, err
	}
	if rev.Namespace == "" || rev.ID == "" {
		return nil, fmt.Errorf("%w: namespace and id are required", ErrInvalidRevision)
	}

	wid := workflow.WorkflowID{Namespace: rev.Namespace, ID: rev.ID}
	exists, err := s.revisions.Exists(ctx, wid)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrWorkflowAlreadyExists
	}

	return s.saveNewRevision(ctx, rev, source, 1)
}

// CreateRevision adds a new revision to an existing workflow. The path
// identifiers are authoritative and override any values in the body; the
// version is assigned as max(existing) + 1.
func (s *WorkflowService) CreateRevision(ctx context.Context, wid workflow.WorkflowID, source string) (*workflow.RevisionWithSource, error) {
	exists, err := s.revisions.Exists(ctx, wid)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrWorkflowNotFound
	}

	rev, err := codec.ParseRevision(source, false)
	if err != nil {
		return nil, err
	}
	rev.Namespace = wid.Namespace
	rev.ID = wid.ID

	max, err := s.revisions.FindMaxVersion(ctx, wid)
	if err != nil {
		return nil, err
	}

	return s.saveNewRevision(ctx, rev, source, max+1)
}

// saveNewRevision stamps the system-owned fields, mirrors them into the
// source text, and inserts the row.
func (s *WorkflowService) saveNewRevision(ctx context.Context, rev *workflow.Revision, source string, version int) (*workflow.RevisionWithSource, error) {
	ts := now()
	rev.Version = version
	rev.Active = false
	rev.CreatedAt = ts
	rev.UpdatedAt = ts

	if err := workflow.ValidateRevision(rev); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRevision, err)
	}

	inactive := false
	newSource, err := codec.UpdateMetadata(source, codec.MetadataUpdate{
		Version:   &version,
		Active:    &inactive,
		CreatedAt: &ts,
		UpdatedAt: &ts,
	})
	if err != nil {
		return nil, err
	}

	if err := s.revisions.SaveWithSource(ctx, rev, newSource); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			// Lost a race against a concurrent creation.
			if version == 1 {
				return nil, ErrWorkflowAlreadyExists
			}
			return nil, ErrRevisionConflict
		}
		return nil, err
	}

	s.logger.Info("revision created", "revision", rev.RevisionID().String())
	return &workflow.RevisionWithSource{Revision: *rev, YAMLSource: newSource}, nil
}

// UpdateRevision replaces an inactive revision's definition. The body
// must echo the stored updatedAt; a mismatch means another writer won
// and the caller's copy is stale.
func (s *WorkflowService) UpdateRevision(ctx context.Context, rid workflow.RevisionID, source string) (*workflow.RevisionWithSource, error) {
	rev, err := codec.ParseRevision(source, true)
	if err != nil {
		return nil, err
	}
	expected := rev.UpdatedAt

	existing, err := s.revisions.FindByIDWithSource(ctx, rid)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrRevisionNotFound
		}
		return nil, err
	}
	if existing.Active {
		return nil, ErrRevisionActive
	}

	if rev.Namespace != rid.Namespace || rev.ID != rid.ID || rev.Version != rid.Version {
		return nil, ErrRevisionMismatch
	}
	if !expected.Equal(existing.UpdatedAt) {
		return nil, &OptimisticLockError{Expected: expected, Actual: existing.UpdatedAt}
	}

	// Identifiers and createdAt are immutable; active can only change
	// through the activation endpoints.
	ts := now()
	rev.CreatedAt = existing.CreatedAt
	rev.Active = false
	rev.UpdatedAt = ts

	if err := workflow.ValidateRevision(rev); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRevision, err)
	}

	inactive := false
	newSource, err := codec.UpdateMetadata(source, codec.MetadataUpdate{
		Active:    &inactive,
		CreatedAt: &existing.CreatedAt,
		UpdatedAt: &ts,
	})
	if err != nil {
		return nil, err
	}

	if err := s.revisions.UpdateWithSource(ctx, rev, newSource); err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return nil, ErrRevisionNotFound
		case errors.Is(err, storage.ErrActiveRevision):
			return nil, ErrRevisionActive
		default:
			return nil, err
		}
	}

	s.logger.Info("revision updated", "revision", rid.String())
	return &workflow.RevisionWithSource{Revision: *rev, YAMLSource: newSource}, nil
}

// SetActive flips a revision's active flag. The caller presents the
// stored updatedAt as its lock token, serialized in the codec time
// format. The revision is resolved before the token is validated, so an
// unknown revision reports not-found regardless of the token.
// Re-activating an already-active revision (or the deactivation mirror)
// is idempotent: the state is simply restamped.
func (s *WorkflowService) SetActive(ctx context.Context, rid workflow.RevisionID, token string, active bool) (*workflow.RevisionWithSource, error) {
	existing, err := s.revisions.FindByIDWithSource(ctx, rid)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrRevisionNotFound
		}
		return nil, err
	}

	if token == "" {
		return nil, ErrInvalidLockToken
	}
	expected, err := codec.ParseTime(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidLockToken, err)
	}
	if !expected.Equal(existing.UpdatedAt) {
		return nil, &OptimisticLockError{Expected: expected, Actual: existing.UpdatedAt}
	}

	ts := now()
	newSource, err := codec.UpdateMetadata(existing.YAMLSource, codec.MetadataUpdate{
		Active:    &active,
		UpdatedAt: &ts,
	})
	if err != nil {
		return nil, err
	}

	if active {
		err = s.revisions.ActivateWithSource(ctx, rid, newSource, ts)
	} else {
		err = s.revisions.DeactivateWithSource(ctx, rid, newSource, ts)
	}
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrRevisionNotFound
		}
		return nil, err
	}

	s.logger.Info("revision activation changed", "revision", rid.String(), "active", active)
	existing.Active = active
	existing.UpdatedAt = ts
	existing.YAMLSource = newSource
	return existing, nil
}

// GetRevision returns one revision with its authored source.
func (s *WorkflowService) GetRevision(ctx context.Context, rid workflow.RevisionID) (*workflow.RevisionWithSource, error) {
	rev, err := s.revisions.FindByIDWithSource(ctx, rid)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrRevisionNotFound
		}
		return nil, err
	}
	return rev, nil
}

// ListRevisions returns a workflow's revisions ordered by version
// ascending, optionally restricted by active state.
func (s *WorkflowService) ListRevisions(ctx context.Context, wid workflow.WorkflowID, activeFilter *bool) ([]workflow.Revision, error) {
	exists, err := s.revisions.Exists(ctx, wid)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrWorkflowNotFound
	}

	if activeFilter != nil && *activeFilter {
		return s.revisions.FindActiveRevisions(ctx, wid)
	}
	revs, err := s.revisions.FindByWorkflowID(ctx, wid)
	if err != nil {
		return nil, err
	}
	if activeFilter != nil {
		inactive := revs[:0]
		for _, r := range revs {
			if !r.Active {
				inactive = append(inactive, r)
			}
		}
		revs = inactive
	}
	return revs, nil
}

// ListWorkflows returns the distinct workflows of a namespace.
func (s *WorkflowService) ListWorkflows(ctx context.Context, namespace string) ([]workflow.WorkflowID, error) {
	return s.revisions.ListWorkflows(ctx, namespace)
}

// DeleteRevision removes a single inactive revision.
func (s *WorkflowService) DeleteRevision(ctx context.Context, rid workflow.RevisionID) error {
	if err := s.revisions.DeleteByID(ctx, rid); err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return ErrRevisionNotFound
		case errors.Is(err, storage.ErrActiveRevision):
			return ErrRevisionActive
		default:
			return err
		}
	}
	s.logger.Info("revision deleted", "revision", rid.String())
	return nil
}

// DeleteWorkflow removes all revisions of a workflow unconditionally and
// returns the number of revisions removed.
func (s *WorkflowService) DeleteWorkflow(ctx context.Context, wid workflow.WorkflowID) (int64, error) {
	count, err := s.revisions.DeleteByWorkflowID(ctx, wid)
	if err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, ErrWorkflowNotFound
	}
	s.logger.Info("workflow deleted", "workflow", wid.String(), "revisions", count)
	return count, nil
}
