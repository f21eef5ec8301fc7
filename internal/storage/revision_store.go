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
)

// revisionRow is the single relation holding both representations of a
// revision. The key and filter columns mirror fields inside
// revision_data so reads stay indexed; both payload columns are always
// written in the same transaction.
type revisionRow struct {
	Namespace    string    `gorm:"column:namespace;primaryKey;size:100"`
	WorkflowID   string    `gorm:"column:workflow_id;primaryKey;size:100"`
	Version      int       `gorm:"column:version;primaryKey"`
	Name         string    `gorm:"column:name;size:255;index"`
	Active       bool      `gorm:"column:active;index"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime:false"`
	UpdatedAt    time.Time `gorm:"column:updated_at;index;autoUpdateTime:false"`
	YAMLSource   string    `gorm:"column:yaml_source;type:text;not null"`
	RevisionData string    `gorm:"column:revision_data;type:text;not null"`
}

func (revisionRow) TableName() string { return "workflow_revisions" }

// RevisionStore persists workflow revisions.
type RevisionStore struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewRevisionStore creates a revision store on top of an opened database.
func NewRevisionStore(db *gorm.DB, logger *slog.Logger) *RevisionStore {
	return &RevisionStore{db: db, logger: logger.With("module", "revision_store")}
}

func toRevisionRow(rev *workflow.Revision, source string) (*revisionRow, error) {
	data, err := json.Marshal(rev)
	if err != nil {
		return nil, fmt.Errorf("encoding revision data: %w", err)
	}
	return &revisionRow{
		Namespace:    rev.Namespace,
		WorkflowID:   rev.ID,
		Version:      rev.Version,
		Name:         rev.Name,
		Active:       rev.Active,
		CreatedAt:    rev.CreatedAt,
		UpdatedAt:    rev.UpdatedAt,
		YAMLSource:   source,
		RevisionData: string(data),
	}, nil
}

func (r *revisionRow) toRevision() (*workflow.Revision, error) {
	var rev workflow.Revision
	if err := json.Unmarshal([]byte(r.RevisionData), &rev); err != nil {
		return nil, fmt.Errorf("decoding revision data for %s/%s/%d: %w", r.Namespace, r.WorkflowID, r.Version, err)
	}
	return &rev, nil
}

// SaveWithSource inserts a new revision row. Returns ErrAlreadyExists
// when the (namespace, id, version) key is taken.
func (s *RevisionStore) SaveWithSource(ctx context.Context, rev *workflow.Revision, source string) error {
	row, err := toRevisionRow(rev, source)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("saving revision %s: %w", rev.RevisionID(), err)
	}
	s.logger.Debug("revision saved", "revision", rev.RevisionID().String())
	return nil
}

// UpdateWithSource replaces both payload columns of an existing inactive
// revision atomically. Returns ErrNotFound when the row is absent and
// ErrActiveRevision when it is active.
func (s *RevisionStore) UpdateWithSource(ctx context.Context, rev *workflow.Revision, source string) error {
	row, err := toRevisionRow(rev, source)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing revisionRow
		if err := tx.Where("namespace = ? AND workflow_id = ? AND version = ?",
			rev.Namespace, rev.ID, rev.Version).First(&existing).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if existing.Active {
			return ErrActiveRevision
		}

		return tx.Model(&revisionRow{}).
			Where("namespace = ? AND workflow_id = ? AND version = ?", rev.Namespace, rev.ID, rev.Version).
			Updates(map[string]any{
				"name":          row.Name,
				"active":        row.Active,
				"updated_at":    row.UpdatedAt,
				"yaml_source":   row.YAMLSource,
				"revision_data": row.RevisionData,
			}).Error
	})
}

// FindByIDWithSource returns the revision plus its authored source, or
// ErrNotFound.
func (s *RevisionStore) FindByIDWithSource(ctx context.Context, id workflow.RevisionID) (*workflow.RevisionWithSource, error) {
	var row revisionRow
	if err := s.db.WithContext(ctx).
		Where("namespace = ? AND workflow_id = ? AND version = ?", id.Namespace, id.ID, id.Version).
		First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	rev, err := row.toRevision()
	if err != nil {
		return nil, err
	}
	return &workflow.RevisionWithSource{Revision: *rev, YAMLSource: row.YAMLSource}, nil
}

// FindByID returns the structured revision only, or ErrNotFound.
func (s *RevisionStore) FindByID(ctx context.Context, id workflow.RevisionID) (*workflow.Revision, error) {
	ws, err := s.FindByIDWithSource(ctx, id)
	if err != nil {
		return nil, err
	}
	return &ws.Revision, nil
}

// FindByWorkflowID returns all revisions of a workflow ordered by
// version ascending.
func (s *RevisionStore) FindByWorkflowID(ctx context.Context, wid workflow.WorkflowID) ([]workflow.Revision, error) {
	return s.findRevisions(ctx, wid, false)
}

// FindActiveRevisions returns the active revisions of a workflow ordered
// by version ascending.
func (s *RevisionStore) FindActiveRevisions(ctx context.Context, wid workflow.WorkflowID) ([]workflow.Revision, error) {
	return s.findRevisions(ctx, wid, true)
}

func (s *RevisionStore) findRevisions(ctx context.Context, wid workflow.WorkflowID, activeOnly bool) ([]workflow.Revision, error) {
	q := s.db.WithContext(ctx).
		Where("namespace = ? AND workflow_id = ?", wid.Namespace, wid.ID).
		Order("version ASC")
	if activeOnly {
		q = q.Where("active = ?", true)
	}

	var rows []revisionRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}

	revs := make([]workflow.Revision, 0, len(rows))
	for i := range rows {
		rev, err := rows[i].toRevision()
		if err != nil {
			return nil, err
		}
		revs = append(revs, *rev)
	}
	return revs, nil
}

// FindMaxVersion returns the highest version of a workflow, or 0 when no
// revisions exist.
func (s *RevisionStore) FindMaxVersion(ctx context.Context, wid workflow.WorkflowID) (int, error) {
	var max int
	err := s.db.WithContext(ctx).Model(&revisionRow{}).
		Where("namespace = ? AND workflow_id = ?", wid.Namespace, wid.ID).
		Select("COALESCE(MAX(version), 0)").
		Scan(&max).Error
	if err != nil {
		return 0, err
	}
	return max, nil
}

// Exists reports whether any revision of the workflow is stored.
func (s *RevisionStore) Exists(ctx context.Context, wid workflow.WorkflowID) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&revisionRow{}).
		Where("namespace = ? AND workflow_id = ?", wid.Namespace, wid.ID).
		Limit(1).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// DeleteByID removes a single inactive revision. Returns ErrNotFound
// when absent and ErrActiveRevision when the row is active.
func (s *RevisionStore) DeleteByID(ctx context.Context, id workflow.RevisionID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing revisionRow
		if err := tx.Where("namespace = ? AND workflow_id = ? AND version = ?",
			id.Namespace, id.ID, id.Version).First(&existing).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if existing.Active {
			return ErrActiveRevision
		}
		return tx.Where("namespace = ? AND workflow_id = ? AND version = ?",
			id.Namespace, id.ID, id.Version).Delete(&revisionRow{}).Error
	})
}

// DeleteByWorkflowID removes every revision of a workflow regardless of
// active state and returns the number of rows removed.
func (s *RevisionStore) DeleteByWorkflowID(ctx context.Context, wid workflow.WorkflowID) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("namespace = ? AND workflow_id = ?", wid.Namespace, wid.ID).
		Delete(&revisionRow{})
	if res.Error != nil {
		return 0, res.Error
	}
	s.logger.Debug("workflow deleted", "workflow", wid.String(), "revisions", res.RowsAffected)
	return res.RowsAffected, nil
}

// ListWorkflows returns the distinct workflow identifiers stored in a
// namespace, ordered by id.
func (s *RevisionStore) ListWorkflows(ctx context.Context, namespace string) ([]workflow.WorkflowID, error) {
	var rows []struct {
		Namespace  string
		WorkflowID string
	}
	err := s.db.WithContext(ctx).Model(&revisionRow{}).
		Distinct("namespace", "workflow_id").
		Where("namespace = ?", namespace).
		Order("workflow_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	ids := make([]workflow.WorkflowID, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, workflow.WorkflowID{Namespace: r.Namespace, ID: r.WorkflowID})
	}
	return ids, nil
}

// ActivateWithSource marks the revision active, replacing the authored
// source with the rewritten text and restamping updatedAt. Both payload
// columns and the mirrored flags change in one transaction.
func (s *RevisionStore) ActivateWithSource(ctx context.Context, id workflow.RevisionID, source string, updatedAt time.Time) error {
	return s.setActiveWithSource(ctx, id, source, true, updatedAt)
}

// DeactivateWithSource is the symmetric counterpart of
// ActivateWithSource.
func (s *RevisionStore) DeactivateWithSource(ctx context.Context, id workflow.RevisionID, source string, updatedAt time.Time) error {
	return s.setActiveWithSource(ctx, id, source, false, updatedAt)
}

func (s *RevisionStore) setActiveWithSource(ctx context.Context, id workflow.RevisionID, source string, active bool, updatedAt time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing revisionRow
		if err := tx.Where("namespace = ? AND workflow_id = ? AND version = ?",
			id.Namespace, id.ID, id.Version).First(&existing).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		// Keep the structured payload coherent with the flag columns.
		rev, err := existing.toRevision()
		if err != nil {
			return err
		}
		rev.Active = active
		rev.UpdatedAt = updatedAt
		data, err := json.Marshal(rev)
		if err != nil {
			return fmt.Errorf("encoding revision data: %w", err)
		}

		return tx.Model(&revisionRow{}).
			Where("namespace = ? AND workflow_id = ? AND version = ?", id.Namespace, id.ID, id.Version).
			Updates(map[string]any{
				"active":        active,
				"updated_at":    updatedAt,
				"yaml_source":   source,
				"revision_data": string(data),
			}).Error
	})
}
