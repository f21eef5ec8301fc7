// Copyright 2026 The StepFlow Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepflow/stepflow/internal/workflow"
	"github.com/stepflow/stepflow/internal/workflow/step"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRevisionStore(t *testing.T) *RevisionStore {
	t.Helper()
	db, err := Open(":memory:", testLogger())
	require.NoError(t, err)
	return NewRevisionStore(db, testLogger())
}

func testRevision(namespace, id string, version int) *workflow.Revision {
	ts := time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)
	return &workflow.Revision{
		Namespace: namespace,
		ID:        id,
		Version:   version,
		Name:      "Test workflow",
		Steps:     step.Node{Step: &step.LogTask{ID: "a", Message: "hi"}},
		CreatedAt: ts,
		UpdatedAt: ts,
	}
}

func TestRevisionStore_SaveAndFind(t *testing.T) {
	s := newRevisionStore(t)
	ctx := context.Background()
	rev := testRevision("ns", "wf", 1)

	require.NoError(t, s.SaveWithSource(ctx, rev, "name: Test workflow\n"))

	got, err := s.FindByIDWithSource(ctx, rev.RevisionID())
	require.NoError(t, err)
	assert.Equal(t, *rev, got.Revision)
	assert.Equal(t, "name: Test workflow\n", got.YAMLSource)

	_, err = s.FindByID(ctx, workflow.RevisionID{Namespace: "ns", ID: "wf", Version: 9})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRevisionStore_SaveDuplicateKey(t *testing.T) {
	s := newRevisionStore(t)
	ctx := context.Background()
	rev := testRevision("ns", "wf", 1)

	require.NoError(t, s.SaveWithSource(ctx, rev, "src"))
	require.ErrorIs(t, s.SaveWithSource(ctx, rev, "src"), ErrAlreadyExists)
}

func TestRevisionStore_UpdateWithSource(t *testing.T) {
	s := newRevisionStore(t)
	ctx := context.Background()
	rev := testRevision("ns", "wf", 1)
	require.NoError(t, s.SaveWithSource(ctx, rev, "v1"))

	rev.Name = "Renamed"
	rev.UpdatedAt = rev.UpdatedAt.Add(time.Minute)
	require.NoError(t, s.UpdateWithSource(ctx, rev, "v2"))

	got, err := s.FindByIDWithSource(ctx, rev.RevisionID())
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
	assert.Equal(t, "v2", got.YAMLSource)

	missing := testRevision("ns", "wf", 7)
	require.ErrorIs(t, s.UpdateWithSource(ctx, missing, "x"), ErrNotFound)
}

func TestRevisionStore_UpdateRejectsActive(t *testing.T) {
	s := newRevisionStore(t)
	ctx := context.Background()
	rev := testRevision("ns", "wf", 1)
	require.NoError(t, s.SaveWithSource(ctx, rev, "v1"))
	require.NoError(t, s.ActivateWithSource(ctx, rev.RevisionID(), "v1-active", time.Now().UTC()))

	require.ErrorIs(t, s.UpdateWithSource(ctx, rev, "v2"), ErrActiveRevision)
}

func TestRevisionStore_ActivateKeepsRepresentationsCoherent(t *testing.T) {
	s := newRevisionStore(t)
	ctx := context.Background()
	rev := testRevision("ns", "wf", 1)
	require.NoError(t, s.SaveWithSource(ctx, rev, "v1"))

	ts := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.ActivateWithSource(ctx, rev.RevisionID(), "v1-active", ts))

	got, err := s.FindByIDWithSource(ctx, rev.RevisionID())
	require.NoError(t, err)
	assert.True(t, got.Active, "structured payload must reflect the flag column")
	assert.True(t, ts.Equal(got.UpdatedAt))
	assert.Equal(t, "v1-active", got.YAMLSource)

	require.NoError(t, s.DeactivateWithSource(ctx, rev.RevisionID(), "v1-inactive", ts.Add(time.Minute)))
	got, err = s.FindByIDWithSource(ctx, rev.RevisionID())
	require.NoError(t, err)
	assert.False(t, got.Active)

	missing := workflow.RevisionID{Namespace: "ns", ID: "wf", Version: 9}
	require.ErrorIs(t, s.ActivateWithSource(ctx, missing, "x", ts), ErrNotFound)
}

func TestRevisionStore_FindRevisionsOrdering(t *testing.T) {
	s := newRevisionStore(t)
	ctx := context.Background()
	for _, v := range []int{3, 1, 2} {
		require.NoError(t, s.SaveWithSource(ctx, testRevision("ns", "wf", v), "src"))
	}

	revs, err := s.FindByWorkflowID(ctx, workflow.WorkflowID{Namespace: "ns", ID: "wf"})
	require.NoError(t, err)
	require.Len(t, revs, 3)
	assert.Equal(t, 1, revs[0].Version)
	assert.Equal(t, 2, revs[1].Version)
	assert.Equal(t, 3, revs[2].Version)
}

func TestRevisionStore_FindActiveRevisions(t *testing.T) {
	s := newRevisionStore(t)
	ctx := context.Background()
	wid := workflow.WorkflowID{Namespace: "ns", ID: "wf"}
	for v := 1; v <= 3; v++ {
		require.NoError(t, s.SaveWithSource(ctx, testRevision("ns", "wf", v), "src"))
	}

	ts := time.Now().UTC()
	// Several revisions of one workflow may be active at once.
	require.NoError(t, s.ActivateWithSource(ctx, workflow.RevisionID{Namespace: "ns", ID: "wf", Version: 3}, "src", ts))
	require.NoError(t, s.ActivateWithSource(ctx, workflow.RevisionID{Namespace: "ns", ID: "wf", Version: 1}, "src", ts))

	active, err := s.FindActiveRevisions(ctx, wid)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, 1, active[0].Version)
	assert.Equal(t, 3, active[1].Version)
}

func TestRevisionStore_FindMaxVersion(t *testing.T) {
	s := newRevisionStore(t)
	ctx := context.Background()
	wid := workflow.WorkflowID{Namespace: "ns", ID: "wf"}

	max, err := s.FindMaxVersion(ctx, wid)
	require.NoError(t, err)
	assert.Equal(t, 0, max, "no revisions yet")

	require.NoError(t, s.SaveWithSource(ctx, testRevision("ns", "wf", 1), "src"))
	require.NoError(t, s.SaveWithSource(ctx, testRevision("ns", "wf", 5), "src"))

	max, err = s.FindMaxVersion(ctx, wid)
	require.NoError(t, err)
	assert.Equal(t, 5, max)
}

func TestRevisionStore_Exists(t *testing.T) {
	s := newRevisionStore(t)
	ctx := context.Background()
	wid := workflow.WorkflowID{Namespace: "ns", ID: "wf"}

	ok, err := s.Exists(ctx, wid)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SaveWithSource(ctx, testRevision("ns", "wf", 1), "src"))
	ok, err = s.Exists(ctx, wid)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRevisionStore_DeleteByID(t *testing.T) {
	s := newRevisionStore(t)
	ctx := context.Background()
	rev := testRevision("ns", "wf", 1)
	require.NoError(t, s.SaveWithSource(ctx, rev, "src"))

	require.ErrorIs(t, s.DeleteByID(ctx, workflow.RevisionID{Namespace: "ns", ID: "wf", Version: 2}), ErrNotFound)

	require.NoError(t, s.ActivateWithSource(ctx, rev.RevisionID(), "src", time.Now().UTC()))
	require.ErrorIs(t, s.DeleteByID(ctx, rev.RevisionID()), ErrActiveRevision)

	require.NoError(t, s.DeactivateWithSource(ctx, rev.RevisionID(), "src", time.Now().UTC()))
	require.NoError(t, s.DeleteByID(ctx, rev.RevisionID()))
	_, err := s.FindByID(ctx, rev.RevisionID())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRevisionStore_DeleteByWorkflowID(t *testing.T) {
	s := newRevisionStore(t)
	ctx := context.Background()
	wid := workflow.WorkflowID{Namespace: "ns", ID: "wf"}
	for v := 1; v <= 3; v++ {
		require.NoError(t, s.SaveWithSource(ctx, testRevision("ns", "wf", v), "src"))
	}
	// Deletion is unconditional even with an active revision present.
	require.NoError(t, s.ActivateWithSource(ctx, workflow.RevisionID{Namespace: "ns", ID: "wf", Version: 2}, "src", time.Now().UTC()))
	require.NoError(t, s.SaveWithSource(ctx, testRevision("ns", "other", 1), "src"))

	count, err := s.DeleteByWorkflowID(ctx, wid)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	ok, err := s.Exists(ctx, wid)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.Exists(ctx, workflow.WorkflowID{Namespace: "ns", ID: "other"})
	require.NoError(t, err)
	assert.True(t, ok, "other workflows are untouched")

	count, err = s.DeleteByWorkflowID(ctx, wid)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestRevisionStore_ListWorkflows(t *testing.T) {
	s := newRevisionStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveWithSource(ctx, testRevision("ns", "zeta", 1), "src"))
	require.NoError(t, s.SaveWithSource(ctx, testRevision("ns", "alpha", 1), "src"))
	require.NoError(t, s.SaveWithSource(ctx, testRevision("ns", "alpha", 2), "src"))
	require.NoError(t, s.SaveWithSource(ctx, testRevision("elsewhere", "alpha", 1), "src"))

	ids, err := s.ListWorkflows(ctx, "ns")
	require.NoError(t, err)
	assert.Equal(t, []workflow.WorkflowID{
		{Namespace: "ns", ID: "alpha"},
		{Namespace: "ns", ID: "zeta"},
	}, ids, "distinct ids ordered by workflow id")
}
