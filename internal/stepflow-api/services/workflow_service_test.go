// Copyright 2026 The StepFlow Authors
// SPDX-License-Identifier: Apache-2.0

package services

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepflow/stepflow/internal/engine"
	"github.com/stepflow/stepflow/internal/storage"
	"github.com/stepflow/stepflow/internal/workflow"
	"github.com/stepflow/stepflow/internal/workflow/codec"
)

const createSource = `namespace: payments
id: settle
name: Settle payments
steps:
  type: Sequence
  steps:
    - type: LogTask
      id: announce
      message: settling
`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newServices(t *testing.T) *Services {
	t.Helper()
	logger := testLogger()
	db, err := storage.Open(":memory:", logger)
	require.NoError(t, err)
	revisions := storage.NewRevisionStore(db, logger)
	executions := storage.NewExecutionStore(db, logger)
	eng := engine.New(executions, logger)
	return New(revisions, executions, eng, logger)
}

// tick moves past the current millisecond so the next stamped updatedAt
// differs from the previous one.
func tick() {
	time.Sleep(2 * time.Millisecond)
}

// lockToken serializes a stored updatedAt the way activation callers
// present it.
func lockToken(ts time.Time) string {
	return codec.FormatTime(ts)
}

func mustCreate(t *testing.T, svc *WorkflowService) *workflow.RevisionWithSource {
	t.Helper()
	rev, err := svc.CreateWorkflow(context.Background(), createSource)
	require.NoError(t, err)
	return rev
}

func TestWorkflowService_CreateWorkflow(t *testing.T) {
	svcs := newServices(t)
	rev := mustCreate(t, svcs.Workflows)

	assert.Equal(t, "payments", rev.Namespace)
	assert.Equal(t, "settle", rev.ID)
	assert.Equal(t, 1, rev.Version)
	assert.False(t, rev.Active)
	assert.False(t, rev.CreatedAt.IsZero())
	assert.True(t, rev.CreatedAt.Equal(rev.UpdatedAt))

	// The stored source is the authored text with system fields mirrored in.
	assert.Contains(t, rev.YAMLSource, "version: 1")
	assert.Contains(t, rev.YAMLSource, "active: false")
	assert.Contains(t, rev.YAMLSource, "updatedAt:")
}

func TestWorkflowService_CreateWorkflowConflict(t *testing.T) {
	svcs := newServices(t)
	mustCreate(t, svcs.Workflows)

	_, err := svcs.Workflows.CreateWorkflow(context.Background(), createSource)
	require.ErrorIs(t, err, ErrWorkflowAlreadyExists)
}

func TestWorkflowService_CreateWorkflowRequiresIdentity(t *testing.T) {
	svcs := newServices(t)

	_, err := svcs.Workflows.CreateWorkflow(context.Background(), `name: anonymous
steps:
  type: LogTask
  id: a
  message: m
`)
	require.ErrorIs(t, err, ErrInvalidRevision)
}

func TestWorkflowService_CreateRevisionAssignsNextVersion(t *testing.T) {
	svcs := newServices(t)
	ctx := context.Background()
	mustCreate(t, svcs.Workflows)
	wid := workflow.WorkflowID{Namespace: "payments", ID: "settle"}

	rev, err := svcs.Workflows.CreateRevision(ctx, wid, createSource)
	require.NoError(t, err)
	assert.Equal(t, 2, rev.Version)
	assert.False(t, rev.Active)

	_, err = svcs.Workflows.CreateRevision(ctx, workflow.WorkflowID{Namespace: "payments", ID: "missing"}, createSource)
	require.ErrorIs(t, err, ErrWorkflowNotFound)
}

func TestWorkflowService_CreateRevisionPathOverridesBody(t *testing.T) {
	svcs := newServices(t)
	ctx := context.Background()
	mustCreate(t, svcs.Workflows)
	wid := workflow.WorkflowID{Namespace: "payments", ID: "settle"}

	// Body claims a different identity; the path wins.
	body := `namespace: elsewhere
id: other
name: Renegade
steps:
  type: LogTask
  id: a
  message: m
`
	rev, err := svcs.Workflows.CreateRevision(ctx, wid, body)
	require.NoError(t, err)
	assert.Equal(t, "payments", rev.Namespace)
	assert.Equal(t, "settle", rev.ID)
}

func TestWorkflowService_VersionsNeverReused(t *testing.T) {
	svcs := newServices(t)
	ctx := context.Background()
	mustCreate(t, svcs.Workflows)
	wid := workflow.WorkflowID{Namespace: "payments", ID: "settle"}

	v2, err := svcs.Workflows.CreateRevision(ctx, wid, createSource)
	require.NoError(t, err)
	require.Equal(t, 2, v2.Version)

	// Deleting v1 must not free its number: the next revision is v3.
	require.NoError(t, svcs.Workflows.DeleteRevision(ctx, workflow.RevisionID{
		Namespace: "payments", ID: "settle", Version: 1,
	}))

	v3, err := svcs.Workflows.CreateRevision(ctx, wid, createSource)
	require.NoError(t, err)
	assert.Equal(t, 3, v3.Version)
}

func TestWorkflowService_UpdateRevision(t *testing.T) {
	svcs := newServices(t)
	ctx := context.Background()
	created := mustCreate(t, svcs.Workflows)
	tick()

	updated := renamed(t, created.YAMLSource, "Settle faster")
	rev, err := svcs.Workflows.UpdateRevision(ctx, created.RevisionID(), updated)
	require.NoError(t, err)
	assert.Equal(t, "Settle faster", rev.Name)
	assert.True(t, rev.CreatedAt.Equal(created.CreatedAt), "createdAt is immutable")
	assert.True(t, rev.UpdatedAt.After(created.UpdatedAt))
	assert.False(t, rev.Active)
}

func TestWorkflowService_UpdateRevisionStaleToken(t *testing.T) {
	svcs := newServices(t)
	ctx := context.Background()
	created := mustCreate(t, svcs.Workflows)
	tick()

	first := renamed(t, created.YAMLSource, "First writer")
	_, err := svcs.Workflows.UpdateRevision(ctx, created.RevisionID(), first)
	require.NoError(t, err)

	// Second writer still holds the original document.
	second := renamed(t, created.YAMLSource, "Second writer")
	_, err = svcs.Workflows.UpdateRevision(ctx, created.RevisionID(), second)
	var lockErr *OptimisticLockError
	require.ErrorAs(t, err, &lockErr)
	assert.True(t, lockErr.Expected.Equal(created.UpdatedAt))
	assert.False(t, lockErr.Actual.Equal(created.UpdatedAt))
}

func TestWorkflowService_UpdateRevisionGuards(t *testing.T) {
	svcs := newServices(t)
	ctx := context.Background()
	created := mustCreate(t, svcs.Workflows)

	_, err := svcs.Workflows.UpdateRevision(ctx,
		workflow.RevisionID{Namespace: "payments", ID: "settle", Version: 9},
		renamed(t, created.YAMLSource, "x"))
	require.ErrorIs(t, err, ErrRevisionNotFound)

	// Identifier fields in the body must match the path.
	mismatched := renamed(t, created.YAMLSource, "x")
	rid := workflow.RevisionID{Namespace: "payments", ID: "settle", Version: 1}
	_, err = svcs.Workflows.UpdateRevision(ctx, rid, "namespace: other\n"+stripKey(mismatched, "namespace"))
	require.ErrorIs(t, err, ErrRevisionMismatch)

	// Active revisions are immutable.
	activated, err := svcs.Workflows.SetActive(ctx, created.RevisionID(), lockToken(created.UpdatedAt), true)
	require.NoError(t, err)
	_, err = svcs.Workflows.UpdateRevision(ctx, created.RevisionID(), renamed(t, activated.YAMLSource, "x"))
	require.ErrorIs(t, err, ErrRevisionActive)
}

func TestWorkflowService_SetActive(t *testing.T) {
	svcs := newServices(t)
	ctx := context.Background()
	created := mustCreate(t, svcs.Workflows)
	tick()

	activated, err := svcs.Workflows.SetActive(ctx, created.RevisionID(), lockToken(created.UpdatedAt), true)
	require.NoError(t, err)
	assert.True(t, activated.Active)
	assert.True(t, activated.UpdatedAt.After(created.UpdatedAt))
	assert.Contains(t, activated.YAMLSource, "active: true")

	// A stale token is rejected.
	_, err = svcs.Workflows.SetActive(ctx, created.RevisionID(), lockToken(created.UpdatedAt), false)
	var lockErr *OptimisticLockError
	require.ErrorAs(t, err, &lockErr)

	deactivated, err := svcs.Workflows.SetActive(ctx, created.RevisionID(), lockToken(activated.UpdatedAt), false)
	require.NoError(t, err)
	assert.False(t, deactivated.Active)

	_, err = svcs.Workflows.SetActive(ctx, workflow.RevisionID{Namespace: "x", ID: "y", Version: 1}, lockToken(created.UpdatedAt), true)
	require.ErrorIs(t, err, ErrRevisionNotFound)
}

func TestWorkflowService_SetActiveTokenValidation(t *testing.T) {
	svcs := newServices(t)
	ctx := context.Background()
	created := mustCreate(t, svcs.Workflows)

	_, err := svcs.Workflows.SetActive(ctx, created.RevisionID(), "", true)
	require.ErrorIs(t, err, ErrInvalidLockToken)

	_, err = svcs.Workflows.SetActive(ctx, created.RevisionID(), "yesterday", true)
	require.ErrorIs(t, err, ErrInvalidLockToken)

	// The revision is resolved first: an unknown revision reports
	// not-found even when the token is missing.
	missing := workflow.RevisionID{Namespace: "x", ID: "y", Version: 1}
	_, err = svcs.Workflows.SetActive(ctx, missing, "", true)
	require.ErrorIs(t, err, ErrRevisionNotFound)
}

func TestWorkflowService_MultipleActiveRevisions(t *testing.T) {
	svcs := newServices(t)
	ctx := context.Background()
	v1 := mustCreate(t, svcs.Workflows)
	wid := v1.RevisionID().WorkflowID()
	v2, err := svcs.Workflows.CreateRevision(ctx, wid, createSource)
	require.NoError(t, err)

	_, err = svcs.Workflows.SetActive(ctx, v1.RevisionID(), lockToken(v1.UpdatedAt), true)
	require.NoError(t, err)
	_, err = svcs.Workflows.SetActive(ctx, v2.RevisionID(), lockToken(v2.UpdatedAt), true)
	require.NoError(t, err)

	active := true
	revs, err := svcs.Workflows.ListRevisions(ctx, wid, &active)
	require.NoError(t, err)
	assert.Len(t, revs, 2, "activation does not deactivate siblings")
}

func TestWorkflowService_ListRevisions(t *testing.T) {
	svcs := newServices(t)
	ctx := context.Background()
	v1 := mustCreate(t, svcs.Workflows)
	wid := v1.RevisionID().WorkflowID()
	_, err := svcs.Workflows.CreateRevision(ctx, wid, createSource)
	require.NoError(t, err)
	_, err = svcs.Workflows.SetActive(ctx, v1.RevisionID(), lockToken(v1.UpdatedAt), true)
	require.NoError(t, err)

	all, err := svcs.Workflows.ListRevisions(ctx, wid, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, 1, all[0].Version)

	active := true
	activeOnly, err := svcs.Workflows.ListRevisions(ctx, wid, &active)
	require.NoError(t, err)
	require.Len(t, activeOnly, 1)
	assert.Equal(t, 1, activeOnly[0].Version)

	inactive := false
	inactiveOnly, err := svcs.Workflows.ListRevisions(ctx, wid, &inactive)
	require.NoError(t, err)
	require.Len(t, inactiveOnly, 1)
	assert.Equal(t, 2, inactiveOnly[0].Version)

	_, err = svcs.Workflows.ListRevisions(ctx, workflow.WorkflowID{Namespace: "none", ID: "none"}, nil)
	require.ErrorIs(t, err, ErrWorkflowNotFound)
}

func TestWorkflowService_DeleteRevision(t *testing.T) {
	svcs := newServices(t)
	ctx := context.Background()
	created := mustCreate(t, svcs.Workflows)

	activated, err := svcs.Workflows.SetActive(ctx, created.RevisionID(), lockToken(created.UpdatedAt), true)
	require.NoError(t, err)
	require.ErrorIs(t, svcs.Workflows.DeleteRevision(ctx, created.RevisionID()), ErrRevisionActive)

	_, err = svcs.Workflows.SetActive(ctx, created.RevisionID(), lockToken(activated.UpdatedAt), false)
	require.NoError(t, err)
	require.NoError(t, svcs.Workflows.DeleteRevision(ctx, created.RevisionID()))
	require.ErrorIs(t, svcs.Workflows.DeleteRevision(ctx, created.RevisionID()), ErrRevisionNotFound)
}

func TestWorkflowService_DeleteWorkflow(t *testing.T) {
	svcs := newServices(t)
	ctx := context.Background()
	v1 := mustCreate(t, svcs.Workflows)
	wid := v1.RevisionID().WorkflowID()
	_, err := svcs.Workflows.CreateRevision(ctx, wid, createSource)
	require.NoError(t, err)
	// An active revision does not block workflow deletion.
	_, err = svcs.Workflows.SetActive(ctx, v1.RevisionID(), lockToken(v1.UpdatedAt), true)
	require.NoError(t, err)

	count, err := svcs.Workflows.DeleteWorkflow(ctx, wid)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	_, err = svcs.Workflows.DeleteWorkflow(ctx, wid)
	require.ErrorIs(t, err, ErrWorkflowNotFound)
}

// renamed returns source with its name replaced, leaving the system
// fields (in particular updatedAt, the lock token) untouched.
func renamed(t *testing.T, source, name string) string {
	t.Helper()
	rev, err := codec.ParseRevision(source, true)
	require.NoError(t, err)
	rev.Name = name
	out, err := codec.EncodeRevision(rev)
	require.NoError(t, err)
	return out
}

// stripKey drops the first top-level line carrying the given key.
func stripKey(source, key string) string {
	var kept []string
	dropped := false
	for _, line := range strings.Split(source, "\n") {
		if !dropped && strings.HasPrefix(line, key+":") {
			dropped = true
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}
