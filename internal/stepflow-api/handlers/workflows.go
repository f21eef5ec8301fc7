// Copyright 2026 The StepFlow Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"fmt"
	"net/http"

	"github.com/stepflow/stepflow/internal/server/middleware/logger"
	"github.com/stepflow/stepflow/internal/workflow"
	"github.com/stepflow/stepflow/internal/workflow/codec"
)

func (h *Handler) CreateWorkflow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logger.GetLogger(ctx)
	logger.Debug("CreateWorkflow handler called")

	source, ok := readBody(w, r)
	if !ok {
		return
	}

	rev, err := h.services.Workflows.CreateWorkflow(ctx, source)
	if err != nil {
		logger.Warn("Failed to create workflow", "error", err)
		writeServiceError(w, r, err)
		return
	}

	logger.Debug("Created workflow successfully", "workflow", rev.RevisionID().String())
	w.Header().Set("Location", revisionLocation(rev.RevisionID()))
	writeYAML(w, http.StatusCreated, rev.YAMLSource)
}

func (h *Handler) CreateRevision(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logger.GetLogger(ctx)
	logger.Debug("CreateRevision handler called")

	wid := workflow.WorkflowID{
		Namespace: r.PathValue("namespace"),
		ID:        r.PathValue("workflowId"),
	}
	source, ok := readBody(w, r)
	if !ok {
		return
	}

	rev, err := h.services.Workflows.CreateRevision(ctx, wid, source)
	if err != nil {
		logger.Warn("Failed to create revision", "workflow", wid.String(), "error", err)
		writeServiceError(w, r, err)
		return
	}

	logger.Debug("Created revision successfully", "revision", rev.RevisionID().String())
	w.Header().Set("Location", revisionLocation(rev.RevisionID()))
	writeYAML(w, http.StatusCreated, rev.YAMLSource)
}

func (h *Handler) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logger.GetLogger(ctx)
	logger.Debug("ListWorkflows handler called")

	namespace := r.PathValue("namespace")
	workflows, err := h.services.Workflows.ListWorkflows(ctx, namespace)
	if err != nil {
		logger.Error("Failed to list workflows", "namespace", namespace, "error", err)
		writeServiceError(w, r, err)
		return
	}

	logger.Debug("Listed workflows successfully", "namespace", namespace, "count", len(workflows))
	writeJSON(w, http.StatusOK, workflows)
}

func (h *Handler) ListRevisions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logger.GetLogger(ctx)
	logger.Debug("ListRevisions handler called")

	wid := workflow.WorkflowID{
		Namespace: r.PathValue("namespace"),
		ID:        r.PathValue("workflowId"),
	}

	var activeFilter *bool
	switch r.URL.Query().Get("active") {
	case "":
	case "true":
		v := true
		activeFilter = &v
	case "false":
		v := false
		activeFilter = &v
	default:
		writeProblem(w, r, http.StatusBadRequest, ProblemInvalidRevision,
			"Invalid query", "query parameter active must be true or false")
		return
	}

	revs, err := h.services.Workflows.ListRevisions(ctx, wid, activeFilter)
	if err != nil {
		logger.Warn("Failed to list revisions", "workflow", wid.String(), "error", err)
		writeServiceError(w, r, err)
		return
	}

	body, err := codec.EncodeRevisions(revs)
	if err != nil {
		logger.Error("Failed to encode revisions", "workflow", wid.String(), "error", err)
		writeServiceError(w, r, err)
		return
	}

	logger.Debug("Listed revisions successfully", "workflow", wid.String(), "count", len(revs))
	writeYAML(w, http.StatusOK, body)
}

func (h *Handler) GetRevision(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logger.GetLogger(ctx)
	logger.Debug("GetRevision handler called")

	rid, ok := h.pathRevisionID(w, r)
	if !ok {
		return
	}

	rev, err := h.services.Workflows.GetRevision(ctx, rid)
	if err != nil {
		logger.Warn("Failed to get revision", "revision", rid.String(), "error", err)
		writeServiceError(w, r, err)
		return
	}

	logger.Debug("Retrieved revision successfully", "revision", rid.String())
	writeYAML(w, http.StatusOK, rev.YAMLSource)
}

func (h *Handler) UpdateRevision(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logger.GetLogger(ctx)
	logger.Debug("UpdateRevision handler called")

	rid, ok := h.pathRevisionID(w, r)
	if !ok {
		return
	}
	source, ok := readBody(w, r)
	if !ok {
		return
	}

	rev, err := h.services.Workflows.UpdateRevision(ctx, rid, source)
	if err != nil {
		logger.Warn("Failed to update revision", "revision", rid.String(), "error", err)
		writeServiceError(w, r, err)
		return
	}

	logger.Debug("Updated revision successfully", "revision", rid.String())
	writeYAML(w, http.StatusOK, rev.YAMLSource)
}

func (h *Handler) ActivateRevision(w http.ResponseWriter, r *http.Request) {
	h.setRevisionActive(w, r, true)
}

func (h *Handler) DeactivateRevision(w http.ResponseWriter, r *http.Request) {
	h.setRevisionActive(w, r, false)
}

func (h *Handler) setRevisionActive(w http.ResponseWriter, r *http.Request, active bool) {
	ctx := r.Context()
	logger := logger.GetLogger(ctx)
	logger.Debug("SetRevisionActive handler called", "active", active)

	rid, ok := h.pathRevisionID(w, r)
	if !ok {
		return
	}

	// Token validation is ordered after the revision lookup, so the raw
	// header value goes down as-is.
	rev, err := h.services.Workflows.SetActive(ctx, rid, r.Header.Get(updatedAtHeader), active)
	if err != nil {
		logger.Warn("Failed to change revision activation", "revision", rid.String(), "error", err)
		writeServiceError(w, r, err)
		return
	}

	logger.Debug("Changed revision activation successfully", "revision", rid.String(), "active", active)
	writeYAML(w, http.StatusOK, rev.YAMLSource)
}

func (h *Handler) DeleteRevision(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logger.GetLogger(ctx)
	logger.Debug("DeleteRevision handler called")

	rid, ok := h.pathRevisionID(w, r)
	if !ok {
		return
	}

	if err := h.services.Workflows.DeleteRevision(ctx, rid); err != nil {
		logger.Warn("Failed to delete revision", "revision", rid.String(), "error", err)
		writeServiceError(w, r, err)
		return
	}

	logger.Debug("Deleted revision successfully", "revision", rid.String())
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) DeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logger.GetLogger(ctx)
	logger.Debug("DeleteWorkflow handler called")

	wid := workflow.WorkflowID{
		Namespace: r.PathValue("namespace"),
		ID:        r.PathValue("workflowId"),
	}

	count, err := h.services.Workflows.DeleteWorkflow(ctx, wid)
	if err != nil {
		logger.Warn("Failed to delete workflow", "workflow", wid.String(), "error", err)
		writeServiceError(w, r, err)
		return
	}

	logger.Debug("Deleted workflow successfully", "workflow", wid.String(), "revisions", count)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) pathRevisionID(w http.ResponseWriter, r *http.Request) (workflow.RevisionID, bool) {
	version, ok := pathVersion(w, r)
	if !ok {
		return workflow.RevisionID{}, false
	}
	return workflow.RevisionID{
		Namespace: r.PathValue("namespace"),
		ID:        r.PathValue("workflowId"),
		Version:   version,
	}, true
}

func revisionLocation(rid workflow.RevisionID) string {
	return fmt.Sprintf("/api/workflows/%s/%s/%d", rid.Namespace, rid.ID, rid.Version)
}
