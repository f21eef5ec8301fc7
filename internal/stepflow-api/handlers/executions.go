// Copyright 2026 The StepFlow Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/stepflow/stepflow/internal/server/middleware/logger"
	"github.com/stepflow/stepflow/internal/stepflow-api/services"
	"github.com/stepflow/stepflow/internal/workflow"
)

type executeRequest struct {
	Parameters map[string]any `json:"parameters"`
}

type executeResponse struct {
	ExecutionID string                   `json:"executionId"`
	Status      workflow.ExecutionStatus `json:"status"`
}

func (h *Handler) ExecuteRevision(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logger.GetLogger(ctx)
	logger.Debug("ExecuteRevision handler called")

	rid, ok := h.pathRevisionID(w, r)
	if !ok {
		return
	}

	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		logger.Warn("Failed to decode request body", "error", err)
		writeProblem(w, r, http.StatusBadRequest, ProblemInvalidRevision,
			"Invalid request body", "body must be a JSON object with an optional parameters map")
		return
	}

	exec, err := h.services.Executions.Launch(ctx, rid, req.Parameters)
	if err != nil {
		logger.Warn("Failed to launch execution", "revision", rid.String(), "error", err)
		writeServiceError(w, r, err)
		return
	}

	logger.Debug("Launched execution successfully", "execution_id", exec.ExecutionID, "revision", rid.String())
	w.Header().Set("Location", "/api/executions/"+exec.ExecutionID)
	writeJSON(w, http.StatusAccepted, executeResponse{
		ExecutionID: exec.ExecutionID,
		Status:      exec.Status,
	})
}

func (h *Handler) GetExecution(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logger.GetLogger(ctx)
	logger.Debug("GetExecution handler called")

	executionID := r.PathValue("executionId")
	summary, err := h.services.Executions.Summary(ctx, executionID)
	if err != nil {
		logger.Warn("Failed to get execution", "execution_id", executionID, "error", err)
		writeServiceError(w, r, err)
		return
	}

	logger.Debug("Retrieved execution successfully", "execution_id", executionID)
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) GetExecutionSteps(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logger.GetLogger(ctx)
	logger.Debug("GetExecutionSteps handler called")

	executionID := r.PathValue("executionId")
	results, err := h.services.Executions.GetStepResults(ctx, executionID)
	if err != nil {
		logger.Warn("Failed to get execution steps", "execution_id", executionID, "error", err)
		writeServiceError(w, r, err)
		return
	}

	logger.Debug("Retrieved execution steps successfully", "execution_id", executionID, "count", len(results))
	writeJSON(w, http.StatusOK, results)
}

func (h *Handler) CancelExecution(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logger.GetLogger(ctx)
	logger.Debug("CancelExecution handler called")

	executionID := r.PathValue("executionId")
	exec, err := h.services.Executions.Cancel(ctx, executionID)
	if err != nil {
		logger.Warn("Failed to cancel execution", "execution_id", executionID, "error", err)
		writeServiceError(w, r, err)
		return
	}

	logger.Debug("Requested execution cancellation", "execution_id", executionID)
	writeJSON(w, http.StatusAccepted, exec)
}

type paginationMeta struct {
	Total  int64 `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}

type pageLinks struct {
	Next string `json:"next,omitempty"`
	Prev string `json:"prev,omitempty"`
}

type historyResponse struct {
	Executions []services.ExecutionSummary `json:"executions"`
	Pagination paginationMeta              `json:"pagination"`
	Links      pageLinks                   `json:"links"`
}

func (h *Handler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logger.GetLogger(ctx)
	logger.Debug("ListExecutions handler called")

	wid := workflow.WorkflowID{
		Namespace: r.PathValue("namespace"),
		ID:        r.PathValue("workflowId"),
	}

	status, ok := queryStatus(w, r)
	if !ok {
		return
	}
	var version *int
	if raw := r.URL.Query().Get("version"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			writeProblem(w, r, http.StatusBadRequest, ProblemInvalidRevision,
				"Invalid query", "query parameter version must be a positive integer")
			return
		}
		version = &v
	}

	query := services.HistoryQuery{
		Version: version,
		Status:  status,
		Limit:   queryInt(r, "limit", 0),
		Offset:  queryInt(r, "offset", 0),
	}

	history, err := h.services.Executions.History(ctx, wid, query)
	if err != nil {
		logger.Warn("Failed to list executions", "workflow", wid.String(), "error", err)
		writeServiceError(w, r, err)
		return
	}

	logger.Debug("Listed executions successfully", "workflow", wid.String(), "count", len(history.Executions))
	writeJSON(w, http.StatusOK, historyResponse{
		Executions: history.Executions,
		Pagination: paginationMeta{
			Total:  history.Total,
			Limit:  history.Limit,
			Offset: history.Offset,
		},
		Links: historyLinks(r, history),
	})
}

// historyLinks derives the next/prev page links, preserving the caller's
// filter parameters.
func historyLinks(r *http.Request, history *services.History) pageLinks {
	pageURL := func(offset int) string {
		q := url.Values{}
		for _, name := range []string{"version", "status"} {
			if v := r.URL.Query().Get(name); v != "" {
				q.Set(name, v)
			}
		}
		q.Set("limit", strconv.Itoa(history.Limit))
		q.Set("offset", strconv.Itoa(offset))
		return r.URL.Path + "?" + q.Encode()
	}

	var links pageLinks
	if int64(history.Offset+history.Limit) < history.Total {
		links.Next = pageURL(history.Offset + history.Limit)
	}
	if history.Offset > 0 {
		prev := history.Offset - history.Limit
		if prev < 0 {
			prev = 0
		}
		links.Prev = pageURL(prev)
	}
	return links
}
