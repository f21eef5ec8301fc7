// Copyright 2026 The StepFlow Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/stepflow/stepflow/internal/server/middleware/logger"
	"github.com/stepflow/stepflow/internal/stepflow-api/services"
	"github.com/stepflow/stepflow/internal/workflow"
	"github.com/stepflow/stepflow/internal/workflow/codec"
)

// maxBodyBytes caps request bodies; authored workflow sources are small.
const maxBodyBytes = 1 << 20

// updatedAtHeader carries the optimistic-lock token on activation
// endpoints.
const updatedAtHeader = "X-Current-Updated-At"

// readBody reads the full request body. A false return means the error
// response has already been written.
func readBody(w http.ResponseWriter, r *http.Request) (string, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeProblem(w, r, http.StatusBadRequest, ProblemInvalidYAML,
			"Invalid request body", "request body could not be read")
		return "", false
	}
	return string(body), true
}

// pathVersion parses the {version} path segment.
func pathVersion(w http.ResponseWriter, r *http.Request) (int, bool) {
	v, err := strconv.Atoi(r.PathValue("version"))
	if err != nil || v < 1 {
		writeProblem(w, r, http.StatusBadRequest, ProblemInvalidRevision,
			"Invalid version", "version must be a positive integer")
		return 0, false
	}
	return v, true
}

func writeYAML(w http.ResponseWriter, statusCode int, source string) {
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(statusCode)
	_, _ = w.Write([]byte(source)) // Ignore write errors for response
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v) // Ignore encoding errors for response
}

// writeServiceError translates domain errors into Problem-Details
// responses. This is the only place where the error taxonomy meets HTTP.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.GetLogger(r.Context())

	var parseErr *codec.ParseError
	var lockErr *services.OptimisticLockError
	switch {
	case errors.As(err, &parseErr):
		switch parseErr.Kind {
		case codec.ErrorUnknownStepType:
			writeProblem(w, r, http.StatusBadRequest, ProblemUnknownStepType,
				"Unknown step type", parseErr.Detail)
		case codec.ErrorInvalidRevision:
			writeProblem(w, r, http.StatusBadRequest, ProblemInvalidRevision,
				"Invalid revision", parseErr.Detail)
		default:
			writeProblem(w, r, http.StatusBadRequest, ProblemInvalidYAML,
				"Invalid YAML", parseErr.Detail)
		}
	case errors.As(err, &lockErr):
		writeProblemBody(w, problem{
			Type:              ProblemOptimisticLock,
			Title:             "Concurrent modification",
			Status:            http.StatusConflict,
			Detail:            "the revision was modified since it was last read",
			Instance:          r.URL.Path,
			ExpectedUpdatedAt: codec.FormatTime(lockErr.Expected),
			ActualUpdatedAt:   codec.FormatTime(lockErr.Actual),
		})
	case errors.Is(err, services.ErrInvalidLockToken):
		writeProblem(w, r, http.StatusBadRequest, ProblemInvalidHeader,
			"Invalid header", updatedAtHeader+" header must carry the revision's current updatedAt")
	case errors.Is(err, services.ErrInvalidRevision),
		errors.Is(err, services.ErrRevisionMismatch):
		writeProblem(w, r, http.StatusBadRequest, ProblemInvalidRevision,
			"Invalid revision", err.Error())
	case errors.Is(err, services.ErrWorkflowNotFound),
		errors.Is(err, services.ErrRevisionNotFound),
		errors.Is(err, services.ErrExecutionNotFound):
		writeProblem(w, r, http.StatusNotFound, ProblemNotFound,
			"Not found", err.Error())
	case errors.Is(err, services.ErrWorkflowAlreadyExists),
		errors.Is(err, services.ErrRevisionConflict):
		writeProblem(w, r, http.StatusConflict, ProblemAlreadyExists,
			"Already exists", err.Error())
	case errors.Is(err, services.ErrRevisionActive):
		writeProblem(w, r, http.StatusConflict, ProblemActiveConflict,
			"Active revision", err.Error())
	default:
		log.Error("request failed", "error", err)
		writeProblem(w, r, http.StatusInternalServerError, ProblemInternal,
			"Internal server error", "")
	}
}

// queryStatus parses an optional status query parameter. A false second
// return with a written response means the value was invalid.
func queryStatus(w http.ResponseWriter, r *http.Request) (*workflow.ExecutionStatus, bool) {
	raw := r.URL.Query().Get("status")
	if raw == "" {
		return nil, true
	}
	status := workflow.ExecutionStatus(raw)
	if !status.Valid() {
		writeProblem(w, r, http.StatusBadRequest, ProblemInvalidRevision,
			"Invalid query", "status must be one of PENDING, RUNNING, COMPLETED, FAILED, CANCELLED")
		return nil, false
	}
	return &status, true
}

// queryInt parses an optional non-negative integer query parameter,
// returning def when absent, unparseable, or negative.
func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}
