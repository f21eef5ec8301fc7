// Copyright 2026 The StepFlow Authors
// SPDX-License-Identifier: Apache-2.0

// Package handlers exposes the StepFlow API over HTTP. Revision bodies
// travel as YAML; execution data and error responses travel as JSON
// (Problem-Details for errors).
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/stepflow/stepflow/internal/server/middleware/logger"
	"github.com/stepflow/stepflow/internal/stepflow-api/services"
	"github.com/stepflow/stepflow/pkg/middleware"
)

// Handler holds the services and provides HTTP handlers
type Handler struct {
	services *services.Services
	logger   *slog.Logger
}

// New creates a new Handler instance
func New(services *services.Services, logger *slog.Logger) *Handler {
	return &Handler{
		services: services,
		logger:   logger,
	}
}

// Routes sets up all HTTP routes and returns the configured handler
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	// Global middlewares - applies to all routes
	loggerMiddleware := logger.Middleware(h.logger)
	routes := middleware.NewRouteBuilder(mux).With(loggerMiddleware)

	// Health & Readiness checks
	routes.HandleFunc("GET /health", h.Health)
	routes.HandleFunc("GET /ready", h.Ready)

	// Workflow & revision management
	routes.HandleFunc("POST /api/workflows", h.CreateWorkflow)
	routes.HandleFunc("GET /api/workflows/{namespace}", h.ListWorkflows)
	routes.HandleFunc("POST /api/workflows/{namespace}/{workflowId}", h.CreateRevision)
	routes.HandleFunc("GET /api/workflows/{namespace}/{workflowId}", h.ListRevisions)
	routes.HandleFunc("DELETE /api/workflows/{namespace}/{workflowId}", h.DeleteWorkflow)
	routes.HandleFunc("GET /api/workflows/{namespace}/{workflowId}/{version}", h.GetRevision)
	routes.HandleFunc("PUT /api/workflows/{namespace}/{workflowId}/{version}", h.UpdateRevision)
	routes.HandleFunc("DELETE /api/workflows/{namespace}/{workflowId}/{version}", h.DeleteRevision)
	routes.HandleFunc("POST /api/workflows/{namespace}/{workflowId}/{version}/activate", h.ActivateRevision)
	routes.HandleFunc("POST /api/workflows/{namespace}/{workflowId}/{version}/deactivate", h.DeactivateRevision)

	// Execution lifecycle
	routes.HandleFunc("POST /api/workflows/{namespace}/{workflowId}/{version}/execute", h.ExecuteRevision)
	routes.HandleFunc("GET /api/workflows/{namespace}/{workflowId}/executions", h.ListExecutions)
	routes.HandleFunc("GET /api/executions/{executionId}", h.GetExecution)
	routes.HandleFunc("GET /api/executions/{executionId}/steps", h.GetExecutionSteps)
	routes.HandleFunc("POST /api/executions/{executionId}/cancel", h.CancelExecution)

	return mux
}

// Health handles health check requests
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK")) // Ignore write errors for health checks
}

// Ready handles readiness check requests
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Ready")) // Ignore write errors for health checks
}
