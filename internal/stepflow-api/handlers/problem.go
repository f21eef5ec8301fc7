// Copyright 2026 The StepFlow Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"net/http"
)

// Problem type URIs. Each error kind of the service layer maps to one
// stable URI so clients can switch on type rather than on detail text.
const (
	ProblemInvalidRevision = "https://stepflow.dev/problems/invalid-revision"
	ProblemInvalidYAML     = "https://stepflow.dev/problems/invalid-yaml"
	ProblemUnknownStepType = "https://stepflow.dev/problems/unknown-step-type"
	ProblemInvalidHeader   = "https://stepflow.dev/problems/invalid-header"
	ProblemNotFound        = "https://stepflow.dev/problems/not-found"
	ProblemAlreadyExists   = "https://stepflow.dev/problems/already-exists"
	ProblemActiveConflict  = "https://stepflow.dev/problems/active-conflict"
	ProblemOptimisticLock  = "https://stepflow.dev/problems/optimistic-lock"
	ProblemInternal        = "https://stepflow.dev/problems/internal"
)

// problem is an RFC 9457 Problem-Details body. The two updatedAt fields
// are extension members carried only on optimistic-lock failures.
type problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	ExpectedUpdatedAt string `json:"expectedUpdatedAt,omitempty"`
	ActualUpdatedAt   string `json:"actualUpdatedAt,omitempty"`
}

func writeProblem(w http.ResponseWriter, r *http.Request, status int, typeURI, title, detail string) {
	writeProblemBody(w, problem{
		Type:     typeURI,
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
	})
}

func writeProblemBody(w http.ResponseWriter, p problem) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p) // Ignore encoding errors for response
}
