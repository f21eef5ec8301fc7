// Copyright 2026 The StepFlow Authors
// SPDX-License-Identifier: Apache-2.0

package services

import (
	"errors"
	"fmt"
	"time"
)

// Common service errors. Handlers translate these into wire responses;
// nothing below this layer knows about HTTP.
var (
	ErrWorkflowNotFound      = errors.New("workflow not found")
	ErrRevisionNotFound      = errors.New("workflow revision not found")
	ErrExecutionNotFound     = errors.New("execution not found")
	ErrWorkflowAlreadyExists = errors.New("workflow already exists")
	ErrRevisionConflict      = errors.New("workflow revision already exists")
	ErrRevisionActive        = errors.New("revision is active and cannot be modified")
	ErrRevisionMismatch      = errors.New("revision identifiers do not match the request path")
	ErrInvalidRevision       = errors.New("invalid revision")
	ErrInvalidLockToken      = errors.New("missing or malformed concurrency token")
)

// OptimisticLockError reports a stale updatedAt token. Expected is the
// token the client presented; Actual is the value currently stored.
type OptimisticLockError struct {
	Expected time.Time
	Actual   time.Time
}

func (e *OptimisticLockError) Error() string {
	return fmt.Sprintf("revision was modified concurrently: expected updatedAt %s, actual %s",
		e.Expected.UTC().Format(time.RFC3339Nano), e.Actual.UTC().Format(time.RFC3339Nano))
}
