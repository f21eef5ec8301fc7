// Copyright 2026 The StepFlow Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import "errors"

// Store errors. The use-case layer maps these onto its own taxonomy.
var (
	// ErrNotFound is returned when the addressed row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists is returned on key collisions.
	ErrAlreadyExists = errors.New("record already exists")
	// ErrActiveRevision is returned when an operation requires an
	// inactive revision but the stored row is active.
	ErrActiveRevision = errors.New("revision is active")
	// ErrTerminalState is returned when a status update addresses an
	// execution that already reached a terminal status.
	ErrTerminalState = errors.New("execution already in a terminal state")
)
