// Copyright 2026 The StepFlow Authors
// SPDX-License-Identifier: Apache-2.0

package step

import "maps"

// Scope is the evolving key-value context propagated through a single
// execution. Input parameters are fixed at launch; every completed task
// contributes its output under the step's identifier.
type Scope struct {
	params  map[string]any
	outputs map[string]map[string]any
}

// NewScope creates a scope seeded with the execution's input parameters.
func NewScope(params map[string]any) *Scope {
	if params == nil {
		params = map[string]any{}
	}
	return &Scope{
		params:  params,
		outputs: make(map[string]map[string]any),
	}
}

// Params returns the launch parameters of the execution.
func (s *Scope) Params() map[string]any {
	return s.params
}

// Output returns the recorded output of the step with the given id.
func (s *Scope) Output(stepID string) (map[string]any, bool) {
	out, ok := s.outputs[stepID]
	return out, ok
}

// SetOutput records a completed step's output data. Anonymous steps
// (empty id) leave no trace in the scope.
func (s *Scope) SetOutput(stepID string, out map[string]any) {
	if stepID == "" || out == nil {
		return
	}
	s.outputs[stepID] = out
}

// Snapshot returns the scope as a plain map suitable for expression
// evaluation: params under "params", step outputs under "steps".
func (s *Scope) Snapshot() map[string]any {
	steps := make(map[string]any, len(s.outputs))
	for id, out := range s.outputs {
		steps[id] = maps.Clone(out)
	}
	return map[string]any{
		"params": maps.Clone(s.params),
		"steps":  steps,
	}
}
