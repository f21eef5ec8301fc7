// Copyright 2026 The StepFlow Authors
// SPDX-License-Identifier: Apache-2.0

package step

import (
	"context"
	"errors"
)

// KindSequence is the registry tag of the sequential orchestration step.
const KindSequence = "Sequence"

// Sequence executes its children strictly in declared order. A FAILED
// child stops the walk; the remaining children are never visited.
type Sequence struct {
	ID    string `yaml:"id,omitempty" json:"id,omitempty"`
	Steps []Node `yaml:"steps" json:"steps"`
}

func init() {
	Register(Definition{
		Tag:         KindSequence,
		New:         func() Step { return &Sequence{} },
		DisplayName: "Sequence",
		Description: "Runs the contained steps one after another, stopping at the first failure.",
	})
}

func (s *Sequence) Kind() string   { return KindSequence }
func (s *Sequence) StepID() string { return s.ID }

// Children implements Container.
func (s *Sequence) Children() []Step {
	children := make([]Step, 0, len(s.Steps))
	for _, n := range s.Steps {
		children = append(children, n.Step)
	}
	return children
}

// Validate implements Validatable.
func (s *Sequence) Validate() error {
	if len(s.Steps) == 0 {
		return errors.New("sequence has no steps")
	}
	return nil
}

// Orchestrate implements Orchestrator.
func (s *Sequence) Orchestrate(ctx context.Context, w Walker, sc *Scope) (Status, error) {
	for _, child := range s.Steps {
		status, err := w.Walk(ctx, child.Step, sc)
		if err != nil {
			return StatusFailed, err
		}
		if status == StatusFailed {
			return StatusFailed, nil
		}
	}
	return StatusCompleted, nil
}
