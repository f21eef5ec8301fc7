// Copyright 2026 The StepFlow Authors
// SPDX-License-Identifier: Apache-2.0

package step

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedWalker returns canned results per step id and records the
// order steps were walked in.
type scriptedWalker struct {
	results map[string]Status
	errs    map[string]error
	walked  []string
}

func (w *scriptedWalker) Walk(_ context.Context, s Step, _ *Scope) (Status, error) {
	w.walked = append(w.walked, s.StepID())
	if err, ok := w.errs[s.StepID()]; ok {
		return StatusFailed, err
	}
	if status, ok := w.results[s.StepID()]; ok {
		return status, nil
	}
	return StatusCompleted, nil
}

func seqOf(ids ...string) *Sequence {
	s := &Sequence{}
	for _, id := range ids {
		s.Steps = append(s.Steps, Node{Step: &LogTask{ID: id, Message: id}})
	}
	return s
}

func TestSequence_OrchestratesInOrder(t *testing.T) {
	w := &scriptedWalker{}
	seq := seqOf("a", "b", "c")

	status, err := seq.Orchestrate(context.Background(), w, NewScope(nil))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, status)
	assert.Equal(t, []string{"a", "b", "c"}, w.walked)
}

func TestSequence_StopsAtFirstFailure(t *testing.T) {
	w := &scriptedWalker{results: map[string]Status{"b": StatusFailed}}
	seq := seqOf("a", "b", "c")

	status, err := seq.Orchestrate(context.Background(), w, NewScope(nil))
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, status)
	assert.Equal(t, []string{"a", "b"}, w.walked, "c must never be visited")
}

func TestSequence_PropagatesWalkError(t *testing.T) {
	boom := errors.New("boom")
	w := &scriptedWalker{errs: map[string]error{"b": boom}}
	seq := seqOf("a", "b", "c")

	status, err := seq.Orchestrate(context.Background(), w, NewScope(nil))
	require.ErrorIs(t, err, boom)
	assert.Equal(t, StatusFailed, status)
}

func TestSequence_SkippedChildContinues(t *testing.T) {
	w := &scriptedWalker{results: map[string]Status{"b": StatusSkipped}}
	seq := seqOf("a", "b", "c")

	status, err := seq.Orchestrate(context.Background(), w, NewScope(nil))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, status)
	assert.Equal(t, []string{"a", "b", "c"}, w.walked)
}

func TestSequence_Validate(t *testing.T) {
	assert.Error(t, (&Sequence{}).Validate())
	assert.NoError(t, seqOf("a").Validate())
}
