// Copyright 2026 The StepFlow Authors
// SPDX-License-Identifier: Apache-2.0

package step

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/ext"
)

// KindIf is the registry tag of the conditional orchestration step.
const KindIf = "If"

// If evaluates a CEL condition against the execution scope and walks the
// `then` branch when it holds, the `else` branch otherwise. Condition
// evaluation is deterministic and side-effect free; an evaluation error
// is an ordinary step failure.
type If struct {
	ID        string `yaml:"id,omitempty" json:"id,omitempty"`
	Condition string `yaml:"condition" json:"condition"`
	Then      *Node  `yaml:"then" json:"then"`
	Else      *Node  `yaml:"else,omitempty" json:"else,omitempty"`

	compileOnce sync.Once
	prg         cel.Program
	prgErr      error
}

func init() {
	Register(Definition{
		Tag:         KindIf,
		New:         func() Step { return &If{} },
		DisplayName: "If",
		Description: "Walks the then-branch when the condition holds, the else-branch otherwise.",
	})
}

func (s *If) Kind() string   { return KindIf }
func (s *If) StepID() string { return s.ID }

// Children implements Container.
func (s *If) Children() []Step {
	var children []Step
	if s.Then != nil {
		children = append(children, s.Then.Step)
	}
	if s.Else != nil {
		children = append(children, s.Else.Step)
	}
	return children
}

// Validate implements Validatable. The condition is compiled eagerly so
// syntax errors surface at parse time rather than mid-execution.
func (s *If) Validate() error {
	if s.Condition == "" {
		return errors.New("if step requires a condition")
	}
	if s.Then == nil || s.Then.Step == nil {
		return errors.New("if step requires a then branch")
	}
	if _, err := s.program(); err != nil {
		return err
	}
	return nil
}

// Orchestrate implements Orchestrator.
func (s *If) Orchestrate(ctx context.Context, w Walker, sc *Scope) (Status, error) {
	hold, err := s.evaluate(sc)
	if err != nil {
		return StatusFailed, fmt.Errorf("condition %q: %w", s.Condition, err)
	}

	var branch *Node
	if hold {
		branch = s.Then
	} else {
		branch = s.Else
	}
	if branch == nil || branch.Step == nil {
		return StatusSkipped, nil
	}
	return w.Walk(ctx, branch.Step, sc)
}

func (s *If) evaluate(sc *Scope) (bool, error) {
	prg, err := s.program()
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(sc.Snapshot())
	if err != nil {
		return false, err
	}
	b, ok := out.(types.Bool)
	if !ok {
		return false, fmt.Errorf("condition evaluated to %s, want bool", out.Type().TypeName())
	}
	return bool(b), nil
}

func (s *If) program() (cel.Program, error) {
	s.compileOnce.Do(func() {
		env, err := conditionEnv()
		if err != nil {
			s.prgErr = err
			return
		}
		ast, iss := env.Compile(s.Condition)
		if iss != nil && iss.Err() != nil {
			s.prgErr = fmt.Errorf("compiling condition: %w", iss.Err())
			return
		}
		s.prg, s.prgErr = env.Program(ast)
	})
	return s.prg, s.prgErr
}

var (
	condEnvOnce sync.Once
	condEnv     *cel.Env
	condEnvErr  error
)

// conditionEnv builds the shared CEL environment for step conditions.
// Expressions see the launch parameters under `params` and completed step
// outputs under `steps`, keyed by step id.
func conditionEnv() (*cel.Env, error) {
	condEnvOnce.Do(func() {
		condEnv, condEnvErr = cel.NewEnv(
			cel.Variable("params", cel.MapType(cel.StringType, cel.DynType)),
			cel.Variable("steps", cel.MapType(cel.StringType, cel.DynType)),
			ext.Strings(),
		)
	})
	return condEnv, condEnvErr
}
