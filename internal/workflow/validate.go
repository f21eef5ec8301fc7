// Copyright 2026 The StepFlow Authors
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"

	"github.com/stepflow/stepflow/internal/workflow/step"
)

// Step tree guard rails. Deeper or larger trees are rejected at parse
// time to keep traversal stack depth and payload sizes bounded.
const (
	MaxStepDepth = 10
	MaxStepNodes = 1000
)

// identifierPattern constrains namespace and workflow id values.
var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,100}$`)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateIdentifier checks a namespace or workflow id against the
// allowed character set and length.
func ValidateIdentifier(field, value string) error {
	if !identifierPattern.MatchString(value) {
		return fmt.Errorf("%s must match [A-Za-z0-9_-] and be 1-100 characters, got %q", field, value)
	}
	return nil
}

// ValidateRevision checks all structural constraints of a revision: the
// identifier character set, field length limits, version positivity, and
// the step tree guard rails. It does not check timestamps; strictness
// around those belongs to the codec.
func ValidateRevision(r *Revision) error {
	if err := ValidateIdentifier("namespace", r.Namespace); err != nil {
		return err
	}
	if err := ValidateIdentifier("id", r.ID); err != nil {
		return err
	}
	if r.Version < 1 {
		return fmt.Errorf("version must be a positive integer, got %d", r.Version)
	}
	if err := validate.Struct(r); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return fmt.Errorf("field %s failed constraint %q", fe.Field(), fe.Tag())
		}
		return err
	}
	if r.Steps.Step == nil {
		return errors.New("revision has no steps")
	}
	return ValidateSteps(r.Steps.Step)
}

// ValidateSteps enforces the tree guard rails and each step's own
// structural constraints.
func ValidateSteps(root step.Step) error {
	nodes := 0
	return step.Walk(root, func(s step.Step, depth int) error {
		if depth > MaxStepDepth {
			return fmt.Errorf("step tree exceeds maximum depth of %d", MaxStepDepth)
		}
		nodes++
		if nodes > MaxStepNodes {
			return fmt.Errorf("step tree exceeds maximum of %d nodes", MaxStepNodes)
		}
		if s == nil {
			return errors.New("step tree contains an empty node")
		}
		if v, ok := s.(step.Validatable); ok {
			if err := v.Validate(); err != nil {
				return fmt.Errorf("%s step: %w", s.Kind(), err)
			}
		}
		return nil
	})
}
