// Copyright 2026 The StepFlow Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec translates workflow revisions between their authored YAML
// source and the structured form, and rewrites system-owned metadata
// fields inside source text without disturbing the rest of the document.
package codec

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stepflow/stepflow/internal/workflow"
	"github.com/stepflow/stepflow/internal/workflow/step"
)

// ErrorKind classifies parse failures for boundary mapping.
type ErrorKind string

const (
	ErrorInvalidYAML     ErrorKind = "INVALID_YAML"
	ErrorInvalidRevision ErrorKind = "INVALID_REVISION"
	ErrorUnknownStepType ErrorKind = "UNKNOWN_STEP_TYPE"
)

// ParseError is the codec's error type. Kind is stable; Detail is meant
// for humans.
type ParseError struct {
	Kind   ErrorKind
	Detail string
	cause  error
}

func (e *ParseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *ParseError) Unwrap() error { return e.cause }

func parseErr(kind ErrorKind, detail string, cause error) *ParseError {
	return &ParseError{Kind: kind, Detail: detail, cause: cause}
}

// TimeFormat is the canonical timestamp rendering in authored sources:
// RFC 3339 in UTC with millisecond precision.
const TimeFormat = "2006-01-02T15:04:05.000Z07:00"

// FormatTime renders t in the canonical source format.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// ParseTime parses a timestamp from authored source, accepting any
// RFC 3339 precision.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// revisionDoc is the loose YAML shape of an authored revision. Timestamps
// stay strings so quoting style never changes their meaning; the steps
// subtree stays a raw node until the registry resolves it.
type revisionDoc struct {
	Namespace   string    `yaml:"namespace"`
	ID          string    `yaml:"id"`
	Version     int       `yaml:"version"`
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Active      bool      `yaml:"active"`
	CreatedAt   string    `yaml:"createdAt"`
	UpdatedAt   string    `yaml:"updatedAt"`
	Steps       yaml.Node `yaml:"steps"`
}

// ParseRevision parses authored YAML into a structured revision.
//
// With strict=false (creation) the identifiers, version and timestamps
// may be absent; the use-case layer assigns them. With strict=true
// (update) the document must be complete, in particular updatedAt must be
// present so the optimistic lock has a token to compare.
func ParseRevision(source string, strict bool) (*workflow.Revision, error) {
	if strings.TrimSpace(source) == "" {
		return nil, parseErr(ErrorInvalidYAML, "source is empty", nil)
	}

	var doc revisionDoc
	if err := yaml.Unmarshal([]byte(source), &doc); err != nil {
		if errors.Is(err, step.ErrUnknownKind) {
			return nil, parseErr(ErrorUnknownStepType, "unregistered step type", err)
		}
		if errors.Is(err, step.ErrMissingType) {
			return nil, parseErr(ErrorInvalidRevision, "step without a type", err)
		}
		return nil, parseErr(ErrorInvalidYAML, "malformed YAML", err)
	}

	rev := &workflow.Revision{
		Namespace:   doc.Namespace,
		ID:          doc.ID,
		Version:     doc.Version,
		Name:        doc.Name,
		Description: doc.Description,
		Active:      doc.Active,
	}

	if err := checkFields(&doc, strict); err != nil {
		return nil, err
	}

	root, err := decodeSteps(&doc.Steps)
	if err != nil {
		return nil, err
	}
	rev.Steps = step.Node{Step: root}

	if err := workflow.ValidateSteps(root); err != nil {
		return nil, parseErr(ErrorInvalidRevision, "invalid step tree", err)
	}

	if doc.CreatedAt != "" {
		t, err := ParseTime(doc.CreatedAt)
		if err != nil {
			return nil, parseErr(ErrorInvalidRevision, "createdAt is not a valid RFC 3339 timestamp", err)
		}
		rev.CreatedAt = t
	}
	if doc.UpdatedAt != "" {
		t, err := ParseTime(doc.UpdatedAt)
		if err != nil {
			return nil, parseErr(ErrorInvalidRevision, "updatedAt is not a valid RFC 3339 timestamp", err)
		}
		rev.UpdatedAt = t
	}

	return rev, nil
}

// checkFields validates the shape constraints the codec owns. Identifier
// assignment and the full structural validation happen in the use-case
// layer once path authority has been applied.
func checkFields(doc *revisionDoc, strict bool) error {
	if doc.Namespace != "" {
		if err := workflow.ValidateIdentifier("namespace", doc.Namespace); err != nil {
			return parseErr(ErrorInvalidRevision, "invalid namespace", err)
		}
	}
	if doc.ID != "" {
		if err := workflow.ValidateIdentifier("id", doc.ID); err != nil {
			return parseErr(ErrorInvalidRevision, "invalid id", err)
		}
	}
	if doc.Name == "" || len(doc.Name) > 255 {
		return parseErr(ErrorInvalidRevision, "name is required and must be at most 255 characters", nil)
	}
	if len(doc.Description) > 1000 {
		return parseErr(ErrorInvalidRevision, "description must be at most 1000 characters", nil)
	}
	if doc.Version < 0 {
		return parseErr(ErrorInvalidRevision, "version must be a positive integer", nil)
	}

	if strict {
		if doc.Namespace == "" || doc.ID == "" {
			return parseErr(ErrorInvalidRevision, "namespace and id are required", nil)
		}
		if doc.Version < 1 {
			return parseErr(ErrorInvalidRevision, "version must be a positive integer", nil)
		}
		if doc.UpdatedAt == "" {
			return parseErr(ErrorInvalidRevision, "updatedAt is required", nil)
		}
	}
	return nil
}

// decodeSteps resolves the polymorphic steps subtree. A sequence at the
// top level is shorthand for a Sequence step wrapping its elements.
func decodeSteps(node *yaml.Node) (step.Step, error) {
	if node == nil || node.IsZero() {
		return nil, parseErr(ErrorInvalidRevision, "steps is required", nil)
	}

	switch node.Kind {
	case yaml.SequenceNode:
		var children []step.Node
		if err := node.Decode(&children); err != nil {
			return nil, stepDecodeErr(err)
		}
		return &step.Sequence{Steps: children}, nil
	case yaml.MappingNode:
		var n step.Node
		if err := node.Decode(&n); err != nil {
			return nil, stepDecodeErr(err)
		}
		return n.Step, nil
	default:
		return nil, parseErr(ErrorInvalidRevision, "steps must be a step mapping or a sequence of steps", nil)
	}
}

func stepDecodeErr(err error) error {
	if errors.Is(err, step.ErrUnknownKind) {
		return parseErr(ErrorUnknownStepType, "unregistered step type", err)
	}
	if errors.Is(err, step.ErrMissingType) {
		return parseErr(ErrorInvalidRevision, "step without a type", err)
	}
	return parseErr(ErrorInvalidYAML, "malformed step", err)
}

// revisionYAML fixes the canonical key order for emitted revisions.
type revisionYAML struct {
	Namespace   string    `yaml:"namespace"`
	ID          string    `yaml:"id"`
	Version     int       `yaml:"version"`
	Name        string    `yaml:"name"`
	Description string    `yaml:"description,omitempty"`
	Active      bool      `yaml:"active"`
	CreatedAt   string    `yaml:"createdAt"`
	UpdatedAt   string    `yaml:"updatedAt"`
	Steps       step.Node `yaml:"steps"`
}

// EncodeRevision emits a revision as canonical YAML. Used for responses
// that are not derived from user-authored text.
func EncodeRevision(rev *workflow.Revision) (string, error) {
	return ToYAML(&revisionYAML{
		Namespace:   rev.Namespace,
		ID:          rev.ID,
		Version:     rev.Version,
		Name:        rev.Name,
		Description: rev.Description,
		Active:      rev.Active,
		CreatedAt:   FormatTime(rev.CreatedAt),
		UpdatedAt:   FormatTime(rev.UpdatedAt),
		Steps:       rev.Steps,
	})
}

// EncodeRevisions emits a list of revisions as one canonical YAML
// sequence document.
func EncodeRevisions(revs []workflow.Revision) (string, error) {
	docs := make([]*revisionYAML, 0, len(revs))
	for i := range revs {
		r := &revs[i]
		docs = append(docs, &revisionYAML{
			Namespace:   r.Namespace,
			ID:          r.ID,
			Version:     r.Version,
			Name:        r.Name,
			Description: r.Description,
			Active:      r.Active,
			CreatedAt:   FormatTime(r.CreatedAt),
			UpdatedAt:   FormatTime(r.UpdatedAt),
			Steps:       r.Steps,
		})
	}
	return ToYAML(docs)
}

// ToYAML marshals any value as a YAML document with two-space indent.
func ToYAML(v any) (string, error) {
	var b strings.Builder
	enc := yaml.NewEncoder(&b)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	return b.String(), nil
}
