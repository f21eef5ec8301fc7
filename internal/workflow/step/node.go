// Copyright 2026 The StepFlow Authors
// SPDX-License-Identifier: Apache-2.0

package step

import (
	"encoding/json"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Node wraps a polymorphic Step for serialization. Authored sources carry
// a `type` discriminator on every step mapping; Node resolves it through
// DefaultRegistry on the way in and re-emits it on the way out, so the
// set of step kinds stays open.
type Node struct {
	Step Step
}

// ErrMissingType is returned when a step mapping carries no `type` key.
var ErrMissingType = errors.New("step is missing a type")

// UnmarshalYAML decodes a step mapping by resolving its `type` tag in the
// registry and decoding the remaining fields into the concrete type.
func (n *Node) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("step must be a mapping, got %s at line %d", yamlKindName(value.Kind), value.Line)
	}

	tag := ""
	for i := 0; i+1 < len(value.Content); i += 2 {
		if value.Content[i].Value == "type" {
			tag = value.Content[i+1].Value
			break
		}
	}
	if tag == "" {
		return fmt.Errorf("%w at line %d", ErrMissingType, value.Line)
	}

	def, err := Lookup(tag)
	if err != nil {
		return err
	}

	s := def.New()
	if err := value.Decode(s); err != nil {
		return fmt.Errorf("decoding %s step: %w", tag, err)
	}
	n.Step = s
	return nil
}

// MarshalYAML emits the concrete step's fields with its kind tag
// prepended as the `type` key.
func (n Node) MarshalYAML() (any, error) {
	if n.Step == nil {
		return nil, errors.New("cannot encode empty step node")
	}

	var body yaml.Node
	if err := body.Encode(n.Step); err != nil {
		return nil, err
	}
	if body.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("step %s did not encode to a mapping", n.Step.Kind())
	}

	typeKey := &yaml.Node{Kind: yaml.ScalarNode, Value: "type"}
	typeVal := &yaml.Node{Kind: yaml.ScalarNode, Value: n.Step.Kind()}
	body.Content = append([]*yaml.Node{typeKey, typeVal}, body.Content...)
	return &body, nil
}

// UnmarshalJSON mirrors UnmarshalYAML for the structured JSON
// representation persisted by the revision store.
func (n *Node) UnmarshalJSON(b []byte) error {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(b, &probe); err != nil {
		return err
	}
	if probe.Type == "" {
		return ErrMissingType
	}

	def, err := Lookup(probe.Type)
	if err != nil {
		return err
	}

	s := def.New()
	if err := json.Unmarshal(b, s); err != nil {
		return fmt.Errorf("decoding %s step: %w", probe.Type, err)
	}
	n.Step = s
	return nil
}

// MarshalJSON emits the concrete step's fields plus the `type`
// discriminator.
func (n Node) MarshalJSON() ([]byte, error) {
	if n.Step == nil {
		return nil, errors.New("cannot encode empty step node")
	}

	raw, err := json.Marshal(n.Step)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("step %s did not encode to an object: %w", n.Step.Kind(), err)
	}
	tag, err := json.Marshal(n.Step.Kind())
	if err != nil {
		return nil, err
	}
	fields["type"] = tag
	return json.Marshal(fields)
}

// Walk visits root and every step reachable through Container children,
// depth-first, passing the 1-based depth of each step. Traversal stops at
// the first error.
func Walk(root Step, fn func(s Step, depth int) error) error {
	return walk(root, 1, fn)
}

func walk(s Step, depth int, fn func(Step, int) error) error {
	if s == nil {
		return nil
	}
	if err := fn(s, depth); err != nil {
		return err
	}
	c, ok := s.(Container)
	if !ok {
		return nil
	}
	for _, child := range c.Children() {
		if err := walk(child, depth+1, fn); err != nil {
			return err
		}
	}
	return nil
}

func yamlKindName(k yaml.Kind) string {
	switch k {
	case yaml.DocumentNode:
		return "document"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.MappingNode:
		return "mapping"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return "unknown"
	}
}
