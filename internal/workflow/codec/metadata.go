// Copyright 2026 The StepFlow Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MetadataUpdate names the system-owned source fields UpdateMetadata may
// rewrite. Nil fields are left untouched.
type MetadataUpdate struct {
	Version   *int
	Active    *bool
	CreatedAt *time.Time
	UpdatedAt *time.Time
}

// UpdateMetadata rewrites the given metadata fields inside an authored
// source string. Everything else — comments, key order, unrelated keys,
// the whole steps subtree — is carried over from the original document.
// Keys that do not exist yet are appended to the top-level mapping.
func UpdateMetadata(source string, upd MetadataUpdate) (string, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(source), &doc); err != nil {
		return "", parseErr(ErrorInvalidYAML, "malformed YAML", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return "", parseErr(ErrorInvalidYAML, "source is not a YAML mapping", nil)
	}
	m := doc.Content[0]

	if upd.Version != nil {
		setScalar(m, "version", strconv.Itoa(*upd.Version), "!!int", 0)
	}
	if upd.Active != nil {
		setScalar(m, "active", strconv.FormatBool(*upd.Active), "!!bool", 0)
	}
	if upd.CreatedAt != nil {
		setScalar(m, "createdAt", FormatTime(*upd.CreatedAt), "!!str", yaml.DoubleQuotedStyle)
	}
	if upd.UpdatedAt != nil {
		setScalar(m, "updatedAt", FormatTime(*upd.UpdatedAt), "!!str", yaml.DoubleQuotedStyle)
	}

	var b strings.Builder
	enc := yaml.NewEncoder(&b)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return "", err
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	return b.String(), nil
}

// setScalar replaces the value of key in mapping m, or appends the pair
// when the key is absent. Replacement mutates the existing value node so
// attached comments survive.
func setScalar(m *yaml.Node, key, value, tag string, style yaml.Style) {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			v := m.Content[i+1]
			v.Kind = yaml.ScalarNode
			v.Tag = tag
			v.Value = value
			v.Style = style
			v.Content = nil
			v.Anchor = ""
			return
		}
	}
	m.Content = append(m.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		&yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: value, Style: style},
	)
}

// RequireUpdatedAt extracts the updatedAt field from authored source
// without a full parse. Used to obtain the optimistic-lock token.
func RequireUpdatedAt(source string) (time.Time, error) {
	var doc struct {
		UpdatedAt string `yaml:"updatedAt"`
	}
	if err := yaml.Unmarshal([]byte(source), &doc); err != nil {
		return time.Time{}, parseErr(ErrorInvalidYAML, "malformed YAML", err)
	}
	if doc.UpdatedAt == "" {
		return time.Time{}, parseErr(ErrorInvalidRevision, "updatedAt is required", nil)
	}
	t, err := ParseTime(doc.UpdatedAt)
	if err != nil {
		return time.Time{}, parseErr(ErrorInvalidRevision, "updatedAt is not a valid RFC 3339 timestamp", err)
	}
	return t, nil
}
