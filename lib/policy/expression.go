// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import "strings"

// Op combines child expressions.
type Op string

const (
	And Op = "AND"
	Or  Op = "OR"
	Not Op = "NOT"
)

// Condition compares a field against Value.
type Condition string

const (
	Equals               Condition = "EQUALS"
	NotEquals            Condition = "NOT_EQUALS"
	Contains             Condition = "CONTAINS"
	StartsWith           Condition = "STARTS_WITH"
	EndsWith             Condition = "ENDS_WITH"
	GreaterThan          Condition = "GREATER_THAN"
	GreaterThanOrEqualTo Condition = "GREATER_THAN_OR_EQUAL_TO"
	LessThan             Condition = "LESS_THAN"
	LessThanOrEqualTo    Condition = "LESS_THAN_OR_EQUAL_TO"
	Between              Condition = "BETWEEN"
	In                   Condition = "IN"
	IsNull               Condition = "IS_NULL"
	IsNotNull            Condition = "IS_NOT_NULL"
	MatchesRegex         Condition = "MATCHES_REGEX"
)

// Expression is a node of a rule's boolean tree. A node with Op set
// is an operator over Children; a node with Field set is a term.
//
// EQUALS on text treats '*' and '?' in Value as wildcards. BETWEEN
// takes "low,high" (inclusive) and IN a comma-separated list.
type Expression struct {
	Op       Op            `json:"op,omitempty"`
	Enabled  *bool         `json:"enabled,omitempty"`
	Children []*Expression `json:"children,omitempty"`

	Field     string    `json:"field,omitempty"`
	Condition Condition `json:"condition,omitempty"`
	Value     string    `json:"value,omitempty"`
}

// IsEnabled reports whether the node takes part in evaluation. Nodes
// are enabled unless explicitly disabled.
func (e *Expression) IsEnabled() bool {
	return e.Enabled == nil || *e.Enabled
}

// IsTerm reports whether the node is a field comparison.
func (e *Expression) IsTerm() bool {
	return e.Op == "" && e.Field != ""
}

// ReferencedFields adds the lower-cased names of every field referenced
// by enabled nodes of e to names.
func (e *Expression) ReferencedFields(names map[string]bool) {
	if e == nil || !e.IsEnabled() {
		return
	}
	if e.IsTerm() {
		names[strings.ToLower(e.Field)] = true
		return
	}
	for _, child := range e.Children {
		child.ReferencedFields(names)
	}
}
