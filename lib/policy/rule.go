// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/jsonc"
)

// Action is the outcome of a policy check.
type Action int

const (
	Receive Action = iota
	Reject
	Drop
)

func (action Action) String() string {
	switch action {
	case Receive:
		return "RECEIVE"
	case Reject:
		return "REJECT"
	case Drop:
		return "DROP"
	default:
		return fmt.Sprintf("Action(%d)", int(action))
	}
}

// ParseAction accepts RECEIVE, REJECT or DROP in any case.
func ParseAction(value string) (Action, error) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "RECEIVE":
		return Receive, nil
	case "REJECT":
		return Reject, nil
	case "DROP":
		return Drop, nil
	default:
		return 0, fmt.Errorf("policy: unknown action %q", value)
	}
}

func (action Action) MarshalText() ([]byte, error) {
	return []byte(action.String()), nil
}

func (action *Action) UnmarshalText(text []byte) error {
	parsed, err := ParseAction(string(text))
	if err != nil {
		return err
	}
	*action = parsed
	return nil
}

// FieldType selects how a field's attribute value is interpreted.
type FieldType string

const (
	Text FieldType = "TEXT"
	Long FieldType = "LONG"
	Date FieldType = "DATE"
)

// Field declares a field rules may test. Name is matched against
// attribute keys case-insensitively.
type Field struct {
	Name string    `json:"name"`
	Type FieldType `json:"type"`
}

// Rule is one entry of the rule list.
type Rule struct {
	RuleNumber int         `json:"ruleNumber"`
	Name       string      `json:"name,omitempty"`
	Enabled    bool        `json:"enabled"`
	Expression *Expression `json:"expression"`
	Action     Action      `json:"action"`
}

// Active reports whether the rule takes part in checks: it is enabled
// and its root expression is enabled.
func (rule *Rule) Active() bool {
	return rule.Enabled && rule.Expression != nil && rule.Expression.IsEnabled()
}

// RuleSet is a field catalogue and an ordered rule list.
type RuleSet struct {
	Fields []Field `json:"fields"`
	Rules  []Rule  `json:"rules"`
}

// ParseRuleSet strips JSONC comments and trailing commas from data and
// unmarshals a RuleSet.
func ParseRuleSet(data []byte) (*RuleSet, error) {
	var set RuleSet
	if err := json.Unmarshal(jsonc.ToJSON(data), &set); err != nil {
		return nil, fmt.Errorf("policy: parsing rule set: %w", err)
	}
	for i, field := range set.Fields {
		switch FieldType(strings.ToUpper(string(field.Type))) {
		case Text, Long, Date:
			set.Fields[i].Type = FieldType(strings.ToUpper(string(field.Type)))
		case "NUMBER":
			set.Fields[i].Type = Long
		default:
			return nil, fmt.Errorf("policy: field %q has unknown type %q", field.Name, field.Type)
		}
	}
	return &set, nil
}
