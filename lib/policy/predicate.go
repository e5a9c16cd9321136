// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/bureau-foundation/intake/lib/attrmap"
)

// predicate evaluates a compiled expression. An error means the
// attribute value could not be interpreted as the field's type.
type predicate func(attributes *attrmap.Map) (bool, error)

func always(result bool) predicate {
	return func(*attrmap.Map) (bool, error) { return result, nil }
}

type compiler struct {
	// fields maps lower-cased names to declarations.
	fields  map[string]Field
	regexes *lru.Cache[string, *regexp.Regexp]
}

func (c *compiler) compile(expression *Expression) (predicate, error) {
	if expression.IsTerm() {
		return c.compileTerm(expression)
	}

	var children []predicate
	for _, child := range expression.Children {
		if child == nil || !child.IsEnabled() {
			continue
		}
		compiled, err := c.compile(child)
		if err != nil {
			return nil, err
		}
		children = append(children, compiled)
	}

	switch Op(strings.ToUpper(string(expression.Op))) {
	case And:
		return all(children), nil
	case Or:
		if len(children) == 0 {
			return always(true), nil
		}
		return func(attributes *attrmap.Map) (bool, error) {
			for _, child := range children {
				matched, err := child(attributes)
				if err != nil {
					return false, err
				}
				if matched {
					return true, nil
				}
			}
			return false, nil
		}, nil
	case Not:
		inner := all(children)
		return func(attributes *attrmap.Map) (bool, error) {
			matched, err := inner(attributes)
			return !matched, err
		}, nil
	default:
		return nil, fmt.Errorf("unknown operator %q", expression.Op)
	}
}

func all(children []predicate) predicate {
	return func(attributes *attrmap.Map) (bool, error) {
		for _, child := range children {
			matched, err := child(attributes)
			if err != nil {
				return false, err
			}
			if !matched {
				return false, nil
			}
		}
		return true, nil
	}
}

func (c *compiler) compileTerm(term *Expression) (predicate, error) {
	field, declared := c.fields[strings.ToLower(term.Field)]
	if !declared {
		return always(false), nil
	}

	condition := Condition(strings.ToUpper(string(term.Condition)))
	switch condition {
	case IsNull:
		return func(attributes *attrmap.Map) (bool, error) {
			return attributes.Get(field.Name) == "", nil
		}, nil
	case IsNotNull:
		return func(attributes *attrmap.Map) (bool, error) {
			return attributes.Get(field.Name) != "", nil
		}, nil
	}

	var compare func(value string) (bool, error)
	var err error
	switch field.Type {
	case Text:
		compare, err = c.compileText(condition, term.Value)
	case Long:
		compare, err = compileOrdered(condition, term.Value, parseLong)
	case Date:
		compare, err = compileOrdered(condition, term.Value, parseDate)
	default:
		err = fmt.Errorf("unknown field type %q", field.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("field %s: %w", field.Name, err)
	}

	return func(attributes *attrmap.Map) (bool, error) {
		value := attributes.Get(field.Name)
		if value == "" {
			return false, nil
		}
		matched, err := compare(value)
		if err != nil {
			return false, fmt.Errorf("field %s: %w", field.Name, err)
		}
		return matched, nil
	}, nil
}

func (c *compiler) compileText(condition Condition, operand string) (func(string) (bool, error), error) {
	switch condition {
	case Equals, NotEquals:
		matches := func(value string) bool { return value == operand }
		if strings.ContainsAny(operand, "*?") {
			pattern, err := c.regex(wildcardPattern(operand))
			if err != nil {
				return nil, err
			}
			matches = pattern.MatchString
		}
		if condition == NotEquals {
			return func(value string) (bool, error) { return !matches(value), nil }, nil
		}
		return func(value string) (bool, error) { return matches(value), nil }, nil
	case Contains:
		return func(value string) (bool, error) { return strings.Contains(value, operand), nil }, nil
	case StartsWith:
		return func(value string) (bool, error) { return strings.HasPrefix(value, operand), nil }, nil
	case EndsWith:
		return func(value string) (bool, error) { return strings.HasSuffix(value, operand), nil }, nil
	case GreaterThan, GreaterThanOrEqualTo, LessThan, LessThanOrEqualTo:
		return func(value string) (bool, error) {
			return ordered(condition, strings.Compare(value, operand)), nil
		}, nil
	case Between:
		low, high, err := splitRange(operand)
		if err != nil {
			return nil, err
		}
		return func(value string) (bool, error) { return value >= low && value <= high, nil }, nil
	case In:
		members := splitList(operand)
		return func(value string) (bool, error) { return slices.Contains(members, value), nil }, nil
	case MatchesRegex:
		pattern, err := c.regex("^(?:" + operand + ")$")
		if err != nil {
			return nil, err
		}
		return func(value string) (bool, error) { return pattern.MatchString(value), nil }, nil
	default:
		return nil, fmt.Errorf("condition %s is not supported for text", condition)
	}
}

func compileOrdered(condition Condition, operand string, parse func(string) (int64, error)) (func(string) (bool, error), error) {
	evaluate := func(test func(int64) bool) func(string) (bool, error) {
		return func(value string) (bool, error) {
			parsed, err := parse(value)
			if err != nil {
				return false, err
			}
			return test(parsed), nil
		}
	}

	switch condition {
	case Equals, NotEquals, GreaterThan, GreaterThanOrEqualTo, LessThan, LessThanOrEqualTo:
		target, err := parse(operand)
		if err != nil {
			return nil, err
		}
		return evaluate(func(value int64) bool {
			switch {
			case condition == Equals:
				return value == target
			case condition == NotEquals:
				return value != target
			default:
				return ordered(condition, compareInt64(value, target))
			}
		}), nil
	case Between:
		lowText, highText, err := splitRange(operand)
		if err != nil {
			return nil, err
		}
		low, err := parse(lowText)
		if err != nil {
			return nil, err
		}
		high, err := parse(highText)
		if err != nil {
			return nil, err
		}
		return evaluate(func(value int64) bool { return value >= low && value <= high }), nil
	case In:
		var members []int64
		for _, member := range splitList(operand) {
			parsed, err := parse(member)
			if err != nil {
				return nil, err
			}
			members = append(members, parsed)
		}
		return evaluate(func(value int64) bool { return slices.Contains(members, value) }), nil
	default:
		return nil, fmt.Errorf("condition %s is not supported for numbers or dates", condition)
	}
}

func ordered(condition Condition, comparison int) bool {
	switch condition {
	case GreaterThan:
		return comparison > 0
	case GreaterThanOrEqualTo:
		return comparison >= 0
	case LessThan:
		return comparison < 0
	case LessThanOrEqualTo:
		return comparison <= 0
	default:
		return false
	}
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func (c *compiler) regex(pattern string) (*regexp.Regexp, error) {
	if cached, ok := c.regexes.Get(pattern); ok {
		return cached, nil
	}
	compiled, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}
	c.regexes.Add(pattern, compiled)
	return compiled, nil
}

// wildcardPattern converts '*' and '?' wildcards to an anchored regular
// expression.
func wildcardPattern(value string) string {
	var builder strings.Builder
	builder.WriteString("^")
	for _, r := range value {
		switch r {
		case '*':
			builder.WriteString(".*")
		case '?':
			builder.WriteString(".")
		default:
			builder.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	builder.WriteString("$")
	return builder.String()
}

func splitRange(operand string) (string, string, error) {
	low, high, found := strings.Cut(operand, ",")
	if !found {
		return "", "", fmt.Errorf("BETWEEN needs \"low,high\", got %q", operand)
	}
	return strings.TrimSpace(low), strings.TrimSpace(high), nil
}

func splitList(operand string) []string {
	var members []string
	for _, member := range strings.Split(operand, ",") {
		if trimmed := strings.TrimSpace(member); trimmed != "" {
			members = append(members, trimmed)
		}
	}
	return members
}

func parseLong(value string) (int64, error) {
	parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", value)
	}
	return parsed, nil
}

// parseDate accepts RFC 3339 or epoch milliseconds and returns epoch
// milliseconds.
func parseDate(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if milliseconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		return milliseconds, nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return 0, fmt.Errorf("%q is not a date", value)
	}
	return parsed.UnixMilli(), nil
}
