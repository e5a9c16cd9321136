// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"log/slog"
	"regexp"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/bureau-foundation/intake/lib/attrmap"
)

// Fallbacks are the actions taken when no rule decides. The three
// cases are configured independently.
type Fallbacks struct {
	// NoMatch applies when active rules exist but none matches.
	NoMatch Action `yaml:"no_match"`

	// NoActiveRules applies when the rule set has no active rule.
	NoActiveRules Action `yaml:"no_active_rules"`

	// Unavailable applies when no rule set could be loaded at all.
	Unavailable Action `yaml:"unavailable"`
}

// DefaultFallbacks receives when rules are silent and rejects when the
// rule set cannot be read.
func DefaultFallbacks() Fallbacks {
	return Fallbacks{NoMatch: Receive, NoActiveRules: Receive, Unavailable: Reject}
}

// regexCacheSize bounds the compiled-pattern cache shared by a
// checker's rules.
const regexCacheSize = 256

// Checker evaluates a fixed rule set. Safe for concurrent use.
type Checker struct {
	rules     []Rule
	fallbacks Fallbacks
	compiler  *compiler
	logger    *slog.Logger

	// compiled parallels rules; each entry is built on first use.
	compiled []compiledRule
}

type compiledRule struct {
	once      sync.Once
	predicate predicate
	err       error
}

// NewChecker returns a Checker over the active rules of set.
func NewChecker(set *RuleSet, fallbacks Fallbacks, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var active []Rule
	referenced := make(map[string]bool)
	if set != nil {
		for _, rule := range set.Rules {
			if rule.Active() {
				active = append(active, rule)
				rule.Expression.ReferencedFields(referenced)
			}
		}
	}

	// Only fields the active rules use are resolved; the rest of the
	// catalogue is irrelevant to this checker.
	fields := make(map[string]Field, len(referenced))
	if set != nil {
		for _, field := range set.Fields {
			name := strings.ToLower(field.Name)
			if referenced[name] {
				fields[name] = field
			}
		}
	}
	for name := range referenced {
		if _, ok := fields[name]; !ok {
			logger.Warn("policy rules reference an undeclared field; terms on it never match", "field", name)
		}
	}

	regexes, _ := lru.New[string, *regexp.Regexp](regexCacheSize)
	return &Checker{
		rules:     active,
		fallbacks: fallbacks,
		compiler:  &compiler{fields: fields, regexes: regexes},
		logger:    logger,
		compiled:  make([]compiledRule, len(active)),
	}
}

// ActiveRules returns the number of rules taking part in checks.
func (c *Checker) ActiveRules() int {
	return len(c.rules)
}

// Check returns the action of the first active rule matching
// attributes, in rule-list order. A rule that fails to compile or
// evaluate is logged and skipped.
func (c *Checker) Check(attributes *attrmap.Map) Action {
	if len(c.rules) == 0 {
		return c.fallbacks.NoActiveRules
	}
	for i := range c.rules {
		rule := &c.rules[i]
		compiled := c.predicateFor(i)
		if compiled.err != nil {
			continue
		}
		matched, err := compiled.predicate(attributes)
		if err != nil {
			c.logger.Warn("policy rule evaluation failed",
				"rule", rule.RuleNumber, "name", rule.Name, "error", err)
			continue
		}
		if matched {
			c.logger.Debug("policy rule matched",
				"rule", rule.RuleNumber, "action", rule.Action.String())
			return rule.Action
		}
	}
	return c.fallbacks.NoMatch
}

// predicateFor compiles rule i on first use. A compile failure is
// kept, so a broken rule is reported once per rule set.
func (c *Checker) predicateFor(i int) *compiledRule {
	compiled := &c.compiled[i]
	compiled.once.Do(func() {
		rule := &c.rules[i]
		compiled.predicate, compiled.err = c.compiler.compile(rule.Expression)
		if compiled.err != nil {
			c.logger.Error("policy rule cannot be compiled, skipping it",
				"rule", rule.RuleNumber, "name", rule.Name, "error", compiled.err)
		}
	})
	return compiled
}
