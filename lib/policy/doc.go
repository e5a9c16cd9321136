// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package policy decides whether to receive, reject or drop a stream
// from its attributes, using an ordered list of rules.
//
// A rule set file declares a field catalogue (name and type: TEXT,
// LONG or DATE) and a rule list. Each rule has a boolean expression
// tree of AND/OR/NOT over field comparisons and an action. The first
// active rule whose expression matches decides; rule numbers only
// label rules in logs.
//
//	{
//	  "fields": [{"name": "Feed", "type": "TEXT"}],
//	  "rules": [{
//	    "ruleNumber": 1,
//	    "enabled": true,
//	    "action": "REJECT",
//	    "expression": {"op": "AND", "children": [
//	      {"field": "Feed", "condition": "EQUALS", "value": "TEST-*"}
//	    ]}
//	  }]
//	}
//
// Terms on fields missing from the catalogue never match. A rule that
// fails to compile or to evaluate is logged and skipped; it does not
// stop the remaining rules. When nothing decides, [Fallbacks] gives
// separate actions for "no rule matched", "no active rules" and "rule
// set unavailable".
//
// [CachedChecker] reloads the rule file when its modification time or
// size changes, checked at most once per interval.
package policy
