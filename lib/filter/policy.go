// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package filter

import (
	"context"

	"github.com/bureau-foundation/intake/lib/attrmap"
	"github.com/bureau-foundation/intake/lib/policy"
	"github.com/bureau-foundation/intake/lib/status"
)

// Checker is satisfied by *policy.Checker and *policy.CachedChecker.
type Checker interface {
	Check(attributes *attrmap.Map) policy.Action
}

// PolicyFilter applies policy rules.
type PolicyFilter struct {
	checker Checker
}

// NewPolicyFilter returns a PolicyFilter over checker.
func NewPolicyFilter(checker Checker) *PolicyFilter {
	return &PolicyFilter{checker: checker}
}

func (f *PolicyFilter) Kind() Kind { return KindPolicy }

func (f *PolicyFilter) Filter(_ context.Context, attributes *attrmap.Map) Result {
	switch f.checker.Check(attributes) {
	case policy.Reject:
		return Reject(status.New(status.RejectedByPolicyRules, ""))
	case policy.Drop:
		return Drop()
	default:
		return Receive()
	}
}
