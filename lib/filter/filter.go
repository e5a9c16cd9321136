// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package filter

import (
	"context"
	"fmt"

	"github.com/bureau-foundation/intake/lib/attrmap"
	"github.com/bureau-foundation/intake/lib/policy"
	"github.com/bureau-foundation/intake/lib/status"
)

// Kind tags each filter implementation.
type Kind int

const (
	KindPermissive Kind = iota
	KindChain
	KindFeedName
	KindFeedStatus
	KindPolicy
)

func (kind Kind) String() string {
	switch kind {
	case KindPermissive:
		return "permissive"
	case KindChain:
		return "chain"
	case KindFeedName:
		return "feed_name"
	case KindFeedStatus:
		return "feed_status"
	case KindPolicy:
		return "policy"
	default:
		return fmt.Sprintf("Kind(%d)", int(kind))
	}
}

// Result is a filter outcome. Err is set exactly when Action is
// Reject.
type Result struct {
	Action policy.Action
	Err    *status.Error
}

// Receive lets the stream through.
func Receive() Result { return Result{Action: policy.Receive} }

// Drop discards the stream without failing the request.
func Drop() Result { return Result{Action: policy.Drop} }

// Reject fails the request with err.
func Reject(err *status.Error) Result { return Result{Action: policy.Reject, Err: err} }

// Filter decides whether a stream is received. Filters may add to the
// attribute map (a generated feed name, a default type) before later
// filters see it.
type Filter interface {
	Kind() Kind
	Filter(ctx context.Context, attributes *attrmap.Map) Result
}

// Permissive receives everything.
var Permissive Filter = permissive{}

type permissive struct{}

func (permissive) Kind() Kind { return KindPermissive }

func (permissive) Filter(context.Context, *attrmap.Map) Result { return Receive() }

// Wrap combines filters into one that runs them in order and stops at
// the first that does not receive. Nil and permissive filters are
// dropped; with none left the result is Permissive, and a single
// remaining filter is returned as is.
func Wrap(filters ...Filter) Filter {
	var kept []Filter
	for _, f := range filters {
		if f == nil || f.Kind() == KindPermissive {
			continue
		}
		kept = append(kept, f)
	}
	switch len(kept) {
	case 0:
		return Permissive
	case 1:
		return kept[0]
	default:
		return chain(kept)
	}
}

type chain []Filter

func (chain) Kind() Kind { return KindChain }

func (c chain) Filter(ctx context.Context, attributes *attrmap.Map) Result {
	for _, f := range c {
		if result := f.Filter(ctx, attributes); result.Action != policy.Receive {
			return result
		}
	}
	return Receive()
}
