// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package filter

import (
	"context"
	"log/slog"

	"github.com/bureau-foundation/intake/lib/attrmap"
	"github.com/bureau-foundation/intake/lib/policy"
	"github.com/bureau-foundation/intake/lib/status"
	"github.com/bureau-foundation/intake/lib/target"
)

// FeedStatusConfig configures a FeedStatusFilter.
type FeedStatusConfig struct {
	Catalog target.FeedCatalog

	// ReceiveUnknown receives feeds missing from the catalogue
	// instead of rejecting them.
	ReceiveUnknown bool

	// OnLookupFailure is applied when the catalogue cannot be read.
	// Nil means Reject.
	OnLookupFailure *policy.Action

	Logger *slog.Logger
}

// FeedStatusFilter applies each feed's catalogue status.
type FeedStatusFilter struct {
	catalog         target.FeedCatalog
	receiveUnknown  bool
	onLookupFailure policy.Action
	logger          *slog.Logger
}

// NewFeedStatusFilter returns a FeedStatusFilter for config.
func NewFeedStatusFilter(config FeedStatusConfig) *FeedStatusFilter {
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	onLookupFailure := policy.Reject
	if config.OnLookupFailure != nil {
		onLookupFailure = *config.OnLookupFailure
	}
	return &FeedStatusFilter{
		catalog:         config.Catalog,
		receiveUnknown:  config.ReceiveUnknown,
		onLookupFailure: onLookupFailure,
		logger:          config.Logger,
	}
}

func (f *FeedStatusFilter) Kind() Kind { return KindFeedStatus }

func (f *FeedStatusFilter) Filter(ctx context.Context, attributes *attrmap.Map) Result {
	name := attributes.Get(attrmap.Feed)
	if name == "" {
		return Reject(status.New(status.FeedMustBeSpecified, ""))
	}

	feed, ok, err := f.catalog.LookupFeed(ctx, name)
	if err != nil {
		f.logger.Error("feed status lookup failed",
			"feed", name, "action", f.onLookupFailure.String(), "error", err)
		switch f.onLookupFailure {
		case policy.Receive:
			return Receive()
		case policy.Drop:
			return Drop()
		default:
			return Reject(status.Wrap(status.UnknownError, err, "feed status unavailable"))
		}
	}
	if !ok {
		if f.receiveUnknown {
			return Receive()
		}
		return Reject(status.Errorf(status.FeedIsNotDefined, "%s", name))
	}

	switch feed.Status {
	case target.FeedReject:
		return Reject(status.Errorf(status.FeedIsNotSetToReceiveData, "%s", name))
	case target.FeedDrop:
		return Drop()
	default:
		return Receive()
	}
}
