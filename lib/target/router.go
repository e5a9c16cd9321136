// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package target

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// RouterConfig configures a Router.
type RouterConfig struct {
	Store Store

	// Catalog supplies each feed's reference flag. Nil treats every
	// feed as a normal feed.
	Catalog FeedCatalog

	// OneEntryPerContainer gives every record its own target, as if
	// every feed were a reference feed.
	OneEntryPerContainer bool

	Logger *slog.Logger
}

// Router multiplexes the records of one request onto targets. At most
// one target per feed is open at a time; each record gets its own
// layer within that target.
//
// A Router is used by a single request and is not safe for concurrent
// use.
type Router struct {
	store                Store
	catalog              FeedCatalog
	oneEntryPerContainer bool
	logger               *slog.Logger

	open map[string]*routedTarget

	// finished holds targets closed early (reference feeds) so a
	// later failure can still discard them.
	finished []Target

	opened int
}

type routedTarget struct {
	feed      string
	typeName  string
	target    Target
	reference bool
	provider  *routedProvider
}

// NewRouter returns a Router with nothing open.
func NewRouter(config RouterConfig) *Router {
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	return &Router{
		store:                config.Store,
		catalog:              config.Catalog,
		oneEntryPerContainer: config.OneEntryPerContainer,
		logger:               config.Logger,
		open:                 make(map[string]*routedTarget),
	}
}

// NextLayer returns a provider for a new record of feed. An open
// target for the feed is reused when its type matches and the feed
// aggregates records; otherwise it is closed and a new one opened.
func (r *Router) NextLayer(ctx context.Context, feed, typeName string, effectiveTimeMs int64) (Provider, error) {
	current := r.open[feed]
	if current != nil {
		if err := current.closeProvider(); err != nil {
			return nil, err
		}
		if current.typeName == typeName && !current.reference && !r.oneEntryPerContainer {
			return current.next()
		}
		delete(r.open, feed)
		if err := current.target.Close(); err != nil {
			return nil, fmt.Errorf("target: closing target for feed %s: %w", feed, err)
		}
		r.finished = append(r.finished, current.target)
	}

	reference := false
	if r.catalog != nil {
		entry, ok, err := r.catalog.LookupFeed(ctx, feed)
		if err != nil {
			return nil, fmt.Errorf("target: looking up feed %s: %w", feed, err)
		}
		reference = ok && entry.Reference
	}

	opened, err := r.store.OpenTarget(ctx, feed, typeName, effectiveTimeMs)
	if err != nil {
		return nil, fmt.Errorf("target: opening target for feed %s: %w", feed, err)
	}
	r.opened++
	routed := &routedTarget{feed: feed, typeName: typeName, target: opened, reference: reference}
	r.open[feed] = routed
	r.logger.Debug("opened target", "feed", feed, "type", typeName, "reference", reference)
	return routed.next()
}

// Opened returns the number of targets opened so far.
func (r *Router) Opened() int {
	return r.opened
}

// OpenCount returns the number of targets currently open.
func (r *Router) OpenCount() int {
	return len(r.open)
}

// CloseAll finalizes every open target. If any target fails to close,
// the router keeps track of every target it opened, including those
// that closed, so that a following DeleteAll discards all of them.
func (r *Router) CloseAll() error {
	var errs []error
	for feed, routed := range r.open {
		if err := routed.closeProvider(); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := routed.target.Close(); err != nil {
			errs = append(errs, fmt.Errorf("target: closing target for feed %s: %w", feed, err))
			continue
		}
		delete(r.open, feed)
		r.finished = append(r.finished, routed.target)
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	r.finished = nil
	return nil
}

// DeleteAll discards every target this router opened, including
// targets already closed. Deletion is not cancelled with ctx, since it
// usually runs because ctx was cancelled.
func (r *Router) DeleteAll(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	var errs []error
	for feed, routed := range r.open {
		if err := routed.closeProvider(); err != nil {
			r.logger.Debug("closing layer before delete", "feed", feed, "error", err)
		}
		if err := r.store.DeleteTarget(ctx, routed.target); err != nil {
			errs = append(errs, fmt.Errorf("target: deleting target for feed %s: %w", feed, err))
		}
	}
	for _, finished := range r.finished {
		if err := r.store.DeleteTarget(ctx, finished); err != nil {
			errs = append(errs, fmt.Errorf("target: deleting closed target: %w", err))
		}
	}
	clear(r.open)
	r.finished = nil
	return errors.Join(errs...)
}

func (t *routedTarget) next() (Provider, error) {
	provider, err := t.target.Next()
	if err != nil {
		return nil, fmt.Errorf("target: starting layer for feed %s: %w", t.feed, err)
	}
	t.provider = &routedProvider{Provider: provider}
	return t.provider, nil
}

func (t *routedTarget) closeProvider() error {
	if t.provider == nil {
		return nil
	}
	provider := t.provider
	t.provider = nil
	return provider.Close()
}

// routedProvider makes Close idempotent so both the caller and the
// router may close a layer.
type routedProvider struct {
	Provider
	closed bool
}

func (p *routedProvider) Writer(streamType StreamType) (io.Writer, error) {
	if p.closed {
		return nil, fmt.Errorf("target: layer closed")
	}
	return p.Provider.Writer(streamType)
}

func (p *routedProvider) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	return p.Provider.Close()
}
