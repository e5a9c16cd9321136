// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package targettest provides an in-memory target.Store and
// target.FeedCatalog for tests.
package targettest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/bureau-foundation/intake/lib/target"
)

// Store records everything written to it.
type Store struct {
	mu      sync.Mutex
	targets []*Target

	// OpenError, when set, fails every OpenTarget.
	OpenError error

	// CloseErrors fails Close for targets of the named feeds.
	CloseErrors map[string]error
}

// Target is a recorded target.
type Target struct {
	Feed            string
	Type            string
	EffectiveTimeMs int64
	Layers          []*Layer
	Closed          bool
	Deleted         bool
}

// Layer is one recorded layer.
type Layer struct {
	Meta    bytes.Buffer
	Context bytes.Buffer
	Data    bytes.Buffer
	Closed  bool

	requested map[target.StreamType]bool
}

// OpenTarget implements target.Store.
func (s *Store) OpenTarget(_ context.Context, feed, typeName string, effectiveTimeMs int64) (target.Target, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.OpenError != nil {
		return nil, s.OpenError
	}
	opened := &Target{Feed: feed, Type: typeName, EffectiveTimeMs: effectiveTimeMs}
	s.targets = append(s.targets, opened)
	return &handle{store: s, target: opened}, nil
}

// DeleteTarget implements target.Store.
func (s *Store) DeleteTarget(_ context.Context, deleted target.Target) error {
	h, ok := deleted.(*handle)
	if !ok {
		return fmt.Errorf("targettest: foreign target %T", deleted)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	h.target.Deleted = true
	return nil
}

// Targets returns every target opened, in order.
func (s *Store) Targets() []*Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Target(nil), s.targets...)
}

// Committed returns the targets closed and not deleted.
func (s *Store) Committed() []*Target {
	var committed []*Target
	for _, t := range s.Targets() {
		if t.Closed && !t.Deleted {
			committed = append(committed, t)
		}
	}
	return committed
}

type handle struct {
	store  *Store
	target *Target
}

func (h *handle) Next() (target.Provider, error) {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	if h.target.Closed {
		return nil, fmt.Errorf("targettest: target closed")
	}
	layer := &Layer{requested: make(map[target.StreamType]bool)}
	h.target.Layers = append(h.target.Layers, layer)
	return &provider{store: h.store, layer: layer}, nil
}

func (h *handle) Close() error {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	if err := h.store.CloseErrors[h.target.Feed]; err != nil {
		return err
	}
	h.target.Closed = true
	return nil
}

type provider struct {
	store *Store
	layer *Layer
}

func (p *provider) Writer(streamType target.StreamType) (io.Writer, error) {
	p.store.mu.Lock()
	defer p.store.mu.Unlock()
	if p.layer.requested[streamType] {
		return nil, fmt.Errorf("targettest: %s stream requested twice", streamType)
	}
	p.layer.requested[streamType] = true
	switch streamType {
	case target.Meta:
		return &p.layer.Meta, nil
	case target.Context:
		return &p.layer.Context, nil
	case target.Data:
		return &p.layer.Data, nil
	default:
		return nil, fmt.Errorf("targettest: unknown stream type %d", streamType)
	}
}

func (p *provider) Close() error {
	p.store.mu.Lock()
	defer p.store.mu.Unlock()
	p.layer.Closed = true
	return nil
}

// Catalog is a fixed feed catalogue.
type Catalog map[string]target.Feed

// LookupFeed implements target.FeedCatalog.
func (c Catalog) LookupFeed(_ context.Context, name string) (target.Feed, bool, error) {
	feed, ok := c[name]
	return feed, ok, nil
}
