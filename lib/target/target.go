// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package target

import (
	"context"
	"fmt"
	"io"
)

// StreamType names one of the streams a layer may carry.
type StreamType int

const (
	Meta StreamType = iota
	Context
	Data
)

func (streamType StreamType) String() string {
	switch streamType {
	case Meta:
		return "meta"
	case Context:
		return "context"
	case Data:
		return "data"
	default:
		return fmt.Sprintf("StreamType(%d)", int(streamType))
	}
}

// Store is the persistence boundary. A Target receives one or more
// layers for a single (feed, type) pair.
type Store interface {
	OpenTarget(ctx context.Context, feed, typeName string, effectiveTimeMs int64) (Target, error)

	// DeleteTarget discards a target and everything written to it.
	// The target must not be used afterwards.
	DeleteTarget(ctx context.Context, target Target) error
}

// Target is an open destination. Close finalizes it and makes it
// visible; DeleteTarget on the Store discards it instead.
type Target interface {
	// Next starts a new layer. The previous provider must be closed
	// first.
	Next() (Provider, error)
	Close() error
}

// Provider hands out the writers of one layer. Each stream type may
// be requested at most once per layer.
type Provider interface {
	Writer(streamType StreamType) (io.Writer, error)
	Close() error
}

// FeedStatus controls whether a feed accepts data.
type FeedStatus int

const (
	FeedReceive FeedStatus = iota
	FeedReject
	FeedDrop
)

func (status FeedStatus) String() string {
	switch status {
	case FeedReceive:
		return "RECEIVE"
	case FeedReject:
		return "REJECT"
	case FeedDrop:
		return "DROP"
	default:
		return fmt.Sprintf("FeedStatus(%d)", int(status))
	}
}

// ParseFeedStatus accepts RECEIVE, REJECT or DROP.
func ParseFeedStatus(value string) (FeedStatus, error) {
	switch value {
	case "RECEIVE", "receive":
		return FeedReceive, nil
	case "REJECT", "reject":
		return FeedReject, nil
	case "DROP", "drop":
		return FeedDrop, nil
	default:
		return 0, fmt.Errorf("target: unknown feed status %q", value)
	}
}

// Feed is a feed's catalogue entry.
type Feed struct {
	Name   string
	Status FeedStatus

	// Reference feeds get one target per record rather than
	// aggregating records.
	Reference bool
}

// FeedCatalog looks feeds up by name. ok is false for unknown feeds.
type FeedCatalog interface {
	LookupFeed(ctx context.Context, name string) (feed Feed, ok bool, err error)
}
