// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package filter decides, from a request's attributes, whether the
// stream is received, dropped or rejected.
//
// Filters are composed with [Wrap] and run in order. The feed-name
// filter must come first: it may generate Feed, which the feed-status
// and policy filters depend on.
package filter
