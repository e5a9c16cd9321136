// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package target defines the persistence boundary of the receipt
// pipeline and routes records onto it.
//
// A [Store] opens a [Target] per (feed, type). A target holds layers;
// each layer is one record with up to three streams (meta, context,
// data) obtained from a [Provider]. [Router] keeps at most one target
// open per feed for the duration of a request, starts a new layer per
// record, and at the end either closes every target or deletes every
// target it opened so a failed request leaves nothing behind.
package target
