// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package attrmap holds the case-insensitive metadata map that travels
// with every inbound transmission.
//
// A request's headers become a Map; authentication adds upload-user
// fields, filters may add a derived Feed, and the demultiplexer layers
// per-entry metadata on top. Layering is always explicit at the call
// site through MergeOverride (the source is more specific) or
// MergeFillAbsent (the source only supplies defaults).
//
// Parse and WriteTo implement the flat "key:value" line format used
// for metadata entries inside containers and for stored metadata.
package attrmap
