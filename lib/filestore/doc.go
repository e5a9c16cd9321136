// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package filestore keeps received data on the local filesystem.
//
// Every target is a stream directory named by a UUIDv7 under
// Root/streams. Each layer writes up to three segment files, one per
// stream type (0001.meta.zst, 0001.ctx.zst, 0001.dat.zst). A SQLite
// index in Root/index.db records streams, segments with their raw
// size and BLAKE3 digest, and each layer's metadata as CBOR.
//
// A stream becomes visible to [Store.Streams] only when its target is
// closed. [Store.DeleteTarget] removes both files and index rows, and
// [Open] removes any stream a crashed process left uncommitted.
//
// The same database holds the feed catalogue read by the feed-status
// filter and the router ([Store.LookupFeed]).
package filestore
