// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the CBOR configuration for data intake writes
// to its own indexes, such as the per-layer metadata kept by
// lib/filestore.
//
// Encoding is Core Deterministic (RFC 8949 §4.2): sorted map keys and
// shortest integer forms, so equal metadata always produces equal
// bytes and can be compared or digested without decoding.
//
// JSON stays the format for anything operators edit by hand (key
// files, policy rules). CBOR is only for data intake both writes and
// reads.
package codec
