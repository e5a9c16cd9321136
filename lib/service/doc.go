// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides the network scaffolding for intake's
// receipt server.
//
// [HTTPServer] binds a TCP listener, optionally wraps it in TLS, and
// serves a caller-provided handler until its context is cancelled,
// then drains in-flight requests. [LoadServerTLS] turns certificate,
// key and client-CA files into the listener configuration, including
// the client-certificate verification mode used by certificate
// authentication.
//
// The package provides building blocks, not a runtime: cmd/intake-server
// composes them with the receive handler in its own run function.
package service
