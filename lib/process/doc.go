// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers for intake
// commands. It covers the raw I/O that happens before the structured
// logger exists or after main has given up on it: reporting a fatal
// error from run() and exiting.
package process
