// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides the client-facing network helpers used by
// receipt.
//
// [RemoteAddress] and [HostResolver] fill the RemoteAddress and
// RemoteHost attributes. [IsClientGone] separates uploads the sender
// abandoned from failures on the server side.
package netutil
