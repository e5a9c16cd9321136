// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package receive is the HTTP face of intake.
//
// [Handler] turns a POST /datafeed request into an attribute map
// (headers, then query parameters, then receiver-owned keys such as
// ReceiptId, ReceivedTime, RemoteAddress and the TLS peer's RemoteDN)
// and runs it through three gates before reading the body:
//
//  1. authentication ([authn.Chain]), which also strips Authorization;
//  2. the filter chain ([filter.Wrap] of feed name, feed status and
//     policy), where DROP answers 200 without storing anything;
//  3. the data-feed key's feed restriction.
//
// The body then goes to the [demux.Processor]. Records inside a
// container that name a different feed pass the same gates again.
//
// Every response is "<number> - <message>" with the status code's
// HTTP status and a Receipt-Id header. [NewMetrics] exports request
// outcomes to Prometheus; [StatusHandler] serves GET /status.
package receive
