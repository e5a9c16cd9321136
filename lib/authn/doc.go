// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package authn resolves the sender of a receipt request.
//
// A [Chain] holds the enabled strategies (bearer token, client
// certificate, data-feed key) and tries them in that fixed order. A
// strategy whose credential is absent yields nothing and the chain
// moves on; a credential that is present but invalid ends the request
// with the strategy's NotAuthenticated status. When no strategy
// succeeds the request either proceeds as Unauthenticated or, if
// authentication is required, fails with a status naming the expected
// credential.
//
// The chain writes the identity into the attribute map as
// UploadUserId/UploadUsername and always strips Authorization.
package authn
