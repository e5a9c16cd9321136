// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package datafeedkey authenticates senders by data-feed key.
//
// A data-feed key is a long random secret of the form
//
//	sdk_<3-digit algorithm tag>_<128 base58 characters>
//
// handed to a sender once. The receipt server only ever holds a
// one-way hash of it, in key-definition files dropped into a watched
// directory. Each file lists hashed keys along with the subject they
// belong to, an expiry, optional metadata to stamp onto every stream
// sent with the key, and an optional feed-name restriction.
//
// [Store] indexes loaded keys by hash and by subject. Argon2id hashes
// are deterministic given the stored salt, so a presented key is
// hashed once per distinct salt and looked up directly. BCrypt hashes
// embed a random salt and can only be verified against candidates; the
// caller's subject hint narrows those. A bounded memo keyed by the
// BLAKE3 digest of the raw key skips rehashing for recently verified
// keys; expiry is re-checked on every lookup.
//
// [Loader] keeps a Store in step with the directory through dirwatch.
// Files may be sealed with age (".json.age").
package datafeedkey
