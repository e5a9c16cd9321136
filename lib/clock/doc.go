// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides the injectable time source used across the
// receipt pipeline.
//
// Anything that stamps receipt times, checks data-feed key expiry,
// decides whether a cached value is due for a re-check, or runs a
// periodic sweep takes a Clock rather than calling the time package.
// Production wiring passes Real(); tests pass Fake() and move time
// explicitly with Advance:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	store := datafeedkey.NewStore(datafeedkey.StoreConfig{Clock: c})
//	// ... add a key expiring in one hour ...
//	c.Advance(2 * time.Hour)
//	// the key is now expired for lookup purposes
//
// Tickers created on a FakeClock fire only during Advance, so sweep
// loops can be driven deterministically with WaitForTickers + Advance.
package clock
