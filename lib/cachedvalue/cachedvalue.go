// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cachedvalue holds derived state that is expensive to build
// and cheap to validate: a compiled policy checker, a parsed rule set.
// The value is rebuilt only when its source version changes, and the
// version is consulted at most once per interval.
//
// Readers never block on a rebuild that another goroutine is already
// performing: they keep using the previous value until the new one is
// swapped in whole.
package cachedvalue

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/intake/lib/clock"
)

// ErrNotBuilt is returned by Get when no value has been built yet and
// the latest attempt failed.
var ErrNotBuilt = errors.New("cachedvalue: no value available")

// Config configures a Value.
type Config[T any] struct {
	// Interval is the minimum time between version checks. Zero means
	// check on every Get.
	Interval time.Duration

	// Version returns a cheap fingerprint of the source (file mtime
	// and size, a revision counter). Required.
	Version func() (string, error)

	// Build constructs the value for the given version. Required.
	Build func(version string) (T, error)

	// Clock supplies the check timestamps. Defaults to clock.Real().
	Clock clock.Clock
}

// Value is a lazily built, periodically re-checked value.
type Value[T any] struct {
	interval time.Duration
	version  func() (string, error)
	build    func(string) (T, error)
	clock    clock.Clock

	current atomic.Pointer[snapshot[T]]

	// refresh serializes version checks and rebuilds.
	refresh sync.Mutex
}

type snapshot[T any] struct {
	value   T
	built   bool
	version string

	// checked comes from the clock; with the real clock it carries a
	// monotonic reading, so wall-clock steps do not skew the interval.
	checked time.Time

	// err is the most recent refresh failure. A built snapshot keeps
	// serving its value while err is set.
	err error
}

// New returns a Value. Nothing is built until the first Get.
func New[T any](config Config[T]) *Value[T] {
	if config.Version == nil {
		panic("cachedvalue: Version is required")
	}
	if config.Build == nil {
		panic("cachedvalue: Build is required")
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	return &Value[T]{
		interval: config.Interval,
		version:  config.Version,
		build:    config.Build,
		clock:    clk,
	}
}

// Get returns the current value, first refreshing it if the interval
// has elapsed since the last check. When a refresh fails but an older
// value exists, the older value is returned with a nil error and the
// failure is reported by LastError. Get returns an error wrapping
// ErrNotBuilt only while no value has ever been built.
func (v *Value[T]) Get() (T, error) {
	current := v.current.Load()
	if current != nil && !v.due(current) {
		return current.result()
	}

	if current != nil && current.built {
		// Another goroutine is refreshing: serve the old value rather
		// than queue behind it.
		if !v.refresh.TryLock() {
			return current.value, nil
		}
	} else {
		v.refresh.Lock()
	}
	defer v.refresh.Unlock()

	return v.refreshLocked()
}

// Invalidate makes the next Get re-check the version regardless of
// the interval.
func (v *Value[T]) Invalidate() {
	v.refresh.Lock()
	defer v.refresh.Unlock()
	current := v.current.Load()
	if current == nil {
		return
	}
	stale := *current
	stale.checked = time.Time{}
	v.current.Store(&stale)
}

// LastError returns the error from the most recent refresh, or nil.
func (v *Value[T]) LastError() error {
	current := v.current.Load()
	if current == nil {
		return nil
	}
	return current.err
}

// Version returns the version of the value currently served, or ""
// before the first successful build.
func (v *Value[T]) Version() string {
	current := v.current.Load()
	if current == nil || !current.built {
		return ""
	}
	return current.version
}

func (v *Value[T]) due(current *snapshot[T]) bool {
	if current.checked.IsZero() {
		return true
	}
	return v.clock.Now().Sub(current.checked) >= v.interval
}

func (s *snapshot[T]) result() (T, error) {
	if s.built {
		return s.value, nil
	}
	var zero T
	return zero, fmt.Errorf("%w: %w", ErrNotBuilt, s.err)
}

func (v *Value[T]) refreshLocked() (T, error) {
	current := v.current.Load()
	if current != nil && !v.due(current) {
		// Refreshed by whoever held the lock before us.
		return current.result()
	}

	now := v.clock.Now()
	version, err := v.version()
	if err != nil {
		return v.recordFailure(current, now, fmt.Errorf("checking version: %w", err))
	}

	if current != nil && current.built && current.version == version {
		next := *current
		next.checked = now
		next.err = nil
		v.current.Store(&next)
		return next.value, nil
	}

	value, err := v.build(version)
	if err != nil {
		return v.recordFailure(current, now, fmt.Errorf("building version %q: %w", version, err))
	}

	v.current.Store(&snapshot[T]{value: value, built: true, version: version, checked: now})
	return value, nil
}

// recordFailure stamps the failure time so Gets within the interval
// do not hammer a broken source, and keeps serving any built value.
func (v *Value[T]) recordFailure(current *snapshot[T], now time.Time, err error) (T, error) {
	if current == nil || !current.built {
		failed := &snapshot[T]{checked: now, err: err}
		v.current.Store(failed)
		return failed.result()
	}
	next := *current
	next.checked = now
	next.err = err
	v.current.Store(&next)
	return next.value, nil
}
