// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/intake/lib/attrmap"
	"github.com/bureau-foundation/intake/lib/cachedvalue"
	"github.com/bureau-foundation/intake/lib/clock"
)

// FileVersion fingerprints a rule file by modification time and size.
func FileVersion(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("policy: %w", err)
	}
	return fmt.Sprintf("%d:%d", info.ModTime().UnixNano(), info.Size()), nil
}

// LoadFile reads and parses a rule file.
func LoadFile(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy: %w", err)
	}
	set, err := ParseRuleSet(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return set, nil
}

// CachedCheckerConfig configures a CachedChecker.
type CachedCheckerConfig struct {
	// Path is the rule file.
	Path string

	// Interval is how often the file's version is re-checked.
	Interval time.Duration

	Fallbacks Fallbacks
	Clock     clock.Clock
	Logger    *slog.Logger
}

// CachedChecker is a Checker rebuilt when its rule file changes.
//
// Once a rule set has loaded, a later unreadable or invalid file keeps
// the previous rules in force and is logged. Before any rule set has
// loaded every check returns Fallbacks.Unavailable.
type CachedChecker struct {
	value     *cachedvalue.Value[*Checker]
	fallbacks Fallbacks
	logger    *slog.Logger

	// reported is the last refresh failure logged, "" when healthy.
	reported atomic.Pointer[string]
}

// NewCachedChecker returns a CachedChecker. The file is first read on
// the first Check.
func NewCachedChecker(config CachedCheckerConfig) *CachedChecker {
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	logger := config.Logger
	checker := &CachedChecker{fallbacks: config.Fallbacks, logger: logger}
	checker.value = cachedvalue.New(cachedvalue.Config[*Checker]{
		Interval: config.Interval,
		Clock:    config.Clock,
		Version: func() (string, error) {
			return FileVersion(config.Path)
		},
		Build: func(version string) (*Checker, error) {
			set, err := LoadFile(config.Path)
			if err != nil {
				return nil, err
			}
			built := NewChecker(set, config.Fallbacks, logger)
			logger.Info("policy rules loaded",
				"path", config.Path, "version", version,
				"rules", len(set.Rules), "active", built.ActiveRules())
			return built, nil
		},
	})
	return checker
}

// Check evaluates attributes against the current rule set.
func (c *CachedChecker) Check(attributes *attrmap.Map) Action {
	checker, err := c.value.Get()
	if err != nil {
		if c.report(err) {
			c.logger.Error("policy rules unavailable, applying fallback action",
				"action", c.fallbacks.Unavailable.String(), "error", err)
		}
		return c.fallbacks.Unavailable
	}
	if refreshErr := c.value.LastError(); refreshErr != nil {
		if c.report(refreshErr) {
			c.logger.Error("policy rules could not be refreshed, keeping previous rules", "error", refreshErr)
		}
	} else {
		c.report(nil)
	}
	return checker.Check(attributes)
}

// Ready reports whether a rule set has loaded, loading it if due.
func (c *CachedChecker) Ready() error {
	_, err := c.value.Get()
	return err
}

// report records err as the current failure and reports whether it
// differs from the last one, so a broken file is logged once rather
// than on every request.
func (c *CachedChecker) report(err error) bool {
	message := ""
	if err != nil {
		message = err.Error()
	}
	if previous := c.reported.Load(); previous != nil && *previous == message {
		return false
	}
	c.reported.Store(&message)
	return err != nil
}
