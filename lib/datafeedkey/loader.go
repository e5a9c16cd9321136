// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package datafeedkey

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bureau-foundation/intake/lib/dirwatch"
	"github.com/bureau-foundation/intake/lib/sealed"
	"github.com/bureau-foundation/intake/lib/secret"
)

// LoaderConfig configures a Loader.
type LoaderConfig struct {
	// Directory holds the key files.
	Directory string

	Store *Store

	// Identity opens sealed key files. Nil means sealed files are
	// logged and skipped.
	Identity *secret.Buffer

	Logger *slog.Logger
}

// Loader keeps a Store in step with a directory of key files. It
// implements dirwatch.Handler.
type Loader struct {
	directory string
	store     *Store
	identity  *secret.Buffer
	logger    *slog.Logger
}

var _ dirwatch.Handler = (*Loader)(nil)

// NewLoader returns a Loader. It does not read the directory until
// Rescan or Run.
func NewLoader(config LoaderConfig) *Loader {
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	return &Loader{
		directory: config.Directory,
		store:     config.Store,
		identity:  config.Identity,
		logger:    config.Logger,
	}
}

// LoadFile replaces the store's entries for path with the file's
// contents. On error the previous entries stay loaded.
func (l *Loader) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("datafeedkey: reading %s: %w", path, err)
	}

	if strings.HasSuffix(path, SealedSuffix) {
		if l.identity == nil {
			return fmt.Errorf("datafeedkey: %s is sealed and no identity is configured", path)
		}
		plaintext, err := sealed.Open(data, l.identity)
		if err != nil {
			return fmt.Errorf("datafeedkey: %s: %w", path, err)
		}
		defer plaintext.Close()
		data = plaintext.Bytes()
	}

	keys, err := ParseKeyFile(data)
	if err != nil {
		return fmt.Errorf("datafeedkey: %s: %w", path, err)
	}
	added := l.store.AddAll(keys, path)
	l.logger.Info("loaded data-feed keys", "file", path, "keys", added, "entries", len(keys))
	return nil
}

// Rescan loads every key file in the directory and drops sources whose
// files are gone. Errors for individual files are logged and joined.
func (l *Loader) Rescan() error {
	entries, err := os.ReadDir(l.directory)
	if err != nil {
		return fmt.Errorf("datafeedkey: reading directory %s: %w", l.directory, err)
	}

	present := make(map[string]bool, len(entries))
	var errs []error
	for _, entry := range entries {
		if entry.IsDir() || !IsKeyFile(entry.Name()) {
			continue
		}
		path := filepath.Join(l.directory, entry.Name())
		present[path] = true
		if err := l.LoadFile(path); err != nil {
			l.logger.Error("loading data-feed key file", "file", path, "error", err)
			errs = append(errs, err)
		}
	}

	for _, source := range l.store.Sources() {
		if !present[source] {
			removed := l.store.RemoveAllFor(source)
			l.logger.Info("dropped data-feed keys for vanished file", "file", source, "keys", removed)
		}
	}
	return errors.Join(errs...)
}

// FileChanged reloads a key file.
func (l *Loader) FileChanged(path string) {
	if !IsKeyFile(filepath.Base(path)) {
		return
	}
	if err := l.LoadFile(path); err != nil {
		l.logger.Error("reloading data-feed key file", "file", path, "error", err)
	}
}

// FileRemoved drops a key file's entries.
func (l *Loader) FileRemoved(path string) {
	if !IsKeyFile(filepath.Base(path)) {
		return
	}
	removed := l.store.RemoveAllFor(path)
	l.logger.Info("removed data-feed key file", "file", path, "keys", removed)
}

// Overflow rescans the directory.
func (l *Loader) Overflow() {
	if err := l.Rescan(); err != nil {
		l.logger.Error("rescanning data-feed key directory", "directory", l.directory, "error", err)
	}
}

// Run watches the directory until ctx is cancelled. The initial scan
// runs once the watch is installed, so no file written during startup
// is missed.
func (l *Loader) Run(ctx context.Context) error {
	return dirwatch.Watch(ctx, l.directory, l, l.logger, func() {
		if err := l.Rescan(); err != nil {
			l.logger.Error("initial data-feed key scan", "directory", l.directory, "error", err)
		}
	})
}
