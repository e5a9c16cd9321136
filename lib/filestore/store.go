// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package filestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/intake/lib/clock"
	"github.com/bureau-foundation/intake/lib/sqlitepool"
	"github.com/bureau-foundation/intake/lib/target"
)

var (
	// ErrForeignTarget is returned by DeleteTarget for a target this
	// store did not open.
	ErrForeignTarget = errors.New("filestore: target not opened by this store")

	// ErrNotFound is returned for an unknown stream or segment.
	ErrNotFound = errors.New("filestore: not found")

	// ErrDigestMismatch is returned when a segment's contents no
	// longer match the digest recorded when it was written.
	ErrDigestMismatch = errors.New("filestore: segment digest mismatch")
)

const schema = `
CREATE TABLE IF NOT EXISTS feeds (
	name       TEXT PRIMARY KEY,
	status     INTEGER NOT NULL,
	reference  INTEGER NOT NULL DEFAULT 0,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS streams (
	id             TEXT PRIMARY KEY,
	feed           TEXT NOT NULL,
	type           TEXT NOT NULL,
	effective_time INTEGER NOT NULL,
	created_at     INTEGER NOT NULL,
	committed_at   INTEGER,
	layers         INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_streams_feed ON streams(feed, created_at);
CREATE TABLE IF NOT EXISTS segments (
	stream_id   TEXT NOT NULL,
	layer       INTEGER NOT NULL,
	stream_type INTEGER NOT NULL,
	path        TEXT NOT NULL,
	compression INTEGER NOT NULL,
	raw_size    INTEGER NOT NULL,
	stored_size INTEGER NOT NULL,
	digest      BLOB NOT NULL,
	PRIMARY KEY (stream_id, layer, stream_type)
);
CREATE TABLE IF NOT EXISTS layer_meta (
	stream_id  TEXT NOT NULL,
	layer      INTEGER NOT NULL,
	attributes BLOB NOT NULL,
	PRIMARY KEY (stream_id, layer)
);
`

// Config configures a Store.
type Config struct {
	// Root holds the index database and a streams/ directory with one
	// subdirectory per stream. Created if missing.
	Root string

	// Compression applies to newly written segments. Existing
	// segments keep the compression they were written with.
	Compression Compression

	PoolSize int
	Clock    clock.Clock
	Logger   *slog.Logger
}

// Store is a target.Store and target.FeedCatalog on the local
// filesystem, indexed in SQLite. It is safe for concurrent use;
// each Target it returns belongs to one request.
type Store struct {
	root        string
	compression Compression
	pool        *sqlitepool.Pool
	clock       clock.Clock
	logger      *slog.Logger
}

var (
	_ target.Store       = (*Store)(nil)
	_ target.FeedCatalog = (*Store)(nil)
)

// Open opens or creates the store under config.Root. Streams left
// uncommitted by a previous process are removed.
func Open(ctx context.Context, config Config) (*Store, error) {
	if config.Root == "" {
		return nil, fmt.Errorf("filestore: Root is required")
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	if err := os.MkdirAll(filepath.Join(config.Root, "streams"), 0o750); err != nil {
		return nil, fmt.Errorf("filestore: creating %s: %w", config.Root, err)
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     filepath.Join(config.Root, "index.db"),
		PoolSize: config.PoolSize,
		Schema:   schema,
		Logger:   config.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("filestore: %w", err)
	}

	store := &Store{
		root:        config.Root,
		compression: config.Compression,
		pool:        pool,
		clock:       config.Clock,
		logger:      config.Logger,
	}
	if err := store.sweepIncomplete(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the index. Targets still open must not be used.
func (s *Store) Close() error {
	return s.pool.Close()
}

func (s *Store) now() int64 {
	return s.clock.Now().UnixMilli()
}

func (s *Store) streamDirectory(id string) string {
	return filepath.Join(s.root, "streams", id)
}

// sweepIncomplete deletes streams that were opened but never
// committed, which only happens when a process dies mid-request.
func (s *Store) sweepIncomplete(ctx context.Context) error {
	var incomplete []string
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT id FROM streams WHERE committed_at IS NULL", &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				incomplete = append(incomplete, stmt.ColumnText(0))
				return nil
			},
		})
	})
	if err != nil {
		return fmt.Errorf("filestore: finding incomplete streams: %w", err)
	}
	for _, id := range incomplete {
		if err := s.deleteStream(ctx, id); err != nil {
			return err
		}
	}
	if len(incomplete) > 0 {
		s.logger.Warn("removed incomplete streams", "count", len(incomplete))
	}
	return nil
}

// deleteStream removes a stream's files and index rows.
func (s *Store) deleteStream(ctx context.Context, id string) error {
	if err := os.RemoveAll(s.streamDirectory(id)); err != nil {
		return fmt.Errorf("filestore: removing stream %s: %w", id, err)
	}
	err := s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		for _, statement := range []string{
			"DELETE FROM segments WHERE stream_id = ?",
			"DELETE FROM layer_meta WHERE stream_id = ?",
			"DELETE FROM streams WHERE id = ?",
		} {
			if err := sqlitex.Execute(conn, statement, &sqlitex.ExecOptions{Args: []any{id}}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("filestore: deleting stream %s: %w", id, err)
	}
	return nil
}

// LookupFeed implements target.FeedCatalog.
func (s *Store) LookupFeed(ctx context.Context, name string) (target.Feed, bool, error) {
	var (
		feed  target.Feed
		found bool
	)
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT status, reference FROM feeds WHERE name = ?", &sqlitex.ExecOptions{
			Args: []any{name},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				feed = target.Feed{
					Name:      name,
					Status:    target.FeedStatus(stmt.ColumnInt(0)),
					Reference: stmt.ColumnInt(1) != 0,
				}
				return nil
			},
		})
	})
	if err != nil {
		return target.Feed{}, false, fmt.Errorf("filestore: looking up feed %s: %w", name, err)
	}
	return feed, found, nil
}

// PutFeed creates or replaces a feed's catalogue entry.
func (s *Store) PutFeed(ctx context.Context, feed target.Feed) error {
	if feed.Name == "" {
		return fmt.Errorf("filestore: feed name is required")
	}
	err := s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `INSERT INTO feeds (name, status, reference, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET
				status = excluded.status,
				reference = excluded.reference,
				updated_at = excluded.updated_at`, &sqlitex.ExecOptions{
			Args: []any{feed.Name, int(feed.Status), boolInt(feed.Reference), s.now()},
		})
	})
	if err != nil {
		return fmt.Errorf("filestore: storing feed %s: %w", feed.Name, err)
	}
	s.logger.Info("feed updated", "feed", feed.Name, "status", feed.Status.String(), "reference", feed.Reference)
	return nil
}

func boolInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

// Feeds lists the catalogue sorted by name.
func (s *Store) Feeds(ctx context.Context) ([]target.Feed, error) {
	var feeds []target.Feed
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT name, status, reference FROM feeds ORDER BY name", &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				feeds = append(feeds, target.Feed{
					Name:      stmt.ColumnText(0),
					Status:    target.FeedStatus(stmt.ColumnInt(1)),
					Reference: stmt.ColumnInt(2) != 0,
				})
				return nil
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("filestore: listing feeds: %w", err)
	}
	return feeds, nil
}

// Stats summarizes committed streams.
type Stats struct {
	Feeds       int64 `json:"feeds"`
	Streams     int64 `json:"streams"`
	Layers      int64 `json:"layers"`
	RawBytes    int64 `json:"raw_bytes"`
	StoredBytes int64 `json:"stored_bytes"`
}

// Stats counts the catalogue and committed streams.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		queries := []struct {
			query   string
			targets []*int64
		}{
			{"SELECT count(*) FROM feeds", []*int64{&stats.Feeds}},
			{"SELECT count(*), coalesce(sum(layers), 0) FROM streams WHERE committed_at IS NOT NULL",
				[]*int64{&stats.Streams, &stats.Layers}},
			{`SELECT coalesce(sum(segments.raw_size), 0), coalesce(sum(segments.stored_size), 0)
				FROM segments JOIN streams ON streams.id = segments.stream_id
				WHERE streams.committed_at IS NOT NULL`,
				[]*int64{&stats.RawBytes, &stats.StoredBytes}},
		}
		for _, query := range queries {
			err := sqlitex.Execute(conn, query.query, &sqlitex.ExecOptions{
				ResultFunc: func(stmt *sqlite.Stmt) error {
					for column, destination := range query.targets {
						*destination = stmt.ColumnInt64(column)
					}
					return nil
				},
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("filestore: stats: %w", err)
	}
	return stats, nil
}

// StreamInfo describes a committed stream.
type StreamInfo struct {
	ID              string
	Feed            string
	Type            string
	EffectiveTimeMs int64
	CreatedAt       time.Time
	CommittedAt     time.Time
	Layers          int
}

// Streams lists the committed streams of feed, oldest first.
func (s *Store) Streams(ctx context.Context, feed string) ([]StreamInfo, error) {
	var streams []StreamInfo
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT id, type, effective_time, created_at, committed_at, layers
			FROM streams WHERE feed = ? AND committed_at IS NOT NULL
			ORDER BY created_at, id`, &sqlitex.ExecOptions{
			Args: []any{feed},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				streams = append(streams, StreamInfo{
					ID:              stmt.ColumnText(0),
					Feed:            feed,
					Type:            stmt.ColumnText(1),
					EffectiveTimeMs: stmt.ColumnInt64(2),
					CreatedAt:       time.UnixMilli(stmt.ColumnInt64(3)),
					CommittedAt:     time.UnixMilli(stmt.ColumnInt64(4)),
					Layers:          stmt.ColumnInt(5),
				})
				return nil
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("filestore: listing streams of %s: %w", feed, err)
	}
	return streams, nil
}
