// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package filestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/intake/lib/attrmap"
	"github.com/bureau-foundation/intake/lib/codec"
	"github.com/bureau-foundation/intake/lib/target"
)

// OpenTarget implements target.Store. The stream is indexed at once
// but stays invisible to Streams until the target is closed.
func (s *Store) OpenTarget(ctx context.Context, feed, typeName string, effectiveTimeMs int64) (target.Target, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("filestore: generating stream id: %w", err)
	}
	opened := &fileTarget{
		store:     s,
		id:        id.String(),
		feed:      feed,
		directory: s.streamDirectory(id.String()),
	}
	if err := os.Mkdir(opened.directory, 0o750); err != nil {
		return nil, fmt.Errorf("filestore: creating stream directory: %w", err)
	}

	err = s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `INSERT INTO streams (id, feed, type, effective_time, created_at)
			VALUES (?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
			Args: []any{opened.id, feed, typeName, effectiveTimeMs, s.now()},
		})
	})
	if err != nil {
		os.RemoveAll(opened.directory)
		return nil, fmt.Errorf("filestore: indexing stream for %s: %w", feed, err)
	}
	s.logger.Debug("stream opened", "stream", opened.id, "feed", feed, "type", typeName)
	return opened, nil
}

// DeleteTarget implements target.Store.
func (s *Store) DeleteTarget(ctx context.Context, deleted target.Target) error {
	t, ok := deleted.(*fileTarget)
	if !ok || t.store != s {
		return ErrForeignTarget
	}
	if t.provider != nil {
		t.provider.abandon()
	}
	t.closed = true
	if err := s.deleteStream(ctx, t.id); err != nil {
		return err
	}
	s.logger.Debug("stream deleted", "stream", t.id, "feed", t.feed)
	return nil
}

// fileTarget is one stream directory. Layers are numbered from 1.
type fileTarget struct {
	store     *Store
	id        string
	feed      string
	directory string

	layers   int
	provider *layerProvider
	closed   bool
}

// ID returns the stream id used in the index.
func (t *fileTarget) ID() string {
	return t.id
}

func (t *fileTarget) Next() (target.Provider, error) {
	if t.closed {
		return nil, fmt.Errorf("filestore: stream %s is closed", t.id)
	}
	if t.provider != nil && !t.provider.closed {
		return nil, fmt.Errorf("filestore: stream %s layer %d still open", t.id, t.provider.layer)
	}
	t.layers++
	t.provider = &layerProvider{target: t, layer: t.layers}
	return t.provider, nil
}

// Close commits the stream. Target has no context parameter, so the
// commit runs without one.
func (t *fileTarget) Close() error {
	if t.closed {
		return nil
	}
	var errs []error
	if t.provider != nil {
		errs = append(errs, t.provider.Close())
	}
	t.closed = true

	store := t.store
	errs = append(errs, store.pool.Write(context.Background(), func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "UPDATE streams SET committed_at = ?, layers = ? WHERE id = ?", &sqlitex.ExecOptions{
			Args: []any{store.now(), t.layers, t.id},
		})
	}))
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("filestore: committing stream %s: %w", t.id, err)
	}
	store.logger.Debug("stream committed", "stream", t.id, "feed", t.feed, "layers", t.layers)
	return nil
}

// layerProvider writes one segment file per stream type.
type layerProvider struct {
	target   *fileTarget
	layer    int
	segments []*segmentWriter
	closed   bool
}

var streamSuffixes = map[target.StreamType]string{
	target.Meta:    "meta",
	target.Context: "ctx",
	target.Data:    "dat",
}

func (p *layerProvider) Writer(streamType target.StreamType) (io.Writer, error) {
	if p.closed {
		return nil, fmt.Errorf("filestore: layer %d is closed", p.layer)
	}
	suffix, ok := streamSuffixes[streamType]
	if !ok {
		return nil, fmt.Errorf("filestore: unknown stream type %s", streamType)
	}
	for _, existing := range p.segments {
		if existing.streamType == streamType {
			return nil, fmt.Errorf("filestore: %s stream of layer %d requested twice", streamType, p.layer)
		}
	}

	store := p.target.store
	name := fmt.Sprintf("%04d.%s%s", p.layer, suffix, store.compression.extension())
	file, err := os.OpenFile(filepath.Join(p.target.directory, name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("filestore: creating segment: %w", err)
	}
	stored := &countingWriter{writer: file}
	compressor, err := store.compression.compressor(stored)
	if err != nil {
		file.Close()
		return nil, err
	}

	segment := &segmentWriter{
		streamType: streamType,
		path:       filepath.Join("streams", p.target.id, name),
		file:       file,
		stored:     stored,
		compressor: compressor,
		hasher:     blake3.New(),
	}
	if streamType == target.Meta {
		segment.capture = &bytes.Buffer{}
	}
	p.segments = append(p.segments, segment)
	return segment, nil
}

// Close finishes every segment and indexes them with the layer's
// parsed metadata.
func (p *layerProvider) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true

	var errs []error
	for _, segment := range p.segments {
		errs = append(errs, segment.finish())
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("filestore: finishing layer %d: %w", p.layer, err)
	}

	var encodedMeta []byte
	for _, segment := range p.segments {
		if segment.capture == nil {
			continue
		}
		attributes, err := attrmap.Parse(segment.capture)
		if err != nil {
			return fmt.Errorf("filestore: parsing layer %d meta: %w", p.layer, err)
		}
		encodedMeta, err = codec.Marshal(attributes.ToMap())
		if err != nil {
			return fmt.Errorf("filestore: encoding layer %d meta: %w", p.layer, err)
		}
	}

	store := p.target.store
	return store.pool.Write(context.Background(), func(conn *sqlite.Conn) error {
		for _, segment := range p.segments {
			err := sqlitex.Execute(conn, `INSERT INTO segments
				(stream_id, layer, stream_type, path, compression, raw_size, stored_size, digest)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
				Args: []any{
					p.target.id, p.layer, int(segment.streamType), segment.path,
					int(store.compression), segment.raw, segment.stored.count, segment.digest,
				},
			})
			if err != nil {
				return err
			}
		}
		if encodedMeta == nil {
			return nil
		}
		return sqlitex.Execute(conn, "INSERT INTO layer_meta (stream_id, layer, attributes) VALUES (?, ?, ?)",
			&sqlitex.ExecOptions{Args: []any{p.target.id, p.layer, encodedMeta}})
	})
}

// abandon closes segment files without indexing them.
func (p *layerProvider) abandon() {
	if p.closed {
		return
	}
	p.closed = true
	for _, segment := range p.segments {
		segment.compressor.Close()
		segment.file.Close()
	}
}

// segmentWriter compresses into a file while hashing the raw bytes.
// The digest is of the raw bytes, not the stored encoding.
type segmentWriter struct {
	streamType target.StreamType
	path       string
	file       *os.File
	stored     *countingWriter
	compressor io.WriteCloser
	hasher     hash.Hash
	capture    *bytes.Buffer

	raw    int64
	digest []byte
}

func (w *segmentWriter) Write(data []byte) (int, error) {
	w.hasher.Write(data)
	if w.capture != nil {
		w.capture.Write(data)
	}
	written, err := w.compressor.Write(data)
	w.raw += int64(written)
	return written, err
}

func (w *segmentWriter) finish() error {
	w.digest = w.hasher.Sum(nil)
	compressErr := w.compressor.Close()
	syncErr := w.file.Sync()
	closeErr := w.file.Close()
	return errors.Join(compressErr, syncErr, closeErr)
}

type countingWriter struct {
	writer io.Writer
	count  int64
}

func (w *countingWriter) Write(data []byte) (int, error) {
	written, err := w.writer.Write(data)
	w.count += int64(written)
	return written, err
}
