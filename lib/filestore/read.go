// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package filestore

import (
	"bytes"
	"context"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/intake/lib/attrmap"
	"github.com/bureau-foundation/intake/lib/codec"
	"github.com/bureau-foundation/intake/lib/target"
)

// SegmentInfo describes one stored segment.
type SegmentInfo struct {
	Layer       int
	StreamType  target.StreamType
	Compression Compression
	RawSize     int64
	StoredSize  int64
	Digest      []byte
	path        string
}

// Segments lists a stream's segments by layer and stream type.
func (s *Store) Segments(ctx context.Context, streamID string) ([]SegmentInfo, error) {
	var segments []SegmentInfo
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT layer, stream_type, compression, raw_size, stored_size, digest, path
			FROM segments WHERE stream_id = ? ORDER BY layer, stream_type`, &sqlitex.ExecOptions{
			Args:       []any{streamID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				digest := make([]byte, stmt.ColumnLen(5))
				stmt.ColumnBytes(5, digest)
				segments = append(segments, SegmentInfo{
					Layer:       stmt.ColumnInt(0),
					StreamType:  target.StreamType(stmt.ColumnInt(1)),
					Compression: Compression(stmt.ColumnInt(2)),
					RawSize:     stmt.ColumnInt64(3),
					StoredSize:  stmt.ColumnInt64(4),
					Digest:      digest,
					path:        stmt.ColumnText(6),
				})
				return nil
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("filestore: listing segments of %s: %w", streamID, err)
	}
	return segments, nil
}

// OpenSegment returns the decoded contents of one segment. Reading to
// EOF verifies the size and digest recorded at write time; a mismatch
// is reported as ErrDigestMismatch in place of io.EOF.
func (s *Store) OpenSegment(ctx context.Context, streamID string, layer int, streamType target.StreamType) (io.ReadCloser, error) {
	segments, err := s.Segments(ctx, streamID)
	if err != nil {
		return nil, err
	}
	for _, segment := range segments {
		if segment.Layer != layer || segment.StreamType != streamType {
			continue
		}
		file, err := os.Open(filepath.Join(s.root, segment.path))
		if err != nil {
			return nil, fmt.Errorf("filestore: opening segment: %w", err)
		}
		decoded, err := segment.Compression.decompressor(file)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("filestore: decoding segment: %w", err)
		}
		return &verifyingReader{
			source:  decoded,
			file:    file,
			hasher:  blake3.New(),
			segment: segment,
		}, nil
	}
	return nil, fmt.Errorf("%w: stream %s layer %d %s", ErrNotFound, streamID, layer, streamType)
}

// LayerMeta returns the attributes written to a layer's meta stream.
func (s *Store) LayerMeta(ctx context.Context, streamID string, layer int) (*attrmap.Map, error) {
	var encoded []byte
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT attributes FROM layer_meta WHERE stream_id = ? AND layer = ?", &sqlitex.ExecOptions{
			Args: []any{streamID, layer},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				encoded = make([]byte, stmt.ColumnLen(0))
				stmt.ColumnBytes(0, encoded)
				return nil
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("filestore: reading layer meta: %w", err)
	}
	if encoded == nil {
		return nil, fmt.Errorf("%w: meta for stream %s layer %d", ErrNotFound, streamID, layer)
	}
	var plain map[string]string
	if err := codec.Unmarshal(encoded, &plain); err != nil {
		return nil, fmt.Errorf("filestore: decoding layer meta: %w", err)
	}
	attributes := attrmap.New()
	for key, value := range plain {
		attributes.Put(key, value)
	}
	return attributes, nil
}

type verifyingReader struct {
	source  io.ReadCloser
	file    *os.File
	hasher  hash.Hash
	segment SegmentInfo
	read    int64
}

func (r *verifyingReader) Read(buffer []byte) (int, error) {
	n, err := r.source.Read(buffer)
	r.hasher.Write(buffer[:n])
	r.read += int64(n)
	if err == io.EOF {
		if r.read != r.segment.RawSize || !bytes.Equal(r.hasher.Sum(nil), r.segment.Digest) {
			return n, fmt.Errorf("%w: layer %d %s", ErrDigestMismatch, r.segment.Layer, r.segment.StreamType)
		}
	}
	return n, err
}

func (r *verifyingReader) Close() error {
	r.source.Close()
	return r.file.Close()
}
