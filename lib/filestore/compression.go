// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package filestore

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies how a segment file is encoded at rest. The
// values are stored in the segments table; do not renumber them.
type Compression uint8

const (
	// CompressionNone stores segments as received.
	CompressionNone Compression = 0

	// CompressionLZ4 is the LZ4 frame format. Fast, modest ratio.
	CompressionLZ4 Compression = 1

	// CompressionZstd is zstd at the default level. Better ratio on
	// the text-heavy event data intake usually stores.
	CompressionZstd Compression = 2
)

func (compression Compression) String() string {
	switch compression {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(compression))
	}
}

// extension is appended to segment file names.
func (compression Compression) extension() string {
	switch compression {
	case CompressionLZ4:
		return ".lz4"
	case CompressionZstd:
		return ".zst"
	default:
		return ""
	}
}

// ParseCompression parses the names returned by String.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd", "":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("filestore: unknown compression %q", name)
	}
}

// UnmarshalText lets configuration name the compression.
func (compression *Compression) UnmarshalText(text []byte) error {
	parsed, err := ParseCompression(string(text))
	if err != nil {
		return err
	}
	*compression = parsed
	return nil
}

// MarshalText renders the name.
func (compression Compression) MarshalText() ([]byte, error) {
	return []byte(compression.String()), nil
}

// nopCloser adapts a writer that needs no finishing.
type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// compressor wraps destination so that bytes written are encoded.
// Close flushes the encoder but does not close destination.
func (compression Compression) compressor(destination io.Writer) (io.WriteCloser, error) {
	switch compression {
	case CompressionNone:
		return nopCloser{destination}, nil
	case CompressionLZ4:
		return lz4.NewWriter(destination), nil
	case CompressionZstd:
		return zstd.NewWriter(destination, zstd.WithEncoderLevel(zstd.SpeedDefault))
	default:
		return nil, fmt.Errorf("filestore: cannot write %s segments", compression)
	}
}

// decompressor wraps source so that reads are decoded.
func (compression Compression) decompressor(source io.Reader) (io.ReadCloser, error) {
	switch compression {
	case CompressionNone:
		return io.NopCloser(source), nil
	case CompressionLZ4:
		return io.NopCloser(lz4.NewReader(source)), nil
	case CompressionZstd:
		decoder, err := zstd.NewReader(source)
		if err != nil {
			return nil, err
		}
		return decoder.IOReadCloser(), nil
	default:
		return nil, fmt.Errorf("filestore: cannot read %s segments", compression)
	}
}
