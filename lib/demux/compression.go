// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package demux

import (
	"fmt"
	"strings"
)

// Compression is the encoding of a request body, named by the
// Compression attribute.
type Compression int

const (
	// CompressionNone is a plain single stream.
	CompressionNone Compression = iota

	// CompressionGzip is a single gzip stream. Concatenated gzip
	// members are read as one stream.
	CompressionGzip

	// CompressionZip is a zip container of meta, context and data
	// entries grouped by base name.
	CompressionZip
)

func (compression Compression) String() string {
	switch compression {
	case CompressionNone:
		return "NONE"
	case CompressionGzip:
		return "GZIP"
	case CompressionZip:
		return "ZIP"
	default:
		return fmt.Sprintf("Compression(%d)", int(compression))
	}
}

// ParseCompression reads the Compression attribute. Matching is
// case-insensitive and an empty value means CompressionNone. Any
// other value is an error; the body is never sniffed.
func ParseCompression(value string) (Compression, error) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "", "NONE":
		return CompressionNone, nil
	case "GZIP":
		return CompressionGzip, nil
	case "ZIP":
		return CompressionZip, nil
	default:
		return 0, fmt.Errorf("demux: unknown compression %q", value)
	}
}
