// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package attrmap

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// maxLineLength bounds a single "key:value" line when parsing.
const maxLineLength = 1 << 20

// Parse reads the flat attribute format: one "key:value" pair per
// line, split on the first colon. Blank lines and lines without a
// colon are skipped. Later duplicates replace earlier ones.
func Parse(reader io.Reader) (*Map, error) {
	m := New()
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 4096), maxLineLength)
	for scanner.Scan() {
		line := scanner.Text()
		separator := strings.IndexByte(line, ':')
		if separator <= 0 {
			continue
		}
		m.Put(line[:separator], line[separator+1:])
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("attrmap: parsing attributes: %w", err)
	}
	return m, nil
}

// WriteTo writes the map in the flat attribute format, keys in Keys
// order. Newlines inside values are replaced with spaces so the
// output always parses back to the same entries.
func (m *Map) WriteTo(writer io.Writer) (int64, error) {
	var total int64
	for _, key := range m.Keys() {
		value := strings.NewReplacer("\r", " ", "\n", " ").Replace(m.Get(key))
		written, err := fmt.Fprintf(writer, "%s:%s\n", key, value)
		total += int64(written)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// String renders the map in the flat attribute format.
func (m *Map) String() string {
	var builder strings.Builder
	m.WriteTo(&builder)
	return builder.String()
}
