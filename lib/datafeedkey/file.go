// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package datafeedkey

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/jsonc"
)

// SealedSuffix marks a key file encrypted with the sealed package.
const SealedSuffix = ".json.age"

// KeyFile is the on-disk form of a key-definition file.
type KeyFile struct {
	DataFeedKeys []HashedKey `json:"dataFeedKeys"`
}

// ParseKeyFile strips JSONC comments and trailing commas from data,
// then unmarshals the key list.
func ParseKeyFile(data []byte) ([]HashedKey, error) {
	var file KeyFile
	if err := json.Unmarshal(jsonc.ToJSON(data), &file); err != nil {
		return nil, fmt.Errorf("datafeedkey: parsing key file: %w", err)
	}
	return file.DataFeedKeys, nil
}

// MarshalKeyFile renders keys as an indented key file.
func MarshalKeyFile(keys []HashedKey) ([]byte, error) {
	data, err := json.MarshalIndent(KeyFile{DataFeedKeys: keys}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("datafeedkey: encoding key file: %w", err)
	}
	return append(data, '\n'), nil
}

// IsKeyFile reports whether name is a key file the loader reads.
// Hidden files are editor and rename temporaries.
func IsKeyFile(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	return strings.HasSuffix(name, ".json") || strings.HasSuffix(name, SealedSuffix)
}
