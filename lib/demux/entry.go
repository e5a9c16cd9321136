// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package demux

import (
	"fmt"
	"path"
	"strings"
)

// EntryType classifies a container entry by its file extension.
type EntryType int

const (
	Manifest EntryType = iota
	Meta
	Context
	Data
)

func (entryType EntryType) String() string {
	switch entryType {
	case Manifest:
		return "manifest"
	case Meta:
		return "meta"
	case Context:
		return "context"
	case Data:
		return "data"
	default:
		return fmt.Sprintf("EntryType(%d)", int(entryType))
	}
}

// buffered reports whether entries of this type are read into memory
// and merged into the group's attributes rather than streamed.
func (entryType EntryType) buffered() bool {
	return entryType == Manifest || entryType == Meta
}

var extensionTypes = map[string]EntryType{
	".mf":       Manifest,
	".manifest": Manifest,
	".meta":     Meta,
	".hdr":      Meta,
	".header":   Meta,
	".ctx":      Context,
	".context":  Context,
	".dat":      Data,
	".data":     Data,
}

// ParseEntryName splits a container entry name into its base name and
// type. Names with an unrecognized extension, or none, are data; their
// base name is the name without its final extension. Directory
// components are part of the base name.
//
//	"001.meta"         -> "001", Meta
//	"logs/001.ctx"     -> "logs/001", Context
//	"001.log"          -> "001", Data
func ParseEntryName(name string) (base string, entryType EntryType) {
	extension := path.Ext(name)
	entryType, ok := extensionTypes[strings.ToLower(extension)]
	if !ok {
		entryType = Data
	}
	return strings.TrimSuffix(name, extension), entryType
}
