// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package authn

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/bureau-foundation/intake/lib/attrmap"
	"github.com/bureau-foundation/intake/lib/datafeedkey"
	"github.com/bureau-foundation/intake/lib/status"
)

// KeyLookup resolves raw data-feed keys. Satisfied by
// *datafeedkey.Store.
type KeyLookup interface {
	Lookup(rawKey, subjectHint string) (*datafeedkey.CachedKey, error)
}

// DataFeedKeyAuthenticator authenticates by data-feed key, sent either
// as a bearer value or as the raw Authorization value. On success the
// key's stream metadata overrides the request attributes.
type DataFeedKeyAuthenticator struct {
	keys   KeyLookup
	logger *slog.Logger
}

// NewDataFeedKeyAuthenticator returns a DataFeedKeyAuthenticator.
func NewDataFeedKeyAuthenticator(keys KeyLookup, logger *slog.Logger) *DataFeedKeyAuthenticator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &DataFeedKeyAuthenticator{keys: keys, logger: logger}
}

func (a *DataFeedKeyAuthenticator) Kind() Kind { return DataFeedKey }

func (a *DataFeedKeyAuthenticator) Authenticate(_ *http.Request, attributes *attrmap.Map) (Identity, bool, *status.Error) {
	rawKey, _ := bearerValue(attributes.Get(attrmap.Authorization))
	if !datafeedkey.LooksLikeKey(rawKey) {
		return Identity{}, false, nil
	}

	key, err := a.keys.Lookup(rawKey, attributes.Get(attrmap.AccountID))
	if err != nil {
		detail := ""
		switch {
		case errors.Is(err, datafeedkey.ErrMalformedKey):
			detail = "malformed key"
		case errors.Is(err, datafeedkey.ErrExpired):
			detail = "key expired"
		}
		a.logger.Info("data feed key rejected", "account_id", attributes.Get(attrmap.AccountID), "error", err)
		return Identity{}, false, status.Wrap(status.ClientDataFeedKeyNotAuthenticated, err, detail)
	}

	if len(key.StreamMetaData) > 0 {
		keyAttributes := attrmap.New()
		for name, value := range key.StreamMetaData {
			keyAttributes.Put(name, value)
		}
		attrmap.MergeOverride(attributes, keyAttributes)
	}

	name := key.DisplayName
	if name == "" {
		name = key.SubjectID
	}
	return Identity{
		Kind:        DataFeedKey,
		SubjectID:   key.SubjectID,
		DisplayName: name,
		allowsFeed:  key.AllowsFeed,
	}, true, nil
}
