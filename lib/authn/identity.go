// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package authn

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/bureau-foundation/intake/lib/attrmap"
	"github.com/bureau-foundation/intake/lib/status"
)

// Kind identifies an authentication strategy and the identities it
// produces. The declaration order is the chain's priority order.
type Kind int

const (
	Token Kind = iota
	Certificate
	DataFeedKey
	Unauthenticated
)

func (kind Kind) String() string {
	switch kind {
	case Token:
		return "token"
	case Certificate:
		return "certificate"
	case DataFeedKey:
		return "data_feed_key"
	case Unauthenticated:
		return "unauthenticated"
	default:
		return fmt.Sprintf("Kind(%d)", int(kind))
	}
}

// Identity is the resolved sender of one request.
type Identity struct {
	Kind Kind

	// SubjectID is the stable id: the token subject, the certificate
	// common name, or the data-feed key's subject.
	SubjectID string

	// DisplayName is a human-readable name, falling back to
	// SubjectID.
	DisplayName string

	allowsFeed func(feed string) bool
}

// AllowsFeed reports whether the identity may send to feed. Only
// data-feed keys carry a restriction.
func (identity Identity) AllowsFeed(feed string) bool {
	if identity.allowsFeed == nil {
		return true
	}
	return identity.allowsFeed(feed)
}

// Authenticator is one strategy in the chain.
//
// Authenticate returns ok=false with a nil error when the strategy's
// credential is absent, so the chain moves on. A credential that is
// present but invalid is a non-nil error and ends the chain.
type Authenticator interface {
	Kind() Kind
	Authenticate(request *http.Request, attributes *attrmap.Map) (identity Identity, ok bool, err *status.Error)
}

// bearerValue returns the credential from an Authorization value,
// stripping a case-insensitive "Bearer " prefix when present.
func bearerValue(authorization string) (value string, bearer bool) {
	authorization = strings.TrimSpace(authorization)
	const prefix = "bearer "
	if len(authorization) >= len(prefix) && strings.EqualFold(authorization[:len(prefix)], prefix) {
		return strings.TrimSpace(authorization[len(prefix):]), true
	}
	return authorization, false
}
