// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package authn

import (
	"log/slog"
	"net/http"
	"sort"

	"github.com/bureau-foundation/intake/lib/attrmap"
	"github.com/bureau-foundation/intake/lib/status"
)

// ChainConfig configures a Chain.
type ChainConfig struct {
	// Strategies are the enabled authenticators, at most one per
	// Kind. The chain orders them by Kind regardless of the order
	// given here.
	Strategies []Authenticator

	// Required rejects requests no strategy authenticates. When
	// false they proceed as Unauthenticated.
	Required bool

	Logger *slog.Logger
}

// Chain resolves the Identity of a request by trying each strategy in
// priority order: token, certificate, data-feed key.
type Chain struct {
	strategies   []Authenticator
	required     bool
	requiredCode status.Code
	logger       *slog.Logger
}

// NewChain returns a Chain for config.
func NewChain(config ChainConfig) *Chain {
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	strategies := make([]Authenticator, 0, len(config.Strategies))
	for _, strategy := range config.Strategies {
		if strategy != nil {
			strategies = append(strategies, strategy)
		}
	}
	sort.SliceStable(strategies, func(i, j int) bool {
		return strategies[i].Kind() < strategies[j].Kind()
	})
	return &Chain{
		strategies:   strategies,
		required:     config.Required,
		requiredCode: requiredCode(strategies),
		logger:       config.Logger,
	}
}

// requiredCode names the credential a sender should have supplied.
// Data-feed keys travel in the Authorization header, so they count as
// a token for the purposes of the message.
func requiredCode(strategies []Authenticator) status.Code {
	var token, certificate bool
	for _, strategy := range strategies {
		switch strategy.Kind() {
		case Token, DataFeedKey:
			token = true
		case Certificate:
			certificate = true
		}
	}
	switch {
	case token && certificate:
		return status.ClientTokenOrCertRequired
	case certificate:
		return status.ClientCertificateRequired
	case token:
		return status.ClientTokenRequired
	default:
		return status.ClientTokenOrCertRequired
	}
}

// Kinds returns the enabled strategy kinds in evaluation order.
func (c *Chain) Kinds() []Kind {
	kinds := make([]Kind, len(c.strategies))
	for i, strategy := range c.strategies {
		kinds[i] = strategy.Kind()
	}
	return kinds
}

// Authenticate resolves the request's identity. On success the
// identity is written to UploadUserId and UploadUsername. The
// Authorization attribute is removed whatever the outcome, so a
// credential is never stored or forwarded.
func (c *Chain) Authenticate(request *http.Request, attributes *attrmap.Map) (Identity, *status.Error) {
	defer attributes.Remove(attrmap.Authorization)

	for _, strategy := range c.strategies {
		identity, ok, err := strategy.Authenticate(request, attributes)
		if err != nil {
			c.logger.Info("authentication failed",
				"strategy", strategy.Kind().String(), "code", err.Code.String())
			return Identity{}, err
		}
		if ok {
			attributes.Put(attrmap.UploadUserID, identity.SubjectID)
			attributes.Put(attrmap.UploadUsername, identity.DisplayName)
			return identity, nil
		}
	}

	if c.required {
		return Identity{}, status.New(c.requiredCode, "")
	}
	return Identity{Kind: Unauthenticated}, nil
}
