// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package authn

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/bureau-foundation/intake/lib/attrmap"
	"github.com/bureau-foundation/intake/lib/clock"
	"github.com/bureau-foundation/intake/lib/datafeedkey"
	"github.com/bureau-foundation/intake/lib/secret"
	"github.com/bureau-foundation/intake/lib/status"
)

var (
	// ErrNoSubject is returned for a validly signed token without a
	// subject claim.
	ErrNoSubject = errors.New("authn: token has no subject")

	// ErrNoSecret is returned by NewJWTVerifier without a signing
	// secret.
	ErrNoSecret = errors.New("authn: token signing secret is required")
)

// TokenVerifier checks a bearer token and returns the identity it
// names.
type TokenVerifier interface {
	Verify(token string) (Identity, error)
}

// JWTConfig configures a JWTVerifier.
type JWTConfig struct {
	// Secret is the HMAC key. Borrowed, not closed.
	Secret *secret.Buffer

	// Issuer and Audience, when set, must match the token's iss and
	// aud claims.
	Issuer   string
	Audience string

	// Leeway tolerates clock skew on exp and nbf.
	Leeway time.Duration

	Clock clock.Clock
}

// JWTVerifier verifies HMAC-signed JWTs. Tokens must carry exp.
type JWTVerifier struct {
	secret *secret.Buffer
	parser *jwt.Parser
}

type tokenClaims struct {
	jwt.RegisteredClaims
	PreferredUsername string `json:"preferred_username,omitempty"`
	Name              string `json:"name,omitempty"`
}

// NewJWTVerifier returns a verifier for config.
func NewJWTVerifier(config JWTConfig) (*JWTVerifier, error) {
	if config.Secret == nil || config.Secret.Len() == 0 {
		return nil, ErrNoSecret
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(config.Clock.Now),
		jwt.WithLeeway(config.Leeway),
	}
	if config.Issuer != "" {
		options = append(options, jwt.WithIssuer(config.Issuer))
	}
	if config.Audience != "" {
		options = append(options, jwt.WithAudience(config.Audience))
	}
	return &JWTVerifier{secret: config.Secret, parser: jwt.NewParser(options...)}, nil
}

// Verify parses and validates token.
func (v *JWTVerifier) Verify(token string) (Identity, error) {
	var claims tokenClaims
	_, err := v.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret.Bytes(), nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("authn: verifying token: %w", err)
	}
	if claims.Subject == "" {
		return Identity{}, ErrNoSubject
	}

	name := claims.PreferredUsername
	if name == "" {
		name = claims.Name
	}
	if name == "" {
		name = claims.Subject
	}
	return Identity{Kind: Token, SubjectID: claims.Subject, DisplayName: name}, nil
}

// TokenAuthenticator authenticates "Authorization: Bearer <token>".
// Bearer values shaped like data-feed keys are left for the
// DataFeedKeyAuthenticator.
type TokenAuthenticator struct {
	verifier TokenVerifier
	logger   *slog.Logger
}

// NewTokenAuthenticator returns a TokenAuthenticator using verifier.
func NewTokenAuthenticator(verifier TokenVerifier, logger *slog.Logger) *TokenAuthenticator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &TokenAuthenticator{verifier: verifier, logger: logger}
}

func (a *TokenAuthenticator) Kind() Kind { return Token }

func (a *TokenAuthenticator) Authenticate(_ *http.Request, attributes *attrmap.Map) (Identity, bool, *status.Error) {
	token, bearer := bearerValue(attributes.Get(attrmap.Authorization))
	if !bearer || token == "" || datafeedkey.LooksLikeKey(token) {
		return Identity{}, false, nil
	}
	identity, err := a.verifier.Verify(token)
	if err != nil {
		a.logger.Debug("token rejected", "error", err)
		return Identity{}, false, status.Wrap(status.ClientTokenNotAuthenticated, err, "")
	}
	return identity, true, nil
}
