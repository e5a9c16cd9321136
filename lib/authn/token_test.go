// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package authn

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/bureau-foundation/intake/lib/attrmap"
	"github.com/bureau-foundation/intake/lib/clock"
	"github.com/bureau-foundation/intake/lib/secret"
	"github.com/bureau-foundation/intake/lib/status"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const testSigningSecret = "0123456789abcdef0123456789abcdef"

func newTestVerifier(t *testing.T, clk clock.Clock, issuer, audience string) *JWTVerifier {
	t.Helper()
	buffer, err := secret.FromBytes([]byte(testSigningSecret))
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	t.Cleanup(func() { buffer.Close() })
	verifier, err := NewJWTVerifier(JWTConfig{Secret: buffer, Issuer: issuer, Audience: audience, Clock: clk})
	if err != nil {
		t.Fatalf("NewJWTVerifier: %v", err)
	}
	return verifier
}

func signToken(t *testing.T, claims map[string]any) string {
	t.Helper()
	return signTokenWith(t, jwt.SigningMethodHS256, []byte(testSigningSecret), claims)
}

func signTokenWith(t *testing.T, method jwt.SigningMethod, key any, claims map[string]any) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(method, jwt.MapClaims(claims)).SignedString(key)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	return signed
}

func TestJWTVerifier(t *testing.T) {
	fake := clock.Fake(testEpoch)
	verifier := newTestVerifier(t, fake, "https://idp.example.com", "intake")
	valid := func() map[string]any {
		return map[string]any{
			"sub": "user-1",
			"iss": "https://idp.example.com",
			"aud": "intake",
			"exp": testEpoch.Add(time.Hour).Unix(),
		}
	}

	identity, err := verifier.Verify(signToken(t, valid()))
	if err != nil {
		t.Fatalf("Verify(valid): %v", err)
	}
	if identity.SubjectID != "user-1" || identity.DisplayName != "user-1" || identity.Kind != Token {
		t.Errorf("identity = %+v", identity)
	}

	named := valid()
	named["name"] = "Alice"
	if identity, err := verifier.Verify(signToken(t, named)); err != nil || identity.DisplayName != "Alice" {
		t.Errorf("Verify(named) = %+v, %v", identity, err)
	}

	tests := []struct {
		name   string
		mutate func(map[string]any)
	}{
		{"expired", func(c map[string]any) { c["exp"] = testEpoch.Add(-time.Second).Unix() }},
		{"no expiry", func(c map[string]any) { delete(c, "exp") }},
		{"wrong issuer", func(c map[string]any) { c["iss"] = "https://other.example.com" }},
		{"wrong audience", func(c map[string]any) { c["aud"] = "other" }},
		{"not yet valid", func(c map[string]any) { c["nbf"] = testEpoch.Add(time.Minute).Unix() }},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			claims := valid()
			test.mutate(claims)
			if _, err := verifier.Verify(signToken(t, claims)); err == nil {
				t.Error("Verify succeeded")
			}
		})
	}

	t.Run("no subject", func(t *testing.T) {
		claims := valid()
		delete(claims, "sub")
		if _, err := verifier.Verify(signToken(t, claims)); !errors.Is(err, ErrNoSubject) {
			t.Errorf("Verify error = %v, want ErrNoSubject", err)
		}
	})
	t.Run("wrong secret", func(t *testing.T) {
		token := signTokenWith(t, jwt.SigningMethodHS256, []byte("another-secret-another-secret-00"), valid())
		if _, err := verifier.Verify(token); err == nil {
			t.Error("Verify succeeded")
		}
	})
	t.Run("unsigned", func(t *testing.T) {
		token := signTokenWith(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, valid())
		if _, err := verifier.Verify(token); err == nil {
			t.Error("Verify accepted alg=none")
		}
	})

	// Advancing the clock past exp invalidates a token that was valid.
	token := signToken(t, valid())
	fake.Advance(2 * time.Hour)
	if _, err := verifier.Verify(token); err == nil {
		t.Error("Verify succeeded after expiry")
	}
}

func TestNewJWTVerifierRequiresSecret(t *testing.T) {
	if _, err := NewJWTVerifier(JWTConfig{}); !errors.Is(err, ErrNoSecret) {
		t.Errorf("NewJWTVerifier error = %v, want ErrNoSecret", err)
	}
}

func TestTokenAuthenticatorAbsentCredentials(t *testing.T) {
	authenticator := NewTokenAuthenticator(newTestVerifier(t, clock.Fake(testEpoch), "", ""), nil)
	for _, authorization := range []string{
		"",
		"Bearer ",
		"Basic dXNlcjpwYXNz",
		"Bearer sdk_000_abc",
		"sdk_000_abc",
	} {
		attributes := attrmap.New()
		if authorization != "" {
			attributes.Put(attrmap.Authorization, authorization)
		}
		_, ok, err := authenticator.Authenticate(nil, attributes)
		if ok || err != nil {
			t.Errorf("Authenticate(%q) = ok %v, err %v; want absent", authorization, ok, err)
		}
	}
}

func TestTokenAuthenticatorInvalidToken(t *testing.T) {
	authenticator := NewTokenAuthenticator(newTestVerifier(t, clock.Fake(testEpoch), "", ""), nil)
	attributes := attrmap.FromPairs(attrmap.Authorization, "bearer not.a.jwt")
	_, ok, err := authenticator.Authenticate(nil, attributes)
	if ok || err == nil || err.Code != status.ClientTokenNotAuthenticated {
		t.Errorf("Authenticate = ok %v, err %v; want ClientTokenNotAuthenticated", ok, err)
	}
}
