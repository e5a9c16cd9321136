// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package authn

import (
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bureau-foundation/intake/lib/attrmap"
	"github.com/bureau-foundation/intake/lib/clock"
	"github.com/bureau-foundation/intake/lib/status"
)

// spyAuthenticator wraps an Authenticator and counts calls.
type spyAuthenticator struct {
	Authenticator
	calls int
}

func (s *spyAuthenticator) Authenticate(request *http.Request, attributes *attrmap.Map) (Identity, bool, *status.Error) {
	s.calls++
	return s.Authenticator.Authenticate(request, attributes)
}

// fixedAuthenticator returns a canned result.
type fixedAuthenticator struct {
	kind     Kind
	identity Identity
	ok       bool
	err      *status.Error
}

func (f fixedAuthenticator) Kind() Kind { return f.kind }

func (f fixedAuthenticator) Authenticate(*http.Request, *attrmap.Map) (Identity, bool, *status.Error) {
	return f.identity, f.ok, f.err
}

func requestWithPeer(commonName string, notAfter time.Time) *http.Request {
	request := httptest.NewRequest(http.MethodPost, "/datafeed", nil)
	request.TLS = &tls.ConnectionState{
		PeerCertificates: []*x509.Certificate{{
			Subject:  pkix.Name{CommonName: commonName},
			NotAfter: notAfter,
		}},
	}
	return request
}

func TestChainPrefersTokenOverCertificate(t *testing.T) {
	fake := clock.Fake(testEpoch)
	verifier := newTestVerifier(t, fake, "", "")
	token := signToken(t, map[string]any{"sub": "user-1", "preferred_username": "alice", "exp": testEpoch.Add(time.Hour).Unix()})

	certificates := &spyAuthenticator{Authenticator: NewCertificateAuthenticator(fake, nil)}
	// Strategies are given in the wrong order on purpose.
	chain := NewChain(ChainConfig{
		Strategies: []Authenticator{certificates, NewTokenAuthenticator(verifier, nil)},
		Required:   true,
	})

	request := requestWithPeer("host.example.com", testEpoch.Add(time.Hour))
	attributes := attrmap.FromPairs(attrmap.Authorization, "Bearer "+token)
	identity, err := chain.Authenticate(request, attributes)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if identity.Kind != Token || identity.SubjectID != "user-1" {
		t.Errorf("identity = %+v, want token identity for user-1", identity)
	}
	if certificates.calls != 0 {
		t.Errorf("certificate authenticator called %d times, want 0", certificates.calls)
	}
	if got := attributes.Get(attrmap.UploadUserID); got != "user-1" {
		t.Errorf("UploadUserId = %q", got)
	}
	if got := attributes.Get(attrmap.UploadUsername); got != "alice" {
		t.Errorf("UploadUsername = %q", got)
	}
	if attributes.Contains(attrmap.Authorization) {
		t.Error("Authorization left in the attribute map")
	}
}

func TestChainFallsThroughToCertificate(t *testing.T) {
	fake := clock.Fake(testEpoch)
	chain := NewChain(ChainConfig{
		Strategies: []Authenticator{
			NewTokenAuthenticator(newTestVerifier(t, fake, "", ""), nil),
			NewCertificateAuthenticator(fake, nil),
		},
		Required: true,
	})
	identity, err := chain.Authenticate(requestWithPeer("host.example.com", testEpoch.Add(time.Hour)), attrmap.New())
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if identity.Kind != Certificate || identity.SubjectID != "host.example.com" {
		t.Errorf("identity = %+v", identity)
	}
}

func TestChainInvalidCredentialEndsChain(t *testing.T) {
	later := &spyAuthenticator{Authenticator: fixedAuthenticator{kind: DataFeedKey, ok: true, identity: Identity{Kind: DataFeedKey, SubjectID: "x"}}}
	chain := NewChain(ChainConfig{
		Strategies: []Authenticator{
			fixedAuthenticator{kind: Token, err: status.New(status.ClientTokenNotAuthenticated, "")},
			later,
		},
	})
	attributes := attrmap.FromPairs(attrmap.Authorization, "Bearer junk")
	_, err := chain.Authenticate(nil, attributes)
	if err == nil || err.Code != status.ClientTokenNotAuthenticated {
		t.Fatalf("Authenticate error = %v, want ClientTokenNotAuthenticated", err)
	}
	if later.calls != 0 {
		t.Errorf("strategy after a rejection was consulted")
	}
	if attributes.Contains(attrmap.Authorization) {
		t.Error("Authorization left in the attribute map after rejection")
	}
}

func TestChainRequiredCodes(t *testing.T) {
	absent := func(kind Kind) Authenticator { return fixedAuthenticator{kind: kind} }
	tests := []struct {
		name  string
		kinds []Kind
		want  status.Code
	}{
		{"token and certificate", []Kind{Token, Certificate}, status.ClientTokenOrCertRequired},
		{"all three", []Kind{Token, Certificate, DataFeedKey}, status.ClientTokenOrCertRequired},
		{"token only", []Kind{Token}, status.ClientTokenRequired},
		{"token and key", []Kind{Token, DataFeedKey}, status.ClientTokenRequired},
		{"key only", []Kind{DataFeedKey}, status.ClientTokenRequired},
		{"certificate only", []Kind{Certificate}, status.ClientCertificateRequired},
		{"certificate and key", []Kind{Certificate, DataFeedKey}, status.ClientTokenOrCertRequired},
		{"nothing enabled", nil, status.ClientTokenOrCertRequired},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var strategies []Authenticator
			for _, kind := range test.kinds {
				strategies = append(strategies, absent(kind))
			}
			chain := NewChain(ChainConfig{Strategies: strategies, Required: true})
			_, err := chain.Authenticate(nil, attrmap.New())
			if err == nil || err.Code != test.want {
				t.Errorf("Authenticate error = %v, want %s", err, test.want)
			}
		})
	}
}

func TestChainUnauthenticatedFallback(t *testing.T) {
	chain := NewChain(ChainConfig{Strategies: []Authenticator{fixedAuthenticator{kind: Token}}})
	attributes := attrmap.New()
	identity, err := chain.Authenticate(nil, attributes)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if identity.Kind != Unauthenticated {
		t.Errorf("Kind = %s, want unauthenticated", identity.Kind)
	}
	if attributes.Contains(attrmap.UploadUserID) {
		t.Error("unauthenticated request got an UploadUserId")
	}
}

func TestChainKindsOrder(t *testing.T) {
	chain := NewChain(ChainConfig{Strategies: []Authenticator{
		fixedAuthenticator{kind: DataFeedKey},
		nil,
		fixedAuthenticator{kind: Certificate},
		fixedAuthenticator{kind: Token},
	}})
	kinds := chain.Kinds()
	want := []Kind{Token, Certificate, DataFeedKey}
	if len(kinds) != len(want) {
		t.Fatalf("Kinds() = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("Kinds()[%d] = %s, want %s", i, kinds[i], want[i])
		}
	}
}
