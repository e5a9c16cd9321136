// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package authn

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bureau-foundation/intake/lib/attrmap"
	"github.com/bureau-foundation/intake/lib/clock"
	"github.com/bureau-foundation/intake/lib/status"
)

// CertificateAuthenticator authenticates by client certificate. A
// verified TLS peer certificate on the request wins; otherwise the
// RemoteDN and RemoteCertExpiry attributes are used, which the receive
// handler only populates from a TLS-terminating proxy it trusts.
type CertificateAuthenticator struct {
	clock  clock.Clock
	logger *slog.Logger
}

// NewCertificateAuthenticator returns a CertificateAuthenticator.
func NewCertificateAuthenticator(clk clock.Clock, logger *slog.Logger) *CertificateAuthenticator {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &CertificateAuthenticator{clock: clk, logger: logger}
}

func (a *CertificateAuthenticator) Kind() Kind { return Certificate }

func (a *CertificateAuthenticator) Authenticate(request *http.Request, attributes *attrmap.Map) (Identity, bool, *status.Error) {
	now := a.clock.Now()

	if request != nil && request.TLS != nil && len(request.TLS.PeerCertificates) > 0 {
		certificate := request.TLS.PeerCertificates[0]
		if now.After(certificate.NotAfter) {
			return Identity{}, false, status.Errorf(status.ClientCertificateNotAuthenticated,
				"certificate expired at %s", certificate.NotAfter.UTC().Format(time.RFC3339))
		}
		commonName := certificate.Subject.CommonName
		if commonName == "" {
			return Identity{}, false, status.New(status.ClientCertificateNotAuthenticated, "certificate has no common name")
		}
		return Identity{Kind: Certificate, SubjectID: commonName, DisplayName: commonName}, true, nil
	}

	distinguishedName := attributes.Get(attrmap.RemoteDN)
	if distinguishedName == "" {
		return Identity{}, false, nil
	}
	if expiryValue := attributes.Get(attrmap.RemoteCertExpiry); expiryValue != "" {
		expiry, err := parseExpiry(expiryValue)
		if err != nil {
			a.logger.Warn("unparseable certificate expiry", "value", expiryValue, "error", err)
			return Identity{}, false, status.New(status.ClientCertificateNotAuthenticated, "unreadable certificate expiry")
		}
		if now.After(expiry) {
			return Identity{}, false, status.Errorf(status.ClientCertificateNotAuthenticated,
				"certificate expired at %s", expiry.UTC().Format(time.RFC3339))
		}
	}
	commonName := CommonName(distinguishedName)
	if commonName == "" {
		return Identity{}, false, status.New(status.ClientCertificateNotAuthenticated, "distinguished name has no common name")
	}
	return Identity{Kind: Certificate, SubjectID: commonName, DisplayName: commonName}, true, nil
}

// parseExpiry accepts RFC 3339 or epoch milliseconds.
func parseExpiry(value string) (time.Time, error) {
	if milliseconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.UnixMilli(milliseconds), nil
	}
	return time.Parse(time.RFC3339, value)
}

// CommonName extracts the CN attribute from a distinguished name in
// either RFC 4514 form ("CN=host,OU=ops,O=example") or the OpenSSL
// slash form ("/C=GB/O=example/CN=host"). Backslash escapes in RFC
// 4514 values are honoured. Returns "" when there is no CN.
func CommonName(distinguishedName string) string {
	distinguishedName = strings.TrimSpace(distinguishedName)
	var parts []string
	if strings.HasPrefix(distinguishedName, "/") {
		parts = strings.Split(distinguishedName[1:], "/")
	} else {
		parts = splitEscaped(distinguishedName)
	}
	for _, part := range parts {
		attributeType, value, found := strings.Cut(part, "=")
		if !found {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(attributeType), "CN") {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

// splitEscaped splits on unescaped ',' or ';' and removes the escape
// backslashes.
func splitEscaped(value string) []string {
	var parts []string
	var current strings.Builder
	escaped := false
	for _, r := range value {
		switch {
		case escaped:
			current.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case r == ',' || r == ';':
			parts = append(parts, current.String())
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	return append(parts, current.String())
}
