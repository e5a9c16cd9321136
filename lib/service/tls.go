// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// TLSFiles names the PEM files for an HTTPS listener.
type TLSFiles struct {
	CertFile string
	KeyFile  string

	// ClientCAFile holds the CAs trusted to issue client
	// certificates. Required when ClientAuth verifies.
	ClientCAFile string

	// ClientAuth is none, request, verify_if_given or require.
	ClientAuth string
}

// ParseClientAuth maps a configured client-auth mode to its
// tls.ClientAuthType.
func ParseClientAuth(mode string) (tls.ClientAuthType, error) {
	switch mode {
	case "", "none":
		return tls.NoClientCert, nil
	case "request":
		return tls.RequestClientCert, nil
	case "verify_if_given":
		return tls.VerifyClientCertIfGiven, nil
	case "require":
		return tls.RequireAndVerifyClientCert, nil
	default:
		return 0, fmt.Errorf("unknown client auth mode %q", mode)
	}
}

// LoadServerTLS builds the listener configuration for files. Client
// certificates that verify reach handlers as
// request.TLS.PeerCertificates.
func LoadServerTLS(files TLSFiles) (*tls.Config, error) {
	certificate, err := tls.LoadX509KeyPair(files.CertFile, files.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("loading server certificate: %w", err)
	}
	clientAuth, err := ParseClientAuth(files.ClientAuth)
	if err != nil {
		return nil, err
	}

	config := &tls.Config{
		Certificates: []tls.Certificate{certificate},
		ClientAuth:   clientAuth,
		MinVersion:   tls.VersionTLS12,
	}

	verifies := clientAuth == tls.VerifyClientCertIfGiven || clientAuth == tls.RequireAndVerifyClientCert
	if files.ClientCAFile == "" {
		if verifies {
			return nil, fmt.Errorf("client auth %q needs a client CA file", files.ClientAuth)
		}
		return config, nil
	}
	caPEM, err := os.ReadFile(files.ClientCAFile)
	if err != nil {
		return nil, fmt.Errorf("reading client CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("no certificates found in %s", files.ClientCAFile)
	}
	config.ClientCAs = pool
	return config, nil
}
