// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"sync/atomic"
	"syscall"
	"testing"
)

func TestIsClientGone(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"cancelled", fmt.Errorf("reading body: %w", context.Canceled), true},
		{"truncated", io.ErrUnexpectedEOF, true},
		{"reset", fmt.Errorf("read: %w", syscall.ECONNRESET), true},
		{"broken_pipe", syscall.EPIPE, true},
		{"other_errno", syscall.ENOSPC, false},
		{"plain", errors.New("disk full"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsClientGone(tt.err); got != tt.want {
				t.Errorf("IsClientGone(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestRemoteAddress(t *testing.T) {
	request := httptest.NewRequest("POST", "/datafeed", nil)
	request.RemoteAddr = "192.0.2.7:51234"
	request.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")

	if got := RemoteAddress(request, false); got != "192.0.2.7" {
		t.Errorf("untrusted = %q, want 192.0.2.7", got)
	}
	if got := RemoteAddress(request, true); got != "203.0.113.9" {
		t.Errorf("trusted = %q, want 203.0.113.9", got)
	}

	request.Header.Del("X-Forwarded-For")
	if got := RemoteAddress(request, true); got != "192.0.2.7" {
		t.Errorf("trusted without header = %q, want 192.0.2.7", got)
	}

	request.RemoteAddr = "no-port"
	if got := RemoteAddress(request, false); got != "no-port" {
		t.Errorf("unsplittable = %q, want no-port", got)
	}
}

func TestHostResolver(t *testing.T) {
	var lookups atomic.Int32
	resolver := NewHostResolver(HostResolverConfig{
		Lookup: func(_ context.Context, address string) ([]string, error) {
			lookups.Add(1)
			if address == "192.0.2.7" {
				return []string{"sender.example.com.", "alias.example.com."}, nil
			}
			return nil, errors.New("no such host")
		},
	})
	ctx := context.Background()

	if got := resolver.Resolve(ctx, "192.0.2.7"); got != "sender.example.com" {
		t.Errorf("Resolve = %q, want sender.example.com", got)
	}
	if got := resolver.Resolve(ctx, "192.0.2.7"); got != "sender.example.com" {
		t.Errorf("cached Resolve = %q", got)
	}
	if got := resolver.Resolve(ctx, "198.51.100.1"); got != "198.51.100.1" {
		t.Errorf("unresolvable = %q, want the address", got)
	}
	resolver.Resolve(ctx, "198.51.100.1")
	if got := lookups.Load(); got != 2 {
		t.Errorf("lookups = %d, want 2", got)
	}
	if got := resolver.Resolve(ctx, ""); got != "" {
		t.Errorf("empty address = %q", got)
	}
}
