// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// RemoteAddress returns the sending client's IP address. With
// trustForwarded the first X-Forwarded-For hop wins; otherwise the
// connection's peer address is used.
func RemoteAddress(request *http.Request, trustForwarded bool) string {
	if trustForwarded {
		if forwarded := request.Header.Get("X-Forwarded-For"); forwarded != "" {
			first, _, _ := strings.Cut(forwarded, ",")
			if first = strings.TrimSpace(first); first != "" {
				return first
			}
		}
	}
	host, _, err := net.SplitHostPort(request.RemoteAddr)
	if err != nil {
		return request.RemoteAddr
	}
	return host
}

// LookupFunc resolves an address to host names, like
// net.Resolver.LookupAddr.
type LookupFunc func(ctx context.Context, address string) ([]string, error)

// HostResolverConfig configures a HostResolver.
type HostResolverConfig struct {
	// Lookup defaults to net.DefaultResolver.LookupAddr.
	Lookup LookupFunc

	// Timeout bounds each lookup. Defaults to 2 seconds.
	Timeout time.Duration

	// CacheSize and CacheTTL bound the result cache. Failed
	// lookups are cached too. Defaults are 4096 entries for 10
	// minutes.
	CacheSize int
	CacheTTL  time.Duration
}

// HostResolver maps client addresses to host names by reverse DNS,
// falling back to the address itself. Safe for concurrent use.
type HostResolver struct {
	lookup  LookupFunc
	timeout time.Duration
	cache   *expirable.LRU[string, string]
}

// NewHostResolver returns a HostResolver for config.
func NewHostResolver(config HostResolverConfig) *HostResolver {
	if config.Lookup == nil {
		config.Lookup = net.DefaultResolver.LookupAddr
	}
	if config.Timeout <= 0 {
		config.Timeout = 2 * time.Second
	}
	if config.CacheSize <= 0 {
		config.CacheSize = 4096
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = 10 * time.Minute
	}
	return &HostResolver{
		lookup:  config.Lookup,
		timeout: config.Timeout,
		cache:   expirable.NewLRU[string, string](config.CacheSize, nil, config.CacheTTL),
	}
}

// Resolve returns the first name address resolves to, without the
// trailing dot, or address when it has none.
func (r *HostResolver) Resolve(ctx context.Context, address string) string {
	if address == "" {
		return ""
	}
	if host, ok := r.cache.Get(address); ok {
		return host
	}
	lookupCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	host := address
	if names, err := r.lookup(lookupCtx, address); err == nil && len(names) > 0 {
		host = strings.TrimSuffix(names[0], ".")
	} else if ctx.Err() != nil {
		return address
	}
	r.cache.Add(address, host)
	return host
}
