// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/intake/lib/authn"
	"github.com/bureau-foundation/intake/lib/clock"
	"github.com/bureau-foundation/intake/lib/config"
	"github.com/bureau-foundation/intake/lib/datafeedkey"
	"github.com/bureau-foundation/intake/lib/demux"
	"github.com/bureau-foundation/intake/lib/filestore"
	"github.com/bureau-foundation/intake/lib/filter"
	"github.com/bureau-foundation/intake/lib/netutil"
	"github.com/bureau-foundation/intake/lib/policy"
	"github.com/bureau-foundation/intake/lib/receive"
	"github.com/bureau-foundation/intake/lib/secret"
	"github.com/bureau-foundation/intake/lib/service"
	"github.com/bureau-foundation/intake/lib/version"
)

// intake is the assembled receipt server.
type intake struct {
	config *config.Config
	clock  clock.Clock
	logger *slog.Logger

	store    *filestore.Store
	keys     *datafeedkey.Store
	loader   *datafeedkey.Loader
	rules    *policy.CachedChecker
	registry *prometheus.Registry

	handler   http.Handler
	tlsConfig *tls.Config

	// secrets are closed with the server.
	secrets []*secret.Buffer
}

// newIntake opens the store and builds the request pipeline. Nothing
// listens or watches until Run.
func newIntake(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*intake, error) {
	server := &intake{
		config:   cfg,
		clock:    clock.Real(),
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	if err := server.build(ctx); err != nil {
		server.Close()
		return nil, err
	}
	return server, nil
}

func (s *intake) build(ctx context.Context) error {
	cfg := s.config

	store, err := filestore.Open(ctx, filestore.Config{
		Root:        cfg.Store.Root,
		Compression: cfg.Store.Compression,
		PoolSize:    cfg.Store.PoolSize,
		Clock:       s.clock,
		Logger:      s.logger.With("component", "filestore"),
	})
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	s.store = store

	if cfg.DataFeedKeys.Enabled {
		if err := s.buildKeys(); err != nil {
			return err
		}
	}
	authenticator, err := s.buildAuthenticator()
	if err != nil {
		return err
	}

	if cfg.Server.TLS.Enabled() {
		s.tlsConfig, err = service.LoadServerTLS(service.TLSFiles{
			CertFile:     cfg.Server.TLS.CertFile,
			KeyFile:      cfg.Server.TLS.KeyFile,
			ClientCAFile: cfg.Server.TLS.ClientCAFile,
			ClientAuth:   cfg.Server.TLS.ClientAuth,
		})
		if err != nil {
			return err
		}
	}

	hostname := cfg.Server.Hostname
	if hostname == "" {
		hostname, err = os.Hostname()
		if err != nil {
			return fmt.Errorf("determining hostname: %w", err)
		}
	}
	var resolver *netutil.HostResolver
	if cfg.Server.ResolveRemoteHost {
		resolver = netutil.NewHostResolver(netutil.HostResolverConfig{})
	}

	var keyCount func() int
	if s.keys != nil {
		keyCount = s.keys.Len
	}
	var metrics *receive.Metrics
	if cfg.Metrics.Enabled {
		s.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			version.BuildInfoCollector(),
		)
		metrics, err = receive.NewMetrics(receive.MetricsConfig{
			Registerer: s.registry,
			KeyCount:   keyCount,
		})
		if err != nil {
			return err
		}
	}

	receiveLogger := s.logger.With("component", "receive")
	receiver := receive.NewHandler(receive.Config{
		Authenticator: authenticator,
		Processor: demux.New(demux.Config{
			Store:                s.store,
			Catalog:              s.store,
			OneEntryPerContainer: cfg.Receive.OneEntryPerContainer,
			MaxMetaSize:          cfg.Receive.MaxMetaSize,
			TempDir:              cfg.Receive.TempDir,
			Logger:               receiveLogger,
		}),
		Filter:            s.buildFilter(),
		Hostname:          hostname,
		Resolver:          resolver,
		TrustProxyHeaders: cfg.Server.TrustProxyHeaders,
		Clock:             s.clock,
		Metrics:           metrics,
		Logger:            receiveLogger,
	})

	statusConfig := receive.StatusConfig{Store: s.store, KeyCount: keyCount, Logger: s.logger}
	if s.rules != nil {
		statusConfig.Policy = s.rules
	}
	routes := receive.RoutesConfig{
		Receive: receiver,
		Status:  receive.StatusHandler(statusConfig),
	}
	if cfg.Metrics.Enabled {
		routes.Metrics = promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
			ErrorLog: slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
		})
		routes.MetricsPath = cfg.Metrics.Path
	}
	s.handler = receive.NewServeMux(routes)
	return nil
}

func (s *intake) buildKeys() error {
	cfg := s.config.DataFeedKeys
	logger := s.logger.With("component", "datafeedkey")
	s.keys = datafeedkey.NewStore(datafeedkey.StoreConfig{
		Clock:         s.clock,
		Logger:        logger,
		MemoSize:      cfg.MemoSize,
		MemoTTL:       cfg.MemoTTL,
		MaxCandidates: cfg.MaxLookupCandidates,
	})

	var identity *secret.Buffer
	if cfg.IdentityFile != "" {
		var err error
		identity, err = secret.ReadFile(cfg.IdentityFile)
		if err != nil {
			return fmt.Errorf("reading data-feed key identity: %w", err)
		}
		s.secrets = append(s.secrets, identity)
	}
	s.loader = datafeedkey.NewLoader(datafeedkey.LoaderConfig{
		Directory: cfg.Directory,
		Store:     s.keys,
		Identity:  identity,
		Logger:    logger,
	})
	return nil
}

func (s *intake) buildAuthenticator() (*authn.Chain, error) {
	cfg := s.config.Authentication
	logger := s.logger.With("component", "authn")

	var strategies []authn.Authenticator
	if cfg.Token.Enabled {
		signingSecret, err := secret.ReadFile(cfg.Token.SecretFile)
		if err != nil {
			return nil, fmt.Errorf("reading token secret: %w", err)
		}
		s.secrets = append(s.secrets, signingSecret)
		verifier, err := authn.NewJWTVerifier(authn.JWTConfig{
			Secret:   signingSecret,
			Issuer:   cfg.Token.Issuer,
			Audience: cfg.Token.Audience,
			Leeway:   cfg.Token.Leeway,
			Clock:    s.clock,
		})
		if err != nil {
			return nil, err
		}
		strategies = append(strategies, authn.NewTokenAuthenticator(verifier, logger))
	}
	if cfg.Certificate.Enabled {
		strategies = append(strategies, authn.NewCertificateAuthenticator(s.clock, logger))
	}
	if s.keys != nil {
		strategies = append(strategies, authn.NewDataFeedKeyAuthenticator(s.keys, logger))
	}
	return authn.NewChain(authn.ChainConfig{
		Strategies: strategies,
		Required:   cfg.Required,
		Logger:     logger,
	}), nil
}

// buildFilter orders the filters feed name, feed status, policy.
func (s *intake) buildFilter() filter.Filter {
	cfg := s.config
	logger := s.logger.With("component", "filter")

	filters := []filter.Filter{
		filter.NewFeedNameFilter(filter.FeedNameConfig{
			AutoGenerate: cfg.Feed.AutoGenerate,
			Template:     cfg.Feed.Template,
			AllowedTypes: cfg.Feed.AllowedTypes,
			DefaultType:  cfg.Feed.DefaultType,
		}),
	}
	if cfg.Feed.CheckStatus {
		filters = append(filters, filter.NewFeedStatusFilter(filter.FeedStatusConfig{
			Catalog:         s.store,
			ReceiveUnknown:  cfg.Feed.ReceiveUnknown,
			OnLookupFailure: &cfg.Feed.OnLookupFailure,
			Logger:          logger,
		}))
	}
	if cfg.Policy.RulesFile != "" {
		s.rules = policy.NewCachedChecker(policy.CachedCheckerConfig{
			Path:      cfg.Policy.RulesFile,
			Interval:  cfg.Policy.RefreshInterval,
			Fallbacks: cfg.Policy.Fallbacks,
			Clock:     s.clock,
			Logger:    s.logger.With("component", "policy"),
		})
		filters = append(filters, filter.NewPolicyFilter(s.rules))
	}
	return filter.Wrap(filters...)
}

// Run serves HTTP, watches the key directory and sweeps expired keys
// until ctx is cancelled or one of them fails.
func (s *intake) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)

	server := service.NewHTTPServer(service.HTTPServerConfig{
		Address:           s.config.Server.ListenAddress,
		Handler:           s.handler,
		TLS:               s.tlsConfig,
		ReadHeaderTimeout: s.config.Server.ReadHeaderTimeout,
		ShutdownTimeout:   s.config.Server.ShutdownTimeout,
		Logger:            s.logger.With("component", "http"),
	})
	group.Go(func() error {
		return server.Serve(ctx)
	})

	if s.loader != nil {
		group.Go(func() error {
			if err := s.loader.Run(ctx); err != nil {
				return fmt.Errorf("watching data-feed keys: %w", err)
			}
			return nil
		})
		group.Go(func() error {
			s.keys.RunEvictionSweep(ctx, s.config.DataFeedKeys.SweepInterval)
			return nil
		})
	}
	return group.Wait()
}

// Close releases the store and zeroes loaded secrets.
func (s *intake) Close() error {
	var errs []error
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	for _, buffer := range s.secrets {
		errs = append(errs, buffer.Close())
	}
	return errors.Join(errs...)
}
