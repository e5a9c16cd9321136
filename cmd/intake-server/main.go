// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// intake-server receives data over HTTP and writes it to the local
// filesystem store.
//
// Senders POST to /datafeed with the stream's attributes as headers.
// Each request is authenticated (bearer token, client certificate or
// data-feed key), filtered by feed name, feed status and policy rules,
// and then demultiplexed into one stored stream per target feed. The
// response body is "<code> - <message>" and the Receipt-Id header
// identifies the receipt in the server log and the stored metadata.
//
// Configuration is a YAML file named by --config or INTAKE_CONFIG.
// Data-feed key files in the configured directory are picked up as they
// change; policy rules are re-read when the rule file changes.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/intake/lib/config"
	"github.com/bureau-foundation/intake/lib/process"
	"github.com/bureau-foundation/intake/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath  string
		checkConfig bool
		showVersion bool
	)
	flagSet := pflag.NewFlagSet("intake-server", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to intake.yaml (default: $INTAKE_CONFIG)")
	flagSet.BoolVar(&checkConfig, "check-config", false, "validate the configuration and exit")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("%w: %w", process.ErrUsage, err)
	}
	if showVersion {
		fmt.Printf("intake-server %s\n", version.Full())
		return nil
	}
	if flagSet.NArg() > 0 {
		return fmt.Errorf("%w: unexpected argument %q", process.ErrUsage, flagSet.Arg(0))
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}
	if checkConfig {
		fmt.Println("configuration ok")
		return nil
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server, err := newIntake(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer server.Close()

	logger.Info("intake server starting",
		"version", version.Info(),
		"environment", string(cfg.Environment),
		"listen_address", cfg.Server.ListenAddress,
		"tls", cfg.Server.TLS.Enabled(),
		"authentication_required", cfg.Authentication.Required,
	)
	err = server.Run(ctx)
	logger.Info("intake server stopped")
	return err
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Load()
	}
	return config.LoadFile(path)
}

func newLogger(logConfig config.LogConfig) (*slog.Logger, error) {
	level, err := config.ParseLogLevel(logConfig.Level)
	if err != nil {
		return nil, err
	}
	options := &slog.HandlerOptions{Level: level}
	if logConfig.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, options)), nil
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, options)), nil
}
