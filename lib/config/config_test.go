// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/intake/lib/filestore"
	"github.com/bureau-foundation/intake/lib/policy"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "intake.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Environment != Development {
		t.Errorf("expected environment=development, got %s", cfg.Environment)
	}
	if cfg.Store.Compression != filestore.CompressionZstd {
		t.Errorf("expected zstd store compression, got %s", cfg.Store.Compression)
	}
	if cfg.Authentication.Required {
		t.Error("expected authentication not required for development")
	}
	if cfg.Receive.MaxMetaSize != 1<<20 {
		t.Errorf("expected max_meta_size=1MiB, got %d", cfg.Receive.MaxMetaSize)
	}
}

func TestLoad_RequiresIntakeConfig(t *testing.T) {
	t.Setenv("INTAKE_CONFIG", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when INTAKE_CONFIG not set, got nil")
	}
	if !strings.HasPrefix(err.Error(), "INTAKE_CONFIG environment variable not set") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoad_WithIntakeConfig(t *testing.T) {
	path := writeConfig(t, `
root: /srv/intake
server:
  listen_address: ":9443"
store:
  compression: lz4
`)
	t.Setenv("INTAKE_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Server.ListenAddress != ":9443" {
		t.Errorf("expected listen_address=:9443, got %s", cfg.Server.ListenAddress)
	}
	if cfg.Store.Compression != filestore.CompressionLZ4 {
		t.Errorf("expected lz4, got %s", cfg.Store.Compression)
	}
	if cfg.Store.Root != "/srv/intake/store" {
		t.Errorf("expected store root under root, got %s", cfg.Store.Root)
	}
	if cfg.DataFeedKeys.Directory != "/srv/intake/keys" {
		t.Errorf("expected key directory under root, got %s", cfg.DataFeedKeys.Directory)
	}
	// Unset fields keep their defaults.
	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("expected default shutdown_timeout, got %s", cfg.Server.ShutdownTimeout)
	}
}

func TestLoadFile_RootFromEnvironment(t *testing.T) {
	t.Setenv("INTAKE_ROOT", "/data/intake")
	path := writeConfig(t, "environment: development\n")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() failed: %v", err)
	}
	if cfg.Root != "/data/intake" {
		t.Errorf("expected root from INTAKE_ROOT, got %s", cfg.Root)
	}
	if cfg.Store.Root != "/data/intake/store" {
		t.Errorf("expected /data/intake/store, got %s", cfg.Store.Root)
	}
}

func TestLoadFile_RootDefault(t *testing.T) {
	t.Setenv("INTAKE_ROOT", "")
	path := writeConfig(t, "environment: development\n")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() failed: %v", err)
	}
	if cfg.Root != "/var/lib/intake" {
		t.Errorf("expected /var/lib/intake, got %s", cfg.Root)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Run("production requires authentication by default", func(t *testing.T) {
		cfg, err := LoadFile(writeConfig(t, "environment: production\n"))
		if err != nil {
			t.Fatalf("LoadFile() failed: %v", err)
		}
		if !cfg.Authentication.Required {
			t.Error("expected authentication required in production")
		}
	})

	t.Run("production section wins", func(t *testing.T) {
		cfg, err := LoadFile(writeConfig(t, `
environment: production
log:
  level: info
production:
  log_level: warn
  require_authentication: false
  receive_unknown_feeds: true
`))
		if err != nil {
			t.Fatalf("LoadFile() failed: %v", err)
		}
		if cfg.Authentication.Required {
			t.Error("expected production section to disable required authentication")
		}
		if cfg.Log.Level != "warn" {
			t.Errorf("expected log level warn, got %s", cfg.Log.Level)
		}
		if !cfg.Feed.ReceiveUnknown {
			t.Error("expected receive_unknown from production section")
		}
	})

	t.Run("inactive section ignored", func(t *testing.T) {
		cfg, err := LoadFile(writeConfig(t, `
environment: development
production:
  log_level: error
`))
		if err != nil {
			t.Fatalf("LoadFile() failed: %v", err)
		}
		if cfg.Log.Level != "info" {
			t.Errorf("expected log level info, got %s", cfg.Log.Level)
		}
	})
}

func TestPolicySection(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, `
policy:
  rules_file: ${INTAKE_ROOT}/rules.json
  refresh_interval: 1m
  fallbacks:
    no_match: reject
    no_active_rules: receive
    unavailable: drop
feed:
  on_lookup_failure: receive
`))
	if err != nil {
		t.Fatalf("LoadFile() failed: %v", err)
	}
	if cfg.Policy.RefreshInterval != time.Minute {
		t.Errorf("expected refresh_interval=1m, got %s", cfg.Policy.RefreshInterval)
	}
	if !strings.HasSuffix(cfg.Policy.RulesFile, "/rules.json") || strings.Contains(cfg.Policy.RulesFile, "$") {
		t.Errorf("rules_file not expanded: %s", cfg.Policy.RulesFile)
	}
	want := policy.Fallbacks{NoMatch: policy.Reject, NoActiveRules: policy.Receive, Unavailable: policy.Drop}
	if cfg.Policy.Fallbacks != want {
		t.Errorf("fallbacks = %+v, want %+v", cfg.Policy.Fallbacks, want)
	}
	if cfg.Feed.OnLookupFailure != policy.Receive {
		t.Errorf("on_lookup_failure = %v", cfg.Feed.OnLookupFailure)
	}
}

func TestExpandVars(t *testing.T) {
	t.Setenv("INTAKE_TEST_VAR", "from-env")

	vars := map[string]string{"INTAKE_ROOT": "/root/intake"}
	tests := []struct {
		input, want string
	}{
		{"${INTAKE_ROOT}/store", "/root/intake/store"},
		{"${INTAKE_TEST_VAR}/x", "from-env/x"},
		{"${INTAKE_UNSET_VAR:-fallback}", "fallback"},
		{"${INTAKE_UNSET_VAR}", ""},
		{"plain", "plain"},
	}
	for _, test := range tests {
		if got := expandVars(test.input, vars); got != test.want {
			t.Errorf("expandVars(%q) = %q, want %q", test.input, got, test.want)
		}
	}
}

func TestValidate(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"environment", func(c *Config) { c.Environment = "staging" }, "invalid environment"},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"listen address", func(c *Config) { c.Server.ListenAddress = "nope" }, "listen_address"},
		{"client auth", func(c *Config) { c.Server.TLS.ClientAuth = "sometimes" }, "client_auth"},
		{"half tls", func(c *Config) { c.Server.TLS.CertFile = "/cert.pem" }, "set together"},
		{"token secret", func(c *Config) { c.Authentication.Token.Enabled = true }, "secret_file"},
		{"certificate without tls", func(c *Config) { c.Authentication.Certificate.Enabled = true }, "authentication.certificate"},
		{"required without strategies", func(c *Config) { c.Authentication.Required = true }, "no authentication type"},
		{"template", func(c *Config) {
			c.Feed.AutoGenerate = true
			c.Feed.Template = ""
		}, "feed.template"},
		{"meta size", func(c *Config) { c.Receive.MaxMetaSize = 0 }, "max_meta_size"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := Default()
			test.modify(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), test.want) {
				t.Errorf("Validate() = %v, want error containing %q", err, test.want)
			}
		})
	}
}

func TestValidateReportsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Environment = "staging"
	cfg.Receive.MaxMetaSize = -1
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected errors")
	}
	if !strings.Contains(err.Error(), "invalid environment") || !strings.Contains(err.Error(), "max_meta_size") {
		t.Errorf("expected both errors, got %v", err)
	}
}

func TestEnsurePaths(t *testing.T) {
	root := t.TempDir()
	cfg := Default()
	cfg.Root = root
	cfg.Store.Root = filepath.Join(root, "store")
	cfg.DataFeedKeys.Directory = filepath.Join(root, "keys")

	if err := cfg.EnsurePaths(); err != nil {
		t.Fatalf("EnsurePaths() failed: %v", err)
	}
	for _, path := range []string{cfg.Store.Root, cfg.DataFeedKeys.Directory} {
		if info, err := os.Stat(path); err != nil || !info.IsDir() {
			t.Errorf("%s not created: %v", path, err)
		}
	}
}
