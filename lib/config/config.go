// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"regexp"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/intake/lib/filestore"
	"github.com/bureau-foundation/intake/lib/policy"
)

// Environment represents the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Production  Environment = "production"
)

// Config is the receipt server configuration.
type Config struct {
	Environment Environment `yaml:"environment"`

	// Root is the base directory for data intake owns. Other paths
	// may refer to it as ${INTAKE_ROOT}.
	Root string `yaml:"root"`

	Log            LogConfig            `yaml:"log"`
	Server         ServerConfig         `yaml:"server"`
	Authentication AuthenticationConfig `yaml:"authentication"`
	DataFeedKeys   DataFeedKeyConfig    `yaml:"data_feed_keys"`
	Policy         PolicyConfig         `yaml:"policy"`
	Feed           FeedConfig           `yaml:"feed"`
	Store          StoreConfig          `yaml:"store"`
	Receive        ReceiveConfig        `yaml:"receive"`
	Metrics        MetricsConfig        `yaml:"metrics"`

	// Per-environment overrides, applied after the base values.
	Development *Overrides `yaml:"development,omitempty"`
	Production  *Overrides `yaml:"production,omitempty"`
}

// Overrides holds the settings that differ between environments.
type Overrides struct {
	LogLevel              string `yaml:"log_level,omitempty"`
	RequireAuthentication *bool  `yaml:"require_authentication,omitempty"`
	ReceiveUnknownFeeds   *bool  `yaml:"receive_unknown_feeds,omitempty"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`

	// Format is json or text.
	Format string `yaml:"format"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	ListenAddress string `yaml:"listen_address"`

	// Hostname is recorded in ReceivedPath. Empty uses os.Hostname.
	Hostname string `yaml:"hostname"`

	TLS TLSConfig `yaml:"tls"`

	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`

	// TrustProxyHeaders takes RemoteDN and RemoteCertExpiry from
	// request headers. Enable only behind a TLS-terminating proxy
	// that sets them.
	TrustProxyHeaders bool `yaml:"trust_proxy_headers"`

	// ResolveRemoteHost fills RemoteHost by reverse DNS. Off, it
	// records the address.
	ResolveRemoteHost bool `yaml:"resolve_remote_host"`
}

// TLSConfig enables HTTPS when CertFile and KeyFile are set.
type TLSConfig struct {
	CertFile     string `yaml:"cert_file"`
	KeyFile      string `yaml:"key_file"`
	ClientCAFile string `yaml:"client_ca_file"`

	// ClientAuth is none, request, verify_if_given or require.
	ClientAuth string `yaml:"client_auth"`
}

// Enabled reports whether the server should serve TLS.
func (c TLSConfig) Enabled() bool {
	return c.CertFile != "" && c.KeyFile != ""
}

// AuthenticationConfig selects the authentication strategies.
type AuthenticationConfig struct {
	// Required rejects requests that no enabled strategy
	// authenticates.
	Required bool `yaml:"required"`

	Token       TokenConfig       `yaml:"token"`
	Certificate CertificateConfig `yaml:"certificate"`
}

// TokenConfig configures bearer-token verification.
type TokenConfig struct {
	Enabled bool `yaml:"enabled"`

	// SecretFile holds the HMAC signing secret.
	SecretFile string        `yaml:"secret_file"`
	Issuer     string        `yaml:"issuer"`
	Audience   string        `yaml:"audience"`
	Leeway     time.Duration `yaml:"leeway"`
}

// CertificateConfig configures client-certificate authentication.
type CertificateConfig struct {
	Enabled bool `yaml:"enabled"`
}

// DataFeedKeyConfig configures data-feed key authentication.
type DataFeedKeyConfig struct {
	Enabled bool `yaml:"enabled"`

	// Directory is watched for *.json and *.json.age key files.
	Directory string `yaml:"directory"`

	// IdentityFile holds the age identity that opens sealed key
	// files. Empty skips sealed files.
	IdentityFile string `yaml:"identity_file"`

	SweepInterval time.Duration `yaml:"sweep_interval"`
	MemoSize      int           `yaml:"memo_size"`
	MemoTTL       time.Duration `yaml:"memo_ttl"`

	// MaxLookupCandidates bounds the hashes spent on one presented
	// key. Senders with more keys than this in the store must send an
	// AccountId header naming the key's subject.
	MaxLookupCandidates int `yaml:"max_lookup_candidates"`
}

// PolicyConfig configures the policy rule filter.
type PolicyConfig struct {
	// RulesFile is the rule set. Empty disables policy filtering.
	RulesFile       string           `yaml:"rules_file"`
	RefreshInterval time.Duration    `yaml:"refresh_interval"`
	Fallbacks       policy.Fallbacks `yaml:"fallbacks"`
}

// FeedConfig configures feed-name and feed-status filtering.
type FeedConfig struct {
	AutoGenerate bool     `yaml:"auto_generate"`
	Template     string   `yaml:"template"`
	AllowedTypes []string `yaml:"allowed_types"`
	DefaultType  string   `yaml:"default_type"`

	// CheckStatus rejects or drops data according to the feed
	// catalogue.
	CheckStatus     bool          `yaml:"check_status"`
	ReceiveUnknown  bool          `yaml:"receive_unknown"`
	OnLookupFailure policy.Action `yaml:"on_lookup_failure"`
}

// StoreConfig configures the filesystem store.
type StoreConfig struct {
	Root        string                `yaml:"root"`
	Compression filestore.Compression `yaml:"compression"`
	PoolSize    int                   `yaml:"pool_size"`
}

// ReceiveConfig configures request demultiplexing.
type ReceiveConfig struct {
	MaxMetaSize          int64  `yaml:"max_meta_size"`
	OneEntryPerContainer bool   `yaml:"one_entry_per_container"`
	TempDir              string `yaml:"temp_dir"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns the baseline every config file is layered onto.
func Default() *Config {
	return &Config{
		Environment: Development,
		Root:        "${INTAKE_ROOT:-/var/lib/intake}",
		Log:         LogConfig{Level: "info", Format: "json"},
		Server: ServerConfig{
			ListenAddress:     ":8080",
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   30 * time.Second,
			TLS:               TLSConfig{ClientAuth: "verify_if_given"},
		},
		Authentication: AuthenticationConfig{
			Token: TokenConfig{Leeway: 30 * time.Second},
		},
		DataFeedKeys: DataFeedKeyConfig{
			Directory:           "${INTAKE_ROOT}/keys",
			SweepInterval:       5 * time.Minute,
			MemoSize:            1024,
			MemoTTL:             10 * time.Minute,
			MaxLookupCandidates: 16,
		},
		Policy: PolicyConfig{
			RefreshInterval: 30 * time.Second,
			Fallbacks:       policy.DefaultFallbacks(),
		},
		Feed: FeedConfig{
			Template:        "${AccountId}-${Component}-EVENTS",
			AllowedTypes:    []string{"Raw Events", "Events", "Raw Reference", "Reference"},
			OnLookupFailure: policy.Reject,
		},
		Store: StoreConfig{
			Root:        "${INTAKE_ROOT}/store",
			Compression: filestore.CompressionZstd,
		},
		Receive: ReceiveConfig{MaxMetaSize: 1 << 20},
		Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

// Load loads the file named by INTAKE_CONFIG. There is no search path:
// without the variable Load fails.
func Load() (*Config, error) {
	path := os.Getenv("INTAKE_CONFIG")
	if path == "" {
		return nil, fmt.Errorf("INTAKE_CONFIG environment variable not set; " +
			"set it to the path of your intake.yaml config file, or use --config flag")
	}
	return LoadFile(path)
}

// LoadFile layers the file at path onto Default, applies the section
// for the configured environment, and expands ${VAR} references in
// path fields. The result is not validated; call Validate.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	config.applyEnvironmentOverrides()
	config.expandVariables()
	return config, nil
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *Overrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Production:
		overrides = c.Production
		if overrides == nil {
			required := true
			overrides = &Overrides{RequireAuthentication: &required}
		}
	}
	if overrides == nil {
		return
	}
	if overrides.LogLevel != "" {
		c.Log.Level = overrides.LogLevel
	}
	if overrides.RequireAuthentication != nil {
		c.Authentication.Required = *overrides.RequireAuthentication
	}
	if overrides.ReceiveUnknownFeeds != nil {
		c.Feed.ReceiveUnknown = *overrides.ReceiveUnknownFeeds
	}
}

func (c *Config) expandVariables() {
	vars := map[string]string{"HOME": os.Getenv("HOME")}
	c.Root = expandVars(c.Root, vars)
	vars["INTAKE_ROOT"] = c.Root

	for _, path := range []*string{
		&c.Server.TLS.CertFile,
		&c.Server.TLS.KeyFile,
		&c.Server.TLS.ClientCAFile,
		&c.Authentication.Token.SecretFile,
		&c.DataFeedKeys.Directory,
		&c.DataFeedKeys.IdentityFile,
		&c.Policy.RulesFile,
		&c.Store.Root,
		&c.Receive.TempDir,
	} {
		*path = expandVars(*path, vars)
	}
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default}. vars take precedence
// over the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name, defaultValue := parts[1], parts[2]
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

var clientAuthModes = []string{"none", "request", "verify_if_given", "require"}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}
	if _, err := ParseLogLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		errs = append(errs, fmt.Errorf("log.format must be json or text"))
	}

	if _, _, err := net.SplitHostPort(c.Server.ListenAddress); err != nil {
		errs = append(errs, fmt.Errorf("server.listen_address: %w", err))
	}
	if !slices.Contains(clientAuthModes, c.Server.TLS.ClientAuth) {
		errs = append(errs, fmt.Errorf("server.tls.client_auth must be one of: %v", clientAuthModes))
	}
	if (c.Server.TLS.CertFile == "") != (c.Server.TLS.KeyFile == "") {
		errs = append(errs, fmt.Errorf("server.tls.cert_file and server.tls.key_file must be set together"))
	}

	authentication := c.Authentication
	if authentication.Token.Enabled && authentication.Token.SecretFile == "" {
		errs = append(errs, fmt.Errorf("authentication.token.secret_file is required when tokens are enabled"))
	}
	if authentication.Certificate.Enabled && !c.Server.TLS.Enabled() && !c.Server.TrustProxyHeaders {
		errs = append(errs, fmt.Errorf("authentication.certificate needs server.tls or server.trust_proxy_headers"))
	}
	if authentication.Required && !authentication.Token.Enabled && !authentication.Certificate.Enabled && !c.DataFeedKeys.Enabled {
		errs = append(errs, fmt.Errorf("authentication.required is set but no authentication type is enabled"))
	}

	if c.DataFeedKeys.Enabled {
		if c.DataFeedKeys.Directory == "" {
			errs = append(errs, fmt.Errorf("data_feed_keys.directory is required"))
		}
		if c.DataFeedKeys.SweepInterval <= 0 {
			errs = append(errs, fmt.Errorf("data_feed_keys.sweep_interval must be positive"))
		}
	}

	if c.Policy.RulesFile != "" && c.Policy.RefreshInterval <= 0 {
		errs = append(errs, fmt.Errorf("policy.refresh_interval must be positive"))
	}
	if c.Feed.AutoGenerate && c.Feed.Template == "" {
		errs = append(errs, fmt.Errorf("feed.template is required when auto_generate is set"))
	}
	if c.Store.Root == "" {
		errs = append(errs, fmt.Errorf("store.root is required"))
	}
	if c.Receive.MaxMetaSize <= 0 {
		errs = append(errs, fmt.Errorf("receive.max_meta_size must be positive"))
	}

	return errors.Join(errs...)
}

// ParseLogLevel maps a configured level name to a slog.Level.
func ParseLogLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// EnsurePaths creates the directories intake writes to.
func (c *Config) EnsurePaths() error {
	for _, path := range []string{c.Root, c.Store.Root, c.DataFeedKeys.Directory, c.Receive.TempDir} {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0o750); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}
	return nil
}
