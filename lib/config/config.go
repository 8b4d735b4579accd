// Copyright 2026 The Satnam Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/blobstore"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/envelope"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/schema"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/vault"
)

// EnvVar names the environment variable [Load] reads the config path
// from.
const EnvVar = "SATNAM_CUSTODY_CONFIG"

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Store backends accepted in store.backend.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Config is the master configuration for the custody daemon and CLI.
type Config struct {
	// Environment identifies the deployment type (development, staging, production).
	Environment Environment `yaml:"environment"`

	// StateDir is the base directory for persistent state. Other
	// paths may refer to it as ${SATNAM_STATE}.
	StateDir string `yaml:"state_dir"`

	Store    StoreConfig    `yaml:"store"`
	KDF      KDFConfig      `yaml:"kdf"`
	Session  SessionConfig  `yaml:"session"`
	Vault    VaultConfig    `yaml:"vault"`
	Resolver ResolverConfig `yaml:"resolver"`
	Bundle   BundleConfig   `yaml:"bundle"`

	// Per-environment overrides, applied after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
// Zero-valued fields leave the base value in place.
type ConfigOverrides struct {
	Store    *StoreConfig    `yaml:"store,omitempty"`
	Session  *SessionConfig  `yaml:"session,omitempty"`
	Vault    *VaultConfig    `yaml:"vault,omitempty"`
	Resolver *ResolverConfig `yaml:"resolver,omitempty"`
	Bundle   *BundleConfig   `yaml:"bundle,omitempty"`
}

// StoreConfig selects the encrypted blob store.
type StoreConfig struct {
	// Backend is memory, file, or sqlite.
	Backend string `yaml:"backend"`

	// Path is the record directory for the file backend and the
	// database file for sqlite. Ignored for memory.
	Path string `yaml:"path"`

	// PoolSize is the sqlite connection pool size.
	PoolSize int `yaml:"pool_size"`
}

// KDFConfig carries the argon2id parameters for new blobs and the
// ceiling accepted when decrypting.
type KDFConfig struct {
	Params envelope.KDFParams `yaml:"params"`
	Max    envelope.KDFParams `yaml:"max"`
}

// SessionConfig bounds secure sessions.
type SessionConfig struct {
	// TTL and Ops are used when an unlock request leaves them unset.
	TTL Duration `yaml:"ttl"`
	Ops int      `yaml:"ops"`

	// MaxTTL and MaxOps clamp what an unlock request may ask for.
	MaxTTL Duration `yaml:"max_ttl"`
	MaxOps int      `yaml:"max_ops"`
}

// VaultConfig configures both ends of the vault socket.
type VaultConfig struct {
	// SocketPath is the unix socket the daemon listens on.
	SocketPath string `yaml:"socket_path"`

	// Origins maps each allowlisted origin to the request types it may
	// issue. Server side only.
	Origins map[string][]string `yaml:"origins"`

	// TokenPublicKey is the path to the ed25519 public key used to
	// verify origin tokens. Empty disables token checks.
	TokenPublicKey string `yaml:"token_public_key"`

	// Audience is the audience origin tokens must name.
	Audience string `yaml:"audience"`

	// Origin and TokenFile identify the client side.
	Origin    string `yaml:"origin"`
	TokenFile string `yaml:"token_file"`

	// CallTimeout bounds each client request.
	CallTimeout Duration `yaml:"call_timeout"`
}

// ResolverConfig configures credential source resolution.
type ResolverConfig struct {
	ProbeTimeout Duration `yaml:"probe_timeout"`

	// Priorities maps a source type to its rank. Lower is tried first.
	Priorities map[string]int `yaml:"priorities"`
}

// BundleConfig configures export bundles.
type BundleConfig struct {
	// Compression is none, lz4, or zstd.
	Compression string `yaml:"compression"`

	// Recipients are age X25519 public keys bundles are sealed to when
	// the export command is given none.
	Recipients []string `yaml:"recipients"`
}

// Duration is a time.Duration written as a Go duration string ("90s").
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var text string
	if err := node.Decode(&text); err != nil {
		return fmt.Errorf("line %d: duration must be a string: %w", node.Line, err)
	}
	parsed, err := time.ParseDuration(text)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Default returns the default configuration.
// These defaults are used as a base before loading the config file.
// They exist to give every field a sensible value, not as a fallback;
// the config file is still required.
func Default() *Config {
	return &Config{
		Environment: Development,
		StateDir:    "${HOME}/.local/state/satnam-custody",
		Store: StoreConfig{
			Backend:  BackendFile,
			Path:     "${SATNAM_STATE}/secrets",
			PoolSize: 4,
		},
		KDF: KDFConfig{
			Params: envelope.DefaultKDFParams(),
			Max:    envelope.DefaultMaxKDFParams(),
		},
		Session: SessionConfig{
			TTL:    Duration(vault.DefaultSessionTTL),
			Ops:    vault.DefaultSessionOps,
			MaxTTL: Duration(vault.DefaultMaxSessionTTL),
			MaxOps: vault.DefaultMaxSessionOps,
		},
		Vault: VaultConfig{
			SocketPath:  "${XDG_RUNTIME_DIR:-/tmp}/satnam-vault.sock",
			Audience:    "satnam-vault",
			CallTimeout: Duration(vault.DefaultCallTimeout),
		},
		Resolver: ResolverConfig{
			ProbeTimeout: Duration(2 * time.Second),
			Priorities: map[string]int{
				string(schema.SourceSandboxedVault):  0,
				string(schema.SourceLocalStore):      10,
				string(schema.SourceRecoveryService): 20,
			},
		},
		Bundle: BundleConfig{
			Compression: blobstore.CompressionZstd.String(),
		},
	}
}

// Load loads configuration from the SATNAM_CUSTODY_CONFIG environment
// variable. There is no fallback: if the variable is unset, Load fails.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvVar)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your custody config file, or use --config flag", EnvVar)
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// Files ending in .json or .jsonc have comments and trailing commas
// stripped and are then read with the YAML decoder. The only expansion
// performed is ${HOME}, ${SATNAM_STATE} and ${VAR:-default} in path
// fields.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()

	return cfg, nil
}

// loadFile loads a single configuration file, merging into the current config.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		data = jsonc.ToJSON(data)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// applyEnvironmentOverrides applies the environment-specific overrides.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		// Production defaults: shorter sessions and smaller budgets.
		if overrides == nil {
			overrides = &ConfigOverrides{
				Session: &SessionConfig{
					MaxTTL: Duration(15 * time.Minute),
					MaxOps: 100,
				},
			}
		}
	}

	if overrides == nil {
		return
	}

	if overrides.Store != nil {
		if overrides.Store.Backend != "" {
			c.Store.Backend = overrides.Store.Backend
		}
		if overrides.Store.Path != "" {
			c.Store.Path = overrides.Store.Path
		}
		if overrides.Store.PoolSize != 0 {
			c.Store.PoolSize = overrides.Store.PoolSize
		}
	}

	if overrides.Session != nil {
		if overrides.Session.TTL != 0 {
			c.Session.TTL = overrides.Session.TTL
		}
		if overrides.Session.Ops != 0 {
			c.Session.Ops = overrides.Session.Ops
		}
		if overrides.Session.MaxTTL != 0 {
			c.Session.MaxTTL = overrides.Session.MaxTTL
		}
		if overrides.Session.MaxOps != 0 {
			c.Session.MaxOps = overrides.Session.MaxOps
		}
	}

	if overrides.Vault != nil {
		if overrides.Vault.SocketPath != "" {
			c.Vault.SocketPath = overrides.Vault.SocketPath
		}
		if overrides.Vault.Origins != nil {
			c.Vault.Origins = overrides.Vault.Origins
		}
		if overrides.Vault.TokenPublicKey != "" {
			c.Vault.TokenPublicKey = overrides.Vault.TokenPublicKey
		}
		if overrides.Vault.Audience != "" {
			c.Vault.Audience = overrides.Vault.Audience
		}
		if overrides.Vault.Origin != "" {
			c.Vault.Origin = overrides.Vault.Origin
		}
		if overrides.Vault.TokenFile != "" {
			c.Vault.TokenFile = overrides.Vault.TokenFile
		}
		if overrides.Vault.CallTimeout != 0 {
			c.Vault.CallTimeout = overrides.Vault.CallTimeout
		}
	}

	if overrides.Resolver != nil {
		if overrides.Resolver.ProbeTimeout != 0 {
			c.Resolver.ProbeTimeout = overrides.Resolver.ProbeTimeout
		}
		if c.Resolver.Priorities == nil {
			c.Resolver.Priorities = make(map[string]int)
		}
		for source, priority := range overrides.Resolver.Priorities {
			c.Resolver.Priorities[source] = priority
		}
	}

	if overrides.Bundle != nil {
		if overrides.Bundle.Compression != "" {
			c.Bundle.Compression = overrides.Bundle.Compression
		}
		if overrides.Bundle.Recipients != nil {
			c.Bundle.Recipients = overrides.Bundle.Recipients
		}
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.StateDir = expandVars(c.StateDir, vars)
	vars["SATNAM_STATE"] = c.StateDir

	c.Store.Path = expandVars(c.Store.Path, vars)
	c.Vault.SocketPath = expandVars(c.Vault.SocketPath, vars)
	c.Vault.TokenPublicKey = expandVars(c.Vault.TokenPublicKey, vars)
	c.Vault.TokenFile = expandVars(c.Vault.TokenFile, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns, preferring
// vars over the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	switch c.Store.Backend {
	case BackendMemory:
		if c.Environment == Production {
			errs = append(errs, fmt.Errorf("store.backend memory is not allowed in production"))
		}
	case BackendFile, BackendSQLite:
		if c.Store.Path == "" {
			errs = append(errs, fmt.Errorf("store.path is required for the %s backend", c.Store.Backend))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend must be one of: %v",
			[]string{BackendMemory, BackendFile, BackendSQLite}))
	}
	if c.Store.Backend == BackendSQLite && c.Store.PoolSize < 1 {
		errs = append(errs, fmt.Errorf("store.pool_size must be positive"))
	}

	if err := c.KDF.Params.Validate(c.KDF.Max); err != nil {
		errs = append(errs, fmt.Errorf("kdf.params: %w", err))
	}

	if c.Session.TTL <= 0 || c.Session.MaxTTL <= 0 {
		errs = append(errs, fmt.Errorf("session.ttl and session.max_ttl must be positive"))
	} else if c.Session.TTL > c.Session.MaxTTL {
		errs = append(errs, fmt.Errorf("session.ttl %s exceeds session.max_ttl %s",
			c.Session.TTL.Std(), c.Session.MaxTTL.Std()))
	}
	if c.Session.Ops < 1 || c.Session.MaxOps < 1 {
		errs = append(errs, fmt.Errorf("session.ops and session.max_ops must be positive"))
	} else if c.Session.Ops > c.Session.MaxOps {
		errs = append(errs, fmt.Errorf("session.ops %d exceeds session.max_ops %d",
			c.Session.Ops, c.Session.MaxOps))
	}

	if c.Vault.SocketPath == "" {
		errs = append(errs, fmt.Errorf("vault.socket_path is required"))
	}
	if c.Vault.CallTimeout <= 0 {
		errs = append(errs, fmt.Errorf("vault.call_timeout must be positive"))
	}
	for origin, operations := range c.Vault.Origins {
		if origin == "" {
			errs = append(errs, fmt.Errorf("vault.origins contains an empty origin"))
		}
		for _, operation := range operations {
			if _, err := vault.ParseRequestType(operation); err != nil {
				errs = append(errs, fmt.Errorf("vault.origins[%s]: %w", origin, err))
			}
		}
	}
	if c.Vault.TokenPublicKey != "" && c.Vault.Audience == "" {
		errs = append(errs, fmt.Errorf("vault.audience is required when vault.token_public_key is set"))
	}

	if c.Resolver.ProbeTimeout <= 0 {
		errs = append(errs, fmt.Errorf("resolver.probe_timeout must be positive"))
	}
	for source := range c.Resolver.Priorities {
		if _, err := schema.ParseSourceType(source); err != nil {
			errs = append(errs, fmt.Errorf("resolver.priorities: %w", err))
		}
	}

	if _, err := blobstore.ParseCompression(c.Bundle.Compression); err != nil {
		errs = append(errs, fmt.Errorf("bundle.compression: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Allowlist converts vault.origins to the form the vault server takes.
// Call Validate first; unknown operations are skipped here.
func (c *Config) Allowlist() map[string][]vault.RequestType {
	allowlist := make(map[string][]vault.RequestType, len(c.Vault.Origins))
	for origin, operations := range c.Vault.Origins {
		types := make([]vault.RequestType, 0, len(operations))
		for _, operation := range operations {
			if requestType, err := vault.ParseRequestType(operation); err == nil {
				types = append(types, requestType)
			}
		}
		allowlist[origin] = types
	}
	return allowlist
}

// Priority returns the configured rank for a source type, and false if
// the source type has no entry.
func (c *Config) Priority(source schema.SourceType) (int, bool) {
	priority, ok := c.Resolver.Priorities[string(source)]
	return priority, ok
}

// Codec returns an envelope codec using the configured KDF parameters.
func (c *Config) Codec() *envelope.Codec {
	return &envelope.Codec{Params: c.KDF.Params, MaxParams: c.KDF.Max}
}

// Compression returns the parsed bundle compression.
func (c *Config) Compression() blobstore.Compression {
	compression, err := blobstore.ParseCompression(c.Bundle.Compression)
	if err != nil {
		return blobstore.CompressionZstd
	}
	return compression
}

// EnsurePaths creates the state directory and the store directory (or
// the sqlite database's parent) with owner-only permissions.
func (c *Config) EnsurePaths() error {
	paths := []string{c.StateDir}
	switch c.Store.Backend {
	case BackendFile:
		paths = append(paths, c.Store.Path)
	case BackendSQLite:
		paths = append(paths, filepath.Dir(c.Store.Path))
	}
	if c.Vault.SocketPath != "" {
		paths = append(paths, filepath.Dir(c.Vault.SocketPath))
	}

	sort.Strings(paths)
	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0o700); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}

	return nil
}
