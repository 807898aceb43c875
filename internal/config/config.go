// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package config reads the server's configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/oidc-schemes/oidc"
	"github.com/hashicorp/oidc-schemes/oidc/clientassertion"
	"github.com/hashicorp/oidc-schemes/session"
	"github.com/joho/godotenv"
)

// ErrInvalidConfig means a variable is missing or has an unusable value.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds all environment-based configuration.
type Config struct {
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`

	// PublicURL is the absolute URL the server is reached at. Redirect URIs
	// are built from it.
	PublicURL string `env:"PUBLIC_URL"`

	DBPath string `env:"DB_PATH" envDefault:"oidc-schemes.db"`

	// SessionSigningKey signs session cookies (HS256).
	SessionSigningKey string `env:"SESSION_SIGNING_KEY"`

	StateTTL        time.Duration `env:"STATE_TTL" envDefault:"10m"`
	SessionTTL      time.Duration `env:"SESSION_TTL" envDefault:"8h"`
	FinalizeTimeout time.Duration `env:"FINALIZE_TIMEOUT" envDefault:"15s"`
	LoadConcurrency int           `env:"LOAD_CONCURRENCY" envDefault:"4"`

	// ProviderCAPEM holds optional CA certs trusted for every provider.
	ProviderCAPEM string `env:"PROVIDER_CA_PEM"`

	// ClientAuthMethod is how every scheme authenticates to its provider's
	// token endpoint: client_secret_basic or client_secret_jwt.
	ClientAuthMethod   string `env:"CLIENT_AUTH_METHOD" envDefault:"client_secret_basic"`
	ClientAssertionAlg string `env:"CLIENT_ASSERTION_ALG" envDefault:"HS256"`

	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogJSON     bool   `env:"LOG_JSON" envDefault:"false"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// Load reads a .env file when one is present and then parses the
// environment. Variables already set in the environment win over the file.
func Load(envFiles ...string) (*Config, error) {
	const op = "config.Load"
	if len(envFiles) == 0 {
		_ = godotenv.Load()
	} else if err := godotenv.Load(envFiles...); err != nil {
		return nil, fmt.Errorf("%s: loading env files: %w", op, err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("%s: parsing config: %s: %w", op, err, ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return cfg, nil
}

// LoadStorage is Load for commands that only touch the store. It doesn't
// require the server variables.
func LoadStorage(envFiles ...string) (*Config, error) {
	const op = "config.LoadStorage"
	if len(envFiles) == 0 {
		_ = godotenv.Load()
	} else if err := godotenv.Load(envFiles...); err != nil {
		return nil, fmt.Errorf("%s: loading env files: %w", op, err)
	}
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("%s: parsing config: %s: %w", op, err, ErrInvalidConfig)
	}
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("%s: DB_PATH is empty: %w", op, ErrInvalidConfig)
	}
	return cfg, nil
}

// Validate checks the variables the server needs.
func (c *Config) Validate() error {
	const op = "Config.Validate"
	if c.PublicURL == "" {
		return fmt.Errorf("%s: PUBLIC_URL is required: %w", op, ErrInvalidConfig)
	}
	u, err := url.Parse(c.PublicURL)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return fmt.Errorf("%s: PUBLIC_URL %q must be an absolute http(s) URL: %w", op, c.PublicURL, ErrInvalidConfig)
	}
	if len(c.SessionSigningKey) < session.MinSigningKeyLen {
		return fmt.Errorf("%s: SESSION_SIGNING_KEY must be at least %d bytes: %w", op, session.MinSigningKeyLen, ErrInvalidConfig)
	}
	if c.DBPath == "" {
		return fmt.Errorf("%s: DB_PATH is empty: %w", op, ErrInvalidConfig)
	}
	for name, d := range map[string]time.Duration{
		"STATE_TTL":        c.StateTTL,
		"SESSION_TTL":      c.SessionTTL,
		"FINALIZE_TIMEOUT": c.FinalizeTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s: %s must be positive: %w", op, name, ErrInvalidConfig)
		}
	}
	if c.LoadConcurrency < 1 {
		return fmt.Errorf("%s: LOAD_CONCURRENCY must be at least 1: %w", op, ErrInvalidConfig)
	}
	switch oidc.ClientAuthMethod(c.ClientAuthMethod) {
	case oidc.ClientSecretBasic:
	case oidc.ClientSecretJWT:
		switch clientassertion.HSAlgorithm(c.ClientAssertionAlg) {
		case clientassertion.HS256, clientassertion.HS384, clientassertion.HS512:
		default:
			return fmt.Errorf("%s: CLIENT_ASSERTION_ALG %q is not HS256, HS384 or HS512: %w", op, c.ClientAssertionAlg, ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%s: CLIENT_AUTH_METHOD %q is not supported: %w", op, c.ClientAuthMethod, ErrInvalidConfig)
	}
	if hclog.LevelFromString(c.LogLevel) == hclog.NoLevel {
		return fmt.Errorf("%s: LOG_LEVEL %q is not a level: %w", op, c.LogLevel, ErrInvalidConfig)
	}
	return nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// SecureCookies reports whether cookies should be marked Secure.
func (c *Config) SecureCookies() bool {
	return strings.HasPrefix(c.PublicURL, "https://")
}

// UsesClientSecretJWT reports whether schemes sign client assertions, and
// with which algorithm.
func (c *Config) UsesClientSecretJWT() (clientassertion.HSAlgorithm, bool) {
	if oidc.ClientAuthMethod(c.ClientAuthMethod) != oidc.ClientSecretJWT {
		return "", false
	}
	return clientassertion.HSAlgorithm(c.ClientAssertionAlg), true
}

// Logger builds the root logger.
func (c *Config) Logger() hclog.Logger {
	level := hclog.LevelFromString(c.LogLevel)
	if level == hclog.NoLevel {
		level = hclog.Info
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:       "oidc-schemes",
		Level:      level,
		JSONFormat: c.LogJSON || c.IsProduction(),
		Output:     os.Stderr,
	})
}
