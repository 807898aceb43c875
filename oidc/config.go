// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/oidc-schemes/oidc/clientassertion"
	"github.com/hashicorp/oidc-schemes/oidc/internal/strutils"
	sdkHttp "github.com/hashicorp/oidc-schemes/sdk/http"
)

// ClientSecret is an oauth client Secret.
type ClientSecret string

// RedactedClientSecret is the redacted string or json for an oauth client secret.
const RedactedClientSecret = "[REDACTED: client secret]"

// String will redact the client secret.
func (t ClientSecret) String() string {
	return RedactedClientSecret
}

// MarshalJSON will redact the client secret.
func (t ClientSecret) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedClientSecret)
}

// ResponseMode is the oauth response_mode requested from the provider.
type ResponseMode string

const (
	// QueryResponseMode returns the authorization response as query parameters
	// of a redirect. It's the default for the code response type.
	QueryResponseMode ResponseMode = "query"

	// FormPostResponseMode returns the authorization response as an HTML form
	// auto-posted to the redirect URL.
	FormPostResponseMode ResponseMode = "form_post"
)

// ClientAuthMethod is how the relying party authenticates to the token
// endpoint.
type ClientAuthMethod string

const (
	// ClientSecretBasic sends the client secret itself. The oauth2 package
	// picks HTTP basic auth or form parameters, whichever the provider
	// accepts.
	ClientSecretBasic ClientAuthMethod = "client_secret_basic"

	// ClientSecretJWT sends a client_assertion JWT signed with the client
	// secret. The secret never leaves the relying party.
	ClientSecretJWT ClientAuthMethod = "client_secret_jwt"
)

// DefaultHTTPTimeout bounds every request the provider makes (discovery,
// token exchange, key set refresh).
const DefaultHTTPTimeout = 15 * time.Second

// Config represents the configuration for an OIDC provider used by a relying
// party.
type Config struct {
	// ClientID is the relying party ID.
	ClientID string

	// ClientSecret is the relying party secret.
	ClientSecret ClientSecret

	// Scopes is a list of additional oidc scopes to request of the provider.
	// The required "openid" scope is requested by default, and does not need
	// to be part of this optional list.
	Scopes []string

	// Issuer is a case-sensitive URL string that contains scheme, host, and
	// optionally, port number and path components and no query or fragment
	// components.
	Issuer string

	// SupportedSigningAlgs is a list of supported signing algorithms. When
	// empty, the algorithms advertised by the provider's discovery document
	// are used.
	SupportedSigningAlgs []Alg

	// RedirectURL is the absolute URL the provider redirects (or posts) the
	// authentication response to.
	RedirectURL string

	// ResponseMode is the requested response_mode. Empty means the provider's
	// default.
	ResponseMode ResponseMode

	// UsePKCE requires every State used with the provider to carry a PKCE
	// code verifier.
	UsePKCE bool

	// AllowHTTPIssuer permits an issuer (and discovery document) reached over
	// plain http. Without it the issuer must be https.
	AllowHTTPIssuer bool

	// Audiences is an optional list of case-sensitive strings used when
	// verifying an id_token's "aud" claim.
	Audiences []string

	// ProviderCA is an optional CA certs (PEM encoded) to use when sending
	// requests to the provider.
	ProviderCA string

	// HTTPTimeout bounds each request to the provider.
	HTTPTimeout time.Duration

	// ClientAuthMethod is the token endpoint authentication method. Empty
	// means ClientSecretBasic.
	ClientAuthMethod ClientAuthMethod

	// ClientAssertionAlg signs client assertions when ClientAuthMethod is
	// ClientSecretJWT.
	ClientAssertionAlg clientassertion.HSAlgorithm

	// NowFunc is a time func that returns the current time.
	NowFunc func() time.Time
}

// NewConfig composes a new config for a provider.
//
// Supported options:
//   - WithScopes
//   - WithAudiences
//   - WithProviderCA
//   - WithResponseMode
//   - WithPKCE
//   - WithAllowHTTPIssuer
//   - WithSupportedSigningAlgs
//   - WithHTTPTimeout
//   - WithClientSecretJWT
//   - WithNow
func NewConfig(issuer string, clientID string, clientSecret ClientSecret, redirectURL string, opt ...Option) (*Config, error) {
	const op = "NewConfig"
	opts := getConfigOpts(opt...)
	c := &Config{
		Issuer:               issuer,
		ClientID:             clientID,
		ClientSecret:         clientSecret,
		RedirectURL:          redirectURL,
		Scopes:               opts.withScopes,
		Audiences:            opts.withAudiences,
		ProviderCA:           opts.withProviderCA,
		ResponseMode:         opts.withResponseMode,
		UsePKCE:              opts.withPKCE,
		AllowHTTPIssuer:      opts.withAllowHTTPIssuer,
		SupportedSigningAlgs: opts.withSupportedSigningAlgs,
		HTTPTimeout:          opts.withHTTPTimeout,
		ClientAuthMethod:     opts.withClientAuthMethod,
		ClientAssertionAlg:   opts.withClientAssertionAlg,
		NowFunc:              opts.withNowFunc,
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: invalid provider config: %w", op, err)
	}
	return c, nil
}

// Validate the provider configuration. Among other validations, it verifies
// the issuer is not empty, but it doesn't verify the Issuer is discoverable
// via an http request.
func (c *Config) Validate() error {
	const op = "Config.Validate"
	if c == nil {
		return fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	}
	if c.ClientID == "" {
		return fmt.Errorf("%s: client ID is empty: %w", op, ErrInvalidParameter)
	}
	if c.ClientSecret == "" {
		return fmt.Errorf("%s: client secret is empty: %w", op, ErrInvalidParameter)
	}
	if c.Issuer == "" {
		return fmt.Errorf("%s: discovery URL is empty: %w", op, ErrInvalidParameter)
	}
	if c.RedirectURL == "" {
		return fmt.Errorf("%s: redirect URL is empty: %w", op, ErrInvalidParameter)
	}
	if ru, err := url.Parse(c.RedirectURL); err != nil || !ru.IsAbs() || ru.Host == "" {
		return fmt.Errorf("%s: redirect URL %q is not an absolute URL: %w", op, c.RedirectURL, ErrInvalidParameter)
	}
	u, err := url.Parse(c.Issuer)
	if err != nil {
		return fmt.Errorf("%s: issuer %q is invalid (%s): %w", op, c.Issuer, err, ErrInvalidIssuer)
	}
	allowed := []string{"https"}
	if c.AllowHTTPIssuer {
		allowed = append(allowed, "http")
	}
	if !strutils.StrListContains(allowed, u.Scheme) {
		return fmt.Errorf("%s: issuer %q scheme is not one of %q: %w", op, c.Issuer, allowed, ErrInvalidIssuer)
	}
	if u.Host == "" {
		return fmt.Errorf("%s: issuer %q has no host: %w", op, c.Issuer, ErrInvalidIssuer)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("%s: issuer %q contains a query or fragment: %w", op, c.Issuer, ErrInvalidIssuer)
	}
	switch c.ResponseMode {
	case "", QueryResponseMode, FormPostResponseMode:
	default:
		return fmt.Errorf("%s: unsupported response mode %q: %w", op, c.ResponseMode, ErrInvalidParameter)
	}
	for _, a := range c.SupportedSigningAlgs {
		if !supportedAlgorithms[a] {
			return fmt.Errorf("%s: unsupported algorithm %q: %w", op, a, ErrInvalidParameter)
		}
	}
	switch c.ClientAuthMethod {
	case "", ClientSecretBasic:
	case ClientSecretJWT:
		if err := c.ClientAssertionAlg.Validate(string(c.ClientSecret)); err != nil {
			return fmt.Errorf("%s: client secret can't sign assertions (%s): %w", op, err, ErrInvalidParameter)
		}
	default:
		return fmt.Errorf("%s: unsupported client auth method %q: %w", op, c.ClientAuthMethod, ErrInvalidParameter)
	}
	if c.ProviderCA != "" {
		if _, err := c.HTTPClient(); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return nil
}

// Now will return the current time which can be overridden by the NowFunc
func (c *Config) Now() time.Time {
	if c.NowFunc != nil {
		return c.NowFunc()
	}
	return time.Now() // fallback to this default
}

// HTTPClient is a helper function that creates a new http client for the
// provider configured.
func (c *Config) HTTPClient() (*http.Client, error) {
	const op = "Config.HTTPClient"
	client, err := sdkHttp.NewClient(c.ProviderCA, c.HTTPTimeout)
	if err != nil {
		if errors.Is(err, sdkHttp.ErrInvalidCertificatePem) {
			return nil, fmt.Errorf("%s: could not parse CA PEM value successfully: %w", op, ErrInvalidCACert)
		}
		return nil, fmt.Errorf("%s: could not get an http client: %w", op, err)
	}
	return client, nil
}

// HTTPClientContext is a helper function that returns a new Context that
// carries the provided HTTP client. This method sets the same context key used
// by the github.com/coreos/go-oidc and golang.org/x/oauth2 packages, so the
// returned context works for those packages as well.
func HTTPClientContext(ctx context.Context, client *http.Client) context.Context {
	// simple to implement as a wrapper for the coreos package
	return oidc.ClientContext(ctx, client)
}

// configOptions is the set of available options
type configOptions struct {
	withScopes               []string
	withAudiences            []string
	withProviderCA           string
	withResponseMode         ResponseMode
	withPKCE                 bool
	withAllowHTTPIssuer      bool
	withSupportedSigningAlgs []Alg
	withHTTPTimeout          time.Duration
	withClientAuthMethod     ClientAuthMethod
	withClientAssertionAlg   clientassertion.HSAlgorithm
	withNowFunc              func() time.Time
}

// configDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func configDefaults() configOptions {
	return configOptions{
		withHTTPTimeout: DefaultHTTPTimeout,
	}
}

// getConfigOpts gets the defaults and applies the opt overrides passed in.
func getConfigOpts(opt ...Option) configOptions {
	opts := configDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithScopes provides an optional list of scopes. The "openid" scope is
// always requested and is removed from the list if present.
func WithScopes(scopes ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withScopes = nil
			for _, s := range strutils.RemoveDuplicatesStable(scopes, false) {
				if s == oidc.ScopeOpenID {
					continue
				}
				o.withScopes = append(o.withScopes, s)
			}
		}
	}
}

// WithAudiences provides an optional list of audiences.
func WithAudiences(auds ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withAudiences = strutils.RemoveDuplicatesStable(auds, false)
		}
	}
}

// WithProviderCA provides optional CA certs (PEM encoded) for the provider's
// config. These certs will be used when making http requests to the
// provider.
func WithProviderCA(cert string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withProviderCA = cert
		}
	}
}

// WithResponseMode provides an optional response_mode.
func WithResponseMode(m ResponseMode) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withResponseMode = m
		}
	}
}

// WithPKCE requires PKCE for every authentication attempt.
func WithPKCE() Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *configOptions:
			v.withPKCE = true
		case *stOptions:
			v.withPKCE = true
		}
	}
}

// WithAllowHTTPIssuer permits an http issuer.
func WithAllowHTTPIssuer() Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withAllowHTTPIssuer = true
		}
	}
}

// WithSupportedSigningAlgs restricts the id_token signing algorithms.
func WithSupportedSigningAlgs(algs ...Alg) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withSupportedSigningAlgs = algs
		}
	}
}

// WithHTTPTimeout provides an optional per request timeout for calls to the
// provider.
func WithHTTPTimeout(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok && d > 0 {
			o.withHTTPTimeout = d
		}
	}
}

// WithClientSecretJWT authenticates to the token endpoint with a
// client_assertion signed by the client secret using alg. The secret must be
// long enough for alg.
func WithClientSecretJWT(alg clientassertion.HSAlgorithm) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withClientAuthMethod = ClientSecretJWT
			o.withClientAssertionAlg = alg
		}
	}
}
