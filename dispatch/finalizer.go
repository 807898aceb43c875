// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package dispatch

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/oidc-schemes/oidc"
	"github.com/hashicorp/oidc-schemes/oidc/clientassertion"
	"github.com/hashicorp/oidc-schemes/scheme"
	"github.com/hashicorp/oidc-schemes/session"
)

// Finalizer turns descriptors into OIDC mechanisms. Finalizing performs the
// provider's discovery, bounded by the context the registry passes in.
type Finalizer struct {
	publicURL   string
	sessions    *session.Manager
	attempts    *attempts
	logger      hclog.Logger
	stateTTL    time.Duration
	providerCA  string
	httpTimeout time.Duration
	secure      bool
	assertion   clientassertion.HSAlgorithm
	now         func() time.Time
}

// ensure that Finalizer implements the scheme.Finalizer interface
var _ scheme.Finalizer = (*Finalizer)(nil)

// NewFinalizer creates a Finalizer. publicURL is the absolute URL the server
// is reached at; each mechanism's redirect URI is publicURL plus its callback
// path.
//
// Supported options:
//   - WithLogger
//   - WithStateTTL
//   - WithProviderCA
//   - WithHTTPTimeout
//   - WithSecureCookies
//   - WithClientSecretJWT
//   - WithNow
func NewFinalizer(publicURL string, sessions *session.Manager, opt ...Option) (*Finalizer, error) {
	const op = "dispatch.NewFinalizer"
	u, err := url.Parse(publicURL)
	switch {
	case err != nil:
		return nil, fmt.Errorf("%s: public url %q: %s: %w", op, publicURL, err, ErrInvalidParameter)
	case u.Scheme != "https" && u.Scheme != "http":
		return nil, fmt.Errorf("%s: public url %q must be http(s): %w", op, publicURL, ErrInvalidParameter)
	case u.Host == "":
		return nil, fmt.Errorf("%s: public url %q has no host: %w", op, publicURL, ErrInvalidParameter)
	}
	if sessions == nil {
		return nil, fmt.Errorf("%s: session manager is nil: %w", op, ErrInvalidParameter)
	}
	opts := getFinalizerOpts(opt...)
	switch opts.withAssertionAlg {
	case "", clientassertion.HS256, clientassertion.HS384, clientassertion.HS512:
	default:
		return nil, fmt.Errorf("%s: client assertion algorithm %q: %w", op, opts.withAssertionAlg, ErrInvalidParameter)
	}
	return &Finalizer{
		publicURL:   strings.TrimSuffix(publicURL, "/"),
		sessions:    sessions,
		attempts:    newAttempts(opts.withStateTTL),
		logger:      opts.withLogger,
		stateTTL:    opts.withStateTTL,
		providerCA:  opts.withProviderCA,
		httpTimeout: opts.withHTTPTimeout,
		secure:      opts.withSecureCookies,
		assertion:   opts.withAssertionAlg,
		now:         opts.withNowFunc,
	}, nil
}

// RedirectURL returns the absolute redirect URI for d.
func (f *Finalizer) RedirectURL(d *scheme.Descriptor) string {
	return f.publicURL + d.CallbackPath
}

// Finalize builds the provider configuration for d, discovers the provider
// and returns a mechanism for it.
func (f *Finalizer) Finalize(ctx context.Context, d *scheme.Descriptor) (scheme.Mechanism, error) {
	const op = "Finalizer.Finalize"
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if d.ResponseType != scheme.ResponseTypeCode {
		return nil, fmt.Errorf("%s: %q: %w", op, d.ResponseType, ErrUnsupportedResponseType)
	}
	opts := []oidc.Option{
		oidc.WithScopes(d.Scopes...),
		oidc.WithResponseMode(d.ResponseMode),
		oidc.WithHTTPTimeout(f.httpTimeout),
	}
	if d.UsePKCE {
		opts = append(opts, oidc.WithPKCE())
	}
	if !d.RequireHTTPSMetadata {
		opts = append(opts, oidc.WithAllowHTTPIssuer())
	}
	if f.providerCA != "" {
		opts = append(opts, oidc.WithProviderCA(f.providerCA))
	}
	if f.assertion != "" {
		opts = append(opts, oidc.WithClientSecretJWT(f.assertion))
	}
	if f.now != nil {
		opts = append(opts, oidc.WithNow(f.now))
	}
	c, err := oidc.NewConfig(d.Authority, d.ClientID, d.ClientSecret, f.RedirectURL(d), opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %q: %w", op, d.Key, err)
	}
	start := time.Now()
	p, err := oidc.NewProvider(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("%s: %q: %w", op, d.Key, err)
	}
	f.logger.Debug("provider discovered", "key", d.Key, "authority", d.Authority, "elapsed", time.Since(start))
	return &mechanism{
		descriptor: d.Clone(),
		provider:   p,
		attempts:   f.attempts,
		sessions:   f.sessions,
		logger:     f.logger.With("key", d.Key),
		stateTTL:   f.stateTTL,
		secure:     f.secure,
	}, nil
}
