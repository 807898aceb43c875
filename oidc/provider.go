// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/oidc-schemes/oidc/clientassertion"
	"github.com/hashicorp/oidc-schemes/oidc/internal/strutils"
	"golang.org/x/oauth2"
	"golang.org/x/text/language"
)

// Provider provides integration with a provider using the typical
// 3-legged OIDC authorization code flow. A Provider is immutable once it's
// created and is safe for concurrent use.
type Provider struct {
	config   *Config
	provider *oidc.Provider
	client   *http.Client

	mu   sync.Mutex
	done bool
}

// NewProvider creates and initializes a Provider. Initializing the provider
// includes making an http request to the provider's issuer for discovery,
// bounded by ctx.
//
// See Provider.Done() which must be called to release provider resources.
func NewProvider(ctx context.Context, c *Config) (*Provider, error) {
	const op = "NewProvider"
	if c == nil {
		return nil, fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: provider config is invalid: %w", op, err)
	}

	client, err := c.HTTPClient()
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
	}

	provider, err := oidc.NewProvider(HTTPClientContext(ctx, client), c.Issuer) // makes http req to issuer for discovery
	if err != nil {
		client.CloseIdleConnections()
		return nil, fmt.Errorf("%s: unable to discover provider %q (%s): %w", op, c.Issuer, err, ErrDiscoveryFailed)
	}

	return &Provider{
		config:   c,
		provider: provider,
		client:   client,
	}, nil
}

// Config returns the provider's configuration. Callers must not modify it.
func (p *Provider) Config() *Config { return p.config }

// Endpoint returns the discovered oauth2 endpoints.
func (p *Provider) Endpoint() oauth2.Endpoint { return p.provider.Endpoint() }

// Done releases the provider's idle connections. It's safe to call more than
// once, and requests already using the provider are allowed to complete.
func (p *Provider) Done() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done {
		return
	}
	p.done = true
	if p.client != nil {
		p.client.CloseIdleConnections()
	}
}

// AuthURL will generate a URL the caller can use to kick off an OIDC
// authorization code flow with an IdP. The State's PKCE verifier (if any) is
// sent as an S256 code_challenge.
//
// See NewState() to create an oidc flow State with a valid ID and Nonce that
// will uniquely identify the user's authentication attempt through out the flow.
func (p *Provider) AuthURL(ctx context.Context, s State) (string, error) {
	const op = "Provider.AuthURL"
	if s == nil {
		return "", fmt.Errorf("%s: state is nil: %w", op, ErrNilParameter)
	}
	if s.ID() == s.Nonce() {
		return "", fmt.Errorf("%s: state id and nonce cannot be equal: %w", op, ErrInvalidParameter)
	}
	if s.IsExpired() {
		return "", fmt.Errorf("%s: state is expired: %w", op, ErrExpiredState)
	}
	if p.config.UsePKCE && s.PKCEVerifier() == "" {
		return "", fmt.Errorf("%s: provider requires PKCE and state has no verifier: %w", op, ErrInvalidParameter)
	}

	authCodeOpts := []oauth2.AuthCodeOption{
		oidc.Nonce(s.Nonce()),
	}
	if v := s.PKCEVerifier(); v != "" {
		authCodeOpts = append(authCodeOpts, oauth2.S256ChallengeOption(v))
	}
	if p.config.ResponseMode != "" {
		authCodeOpts = append(authCodeOpts, oauth2.SetAuthURLParam("response_mode", string(p.config.ResponseMode)))
	}
	if l, ok := s.(interface{ UILocales() []language.Tag }); ok && len(l.UILocales()) > 0 {
		locales := make([]string, 0, len(l.UILocales()))
		for _, t := range l.UILocales() {
			locales = append(locales, t.String())
		}
		authCodeOpts = append(authCodeOpts, oauth2.SetAuthURLParam("ui_locales", strings.Join(locales, " ")))
	}
	return p.oauth2Config().AuthCodeURL(s.ID(), authCodeOpts...), nil
}

// Exchange will request a token from the oidc token endpoint, using the
// authorizationCode and authorizationState it received in an earlier successful oidc
// authentication response.
//
// It will also validate the authorizationState it receives against the
// existing State for the user's oidc authentication flow.
//
// On success, the Token returned will include IDToken and AccessToken. Based
// on the IdP, it may include a RefreshToken.
func (p *Provider) Exchange(ctx context.Context, s State, authorizationState string, authorizationCode string) (*Tk, error) {
	const op = "Provider.Exchange"
	if p.config == nil {
		return nil, fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	}
	if s == nil {
		return nil, fmt.Errorf("%s: state is nil: %w", op, ErrNilParameter)
	}
	if s.ID() != authorizationState {
		return nil, fmt.Errorf("%s: authentication state and authorization state are not equal: %w", op, ErrResponseStateInvalid)
	}
	if s.IsExpired() {
		return nil, fmt.Errorf("%s: authentication state is expired: %w", op, ErrExpiredState)
	}
	if authorizationCode == "" {
		return nil, fmt.Errorf("%s: authorization code is empty: %w", op, ErrInvalidParameter)
	}

	var exchangeOpts []oauth2.AuthCodeOption
	if v := s.PKCEVerifier(); v != "" {
		exchangeOpts = append(exchangeOpts, oauth2.VerifierOption(v))
	}
	if p.config.ClientAuthMethod == ClientSecretJWT {
		assertion, err := p.clientAssertion()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		exchangeOpts = append(exchangeOpts,
			oauth2.SetAuthURLParam("client_assertion_type", clientassertion.JWTTypeParam),
			oauth2.SetAuthURLParam("client_assertion", assertion),
		)
	}
	oauth2Token, err := p.oauth2Config().Exchange(HTTPClientContext(ctx, p.client), authorizationCode, exchangeOpts...)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to exchange auth code with provider (%s): %w", op, err, ErrExchangeFailed)
	}

	idToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok || idToken == "" {
		return nil, fmt.Errorf("%s: id_token is missing from auth code exchange: %w", op, ErrMissingIDToken)
	}
	t, err := NewToken(IDToken(idToken), oauth2Token, WithNow(p.config.NowFunc))
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create new id_token: %w", op, err)
	}
	if err := p.VerifyIDToken(ctx, t.IDToken(), s.Nonce()); err != nil {
		return nil, fmt.Errorf("%s: id_token failed verification: %w", op, err)
	}
	return t, nil
}

// UserInfo gets the UserInfo claims from the provider using the token produced
// by the tokenSource.
func (p *Provider) UserInfo(ctx context.Context, tokenSource oauth2.TokenSource, claims interface{}) error {
	const op = "Provider.UserInfo"
	if tokenSource == nil {
		return fmt.Errorf("%s: token source is nil: %w", op, ErrNilParameter)
	}
	if claims == nil {
		return fmt.Errorf("%s: claims interface is nil: %w", op, ErrNilParameter)
	}
	userinfo, err := p.provider.UserInfo(HTTPClientContext(ctx, p.client), tokenSource)
	if err != nil {
		return fmt.Errorf("%s: provider UserInfo request failed (%s): %w", op, err, ErrUserInfoFailed)
	}
	if err := userinfo.Claims(claims); err != nil {
		return fmt.Errorf("%s: failed to get UserInfo claims (%s): %w", op, err, ErrUserInfoFailed)
	}
	return nil
}

// VerifyIDToken will verify the inbound IDToken. It verifies it's been signed
// by the provider, it validates the nonce, and performs checks any additional
// checks depending on the provider's config (audiences, etc).
//
// See: https://openid.net/specs/openid-connect-core-1_0.html#IDTokenValidation
func (p *Provider) VerifyIDToken(ctx context.Context, t IDToken, nonce string) error {
	const op = "Provider.VerifyIDToken"
	if t == "" {
		return fmt.Errorf("%s: id_token is empty: %w", op, ErrInvalidParameter)
	}
	if nonce == "" {
		return fmt.Errorf("%s: nonce is empty: %w", op, ErrInvalidParameter)
	}
	algs := make([]string, 0, len(p.config.SupportedSigningAlgs))
	for _, a := range p.config.SupportedSigningAlgs {
		algs = append(algs, string(a))
	}
	verifier := p.provider.Verifier(&oidc.Config{
		ClientID:             p.config.ClientID,
		SupportedSigningAlgs: algs,
		Now:                  p.config.Now,
	})

	oidcIDToken, err := verifier.Verify(HTTPClientContext(ctx, p.client), string(t))
	if err != nil {
		return fmt.Errorf("%s: invalid id_token (%s): %w", op, err, ErrIDTokenVerificationFailed)
	}
	if oidcIDToken.Nonce != nonce {
		return fmt.Errorf("%s: invalid id_token nonce: %w", op, ErrInvalidNonce)
	}
	if len(p.config.Audiences) > 0 {
		found := false
		for _, v := range p.config.Audiences {
			if strutils.StrListContains(oidcIDToken.Audience, v) {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%s: invalid id_token audiences: %w", op, ErrInvalidAudience)
		}
	}
	return nil
}

// clientAssertion signs a client_assertion for the token endpoint.
func (p *Provider) clientAssertion() (string, error) {
	const op = "Provider.clientAssertion"
	j, err := clientassertion.NewJWT(p.config.ClientID, []string{p.provider.Endpoint().TokenURL},
		clientassertion.WithClientSecret(string(p.config.ClientSecret), p.config.ClientAssertionAlg),
		clientassertion.WithNow(p.config.NowFunc),
	)
	if err != nil {
		return "", fmt.Errorf("%s: %w: %w", op, ErrInvalidParameter, err)
	}
	raw, err := j.Serialize()
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return raw, nil
}

// oauth2Config returns an OpenID Connect aware OAuth2 client config.
func (p *Provider) oauth2Config() *oauth2.Config {
	// Add the "openid" scope, which is a required scope for oidc flows
	scopes := append([]string{oidc.ScopeOpenID}, p.config.Scopes...)
	c := &oauth2.Config{
		ClientID:     p.config.ClientID,
		ClientSecret: string(p.config.ClientSecret),
		RedirectURL:  p.config.RedirectURL,
		Endpoint:     p.provider.Endpoint(),
		Scopes:       scopes,
	}
	if p.config.ClientAuthMethod == ClientSecretJWT {
		// client_id goes in the form; the secret only signs the assertion
		c.ClientSecret = ""
		c.Endpoint.AuthStyle = oauth2.AuthStyleInParams
	}
	return c
}
