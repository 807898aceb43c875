// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package scheme

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/hashicorp/oidc-schemes/oidc"
)

// ResponseTypeCode is the authorization code response type.
const ResponseTypeCode = "code"

// DefaultScopes are requested by every mechanism.
var DefaultScopes = []string{"openid", "profile"}

// Descriptor is the immutable set of protocol parameters for one mechanism.
// Everything except Authority, ClientID and ClientSecret is the same for every
// descriptor built by NewDescriptor.
//
// A Descriptor is a value: the registry keeps its own copy, and a change is
// always made by building a new one and calling Registry.Replace.
type Descriptor struct {
	// ID is the id of the record the descriptor was built from.
	ID int64

	// Key is KeyFor(ID).
	Key Key

	// CallbackPath is Key.CallbackPath().
	CallbackPath string

	// Authority is the provider's issuer URL.
	Authority string

	// ClientID is the relying party id registered with the provider.
	ClientID string

	// ClientSecret is the relying party secret. It redacts itself when
	// formatted.
	ClientSecret oidc.ClientSecret

	// Scopes requested during authentication.
	Scopes []string

	// UsePKCE requires a PKCE code verifier for every attempt.
	UsePKCE bool

	// ResponseType is the oauth response_type.
	ResponseType string

	// ResponseMode is the oauth response_mode.
	ResponseMode oidc.ResponseMode

	// SaveTokens keeps the tokens from a successful callback with the
	// session.
	SaveTokens bool

	// RequireHTTPSMetadata requires an https authority. When false, an http
	// authority is allowed for discovery.
	RequireHTTPSMetadata bool

	// NonceCookieSameSite is the SameSite policy of the nonce cookie.
	NonceCookieSameSite http.SameSite

	// CorrelationCookieSameSite is the SameSite policy of the correlation
	// cookie.
	CorrelationCookieSameSite http.SameSite
}

// NewDescriptor builds the descriptor for a record. It fails with
// ErrInvalidConfiguration when the authority isn't an absolute http(s) URL.
//
// It's deliberately stricter than an authority check alone: an id <= 0 is
// rejected because it can't name a stored record, and an empty client id or
// client secret is rejected here instead of surfacing later as a failed
// discovery or token exchange.
func NewDescriptor(id int64, authority, clientID string, clientSecret oidc.ClientSecret) (*Descriptor, error) {
	const op = "scheme.NewDescriptor"
	key := KeyFor(id)
	d := &Descriptor{
		ID:                        id,
		Key:                       key,
		CallbackPath:              key.CallbackPath(),
		Authority:                 authority,
		ClientID:                  clientID,
		ClientSecret:              clientSecret,
		Scopes:                    append([]string(nil), DefaultScopes...),
		UsePKCE:                   true,
		ResponseType:              ResponseTypeCode,
		ResponseMode:              oidc.FormPostResponseMode,
		SaveTokens:                true,
		RequireHTTPSMetadata:      false,
		NonceCookieSameSite:       http.SameSiteDefaultMode,
		CorrelationCookieSameSite: http.SameSiteDefaultMode,
	}
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return d, nil
}

// Validate checks the descriptor is internally consistent and that its
// authority and client credentials are usable.
func (d *Descriptor) Validate() error {
	const op = "Descriptor.Validate"
	if d == nil {
		return fmt.Errorf("%s: descriptor is nil: %w", op, ErrInvalidConfiguration)
	}
	if d.ID <= 0 {
		return fmt.Errorf("%s: id %d is not a record id: %w", op, d.ID, ErrInvalidConfiguration)
	}
	if d.Key != KeyFor(d.ID) {
		return fmt.Errorf("%s: key %q doesn't match id %d: %w", op, d.Key, d.ID, ErrInvalidConfiguration)
	}
	if d.CallbackPath != d.Key.CallbackPath() {
		return fmt.Errorf("%s: callback path %q doesn't match key %q: %w", op, d.CallbackPath, d.Key, ErrInvalidConfiguration)
	}
	if err := ValidateAuthority(d.Authority, d.RequireHTTPSMetadata); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if d.ClientID == "" {
		return fmt.Errorf("%s: client id is empty: %w", op, ErrInvalidConfiguration)
	}
	if d.ClientSecret == "" {
		return fmt.Errorf("%s: client secret is empty: %w", op, ErrInvalidConfiguration)
	}
	return nil
}

// ValidateAuthority checks authority is an absolute URL with a host and an
// https scheme, or http when requireHTTPS is false.
func ValidateAuthority(authority string, requireHTTPS bool) error {
	const op = "scheme.ValidateAuthority"
	if authority == "" {
		return fmt.Errorf("%s: authority is empty: %w", op, ErrInvalidConfiguration)
	}
	u, err := url.Parse(authority)
	if err != nil {
		return fmt.Errorf("%s: authority %q is not a URL (%s): %w", op, authority, err, ErrInvalidConfiguration)
	}
	switch {
	case u.Scheme == "https":
	case u.Scheme == "http" && !requireHTTPS:
	default:
		return fmt.Errorf("%s: authority %q has unsupported scheme %q: %w", op, authority, u.Scheme, ErrInvalidConfiguration)
	}
	if u.Host == "" {
		return fmt.Errorf("%s: authority %q has no host: %w", op, authority, ErrInvalidConfiguration)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("%s: authority %q contains a query or fragment: %w", op, authority, ErrInvalidConfiguration)
	}
	return nil
}

// Clone returns a deep copy of the descriptor.
func (d *Descriptor) Clone() *Descriptor {
	if d == nil {
		return nil
	}
	c := *d
	c.Scopes = append([]string(nil), d.Scopes...)
	return &c
}
