// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"fmt"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/text/language"
)

// State basically represents one OIDC authentication flow for a user. It
// contains the data needed to uniquely represent that one-time flow across the
// multiple interactions needed to complete the OIDC flow the user is
// attempting. ID() is passed throughout the OIDC interactions to uniquely
// identify the flow's state. The ID() and Nonce() cannot be equal, and will be
// used during the OIDC flow to prevent CSRF and replay attacks (see the oidc
// spec for specifics).
type State interface {
	// ID is a unique identifier and an opaque value used to maintain state
	// between the oidc request and the callback. ID cannot equal the Nonce.
	ID() string

	// Nonce is a unique nonce and a string value used to associate a Client
	// session with an ID Token, and to mitigate replay attacks. Nonce cannot
	// equal the ID.
	Nonce() string

	// PKCEVerifier is the PKCE code verifier for the flow. Empty when the
	// flow doesn't use PKCE.
	PKCEVerifier() string

	// ReturnTo is an optional local path the user is sent to after the
	// flow completes.
	ReturnTo() string

	// IsExpired returns true if the state has expired. Implementations should
	// support a WithExpirySkew option and if none is provided it will use
	// a default skew (perhaps DefaultStateExpirySkew)
	IsExpired(opt ...Option) bool
}

// St represents the oidc state used for oidc flows. The St.ID() is passed
// throughout the flows to uniquely identify a specific flow's state.
type St struct {
	// id is a unique identifier and an opaque value used to maintain state
	// between the oidc request and the callback
	id string

	// nonce is a unique nonce and suitable for use as an oidc nonce
	nonce string

	// verifier is the PKCE code verifier
	verifier string

	returnTo string

	// uiLocales are the end user's preferred languages for the provider's
	// UI, most preferred first
	uiLocales []language.Tag

	// expiration is the expiration time for the State
	expiration time.Time

	// nowFunc is an optional function that returns the current time
	nowFunc func() time.Time
}

// ensure that St implements the State interface
var _ State = (*St)(nil)

// NewState creates a new State (*St).
//
// Supported options:
//   - WithPKCE
//   - WithReturnTo
//   - WithUILocales
//   - WithNow
func NewState(expireIn time.Duration, opt ...Option) (*St, error) {
	const op = "oidc.NewState"
	opts := getStOpts(opt...)
	if expireIn <= 0 {
		return nil, fmt.Errorf("%s: expireIn not greater than zero: %w", op, ErrInvalidParameter)
	}
	nonce, err := NewID("n")
	if err != nil {
		return nil, fmt.Errorf("%s: unable to generate a state's nonce: %w", op, err)
	}
	id, err := NewID("st")
	if err != nil {
		return nil, fmt.Errorf("%s: unable to generate a state's id: %w", op, err)
	}
	s := &St{
		id:       id,
		nonce:    nonce,
		returnTo:  opts.withReturnTo,
		uiLocales: opts.withUILocales,
		nowFunc:   opts.withNowFunc,
	}
	if opts.withPKCE {
		s.verifier = oauth2.GenerateVerifier()
	}
	s.expiration = s.now().Add(expireIn)
	return s, nil
}

func (s *St) ID() string           { return s.id }       // ID implements the State.ID() interface function
func (s *St) Nonce() string        { return s.nonce }    // Nonce implements the State.Nonce() interface function
func (s *St) PKCEVerifier() string { return s.verifier } // PKCEVerifier implements the State.PKCEVerifier() interface function
func (s *St) ReturnTo() string     { return s.returnTo } // ReturnTo implements the State.ReturnTo() interface function

// UILocales returns the preferred languages sent as ui_locales.
func (s *St) UILocales() []language.Tag { return s.uiLocales }

// Expiration returns the time the State expires.
func (s *St) Expiration() time.Time { return s.expiration }

// DefaultStateExpirySkew defines a default time skew when checking a State's
// expiration.
const DefaultStateExpirySkew = 1 * time.Second

// IsExpired returns true if the state has expired. Supports the
// WithExpirySkew option and if none is provided it will use the
// DefaultStateExpirySkew.
func (s *St) IsExpired(opt ...Option) bool {
	opts := getStOpts(opt...)
	return !s.expiration.After(s.now().Add(opts.withExpirySkew))
}

// now returns the current time using the optional nowFunc.
func (s *St) now() time.Time {
	if s.nowFunc != nil {
		return s.nowFunc()
	}
	return time.Now() // fallback to this default
}

// stOptions is the set of available options for St functions
type stOptions struct {
	withExpirySkew time.Duration
	withNowFunc    func() time.Time
	withPKCE       bool
	withReturnTo   string
	withUILocales  []language.Tag
}

// stDefaults is a handy way to get the defaults at runtime and during unit
// tests.
func stDefaults() stOptions {
	return stOptions{
		withExpirySkew: DefaultStateExpirySkew,
	}
}

// getStOpts gets the state defaults and applies the opt overrides passed in
func getStOpts(opt ...Option) stOptions {
	opts := stDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithExpirySkew provides an optional expiry skew duration for: State
func WithExpirySkew(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*stOptions); ok {
			o.withExpirySkew = d
		}
	}
}

// WithReturnTo provides an optional local path for: State
func WithReturnTo(path string) Option {
	return func(o interface{}) {
		if o, ok := o.(*stOptions); ok {
			o.withReturnTo = path
		}
	}
}

// WithUILocales provides optional preferred languages for the provider's UI,
// in order of preference, for: State
func WithUILocales(tags ...language.Tag) Option {
	return func(o interface{}) {
		if o, ok := o.(*stOptions); ok {
			o.withUILocales = tags
		}
	}
}
