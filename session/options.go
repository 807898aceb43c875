// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import "time"

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

// options is the set of available options for a Manager
type options struct {
	withTTL        time.Duration
	withCookieName string
	withSecure     bool
	withIssuer     string
	withNowFunc    func() time.Time
}

func getOpts(opt ...Option) options {
	opts := options{
		withTTL:        DefaultTTL,
		withCookieName: DefaultCookieName,
		withIssuer:     "oidc-schemes",
		withNowFunc:    time.Now,
	}
	for _, o := range opt {
		if o != nil {
			o(&opts)
		}
	}
	return opts
}

// WithTTL provides an optional session lifetime.
func WithTTL(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && d > 0 {
			o.withTTL = d
		}
	}
}

// WithCookieName provides an optional session cookie name.
func WithCookieName(name string) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && name != "" {
			o.withCookieName = name
		}
	}
}

// WithSecure marks the session cookie Secure.
func WithSecure(secure bool) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withSecure = secure
		}
	}
}

// WithIssuer provides the optional issuer of session tokens, typically the
// public URL of the server.
func WithIssuer(iss string) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && iss != "" {
			o.withIssuer = iss
		}
	}
}

// WithNow provides an optional clock.
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && now != nil {
			o.withNowFunc = now
		}
	}
}
