// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package dispatch

import (
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/oidc-schemes/oidc/clientassertion"
)

// DefaultStateTTL bounds how long an authentication attempt can take.
const DefaultStateTTL = 10 * time.Minute

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil { // ignore any nil Options
			continue
		}
		o(opts)
	}
}

// finalizerOptions is the set of available options for a Finalizer
type finalizerOptions struct {
	withLogger        hclog.Logger
	withStateTTL      time.Duration
	withProviderCA    string
	withHTTPTimeout   time.Duration
	withSecureCookies bool
	withAssertionAlg  clientassertion.HSAlgorithm
	withNowFunc       func() time.Time
}

func finalizerDefaults() finalizerOptions {
	return finalizerOptions{
		withLogger:   hclog.NewNullLogger(),
		withStateTTL: DefaultStateTTL,
	}
}

func getFinalizerOpts(opt ...Option) finalizerOptions {
	opts := finalizerDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// dispatcherOptions is the set of available options for a Dispatcher
type dispatcherOptions struct {
	withLogger hclog.Logger
	withLister Lister
}

func dispatcherDefaults() dispatcherOptions {
	return dispatcherOptions{
		withLogger: hclog.NewNullLogger(),
	}
}

func getDispatcherOpts(opt ...Option) dispatcherOptions {
	opts := dispatcherDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithLogger provides an optional logger for a Finalizer or Dispatcher.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if l == nil {
			return
		}
		switch v := o.(type) {
		case *finalizerOptions:
			v.withLogger = l
		case *dispatcherOptions:
			v.withLogger = l
		}
	}
}

// WithStateTTL provides an optional lifetime for authentication attempts.
func WithStateTTL(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*finalizerOptions); ok && d > 0 {
			o.withStateTTL = d
		}
	}
}

// WithProviderCA provides optional CA certs (PEM encoded) trusted when
// talking to every provider.
func WithProviderCA(pem string) Option {
	return func(o interface{}) {
		if o, ok := o.(*finalizerOptions); ok {
			o.withProviderCA = pem
		}
	}
}

// WithHTTPTimeout provides an optional per request timeout for calls to
// providers.
func WithHTTPTimeout(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*finalizerOptions); ok && d > 0 {
			o.withHTTPTimeout = d
		}
	}
}

// WithSecureCookies marks the correlation and nonce cookies Secure.
func WithSecureCookies(secure bool) Option {
	return func(o interface{}) {
		if o, ok := o.(*finalizerOptions); ok {
			o.withSecureCookies = secure
		}
	}
}

// WithClientSecretJWT makes every mechanism authenticate to its provider's
// token endpoint with a client_assertion signed by the scheme's client secret
// using alg. A scheme whose secret is too short for alg fails to finalize.
func WithClientSecretJWT(alg clientassertion.HSAlgorithm) Option {
	return func(o interface{}) {
		if o, ok := o.(*finalizerOptions); ok {
			o.withAssertionAlg = alg
		}
	}
}

// WithNow provides an optional clock.
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if o, ok := o.(*finalizerOptions); ok && now != nil {
			o.withNowFunc = now
		}
	}
}

// WithLister provides the records listed by GET /account.
func WithLister(l Lister) Option {
	return func(o interface{}) {
		if o, ok := o.(*dispatcherOptions); ok && l != nil {
			o.withLister = l
		}
	}
}
