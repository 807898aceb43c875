// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package scheme

import (
	"time"

	"github.com/hashicorp/go-hclog"
)

// DefaultFinalizeTimeout bounds a single Finalize call.
const DefaultFinalizeTimeout = 15 * time.Second

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

// registryOptions is the set of available options for Registry functions
type registryOptions struct {
	withLogger          hclog.Logger
	withFinalizeTimeout time.Duration
	withRecorder        Recorder
}

// registryDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func registryDefaults() registryOptions {
	return registryOptions{
		withLogger:          hclog.NewNullLogger(),
		withFinalizeTimeout: DefaultFinalizeTimeout,
		withRecorder:        nopRecorder{},
	}
}

// getRegistryOpts gets the registry defaults and applies the opt overrides
// passed in
func getRegistryOpts(opt ...Option) registryOptions {
	opts := registryDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithLogger provides an optional logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*registryOptions); ok && l != nil {
			o.withLogger = l
		}
	}
}

// WithFinalizeTimeout bounds each Finalize call. Values <= 0 are ignored.
func WithFinalizeTimeout(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*registryOptions); ok && d > 0 {
			o.withFinalizeTimeout = d
		}
	}
}

// WithRecorder provides an optional Recorder for registry activity.
func WithRecorder(r Recorder) Option {
	return func(o interface{}) {
		if o, ok := o.(*registryOptions); ok && r != nil {
			o.withRecorder = r
		}
	}
}
