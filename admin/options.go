// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package admin

import "github.com/hashicorp/go-hclog"

// DefaultLoadConcurrency bounds the records Load finalizes at once.
const DefaultLoadConcurrency = 4

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

// options is the set of available options for a Service
type options struct {
	withLogger          hclog.Logger
	withLoadConcurrency int
}

func getOpts(opt ...Option) options {
	opts := options{
		withLogger:          hclog.NewNullLogger(),
		withLoadConcurrency: DefaultLoadConcurrency,
	}
	ApplyOpts(&opts, opt...)
	return opts
}

// WithLogger provides an optional logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && l != nil {
			o.withLogger = l
		}
	}
}

// WithLoadConcurrency bounds how many records Load finalizes at once.
func WithLoadConcurrency(n int) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && n > 0 {
			o.withLoadConcurrency = n
		}
	}
}
