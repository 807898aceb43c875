// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package store

import (
	"context"
	"time"
)

// Store is durable storage for Records. It knows nothing about the scheme
// registry; callers drive the registry from its results.
//
// Implementations must be safe for concurrent use and return copies, so a
// caller can't modify stored records.
type Store interface {
	// Create stores a new record. The returned record carries the assigned
	// ID and Version 1.
	Create(ctx context.Context, r *Record) (*Record, error)

	// Update replaces the record with r.ID. r.Version must equal the
	// stored version, otherwise Update fails with ErrConflict. The returned
	// record carries the bumped version.
	Update(ctx context.Context, r *Record) (*Record, error)

	// Delete removes the record. It fails with ErrNotFound when there's no
	// record with the id.
	Delete(ctx context.Context, id int64) error

	// Get returns the record with the id or ErrNotFound.
	Get(ctx context.Context, id int64) (*Record, error)

	// List returns every record ordered by id.
	List(ctx context.Context) ([]*Record, error)

	// Close releases the store.
	Close() error
}

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

// options is the set of available options for Store implementations
type options struct {
	withNowFunc     func() time.Time
	withOpenTimeout time.Duration
}

// defaultOpenTimeout is the maximum time to wait for the bolt database lock.
const defaultOpenTimeout = 5 * time.Second

func getOpts(opt ...Option) options {
	opts := options{
		withNowFunc:     time.Now,
		withOpenTimeout: defaultOpenTimeout,
	}
	ApplyOpts(&opts, opt...)
	return opts
}

// WithNow provides an optional clock for record timestamps.
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && now != nil {
			o.withNowFunc = now
		}
	}
}

// WithOpenTimeout bounds the wait for the database file lock when opening a
// BoltStore.
func WithOpenTimeout(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && d > 0 {
			o.withOpenTimeout = d
		}
	}
}
