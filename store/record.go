// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package store

import (
	"fmt"
	"time"

	"github.com/hashicorp/oidc-schemes/oidc"
	"github.com/hashicorp/oidc-schemes/scheme"
)

// Record is a stored OIDC relying party configuration. ID is assigned by the
// Store on Create and never changes.
type Record struct {
	ID           int64             `json:"id"`
	Authority    string            `json:"authority"`
	ClientID     string            `json:"client_id"`
	ClientSecret oidc.ClientSecret `json:"client_secret"`

	// Version is bumped by every Update. An Update must carry the version
	// it was based on.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Key returns the scheme key of the record.
func (r *Record) Key() scheme.Key {
	return scheme.KeyFor(r.ID)
}

// Validate checks the fields a caller provides. It doesn't check ID, which
// the Store assigns.
func (r *Record) Validate() error {
	const op = "Record.Validate"
	if r == nil {
		return fmt.Errorf("%s: record is nil: %w", op, scheme.ErrInvalidConfiguration)
	}
	if err := scheme.ValidateAuthority(r.Authority, false); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if r.ClientID == "" {
		return fmt.Errorf("%s: client id is empty: %w", op, scheme.ErrInvalidConfiguration)
	}
	if r.ClientSecret == "" {
		return fmt.Errorf("%s: client secret is empty: %w", op, scheme.ErrInvalidConfiguration)
	}
	return nil
}

// Descriptor builds the scheme descriptor for the record.
func (r *Record) Descriptor() (*scheme.Descriptor, error) {
	const op = "Record.Descriptor"
	if r == nil {
		return nil, fmt.Errorf("%s: record is nil: %w", op, scheme.ErrInvalidConfiguration)
	}
	d, err := scheme.NewDescriptor(r.ID, r.Authority, r.ClientID, r.ClientSecret)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return d, nil
}

// Clone returns a copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}
