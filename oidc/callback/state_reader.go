// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"context"
	"fmt"

	"github.com/hashicorp/oidc-schemes/oidc"
)

// StateReader defines an interface for finding and reading an oidc.State
// Implementations must be concurrently safe, since the reader will likely be
// used within a concurrent http.Handler
type StateReader interface {
	// Read an existing State entry.  The returned state's ID()
	// must match the stateID used to look it up. Implementations must be
	// concurrently safe, which likely means returning a deep copy.
	// Implementations may consume the entry so a state is only usable once.
	Read(ctx context.Context, stateID string) (oidc.State, error)
}

// SingleStateReader implements the StateReader interface for a single state.
// It is concurrently safe.
type SingleStateReader struct {
	State oidc.State
}

// Read() will return it's single-state if the stateID matches it's ID(),
// otherwise it returns an error of oidc.ErrNotFound. It satisfies the
// StateReader interface.  Read() is concurrently safe.
func (s *SingleStateReader) Read(_ context.Context, stateID string) (oidc.State, error) {
	const op = "SingleStateReader.Read"
	if s.State == nil || s.State.ID() != stateID {
		return nil, fmt.Errorf("%s: state %q: %w", op, stateID, oidc.ErrNotFound)
	}
	return s.State, nil
}
