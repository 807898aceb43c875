// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package scheme

import (
	"context"
	"net/http"
)

// Mechanism is a live authentication mechanism built from a Descriptor. A
// Mechanism is immutable and safe for concurrent use: a request that resolved
// it keeps using it even if the registry replaces or removes it meanwhile.
type Mechanism interface {
	// Key returns the key the mechanism is registered under.
	Key() Key

	// Descriptor returns a copy of the descriptor the mechanism was built
	// from.
	Descriptor() Descriptor

	// BeginAuth starts an authentication attempt, typically by redirecting
	// the user agent to the provider.
	BeginAuth(w http.ResponseWriter, r *http.Request)

	// HandleCallback completes an attempt from the provider's response.
	HandleCallback(w http.ResponseWriter, r *http.Request)

	// Done is called once the registry no longer hands out the mechanism.
	// It must not interrupt requests that are still using it.
	Done()
}

// Finalizer turns a Descriptor into a live Mechanism, typically by fetching
// the provider's discovery document. Finalize may be slow and must honor
// ctx.
type Finalizer interface {
	Finalize(ctx context.Context, d *Descriptor) (Mechanism, error)
}

// FinalizerFunc adapts a function to the Finalizer interface.
type FinalizerFunc func(ctx context.Context, d *Descriptor) (Mechanism, error)

// Finalize calls f(ctx, d).
func (f FinalizerFunc) Finalize(ctx context.Context, d *Descriptor) (Mechanism, error) {
	return f(ctx, d)
}
