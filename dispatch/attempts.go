// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package dispatch

import (
	"context"
	"crypto/subtle"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/oidc-schemes/oidc"
	"github.com/hashicorp/oidc-schemes/scheme"
	gocache "github.com/patrickmn/go-cache"
)

const (
	correlationCookiePrefix = "oidc_correlation."
	nonceCookiePrefix       = "oidc_nonce."
)

func correlationCookieName(stateID string) string { return correlationCookiePrefix + stateID }
func nonceCookieName(stateID string) string       { return nonceCookiePrefix + stateID }

// attempt is a pending authentication attempt, keyed by its state id.
type attempt struct {
	key         scheme.Key
	state       oidc.State
	correlation string
}

// attempts holds pending attempts for every mechanism. It outlives the
// mechanisms, so an attempt begun before a Replace completes with the
// replacement.
type attempts struct {
	mu    sync.Mutex
	cache *gocache.Cache
}

func newAttempts(ttl time.Duration) *attempts {
	return &attempts{cache: gocache.New(ttl, time.Minute)}
}

func (a *attempts) put(at *attempt, ttl time.Duration) {
	a.cache.Set(at.state.ID(), at, ttl)
}

// take removes and returns the attempt for stateID when check accepts it. A
// rejected attempt stays pending.
func (a *attempts) take(stateID string, check func(*attempt) error) (*attempt, error) {
	const op = "attempts.take"
	a.mu.Lock()
	defer a.mu.Unlock()
	v, ok := a.cache.Get(stateID)
	if !ok {
		return nil, fmt.Errorf("%s: no pending attempt for state %q: %w", op, stateID, oidc.ErrNotFound)
	}
	at := v.(*attempt)
	if err := check(at); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	a.cache.Delete(stateID)
	return at, nil
}

func (a *attempts) len() int { return a.cache.ItemCount() }

// attemptReader is a callback.StateReader that consumes the attempt for one
// mechanism and one request's cookies.
type attemptReader struct {
	attempts    *attempts
	key         scheme.Key
	correlation string
	nonce       string
}

// Read returns the state of the pending attempt and consumes it. It fails
// with oidc.ErrNotFound when no attempt for the mechanism is pending, and
// with ErrCorrelationFailed when the request's cookies don't match it.
func (r *attemptReader) Read(_ context.Context, stateID string) (oidc.State, error) {
	const op = "attemptReader.Read"
	at, err := r.attempts.take(stateID, func(at *attempt) error {
		switch {
		case at.key != r.key:
			return fmt.Errorf("attempt belongs to %q: %w", at.key, oidc.ErrNotFound)
		case !equal(at.correlation, r.correlation):
			return fmt.Errorf("correlation cookie mismatch: %w", ErrCorrelationFailed)
		case !equal(at.state.Nonce(), r.nonce):
			return fmt.Errorf("nonce cookie mismatch: %w", ErrCorrelationFailed)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return at.state, nil
}

func equal(want, got string) bool {
	return got != "" && subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}
