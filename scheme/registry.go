// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package scheme

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/oidc-schemes/internal/keylock"
)

// Registry maps keys to live mechanisms. It's created once per process with
// NewRegistry and torn down with Close.
//
// Resolve and IsRegistered are lock-free map reads. Register and Replace are
// linearized per key and run the Finalizer without holding any lock shared
// with other keys. Remove never waits: it deletes the entry at once, and a
// Register or Replace of the same key that's still finalizing is discarded
// when it completes.
type Registry struct {
	finalizer Finalizer
	logger    hclog.Logger
	timeout   time.Duration
	recorder  Recorder

	entries sync.Map // Key -> *entry
	count   atomic.Int64
	locks   *keylock.Map[Key]

	// mu guards closed and makes installing or deleting an entry atomic
	// with the checks that precede it
	mu     sync.Mutex
	closed bool
}

// entry is never modified once stored, so a reader sees the descriptor and
// mechanism of a single Register or Replace.
type entry struct {
	descriptor *Descriptor
	mechanism  Mechanism
}

// NewRegistry creates an empty Registry that finalizes descriptors with f.
//
// Supported options:
//   - WithLogger
//   - WithFinalizeTimeout
//   - WithRecorder
func NewRegistry(f Finalizer, opt ...Option) (*Registry, error) {
	const op = "scheme.NewRegistry"
	if f == nil {
		return nil, fmt.Errorf("%s: finalizer is nil: %w", op, ErrInvalidConfiguration)
	}
	opts := getRegistryOpts(opt...)
	return &Registry{
		finalizer: f,
		logger:    opts.withLogger,
		timeout:   opts.withFinalizeTimeout,
		recorder:  opts.withRecorder,
		locks:     keylock.New[Key](),
	}, nil
}

// Register finalizes d and makes it live under d.Key. It fails with
// ErrAlreadyRegistered when the key is already live and with
// ErrFinalizeFailed when the Finalizer fails, in which case the key stays
// absent.
//
// If the key is removed while d is being finalized, the new mechanism is
// discarded and Register returns ErrSuperseded: the registration is ordered
// before the removal, so the key ends up absent.
func (r *Registry) Register(ctx context.Context, d *Descriptor) error {
	return r.mutate(ctx, "Registry.Register", d, false)
}

// Replace finalizes d and makes it live under d.Key, whether or not the key
// was live before. Readers see either the previous mechanism or the new one,
// never a mix. The previous mechanism's Done is called after the swap.
//
// When the Finalizer fails, Replace returns ErrFinalizeFailed and the
// previous mechanism (if any) stays live. A Remove during finalization makes
// it return ErrSuperseded, as for Register.
func (r *Registry) Replace(ctx context.Context, d *Descriptor) error {
	return r.mutate(ctx, "Registry.Replace", d, true)
}

func (r *Registry) mutate(ctx context.Context, op string, d *Descriptor, upsert bool) error {
	start := time.Now()
	outcome := OutcomeOK
	defer func() { r.recorder.ObserveMutation(op, outcome, time.Since(start)) }()

	if err := d.Validate(); err != nil {
		outcome = OutcomeInvalid
		return fmt.Errorf("%s: %w", op, err)
	}
	d = d.Clone()
	key := d.Key

	if r.isClosed() {
		outcome = OutcomeClosed
		return fmt.Errorf("%s: %q: %w", op, key, ErrRegistryClosed)
	}

	held, err := r.locks.Lock(ctx, key)
	if err != nil {
		outcome = OutcomeCanceled
		return fmt.Errorf("%s: waiting on pending mutation of %q: %w", op, key, err)
	}
	defer held.Unlock()

	if !upsert {
		if _, ok := r.entries.Load(key); ok {
			outcome = OutcomeAlreadyRegistered
			return fmt.Errorf("%s: %q: %w", op, key, ErrAlreadyRegistered)
		}
	}

	m, err := r.finalize(ctx, d)
	if err != nil {
		outcome = OutcomeFinalizeFailed
		r.logger.Warn("unable to finalize scheme", "op", op, "key", key, "authority", d.Authority, "error", err)
		return fmt.Errorf("%s: %q: %w", op, key, err)
	}

	prev, err := r.install(held, &entry{descriptor: d, mechanism: m})
	switch {
	case errors.Is(err, ErrRegistryClosed):
		m.Done()
		outcome = OutcomeClosed
		return fmt.Errorf("%s: %q: %w", op, key, err)
	case errors.Is(err, ErrSuperseded):
		m.Done()
		outcome = OutcomeSuperseded
		r.logger.Debug("scheme removed while finalizing", "op", op, "key", key)
		return fmt.Errorf("%s: %q: %w", op, key, err)
	}
	if prev != nil {
		prev.mechanism.Done()
	}
	r.logger.Info("scheme live", "op", op, "key", key, "authority", d.Authority, "replaced", prev != nil)
	return nil
}

// install stores e unless the registry was closed or e's key was removed
// since held was acquired.
func (r *Registry) install(held *keylock.Held[Key], e *entry) (*entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRegistryClosed
	}
	if !held.Valid() {
		return nil, ErrSuperseded
	}
	old, loaded := r.entries.Swap(e.descriptor.Key, e)
	if !loaded {
		r.recorder.SetEntries(int(r.count.Add(1)))
		return nil, nil
	}
	return old.(*entry), nil
}

// finalize runs the Finalizer for d bounded by the finalize timeout. Every
// failure wraps ErrFinalizeFailed.
func (r *Registry) finalize(ctx context.Context, d *Descriptor) (m Mechanism, err error) {
	const op = "Registry.finalize"
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	defer func() {
		if p := recover(); p != nil {
			m, err = nil, fmt.Errorf("%s: finalizer panicked: %v: %w", op, p, ErrFinalizeFailed)
		}
	}()

	m, err = r.finalizer.Finalize(ctx, d.Clone())
	switch {
	case err != nil:
		if m != nil {
			m.Done()
		}
		return nil, fmt.Errorf("%s: %w: %w", op, ErrFinalizeFailed, err)
	case m == nil:
		return nil, fmt.Errorf("%s: finalizer returned no mechanism: %w", op, ErrFinalizeFailed)
	case m.Key() != d.Key:
		m.Done()
		return nil, fmt.Errorf("%s: finalizer returned mechanism for %q: %w", op, m.Key(), ErrFinalizeFailed)
	}
	return m, nil
}

// Remove makes key absent. It reports whether a live mechanism was removed;
// removing an absent key is a no-op. Remove never waits on a pending Register
// or Replace of the key and never performs I/O.
func (r *Registry) Remove(key Key) bool {
	const op = "Registry.Remove"
	start := time.Now()

	r.mu.Lock()
	r.locks.Invalidate(key)
	v, ok := r.entries.LoadAndDelete(key)
	if ok {
		r.recorder.SetEntries(int(r.count.Add(-1)))
	}
	r.mu.Unlock()

	if !ok {
		r.recorder.ObserveMutation(op, OutcomeNoop, time.Since(start))
		return false
	}
	v.(*entry).mechanism.Done()
	r.recorder.ObserveMutation(op, OutcomeOK, time.Since(start))
	r.logger.Info("scheme removed", "key", key)
	return true
}

// Resolve returns the live mechanism for key. It fails with ErrUnknownScheme
// when the key is absent.
func (r *Registry) Resolve(key Key) (Mechanism, error) {
	const op = "Registry.Resolve"
	v, ok := r.entries.Load(key)
	r.recorder.ObserveLookup(ok)
	if !ok {
		return nil, fmt.Errorf("%s: %q: %w", op, key, ErrUnknownScheme)
	}
	return v.(*entry).mechanism, nil
}

// IsRegistered reports whether key is live.
func (r *Registry) IsRegistered(key Key) bool {
	_, ok := r.entries.Load(key)
	return ok
}

// Keys returns the live keys in lexical order.
func (r *Registry) Keys() []Key {
	var keys []Key
	r.entries.Range(func(k, _ any) bool {
		keys = append(keys, k.(Key))
		return true
	})
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Len returns the number of live keys.
func (r *Registry) Len() int {
	return int(r.count.Load())
}

// Close removes every entry and calls Done on its mechanism. Pending
// mutations fail with ErrRegistryClosed, as do later ones. Close is
// idempotent.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.locks.InvalidateAll()
	var done []Mechanism
	r.entries.Range(func(k, v any) bool {
		r.entries.Delete(k)
		done = append(done, v.(*entry).mechanism)
		return true
	})
	r.count.Store(0)
	r.recorder.SetEntries(0)
	r.mu.Unlock()

	for _, m := range done {
		m.Done()
	}
	r.logger.Info("registry closed", "released", len(done))
}

func (r *Registry) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
