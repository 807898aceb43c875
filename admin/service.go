// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package admin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/oidc-schemes/internal/keylock"
	"github.com/hashicorp/oidc-schemes/oidc"
	"github.com/hashicorp/oidc-schemes/scheme"
	"github.com/hashicorp/oidc-schemes/store"
	"golang.org/x/sync/errgroup"
)

// ErrInvalidParameter means an argument was invalid.
var ErrInvalidParameter = errors.New("invalid parameter")

// Registry is the part of scheme.Registry the Service drives.
type Registry interface {
	Register(ctx context.Context, d *scheme.Descriptor) error
	Replace(ctx context.Context, d *scheme.Descriptor) error
	Remove(key scheme.Key) bool
	IsRegistered(key scheme.Key) bool
}

// Service keeps the registry in step with the store. Every change is written
// to the store first; the registry is then mutated from the stored record.
//
// When finalizing fails the stored record is kept and the error, which wraps
// scheme.ErrFinalizeFailed, is returned along with the record. Reload retries
// it.
type Service struct {
	store       store.Store
	registry    Registry
	logger      hclog.Logger
	concurrency int
	locks       *keylock.Map[int64]
}

// NewService creates a Service.
//
// Supported options:
//   - WithLogger
//   - WithLoadConcurrency
func NewService(s store.Store, r Registry, opt ...Option) (*Service, error) {
	const op = "admin.NewService"
	if s == nil {
		return nil, fmt.Errorf("%s: store is nil: %w", op, ErrInvalidParameter)
	}
	if r == nil {
		return nil, fmt.Errorf("%s: registry is nil: %w", op, ErrInvalidParameter)
	}
	opts := getOpts(opt...)
	return &Service{
		store:       s,
		registry:    r,
		logger:      opts.withLogger,
		concurrency: opts.withLoadConcurrency,
		locks:       keylock.New[int64](),
	}, nil
}

// Create stores a new record and registers its scheme.
func (s *Service) Create(ctx context.Context, authority, clientID string, clientSecret oidc.ClientSecret) (*store.Record, error) {
	const op = "Service.Create"
	rec := &store.Record{Authority: authority, ClientID: clientID, ClientSecret: clientSecret}
	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	created, err := s.store.Create(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.logger.Info("scheme created", "key", created.Key(), "authority", created.Authority)

	held, err := s.locks.Lock(ctx, created.ID)
	if err != nil {
		return created, fmt.Errorf("%s: %w", op, err)
	}
	defer held.Unlock()
	if err := s.apply(ctx, created, s.registry.Register); err != nil {
		return created, fmt.Errorf("%s: %w", op, err)
	}
	return created, nil
}

// Update stores the new values of a record and replaces its scheme. The
// record's Version must be the stored one. An empty ClientSecret keeps the
// stored secret.
func (s *Service) Update(ctx context.Context, rec *store.Record) (*store.Record, error) {
	const op = "Service.Update"
	if rec == nil {
		return nil, fmt.Errorf("%s: record is nil: %w", op, scheme.ErrInvalidConfiguration)
	}
	rec = rec.Clone()

	held, err := s.locks.Lock(ctx, rec.ID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer held.Unlock()

	if rec.ClientSecret == "" {
		cur, err := s.store.Get(ctx, rec.ID)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		rec.ClientSecret = cur.ClientSecret
	}
	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	updated, err := s.store.Update(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.logger.Info("scheme updated", "key", updated.Key(), "authority", updated.Authority, "version", updated.Version)
	if err := s.apply(ctx, updated, s.registry.Replace); err != nil {
		return updated, fmt.Errorf("%s: %w", op, err)
	}
	return updated, nil
}

// Delete removes a record and its scheme. The scheme is removed even when
// the record is already gone.
func (s *Service) Delete(ctx context.Context, id int64) error {
	const op = "Service.Delete"
	err := s.store.Delete(ctx, id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%s: %w", op, err)
	}
	removed := s.registry.Remove(scheme.KeyFor(id))
	s.logger.Info("scheme deleted", "key", scheme.KeyFor(id), "was_live", removed)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Get returns a stored record.
func (s *Service) Get(ctx context.Context, id int64) (*store.Record, error) {
	const op = "Service.Get"
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return rec, nil
}

// List returns every stored record ordered by id.
func (s *Service) List(ctx context.Context) ([]*store.Record, error) {
	const op = "Service.List"
	recs, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return recs, nil
}

// IsLive reports whether the record's scheme is registered.
func (s *Service) IsLive(id int64) bool {
	return s.registry.IsRegistered(scheme.KeyFor(id))
}

// Reload replaces the scheme of a stored record with one built from its
// current values.
func (s *Service) Reload(ctx context.Context, id int64) (*store.Record, error) {
	const op = "Service.Reload"
	held, err := s.locks.Lock(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer held.Unlock()
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := s.apply(ctx, rec, s.registry.Replace); err != nil {
		return rec, fmt.Errorf("%s: %w", op, err)
	}
	return rec, nil
}

// Load replaces the scheme of every stored record, at most the configured
// concurrency at a time. Failures don't stop the load; they're logged and
// returned together.
func (s *Service) Load(ctx context.Context) error {
	const op = "Service.Load"
	recs, err := s.store.List(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	start := time.Now()

	var (
		mu     sync.Mutex
		retErr *multierror.Error
	)
	g := new(errgroup.Group)
	g.SetLimit(s.concurrency)
	for _, rec := range recs {
		id := rec.ID
		g.Go(func() error {
			_, err := s.Reload(ctx, id)
			switch {
			case err == nil, errors.Is(err, store.ErrNotFound), errors.Is(err, scheme.ErrSuperseded):
			default:
				s.logger.Warn("unable to load scheme", "key", scheme.KeyFor(id), "error", err)
				mu.Lock()
				retErr = multierror.Append(retErr, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	if retErr != nil {
		failed = retErr.Len()
	}
	s.logger.Info("schemes loaded", "total", len(recs), "failed", failed, "elapsed", time.Since(start))
	if err := retErr.ErrorOrNil(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// apply mutates the registry from rec and then makes sure a concurrent
// Delete of the record didn't leave its scheme behind. A Delete that lands
// while the scheme is finalizing surfaces as scheme.ErrSuperseded.
func (s *Service) apply(ctx context.Context, rec *store.Record, mutate func(context.Context, *scheme.Descriptor) error) error {
	d, err := rec.Descriptor()
	if err != nil {
		return err
	}
	if err := mutate(ctx, d); err != nil {
		if errors.Is(err, scheme.ErrSuperseded) {
			s.logger.Debug("scheme deleted while registering", "key", d.Key)
		}
		return err
	}
	if _, err := s.store.Get(ctx, rec.ID); errors.Is(err, store.ErrNotFound) {
		s.registry.Remove(d.Key)
		s.logger.Debug("scheme deleted while registering", "key", d.Key)
	}
	return nil
}
