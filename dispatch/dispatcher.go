// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/oidc-schemes/scheme"
	"github.com/hashicorp/oidc-schemes/session"
	"github.com/hashicorp/oidc-schemes/store"
)

// UnavailableMessage is the body of the response to a login or callback for
// a scheme that isn't live.
const UnavailableMessage = "authentication method unavailable"

// Resolver looks up live mechanisms. scheme.Registry is a Resolver.
type Resolver interface {
	Resolve(key scheme.Key) (scheme.Mechanism, error)
	IsRegistered(key scheme.Key) bool
}

// Lister lists stored records. store.Store is a Lister.
type Lister interface {
	List(ctx context.Context) ([]*store.Record, error)
}

// Dispatcher routes login and callback requests to the live mechanism for
// their scheme. It resolves the mechanism on every request, so a request
// always reaches the mechanism that's live when it arrives.
type Dispatcher struct {
	resolver Resolver
	sessions *session.Manager
	lister   Lister
	logger   hclog.Logger
}

// NewDispatcher creates a Dispatcher.
//
// Supported options:
//   - WithLogger
//   - WithLister
func NewDispatcher(r Resolver, sessions *session.Manager, opt ...Option) (*Dispatcher, error) {
	const op = "dispatch.NewDispatcher"
	if r == nil {
		return nil, fmt.Errorf("%s: resolver is nil: %w", op, ErrInvalidParameter)
	}
	if sessions == nil {
		return nil, fmt.Errorf("%s: session manager is nil: %w", op, ErrInvalidParameter)
	}
	opts := getDispatcherOpts(opt...)
	return &Dispatcher{
		resolver: r,
		sessions: sessions,
		lister:   opts.withLister,
		logger:   opts.withLogger,
	}, nil
}

// Routes mounts the account and callback endpoints on r.
func (d *Dispatcher) Routes(r chi.Router) {
	r.Get("/account", d.index)
	r.Post("/account/login", d.login)
	r.Get(LandingPath, d.landing)
	r.Get(scheme.CallbackPrefix+"{key}", d.callback)
	r.Post(scheme.CallbackPrefix+"{key}", d.callback)
}

// Handler returns a router serving Routes.
func (d *Dispatcher) Handler() http.Handler {
	r := chi.NewRouter()
	d.Routes(r)
	return r
}

// Challenge starts authentication with the scheme key names.
func (d *Dispatcher) Challenge(w http.ResponseWriter, r *http.Request, key scheme.Key) {
	m, ok := d.resolve(w, key)
	if !ok {
		return
	}
	m.BeginAuth(w, r)
}

// Callback hands a provider response to the scheme key names.
func (d *Dispatcher) Callback(w http.ResponseWriter, r *http.Request, key scheme.Key) {
	m, ok := d.resolve(w, key)
	if !ok {
		return
	}
	m.HandleCallback(w, r)
}

func (d *Dispatcher) resolve(w http.ResponseWriter, key scheme.Key) (scheme.Mechanism, bool) {
	if _, err := scheme.ParseKey(key.String()); err != nil {
		d.unavailable(w, key, err)
		return nil, false
	}
	m, err := d.resolver.Resolve(key)
	if err != nil {
		d.unavailable(w, key, err)
		return nil, false
	}
	return m, true
}

func (d *Dispatcher) unavailable(w http.ResponseWriter, key scheme.Key, err error) {
	if !errors.Is(err, scheme.ErrUnknownScheme) {
		d.logger.Error("unable to resolve scheme", "key", key, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	d.logger.Debug("scheme unavailable", "key", key)
	http.Error(w, UnavailableMessage, http.StatusNotFound)
}

func (d *Dispatcher) login(w http.ResponseWriter, r *http.Request) {
	if _, err := d.sessions.Read(r); err == nil {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	d.Challenge(w, r, scheme.Key(r.FormValue("scheme")))
}

func (d *Dispatcher) callback(w http.ResponseWriter, r *http.Request) {
	key, ok := scheme.KeyFromCallbackPath(r.URL.Path)
	if !ok {
		d.unavailable(w, scheme.Key(chi.URLParam(r, "key")), scheme.ErrUnknownScheme)
		return
	}
	d.Callback(w, r, key)
}

func (d *Dispatcher) landing(w http.ResponseWriter, r *http.Request) {
	claims, err := d.sessions.Read(r)
	if err != nil {
		d.logger.Debug("landing without a session", "error", err)
		http.Error(w, "not authenticated", http.StatusUnauthorized)
		return
	}
	if s := r.URL.Query().Get("scheme"); s != "" && s != claims.Scheme {
		http.Error(w, "not authenticated", http.StatusUnauthorized)
		return
	}
	target := localPath(r.URL.Query().Get("return_to"))
	if target == "" {
		target = "/"
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// schemeResponse is the public view of a record. It never includes the
// client secret.
type schemeResponse struct {
	ID           int64  `json:"id"`
	Key          string `json:"key"`
	Authority    string `json:"authority"`
	CallbackPath string `json:"callback_path"`
	Live         bool   `json:"live"`
}

func (d *Dispatcher) index(w http.ResponseWriter, r *http.Request) {
	out := []schemeResponse{}
	if d.lister != nil {
		records, err := d.lister.List(r.Context())
		if err != nil {
			d.logger.Error("unable to list schemes", "error", err)
			http.Error(w, "unable to list schemes", http.StatusInternalServerError)
			return
		}
		for _, rec := range records {
			key := rec.Key()
			out = append(out, schemeResponse{
				ID:           rec.ID,
				Key:          key.String(),
				Authority:    rec.Authority,
				CallbackPath: key.CallbackPath(),
				Live:         d.resolver.IsRegistered(key),
			})
		}
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		d.logger.Error("unable to encode schemes", "error", err)
	}
}
