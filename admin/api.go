// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package admin

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/oidc-schemes/oidc"
	"github.com/hashicorp/oidc-schemes/scheme"
	"github.com/hashicorp/oidc-schemes/store"
)

// schemeRequest is the body of POST /schemes and PUT /schemes/{id}.
type schemeRequest struct {
	Authority    string `json:"authority"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	Version      int64  `json:"version"`
}

// schemeResponse is a record as the API returns it. The client secret is
// never included.
type schemeResponse struct {
	ID           int64     `json:"id"`
	Key          string    `json:"key"`
	CallbackPath string    `json:"callback_path"`
	Authority    string    `json:"authority"`
	ClientID     string    `json:"client_id"`
	Version      int64     `json:"version"`
	Live         bool      `json:"live"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type errorResponse struct {
	Error  string          `json:"error"`
	Scheme *schemeResponse `json:"scheme,omitempty"`
}

type schemesRoutes struct {
	service *Service
	logger  hclog.Logger
}

// Router serves the admin API:
//
//	GET    /                list records
//	POST   /                create a record
//	GET    /{id}            get a record
//	PUT    /{id}            update a record, the body must carry its version
//	DELETE /{id}            delete a record
//	POST   /{id}/reload     rebuild the record's scheme
//
// It's meant to be mounted at /schemes.
func Router(s *Service) http.Handler {
	routes := &schemesRoutes{service: s, logger: s.logger}
	r := chi.NewRouter()
	r.Get("/", routes.list)
	r.Post("/", routes.create)
	r.Get("/{id}", routes.get)
	r.Put("/{id}", routes.update)
	r.Delete("/{id}", routes.delete)
	r.Post("/{id}/reload", routes.reload)
	return r
}

func (rt *schemesRoutes) list(w http.ResponseWriter, r *http.Request) {
	recs, err := rt.service.List(r.Context())
	if err != nil {
		rt.writeError(w, err, nil)
		return
	}
	out := make([]schemeResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rt.response(rec))
	}
	rt.writeJSON(w, http.StatusOK, out)
}

func (rt *schemesRoutes) create(w http.ResponseWriter, r *http.Request) {
	req, ok := rt.decode(w, r)
	if !ok {
		return
	}
	rec, err := rt.service.Create(r.Context(), req.Authority, req.ClientID, oidc.ClientSecret(req.ClientSecret))
	if err != nil {
		rt.writeError(w, err, rec)
		return
	}
	w.Header().Set("Location", "/schemes/"+strconv.FormatInt(rec.ID, 10))
	rt.writeJSON(w, http.StatusCreated, rt.response(rec))
}

func (rt *schemesRoutes) get(w http.ResponseWriter, r *http.Request) {
	id, ok := rt.id(w, r)
	if !ok {
		return
	}
	rec, err := rt.service.Get(r.Context(), id)
	if err != nil {
		rt.writeError(w, err, nil)
		return
	}
	rt.writeJSON(w, http.StatusOK, rt.response(rec))
}

func (rt *schemesRoutes) update(w http.ResponseWriter, r *http.Request) {
	id, ok := rt.id(w, r)
	if !ok {
		return
	}
	req, ok := rt.decode(w, r)
	if !ok {
		return
	}
	if req.Version <= 0 {
		rt.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "version is required"})
		return
	}
	rec, err := rt.service.Update(r.Context(), &store.Record{
		ID:           id,
		Authority:    req.Authority,
		ClientID:     req.ClientID,
		ClientSecret: oidc.ClientSecret(req.ClientSecret),
		Version:      req.Version,
	})
	if err != nil {
		rt.writeError(w, err, rec)
		return
	}
	rt.writeJSON(w, http.StatusOK, rt.response(rec))
}

func (rt *schemesRoutes) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := rt.id(w, r)
	if !ok {
		return
	}
	if err := rt.service.Delete(r.Context(), id); err != nil {
		rt.writeError(w, err, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *schemesRoutes) reload(w http.ResponseWriter, r *http.Request) {
	id, ok := rt.id(w, r)
	if !ok {
		return
	}
	rec, err := rt.service.Reload(r.Context(), id)
	if err != nil {
		rt.writeError(w, err, rec)
		return
	}
	rt.writeJSON(w, http.StatusOK, rt.response(rec))
}

func (rt *schemesRoutes) id(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		rt.writeJSON(w, http.StatusNotFound, errorResponse{Error: "scheme not found"})
		return 0, false
	}
	return id, true
}

func (rt *schemesRoutes) decode(w http.ResponseWriter, r *http.Request) (*schemeRequest, bool) {
	var req schemeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		rt.writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid request body: %s", err)})
		return nil, false
	}
	return &req, true
}

func (rt *schemesRoutes) response(rec *store.Record) schemeResponse {
	key := rec.Key()
	return schemeResponse{
		ID:           rec.ID,
		Key:          key.String(),
		CallbackPath: key.CallbackPath(),
		Authority:    rec.Authority,
		ClientID:     rec.ClientID,
		Version:      rec.Version,
		Live:         rt.service.IsLive(rec.ID),
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	}
}

// writeError maps err to a status. rec is the stored record, if any, when
// the failure came after the store was written.
func (rt *schemesRoutes) writeError(w http.ResponseWriter, err error, rec *store.Record) {
	var status int
	switch {
	case errors.Is(err, scheme.ErrInvalidConfiguration):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound), errors.Is(err, scheme.ErrSuperseded):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrConflict), errors.Is(err, scheme.ErrAlreadyRegistered):
		status = http.StatusConflict
	case errors.Is(err, scheme.ErrFinalizeFailed):
		status = http.StatusBadGateway
	case errors.Is(err, scheme.ErrRegistryClosed):
		status = http.StatusServiceUnavailable
	default:
		status = http.StatusInternalServerError
	}
	body := errorResponse{Error: err.Error()}
	if status == http.StatusInternalServerError {
		rt.logger.Error("admin request failed", "error", err)
		body.Error = "internal error"
	}
	if rec != nil {
		resp := rt.response(rec)
		body.Scheme = &resp
	}
	rt.writeJSON(w, status, body)
}

func (rt *schemesRoutes) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		rt.logger.Error("unable to encode response", "error", err)
	}
}
