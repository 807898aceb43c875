// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"fmt"
	"net/http"

	"github.com/hashicorp/oidc-schemes/oidc"
)

// AuthCode creates an oidc authorization code callback handler which
// uses a StateReader to read existing oidc.State(s) via the request's
// oidc "state" parameter as a key for the lookup.
//
// The request parameters are read with FormValue, so the handler works for
// both the query and form_post response modes. The request's context bounds
// the token exchange.
//
// The SuccessResponseFunc is used to create a response when callback is
// successful. The ErrorResponseFunc is to create a response when the callback
// fails.
func AuthCode(p *oidc.Provider, rw StateReader, sFn SuccessResponseFunc, eFn ErrorResponseFunc) (http.HandlerFunc, error) {
	const op = "callback.AuthCode"
	if p == nil {
		return nil, fmt.Errorf("%s: provider is nil: %w", op, oidc.ErrInvalidParameter)
	}
	if rw == nil {
		return nil, fmt.Errorf("%s: state reader is nil: %w", op, oidc.ErrInvalidParameter)
	}
	if sFn == nil {
		return nil, fmt.Errorf("%s: success response func is nil: %w", op, oidc.ErrInvalidParameter)
	}
	if eFn == nil {
		return nil, fmt.Errorf("%s: error response func is nil: %w", op, oidc.ErrInvalidParameter)
	}
	return func(w http.ResponseWriter, req *http.Request) {
		ctx := req.Context()

		// get parameters from either the body or query parameters.
		// FormValue prioritizes body values, if found
		reqState := req.FormValue("state")

		if err := req.FormValue("error"); err != "" {
			reqError := &AuthenErrorResponse{
				Error:       err,
				Description: req.FormValue("error_description"),
				Uri:         req.FormValue("error_uri"),
			}
			eFn(reqState, reqError, nil, w, req)
			return
		}

		reqCode := req.FormValue("code")

		state, err := rw.Read(ctx, reqState)
		if err != nil {
			eFn(reqState, nil, fmt.Errorf("%s: unable to read auth code state: %w", op, err), w, req)
			return
		}
		if state == nil {
			// could have expired or it could be invalid... no way to known for sure
			eFn(reqState, nil, fmt.Errorf("%s: auth code state not found: %w", op, oidc.ErrNotFound), w, req)
			return
		}
		if state.IsExpired() {
			eFn(reqState, nil, fmt.Errorf("%s: authentication state is expired: %w", op, oidc.ErrExpiredState), w, req)
			return
		}
		if reqState != state.ID() {
			// the reader didn't return the correct state for the key given
			eFn(reqState, nil, fmt.Errorf("%s: authen state and response state are not equal: %w", op, oidc.ErrResponseStateInvalid), w, req)
			return
		}

		responseToken, err := p.Exchange(ctx, state, reqState, reqCode)
		if err != nil {
			eFn(reqState, nil, fmt.Errorf("%s: unable to exchange authorization code: %w", op, err), w, req)
			return
		}
		sFn(state, responseToken, w, req)
	}, nil
}
