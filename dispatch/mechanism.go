// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package dispatch

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/oidc-schemes/oidc"
	"github.com/hashicorp/oidc-schemes/oidc/callback"
	"github.com/hashicorp/oidc-schemes/scheme"
	"github.com/hashicorp/oidc-schemes/session"
	"golang.org/x/text/language"
)

// LandingPath is where a mechanism sends the user agent after a successful
// callback.
const LandingPath = "/account/callback"

// mechanism is the live OIDC handler for one descriptor.
type mechanism struct {
	descriptor *scheme.Descriptor
	provider   *oidc.Provider
	attempts   *attempts
	sessions   *session.Manager
	logger     hclog.Logger
	stateTTL   time.Duration
	secure     bool
}

// ensure that mechanism implements the scheme.Mechanism interface
var _ scheme.Mechanism = (*mechanism)(nil)

func (m *mechanism) Key() scheme.Key { return m.descriptor.Key }

func (m *mechanism) Descriptor() scheme.Descriptor { return *m.descriptor.Clone() }

func (m *mechanism) Done() { m.provider.Done() }

// BeginAuth records a new attempt, sets its correlation and nonce cookies and
// redirects to the provider. An optional "return_to" form value is carried
// through the attempt when it's a local path. The browser's Accept-Language
// is forwarded as ui_locales.
func (m *mechanism) BeginAuth(w http.ResponseWriter, r *http.Request) {
	opts := []oidc.Option{oidc.WithReturnTo(localPath(r.FormValue("return_to")))}
	if m.descriptor.UsePKCE {
		opts = append(opts, oidc.WithPKCE())
	}
	if tags, _, err := language.ParseAcceptLanguage(r.Header.Get("Accept-Language")); err == nil && len(tags) > 0 {
		opts = append(opts, oidc.WithUILocales(tags...))
	}
	st, err := oidc.NewState(m.stateTTL, opts...)
	if err != nil {
		m.logger.Error("unable to create state", "error", err)
		http.Error(w, "unable to start authentication", http.StatusInternalServerError)
		return
	}
	correlation, err := oidc.NewID("corr")
	if err != nil {
		m.logger.Error("unable to create correlation id", "error", err)
		http.Error(w, "unable to start authentication", http.StatusInternalServerError)
		return
	}
	authURL, err := m.provider.AuthURL(r.Context(), st)
	if err != nil {
		m.logger.Error("unable to create auth url", "error", err)
		http.Error(w, "unable to start authentication", http.StatusInternalServerError)
		return
	}
	m.attempts.put(&attempt{key: m.descriptor.Key, state: st, correlation: correlation}, m.stateTTL)

	expires := st.Expiration()
	http.SetCookie(w, m.cookie(correlationCookieName(st.ID()), correlation, expires, m.descriptor.CorrelationCookieSameSite))
	http.SetCookie(w, m.cookie(nonceCookieName(st.ID()), st.Nonce(), expires, m.descriptor.NonceCookieSameSite))
	m.logger.Debug("authentication started", "state", st.ID())
	http.Redirect(w, r, authURL, http.StatusFound)
}

// HandleCallback completes the attempt named by the response's state. The
// attempt is consumed only when the request carries its cookies.
func (m *mechanism) HandleCallback(w http.ResponseWriter, r *http.Request) {
	stateID := r.FormValue("state")
	reader := &attemptReader{
		attempts:    m.attempts,
		key:         m.descriptor.Key,
		correlation: cookieValue(r, correlationCookieName(stateID)),
		nonce:       cookieValue(r, nonceCookieName(stateID)),
	}
	h, err := callback.AuthCode(m.provider, reader, m.success, m.failure)
	if err != nil {
		m.logger.Error("unable to create callback handler", "error", err)
		http.Error(w, "authentication failed", http.StatusInternalServerError)
		return
	}
	if stateID != "" {
		http.SetCookie(w, m.cookie(correlationCookieName(stateID), "", time.Time{}, m.descriptor.CorrelationCookieSameSite))
		http.SetCookie(w, m.cookie(nonceCookieName(stateID), "", time.Time{}, m.descriptor.NonceCookieSameSite))
	}
	h(w, r)
}

func (m *mechanism) success(state oidc.State, t oidc.Token, w http.ResponseWriter, r *http.Request) {
	var claims struct {
		Subject string `json:"sub"`
		Issuer  string `json:"iss"`
		Name    string `json:"name"`
		Email   string `json:"email"`
	}
	if err := t.IDToken().Claims(&claims); err != nil {
		m.logger.Error("unable to read id_token claims", "error", err)
		http.Error(w, "authentication failed", http.StatusInternalServerError)
		return
	}
	var saved oidc.Token
	if m.descriptor.SaveTokens {
		saved = t
	}
	sess, err := m.sessions.Issue(w, session.Identity{
		Subject: claims.Subject,
		Issuer:  claims.Issuer,
		Scheme:  m.descriptor.Key.String(),
		Name:    claims.Name,
		Email:   claims.Email,
	}, saved)
	if err != nil {
		m.logger.Error("unable to issue session", "error", err)
		http.Error(w, "authentication failed", http.StatusInternalServerError)
		return
	}
	m.logger.Info("authentication succeeded", "session", sess.ID)

	q := url.Values{"scheme": {m.descriptor.Key.String()}}
	if rt := state.ReturnTo(); rt != "" {
		q.Set("return_to", rt)
	}
	http.Redirect(w, r, LandingPath+"?"+q.Encode(), http.StatusSeeOther)
}

func (m *mechanism) failure(stateID string, respErr *callback.AuthenErrorResponse, e error, w http.ResponseWriter, _ *http.Request) {
	switch {
	case respErr != nil:
		m.logger.Warn("provider returned an error", "state", stateID, "error", respErr.Error, "description", respErr.Description)
		http.Error(w, "authentication failed: "+respErr.Error, http.StatusUnauthorized)
	case errors.Is(e, oidc.ErrNotFound), errors.Is(e, oidc.ErrExpiredState), errors.Is(e, ErrCorrelationFailed):
		m.logger.Warn("callback rejected", "state", stateID, "error", e)
		http.Error(w, "authentication attempt is unknown or expired", http.StatusBadRequest)
	default:
		m.logger.Warn("authentication failed", "state", stateID, "error", e)
		http.Error(w, "authentication failed", http.StatusUnauthorized)
	}
}

func (m *mechanism) cookie(name, value string, expires time.Time, sameSite http.SameSite) *http.Cookie {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     m.descriptor.CallbackPath,
		Expires:  expires,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: sameSite,
	}
	if value == "" {
		c.MaxAge = -1
	}
	return c
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

// localPath returns p when it's a path on this server, otherwise "".
func localPath(p string) string {
	if len(p) == 0 || p[0] != '/' {
		return ""
	}
	if len(p) > 1 && (p[1] == '/' || p[1] == '\\') {
		return ""
	}
	u, err := url.Parse(p)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return ""
	}
	return p
}
