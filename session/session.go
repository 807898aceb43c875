// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/oidc-schemes/oidc"
	gocache "github.com/patrickmn/go-cache"
)

const (
	// DefaultCookieName is the name of the session cookie.
	DefaultCookieName = "oidc_session"

	// DefaultTTL is the lifetime of a session.
	DefaultTTL = 8 * time.Hour

	// Audience is the audience of every session token.
	Audience = "oidc-schemes-session"

	// MinSigningKeyLen is the minimum length of the HS256 signing key.
	MinSigningKeyLen = 32
)

var (
	// ErrInvalidParameter means an argument was invalid.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrNoSession means the request carries no session cookie.
	ErrNoSession = errors.New("no session")

	// ErrInvalidSession means the session cookie didn't verify or has
	// expired.
	ErrInvalidSession = errors.New("invalid session")
)

// Identity is the authenticated user a session is issued for.
type Identity struct {
	// Subject is the provider's "sub" claim.
	Subject string

	// Issuer is the provider's issuer.
	Issuer string

	// Scheme is the key of the mechanism the user signed in with.
	Scheme string

	Name  string
	Email string
}

// Claims are the claims of a session token. ID (jti) is the session id.
type Claims struct {
	Scheme string `json:"scheme"`
	IDP    string `json:"idp"`
	Name   string `json:"name,omitempty"`
	Email  string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Manager issues and verifies HS256 signed session cookies. When tokens are
// saved with a session they're kept in memory, keyed by the session id, and
// expire with the session.
type Manager struct {
	key        []byte
	ttl        time.Duration
	cookieName string
	secure     bool
	issuer     string
	now        func() time.Time
	tokens     *gocache.Cache
}

// NewManager creates a Manager. signingKey must be at least MinSigningKeyLen
// bytes.
//
// Supported options:
//   - WithTTL
//   - WithCookieName
//   - WithSecure
//   - WithIssuer
//   - WithNow
func NewManager(signingKey []byte, opt ...Option) (*Manager, error) {
	const op = "session.NewManager"
	if len(signingKey) < MinSigningKeyLen {
		return nil, fmt.Errorf("%s: signing key must be at least %d bytes: %w", op, MinSigningKeyLen, ErrInvalidParameter)
	}
	opts := getOpts(opt...)
	return &Manager{
		key:        append([]byte(nil), signingKey...),
		ttl:        opts.withTTL,
		cookieName: opts.withCookieName,
		secure:     opts.withSecure,
		issuer:     opts.withIssuer,
		now:        opts.withNowFunc,
		tokens:     gocache.New(opts.withTTL, time.Minute),
	}, nil
}

// Issue starts a session for id and sets the session cookie. When t isn't
// nil it's saved with the session, see Tokens.
func (m *Manager) Issue(w http.ResponseWriter, id Identity, t oidc.Token) (*Claims, error) {
	const op = "Manager.Issue"
	if id.Subject == "" {
		return nil, fmt.Errorf("%s: subject is empty: %w", op, ErrInvalidParameter)
	}
	sid, err := oidc.NewID("sess")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	now := m.now()
	exp := now.Add(m.ttl)
	claims := &Claims{
		Scheme: id.Scheme,
		IDP:    id.Issuer,
		Name:   id.Name,
		Email:  id.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sid,
			Subject:   id.Subject,
			Issuer:    m.issuer,
			Audience:  jwt.ClaimStrings{Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.key)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to sign session: %w", op, err)
	}
	if t != nil {
		m.tokens.Set(sid, t, m.ttl)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    signed,
		Path:     "/",
		Expires:  exp,
		MaxAge:   int(m.ttl.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return claims, nil
}

// Read verifies the request's session cookie and returns its claims.
func (m *Manager) Read(r *http.Request) (*Claims, error) {
	const op = "Manager.Read"
	c, err := r.Cookie(m.cookieName)
	if err != nil || c.Value == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrNoSession)
	}
	claims := &Claims{}
	_, err = jwt.ParseWithClaims(c.Value, claims,
		func(*jwt.Token) (interface{}, error) { return m.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(Audience),
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %s: %w", op, err, ErrInvalidSession)
	}
	return claims, nil
}

// Tokens returns the tokens saved with the session id.
func (m *Manager) Tokens(sessionID string) (oidc.Token, bool) {
	v, ok := m.tokens.Get(sessionID)
	if !ok {
		return nil, false
	}
	t, ok := v.(oidc.Token)
	return t, ok
}

// Clear ends the request's session, if any, and expires the cookie.
func (m *Manager) Clear(w http.ResponseWriter, r *http.Request) {
	if claims, err := m.Read(r); err == nil {
		m.tokens.Delete(claims.ID)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// CookieName returns the name of the session cookie.
func (m *Manager) CookieName() string { return m.cookieName }
