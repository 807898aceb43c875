// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/oidc-schemes/oidc"
	"github.com/hashicorp/oidc-schemes/oidc/clientassertion"
	"github.com/hashicorp/oidc-schemes/scheme"
	"github.com/hashicorp/oidc-schemes/session"
	"github.com/hashicorp/oidc-schemes/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testPublicURL    = "https://rp.example.com"
	testClientID     = "test-client-id"
	testClientSecret = "test-client-secret"
	testCode         = "test-code"
)

var testSigningKey = []byte(strings.Repeat("s", session.MinSigningKeyLen))

type testEnv struct {
	tp         *oidc.TestProvider
	registry   *scheme.Registry
	finalizer  *Finalizer
	sessions   *session.Manager
	dispatcher *Dispatcher
	handler    http.Handler
}

func newTestEnv(t *testing.T, opt ...Option) *testEnv {
	t.Helper()
	require := require.New(t)
	tp := oidc.StartTestProvider(t)
	tp.SetClientCreds(testClientID, testClientSecret)
	tp.SetExpectedAuthCode(testCode)
	tp.SetAllowedRedirectURIs([]string{
		testPublicURL + scheme.KeyFor(1).CallbackPath(),
		testPublicURL + scheme.KeyFor(2).CallbackPath(),
	})

	sessions, err := session.NewManager(testSigningKey)
	require.NoError(err)
	f, err := NewFinalizer(testPublicURL, sessions, append([]Option{WithProviderCA(tp.CACert())}, opt...)...)
	require.NoError(err)
	reg, err := scheme.NewRegistry(f, scheme.WithFinalizeTimeout(5*time.Second))
	require.NoError(err)
	t.Cleanup(reg.Close)
	d, err := NewDispatcher(reg, sessions)
	require.NoError(err)
	return &testEnv{
		tp:         tp,
		registry:   reg,
		finalizer:  f,
		sessions:   sessions,
		dispatcher: d,
		handler:    d.Handler(),
	}
}

func (e *testEnv) register(t *testing.T, id int64, secret string) {
	t.Helper()
	d, err := scheme.NewDescriptor(id, e.tp.Addr(), testClientID, oidc.ClientSecret(secret))
	require.NoError(t, err)
	require.NoError(t, e.registry.Register(context.Background(), d))
}

func (e *testEnv) serve(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func formRequest(method, target string, form url.Values, cookies []*http.Cookie) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	return req
}

// login posts the login form and returns the provider's authorization
// response and the cookies set by the login.
func (e *testEnv) login(t *testing.T, key scheme.Key, returnTo string) (url.Values, []*http.Cookie) {
	t.Helper()
	resp, cookies, _ := e.loginHeaders(t, key, returnTo)
	return resp, cookies
}

// loginHeaders is login that also returns the raw Set-Cookie headers.
func (e *testEnv) loginHeaders(t *testing.T, key scheme.Key, returnTo string) (url.Values, []*http.Cookie, []string) {
	t.Helper()
	require := require.New(t)
	form := url.Values{"scheme": {key.String()}}
	if returnTo != "" {
		form.Set("return_to", returnTo)
	}
	rec := e.serve(formRequest(http.MethodPost, "/account/login", form, nil))
	require.Equal(http.StatusFound, rec.Code, rec.Body.String())

	resp, err := e.tp.HTTPClient().Get(rec.Header().Get("Location"))
	require.NoError(err)
	defer resp.Body.Close()
	require.Equal(http.StatusFound, resp.StatusCode)
	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(err)
	require.Equal(key.CallbackPath(), loc.Path)
	return loc.Query(), rec.Result().Cookies(), rec.Header().Values("Set-Cookie")
}

// postCallback posts the authorization response the way form_post does.
func (e *testEnv) postCallback(key scheme.Key, resp url.Values, cookies []*http.Cookie) *httptest.ResponseRecorder {
	return e.serve(formRequest(http.MethodPost, key.CallbackPath(), resp, cookies))
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == session.DefaultCookieName {
			return c
		}
	}
	require.FailNow(t, "no session cookie")
	return nil
}

func TestNewFinalizer(t *testing.T) {
	t.Parallel()
	sessions, err := session.NewManager(testSigningKey)
	require.NoError(t, err)
	tests := []struct {
		name      string
		publicURL string
		sessions  *session.Manager
		opts      []Option
		wantErr   bool
	}{
		{name: "valid", publicURL: testPublicURL, sessions: sessions},
		{name: "trailing-slash", publicURL: testPublicURL + "/", sessions: sessions},
		{name: "http", publicURL: "http://localhost:8080", sessions: sessions},
		{name: "relative", publicURL: "/rp", sessions: sessions, wantErr: true},
		{name: "ftp", publicURL: "ftp://rp.example.com", sessions: sessions, wantErr: true},
		{name: "nil-sessions", publicURL: testPublicURL, wantErr: true},
		{name: "client-secret-jwt", publicURL: testPublicURL, sessions: sessions, opts: []Option{WithClientSecretJWT(clientassertion.HS512)}},
		{name: "bad-assertion-alg", publicURL: testPublicURL, sessions: sessions, opts: []Option{WithClientSecretJWT("none")}, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			f, err := NewFinalizer(tt.publicURL, tt.sessions, tt.opts...)
			if tt.wantErr {
				require.Error(err)
				assert.ErrorIs(err, ErrInvalidParameter)
				return
			}
			require.NoError(err)
			d, err := scheme.NewDescriptor(1, "https://idp.example.com", "id", "secret")
			require.NoError(err)
			assert.Equal(strings.TrimSuffix(tt.publicURL, "/")+"/signin-oidc-1", f.RedirectURL(d))
		})
	}
}

func TestFinalizer_Finalize(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)

	t.Run("valid", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		d, err := scheme.NewDescriptor(1, e.tp.Addr(), testClientID, testClientSecret)
		require.NoError(err)
		m, err := e.finalizer.Finalize(context.Background(), d)
		require.NoError(err)
		t.Cleanup(m.Done)
		assert.Equal(scheme.KeyFor(1), m.Key())
		got := m.Descriptor()
		assert.Equal(*d, got)
	})
	t.Run("invalid-descriptor", func(t *testing.T) {
		_, err := e.finalizer.Finalize(context.Background(), &scheme.Descriptor{ID: 1})
		require.Error(t, err)
		assert.ErrorIs(t, err, scheme.ErrInvalidConfiguration)
	})
	t.Run("unsupported-response-type", func(t *testing.T) {
		d, err := scheme.NewDescriptor(1, e.tp.Addr(), testClientID, testClientSecret)
		require.NoError(t, err)
		d.ResponseType = "id_token"
		_, err = e.finalizer.Finalize(context.Background(), d)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrUnsupportedResponseType)
	})
	t.Run("unreachable", func(t *testing.T) {
		d, err := scheme.NewDescriptor(1, "https://127.0.0.1:1", testClientID, testClientSecret)
		require.NoError(t, err)
		_, err = e.finalizer.Finalize(context.Background(), d)
		require.Error(t, err)
		assert.ErrorIs(t, err, oidc.ErrDiscoveryFailed)
	})
}

func TestDispatcher_flow(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	e := newTestEnv(t)
	e.register(t, 1, testClientSecret)
	key := scheme.KeyFor(1)

	resp, cookies, setCookies := e.loginHeaders(t, key, "/reports?month=1")
	require.Len(cookies, 2)
	for _, c := range cookies {
		assert.Equal(key.CallbackPath(), c.Path)
		assert.True(c.HttpOnly)
	}
	// an unspecified SameSite policy leaves the attribute off entirely
	require.Len(setCookies, 2)
	for _, h := range setCookies {
		assert.NotContains(strings.ToLower(h), "samesite", h)
	}
	assert.Equal(1, e.finalizer.attempts.len())

	rec := e.postCallback(key, resp, cookies)
	require.Equal(http.StatusSeeOther, rec.Code, rec.Body.String())
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(err)
	assert.Equal(LandingPath, loc.Path)
	assert.Equal(key.String(), loc.Query().Get("scheme"))
	assert.Equal("/reports?month=1", loc.Query().Get("return_to"))
	assert.Equal(0, e.finalizer.attempts.len())

	sc := sessionCookie(t, rec)
	req := httptest.NewRequest(http.MethodGet, loc.String(), nil)
	req.AddCookie(sc)
	claims, err := e.sessions.Read(req)
	require.NoError(err)
	assert.Equal("alice@example.com", claims.Subject)
	assert.Equal(e.tp.Addr(), claims.IDP)
	assert.Equal(key.String(), claims.Scheme)

	tk, ok := e.sessions.Tokens(claims.ID)
	require.True(ok)
	assert.NotEmpty(tk.IDToken())
	assert.NotEmpty(tk.AccessToken())

	landing := e.serve(req)
	assert.Equal(http.StatusFound, landing.Code)
	assert.Equal("/reports?month=1", landing.Header().Get("Location"))

	// a user holding a session isn't sent to the provider again
	again := e.serve(formRequest(http.MethodPost, "/account/login", url.Values{"scheme": {key.String()}}, []*http.Cookie{sc}))
	assert.Equal(http.StatusSeeOther, again.Code)
	assert.Equal("/", again.Header().Get("Location"))
}

func TestDispatcher_clientSecretJWT(t *testing.T) {
	t.Parallel()
	const longSecret = "a-client-secret-long-enough-for-hs256"
	assert, require := assert.New(t), require.New(t)
	e := newTestEnv(t, WithClientSecretJWT(clientassertion.HS256))
	e.tp.SetClientCreds(testClientID, longSecret)

	// too short to sign an HS256 assertion
	d, err := scheme.NewDescriptor(2, e.tp.Addr(), testClientID, testClientSecret)
	require.NoError(err)
	assert.ErrorIs(e.registry.Register(context.Background(), d), scheme.ErrFinalizeFailed)
	assert.False(e.registry.IsRegistered(scheme.KeyFor(2)))

	e.register(t, 1, longSecret)
	key := scheme.KeyFor(1)
	resp, cookies := e.login(t, key, "")
	rec := e.postCallback(key, resp, cookies)
	require.Equal(http.StatusSeeOther, rec.Code, rec.Body.String())
	assert.Equal(oidc.ClientSecretJWT, e.tp.TokenAuthMethod())
	assert.NotNil(sessionCookie(t, rec))
}

func TestDispatcher_uiLocales(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	e.register(t, 1, testClientSecret)

	tests := []struct {
		name           string
		acceptLanguage string
		want           string
	}{
		{name: "none"},
		{name: "weighted", acceptLanguage: "de;q=0.5, fr-CH, en;q=0.8", want: "fr-CH en de"},
		{name: "malformed", acceptLanguage: "@@@"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			req := formRequest(http.MethodPost, "/account/login", url.Values{"scheme": {scheme.KeyFor(1).String()}}, nil)
			if tt.acceptLanguage != "" {
				req.Header.Set("Accept-Language", tt.acceptLanguage)
			}
			rec := e.serve(req)
			require.Equal(http.StatusFound, rec.Code, rec.Body.String())
			loc, err := url.Parse(rec.Header().Get("Location"))
			require.NoError(err)
			assert.Equal(tt.want, loc.Query().Get("ui_locales"))
		})
	}
}

func TestDispatcher_unavailable(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	e.register(t, 1, testClientSecret)

	tests := []struct {
		name string
		req  *http.Request
	}{
		{name: "login-unknown", req: formRequest(http.MethodPost, "/account/login", url.Values{"scheme": {"oidc-2"}}, nil)},
		{name: "login-malformed", req: formRequest(http.MethodPost, "/account/login", url.Values{"scheme": {"oidc-01"}}, nil)},
		{name: "login-empty", req: formRequest(http.MethodPost, "/account/login", nil, nil)},
		{name: "callback-unknown", req: formRequest(http.MethodPost, "/signin-oidc-2", url.Values{"state": {"st"}, "code": {"c"}}, nil)},
		{name: "callback-malformed", req: formRequest(http.MethodPost, "/signin-other", url.Values{"state": {"st"}}, nil)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert := assert.New(t)
			rec := e.serve(tt.req)
			assert.Equal(http.StatusNotFound, rec.Code)
			assert.Contains(rec.Body.String(), UnavailableMessage)
		})
	}
}

func TestDispatcher_callbackRejected(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	e.register(t, 1, testClientSecret)
	e.register(t, 2, testClientSecret)
	key := scheme.KeyFor(1)

	t.Run("missing-cookies", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		resp, cookies := e.login(t, key, "")
		rec := e.postCallback(key, resp, nil)
		assert.Equal(http.StatusBadRequest, rec.Code)

		// the attempt wasn't consumed, so the browser holding the cookies
		// can still complete it
		rec = e.postCallback(key, resp, cookies)
		require.Equal(http.StatusSeeOther, rec.Code, rec.Body.String())
	})
	t.Run("wrong-correlation", func(t *testing.T) {
		assert := assert.New(t)
		resp, cookies := e.login(t, key, "")
		for _, c := range cookies {
			if strings.HasPrefix(c.Name, correlationCookiePrefix) {
				c.Value = "corr_forged"
			}
		}
		rec := e.postCallback(key, resp, cookies)
		assert.Equal(http.StatusBadRequest, rec.Code)
	})
	t.Run("replay", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		resp, cookies := e.login(t, key, "")
		rec := e.postCallback(key, resp, cookies)
		require.Equal(http.StatusSeeOther, rec.Code, rec.Body.String())
		rec = e.postCallback(key, resp, cookies)
		assert.Equal(http.StatusBadRequest, rec.Code)
	})
	t.Run("other-scheme", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		resp, cookies := e.login(t, key, "")
		other := scheme.KeyFor(2)
		rec := e.postCallback(other, resp, cookies)
		assert.Equal(http.StatusBadRequest, rec.Code)

		rec = e.postCallback(key, resp, cookies)
		require.Equal(http.StatusSeeOther, rec.Code, rec.Body.String())
	})
	t.Run("provider-error", func(t *testing.T) {
		assert := assert.New(t)
		rec := e.postCallback(key, url.Values{"state": {"st_1"}, "error": {"access_denied"}}, nil)
		assert.Equal(http.StatusUnauthorized, rec.Code)
		assert.Contains(rec.Body.String(), "access_denied")
	})
	t.Run("bad-code", func(t *testing.T) {
		assert := assert.New(t)
		resp, cookies := e.login(t, key, "")
		resp.Set("code", "wrong-code")
		rec := e.postCallback(key, resp, cookies)
		assert.Equal(http.StatusUnauthorized, rec.Code)
	})
}

func TestDispatcher_expiredAttempt(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	e := newTestEnv(t, WithStateTTL(2*time.Second))
	e.register(t, 1, testClientSecret)
	key := scheme.KeyFor(1)

	resp, cookies := e.login(t, key, "")
	time.Sleep(1500 * time.Millisecond)
	rec := e.postCallback(key, resp, cookies)
	assert.Equal(http.StatusBadRequest, rec.Code)
}

func TestDispatcher_replaceDuringAttempt(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	e := newTestEnv(t)
	e.register(t, 1, "s3cret")
	e.tp.SetClientCreds(testClientID, "s3cret")
	key := scheme.KeyFor(1)

	resp, cookies := e.login(t, key, "")

	d, err := scheme.NewDescriptor(1, e.tp.Addr(), testClientID, "s3cret2")
	require.NoError(err)
	require.NoError(e.registry.Replace(context.Background(), d))
	e.tp.SetClientCreds(testClientID, "s3cret2")

	// the attempt completes with the mechanism that's live at callback time
	rec := e.postCallback(key, resp, cookies)
	require.Equal(http.StatusSeeOther, rec.Code, rec.Body.String())

	m, err := e.registry.Resolve(key)
	require.NoError(err)
	assert.Equal(oidc.ClientSecret("s3cret2"), m.Descriptor().ClientSecret)
}

func TestDispatcher_removeDuringAttempt(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	e := newTestEnv(t)
	e.register(t, 1, testClientSecret)
	key := scheme.KeyFor(1)

	resp, cookies := e.login(t, key, "")
	assert.True(e.registry.Remove(key))

	rec := e.postCallback(key, resp, cookies)
	assert.Equal(http.StatusNotFound, rec.Code)
	assert.Contains(rec.Body.String(), UnavailableMessage)

	rec = e.serve(formRequest(http.MethodPost, "/account/login", url.Values{"scheme": {key.String()}}, nil))
	assert.Equal(http.StatusNotFound, rec.Code)
}

func TestDispatcher_finalizeFailure(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	e := newTestEnv(t)
	e.tp.SetDisableDiscovery(true)

	d, err := scheme.NewDescriptor(1, e.tp.Addr(), testClientID, testClientSecret)
	require.NoError(err)
	err = e.registry.Register(context.Background(), d)
	require.Error(err)
	assert.ErrorIs(err, scheme.ErrFinalizeFailed)
	assert.ErrorIs(err, oidc.ErrDiscoveryFailed)
	assert.False(e.registry.IsRegistered(d.Key))

	rec := e.serve(formRequest(http.MethodPost, "/account/login", url.Values{"scheme": {d.Key.String()}}, nil))
	assert.Equal(http.StatusNotFound, rec.Code)
}

func TestDispatcher_landing(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	rec := httptest.NewRecorder()
	_, err := e.sessions.Issue(rec, session.Identity{Subject: "alice", Scheme: "oidc-1"}, nil)
	require.NoError(t, err)
	sc := sessionCookie(t, rec)

	tests := []struct {
		name     string
		target   string
		cookie   *http.Cookie
		wantCode int
		wantLoc  string
	}{
		{name: "home", target: "/account/callback?scheme=oidc-1", cookie: sc, wantCode: http.StatusFound, wantLoc: "/"},
		{name: "return-to", target: "/account/callback?scheme=oidc-1&return_to=%2Fdocs", cookie: sc, wantCode: http.StatusFound, wantLoc: "/docs"},
		{name: "open-redirect", target: "/account/callback?scheme=oidc-1&return_to=%2F%2Fevil.example.com", cookie: sc, wantCode: http.StatusFound, wantLoc: "/"},
		{name: "absolute", target: "/account/callback?scheme=oidc-1&return_to=https%3A%2F%2Fevil.example.com", cookie: sc, wantCode: http.StatusFound, wantLoc: "/"},
		{name: "other-scheme", target: "/account/callback?scheme=oidc-2", cookie: sc, wantCode: http.StatusUnauthorized},
		{name: "no-session", target: "/account/callback?scheme=oidc-1", wantCode: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert := assert.New(t)
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.cookie != nil {
				req.AddCookie(tt.cookie)
			}
			rec := e.serve(req)
			assert.Equal(tt.wantCode, rec.Code)
			if tt.wantLoc != "" {
				assert.Equal(tt.wantLoc, rec.Header().Get("Location"))
			}
		})
	}
}

func TestDispatcher_index(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	tp := oidc.StartTestProvider(t)
	sessions, err := session.NewManager(testSigningKey)
	require.NoError(err)
	f, err := NewFinalizer(testPublicURL, sessions, WithProviderCA(tp.CACert()))
	require.NoError(err)
	reg, err := scheme.NewRegistry(f)
	require.NoError(err)
	t.Cleanup(reg.Close)

	st := store.NewMemoryStore()
	live, err := st.Create(ctx, &store.Record{Authority: tp.Addr(), ClientID: "a", ClientSecret: "hidden-secret"})
	require.NoError(err)
	_, err = st.Create(ctx, &store.Record{Authority: "https://idp.example.com", ClientID: "b", ClientSecret: "hidden-secret"})
	require.NoError(err)
	d, err := live.Descriptor()
	require.NoError(err)
	require.NoError(reg.Register(ctx, d))

	disp, err := NewDispatcher(reg, sessions, WithLister(st))
	require.NoError(err)
	rec := httptest.NewRecorder()
	disp.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/account", nil))
	require.Equal(http.StatusOK, rec.Code)
	assert.NotContains(rec.Body.String(), "hidden-secret")

	var got []schemeResponse
	require.NoError(json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal([]schemeResponse{
		{ID: 1, Key: "oidc-1", Authority: tp.Addr(), CallbackPath: "/signin-oidc-1", Live: true},
		{ID: 2, Key: "oidc-2", Authority: "https://idp.example.com", CallbackPath: "/signin-oidc-2", Live: false},
	}, got)
}

func TestNewDispatcher(t *testing.T) {
	t.Parallel()
	sessions, err := session.NewManager(testSigningKey)
	require.NoError(t, err)
	reg, err := scheme.NewRegistry(scheme.FinalizerFunc(func(context.Context, *scheme.Descriptor) (scheme.Mechanism, error) {
		return nil, nil
	}))
	require.NoError(t, err)

	_, err = NewDispatcher(nil, sessions)
	assert.ErrorIs(t, err, ErrInvalidParameter)
	_, err = NewDispatcher(reg, nil)
	assert.ErrorIs(t, err, ErrInvalidParameter)
	d, err := NewDispatcher(reg, sessions)
	require.NoError(t, err)
	assert.NotNil(t, d)
}

func TestLocalPath(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"":                     "",
		"/":                    "/",
		"/a/b?c=d":             "/a/b?c=d",
		"//evil.example.com":   "",
		"/\\evil.example.com":  "",
		"https://evil.example": "",
		"relative":             "",
	}
	for in, want := range tests {
		assert.Equal(t, want, localPath(in), in)
	}
}
