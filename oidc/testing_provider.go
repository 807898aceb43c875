// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"bytes"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/hashicorp/oidc-schemes/oidc/clientassertion"
	"github.com/hashicorp/oidc-schemes/oidc/internal/strutils"
	"github.com/stretchr/testify/require"
)

// TestProvider is a local server that supports test provider capabilities
// which make writing tests much easier. It serves discovery, a JWKS, an
// authorization endpoint (which always answers with a redirect carrying the
// code and state as query parameters, whatever response_mode was requested),
// a token endpoint that enforces client credentials and PKCE, and userinfo.
//
// Most of this is from Consul's oauthtest package with a few changes so it
// could become part of this package's public testing API. A big thanks to
// the original contributors to Consul's oauthtest package.
type TestProvider struct {
	httpServer *httptest.Server
	caCert     string
	client     *http.Client

	jwks          *jose.JSONWebKeySet
	replyUserinfo map[string]interface{}

	mu                  sync.Mutex
	allowedRedirectURIs []string
	replySubject        string
	replyExpiry         time.Duration
	clientID            string
	clientSecret        string
	expectedAuthCode    string
	expectedAuthNonce   string
	authNonce           string
	authChallenge       string
	customClaims        map[string]interface{}
	customAudience      string
	omitIDToken         bool
	disableUserInfo     bool
	disableDiscovery    bool
	discoveryDelay      time.Duration
	discoveryCount      int
	tokenCount          int
	tokenAuthMethod     ClientAuthMethod

	ecdsaPublicKey  string
	ecdsaPrivateKey string

	t *testing.T
}

// StartTestProvider creates and starts a running TestProvider http server.
// The provider is stopped when the test completes.
//
// Supported options:
//   - WithTestPort
//   - WithNoTLS
func StartTestProvider(t *testing.T, opt ...TestOption) *TestProvider {
	t.Helper()
	require := require.New(t)
	opts := getTestProviderOpts(opt...)

	p := &TestProvider{
		t: t,
		allowedRedirectURIs: []string{
			"https://example.com",
		},
		replySubject: "alice@example.com",
		replyExpiry:  time.Minute,
		replyUserinfo: map[string]interface{}{
			"color":       "red",
			"temperature": "76",
			"flavor":      "umami",
		},
	}
	p.ecdsaPublicKey, p.ecdsaPrivateKey = TestGenerateKeys(t)
	p.jwks = testJWKS(t, p.ecdsaPublicKey)

	p.httpServer = httptestNewUnstartedServerWithPort(t, p, opts.withPort)
	p.httpServer.Config.ErrorLog = log.New(io.Discard, "", 0)
	t.Cleanup(p.httpServer.Close)

	noRedirects := func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	if opts.withNoTLS {
		p.httpServer.Start()
		p.client = &http.Client{CheckRedirect: noRedirects}
		return p
	}

	p.httpServer.StartTLS()
	cert := p.httpServer.Certificate()

	var buf bytes.Buffer
	err := pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
	require.NoError(err)
	p.caCert = buf.String()

	certPool := x509.NewCertPool()
	require.True(certPool.AppendCertsFromPEM([]byte(p.caCert)))
	p.client = &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				RootCAs:    certPool,
				MinVersion: tls.VersionTLS12,
			},
		},
		CheckRedirect: noRedirects,
	}
	return p
}

// Stop stops the running TestProvider.
func (p *TestProvider) Stop() {
	p.httpServer.Close()
}

// SetClientCreds is for configuring the client information required for the
// OIDC workflows.
func (p *TestProvider) SetClientCreds(clientID, clientSecret string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientID = clientID
	p.clientSecret = clientSecret
}

// ClientCreds returns the relying party client information required for the
// OIDC workflows.
func (p *TestProvider) ClientCreds() (clientID, clientSecret string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clientID, p.clientSecret
}

// SetExpectedAuthCode configures the auth code to return from /authorize and
// the allowed auth code for /token.
func (p *TestProvider) SetExpectedAuthCode(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedAuthCode = code
}

// SetExpectedAuthNonce overrides the nonce placed in issued id_tokens. When
// empty, the nonce sent to /authorize is used.
func (p *TestProvider) SetExpectedAuthNonce(nonce string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedAuthNonce = nonce
}

// SetAllowedRedirectURIs allows you to configure the allowed redirect URIs for
// the OIDC workflow. If not configured a sample of "https://example.com" is
// used.
func (p *TestProvider) SetAllowedRedirectURIs(uris []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allowedRedirectURIs = uris
}

// SetExpectedSubject is for configuring the expected subject for
// OIDC workflows.
func (p *TestProvider) SetExpectedSubject(sub string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replySubject = sub
}

// SetCustomClaims lets you set claims to return in the JWT issued by the OIDC
// workflow.
func (p *TestProvider) SetCustomClaims(customClaims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customClaims = customClaims
}

// SetCustomAudience configures what audience value to embed in the JWT issued
// by the OIDC workflow.
func (p *TestProvider) SetCustomAudience(customAudience string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customAudience = customAudience
}

// SetOmitIDTokens forces an error state where the /token endpoint does not
// return id_token.
func (p *TestProvider) SetOmitIDTokens(omit bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitIDToken = omit
}

// SetDisableUserInfo makes the userinfo endpoint return 404 and omits it from
// the discovery config.
func (p *TestProvider) SetDisableUserInfo(disable bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableUserInfo = disable
}

// SetDisableDiscovery makes the discovery endpoint return 500.
func (p *TestProvider) SetDisableDiscovery(disable bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableDiscovery = disable
}

// SetDiscoveryDelay delays every discovery response by d.
func (p *TestProvider) SetDiscoveryDelay(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.discoveryDelay = d
}

// DiscoveryCount returns the number of discovery requests served.
func (p *TestProvider) DiscoveryCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.discoveryCount
}

// TokenCount returns the number of successful token responses served.
func (p *TestProvider) TokenCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tokenCount
}

// Addr returns the current base URL for the test provider's running webserver,
// which can be used as an OIDC issuer for discovery.
func (p *TestProvider) Addr() string { return p.httpServer.URL }

// CACert returns the pem-encoded CA certificate used by the test provider's
// HTTPS server. It's empty when the provider was started WithNoTLS.
func (p *TestProvider) CACert() string { return p.caCert }

// HTTPClient returns an http.Client for the test provider. The returned client
// trusts the provider's CA and doesn't follow redirects.
func (p *TestProvider) HTTPClient() *http.Client { return p.client }

// SigningKeys returns the test provider's pem-encoded keys used to sign JWTs,
// and the signing algorithm.
func (p *TestProvider) SigningKeys() (pub, priv string, alg Alg) {
	return p.ecdsaPublicKey, p.ecdsaPrivateKey, ES256
}

// ServeHTTP implements the test provider's http.Handler.
func (p *TestProvider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	p.t.Helper()

	if req.URL.Path == "/.well-known/openid-configuration" {
		p.mu.Lock()
		delay := p.discoveryDelay
		p.mu.Unlock()
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-req.Context().Done():
				return
			}
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")

	switch req.URL.Path {
	case "/.well-known/openid-configuration":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p.discoveryCount++
		if p.disableDiscovery {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		reply := struct {
			Issuer                 string   `json:"issuer"`
			AuthEndpoint           string   `json:"authorization_endpoint"`
			TokenEndpoint          string   `json:"token_endpoint"`
			JWKSURI                string   `json:"jwks_uri"`
			UserinfoEndpoint       string   `json:"userinfo_endpoint,omitempty"`
			SigningAlgs            []string `json:"id_token_signing_alg_values_supported"`
			ResponseTypes          []string `json:"response_types_supported"`
			ResponseModes          []string `json:"response_modes_supported"`
			CodeChallengeMethods   []string `json:"code_challenge_methods_supported"`
			TokenEndpointAuthMeths []string `json:"token_endpoint_auth_methods_supported"`
		}{
			Issuer:                 p.Addr(),
			AuthEndpoint:           p.Addr() + "/authorize",
			TokenEndpoint:          p.Addr() + "/token",
			JWKSURI:                p.Addr() + "/.well-known/jwks.json",
			UserinfoEndpoint:       p.Addr() + "/userinfo",
			SigningAlgs:            []string{string(ES256)},
			ResponseTypes:          []string{"code"},
			ResponseModes:          []string{string(QueryResponseMode), string(FormPostResponseMode)},
			CodeChallengeMethods:   []string{"S256"},
			TokenEndpointAuthMeths: []string{"client_secret_basic", "client_secret_post", string(ClientSecretJWT)},
		}
		if p.disableUserInfo {
			reply.UserinfoEndpoint = ""
		}
		_ = p.writeJSON(w, &reply)

	case "/authorize":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		qv := req.URL.Query()

		switch {
		case qv.Get("redirect_uri") == "":
			p.writeAuthErrorResponse(w, req, "invalid_request", "missing redirect_uri parameter")
			return
		case !strutils.StrListContains(p.allowedRedirectURIs, qv.Get("redirect_uri")):
			p.writeAuthErrorResponse(w, req, "invalid_request", "redirect_uri is not allowed")
			return
		case p.clientID != "" && qv.Get("client_id") != p.clientID:
			p.writeAuthErrorResponse(w, req, "unauthorized_client", "")
			return
		case qv.Get("response_type") != "code":
			p.writeAuthErrorResponse(w, req, "unsupported_response_type", "")
			return
		case !strutils.StrListContains(strings.Fields(qv.Get("scope")), "openid"):
			p.writeAuthErrorResponse(w, req, "invalid_scope", "")
			return
		case qv.Get("state") == "":
			p.writeAuthErrorResponse(w, req, "invalid_request", "missing state parameter")
			return
		case p.expectedAuthCode == "":
			p.writeAuthErrorResponse(w, req, "access_denied", "")
			return
		}
		if m := qv.Get("code_challenge_method"); qv.Get("code_challenge") != "" && m != "S256" {
			p.writeAuthErrorResponse(w, req, "invalid_request", "unsupported code_challenge_method")
			return
		}
		p.authNonce = qv.Get("nonce")
		p.authChallenge = qv.Get("code_challenge")

		redirectURI := qv.Get("redirect_uri") +
			"?state=" + url.QueryEscape(qv.Get("state")) +
			"&code=" + url.QueryEscape(p.expectedAuthCode)
		http.Redirect(w, req, redirectURI, http.StatusFound)

	case "/.well-known/jwks.json":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		_ = p.writeJSON(w, p.jwks)

	case "/token":
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := req.ParseForm(); err != nil {
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "unable to parse form")
			return
		}
		if !p.authenticateClient(req) {
			_ = p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_client", "unknown client or bad credentials")
			return
		}

		switch {
		case req.PostForm.Get("grant_type") != "authorization_code":
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "bad grant_type")
			return
		case !strutils.StrListContains(p.allowedRedirectURIs, req.PostForm.Get("redirect_uri")):
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "redirect_uri is not allowed")
			return
		case p.expectedAuthCode == "" || req.PostForm.Get("code") != p.expectedAuthCode:
			_ = p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_grant", "unexpected auth code")
			return
		case p.authChallenge != "" && s256(req.PostForm.Get("code_verifier")) != p.authChallenge:
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "PKCE verification failed")
			return
		}

		now := time.Now()
		stdClaims := jwt.Claims{
			Subject:   p.replySubject,
			Issuer:    p.Addr(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now.Add(-5 * time.Second)),
			Expiry:    jwt.NewNumericDate(now.Add(p.replyExpiry)),
			Audience:  jwt.Audience{p.clientID},
		}
		if p.customAudience != "" {
			stdClaims.Audience = jwt.Audience{p.customAudience}
		}
		privateClaims := map[string]interface{}{
			"nonce": p.authNonce,
		}
		if p.expectedAuthNonce != "" {
			privateClaims["nonce"] = p.expectedAuthNonce
		}
		for k, v := range p.customClaims {
			privateClaims[k] = v
		}
		jwtData := TestSignJWT(p.t, p.ecdsaPrivateKey, stdClaims, privateClaims)

		reply := struct {
			AccessToken  string `json:"access_token"`
			IDToken      string `json:"id_token,omitempty"`
			RefreshToken string `json:"refresh_token"`
			TokenType    string `json:"token_type"`
			ExpiresIn    int    `json:"expires_in"`
		}{
			AccessToken:  jwtData,
			IDToken:      jwtData,
			RefreshToken: "refresh-" + strconv.FormatInt(now.UnixNano(), 36),
			TokenType:    "Bearer",
			ExpiresIn:    int(p.replyExpiry.Seconds()),
		}
		if p.omitIDToken {
			reply.IDToken = ""
		}
		p.tokenCount++
		p.authChallenge = ""
		_ = p.writeJSON(w, &reply)

	case "/userinfo":
		if p.disableUserInfo {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !strings.HasPrefix(req.Header.Get("Authorization"), "Bearer ") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		reply := map[string]interface{}{"sub": p.replySubject}
		for k, v := range p.replyUserinfo {
			reply[k] = v
		}
		_ = p.writeJSON(w, reply)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// authenticateClient accepts client_secret_basic, client_secret_post and
// client_secret_jwt. p.mu must be held.
func (p *TestProvider) authenticateClient(req *http.Request) bool {
	if req.PostForm.Get("client_assertion_type") == clientassertion.JWTTypeParam {
		p.tokenAuthMethod = ClientSecretJWT
		tok, err := jwt.ParseSigned(req.PostForm.Get("client_assertion"), []jose.SignatureAlgorithm{jose.HS256, jose.HS384, jose.HS512})
		if err != nil {
			return false
		}
		var claims jwt.Claims
		if err := tok.Claims([]byte(p.clientSecret), &claims); err != nil {
			return false
		}
		err = claims.ValidateWithLeeway(jwt.Expected{
			Issuer:      p.clientID,
			Subject:     p.clientID,
			AnyAudience: jwt.Audience{p.Addr() + "/token"},
			Time:        time.Now(),
		}, time.Minute)
		if id := req.PostForm.Get("client_id"); id != "" && id != p.clientID {
			return false
		}
		return err == nil && claims.ID != "" && req.PostForm.Get("client_secret") == ""
	}

	p.tokenAuthMethod = ClientSecretBasic
	clientID, clientSecret, ok := req.BasicAuth()
	if ok {
		clientID, _ = url.QueryUnescape(clientID)
		clientSecret, _ = url.QueryUnescape(clientSecret)
	} else {
		clientID, clientSecret = req.PostForm.Get("client_id"), req.PostForm.Get("client_secret")
	}
	return clientID == p.clientID && clientSecret == p.clientSecret
}

// TokenAuthMethod returns how the client authenticated in the last token
// request.
func (p *TestProvider) TokenAuthMethod() ClientAuthMethod {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tokenAuthMethod
}

func (p *TestProvider) writeJSON(w http.ResponseWriter, out interface{}) error {
	enc := json.NewEncoder(w)
	return enc.Encode(out)
}

func (p *TestProvider) writeAuthErrorResponse(w http.ResponseWriter, req *http.Request, errorCode, errorMessage string) {
	qv := req.URL.Query()
	if qv.Get("redirect_uri") == "" || !strutils.StrListContains(p.allowedRedirectURIs, qv.Get("redirect_uri")) {
		// never redirect to an unknown location
		_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, errorCode, errorMessage)
		return
	}

	redirectURI := qv.Get("redirect_uri") +
		"?state=" + url.QueryEscape(qv.Get("state")) +
		"&error=" + url.QueryEscape(errorCode)

	if errorMessage != "" {
		redirectURI += "&error_description=" + url.QueryEscape(errorMessage)
	}

	http.Redirect(w, req, redirectURI, http.StatusFound)
}

func (p *TestProvider) writeTokenErrorResponse(w http.ResponseWriter, statusCode int, errorCode, errorMessage string) error {
	body := struct {
		Code string `json:"error"`
		Desc string `json:"error_description,omitempty"`
	}{
		Code: errorCode,
		Desc: errorMessage,
	}

	w.WriteHeader(statusCode)
	return p.writeJSON(w, &body)
}

// s256 returns the PKCE S256 challenge for verifier.
func s256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// testJWKS converts a pem-encoded public key into JWKS data suitable for a
// verification endpoint response
func testJWKS(t *testing.T, pubKey string) *jose.JSONWebKeySet {
	t.Helper()
	require := require.New(t)

	block, _ := pem.Decode([]byte(pubKey))
	require.NotNil(block)

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	require.NoError(err)

	return &jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{
			{
				Key:       pub,
				Algorithm: string(ES256),
				Use:       "sig",
			},
		},
	}
}

// httptestNewUnstartedServerWithPort is roughly the same as
// httptest.NewUnstartedServer() but allows the caller to explicitly choose the
// port if desired. A zero port picks a free one.
func httptestNewUnstartedServerWithPort(t *testing.T, handler http.Handler, port int) *httptest.Server {
	t.Helper()
	require := require.New(t)

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	l, err := net.Listen("tcp", addr)
	require.NoError(err)

	return &httptest.Server{
		Listener: l,
		Config:   &http.Server{Handler: handler, ReadHeaderTimeout: 5 * time.Second},
	}
}

// TestOption defines a common functional options type which can be used in a
// variadic parameter pattern.
type TestOption func(interface{})

// testProviderOptions is the set of available options for TestProvider
// functions
type testProviderOptions struct {
	withPort  int
	withNoTLS bool
}

// testProviderDefaults is a handy way to get the defaults at runtime and during unit
// tests.
func testProviderDefaults() testProviderOptions {
	return testProviderOptions{}
}

// getTestProviderOpts gets the test provider defaults and applies the opt
// overrides passed in
func getTestProviderOpts(opt ...TestOption) testProviderOptions {
	opts := testProviderDefaults()
	for _, o := range opt {
		if o != nil {
			o(&opts)
		}
	}
	return opts
}

// WithTestPort provides an optional port for the test provider.
func WithTestPort(port int) TestOption {
	return func(o interface{}) {
		if o, ok := o.(*testProviderOptions); ok {
			o.withPort = port
		}
	}
}

// WithNoTLS starts the test provider over plain http.
func WithNoTLS() TestOption {
	return func(o interface{}) {
		if o, ok := o.(*testProviderOptions); ok {
			o.withNoTLS = true
		}
	}
}
