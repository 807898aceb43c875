// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/hashicorp/oidc-schemes/oidc/clientassertion"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig(t *testing.T) {
	t.Parallel()
	_, testCaPEM := TestGenerateCA(t, []string{"localhost"})
	testNow := func() time.Time { return time.Now().Add(-time.Minute) }

	const (
		issuer     = "https://login.example.com/tenant"
		clientID   = "test-client"
		secret     = ClientSecret("test-secret")
		longSecret = ClientSecret("test-secret-test-secret-test-secret")
		redirect   = "https://app.example.com/signin-oidc-1"
	)

	type args struct {
		issuer      string
		clientID    string
		secret      ClientSecret
		redirectURL string
		opt         []Option
	}
	tests := []struct {
		name      string
		args      args
		want      *Config
		wantErr   bool
		wantIsErr error
	}{
		{
			name: "valid-with-all-options",
			args: args{
				issuer:      issuer,
				clientID:    clientID,
				secret:      secret,
				redirectURL: redirect,
				opt: []Option{
					WithScopes("openid", "profile", "email", "profile"),
					WithAudiences("aud1", "aud2", "aud1"),
					WithProviderCA(testCaPEM),
					WithResponseMode(FormPostResponseMode),
					WithPKCE(),
					WithSupportedSigningAlgs(ES256, RS256),
					WithHTTPTimeout(5 * time.Second),
					WithNow(testNow),
				},
			},
			want: &Config{
				Issuer:               issuer,
				ClientID:             clientID,
				ClientSecret:         secret,
				RedirectURL:          redirect,
				Scopes:               []string{"profile", "email"},
				Audiences:            []string{"aud1", "aud2"},
				ProviderCA:           testCaPEM,
				ResponseMode:         FormPostResponseMode,
				UsePKCE:              true,
				SupportedSigningAlgs: []Alg{ES256, RS256},
				HTTPTimeout:          5 * time.Second,
			},
		},
		{
			name: "valid-defaults",
			args: args{issuer: issuer, clientID: clientID, secret: secret, redirectURL: redirect},
			want: &Config{
				Issuer:       issuer,
				ClientID:     clientID,
				ClientSecret: secret,
				RedirectURL:  redirect,
				HTTPTimeout:  DefaultHTTPTimeout,
			},
		},
		{
			name: "http-issuer-allowed",
			args: args{issuer: "http://127.0.0.1:8200", clientID: clientID, secret: secret, redirectURL: redirect, opt: []Option{WithAllowHTTPIssuer()}},
			want: &Config{
				Issuer:          "http://127.0.0.1:8200",
				ClientID:        clientID,
				ClientSecret:    secret,
				RedirectURL:     redirect,
				AllowHTTPIssuer: true,
				HTTPTimeout:     DefaultHTTPTimeout,
			},
		},
		{
			name:      "http-issuer-not-allowed",
			args:      args{issuer: "http://127.0.0.1:8200", clientID: clientID, secret: secret, redirectURL: redirect},
			wantErr:   true,
			wantIsErr: ErrInvalidIssuer,
		},
		{
			name:      "issuer-with-query",
			args:      args{issuer: issuer + "?x=1", clientID: clientID, secret: secret, redirectURL: redirect},
			wantErr:   true,
			wantIsErr: ErrInvalidIssuer,
		},
		{
			name:      "issuer-no-host",
			args:      args{issuer: "https:///path", clientID: clientID, secret: secret, redirectURL: redirect},
			wantErr:   true,
			wantIsErr: ErrInvalidIssuer,
		},
		{
			name:      "empty-issuer",
			args:      args{clientID: clientID, secret: secret, redirectURL: redirect},
			wantErr:   true,
			wantIsErr: ErrInvalidParameter,
		},
		{
			name:      "empty-client-id",
			args:      args{issuer: issuer, secret: secret, redirectURL: redirect},
			wantErr:   true,
			wantIsErr: ErrInvalidParameter,
		},
		{
			name:      "empty-client-secret",
			args:      args{issuer: issuer, clientID: clientID, redirectURL: redirect},
			wantErr:   true,
			wantIsErr: ErrInvalidParameter,
		},
		{
			name: "client-secret-jwt",
			args: args{issuer: issuer, clientID: clientID, secret: longSecret, redirectURL: redirect, opt: []Option{WithClientSecretJWT(clientassertion.HS256)}},
			want: &Config{
				Issuer:             issuer,
				ClientID:           clientID,
				ClientSecret:       longSecret,
				RedirectURL:        redirect,
				HTTPTimeout:        DefaultHTTPTimeout,
				ClientAuthMethod:   ClientSecretJWT,
				ClientAssertionAlg: clientassertion.HS256,
			},
		},
		{
			name:      "client-secret-jwt-short-secret",
			args:      args{issuer: issuer, clientID: clientID, secret: secret, redirectURL: redirect, opt: []Option{WithClientSecretJWT(clientassertion.HS256)}},
			wantErr:   true,
			wantIsErr: ErrInvalidParameter,
		},
		{
			name:      "client-secret-jwt-bad-alg",
			args:      args{issuer: issuer, clientID: clientID, secret: longSecret, redirectURL: redirect, opt: []Option{WithClientSecretJWT("RS256")}},
			wantErr:   true,
			wantIsErr: ErrInvalidParameter,
		},
		{
			name:      "relative-redirect",
			args:      args{issuer: issuer, clientID: clientID, secret: secret, redirectURL: "/signin-oidc-1"},
			wantErr:   true,
			wantIsErr: ErrInvalidParameter,
		},
		{
			name:      "bad-response-mode",
			args:      args{issuer: issuer, clientID: clientID, secret: secret, redirectURL: redirect, opt: []Option{WithResponseMode("fragment")}},
			wantErr:   true,
			wantIsErr: ErrInvalidParameter,
		},
		{
			name:      "bad-alg",
			args:      args{issuer: issuer, clientID: clientID, secret: secret, redirectURL: redirect, opt: []Option{WithSupportedSigningAlgs("HS256")}},
			wantErr:   true,
			wantIsErr: ErrInvalidParameter,
		},
		{
			name:      "bad-ca",
			args:      args{issuer: issuer, clientID: clientID, secret: secret, redirectURL: redirect, opt: []Option{WithProviderCA("not a pem")}},
			wantErr:   true,
			wantIsErr: ErrInvalidCACert,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			got, err := NewConfig(tt.args.issuer, tt.args.clientID, tt.args.secret, tt.args.redirectURL, tt.args.opt...)
			if tt.wantErr {
				require.Error(err)
				assert.Truef(errors.Is(err, tt.wantIsErr), "wanted \"%s\" but got \"%s\"", tt.wantIsErr, err)
				return
			}
			require.NoError(err)
			// funcs can't be compared, so check and clear
			got.NowFunc = nil
			assert.Equal(tt.want, got)
		})
	}
}

func TestConfig_Validate_nil(t *testing.T) {
	t.Parallel()
	var c *Config
	err := c.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNilParameter)
}

func TestConfig_Now(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	fixed := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	c := &Config{NowFunc: func() time.Time { return fixed }}
	assert.Equal(fixed, c.Now())

	c = &Config{}
	assert.WithinDuration(time.Now(), c.Now(), time.Second)
}

func TestConfig_HTTPClient(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	_, testCaPEM := TestGenerateCA(t, []string{"localhost"})

	c := &Config{ProviderCA: testCaPEM, HTTPTimeout: 3 * time.Second}
	client, err := c.HTTPClient()
	require.NoError(err)
	assert.Equal(3*time.Second, client.Timeout)

	ctx := HTTPClientContext(context.Background(), client)
	assert.NotNil(ctx)

	c = &Config{ProviderCA: "bad"}
	_, err = c.HTTPClient()
	require.Error(err)
	assert.ErrorIs(err, ErrInvalidCACert)
}

func TestClientSecret_redacted(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	s := ClientSecret("super secret")
	assert.Equal(RedactedClientSecret, s.String())
	assert.Equal(RedactedClientSecret, fmt.Sprintf("%s", s))

	got, err := json.Marshal(struct{ S ClientSecret }{S: s})
	require.NoError(err)
	assert.JSONEq(fmt.Sprintf(`{"S":%q}`, RedactedClientSecret), string(got))
}
