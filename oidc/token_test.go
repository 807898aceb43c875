// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestNewToken(t *testing.T) {
	t.Parallel()
	expiry := time.Now().Add(time.Hour)
	testNow := func() time.Time { return time.Now().Add(-time.Minute) }
	oauth2Tk := &oauth2.Token{
		AccessToken:  "access",
		RefreshToken: "refresh",
		Expiry:       expiry,
	}
	tests := []struct {
		name        string
		idToken     IDToken
		oauth2Token *oauth2.Token
		opts        []Option
		wantValid   bool
		wantExpired bool
		wantErr     bool
	}{
		{
			name:        "valid",
			idToken:     "id",
			oauth2Token: oauth2Tk,
			opts:        []Option{WithNow(testNow)},
			wantValid:   true,
		},
		{
			name:        "nil-oauth2-token",
			idToken:     "id",
			wantExpired: true,
		},
		{
			name:        "expired",
			idToken:     "id",
			oauth2Token: &oauth2.Token{AccessToken: "access", Expiry: time.Now().Add(-time.Minute)},
			wantExpired: true,
		},
		{
			name:        "within-skew",
			idToken:     "id",
			oauth2Token: &oauth2.Token{AccessToken: "access", Expiry: time.Now().Add(TokenExpirySkew / 2)},
			wantExpired: true,
		},
		{
			name:        "no-expiry",
			idToken:     "id",
			oauth2Token: &oauth2.Token{AccessToken: "access"},
			wantValid:   true,
		},
		{
			name:        "empty-access-token",
			idToken:     "id",
			oauth2Token: &oauth2.Token{Expiry: expiry},
		},
		{
			name:    "empty-id-token",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			got, err := NewToken(tt.idToken, tt.oauth2Token, tt.opts...)
			if tt.wantErr {
				require.Error(err)
				assert.ErrorIs(err, ErrInvalidParameter)
				return
			}
			require.NoError(err)
			assert.Equal(tt.idToken, got.IDToken())
			assert.Equal(tt.wantValid, got.Valid())
			assert.Equal(tt.wantExpired, got.IsExpired())
			if tt.oauth2Token != nil {
				assert.Equal(AccessToken(tt.oauth2Token.AccessToken), got.AccessToken())
				assert.Equal(RefreshToken(tt.oauth2Token.RefreshToken), got.RefreshToken())
				assert.Equal(tt.oauth2Token.Expiry, got.Expiry())
			} else {
				assert.Empty(got.AccessToken())
				assert.Empty(got.RefreshToken())
				assert.True(got.Expiry().IsZero())
			}
		})
	}
}

func TestTokens_redacted(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		v    interface {
			fmt.Stringer
			json.Marshaler
		}
		want string
	}{
		{name: "access_token", v: AccessToken("secret"), want: RedactedAccessToken},
		{name: "refresh_token", v: RefreshToken("secret"), want: RedactedRefreshToken},
		{name: "id_token", v: IDToken("secret"), want: RedactedIDToken},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			assert.Equal(tt.want, tt.v.String())
			got, err := tt.v.MarshalJSON()
			require.NoError(err)
			assert.Equal(fmt.Sprintf("%q", tt.want), string(got))
		})
	}
}
