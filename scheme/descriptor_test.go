// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package scheme

import (
	"net/http"
	"testing"

	"github.com/hashicorp/oidc-schemes/oidc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDescriptor(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		id        int64
		authority string
		clientID  string
		secret    oidc.ClientSecret
		wantErr   bool
	}{
		{name: "valid", id: 1, authority: "https://idp.example/", clientID: "abc", secret: "s3cret"},
		{name: "valid-http", id: 2, authority: "http://localhost:8080/realms/test", clientID: "abc", secret: "s3cret"},
		{name: "empty-authority", id: 1, clientID: "abc", secret: "s3cret", wantErr: true},
		{name: "relative-authority", id: 1, authority: "idp.example", clientID: "abc", secret: "s3cret", wantErr: true},
		{name: "bad-scheme", id: 1, authority: "ftp://idp.example", clientID: "abc", secret: "s3cret", wantErr: true},
		{name: "no-host", id: 1, authority: "https:///tenant", clientID: "abc", secret: "s3cret", wantErr: true},
		{name: "unparsable", id: 1, authority: "https://idp example/%zz", clientID: "abc", secret: "s3cret", wantErr: true},
		{name: "query", id: 1, authority: "https://idp.example/?x=1", clientID: "abc", secret: "s3cret", wantErr: true},
		{name: "empty-client-id", id: 1, authority: "https://idp.example/", secret: "s3cret", wantErr: true},
		{name: "empty-secret", id: 1, authority: "https://idp.example/", clientID: "abc", wantErr: true},
		{name: "zero-id", id: 0, authority: "https://idp.example/", clientID: "abc", secret: "s3cret", wantErr: true},
		{name: "negative-id", id: -1, authority: "https://idp.example/", clientID: "abc", secret: "s3cret", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			got, err := NewDescriptor(tt.id, tt.authority, tt.clientID, tt.secret)
			if tt.wantErr {
				require.Error(err)
				assert.ErrorIs(err, ErrInvalidConfiguration)
				assert.Nil(got)
				return
			}
			require.NoError(err)
			assert.Equal(KeyFor(tt.id), got.Key)
			assert.Equal(KeyFor(tt.id).CallbackPath(), got.CallbackPath)
			assert.Equal(tt.authority, got.Authority)
			assert.Equal(tt.clientID, got.ClientID)
			assert.Equal(tt.secret, got.ClientSecret)

			again, err := NewDescriptor(tt.id, tt.authority, tt.clientID, tt.secret)
			require.NoError(err)
			assert.Equal(got, again, "not deterministic")
		})
	}
}

func TestNewDescriptor_uniformPolicy(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	a, err := NewDescriptor(1, "https://a.example/", "client-a", "secret-a")
	require.NoError(err)
	b, err := NewDescriptor(2, "http://b.example/tenant", "client-b", "secret-b")
	require.NoError(err)

	assert.True(a.UsePKCE)
	assert.Equal(ResponseTypeCode, a.ResponseType)
	assert.Equal(oidc.FormPostResponseMode, a.ResponseMode)
	assert.True(a.SaveTokens)
	assert.False(a.RequireHTTPSMetadata)
	assert.Equal(http.SameSiteDefaultMode, a.NonceCookieSameSite)
	assert.Equal(http.SameSiteDefaultMode, a.CorrelationCookieSameSite)
	assert.Equal([]string{"openid", "profile"}, a.Scopes)

	// everything but the record derived fields is identical
	for _, d := range []*Descriptor{a, b} {
		d.ID, d.Key, d.CallbackPath = 0, "", ""
		d.Authority, d.ClientID, d.ClientSecret = "", "", ""
	}
	assert.Equal(a, b)
}

func TestDescriptor_Validate(t *testing.T) {
	t.Parallel()
	valid := func() *Descriptor {
		d, err := NewDescriptor(3, "https://idp.example/", "abc", "s3cret")
		require.NoError(t, err)
		return d
	}
	tests := []struct {
		name   string
		mutate func(d *Descriptor) *Descriptor
	}{
		{name: "nil", mutate: func(*Descriptor) *Descriptor { return nil }},
		{name: "key-mismatch", mutate: func(d *Descriptor) *Descriptor { d.Key = KeyFor(4); return d }},
		{name: "path-mismatch", mutate: func(d *Descriptor) *Descriptor { d.CallbackPath = "/signin-oidc-4"; return d }},
		{name: "https-required", mutate: func(d *Descriptor) *Descriptor {
			d.Authority, d.RequireHTTPSMetadata = "http://idp.example/", true
			return d
		}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			err := tt.mutate(valid()).Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfiguration)
		})
	}
	assert.NoError(t, valid().Validate())
}

func TestDescriptor_Clone(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	d, err := NewDescriptor(1, "https://idp.example/", "abc", "s3cret")
	require.NoError(err)
	c := d.Clone()
	assert.Equal(d, c)
	c.Scopes[0] = "changed"
	assert.Equal("openid", d.Scopes[0])

	var nilDescriptor *Descriptor
	assert.Nil(nilDescriptor.Clone())
}
