// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package strutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStrListContains(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	redirects := []string{
		"https://app.example.com/signin-oidc-1",
		"https://app.example.com/signin-oidc-2",
	}
	assert.True(StrListContains(redirects, "https://app.example.com/signin-oidc-2"))
	assert.False(StrListContains(redirects, "https://app.example.com/signin-oidc-3"))
	assert.False(StrListContains(nil, ""))
}

func TestRemoveDuplicatesStable(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name            string
		scopes          []string
		caseInsensitive bool
		want            []string
	}{
		{name: "empty", scopes: []string{}, want: []string{}},
		{name: "keeps-order", scopes: []string{"openid", "profile", "openid"}, want: []string{"openid", "profile"}},
		{name: "case-sensitive", scopes: []string{"Email", "profile", "email"}, want: []string{"Email", "profile", "email"}},
		{name: "case-insensitive", scopes: []string{"Email", "profile", "email"}, caseInsensitive: true, want: []string{"Email", "profile"}},
		{name: "drops-blank", scopes: []string{" ", "openid", "", "openid"}, want: []string{"openid"}},
		{name: "trims-for-compare", scopes: []string{"openid ", " openid", "email"}, want: []string{"openid ", "email"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, RemoveDuplicatesStable(tt.scopes, tt.caseInsensitive))
		})
	}
}
