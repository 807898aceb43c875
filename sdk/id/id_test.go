// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package id

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		prefix string
	}{
		{name: "state", prefix: "st"},
		{name: "correlation", prefix: "corr"},
		{name: "no-prefix"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			got, err := New(tt.prefix)
			require.NoError(err)

			random := got
			if tt.prefix != "" {
				require.True(strings.HasPrefix(got, tt.prefix+"_"), got)
				random = strings.TrimPrefix(got, tt.prefix+"_")
			}
			b, err := base64.RawURLEncoding.DecodeString(random)
			require.NoError(err)
			assert.Len(b, randomLen)

			again, err := New(tt.prefix)
			require.NoError(err)
			assert.NotEqual(got, again)
		})
	}
}
