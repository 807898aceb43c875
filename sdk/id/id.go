// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package id

import (
	"encoding/base64"
	"fmt"

	"github.com/hashicorp/go-uuid"
)

// randomLen is the number of random bytes behind every id. It encodes to 22
// url-safe characters.
const randomLen = 16

// New generates a random ID with an optional prefix. The result is url safe.
func New(optionalPrefix string) (string, error) {
	b, err := uuid.GenerateRandomBytes(randomLen)
	if err != nil {
		return "", fmt.Errorf("unable to generate id: %w", err)
	}
	id := base64.RawURLEncoding.EncodeToString(b)
	switch {
	case optionalPrefix != "":
		return fmt.Sprintf("%s_%s", optionalPrefix, id), nil
	default:
		return id, nil
	}
}
