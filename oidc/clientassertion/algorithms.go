// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package clientassertion

import "fmt"

// HSAlgorithm is an HMAC signature algorithm keyed with the client secret.
type HSAlgorithm string

// JOSE HMAC algorithms, RFC 7518 section 3.2.
const (
	HS256 HSAlgorithm = "HS256"
	HS384 HSAlgorithm = "HS384"
	HS512 HSAlgorithm = "HS512"
)

// Validate checks a is supported and secret is at least as long as its hash
// output:
//   - HS256: >= 32 bytes
//   - HS384: >= 48 bytes
//   - HS512: >= 64 bytes
func (a HSAlgorithm) Validate(secret string) error {
	const op = "HSAlgorithm.Validate"
	var want int
	switch a {
	case HS256:
		want = 32
	case HS384:
		want = 48
	case HS512:
		want = 64
	default:
		return fmt.Errorf("%s: %w %q", op, ErrUnsupportedAlgorithm, a)
	}
	if len(secret) < want {
		return fmt.Errorf("%s: %w: %s needs %d bytes, got %d", op, ErrInvalidSecretLength, a, want, len(secret))
	}
	return nil
}
