// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package clientassertion

import "time"

// Option configures a JWT.
type Option func(*JWT)

// WithClientSecret sets the secret and HMAC algorithm the assertion is signed
// with.
func WithClientSecret(secret string, alg HSAlgorithm) Option {
	return func(j *JWT) {
		j.secret = secret
		j.alg = alg
	}
}

// WithKeyID sets the "kid" header.
func WithKeyID(keyID string) Option {
	return func(j *JWT) {
		j.headers["kid"] = keyID
	}
}

// WithHeaders sets extra JWT headers.
func WithHeaders(h map[string]string) Option {
	return func(j *JWT) {
		for k, v := range h {
			j.headers[k] = v
		}
	}
}

// WithNow sets the clock used for iat, nbf and exp. A nil func is ignored.
func WithNow(now func() time.Time) Option {
	return func(j *JWT) {
		if now != nil {
			j.now = now
		}
	}
}
