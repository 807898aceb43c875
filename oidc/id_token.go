// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"encoding/json"
	"fmt"

	"github.com/go-jose/go-jose/v4"
)

// IDToken is an oidc id_token.
// See https://openid.net/specs/openid-connect-core-1_0.html#IDToken.
type IDToken string

// RedactedIDToken is the redacted string or json for an oidc id_token.
const RedactedIDToken = "[REDACTED: id_token]"

// String will redact the token.
func (t IDToken) String() string {
	return RedactedIDToken
}

// MarshalJSON will redact the token.
func (t IDToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedIDToken)
}

// Claims retrieves the IDToken claims into claims. It does not verify the
// token's signature; only call it on tokens returned by Provider.Exchange or
// checked with Provider.VerifyIDToken.
func (t IDToken) Claims(claims interface{}) error {
	const op = "IDToken.Claims"
	if len(t) == 0 {
		return fmt.Errorf("%s: id_token is empty: %w", op, ErrInvalidParameter)
	}
	if claims == nil {
		return fmt.Errorf("%s: claims interface is nil: %w", op, ErrNilParameter)
	}
	algs := make([]jose.SignatureAlgorithm, 0, len(supportedAlgorithms))
	for a := range supportedAlgorithms {
		algs = append(algs, jose.SignatureAlgorithm(a))
	}
	jws, err := jose.ParseSigned(string(t), algs)
	if err != nil {
		return fmt.Errorf("%s: unable to parse id_token: %w", op, err)
	}
	if err := json.Unmarshal(jws.UnsafePayloadWithoutVerification(), claims); err != nil {
		return fmt.Errorf("%s: unable to unmarshal claims: %w", op, err)
	}
	return nil
}
