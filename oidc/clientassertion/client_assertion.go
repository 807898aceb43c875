// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package clientassertion signs the JWTs a relying party sends as
// client_assertion when it authenticates to a token endpoint with
// client_secret_jwt (RFC 7523, OpenID Connect Core section 9).
package clientassertion

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/hashicorp/go-uuid"
)

// JWTTypeParam is the client_assertion_type value for a JWT assertion.
const JWTTypeParam = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

// DefaultLifetime is how long a signed assertion is accepted.
const DefaultLifetime = 5 * time.Minute

// JWT builds client assertions for one client and token endpoint. Every
// Serialize call signs a fresh assertion with a new jti.
type JWT struct {
	clientID string
	audience []string
	headers  map[string]string

	alg    HSAlgorithm
	secret string

	genID func() (string, error)
	now   func() time.Time
}

// NewJWT returns a JWT for clientID whose audience is the token endpoint (or
// issuer) the assertion is sent to.
//
// Supported options:
//   - WithClientSecret (required)
//   - WithKeyID
//   - WithHeaders
//   - WithNow
func NewJWT(clientID string, audience []string, opt ...Option) (*JWT, error) {
	const op = "clientassertion.NewJWT"
	j := &JWT{
		clientID: clientID,
		audience: audience,
		headers:  map[string]string{},
		genID:    uuid.GenerateUUID,
		now:      time.Now,
	}
	for _, o := range opt {
		o(j)
	}
	if err := j.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return j, nil
}

// Serialize signs and returns a new client assertion.
func (j *JWT) Serialize() (string, error) {
	const op = "JWT.Serialize"
	if err := j.validate(); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	opts := (&jose.SignerOptions{}).WithType("JWT")
	for k, v := range j.headers {
		opts = opts.WithHeader(jose.HeaderKey(k), v)
	}
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.SignatureAlgorithm(j.alg), Key: []byte(j.secret)}, opts)
	if err != nil {
		return "", fmt.Errorf("%s: %w: %w", op, ErrCreatingSigner, err)
	}
	id, err := j.genID()
	if err != nil {
		return "", fmt.Errorf("%s: unable to generate jti: %w", op, err)
	}
	now := j.now().UTC()
	raw, err := jwt.Signed(signer).Claims(jwt.Claims{
		Issuer:    j.clientID,
		Subject:   j.clientID,
		Audience:  j.audience,
		Expiry:    jwt.NewNumericDate(now.Add(DefaultLifetime)),
		NotBefore: jwt.NewNumericDate(now.Add(-1 * time.Second)),
		IssuedAt:  jwt.NewNumericDate(now),
		ID:        id,
	}).Serialize()
	if err != nil {
		return "", fmt.Errorf("%s: unable to serialize assertion: %w", op, err)
	}
	return raw, nil
}

// validate reports every problem at once, joined.
func (j *JWT) validate() error {
	var errs []error
	if j.genID == nil {
		errs = append(errs, ErrMissingFuncIDGenerator)
	}
	if j.now == nil {
		errs = append(errs, ErrMissingFuncNow)
	}
	if j.clientID == "" {
		errs = append(errs, ErrMissingClientID)
	}
	if len(j.audience) == 0 {
		errs = append(errs, ErrMissingAudience)
	}
	if j.alg == "" {
		errs = append(errs, ErrMissingAlgorithm)
	} else if err := j.alg.Validate(j.secret); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
