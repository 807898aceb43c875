// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"errors"
)

var (
	ErrInvalidParameter          = errors.New("invalid parameter")
	ErrNilParameter              = errors.New("nil parameter")
	ErrInvalidCACert             = errors.New("invalid CA certificate")
	ErrInvalidIssuer             = errors.New("invalid issuer")
	ErrIdGeneratorFailed         = errors.New("id generation failed")
	ErrExpiredState              = errors.New("state is expired")
	ErrResponseStateInvalid      = errors.New("oidc response state")
	ErrMissingIDToken            = errors.New("id_token is missing")
	ErrIDTokenVerificationFailed = errors.New("id_token verification failed")
	ErrInvalidNonce              = errors.New("invalid nonce")
	ErrInvalidAudience           = errors.New("invalid audience")
	ErrNotFound                  = errors.New("not found")
	ErrDiscoveryFailed           = errors.New("provider discovery failed")
	ErrExchangeFailed            = errors.New("authorization code exchange failed")
	ErrUserInfoFailed            = errors.New("user info failed")
)
