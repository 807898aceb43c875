// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package clientassertion

import "errors"

var (
	ErrMissingClientID      = errors.New("missing client ID")
	ErrMissingAudience      = errors.New("missing audience")
	ErrMissingAlgorithm     = errors.New("missing signing algorithm")
	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")
	ErrInvalidSecretLength  = errors.New("invalid secret length for algorithm")
	ErrCreatingSigner       = errors.New("error creating jwt signer")

	// only possible when a JWT isn't built with NewJWT
	ErrMissingFuncIDGenerator = errors.New("missing id generator; use NewJWT")
	ErrMissingFuncNow         = errors.New("missing now func; use NewJWT")
)
