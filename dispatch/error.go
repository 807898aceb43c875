// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package dispatch

import "errors"

var (
	// ErrInvalidParameter means an argument was invalid.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrCorrelationFailed means a callback didn't carry the cookies set
	// when its attempt began.
	ErrCorrelationFailed = errors.New("correlation failed")

	// ErrUnsupportedResponseType means a descriptor asks for a response
	// type other than "code".
	ErrUnsupportedResponseType = errors.New("unsupported response type")
)
