// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package scheme

import "errors"

var (
	// ErrInvalidConfiguration means a descriptor (or the record it was built
	// from) is malformed. It's reported before any registry mutation.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrAlreadyRegistered means Register was called for a live key. Use
	// Replace instead.
	ErrAlreadyRegistered = errors.New("scheme already registered")

	// ErrUnknownScheme means there's no live mechanism for the key.
	ErrUnknownScheme = errors.New("unknown scheme")

	// ErrFinalizeFailed means the descriptor couldn't be turned into a live
	// mechanism. The registry is left as it was before the call, so the
	// operation is safe to retry.
	ErrFinalizeFailed = errors.New("finalize failed")

	// ErrSuperseded means the key was removed while a Register or Replace of
	// it was finalizing. The new mechanism was discarded and the key is
	// absent.
	ErrSuperseded = errors.New("superseded by remove")

	// ErrRegistryClosed means the registry was closed.
	ErrRegistryClosed = errors.New("registry closed")
)
