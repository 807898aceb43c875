// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package store

import "errors"

var (
	// ErrNotFound means no record has the requested id.
	ErrNotFound = errors.New("record not found")

	// ErrConflict means the record changed since the caller read it.
	ErrConflict = errors.New("record changed since it was read")
)
