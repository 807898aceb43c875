// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package scheme

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// KeyPrefix is prepended to a record id to form its Key.
	KeyPrefix = "oidc-"

	// CallbackPrefix is prepended to a Key to form its callback path.
	CallbackPrefix = "/signin-"
)

// Key is the stable identifier of a mechanism. It's derived from the id of
// the record that configures the mechanism and is never persisted.
type Key string

// KeyFor returns the Key for the record id. Distinct ids always produce
// distinct keys.
func KeyFor(id int64) Key {
	return Key(KeyPrefix + strconv.FormatInt(id, 10))
}

// String returns the key as a string.
func (k Key) String() string { return string(k) }

// CallbackPath returns the path the provider sends authentication responses
// to for the key. It's "/signin-" followed by the key.
func (k Key) CallbackPath() string {
	return CallbackPrefix + string(k)
}

// ID returns the record id the key was derived from.
func (k Key) ID() (int64, error) {
	return ParseKey(string(k))
}

// ParseKey returns the record id encoded in s. Only the canonical form
// produced by KeyFor is accepted, so "oidc-01" and "oidc-+1" are rejected.
func ParseKey(s string) (int64, error) {
	const op = "scheme.ParseKey"
	raw, ok := strings.CutPrefix(s, KeyPrefix)
	if !ok {
		return 0, fmt.Errorf("%s: %q is missing the %q prefix: %w", op, s, KeyPrefix, ErrUnknownScheme)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || strconv.FormatInt(id, 10) != raw {
		return 0, fmt.Errorf("%s: %q is not a scheme key: %w", op, s, ErrUnknownScheme)
	}
	return id, nil
}

// KeyFromCallbackPath returns the Key a callback path was derived from. The
// second return value is false when path isn't a callback path.
func KeyFromCallbackPath(path string) (Key, bool) {
	raw, ok := strings.CutPrefix(path, CallbackPrefix)
	if !ok {
		return "", false
	}
	if _, err := ParseKey(raw); err != nil {
		return "", false
	}
	return Key(raw), true
}
