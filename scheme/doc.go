// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
Package scheme provides a registry of OIDC authentication mechanisms that can
be added, replaced and removed while requests are being served.

Each mechanism is configured by a stored record. The record's id gives the
mechanism's Key ("oidc-<id>") and callback path ("/signin-oidc-<id>"), and
NewDescriptor turns the record's authority and client credentials into a
Descriptor carrying a uniform protocol policy (PKCE, the code response type,
the form_post response mode, saved tokens).

A Registry turns descriptors into live Mechanisms with a Finalizer, which
typically fetches the provider's discovery document:

	r, err := scheme.NewRegistry(finalizer, scheme.WithLogger(logger))
	d, err := scheme.NewDescriptor(1, "https://idp.example/", "abc", "s3cret")
	err = r.Register(ctx, d)   // oidc-1 is now live
	m, err := r.Resolve(scheme.KeyFor(1))
	d2, err := scheme.NewDescriptor(1, "https://idp.example/", "abc", "s3cret2")
	err = r.Replace(ctx, d2)   // new lookups only see s3cret2
	r.Remove(scheme.KeyFor(1)) // Resolve fails with ErrUnknownScheme
*/
package scheme
