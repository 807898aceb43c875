// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// oidcschemes serves OpenID Connect login schemes that operators add, edit
// and remove at runtime. Every stored configuration becomes a live,
// addressable authentication mechanism without a restart.
//
// Packages:
//   - scheme: keys ("oidc-<id>"), descriptors and the concurrent Registry
//   - dispatch: the OIDC Finalizer and mechanisms, and the Dispatcher that
//     routes login and "/signin-oidc-<id>" callbacks to the live mechanism
//   - store: durable configuration records (memory and bbolt)
//   - admin: keeps the registry in step with the store, plus a JSON API
//   - session: signed session cookies and saved tokens
//   - oidc, oidc/callback: the relying party protocol
//   - metrics: Prometheus collectors for the registry and HTTP
//
// The oidc-schemes command in cmd/oidc-schemes runs the server.
package oidcschemes
