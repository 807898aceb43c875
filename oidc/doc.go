// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
oidc is a package for writing OIDC relying party integrations using the
authorization code flow (with optional PKCE).

Primary types provided by the package

* Config: provides the configuration for one relying party registration with
a provider (client id/secret, redirect URL, scopes, response mode, PKCE and
whether the issuer may be reached over plain http).

* Provider: the finalized form of a Config. NewProvider performs OIDC
discovery against the issuer, and the Provider then generates auth URLs,
exchanges codes for tokens and verifies id_tokens.

* State: represents one OIDC authentication attempt for a user. It contains
the id, nonce and PKCE verifier for that one-time flow, plus an expiration.

* Token: represents an OIDC id_token, as well as an Oauth2 access_token and
refresh_token (including the the access_token expiry)

* TestProvider: a local TLS provider for tests.

The oidc/callback package

The callback package includes the ability to create a http.HandlerFunc which
can be used for the 3rd leg of the OIDC flow where the authorization code is
exchanged for tokens.
*/
package oidc
