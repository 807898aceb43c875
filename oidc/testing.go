// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/require"
)

func encodePEM(blockType string, der []byte) string {
	return string(pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der}))
}

// TestGenerateKeys returns a PEM encoded ECDSA P-256 key pair for signing test
// id_tokens.
func TestGenerateKeys(t *testing.T) (pub, priv string) {
	t.Helper()
	require := require.New(t)
	k, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(err)

	privDER, err := x509.MarshalECPrivateKey(k)
	require.NoError(err)
	pubDER, err := x509.MarshalPKIXPublicKey(k.Public())
	require.NoError(err)
	return encodePEM("PUBLIC KEY", pubDER), encodePEM("EC PRIVATE KEY", privDER)
}

// TestSignJWT signs claims, merged with the optional privateClaims, as an
// ES256 JWT using the PEM encoded ECDSA private key.
func TestSignJWT(t *testing.T, ecdsaPrivKeyPEM string, claims jwt.Claims, privateClaims interface{}) string {
	t.Helper()
	require := require.New(t)
	block, _ := pem.Decode([]byte(ecdsaPrivKeyPEM))
	require.NotNil(block, "private key is not PEM")
	k, err := x509.ParseECPrivateKey(block.Bytes)
	require.NoError(err)

	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.ES256, Key: k}, (&jose.SignerOptions{}).WithType("JWT"))
	require.NoError(err)
	b := jwt.Signed(signer).Claims(claims)
	if privateClaims != nil {
		b = b.Claims(privateClaims)
	}
	raw, err := b.Serialize()
	require.NoError(err)
	return raw
}

// TestGenerateCA returns a short lived, self-signed CA certificate valid for
// hosts, and its PEM encoding.
func TestGenerateCA(t *testing.T, hosts []string) (*x509.Certificate, string) {
	t.Helper()
	require := require.New(t)
	k, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	require.NoError(err)
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	require.NoError(err)

	now := time.Now()
	tmpl := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{Organization: []string{"oidc-schemes test"}},
		NotBefore:             now,
		NotAfter:              now.Add(2 * time.Minute),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			tmpl.IPAddresses = append(tmpl.IPAddresses, ip)
			continue
		}
		tmpl.DNSNames = append(tmpl.DNSNames, h)
	}

	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &k.PublicKey, k)
	require.NoError(err)
	c, err := x509.ParseCertificate(der)
	require.NoError(err)
	return c, encodePEM("CERTIFICATE", der)
}
