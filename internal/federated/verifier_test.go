package federated_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tutorlink/identity/internal/federated"
)

const (
	testClientID = "tutorlink-web.apps.googleusercontent.com"
	testKeyID    = "test-key-1"
)

// provider is a stand-in for Google's JWKS endpoint.
type provider struct {
	key    *rsa.PrivateKey
	server *httptest.Server
}

func newProvider(t *testing.T) *provider {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	jwks := map[string]any{
		"keys": []map[string]string{{
			"kty": "RSA",
			"kid": testKeyID,
			"alg": "RS256",
			"use": "sig",
			"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		}},
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(jwks)
	}))
	t.Cleanup(server.Close)

	return &provider{key: key, server: server}
}

func (p *provider) verifier(t *testing.T) *federated.GoogleVerifier {
	t.Helper()
	v, err := federated.NewGoogleVerifier(federated.Options{
		ClientID: testClientID,
		JWKSURL:  p.server.URL,
		Timeout:  2 * time.Second,
	})
	require.NoError(t, err)
	return v
}

func (p *provider) sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = testKeyID
	raw, err := tok.SignedString(p.key)
	require.NoError(t, err)
	return raw
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"iss":            "https://accounts.google.com",
		"aud":            testClientID,
		"sub":            "110169484474386276334",
		"email":          "alice@gmail.com",
		"email_verified": true,
		"name":           "Alice Liddell",
		"picture":        "https://lh3.googleusercontent.com/a/alice",
		"iat":            time.Now().Unix(),
		"exp":            time.Now().Add(time.Hour).Unix(),
	}
}

func TestNewGoogleVerifier_RequiresClientID(t *testing.T) {
	_, err := federated.NewGoogleVerifier(federated.Options{})

	assert.Error(t, err)
}

func TestVerify_ValidCredential(t *testing.T) {
	p := newProvider(t)

	claims, err := p.verifier(t).Verify(context.Background(), p.sign(t, validClaims()))

	require.NoError(t, err)
	assert.Equal(t, "110169484474386276334", claims.Subject)
	assert.Equal(t, "alice@gmail.com", claims.Email)
	assert.True(t, claims.EmailVerified)
	assert.Equal(t, "Alice Liddell", claims.Name)
	assert.Equal(t, "https://lh3.googleusercontent.com/a/alice", claims.Picture)
}

func TestVerify_AcceptsBareIssuerAndStringVerified(t *testing.T) {
	p := newProvider(t)
	c := validClaims()
	c["iss"] = "accounts.google.com"
	c["email_verified"] = "true"

	_, err := p.verifier(t).Verify(context.Background(), p.sign(t, c))

	assert.NoError(t, err)
}

func TestVerify_Rejects(t *testing.T) {
	p := newProvider(t)
	v := p.verifier(t)

	stranger, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	forgedTok := jwt.NewWithClaims(jwt.SigningMethodRS256, validClaims())
	forgedTok.Header["kid"] = testKeyID
	forged, err := forgedTok.SignedString(stranger)
	require.NoError(t, err)

	mutate := func(f func(c jwt.MapClaims)) string {
		c := validClaims()
		f(c)
		return p.sign(t, c)
	}

	tests := map[string]string{
		"empty":            "  ",
		"garbage":          "not.a.token",
		"forged signature": forged,
		"wrong audience":   mutate(func(c jwt.MapClaims) { c["aud"] = "someone-else" }),
		"wrong issuer":     mutate(func(c jwt.MapClaims) { c["iss"] = "https://evil.example.com" }),
		"expired":          mutate(func(c jwt.MapClaims) { c["exp"] = time.Now().Add(-time.Hour).Unix() }),
		"unverified email": mutate(func(c jwt.MapClaims) { c["email_verified"] = false }),
		"missing email":    mutate(func(c jwt.MapClaims) { delete(c, "email") }),
	}
	for name, credential := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), credential)
			assert.ErrorIs(t, err, federated.ErrInvalidCredential)
		})
	}
}

func TestVerify_UnreachableProvider(t *testing.T) {
	p := newProvider(t)
	credential := p.sign(t, validClaims())

	v, err := federated.NewGoogleVerifier(federated.Options{
		ClientID: testClientID,
		JWKSURL:  "http://127.0.0.1:1/certs",
		Timeout:  500 * time.Millisecond,
	})
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), credential)

	assert.ErrorIs(t, err, federated.ErrInvalidCredential)
}
