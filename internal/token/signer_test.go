package token_test

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tutorlink/identity/internal/token"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newSigner(t *testing.T, now func() time.Time) *token.Signer {
	t.Helper()
	s, err := token.NewSigner(token.Options{
		Secret:   testSecret,
		Issuer:   "tutorlink",
		Audience: "tutorlink-clients",
		TTL:      15 * time.Minute,
		Now:      now,
	})
	require.NoError(t, err)
	return s
}

func alice() token.Subject {
	return token.Subject{
		ID:    uuid.MustParse("5b1f9c3e-0f3a-4d2b-9a61-2f8c7e4d1a10"),
		Email: "alice@example.com",
		Roles: []string{"User"},
		Role:  "User",
	}
}

func TestNewSigner_RejectsShortSecret(t *testing.T) {
	_, err := token.NewSigner(token.Options{Secret: "too-short", TTL: time.Minute})

	assert.Error(t, err)
}

func TestNewSigner_RejectsNonPositiveTTL(t *testing.T) {
	_, err := token.NewSigner(token.Options{Secret: testSecret})

	assert.Error(t, err)
}

func TestMintAndVerify_RoundTrip(t *testing.T) {
	signer := newSigner(t, nil)

	access, err := signer.MintAccessToken(alice())
	require.NoError(t, err)
	assert.NotEmpty(t, access.JWTID)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), access.ExpiresAt, 5*time.Second)

	claims, err := signer.Verify(access.Token)
	require.NoError(t, err)
	assert.Equal(t, alice().ID, claims.SubjectID())
	assert.Equal(t, "alice@example.com", claims.Email)
	assert.Equal(t, "User", claims.Role)
	assert.True(t, claims.HasRole("User"))
	assert.False(t, claims.HasRole("Admin"))
	assert.Equal(t, access.JWTID, claims.ID)
	assert.Equal(t, "tutorlink", claims.Issuer)
}

func TestMintAccessToken_UniqueJTI(t *testing.T) {
	signer := newSigner(t, nil)

	a, err := signer.MintAccessToken(alice())
	require.NoError(t, err)
	b, err := signer.MintAccessToken(alice())
	require.NoError(t, err)

	assert.NotEqual(t, a.JWTID, b.JWTID)
	assert.NotEqual(t, a.Token, b.Token)
}

func TestVerify_Expired(t *testing.T) {
	issuedAt := time.Now().Add(-time.Hour)
	minted, err := newSigner(t, func() time.Time { return issuedAt }).MintAccessToken(alice())
	require.NoError(t, err)

	_, err = newSigner(t, nil).Verify(minted.Token)

	assert.ErrorIs(t, err, token.ErrTokenExpired)
}

func TestVerify_Rejects(t *testing.T) {
	signer := newSigner(t, nil)
	valid, err := signer.MintAccessToken(alice())
	require.NoError(t, err)

	otherAudience, err := token.NewSigner(token.Options{
		Secret: testSecret, Issuer: "tutorlink", Audience: "someone-else", TTL: time.Minute,
	})
	require.NoError(t, err)
	wrongAudience, err := otherAudience.MintAccessToken(alice())
	require.NoError(t, err)

	otherKey, err := token.NewSigner(token.Options{
		Secret: strings.Repeat("z", 32), Issuer: "tutorlink", Audience: "tutorlink-clients", TTL: time.Minute,
	})
	require.NoError(t, err)
	forged, err := otherKey.MintAccessToken(alice())
	require.NoError(t, err)

	noneAlg, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": alice().ID.String(),
		"iss": "tutorlink",
		"aud": "tutorlink-clients",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{
		"sub": alice().ID.String(),
		"iss": "tutorlink",
		"aud": "tutorlink-clients",
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	tests := map[string]string{
		"garbage":        "not-a-jwt",
		"truncated":      valid.Token[:len(valid.Token)-4],
		"wrong audience": wrongAudience.Token,
		"wrong key":      forged.Token,
		"alg none":       noneAlg,
		"other hmac alg": hs512,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := signer.Verify(raw)
			assert.ErrorIs(t, err, token.ErrTokenInvalid)
		})
	}
}

func TestVerify_NonUUIDSubject(t *testing.T) {
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "alice",
		"iss": "tutorlink",
		"aud": "tutorlink-clients",
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = newSigner(t, nil).Verify(raw)

	assert.ErrorIs(t, err, token.ErrTokenInvalid)
}
