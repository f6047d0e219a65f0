package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// MinSecretLength is the shortest HMAC key the signer accepts.
const MinSecretLength = 32

// ErrTokenExpired is returned when an access token is past its expiry.
var ErrTokenExpired = errors.New("access token expired")

// ErrTokenInvalid is returned for malformed, forged or misaddressed tokens.
var ErrTokenInvalid = errors.New("access token invalid")

// Claims is the claim set carried by an access token. Roles are fixed at
// mint time; role changes show up on the next login or refresh.
type Claims struct {
	Email string   `json:"email,omitempty"`
	Roles []string `json:"roles"`
	Role  string   `json:"role"`
	jwt.RegisteredClaims
}

// Subject describes whom an access token is minted for.
type Subject struct {
	ID    uuid.UUID
	Email string
	Roles []string
	Role  string // effective role
}

// AccessToken is a minted, serialized access token and its correlation id.
type AccessToken struct {
	Token     string
	JWTID     string
	ExpiresAt time.Time
}

// Options configures a Signer.
type Options struct {
	Secret   string
	Issuer   string
	Audience string
	TTL      time.Duration
	Now      func() time.Time
}

// Signer mints and verifies HS256 access tokens. It holds no mutable state.
type Signer struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
	parser   *jwt.Parser
}

// NewSigner validates the options. A missing or short secret is a
// configuration error the caller should treat as fatal.
func NewSigner(opts Options) (*Signer, error) {
	if len(opts.Secret) < MinSecretLength {
		return nil, fmt.Errorf("signing secret must be at least %d bytes", MinSecretLength)
	}
	if opts.TTL <= 0 {
		return nil, errors.New("access token TTL must be positive")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	s := &Signer{
		secret:   []byte(opts.Secret),
		issuer:   opts.Issuer,
		audience: opts.Audience,
		ttl:      opts.TTL,
		now:      now,
	}
	s.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(opts.Issuer),
		jwt.WithAudience(opts.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(now),
	)
	return s, nil
}

// TTL returns the configured access token lifetime.
func (s *Signer) TTL() time.Duration {
	return s.ttl
}

// MintAccessToken signs a new access token with a fresh jti.
func (s *Signer) MintAccessToken(sub Subject) (*AccessToken, error) {
	now := s.now().UTC()
	expiresAt := now.Add(s.ttl)
	jti := uuid.NewString()

	roles := sub.Roles
	if roles == nil {
		roles = []string{}
	}

	claims := Claims{
		Email: sub.Email,
		Roles: roles,
		Role:  sub.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub.ID.String(),
			ID:        jti,
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("signing access token: %w", err)
	}

	return &AccessToken{Token: signed, JWTID: jti, ExpiresAt: expiresAt}, nil
}

// Verify checks signature, algorithm, issuer, audience and expiry. No
// store lookup is involved.
func (s *Signer) Verify(raw string) (*Claims, error) {
	claims := &Claims{}
	tok, err := s.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !tok.Valid {
		return nil, ErrTokenInvalid
	}
	if _, err := uuid.Parse(claims.Subject); err != nil {
		return nil, fmt.Errorf("%w: subject is not a uuid", ErrTokenInvalid)
	}
	return claims, nil
}

// SubjectID returns the identity id carried in the token.
func (c *Claims) SubjectID() uuid.UUID {
	id, _ := uuid.Parse(c.Subject)
	return id
}

// HasRole reports whether the token carries the role.
func (c *Claims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}
