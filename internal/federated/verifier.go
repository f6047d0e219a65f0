package federated

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
)

// Google endpoints used when Options leaves them empty.
const (
	GoogleJWKSURL = "https://www.googleapis.com/oauth2/v3/certs"
)

// GoogleIssuers are the issuer values Google places in ID tokens.
var GoogleIssuers = []string{"accounts.google.com", "https://accounts.google.com"}

// ErrInvalidCredential is returned when a provider credential fails
// verification for any reason, including an unreachable provider.
var ErrInvalidCredential = errors.New("invalid federated credential")

// Claims is the verified subset of an ID token the service relies on.
type Claims struct {
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	Picture       string
}

// Verifier validates a provider-issued credential.
type Verifier interface {
	Verify(ctx context.Context, credential string) (*Claims, error)
}

// Options configures a GoogleVerifier.
type Options struct {
	ClientID string
	JWKSURL  string
	Issuers  []string
	Timeout  time.Duration
	Now      func() time.Time
}

// GoogleVerifier checks Google ID tokens against Google's published keys.
type GoogleVerifier struct {
	verifier *oidc.IDTokenVerifier
	issuers  []string
	timeout  time.Duration
}

// NewGoogleVerifier builds a verifier bound to the given audience. Keys are
// fetched lazily and cached by the key set.
func NewGoogleVerifier(opts Options) (*GoogleVerifier, error) {
	if opts.ClientID == "" {
		return nil, errors.New("google client id is required")
	}
	jwksURL := opts.JWKSURL
	if jwksURL == "" {
		jwksURL = GoogleJWKSURL
	}
	issuers := opts.Issuers
	if len(issuers) == 0 {
		issuers = GoogleIssuers
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	keySet := oidc.NewRemoteKeySet(context.Background(), jwksURL)
	verifier := oidc.NewVerifier(issuers[0], keySet, &oidc.Config{
		ClientID: opts.ClientID,
		// Google uses two issuer spellings; checked below instead.
		SkipIssuerCheck: true,
		Now:             opts.Now,
	})

	return &GoogleVerifier{verifier: verifier, issuers: issuers, timeout: timeout}, nil
}

type googleClaims struct {
	Email         string `json:"email"`
	EmailVerified any    `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// Verify validates signature, audience, expiry and issuer, and requires a
// verified email.
func (v *GoogleVerifier) Verify(ctx context.Context, credential string) (*Claims, error) {
	if strings.TrimSpace(credential) == "" {
		return nil, fmt.Errorf("%w: empty credential", ErrInvalidCredential)
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	idToken, err := v.verifier.Verify(ctx, credential)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if !slices.Contains(v.issuers, idToken.Issuer) {
		return nil, fmt.Errorf("%w: unexpected issuer %q", ErrInvalidCredential, idToken.Issuer)
	}

	var gc googleClaims
	if err := idToken.Claims(&gc); err != nil {
		return nil, fmt.Errorf("%w: decoding claims: %v", ErrInvalidCredential, err)
	}

	claims := &Claims{
		Subject:       idToken.Subject,
		Email:         strings.TrimSpace(gc.Email),
		EmailVerified: truthy(gc.EmailVerified),
		Name:          gc.Name,
		Picture:       gc.Picture,
	}
	if claims.Subject == "" || claims.Email == "" {
		return nil, fmt.Errorf("%w: missing subject or email", ErrInvalidCredential)
	}
	if !claims.EmailVerified {
		return nil, fmt.Errorf("%w: email not verified", ErrInvalidCredential)
	}
	return claims, nil
}

// truthy accepts both the boolean and the string form of email_verified.
func truthy(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return strings.EqualFold(b, "true")
	default:
		return false
	}
}
