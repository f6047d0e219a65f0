package session_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/tutorlink/identity/internal/federated"
	"github.com/tutorlink/identity/internal/identity"
	"github.com/tutorlink/identity/internal/lockout"
	"github.com/tutorlink/identity/internal/mail"
	"github.com/tutorlink/identity/internal/metrics"
	"github.com/tutorlink/identity/internal/refreshtoken"
	"github.com/tutorlink/identity/internal/session"
	"github.com/tutorlink/identity/internal/token"
)

const (
	testSecret   = "0123456789abcdef0123456789abcdef"
	alicePass    = "Secret123"
	aliceEmail   = "alice@example.com"
	maxAttempts  = 3
	refreshTTL   = 7 * 24 * time.Hour
	accessTTL    = 15 * time.Minute
	confirmation = 24 * time.Hour
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingOutbox keeps the last confirmation per email.
type recordingOutbox struct {
	mu    sync.Mutex
	codes map[string]mail.Confirmation
}

func (o *recordingOutbox) SendConfirmation(_ context.Context, c mail.Confirmation) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.codes[c.Email] = c
	return nil
}

// stubVerifier accepts the credentials it was seeded with.
type stubVerifier struct {
	claims map[string]*federated.Claims
}

func (v *stubVerifier) Verify(_ context.Context, credential string) (*federated.Claims, error) {
	c, ok := v.claims[credential]
	if !ok {
		return nil, federated.ErrInvalidCredential
	}
	return c, nil
}

type env struct {
	svc        *session.Service
	identities *identity.MemoryRepository
	tokens     *refreshtoken.MemoryRepository
	signer     *token.Signer
	outbox     *recordingOutbox
	verifier   *stubVerifier
	clock      *clock
}

type envOption func(*session.Options)

func singleSession(o *session.Options) { o.SingleSession = true }

func newEnv(t *testing.T, opts ...envOption) *env {
	t.Helper()

	clk := &clock{now: time.Now().UTC()}
	signer, err := token.NewSigner(token.Options{
		Secret:   testSecret,
		Issuer:   "tutorlink",
		Audience: "tutorlink-clients",
		TTL:      accessTTL,
		Now:      clk.Now,
	})
	require.NoError(t, err)

	identities := identity.NewMemoryRepository()
	e := &env{
		identities: identities,
		tokens:     refreshtoken.NewMemoryRepository(identities),
		signer:     signer,
		outbox:     &recordingOutbox{codes: make(map[string]mail.Confirmation)},
		verifier:   &stubVerifier{claims: make(map[string]*federated.Claims)},
		clock:      clk,
	}

	o := session.Options{
		BcryptCost:      bcrypt.MinCost,
		RefreshTTL:      refreshTTL,
		ConfirmationTTL: confirmation,
		Now:             clk.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	e.svc, err = session.NewService(session.Deps{
		Identities: e.identities,
		Tokens:     e.tokens,
		Signer:     signer,
		Lockout: lockout.NewMemoryTracker(lockout.Policy{
			MaxAttempts: maxAttempts,
			Window:      15 * time.Minute,
			Duration:    15 * time.Minute,
		}).WithClock(clk.Now),
		Verifier: e.verifier,
		Outbox:   e.outbox,
		Metrics:  metrics.New(),
	}, o)
	require.NoError(t, err)
	return e
}

// registerConfirmed registers email with alicePass and confirms it.
func (e *env) registerConfirmed(t *testing.T, email string) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	res, err := e.svc.Register(ctx, session.RegisterInput{Email: email, Password: alicePass, ConfirmPassword: alicePass})
	require.NoError(t, err)
	require.NoError(t, e.svc.ConfirmEmail(ctx, res.IdentityID, res.ConfirmationCode))
	return res.IdentityID
}

func (e *env) login(t *testing.T, email string) *session.AuthResult {
	t.Helper()
	res, err := e.svc.Login(context.Background(), session.LoginInput{Email: email, Password: alicePass})
	require.NoError(t, err)
	return res
}
