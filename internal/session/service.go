package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/tutorlink/identity/internal/federated"
	"github.com/tutorlink/identity/internal/identity"
	"github.com/tutorlink/identity/internal/lockout"
	"github.com/tutorlink/identity/internal/mail"
	"github.com/tutorlink/identity/internal/metrics"
	"github.com/tutorlink/identity/internal/refreshtoken"
	"github.com/tutorlink/identity/internal/token"
)

// Sign-in methods as reported to metrics.
const (
	MethodPassword = "password"
	MethodGoogle   = "google"
)

// Deps are the collaborators of a Service. Verifier, Outbox and Metrics
// may be nil.
type Deps struct {
	Identities identity.Repository
	Tokens     refreshtoken.Repository
	Signer     *token.Signer
	Lockout    lockout.Tracker
	Verifier   federated.Verifier
	Outbox     mail.Outbox
	Metrics    *metrics.Recorder
}

// Options tune a Service.
type Options struct {
	BcryptCost      int
	RefreshTTL      time.Duration
	ConfirmationTTL time.Duration
	// SingleSession revokes every active refresh token of an identity when
	// a new session is issued for it.
	SingleSession bool
	Now           func() time.Time
}

// Service coordinates registration, sign-in, refresh rotation and logout.
type Service struct {
	identities identity.Repository
	tokens     refreshtoken.Repository
	signer     *token.Signer
	lockout    lockout.Tracker
	verifier   federated.Verifier
	outbox     mail.Outbox
	metrics    *metrics.Recorder

	bcryptCost      int
	refreshTTL      time.Duration
	confirmationTTL time.Duration
	singleSession   bool
	now             func() time.Time

	// dummyHash is compared against when the email is unknown so both
	// branches cost one bcrypt comparison.
	dummyHash []byte
}

// NewService creates a new session Service.
func NewService(deps Deps, opts Options) (*Service, error) {
	if deps.Identities == nil || deps.Tokens == nil || deps.Signer == nil || deps.Lockout == nil {
		return nil, errors.New("session: identities, tokens, signer and lockout are required")
	}

	cost := opts.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	refreshTTL := opts.RefreshTTL
	if refreshTTL <= 0 {
		refreshTTL = 7 * 24 * time.Hour
	}
	confirmationTTL := opts.ConfirmationTTL
	if confirmationTTL <= 0 {
		confirmationTTL = 24 * time.Hour
	}

	dummy, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), cost)
	if err != nil {
		return nil, fmt.Errorf("hashing placeholder password: %w", err)
	}

	return &Service{
		identities:      deps.Identities,
		tokens:          deps.Tokens,
		signer:          deps.Signer,
		lockout:         deps.Lockout,
		verifier:        deps.Verifier,
		outbox:          deps.Outbox,
		metrics:         deps.Metrics,
		bcryptCost:      cost,
		refreshTTL:      refreshTTL,
		confirmationTTL: confirmationTTL,
		singleSession:   opts.SingleSession,
		now:             now,
		dummyHash:       dummy,
	}, nil
}

// RegisterInput is the payload of a password registration.
type RegisterInput struct {
	Email           string
	Password        string
	ConfirmPassword string
	DisplayName     string
}

// RegisterResult identifies the new, unconfirmed identity. The code is also
// handed to the outbox.
type RegisterResult struct {
	IdentityID       uuid.UUID
	Email            string
	ConfirmationCode string
}

// Register creates an unconfirmed identity with the User role and a pending
// email confirmation. No session is issued.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*RegisterResult, error) {
	if errs := validateRegistration(in); len(errs) > 0 {
		return nil, &ValidationError{Fields: errs}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}
	hashStr := string(hash)

	code, err := token.MintConfirmationCode()
	if err != nil {
		return nil, fmt.Errorf("minting confirmation code: %w", err)
	}

	email := identity.NormalizeEmail(in.Email)
	ident := &identity.Identity{
		Email:        email,
		PasswordHash: &hashStr,
		IsActive:     true,
		DisplayName:  displayNameOr(in.DisplayName, email),
	}
	confirmation := &identity.Confirmation{
		CodeHash:  token.HashSecret(code),
		ExpiresAt: s.now().UTC().Add(s.confirmationTTL),
	}

	if err := s.identities.Create(ctx, ident, []identity.Role{identity.RoleUser}, confirmation); err != nil {
		if errors.Is(err, identity.ErrDuplicateEmail) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("creating identity: %w", err)
	}

	if s.outbox != nil {
		err := s.outbox.SendConfirmation(ctx, mail.Confirmation{IdentityID: ident.ID, Email: ident.Email, Code: code})
		if err != nil {
			slog.Error("failed to deliver confirmation email", "identityId", ident.ID, "error", err)
		}
	}

	slog.Info("identity registered", "identityId", ident.ID)

	return &RegisterResult{IdentityID: ident.ID, Email: ident.Email, ConfirmationCode: code}, nil
}

// ConfirmEmail marks the identity's email as confirmed when code matches the
// pending, unexpired confirmation. Confirming twice succeeds.
func (s *Service) ConfirmEmail(ctx context.Context, identityID uuid.UUID, code string) error {
	ident, err := s.identities.GetByID(ctx, identityID)
	if err != nil {
		if errors.Is(err, identity.ErrIdentityNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("fetching identity: %w", err)
	}

	if ident.EmailConfirmed {
		return nil
	}

	pending, err := s.identities.GetConfirmation(ctx, identityID)
	if err != nil {
		if errors.Is(err, identity.ErrConfirmationNotFound) {
			return ErrInvalidCode
		}
		return fmt.Errorf("fetching confirmation: %w", err)
	}

	if !s.now().Before(pending.ExpiresAt) || !token.MatchSecret(code, pending.CodeHash) {
		return ErrInvalidCode
	}

	if err := s.identities.ConfirmEmail(ctx, identityID); err != nil {
		return fmt.Errorf("confirming email: %w", err)
	}
	return nil
}

// LoginInput is the payload of a password sign-in.
type LoginInput struct {
	Email      string
	Password   string
	RememberMe bool
}

// UserView is the minimal profile returned with a session.
type UserView struct {
	ID             uuid.UUID
	Email          string
	DisplayName    string
	AvatarURL      *string
	EmailConfirmed bool
}

// AuthResult is a freshly issued session.
type AuthResult struct {
	AccessToken           string
	AccessTokenExpiresAt  time.Time
	RefreshToken          string
	RefreshTokenExpiresAt time.Time
	User                  UserView
	Role                  identity.Role
	Roles                 []identity.Role
}

// Login verifies a password and issues a session.
func (s *Service) Login(ctx context.Context, in LoginInput) (*AuthResult, error) {
	result, err := s.login(ctx, in)
	s.metrics.AuthAttempt(MethodPassword, outcomeOf(err))
	return result, err
}

func (s *Service) login(ctx context.Context, in LoginInput) (*AuthResult, error) {
	ident, err := s.identities.GetByEmail(ctx, in.Email)
	if err != nil {
		if errors.Is(err, identity.ErrIdentityNotFound) {
			_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(in.Password))
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("fetching identity: %w", err)
	}

	key := ident.ID.String()

	locked, err := s.lockout.Locked(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("checking lockout: %w", err)
	}
	if locked {
		return nil, ErrLockedOut
	}

	if !ident.EmailConfirmed {
		return nil, ErrUnconfirmedEmail
	}
	if !ident.IsActive {
		return nil, ErrAccountDisabled
	}

	if !ident.HasPassword() || bcrypt.CompareHashAndPassword([]byte(*ident.PasswordHash), []byte(in.Password)) != nil {
		nowLocked, err := s.lockout.Fail(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("recording failed sign-in: %w", err)
		}
		if nowLocked {
			slog.Warn("identity locked out after failed sign-ins", "identityId", ident.ID)
			return nil, ErrLockedOut
		}
		return nil, ErrInvalidCredentials
	}

	// Concurrent wrong guesses may have crossed the threshold while this
	// attempt was comparing.
	locked, err = s.lockout.Locked(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("checking lockout: %w", err)
	}
	if locked {
		return nil, ErrLockedOut
	}

	if err := s.lockout.Reset(ctx, key); err != nil {
		slog.Error("failed to reset lockout counter", "identityId", ident.ID, "error", err)
	}

	return s.issue(ctx, ident)
}

// LoginFederated verifies a Google ID token, resolves or creates the linked
// identity and issues a session.
func (s *Service) LoginFederated(ctx context.Context, credential string) (*AuthResult, error) {
	result, err := s.loginFederated(ctx, credential)
	s.metrics.AuthAttempt(MethodGoogle, outcomeOf(err))
	return result, err
}

func (s *Service) loginFederated(ctx context.Context, credential string) (*AuthResult, error) {
	if s.verifier == nil {
		return nil, ErrInvalidFederatedCredential
	}

	started := time.Now()
	claims, err := s.verifier.Verify(ctx, credential)
	s.metrics.ObserveVerify(time.Since(started))
	if err != nil {
		slog.Info("federated credential rejected", "error", err)
		return nil, ErrInvalidFederatedCredential
	}

	ident, err := s.resolveFederated(ctx, claims)
	if err != nil {
		return nil, err
	}

	if !ident.IsActive {
		return nil, ErrAccountDisabled
	}

	return s.issue(ctx, ident)
}

// resolveFederated finds the identity by link, then by email, creating a
// confirmed identity as a last resort, and makes sure the link exists.
func (s *Service) resolveFederated(ctx context.Context, claims *federated.Claims) (*identity.Identity, error) {
	ident, err := s.identities.GetByFederatedLink(ctx, identity.ProviderGoogle, claims.Subject)
	if err == nil {
		return ident, nil
	}
	if !errors.Is(err, identity.ErrIdentityNotFound) {
		return nil, fmt.Errorf("resolving federated link: %w", err)
	}

	ident, err = s.identities.GetByEmail(ctx, claims.Email)
	switch {
	case errors.Is(err, identity.ErrIdentityNotFound):
		ident, err = s.createFederated(ctx, claims)
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("fetching identity: %w", err)
	}

	link := &identity.FederatedLink{
		IdentityID: ident.ID,
		Provider:   identity.ProviderGoogle,
		Subject:    claims.Subject,
		Email:      identity.NormalizeEmail(claims.Email),
	}
	if err := s.identities.LinkFederated(ctx, link); err != nil {
		if errors.Is(err, identity.ErrLinkConflict) {
			slog.Warn("federated subject conflicts with existing link", "identityId", ident.ID)
			return nil, ErrInvalidFederatedCredential
		}
		return nil, fmt.Errorf("linking federated identity: %w", err)
	}

	// The provider has verified the address.
	if !ident.EmailConfirmed {
		if err := s.identities.ConfirmEmail(ctx, ident.ID); err != nil {
			return nil, fmt.Errorf("confirming federated email: %w", err)
		}
		ident.EmailConfirmed = true
	}

	return ident, nil
}

func (s *Service) createFederated(ctx context.Context, claims *federated.Claims) (*identity.Identity, error) {
	email := identity.NormalizeEmail(claims.Email)
	ident := &identity.Identity{
		Email:          email,
		EmailConfirmed: true,
		IsActive:       true,
		DisplayName:    displayNameOr(claims.Name, email),
	}
	if claims.Picture != "" {
		picture := claims.Picture
		ident.AvatarURL = &picture
	}

	err := s.identities.Create(ctx, ident, []identity.Role{identity.RoleUser}, nil)
	if errors.Is(err, identity.ErrDuplicateEmail) {
		// Lost a race with a concurrent registration of the same address.
		existing, getErr := s.identities.GetByEmail(ctx, email)
		if getErr != nil {
			return nil, fmt.Errorf("fetching identity: %w", getErr)
		}
		return existing, nil
	}
	if err != nil {
		return nil, fmt.Errorf("creating federated identity: %w", err)
	}

	slog.Info("identity created from federated sign-in", "identityId", ident.ID)
	return ident, nil
}

// issue mints an access token and its paired refresh token. The access
// token is only returned once the refresh record is persisted.
func (s *Service) issue(ctx context.Context, ident *identity.Identity) (*AuthResult, error) {
	roles, err := s.identities.Roles(ctx, ident.ID)
	if err != nil {
		return nil, fmt.Errorf("fetching roles: %w", err)
	}
	effective := identity.EffectiveRole(roles)

	access, err := s.signer.MintAccessToken(subjectOf(ident, roles, effective))
	if err != nil {
		return nil, err
	}

	secret, rec, err := s.newRecord(ident.ID, access.JWTID)
	if err != nil {
		return nil, err
	}

	if err := s.tokens.Issue(ctx, rec, s.singleSession); err != nil {
		return nil, fmt.Errorf("persisting refresh token: %w", err)
	}

	return &AuthResult{
		AccessToken:           access.Token,
		AccessTokenExpiresAt:  access.ExpiresAt,
		RefreshToken:          secret,
		RefreshTokenExpiresAt: rec.ExpiresAt,
		User:                  viewOf(ident),
		Role:                  effective,
		Roles:                 roles,
	}, nil
}

// RefreshResult is the outcome of a successful rotation.
type RefreshResult struct {
	AccessToken           string
	AccessTokenExpiresAt  time.Time
	RefreshToken          string
	RefreshTokenExpiresAt time.Time
	Role                  identity.Role
}

// RefreshSession exchanges a refresh secret for a new access token and a new
// refresh secret. The presented secret is revoked in the same transaction
// the successor is inserted in; of two concurrent calls with one secret,
// exactly one succeeds.
func (s *Service) RefreshSession(ctx context.Context, secret string) (*RefreshResult, error) {
	result, err := s.refresh(ctx, secret)
	s.metrics.Refresh(outcomeOf(err))
	return result, err
}

func (s *Service) refresh(ctx context.Context, secret string) (*RefreshResult, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrInvalidToken
	}

	var result *RefreshResult
	now := s.now().UTC()

	err := s.tokens.Rotate(ctx, token.HashSecret(secret), func(current refreshtoken.Record, owner *refreshtoken.Owner) (refreshtoken.Decision, error) {
		if current.Revoked {
			return refreshtoken.Decision{}, ErrInvalidToken
		}
		if current.Expired(now) {
			return refreshtoken.Decision{RevokeCurrent: true, At: now}, ErrExpiredToken
		}
		if owner == nil {
			return refreshtoken.Decision{RevokeCurrent: true, At: now}, ErrInvalidToken
		}

		ident := &owner.Identity
		if !ident.IsActive {
			return refreshtoken.Decision{RevokeAllForIdentity: true, At: now}, ErrAccountDisabled
		}

		roles := owner.Roles
		effective := identity.EffectiveRole(roles)

		access, err := s.signer.MintAccessToken(subjectOf(ident, roles, effective))
		if err != nil {
			return refreshtoken.Decision{}, err
		}
		nextSecret, successor, err := s.newRecord(ident.ID, access.JWTID)
		if err != nil {
			return refreshtoken.Decision{}, err
		}

		result = &RefreshResult{
			AccessToken:           access.Token,
			AccessTokenExpiresAt:  access.ExpiresAt,
			RefreshToken:          nextSecret,
			RefreshTokenExpiresAt: successor.ExpiresAt,
			Role:                  effective,
		}
		return refreshtoken.Decision{RevokeCurrent: true, Successor: successor, At: now}, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, refreshtoken.ErrNotFound):
			return nil, ErrInvalidToken
		case errors.Is(err, ErrExpiredToken):
			s.metrics.Revoked("expired", 1)
		case errors.Is(err, ErrAccountDisabled):
			slog.Warn("refresh attempted for disabled identity; all sessions revoked")
		}
		if isDomain(err) {
			return nil, err
		}
		return nil, fmt.Errorf("rotating refresh token: %w", err)
	}

	return result, nil
}

// Logout revokes a refresh token. Revoking an already revoked token succeeds.
func (s *Service) Logout(ctx context.Context, secret string) error {
	if strings.TrimSpace(secret) == "" {
		return ErrNotFound
	}

	rec, err := s.tokens.Revoke(ctx, token.HashSecret(secret), s.now().UTC())
	if err != nil {
		if errors.Is(err, refreshtoken.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("revoking refresh token: %w", err)
	}

	s.metrics.Revoked("logout", 1)
	slog.Info("session ended", "identityId", rec.IdentityID)
	return nil
}

// LogoutAll revokes every active refresh token of an identity and returns
// how many were revoked.
func (s *Service) LogoutAll(ctx context.Context, identityID uuid.UUID) (int64, error) {
	n, err := s.tokens.RevokeAllForIdentity(ctx, identityID, s.now().UTC())
	if err != nil {
		if errors.Is(err, refreshtoken.ErrNotFound) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("revoking sessions: %w", err)
	}
	s.metrics.Revoked("logout_all", n)
	return n, nil
}

// ActiveSession describes one live refresh chain of an identity.
type ActiveSession struct {
	ID        uuid.UUID
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Sessions lists the identity's unrevoked, unexpired refresh tokens.
func (s *Service) Sessions(ctx context.Context, identityID uuid.UUID) ([]ActiveSession, error) {
	records, err := s.tokens.ListActive(ctx, identityID, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}

	sessions := make([]ActiveSession, 0, len(records))
	for _, r := range records {
		sessions = append(sessions, ActiveSession{ID: r.ID, IssuedAt: r.IssuedAt, ExpiresAt: r.ExpiresAt})
	}
	return sessions, nil
}

// SetActive enables or disables an identity. Disabling revokes every active
// refresh token of the identity.
func (s *Service) SetActive(ctx context.Context, identityID uuid.UUID, active bool) error {
	if err := s.identities.SetActive(ctx, identityID, active); err != nil {
		if errors.Is(err, identity.ErrIdentityNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("updating identity status: %w", err)
	}

	if active {
		slog.Info("identity enabled", "identityId", identityID)
		return nil
	}

	n, err := s.tokens.RevokeAllForIdentity(ctx, identityID, s.now().UTC())
	if err != nil {
		return fmt.Errorf("revoking sessions of disabled identity: %w", err)
	}
	s.metrics.Revoked("disabled", n)
	slog.Info("identity disabled", "identityId", identityID, "revokedSessions", n)
	return nil
}

// BootstrapAdmin creates a confirmed Admin identity if no Admin exists yet.
// Returns false when an Admin was already present.
func (s *Service) BootstrapAdmin(ctx context.Context, email, password string) (bool, error) {
	count, err := s.identities.CountByRole(ctx, identity.RoleAdmin)
	if err != nil {
		return false, fmt.Errorf("counting admins: %w", err)
	}
	if count > 0 {
		return false, nil
	}

	if errs := append(validateEmail(email), validatePassword(password)...); len(errs) > 0 {
		return false, &ValidationError{Fields: errs}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return false, fmt.Errorf("hashing admin password: %w", err)
	}
	hashStr := string(hash)

	normalized := identity.NormalizeEmail(email)
	admin := &identity.Identity{
		Email:          normalized,
		PasswordHash:   &hashStr,
		EmailConfirmed: true,
		IsActive:       true,
		DisplayName:    "Administrator",
	}
	if err := s.identities.Create(ctx, admin, []identity.Role{identity.RoleAdmin}, nil); err != nil {
		if errors.Is(err, identity.ErrDuplicateEmail) {
			return false, fmt.Errorf("bootstrap admin email %s is taken by a non-admin: %w", normalized, ErrConflict)
		}
		return false, fmt.Errorf("creating admin: %w", err)
	}

	slog.Info("bootstrap admin created", "identityId", admin.ID, "email", normalized)
	return true, nil
}

func (s *Service) newRecord(identityID uuid.UUID, jwtID string) (string, *refreshtoken.Record, error) {
	secret, err := token.MintRefreshSecret()
	if err != nil {
		return "", nil, fmt.Errorf("minting refresh secret: %w", err)
	}
	now := s.now().UTC()
	return secret, &refreshtoken.Record{
		ID:         uuid.New(),
		IdentityID: identityID,
		TokenHash:  token.HashSecret(secret),
		JWTID:      jwtID,
		IssuedAt:   now,
		ExpiresAt:  now.Add(s.refreshTTL),
	}, nil
}

func subjectOf(ident *identity.Identity, roles []identity.Role, effective identity.Role) token.Subject {
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, string(r))
	}
	if len(names) == 0 {
		names = append(names, string(effective))
	}
	return token.Subject{ID: ident.ID, Email: ident.Email, Roles: names, Role: string(effective)}
}

func viewOf(ident *identity.Identity) UserView {
	return UserView{
		ID:             ident.ID,
		Email:          ident.Email,
		DisplayName:    ident.DisplayName,
		AvatarURL:      ident.AvatarURL,
		EmailConfirmed: ident.EmailConfirmed,
	}
}

func displayNameOr(name, email string) string {
	if n := strings.TrimSpace(name); n != "" {
		return n
	}
	if at := strings.IndexByte(email, '@'); at > 0 {
		return email[:at]
	}
	return email
}

var domainErrors = []error{
	ErrInvalidCredentials, ErrInvalidFederatedCredential, ErrInvalidToken, ErrExpiredToken,
	ErrUnconfirmedEmail, ErrAccountDisabled, ErrLockedOut, ErrNotFound, ErrConflict, ErrInvalidCode,
}

func isDomain(err error) bool {
	if _, ok := IsValidation(err); ok {
		return true
	}
	for _, d := range domainErrors {
		if errors.Is(err, d) {
			return true
		}
	}
	return false
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrInvalidFederatedCredential):
		return "invalid_credentials"
	case errors.Is(err, ErrInvalidToken):
		return "invalid_token"
	case errors.Is(err, ErrExpiredToken):
		return "expired"
	case errors.Is(err, ErrUnconfirmedEmail):
		return "unconfirmed"
	case errors.Is(err, ErrAccountDisabled):
		return "disabled"
	case errors.Is(err, ErrLockedOut):
		return "locked_out"
	default:
		return "error"
	}
}
