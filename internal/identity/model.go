package identity

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role is an authorization role name.
type Role string

// Closed set of roles.
const (
	RoleUser    Role = "User"
	RoleTeacher Role = "Teacher"
	RoleAdmin   Role = "Admin"
)

// ParseRole matches a role name case-insensitively.
func ParseRole(s string) (Role, bool) {
	for _, r := range []Role{RoleUser, RoleTeacher, RoleAdmin} {
		if strings.EqualFold(strings.TrimSpace(s), string(r)) {
			return r, true
		}
	}
	return "", false
}

// EffectiveRole resolves the role used for authorization by precedence
// Admin > Teacher > User. An empty set resolves to User.
func EffectiveRole(roles []Role) Role {
	effective := RoleUser
	for _, r := range roles {
		switch r {
		case RoleAdmin:
			return RoleAdmin
		case RoleTeacher:
			effective = RoleTeacher
		}
	}
	return effective
}

// ProviderGoogle is the only federated provider the service links.
const ProviderGoogle = "Google"

// Identity represents a row in the identities table.
type Identity struct {
	ID             uuid.UUID
	Email          string
	PasswordHash   *string // nil for federated-only accounts
	EmailConfirmed bool
	IsActive       bool
	DisplayName    string
	AvatarURL      *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// HasPassword reports whether the identity can sign in with a password.
func (i *Identity) HasPassword() bool {
	return i.PasswordHash != nil && *i.PasswordHash != ""
}

// FederatedLink ties an identity to a subject at an external provider.
type FederatedLink struct {
	IdentityID uuid.UUID
	Provider   string
	Subject    string
	Email      string
	CreatedAt  time.Time
}

// Confirmation is a pending email-confirmation code. Only the hash of the
// code is stored.
type Confirmation struct {
	IdentityID uuid.UUID
	CodeHash   string
	ExpiresAt  time.Time
}

// NormalizeEmail lower-cases and trims an email for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
