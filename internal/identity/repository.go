package identity

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrIdentityNotFound is returned when an identity record is not found.
var ErrIdentityNotFound = errors.New("identity not found")

// ErrDuplicateEmail is returned when an identity with the same email already exists.
var ErrDuplicateEmail = errors.New("email already registered")

// ErrLinkConflict is returned when a federated subject is already linked to
// another identity, or the identity already has a different subject for the provider.
var ErrLinkConflict = errors.New("federated identity linked elsewhere")

// ErrConfirmationNotFound is returned when no confirmation code is pending.
var ErrConfirmationNotFound = errors.New("confirmation not found")

// Repository provides operations on identities, their roles, federated
// links and pending email confirmations.
type Repository interface {
	// Create inserts the identity together with its roles and, when given,
	// its confirmation code. Either everything is stored or nothing is.
	Create(ctx context.Context, ident *Identity, roles []Role, confirmation *Confirmation) error
	GetByID(ctx context.Context, id uuid.UUID) (*Identity, error)
	GetByEmail(ctx context.Context, email string) (*Identity, error)
	GetByFederatedLink(ctx context.Context, provider, subject string) (*Identity, error)
	// LinkFederated is idempotent for an identical link.
	LinkFederated(ctx context.Context, link *FederatedLink) error
	Roles(ctx context.Context, id uuid.UUID) ([]Role, error)
	GetConfirmation(ctx context.Context, id uuid.UUID) (*Confirmation, error)
	// ConfirmEmail sets the confirmed flag and drops the pending code.
	ConfirmEmail(ctx context.Context, id uuid.UUID) error
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	CountByRole(ctx context.Context, role Role) (int, error)
}
