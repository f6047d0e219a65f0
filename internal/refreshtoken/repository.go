package refreshtoken

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no record matches the presented secret.
var ErrNotFound = errors.New("refresh token not found")

// ErrDuplicateToken is returned when a secret hash collides with an existing record.
var ErrDuplicateToken = errors.New("refresh token already exists")

// Repository provides operations on the refresh_tokens table. All writes
// touching one identity's active set are serialised.
type Repository interface {
	// Issue persists rec. Any active record of the same identity bound to
	// the same jti is revoked first; with revokeAllActive every active
	// record of the identity is.
	Issue(ctx context.Context, rec *Record, revokeAllActive bool) error
	// Rotate locks the record matching tokenHash together with its owner,
	// lets fn decide, applies the decision and commits. Returns ErrNotFound
	// without calling fn when no record matches.
	Rotate(ctx context.Context, tokenHash string, fn RotateFunc) error
	// Revoke revokes the record matching tokenHash. Revoking a revoked
	// record is not an error.
	Revoke(ctx context.Context, tokenHash string, at time.Time) (*Record, error)
	RevokeAllForIdentity(ctx context.Context, identityID uuid.UUID, at time.Time) (int64, error)
	GetByHash(ctx context.Context, tokenHash string) (*Record, error)
	ListActive(ctx context.Context, identityID uuid.UUID, now time.Time) ([]Record, error)
}
