package refreshtoken

import (
	"time"

	"github.com/google/uuid"

	"github.com/tutorlink/identity/internal/identity"
)

// Record represents a row in the refresh_tokens table. Records are only
// ever mutated to become revoked.
type Record struct {
	ID         uuid.UUID
	IdentityID uuid.UUID
	TokenHash  string
	JWTID      string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	Revoked    bool
	RevokedAt  *time.Time
	ReplacedBy *uuid.UUID
}

// Expired reports whether the record is past its expiry at now.
func (r *Record) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Active reports whether the record can still be exchanged at now.
func (r *Record) Active(now time.Time) bool {
	return !r.Revoked && !r.Expired(now)
}

// Decision is what a RotateFunc asks the ledger to apply atomically.
type Decision struct {
	// RevokeCurrent revokes the presented record.
	RevokeCurrent bool
	// RevokeAllForIdentity revokes every active record of the owner.
	RevokeAllForIdentity bool
	// Successor is inserted and recorded as the presented record's replacement.
	Successor *Record
	// At is the revocation timestamp.
	At time.Time
}

// Owner is the identity a record belongs to, read under the same lock as the
// record itself.
type Owner struct {
	Identity identity.Identity
	Roles    []identity.Role
}

// RotateFunc inspects the locked current record and its owner and decides
// what happens to the record. owner is nil when the identity no longer
// exists. The function must not call back into a store: it runs while the
// ledger holds its lock. The returned error is handed back to the caller of
// Rotate after the decision has been committed, so a function may both
// revoke and fail.
type RotateFunc func(current Record, owner *Owner) (Decision, error)
