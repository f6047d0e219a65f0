package promotion

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/tutorlink/identity/internal/identity"
)

// ErrRequestNotFound is returned when a tutor request does not exist.
var ErrRequestNotFound = errors.New("tutor request not found")

// ErrRequestNotPending is returned when a reviewed request is reviewed again.
var ErrRequestNotPending = errors.New("tutor request already reviewed")

// ErrPendingRequestExists is returned when an identity already has a pending request.
var ErrPendingRequestExists = errors.New("pending tutor request already exists")

// ErrAlreadyPromoted is returned when the target already holds Teacher or Admin.
var ErrAlreadyPromoted = errors.New("identity is already a teacher or admin")

// ErrRoleUnchanged is returned when a role change would not change anything.
var ErrRoleUnchanged = errors.New("identity already holds the role")

// ErrIdentityNotFound is returned when the target identity does not exist.
var ErrIdentityNotFound = errors.New("identity not found")

// Repository persists tutor requests, role replacements and the audit log.
// Every mutation that touches roles writes its audit entry in the same
// transaction.
type Repository interface {
	CreateRequest(ctx context.Context, identityID uuid.UUID) (*TutorRequest, error)
	GetRequest(ctx context.Context, id uuid.UUID) (*TutorRequest, error)
	ListRequests(ctx context.Context, status Status) ([]TutorRequest, error)
	// Approve replaces the requester's roles with Teacher, records the audit
	// entry and marks the request Approved, all or nothing.
	Approve(ctx context.Context, requestID, actorID uuid.UUID, at time.Time) (*AuditEntry, error)
	Reject(ctx context.Context, requestID, actorID uuid.UUID, at time.Time) (*TutorRequest, error)
	// ChangeRole replaces the identity's roles with role and records the
	// audit entry.
	ChangeRole(ctx context.Context, identityID uuid.UUID, role identity.Role, actorID uuid.UUID, at time.Time) (*AuditEntry, error)
	History(ctx context.Context, identityID uuid.UUID) ([]AuditEntry, error)
}

// promotable reports whether an identity holding roles may become a Teacher.
func promotable(roles []identity.Role) bool {
	effective := identity.EffectiveRole(roles)
	return effective != identity.RoleTeacher && effective != identity.RoleAdmin
}
