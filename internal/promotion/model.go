package promotion

import (
	"time"

	"github.com/google/uuid"

	"github.com/tutorlink/identity/internal/identity"
)

// Status is the review state of a tutor request.
type Status string

const (
	StatusPending  Status = "Pending"
	StatusApproved Status = "Approved"
	StatusRejected Status = "Rejected"
)

// TutorRequest represents a row in the tutor_requests table.
type TutorRequest struct {
	ID         uuid.UUID
	IdentityID uuid.UUID
	Status     Status
	ReviewedBy *uuid.UUID
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// AuditEntry represents a row in the role_audit table. Entries are never
// updated or deleted.
type AuditEntry struct {
	ID         uuid.UUID
	IdentityID uuid.UUID
	OldRole    identity.Role
	NewRole    identity.Role
	ActorID    uuid.UUID
	ChangedAt  time.Time
}
