package promotion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tutorlink/identity/internal/identity"
	"github.com/tutorlink/identity/internal/metrics"
)

// ErrInvalidRole is returned when a role name is not User, Teacher or Admin.
var ErrInvalidRole = errors.New("unknown role")

// Service handles tutor requests and audited role changes. Role changes
// reach callers' tokens at their next login or refresh.
type Service struct {
	repo       Repository
	identities identity.Repository
	metrics    *metrics.Recorder
	now        func() time.Time
}

// NewService creates a new promotion Service. recorder may be nil.
func NewService(repo Repository, identities identity.Repository, recorder *metrics.Recorder) *Service {
	return &Service{
		repo:       repo,
		identities: identities,
		metrics:    recorder,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the service's time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Apply files a Pending tutor request for an identity that is not yet a
// Teacher or Admin.
func (s *Service) Apply(ctx context.Context, identityID uuid.UUID) (*TutorRequest, error) {
	roles, err := s.identities.Roles(ctx, identityID)
	if err != nil {
		if errors.Is(err, identity.ErrIdentityNotFound) {
			return nil, ErrIdentityNotFound
		}
		return nil, fmt.Errorf("fetching roles: %w", err)
	}
	if !promotable(roles) {
		return nil, ErrAlreadyPromoted
	}

	req, err := s.repo.CreateRequest(ctx, identityID)
	if err != nil {
		if errors.Is(err, ErrPendingRequestExists) || errors.Is(err, ErrIdentityNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("creating tutor request: %w", err)
	}

	slog.Info("tutor request filed", "requestId", req.ID, "identityId", identityID)
	return req, nil
}

// ListPending returns every Pending tutor request.
func (s *Service) ListPending(ctx context.Context) ([]TutorRequest, error) {
	requests, err := s.repo.ListRequests(ctx, StatusPending)
	if err != nil {
		return nil, fmt.Errorf("listing tutor requests: %w", err)
	}
	return requests, nil
}

// PromoteToTeacher approves a Pending request: the requester's roles become
// exactly Teacher, an audit entry is written and the request is marked
// Approved, atomically. A requester already holding Teacher or Admin gets
// ErrAlreadyPromoted and nothing is written.
func (s *Service) PromoteToTeacher(ctx context.Context, requestID, actorID uuid.UUID) (*AuditEntry, error) {
	entry, err := s.repo.Approve(ctx, requestID, actorID, s.now())
	if err != nil {
		if isDomain(err) {
			return nil, err
		}
		return nil, fmt.Errorf("approving tutor request: %w", err)
	}

	s.metrics.RoleChanged(string(entry.NewRole))
	slog.Info("identity promoted to teacher",
		"requestId", requestID,
		"identityId", entry.IdentityID,
		"actorId", actorID,
		"oldRole", entry.OldRole,
	)
	return entry, nil
}

// Reject declines a Pending request.
func (s *Service) Reject(ctx context.Context, requestID, actorID uuid.UUID) (*TutorRequest, error) {
	req, err := s.repo.Reject(ctx, requestID, actorID, s.now())
	if err != nil {
		if isDomain(err) {
			return nil, err
		}
		return nil, fmt.Errorf("rejecting tutor request: %w", err)
	}

	slog.Info("tutor request rejected", "requestId", requestID, "actorId", actorID)
	return req, nil
}

// ChangeRole sets the role of the identity registered under email. The
// change is audited like a promotion.
func (s *Service) ChangeRole(ctx context.Context, email, roleName string, actorID uuid.UUID) (*AuditEntry, error) {
	role, ok := identity.ParseRole(roleName)
	if !ok {
		return nil, ErrInvalidRole
	}

	target, err := s.identities.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, identity.ErrIdentityNotFound) {
			return nil, ErrIdentityNotFound
		}
		return nil, fmt.Errorf("fetching identity: %w", err)
	}

	entry, err := s.repo.ChangeRole(ctx, target.ID, role, actorID, s.now())
	if err != nil {
		if isDomain(err) {
			return nil, err
		}
		return nil, fmt.Errorf("changing role: %w", err)
	}

	s.metrics.RoleChanged(string(role))
	slog.Info("identity role changed",
		"identityId", target.ID,
		"actorId", actorID,
		"oldRole", entry.OldRole,
		"newRole", entry.NewRole,
	)
	return entry, nil
}

// History returns the role audit trail of an identity.
func (s *Service) History(ctx context.Context, identityID uuid.UUID) ([]AuditEntry, error) {
	entries, err := s.repo.History(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("listing role history: %w", err)
	}
	return entries, nil
}

func isDomain(err error) bool {
	for _, d := range []error{
		ErrRequestNotFound, ErrRequestNotPending, ErrPendingRequestExists,
		ErrAlreadyPromoted, ErrRoleUnchanged, ErrIdentityNotFound, ErrInvalidRole,
	} {
		if errors.Is(err, d) {
			return true
		}
	}
	return false
}
