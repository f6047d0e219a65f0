package promotion

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tutorlink/identity/internal/identity"
)

// MemoryRepository implements Repository in process memory on top of an
// identity.MemoryRepository, which owns the role sets.
type MemoryRepository struct {
	mu         sync.Mutex
	identities *identity.MemoryRepository
	requests   map[uuid.UUID]*TutorRequest
	audit      []AuditEntry
	now        func() time.Time
}

// NewMemoryRepository creates an empty in-memory promotion store.
func NewMemoryRepository(identities *identity.MemoryRepository) *MemoryRepository {
	return &MemoryRepository{
		identities: identities,
		requests:   make(map[uuid.UUID]*TutorRequest),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// CreateRequest stores a Pending request for the identity.
func (m *MemoryRepository) CreateRequest(ctx context.Context, identityID uuid.UUID) (*TutorRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.identities.GetByID(ctx, identityID); err != nil {
		return nil, mapIdentityErr(err)
	}
	for _, req := range m.requests {
		if req.IdentityID == identityID && req.Status == StatusPending {
			return nil, ErrPendingRequestExists
		}
	}

	now := m.now()
	req := &TutorRequest{
		ID:         uuid.New(),
		IdentityID: identityID,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	m.requests[req.ID] = req
	cp := *req
	return &cp, nil
}

// GetRequest retrieves a request by id.
func (m *MemoryRepository) GetRequest(_ context.Context, id uuid.UUID) (*TutorRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[id]
	if !ok {
		return nil, ErrRequestNotFound
	}
	cp := *req
	return &cp, nil
}

// ListRequests returns requests in the given status, oldest first.
func (m *MemoryRepository) ListRequests(_ context.Context, status Status) ([]TutorRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	requests := []TutorRequest{}
	for _, req := range m.requests {
		if req.Status == status {
			requests = append(requests, *req)
		}
	}
	sort.Slice(requests, func(i, j int) bool {
		return requests[i].CreatedAt.Before(requests[j].CreatedAt)
	})
	return requests, nil
}

// Approve promotes the requester. Nothing is written unless every step succeeds.
func (m *MemoryRepository) Approve(ctx context.Context, requestID, actorID uuid.UUID, at time.Time) (*AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[requestID]
	if !ok {
		return nil, ErrRequestNotFound
	}
	if req.Status != StatusPending {
		return nil, ErrRequestNotPending
	}

	var old identity.Role
	err := m.identities.UpdateRoles(ctx, req.IdentityID, func(current []identity.Role) ([]identity.Role, error) {
		if !promotable(current) {
			return nil, ErrAlreadyPromoted
		}
		old = identity.EffectiveRole(current)
		return []identity.Role{identity.RoleTeacher}, nil
	})
	if err != nil {
		return nil, mapIdentityErr(err)
	}

	entry := m.record(req.IdentityID, old, identity.RoleTeacher, actorID, at)

	req.Status = StatusApproved
	reviewer := actorID
	req.ReviewedBy = &reviewer
	req.UpdatedAt = at

	return &entry, nil
}

// Reject marks a Pending request Rejected.
func (m *MemoryRepository) Reject(_ context.Context, requestID, actorID uuid.UUID, at time.Time) (*TutorRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[requestID]
	if !ok {
		return nil, ErrRequestNotFound
	}
	if req.Status != StatusPending {
		return nil, ErrRequestNotPending
	}

	req.Status = StatusRejected
	reviewer := actorID
	req.ReviewedBy = &reviewer
	req.UpdatedAt = at

	cp := *req
	return &cp, nil
}

// ChangeRole replaces the identity's roles and records the audit entry.
func (m *MemoryRepository) ChangeRole(ctx context.Context, identityID uuid.UUID, role identity.Role, actorID uuid.UUID, at time.Time) (*AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var old identity.Role
	err := m.identities.UpdateRoles(ctx, identityID, func(current []identity.Role) ([]identity.Role, error) {
		if len(current) == 1 && current[0] == role {
			return nil, ErrRoleUnchanged
		}
		old = identity.EffectiveRole(current)
		return []identity.Role{role}, nil
	})
	if err != nil {
		return nil, mapIdentityErr(err)
	}

	entry := m.record(identityID, old, role, actorID, at)
	return &entry, nil
}

// History returns the audit entries of an identity, oldest first.
func (m *MemoryRepository) History(_ context.Context, identityID uuid.UUID) ([]AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := []AuditEntry{}
	for _, e := range m.audit {
		if e.IdentityID == identityID {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func (m *MemoryRepository) record(identityID uuid.UUID, old, next identity.Role, actorID uuid.UUID, at time.Time) AuditEntry {
	entry := AuditEntry{
		ID:         uuid.New(),
		IdentityID: identityID,
		OldRole:    old,
		NewRole:    next,
		ActorID:    actorID,
		ChangedAt:  at,
	}
	m.audit = append(m.audit, entry)
	return entry
}

func mapIdentityErr(err error) error {
	if errors.Is(err, identity.ErrIdentityNotFound) {
		return ErrIdentityNotFound
	}
	return err
}
