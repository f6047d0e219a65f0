package refreshtoken

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
// identity.MemoryRepository, which owns the identities Rotate hands to its
// callback. A single mutex serialises every write, which gives Rotate the
// same exclusivity the Postgres row locks give.
type MemoryRepository struct {
	mu         sync.Mutex
	identities *identity.MemoryRepository
	records    map[uuid.UUID]*Record
	byHash     map[string]uuid.UUID
}

// NewMemoryRepository creates an empty in-memory ledger.
func NewMemoryRepository(identities *identity.MemoryRepository) *MemoryRepository {
	return &MemoryRepository{
		identities: identities,
		records:    make(map[uuid.UUID]*Record),
		byHash:     make(map[string]uuid.UUID),
	}
}

// Issue revokes conflicting records and stores rec.
func (m *MemoryRepository) Issue(_ context.Context, rec *Record, revokeAllActive bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byHash[rec.TokenHash]; exists {
		return ErrDuplicateToken
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}

	for _, existing := range m.records {
		if existing.IdentityID != rec.IdentityID || existing.Revoked {
			continue
		}
		if revokeAllActive || existing.JWTID == rec.JWTID {
			m.revoke(existing, rec.IssuedAt, nil)
		}
	}

	m.insert(rec)
	return nil
}

// Rotate applies fn's decision to the record matching tokenHash under the
// store lock.
func (m *MemoryRepository) Rotate(ctx context.Context, tokenHash string, fn RotateFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byHash[tokenHash]
	if !ok {
		return ErrNotFound
	}
	current := m.records[id]

	var owner *Owner
	ident, roles, err := m.identities.GetWithRoles(ctx, current.IdentityID)
	switch {
	case err == nil:
		owner = &Owner{Identity: *ident, Roles: roles}
	case !errors.Is(err, identity.ErrIdentityNotFound):
		return err
	}

	decision, fnErr := fn(copyRecord(current), owner)

	at := decision.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	var successorID *uuid.UUID
	if decision.Successor != nil {
		if _, exists := m.byHash[decision.Successor.TokenHash]; exists {
			return ErrDuplicateToken
		}
		if decision.Successor.ID == uuid.Nil {
			decision.Successor.ID = uuid.New()
		}
		m.insert(decision.Successor)
		sid := decision.Successor.ID
		successorID = &sid
	}

	if decision.RevokeCurrent && !current.Revoked {
		m.revoke(current, at, successorID)
	}

	if decision.RevokeAllForIdentity {
		m.revokeAll(current.IdentityID, at)
	}

	return fnErr
}

// Revoke marks the record matching tokenHash as revoked.
func (m *MemoryRepository) Revoke(_ context.Context, tokenHash string, at time.Time) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byHash[tokenHash]
	if !ok {
		return nil, ErrNotFound
	}
	rec := m.records[id]
	if !rec.Revoked {
		m.revoke(rec, at, nil)
	}
	cp := copyRecord(rec)
	return &cp, nil
}

// RevokeAllForIdentity revokes every active record of an identity.
func (m *MemoryRepository) RevokeAllForIdentity(_ context.Context, identityID uuid.UUID, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.revokeAll(identityID, at), nil
}

// GetByHash retrieves a copy of the record matching tokenHash.
func (m *MemoryRepository) GetByHash(_ context.Context, tokenHash string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byHash[tokenHash]
	if !ok {
		return nil, ErrNotFound
	}
	cp := copyRecord(m.records[id])
	return &cp, nil
}

// ListActive returns the unrevoked, unexpired records of an identity.
func (m *MemoryRepository) ListActive(_ context.Context, identityID uuid.UUID, now time.Time) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	records := []Record{}
	for _, rec := range m.records {
		if rec.IdentityID == identityID && rec.Active(now) {
			records = append(records, copyRecord(rec))
		}
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].IssuedAt.Before(records[j].IssuedAt)
	})
	return records, nil
}

func (m *MemoryRepository) insert(rec *Record) {
	stored := copyRecord(rec)
	stored.Revoked = false
	stored.RevokedAt = nil
	stored.ReplacedBy = nil
	m.records[stored.ID] = &stored
	m.byHash[stored.TokenHash] = stored.ID
}

func (m *MemoryRepository) revoke(rec *Record, at time.Time, replacedBy *uuid.UUID) {
	rec.Revoked = true
	t := at
	rec.RevokedAt = &t
	if replacedBy != nil {
		id := *replacedBy
		rec.ReplacedBy = &id
	}
}

func (m *MemoryRepository) revokeAll(identityID uuid.UUID, at time.Time) int64 {
	var n int64
	for _, rec := range m.records {
		if rec.IdentityID == identityID && !rec.Revoked {
			m.revoke(rec, at, nil)
			n++
		}
	}
	return n
}

func copyRecord(rec *Record) Record {
	cp := *rec
	if rec.RevokedAt != nil {
		t := *rec.RevokedAt
		cp.RevokedAt = &t
	}
	if rec.ReplacedBy != nil {
		id := *rec.ReplacedBy
		cp.ReplacedBy = &id
	}
	return cp
}
