package identity

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type linkKey struct {
	provider string
	subject  string
}

// MemoryRepository implements Repository in process memory. It backs
// STORAGE=memory and the service tests.
type MemoryRepository struct {
	mu            sync.Mutex
	identities    map[uuid.UUID]*Identity
	byEmail       map[string]uuid.UUID
	roles         map[uuid.UUID][]Role
	links         map[linkKey]*FederatedLink
	confirmations map[uuid.UUID]*Confirmation
	now           func() time.Time
}

// NewMemoryRepository creates an empty in-memory identity store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		identities:    make(map[uuid.UUID]*Identity),
		byEmail:       make(map[string]uuid.UUID),
		roles:         make(map[uuid.UUID][]Role),
		links:         make(map[linkKey]*FederatedLink),
		confirmations: make(map[uuid.UUID]*Confirmation),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Create stores the identity, roles and confirmation atomically.
func (m *MemoryRepository) Create(_ context.Context, ident *Identity, roles []Role, confirmation *Confirmation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ident.Email = NormalizeEmail(ident.Email)
	if _, exists := m.byEmail[ident.Email]; exists {
		return ErrDuplicateEmail
	}

	now := m.now()
	ident.ID = uuid.New()
	ident.CreatedAt = now
	ident.UpdatedAt = now

	stored := *ident
	m.identities[ident.ID] = &stored
	m.byEmail[ident.Email] = ident.ID
	m.roles[ident.ID] = dedupeRoles(roles)

	if confirmation != nil {
		confirmation.IdentityID = ident.ID
		c := *confirmation
		m.confirmations[ident.ID] = &c
	}

	return nil
}

// GetByID retrieves a copy of an identity by id.
func (m *MemoryRepository) GetByID(_ context.Context, id uuid.UUID) (*Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.copyOf(id)
}

// GetByEmail retrieves a copy of an identity by email.
func (m *MemoryRepository) GetByEmail(_ context.Context, email string) (*Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byEmail[NormalizeEmail(email)]
	if !ok {
		return nil, ErrIdentityNotFound
	}
	return m.copyOf(id)
}

// GetByFederatedLink resolves the identity linked to (provider, subject).
func (m *MemoryRepository) GetByFederatedLink(_ context.Context, provider, subject string) (*Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	link, ok := m.links[linkKey{provider, subject}]
	if !ok {
		return nil, ErrIdentityNotFound
	}
	return m.copyOf(link.IdentityID)
}

// LinkFederated records a federated link.
func (m *MemoryRepository) LinkFederated(_ context.Context, link *FederatedLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.identities[link.IdentityID]; !ok {
		return ErrIdentityNotFound
	}

	key := linkKey{link.Provider, link.Subject}
	if existing, ok := m.links[key]; ok {
		if existing.IdentityID != link.IdentityID {
			return ErrLinkConflict
		}
		return nil
	}
	for k, l := range m.links {
		if l.IdentityID == link.IdentityID && k.provider == link.Provider {
			return ErrLinkConflict
		}
	}

	link.CreatedAt = m.now()
	l := *link
	m.links[key] = &l
	return nil
}

// Roles returns the roles assigned to an identity.
func (m *MemoryRepository) Roles(_ context.Context, id uuid.UUID) ([]Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]Role{}, m.roles[id]...), nil
}

// GetWithRoles reads an identity and its roles in one critical section.
func (m *MemoryRepository) GetWithRoles(_ context.Context, id uuid.UUID) (*Identity, []Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ident, err := m.copyOf(id)
	if err != nil {
		return nil, nil, err
	}
	return ident, append([]Role{}, m.roles[id]...), nil
}

// UpdateRoles replaces the role set of an identity with whatever fn
// returns, under the store lock. An error from fn leaves the roles untouched.
func (m *MemoryRepository) UpdateRoles(_ context.Context, id uuid.UUID, fn func(current []Role) ([]Role, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.identities[id]; !ok {
		return ErrIdentityNotFound
	}

	next, err := fn(append([]Role{}, m.roles[id]...))
	if err != nil {
		return err
	}
	m.roles[id] = dedupeRoles(next)
	m.identities[id].UpdatedAt = m.now()
	return nil
}

// GetConfirmation returns the pending confirmation for an identity.
func (m *MemoryRepository) GetConfirmation(_ context.Context, id uuid.UUID) (*Confirmation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.confirmations[id]
	if !ok {
		return nil, ErrConfirmationNotFound
	}
	cp := *c
	return &cp, nil
}

// ConfirmEmail flips the confirmed flag and removes the pending code.
func (m *MemoryRepository) ConfirmEmail(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ident, ok := m.identities[id]
	if !ok {
		return ErrIdentityNotFound
	}
	ident.EmailConfirmed = true
	ident.UpdatedAt = m.now()
	delete(m.confirmations, id)
	return nil
}

// SetActive enables or disables an identity.
func (m *MemoryRepository) SetActive(_ context.Context, id uuid.UUID, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ident, ok := m.identities[id]
	if !ok {
		return ErrIdentityNotFound
	}
	ident.IsActive = active
	ident.UpdatedAt = m.now()
	return nil
}

// CountByRole returns how many identities hold the given role.
func (m *MemoryRepository) CountByRole(_ context.Context, role Role) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, roles := range m.roles {
		for _, r := range roles {
			if r == role {
				count++
				break
			}
		}
	}
	return count, nil
}

func (m *MemoryRepository) copyOf(id uuid.UUID) (*Identity, error) {
	ident, ok := m.identities[id]
	if !ok {
		return nil, ErrIdentityNotFound
	}
	cp := *ident
	return &cp, nil
}

func dedupeRoles(roles []Role) []Role {
	seen := make(map[Role]bool, len(roles))
	out := make([]Role, 0, len(roles))
	for _, r := range roles {
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	return out
}
