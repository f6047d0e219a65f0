package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

const identityColumns = `
		i.id, i.email, i.password_hash, i.email_confirmed, i.is_active,
		i.display_name, i.avatar_url, i.created_at, i.updated_at`

// PostgresRepository implements Repository using pgxpool.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new Repository backed by the given connection pool.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &PostgresRepository{pool: pool}
}

// Create inserts a new identity, its roles and optional confirmation code
// in one transaction.
func (r *PostgresRepository) Create(ctx context.Context, ident *Identity, roles []Role, confirmation *Confirmation) error {
	ident.Email = NormalizeEmail(ident.Email)

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		query := `
			INSERT INTO identities (email, password_hash, email_confirmed, is_active, display_name, avatar_url)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id, created_at, updated_at`

		err := tx.QueryRow(ctx, query,
			ident.Email,
			ident.PasswordHash,
			ident.EmailConfirmed,
			ident.IsActive,
			ident.DisplayName,
			ident.AvatarURL,
		).Scan(&ident.ID, &ident.CreatedAt, &ident.UpdatedAt)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return ErrDuplicateEmail
			}
			return fmt.Errorf("inserting identity: %w", err)
		}

		for _, role := range roles {
			if _, err := tx.Exec(ctx,
				`INSERT INTO identity_roles (identity_id, role) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
				ident.ID, string(role),
			); err != nil {
				return fmt.Errorf("inserting role %s: %w", role, err)
			}
		}

		if confirmation != nil {
			confirmation.IdentityID = ident.ID
			if _, err := tx.Exec(ctx,
				`INSERT INTO email_confirmations (identity_id, code_hash, expires_at) VALUES ($1, $2, $3)`,
				ident.ID, confirmation.CodeHash, confirmation.ExpiresAt,
			); err != nil {
				return fmt.Errorf("inserting email confirmation: %w", err)
			}
		}

		return nil
	})
}

// GetByID retrieves a single identity by its UUID.
func (r *PostgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities i WHERE i.id = $1`
	return r.getOne(ctx, query, id)
}

// GetByEmail retrieves a single identity by email, case-insensitively.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities i WHERE lower(i.email) = $1`
	return r.getOne(ctx, query, NormalizeEmail(email))
}

// GetByFederatedLink resolves the identity linked to (provider, subject).
func (r *PostgresRepository) GetByFederatedLink(ctx context.Context, provider, subject string) (*Identity, error) {
	query := `
		SELECT ` + identityColumns + `
		FROM identities i
		JOIN federated_links f ON f.identity_id = i.id
		WHERE f.provider = $1 AND f.subject = $2`
	return r.getOne(ctx, query, provider, subject)
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, args ...any) (*Identity, error) {
	return scanIdentity(r.pool.QueryRow(ctx, query, args...))
}

// LinkFederated records a federated link. Re-linking the same subject to the
// same identity is a no-op.
func (r *PostgresRepository) LinkFederated(ctx context.Context, link *FederatedLink) error {
	query := `
		INSERT INTO federated_links (identity_id, provider, subject, email)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (provider, subject) DO NOTHING
		RETURNING created_at`

	err := r.pool.QueryRow(ctx, query, link.IdentityID, link.Provider, link.Subject, link.Email).Scan(&link.CreatedAt)
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		// (identity_id, provider) already holds another subject
		return ErrLinkConflict
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("inserting federated link: %w", err)
	}

	var owner uuid.UUID
	err = r.pool.QueryRow(ctx,
		`SELECT identity_id FROM federated_links WHERE provider = $1 AND subject = $2`,
		link.Provider, link.Subject,
	).Scan(&owner)
	if err != nil {
		return fmt.Errorf("checking federated link owner: %w", err)
	}
	if owner != link.IdentityID {
		return ErrLinkConflict
	}
	return nil
}

// Roles returns the role names assigned to an identity.
func (r *PostgresRepository) Roles(ctx context.Context, id uuid.UUID) ([]Role, error) {
	return queryRoles(ctx, r.pool, id)
}

// GetConfirmation returns the pending confirmation code for an identity.
func (r *PostgresRepository) GetConfirmation(ctx context.Context, id uuid.UUID) (*Confirmation, error) {
	var c Confirmation
	err := r.pool.QueryRow(ctx,
		`SELECT identity_id, code_hash, expires_at FROM email_confirmations WHERE identity_id = $1`, id,
	).Scan(&c.IdentityID, &c.CodeHash, &c.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConfirmationNotFound
		}
		return nil, fmt.Errorf("querying email confirmation: %w", err)
	}
	return &c, nil
}

// ConfirmEmail flips the confirmed flag and removes the pending code.
func (r *PostgresRepository) ConfirmEmail(ctx context.Context, id uuid.UUID) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx,
			`UPDATE identities SET email_confirmed = TRUE, updated_at = NOW() WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("confirming email: %w", err)
		}
		if result.RowsAffected() == 0 {
			return ErrIdentityNotFound
		}

		if _, err := tx.Exec(ctx, `DELETE FROM email_confirmations WHERE identity_id = $1`, id); err != nil {
			return fmt.Errorf("deleting email confirmation: %w", err)
		}
		return nil
	})
}

// SetActive enables or disables an identity.
func (r *PostgresRepository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	result, err := r.pool.Exec(ctx,
		`UPDATE identities SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("updating identity status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrIdentityNotFound
	}
	return nil
}

// CountByRole returns how many identities hold the given role.
func (r *PostgresRepository) CountByRole(ctx context.Context, role Role) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM identity_roles WHERE role = $1`, string(role)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting identities by role: %w", err)
	}
	return count, nil
}

// LockWithRoles locks the identity row for the rest of tx and reads the
// identity and its roles over tx. Returns ErrIdentityNotFound when the row
// does not exist.
func LockWithRoles(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*Identity, []Role, error) {
	ident, err := scanIdentity(tx.QueryRow(ctx,
		`SELECT `+identityColumns+` FROM identities i WHERE i.id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, nil, err
	}

	roles, err := queryRoles(ctx, tx, id)
	if err != nil {
		return nil, nil, err
	}
	return ident, roles, nil
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func scanIdentity(row pgx.Row) (*Identity, error) {
	var i Identity
	err := row.Scan(
		&i.ID, &i.Email, &i.PasswordHash, &i.EmailConfirmed, &i.IsActive,
		&i.DisplayName, &i.AvatarURL, &i.CreatedAt, &i.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrIdentityNotFound
		}
		return nil, fmt.Errorf("querying identity: %w", err)
	}
	return &i, nil
}

func queryRoles(ctx context.Context, q querier, id uuid.UUID) ([]Role, error) {
	rows, err := q.Query(ctx, `SELECT role FROM identity_roles WHERE identity_id = $1 ORDER BY role`, id)
	if err != nil {
		return nil, fmt.Errorf("listing roles: %w", err)
	}
	defer rows.Close()

	roles := []Role{}
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, fmt.Errorf("scanning role row: %w", err)
		}
		roles = append(roles, Role(role))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating role rows: %w", err)
	}

	return roles, nil
}
