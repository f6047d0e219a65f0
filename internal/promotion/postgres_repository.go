package promotion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tutorlink/identity/internal/identity"
)

const requestColumns = `id, identity_id, status, reviewed_by, created_at, updated_at`

// PostgresRepository implements Repository using pgxpool.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new Repository backed by the given connection pool.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &PostgresRepository{pool: pool}
}

// CreateRequest inserts a Pending request for the identity.
func (r *PostgresRepository) CreateRequest(ctx context.Context, identityID uuid.UUID) (*TutorRequest, error) {
	req, err := scanRequest(r.pool.QueryRow(ctx, `
		INSERT INTO tutor_requests (identity_id, status)
		VALUES ($1, 'Pending')
		RETURNING `+requestColumns,
		identityID,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23505":
				return nil, ErrPendingRequestExists
			case "23503":
				return nil, ErrIdentityNotFound
			}
		}
		return nil, err
	}
	return req, nil
}

// GetRequest retrieves a request by id.
func (r *PostgresRepository) GetRequest(ctx context.Context, id uuid.UUID) (*TutorRequest, error) {
	return scanRequest(r.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM tutor_requests WHERE id = $1`, id))
}

// ListRequests returns requests in the given status, oldest first.
func (r *PostgresRepository) ListRequests(ctx context.Context, status Status) ([]TutorRequest, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+requestColumns+`
		FROM tutor_requests
		WHERE status = $1
		ORDER BY created_at ASC`,
		string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("listing tutor requests: %w", err)
	}
	defer rows.Close()

	requests := []TutorRequest{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tutor request rows: %w", err)
	}
	return requests, nil
}

// Approve promotes the requester in one transaction.
func (r *PostgresRepository) Approve(ctx context.Context, requestID, actorID uuid.UUID, at time.Time) (*AuditEntry, error) {
	var entry *AuditEntry

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		req, err := scanRequest(tx.QueryRow(ctx,
			`SELECT `+requestColumns+` FROM tutor_requests WHERE id = $1 FOR UPDATE`, requestID))
		if err != nil {
			return err
		}
		if req.Status != StatusPending {
			return ErrRequestNotPending
		}

		roles, err := lockRoles(ctx, tx, req.IdentityID)
		if err != nil {
			return err
		}
		if !promotable(roles) {
			return ErrAlreadyPromoted
		}

		entry, err = replaceRoles(ctx, tx, req.IdentityID, roles, identity.RoleTeacher, actorID, at)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			UPDATE tutor_requests
			SET status = 'Approved', reviewed_by = $2, updated_at = $3
			WHERE id = $1`,
			requestID, actorID, at,
		)
		if err != nil {
			return fmt.Errorf("approving tutor request: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Reject marks a Pending request Rejected.
func (r *PostgresRepository) Reject(ctx context.Context, requestID, actorID uuid.UUID, at time.Time) (*TutorRequest, error) {
	var req *TutorRequest

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		current, err := scanRequest(tx.QueryRow(ctx,
			`SELECT `+requestColumns+` FROM tutor_requests WHERE id = $1 FOR UPDATE`, requestID))
		if err != nil {
			return err
		}
		if current.Status != StatusPending {
			return ErrRequestNotPending
		}

		req, err = scanRequest(tx.QueryRow(ctx, `
			UPDATE tutor_requests
			SET status = 'Rejected', reviewed_by = $2, updated_at = $3
			WHERE id = $1
			RETURNING `+requestColumns,
			requestID, actorID, at,
		))
		return err
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

// ChangeRole replaces the identity's roles and records the audit entry.
func (r *PostgresRepository) ChangeRole(ctx context.Context, identityID uuid.UUID, role identity.Role, actorID uuid.UUID, at time.Time) (*AuditEntry, error) {
	var entry *AuditEntry

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		roles, err := lockRoles(ctx, tx, identityID)
		if err != nil {
			return err
		}
		if len(roles) == 1 && roles[0] == role {
			return ErrRoleUnchanged
		}

		entry, err = replaceRoles(ctx, tx, identityID, roles, role, actorID, at)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// History returns the audit entries of an identity, oldest first.
func (r *PostgresRepository) History(ctx context.Context, identityID uuid.UUID) ([]AuditEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, identity_id, old_role, new_role, actor_id, changed_at
		FROM role_audit
		WHERE identity_id = $1
		ORDER BY changed_at ASC, id ASC`,
		identityID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing role audit: %w", err)
	}
	defer rows.Close()

	entries := []AuditEntry{}
	for rows.Next() {
		var e AuditEntry
		var oldRole, newRole string
		if err := rows.Scan(&e.ID, &e.IdentityID, &oldRole, &newRole, &e.ActorID, &e.ChangedAt); err != nil {
			return nil, fmt.Errorf("scanning role audit row: %w", err)
		}
		e.OldRole = identity.Role(oldRole)
		e.NewRole = identity.Role(newRole)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating role audit rows: %w", err)
	}
	return entries, nil
}

// lockRoles locks the identity row and returns its current roles.
func lockRoles(ctx context.Context, tx pgx.Tx, identityID uuid.UUID) ([]identity.Role, error) {
	var id uuid.UUID
	err := tx.QueryRow(ctx, `SELECT id FROM identities WHERE id = $1 FOR UPDATE`, identityID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrIdentityNotFound
		}
		return nil, fmt.Errorf("locking identity: %w", err)
	}

	rows, err := tx.Query(ctx, `SELECT role FROM identity_roles WHERE identity_id = $1`, identityID)
	if err != nil {
		return nil, fmt.Errorf("listing roles: %w", err)
	}
	defer rows.Close()

	roles := []identity.Role{}
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, fmt.Errorf("scanning role row: %w", err)
		}
		roles = append(roles, identity.Role(role))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating role rows: %w", err)
	}
	return roles, nil
}

// replaceRoles drops every role of the identity, assigns role and writes the
// audit entry.
func replaceRoles(ctx context.Context, tx pgx.Tx, identityID uuid.UUID, current []identity.Role, role identity.Role, actorID uuid.UUID, at time.Time) (*AuditEntry, error) {
	if _, err := tx.Exec(ctx, `DELETE FROM identity_roles WHERE identity_id = $1`, identityID); err != nil {
		return nil, fmt.Errorf("removing roles: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO identity_roles (identity_id, role) VALUES ($1, $2)`, identityID, string(role),
	); err != nil {
		return nil, fmt.Errorf("assigning role: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE identities SET updated_at = $2 WHERE id = $1`, identityID, at,
	); err != nil {
		return nil, fmt.Errorf("touching identity: %w", err)
	}

	entry := &AuditEntry{
		IdentityID: identityID,
		OldRole:    identity.EffectiveRole(current),
		NewRole:    role,
		ActorID:    actorID,
		ChangedAt:  at,
	}
	err := tx.QueryRow(ctx, `
		INSERT INTO role_audit (identity_id, old_role, new_role, actor_id, changed_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		entry.IdentityID, string(entry.OldRole), string(entry.NewRole), entry.ActorID, entry.ChangedAt,
	).Scan(&entry.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return nil, ErrIdentityNotFound
		}
		return nil, fmt.Errorf("writing role audit: %w", err)
	}
	return entry, nil
}

func scanRequest(row pgx.Row) (*TutorRequest, error) {
	var req TutorRequest
	var status string
	err := row.Scan(&req.ID, &req.IdentityID, &status, &req.ReviewedBy, &req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRequestNotFound
		}
		return nil, fmt.Errorf("scanning tutor request: %w", err)
	}
	req.Status = Status(status)
	return &req, nil
}
