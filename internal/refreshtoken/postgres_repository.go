package refreshtoken

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

const recordColumns = `id, identity_id, token_hash, jwt_id, issued_at, expires_at, revoked, revoked_at, replaced_by`

// PostgresRepository implements Repository using pgxpool. Mutations of one
// identity's tokens lock that identity's row first, so issuance, rotation
// and bulk revocation of the same identity never interleave.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new Repository backed by the given connection pool.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &PostgresRepository{pool: pool}
}

// Issue revokes conflicting records and inserts rec in one transaction.
func (r *PostgresRepository) Issue(ctx context.Context, rec *Record, revokeAllActive bool) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := lockIdentity(ctx, tx, rec.IdentityID); err != nil {
			return err
		}

		_, err := tx.Exec(ctx, `
			UPDATE refresh_tokens
			SET revoked = TRUE, revoked_at = $4
			WHERE identity_id = $1 AND NOT revoked AND (jwt_id = $2 OR $3)`,
			rec.IdentityID, rec.JWTID, revokeAllActive, rec.IssuedAt,
		)
		if err != nil {
			return fmt.Errorf("revoking prior refresh tokens: %w", err)
		}

		return insertRecord(ctx, tx, rec)
	})
}

// Rotate locks the owner and the presented record, applies fn's decision and
// commits. The owner and its roles are read over the transaction, so fn never
// needs a second pool connection. fn's error is returned after a successful
// commit.
func (r *PostgresRepository) Rotate(ctx context.Context, tokenHash string, fn RotateFunc) error {
	var decisionErr error

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var owner uuid.UUID
		err := tx.QueryRow(ctx, `SELECT identity_id FROM refresh_tokens WHERE token_hash = $1`, tokenHash).Scan(&owner)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("resolving refresh token owner: %w", err)
		}

		var snapshot *Owner
		ident, roles, err := identity.LockWithRoles(ctx, tx, owner)
		switch {
		case err == nil:
			snapshot = &Owner{Identity: *ident, Roles: roles}
		case !errors.Is(err, identity.ErrIdentityNotFound):
			return fmt.Errorf("locking refresh token owner: %w", err)
		}

		current, err := scanRecord(tx.QueryRow(ctx,
			`SELECT `+recordColumns+` FROM refresh_tokens WHERE token_hash = $1 FOR UPDATE`, tokenHash))
		if err != nil {
			return err
		}

		decision, fnErr := fn(*current, snapshot)
		decisionErr = fnErr

		at := decision.At
		if at.IsZero() {
			at = time.Now().UTC()
		}

		var successorID *uuid.UUID
		if decision.Successor != nil {
			if decision.Successor.ID == uuid.Nil {
				decision.Successor.ID = uuid.New()
			}
			if err := insertRecord(ctx, tx, decision.Successor); err != nil {
				return err
			}
			successorID = &decision.Successor.ID
		}

		if decision.RevokeCurrent {
			_, err := tx.Exec(ctx, `
				UPDATE refresh_tokens
				SET revoked = TRUE, revoked_at = $2, replaced_by = COALESCE($3, replaced_by)
				WHERE id = $1 AND NOT revoked`,
				current.ID, at, successorID,
			)
			if err != nil {
				return fmt.Errorf("revoking refresh token: %w", err)
			}
		}

		if decision.RevokeAllForIdentity {
			if _, err := revokeAll(ctx, tx, current.IdentityID, at); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return err
	}

	return decisionErr
}

// Revoke marks the record matching tokenHash as revoked.
func (r *PostgresRepository) Revoke(ctx context.Context, tokenHash string, at time.Time) (*Record, error) {
	rec, err := scanRecord(r.pool.QueryRow(ctx, `
		UPDATE refresh_tokens
		SET revoked = TRUE, revoked_at = COALESCE(revoked_at, $2)
		WHERE token_hash = $1
		RETURNING `+recordColumns,
		tokenHash, at,
	))
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// RevokeAllForIdentity revokes every active record of an identity.
func (r *PostgresRepository) RevokeAllForIdentity(ctx context.Context, identityID uuid.UUID, at time.Time) (int64, error) {
	var n int64
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := lockIdentity(ctx, tx, identityID); err != nil {
			return err
		}
		var err error
		n, err = revokeAll(ctx, tx, identityID, at)
		return err
	})
	return n, err
}

// GetByHash retrieves a record by the hash of its secret.
func (r *PostgresRepository) GetByHash(ctx context.Context, tokenHash string) (*Record, error) {
	return scanRecord(r.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM refresh_tokens WHERE token_hash = $1`, tokenHash))
}

// ListActive returns the unrevoked, unexpired records of an identity.
func (r *PostgresRepository) ListActive(ctx context.Context, identityID uuid.UUID, now time.Time) ([]Record, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+recordColumns+`
		FROM refresh_tokens
		WHERE identity_id = $1 AND NOT revoked AND expires_at > $2
		ORDER BY issued_at ASC`,
		identityID, now,
	)
	if err != nil {
		return nil, fmt.Errorf("listing active refresh tokens: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating refresh token rows: %w", err)
	}

	return records, nil
}

func lockIdentity(ctx context.Context, tx pgx.Tx, identityID uuid.UUID) error {
	var id uuid.UUID
	err := tx.QueryRow(ctx, `SELECT id FROM identities WHERE id = $1 FOR UPDATE`, identityID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("locking identity: %w", err)
	}
	return nil
}

func insertRecord(ctx context.Context, tx pgx.Tx, rec *Record) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO refresh_tokens (id, identity_id, token_hash, jwt_id, issued_at, expires_at, revoked)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE)`,
		rec.ID, rec.IdentityID, rec.TokenHash, rec.JWTID, rec.IssuedAt, rec.ExpiresAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateToken
		}
		return fmt.Errorf("inserting refresh token: %w", err)
	}
	return nil
}

func revokeAll(ctx context.Context, tx pgx.Tx, identityID uuid.UUID, at time.Time) (int64, error) {
	result, err := tx.Exec(ctx, `
		UPDATE refresh_tokens
		SET revoked = TRUE, revoked_at = $2
		WHERE identity_id = $1 AND NOT revoked`,
		identityID, at,
	)
	if err != nil {
		return 0, fmt.Errorf("revoking identity refresh tokens: %w", err)
	}
	return result.RowsAffected(), nil
}

func scanRecord(row pgx.Row) (*Record, error) {
	var rec Record
	err := row.Scan(
		&rec.ID, &rec.IdentityID, &rec.TokenHash, &rec.JWTID,
		&rec.IssuedAt, &rec.ExpiresAt, &rec.Revoked, &rec.RevokedAt, &rec.ReplacedBy,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning refresh token: %w", err)
	}
	return &rec, nil
}
