package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type PostgresIdentityStore struct {
	db *sql.DB
}

func NewPostgresIdentityStore(db *sql.DB) (*PostgresIdentityStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	s := &PostgresIdentityStore{db: db}
	if err := s.ensureSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresIdentityStore) ensureSchema() error {
	const q = `
CREATE TABLE IF NOT EXISTS organizations (
	org_id BIGINT PRIMARY KEY,
	org_name TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS roles (
	role_id BIGINT PRIMARY KEY,
	role_name TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS users (
	user_id BIGINT PRIMARY KEY,
	user_name TEXT NOT NULL,
	email TEXT NOT NULL UNIQUE,
	org_id BIGINT REFERENCES organizations (org_id),
	role_id BIGINT REFERENCES roles (role_id),
	password_hash TEXT NOT NULL,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	current_session_id TEXT,
	last_login_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
	if _, err := s.db.Exec(q); err != nil {
		return fmt.Errorf("ensure users schema: %w", err)
	}
	return nil
}

const selectIdentity = `
SELECT u.user_id, u.user_name, u.email, COALESCE(u.org_id, 0), COALESCE(o.org_name, ''),
	COALESCE(u.role_id, 0), COALESCE(r.role_name, ''), u.password_hash, u.is_active,
	COALESCE(u.current_session_id, ''), u.last_login_at
FROM users u
LEFT JOIN organizations o ON u.org_id = o.org_id
LEFT JOIN roles r ON u.role_id = r.role_id`

func (s *PostgresIdentityStore) GetByEmail(ctx context.Context, email string) (Identity, error) {
	if email == "" {
		return Identity{}, ErrUserNotFound
	}
	return s.queryOne(ctx, selectIdentity+`
WHERE u.email = $1`, email)
}

func (s *PostgresIdentityStore) GetByID(ctx context.Context, userID int64) (Identity, error) {
	if userID <= 0 {
		return Identity{}, ErrUserNotFound
	}
	return s.queryOne(ctx, selectIdentity+`
WHERE u.user_id = $1`, userID)
}

func (s *PostgresIdentityStore) queryOne(ctx context.Context, q string, arg any) (Identity, error) {
	var u Identity
	var lastLogin sql.NullTime
	err := s.db.QueryRowContext(ctx, q, arg).Scan(
		&u.ID, &u.UserName, &u.Email, &u.OrganizationID, &u.OrganizationName,
		&u.RoleID, &u.RoleName, &u.PasswordHash, &u.Active,
		&u.CurrentSessionID, &lastLogin,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Identity{}, ErrUserNotFound
		}
		return Identity{}, fmt.Errorf("query identity: %w", err)
	}
	if lastLogin.Valid {
		t := lastLogin.Time.UTC()
		u.LastLoginAt = &t
	}
	return u, nil
}

// Put upserts the identity keyed by user id, creating the referenced
// organization and role rows when they do not exist yet.
func (s *PostgresIdentityStore) Put(ctx context.Context, identity Identity) error {
	if err := validateIdentity(identity); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var orgID, roleID any
	if identity.OrganizationID > 0 {
		orgID = identity.OrganizationID
		if _, err := tx.ExecContext(ctx, `
INSERT INTO organizations (org_id, org_name) VALUES ($1, $2)
ON CONFLICT (org_id) DO NOTHING`, identity.OrganizationID, identity.OrganizationName); err != nil {
			return fmt.Errorf("upsert organization: %w", err)
		}
	}
	if identity.RoleID > 0 {
		roleID = identity.RoleID
		if _, err := tx.ExecContext(ctx, `
INSERT INTO roles (role_id, role_name) VALUES ($1, $2)
ON CONFLICT (role_id) DO NOTHING`, identity.RoleID, identity.RoleName); err != nil {
			return fmt.Errorf("upsert role: %w", err)
		}
	}

	const q = `
INSERT INTO users (user_id, user_name, email, org_id, role_id, password_hash, is_active, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
ON CONFLICT (user_id) DO UPDATE
SET user_name = EXCLUDED.user_name,
	email = EXCLUDED.email,
	org_id = EXCLUDED.org_id,
	role_id = EXCLUDED.role_id,
	password_hash = EXCLUDED.password_hash,
	is_active = EXCLUDED.is_active,
	updated_at = NOW()`
	if _, err := tx.ExecContext(ctx, q, identity.ID, identity.UserName, identity.Email, orgID, roleID, identity.PasswordHash, identity.Active); err != nil {
		return fmt.Errorf("upsert identity: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit identity tx: %w", err)
	}
	return nil
}

func (s *PostgresIdentityStore) SetPasswordHash(ctx context.Context, userID int64, hash string) error {
	const q = `UPDATE users SET password_hash = $2, updated_at = NOW() WHERE user_id = $1`
	res, err := s.db.ExecContext(ctx, q, userID, hash)
	if err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}
	return requireAffected(res)
}

func (s *PostgresIdentityStore) SetCurrentSession(ctx context.Context, userID int64, sessionID string, at time.Time) error {
	const q = `UPDATE users SET current_session_id = $2, last_login_at = $3 WHERE user_id = $1`
	res, err := s.db.ExecContext(ctx, q, userID, sessionID, at.UTC())
	if err != nil {
		return fmt.Errorf("update current session: %w", err)
	}
	return requireAffected(res)
}

func (s *PostgresIdentityStore) ClearCurrentSession(ctx context.Context, userID int64, sessionID string) error {
	const q = `UPDATE users SET current_session_id = NULL WHERE user_id = $1 AND current_session_id = $2`
	if _, err := s.db.ExecContext(ctx, q, userID, sessionID); err != nil {
		return fmt.Errorf("clear current session: %w", err)
	}
	return nil
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read affected rows: %w", err)
	}
	if affected == 0 {
		return ErrUserNotFound
	}
	return nil
}
