package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type PostgresSessionStore struct {
	db *sql.DB
}

func NewPostgresSessionStore(db *sql.DB) (*PostgresSessionStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	s := &PostgresSessionStore{db: db}
	if err := s.ensureSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresSessionStore) ensureSchema() error {
	const q = `
CREATE TABLE IF NOT EXISTS user_sessions (
	user_id BIGINT PRIMARY KEY,
	session_id TEXT NOT NULL UNIQUE,
	created_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	CHECK (expires_at > created_at)
)`
	if _, err := s.db.Exec(q); err != nil {
		return fmt.Errorf("ensure user_sessions schema: %w", err)
	}
	return nil
}

func (s *PostgresSessionStore) Put(ctx context.Context, session Session) error {
	const q = `
INSERT INTO user_sessions (user_id, session_id, created_at, expires_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (user_id) DO UPDATE
SET session_id = EXCLUDED.session_id,
	created_at = EXCLUDED.created_at,
	expires_at = EXCLUDED.expires_at`
	if _, err := s.db.ExecContext(ctx, q, session.UserID, session.ID, session.CreatedAt, session.ExpiresAt); err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

func (s *PostgresSessionStore) Get(ctx context.Context, sessionID string) (Session, error) {
	const q = `
SELECT session_id, user_id, created_at, expires_at
FROM user_sessions
WHERE session_id = $1`
	var sess Session
	if err := s.db.QueryRowContext(ctx, q, sessionID).Scan(&sess.ID, &sess.UserID, &sess.CreatedAt, &sess.ExpiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrSessionNotFound
		}
		return Session{}, fmt.Errorf("query session: %w", err)
	}
	return sess, nil
}

func (s *PostgresSessionStore) Delete(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM user_sessions WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
