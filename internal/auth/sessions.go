package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"
)

// DefaultSessionTTL is the lifetime of a freshly issued session.
const DefaultSessionTTL = 10 * time.Minute

const userLockStripes = 64

var (
	ErrMissingSession    = errors.New("missing session")
	ErrUnknownSession    = errors.New("unknown session")
	ErrSessionMismatch   = errors.New("session does not belong to claimed identity")
	ErrSessionSuperseded = errors.New("session superseded by a newer login")
	ErrSessionExpired    = errors.New("session expired")
)

// SessionRegistry issues and validates server-side sessions. Each identity
// has at most one current session; issuing a new one supersedes the old.
type SessionRegistry struct {
	identities IdentityStore
	sessions   SessionStore
	ttl        time.Duration
	nowFunc    func() time.Time
	newToken   func() (string, error)

	// userLocks pair the session write with the identity pointer update so
	// concurrent logins of one user cannot interleave.
	userLocks [userLockStripes]sync.Mutex
}

type SessionRegistryConfig struct {
	TTL time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

func NewSessionRegistry(identities IdentityStore, sessions SessionStore, cfg SessionRegistryConfig) (*SessionRegistry, error) {
	if identities == nil {
		return nil, fmt.Errorf("identity store is required")
	}
	if sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if cfg.TTL < 0 {
		return nil, fmt.Errorf("session TTL must be > 0")
	}
	if cfg.TTL == 0 {
		cfg.TTL = DefaultSessionTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &SessionRegistry{
		identities: identities,
		sessions:   sessions,
		ttl:        cfg.TTL,
		nowFunc:    cfg.Now,
		newToken:   func() (string, error) { return generateToken(32) },
	}, nil
}

func (r *SessionRegistry) TTL() time.Duration {
	return r.ttl
}

// Issue opens a new session for identity and makes it the current one.
func (r *SessionRegistry) Issue(ctx context.Context, identity Identity) (Session, error) {
	token, err := r.newToken()
	if err != nil {
		return Session{}, fmt.Errorf("generate token: %w", err)
	}

	now := r.nowFunc().UTC()
	session := Session{
		ID:        token,
		UserID:    identity.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(r.ttl),
	}

	mu := r.lockFor(identity.ID)
	mu.Lock()
	defer mu.Unlock()
	if err := r.sessions.Put(ctx, session); err != nil {
		return Session{}, fmt.Errorf("store session: %w", err)
	}
	if err := r.identities.SetCurrentSession(ctx, identity.ID, session.ID, now); err != nil {
		_ = r.sessions.Delete(ctx, session.ID)
		return Session{}, fmt.Errorf("record current session: %w", err)
	}
	return session, nil
}

// Validate resolves sessionID to its owner and checks that the owner is the
// identity behind claimedEmail, that the session is still the owner's
// current one, and that it has not expired. A session is still valid at
// exactly ExpiresAt.
func (r *SessionRegistry) Validate(ctx context.Context, sessionID, claimedEmail string) (Identity, error) {
	if sessionID == "" || claimedEmail == "" {
		return Identity{}, ErrMissingSession
	}

	session, err := r.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return Identity{}, ErrUnknownSession
		}
		return Identity{}, fmt.Errorf("load session: %w", err)
	}

	owner, err := r.identities.GetByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return Identity{}, ErrUnknownSession
		}
		return Identity{}, fmt.Errorf("load session owner: %w", err)
	}
	if owner.Email != claimedEmail {
		return Identity{}, ErrSessionMismatch
	}
	if owner.CurrentSessionID != session.ID {
		return Identity{}, ErrSessionSuperseded
	}
	if !owner.Active {
		return Identity{}, ErrInactiveAccount
	}
	if r.nowFunc().After(session.ExpiresAt) {
		return Identity{}, ErrSessionExpired
	}
	return owner, nil
}

// Revoke ends sessionID. Revoking an unknown or already revoked session is
// not an error.
func (r *SessionRegistry) Revoke(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	session, err := r.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil
		}
		return fmt.Errorf("load session: %w", err)
	}

	mu := r.lockFor(session.UserID)
	mu.Lock()
	defer mu.Unlock()
	if err := r.sessions.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if err := r.identities.ClearCurrentSession(ctx, session.UserID, sessionID); err != nil {
		return fmt.Errorf("clear current session: %w", err)
	}
	return nil
}

func (r *SessionRegistry) lockFor(userID int64) *sync.Mutex {
	i := userID % userLockStripes
	if i < 0 {
		i = -i
	}
	return &r.userLocks[i]
}

func generateToken(n int) (string, error) {
	if n < 16 {
		return "", fmt.Errorf("token length too short")
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
