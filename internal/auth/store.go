package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrUserNotFound = errors.New("user not found")

// IdentityStore is the credential side of the record store. Email lookups
// are exact: no case folding or trimming beyond what the caller does.
type IdentityStore interface {
	GetByEmail(ctx context.Context, email string) (Identity, error)
	GetByID(ctx context.Context, userID int64) (Identity, error)
	Put(ctx context.Context, identity Identity) error
	SetPasswordHash(ctx context.Context, userID int64, hash string) error
	// SetCurrentSession points the identity at sessionID, replacing any
	// earlier pointer, and records the login time.
	SetCurrentSession(ctx context.Context, userID int64, sessionID string, at time.Time) error
	// ClearCurrentSession drops the pointer only if it still equals sessionID.
	ClearCurrentSession(ctx context.Context, userID int64, sessionID string) error
}

type InMemoryIdentityStore struct {
	mu         sync.RWMutex
	identities map[int64]Identity
	byEmail    map[string]int64
}

func NewInMemoryIdentityStore() *InMemoryIdentityStore {
	return &InMemoryIdentityStore{
		identities: make(map[int64]Identity),
		byEmail:    make(map[string]int64),
	}
}

func (s *InMemoryIdentityStore) GetByEmail(_ context.Context, email string) (Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[email]
	if !ok {
		return Identity{}, ErrUserNotFound
	}
	return s.identities[id], nil
}

func (s *InMemoryIdentityStore) GetByID(_ context.Context, userID int64) (Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.identities[userID]
	if !ok {
		return Identity{}, ErrUserNotFound
	}
	return u, nil
}

func (s *InMemoryIdentityStore) Put(_ context.Context, identity Identity) error {
	if err := validateIdentity(identity); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	putIdentityLocked(s.identities, s.byEmail, identity)
	return nil
}

func (s *InMemoryIdentityStore) SetPasswordHash(_ context.Context, userID int64, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.identities[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.PasswordHash = hash
	s.identities[userID] = u
	return nil
}

func (s *InMemoryIdentityStore) SetCurrentSession(_ context.Context, userID int64, sessionID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.identities[userID]
	if !ok {
		return ErrUserNotFound
	}
	at = at.UTC()
	u.CurrentSessionID = sessionID
	u.LastLoginAt = &at
	s.identities[userID] = u
	return nil
}

func (s *InMemoryIdentityStore) ClearCurrentSession(_ context.Context, userID int64, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.identities[userID]
	if !ok {
		return nil
	}
	if u.CurrentSessionID == sessionID {
		u.CurrentSessionID = ""
		s.identities[userID] = u
	}
	return nil
}

func validateIdentity(identity Identity) error {
	if identity.ID <= 0 || identity.Email == "" || identity.PasswordHash == "" {
		return fmt.Errorf("id, email, and password hash are required")
	}
	return nil
}

// putIdentityLocked replaces the identity and repoints its email index,
// dropping a stale email entry when the address changed.
func putIdentityLocked(identities map[int64]Identity, byEmail map[string]int64, identity Identity) {
	if prev, ok := identities[identity.ID]; ok && prev.Email != identity.Email {
		delete(byEmail, prev.Email)
	}
	identities[identity.ID] = identity
	byEmail[identity.Email] = identity.ID
}
