package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// FileIdentityStore keeps identities in a JSON file. It is used when no
// database is configured.
type FileIdentityStore struct {
	path string

	mu         sync.RWMutex
	identities map[int64]Identity
	byEmail    map[string]int64
}

func NewFileIdentityStore(path string) (*FileIdentityStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("user state file path is required")
	}

	s := &FileIdentityStore{
		path:       path,
		identities: make(map[int64]Identity),
		byEmail:    make(map[string]int64),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileIdentityStore) GetByEmail(_ context.Context, email string) (Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[email]
	if !ok {
		return Identity{}, ErrUserNotFound
	}
	return s.identities[id], nil
}

func (s *FileIdentityStore) GetByID(_ context.Context, userID int64) (Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.identities[userID]
	if !ok {
		return Identity{}, ErrUserNotFound
	}
	return u, nil
}

func (s *FileIdentityStore) Put(_ context.Context, identity Identity) error {
	if err := validateIdentity(identity); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	putIdentityLocked(s.identities, s.byEmail, identity)
	return s.persistLocked()
}

func (s *FileIdentityStore) SetPasswordHash(_ context.Context, userID int64, hash string) error {
	return s.update(userID, func(u *Identity) { u.PasswordHash = hash })
}

func (s *FileIdentityStore) SetCurrentSession(_ context.Context, userID int64, sessionID string, at time.Time) error {
	at = at.UTC()
	return s.update(userID, func(u *Identity) {
		u.CurrentSessionID = sessionID
		u.LastLoginAt = &at
	})
}

func (s *FileIdentityStore) ClearCurrentSession(_ context.Context, userID int64, sessionID string) error {
	err := s.update(userID, func(u *Identity) {
		if u.CurrentSessionID == sessionID {
			u.CurrentSessionID = ""
		}
	})
	if err == ErrUserNotFound {
		return nil
	}
	return err
}

func (s *FileIdentityStore) update(userID int64, fn func(u *Identity)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.identities[userID]
	if !ok {
		return ErrUserNotFound
	}
	fn(&u)
	s.identities[userID] = u
	return s.persistLocked()
}

func (s *FileIdentityStore) load() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read user store file: %w", err)
	}
	if len(b) == 0 {
		return nil
	}

	var decoded []Identity
	if err := json.Unmarshal(b, &decoded); err != nil {
		return fmt.Errorf("decode user store file: %w", err)
	}
	for _, u := range decoded {
		if u.ID <= 0 || u.Email == "" {
			continue
		}
		putIdentityLocked(s.identities, s.byEmail, u)
	}
	return nil
}

func (s *FileIdentityStore) persistLocked() error {
	out := make([]Identity, 0, len(s.identities))
	for _, u := range s.identities {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encode user store file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("mkdir user store dir: %w", err)
	}
	if err := os.WriteFile(s.path, b, 0o600); err != nil {
		return fmt.Errorf("write user store file: %w", err)
	}
	return nil
}
