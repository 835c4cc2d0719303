package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

var ErrSessionNotFound = errors.New("session not found")

// SessionStore holds at most one session per user. Put replaces whatever
// session the same user had before.
type SessionStore interface {
	Put(ctx context.Context, session Session) error
	Get(ctx context.Context, sessionID string) (Session, error)
	Delete(ctx context.Context, sessionID string) error
}

// MemorySessionStore keeps sessions in process. When stateFile is set the
// map is written through to it on every change and reloaded by Load.
type MemorySessionStore struct {
	stateFile string

	mu     sync.RWMutex
	byUser map[int64]Session
	byID   map[string]int64
}

func NewMemorySessionStore(stateFile string) *MemorySessionStore {
	return &MemorySessionStore{
		stateFile: stateFile,
		byUser:    make(map[int64]Session),
		byID:      make(map[string]int64),
	}
}

func (s *MemorySessionStore) Put(_ context.Context, session Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, hadPrev := s.byUser[session.UserID]
	if hadPrev {
		delete(s.byID, prev.ID)
	}
	s.byUser[session.UserID] = session
	s.byID[session.ID] = session.UserID
	if err := s.persistLocked(); err != nil {
		delete(s.byID, session.ID)
		delete(s.byUser, session.UserID)
		if hadPrev {
			s.byUser[prev.UserID] = prev
			s.byID[prev.ID] = prev.UserID
		}
		return err
	}
	return nil
}

func (s *MemorySessionStore) Get(_ context.Context, sessionID string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	userID, ok := s.byID[sessionID]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return s.byUser[userID], nil
}

func (s *MemorySessionStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	userID, ok := s.byID[sessionID]
	if !ok {
		return nil
	}
	delete(s.byID, sessionID)
	delete(s.byUser, userID)
	return s.persistLocked()
}

func (s *MemorySessionStore) Load() error {
	if s.stateFile == "" {
		return nil
	}
	b, err := os.ReadFile(s.stateFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read session state: %w", err)
	}
	if len(b) == 0 {
		return nil
	}
	var state []Session
	if err := json.Unmarshal(b, &state); err != nil {
		return fmt.Errorf("decode session state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byUser = make(map[int64]Session, len(state))
	s.byID = make(map[string]int64, len(state))
	for _, sess := range state {
		s.byUser[sess.UserID] = sess
		s.byID[sess.ID] = sess.UserID
	}
	return nil
}

func (s *MemorySessionStore) persistLocked() error {
	if s.stateFile == "" {
		return nil
	}
	state := make([]Session, 0, len(s.byUser))
	for _, sess := range s.byUser {
		state = append(state, sess)
	}
	if err := os.MkdirAll(filepath.Dir(s.stateFile), 0o755); err != nil {
		return fmt.Errorf("mkdir session state dir: %w", err)
	}
	b, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session state: %w", err)
	}
	if err := os.WriteFile(s.stateFile, b, 0o600); err != nil {
		return fmt.Errorf("write session state: %w", err)
	}
	return nil
}
