package auth

import (
	"context"
	"fmt"
)

// Service combines credential checks and session bookkeeping into the
// operations the HTTP layer exposes.
type Service struct {
	credentials *CredentialStore
	sessions    *SessionRegistry
}

func NewService(credentials *CredentialStore, sessions *SessionRegistry) (*Service, error) {
	if credentials == nil {
		return nil, fmt.Errorf("credential store is required")
	}
	if sessions == nil {
		return nil, fmt.Errorf("session registry is required")
	}
	return &Service{credentials: credentials, sessions: sessions}, nil
}

// Login authenticates and opens a session that supersedes any earlier one.
func (s *Service) Login(ctx context.Context, email, password string) (Identity, Session, error) {
	identity, err := s.credentials.Authenticate(ctx, email, password)
	if err != nil {
		return Identity{}, Session{}, err
	}
	session, err := s.sessions.Issue(ctx, identity)
	if err != nil {
		return Identity{}, Session{}, err
	}
	identity.CurrentSessionID = session.ID
	return identity, session, nil
}

func (s *Service) Validate(ctx context.Context, sessionID, email string) (Identity, error) {
	return s.sessions.Validate(ctx, sessionID, email)
}

func (s *Service) Logout(ctx context.Context, sessionID string) error {
	return s.sessions.Revoke(ctx, sessionID)
}

// ChangePassword requires a valid session for email. The session stays
// open afterwards.
func (s *Service) ChangePassword(ctx context.Context, sessionID, email, currentPassword, newPassword string) error {
	identity, err := s.sessions.Validate(ctx, sessionID, email)
	if err != nil {
		return err
	}
	return s.credentials.ChangePassword(ctx, identity.ID, currentPassword, newPassword)
}

func (s *Service) SessionTTL() int {
	return int(s.sessions.TTL().Seconds())
}
