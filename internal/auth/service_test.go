package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestService(t *testing.T) (*Service, *fixture) {
	t.Helper()
	f := newFixture(t)
	svc, err := NewService(f.credentials, f.registry)
	if err != nil {
		t.Fatalf("NewService() error: %v", err)
	}
	return svc, f
}

func TestLoginOpensSession(t *testing.T) {
	svc, f := newTestService(t)
	f.register(t, 1, "a@x.com", "correct", true)
	ctx := context.Background()

	identity, session, err := svc.Login(ctx, "a@x.com", "correct")
	if err != nil {
		t.Fatalf("Login() error: %v", err)
	}
	if identity.CurrentSessionID != session.ID {
		t.Fatalf("expected identity to carry new session id")
	}
	if session.ExpiresAt.Sub(session.CreatedAt) != 10*time.Minute {
		t.Fatalf("expected ten minute session, got %v", session.ExpiresAt.Sub(session.CreatedAt))
	}
	if svc.SessionTTL() != 600 {
		t.Fatalf("expected 600 second ttl, got %d", svc.SessionTTL())
	}
	if _, err := svc.Validate(ctx, session.ID, "a@x.com"); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
}

func TestLoginWrongPasswordOpensNothing(t *testing.T) {
	svc, f := newTestService(t)
	f.register(t, 1, "a@x.com", "correct", true)

	_, _, err := svc.Login(context.Background(), "a@x.com", "wrong")
	if !errors.Is(err, ErrInvalidPassword) {
		t.Fatalf("expected ErrInvalidPassword, got %v", err)
	}
	u, _ := f.identities.GetByID(context.Background(), 1)
	if u.CurrentSessionID != "" {
		t.Fatalf("expected no session pointer after failed login, got %q", u.CurrentSessionID)
	}
}

func TestLogoutRevokesSession(t *testing.T) {
	svc, f := newTestService(t)
	f.register(t, 1, "a@x.com", "correct", true)
	ctx := context.Background()

	_, session, err := svc.Login(ctx, "a@x.com", "correct")
	if err != nil {
		t.Fatalf("Login() error: %v", err)
	}
	if err := svc.Logout(ctx, session.ID); err != nil {
		t.Fatalf("Logout() error: %v", err)
	}
	if _, err := svc.Validate(ctx, session.ID, "a@x.com"); !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("expected ErrUnknownSession after logout, got %v", err)
	}
}

func TestServiceChangePasswordRequiresSession(t *testing.T) {
	svc, f := newTestService(t)
	f.register(t, 1, "a@x.com", "oldpass123", true)
	ctx := context.Background()

	if err := svc.ChangePassword(ctx, "bogus", "a@x.com", "oldpass123", "NewPassword123!"); !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("expected ErrUnknownSession, got %v", err)
	}

	_, session, _ := svc.Login(ctx, "a@x.com", "oldpass123")
	if err := svc.ChangePassword(ctx, session.ID, "a@x.com", "oldpass123", "NewPassword123!"); err != nil {
		t.Fatalf("ChangePassword() error: %v", err)
	}
	if _, _, err := svc.Login(ctx, "a@x.com", "NewPassword123!"); err != nil {
		t.Fatalf("expected login with new password, got %v", err)
	}
}
