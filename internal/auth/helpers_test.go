package auth

import (
	"context"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestHasher(t *testing.T) *PasswordHasher {
	t.Helper()
	h, err := NewPasswordHasher("pepper", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("NewPasswordHasher() error: %v", err)
	}
	return h
}

type fixture struct {
	identities  *InMemoryIdentityStore
	sessions    *MemorySessionStore
	hasher      *PasswordHasher
	credentials *CredentialStore
	registry    *SessionRegistry
	clock       *fakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		identities: NewInMemoryIdentityStore(),
		sessions:   NewMemorySessionStore(""),
		hasher:     newTestHasher(t),
		clock:      &fakeClock{now: time.Date(2026, 2, 16, 12, 0, 0, 0, time.UTC)},
	}
	var err error
	f.credentials, err = NewCredentialStore(f.identities, f.hasher)
	if err != nil {
		t.Fatalf("NewCredentialStore() error: %v", err)
	}
	f.registry, err = NewSessionRegistry(f.identities, f.sessions, SessionRegistryConfig{Now: f.clock.Now})
	if err != nil {
		t.Fatalf("NewSessionRegistry() error: %v", err)
	}
	return f
}

func (f *fixture) register(t *testing.T, id int64, email, password string, active bool) Identity {
	t.Helper()
	u, err := f.credentials.Register(context.Background(), Identity{
		ID:               id,
		UserName:         "user" + email,
		Email:            email,
		OrganizationID:   10,
		OrganizationName: "Acme Capital",
		RoleID:           2,
		RoleName:         "analyst",
		Active:           active,
	}, password)
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	return u
}
