package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"bcpdashboard/portfolio-api/internal/auth"
	"bcpdashboard/portfolio-api/internal/config"
)

func fileBackedConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	seed := filepath.Join(dir, "seed.json")
	if err := os.WriteFile(seed, []byte(`[{"ID": 7, "CompanyName": "Acme", "Quarter": "Q1"}]`), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	return config.Config{
		HTTP:     config.HTTPConfig{Addr: "127.0.0.1:0", ReadTimeout: time.Second, WriteTimeout: time.Second, ShutdownTimeout: time.Second},
		LogLevel: "error",
		Auth: config.AuthConfig{
			BootstrapEmail:    "admin@example.com",
			BootstrapUsername: "admin",
			BootstrapPassword: "admin123",
			BootstrapOrg:      "Default Organization",
			BootstrapRole:     "admin",
			PasswordPepper:    "pepper",
			BcryptCost:        4,
			SessionTTL:        10 * time.Minute,
			SessionBackend:    config.SessionBackendAuto,
			SessionStateFile:  filepath.Join(dir, "auth_sessions.json"),
			UserStateFile:     filepath.Join(dir, "auth_users.json"),
		},
		PortfolioTable:    "portfolio_companies",
		PortfolioSeedFile: seed,
		AuditLogFile:      filepath.Join(dir, "portfolio_audit.log"),
		SecurityLogFile:   filepath.Join(dir, "security.log"),
	}
}

func TestNewWithoutDatabaseCreatesBootstrapIdentity(t *testing.T) {
	cfg := fileBackedConfig(t)
	ctx := context.Background()

	a, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	a.close()

	store, err := auth.NewFileIdentityStore(cfg.Auth.UserStateFile)
	if err != nil {
		t.Fatalf("NewFileIdentityStore() error: %v", err)
	}
	u, err := store.GetByEmail(ctx, "admin@example.com")
	if err != nil {
		t.Fatalf("expected bootstrap identity, got %v", err)
	}
	if !u.Active || u.OrganizationName != "Default Organization" || u.PasswordHash == "" {
		t.Fatalf("unexpected bootstrap identity %+v", u)
	}

	// A second start must keep the existing identity.
	again, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("second New() error: %v", err)
	}
	again.close()
}

func TestNewFailsOnBadSeedFile(t *testing.T) {
	cfg := fileBackedConfig(t)
	cfg.PortfolioSeedFile = filepath.Join(t.TempDir(), "missing.json")

	if _, err := New(context.Background(), cfg); err == nil {
		t.Fatalf("expected error for missing seed file")
	}
}

func TestNewPostgresSessionsWithoutDatabase(t *testing.T) {
	cfg := fileBackedConfig(t)
	cfg.Auth.SessionBackend = config.SessionBackendPostgres

	if _, err := New(context.Background(), cfg); err == nil {
		t.Fatalf("expected error for postgres sessions without a database")
	}
}
