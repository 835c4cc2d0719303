package integration

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"

	"bcpdashboard/portfolio-api/internal/audit"
	"bcpdashboard/portfolio-api/internal/auth"
	"bcpdashboard/portfolio-api/internal/portfolio"
)

func openTestPostgres(t *testing.T) *sql.DB {
	t.Helper()

	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping Postgres integration tests")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("sql.Open() error: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})

	if err := db.Ping(); err != nil {
		t.Fatalf("db.Ping() error: %v", err)
	}
	return db
}

func TestPostgresLoginAndSessionRoundTrip(t *testing.T) {
	db := openTestPostgres(t)
	ctx := context.Background()

	identities, err := auth.NewPostgresIdentityStore(db)
	if err != nil {
		t.Fatalf("NewPostgresIdentityStore() error: %v", err)
	}
	sessions, err := auth.NewPostgresSessionStore(db)
	if err != nil {
		t.Fatalf("NewPostgresSessionStore() error: %v", err)
	}
	hasher, err := auth.NewPasswordHasher("integration-pepper", 4)
	if err != nil {
		t.Fatalf("NewPasswordHasher() error: %v", err)
	}
	credentials, err := auth.NewCredentialStore(identities, hasher)
	if err != nil {
		t.Fatalf("NewCredentialStore() error: %v", err)
	}
	registry, err := auth.NewSessionRegistry(identities, sessions, auth.SessionRegistryConfig{TTL: time.Minute})
	if err != nil {
		t.Fatalf("NewSessionRegistry() error: %v", err)
	}
	svc, err := auth.NewService(credentials, registry)
	if err != nil {
		t.Fatalf("NewService() error: %v", err)
	}

	n := time.Now().UnixNano()
	email := fmt.Sprintf("itest_%d@example.com", n)
	if _, err := credentials.Register(ctx, auth.Identity{
		ID:               n,
		UserName:         fmt.Sprintf("itest_%d", n),
		Email:            email,
		OrganizationID:   n,
		OrganizationName: "Integration Org",
		RoleID:           n,
		RoleName:         "analyst",
		Active:           true,
	}, "Password123!"); err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	t.Cleanup(func() {
		_, _ = db.Exec("DELETE FROM user_sessions WHERE user_id = $1", n)
		_, _ = db.Exec("DELETE FROM users WHERE user_id = $1", n)
		_, _ = db.Exec("DELETE FROM organizations WHERE org_id = $1", n)
		_, _ = db.Exec("DELETE FROM roles WHERE role_id = $1", n)
	})

	identity, first, err := svc.Login(ctx, email, "Password123!")
	if err != nil {
		t.Fatalf("Login() error: %v", err)
	}
	if identity.OrganizationName != "Integration Org" || identity.RoleName != "analyst" {
		t.Fatalf("unexpected identity metadata %+v", identity)
	}

	registry2, err := auth.NewSessionRegistry(identities, sessions, auth.SessionRegistryConfig{TTL: time.Minute})
	if err != nil {
		t.Fatalf("NewSessionRegistry() second instance error: %v", err)
	}
	if _, err := registry2.Validate(ctx, first.ID, email); err != nil {
		t.Fatalf("Validate() from second instance error: %v", err)
	}

	_, second, err := svc.Login(ctx, email, "Password123!")
	if err != nil {
		t.Fatalf("second Login() error: %v", err)
	}
	if _, err := registry2.Validate(ctx, first.ID, email); err == nil {
		t.Fatalf("expected first session to be superseded")
	}
	if _, err := registry2.Validate(ctx, second.ID, email); err != nil {
		t.Fatalf("Validate() second session error: %v", err)
	}
}

func TestPostgresPartialUpdateAndAudit(t *testing.T) {
	db := openTestPostgres(t)
	ctx := context.Background()

	table := fmt.Sprintf("itest_portfolio_%d", time.Now().UnixNano())
	schema, err := portfolio.DefaultSchema(table)
	if err != nil {
		t.Fatalf("DefaultSchema() error: %v", err)
	}
	exec, err := portfolio.NewPGExecutor(db, schema)
	if err != nil {
		t.Fatalf("NewPGExecutor() error: %v", err)
	}
	t.Cleanup(func() {
		_, _ = db.Exec("DROP TABLE IF EXISTS " + table)
	})
	if _, err := portfolio.NewPGExecutor(db, schema); err != nil {
		t.Fatalf("NewPGExecutor() on existing table error: %v", err)
	}
	if _, err := db.Exec(fmt.Sprintf(`INSERT INTO %s (id, company_name, quarter, revenue) VALUES (7, 'Acme', 1, 500)`, table)); err != nil {
		t.Fatalf("seed row: %v", err)
	}

	edit := map[string]any{"Quarter": "Q3", "Revenue": nil}
	res, err := exec.ApplyPartialUpdate(ctx, 7, edit)
	if err != nil {
		t.Fatalf("ApplyPartialUpdate() error: %v", err)
	}
	if !res.Changed {
		t.Fatalf("expected first update to change the row")
	}
	res, err = exec.ApplyPartialUpdate(ctx, 7, edit)
	if err != nil {
		t.Fatalf("repeat ApplyPartialUpdate() error: %v", err)
	}
	if res.Changed {
		t.Fatalf("expected repeat update to change nothing")
	}
	if res, err := exec.ApplyPartialUpdate(ctx, 404, edit); err != nil || res.Changed {
		t.Fatalf("expected missing row to report no change, got %+v, %v", res, err)
	}

	var quarter int64
	var revenue float64
	if err := db.QueryRow(fmt.Sprintf("SELECT quarter, revenue FROM %s WHERE id = 7", table)).Scan(&quarter, &revenue); err != nil {
		t.Fatalf("read row: %v", err)
	}
	if quarter != 3 || revenue != 500 {
		t.Fatalf("expected quarter 3 and revenue 500, got %d and %v", quarter, revenue)
	}

	recorder, err := audit.NewPGRecorder(db)
	if err != nil {
		t.Fatalf("NewPGRecorder() error: %v", err)
	}
	orgID := time.Now().UnixNano()
	t.Cleanup(func() {
		_, _ = db.Exec("DELETE FROM portfolio_audit WHERE org_id = $1", orgID)
	})
	entry, err := recorder.Record(ctx, audit.Entry{
		OrganizationID: orgID,
		ModifiedBy:     1,
		Action:         audit.ActionUpdate,
		RecordID:       7,
		Fields:         audit.MapFields(portfolio.Values(res.Applied)),
	})
	if err != nil {
		t.Fatalf("Record() error: %v", err)
	}
	got, err := recorder.ListByRecord(ctx, orgID, 7)
	if err != nil {
		t.Fatalf("ListByRecord() error: %v", err)
	}
	if len(got) != 1 || got[0].ID != entry.ID || got[0].Fields["Quarter"] != float64(3) {
		t.Fatalf("unexpected audit entries %+v", got)
	}
}
