package auth

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/redis/go-redis/v9"
)

func TestMemorySessionStoreOneSessionPerUser(t *testing.T) {
	store := NewMemorySessionStore("")
	ctx := context.Background()
	now := time.Date(2026, 2, 16, 12, 0, 0, 0, time.UTC)

	_ = store.Put(ctx, Session{ID: "s1", UserID: 1, CreatedAt: now, ExpiresAt: now.Add(time.Minute)})
	_ = store.Put(ctx, Session{ID: "s2", UserID: 1, CreatedAt: now, ExpiresAt: now.Add(time.Minute)})

	if _, err := store.Get(ctx, "s1"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected replaced session to be gone, got %v", err)
	}
	got, err := store.Get(ctx, "s2")
	if err != nil || got.UserID != 1 {
		t.Fatalf("expected s2 for user 1, got %+v, %v", got, err)
	}
	if err := store.Delete(ctx, "missing"); err != nil {
		t.Fatalf("Delete() of unknown session error: %v", err)
	}
}

func TestMemorySessionStoreStatePersistence(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), "auth_sessions.json")
	ctx := context.Background()
	now := time.Date(2026, 2, 16, 12, 0, 0, 0, time.UTC)

	store := NewMemorySessionStore(stateFile)
	if err := store.Put(ctx, Session{ID: "s1", UserID: 1, CreatedAt: now, ExpiresAt: now.Add(time.Minute)}); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	if _, err := os.Stat(stateFile); err != nil {
		t.Fatalf("expected session state file, got %v", err)
	}

	store2 := NewMemorySessionStore(stateFile)
	if err := store2.Load(); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	got, err := store2.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get() for loaded session error: %v", err)
	}
	if !got.ExpiresAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("unexpected loaded expiry %v", got.ExpiresAt)
	}
}

func TestNewPostgresSessionStore(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS user_sessions").WillReturnResult(sqlmock.NewResult(0, 0))

	_, err = NewPostgresSessionStore(db)
	if err != nil {
		t.Fatalf("NewPostgresSessionStore() error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations not met: %v", err)
	}
}

func TestPostgresSessionStorePutGetDelete(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS user_sessions").WillReturnResult(sqlmock.NewResult(0, 0))
	store, err := NewPostgresSessionStore(db)
	if err != nil {
		t.Fatalf("NewPostgresSessionStore() error: %v", err)
	}
	ctx := context.Background()
	now := time.Date(2026, 2, 16, 12, 0, 0, 0, time.UTC)
	sess := Session{ID: "tok1", UserID: 1, CreatedAt: now, ExpiresAt: now.Add(10 * time.Minute)}

	mock.ExpectExec("INSERT INTO user_sessions .* ON CONFLICT \\(user_id\\) DO UPDATE").
		WithArgs(int64(1), "tok1", now, now.Add(10*time.Minute)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	if err := store.Put(ctx, sess); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	rows := sqlmock.NewRows([]string{"session_id", "user_id", "created_at", "expires_at"}).
		AddRow("tok1", int64(1), now, now.Add(10*time.Minute))
	mock.ExpectQuery(regexp.QuoteMeta("FROM user_sessions\nWHERE session_id = $1")).
		WithArgs("tok1").
		WillReturnRows(rows)
	got, err := store.Get(ctx, "tok1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.ID != sess.ID || got.UserID != sess.UserID || !got.ExpiresAt.Equal(sess.ExpiresAt) {
		t.Fatalf("expected %+v, got %+v", sess, got)
	}

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM user_sessions WHERE session_id = $1")).
		WithArgs("tok1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := store.Delete(ctx, "tok1"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations not met: %v", err)
	}
}

func TestRedisSessionStoreRoundTrip(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set; skipping Redis session store test")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("redis ping: %v", err)
	}

	store := NewRedisSessionStore(client)
	now := time.Now().UTC()
	userID := now.UnixNano()
	first := Session{ID: "redis-s1-" + now.Format("150405.000000000"), UserID: userID, CreatedAt: now, ExpiresAt: now.Add(time.Minute)}
	second := Session{ID: "redis-s2-" + now.Format("150405.000000000"), UserID: userID, CreatedAt: now, ExpiresAt: now.Add(time.Minute)}

	if err := store.Put(ctx, first); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	if err := store.Put(ctx, second); err != nil {
		t.Fatalf("Put() second error: %v", err)
	}
	if _, err := store.Get(ctx, first.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected first session replaced, got %v", err)
	}
	got, err := store.Get(ctx, second.ID)
	if err != nil || got.UserID != userID {
		t.Fatalf("unexpected second session %+v, %v", got, err)
	}
	if err := store.Delete(ctx, second.ID); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if _, err := store.Get(ctx, second.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected deleted session gone, got %v", err)
	}
}
