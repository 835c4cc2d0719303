package audit

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

var testNow = time.Date(2026, 2, 16, 12, 0, 0, 0, time.UTC)

func TestMapFieldsTranslatesKnownNames(t *testing.T) {
	got := MapFields(map[string]any{"CompanyName": "Acme", "Quarter": int64(3), "Custom": "x", "ID": 7})
	if got["Company Name"] != "Acme" || got["Quarter"] != int64(3) || got["Custom"] != "x" {
		t.Fatalf("unexpected mapped fields: %+v", got)
	}
	if _, ok := got["ID"]; ok {
		t.Fatalf("identifier must not be mapped into audit fields")
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 fields, got %d", len(got))
	}
}

func TestFileRecorderAppendsAndFilters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "portfolio_audit.log")
	r, err := NewFileRecorder(path)
	if err != nil {
		t.Fatalf("NewFileRecorder() error: %v", err)
	}
	r.nowFunc = func() time.Time { return testNow }
	ctx := context.Background()

	first, err := r.Record(ctx, Entry{OrganizationID: 10, ModifiedBy: 1, Action: ActionUpdate, RecordID: 7, Fields: map[string]any{"Quarter": int64(3)}})
	if err != nil {
		t.Fatalf("Record() error: %v", err)
	}
	if first.ID == "" || !first.RecordedAt.Equal(testNow) {
		t.Fatalf("expected assigned id and timestamp, got %+v", first)
	}
	if _, err := r.Record(ctx, Entry{OrganizationID: 10, ModifiedBy: 1, Action: ActionDelete, RecordID: 8}); err != nil {
		t.Fatalf("Record() second error: %v", err)
	}
	if _, err := r.Record(ctx, Entry{OrganizationID: 11, ModifiedBy: 2, Action: ActionUpdate, RecordID: 7}); err != nil {
		t.Fatalf("Record() third error: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	if n := strings.Count(string(b), "\n"); n != 3 {
		t.Fatalf("expected 3 audit lines, got %d", n)
	}

	got, err := r.ListByRecord(ctx, 10, 7)
	if err != nil {
		t.Fatalf("ListByRecord() error: %v", err)
	}
	if len(got) != 1 || got[0].ID != first.ID || got[0].Action != ActionUpdate {
		t.Fatalf("unexpected entries: %+v", got)
	}
	if got[0].Fields["Quarter"] != float64(3) {
		t.Fatalf("unexpected decoded fields: %+v", got[0].Fields)
	}
}

func TestFileRecorderListWithoutFile(t *testing.T) {
	r, err := NewFileRecorder(filepath.Join(t.TempDir(), "missing.log"))
	if err != nil {
		t.Fatalf("NewFileRecorder() error: %v", err)
	}
	got, err := r.ListByRecord(context.Background(), 10, 7)
	if err != nil || len(got) != 0 {
		t.Fatalf("expected empty history, got %+v, %v", got, err)
	}
}

func TestRecordRejectsIncompleteEntry(t *testing.T) {
	r, err := NewFileRecorder(filepath.Join(t.TempDir(), "audit.log"))
	if err != nil {
		t.Fatalf("NewFileRecorder() error: %v", err)
	}
	ctx := context.Background()
	if _, err := r.Record(ctx, Entry{OrganizationID: 10, ModifiedBy: 1, Action: "Insert", RecordID: 7}); err == nil {
		t.Fatalf("expected unsupported action error")
	}
	if _, err := r.Record(ctx, Entry{ModifiedBy: 1, Action: ActionUpdate, RecordID: 7}); err == nil {
		t.Fatalf("expected missing organization error")
	}
}

func TestNewPGRecorder(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS portfolio_audit").WillReturnResult(sqlmock.NewResult(0, 0))
	if _, err := NewPGRecorder(db); err != nil {
		t.Fatalf("NewPGRecorder() error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations not met: %v", err)
	}
}

func TestPGRecorderRecordAndList(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS portfolio_audit").WillReturnResult(sqlmock.NewResult(0, 0))
	r, err := NewPGRecorder(db)
	if err != nil {
		t.Fatalf("NewPGRecorder() error: %v", err)
	}
	ctx := context.Background()
	id := "8d3c3c1e-3f43-4c52-9d1e-6b1f0b7f2a11"

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO portfolio_audit (audit_id, org_id, modified_by, user_action, record_id, changes, recorded_at)")).
		WithArgs(id, int64(10), int64(1), ActionUpdate, int64(7), []byte(`{"Quarter":3}`), testNow).
		WillReturnResult(sqlmock.NewResult(1, 1))
	if _, err := r.Record(ctx, Entry{ID: id, OrganizationID: 10, ModifiedBy: 1, Action: ActionUpdate, RecordID: 7, Fields: map[string]any{"Quarter": int64(3)}, RecordedAt: testNow}); err != nil {
		t.Fatalf("Record() error: %v", err)
	}

	rows := sqlmock.NewRows([]string{"audit_id", "org_id", "modified_by", "user_action", "record_id", "changes", "recorded_at"}).
		AddRow(id, int64(10), int64(1), ActionUpdate, int64(7), []byte(`{"Quarter":3}`), testNow)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE org_id = $1 AND record_id = $2")).
		WithArgs(int64(10), int64(7)).
		WillReturnRows(rows)
	got, err := r.ListByRecord(ctx, 10, 7)
	if err != nil {
		t.Fatalf("ListByRecord() error: %v", err)
	}
	if len(got) != 1 || got[0].ID != id || got[0].Fields["Quarter"] != float64(3) {
		t.Fatalf("unexpected entries: %+v", got)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations not met: %v", err)
	}
}
