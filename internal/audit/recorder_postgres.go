package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type PGRecorder struct {
	db      *sql.DB
	nowFunc func() time.Time
}

func NewPGRecorder(db *sql.DB) (*PGRecorder, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	r := &PGRecorder{db: db, nowFunc: time.Now}
	if err := r.ensureSchema(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *PGRecorder) ensureSchema() error {
	const q = `
CREATE TABLE IF NOT EXISTS portfolio_audit (
	audit_id UUID PRIMARY KEY,
	org_id BIGINT NOT NULL,
	modified_by BIGINT NOT NULL,
	user_action TEXT NOT NULL,
	record_id BIGINT NOT NULL,
	changes JSONB NOT NULL DEFAULT '{}'::jsonb,
	recorded_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS portfolio_audit_record_idx ON portfolio_audit (org_id, record_id, recorded_at)`
	if _, err := r.db.Exec(q); err != nil {
		return fmt.Errorf("ensure portfolio_audit schema: %w", err)
	}
	return nil
}

func (r *PGRecorder) Record(ctx context.Context, e Entry) (Entry, error) {
	e, err := prepare(e, r.nowFunc)
	if err != nil {
		return Entry{}, err
	}
	changes, err := json.Marshal(e.Fields)
	if err != nil {
		return Entry{}, fmt.Errorf("marshal audit changes: %w", err)
	}
	const q = `
INSERT INTO portfolio_audit (audit_id, org_id, modified_by, user_action, record_id, changes, recorded_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := r.db.ExecContext(ctx, q, e.ID, e.OrganizationID, e.ModifiedBy, e.Action, e.RecordID, changes, e.RecordedAt); err != nil {
		return Entry{}, fmt.Errorf("insert audit entry: %w", err)
	}
	return e, nil
}

func (r *PGRecorder) ListByRecord(ctx context.Context, organizationID, recordID int64) ([]Entry, error) {
	const q = `
SELECT audit_id, org_id, modified_by, user_action, record_id, changes, recorded_at
FROM portfolio_audit
WHERE org_id = $1 AND record_id = $2
ORDER BY recorded_at, audit_id`
	rows, err := r.db.QueryContext(ctx, q, organizationID, recordID)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	out := []Entry{}
	for rows.Next() {
		var (
			e       Entry
			changes []byte
		)
		if err := rows.Scan(&e.ID, &e.OrganizationID, &e.ModifiedBy, &e.Action, &e.RecordID, &changes, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if len(changes) > 0 {
			if err := json.Unmarshal(changes, &e.Fields); err != nil {
				return nil, fmt.Errorf("decode audit changes: %w", err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return out, nil
}
