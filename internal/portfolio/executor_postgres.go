package portfolio

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"
)

// PGExecutor runs partial updates as a single parameterized statement
// against the record table.
type PGExecutor struct {
	db     *sql.DB
	schema *Schema
}

func NewPGExecutor(db *sql.DB, schema *Schema) (*PGExecutor, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	if schema == nil {
		return nil, fmt.Errorf("schema is required")
	}
	e := &PGExecutor{db: db, schema: schema}
	if err := e.ensureSchema(); err != nil {
		return nil, err
	}
	return e, nil
}

// ensureSchema creates the record table when it does not exist. An existing
// table is left as is.
func (e *PGExecutor) ensureSchema() error {
	if _, err := e.db.Exec(createTableSQL(e.schema)); err != nil {
		return fmt.Errorf("ensure %s schema: %w", e.schema.Table(), err)
	}
	return nil
}

func createTableSQL(schema *Schema) string {
	cols := []string{pq.QuoteIdentifier(schema.IDColumn()) + " BIGINT PRIMARY KEY"}
	for _, f := range schema.Fields() {
		cols = append(cols, pq.QuoteIdentifier(f.Column)+" "+f.Type)
	}
	return "CREATE TABLE IF NOT EXISTS " + pq.QuoteIdentifier(schema.Table()) + " (" + strings.Join(cols, ", ") + ")"
}

func (e *PGExecutor) ApplyPartialUpdate(ctx context.Context, recordID int64, fields map[string]any) (Result, error) {
	assignments, err := e.schema.Normalize(fields)
	if err != nil {
		return Result{}, err
	}

	q, args := buildUpdate(e.schema, recordID, assignments)
	res, err := e.db.ExecContext(ctx, q, args...)
	if err != nil {
		return Result{}, fmt.Errorf("%w: update record %d: %v", ErrStorage, recordID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return Result{}, fmt.Errorf("%w: read update affected rows: %v", ErrStorage, err)
	}
	return Result{Changed: affected > 0, Applied: assignments}, nil
}

func (e *PGExecutor) Delete(ctx context.Context, recordID int64) (Result, error) {
	q := "DELETE FROM " + pq.QuoteIdentifier(e.schema.Table()) +
		" WHERE " + pq.QuoteIdentifier(e.schema.IDColumn()) + " = $1"
	res, err := e.db.ExecContext(ctx, q, recordID)
	if err != nil {
		return Result{}, fmt.Errorf("%w: delete record %d: %v", ErrStorage, recordID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return Result{}, fmt.Errorf("%w: read delete affected rows: %v", ErrStorage, err)
	}
	return Result{Changed: affected > 0}, nil
}

// buildUpdate renders
//
//	UPDATE t SET a = $1, b = $2 WHERE id = $3 AND (a IS DISTINCT FROM $1 OR b IS DISTINCT FROM $2)
//
// so that resubmitting values that already hold touches no row.
func buildUpdate(schema *Schema, recordID int64, assignments []Assignment) (string, []any) {
	sets := make([]string, 0, len(assignments))
	diffs := make([]string, 0, len(assignments))
	args := make([]any, 0, len(assignments)+1)
	for i, a := range assignments {
		col := pq.QuoteIdentifier(a.Field.Column)
		ph := "$" + strconv.Itoa(i+1)
		sets = append(sets, col+" = "+ph)
		diffs = append(diffs, col+" IS DISTINCT FROM "+ph)
		args = append(args, a.Value)
	}
	args = append(args, recordID)
	idPh := "$" + strconv.Itoa(len(args))

	var b strings.Builder
	b.WriteString("UPDATE ")
	b.WriteString(pq.QuoteIdentifier(schema.Table()))
	b.WriteString(" SET ")
	b.WriteString(strings.Join(sets, ", "))
	b.WriteString(" WHERE ")
	b.WriteString(pq.QuoteIdentifier(schema.IDColumn()))
	b.WriteString(" = ")
	b.WriteString(idPh)
	b.WriteString(" AND (")
	b.WriteString(strings.Join(diffs, " OR "))
	b.WriteString(")")
	return b.String(), args
}
