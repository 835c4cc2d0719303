package portfolio

import (
	"context"
	"errors"
)

// ErrStorage wraps any fault of the underlying record store.
var ErrStorage = errors.New("record store failure")

// Result reports the outcome of a mutation. Changed is false when no row
// matched the identifier or every submitted value already held; neither is
// an error. Applied lists the coerced assignments that were submitted.
type Result struct {
	Changed bool
	Applied []Assignment
}

// Executor applies mutations to portfolio records.
type Executor interface {
	ApplyPartialUpdate(ctx context.Context, recordID int64, fields map[string]any) (Result, error)
	Delete(ctx context.Context, recordID int64) (Result, error)
}
