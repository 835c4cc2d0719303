package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Mutation actions recorded in the audit trail.
const (
	ActionUpdate = "Update"
	ActionDelete = "Delete"
)

// Entry is one immutable audit record of an accepted mutation. Fields holds
// the new values keyed by audit column name and never contains the record
// identifier.
type Entry struct {
	ID             string         `json:"id"`
	OrganizationID int64          `json:"organizationId"`
	ModifiedBy     int64          `json:"modifiedBy"`
	Action         string         `json:"action"`
	RecordID       int64          `json:"recordId"`
	Fields         map[string]any `json:"fields,omitempty"`
	RecordedAt     time.Time      `json:"recordedAt"`
}

// Recorder is an append-only audit store.
type Recorder interface {
	Record(ctx context.Context, e Entry) (Entry, error)
	ListByRecord(ctx context.Context, organizationID, recordID int64) ([]Entry, error)
}

// ColumnNames maps record field names to their audit column names.
var ColumnNames = map[string]string{
	"CompanyName":    "Company Name",
	"Sector":         "Sector",
	"Country":        "Country",
	"Quarter":        "Quarter",
	"Year":           "Year",
	"Revenue":        "Revenue",
	"EBITDA":         "EBITDA",
	"NetIncome":      "Net Income",
	"Valuation":      "Valuation",
	"OwnershipPct":   "Ownership %",
	"InvestmentDate": "Investment Date",
	"Status":         "Status",
	"Comments":       "Comments",
}

// MapFields renames fields through ColumnNames. Unknown names pass through
// and the identifier key is dropped.
func MapFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for name, v := range fields {
		if name == "ID" {
			continue
		}
		if col, ok := ColumnNames[name]; ok {
			name = col
		}
		out[name] = v
	}
	return out
}

func prepare(e Entry, now func() time.Time) (Entry, error) {
	switch e.Action {
	case ActionUpdate, ActionDelete:
	default:
		return Entry{}, fmt.Errorf("unsupported audit action %q", e.Action)
	}
	if e.OrganizationID <= 0 || e.ModifiedBy <= 0 || e.RecordID <= 0 {
		return Entry{}, errors.New("audit entry requires organization, modifier and record")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.RecordedAt.IsZero() {
		e.RecordedAt = now().UTC()
	}
	if e.Fields == nil {
		e.Fields = map[string]any{}
	}
	return e, nil
}
