package portfolio

import (
	"errors"
	"fmt"
	"regexp"
)

// IDField is the key that carries the record identifier in an edited row.
const IDField = "ID"

var (
	ErrEmptyUpdate     = errors.New("no fields to update")
	ErrIdentifierField = errors.New("record identifier is not updatable")
	ErrUnknownField    = errors.New("unknown field")
	ErrInvalidValue    = errors.New("invalid field value")
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Coercer converts a decoded request value into the value written to the
// column. It never receives nil.
type Coercer func(v any) (any, error)

// Column types a Field may declare for table creation.
const (
	TypeText    = "TEXT"
	TypeBigint  = "BIGINT"
	TypeDecimal = "DOUBLE PRECISION"
	TypeDate    = "DATE"
)

// Field describes one updatable column. Type defaults to TypeText.
type Field struct {
	Name   string
	Column string
	Type   string
	Coerce Coercer
}

// Assignment is a coerced value bound to its field.
type Assignment struct {
	Field Field
	Value any
}

// Schema is the closed set of columns a partial update may touch.
type Schema struct {
	table    string
	idColumn string
	order    []string
	fields   map[string]Field
}

func NewSchema(table, idColumn string, fields ...Field) (*Schema, error) {
	if !identifierPattern.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if !identifierPattern.MatchString(idColumn) {
		return nil, fmt.Errorf("invalid id column %q", idColumn)
	}
	s := &Schema{
		table:    table,
		idColumn: idColumn,
		fields:   make(map[string]Field, len(fields)),
	}
	for _, f := range fields {
		if f.Name == "" || f.Name == IDField {
			return nil, fmt.Errorf("invalid field name %q", f.Name)
		}
		if !identifierPattern.MatchString(f.Column) || f.Column == idColumn {
			return nil, fmt.Errorf("invalid column %q for field %s", f.Column, f.Name)
		}
		if _, dup := s.fields[f.Name]; dup {
			return nil, fmt.Errorf("duplicate field %s", f.Name)
		}
		switch f.Type {
		case "":
			f.Type = TypeText
		case TypeText, TypeBigint, TypeDecimal, TypeDate:
		default:
			return nil, fmt.Errorf("unsupported column type %q for field %s", f.Type, f.Name)
		}
		if f.Coerce == nil {
			f.Coerce = passThrough
		}
		s.fields[f.Name] = f
		s.order = append(s.order, f.Name)
	}
	return s, nil
}

func (s *Schema) Table() string    { return s.table }
func (s *Schema) IDColumn() string { return s.idColumn }

// Field reports the descriptor registered under name.
func (s *Schema) Field(name string) (Field, bool) {
	f, ok := s.fields[name]
	return f, ok
}

// Normalize turns a sparse name->value map into assignments in schema
// order. Nil values are skipped; unknown names and the identifier key are
// rejected.
func (s *Schema) Normalize(fields map[string]any) ([]Assignment, error) {
	if _, ok := fields[IDField]; ok {
		return nil, ErrIdentifierField
	}
	for name := range fields {
		if _, ok := s.fields[name]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownField, name)
		}
	}

	out := make([]Assignment, 0, len(fields))
	for _, name := range s.order {
		raw, ok := fields[name]
		if !ok || raw == nil {
			continue
		}
		f := s.fields[name]
		v, err := f.Coerce(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidValue, name, err)
		}
		out = append(out, Assignment{Field: f, Value: v})
	}
	if len(out) == 0 {
		return nil, ErrEmptyUpdate
	}
	return out, nil
}

// Fields returns the descriptors in schema order.
func (s *Schema) Fields() []Field {
	out := make([]Field, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.fields[name])
	}
	return out
}

// Values maps each assignment back to its field name.
func Values(assignments []Assignment) map[string]any {
	out := make(map[string]any, len(assignments))
	for _, a := range assignments {
		out[a.Field.Name] = a.Value
	}
	return out
}

// DefaultSchema is the portfolio company table layout.
func DefaultSchema(table string) (*Schema, error) {
	return NewSchema(table, "id",
		Field{Name: "CompanyName", Column: "company_name", Coerce: Text},
		Field{Name: "Sector", Column: "sector", Coerce: Text},
		Field{Name: "Country", Column: "country", Coerce: Text},
		Field{Name: "Quarter", Column: "quarter", Type: TypeBigint, Coerce: QuarterLabel},
		Field{Name: "Year", Column: "fiscal_year", Type: TypeBigint, Coerce: Integer},
		Field{Name: "Revenue", Column: "revenue", Type: TypeDecimal, Coerce: Decimal},
		Field{Name: "EBITDA", Column: "ebitda", Type: TypeDecimal, Coerce: Decimal},
		Field{Name: "NetIncome", Column: "net_income", Type: TypeDecimal, Coerce: Decimal},
		Field{Name: "Valuation", Column: "valuation", Type: TypeDecimal, Coerce: Decimal},
		Field{Name: "OwnershipPct", Column: "ownership_pct", Type: TypeDecimal, Coerce: Percentage},
		Field{Name: "InvestmentDate", Column: "investment_date", Type: TypeDate, Coerce: Date},
		Field{Name: "Status", Column: "status", Coerce: Text},
		Field{Name: "Comments", Column: "comments", Coerce: Text},
	)
}
