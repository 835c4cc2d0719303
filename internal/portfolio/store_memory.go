package portfolio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"reflect"
	"sync"
)

// MemoryStore is an in-process record store with the same update semantics
// as PGExecutor. Records are keyed by ID and hold coerced values by field name.
type MemoryStore struct {
	schema *Schema

	mu      sync.RWMutex
	records map[int64]map[string]any
}

func NewMemoryStore(schema *Schema) *MemoryStore {
	return &MemoryStore{schema: schema, records: make(map[int64]map[string]any)}
}

// Insert stores a full record, coercing every non-nil field.
func (m *MemoryStore) Insert(recordID int64, fields map[string]any) error {
	row := make(map[string]any, len(fields))
	if len(fields) > 0 {
		assignments, err := m.schema.Normalize(fields)
		if err != nil && !errors.Is(err, ErrEmptyUpdate) {
			return err
		}
		for _, a := range assignments {
			row[a.Field.Name] = a.Value
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[recordID] = row
	return nil
}

// LoadSeedFile inserts the JSON array of rows in path. Each row carries its
// identifier under "ID".
func (m *MemoryStore) LoadSeedFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}
	var rows []map[string]any
	if err := json.Unmarshal(b, &rows); err != nil {
		return fmt.Errorf("decode seed file: %w", err)
	}
	for i, row := range rows {
		rawID, ok := row[IDField]
		if !ok {
			return fmt.Errorf("seed row %d has no %s", i, IDField)
		}
		id, err := Integer(rawID)
		if err != nil {
			return fmt.Errorf("seed row %d: %w", i, err)
		}
		delete(row, IDField)
		if err := m.Insert(id.(int64), row); err != nil {
			return fmt.Errorf("seed row %d: %w", i, err)
		}
	}
	return nil
}

// Get returns a copy of the record.
func (m *MemoryStore) Get(recordID int64) (map[string]any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	row, ok := m.records[recordID]
	if !ok {
		return nil, false
	}
	out := make(map[string]any, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out, true
}

func (m *MemoryStore) ApplyPartialUpdate(_ context.Context, recordID int64, fields map[string]any) (Result, error) {
	assignments, err := m.schema.Normalize(fields)
	if err != nil {
		return Result{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.records[recordID]
	if !ok {
		return Result{Applied: assignments}, nil
	}
	changed := false
	for _, a := range assignments {
		if cur, ok := row[a.Field.Name]; !ok || !reflect.DeepEqual(cur, a.Value) {
			changed = true
			break
		}
	}
	if changed {
		for _, a := range assignments {
			row[a.Field.Name] = a.Value
		}
	}
	return Result{Changed: changed, Applied: assignments}, nil
}

func (m *MemoryStore) Delete(_ context.Context, recordID int64) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[recordID]; !ok {
		return Result{}, nil
	}
	delete(m.records, recordID)
	return Result{Changed: true}, nil
}
