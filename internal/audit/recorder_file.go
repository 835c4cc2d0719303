package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
)

// FileRecorder appends audit entries as JSON lines to a single file.
type FileRecorder struct {
	path    string
	nowFunc func() time.Time
	mu      sync.Mutex
}

func NewFileRecorder(path string) (*FileRecorder, error) {
	if path == "" {
		return nil, errors.New("audit log path is required")
	}
	return &FileRecorder{path: path, nowFunc: time.Now}, nil
}

func (r *FileRecorder) Record(_ context.Context, e Entry) (Entry, error) {
	e, err := prepare(e, r.nowFunc)
	if err != nil {
		return Entry{}, err
	}
	b, err := json.Marshal(e)
	if err != nil {
		return Entry{}, fmt.Errorf("marshal audit entry: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := appendLine(r.path, b); err != nil {
		return Entry{}, err
	}
	return e, nil
}

func (r *FileRecorder) ListByRecord(_ context.Context, organizationID, recordID int64) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := os.Open(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Entry{}, nil
		}
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	out := []Entry{}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("decode audit line: %w", err)
		}
		if e.OrganizationID == organizationID && e.RecordID == recordID {
			out = append(out, e)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	return out, nil
}
