package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// DefaultJSONLPath is where the JSONL sink writes unless configured
// otherwise.
const DefaultJSONLPath = "audit_events.jsonl"

// JSONLSink appends one JSON object per line to a local file. The
// default sink for single-node deployments: no infrastructure, easy to
// ship to a collector later.
type JSONLSink struct {
	mu  sync.Mutex
	f   *os.File
	enc *json.Encoder
}

// NewJSONLSink opens (or creates) the file at path for appending.
func NewJSONLSink(path string) (*JSONLSink, error) {
	if path == "" {
		path = DefaultJSONLPath
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open audit log %s: %w", path, err)
	}
	return &JSONLSink{f: f, enc: json.NewEncoder(f)}, nil
}

// Write appends one record. Encoder writes are serialized; the O_APPEND
// file handle keeps lines whole even with multiple processes on the
// same file.
func (s *JSONLSink) Write(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enc.Encode(rec); err != nil {
		return fmt.Errorf("write audit record %s: %w", rec.ID, err)
	}
	return nil
}

// Close flushes and closes the file.
func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

var _ Sink = (*JSONLSink)(nil)
