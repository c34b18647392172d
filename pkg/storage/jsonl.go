// Package storage persists KPI counter updates to a daily-rotated
// JSONL file, one (name, value, timestamp) record per line.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// record is one line of the JSONL output.
type record struct {
	Name      string    `json:"name"`
	Value     int64     `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// JSONLSink implements pkg/kpi.Sink by appending one JSON record per
// StoreKPI call to a daily-rotated file under basePath.
type JSONLSink struct {
	basePath string

	mu         sync.Mutex
	file       *os.File
	encoder    *json.Encoder
	lastRotate time.Time
}

// NewJSONLSink creates basePath if needed and opens today's file.
func NewJSONLSink(basePath string) (*JSONLSink, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	s := &JSONLSink{basePath: basePath}
	if err := s.rotate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *JSONLSink) rotate() error {
	if s.file != nil {
		s.file.Close()
	}

	name := fmt.Sprintf("kpi_%s.jsonl", time.Now().Format("2006-01-02"))
	path := filepath.Join(s.basePath, name)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open jsonl file: %w", err)
	}

	s.file = f
	s.encoder = json.NewEncoder(f)
	s.lastRotate = time.Now()
	return nil
}

// StoreKPI implements pkg/kpi.Sink. Write failures are swallowed.
func (s *JSONLSink) StoreKPI(name string, value int64, ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if time.Since(s.lastRotate) > 24*time.Hour {
		if err := s.rotate(); err != nil {
			return
		}
	}
	_ = s.encoder.Encode(record{Name: name, Value: value, Timestamp: ts})
}

// RegisterKPI implements pkg/kpi.Sink. JSONLSink has nothing to
// declare at registration time.
func (s *JSONLSink) RegisterKPI(category, name string, cb func(value int64, ts time.Time), subKeys ...string) {
}

// Close closes the underlying file.
func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}
