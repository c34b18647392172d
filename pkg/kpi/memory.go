package kpi

import (
	"sync"
	"time"

	"github.com/protei/emmkpi/internal/logger"
)

// MemorySink is the default in-process Counter Sink: thread-safe
// running totals keyed by KPI name. A value lower than the current
// total is logged at Warn and still stored. Plain counters only — no
// success-rate or latency tracking alongside them.
type MemorySink struct {
	mu       sync.RWMutex
	counters map[string]int64
	updated  map[string]time.Time
	callbacks map[string][]func(value int64, ts time.Time)
	log      *logger.Logger
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{
		counters:  make(map[string]int64),
		updated:   make(map[string]time.Time),
		callbacks: make(map[string][]func(value int64, ts time.Time)),
		log:       logger.Get().WithComponent("kpi.memory"),
	}
}

// StoreKPI implements Sink.
func (s *MemorySink) StoreKPI(name string, value int64, ts time.Time) {
	s.mu.Lock()
	if prev, ok := s.counters[name]; ok && value < prev {
		s.log.Warn().Str("kpi", name).Int64("previous", prev).Int64("value", value).
			Msg("received a KPI value lower than the current running total")
	}
	s.counters[name] = value
	s.updated[name] = ts
	cbs := append([]func(value int64, ts time.Time){}, s.callbacks[name]...)
	s.mu.Unlock()

	for _, cb := range cbs {
		cb(value, ts)
	}
}

// RegisterKPI implements Sink.
func (s *MemorySink) RegisterKPI(category, name string, cb func(value int64, ts time.Time), subKeys ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.counters[name]; !ok {
		s.counters[name] = 0
	}
	if cb != nil {
		s.callbacks[name] = append(s.callbacks[name], cb)
	}
}

// Snapshot returns a point-in-time copy of every counter.
func (s *MemorySink) Snapshot() map[string]int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int64, len(s.counters))
	for k, v := range s.counters {
		out[k] = v
	}
	return out
}

// Value returns the current running total for name.
func (s *MemorySink) Value(name string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counters[name]
}
