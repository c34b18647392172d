package kpi

import "time"

// MultiSink fans StoreKPI/RegisterKPI calls out to every wrapped sink,
// so optional persistence sinks (database, file) can run alongside the
// in-memory one without the core ever depending on either succeeding.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink wraps the given sinks. Order is preserved for calls.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// StoreKPI implements Sink, forwarding to every wrapped sink.
func (m *MultiSink) StoreKPI(name string, value int64, ts time.Time) {
	for _, s := range m.sinks {
		s.StoreKPI(name, value, ts)
	}
}

// RegisterKPI implements Sink, forwarding to every wrapped sink.
func (m *MultiSink) RegisterKPI(category, name string, cb func(value int64, ts time.Time), subKeys ...string) {
	for _, s := range m.sinks {
		s.RegisterKPI(category, name, cb, subKeys...)
	}
}
