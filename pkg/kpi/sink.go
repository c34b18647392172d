// Package kpi implements the Counter Sink contract: a fire-and-forget
// destination for published running totals, keyed by stable KPI names
// of the form KPI_Retainability_<PROC>_<KIND>_FAILURE.
package kpi

import "time"

// Sink is the Counter Sink interface the analyzers publish through.
// Calls are advisory: analyzer state never depends on a Sink's
// behavior, and a Sink must never block or fail the caller.
type Sink interface {
	// StoreKPI records the current running total for name at ts.
	StoreKPI(name string, value int64, ts time.Time)

	// RegisterKPI declares a counter up front, once per counter at
	// startup. A sink that supports callbacks (MemorySink) invokes cb
	// whenever a fresh value for name is stored; the database and JSONL
	// sinks ignore cb. subKeys optionally partitions the counter.
	RegisterKPI(category, name string, cb func(value int64, ts time.Time), subKeys ...string)
}

// Snapshotter is implemented by sinks that can report their current
// state back out — used by the dashboard and by tests.
type Snapshotter interface {
	Snapshot() map[string]int64
}
