package emm

import (
	"sync"
	"time"
)

// HandoverTableOrder is the canonical registration order of the six
// procedures that participate in the shared Procedure Timestamp Table
// (Attach is tracked by the Attach analyzer only and never joins this
// table). Ties in HandoverAttributed break in this order: whichever
// procedure registered first wins.
var HandoverTableOrder = []string{
	ProcedureIdentification,
	ProcedureAuthentication,
	ProcedureSecurity,
	ProcedureGUTI,
	ProcedureDetach,
	ProcedureTAU,
}

// Table is the shared Procedure Timestamp Table: a mapping from
// procedure name to the timestamp of its most recent unfinished start,
// or absent. Each analyzer writes only its own entry; HandoverAttributed
// reads a consistent snapshot to classify an RRC-reported handover
// failure, so no analyzer needs to mutate another's state directly.
type Table struct {
	mu      sync.Mutex
	order   []string
	index   map[string]int
	times   []time.Time
	present []bool
}

// NewTable creates a table tracking exactly the given procedure names,
// in the order ties should be broken.
func NewTable(procedures ...string) *Table {
	idx := make(map[string]int, len(procedures))
	for i, p := range procedures {
		idx[p] = i
	}
	return &Table{
		order:   procedures,
		index:   idx,
		times:   make([]time.Time, len(procedures)),
		present: make([]bool, len(procedures)),
	}
}

// Start records that proc has an unfinished start as of at. A second
// Start while already present simply refreshes the timestamp.
func (t *Table) Start(proc string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	i, ok := t.index[proc]
	if !ok {
		return
	}
	t.times[i] = at
	t.present[i] = true
}

// End resets proc's entry to ⊥.
func (t *Table) End(proc string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	i, ok := t.index[proc]
	if !ok {
		return
	}
	t.present[i] = false
	t.times[i] = time.Time{}
}

// Snapshot returns every currently-outstanding procedure's timestamp.
func (t *Table) Snapshot() map[string]time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]time.Time)
	for i, p := range t.order {
		if t.present[i] {
			out[p] = t.times[i]
		}
	}
	return out
}

// HandoverAttributed reports whether proc should be charged with the
// handover: its entry must be present, hold the maximum timestamp
// across the whole table, and fall within window of now.
func (t *Table) HandoverAttributed(proc string, now time.Time, window time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	i, ok := t.index[proc]
	if !ok || !t.present[i] {
		return false
	}

	maxIdx := -1
	for j := range t.order {
		if !t.present[j] {
			continue
		}
		if maxIdx == -1 || t.times[j].After(t.times[maxIdx]) {
			maxIdx = j
		}
	}
	if maxIdx != i {
		return false
	}

	delta := now.Sub(t.times[i])
	return withinWindow(delta, window)
}
