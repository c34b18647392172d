package emm

import (
	"strings"
	"time"

	"github.com/protei/emmkpi/pkg/event"
)

// RRCObserver tracks RRC-OTA reestablishment failures that the shared
// table's attribution rule does not charge to any of the six
// table-tracked procedures: a structured, non-KPI counter distinct
// from any KPI_Retainability_* total.
//
// RRCObserver never emits a KPI_Retainability_* counter and never
// mutates the shared Table; it only reads it. But a read that runs
// after a table-tracked analyzer's own handleRRC has already cleared
// its winning entry via fullReset would see an empty table and flag a
// successfully-attributed handover as unclassified, so RegisterAll
// registers this observer before the procedure analyzers, not after.
type RRCObserver struct {
	table   *Table
	windows Windows
	onUnclassified func()
}

// NewRRCObserver creates the observer. onUnclassified is called once
// per RRC_OTA message whose reestablishmentCause showname contains
// "failure" and for which no table-tracked procedure passes
// Table.HandoverAttributed; the showname is not further checked for
// "handoverFailure". A nil callback
// makes the observer a no-op (useful in tests that don't care about
// this signal).
func NewRRCObserver(table *Table, windows Windows, onUnclassified func()) *RRCObserver {
	return &RRCObserver{table: table, windows: windows, onUnclassified: onUnclassified}
}

func (o *RRCObserver) Name() string { return "rrc-observer" }

// window returns the handover attribution window proc's own analyzer
// tests against: every procedure uses HandoverWindow except Detach,
// which uses the short Threshold (see detach.go's handleRRC).
func (o *RRCObserver) window(proc string) time.Duration {
	if proc == ProcedureDetach {
		return o.windows.Threshold
	}
	return o.windows.HandoverWindow
}

func (o *RRCObserver) Handle(msg *event.Message) {
	if o.onUnclassified == nil || msg == nil || msg.TypeID != event.RRCOTA {
		return
	}
	f := msg.Payload.FindByName("lte-rrc.reestablishmentCause")
	if f == nil || !strings.Contains(f.Showname, "failure") {
		return
	}
	for _, proc := range HandoverTableOrder {
		if o.table.HandoverAttributed(proc, msg.Timestamp, o.window(proc)) {
			return
		}
	}
	o.onUnclassified()
}
