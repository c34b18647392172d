package emm

import (
	"strings"

	"github.com/protei/emmkpi/pkg/event"
	"github.com/protei/emmkpi/pkg/kpi"
)

// GUTIAnalyzer tracks the GUTI Reallocation procedure: a single
// pending_guti flag and a T3450-windowed strike counter, plus HANDOVER
// attribution via the same shared-table pattern every other
// table-tracked analyzer uses.
type GUTIAnalyzer struct {
	*recorder
	table   *Table
	windows Windows

	req *retransmitTracker // pending_guti / guti_timestamp / timeouts
}

// NewGUTIAnalyzer creates the GUTI Reallocation procedure analyzer.
func NewGUTIAnalyzer(sink kpi.Sink, table *Table, windows Windows) *GUTIAnalyzer {
	a := &GUTIAnalyzer{
		recorder: newRecorder(ProcedureGUTI, sink),
		table:    table,
		windows:  windows,
		req:      &retransmitTracker{},
	}
	a.register(KindTimeout, KindCollision, KindHandover)
	return a
}

func (a *GUTIAnalyzer) Name() string { return "guti" }

func (a *GUTIAnalyzer) Handle(msg *event.Message) {
	if msg == nil {
		return
	}
	switch msg.TypeID {
	case event.EMMIncomingNAS:
		a.handleIncoming(msg)
	case event.EMMOutgoingNAS:
		a.handleOutgoing(msg)
	case event.RRCOTA:
		a.handleRRC(msg)
	}
}

func (a *GUTIAnalyzer) handleIncoming(msg *event.Message) {
	code, ok := msg.EMMType()
	if !ok || code != TypeGUTICommand {
		return
	}
	now := msg.Timestamp
	if a.req.pending {
		a.req.strike(now, a.windows.T3450)
	}
	if a.req.timedOut(a.windows.StrikeThreshold) {
		a.emit(KindTimeout, now)
		a.fullReset()
	}
	a.req.start(now, nil)
	a.table.Start(ProcedureGUTI, now)
}

func (a *GUTIAnalyzer) handleOutgoing(msg *event.Message) {
	code, ok := msg.EMMType()
	if !ok {
		return
	}
	switch code {
	case TypeAttachRequest, TypeDetachRequest, TypeTAURequest, TypeServiceRequest:
		a.onCollisionRequest(msg)
	case TypeGUTIComplete:
		a.fullReset()
	}
}

func (a *GUTIAnalyzer) onCollisionRequest(msg *event.Message) {
	if !a.req.pending {
		return
	}
	if withinWindow(msg.Timestamp.Sub(a.req.sentAt), a.windows.Threshold) {
		a.emit(KindCollision, msg.Timestamp)
		a.fullReset()
	}
}

func (a *GUTIAnalyzer) handleRRC(msg *event.Message) {
	f := msg.Payload.FindByName("lte-rrc.reestablishmentCause")
	if f == nil || !strings.Contains(f.Showname, "handoverFailure") {
		return
	}
	if a.table.HandoverAttributed(ProcedureGUTI, msg.Timestamp, a.windows.HandoverWindow) {
		a.emit(KindHandover, msg.Timestamp)
		a.fullReset()
	}
}

// fullReset clears every piece of state this analyzer owns.
func (a *GUTIAnalyzer) fullReset() {
	a.req.reset()
	a.table.End(ProcedureGUTI)
}
