package emm

import (
	"strings"

	"github.com/protei/emmkpi/pkg/event"
	"github.com/protei/emmkpi/pkg/kpi"
)

// SecurityModeAnalyzer tracks the Security Mode Control procedure: the
// pending_security_mode/pending_service/pending_TAU triad and the
// TRANSMISSION_SERVICE/TRANSMISSION_TAU/TIMEOUT precedence on a new
// incoming Security Mode Command.
type SecurityModeAnalyzer struct {
	*recorder
	table   *Table
	windows Windows

	req *retransmitTracker // pending_sec / req_at / strikes

	pendingService bool
	pendingTAU     bool
}

// NewSecurityModeAnalyzer creates the Security Mode procedure analyzer.
func NewSecurityModeAnalyzer(sink kpi.Sink, table *Table, windows Windows) *SecurityModeAnalyzer {
	a := &SecurityModeAnalyzer{
		recorder: newRecorder(ProcedureSecurity, sink),
		table:    table,
		windows:  windows,
		req:      &retransmitTracker{},
	}
	a.register(KindTimeout, KindCollision, KindTransmissionTAU, KindTransmissionService, KindHandover)
	return a
}

func (a *SecurityModeAnalyzer) Name() string { return "security" }

func (a *SecurityModeAnalyzer) Handle(msg *event.Message) {
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

func (a *SecurityModeAnalyzer) handleIncoming(msg *event.Message) {
	code, ok := msg.EMMType()
	if !ok {
		return
	}
	switch code {
	case TypeTAUReject:
		a.pendingTAU = false
	case TypeServiceReject, TypeServiceAccept:
		a.pendingService = false
	case TypeSecurityCommand:
		a.onSecurityModeCommand(msg)
	}
}

func (a *SecurityModeAnalyzer) onSecurityModeCommand(msg *event.Message) {
	now := msg.Timestamp
	switch {
	case a.req.pending && a.pendingService:
		if withinWindow(now.Sub(a.req.sentAt), a.windows.Threshold) {
			a.emit(KindTransmissionService, now)
			a.fullReset()
		}
	case a.req.pending && a.pendingTAU:
		if withinWindow(now.Sub(a.req.sentAt), a.windows.Threshold) {
			a.emit(KindTransmissionTAU, now)
			a.fullReset()
		}
	case a.req.pending:
		a.req.strike(now, a.windows.Threshold)
	}

	if a.req.timedOut(a.windows.StrikeThreshold) {
		a.emit(KindTimeout, now)
		a.fullReset()
	}

	a.req.start(now, nil)
	a.table.Start(ProcedureSecurity, now)
}

func (a *SecurityModeAnalyzer) handleOutgoing(msg *event.Message) {
	code, ok := msg.EMMType()
	if ok {
		switch code {
		case TypeAttachRequest, TypeTAURequest, TypeServiceRequest:
			a.onCollisionRequest(msg)
		case TypeDetachRequest:
			a.onDetachRequest(msg)
		case TypeTAUComplete:
			a.pendingTAU = false
		case TypeSecurityComplete, TypeSecurityReject:
			a.fullReset()
		}
		if code == TypeTAURequest && !a.req.pending {
			a.pendingTAU = true
		}
		if code == TypeServiceRequest && !a.req.pending {
			a.pendingService = true
		}
	}
}

func (a *SecurityModeAnalyzer) onCollisionRequest(msg *event.Message) {
	if !a.req.pending {
		return
	}
	if withinWindow(msg.Timestamp.Sub(a.req.sentAt), a.windows.Threshold) {
		a.emit(KindCollision, msg.Timestamp)
		a.fullReset()
	}
}

func (a *SecurityModeAnalyzer) onDetachRequest(msg *event.Message) {
	if !a.req.pending {
		return
	}
	if !withinWindow(msg.Timestamp.Sub(a.req.sentAt), a.windows.Threshold) {
		return
	}
	if !msg.Payload.AnyShownameContains("Switch off") {
		a.emit(KindCollision, msg.Timestamp)
		a.fullReset()
	}
}

func (a *SecurityModeAnalyzer) handleRRC(msg *event.Message) {
	f := msg.Payload.FindByName("lte-rrc.reestablishmentCause")
	if f == nil || !strings.Contains(f.Showname, "handoverFailure") {
		return
	}
	if a.table.HandoverAttributed(ProcedureSecurity, msg.Timestamp, a.windows.HandoverWindow) {
		a.emit(KindHandover, msg.Timestamp)
		a.fullReset()
	}
}

// fullReset clears every piece of state this analyzer owns, used on
// both termination and every failure path: the original never
// distinguishes a narrow vs. full reset for this procedure.
func (a *SecurityModeAnalyzer) fullReset() {
	a.req.reset()
	a.pendingService = false
	a.pendingTAU = false
	a.table.End(ProcedureSecurity)
}
