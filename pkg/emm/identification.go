package emm

import (
	"strings"

	"github.com/protei/emmkpi/pkg/event"
	"github.com/protei/emmkpi/pkg/kpi"
)

// IdentificationAnalyzer tracks the Identification procedure: a
// pending identity request, the secondary pending_attach/
// pending_service/pending_TAU flags that redirect a concurrent Attach
// or TAU request into a collision rather than a fresh retransmit
// cycle, and the re-arm after every branch except TIMEOUT, which
// leaves the procedure idle and its table entry cleared.
type IdentificationAnalyzer struct {
	*recorder
	table   *Table
	windows Windows

	req *retransmitTracker // pending_id / req_at / strikes

	pendingAttach bool
	pendingService bool
	pendingTAU    bool
	prevAttachLog *event.Field
}

// NewIdentificationAnalyzer creates the Identification procedure analyzer.
func NewIdentificationAnalyzer(sink kpi.Sink, table *Table, windows Windows) *IdentificationAnalyzer {
	a := &IdentificationAnalyzer{
		recorder: newRecorder(ProcedureIdentification, sink),
		table:    table,
		windows:  windows,
		req:      &retransmitTracker{},
	}
	a.register(KindTimeout, KindCollision, KindConcurrent, KindTransmissionTAU, KindTransmissionService, KindUnavailable, KindHandover)
	return a
}

func (a *IdentificationAnalyzer) Name() string { return "identification" }

func (a *IdentificationAnalyzer) Handle(msg *event.Message) {
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

func (a *IdentificationAnalyzer) handleIncoming(msg *event.Message) {
	code, ok := msg.EMMType()
	if !ok {
		return
	}
	switch code {
	case TypeAttachReject:
		a.pendingAttach = false
	case TypeTAUReject:
		a.pendingTAU = false
	case TypeServiceReject, TypeServiceAccept:
		a.pendingService = false
	case TypeIdentRequest:
		a.onIdentificationRequest(msg)
	}
}

func (a *IdentificationAnalyzer) onIdentificationRequest(msg *event.Message) {
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
		return
	}

	a.req.start(now, nil)
	a.table.Start(ProcedureIdentification, now)
}

func (a *IdentificationAnalyzer) handleOutgoing(msg *event.Message) {
	code, ok := msg.EMMType()
	if ok {
		switch code {
		case TypeAttachRequest:
			a.onAttachRequest(msg)
		case TypeAttachComplete:
			a.pendingAttach = false
			a.prevAttachLog = nil
		case TypeDetachRequest:
			a.onDetachRequest(msg)
		case TypeTAURequest:
			if !a.req.pending {
				a.pendingTAU = true
			}
		case TypeTAUComplete:
			a.pendingTAU = false
		case TypeIdentResponse:
			a.terminate()
		case TypeServiceRequest:
			if !a.req.pending {
				a.pendingService = true
			}
		}
	}
	a.checkMobileIDUnavailable(msg)
}

func (a *IdentificationAnalyzer) onAttachRequest(msg *event.Message) {
	now := msg.Timestamp
	switch {
	case a.req.pending && !a.pendingAttach:
		a.emit(KindCollision, now)
		a.fullReset()
	case a.req.pending && a.pendingAttach:
		if !AttachFingerprint(msg.Payload).Equal(AttachFingerprint(a.prevAttachLog)) {
			a.emit(KindConcurrent, now)
			a.fullReset()
		}
	}
	a.pendingAttach = true
	a.prevAttachLog = msg.Payload
}

func (a *IdentificationAnalyzer) onDetachRequest(msg *event.Message) {
	if a.req.pending && msg.Payload.AnyShownameContains("Switch off") {
		a.emit(KindCollision, msg.Timestamp)
		a.fullReset()
	}
}

func (a *IdentificationAnalyzer) checkMobileIDUnavailable(msg *event.Message) {
	for _, f := range msg.Payload.FindAllByName("gsm_a.ie.mobileid.type") {
		switch {
		case strings.Contains(f.Showname, "no identity"):
			a.emit(KindUnavailable, msg.Timestamp)
		case !strings.Contains(f.Showname, "IMEISV") &&
			!strings.Contains(f.Showname, "TMSI/P-TMSI/M-TMSI") &&
			!strings.Contains(f.Showname, "IMSI"):
			a.emit(KindUnavailable, msg.Timestamp)
		}
	}
}

func (a *IdentificationAnalyzer) handleRRC(msg *event.Message) {
	f := msg.Payload.FindByName("lte-rrc.reestablishmentCause")
	if f == nil || !strings.Contains(f.Showname, "handoverFailure") {
		return
	}
	if a.table.HandoverAttributed(ProcedureIdentification, msg.Timestamp, a.windows.HandoverWindow) {
		a.emit(KindHandover, msg.Timestamp)
		a.fullReset()
	}
}

// terminate handles the normal-completion path (Identification
// Response received): only the analyzer's own pending phase clears,
// leaving the secondary flags untouched for whichever procedure set
// them.
func (a *IdentificationAnalyzer) terminate() {
	a.req.reset()
	a.table.End(ProcedureIdentification)
}

// fullReset clears every piece of state this analyzer owns, used on
// every failure path.
func (a *IdentificationAnalyzer) fullReset() {
	a.req.reset()
	a.pendingAttach = false
	a.pendingService = false
	a.pendingTAU = false
	a.prevAttachLog = nil
	a.table.End(ProcedureIdentification)
}
