package emm

import (
	"strings"

	"github.com/protei/emmkpi/pkg/event"
	"github.com/protei/emmkpi/pkg/kpi"
)

// DetachAnalyzer tracks the Detach procedure: a single pending_detach
// flag shared by both the network-initiated (incoming) and
// UE-initiated (outgoing) Detach Request, and the detach-type/cause
// matrix read off the earlier Detach Request's payload on a colliding
// Attach/TAU Request. Every nas_eps.emm.cause subfield on an incoming
// Detach Request increments EMM independently.
type DetachAnalyzer struct {
	*recorder
	table   *Table
	windows Windows

	req *retransmitTracker // pending_det / detach_req_timestamp / timeouts
}

// NewDetachAnalyzer creates the Detach procedure analyzer.
func NewDetachAnalyzer(sink kpi.Sink, table *Table, windows Windows) *DetachAnalyzer {
	a := &DetachAnalyzer{
		recorder: newRecorder(ProcedureDetach, sink),
		table:    table,
		windows:  windows,
		req:      &retransmitTracker{},
	}
	a.register(KindTimeout, KindEMM, KindCollision, KindHandover)
	return a
}

func (a *DetachAnalyzer) Name() string { return "detach" }

func (a *DetachAnalyzer) Handle(msg *event.Message) {
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

func (a *DetachAnalyzer) handleIncoming(msg *event.Message) {
	code, ok := msg.EMMType()
	if !ok {
		return
	}
	switch code {
	case TypeDetachRequest:
		a.onDetachRequest(msg)
	case TypeDetachAccept:
		a.fullReset()
	}
}

func (a *DetachAnalyzer) onDetachRequest(msg *event.Message) {
	causes := msg.Payload.FindAllByName("nas_eps.emm.cause")
	for _, c := range causes {
		a.emit(KindEMM, msg.Timestamp)
		a.log.Warn().Str("cause", c.Show).Msg("detach EMM cause observed")
	}
	if len(causes) > 0 {
		a.fullReset()
	}

	now := msg.Timestamp
	if a.req.pending {
		a.req.strike(now, a.windows.Threshold)
	}
	if a.req.timedOut(a.windows.StrikeThreshold) {
		a.emit(KindTimeout, now)
		a.fullReset()
	}
	a.req.start(now, msg.Payload)
	a.table.Start(ProcedureDetach, now)
}

func (a *DetachAnalyzer) handleOutgoing(msg *event.Message) {
	code, ok := msg.EMMType()
	if !ok {
		return
	}
	switch code {
	case TypeAttachRequest:
		a.onCollisionRequest(msg, attachDetachMatrix)
	case TypeTAURequest:
		a.onCollisionRequest(msg, tauDetachMatrix)
	case TypeDetachRequest:
		a.onOutgoingDetachRequest(msg)
	case TypeDetachAccept:
		a.fullReset()
	}
}

func (a *DetachAnalyzer) onOutgoingDetachRequest(msg *event.Message) {
	now := msg.Timestamp
	if a.req.pending {
		a.req.strike(now, a.windows.Threshold)
	}
	if a.req.timedOut(a.windows.StrikeThreshold) {
		a.emit(KindTimeout, now)
		a.fullReset()
	}
	a.req.start(now, msg.Payload)
	a.table.Start(ProcedureDetach, now)
}

func (a *DetachAnalyzer) onCollisionRequest(msg *event.Message, matrix func(detachType, cause string) bool) {
	if !a.req.pending {
		return
	}
	if !withinWindow(msg.Timestamp.Sub(a.req.sentAt), a.windows.Threshold) {
		return
	}
	detachType, cause := detachTypeAndCause(a.req.prevLog)
	if matrix(detachType, cause) {
		a.emit(KindCollision, msg.Timestamp)
		a.fullReset()
	}
}

// detachTypeAndCause reads the lowercased detach-type showname and the
// EMM cause off an earlier Detach Request's payload.
func detachTypeAndCause(payload *event.Field) (detachType, cause string) {
	for _, f := range payload.Descendants() {
		lower := strings.ToLower(f.Showname)
		if strings.Contains(lower, "re-attach") || strings.Contains(lower, "imsi detach") {
			detachType = lower
		}
		if f.Name == "nas_eps.emm.cause" {
			cause = f.Show
		}
	}
	return detachType, cause
}

func attachDetachMatrix(detachType, cause string) bool {
	return (strings.Contains(detachType, "re-attach not required") && cause != "2") ||
		(strings.Contains(detachType, "imsi detach") && cause != "2") ||
		strings.Contains(detachType, "re-attach required")
}

func tauDetachMatrix(detachType, cause string) bool {
	return (strings.Contains(detachType, "re-attach not required") && cause == "2") ||
		strings.Contains(detachType, "imsi detach")
}

func (a *DetachAnalyzer) handleRRC(msg *event.Message) {
	f := msg.Payload.FindByName("lte-rrc.reestablishmentCause")
	if f == nil || !strings.Contains(f.Showname, "handoverFailure") {
		return
	}
	// Detach's handover window uses the short threshold, not the
	// 600s window every other procedure uses.
	if a.table.HandoverAttributed(ProcedureDetach, msg.Timestamp, a.windows.Threshold) {
		a.emit(KindHandover, msg.Timestamp)
		a.fullReset()
	}
}

// fullReset clears every piece of state this analyzer owns.
func (a *DetachAnalyzer) fullReset() {
	a.req.reset()
	a.table.End(ProcedureDetach)
}
