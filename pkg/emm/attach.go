package emm

import (
	"strings"
	"time"

	"github.com/protei/emmkpi/pkg/event"
	"github.com/protei/emmkpi/pkg/kpi"
)

// AttachAnalyzer tracks the Attach procedure: a two-phase
// pending_attach/accepting_attach state machine, a shared
// retransmit-strike counter spanning both the outgoing Attach Request
// and the incoming Attach Accept re-emissions, and cause-driven
// PROTOCOL_ERROR/EMM classification on Attach Reject.
type AttachAnalyzer struct {
	*recorder
	windows Windows

	pendingAttach   bool
	acceptingAttach bool
	reqAt           time.Time
	acceptAt        time.Time
	prevAttachLog   *event.Field
	strikes         int
}

// NewAttachAnalyzer creates the Attach procedure analyzer. Attach does
// not participate in the shared Procedure Timestamp Table; it tracks
// its own pending/accepting anchors independently.
func NewAttachAnalyzer(sink kpi.Sink, windows Windows) *AttachAnalyzer {
	a := &AttachAnalyzer{
		recorder: newRecorder(ProcedureAttach, sink),
		windows:  windows,
	}
	a.register(KindTimeout, KindProtocolError, KindEMM, KindDetach, KindConcurrent)
	return a
}

func (a *AttachAnalyzer) Name() string { return "attach" }

func (a *AttachAnalyzer) Handle(msg *event.Message) {
	if msg == nil {
		return
	}
	switch msg.TypeID {
	case event.EMMIncomingNAS:
		a.handleIncoming(msg)
	case event.EMMOutgoingNAS:
		a.handleOutgoing(msg)
	}
}

func (a *AttachAnalyzer) handleIncoming(msg *event.Message) {
	code, ok := msg.EMMType()
	if !ok {
		return
	}
	switch code {
	case TypeAttachAccept:
		a.onAttachAccept(msg)
	case TypeAttachReject:
		a.onAttachReject(msg)
	case TypeDetachRequest:
		a.onIncomingDetachRequest(msg)
	}
}

func (a *AttachAnalyzer) onAttachAccept(msg *event.Message) {
	if !a.pendingAttach && !a.acceptingAttach {
		return
	}
	now := msg.Timestamp
	wasAccepting := a.acceptingAttach
	if wasAccepting {
		if withinWindow(now.Sub(a.acceptAt), a.windows.Threshold) {
			a.strikes++
		} else {
			a.strikes = 0
		}
	}
	if a.strikes >= a.windows.StrikeThreshold {
		a.emit(KindTimeout, now)
		a.fullReset()
		wasAccepting = false
	}
	if !wasAccepting {
		a.strikes = 1
	}
	a.acceptingAttach = true
	a.acceptAt = now
	a.prevAttachLog = msg.Payload
	a.pendingAttach = false
	a.reqAt = time.Time{}
}

func (a *AttachAnalyzer) onAttachReject(msg *event.Message) {
	cause, ok := msg.EMMCause()
	if ok {
		switch {
		case isProtocolErrorCause(cause):
			a.emit(KindProtocolError, msg.Timestamp)
		case cause == CauseCongestion:
			// Congestion counts as EMM whether or not T3346 is named.
			a.emit(KindEMM, msg.Timestamp)
		default:
			a.log.Warn().Str("cause", cause).Msg("attach reject cause outside the classified set, counted as EMM")
			a.emit(KindEMM, msg.Timestamp)
		}
	}
	a.fullReset()
}

func (a *AttachAnalyzer) onIncomingDetachRequest(msg *event.Message) {
	if !a.pendingAttach || a.reqAt.IsZero() {
		return
	}
	if !withinWindow(msg.Timestamp.Sub(a.reqAt), a.windows.Threshold) {
		return
	}
	var detachType string
	var cause string
	for _, f := range msg.Payload.Descendants() {
		if strings.Contains(f.Showname, "Re-attach") {
			detachType = f.Showname
		}
		if f.Name == "nas_eps.emm.cause" {
			cause = f.Show
		}
	}
	failed := (strings.Contains(detachType, "Re-attach not required") && cause != "2") ||
		strings.Contains(detachType, "Re-attach required")
	if failed {
		a.emit(KindDetach, msg.Timestamp)
		a.fullReset()
	}
}

func (a *AttachAnalyzer) handleOutgoing(msg *event.Message) {
	code, ok := msg.EMMType()
	if !ok {
		return
	}
	switch code {
	case TypeAttachRequest:
		a.onAttachRequest(msg)
	case TypeAttachComplete:
		a.onAttachComplete(msg)
	case TypeDetachRequest:
		a.onOutgoingDetachRequest(msg)
	}
}

func (a *AttachAnalyzer) onAttachRequest(msg *event.Message) {
	now := msg.Timestamp
	if a.pendingAttach || a.acceptingAttach {
		anchor := a.acceptAt
		if a.pendingAttach {
			anchor = a.reqAt
		}
		if withinWindow(now.Sub(anchor), a.windows.Threshold) {
			if !AttachFingerprint(msg.Payload).Equal(AttachFingerprint(a.prevAttachLog)) {
				a.emit(KindConcurrent, now)
				a.fullReset()
			}
		}
	}

	wasPending := a.pendingAttach
	if wasPending {
		if withinWindow(now.Sub(a.reqAt), a.windows.Threshold) {
			a.strikes++
		} else {
			a.strikes = 0
		}
	}
	if a.strikes >= a.windows.StrikeThreshold {
		a.emit(KindTimeout, now)
		a.fullReset()
		wasPending = false
	}
	if !wasPending {
		a.strikes = 1
	}

	a.pendingAttach = true
	a.reqAt = now
	a.prevAttachLog = msg.Payload
}

func (a *AttachAnalyzer) onAttachComplete(msg *event.Message) {
	if a.acceptAt.IsZero() {
		return
	}
	if withinWindow(msg.Timestamp.Sub(a.acceptAt), a.windows.Threshold) {
		a.fullReset()
	}
}

func (a *AttachAnalyzer) onOutgoingDetachRequest(msg *event.Message) {
	if !a.pendingAttach && !a.acceptingAttach {
		return
	}
	anchor := a.acceptAt
	if a.pendingAttach {
		anchor = a.reqAt
	}
	if anchor.IsZero() {
		return
	}
	if withinWindow(msg.Timestamp.Sub(anchor), a.windows.Threshold) {
		a.emit(KindDetach, msg.Timestamp)
		a.fullReset()
	}
}

// fullReset clears every piece of state this analyzer owns.
func (a *AttachAnalyzer) fullReset() {
	a.pendingAttach = false
	a.acceptingAttach = false
	a.reqAt = time.Time{}
	a.acceptAt = time.Time{}
	a.prevAttachLog = nil
	a.strikes = 0
}
