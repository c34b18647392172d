package emm

import (
	"strings"
	"time"

	"github.com/protei/emmkpi/pkg/event"
	"github.com/protei/emmkpi/pkg/kpi"
)

// TAUAnalyzer tracks the Tracking Area Update procedure: a two-phase
// pending_TAU/accepting_TAU state machine mirroring the Attach
// analyzer's (see attach.go); the DETACH rule reuses the Attach-style
// detach-type matrix on incoming Detach Request and adds a "Switch
// off" outgoing-Detach case.
type TAUAnalyzer struct {
	*recorder
	table   *Table
	windows Windows

	pendingTAU   bool
	acceptingTAU bool
	reqAt        time.Time
	acceptAt     time.Time
	prevTAULog   *event.Field
	strikes      int
}

// NewTAUAnalyzer creates the TAU procedure analyzer.
func NewTAUAnalyzer(sink kpi.Sink, table *Table, windows Windows) *TAUAnalyzer {
	a := &TAUAnalyzer{
		recorder: newRecorder(ProcedureTAU, sink),
		table:    table,
		windows:  windows,
	}
	a.register(KindTimeout, KindProtocolError, KindEMM, KindDetach, KindConcurrent, KindHandover)
	return a
}

func (a *TAUAnalyzer) Name() string { return "tau" }

func (a *TAUAnalyzer) Handle(msg *event.Message) {
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

func (a *TAUAnalyzer) handleIncoming(msg *event.Message) {
	code, ok := msg.EMMType()
	if !ok {
		return
	}
	switch code {
	case TypeDetachRequest:
		a.onIncomingDetachRequest(msg)
	case TypeTAUAccept:
		a.onTAUAccept(msg)
	case TypeTAUReject:
		a.onTAUReject(msg)
	}
}

func (a *TAUAnalyzer) onIncomingDetachRequest(msg *event.Message) {
	if !a.pendingTAU || a.reqAt.IsZero() {
		return
	}
	detachType, cause := detachTypeAndCause(msg.Payload)
	if attachDetachMatrix(detachType, cause) {
		a.emit(KindDetach, msg.Timestamp)
		a.fullReset()
	}
}

func (a *TAUAnalyzer) onTAUAccept(msg *event.Message) {
	now := msg.Timestamp
	wasAccepting := a.acceptingTAU
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
	a.acceptingTAU = true
	a.acceptAt = now
	a.prevTAULog = msg.Payload
	a.pendingTAU = false
	a.reqAt = time.Time{}
	a.table.Start(ProcedureTAU, now)
}

func (a *TAUAnalyzer) onTAUReject(msg *event.Message) {
	cause, ok := msg.EMMCause()
	if ok {
		switch {
		case isProtocolErrorCause(cause):
			a.emit(KindProtocolError, msg.Timestamp)
		case cause == CauseCongestion:
			// Congestion counts as EMM whether or not T3346 is named.
			a.emit(KindEMM, msg.Timestamp)
		default:
			a.log.Warn().Str("cause", cause).Msg("TAU reject cause outside the classified set, counted as EMM")
			a.emit(KindEMM, msg.Timestamp)
		}
	}
	a.fullReset()
}

func (a *TAUAnalyzer) handleOutgoing(msg *event.Message) {
	code, ok := msg.EMMType()
	if !ok {
		return
	}
	switch code {
	case TypeDetachRequest:
		a.onOutgoingDetachRequest(msg)
	case TypeTAURequest:
		a.onTAURequest(msg)
	case TypeTAUComplete:
		a.onTAUComplete(msg)
	}
}

func (a *TAUAnalyzer) onOutgoingDetachRequest(msg *event.Message) {
	if a.pendingTAU && msg.Payload.AnyShownameContains("Switch off") {
		a.emit(KindDetach, msg.Timestamp)
		a.fullReset()
	}
}

func (a *TAUAnalyzer) onTAURequest(msg *event.Message) {
	now := msg.Timestamp
	if a.pendingTAU || a.acceptingTAU {
		anchor := a.acceptAt
		if a.pendingTAU {
			anchor = a.reqAt
		}
		if withinWindow(now.Sub(anchor), a.windows.Threshold) {
			if !TAUFingerprint(msg.Payload).Equal(TAUFingerprint(a.prevTAULog)) {
				a.emit(KindConcurrent, now)
				a.fullReset()
			}
		}
	}

	wasPending := a.pendingTAU
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

	a.pendingTAU = true
	a.reqAt = now
	a.prevTAULog = msg.Payload
	a.table.Start(ProcedureTAU, now)
}

func (a *TAUAnalyzer) onTAUComplete(msg *event.Message) {
	if a.acceptAt.IsZero() {
		return
	}
	if withinWindow(msg.Timestamp.Sub(a.acceptAt), a.windows.Threshold) {
		a.fullReset()
	}
}

func (a *TAUAnalyzer) handleRRC(msg *event.Message) {
	f := msg.Payload.FindByName("lte-rrc.reestablishmentCause")
	if f == nil || !strings.Contains(f.Showname, "handoverFailure") {
		return
	}
	if a.table.HandoverAttributed(ProcedureTAU, msg.Timestamp, a.windows.HandoverWindow) {
		a.emit(KindHandover, msg.Timestamp)
		a.fullReset()
	}
}

// fullReset clears every piece of state this analyzer owns.
func (a *TAUAnalyzer) fullReset() {
	a.pendingTAU = false
	a.acceptingTAU = false
	a.reqAt = time.Time{}
	a.acceptAt = time.Time{}
	a.prevTAULog = nil
	a.strikes = 0
	a.table.End(ProcedureTAU)
}
