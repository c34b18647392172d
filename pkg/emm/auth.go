package emm

import (
	"strings"

	"github.com/protei/emmkpi/pkg/event"
	"github.com/protei/emmkpi/pkg/kpi"
)

// AuthenticationAnalyzer tracks the Authentication procedure: the
// pending_auth/pending_TAU/pending_service triad and the
// TRANSMISSION_SERVICE/TRANSMISSION_TAU/TIMEOUT precedence on a new
// incoming Authentication Request. The TIMEOUT branch always publishes
// its own counter's running total, independent of whichever
// cause-driven counter classified a preceding Auth Failure.
type AuthenticationAnalyzer struct {
	*recorder
	table   *Table
	windows Windows

	req *retransmitTracker // pending_auth / auth_timestamp / timeouts

	pendingTAU     bool
	pendingService bool
}

// NewAuthenticationAnalyzer creates the Authentication procedure analyzer.
func NewAuthenticationAnalyzer(sink kpi.Sink, table *Table, windows Windows) *AuthenticationAnalyzer {
	a := &AuthenticationAnalyzer{
		recorder: newRecorder(ProcedureAuthentication, sink),
		table:    table,
		windows:  windows,
		req:      &retransmitTracker{},
	}
	a.register(KindTimeout, KindMAC, KindSynch, KindNonEPS, KindEMM, KindTransmissionTAU, KindTransmissionService, KindHandover)
	return a
}

func (a *AuthenticationAnalyzer) Name() string { return "authentication" }

func (a *AuthenticationAnalyzer) Handle(msg *event.Message) {
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

func (a *AuthenticationAnalyzer) handleIncoming(msg *event.Message) {
	code, ok := msg.EMMType()
	if !ok {
		return
	}
	switch code {
	case TypeTAUReject:
		a.pendingTAU = false
	case TypeServiceReject, TypeServiceAccept:
		a.pendingService = false
	case TypeAuthRequest:
		a.onAuthRequest(msg)
	case TypeAuthReject:
		// No analyzer-side action beyond reset.
		a.fullReset()
	}
}

func (a *AuthenticationAnalyzer) onAuthRequest(msg *event.Message) {
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
	a.table.Start(ProcedureAuthentication, now)
}

func (a *AuthenticationAnalyzer) handleOutgoing(msg *event.Message) {
	code, ok := msg.EMMType()
	if !ok {
		return
	}
	switch code {
	case TypeTAURequest:
		if !a.req.pending {
			a.pendingTAU = true
		}
	case TypeTAUComplete:
		a.pendingTAU = false
	case TypeAuthResponse:
		a.fullReset()
	case TypeAuthFailure:
		a.onAuthFailure(msg)
	case TypeServiceRequest:
		if !a.req.pending {
			a.pendingService = true
		}
	}
}

func (a *AuthenticationAnalyzer) onAuthFailure(msg *event.Message) {
	cause, ok := msg.EMMCause()
	if ok {
		var kind string
		switch cause {
		case CauseMACFailure:
			kind = KindMAC
		case CauseSyncFailure:
			kind = KindSynch
		case CauseNonEPSUnaccept:
			kind = KindNonEPS
		default:
			kind = KindEMM
		}
		a.emit(kind, msg.Timestamp)
	}
	a.fullReset()
}

func (a *AuthenticationAnalyzer) handleRRC(msg *event.Message) {
	f := msg.Payload.FindByName("lte-rrc.reestablishmentCause")
	if f == nil || !strings.Contains(f.Showname, "handoverFailure") {
		return
	}
	if a.table.HandoverAttributed(ProcedureAuthentication, msg.Timestamp, a.windows.HandoverWindow) {
		a.emit(KindHandover, msg.Timestamp)
		a.fullReset()
	}
}

// fullReset clears every piece of state this analyzer owns, including
// the no-op reset on Auth Reject (no analyzer-side action beyond
// clearing state).
func (a *AuthenticationAnalyzer) fullReset() {
	a.req.reset()
	a.pendingTAU = false
	a.pendingService = false
	a.table.End(ProcedureAuthentication)
}
