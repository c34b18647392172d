package emm

import (
	"time"

	"github.com/protei/emmkpi/pkg/event"
)

// retransmitTracker is the shared retransmit-based timeout tracker
// held by every single-phase procedure analyzer (Identification,
// Security, GUTI, Authentication, Detach; Attach and TAU keep their
// own two-phase strike state inline): one pending request phase, the
// timestamp it was last (re)sent at, the previously-sent payload for
// IE comparison, and a strike counter.
type retransmitTracker struct {
	pending bool
	sentAt  time.Time
	prevLog *event.Field
	strikes int
}

// start begins (or refreshes) the pending phase at "at", recording
// payload as the new prevLog. The first arm of a fresh cycle counts as
// strike 1, so exactly five occurrences of the same request with no
// intervening terminal trips the strike-5 threshold; a refresh
// mid-cycle leaves whatever strike() already computed alone.
func (r *retransmitTracker) start(at time.Time, payload *event.Field) {
	if !r.pending {
		r.strikes = 1
	}
	r.pending = true
	r.sentAt = at
	r.prevLog = payload
}

// reset clears the tracker entirely.
func (r *retransmitTracker) reset() {
	r.pending = false
	r.sentAt = time.Time{}
	r.prevLog = nil
	r.strikes = 0
}

// strike updates the strike counter for a re-emission observed at
// "now": within window it's a retransmit and the count climbs;
// outside window it's a fresh, unrelated request and the count resets.
func (r *retransmitTracker) strike(now time.Time, window time.Duration) {
	delta := now.Sub(r.sentAt)
	if withinWindow(delta, window) {
		r.strikes++
	} else {
		r.strikes = 0
	}
}

// timedOut reports whether the strike counter has reached the
// configured strike threshold (5 by default).
func (r *retransmitTracker) timedOut(threshold int) bool {
	return r.strikes >= threshold
}
