package emm

import (
	"github.com/protei/emmkpi/pkg/event"
	"github.com/protei/emmkpi/pkg/kpi"
)

// Analyzers holds one instance of each of the seven procedure
// analyzers, constructed over a shared Procedure Timestamp Table and
// a common set of time windows.
type Analyzers struct {
	Identification *IdentificationAnalyzer
	Security       *SecurityModeAnalyzer
	GUTI           *GUTIAnalyzer
	Authentication *AuthenticationAnalyzer
	Attach         *AttachAnalyzer
	Detach         *DetachAnalyzer
	TAU            *TAUAnalyzer
	RRCObserver    *RRCObserver
}

// NewAnalyzers builds every procedure analyzer wired to sink and
// sharing a single Table, in the canonical registration order of
// HandoverTableOrder (Attach excluded — it never joins the table).
// onRRCUnclassified is forwarded to the RRCObserver; pass nil to skip
// that observational signal entirely.
func NewAnalyzers(sink kpi.Sink, windows Windows, onRRCUnclassified func()) (*Analyzers, *Table) {
	table := NewTable(HandoverTableOrder...)
	return &Analyzers{
		Identification: NewIdentificationAnalyzer(sink, table, windows),
		Authentication: NewAuthenticationAnalyzer(sink, table, windows),
		Security:       NewSecurityModeAnalyzer(sink, table, windows),
		GUTI:           NewGUTIAnalyzer(sink, table, windows),
		Detach:         NewDetachAnalyzer(sink, table, windows),
		TAU:            NewTAUAnalyzer(sink, table, windows),
		Attach:         NewAttachAnalyzer(sink, windows),
		RRCObserver:    NewRRCObserver(table, windows, onRRCUnclassified),
	}, table
}

// RegisterAll registers the RRC observer first, then every procedure
// analyzer in HandoverTableOrder followed by Attach. The observer must
// run before any procedure analyzer sees the same RRC_OTA message: a
// table-tracked analyzer's own handleRRC clears its winning table
// entry via fullReset on a successful attribution, and the observer
// would misread that cleared entry as unclassified if it ran after.
// byName, when non-nil, restricts registration to the procedure
// analyzers named in it (the RRC observer always registers, since it
// is not itself a procedure).
func (a *Analyzers) RegisterAll(d *event.Dispatcher, byName map[string]bool) {
	enabled := func(name string) bool { return byName == nil || byName[name] }

	d.Register(a.RRCObserver)

	if enabled(a.Identification.Name()) {
		d.Register(a.Identification)
	}
	if enabled(a.Authentication.Name()) {
		d.Register(a.Authentication)
	}
	if enabled(a.Security.Name()) {
		d.Register(a.Security)
	}
	if enabled(a.GUTI.Name()) {
		d.Register(a.GUTI)
	}
	if enabled(a.Detach.Name()) {
		d.Register(a.Detach)
	}
	if enabled(a.TAU.Name()) {
		d.Register(a.TAU)
	}
	if enabled(a.Attach.Name()) {
		d.Register(a.Attach)
	}
}
