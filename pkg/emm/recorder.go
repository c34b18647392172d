package emm

import (
	"time"

	"github.com/protei/emmkpi/internal/logger"
	"github.com/protei/emmkpi/pkg/kpi"
)

// recorder is the small piece of bookkeeping every analyzer embeds to
// publish through the Counter Sink contract: a running total per
// failure kind, published as the new grand total on every increment.
type recorder struct {
	procedure string
	sink      kpi.Sink
	counts    map[string]int64
	log       *logger.Logger
}

func newRecorder(procedure string, sink kpi.Sink) *recorder {
	return &recorder{
		procedure: procedure,
		sink:      sink,
		counts:    make(map[string]int64),
		log:       logger.Get().WithComponent("emm." + procedure),
	}
}

// register declares every KPI this analyzer can emit, up front, once
// per counter at startup.
func (r *recorder) register(kinds ...string) {
	for _, k := range kinds {
		r.counts[kpiName(r.procedure, k)] = 0
		r.sink.RegisterKPI("Retainability", kpiName(r.procedure, k), nil)
	}
}

// emit increments the running total for kind and publishes it.
func (r *recorder) emit(kind string, ts time.Time) {
	name := kpiName(r.procedure, kind)
	r.counts[name]++
	v := r.counts[name]
	r.sink.StoreKPI(name, v, ts)
	r.log.Warn().Str("kpi", name).Int64("value", v).Msg("EMM procedure failure detected")
}
