package event

import (
	"fmt"

	"github.com/protei/emmkpi/internal/logger"
)

// Analyzer is the contract every procedure analyzer implements. Handle
// must not block and must not retain msg beyond the call except for
// the payload subtrees its own rules require it to keep (e.g. prev_log
// for IE comparison).
type Analyzer interface {
	Name() string
	Handle(msg *Message)
}

// Dispatcher fans each message out to every registered analyzer, in
// registration order, and guarantees that a panicking analyzer cannot
// take down the pipeline or stop its siblings from seeing the message.
type Dispatcher struct {
	analyzers []Analyzer
	names     map[string]bool
	log       *logger.Logger

	// OnDispatch and OnPanic, when set, are notified of every
	// Dispatch call and every recovered analyzer panic respectively.
	// pkg/health wires these to its throughput and error counters;
	// leaving them nil (the zero value) disables the hook entirely.
	OnDispatch func()
	OnPanic    func(analyzer string)
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		names: make(map[string]bool),
		log:   logger.Get().WithComponent("dispatcher"),
	}
}

// Register adds an analyzer to the enabled list. Registering the same
// name twice is a programmer error and panics at startup.
func (d *Dispatcher) Register(a Analyzer) {
	if d.names[a.Name()] {
		panic(fmt.Sprintf("event: analyzer %q already registered", a.Name()))
	}
	d.names[a.Name()] = true
	d.analyzers = append(d.analyzers, a)
}

// Dispatch delivers msg to every registered analyzer in registration
// order.
func (d *Dispatcher) Dispatch(msg *Message) {
	if d.OnDispatch != nil {
		d.OnDispatch()
	}
	for _, a := range d.analyzers {
		d.safeHandle(a, msg)
	}
}

func (d *Dispatcher) safeHandle(a Analyzer, msg *Message) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().
				Str("analyzer", a.Name()).
				Interface("panic", r).
				Msg("analyzer panicked handling message; message dropped for this analyzer only")
			if d.OnPanic != nil {
				d.OnPanic(a.Name())
			}
		}
	}()
	a.Handle(msg)
}
