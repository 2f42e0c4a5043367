// Package annotate is the observability sink the rest of the engine emits
// progress and warning events through (spec §4.2: validation warnings
// "emitted through the observability sink... do not fail the query"; spec
// §7: "Cancelled/Timeout... do not log as errors"). It is grounded
// directly on the teacher's datalog/annotations package: a Handler
// consuming Event values, hierarchical event-name constants, and a
// buffering Collector for callers (tests, mostly) that don't wire a live
// handler.
package annotate

import (
	"fmt"
	"path/filepath"
	"runtime"
	"time"
)

// Event name constants, following the teacher's hierarchical
// "component/action[.detail]" naming.
const (
	QueryInvoked   = "query/invoked"
	QueryCompleted = "query/completed"

	ValidateWarning = "validate/warning"

	EvalLeaf    = "eval/leaf"
	EvalCombine = "eval/combine"

	ErrorParse     = "error/parse"
	ErrorValidate  = "error/validate"
	ErrorExecution = "error/execution"
)

// Event is a single observability event.
type Event struct {
	Name    string
	Start   time.Time
	End     time.Time
	Latency time.Duration
	Data    map[string]interface{}
	Caller  string // file:line where the event was raised
}

// Handler processes events as they occur. A nil Handler is valid and
// simply discards events (Emit is a no-op on a nil Handler receiver via
// the package-level helpers below).
type Handler func(Event)

// caller reports "file:line" for the stack frame skip levels up from its
// own call site, or "" if unavailable.
func caller(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return ""
	}
	return fmt.Sprintf("%s:%d", filepath.Base(file), line)
}

// Emit sends evt to h if h is non-nil, stamping Caller with the site that
// invoked Emit when the event doesn't already carry one.
func Emit(h Handler, evt Event) {
	if h == nil {
		return
	}
	if evt.Caller == "" {
		evt.Caller = caller(2)
	}
	h(evt)
}

// Warning builds and emits a validate/warning event carrying the field
// name and offending value (spec §4.2: future-dated temporal values).
func Warning(h Handler, field, value, message string) {
	Emit(h, Event{
		Name:   ValidateWarning,
		Caller: caller(2),
		Data: map[string]interface{}{
			"field":   field,
			"value":   value,
			"message": message,
		},
	})
}

// Collector buffers events for callers that want to inspect what was
// emitted (e.g. tests asserting a warning fired) instead of wiring a live
// sink.
type Collector struct {
	Events []Event
}

// Handle is a Handler bound to this collector; pass it wherever a Handler
// is expected.
func (c *Collector) Handle(e Event) {
	c.Events = append(c.Events, e)
}

// ByName returns the events recorded under name, in emission order.
func (c *Collector) ByName(name string) []Event {
	var out []Event
	for _, e := range c.Events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}
