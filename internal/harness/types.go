package harness

import "github.com/roach88/domino/internal/ir"

// TraceEvent is one handled event, as the journal recorded it.
type TraceEvent struct {
	Seq       int64      `json:"seq"`
	FlowToken string     `json:"flow_token"`
	Event     ir.IRArray `json:"event"`
	Nested    bool       `json:"nested,omitempty"`
}

// ID returns the event id.
func (t TraceEvent) ID() string {
	if len(t.Event) == 0 {
		return ""
	}
	s, _ := t.Event[0].(ir.IRString)
	return string(s)
}

// Failure is an error the engine logged while running the scenario.
type Failure struct {
	Code   string `json:"code"`
	Event  string `json:"event,omitempty"`
	Effect string `json:"effect,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Trace contains every handled event in journal order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains assertion failure messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Failures are the runtime errors logged with a code, in order.
	Failures []Failure `json:"failures,omitempty"`

	// State is app-db after the last step.
	State ir.IRValue `json:"state"`

	// Subs holds the value of every subscription queried by an assertion.
	Subs map[string]ir.IRValue `json:"subs,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:     true,
		Trace:    []TraceEvent{},
		Errors:   []string{},
		Failures: []Failure{},
		State:    ir.IRNull{},
		Subs:     make(map[string]ir.IRValue),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a handled event to the trace.
func (r *Result) AddTrace(seq int64, flowToken string, ev ir.Event, nested bool) {
	r.Trace = append(r.Trace, TraceEvent{
		Seq:       seq,
		FlowToken: flowToken,
		Event:     ev.Vector(),
		Nested:    nested,
	})
}
