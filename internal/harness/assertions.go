package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/domino/internal/engine"
	"github.com/roach88/domino/internal/ir"
	"github.com/roach88/domino/internal/program"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s\n", event.Seq, ir.MustMarshalCanonical(event.Event))
		}
	}

	return buf.String()
}

// assertTraceContains checks if the trace contains the event id with a
// payload starting with the assertion's args.
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	want, err := assertion.args()
	if err != nil {
		return err
	}
	for _, event := range trace {
		if event.ID() == assertion.Event && payloadHasPrefix(event.Event[1:], want) {
			return nil
		}
	}

	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("event %s with args %s", assertion.Event, ir.MustMarshalCanonical(want)),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

func payloadHasPrefix(payload, prefix ir.IRArray) bool {
	if len(prefix) > len(payload) {
		return false
	}
	for i, v := range prefix {
		if !ir.Equal(payload[i], v) {
			return false
		}
	}
	return true
}

// assertTraceOrder checks if events were first handled in the given order.
// Events don't need to be consecutive (intervening events are allowed).
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	positions := make(map[string]int)
	for i, event := range trace {
		if _, seen := positions[event.ID()]; !seen {
			positions[event.ID()] = i + 1 // 1-indexed for readability
		}
	}

	for _, id := range assertion.Events {
		if positions[id] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all events present: %v", assertion.Events),
				Actual:   fmt.Sprintf("missing event: %s", id),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(assertion.Events); i++ {
		prev := assertion.Events[i-1]
		curr := assertion.Events[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("events in order: %v", assertion.Events),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}

	return nil
}

// assertTraceCount checks if the event was handled exactly Count times.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.ID() == assertion.Event {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, assertion.Event),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState checks the value at a gjson path in the final app-db.
// A missing path reads as null.
func assertFinalState(state ir.IRValue, assertion Assertion) error {
	want, err := assertion.expected()
	if err != nil {
		return err
	}
	got, err := program.ReadPath(state, assertion.Path)
	if err != nil {
		return fmt.Errorf("final_state %s: %w", assertion.Path, err)
	}
	if !ir.Equal(got, want) {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%s = %s", assertion.Path, ir.MustMarshalCanonical(want)),
			Actual:   fmt.Sprintf("%s = %s", assertion.Path, ir.MustMarshalCanonical(got)),
		}
	}
	return nil
}

// assertSubValue subscribes to the query and compares its current value.
func assertSubValue(eng *engine.Engine, result *Result, assertion Assertion) error {
	want, err := assertion.expected()
	if err != nil {
		return err
	}
	args, err := assertion.args()
	if err != nil {
		return err
	}
	query := ir.NewEvent(assertion.Sub, args...)
	reaction, err := eng.Subscribe(query)
	if err != nil {
		return &AssertionError{
			Type:     AssertSubValue,
			Expected: fmt.Sprintf("subscription %s", query),
			Actual:   err.Error(),
		}
	}
	got := reaction.Value()
	result.Subs[assertion.Sub] = got
	if !ir.Equal(got, want) {
		return &AssertionError{
			Type:     AssertSubValue,
			Expected: fmt.Sprintf("%s = %s", query, ir.MustMarshalCanonical(want)),
			Actual:   fmt.Sprintf("%s = %s", query, ir.MustMarshalCanonical(got)),
		}
	}
	return nil
}

// assertErrorCount checks how often a runtime error code was logged.
func assertErrorCount(failures []Failure, assertion Assertion) error {
	count := 0
	for _, f := range failures {
		if f.Code == assertion.Code {
			count++
		}
	}
	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertErrorCount,
			Expected: fmt.Sprintf("%d %s errors", assertion.Count, assertion.Code),
			Actual:   fmt.Sprintf("%d errors: %v", count, failures),
		}
	}
	return nil
}

// AssertionContext provides the live engine to assertions that query it.
type AssertionContext struct {
	Engine *engine.Engine
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertFinalState:
			err = assertFinalState(result.State, assertion)
		case AssertSubValue:
			if actx == nil || actx.Engine == nil {
				err = fmt.Errorf("assertion[%d]: sub_value requires an engine", i)
			} else {
				err = assertSubValue(actx.Engine, result, assertion)
			}
		case AssertErrorCount:
			err = assertErrorCount(result.Failures, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
