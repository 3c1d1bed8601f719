package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/domino/internal/ir"
)

// TraceSnapshot captures what a scenario did: the handled events, the
// logged failures and the final app-db.
// It is serialized as canonical JSON for deterministic comparison.
type TraceSnapshot struct {
	ScenarioName string
	FlowToken    string
	Trace        []TraceEvent
	Failures     []Failure
	State        ir.IRValue
}

// NewSnapshot builds the snapshot of a scenario result.
func NewSnapshot(scenario *Scenario, result *Result) TraceSnapshot {
	return TraceSnapshot{
		ScenarioName: scenario.Name,
		FlowToken:    scenario.FlowToken,
		Trace:        result.Trace,
		Failures:     result.Failures,
		State:        result.State,
	}
}

// toIR converts the snapshot to an IRObject for canonical JSON.
func (s *TraceSnapshot) toIR() ir.IRObject {
	events := make(ir.IRArray, len(s.Trace))
	for i, event := range s.Trace {
		obj := ir.IRObject{
			"seq":        ir.IRInt(event.Seq),
			"flow_token": ir.IRString(event.FlowToken),
			"event":      event.Event,
		}
		if event.Nested {
			obj["nested"] = ir.IRBool(true)
		}
		events[i] = obj
	}

	failures := make(ir.IRArray, len(s.Failures))
	for i, f := range s.Failures {
		obj := ir.IRObject{"code": ir.IRString(f.Code)}
		if f.Event != "" {
			obj["event"] = ir.IRString(f.Event)
		}
		if f.Effect != "" {
			obj["effect"] = ir.IRString(f.Effect)
		}
		failures[i] = obj
	}

	state := s.State
	if state == nil {
		state = ir.IRNull{}
	}

	out := ir.IRObject{
		"scenario_name": ir.IRString(s.ScenarioName),
		"events":        events,
		"failures":      failures,
		"db":            state,
	}
	if s.FlowToken != "" {
		out["flow_token"] = ir.IRString(s.FlowToken)
	}
	return out
}

// Marshal returns the snapshot's canonical JSON.
func (s *TraceSnapshot) Marshal() ([]byte, error) {
	return ir.MarshalCanonical(s.toIR())
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if the snapshot doesn't match.
func RunWithGolden(t *testing.T, scenario *Scenario, p *ir.Program) (*Result, error) {
	t.Helper()

	result, err := Run(scenario, p)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario, result)
}

// AssertGolden compares an already computed result against its golden file.
func AssertGolden(t *testing.T, scenario *Scenario, result *Result) error {
	t.Helper()

	snapshot := NewSnapshot(scenario, result)
	data, err := snapshot.Marshal()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, data)
	return nil
}
