package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/domino/internal/ir"
)

// Scenario defines a program test scenario.
// A scenario dispatches events into a freshly installed program, moves the
// fake clock, and asserts on the handled events and the final app-db.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Program is the program directory. Relative paths are resolved
	// against the scenario file. Callers that supply a compiled program
	// may leave it empty.
	Program string `yaml:"program,omitempty"`

	// FlowToken is the fixed flow token every dispatch receives.
	// Defaults to "test-flow-default".
	FlowToken string `yaml:"flow_token,omitempty"`

	// DB replaces the program's initial app-db.
	DB map[string]interface{} `yaml:"db,omitempty"`

	// SkipInit suppresses the program's init events.
	SkipInit bool `yaml:"skip_init,omitempty"`

	// MaxSteps overrides the per-flow event quota.
	MaxSteps int `yaml:"max_steps,omitempty"`

	// Steps run in order after init.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one scenario action: a dispatch or a clock advance.
// Every step drains the queue before the next one starts.
type Step struct {
	// Dispatch is an event vector, e.g. ["add", 5].
	Dispatch []interface{} `yaml:"dispatch,omitempty"`

	// Sync handles the event with DispatchSync instead of queueing it.
	Sync bool `yaml:"sync,omitempty"`

	// Advance moves the fake clock, e.g. "1s" or "250ms", firing due timers.
	Advance string `yaml:"advance,omitempty"`
}

// Event returns the step's dispatch as an event.
func (s Step) Event() (ir.Event, error) {
	v, err := ir.FromAny(s.Dispatch)
	if err != nil {
		return ir.Event{}, err
	}
	return ir.ParseEvent(v)
}

// Duration returns the parsed Advance duration.
func (s Step) Duration() (time.Duration, error) {
	return time.ParseDuration(s.Advance)
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": an event with the id (and payload prefix) was handled
	// - "trace_order": events were first handled in the given order
	// - "trace_count": an event was handled exactly N times
	// - "final_state": the value at a gjson path in app-db
	// - "sub_value": the value of a subscription
	// - "error_count": a runtime error code was logged exactly N times
	Type string `yaml:"type"`

	// Event is the event id (trace_contains, trace_count).
	Event string `yaml:"event,omitempty"`

	// Args is a payload prefix to match (trace_contains) or the
	// subscription query arguments (sub_value).
	Args []interface{} `yaml:"args,omitempty"`

	// Events is the expected order (trace_order).
	Events []string `yaml:"events,omitempty"`

	// Count is the expected number of occurrences (trace_count, error_count).
	Count int `yaml:"count,omitempty"`

	// Path is a gjson path into app-db (final_state).
	Path string `yaml:"path,omitempty"`

	// Sub is the subscription id (sub_value).
	Sub string `yaml:"sub,omitempty"`

	// Code is the logged error code (error_count).
	Code string `yaml:"code,omitempty"`

	// Expect is the expected value (final_state, sub_value).
	// Omitted means null.
	Expect interface{} `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
	AssertSubValue      = "sub_value"
	AssertErrorCount    = "error_count"
)

// LoadScenario reads and parses a scenario YAML file.
// A relative program path is resolved against the file's directory.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}
	if scenario.Program != "" && !filepath.IsAbs(scenario.Program) {
		scenario.Program = filepath.Join(filepath.Dir(path), scenario.Program)
	}
	return scenario, nil
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	if s.MaxSteps < 0 {
		return fmt.Errorf("max_steps must be non-negative")
	}

	if s.DB != nil {
		if _, err := ir.FromAny(s.DB); err != nil {
			return fmt.Errorf("db: %w", err)
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

func validateStep(index int, s Step) error {
	hasDispatch := len(s.Dispatch) > 0
	hasAdvance := s.Advance != ""
	switch {
	case hasDispatch && hasAdvance:
		return fmt.Errorf("steps[%d]: dispatch and advance are mutually exclusive", index)
	case !hasDispatch && !hasAdvance:
		return fmt.Errorf("steps[%d]: one of dispatch or advance is required", index)
	case hasAdvance && s.Sync:
		return fmt.Errorf("steps[%d]: sync only applies to dispatch", index)
	case hasDispatch:
		if _, err := s.Event(); err != nil {
			return fmt.Errorf("steps[%d]: dispatch: %w", index, err)
		}
	default:
		d, err := s.Duration()
		if err != nil {
			return fmt.Errorf("steps[%d]: advance: %w", index, err)
		}
		if d < 0 {
			return fmt.Errorf("steps[%d]: advance must be non-negative", index)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Path == "" {
			return fmt.Errorf("assertions[%d]: path is required for final_state", index)
		}
	case AssertSubValue:
		if a.Sub == "" {
			return fmt.Errorf("assertions[%d]: sub is required for sub_value", index)
		}
	case AssertErrorCount:
		if a.Code == "" {
			return fmt.Errorf("assertions[%d]: code is required for error_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for error_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	if a.Expect != nil || len(a.Args) > 0 {
		if _, err := a.expected(); err != nil {
			return fmt.Errorf("assertions[%d]: expect: %w", index, err)
		}
		if _, err := ir.FromAny(a.Args); err != nil {
			return fmt.Errorf("assertions[%d]: args: %w", index, err)
		}
	}

	return nil
}

// expected converts Expect to an IRValue.
func (a *Assertion) expected() (ir.IRValue, error) {
	return ir.FromAny(a.Expect)
}

// args converts Args to an IRArray.
func (a *Assertion) args() (ir.IRArray, error) {
	if len(a.Args) == 0 {
		return ir.IRArray{}, nil
	}
	v, err := ir.FromAny(a.Args)
	if err != nil {
		return nil, err
	}
	return v.(ir.IRArray), nil
}
