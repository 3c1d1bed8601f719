package harness

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/domino/internal/ir"
)

func loadCounter(t *testing.T) *ir.Program {
	t.Helper()
	p, err := CompileProgram(filepath.Join("testdata", "program"))
	require.NoError(t, err)
	return p
}

func mustParse(t *testing.T, src string) *Scenario {
	t.Helper()
	s, err := ParseScenario([]byte(src))
	require.NoError(t, err)
	return s
}

func TestRun_Testdata(t *testing.T) {
	files, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, f := range files {
		scenario, err := LoadScenario(f)
		require.NoError(t, err)

		t.Run(scenario.Name, func(t *testing.T) {
			result, err := RunFile(scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
			require.NoError(t, AssertGolden(t, scenario, result))
		})
	}
}

func TestRun_CounterState(t *testing.T) {
	p := loadCounter(t)
	scenario := mustParse(t, `
name: state
description: d
flow_token: flow-state
steps:
  - dispatch: [add, 4]
  - dispatch: [add, 3]
assertions:
  - type: final_state
    path: count
    expect: 7
`)

	result, err := Run(scenario, p)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, ir.IRObject{"count": ir.IRInt(7), "log": ir.IRArray{}}, result.State)

	require.Len(t, result.Trace, 3)
	for i, ev := range result.Trace {
		assert.Equal(t, int64(i+1), ev.Seq)
		assert.Equal(t, "flow-state", ev.FlowToken)
	}
	assert.Equal(t, "initialize", result.Trace[0].ID())
	assert.Equal(t, ir.IRArray{ir.IRString("add"), ir.IRInt(3)}, result.Trace[2].Event)
}

func TestRun_FailedAssertionsReported(t *testing.T) {
	p := loadCounter(t)
	scenario := mustParse(t, `
name: failing
description: d
steps:
  - dispatch: [increment]
assertions:
  - type: final_state
    path: count
    expect: 99
  - type: trace_count
    event: increment
    count: 3
  - type: trace_contains
    event: add
  - type: trace_order
    events: [increment, initialize]
  - type: sub_value
    sub: count
    expect: 0
  - type: error_count
    code: UNKNOWN_EVENT
    count: 1
`)

	result, err := Run(scenario, p)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 6)
	assert.Contains(t, result.Errors[0], "count = 99")
	assert.Contains(t, result.Errors[0], "count = 1")
	assert.Contains(t, result.Errors[1], "3 occurrences of increment")
	assert.Contains(t, result.Errors[2], "not found in trace")
	assert.Contains(t, result.Errors[3], "should be before")
	assert.Contains(t, result.Errors[4], "Assertion failed: sub_value")
	assert.Contains(t, result.Errors[5], "1 UNKNOWN_EVENT errors")
}

func TestRun_TickerFiresOncePerPeriod(t *testing.T) {
	p := loadCounter(t)
	scenario := mustParse(t, `
name: ticker
description: a 1s ticker advanced 3s ticks three more times
flow_token: flow-ticker
steps:
  - dispatch: [tick]
  - advance: 3s
assertions:
  - type: trace_count
    event: tick
    count: 4
  - type: final_state
    path: ticks
    expect: 4
`)

	result, err := Run(scenario, p)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_DBOverrideAndSkipInit(t *testing.T) {
	p := loadCounter(t)
	scenario := mustParse(t, `
name: override
description: d
skip_init: true
db: {count: 10}
steps:
  - dispatch: [increment]
assertions:
  - type: final_state
    path: count
    expect: 11
  - type: trace_count
    event: initialize
    count: 0
  - type: sub_value
    sub: log
`)

	result, err := Run(scenario, p)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, ir.IRNull{}, result.Subs["log"])
}

func TestRun_QuotaExceeded(t *testing.T) {
	p := loadCounter(t)
	scenario := mustParse(t, `
name: quota
description: d
max_steps: 2
steps:
  - dispatch: [bump-twice]
assertions:
  - type: trace_count
    event: increment
    count: 1
  - type: error_count
    code: QUOTA_EXCEEDED
    count: 1
`)

	result, err := Run(scenario, p)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, []Failure{{Code: "QUOTA_EXCEEDED", Event: "increment"}}, result.Failures)
}

func TestRun_HandlerFailureIsRecorded(t *testing.T) {
	p := loadCounter(t)
	scenario := mustParse(t, `
name: bad-arg
description: add with a string operand fails in the handler
steps:
  - dispatch: [add, lots]
    sync: true
  - dispatch: [increment]
assertions:
  - type: error_count
    code: INTERCEPTOR_FAILED
    count: 1
  - type: final_state
    path: count
    expect: 1
`)

	result, err := Run(scenario, p)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "add", result.Failures[0].Event)
}

func TestRun_LogOutput(t *testing.T) {
	p := loadCounter(t)
	scenario := mustParse(t, `
name: logs
description: d
steps:
  - dispatch: [nope]
assertions:
  - type: error_count
    code: UNKNOWN_EVENT
    count: 1
`)

	var buf bytes.Buffer
	result, err := Run(scenario, p, WithLogOutput(&buf))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Contains(t, buf.String(), "no handler registered for event")
	assert.Contains(t, buf.String(), "code=UNKNOWN_EVENT")
}

func TestRunFile_NoProgram(t *testing.T) {
	scenario := mustParse(t, "name: s\ndescription: d\nsteps: [{dispatch: [x]}]\nassertions: [{type: trace_count, event: x, count: 1}]\n")
	_, err := RunFile(scenario)
	require.ErrorIs(t, err, ErrNoProgram)
}

func TestCompileProgram_Errors(t *testing.T) {
	_, err := CompileProgram(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)

	dir := t.TempDir()
	src := `package bad

name: "bad"
event: ping: {kind: "fx", fx: dispatch: ["pong"]}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "p.cue"), []byte(src), 0644))
	_, err = CompileProgram(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation error")
}
