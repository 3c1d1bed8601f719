// Package harness runs YAML scenarios against compiled programs.
//
// Each scenario installs the program on a fresh engine that uses a fake
// scheduler, a fixed flow token and an in-memory SQLite journal, so the
// same scenario always handles the same events in the same order.
//
// # Scenario Format
//
//	name: counter_basics
//	description: "increment, add and double"
//	program: ../program        # optional, relative to this file
//	flow_token: flow-basics
//	db: {count: 10}            # optional, replaces the program's db
//	skip_init: false
//	steps:
//	  - dispatch: [increment]
//	  - dispatch: [add, 5]
//	    sync: true
//	  - advance: 1s
//	assertions:
//	  - type: trace_contains
//	    event: add
//	    args: [5]
//	  - type: final_state
//	    path: count
//	    expect: 6
//
// # Assertion Types
//
//   - trace_contains: an event with the id and payload prefix was handled
//   - trace_order: events were first handled in the given order
//   - trace_count: an event was handled exactly N times
//   - final_state: the value at a gjson path of the final app-db
//   - sub_value: the current value of a subscription query
//   - error_count: a runtime error code was logged exactly N times
//
// # Golden Snapshots
//
// The handled events, recorded failures and final app-db are serialized
// as canonical JSON and compared with testdata/golden/<name>.golden by
// RunWithGolden, or with a golden directory next to the scenarios by the
// test command.
package harness
