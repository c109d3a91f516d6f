// Package harness runs simulation scenarios and checks their outcome.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: withdraw_until_boundary
//	description: "Two withdrawals, then the tick boundary ends the flow"
//	definitions: ../defs/bank
//	simulation:
//	  seed: 7
//	  duration: 1m
//	assertions:
//	  - type: event_count
//	    event: Withdrawal
//	    count: 2
//	  - type: entity_state
//	    entity: Account
//	    where: { owner: ann }
//	    expect: { balance: 800 }
//	  - type: version_count
//	    entity: Account
//	    min: 1
//	  - type: termination_count
//	    status: boundary_exceeded
//	    count: 1
//
// Definitions resolve relative to the scenario file. Simulation settings
// layer over the definitions' simulation block; a start of "now" is pinned
// to Epoch so runs are reproducible.
//
// # Assertion Types
//
//   - event_count: events of one type (or all events) delivered to sinks
//   - entity_state: exactly one entity, chosen by id or field equality,
//     holds the expected fields, finally or at a given time
//   - version_count: total versions of the selected entities
//   - termination_count: flow instances that ended with a status
//
// Counting assertions take an exact count or min/max bounds.
//
// # Golden Streams
//
// Snapshot renders the event stream as canonical JSON lines. The CLI keeps
// golden files in a golden/ directory next to each scenario; tests use
// AssertGolden, which goldie regenerates with -update.
package harness
