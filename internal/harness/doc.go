// Package harness runs scripted scenarios through the governed loop.
//
// A scenario replaces the two external collaborators with scripted
// replies and scores; selection, validation, promotion, history,
// rollback and policy evolution are the real code running against an
// in-memory store.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: promote_then_regress
//	description: "What this scenario validates"
//	mechanisms: [fee_schedule]
//	loop:
//	  max_retries_on_invalid: 0
//	rollback:
//	  mode: restore
//	  severe_regression: -2
//	mutations:
//	  fee_schedule:
//	    - old: "amount * baseFee / 10000"
//	      new: "amount * baseFee / 9000"
//	steps:
//	  - replies: [{mutate: true}]
//	    score: {edge: 101.5}
//	    expect: {status: complete, promoted: true}
//	  - replies: [{fail: timeout}]
//	    expect: {status: llm_failed}
//	assertions:
//	  - type: champion_edge
//	    value: 101.5
//	  - type: history_size
//	    count: 1
//
// Each step is one iteration. Replies answer generation attempts in
// order (retries included) and are one of mutate, edits, unchanged, raw
// or fail. Edits apply to the champion current at the start of the step.
// An unused reply or score fails the scenario.
//
// # Assertion Types
//
//   - champion_edge: the final champion edge
//   - log_size: entries in the final log
//   - status_count: iterations with a status across all steps
//   - history_size: entries in the champion history
//   - rollback_count: rollbacks performed, optionally of one reason
//   - mechanisms: the final mechanism names, in definition order
//
// # Deterministic Testing
//
// Runs use a stepping test clock starting at testutil.Epoch, the run id
// "scenario-<name>" and a selector seeded from the scenario seed. Random
// choice only happens among untried mechanisms, so scenarios pinned to
// one mechanism produce identical traces across runs for golden
// comparison.
package harness
