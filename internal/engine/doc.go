// Package engine implements the governed mutation loop.
//
// The Runner performs one iteration at a time against a store.Port: it
// selects a mechanism, asks the generator for a candidate, validates that
// only the selected region changed, scores the survivor with the evaluator
// and promotes it when it beats the champion.
//
// ARCHITECTURE:
//
// Single-Threaded Loop:
// Iterations run strictly one after another in the caller's goroutine. The
// only blocking points are collaborator calls, which honor the context.
//
// Iteration Flow:
//  1. Capture the pre-loop snapshot (RunLoop replaces it, RunOnce keeps one)
//  2. Load LoopState and recompute mechanism statistics from the log
//  3. SELECT: wildcard schedule, else UCB1 over the mechanisms
//  4. PROMPT + GENERATE + VALIDATE with bounded regeneration (Retry)
//  5. EVALUATE the valid candidate
//  6. PROMOTE when it beats the champion (history archive first)
//  7. RECORD stats and the log entry, mirror to the ledger
//  8. GOVERN: rollback check and, when enabled, restore
//  9. EVOLVE: policy evolution when due
//
// Iteration failures (invalid, llm_failed, compile_failed) are outcomes,
// recorded in the log and returned in Result. The error return of RunOnce
// is reserved for persistence failures and cancellation.
//
// CRITICAL PATTERNS:
//
// The iteration log is the source of truth. Statistics are recomputed from
// it before selection, so a crash between SaveStats and AppendLog never
// skews the bandit.
//
// Timestamps and run ids come from injected sources (WithClock,
// WithIDGenerator) and selection randomness from WithRand, so scenario
// runs replay identically.
package engine
