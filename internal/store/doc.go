// Package store persists the loop's durable state behind the Port interface.
//
// The loop state is the champion (source plus edge, always written as a
// pair), the mechanism statistics, the append-only iteration log, the
// definitions document, per-iteration artifacts and a few side files. The
// production implementation is FileStore, laid out under one state
// directory:
//
//	.best_strategy.sol             champion source
//	.best_edge.txt                 champion edge
//	.iteration_log.jsonl           append-only iteration log
//	.mechanism_stats.json          selector statistics
//	mechanism_definitions.json     definitions (plus optional .yaml mirror)
//	definitions_backups/           timestamped definitions backups
//	artifacts/iter_NNNN/           prompt, response, candidate, diff
//	.loop_snapshot/                pre-loop snapshot used by rollback
//	rollback_archive/<ts>-<id>/    quarantined state from each rollback
//
// Files that later logic depends on are replaced with temp-file-then-rename
// writes. The iteration log is opened, appended and closed per entry.
//
// MemStore implements the same Port in memory for tests and dry runs.
package store
