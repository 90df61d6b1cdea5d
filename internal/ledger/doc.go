// Package ledger is a SQLite index of the iteration log.
//
// The JSONL log stays the source of truth. The ledger mirrors each entry as
// it is appended and can be rebuilt from the log at any time with Reindex,
// which makes it safe to delete.
//
// Each entry is keyed by its content hash, so writes are idempotent: an
// entry mirrored twice, or replayed after a rollback restore, is stored
// once. Rows keep insertion order in seq, which is the only ordering
// queries use.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads while the loop writes
//   - synchronous=NORMAL
//   - busy_timeout=5000
package ledger
