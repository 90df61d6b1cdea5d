// Package ir provides the canonical record types shared by every evoloop
// package: iteration log entries, mechanism statistics and the champion.
//
// This package contains type definitions and pure helpers only. All other
// internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - All JSON tags use snake_case
//   - The iteration log is append-only and is the single source of truth
//   - Content hashes use RFC 8785 canonical JSON and SHA-256 with domain
//     separation (see hash.go)
package ir
