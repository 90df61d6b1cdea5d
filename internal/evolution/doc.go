// Package evolution revises the mechanism definitions from observed
// failures.
//
// Every Frequency completed iterations the engine gathers failure signals
// from the trailing window, asks the generator for a revised definitions
// document, normalizes it, and runs it through a series of gates:
//
//   - schema: the payload must parse, normalize and validate;
//   - policy: no mechanism dropped, at most MaxNewMechanisms added, every
//     mechanism resolves on the champion within the span limit, every
//     overlap entry names another defined mechanism;
//   - shadow replay: past candidates are re-validated under the current and
//     the proposed definitions, and any valid-to-invalid flip rejects.
//
// An accepted document with the same content hash is a no-op. Otherwise the
// current file is backed up and replaced, and statistics are re-synced.
// Every run appends a Decision to the evolution log side file.
package evolution
