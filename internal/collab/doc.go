// Package collab wraps the two external collaborators of the loop: the
// generator that proposes candidate programs (or revised definitions) and
// the evaluator that scores a candidate.
//
// Both run as subprocesses bounded by a wall-clock timeout. Every failure is
// reported as an *Error with a Code, never as a hang or a partial result:
//
//	spawn        the command could not be started
//	timeout      the deadline expired and the process was killed
//	exit         the process exited non-zero
//	empty        the process produced no usable output
//	unparseable  output did not contain a program, JSON object or edge
package collab
