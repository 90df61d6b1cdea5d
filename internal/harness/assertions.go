package harness

import (
	"fmt"
	"math"
	"slices"
	"strings"
)

// edgeTolerance absorbs float noise in champion_edge comparisons.
const edgeTolerance = 1e-9

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, ev := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] iteration %d %s %s", ev.Step, ev.Iteration, ev.Mechanism, ev.Status)
		if ev.Promoted {
			buf.WriteString(" promoted")
		}
		if ev.Rollback != "" {
			fmt.Fprintf(&buf, " rollback=%s", ev.Rollback)
		}
		buf.WriteByte('\n')
	}
	return buf.String()
}

func assertChampionEdge(result *Result, a Assertion) error {
	got := result.State.ChampionEdge
	if math.Abs(got-*a.Value) <= edgeTolerance {
		return nil
	}
	return &AssertionError{
		Type:     AssertChampionEdge,
		Expected: fmt.Sprintf("champion edge %g", *a.Value),
		Actual:   fmt.Sprintf("champion edge %g", got),
		Trace:    result.Trace,
	}
}

func assertCount(result *Result, a Assertion, what string, got int) error {
	if got == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("%d %s", a.Count, what),
		Actual:   fmt.Sprintf("%d %s", got, what),
		Trace:    result.Trace,
	}
}

// assertStatusCount counts trace events, so entries later discarded by a
// rollback restore still count.
func assertStatusCount(result *Result, a Assertion) error {
	n := 0
	for _, ev := range result.Trace {
		if ev.Status == a.Status {
			n++
		}
	}
	return assertCount(result, a, a.Status+" iterations", n)
}

func assertRollbackCount(result *Result, a Assertion) error {
	n := 0
	for _, ev := range result.Trace {
		if ev.Rollback != "" && (a.Reason == "" || ev.Rollback == a.Reason) {
			n++
		}
	}
	what := "rollbacks"
	if a.Reason != "" {
		what = a.Reason + " rollbacks"
	}
	return assertCount(result, a, what, n)
}

func assertMechanisms(result *Result, a Assertion) error {
	if slices.Equal(result.State.Mechanisms, a.Mechanisms) {
		return nil
	}
	return &AssertionError{
		Type:     AssertMechanisms,
		Expected: fmt.Sprintf("mechanisms %v", a.Mechanisms),
		Actual:   fmt.Sprintf("mechanisms %v", result.State.Mechanisms),
		Trace:    result.Trace,
	}
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertChampionEdge:
			if assertion.Value == nil {
				err = fmt.Errorf("assertion[%d]: champion_edge requires a value", i)
			} else {
				err = assertChampionEdge(result, assertion)
			}
		case AssertLogSize:
			err = assertCount(result, assertion, "log entries", result.State.LogSize)
		case AssertHistorySize:
			err = assertCount(result, assertion, "history entries", result.State.HistorySize)
		case AssertStatusCount:
			err = assertStatusCount(result, assertion)
		case AssertRollbackCount:
			err = assertRollbackCount(result, assertion)
		case AssertMechanisms:
			err = assertMechanisms(result, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
