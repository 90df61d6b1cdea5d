package evolution

import (
	"strings"

	"github.com/solosage1/amm-challenge-sub000/internal/ir"
	"github.com/solosage1/amm-challenge-sub000/internal/policy"
	"github.com/solosage1/amm-challenge-sub000/internal/prompt"
	"github.com/solosage1/amm-challenge-sub000/internal/regiondiff"
)

// Signals summarizes per-mechanism failures in window, in definition order.
// Mechanisms without any activity or drift are omitted.
func Signals(window []ir.LogEntry, doc *policy.Document) []prompt.Signal {
	var out []prompt.Signal
	for _, name := range doc.Names() {
		s := prompt.Signal{Name: name}
		for _, e := range window {
			s.Drift += driftWarnings(e.Warnings, name)
			if e.Wildcard || e.Mechanism != name {
				continue
			}
			s.Attempts++
			if e.Status != ir.StatusInvalid {
				continue
			}
			s.Invalid++
			switch e.Reason {
			case regiondiff.ReasonTargetUnchanged:
				s.TargetUnchanged++
			case regiondiff.ReasonOverlapViolation:
				s.Overlap++
			}
		}
		if s.Attempts > 0 || s.Drift > 0 {
			out = append(out, s)
		}
	}
	return out
}

func driftWarnings(warnings []string, name string) int {
	n := 0
	for _, w := range warnings {
		if strings.HasPrefix(w, regiondiff.WarnAnchorDrift+": "+name+" ") ||
			strings.HasPrefix(w, regiondiff.WarnTargetUnresolved+": "+name+" ") {
			n++
		}
	}
	return n
}

// Examples returns up to limit of the most recent invalid single-mechanism
// entries in window, oldest first.
func Examples(window []ir.LogEntry, limit int) []prompt.Example {
	var out []prompt.Example
	for i := len(window) - 1; i >= 0 && len(out) < limit; i-- {
		e := window[i]
		if e.Status != ir.StatusInvalid || e.Wildcard {
			continue
		}
		out = append(out, prompt.Example{
			Iteration: e.Iteration,
			Mechanism: e.Mechanism,
			Reason:    e.Reason,
			Detail:    e.Detail,
		})
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
