package evolution

import (
	"fmt"
	"math"

	"github.com/solosage1/amm-challenge-sub000/internal/anchor"
	"github.com/solosage1/amm-challenge-sub000/internal/policy"
)

// SpanLimit returns the largest total span a mechanism may cover in a
// champion of the given length.
func SpanLimit(lines int, s Settings) int {
	limit := int(math.Floor(float64(lines) * s.MaxSpanRatio))
	if s.MaxSpanLines > 0 && s.MaxSpanLines < limit {
		limit = s.MaxSpanLines
	}
	return limit
}

// Check applies the structural policy gates to a proposed document and
// returns every violation found.
func Check(current, proposed *policy.Document, champion string, s Settings) []string {
	var out []string

	for _, name := range current.Names() {
		if !proposed.Has(name) {
			out = append(out, fmt.Sprintf("mechanism %q dropped", name))
		}
	}

	var added []string
	for _, name := range proposed.Names() {
		if !current.Has(name) {
			added = append(added, name)
		}
	}
	if len(added) > s.MaxNewMechanisms {
		out = append(out, fmt.Sprintf("%d mechanisms added %v, at most %d allowed", len(added), added, s.MaxNewMechanisms))
	}

	limit := SpanLimit(anchor.LineCount(champion), s)
	for _, m := range proposed.Mechanisms {
		r := anchor.Resolve(champion, m, false)
		if !r.Resolved() {
			out = append(out, fmt.Sprintf("mechanism %q does not resolve on the champion (%s)", m.Name, r.Status))
			continue
		}
		if len(r.Unresolved) > 0 {
			out = append(out, fmt.Sprintf("mechanism %q anchors %v do not resolve on the champion", m.Name, r.Unresolved))
		}
		if total := r.TotalLines(); total > limit {
			out = append(out, fmt.Sprintf("mechanism %q spans %d lines, limit %d", m.Name, total, limit))
		}
	}

	for _, m := range proposed.Mechanisms {
		for _, other := range m.AllowedOverlapWith {
			switch {
			case other == m.Name:
				out = append(out, fmt.Sprintf("mechanism %q lists itself in allowed_overlap_with", m.Name))
			case !proposed.Has(other):
				out = append(out, fmt.Sprintf("mechanism %q overlaps unknown mechanism %q", m.Name, other))
			}
		}
	}
	return out
}
