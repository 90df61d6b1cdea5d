package regiondiff

import (
	"fmt"
	"strings"

	"github.com/solosage1/amm-challenge-sub000/internal/anchor"
	"github.com/solosage1/amm-challenge-sub000/internal/policy"
)

// Mode selects how target and overlap problems are treated.
type Mode string

const (
	ModeStrict  Mode = "strict"
	ModeLenient Mode = "lenient"
)

// ParseMode converts a configuration string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeStrict, "":
		return ModeStrict, nil
	case ModeLenient:
		return ModeLenient, nil
	default:
		return "", fmt.Errorf("unknown validation mode %q (want strict or lenient)", s)
	}
}

// Failure reasons.
const (
	ReasonTargetUnchanged  = "target_unchanged"
	ReasonOverlapViolation = "overlap_violation"
	ReasonUnknownMechanism = "unknown_mechanism"
	ReasonUnchanged        = "unchanged"
)

// Warning prefixes.
const (
	WarnAnchorDrift      = "anchor_drift"
	WarnTargetUnresolved = "target_unresolved"
	WarnUnscopedChange   = "unscoped_change"
)

// Result is the outcome of one validation.
type Result struct {
	Valid    bool     `json:"valid"`
	Reason   string   `json:"reason,omitempty"`
	Detail   string   `json:"detail,omitempty"`
	Warnings []string `json:"warnings,omitempty"`

	// Changed lists mechanisms whose normalized region differs, in
	// definition order.
	Changed []string `json:"changed,omitempty"`

	// Violations lists changed non-target mechanisms not allowed to overlap.
	Violations []string `json:"violations,omitempty"`

	Hunks []Hunk `json:"hunks,omitempty"`
}

type region struct {
	orig anchor.Resolution
	cand anchor.Resolution
}

// Validate checks that candidate modified target and nothing it may not
// overlap with.
func Validate(original, candidate, target string, doc *policy.Document, mode Mode) Result {
	tm := doc.Get(target)
	if tm == nil {
		return Result{
			Reason: ReasonUnknownMechanism,
			Detail: fmt.Sprintf("mechanism %q is not defined", target),
		}
	}

	res := Result{Hunks: LineHunks(original, candidate)}
	regions := make(map[string]region, len(doc.Mechanisms))
	for _, m := range doc.Mechanisms {
		regions[m.Name] = region{
			orig: anchor.Resolve(original, m, true),
			cand: anchor.Resolve(candidate, m, false),
		}
	}

	tr := regions[target]
	var targetChanged bool
	if tr.orig.Resolved() && tr.cand.Resolved() {
		targetChanged = regionText(original, tr.orig) != regionText(candidate, tr.cand)
	} else {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%s: %s (original %s, candidate %s); compared whole document",
			WarnTargetUnresolved, target, tr.orig.Status, tr.cand.Status))
		targetChanged = anchor.Normalize(original) != anchor.Normalize(candidate)
	}

	for _, m := range doc.Mechanisms {
		if m.Name == target {
			if targetChanged {
				res.Changed = append(res.Changed, m.Name)
			}
			continue
		}
		r := regions[m.Name]
		if r.cand.Status == anchor.StatusAnchorUnresolved {
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s: %s anchors did not resolve on candidate", WarnAnchorDrift, m.Name))
			continue
		}
		if !r.orig.Resolved() || !r.cand.Resolved() {
			continue
		}
		if regionText(original, r.orig) == regionText(candidate, r.cand) {
			continue
		}
		res.Changed = append(res.Changed, m.Name)
		if !tm.AllowsOverlap(m.Name) {
			res.Violations = append(res.Violations, m.Name)
		}
	}

	if w := unscopedWarning(res.Hunks, regions); w != "" {
		res.Warnings = append(res.Warnings, w)
	}

	res.Valid = true
	if !targetChanged {
		detail := fmt.Sprintf("mechanism %q region is unchanged", target)
		if mode == ModeStrict {
			res.Valid = false
			res.Reason = ReasonTargetUnchanged
			res.Detail = detail
		} else {
			res.Warnings = append(res.Warnings, ReasonTargetUnchanged+": "+detail)
		}
	}
	if len(res.Violations) > 0 {
		detail := fmt.Sprintf("changed %s outside target %q", strings.Join(res.Violations, ", "), target)
		if mode == ModeStrict {
			if res.Valid {
				res.Valid = false
				res.Reason = ReasonOverlapViolation
				res.Detail = detail
			}
		} else {
			res.Warnings = append(res.Warnings, ReasonOverlapViolation+": "+detail)
		}
	}
	return res
}

// ValidateWildcard accepts any candidate that differs from the original.
func ValidateWildcard(original, candidate string) Result {
	res := Result{Valid: true, Hunks: LineHunks(original, candidate)}
	if anchor.Normalize(original) == anchor.Normalize(candidate) {
		res.Valid = false
		res.Reason = ReasonUnchanged
		res.Detail = "candidate is identical to the champion"
	}
	return res
}

func regionText(source string, r anchor.Resolution) string {
	return anchor.Normalize(anchor.ExtractText(source, r.Spans))
}

// unscopedWarning reports hunks that fall outside every mechanism on the
// original side. Insertions count as scoped when either neighboring line is
// covered.
func unscopedWarning(hunks []Hunk, regions map[string]region) string {
	covered := func(line int) bool {
		for _, r := range regions {
			if r.orig.Covers(line) {
				return true
			}
		}
		return false
	}

	var outside []string
	for _, h := range hunks {
		scoped := false
		if h.Insertion() {
			scoped = covered(h.OrigStart-1) || covered(h.OrigStart)
		} else {
			for line := h.OrigStart; line <= h.OrigEnd && !scoped; line++ {
				scoped = covered(line)
			}
		}
		if !scoped {
			outside = append(outside, formatHunk(h))
		}
	}
	if len(outside) == 0 {
		return ""
	}
	return fmt.Sprintf("%s: lines %s", WarnUnscopedChange, strings.Join(outside, ", "))
}

func formatHunk(h Hunk) string {
	if h.Insertion() {
		return fmt.Sprintf("+%d", h.OrigStart)
	}
	if h.OrigStart == h.OrigEnd {
		return fmt.Sprintf("%d", h.OrigStart)
	}
	return fmt.Sprintf("%d-%d", h.OrigStart, h.OrigEnd)
}
