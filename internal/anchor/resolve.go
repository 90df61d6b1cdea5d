package anchor

import (
	"regexp"
	"sort"
	"strings"

	"github.com/solosage1/amm-challenge-sub000/internal/policy"
)

// Status describes how a mechanism's spans were obtained.
type Status string

const (
	StatusAnchors          Status = "anchors"
	StatusAnchorUnresolved Status = "anchor_unresolved"
	StatusLineRanges       Status = "line_ranges"
	StatusUnresolved       Status = "unresolved"
)

// Span is a 1-based inclusive line range.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the number of lines in the span.
func (s Span) Len() int {
	return s.End - s.Start + 1
}

// Contains reports whether line falls inside the span.
func (s Span) Contains(line int) bool {
	return line >= s.Start && line <= s.End
}

// Resolution is the result of resolving one mechanism against one source.
type Resolution struct {
	Spans  []Span `json:"spans"`
	Status Status `json:"status"`

	// Unresolved lists the indexes of anchor rules that matched nothing.
	Unresolved []int `json:"unresolved,omitempty"`
}

// Resolved reports whether any span was produced.
func (r Resolution) Resolved() bool {
	return len(r.Spans) > 0
}

// TotalLines returns the number of lines covered by all spans.
func (r Resolution) TotalLines() int {
	total := 0
	for _, s := range r.Spans {
		total += s.Len()
	}
	return total
}

// Covers reports whether line falls inside any span.
func (r Resolution) Covers(line int) bool {
	for _, s := range r.Spans {
		if s.Contains(line) {
			return true
		}
	}
	return false
}

// Resolve maps m's anchor rules to spans in source.
//
// Rules are applied in order; a rule that fails to match (or whose regex does
// not compile) is skipped and recorded in Unresolved. When anchors are
// specified but none resolve, the result is anchor_unresolved unless
// allowFallback is set and code_location parses to at least one in-bounds
// range. A mechanism without anchors always uses code_location.
func Resolve(source string, m *policy.Mechanism, allowFallback bool) Resolution {
	if m == nil {
		return Resolution{Status: StatusUnresolved}
	}
	lines := SplitLines(source)

	if len(m.Anchors) > 0 {
		var spans []Span
		var unresolved []int
		for i, rule := range m.Anchors {
			span, ok := resolveRule(lines, rule)
			if !ok {
				unresolved = append(unresolved, i)
				continue
			}
			spans = append(spans, span)
		}
		if len(spans) > 0 {
			return Resolution{Spans: Merge(spans), Status: StatusAnchors, Unresolved: unresolved}
		}
		if allowFallback {
			if ranges := clampAll(ParseLineRanges(m.CodeLocation), len(lines)); len(ranges) > 0 {
				return Resolution{Spans: Merge(ranges), Status: StatusLineRanges, Unresolved: unresolved}
			}
		}
		return Resolution{Status: StatusAnchorUnresolved, Unresolved: unresolved}
	}

	if ranges := clampAll(ParseLineRanges(m.CodeLocation), len(lines)); len(ranges) > 0 {
		return Resolution{Spans: Merge(ranges), Status: StatusLineRanges}
	}
	return Resolution{Status: StatusUnresolved}
}

// resolveRule finds a single rule's span. The end scan starts at the start
// line, so an end pattern equal to the start pattern with end occurrence 1
// ends the span on the start line itself.
func resolveRule(lines []string, rule policy.AnchorRule) (Span, bool) {
	startMatch, err := newMatcher(rule.Start, rule.Regex)
	if err != nil {
		return Span{}, false
	}
	endMatch, err := newMatcher(rule.EndPattern(), rule.Regex)
	if err != nil {
		return Span{}, false
	}

	start := nthMatch(lines, 0, startMatch, rule.StartIndex())
	if start < 0 {
		return Span{}, false
	}
	end := nthMatch(lines, start, endMatch, rule.EndIndex())
	if end < 0 {
		return Span{}, false
	}

	span := Span{Start: start + 1 - rule.Before, End: end + 1 + rule.After}
	return clamp(span, len(lines))
}

type matcher func(line string) bool

func newMatcher(pattern string, isRegex bool) (matcher, error) {
	if !isRegex {
		return func(line string) bool { return strings.Contains(line, pattern) }, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return re.MatchString, nil
}

// nthMatch returns the 0-based index of the nth matching line at or after
// from, or -1.
func nthMatch(lines []string, from int, match matcher, n int) int {
	seen := 0
	for i := from; i < len(lines); i++ {
		if match(lines[i]) {
			seen++
			if seen == n {
				return i
			}
		}
	}
	return -1
}

func clamp(s Span, lineCount int) (Span, bool) {
	if lineCount == 0 {
		return Span{}, false
	}
	if s.Start < 1 {
		s.Start = 1
	}
	if s.End > lineCount {
		s.End = lineCount
	}
	if s.Start > s.End {
		return Span{}, false
	}
	return s, true
}

func clampAll(spans []Span, lineCount int) []Span {
	var out []Span
	for _, s := range spans {
		if c, ok := clamp(s, lineCount); ok {
			out = append(out, c)
		}
	}
	return out
}

// Merge sorts spans and joins any that overlap or are separated by at most
// one line.
func Merge(spans []Span) []Span {
	if len(spans) == 0 {
		return nil
	}
	sorted := make([]Span, len(spans))
	copy(sorted, spans)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Start != sorted[j].Start {
			return sorted[i].Start < sorted[j].Start
		}
		return sorted[i].End < sorted[j].End
	})

	out := []Span{sorted[0]}
	for _, s := range sorted[1:] {
		last := &out[len(out)-1]
		if s.Start <= last.End+2 {
			if s.End > last.End {
				last.End = s.End
			}
			continue
		}
		out = append(out, s)
	}
	return out
}
