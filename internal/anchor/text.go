package anchor

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// SplitLines splits source into lines. A single trailing newline does not
// produce an extra empty line, and a trailing carriage return is dropped
// from each line.
func SplitLines(source string) []string {
	if source == "" {
		return nil
	}
	lines := strings.Split(strings.TrimSuffix(source, "\n"), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

// LineCount returns len(SplitLines(source)).
func LineCount(source string) int {
	return len(SplitLines(source))
}

// ExtractText returns the text covered by spans, one line per line, spans
// joined in order. Spans are assumed to be in bounds (as Resolve returns them).
func ExtractText(source string, spans []Span) string {
	lines := SplitLines(source)
	var b strings.Builder
	for i, s := range spans {
		if i > 0 {
			b.WriteByte('\n')
		}
		start, end := s.Start, s.End
		if start < 1 {
			start = 1
		}
		if end > len(lines) {
			end = len(lines)
		}
		if start > end {
			continue
		}
		b.WriteString(strings.Join(lines[start-1:end], "\n"))
	}
	return b.String()
}

// Normalize applies NFC and collapses every whitespace run (newlines
// included) to a single space, so formatting-only edits compare equal.
func Normalize(text string) string {
	return strings.Join(strings.Fields(norm.NFC.String(text)), " ")
}

var rangePattern = regexp.MustCompile(`(\d+)(?:\s*(?:-|to|\.\.)\s*(\d+))?`)

// ParseLineRanges parses a legacy code_location string such as
// "lines 40-62, 80-91" or "line 12". Reversed ranges are swapped and a
// line number of zero is treated as one. Returns nil if nothing parses.
func ParseLineRanges(s string) []Span {
	var out []Span
	for _, m := range rangePattern.FindAllStringSubmatch(s, -1) {
		start, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		end := start
		if m[2] != "" {
			if end, err = strconv.Atoi(m[2]); err != nil {
				continue
			}
		}
		if end < start {
			start, end = end, start
		}
		if start < 1 {
			start = 1
		}
		if end < 1 {
			continue
		}
		out = append(out, Span{Start: start, End: end})
	}
	return out
}
