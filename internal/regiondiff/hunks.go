package regiondiff

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Hunk is one contiguous changed block. Line numbers are 1-based; a pure
// insertion has OrigEnd == OrigStart-1 and a pure deletion has
// NewEnd == NewStart-1.
type Hunk struct {
	OrigStart int `json:"orig_start"`
	OrigEnd   int `json:"orig_end"`
	NewStart  int `json:"new_start"`
	NewEnd    int `json:"new_end"`
}

// Insertion reports whether the hunk removes no original lines.
func (h Hunk) Insertion() bool {
	return h.OrigEnd < h.OrigStart
}

// LineHunks computes the changed line blocks between two texts.
func LineHunks(original, candidate string) []Hunk {
	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0

	a, b, lineArray := dmp.DiffLinesToChars(original, candidate)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	var hunks []Hunk
	var cur *Hunk
	origLine, newLine := 1, 1

	flush := func() {
		if cur != nil {
			hunks = append(hunks, *cur)
			cur = nil
		}
	}
	open := func() {
		if cur == nil {
			cur = &Hunk{OrigStart: origLine, OrigEnd: origLine - 1, NewStart: newLine, NewEnd: newLine - 1}
		}
	}

	for _, d := range diffs {
		n := countLines(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			flush()
			origLine += n
			newLine += n
		case diffmatchpatch.DiffDelete:
			open()
			origLine += n
			cur.OrigEnd = origLine - 1
		case diffmatchpatch.DiffInsert:
			open()
			newLine += n
			cur.NewEnd = newLine - 1
		}
	}
	flush()
	return hunks
}

func countLines(text string) int {
	if text == "" {
		return 0
	}
	n := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		n++
	}
	return n
}
