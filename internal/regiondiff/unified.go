package regiondiff

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/sourcegraph/go-diff/diff"
)

// DefaultContext is the number of unchanged lines shown around each hunk.
const DefaultContext = 3

type lineOp struct {
	kind byte // ' ', '-' or '+'
	text string
	orig int
	new  int
}

// Unified renders the change from original to candidate as a unified diff.
// Returns nil when the texts are identical.
func Unified(origName, newName, original, candidate string, context int) ([]byte, error) {
	ops := lineOps(original, candidate)

	var changes []int
	for i, op := range ops {
		if op.kind != ' ' {
			changes = append(changes, i)
		}
	}
	if len(changes) == 0 {
		return nil, nil
	}

	fd := &diff.FileDiff{OrigName: origName, NewName: newName}
	lo := max(0, changes[0]-context)
	last := changes[0]
	for _, c := range changes[1:] {
		if c-last > 2*context {
			fd.Hunks = append(fd.Hunks, buildHunk(ops[lo:min(len(ops), last+context+1)]))
			lo = c - context
		}
		last = c
	}
	fd.Hunks = append(fd.Hunks, buildHunk(ops[lo:min(len(ops), last+context+1)]))

	return diff.PrintFileDiff(fd)
}

func buildHunk(ops []lineOp) *diff.Hunk {
	h := &diff.Hunk{
		OrigStartLine: int32(ops[0].orig),
		NewStartLine:  int32(ops[0].new),
	}
	var body strings.Builder
	for _, op := range ops {
		switch op.kind {
		case ' ':
			h.OrigLines++
			h.NewLines++
		case '-':
			h.OrigLines++
		case '+':
			h.NewLines++
		}
		body.WriteByte(op.kind)
		body.WriteString(op.text)
		if !strings.HasSuffix(op.text, "\n") {
			body.WriteByte('\n')
		}
	}
	if h.OrigLines == 0 {
		h.OrigStartLine--
	}
	if h.NewLines == 0 {
		h.NewStartLine--
	}
	h.Body = []byte(body.String())
	return h
}

func lineOps(original, candidate string) []lineOp {
	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0
	a, b, lineArray := dmp.DiffLinesToChars(original, candidate)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lineArray)

	var ops []lineOp
	origLine, newLine := 1, 1
	for _, d := range diffs {
		for _, text := range strings.SplitAfter(d.Text, "\n") {
			if text == "" {
				continue
			}
			op := lineOp{text: text, orig: origLine, new: newLine}
			switch d.Type {
			case diffmatchpatch.DiffEqual:
				op.kind = ' '
				origLine++
				newLine++
			case diffmatchpatch.DiffDelete:
				op.kind = '-'
				origLine++
			case diffmatchpatch.DiffInsert:
				op.kind = '+'
				newLine++
			}
			ops = append(ops, op)
		}
	}
	return ops
}
