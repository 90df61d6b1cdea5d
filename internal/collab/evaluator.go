package collab

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// CandidatePlaceholder in evaluator argv is replaced by the candidate path.
// When absent, the path is appended as the last argument.
const CandidatePlaceholder = "{candidate}"

// Candidate is a program to score. Path is used when it names a readable
// file; otherwise Source is written to a temporary file.
type Candidate struct {
	Path   string
	Source string
}

// Evaluator scores a candidate. Higher edge is better.
type Evaluator interface {
	Evaluate(ctx context.Context, c Candidate) (float64, error)
}

// CommandEvaluator runs an external scoring command and parses the edge
// from its stdout.
type CommandEvaluator struct {
	argv []string
	s    settings
}

// NewCommandEvaluator returns an evaluator running argv.
func NewCommandEvaluator(argv []string, opts ...Option) *CommandEvaluator {
	return &CommandEvaluator{argv: append([]string(nil), argv...), s: newSettings(opts)}
}

// Evaluate implements Evaluator.
func (e *CommandEvaluator) Evaluate(ctx context.Context, c Candidate) (float64, error) {
	path, cleanup, err := materialize(c)
	if err != nil {
		return 0, newError("evaluate", CodeSpawn, "write candidate", err)
	}
	defer cleanup()

	res, err := run(ctx, "evaluate", Command{
		Argv:    expandArgv(e.argv, path),
		Dir:     e.s.dir,
		Env:     e.s.env,
		Timeout: e.s.timeout,
	}, e.s.maxOutput, e.s.logger)
	if err != nil {
		return 0, err
	}

	edge, err := ParseEdge(res.Stdout)
	if err != nil {
		if ce, ok := err.(*Error); ok {
			ce.Stderr = tail(res.Stderr)
		}
		return 0, err
	}
	return edge, nil
}

func expandArgv(argv []string, path string) []string {
	out := make([]string, 0, len(argv)+1)
	replaced := false
	for _, a := range argv {
		if strings.Contains(a, CandidatePlaceholder) {
			a = strings.ReplaceAll(a, CandidatePlaceholder, path)
			replaced = true
		}
		out = append(out, a)
	}
	if !replaced {
		out = append(out, path)
	}
	return out
}

func materialize(c Candidate) (string, func(), error) {
	if c.Path != "" {
		if info, err := os.Stat(c.Path); err == nil && !info.IsDir() {
			return c.Path, func() {}, nil
		}
	}
	if c.Source == "" {
		return "", nil, fmt.Errorf("candidate has neither a readable path nor source")
	}
	f, err := os.CreateTemp("", "candidate-*.sol")
	if err != nil {
		return "", nil, err
	}
	name := f.Name()
	if _, err := f.WriteString(c.Source); err != nil {
		f.Close()
		os.Remove(name)
		return "", nil, err
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", nil, err
	}
	return name, func() { os.Remove(name) }, nil
}
