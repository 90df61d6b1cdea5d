package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/solosage1/amm-challenge-sub000/internal/collab"
)

// Reply is one scripted generator response.
type Reply struct {
	Response string
	Err      error
}

// Source returns a reply whose response wraps src in a solidity fence.
func Source(src string) Reply {
	return Reply{Response: Fence("solidity", src)}
}

// Failure returns a reply failing with the given collaborator code.
func Failure(code collab.Code) Reply {
	return Reply{Err: &collab.Error{Op: "generate", Code: code, Message: "scripted failure"}}
}

// Fence wraps body in a fenced code block.
func Fence(lang, body string) string {
	return "```" + lang + "\n" + strings.TrimRight(body, "\n") + "\n```\n"
}

// ScriptedGenerator replays a fixed list of replies in order and records
// every request. Once the script is exhausted it fails with code empty.
//
// Thread-safety: safe for concurrent use via internal mutex.
type ScriptedGenerator struct {
	mu       sync.Mutex
	replies  []Reply
	requests []collab.Request
}

// NewScriptedGenerator creates a generator replaying replies.
func NewScriptedGenerator(replies ...Reply) *ScriptedGenerator {
	return &ScriptedGenerator{replies: replies}
}

// Push appends replies to the script.
func (g *ScriptedGenerator) Push(replies ...Reply) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.replies = append(g.replies, replies...)
}

// Generate implements collab.Generator.
func (g *ScriptedGenerator) Generate(ctx context.Context, req collab.Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if len(g.replies) == 0 {
		return "", &collab.Error{Op: "generate", Code: collab.CodeEmpty, Message: "script exhausted"}
	}
	r := g.replies[0]
	g.replies = g.replies[1:]
	return r.Response, r.Err
}

// Requests returns a copy of the recorded requests.
func (g *ScriptedGenerator) Requests() []collab.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]collab.Request(nil), g.requests...)
}

// Remaining returns the number of unconsumed replies.
func (g *ScriptedGenerator) Remaining() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.replies)
}

// Score is one scripted evaluator result.
type Score struct {
	Edge float64
	Err  error
}

// Edge returns a successful score.
func Edge(v float64) Score {
	return Score{Edge: v}
}

// CompileError returns a score failing the way a compile error does.
func CompileError() Score {
	return Score{Err: &collab.Error{Op: "evaluate", Code: collab.CodeExit, Message: "scripted compile failure"}}
}

// ScriptedEvaluator replays scores in order and records every candidate.
// Once the script is exhausted it fails with code empty.
//
// Thread-safety: safe for concurrent use via internal mutex.
type ScriptedEvaluator struct {
	mu         sync.Mutex
	scores     []Score
	candidates []collab.Candidate
}

// NewScriptedEvaluator creates an evaluator replaying scores.
func NewScriptedEvaluator(scores ...Score) *ScriptedEvaluator {
	return &ScriptedEvaluator{scores: scores}
}

// Push appends scores to the script.
func (e *ScriptedEvaluator) Push(scores ...Score) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.scores = append(e.scores, scores...)
}

// Evaluate implements collab.Evaluator.
func (e *ScriptedEvaluator) Evaluate(ctx context.Context, c collab.Candidate) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.candidates = append(e.candidates, c)
	if len(e.scores) == 0 {
		return 0, &collab.Error{Op: "evaluate", Code: collab.CodeEmpty, Message: "script exhausted"}
	}
	s := e.scores[0]
	e.scores = e.scores[1:]
	return s.Edge, s.Err
}

// Candidates returns a copy of the evaluated candidates.
func (e *ScriptedEvaluator) Candidates() []collab.Candidate {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]collab.Candidate(nil), e.candidates...)
}

// Mutate replaces the first occurrence of old in src. It panics when old
// is absent so a stale fixture fails loudly.
func Mutate(src, old, replacement string) string {
	if !strings.Contains(src, old) {
		panic(fmt.Sprintf("testutil.Mutate: %q not found", old))
	}
	return strings.Replace(src, old, replacement, 1)
}
