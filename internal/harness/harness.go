package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/solosage1/amm-challenge-sub000/internal/collab"
	"github.com/solosage1/amm-challenge-sub000/internal/engine"
	"github.com/solosage1/amm-challenge-sub000/internal/evolution"
	"github.com/solosage1/amm-challenge-sub000/internal/history"
	"github.com/solosage1/amm-challenge-sub000/internal/ir"
	"github.com/solosage1/amm-challenge-sub000/internal/policy"
	"github.com/solosage1/amm-challenge-sub000/internal/regiondiff"
	"github.com/solosage1/amm-challenge-sub000/internal/rollback"
	"github.com/solosage1/amm-challenge-sub000/internal/store"
	"github.com/solosage1/amm-challenge-sub000/internal/testutil"
)

// WildcardMutation is the Mutations key used for wildcard iterations.
const WildcardMutation = "wildcard"

// Harness executes one scenario against an in-memory store.
// It runs with a fixed clock, run id and selector seed.
type Harness struct {
	scenario *Scenario
	port     *store.MemStore
	history  *history.Store
	runner   *engine.Runner
	gen      *scenarioGenerator
	eval     *stepEvaluator
	logger   *slog.Logger
}

// Option configures a harness run.
type Option func(*Harness)

// WithLogger sets the logger passed to the loop. Logs are discarded by
// default.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) { h.logger = l }
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh in-memory store and a temporary
// champion history directory, removed on return.
//
// Execution flow:
// 1. Seed the store with the champion and definitions
// 2. Run one iteration per step with the step's scripted replies
// 3. Check each step's expect clause against the iteration
// 4. Evaluate the final-state assertions
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	return RunContext(context.Background(), scenario, opts...)
}

// RunContext is Run with a context.
func RunContext(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	dir, err := os.MkdirTemp("", "evoloop-scenario-")
	if err != nil {
		return nil, fmt.Errorf("failed to create history dir: %w", err)
	}
	defer os.RemoveAll(dir)

	h := &Harness{
		scenario: scenario,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(h)
	}
	if err := h.setup(dir); err != nil {
		return nil, fmt.Errorf("failed to set up scenario: %w", err)
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
	}

	if err := h.collectState(result); err != nil {
		return nil, fmt.Errorf("failed to read final state: %w", err)
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) setup(dir string) error {
	s := h.scenario

	champ := testutil.Champion()
	if s.Champion != "" {
		data, err := os.ReadFile(s.path(s.Champion))
		if err != nil {
			return err
		}
		champ = ir.NewChampion(string(data), champ.Edge)
	}
	if s.ChampionEdge != nil {
		champ.Edge = *s.ChampionEdge
	}

	doc := testutil.Definitions()
	if s.Definitions != "" {
		data, err := os.ReadFile(s.path(s.Definitions))
		if err != nil {
			return err
		}
		if doc, err = policy.Parse(data); err != nil {
			return err
		}
	}
	if len(s.Mechanisms) > 0 {
		var err error
		if doc, err = restrict(doc, s.Mechanisms); err != nil {
			return err
		}
	}
	doc.ChampionEdge = ir.Float(champ.Edge)

	mode, err := regiondiff.ParseMode(s.Loop.ValidationMode)
	if err != nil {
		return err
	}
	rbMode, err := rollback.ParseMode(s.Rollback.Mode)
	if err != nil {
		return err
	}

	clock := testutil.NewClock(testutil.Epoch, time.Second)
	h.port = store.NewMemStore(&champ, doc)
	h.history = history.New(dir, 0, history.WithNow(clock.Now), history.WithLogger(h.logger))
	h.gen = &scenarioGenerator{mutations: s.Mutations}
	h.eval = &stepEvaluator{}

	gov := rollback.NewGovernor(h.port, s.Rollback.Thresholds,
		rollback.WithMode(rbMode), rollback.WithLogger(h.logger))

	settings := engine.DefaultSettings()
	settings.ExplorationC = s.Loop.ExplorationC
	settings.MaxRetriesOnInvalid = s.Loop.MaxRetriesOnInvalid
	settings.ImprovementThreshold = s.Loop.ImprovementThreshold
	settings.WildcardEvery = s.Loop.WildcardEvery
	settings.ValidationMode = mode
	settings.AutoRollback = s.Loop.AutoRollback

	opts := []engine.RunnerOption{
		engine.WithSettings(settings),
		engine.WithRand(rand.New(rand.NewPCG(s.Seed, s.Seed>>1|1))),
		engine.WithClock(clock.Now),
		engine.WithIDGenerator(engine.NewFixedGenerator("scenario-" + s.Name)),
		engine.WithLogger(h.logger),
	}
	if s.Evolution.Frequency > 0 {
		evoGen := testutil.NewScriptedGenerator()
		for _, r := range s.Evolution.Replies {
			evoGen.Push(scriptedReply(r))
		}
		es := evolution.DefaultSettings()
		es.Frequency = s.Evolution.Frequency
		evo, err := evolution.New(h.port, evoGen,
			evolution.WithSettings(es),
			evolution.WithClock(clock.Now),
			evolution.WithLogger(h.logger))
		if err != nil {
			return err
		}
		opts = append(opts, engine.WithEvolver(evo))
	}

	h.runner, err = engine.NewRunner(h.port, h.gen, h.eval, h.history, gov, opts...)
	return err
}

// restrict keeps only the named mechanisms, dropping overlap permissions
// that point at removed ones.
func restrict(doc *policy.Document, names []string) (*policy.Document, error) {
	kept := make([]*policy.Mechanism, 0, len(names))
	for _, name := range names {
		m := doc.Get(name)
		if m == nil {
			return nil, fmt.Errorf("mechanism %q is not defined", name)
		}
		c := *m
		kept = append(kept, &c)
	}
	for i := range kept {
		var overlap []string
		for _, o := range kept[i].AllowedOverlapWith {
			if slices.Contains(names, o) {
				overlap = append(overlap, o)
			}
		}
		kept[i].AllowedOverlapWith = overlap
	}
	doc.Mechanisms = kept
	return doc, nil
}

func (h *Harness) executeStep(ctx context.Context, i int, step Step, result *Result) error {
	champ, err := h.port.LoadChampion()
	if err != nil {
		return err
	}
	h.gen.load(champ.Source, step.Replies)
	h.eval.load(step.Score)

	res, err := h.runner.RunOnce(ctx)
	if err != nil {
		return err
	}
	if err := h.gen.err(); err != nil {
		return err
	}
	if n := h.gen.remaining(); n > 0 {
		result.AddError(fmt.Sprintf("step %d: %d unused replies", i+1, n))
	}
	switch called, unused := h.eval.state(); {
	case unused:
		result.AddError(fmt.Sprintf("step %d: score was not used", i+1))
	case called && step.Score == nil:
		result.AddError(fmt.Sprintf("step %d: candidate evaluated without a scripted score", i+1))
	}

	after, err := h.port.LoadChampion()
	if err != nil {
		return err
	}
	ev := traceEvent(i+1, res, after.Edge)
	result.AddTrace(ev)
	if step.Expect != nil {
		for _, msg := range checkExpect(*step.Expect, ev) {
			result.AddError(fmt.Sprintf("step %d: %s", i+1, msg))
		}
	}
	return nil
}

func traceEvent(step int, res *engine.Result, championEdge float64) TraceEvent {
	e := res.Entry
	ev := TraceEvent{
		Step:         step,
		Iteration:    e.Iteration,
		Mechanism:    e.Mechanism,
		Status:       string(e.Status),
		Reason:       e.Reason,
		ErrorCode:    e.ErrorCode,
		Attempts:     e.Attempts,
		Edge:         e.Edge,
		Delta:        e.Delta,
		Promoted:     e.Promoted,
		ChampionEdge: championEdge,
		Archived:     res.Archived,
	}
	if e.Wildcard {
		ev.Mechanism = WildcardMutation
	}
	if res.Rollback != nil {
		ev.Rollback = res.Rollback.Reason
	}
	if res.Evolution != nil {
		ev.Evolution = res.Evolution.Outcome
	}
	return ev
}

func checkExpect(ex Expect, ev TraceEvent) []string {
	var errs []string
	mismatch := func(field string, want, got any) {
		errs = append(errs, fmt.Sprintf("expected %s %v, got %v", field, want, got))
	}
	if ex.Status != ev.Status {
		mismatch("status", ex.Status, ev.Status)
	}
	if ex.Mechanism != "" && ex.Mechanism != ev.Mechanism {
		mismatch("mechanism", ex.Mechanism, ev.Mechanism)
	}
	if ex.Reason != "" && ex.Reason != ev.Reason {
		mismatch("reason", ex.Reason, ev.Reason)
	}
	if ex.Attempts != 0 && ex.Attempts != ev.Attempts {
		mismatch("attempts", ex.Attempts, ev.Attempts)
	}
	if ex.Promoted != nil && *ex.Promoted != ev.Promoted {
		mismatch("promoted", *ex.Promoted, ev.Promoted)
	}
	if ex.Rollback != ev.Rollback {
		mismatch("rollback", quote(ex.Rollback), quote(ev.Rollback))
	}
	if ex.Evolution != "" && ex.Evolution != ev.Evolution {
		mismatch("evolution", ex.Evolution, quote(ev.Evolution))
	}
	return errs
}

func quote(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

func (h *Harness) collectState(result *Result) error {
	champ, err := h.port.LoadChampion()
	if err != nil {
		return err
	}
	log, err := h.port.ReadLog()
	if err != nil {
		return err
	}
	hist, err := h.history.List()
	if err != nil {
		return err
	}
	doc, err := h.port.LoadDefinitions()
	if err != nil {
		return err
	}
	result.State = FinalState{
		ChampionEdge: champ.Edge,
		LogSize:      len(log),
		HistorySize:  len(hist),
		Mechanisms:   doc.Names(),
	}
	return nil
}

func scriptedReply(r Reply) testutil.Reply {
	if r.Fail != "" {
		return testutil.Failure(collab.Code(r.Fail))
	}
	return testutil.Reply{Response: r.Raw}
}

// scenarioGenerator answers generation requests from the current step's
// replies. Mutations are resolved against the champion at the start of
// the step and the mechanism named in the request.
type scenarioGenerator struct {
	mutations map[string][]Edit

	mu       sync.Mutex
	champion string
	replies  []Reply
	failure  error
}

func (g *scenarioGenerator) load(champion string, replies []Reply) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.champion = champion
	g.replies = append([]Reply(nil), replies...)
	g.failure = nil
}

func (g *scenarioGenerator) remaining() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.replies)
}

// err reports a scenario authoring error raised while answering.
func (g *scenarioGenerator) err() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.failure
}

// Generate implements collab.Generator.
func (g *scenarioGenerator) Generate(ctx context.Context, req collab.Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.replies) == 0 {
		return "", &collab.Error{Op: "generate", Code: collab.CodeEmpty, Message: "script exhausted"}
	}
	r := g.replies[0]
	g.replies = g.replies[1:]

	switch {
	case r.Fail != "":
		return "", &collab.Error{Op: "generate", Code: collab.Code(r.Fail), Message: "scripted failure"}
	case r.Raw != "":
		return r.Raw, nil
	case r.Unchanged:
		return testutil.Fence("solidity", g.champion), nil
	}

	edits := r.Edits
	if r.Mutate {
		key := req.Mechanism
		if key == "" {
			key = WildcardMutation
		}
		var ok bool
		if edits, ok = g.mutations[key]; !ok {
			g.failure = fmt.Errorf("no mutation defined for %q", key)
			return "", g.failure
		}
	}
	src, err := applyEdits(g.champion, edits)
	if err != nil {
		g.failure = err
		return "", err
	}
	return testutil.Fence("solidity", src), nil
}

func applyEdits(src string, edits []Edit) (string, error) {
	for _, e := range edits {
		if !strings.Contains(src, e.Old) {
			return "", fmt.Errorf("edit not applicable: %q not found in champion", e.Old)
		}
		src = strings.Replace(src, e.Old, e.New, 1)
	}
	return src, nil
}

// stepEvaluator answers at most one evaluation per step.
type stepEvaluator struct {
	mu     sync.Mutex
	score  *Score
	called bool
}

func (e *stepEvaluator) load(s *Score) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.score = s
	e.called = false
}

// state reports whether Evaluate ran and whether the score is unused.
func (e *stepEvaluator) state() (called, unused bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.called, e.score != nil
}

// Evaluate implements collab.Evaluator.
func (e *stepEvaluator) Evaluate(ctx context.Context, _ collab.Candidate) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.called = true
	s := e.score
	e.score = nil
	switch {
	case s == nil:
		return 0, &collab.Error{Op: "evaluate", Code: collab.CodeEmpty, Message: "no scripted score"}
	case s.Fail != "":
		return 0, &collab.Error{Op: "evaluate", Code: collab.Code(s.Fail), Message: "scripted failure"}
	}
	return *s.Edge, nil
}

// ErrScenarioFailed is wrapped by errors describing a failed scenario run.
var ErrScenarioFailed = errors.New("scenario failed")

// Check returns an error wrapping ErrScenarioFailed when the result did not
// pass.
func (r *Result) Check() error {
	if r.Pass {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrScenarioFailed, strings.Join(r.Errors, "; "))
}
