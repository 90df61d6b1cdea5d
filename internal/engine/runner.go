package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/solosage1/amm-challenge-sub000/internal/anchor"
	"github.com/solosage1/amm-challenge-sub000/internal/collab"
	"github.com/solosage1/amm-challenge-sub000/internal/evolution"
	"github.com/solosage1/amm-challenge-sub000/internal/history"
	"github.com/solosage1/amm-challenge-sub000/internal/ir"
	"github.com/solosage1/amm-challenge-sub000/internal/prompt"
	"github.com/solosage1/amm-challenge-sub000/internal/regiondiff"
	"github.com/solosage1/amm-challenge-sub000/internal/rollback"
	"github.com/solosage1/amm-challenge-sub000/internal/selector"
	"github.com/solosage1/amm-challenge-sub000/internal/store"
)

// Artifact file names inside artifacts/iter_NNNN/.
const (
	ArtifactPrompt    = "prompt.txt"
	ArtifactResponse  = "response.txt"
	ArtifactBase      = "base.sol"
	ArtifactCandidate = "candidate.sol"
	ArtifactDiff      = "candidate.diff"
)

// Settings are the loop tunables.
type Settings struct {
	ExplorationC         float64
	MaxRetriesOnInvalid  int
	ImprovementThreshold float64
	WildcardEvery        int
	ValidationMode       regiondiff.Mode
	AutoRollback         bool
	StopOnError          bool
	RecentAttempts       int
}

// DefaultSettings returns the default loop tunables.
func DefaultSettings() Settings {
	return Settings{
		ExplorationC:        selector.DefaultExploration,
		MaxRetriesOnInvalid: 2,
		ValidationMode:      regiondiff.ModeStrict,
		AutoRollback:        true,
		RecentAttempts:      5,
	}
}

// Ledger mirrors log entries into a secondary index.
type Ledger interface {
	WriteIteration(ctx context.Context, e ir.LogEntry) error
}

// Evolver runs policy evolution when it is due.
type Evolver interface {
	Maybe(ctx context.Context) (*evolution.Decision, error)
}

// Observer receives iteration outcomes, typically for metrics.
type Observer interface {
	Iteration(e ir.LogEntry, championEdge float64)
	Rollback(reason string)
	Evolution(outcome string)
	Flush() error
}

// Runner drives iterations of the governed mutation loop.
//
// Thread-safety: a Runner is not safe for concurrent use. The loop is
// single-threaded; the only blocking points are collaborator calls.
type Runner struct {
	port     store.Port
	gen      collab.Generator
	eval     collab.Evaluator
	history  *history.Store
	governor *rollback.Governor
	prompts  *prompt.Builder

	settings Settings
	rng      *rand.Rand
	now      func() time.Time
	ids      IDGenerator
	runID    string
	ledger   Ledger
	evolver  Evolver
	observer Observer
	logger   *slog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithSettings replaces the loop tunables.
func WithSettings(s Settings) RunnerOption {
	return func(r *Runner) { r.settings = s }
}

// WithRand sets the selector's random source.
func WithRand(rng *rand.Rand) RunnerOption {
	return func(r *Runner) { r.rng = rng }
}

// WithClock sets the wall-clock source for log timestamps.
func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) { r.now = now }
}

// WithIDGenerator sets the run id source.
func WithIDGenerator(g IDGenerator) RunnerOption {
	return func(r *Runner) { r.ids = g }
}

// WithLedger mirrors every log entry into l. Mirror failures are logged.
func WithLedger(l Ledger) RunnerOption {
	return func(r *Runner) { r.ledger = l }
}

// WithEvolver enables policy evolution after complete iterations.
func WithEvolver(e Evolver) RunnerOption {
	return func(r *Runner) { r.evolver = e }
}

// WithObserver reports iteration outcomes to o.
func WithObserver(o Observer) RunnerOption {
	return func(r *Runner) { r.observer = o }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

// NewRunner creates a runner.
func NewRunner(
	port store.Port,
	gen collab.Generator,
	eval collab.Evaluator,
	hist *history.Store,
	gov *rollback.Governor,
	opts ...RunnerOption,
) (*Runner, error) {
	prompts, err := prompt.New()
	if err != nil {
		return nil, err
	}
	r := &Runner{
		port:     port,
		gen:      gen,
		eval:     eval,
		history:  hist,
		governor: gov,
		prompts:  prompts,
		settings: DefaultSettings(),
		now:      time.Now,
		ids:      UUIDv7Generator{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.rng == nil {
		seed := uint64(r.now().UnixNano())
		r.rng = rand.New(rand.NewPCG(seed, seed>>1|1))
	}
	r.runID = r.ids.Generate()
	return r, nil
}

// RunID returns the id stamped on entries written by this runner.
func (r *Runner) RunID() string {
	return r.runID
}

// Result is the outcome of one iteration.
type Result struct {
	Entry     ir.LogEntry
	Archived  int
	Decision  rollback.Decision
	Rollback  *rollback.Outcome
	Evolution *evolution.Decision
}

// Err returns an *IterationError when the iteration failed, else nil.
func (res *Result) Err() error {
	if ie := iterationError(res.Entry); ie != nil {
		return ie
	}
	return nil
}

// RolledBack reports whether a rollback was performed.
func (res *Result) RolledBack() bool {
	return res.Rollback != nil
}

// attemptInput is what one generate-and-validate attempt works from.
type attemptInput struct {
	prompt string
}

// attemptOutput is one generate-and-validate attempt.
type attemptOutput struct {
	response     string
	responsePath string
	source       string
	validation   regiondiff.Result
}

// RunOnce performs one iteration: select, prompt, generate, validate with
// bounded regeneration, evaluate, record, then promote or keep. Iteration
// failures are recorded and reported through Result.Entry.Status; the
// returned error is reserved for state persistence failures and
// cancellation.
func (r *Runner) RunOnce(ctx context.Context) (*Result, error) {
	if _, err := r.governor.Snapshot(false); err != nil {
		return nil, err
	}

	st, _, err := store.Load(r.port, r.now())
	if err != nil {
		return nil, err
	}
	order := st.Definitions.Names()
	stats := selector.Recompute(st.Stats, order, st.Log, r.settings.ImprovementThreshold)

	iter := st.NextIteration()
	entry := ir.LogEntry{
		Iteration:          iter,
		RunID:              r.runID,
		ChampionEdgeBefore: st.Champion.Edge,
	}
	logger := r.logger.With(slog.Int("iteration", iter), slog.String("run_id", r.runID))

	// SELECT
	entry.Wildcard = selector.ShouldWildcard(iter, r.settings.WildcardEvery, stats, order)
	if !entry.Wildcard {
		name, err := selector.Select(stats, order, r.settings.ExplorationC, r.rng)
		if err != nil {
			return nil, fmt.Errorf("select mechanism: %w", err)
		}
		entry.Mechanism = name
	}
	logger = logger.With(slog.String("mechanism", mechanismLabel(entry)))
	logger.Info("iteration started", slog.Float64("champion_edge", st.Champion.Edge))

	// PROMPT
	text, kind, err := r.buildPrompt(st, entry)
	if err != nil {
		return nil, err
	}
	basePath, err := r.port.WriteArtifact(iter, ArtifactBase, []byte(st.Champion.Source))
	if err != nil {
		return nil, fmt.Errorf("write artifact: %w", err)
	}
	entry.Artifacts.Base = basePath
	promptPath, err := r.port.WriteArtifact(iter, ArtifactPrompt, []byte(text))
	if err != nil {
		return nil, fmt.Errorf("write artifact: %w", err)
	}
	entry.Artifacts.Prompt = promptPath

	// GENERATE + VALIDATE
	out, attempts, genErr := Retry(ctx, r.settings.MaxRetriesOnInvalid,
		attemptInput{prompt: text},
		func(ctx context.Context, in attemptInput, i int) (attemptOutput, bool, error) {
			return r.attempt(ctx, st, entry, kind, in, i)
		},
		func(in attemptInput, prev attemptOutput, i int) (attemptInput, error) {
			return r.retryPrompt(entry, text, prev, i)
		})
	entry.Attempts = attempts
	if out.responsePath != "" {
		entry.Artifacts.Response = out.responsePath
	}
	if genErr != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var candidate collab.Candidate
	switch {
	case genErr != nil && collab.CodeOf(genErr) == "":
		return nil, genErr
	case genErr != nil:
		entry.Status = ir.StatusLLMFailed
		entry.ErrorCode = string(collab.CodeOf(genErr))
		entry.Detail = genErr.Error()
		logger.Warn("generation failed", slog.String("code", entry.ErrorCode), slog.Any("error", genErr))
	default:
		candidate, err = r.fileCandidate(iter, st.Champion.Source, out.source, &entry)
		if err != nil {
			return nil, err
		}
		v := out.validation
		entry.Valid = v.Valid
		entry.Reason = v.Reason
		entry.Detail = v.Detail
		entry.Warnings = v.Warnings
		if !v.Valid {
			entry.Status = ir.StatusInvalid
			logger.Warn("candidate invalid",
				slog.String("reason", v.Reason),
				slog.String("detail", v.Detail),
				slog.Int("attempts", attempts))
		}
	}

	// EVALUATE
	var res Result
	if entry.Status == "" {
		edge, err := r.eval.Evaluate(ctx, candidate)
		if err != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err != nil {
			if collab.CodeOf(err) == "" {
				return nil, fmt.Errorf("evaluate: %w", err)
			}
			entry.Status = ir.StatusCompileFailed
			entry.ErrorCode = string(collab.CodeOf(err))
			entry.Detail = err.Error()
			logger.Warn("evaluation failed", slog.String("code", entry.ErrorCode), slog.Any("error", err))
		} else {
			entry.Status = ir.StatusComplete
			entry.Edge = ir.Float(edge)
			entry.Delta = ir.Float(edge - st.Champion.Edge)
			logger.Info("candidate evaluated", slog.Float64("edge", edge), slog.Float64("delta", *entry.Delta))

			// PROMOTE
			if edge > st.Champion.Edge {
				seq, err := r.promote(st, entry, out.source, edge)
				if err != nil {
					return nil, err
				}
				entry.Promoted = true
				res.Archived = seq
				logger.Info("champion promoted",
					slog.Float64("edge", edge),
					slog.Int("archived_sequence", seq))
			}
		}
	}

	// RECORD
	entry.Timestamp = r.now().UTC()
	selector.Apply(stats, entry, r.settings.ImprovementThreshold)
	if err := r.port.SaveStats(stats); err != nil {
		return nil, fmt.Errorf("save stats: %w", err)
	}
	if err := r.port.AppendLog(entry); err != nil {
		return nil, fmt.Errorf("append log: %w", err)
	}
	if r.ledger != nil {
		if err := r.ledger.WriteIteration(ctx, entry); err != nil {
			logger.Warn("ledger mirror failed", slog.Any("error", err))
		}
	}
	res.Entry = entry
	st.Log = append(st.Log, entry)
	st.Stats = stats

	championEdge := st.Champion.Edge
	if entry.Promoted {
		championEdge = *entry.Edge
		st.Champion.Edge = championEdge
	}
	if r.observer != nil {
		r.observer.Iteration(entry, championEdge)
	}

	// GOVERN
	res.Decision = r.governor.Check(st)
	if res.Decision.Triggered {
		logger.Warn("rollback triggered",
			slog.String("reason", res.Decision.Reason),
			slog.String("detail", res.Decision.Detail),
			slog.Bool("auto_rollback", r.settings.AutoRollback))
		if r.settings.AutoRollback {
			outcome, err := r.governor.Apply(res.Decision.Reason)
			if err != nil {
				return &res, err
			}
			res.Rollback = outcome
			if r.observer != nil {
				r.observer.Rollback(outcome.Reason)
			}
		}
	}

	// EVOLVE
	if entry.Status == ir.StatusComplete && res.Rollback == nil && r.evolver != nil {
		d, err := r.evolver.Maybe(ctx)
		if err != nil {
			logger.Warn("policy evolution failed", slog.Any("error", err))
		}
		res.Evolution = d
		if d != nil && r.observer != nil {
			r.observer.Evolution(d.Outcome)
		}
	}

	if r.observer != nil {
		if err := r.observer.Flush(); err != nil {
			logger.Warn("metrics flush failed", slog.Any("error", err))
		}
	}
	logger.Info("iteration finished",
		slog.String("status", string(entry.Status)),
		slog.Bool("promoted", entry.Promoted),
		slog.Int("attempts", entry.Attempts))
	return &res, nil
}

func mechanismLabel(e ir.LogEntry) string {
	if e.Wildcard {
		return "wildcard"
	}
	return e.Mechanism
}

// attempt generates one candidate and validates it.
func (r *Runner) attempt(ctx context.Context, st *store.LoopState, entry ir.LogEntry, kind string, in attemptInput, i int) (attemptOutput, bool, error) {
	var out attemptOutput
	if i > 0 {
		kind = collab.KindRetry
	}
	req := collab.Request{
		Prompt:         in.prompt,
		Kind:           kind,
		ArtifactPrefix: store.ArtifactName(entry.Iteration, ""),
	}
	if !entry.Wildcard {
		req.Mechanism = entry.Mechanism
	}
	resp, err := r.gen.Generate(ctx, req)
	if err != nil {
		return out, false, err
	}
	out.response = resp
	out.responsePath, err = r.port.WriteArtifact(entry.Iteration, retryName(ArtifactResponse, i), []byte(resp))
	if err != nil {
		return out, false, fmt.Errorf("write artifact: %w", err)
	}

	src, err := collab.ExtractSource(resp)
	if err != nil {
		return out, false, err
	}
	out.source = src

	if entry.Wildcard {
		out.validation = regiondiff.ValidateWildcard(st.Champion.Source, src)
	} else {
		out.validation = regiondiff.Validate(st.Champion.Source, src, entry.Mechanism, st.Definitions, r.settings.ValidationMode)
	}
	if !out.validation.Valid {
		r.logger.Debug("attempt rejected",
			slog.Int("iteration", entry.Iteration),
			slog.Int("attempt", i+1),
			slog.String("reason", out.validation.Reason))
	}
	return out, out.validation.Valid, nil
}

// retryPrompt derives the next prompt from a rejected attempt.
func (r *Runner) retryPrompt(entry ir.LogEntry, base string, prev attemptOutput, i int) (attemptInput, error) {
	text, err := r.prompts.Retry(prompt.RetryInput{
		Base:        base,
		Target:      entry.Mechanism,
		Reason:      prev.validation.Reason,
		Detail:      prev.validation.Detail,
		Attempt:     i + 1,
		MaxAttempts: r.settings.MaxRetriesOnInvalid + 1,
	})
	if err != nil {
		return attemptInput{}, err
	}
	if _, err := r.port.WriteArtifact(entry.Iteration, retryName(ArtifactPrompt, i+1), []byte(text)); err != nil {
		return attemptInput{}, fmt.Errorf("write artifact: %w", err)
	}
	return attemptInput{prompt: text}, nil
}

func retryName(name string, i int) string {
	if i == 0 {
		return name
	}
	return fmt.Sprintf("retry%d_%s", i, name)
}

func (r *Runner) buildPrompt(st *store.LoopState, entry ir.LogEntry) (string, string, error) {
	if entry.Wildcard {
		text, err := r.prompts.Wildcard(prompt.WildcardInput{
			Champion:   st.Champion,
			Mechanisms: st.Definitions.Names(),
			Recent:     st.Recent(r.settings.RecentAttempts, ""),
		})
		return text, collab.KindWildcard, err
	}
	m := st.Definitions.Get(entry.Mechanism)
	text, err := r.prompts.Mechanism(prompt.MechanismInput{
		Champion:   st.Champion,
		Mechanism:  m,
		Resolution: anchor.Resolve(st.Champion.Source, m, true),
		Recent:     st.Recent(r.settings.RecentAttempts, entry.Mechanism),
	})
	return text, collab.KindMechanism, err
}

// fileCandidate writes the candidate and its diff and returns what the
// evaluator should score.
func (r *Runner) fileCandidate(iter int, base, src string, entry *ir.LogEntry) (collab.Candidate, error) {
	rel, err := r.port.WriteArtifact(iter, ArtifactCandidate, []byte(src))
	if err != nil {
		return collab.Candidate{}, fmt.Errorf("write artifact: %w", err)
	}
	entry.Artifacts.Candidate = rel

	diff, err := regiondiff.Unified("champion", "candidate", base, src, regiondiff.DefaultContext)
	if err != nil {
		r.logger.Warn("candidate diff failed", slog.Int("iteration", iter), slog.Any("error", err))
	} else if len(diff) > 0 {
		path, err := r.port.WriteArtifact(iter, ArtifactDiff, diff)
		if err != nil {
			return collab.Candidate{}, fmt.Errorf("write artifact: %w", err)
		}
		entry.Artifacts.Diff = path
	}

	c := collab.Candidate{Source: src}
	if local, ok := r.port.(interface{ Path(string) string }); ok {
		c.Path = local.Path(rel)
	}
	return c, nil
}

// promote archives the outgoing champion and installs the candidate.
func (r *Runner) promote(st *store.LoopState, entry ir.LogEntry, src string, edge float64) (int, error) {
	seq, err := r.history.Archive(history.ArchiveRequest{
		Champion:  st.Champion,
		Reason:    history.ReasonPromotion,
		Iteration: entry.Iteration,
		Mechanism: mechanismLabel(entry),
		Delta:     entry.Delta,
	})
	if err != nil {
		return 0, fmt.Errorf("archive champion: %w", err)
	}
	if err := r.port.SaveChampion(ir.NewChampion(src, edge)); err != nil {
		return seq, fmt.Errorf("save champion: %w", err)
	}
	return seq, nil
}
