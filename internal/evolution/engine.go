package evolution

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/solosage1/amm-challenge-sub000/internal/anchor"
	"github.com/solosage1/amm-challenge-sub000/internal/collab"
	"github.com/solosage1/amm-challenge-sub000/internal/policy"
	"github.com/solosage1/amm-challenge-sub000/internal/prompt"
	"github.com/solosage1/amm-challenge-sub000/internal/store"
)

// Outcomes recorded in a Decision.
const (
	OutcomeAccepted = "accepted"
	OutcomeNoop     = "noop"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// Rejection stages.
const (
	StageGenerate = "generate"
	StageExtract  = "extract"
	StageSchema   = "schema"
	StagePolicy   = "policy"
	StageShadow   = "shadow_replay"
)

// Settings tune policy evolution.
type Settings struct {
	// Frequency is the number of completed iterations between runs; zero
	// disables automatic runs.
	Frequency        int
	Window           int
	MaxNewMechanisms int
	MaxSpanLines     int
	MaxSpanRatio     float64
	MaxExamples      int
}

// DefaultSettings returns the default evolution settings.
func DefaultSettings() Settings {
	return Settings{
		Frequency:        25,
		Window:           25,
		MaxNewMechanisms: 2,
		MaxSpanLines:     220,
		MaxSpanRatio:     0.45,
		MaxExamples:      5,
	}
}

// State is persisted in the evolution state side file.
type State struct {
	LastTriggered int       `json:"last_triggered_completed"`
	LastRunAt     time.Time `json:"last_run_at"`
	Runs          int       `json:"runs"`
}

// Decision is one line of the evolution log.
type Decision struct {
	Timestamp  time.Time     `json:"timestamp"`
	Completed  int           `json:"completed"`
	Forced     bool          `json:"forced,omitempty"`
	Outcome    string        `json:"outcome"`
	Stage      string        `json:"stage,omitempty"`
	Reason     string        `json:"reason,omitempty"`
	Errors     []string      `json:"errors,omitempty"`
	Notes      []string      `json:"notes,omitempty"`
	Added      []string      `json:"added,omitempty"`
	Shadow     *ShadowReport `json:"shadow,omitempty"`
	HashBefore string        `json:"hash_before,omitempty"`
	HashAfter  string        `json:"hash_after,omitempty"`
	Backup     string        `json:"backup,omitempty"`
}

// Engine runs policy evolution against a store.
type Engine struct {
	port     store.Port
	gen      collab.Generator
	prompts  *prompt.Builder
	settings Settings
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithSettings replaces the evolution settings.
func WithSettings(s Settings) Option {
	return func(e *Engine) { e.settings = s }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an evolution engine.
func New(port store.Port, gen collab.Generator, opts ...Option) (*Engine, error) {
	prompts, err := prompt.New()
	if err != nil {
		return nil, err
	}
	e := &Engine{
		port:     port,
		gen:      gen,
		prompts:  prompts,
		settings: DefaultSettings(),
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// LoadState reads the persisted trigger state.
func (e *Engine) LoadState() (State, error) {
	var st State
	data, err := e.port.ReadSide(store.SideEvolutionState)
	if err != nil || data == nil {
		return st, err
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("parse %s: %w", store.SideEvolutionState, err)
	}
	return st, nil
}

// Due reports whether an automatic run is due at the given completed count.
func (e *Engine) Due(completed int) (bool, error) {
	f := e.settings.Frequency
	if f <= 0 || completed <= 0 || completed%f != 0 {
		return false, nil
	}
	st, err := e.LoadState()
	if err != nil {
		return false, err
	}
	return st.LastTriggered != completed, nil
}

// Maybe runs evolution when it is due and returns nil, nil otherwise.
func (e *Engine) Maybe(ctx context.Context) (*Decision, error) {
	ls, _, err := store.Load(e.port, e.now())
	if err != nil {
		return nil, err
	}
	completed := ls.Completed()
	due, err := e.Due(completed)
	if err != nil || !due {
		return nil, err
	}
	return e.run(ctx, ls, false)
}

// Run performs an evolution pass regardless of schedule.
func (e *Engine) Run(ctx context.Context) (*Decision, error) {
	ls, _, err := store.Load(e.port, e.now())
	if err != nil {
		return nil, err
	}
	return e.run(ctx, ls, true)
}

func (e *Engine) markTriggered(completed int) error {
	st, err := e.LoadState()
	if err != nil {
		return err
	}
	st.LastTriggered = completed
	st.LastRunAt = e.now().UTC()
	st.Runs++
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return e.port.WriteSide(store.SideEvolutionState, data)
}

func (e *Engine) run(ctx context.Context, ls *store.LoopState, forced bool) (*Decision, error) {
	completed := ls.Completed()
	if err := e.markTriggered(completed); err != nil {
		return nil, fmt.Errorf("evolution state: %w", err)
	}

	d := &Decision{Timestamp: e.now().UTC(), Completed: completed, Forced: forced}
	current := ls.Definitions
	before, err := current.Hash()
	if err != nil {
		return nil, fmt.Errorf("hash definitions: %w", err)
	}
	d.HashBefore = before

	err = e.evolve(ctx, ls, d)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}

	if err := e.port.AppendSide(store.SideEvolutionLog, d); err != nil {
		return d, fmt.Errorf("append evolution log: %w", err)
	}
	e.logger.Info("policy evolution finished",
		slog.Int("completed", completed),
		slog.String("outcome", d.Outcome),
		slog.String("stage", d.Stage),
		slog.String("reason", d.Reason))
	return d, nil
}

// evolve fills d. A returned error is a persistence failure; every
// rejection is recorded in d instead.
func (e *Engine) evolve(ctx context.Context, ls *store.LoopState, d *Decision) error {
	reject := func(outcome, stage, reason string, errs ...string) error {
		d.Outcome = outcome
		d.Stage = stage
		d.Reason = reason
		d.Errors = errs
		return nil
	}

	window := ls.Log
	if w := e.settings.Window; w > 0 && len(window) > w {
		window = window[len(window)-w:]
	}
	text, err := e.prompts.Evolution(prompt.EvolutionInput{
		Champion:         ls.Champion,
		Definitions:      ls.Definitions,
		Window:           len(window),
		MaxNewMechanisms: e.settings.MaxNewMechanisms,
		MaxSpanLines:     SpanLimit(anchor.LineCount(ls.Champion.Source), e.settings),
		Signals:          Signals(window, ls.Definitions),
		Examples:         Examples(window, e.settings.MaxExamples),
	})
	if err != nil {
		return err
	}

	resp, err := e.gen.Generate(ctx, collab.Request{Prompt: text, Kind: collab.KindEvolution})
	if err != nil {
		return reject(OutcomeFailed, StageGenerate, err.Error())
	}
	payload, err := collab.ExtractJSON(resp)
	if err != nil {
		return reject(OutcomeRejected, StageExtract, err.Error())
	}

	proposed, notes, err := policy.Normalize(payload, ls.Definitions)
	d.Notes = notes
	if err != nil {
		return reject(OutcomeRejected, StageSchema, "normalization failed", schemaMessages(err)...)
	}
	if errs := policy.Validate(proposed); len(errs) > 0 {
		return reject(OutcomeRejected, StageSchema, "validation failed", schemaMessages(errs)...)
	}
	for _, name := range proposed.Names() {
		if !ls.Definitions.Has(name) {
			d.Added = append(d.Added, name)
		}
	}

	if violations := Check(ls.Definitions, proposed, ls.Champion.Source, e.settings); len(violations) > 0 {
		return reject(OutcomeRejected, StagePolicy, "policy checks failed", violations...)
	}

	shadow := ShadowReplay(e.port, ls.Log, ls.Definitions, proposed)
	d.Shadow = &shadow
	if !shadow.Accepts() {
		return reject(OutcomeRejected, StageShadow, "candidate definitions invalidate previously valid candidates: "+shadow.String())
	}

	// champion_edge is informational: compare with the stored value and
	// refresh it only when the mechanisms change.
	proposed.ChampionEdge = ls.Definitions.ChampionEdge
	after, err := proposed.Hash()
	if err != nil {
		return fmt.Errorf("hash proposed definitions: %w", err)
	}
	if after == d.HashBefore {
		d.HashAfter = after
		d.Outcome = OutcomeNoop
		d.Reason = "proposed definitions are identical"
		return nil
	}
	edge := ls.Champion.Edge
	proposed.ChampionEdge = &edge
	if d.HashAfter, err = proposed.Hash(); err != nil {
		return fmt.Errorf("hash proposed definitions: %w", err)
	}

	backup, err := e.port.BackupDefinitions("evolution")
	if err != nil {
		return fmt.Errorf("backup definitions: %w", err)
	}
	d.Backup = backup
	if err := e.port.SaveDefinitions(proposed); err != nil {
		return fmt.Errorf("save definitions: %w", err)
	}
	stats := ls.Stats
	if stats != nil && stats.Sync(proposed.Names()) {
		if err := e.port.SaveStats(stats); err != nil {
			return fmt.Errorf("save stats: %w", err)
		}
	}
	d.Outcome = OutcomeAccepted
	d.Reason = shadow.String()
	return nil
}

func schemaMessages(err error) []string {
	if errs, ok := policy.AsSchemaErrors(err); ok {
		out := make([]string, len(errs))
		for i, e := range errs {
			out[i] = e.Error()
		}
		return out
	}
	return []string{err.Error()}
}
