package evolution

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solosage1/amm-challenge-sub000/internal/collab"
	"github.com/solosage1/amm-challenge-sub000/internal/ir"
	"github.com/solosage1/amm-challenge-sub000/internal/policy"
	"github.com/solosage1/amm-challenge-sub000/internal/regiondiff"
	"github.com/solosage1/amm-challenge-sub000/internal/store"
	"github.com/solosage1/amm-challenge-sub000/internal/testutil"
)

const (
	widenOverlap  = `{"mechanisms":{"fee_schedule":{"allowed_overlap_with":["spread_model","inventory"]},"spread_model":{},"inventory":{}}}`
	narrowOverlap = `{"mechanisms":{"fee_schedule":{"allowed_overlap_with":[]},"spread_model":{},"inventory":{}}}`
	unchanged     = `{"mechanisms":{"fee_schedule":{},"spread_model":{},"inventory":{}}}`
	dropInventory = `{"mechanisms":{"fee_schedule":{},"spread_model":{}}}`
	addGuard      = `{"mechanisms":{"fee_schedule":{},"spread_model":{},"inventory":{},"inventory_guard":{"anchors":[{"start":"int256 public inventory"}]}}}`
)

func newStore() *store.MemStore {
	champ := testutil.Champion()
	return store.NewMemStore(&champ, testutil.Definitions())
}

// logCandidate records a single-mechanism attempt together with the base
// and candidate artifacts shadow replay needs.
func logCandidate(t *testing.T, m *store.MemStore, iter int, mech string, status ir.Status, candidate string) ir.LogEntry {
	t.Helper()
	base, err := m.WriteArtifact(iter, "base.sol", []byte(testutil.StrategySource))
	require.NoError(t, err)
	cand, err := m.WriteArtifact(iter, "candidate.sol", []byte(candidate))
	require.NoError(t, err)
	e := ir.LogEntry{
		Iteration: iter,
		Timestamp: testutil.Epoch,
		Status:    status,
		Mechanism: mech,
		Valid:     status != ir.StatusInvalid,
		Artifacts: ir.Artifacts{Base: base, Candidate: cand},
	}
	if status == ir.StatusComplete {
		e.Delta = ir.Float(0.5)
	}
	require.NoError(t, m.AppendLog(e))
	return e
}

func newEngine(t *testing.T, m *store.MemStore, gen collab.Generator, opts ...Option) *Engine {
	t.Helper()
	clock := testutil.NewClock(testutil.Epoch, 0)
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	e, err := New(m, gen, opts...)
	require.NoError(t, err)
	return e
}

func proposed(t *testing.T, payload string) *policy.Document {
	t.Helper()
	doc, _, err := policy.Normalize([]byte(payload), testutil.Definitions())
	require.NoError(t, err)
	return doc
}

func TestSpanLimit(t *testing.T) {
	s := DefaultSettings()
	assert.Equal(t, 9, SpanLimit(21, s))
	assert.Equal(t, 220, SpanLimit(1000, s))

	s.MaxSpanLines = 0
	assert.Equal(t, 450, SpanLimit(1000, s))
}

func TestCheck(t *testing.T) {
	current := testutil.Definitions()
	s := DefaultSettings()

	t.Run("unchanged passes", func(t *testing.T) {
		assert.Empty(t, Check(current, proposed(t, unchanged), testutil.StrategySource, s))
	})

	t.Run("dropped mechanism", func(t *testing.T) {
		v := Check(current, proposed(t, dropInventory), testutil.StrategySource, s)
		require.Len(t, v, 1)
		assert.Contains(t, v[0], `"inventory" dropped`)
	})

	t.Run("too many additions", func(t *testing.T) {
		s := s
		s.MaxNewMechanisms = 0
		v := Check(current, proposed(t, addGuard), testutil.StrategySource, s)
		require.Len(t, v, 1)
		assert.Contains(t, v[0], "1 mechanisms added")
	})

	t.Run("unresolved anchors", func(t *testing.T) {
		doc := proposed(t, `{"mechanisms":{"fee_schedule":{},"spread_model":{},"inventory":{"code_location":"","anchors":[{"start":"function missing"}]}}}`)
		v := Check(current, doc, testutil.StrategySource, s)
		require.Len(t, v, 1)
		assert.Contains(t, v[0], `"inventory" does not resolve`)
	})

	t.Run("span over limit", func(t *testing.T) {
		doc := proposed(t, `{"mechanisms":{"fee_schedule":{"anchors":[{"start":"contract Strategy","end":"^}$","regex":true}]},"spread_model":{},"inventory":{}}}`)
		v := Check(current, doc, testutil.StrategySource, s)
		require.Len(t, v, 1)
		assert.Contains(t, v[0], `"fee_schedule" spans`)
	})

	t.Run("unknown overlap", func(t *testing.T) {
		doc := proposed(t, unchanged)
		doc.Get("spread_model").AllowedOverlapWith = []string{"ghost", "spread_model"}
		v := Check(current, doc, testutil.StrategySource, s)
		assert.Len(t, v, 2)
	})
}

func TestShadowReplay(t *testing.T) {
	m := newStore()
	// Invalid today: inventory is not an allowed overlap of fee_schedule.
	rescued := logCandidate(t, m, 1, "fee_schedule", ir.StatusInvalid, testutil.Apply(testutil.FeeChange, testutil.InventoryChange))
	// Valid today through the fee_schedule/spread_model overlap.
	regressed := logCandidate(t, m, 2, "fee_schedule", ir.StatusComplete, testutil.Apply(testutil.FeeChange, testutil.SpreadChange))
	logCandidate(t, m, 3, "spread_model", ir.StatusComplete, testutil.Apply(testutil.SpreadChange))
	require.NoError(t, m.AppendLog(ir.LogEntry{Iteration: 4, Status: ir.StatusLLMFailed, Mechanism: "inventory"}))
	require.NoError(t, m.AppendLog(ir.LogEntry{Iteration: 5, Status: ir.StatusComplete, Wildcard: true,
		Artifacts: ir.Artifacts{Base: "x", Candidate: "y"}}))
	require.NoError(t, m.AppendLog(ir.LogEntry{Iteration: 6, Status: ir.StatusComplete, Mechanism: "inventory",
		Artifacts: ir.Artifacts{Base: "artifacts/iter_0006/base.sol", Candidate: "artifacts/iter_0006/candidate.sol"}}))

	log, err := m.ReadLog()
	require.NoError(t, err)
	current := testutil.Definitions()

	t.Run("widened overlap rescues", func(t *testing.T) {
		rep := ShadowReplay(m, log, current, proposed(t, widenOverlap))
		assert.Equal(t, 3, rep.Replayed)
		assert.Equal(t, 1, rep.Skipped)
		assert.Equal(t, []int{rescued.Iteration}, rep.Rescued)
		assert.Empty(t, rep.Regressed)
		assert.Equal(t, 1, rep.Score)
		assert.True(t, rep.Accepts())
	})

	t.Run("narrowed overlap regresses", func(t *testing.T) {
		rep := ShadowReplay(m, log, current, proposed(t, narrowOverlap))
		assert.Equal(t, []int{regressed.Iteration}, rep.Regressed)
		assert.Equal(t, -1, rep.Score)
		assert.False(t, rep.Accepts())
		assert.Contains(t, rep.String(), "regressed=1")
	})

	t.Run("identical definitions", func(t *testing.T) {
		rep := ShadowReplay(m, log, current, current)
		assert.Zero(t, rep.Score)
		assert.True(t, rep.Accepts())
	})
}

func TestSignalsAndExamples(t *testing.T) {
	window := []ir.LogEntry{
		{Iteration: 1, Mechanism: "fee_schedule", Status: ir.StatusInvalid, Reason: regiondiff.ReasonTargetUnchanged},
		{Iteration: 2, Mechanism: "fee_schedule", Status: ir.StatusInvalid, Reason: regiondiff.ReasonOverlapViolation, Detail: "spread changed"},
		{Iteration: 3, Mechanism: "fee_schedule", Status: ir.StatusComplete,
			Warnings: []string{regiondiff.WarnAnchorDrift + ": inventory anchors moved"}},
		{Iteration: 4, Wildcard: true, Status: ir.StatusInvalid},
		{Iteration: 5, Mechanism: "spread_model", Status: ir.StatusCompileFailed},
	}
	doc := testutil.Definitions()

	sig := Signals(window, doc)
	require.Len(t, sig, 3)
	assert.Equal(t, "fee_schedule", sig[0].Name)
	assert.Equal(t, 3, sig[0].Attempts)
	assert.Equal(t, 2, sig[0].Invalid)
	assert.Equal(t, 1, sig[0].TargetUnchanged)
	assert.Equal(t, 1, sig[0].Overlap)
	assert.Equal(t, "spread_model", sig[1].Name)
	assert.Equal(t, 1, sig[1].Attempts)
	assert.Equal(t, "inventory", sig[2].Name)
	assert.Equal(t, 1, sig[2].Drift)

	ex := Examples(window, 1)
	require.Len(t, ex, 1)
	assert.Equal(t, 2, ex[0].Iteration)
	assert.Equal(t, "spread changed", ex[0].Detail)

	ex = Examples(window, 5)
	require.Len(t, ex, 2)
	assert.Equal(t, 1, ex[0].Iteration)
}

func decisions(t *testing.T, m *store.MemStore) []Decision {
	t.Helper()
	data, err := m.ReadSide(store.SideEvolutionLog)
	require.NoError(t, err)
	var out []Decision
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var d Decision
		require.NoError(t, json.Unmarshal([]byte(line), &d))
		out = append(out, d)
	}
	return out
}

func TestRunAccepted(t *testing.T) {
	m := newStore()
	logCandidate(t, m, 1, "fee_schedule", ir.StatusInvalid, testutil.Apply(testutil.FeeChange, testutil.InventoryChange))
	gen := testutil.NewScriptedGenerator(testutil.Reply{Response: "Revised:\n" + testutil.Fence("json", widenOverlap)})
	e := newEngine(t, m, gen)

	d, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, d.Outcome)
	assert.True(t, d.Forced)
	require.NotNil(t, d.Shadow)
	assert.Equal(t, []int{1}, d.Shadow.Rescued)
	assert.NotEqual(t, d.HashBefore, d.HashAfter)
	assert.Equal(t, m.Backups(), []string{d.Backup})

	doc, err := m.LoadDefinitions()
	require.NoError(t, err)
	assert.Equal(t, []string{"spread_model", "inventory"}, doc.Get("fee_schedule").AllowedOverlapWith)

	reqs := gen.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, collab.KindEvolution, reqs[0].Kind)
	assert.Contains(t, reqs[0].Prompt, "fee_schedule")

	logged := decisions(t, m)
	require.Len(t, logged, 1)
	assert.Equal(t, OutcomeAccepted, logged[0].Outcome)

	st, err := e.LoadState()
	require.NoError(t, err)
	assert.Equal(t, 1, st.Runs)
}

func TestRunAddsMechanismAndSyncsStats(t *testing.T) {
	m := newStore()
	gen := testutil.NewScriptedGenerator(testutil.Reply{Response: addGuard})
	e := newEngine(t, m, gen)

	d, err := e.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, OutcomeAccepted, d.Outcome, d.Errors)
	assert.Equal(t, []string{"inventory_guard"}, d.Added)

	stats, err := m.LoadStats()
	require.NoError(t, err)
	require.NotNil(t, stats)
	assert.Contains(t, stats.Mechanisms, "inventory_guard")
}

func TestRunRejections(t *testing.T) {
	tests := []struct {
		name   string
		reply  testutil.Reply
		setup  func(t *testing.T, m *store.MemStore)
		want   string
		stage  string
		errors int
	}{
		{
			name:  "generator failure",
			reply: testutil.Failure(collab.CodeTimeout),
			want:  OutcomeFailed,
			stage: StageGenerate,
		},
		{
			name:  "no json",
			reply: testutil.Reply{Response: "I would rather not."},
			want:  OutcomeRejected,
			stage: StageExtract,
		},
		{
			name:   "dropped mechanism",
			reply:  testutil.Reply{Response: dropInventory},
			want:   OutcomeRejected,
			stage:  StagePolicy,
			errors: 1,
		},
		{
			name:   "schema violation",
			reply:  testutil.Reply{Response: `{"mechanisms":{"fee_schedule":{"allowed_overlap_with":["ghost"]},"spread_model":{},"inventory":{}}}`},
			want:   OutcomeRejected,
			stage:  StageSchema,
			errors: 1,
		},
		{
			name:  "shadow regression",
			reply: testutil.Reply{Response: narrowOverlap},
			setup: func(t *testing.T, m *store.MemStore) {
				logCandidate(t, m, 1, "fee_schedule", ir.StatusComplete, testutil.Apply(testutil.FeeChange, testutil.SpreadChange))
			},
			want:  OutcomeRejected,
			stage: StageShadow,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newStore()
			if tt.setup != nil {
				tt.setup(t, m)
			}
			e := newEngine(t, m, testutil.NewScriptedGenerator(tt.reply))

			d, err := e.Run(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Outcome)
			assert.Equal(t, tt.stage, d.Stage)
			assert.NotEmpty(t, d.Reason)
			if tt.errors > 0 {
				assert.Len(t, d.Errors, tt.errors)
			}
			assert.Empty(t, m.Backups())

			doc, err := m.LoadDefinitions()
			require.NoError(t, err)
			assert.Equal(t, []string{"spread_model"}, doc.Get("fee_schedule").AllowedOverlapWith)
			assert.Len(t, decisions(t, m), 1)
		})
	}
}

func TestRunNoop(t *testing.T) {
	m := newStore()
	e := newEngine(t, m, testutil.NewScriptedGenerator(testutil.Reply{Response: unchanged}))

	d, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, d.Outcome)
	assert.Equal(t, d.HashBefore, d.HashAfter)
	assert.Empty(t, m.Backups())
}

func TestRunNoopAfterPromotion(t *testing.T) {
	m := newStore()
	require.NoError(t, m.SaveChampion(ir.NewChampion(testutil.Apply(testutil.FeeChange), 105)))
	e := newEngine(t, m, testutil.NewScriptedGenerator(testutil.Reply{Response: unchanged}))

	d, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, d.Outcome, d.Reason)
	assert.Equal(t, d.HashBefore, d.HashAfter)
	assert.Empty(t, m.Backups())

	doc, err := m.LoadDefinitions()
	require.NoError(t, err)
	assert.Equal(t, testutil.Definitions().ChampionEdge, doc.ChampionEdge, "stored edge is untouched")
}

func TestRunAcceptedRefreshesChampionEdge(t *testing.T) {
	m := newStore()
	require.NoError(t, m.SaveChampion(ir.NewChampion(testutil.Apply(testutil.FeeChange), 105)))
	e := newEngine(t, m, testutil.NewScriptedGenerator(testutil.Reply{Response: addGuard}))

	d, err := e.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, OutcomeAccepted, d.Outcome, d.Errors)

	doc, err := m.LoadDefinitions()
	require.NoError(t, err)
	require.NotNil(t, doc.ChampionEdge)
	assert.Equal(t, 105.0, *doc.ChampionEdge)
	hash, err := doc.Hash()
	require.NoError(t, err)
	assert.Equal(t, d.HashAfter, hash)
}

func TestMaybeSchedule(t *testing.T) {
	m := newStore()
	gen := testutil.NewScriptedGenerator(testutil.Reply{Response: unchanged}, testutil.Reply{Response: unchanged})
	s := DefaultSettings()
	s.Frequency = 2
	e := newEngine(t, m, gen, WithSettings(s))
	ctx := context.Background()

	logCandidate(t, m, 1, "spread_model", ir.StatusComplete, testutil.Apply(testutil.SpreadChange))
	d, err := e.Maybe(ctx)
	require.NoError(t, err)
	assert.Nil(t, d, "one completed iteration is not due")

	logCandidate(t, m, 2, "inventory", ir.StatusComplete, testutil.Apply(testutil.InventoryChange))
	d, err = e.Maybe(ctx)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, 2, d.Completed)
	assert.False(t, d.Forced)

	d, err = e.Maybe(ctx)
	require.NoError(t, err)
	assert.Nil(t, d, "already triggered at this count")
	assert.Equal(t, 1, gen.Remaining())

	due, err := e.Due(4)
	require.NoError(t, err)
	assert.True(t, due)
}

func TestMaybeDisabled(t *testing.T) {
	m := newStore()
	s := DefaultSettings()
	s.Frequency = 0
	e := newEngine(t, m, testutil.NewScriptedGenerator(), WithSettings(s))
	logCandidate(t, m, 1, "spread_model", ir.StatusComplete, testutil.Apply(testutil.SpreadChange))

	d, err := e.Maybe(context.Background())
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestRunCancelled(t *testing.T) {
	m := newStore()
	e := newEngine(t, m, testutil.NewScriptedGenerator(testutil.Reply{Response: unchanged}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, decisions(t, m))
}
