package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solosage1/amm-challenge-sub000/internal/collab"
	"github.com/solosage1/amm-challenge-sub000/internal/ir"
	"github.com/solosage1/amm-challenge-sub000/internal/rollback"
	"github.com/solosage1/amm-challenge-sub000/internal/testutil"
)

func TestRunLoopCompletes(t *testing.T) {
	f := newLoopFixture(t, fixtureConfig{})
	// Each promotion raises the champion, so every candidate is generated
	// from the previous one.
	first := testutil.Apply(testutil.FeeChange)
	second := testutil.Mutate(first, "/ 9000", "/ 8500")
	f.gen.Push(testutil.Source(first), testutil.Source(second), testutil.Failure(collab.CodeTimeout))
	f.eval.Push(testutil.Edge(101), testutil.Edge(102))

	summary, err := f.runner.RunLoop(context.Background(), 3, 0)
	require.NoError(t, err)
	assert.Equal(t, StopCompleted, summary.StopReason)
	require.Len(t, summary.Results, 3)
	assert.Equal(t, 2, summary.Promoted)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, ir.StatusLLMFailed, summary.Last().Entry.Status)

	champ, err := f.port.LoadChampion()
	require.NoError(t, err)
	assert.Equal(t, 102.0, champ.Edge)
	assert.Equal(t, second, champ.Source)

	entries, err := f.hist.List()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 101.0, entries[0].Edge, "newest archive is the displaced 101 champion")
}

func TestRunLoopStopOnError(t *testing.T) {
	settings := DefaultSettings()
	settings.StopOnError = true
	f := newLoopFixture(t, fixtureConfig{settings: settings})
	f.gen.Push(testutil.Failure(collab.CodeExit), testutil.Source(testutil.Apply(testutil.FeeChange)))

	summary, err := f.runner.RunLoop(context.Background(), 5, 0)
	require.Error(t, err)
	assert.True(t, IsIterationError(err))
	assert.Contains(t, err.Error(), "iteration 1 (fee_schedule): llm_failed: exit")
	assert.Equal(t, StopError, summary.StopReason)
	assert.Len(t, summary.Results, 1)
	assert.Equal(t, 1, f.gen.Remaining())
}

func TestRunLoopStopsAfterRollback(t *testing.T) {
	th := rollback.DefaultThresholds()
	th.ConsecutiveInvalid = 2
	settings := DefaultSettings()
	settings.MaxRetriesOnInvalid = 0
	f := newLoopFixture(t, fixtureConfig{settings: settings, thresholds: th})
	header := testutil.Apply(testutil.HeaderChange)
	f.gen.Push(testutil.Source(header), testutil.Source(header), testutil.Source(header))

	summary, err := f.runner.RunLoop(context.Background(), 10, 0)
	require.NoError(t, err)
	assert.Equal(t, StopRollback, summary.StopReason)
	require.Len(t, summary.Results, 2)
	assert.Equal(t, rollback.ReasonConsecutiveInvalid, summary.Last().Rollback.Reason)
	assert.Equal(t, 2, summary.Failed)
	assert.Equal(t, 1, f.gen.Remaining())
}

func TestRunLoopUnboundedUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	obs := &recordingObserver{}
	f := newLoopFixture(t, fixtureConfig{opts: []RunnerOption{WithObserver(obs)}})
	obs.onEntry = func() {
		if len(obs.entries) == 2 {
			cancel()
		}
	}
	f.gen.Push(testutil.Failure(collab.CodeEmpty), testutil.Failure(collab.CodeEmpty), testutil.Failure(collab.CodeEmpty))

	summary, err := f.runner.RunLoop(ctx, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, StopCancelled, summary.StopReason)
	assert.Len(t, summary.Results, 2)
}

func TestRunLoopCancelledDuringDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	obs := &recordingObserver{onEntry: cancel}
	f := newLoopFixture(t, fixtureConfig{opts: []RunnerOption{WithObserver(obs)}})
	f.gen.Push(testutil.Failure(collab.CodeEmpty))

	start := time.Now()
	summary, err := f.runner.RunLoop(ctx, 3, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, StopCancelled, summary.StopReason)
	assert.Len(t, summary.Results, 1)
	assert.Less(t, time.Since(start), time.Minute)
}

func TestRunLoopRecapturesSnapshotEachSession(t *testing.T) {
	th := rollback.DefaultThresholds()
	th.ConsecutiveInvalid = 2
	settings := DefaultSettings()
	settings.MaxRetriesOnInvalid = 0
	f := newLoopFixture(t, fixtureConfig{settings: settings, thresholds: th})

	promoted := testutil.Apply(testutil.FeeChange)
	f.gen.Push(testutil.Source(promoted))
	f.eval.Push(testutil.Edge(105))
	summary, err := f.runner.RunLoop(context.Background(), 1, 0)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Promoted)

	// Second session: two out-of-region edits against the promoted champion.
	header := testutil.Apply(testutil.FeeChange, testutil.HeaderChange)
	f.gen.Push(testutil.Source(header), testutil.Source(header))
	summary, err = f.runner.RunLoop(context.Background(), 5, 0)
	require.NoError(t, err)
	require.Equal(t, StopRollback, summary.StopReason)
	assert.True(t, summary.Last().Rollback.Restored)

	champ, err := f.port.LoadChampion()
	require.NoError(t, err)
	assert.Equal(t, 105.0, champ.Edge, "restores the champion this session started from")
	assert.Equal(t, promoted, champ.Source)

	log, err := f.port.ReadLog()
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.True(t, log[0].Promoted)
}

func TestRunOnceKeepsExistingSnapshot(t *testing.T) {
	f := newLoopFixture(t, fixtureConfig{})
	f.gen.Push(testutil.Source(testutil.Apply(testutil.FeeChange)), testutil.Failure(collab.CodeEmpty))
	f.eval.Push(testutil.Edge(105))

	_, err := f.runner.RunOnce(context.Background())
	require.NoError(t, err)
	_, err = f.runner.RunOnce(context.Background())
	require.NoError(t, err)

	// Standalone iterations share the first snapshot.
	require.NoError(t, f.port.RestoreSnapshot())
	champ, err := f.port.LoadChampion()
	require.NoError(t, err)
	assert.Equal(t, testutil.BaselineEdge, champ.Edge)
}

func TestIterationNumbersSurviveRestore(t *testing.T) {
	th := rollback.DefaultThresholds()
	th.ConsecutiveInvalid = 2
	settings := DefaultSettings()
	settings.MaxRetriesOnInvalid = 0
	f := newLoopFixture(t, fixtureConfig{settings: settings, thresholds: th})

	header := testutil.Apply(testutil.HeaderChange)
	f.gen.Push(testutil.Source(header), testutil.Source(header))
	summary, err := f.runner.RunLoop(context.Background(), 2, 0)
	require.NoError(t, err)
	require.Equal(t, StopRollback, summary.StopReason)
	archive := summary.Last().Rollback.Archive

	f.gen.Push(testutil.Source(testutil.Apply(testutil.FeeChange)))
	f.eval.Push(testutil.Edge(101))
	res, err := f.runner.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Entry.Iteration)

	// The quarantined log still resolves to its own artifacts.
	quarantined, ok := f.port.Quarantined(archive)
	require.True(t, ok)
	require.Len(t, quarantined, 2)
	for _, e := range quarantined {
		data, err := f.port.ReadArtifact(e.Artifacts.Candidate)
		require.NoError(t, err, "iteration %d", e.Iteration)
		assert.Contains(t, string(data), "baseFee = 31;")
		assert.NotContains(t, string(data), "/ 9000")
	}
}
