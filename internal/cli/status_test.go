package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solosage1/amm-challenge-sub000/internal/rollback"
)

func TestStatusFreshState(t *testing.T) {
	f := newFixture(t)

	var report StatusReport
	code, _ := f.runJSON(t, &report, "status")
	require.Equal(t, ExitSuccess, code)

	assert.Equal(t, "Strategy", report.Champion.Name)
	assert.Equal(t, 100.0, report.Champion.Edge)
	assert.Equal(t, 100.0, report.BaselineEdge)
	assert.Equal(t, 0, report.Iterations)
	assert.Equal(t, 1, report.NextIteration)
	assert.False(t, report.Snapshot)
	assert.Empty(t, report.Recent)
	assert.False(t, report.Governor.Triggered)

	require.Len(t, report.Mechanisms, 3)
	assert.Equal(t, "fee_schedule", report.Mechanisms[0].Mechanism)
	for _, m := range report.Mechanisms {
		assert.True(t, m.Untried, m.Mechanism)
	}
}

func TestStatusAfterPromotion(t *testing.T) {
	f := newFixture(t)
	code, _, _ := f.run(t, "run-once")
	require.Equal(t, ExitSuccess, code)

	var report StatusReport
	code, _ = f.runJSON(t, &report, "status", "--last", "5")
	require.Equal(t, ExitSuccess, code)

	assert.Equal(t, 101.5, report.Champion.Edge)
	assert.Equal(t, 1, report.Iterations)
	assert.Equal(t, 1, report.Completed)
	assert.Equal(t, 2, report.NextIteration)
	assert.Equal(t, 1, report.HistorySize)
	assert.True(t, report.Snapshot)
	require.Len(t, report.Recent, 1)

	tried := 0
	for _, m := range report.Mechanisms {
		if !m.Untried {
			tried++
			assert.Equal(t, 1, m.Tries)
			assert.Equal(t, 1, m.Successes)
			assert.InDelta(t, 1.5, m.TotalUplift, 1e-9)
		}
	}
	assert.Equal(t, 1, tried)
}

func TestStatusText(t *testing.T) {
	f := newFixture(t)

	code, stdout, _ := f.run(t, "status")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "Champion: Strategy edge 100.0000")
	assert.Contains(t, stdout, "fee_schedule")
	assert.Contains(t, stdout, "untried")
	assert.Contains(t, stdout, "Governor: ok")
}

func TestRollbackCheckDoesNotAct(t *testing.T) {
	f := newFixture(t, withEdge("97.5"), withLoop(map[string]any{
		"max_retries_on_invalid": 0,
		"auto_rollback":          false,
	}))
	code, _, _ := f.run(t, "run-once")
	require.Equal(t, ExitSuccess, code)

	var report CheckReport
	code, _ = f.runJSON(t, &report, "rollback-check")
	assert.Equal(t, ExitSuccess, code)
	assert.True(t, report.Triggered)
	assert.Equal(t, rollback.ReasonSevereRegression, report.Reason)
	assert.Equal(t, rollback.ModeRestore, report.Mode)

	// Nothing moved: the entry is still in the log.
	log, err := f.store.ReadLog()
	require.NoError(t, err)
	assert.Len(t, log, 1)
}

func TestRollbackWithoutSnapshotFails(t *testing.T) {
	f := newFixture(t)

	code, _, stderr := f.run(t, "rollback")
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stderr, "rollback failed")
}

func TestRollbackRestoresSnapshot(t *testing.T) {
	f := newFixture(t)
	code, _, _ := f.run(t, "run-once")
	require.Equal(t, ExitSuccess, code)

	var report RollbackReport
	code, _ = f.runJSON(t, &report, "rollback", "--reason", "operator")
	assert.Equal(t, ExitRollback, code)
	require.NotNil(t, report.Outcome)
	assert.Equal(t, "operator", report.Reason)
	assert.True(t, report.Restored)
	assert.NotEmpty(t, report.Archive)

	champ, err := f.store.LoadChampion()
	require.NoError(t, err)
	assert.Equal(t, 100.0, champ.Edge)
}
