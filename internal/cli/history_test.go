package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryListAfterPromotion(t *testing.T) {
	f := newFixture(t)
	code, _, _ := f.run(t, "run-once")
	require.Equal(t, ExitSuccess, code)

	var list HistoryList
	code, _ = f.runJSON(t, &list, "history", "list")
	require.Equal(t, ExitSuccess, code)
	require.Len(t, list.Entries, 1)
	assert.Equal(t, 1, list.Entries[0].Sequence)
	assert.Equal(t, 100.0, list.Entries[0].Edge)
	require.NotNil(t, list.BestEver)
	assert.Equal(t, 1, *list.BestEver)

	code, stdout, _ := f.run(t, "history", "list")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "* #1")
}

func TestHistoryListEmpty(t *testing.T) {
	f := newFixture(t)

	code, stdout, _ := f.run(t, "history", "list")
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, "No archived champions.\n", stdout)
}

func TestHistoryShowDiff(t *testing.T) {
	f := newFixture(t)
	code, _, _ := f.run(t, "run-once")
	require.Equal(t, ExitSuccess, code)

	var show HistoryShow
	code, _ = f.runJSON(t, &show, "history", "show", "#1", "--diff", "--source")
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, 1, show.Metadata.Sequence)
	assert.Equal(t, "promotion", show.Metadata.Reason)
	assert.Equal(t, 1, show.Metadata.Iteration)
	assert.Contains(t, show.Source, "contract Strategy")
	assert.Contains(t, show.Diff, "--- champion_001/strategy.sol")
	assert.Contains(t, show.Diff, "+++ current/strategy.sol")
	assert.Contains(t, show.Diff, "@@")
}

func TestHistoryShowUnknownSequence(t *testing.T) {
	f := newFixture(t)

	code, _, stderr := f.run(t, "history", "show", "7")
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stderr, "champion #7 not in history")

	code, _, stderr = f.run(t, "history", "show", "zero")
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stderr, `invalid sequence "zero"`)
}

func TestHistoryRevert(t *testing.T) {
	f := newFixture(t)
	code, _, _ := f.run(t, "run-once")
	require.Equal(t, ExitSuccess, code)

	var report RevertReport
	code, _ = f.runJSON(t, &report, "history", "revert", "1")
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, 1, report.Sequence)
	assert.Equal(t, 100.0, report.Edge)
	assert.Equal(t, 101.5, report.Previous)

	champ, err := f.store.LoadChampion()
	require.NoError(t, err)
	assert.Equal(t, 100.0, champ.Edge)

	// The displaced champion is archived so the revert can be undone.
	var list HistoryList
	code, _ = f.runJSON(t, &list, "history", "list")
	require.Equal(t, ExitSuccess, code)
	require.Len(t, list.Entries, 2)
	assert.Equal(t, 101.5, list.Entries[0].Edge)
}

func TestParseSequence(t *testing.T) {
	tests := []struct {
		arg     string
		want    int
		wantErr bool
	}{
		{"3", 3, false},
		{"#12", 12, false},
		{"0", 0, true},
		{"-1", 0, true},
		{"abc", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			got, err := parseSequence(tt.arg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
