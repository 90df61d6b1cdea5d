package cli

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solosage1/amm-challenge-sub000/internal/ir"
	"github.com/solosage1/amm-challenge-sub000/internal/store"
)

func watchEntry(iteration int, edge float64) ir.LogEntry {
	delta := edge - 100
	return ir.LogEntry{
		Iteration: iteration,
		Timestamp: time.Date(2025, 1, 1, 12, 0, iteration, 0, time.UTC),
		Status:    ir.StatusComplete,
		Mechanism: "fee_schedule",
		Valid:     true,
		Edge:      &edge,
		Delta:     &delta,
		Promoted:  delta > 0,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWatchPrintsAppendedEntries(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.AppendLog(watchEntry(1, 100.5)))

	ready := make(chan struct{})
	opts := &WatchOptions{
		RootOptions: &RootOptions{Format: "text", ConfigFile: f.config, Logger: discardLogger()},
		ready:       ready,
	}
	cmd := newWatchCommand(opts)
	out := &syncBuffer{}
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	select {
	case <-ready:
	case err := <-done:
		t.Fatalf("watch exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher never became ready")
	}

	require.NoError(t, f.store.AppendLog(watchEntry(2, 101.25)))
	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), "#2 ")
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop on cancel")
	}

	got := out.String()
	assert.Contains(t, got, "#2 fee_schedule complete edge 101.2500 (+1.2500) promoted")
	// The entry present before the watch started is skipped.
	assert.NotContains(t, got, "#1 ")
}

func TestWatchLineString(t *testing.T) {
	e := watchEntry(3, 99.0)
	e.Reason = "not_improved"
	assert.Equal(t, "12:00:03 #3 fee_schedule complete edge 99.0000 (-1.0000) [not_improved]\n", WatchLine{LogEntry: e}.String())

	e = ir.LogEntry{Iteration: 4, Timestamp: e.Timestamp, Status: ir.StatusInvalid, Wildcard: true}
	assert.Equal(t, "12:00:03 #4 wildcard invalid\n", WatchLine{LogEntry: e}.String())
}

func TestLogTailReadsCompleteLines(t *testing.T) {
	dir := t.TempDir()
	fs := store.NewFileStore(dir)
	tail := &logTail{path: filepath.Join(dir, store.LogFile), logger: discardLogger()}

	entries, err := tail.read()
	require.NoError(t, err)
	assert.Empty(t, entries, "missing log reads as empty")

	require.NoError(t, fs.AppendLog(watchEntry(1, 100.5)))
	entries, err = tail.read()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].Iteration)

	// A torn write is held back until its newline arrives.
	file, err := os.OpenFile(tail.path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = file.WriteString(`{"iteration": 2, "status": "inval`)
	require.NoError(t, err)
	entries, err = tail.read()
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = file.WriteString(`id", "valid": false}` + "\n")
	require.NoError(t, err)
	require.NoError(t, file.Close())
	entries, err = tail.read()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ir.StatusInvalid, entries[0].Status)
}

func TestLogTailRestartsOnReplacement(t *testing.T) {
	dir := t.TempDir()
	fs := store.NewFileStore(dir)
	tail := &logTail{path: filepath.Join(dir, store.LogFile), logger: discardLogger()}

	require.NoError(t, fs.AppendLog(watchEntry(1, 100.5)))
	require.NoError(t, fs.AppendLog(watchEntry(2, 101.0)))
	require.NoError(t, tail.skipToEnd())
	entries, err := tail.read()
	require.NoError(t, err)
	assert.Empty(t, entries)

	// Replace the log with a shorter one, as a restore does.
	require.NoError(t, os.Remove(tail.path))
	require.NoError(t, fs.AppendLog(watchEntry(1, 100.5)))
	entries, err = tail.read()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].Iteration)
}

func TestLogTailSkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, store.LogFile)
	require.NoError(t, os.WriteFile(path, []byte("not json\n{\"iteration\": 5, \"status\": \"complete\"}\n"), 0o644))

	tail := &logTail{path: path, logger: discardLogger()}
	entries, err := tail.read()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 5, entries[0].Iteration)
}
