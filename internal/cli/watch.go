package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/solosage1/amm-challenge-sub000/internal/ir"
	"github.com/solosage1/amm-challenge-sub000/internal/store"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	FromStart bool

	// ready is closed once the watcher is registered (for testing).
	ready chan struct{}
}

// WatchLine is one printed iteration log entry.
type WatchLine struct {
	ir.LogEntry
}

func (l WatchLine) String() string {
	e := l.LogEntry
	s := fmt.Sprintf("%s #%d %s %s", e.Timestamp.Format("15:04:05"), e.Iteration, entryLabel(e), e.Status)
	if e.Edge != nil {
		s += fmt.Sprintf(" edge %.4f (%+.4f)", *e.Edge, e.DeltaValue())
	}
	if e.Promoted {
		s += " promoted"
	}
	if e.Reason != "" {
		s += " [" + e.Reason + "]"
	}
	return s + "\n"
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	return newWatchCommand(&WatchOptions{RootOptions: rootOpts})
}

func newWatchCommand(opts *WatchOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print iteration log entries as they are appended",
		Long: `Follow the iteration log of the state directory and print every entry
appended by a running loop. When the log is replaced (for example by a
rollback restore) the replacement is printed from its start.

Press Ctrl-C to stop.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.FromStart, "from-start", false, "print existing entries first")

	return cmd
}

func runWatch(opts *WatchOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	logger := opts.logger()
	path := filepath.Clean(filepath.Join(cfg.StateDir, store.LogFile))

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return WrapExitError(ExitFailure, "failed to create watcher", err)
	}
	defer watcher.Close()

	// Watch the directory: the log may not exist yet and is replaced on
	// rollback.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return WrapExitError(ExitFailure, "failed to watch state directory", err)
	}

	ctx, cancel := signalContext(cmd, logger)
	defer cancel()

	f := opts.formatter(cmd)
	tail := &logTail{path: path, logger: logger}
	if opts.FromStart {
		if err := tail.emit(f); err != nil {
			return err
		}
	} else if err := tail.skipToEnd(); err != nil {
		return WrapExitError(ExitFailure, "failed to read iteration log", err)
	}

	logger.Info("watching iteration log", "path", path)
	if opts.ready != nil {
		close(opts.ready)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			switch {
			case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
				tail.reset()
				continue
			case event.Has(fsnotify.Create):
				logger.Debug("iteration log created", "path", path)
				tail.reset()
			case !event.Has(fsnotify.Write):
				continue
			}
			if err := tail.emit(f); err != nil {
				return err
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher error", "error", err)
		}
	}
}

// logTail reads complete JSONL records appended since the last read.
type logTail struct {
	path    string
	offset  int64
	partial []byte
	logger  *slog.Logger
}

func (t *logTail) reset() {
	t.offset = 0
	t.partial = nil
}

func (t *logTail) skipToEnd() error {
	info, err := os.Stat(t.path)
	if errors.Is(err, os.ErrNotExist) {
		t.reset()
		return nil
	}
	if err != nil {
		return err
	}
	t.offset = info.Size()
	t.partial = nil
	return nil
}

// read returns the entries completed since the previous call. A file
// shorter than the offset was replaced and is read from its start.
func (t *logTail) read() ([]ir.LogEntry, error) {
	file, err := os.Open(t.path)
	if errors.Is(err, os.ErrNotExist) {
		t.reset()
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() < t.offset {
		t.reset()
	}
	if _, err := file.Seek(t.offset, io.SeekStart); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}
	t.offset += int64(len(data))

	data = append(t.partial, data...)
	end := bytes.LastIndexByte(data, '\n')
	if end < 0 {
		t.partial = data
		return nil, nil
	}
	t.partial = append([]byte(nil), data[end+1:]...)

	var entries []ir.LogEntry
	for _, line := range bytes.Split(data[:end], []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var e ir.LogEntry
		if err := json.Unmarshal(line, &e); err != nil {
			t.logger.Warn("skipping malformed log line", "error", err)
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (t *logTail) emit(f *OutputFormatter) error {
	entries, err := t.read()
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read iteration log", err)
	}
	for _, e := range entries {
		if err := f.Success(WatchLine{LogEntry: e}); err != nil {
			return err
		}
	}
	return nil
}
