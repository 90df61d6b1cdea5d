package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/solosage1/amm-challenge-sub000/internal/engine"
	"github.com/solosage1/amm-challenge-sub000/internal/evolution"
	"github.com/solosage1/amm-challenge-sub000/internal/ir"
	"github.com/solosage1/amm-challenge-sub000/internal/rollback"
)

// RunOptions holds flags for the run-once and run-loop commands.
type RunOptions struct {
	*RootOptions
	Iterations  int
	Delay       time.Duration
	StopOnError bool
}

// IterationReport is the printed outcome of one iteration.
type IterationReport struct {
	Entry     ir.LogEntry         `json:"entry"`
	Archived  int                 `json:"archived,omitempty"`
	Governor  rollback.Decision   `json:"governor"`
	Rollback  *rollback.Outcome   `json:"rollback,omitempty"`
	Evolution *evolution.Decision `json:"evolution,omitempty"`
}

func newIterationReport(res *engine.Result) IterationReport {
	return IterationReport{
		Entry:     res.Entry,
		Archived:  res.Archived,
		Governor:  res.Decision,
		Rollback:  res.Rollback,
		Evolution: res.Evolution,
	}
}

func (r IterationReport) String() string {
	var b strings.Builder
	e := r.Entry
	fmt.Fprintf(&b, "iteration %d %s: %s", e.Iteration, entryLabel(e), e.Status)
	if e.Edge != nil {
		fmt.Fprintf(&b, " (edge %.4f, delta %+.4f)", *e.Edge, e.DeltaValue())
	}
	if e.Promoted {
		b.WriteString(" promoted")
	}
	if e.Reason != "" {
		fmt.Fprintf(&b, " [%s]", e.Reason)
	}
	b.WriteByte('\n')
	if r.Archived > 0 {
		fmt.Fprintf(&b, "  archived previous champion as #%d\n", r.Archived)
	}
	if r.Rollback != nil {
		fmt.Fprintf(&b, "  rollback: %s (archive %s, restored %t)\n", r.Rollback.Reason, r.Rollback.Archive, r.Rollback.Restored)
	} else if r.Governor.Triggered {
		fmt.Fprintf(&b, "  governor: %s (%s)\n", r.Governor.Reason, r.Governor.Detail)
	}
	if r.Evolution != nil {
		fmt.Fprintf(&b, "  policy evolution: %s", r.Evolution.Outcome)
		if r.Evolution.Reason != "" {
			fmt.Fprintf(&b, " (%s)", r.Evolution.Reason)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// LoopReport is the printed outcome of run-loop.
type LoopReport struct {
	Iterations []IterationReport `json:"iterations"`
	StopReason string            `json:"stop_reason"`
	Promoted   int               `json:"promoted"`
	Failed     int               `json:"failed"`
}

func (r LoopReport) String() string {
	var b strings.Builder
	for _, it := range r.Iterations {
		b.WriteString(it.String())
	}
	fmt.Fprintf(&b, "%d iterations, %d promoted, %d failed (%s)\n",
		len(r.Iterations), r.Promoted, r.Failed, r.StopReason)
	return b.String()
}

func entryLabel(e ir.LogEntry) string {
	if e.Wildcard || e.Mechanism == "" {
		return "wildcard"
	}
	return e.Mechanism
}

// NewRunOnceCommand creates the run-once command.
func NewRunOnceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run-once",
		Short: "Run a single iteration",
		Long: `Run one iteration of the loop: select a mechanism, generate and
validate a candidate, evaluate it, then promote or keep the champion.

Exit codes:
  0 - Iteration completed (promoted or not)
  1 - Iteration failed (invalid, llm_failed, compile_failed) or command error
  2 - Rollback performed

Example:
  evoloop run-once --state-dir ./state`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(opts, cmd)
		},
	}
	return cmd
}

// NewRunLoopCommand creates the run-loop command.
func NewRunLoopCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run-loop",
		Short: "Run iterations until done, rolled back or interrupted",
		Long: `Run up to --iterations iterations (0 runs until interrupted), waiting
--delay between them. The loop stops after a performed rollback and, with
--stop-on-error, after the first failed iteration.

Exit codes:
  0 - Loop finished or was interrupted
  1 - Stopped on a failed iteration or command error
  2 - Rollback performed

Example:
  evoloop run-loop -n 50 --delay 5s`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoop(opts, cmd)
		},
	}

	cmd.Flags().IntVarP(&opts.Iterations, "iterations", "n", 10, "iterations to run (0 runs until interrupted)")
	cmd.Flags().DurationVar(&opts.Delay, "delay", 0, "wait between iterations (overrides loop.delay)")
	cmd.Flags().BoolVar(&opts.StopOnError, "stop-on-error", false, "stop after the first failed iteration")

	return cmd
}

func prepareRunner(opts *RunOptions, cmd *cobra.Command) (*app, *engine.Runner, func(), error) {
	a, err := openApp(opts.RootOptions)
	if err != nil {
		return nil, nil, nil, err
	}
	if _, err := a.state(); err != nil {
		return nil, nil, nil, err
	}
	settings, err := a.cfg.LoopSettings()
	if err != nil {
		return nil, nil, nil, WrapExitError(ExitFailure, "invalid loop settings", err)
	}
	if cmd.Flags().Changed("stop-on-error") {
		settings.StopOnError = opts.StopOnError
	}
	r, cleanup, err := a.runner(settings)
	if err != nil {
		return nil, nil, nil, err
	}
	return a, r, cleanup, nil
}

func runOnce(opts *RunOptions, cmd *cobra.Command) error {
	_, r, cleanup, err := prepareRunner(opts, cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := signalContext(cmd, opts.logger())
	defer cancel()

	res, err := r.RunOnce(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "iteration aborted", err)
	}

	if err := opts.formatter(cmd).SuccessWithRun(r.RunID(), newIterationReport(res)); err != nil {
		return err
	}
	return iterationExit(res)
}

func iterationExit(res *engine.Result) error {
	if res.RolledBack() {
		return reportedExit(ExitRollback, "rollback performed: "+res.Rollback.Reason)
	}
	if ierr := res.Err(); ierr != nil {
		return &ExitError{Code: ExitFailure, Message: "iteration failed", Err: ierr, Reported: true}
	}
	return nil
}

func runLoop(opts *RunOptions, cmd *cobra.Command) error {
	a, r, cleanup, err := prepareRunner(opts, cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	delay := a.cfg.Loop.Delay
	if cmd.Flags().Changed("delay") {
		delay = opts.Delay
	}

	ctx, cancel := signalContext(cmd, opts.logger())
	defer cancel()

	opts.logger().Info("loop starting",
		slog.String("run_id", r.RunID()),
		slog.Int("iterations", opts.Iterations),
		slog.Duration("delay", delay),
	)
	summary, loopErr := r.RunLoop(ctx, opts.Iterations, delay)

	report := LoopReport{
		StopReason: summary.StopReason,
		Promoted:   summary.Promoted,
		Failed:     summary.Failed,
		Iterations: make([]IterationReport, 0, len(summary.Results)),
	}
	for _, res := range summary.Results {
		report.Iterations = append(report.Iterations, newIterationReport(res))
	}

	if loopErr != nil && !engine.IsIterationError(loopErr) {
		return WrapExitError(ExitFailure, "loop aborted", loopErr)
	}
	if err := opts.formatter(cmd).SuccessWithRun(r.RunID(), report); err != nil {
		return err
	}

	switch summary.StopReason {
	case engine.StopRollback:
		return iterationExit(summary.Last())
	case engine.StopError:
		return &ExitError{Code: ExitFailure, Message: "loop stopped on error", Err: loopErr, Reported: true}
	}
	return nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
// Uses the command's context if available (for testing).
func signalContext(cmd *cobra.Command, logger *slog.Logger) (context.Context, context.CancelFunc) {
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan) // Prevent signal handler leak
		cancel()
	}
}
