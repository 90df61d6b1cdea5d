package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/solosage1/amm-challenge-sub000/internal/rollback"
)

// RollbackOptions holds flags for the rollback command.
type RollbackOptions struct {
	*RootOptions
	Reason string
}

// CheckReport is the printed governor verdict.
type CheckReport struct {
	rollback.Decision
	Mode rollback.Mode `json:"mode"`
}

func (r CheckReport) String() string {
	var b strings.Builder
	b.WriteString(decisionText(r.Decision))
	s := r.Signals
	fmt.Fprintf(&b, "  window %d, worst delta %s, current edge %.4f, baseline %.4f, mode %s\n",
		s.WindowSize, optFloat(s.WorstDelta), s.CurrentEdge, s.BaselineEdge, r.Mode)
	return b.String()
}

// RollbackReport is the printed outcome of a manual rollback.
type RollbackReport struct {
	*rollback.Outcome
}

func (r RollbackReport) String() string {
	if r.Restored {
		return fmt.Sprintf("rolled back (%s): state quarantined to %s, pre-loop snapshot restored\n", r.Reason, r.Archive)
	}
	return fmt.Sprintf("rolled back (%s): state quarantined to %s, champion left in place\n", r.Reason, r.Archive)
}

func optFloat(f *float64) string {
	if f == nil {
		return "n/a"
	}
	return fmt.Sprintf("%+.4f", *f)
}

// NewRollbackCheckCommand creates the rollback-check command.
func NewRollbackCheckCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rollback-check",
		Short: "Evaluate the rollback governor without acting",
		Long: `Recompute the governor checks (consecutive invalid, severe regression,
cumulative loss, champion destroyed) from the iteration log and print the
verdict. Nothing is moved; use "rollback" to act on it.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRollbackCheck(rootOpts, cmd)
		},
	}
	return cmd
}

func runRollbackCheck(opts *RootOptions, cmd *cobra.Command) error {
	a, err := openApp(opts)
	if err != nil {
		return err
	}
	st, err := a.state()
	if err != nil {
		return err
	}
	return opts.formatter(cmd).Success(CheckReport{
		Decision: a.governor.Check(st),
		Mode:     a.governor.Mode(),
	})
}

// NewRollbackCommand creates the rollback command.
func NewRollbackCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RollbackOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Quarantine the tracking state and restore the pre-loop snapshot",
		Long: `Move the champion, statistics, iteration log and definitions into
rollback_archive/ and, in restore mode, restore the snapshot captured
before the first iteration. In archive_only mode the champion stays in
place.

Exit codes:
  1 - Command error (for example no snapshot in restore mode)
  2 - Rollback performed`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRollback(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Reason, "reason", rollback.ReasonManual, "reason recorded with the quarantined state")

	return cmd
}

func runRollback(opts *RollbackOptions, cmd *cobra.Command) error {
	a, err := openApp(opts.RootOptions)
	if err != nil {
		return err
	}
	out, err := a.governor.Apply(opts.Reason)
	if err != nil {
		return WrapExitError(ExitFailure, "rollback failed", err)
	}
	if err := opts.formatter(cmd).Success(RollbackReport{Outcome: out}); err != nil {
		return err
	}
	return reportedExit(ExitRollback, "rollback performed: "+out.Reason)
}
