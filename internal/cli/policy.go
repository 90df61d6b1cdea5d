package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/solosage1/amm-challenge-sub000/internal/anchor"
	"github.com/solosage1/amm-challenge-sub000/internal/evolution"
	"github.com/solosage1/amm-challenge-sub000/internal/ir"
	"github.com/solosage1/amm-challenge-sub000/internal/policy"
)

// EvolveOptions holds flags for policy evolve.
type EvolveOptions struct {
	*RootOptions
	Force bool
}

// MechanismCheck is how one mechanism resolves on the champion.
type MechanismCheck struct {
	Name       string        `json:"name"`
	Status     anchor.Status `json:"status"`
	Spans      []anchor.Span `json:"spans"`
	Lines      int           `json:"lines"`
	Unresolved []int         `json:"unresolved,omitempty"`
}

// PolicyReport is the printed result of policy validate.
type PolicyReport struct {
	File       string           `json:"file"`
	Hash       string           `json:"hash"`
	SpanLimit  int              `json:"span_limit"`
	Mechanisms []MechanismCheck `json:"mechanisms"`
	Violations []string         `json:"violations,omitempty"`
}

func (r PolicyReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s), span limit %d lines\n", r.File, ir.ShortHash(r.Hash), r.SpanLimit)
	for _, m := range r.Mechanisms {
		fmt.Fprintf(&b, "  %-24s %-18s %3d lines %s\n", m.Name, m.Status, m.Lines, spansText(m.Spans))
	}
	if len(r.Violations) == 0 {
		b.WriteString("valid\n")
		return b.String()
	}
	fmt.Fprintf(&b, "%d violations:\n", len(r.Violations))
	for _, v := range r.Violations {
		fmt.Fprintf(&b, "  - %s\n", v)
	}
	return b.String()
}

// EvolveReport is the printed result of policy evolve.
type EvolveReport struct {
	Ran      bool                `json:"ran"`
	Decision *evolution.Decision `json:"decision,omitempty"`
}

func (r EvolveReport) String() string {
	if !r.Ran {
		return "policy evolution not due (use --force to run now)\n"
	}
	d := r.Decision
	var b strings.Builder
	fmt.Fprintf(&b, "policy evolution after %d complete iterations: %s", d.Completed, d.Outcome)
	if d.Stage != "" {
		fmt.Fprintf(&b, " at %s", d.Stage)
	}
	if d.Reason != "" {
		fmt.Fprintf(&b, ": %s", d.Reason)
	}
	b.WriteByte('\n')
	for _, e := range d.Errors {
		fmt.Fprintf(&b, "  - %s\n", e)
	}
	if len(d.Added) > 0 {
		fmt.Fprintf(&b, "  added %s\n", strings.Join(d.Added, ", "))
	}
	if d.Shadow != nil {
		fmt.Fprintf(&b, "  shadow replay: %d rescued, %d regressed of %d replayed (score %+d)\n",
			len(d.Shadow.Rescued), len(d.Shadow.Regressed), d.Shadow.Replayed, d.Shadow.Score)
	}
	if d.Backup != "" {
		fmt.Fprintf(&b, "  previous definitions backed up to %s\n", d.Backup)
	}
	return b.String()
}

func spansText(spans []anchor.Span) string {
	parts := make([]string, len(spans))
	for i, s := range spans {
		parts[i] = fmt.Sprintf("%d-%d", s.Start, s.End)
	}
	return strings.Join(parts, ",")
}

// NewPolicyCommand creates the policy command group.
func NewPolicyCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "policy",
		Short:         "Validate and evolve mechanism definitions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newPolicyValidateCommand(rootOpts))
	cmd.AddCommand(newPolicyEvolveCommand(rootOpts))

	return cmd
}

func newPolicyValidateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [definitions-file]",
		Short: "Validate definitions against the schema and the champion",
		Long: `Parse a definitions document (the configured one by default), then
resolve every mechanism against the current champion and apply the span
and overlap rules policy evolution enforces.

Exit codes:
  0 - Valid
  1 - Schema errors, policy violations or command error`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPolicyValidate(opts, args, cmd)
		},
	}
}

func runPolicyValidate(opts *RootOptions, args []string, cmd *cobra.Command) error {
	a, err := openApp(opts)
	if err != nil {
		return err
	}
	path := a.store.DefinitionsPath()
	if len(args) == 1 {
		path = args[0]
	}

	f := opts.formatter(cmd)
	doc, err := policy.Load(path)
	if err != nil {
		if errs, ok := policy.AsSchemaErrors(err); ok {
			if ferr := f.Error(CodeCommand, err.Error(), errs); ferr != nil {
				return ferr
			}
			return &ExitError{Code: ExitFailure, Message: "invalid definitions", Err: err, Reported: true}
		}
		return WrapExitError(ExitFailure, "failed to load definitions", err)
	}

	champ, err := a.store.LoadChampion()
	if err != nil {
		return WrapExitError(ExitFailure, "failed to load champion", err)
	}
	hash, err := doc.Hash()
	if err != nil {
		return WrapExitError(ExitFailure, "failed to hash definitions", err)
	}

	settings := a.cfg.EvolutionSettings()
	report := PolicyReport{
		File:      path,
		Hash:      hash,
		SpanLimit: evolution.SpanLimit(anchor.LineCount(champ.Source), settings),
	}
	for _, m := range doc.Mechanisms {
		r := anchor.Resolve(champ.Source, m, true)
		report.Mechanisms = append(report.Mechanisms, MechanismCheck{
			Name:       m.Name,
			Status:     r.Status,
			Spans:      r.Spans,
			Lines:      r.TotalLines(),
			Unresolved: r.Unresolved,
		})
	}
	report.Violations = evolution.Check(doc, doc, champ.Source, settings)

	if err := f.Success(report); err != nil {
		return err
	}
	if len(report.Violations) > 0 {
		return reportedExit(ExitFailure, fmt.Sprintf("%d policy violations", len(report.Violations)))
	}
	return nil
}

func newPolicyEvolveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EvolveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "evolve",
		Short: "Run policy evolution if due, or now with --force",
		Long: `Ask the generator for revised mechanism boundaries, check them against
the champion and shadow-replay the logged candidates under both documents.
The revision is installed only when nothing regresses.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPolicyEvolve(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Force, "force", false, "run regardless of the schedule")

	return cmd
}

func runPolicyEvolve(opts *EvolveOptions, cmd *cobra.Command) error {
	a, err := openApp(opts.RootOptions)
	if err != nil {
		return err
	}
	if _, err := a.state(); err != nil {
		return err
	}
	gen, err := a.generator()
	if err != nil {
		return err
	}
	evo, err := a.evolution(gen)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd, opts.logger())
	defer cancel()

	var d *evolution.Decision
	if opts.Force {
		d, err = evo.Run(ctx)
	} else {
		d, err = evo.Maybe(ctx)
	}
	if err != nil {
		return WrapExitError(ExitFailure, "policy evolution failed", err)
	}
	return opts.formatter(cmd).Success(EvolveReport{Ran: d != nil, Decision: d})
}
