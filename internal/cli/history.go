package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/solosage1/amm-challenge-sub000/internal/history"
	"github.com/solosage1/amm-challenge-sub000/internal/ir"
	"github.com/solosage1/amm-challenge-sub000/internal/regiondiff"
)

// HistoryShowOptions holds flags for history show.
type HistoryShowOptions struct {
	*RootOptions
	Diff    bool
	Source  bool
	Context int
}

// HistoryList is the printed champion archive.
type HistoryList struct {
	Entries  []history.Entry `json:"entries"`
	BestEver *int            `json:"best_ever,omitempty"`
}

func (l HistoryList) String() string {
	if len(l.Entries) == 0 {
		return "No archived champions.\n"
	}
	var b strings.Builder
	for _, e := range l.Entries {
		marker := " "
		if l.BestEver != nil && *l.BestEver == e.Sequence {
			marker = "*"
		}
		fmt.Fprintf(&b, "%s #%-4d %-28s edge %.4f  %s\n", marker, e.Sequence, e.Name, e.Edge, e.PromotedAt.Format(time.RFC3339))
	}
	return b.String()
}

// HistoryShow is the printed archived champion.
type HistoryShow struct {
	Metadata history.Metadata `json:"metadata"`
	Source   string           `json:"source,omitempty"`
	Diff     string           `json:"diff,omitempty"`
}

func (s HistoryShow) String() string {
	var b strings.Builder
	m := s.Metadata
	fmt.Fprintf(&b, "#%d %s edge %.4f\n", m.Sequence, m.Name, m.Edge)
	fmt.Fprintf(&b, "  archived %s (%s)\n", m.ArchivedAt.Format(time.RFC3339), m.Reason)
	if m.Iteration > 0 {
		fmt.Fprintf(&b, "  displaced by iteration %d (%s, delta %s)\n", m.Iteration, m.Mechanism, optFloat(m.Delta))
	}
	if m.PreviousSequence != nil {
		fmt.Fprintf(&b, "  previous #%d %s\n", *m.PreviousSequence, m.PreviousName)
	}
	fmt.Fprintf(&b, "  source %s\n", ir.ShortHash(m.SourceHash))
	if s.Source != "" {
		b.WriteString("\n")
		b.WriteString(s.Source)
		if !strings.HasSuffix(s.Source, "\n") {
			b.WriteByte('\n')
		}
	}
	if s.Diff != "" {
		b.WriteString("\n")
		b.WriteString(s.Diff)
	}
	return b.String()
}

// RevertReport is the printed outcome of history revert.
type RevertReport struct {
	Sequence int     `json:"sequence"`
	Name     string  `json:"name"`
	Edge     float64 `json:"edge"`
	Previous float64 `json:"previous_edge"`
}

func (r RevertReport) String() string {
	return fmt.Sprintf("reverted champion to #%d %s (edge %.4f, was %.4f); the replaced champion was archived\n",
		r.Sequence, r.Name, r.Edge, r.Previous)
}

// NewHistoryCommand creates the history command group.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect and revert archived champions",
		Long: `Every promotion archives the displaced champion under
champion_history/champion_NNN/. The best-ever entry is never pruned.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newHistoryListCommand(rootOpts))
	cmd.AddCommand(newHistoryShowCommand(rootOpts))
	cmd.AddCommand(newHistoryRevertCommand(rootOpts))

	return cmd
}

func newHistoryListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List archived champions, newest first",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			m, err := a.history.Manifest()
			if err != nil {
				return WrapExitError(ExitFailure, "failed to read champion history", err)
			}
			entries, err := a.history.List()
			if err != nil {
				return WrapExitError(ExitFailure, "failed to read champion history", err)
			}
			return opts.formatter(cmd).Success(HistoryList{Entries: entries, BestEver: m.BestEver})
		},
	}
}

func newHistoryShowCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryShowOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "show <sequence>",
		Short: "Show an archived champion",
		Long: `Show the metadata of an archived champion. --source prints its source
and --diff a unified diff from it to the current champion.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistoryShow(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Diff, "diff", false, "diff against the current champion")
	cmd.Flags().BoolVar(&opts.Source, "source", false, "print the archived source")
	cmd.Flags().IntVar(&opts.Context, "context", 3, "context lines in the diff")

	return cmd
}

func runHistoryShow(opts *HistoryShowOptions, arg string, cmd *cobra.Command) error {
	seq, err := parseSequence(arg)
	if err != nil {
		return err
	}
	a, err := openApp(opts.RootOptions)
	if err != nil {
		return err
	}
	rec, err := a.history.Get(seq)
	if err != nil {
		return historyError(seq, err)
	}

	out := HistoryShow{Metadata: rec.Metadata}
	if opts.Source {
		out.Source = rec.Source
	}
	if opts.Diff {
		champ, err := a.store.LoadChampion()
		if err != nil {
			return WrapExitError(ExitFailure, "failed to load champion", err)
		}
		d, err := regiondiff.Unified(
			fmt.Sprintf("champion_%03d/strategy.sol", seq), "current/strategy.sol",
			rec.Source, champ.Source, opts.Context,
		)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to render diff", err)
		}
		out.Diff = string(d)
	}
	return opts.formatter(cmd).Success(out)
}

func newHistoryRevertCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "revert <sequence>",
		Short: "Install an archived champion as the current champion",
		Long: `Archive the current champion (so the revert can itself be undone) and
install the given archived champion with its recorded edge.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			seq, err := parseSequence(args[0])
			if err != nil {
				return err
			}
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			current, err := a.store.LoadChampion()
			if err != nil {
				return WrapExitError(ExitFailure, "failed to load champion", err)
			}
			rec, err := a.history.Revert(seq, current)
			if err != nil {
				return historyError(seq, err)
			}
			if err := a.store.SaveChampion(rec.Champion()); err != nil {
				return WrapExitError(ExitFailure, "failed to install champion", err)
			}
			return opts.formatter(cmd).Success(RevertReport{
				Sequence: rec.Sequence,
				Name:     rec.Name,
				Edge:     rec.Edge,
				Previous: current.Edge,
			})
		},
	}
}

func parseSequence(arg string) (int, error) {
	seq, err := strconv.Atoi(strings.TrimPrefix(arg, "#"))
	if err != nil || seq < 1 {
		return 0, NewExitError(ExitFailure, fmt.Sprintf("invalid sequence %q: want a positive number", arg))
	}
	return seq, nil
}

func historyError(seq int, err error) error {
	if errors.Is(err, history.ErrNotFound) {
		return WrapExitError(ExitFailure, fmt.Sprintf("champion #%d not in history", seq), err)
	}
	return WrapExitError(ExitFailure, "failed to read champion history", err)
}
