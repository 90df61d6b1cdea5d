package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/solosage1/amm-challenge-sub000/internal/ir"
	"github.com/solosage1/amm-challenge-sub000/internal/rollback"
	"github.com/solosage1/amm-challenge-sub000/internal/selector"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	Last int
}

// ChampionInfo summarizes the current champion.
type ChampionInfo struct {
	Name  string  `json:"name"`
	Edge  float64 `json:"edge"`
	Lines int     `json:"lines"`
	Hash  string  `json:"hash"`
}

// MechanismStatus combines a mechanism's statistics with its UCB score.
type MechanismStatus struct {
	selector.Score
	Successes   int      `json:"successes"`
	Invalid     int      `json:"invalid"`
	CompileFail int      `json:"compile_fail"`
	TotalUplift float64  `json:"total_uplift"`
	BestDelta   *float64 `json:"best_delta,omitempty"`
}

// StatusReport is the printed loop status.
type StatusReport struct {
	StateDir      string            `json:"state_dir"`
	Champion      ChampionInfo      `json:"champion"`
	BaselineEdge  float64           `json:"baseline_edge"`
	Iterations    int               `json:"iterations"`
	Completed     int               `json:"completed"`
	NextIteration int               `json:"next_iteration"`
	HistorySize   int               `json:"history_size"`
	Snapshot      bool              `json:"snapshot"`
	Mechanisms    []MechanismStatus `json:"mechanisms"`
	Recent        []ir.LogEntry     `json:"recent"`
	Governor      rollback.Decision `json:"governor"`
}

func (r StatusReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "State: %s\n", r.StateDir)
	fmt.Fprintf(&b, "Champion: %s edge %.4f (%d lines, %s)\n", r.Champion.Name, r.Champion.Edge, r.Champion.Lines, ir.ShortHash(r.Champion.Hash))
	fmt.Fprintf(&b, "Baseline edge: %.4f\n", r.BaselineEdge)
	fmt.Fprintf(&b, "Iterations: %d (%d complete), next %d\n", r.Iterations, r.Completed, r.NextIteration)
	fmt.Fprintf(&b, "History: %d archived champions, snapshot %t\n", r.HistorySize, r.Snapshot)

	b.WriteString("\nMechanisms:\n")
	for _, m := range r.Mechanisms {
		if m.Untried {
			fmt.Fprintf(&b, "  %-24s untried\n", m.Mechanism)
			continue
		}
		fmt.Fprintf(&b, "  %-24s tries %3d  ok %3d  invalid %3d  uplift %+.4f  ucb %.4f\n",
			m.Mechanism, m.Tries, m.Successes, m.Invalid, m.TotalUplift, m.Total)
	}

	if len(r.Recent) > 0 {
		b.WriteString("\nRecent iterations:\n")
		for _, e := range r.Recent {
			fmt.Fprintf(&b, "  %4d %-24s %-14s", e.Iteration, entryLabel(e), e.Status)
			if e.Delta != nil {
				fmt.Fprintf(&b, " %+.4f", *e.Delta)
			}
			if e.Promoted {
				b.WriteString(" promoted")
			}
			b.WriteByte('\n')
		}
	}

	b.WriteString("\nGovernor: ")
	b.WriteString(decisionText(r.Governor))
	return b.String()
}

func decisionText(d rollback.Decision) string {
	s := d.Signals
	if !d.Triggered {
		return fmt.Sprintf("ok (consecutive invalid %d, cumulative %+.4f over %d measured)\n",
			s.ConsecutiveInvalid, s.CumulativeDelta, s.MeasuredInWindow)
	}
	return fmt.Sprintf("ROLLBACK %s: %s (fired %s)\n", d.Reason, d.Detail, strings.Join(d.Fired, ", "))
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show champion, mechanism statistics and governor state",
		Long: `Show the current champion, per-mechanism statistics with their UCB1
scores, the most recent iterations and the rollback governor's verdict.

Statistics are recomputed from the iteration log; nothing is written.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Last, "last", 10, "recent iterations to show")

	return cmd
}

func runStatus(opts *StatusOptions, cmd *cobra.Command) error {
	a, err := openApp(opts.RootOptions)
	if err != nil {
		return err
	}
	st, err := a.state()
	if err != nil {
		return err
	}
	settings, err := a.cfg.LoopSettings()
	if err != nil {
		return WrapExitError(ExitFailure, "invalid loop settings", err)
	}

	order := st.Definitions.Names()
	stats := selector.Recompute(st.Stats, order, st.Log, settings.ImprovementThreshold)

	report := StatusReport{
		StateDir: a.store.Root(),
		Champion: ChampionInfo{
			Name:  st.Champion.Name,
			Edge:  st.Champion.Edge,
			Lines: strings.Count(st.Champion.Source, "\n") + 1,
			Hash:  ir.SourceHash(st.Champion.Source),
		},
		BaselineEdge:  stats.BaselineEdge,
		Iterations:    len(st.Log),
		Completed:     st.Completed(),
		NextIteration: st.NextIteration(),
		Snapshot:      a.store.HasSnapshot(),
		Recent:        tail(st.Log, opts.Last),
		Governor:      a.governor.Check(st),
	}

	for _, sc := range selector.Scores(stats, order, settings.ExplorationC) {
		ms := MechanismStatus{Score: sc}
		if m := stats.Mechanisms[sc.Mechanism]; m != nil {
			ms.Successes = m.Successes
			ms.Invalid = m.InvalidCount
			ms.CompileFail = m.CompileFailCount
			ms.TotalUplift = m.TotalUplift
			ms.BestDelta = m.BestDelta
		}
		report.Mechanisms = append(report.Mechanisms, ms)
	}

	if entries, err := a.history.List(); err == nil {
		report.HistorySize = len(entries)
	} else {
		a.logger.Warn("champion history unreadable", "error", err)
	}

	return opts.formatter(cmd).Success(report)
}

func tail(log []ir.LogEntry, n int) []ir.LogEntry {
	if n <= 0 {
		return []ir.LogEntry{}
	}
	if len(log) > n {
		log = log[len(log)-n:]
	}
	out := make([]ir.LogEntry, len(log))
	copy(out, log)
	return out
}
