package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/solosage1/amm-challenge-sub000/internal/ledger"
)

// LedgerOptions holds flags for the ledger commands.
type LedgerOptions struct {
	*RootOptions
	Database string
}

// ReindexReport is the printed result of ledger reindex.
type ReindexReport struct {
	Database string `json:"database"`
	Entries  int    `json:"entries"`
}

func (r ReindexReport) String() string {
	return fmt.Sprintf("indexed %d log entries into %s\n", r.Entries, r.Database)
}

// LedgerReport is the printed per-mechanism aggregate.
type LedgerReport struct {
	Database   string                   `json:"database"`
	Mechanisms []ledger.MechanismReport `json:"mechanisms"`
}

func (r LedgerReport) String() string {
	if len(r.Mechanisms) == 0 {
		return fmt.Sprintf("%s is empty (run ledger reindex)\n", r.Database)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-24s %8s %8s %8s %8s %8s %8s %10s %10s\n",
		"MECHANISM", "ATTEMPTS", "COMPLETE", "INVALID", "LLM", "COMPILE", "PROMOTED", "MEAN", "BEST")
	for _, m := range r.Mechanisms {
		fmt.Fprintf(&b, "%-24s %8d %8d %8d %8d %8d %8d %10s %10s\n",
			m.Mechanism, m.Attempts, m.Complete, m.Invalid, m.LLMFailed, m.CompileFailed, m.Promoted,
			optFloat(m.MeanDelta), optFloat(m.BestDelta))
	}
	return b.String()
}

// NewLedgerCommand creates the ledger command group.
func NewLedgerCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LedgerOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Query the SQLite index of the iteration log",
		Long: `The ledger mirrors the iteration log into SQLite for reporting. The log
stays authoritative; reindex rebuilds the ledger from it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "ledger database (default ledger_file or <state-dir>/"+DefaultLedgerFile+")")

	cmd.AddCommand(&cobra.Command{
		Use:           "reindex",
		Short:         "Rebuild the ledger from the iteration log",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLedgerReindex(opts, cmd)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:           "report",
		Short:         "Aggregate indexed outcomes per mechanism",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLedgerReport(opts, cmd)
		},
	})

	return cmd
}

func openLedger(opts *LedgerOptions) (*app, *ledger.Store, string, error) {
	a, err := openApp(opts.RootOptions)
	if err != nil {
		return nil, nil, "", err
	}
	path := opts.Database
	if path == "" {
		path = a.ledgerPath(true)
	}
	st, err := ledger.Open(path)
	if err != nil {
		return nil, nil, "", WrapExitError(ExitFailure, "failed to open ledger", err)
	}
	return a, st, path, nil
}

func runLedgerReindex(opts *LedgerOptions, cmd *cobra.Command) error {
	a, st, path, err := openLedger(opts)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			a.logger.Error("error closing ledger", "error", closeErr)
		}
	}()

	log, err := a.store.ReadLog()
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read iteration log", err)
	}
	n, err := st.Reindex(cmd.Context(), log)
	if err != nil {
		return WrapExitError(ExitFailure, "reindex failed", err)
	}
	return opts.formatter(cmd).Success(ReindexReport{Database: path, Entries: n})
}

func runLedgerReport(opts *LedgerOptions, cmd *cobra.Command) error {
	a, st, path, err := openLedger(opts)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			a.logger.Error("error closing ledger", "error", closeErr)
		}
	}()

	rows, err := st.Report(cmd.Context())
	if err != nil {
		return WrapExitError(ExitFailure, "report failed", err)
	}
	return opts.formatter(cmd).Success(LedgerReport{Database: path, Mechanisms: rows})
}
