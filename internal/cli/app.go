package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/solosage1/amm-challenge-sub000/internal/collab"
	"github.com/solosage1/amm-challenge-sub000/internal/config"
	"github.com/solosage1/amm-challenge-sub000/internal/engine"
	"github.com/solosage1/amm-challenge-sub000/internal/evolution"
	"github.com/solosage1/amm-challenge-sub000/internal/history"
	"github.com/solosage1/amm-challenge-sub000/internal/ledger"
	"github.com/solosage1/amm-challenge-sub000/internal/metrics"
	"github.com/solosage1/amm-challenge-sub000/internal/rollback"
	"github.com/solosage1/amm-challenge-sub000/internal/store"
)

// DefaultLedgerFile is used by the ledger commands when ledger_file is
// not configured.
const DefaultLedgerFile = "ledger.db"

// app is the wiring shared by every command that touches loop state.
type app struct {
	cfg      config.Config
	store    *store.FileStore
	history  *history.Store
	governor *rollback.Governor
	logger   *slog.Logger
}

// loadConfig reads the config file and environment, then applies flags.
func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		return cfg, WrapExitError(ExitFailure, "failed to load config", err)
	}
	if opts.StateDir != "" {
		cfg.StateDir = opts.StateDir
	}
	if err := cfg.Validate(); err != nil {
		return cfg, WrapExitError(ExitFailure, "invalid flags", err)
	}
	return cfg, nil
}

// openApp loads the configuration and builds the stores and governor.
// Nothing is read from the state directory yet.
func openApp(opts *RootOptions) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	logger := opts.logger()

	fsOpts := []store.FileOption{store.WithLogger(logger)}
	if cfg.DefinitionsFile != "" {
		fsOpts = append(fsOpts, store.WithDefinitionsPath(cfg.DefinitionsFile))
	}
	fs := store.NewFileStore(cfg.StateDir, fsOpts...)

	mode, err := cfg.RollbackMode()
	if err != nil {
		return nil, WrapExitError(ExitFailure, "invalid rollback mode", err)
	}

	return &app{
		cfg:      cfg,
		store:    fs,
		history:  history.New(cfg.HistoryDir(), cfg.History.MaxHistory, history.WithLogger(logger)),
		governor: rollback.NewGovernor(fs, cfg.Rollback.Thresholds, rollback.WithMode(mode), rollback.WithLogger(logger)),
		logger:   logger,
	}, nil
}

// state loads the loop state, mapping the startup failures to command
// errors.
func (a *app) state() (*store.LoopState, error) {
	st, _, err := store.Load(a.store, time.Now())
	if err != nil {
		if errors.Is(err, store.ErrNoChampion) {
			return nil, WrapExitError(ExitFailure, fmt.Sprintf("no champion in %s", a.store.Root()), err)
		}
		return nil, WrapExitError(ExitFailure, "failed to load loop state", err)
	}
	return st, nil
}

func (a *app) collabOptions(c config.Command) []collab.Option {
	opts := []collab.Option{
		collab.WithTimeout(c.Timeout),
		collab.WithLogger(a.logger),
	}
	if c.Dir != "" {
		opts = append(opts, collab.WithDir(a.cfg.Resolve(c.Dir)))
	}
	return opts
}

func (a *app) generator() (*collab.CommandGenerator, error) {
	if len(a.cfg.Generator.Argv) == 0 {
		return nil, NewExitError(ExitFailure, "generator.command is not configured")
	}
	return collab.NewCommandGenerator(a.cfg.Generator.Argv, a.collabOptions(a.cfg.Generator)...), nil
}

func (a *app) evaluator() (*collab.CommandEvaluator, error) {
	if len(a.cfg.Evaluator.Argv) == 0 {
		return nil, NewExitError(ExitFailure, "evaluator.command is not configured")
	}
	return collab.NewCommandEvaluator(a.cfg.Evaluator.Argv, a.collabOptions(a.cfg.Evaluator)...), nil
}

func (a *app) evolution(gen collab.Generator) (*evolution.Engine, error) {
	e, err := evolution.New(a.store, gen,
		evolution.WithSettings(a.cfg.EvolutionSettings()),
		evolution.WithLogger(a.logger),
	)
	if err != nil {
		return nil, WrapExitError(ExitFailure, "failed to create evolution engine", err)
	}
	return e, nil
}

// ledgerPath returns the configured ledger path, or the default under
// the state directory when fallback is set.
func (a *app) ledgerPath(fallback bool) string {
	if a.cfg.LedgerFile != "" {
		return a.cfg.Resolve(a.cfg.LedgerFile)
	}
	if fallback {
		return filepath.Join(a.cfg.StateDir, DefaultLedgerFile)
	}
	return ""
}

// runner wires the iteration runner with the collaborators, the optional
// ledger mirror, metrics textfile and policy evolution. The returned
// cleanup closes the ledger.
func (a *app) runner(settings engine.Settings) (*engine.Runner, func(), error) {
	gen, err := a.generator()
	if err != nil {
		return nil, nil, err
	}
	eval, err := a.evaluator()
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {}
	ropts := []engine.RunnerOption{
		engine.WithSettings(settings),
		engine.WithLogger(a.logger),
	}

	if path := a.ledgerPath(false); path != "" {
		l, err := ledger.Open(path)
		if err != nil {
			return nil, nil, WrapExitError(ExitFailure, "failed to open ledger", err)
		}
		cleanup = func() {
			if err := l.Close(); err != nil {
				a.logger.Error("error closing ledger", "error", err)
			}
		}
		ropts = append(ropts, engine.WithLedger(l))
	}
	if a.cfg.MetricsFile != "" {
		ropts = append(ropts, engine.WithObserver(metrics.New(a.cfg.Resolve(a.cfg.MetricsFile))))
	}
	if a.cfg.Evolution.Frequency > 0 {
		evo, err := a.evolution(gen)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		ropts = append(ropts, engine.WithEvolver(evo))
	}

	r, err := engine.NewRunner(a.store, gen, eval, a.history, a.governor, ropts...)
	if err != nil {
		cleanup()
		return nil, nil, WrapExitError(ExitFailure, "failed to create runner", err)
	}
	return r, cleanup, nil
}
