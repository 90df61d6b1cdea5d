package rollback

import (
	"fmt"
	"log/slog"

	"github.com/solosage1/amm-challenge-sub000/internal/store"
)

// Mode selects what Apply does after quarantining.
type Mode string

const (
	// ModeRestore quarantines then restores the pre-loop snapshot.
	ModeRestore Mode = "restore"
	// ModeArchiveOnly quarantines and leaves the champion untouched.
	ModeArchiveOnly Mode = "archive_only"
)

// ParseMode parses a mode name; empty means ModeRestore.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeRestore:
		return ModeRestore, nil
	case ModeArchiveOnly:
		return ModeArchiveOnly, nil
	default:
		return "", fmt.Errorf("unknown rollback mode %q (want restore or archive_only)", s)
	}
}

// Governor checks the loop state and performs rollbacks.
type Governor struct {
	port       store.Port
	thresholds Thresholds
	mode       Mode
	logger     *slog.Logger
}

// Option configures a Governor.
type Option func(*Governor)

// WithMode sets the rollback mode.
func WithMode(m Mode) Option {
	return func(g *Governor) { g.mode = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Governor) { g.logger = l }
}

// NewGovernor creates a governor over port.
func NewGovernor(port store.Port, th Thresholds, opts ...Option) *Governor {
	g := &Governor{
		port:       port,
		thresholds: th,
		mode:       ModeRestore,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Mode returns the configured mode.
func (g *Governor) Mode() Mode {
	return g.mode
}

// Check evaluates the state against the thresholds. Baseline is the edge
// recorded when the statistics were initialized.
func (g *Governor) Check(st *store.LoopState) Decision {
	baseline := st.Champion.Edge
	if st.Stats != nil {
		baseline = st.Stats.BaselineEdge
	}
	return Evaluate(st.Log, g.thresholds, st.Champion.Edge, baseline)
}

// Snapshot captures the pre-loop state. An existing snapshot is kept
// unless replace is set.
func (g *Governor) Snapshot(replace bool) (bool, error) {
	created, err := g.port.Snapshot(replace)
	if err != nil {
		return false, fmt.Errorf("snapshot: %w", err)
	}
	if created {
		g.logger.Info("pre-loop snapshot captured")
	}
	return created, nil
}

// Outcome describes a performed rollback.
type Outcome struct {
	Reason   string `json:"reason"`
	Archive  string `json:"archive"`
	Restored bool   `json:"restored"`
	Mode     Mode   `json:"mode"`
}

// Apply quarantines the current tracking state and, in restore mode,
// restores the snapshot. Restore mode without a snapshot fails before
// anything is moved.
func (g *Governor) Apply(reason string) (*Outcome, error) {
	if reason == "" {
		reason = ReasonManual
	}
	if g.mode == ModeRestore && !g.port.HasSnapshot() {
		return nil, fmt.Errorf("rollback %s: %w", reason, store.ErrNoSnapshot)
	}

	archive, err := g.port.Quarantine(reason)
	if err != nil {
		return nil, fmt.Errorf("rollback %s: quarantine: %w", reason, err)
	}
	out := &Outcome{Reason: reason, Archive: archive, Mode: g.mode}

	if g.mode == ModeRestore {
		if err := g.port.RestoreSnapshot(); err != nil {
			return out, fmt.Errorf("rollback %s: restore: %w", reason, err)
		}
		out.Restored = true
	}

	g.logger.Warn("rollback performed",
		slog.String("reason", reason),
		slog.String("archive", archive),
		slog.Bool("restored", out.Restored),
	)
	return out, nil
}
