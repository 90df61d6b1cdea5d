package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/solosage1/amm-challenge-sub000/internal/ir"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// WriteIteration indexes one log entry. Uses ON CONFLICT(id) DO NOTHING,
// so writing the same entry twice is a no-op.
func (s *Store) WriteIteration(ctx context.Context, e ir.LogEntry) error {
	if _, err := insertEntry(ctx, s.db, e); err != nil {
		return fmt.Errorf("write iteration %d: %w", e.Iteration, err)
	}
	return nil
}

// Reindex replaces the ledger contents with log and returns the number of
// rows stored. It runs in one transaction; a failure leaves the previous
// index intact.
func (s *Store) Reindex(ctx context.Context, log []ir.LogEntry) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("reindex: begin tx: %w", err)
	}
	defer tx.Rollback() // no-op after commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM iterations`); err != nil {
		return 0, fmt.Errorf("reindex: clear: %w", err)
	}
	stored := 0
	for _, e := range log {
		inserted, err := insertEntry(ctx, tx, e)
		if err != nil {
			return 0, fmt.Errorf("reindex: iteration %d: %w", e.Iteration, err)
		}
		if inserted {
			stored++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("reindex: commit: %w", err)
	}
	return stored, nil
}

func insertEntry(ctx context.Context, db execer, e ir.LogEntry) (bool, error) {
	id, err := ir.EntryHash(e)
	if err != nil {
		return false, err
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return false, fmt.Errorf("marshal entry: %w", err)
	}

	res, err := db.ExecContext(ctx, `
		INSERT INTO iterations
		(id, run_id, iteration, recorded_at, status, mechanism, wildcard, valid,
		 reason, error_code, attempts, delta, edge, champion_edge_before, promoted, entry)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		id,
		e.RunID,
		e.Iteration,
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		string(e.Status),
		e.Mechanism,
		e.Wildcard,
		e.Valid,
		e.Reason,
		e.ErrorCode,
		e.Attempts,
		nullFloat(e.Delta),
		nullFloat(e.Edge),
		e.ChampionEdgeBefore,
		e.Promoted,
		string(raw),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
