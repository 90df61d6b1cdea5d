package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/solosage1/amm-challenge-sub000/internal/ir"
)

// WildcardLabel is the report row for wildcard attempts.
const WildcardLabel = "wildcard"

// Filter narrows Entries. Zero values match everything.
type Filter struct {
	Mechanism string
	RunID     string
	Status    ir.Status
	// Limit keeps only the most recent entries.
	Limit int
}

// Entries returns indexed entries in insertion order.
//
// Returns an empty slice (not nil) when nothing matches.
func (s *Store) Entries(ctx context.Context, f Filter) ([]ir.LogEntry, error) {
	var where []string
	var args []any
	if f.Mechanism != "" {
		if f.Mechanism == WildcardLabel {
			where = append(where, "wildcard = 1")
		} else {
			where = append(where, "mechanism = ?")
			args = append(args, f.Mechanism)
		}
	}
	if f.RunID != "" {
		where = append(where, "run_id = ?")
		args = append(args, f.RunID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}

	query := `SELECT entry, seq FROM iterations`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	query = `SELECT entry FROM (` + query + `) ORDER BY seq ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query iterations: %w", err)
	}
	defer rows.Close()

	entries := []ir.LogEntry{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan iteration: %w", err)
		}
		var e ir.LogEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("unmarshal iteration: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate iterations: %w", err)
	}
	return entries, nil
}

// MechanismReport aggregates outcomes for one mechanism.
type MechanismReport struct {
	Mechanism     string   `json:"mechanism"`
	Attempts      int      `json:"attempts"`
	Complete      int      `json:"complete"`
	Invalid       int      `json:"invalid"`
	LLMFailed     int      `json:"llm_failed"`
	CompileFailed int      `json:"compile_failed"`
	Promoted      int      `json:"promoted"`
	TotalDelta    float64  `json:"total_delta"`
	MeanDelta     *float64 `json:"mean_delta,omitempty"`
	BestDelta     *float64 `json:"best_delta,omitempty"`
}

// Report aggregates every indexed entry per mechanism, with wildcard
// attempts under WildcardLabel. Rows are ordered by mechanism name.
func (s *Store) Report(ctx context.Context) ([]MechanismReport, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			CASE WHEN wildcard = 1 THEN ? ELSE mechanism END AS label,
			COUNT(*),
			SUM(status = 'complete'),
			SUM(status = 'invalid'),
			SUM(status = 'llm_failed'),
			SUM(status = 'compile_failed'),
			SUM(promoted),
			COALESCE(SUM(delta), 0),
			AVG(delta),
			MAX(delta)
		FROM iterations
		GROUP BY label
		ORDER BY label COLLATE BINARY ASC
	`, WildcardLabel)
	if err != nil {
		return nil, fmt.Errorf("query report: %w", err)
	}
	defer rows.Close()

	out := []MechanismReport{}
	for rows.Next() {
		var r MechanismReport
		var mean, best sql.NullFloat64
		if err := rows.Scan(&r.Mechanism, &r.Attempts, &r.Complete, &r.Invalid, &r.LLMFailed,
			&r.CompileFailed, &r.Promoted, &r.TotalDelta, &mean, &best); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		if mean.Valid {
			r.MeanDelta = ir.Float(mean.Float64)
		}
		if best.Valid {
			r.BestDelta = ir.Float(best.Float64)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate report: %w", err)
	}
	return out, nil
}
