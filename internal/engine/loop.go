package engine

import (
	"context"
	"log/slog"
	"time"
)

// Loop stop reasons.
const (
	StopCompleted = "completed"
	StopRollback  = "rollback"
	StopError     = "stop_on_error"
	StopCancelled = "cancelled"
)

// LoopSummary is the outcome of RunLoop.
type LoopSummary struct {
	Results    []*Result
	StopReason string
	Promoted   int
	Failed     int
}

// Last returns the last iteration result, or nil.
func (s *LoopSummary) Last() *Result {
	if len(s.Results) == 0 {
		return nil
	}
	return s.Results[len(s.Results)-1]
}

// RunLoop runs up to n iterations (n <= 0 runs until ctx is cancelled),
// waiting delay between them. The pre-loop snapshot is re-captured first,
// so a rollback restores the state this loop started from. It stops early after a performed rollback,
// and after a failed iteration when stop_on_error is set; in the latter
// case the returned error is that iteration's *IterationError.
func (r *Runner) RunLoop(ctx context.Context, n int, delay time.Duration) (*LoopSummary, error) {
	summary := &LoopSummary{StopReason: StopCompleted}
	if _, err := r.governor.Snapshot(true); err != nil {
		return summary, err
	}

	for i := 0; n <= 0 || i < n; i++ {
		if i > 0 && delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				summary.StopReason = StopCancelled
				return summary, nil
			case <-timer.C:
			}
		}
		if ctx.Err() != nil {
			summary.StopReason = StopCancelled
			return summary, nil
		}

		res, err := r.RunOnce(ctx)
		if res != nil {
			summary.Results = append(summary.Results, res)
			if res.Entry.Promoted {
				summary.Promoted++
			}
			if res.Entry.Status.Failed() {
				summary.Failed++
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				summary.StopReason = StopCancelled
				return summary, nil
			}
			return summary, err
		}

		if res.RolledBack() {
			summary.StopReason = StopRollback
			r.logger.Warn("loop stopped by rollback", slog.String("reason", res.Rollback.Reason))
			return summary, nil
		}
		if r.settings.StopOnError {
			if ierr := res.Err(); ierr != nil {
				summary.StopReason = StopError
				return summary, ierr
			}
		}
	}
	return summary, nil
}
