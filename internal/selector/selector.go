// Package selector chooses the next mechanism to mutate.
//
// Selection is UCB1 over per-mechanism statistics with forced exploration:
// until every mechanism has been tried once, the choice is uniform over the
// untried set. Statistics are always rebuildable from the iteration log with
// Recompute; the stats file is a cache of that fold.
package selector

import (
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"github.com/solosage1/amm-challenge-sub000/internal/ir"
)

// DefaultExploration is the UCB1 exploration constant used when none is set.
const DefaultExploration = 1.4

// StallTries is the per-mechanism try count after which an all-failure
// history forces a wildcard iteration.
const StallTries = 3

// ErrNoMechanisms is returned when there is nothing to select from.
var ErrNoMechanisms = errors.New("selector: no mechanisms defined")

// Score is the UCB1 breakdown for one mechanism.
type Score struct {
	Mechanism string  `json:"mechanism"`
	Tries     int     `json:"tries"`
	Exploit   float64 `json:"exploit"`
	Explore   float64 `json:"explore"`
	Total     float64 `json:"total"`
	Untried   bool    `json:"untried,omitempty"`
}

// Scores returns the UCB1 breakdown for every mechanism in order.
// Untried mechanisms have Untried set and zero scores.
func Scores(stats *ir.StatsFile, order []string, c float64) []Score {
	total := 0
	for _, name := range order {
		total += tries(stats, name)
	}
	logN := math.Log(math.Max(2, float64(total)))

	out := make([]Score, 0, len(order))
	for _, name := range order {
		st := lookup(stats, name)
		if st == nil || st.Tries == 0 {
			out = append(out, Score{Mechanism: name, Untried: true})
			continue
		}
		n := float64(st.Tries)
		exploit := st.TotalUplift / n
		explore := c * math.Sqrt(logN/n)
		out = append(out, Score{
			Mechanism: name,
			Tries:     st.Tries,
			Exploit:   exploit,
			Explore:   explore,
			Total:     exploit + explore,
		})
	}
	return out
}

// Select returns the mechanism to try next.
//
// With no tries at all the pick is uniform over order. If any mechanism is
// untried the pick is uniform over the untried set, regardless of scores.
// Otherwise the highest UCB1 score wins and ties go to the earliest
// mechanism in order.
func Select(stats *ir.StatsFile, order []string, c float64, rng *rand.Rand) (string, error) {
	if len(order) == 0 {
		return "", ErrNoMechanisms
	}

	var untried []string
	for _, name := range order {
		if tries(stats, name) == 0 {
			untried = append(untried, name)
		}
	}
	if len(untried) > 0 {
		return untried[rng.IntN(len(untried))], nil
	}

	scores := Scores(stats, order, c)
	best := scores[0]
	for _, s := range scores[1:] {
		if s.Total > best.Total {
			best = s
		}
	}
	return best.Mechanism, nil
}

// ShouldWildcard reports whether iteration should bypass mechanism scoping:
// every `every` iterations when every > 0, or when each mechanism has at
// least StallTries tries and none has ever succeeded.
func ShouldWildcard(iteration, every int, stats *ir.StatsFile, order []string) bool {
	if every > 0 && iteration > 0 && iteration%every == 0 {
		return true
	}
	if len(order) == 0 {
		return false
	}
	for _, name := range order {
		st := lookup(stats, name)
		if st == nil || st.Tries < StallTries || st.Successes > 0 {
			return false
		}
	}
	return true
}

// Apply folds one log entry into stats.
//
// complete: tries+1, uplift += delta, success when delta > threshold,
// best delta kept. invalid and compile_failed: tries+1 and the matching
// failure counter. llm_failed and wildcard entries leave mechanism
// statistics untouched. Every entry advances the iteration count.
func Apply(stats *ir.StatsFile, e ir.LogEntry, threshold float64) {
	stats.Iterations++
	if e.Wildcard || e.Mechanism == "" || e.Status == ir.StatusLLMFailed {
		return
	}
	st := stats.Mechanisms[e.Mechanism]
	if st == nil {
		return
	}

	switch e.Status {
	case ir.StatusComplete:
		delta := e.DeltaValue()
		st.Tries++
		st.TotalUplift += delta
		if delta > threshold {
			st.Successes++
		}
		if st.BestDelta == nil || delta > *st.BestDelta {
			st.BestDelta = ir.Float(delta)
		}
	case ir.StatusInvalid:
		st.Tries++
		st.InvalidCount++
	case ir.StatusCompileFailed:
		st.Tries++
		st.CompileFailCount++
	default:
		return
	}
	ts := e.Timestamp
	st.LastTried = &ts
}

// Recompute rebuilds statistics from the log. Baseline edge and
// initialization time carry over from prev when it is non-nil.
func Recompute(prev *ir.StatsFile, order []string, log []ir.LogEntry, threshold float64) *ir.StatsFile {
	var baseline float64
	var initAt time.Time
	if prev != nil {
		baseline = prev.BaselineEdge
		initAt = prev.InitializedAt
	}
	out := ir.NewStatsFile(order, baseline, initAt)
	for _, e := range log {
		Apply(out, e, threshold)
	}
	return out
}

func lookup(stats *ir.StatsFile, name string) *ir.MechanismStats {
	if stats == nil {
		return nil
	}
	return stats.Mechanisms[name]
}

func tries(stats *ir.StatsFile, name string) int {
	if st := lookup(stats, name); st != nil {
		return st.Tries
	}
	return 0
}
