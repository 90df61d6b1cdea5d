package store

import (
	"fmt"
	"time"

	"github.com/solosage1/amm-challenge-sub000/internal/ir"
	"github.com/solosage1/amm-challenge-sub000/internal/policy"
)

// LoopState is the explicit handle the runner threads through one
// iteration. It is loaded fresh from the Port at the start of every
// iteration, so external edits and rollbacks are always observed.
type LoopState struct {
	Champion    ir.Champion
	Stats       *ir.StatsFile
	Definitions *policy.Document
	Log         []ir.LogEntry
	// LastArtifact is the highest iteration with stored artifacts. After a
	// restore it runs ahead of the log.
	LastArtifact int
}

// Load reads the complete loop state. Missing statistics are initialized
// from the definitions with the current champion edge as baseline; stats
// are re-synced when the definitions added or removed mechanisms. The
// returned bool reports whether stats were created or re-synced and need
// saving.
func Load(p Port, now time.Time) (*LoopState, bool, error) {
	champ, err := p.LoadChampion()
	if err != nil {
		return nil, false, err
	}
	doc, err := p.LoadDefinitions()
	if err != nil {
		return nil, false, fmt.Errorf("load definitions: %w", err)
	}
	log, err := p.ReadLog()
	if err != nil {
		return nil, false, fmt.Errorf("read iteration log: %w", err)
	}
	stats, err := p.LoadStats()
	if err != nil {
		return nil, false, fmt.Errorf("load stats: %w", err)
	}
	lastArtifact, err := p.LastArtifactIteration()
	if err != nil {
		return nil, false, err
	}

	dirty := false
	if stats == nil {
		stats = ir.NewStatsFile(doc.Names(), champ.Edge, now.UTC())
		dirty = true
	} else if stats.Sync(doc.Names()) {
		dirty = true
	}

	return &LoopState{
		Champion:     champ,
		Stats:        stats,
		Definitions:  doc,
		Log:          log,
		LastArtifact: lastArtifact,
	}, dirty, nil
}

// NextIteration returns the iteration number for the next attempt. Numbers
// never repeat across rollbacks: a quarantined log still points at the
// artifacts of the iterations it recorded.
func (s *LoopState) NextIteration() int {
	last := s.LastArtifact
	for _, e := range s.Log {
		if e.Iteration > last {
			last = e.Iteration
		}
	}
	return last + 1
}

// Completed counts log entries with status complete.
func (s *LoopState) Completed() int {
	n := 0
	for _, e := range s.Log {
		if e.Status == ir.StatusComplete {
			n++
		}
	}
	return n
}

// Recent returns up to n trailing log entries, optionally filtered to one
// mechanism.
func (s *LoopState) Recent(n int, mechanism string) []ir.LogEntry {
	var out []ir.LogEntry
	for i := len(s.Log) - 1; i >= 0 && len(out) < n; i-- {
		if mechanism != "" && s.Log[i].Mechanism != mechanism {
			continue
		}
		out = append(out, s.Log[i])
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func iterDir(iteration int) string {
	return fmt.Sprintf("iter_%04d", iteration)
}
