package ir

import (
	"regexp"
	"sort"
	"time"
)

// Status is the terminal outcome of one iteration attempt.
type Status string

const (
	StatusComplete      Status = "complete"
	StatusInvalid       Status = "invalid"
	StatusLLMFailed     Status = "llm_failed"
	StatusCompileFailed Status = "compile_failed"
)

// Failed reports whether the status is one of the failure outcomes.
func (s Status) Failed() bool {
	return s == StatusInvalid || s == StatusLLMFailed || s == StatusCompileFailed
}

// Artifacts are the per-iteration files written next to the log, as paths
// relative to the state root. Base is the champion the candidate was
// generated from; shadow replay validates Candidate against it.
type Artifacts struct {
	Prompt    string `json:"prompt,omitempty"`
	Response  string `json:"response,omitempty"`
	Base      string `json:"base,omitempty"`
	Candidate string `json:"candidate,omitempty"`
	Diff      string `json:"diff,omitempty"`
}

// LogEntry is one line of the append-only iteration log.
//
// The log is ground truth: selector statistics and rollback decisions are
// recomputed from it and never trusted over it.
type LogEntry struct {
	Iteration          int       `json:"iteration"`
	Timestamp          time.Time `json:"timestamp"`
	RunID              string    `json:"run_id,omitempty"`
	Status             Status    `json:"status"`
	Mechanism          string    `json:"mechanism,omitempty"`
	Wildcard           bool      `json:"wildcard,omitempty"`
	Valid              bool      `json:"valid"`
	Reason             string    `json:"reason,omitempty"`
	Detail             string    `json:"detail,omitempty"`
	Warnings           []string  `json:"warnings,omitempty"`
	Attempts           int       `json:"attempts"`
	Delta              *float64  `json:"delta,omitempty"`
	Edge               *float64  `json:"edge,omitempty"`
	ChampionEdgeBefore float64   `json:"champion_edge_before"`
	Promoted           bool      `json:"promoted"`
	ErrorCode          string    `json:"error_code,omitempty"`
	Artifacts          Artifacts `json:"artifacts,omitempty"`
}

// DeltaValue returns the recorded delta or 0 when none was measured.
func (e LogEntry) DeltaValue() float64 {
	if e.Delta == nil {
		return 0
	}
	return *e.Delta
}

// Float returns a pointer to f, for the optional numeric log fields.
func Float(f float64) *float64 {
	return &f
}

// MechanismStats is the per-mechanism bandit state.
type MechanismStats struct {
	Tries            int        `json:"tries"`
	Successes        int        `json:"successes"`
	TotalUplift      float64    `json:"total_uplift"`
	InvalidCount     int        `json:"invalid_count"`
	CompileFailCount int        `json:"compile_fail_count"`
	LastTried        *time.Time `json:"last_tried,omitempty"`
	BestDelta        *float64   `json:"best_delta,omitempty"`
}

// StatsFile is the wholesale-rewritten mechanism statistics document.
type StatsFile struct {
	Mechanisms    map[string]*MechanismStats `json:"mechanisms"`
	BaselineEdge  float64                    `json:"baseline_edge"`
	InitializedAt time.Time                  `json:"initialized_at"`
	Iterations    int                        `json:"iterations"`
}

// NewStatsFile creates empty statistics for the given mechanisms.
func NewStatsFile(names []string, baselineEdge float64, now time.Time) *StatsFile {
	sf := &StatsFile{
		Mechanisms:    make(map[string]*MechanismStats, len(names)),
		BaselineEdge:  baselineEdge,
		InitializedAt: now,
	}
	sf.Sync(names)
	return sf
}

// Sync adds missing mechanisms and drops ones no longer defined.
// Returns true if anything changed.
func (sf *StatsFile) Sync(names []string) bool {
	if sf.Mechanisms == nil {
		sf.Mechanisms = make(map[string]*MechanismStats)
	}
	changed := false
	keep := make(map[string]bool, len(names))
	for _, n := range names {
		keep[n] = true
		if _, ok := sf.Mechanisms[n]; !ok {
			sf.Mechanisms[n] = &MechanismStats{}
			changed = true
		}
	}
	for n := range sf.Mechanisms {
		if !keep[n] {
			delete(sf.Mechanisms, n)
			changed = true
		}
	}
	return changed
}

// TotalTries sums tries across all mechanisms.
func (sf *StatsFile) TotalTries() int {
	total := 0
	for _, st := range sf.Mechanisms {
		total += st.Tries
	}
	return total
}

// Names returns mechanism names in sorted order.
func (sf *StatsFile) Names() []string {
	names := make([]string, 0, len(sf.Mechanisms))
	for n := range sf.Mechanisms {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Champion is the current best program and its score.
type Champion struct {
	Source string  `json:"source"`
	Edge   float64 `json:"edge"`
	Name   string  `json:"name"`
}

var championNamePattern = regexp.MustCompile(`(?m)^\s*(?:(?:abstract\s+)?contract|function)\s+([A-Za-z_][A-Za-z0-9_]*)`)

// ChampionName derives a display name from program source: the first
// contract or function identifier declared at the start of a line.
func ChampionName(source string) string {
	if m := championNamePattern.FindStringSubmatch(source); m != nil {
		return m[1]
	}
	return "champion"
}

// NewChampion builds a champion record with its derived name.
func NewChampion(source string, edge float64) Champion {
	return Champion{Source: source, Edge: edge, Name: ChampionName(source)}
}
