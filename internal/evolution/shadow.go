package evolution

import (
	"fmt"

	"github.com/solosage1/amm-challenge-sub000/internal/ir"
	"github.com/solosage1/amm-challenge-sub000/internal/policy"
	"github.com/solosage1/amm-challenge-sub000/internal/regiondiff"
)

// ArtifactReader reads iteration artifacts by their logged path.
type ArtifactReader interface {
	ReadArtifact(path string) ([]byte, error)
}

// ShadowReport summarizes a shadow replay.
type ShadowReport struct {
	Replayed  int   `json:"replayed"`
	Skipped   int   `json:"skipped"`
	Rescued   []int `json:"rescued,omitempty"`
	Regressed []int `json:"regressed,omitempty"`
	Score     int   `json:"score"`
}

// ShadowReplay re-validates every logged single-mechanism candidate under
// the current and the proposed definitions, in strict mode, against the
// champion it was generated from. Rescued entries flip invalid to valid;
// regressed entries flip valid to invalid. Entries whose artifacts are
// missing are skipped.
func ShadowReplay(r ArtifactReader, log []ir.LogEntry, current, proposed *policy.Document) ShadowReport {
	var rep ShadowReport
	for _, e := range log {
		if e.Wildcard || e.Mechanism == "" || e.Artifacts.Candidate == "" || e.Artifacts.Base == "" {
			continue
		}
		cand, err := r.ReadArtifact(e.Artifacts.Candidate)
		if err != nil {
			rep.Skipped++
			continue
		}
		base, err := r.ReadArtifact(e.Artifacts.Base)
		if err != nil {
			rep.Skipped++
			continue
		}
		if !current.Has(e.Mechanism) && !proposed.Has(e.Mechanism) {
			rep.Skipped++
			continue
		}

		before := regiondiff.Validate(string(base), string(cand), e.Mechanism, current, regiondiff.ModeStrict).Valid
		after := regiondiff.Validate(string(base), string(cand), e.Mechanism, proposed, regiondiff.ModeStrict).Valid
		rep.Replayed++
		switch {
		case !before && after:
			rep.Rescued = append(rep.Rescued, e.Iteration)
		case before && !after:
			rep.Regressed = append(rep.Regressed, e.Iteration)
		}
	}
	rep.Score = len(rep.Rescued) - len(rep.Regressed)
	return rep
}

// Accepts reports whether the replay permits adoption.
func (r ShadowReport) Accepts() bool {
	return len(r.Regressed) == 0
}

// String summarizes the report for logs.
func (r ShadowReport) String() string {
	return fmt.Sprintf("replayed=%d rescued=%d regressed=%d skipped=%d score=%d",
		r.Replayed, len(r.Rescued), len(r.Regressed), r.Skipped, r.Score)
}
