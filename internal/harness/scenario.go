package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/solosage1/amm-challenge-sub000/internal/collab"
	"github.com/solosage1/amm-challenge-sub000/internal/engine"
	"github.com/solosage1/amm-challenge-sub000/internal/ir"
	"github.com/solosage1/amm-challenge-sub000/internal/regiondiff"
	"github.com/solosage1/amm-challenge-sub000/internal/rollback"
)

// Scenario is a scripted dry run of the governed loop.
// Each step is one iteration: the generator replies and the evaluator
// score are taken from the step, everything else is the real loop.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Champion is a path to the starting champion source, relative to the
	// scenario file. Empty uses the built-in three-mechanism strategy.
	Champion string `yaml:"champion,omitempty"`

	// ChampionEdge overrides the starting champion edge.
	ChampionEdge *float64 `yaml:"champion_edge,omitempty"`

	// Definitions is a path to a mechanism definitions file, relative to
	// the scenario file. Empty uses the built-in definitions.
	Definitions string `yaml:"definitions,omitempty"`

	// Mechanisms restricts the definitions to the named mechanisms.
	// Selection among untried mechanisms is random, so scenarios compared
	// against golden traces usually pin a single mechanism.
	Mechanisms []string `yaml:"mechanisms,omitempty"`

	// Seed seeds the mechanism selector.
	Seed uint64 `yaml:"seed,omitempty"`

	Loop      LoopSpec      `yaml:"loop,omitempty"`
	Rollback  RollbackSpec  `yaml:"rollback,omitempty"`
	Evolution EvolutionSpec `yaml:"evolution,omitempty"`

	// Mutations maps a mechanism name (or "wildcard") to the edits a
	// `mutate` reply applies to the champion current at that step.
	Mutations map[string][]Edit `yaml:"mutations,omitempty"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions"`

	dir string
}

// LoopSpec overrides loop tunables. Omitted keys keep the defaults.
type LoopSpec struct {
	ExplorationC         float64 `yaml:"exploration_c"`
	MaxRetriesOnInvalid  int     `yaml:"max_retries_on_invalid"`
	ImprovementThreshold float64 `yaml:"improvement_threshold"`
	WildcardEvery        int     `yaml:"wildcard_every"`
	ValidationMode       string  `yaml:"validation_mode"`
	AutoRollback         bool    `yaml:"auto_rollback"`
}

// RollbackSpec overrides the governor. Omitted keys keep the defaults.
type RollbackSpec struct {
	Mode                string `yaml:"mode"`
	rollback.Thresholds `yaml:",inline"`
}

// EvolutionSpec enables policy evolution. Frequency 0 disables it.
type EvolutionSpec struct {
	Frequency int     `yaml:"frequency"`
	Replies   []Reply `yaml:"replies,omitempty"`
}

// Edit replaces the first occurrence of Old with New.
type Edit struct {
	Old string `yaml:"old"`
	New string `yaml:"new"`
}

// Step scripts one iteration.
type Step struct {
	// Replies answer the generation attempts in order, retries included.
	Replies []Reply `yaml:"replies"`

	// Score answers the evaluation. Omit it when no candidate reaches
	// evaluation.
	Score *Score `yaml:"score,omitempty"`

	// Expect checks the iteration outcome. If nil, nothing is checked.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Reply is one scripted generator response. Exactly one field is set.
type Reply struct {
	// Mutate applies the scenario mutation for the requested mechanism.
	Mutate bool `yaml:"mutate,omitempty"`
	// Edits are applied to the current champion.
	Edits []Edit `yaml:"edits,omitempty"`
	// Unchanged returns the current champion as is.
	Unchanged bool `yaml:"unchanged,omitempty"`
	// Raw is returned verbatim.
	Raw string `yaml:"raw,omitempty"`
	// Fail fails the call with a collaborator error code.
	Fail string `yaml:"fail,omitempty"`
}

// Score is one scripted evaluator result. Exactly one field is set.
type Score struct {
	Edge *float64 `yaml:"edge,omitempty"`
	Fail string   `yaml:"fail,omitempty"`
}

// Expect is a subset match against the iteration outcome.
type Expect struct {
	Status    string `yaml:"status"`
	Mechanism string `yaml:"mechanism,omitempty"`
	Reason    string `yaml:"reason,omitempty"`
	Attempts  int    `yaml:"attempts,omitempty"`
	Promoted  *bool  `yaml:"promoted,omitempty"`
	Rollback  string `yaml:"rollback,omitempty"`
	Evolution string `yaml:"evolution,omitempty"`
}

// Assertion validates the final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "champion_edge": the final champion edge equals Value
	// - "log_size": the final log holds Count entries
	// - "status_count": Count entries across all steps have Status
	// - "history_size": the champion history holds Count entries
	// - "rollback_count": Count rollbacks were performed (of Reason, if set)
	// - "mechanisms": the final definitions name exactly Mechanisms
	Type string `yaml:"type"`

	Value      *float64 `yaml:"value,omitempty"`
	Count      int      `yaml:"count,omitempty"`
	Status     string   `yaml:"status,omitempty"`
	Reason     string   `yaml:"reason,omitempty"`
	Mechanisms []string `yaml:"mechanisms,omitempty"`
}

// Assertion type constants.
const (
	AssertChampionEdge  = "champion_edge"
	AssertLogSize       = "log_size"
	AssertStatusCount   = "status_count"
	AssertHistorySize   = "history_size"
	AssertRollbackCount = "rollback_count"
	AssertMechanisms    = "mechanisms"
)

// newScenario returns a scenario carrying the loop and governor defaults,
// so that decoding only overrides the keys a file sets.
func newScenario() Scenario {
	s := engine.DefaultSettings()
	return Scenario{
		Seed: 1,
		Loop: LoopSpec{
			ExplorationC:         s.ExplorationC,
			MaxRetriesOnInvalid:  s.MaxRetriesOnInvalid,
			ImprovementThreshold: s.ImprovementThreshold,
			WildcardEvery:        s.WildcardEvery,
			ValidationMode:       string(s.ValidationMode),
			AutoRollback:         s.AutoRollback,
		},
		Rollback: RollbackSpec{
			Mode:       string(rollback.ModeRestore),
			Thresholds: rollback.DefaultThresholds(),
		},
	}
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	s, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}
	s.dir = filepath.Dir(path)
	if err := s.checkFiles(); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return s, nil
}

// ParseScenario parses scenario YAML. Relative file references resolve
// against the working directory.
func ParseScenario(data []byte) (*Scenario, error) {
	scenario := newScenario()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// path resolves a file reference against the scenario directory.
func (s *Scenario) path(p string) string {
	if p == "" || filepath.IsAbs(p) || s.dir == "" {
		return p
	}
	return filepath.Join(s.dir, p)
}

func (s *Scenario) checkFiles() error {
	for _, p := range []string{s.Champion, s.Definitions} {
		if p == "" {
			continue
		}
		if _, err := os.Stat(s.path(p)); err != nil {
			return fmt.Errorf("file not found: %s", s.path(p))
		}
	}
	return nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if _, err := regiondiff.ParseMode(s.Loop.ValidationMode); err != nil {
		return fmt.Errorf("loop: %w", err)
	}
	if s.Loop.MaxRetriesOnInvalid < 0 {
		return fmt.Errorf("loop: max_retries_on_invalid must be non-negative")
	}
	if _, err := rollback.ParseMode(s.Rollback.Mode); err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	if s.Evolution.Frequency < 0 {
		return fmt.Errorf("evolution: frequency must be non-negative")
	}
	for i, r := range s.Evolution.Replies {
		if err := validateReply(r); err != nil {
			return fmt.Errorf("evolution.replies[%d]: %w", i, err)
		}
		if r.Mutate || r.Unchanged || len(r.Edits) > 0 {
			return fmt.Errorf("evolution.replies[%d]: only raw and fail replies are allowed", i)
		}
	}

	for name, edits := range s.Mutations {
		if len(edits) == 0 {
			return fmt.Errorf("mutations[%s]: at least one edit is required", name)
		}
		for j, e := range edits {
			if e.Old == "" {
				return fmt.Errorf("mutations[%s][%d]: old is required", name, j)
			}
		}
	}

	for i, step := range s.Steps {
		if len(step.Replies) == 0 {
			return fmt.Errorf("steps[%d]: replies list is required and must be non-empty", i)
		}
		for j, r := range step.Replies {
			if err := validateReply(r); err != nil {
				return fmt.Errorf("steps[%d].replies[%d]: %w", i, j, err)
			}
		}
		if sc := step.Score; sc != nil {
			if (sc.Edge == nil) == (sc.Fail == "") {
				return fmt.Errorf("steps[%d].score: exactly one of edge or fail is required", i)
			}
			if sc.Fail != "" && !knownCode(sc.Fail) {
				return fmt.Errorf("steps[%d].score: unknown failure code %q", i, sc.Fail)
			}
		}
		if ex := step.Expect; ex != nil {
			if ex.Status == "" {
				return fmt.Errorf("steps[%d].expect: status is required", i)
			}
			if !knownStatus(ex.Status) {
				return fmt.Errorf("steps[%d].expect: unknown status %q", i, ex.Status)
			}
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateReply(r Reply) error {
	set := 0
	for _, b := range []bool{r.Mutate, len(r.Edits) > 0, r.Unchanged, r.Raw != "", r.Fail != ""} {
		if b {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("exactly one of mutate, edits, unchanged, raw or fail is required")
	}
	if r.Fail != "" && !knownCode(r.Fail) {
		return fmt.Errorf("unknown failure code %q", r.Fail)
	}
	for i, e := range r.Edits {
		if e.Old == "" {
			return fmt.Errorf("edits[%d]: old is required", i)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertChampionEdge:
		if a.Value == nil {
			return fmt.Errorf("assertions[%d]: value is required for champion_edge", index)
		}
	case AssertLogSize, AssertHistorySize, AssertRollbackCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
	case AssertStatusCount:
		if !knownStatus(a.Status) {
			return fmt.Errorf("assertions[%d]: status is required for status_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for status_count", index)
		}
	case AssertMechanisms:
		if len(a.Mechanisms) == 0 {
			return fmt.Errorf("assertions[%d]: mechanisms list is required for mechanisms", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

func knownStatus(s string) bool {
	switch ir.Status(s) {
	case ir.StatusComplete, ir.StatusInvalid, ir.StatusLLMFailed, ir.StatusCompileFailed:
		return true
	}
	return false
}

func knownCode(c string) bool {
	switch collab.Code(c) {
	case collab.CodeSpawn, collab.CodeTimeout, collab.CodeExit, collab.CodeEmpty, collab.CodeUnparseable:
		return true
	}
	return false
}
