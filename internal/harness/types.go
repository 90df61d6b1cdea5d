package harness

// TraceEvent is one iteration as seen by the harness.
type TraceEvent struct {
	Step      int      `json:"step"`
	Iteration int      `json:"iteration"`
	Mechanism string   `json:"mechanism"` // "wildcard" for wildcard iterations
	Status    string   `json:"status"`
	Reason    string   `json:"reason,omitempty"`
	ErrorCode string   `json:"error_code,omitempty"`
	Attempts  int      `json:"attempts"`
	Edge      *float64 `json:"edge,omitempty"`
	Delta     *float64 `json:"delta,omitempty"`
	Promoted  bool     `json:"promoted"`
	// ChampionEdge is read back after the iteration, so it reflects
	// promotions and restores.
	ChampionEdge float64 `json:"champion_edge"`
	Archived     int     `json:"archived,omitempty"`
	Rollback     string  `json:"rollback,omitempty"`
	Evolution    string  `json:"evolution,omitempty"`
}

// FinalState is the store state after the last step.
type FinalState struct {
	ChampionEdge float64  `json:"champion_edge"`
	LogSize      int      `json:"log_size"`
	HistorySize  int      `json:"history_size"`
	Mechanisms   []string `json:"mechanisms"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every expect clause and assertion matched.
	Pass bool `json:"pass"`

	// Trace contains one event per step, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	State FinalState `json:"state"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends an iteration to the trace.
func (r *Result) AddTrace(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}
