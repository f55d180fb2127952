package harness

// TraceEvent records one executed step and what it observed.
type TraceEvent struct {
	// Step is the 1-based position of the step in the scenario.
	Step int `json:"step"`

	Op string `json:"op"`

	// Outcome holds the observed values for this op. Values are plain Go
	// types (string, int, bool, []any, map[string]any) so the trace
	// serializes canonically.
	Outcome map[string]any `json:"outcome"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every step expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace lists executed steps in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
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

// AddTrace appends an executed step.
func (r *Result) AddTrace(step int, op string, outcome map[string]any) {
	r.Trace = append(r.Trace, TraceEvent{Step: step, Op: op, Outcome: outcome})
}

func strs(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
