package stage

// Outcome is the terminal state of one item within one stage.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// Result records what happened to a single record or file in a stage.
type Result struct {
	IdentityKey string
	Slug        string
	Path        string
	Outcome     Outcome
	Reason      string
	Err         error
}

// Kind classifies the result error; empty for successes and skips.
func (r Result) Kind() Kind {
	return KindOf(r.Err)
}

// Report collects the per-item results of one stage invocation.
type Report struct {
	Stage   string
	Results []Result
}

// Add appends a result to the report.
func (r *Report) Add(res Result) {
	r.Results = append(r.Results, res)
}

// Count returns the number of results with the given outcome.
func (r Report) Count(outcome Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == outcome {
			n++
		}
	}
	return n
}

// Succeeded returns the successful results in report order.
func (r Report) Succeeded() []Result {
	return r.filter(OutcomeSucceeded)
}

// Failed returns the failed results in report order.
func (r Report) Failed() []Result {
	return r.filter(OutcomeFailed)
}

// FailuresByKind tallies failed results by error kind.
func (r Report) FailuresByKind() map[Kind]int {
	out := make(map[Kind]int)
	for _, res := range r.Results {
		if res.Outcome == OutcomeFailed {
			out[res.Kind()]++
		}
	}
	return out
}

func (r Report) filter(outcome Outcome) []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Outcome == outcome {
			out = append(out, res)
		}
	}
	return out
}
