// Package flow compiles a nested flow definition into an immutable DAG that
// the orchestrator traverses. Compilation is pure: the same definition
// always produces the same DAG, and the DAG carries no execution state, so
// a single compiled flow can back many concurrent transactions.
package flow

// StepDefinition describes one node of a flow definition tree. Action
// identifiers must be unique within a definition.
type StepDefinition struct {
	Action string `json:"action"`

	// MaxRetries defaults to DefaultMaxRetries when nil. A value of 0 means
	// the step attempts once and fails permanently on the first error.
	MaxRetries *int `json:"maxRetries,omitempty"`

	ContinueOnPermanentFailure bool `json:"continueOnPermanentFailure,omitempty"`
	ForwardResponse            bool `json:"forwardResponse,omitempty"`
	NoWait                     bool `json:"noWait,omitempty"`
	Async                      bool `json:"async,omitempty"`

	// Next holds this step's children. A single entry is a linear
	// continuation; more than one entry means the children run in
	// parallel as siblings. An empty slice marks a leaf.
	Next []*StepDefinition `json:"next,omitempty"`
}

// Definition is the root of a flow: a synthetic entry whose Next lists the
// flow's actual first steps. There is no user-visible root action.
type Definition struct {
	Next []*StepDefinition `json:"next"`
}

// DefaultMaxRetries is used for any step that does not set MaxRetries.
const DefaultMaxRetries = 3

// Retries is a convenience constructor for StepDefinition.MaxRetries, since
// the zero value of int is a meaningful "no retries" setting and can't
// double as "unset".
func Retries(n int) *int {
	return &n
}
