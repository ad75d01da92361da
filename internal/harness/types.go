package harness

import (
	"github.com/roach88/grimoire/internal/doc"
)

// StepResult records one executed flow step.
type StepResult struct {
	Op string `json:"op"`
	// Error is the error class name, empty on success.
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
	// Result is the operation's report decoded from JSON.
	Result any `json:"result,omitempty"`
}

// Result is the outcome of a scenario.
type Result struct {
	// Pass is false once any expectation or assertion fails.
	Pass   bool         `json:"pass"`
	Steps  []StepResult `json:"steps"`
	Errors []string     `json:"errors,omitempty"`

	// State holds every non-system collection after the flow, documents
	// sorted by identity with it embedded under _id.
	State map[string][]doc.Object `json:"state"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Steps:  []StepResult{},
		Errors: []string{},
		State:  make(map[string][]doc.Object),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
