package harness

import (
	"github.com/roach88/pulse/internal/ledger"
)

// StepTrace records what one step did.
type StepTrace struct {
	Step      int             `json:"step"`
	Op        string          `json:"op"`
	As        string          `json:"as,omitempty"`
	Error     string          `json:"error,omitempty"`
	Events    []EventTrace    `json:"events,omitempty"`
	Transfers []TransferTrace `json:"transfers,omitempty"`
}

// EventTrace is the deterministic part of an emitted event.
type EventTrace struct {
	Seq  int64            `json:"seq"`
	Type ledger.EventType `json:"type"`
}

// TransferTrace is the deterministic part of a released transfer.
type TransferTrace struct {
	Seq       int64               `json:"seq"`
	Recipient ledger.Participant  `json:"recipient"`
	Amount    ledger.Amount       `json:"amount"`
	Kind      ledger.TransferKind `json:"kind"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every step behaved as expected and every assertion
	// held.
	Pass bool `json:"pass"`

	Trace  []StepTrace `json:"trace"`
	Errors []string    `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []StepTrace{},
		Errors: []string{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
