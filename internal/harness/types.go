package harness

import (
	"fmt"

	"github.com/roach88/recsync/internal/ir"
	"github.com/roach88/recsync/internal/register"
)

// Outcomes of one operation in the trace.
const (
	OutcomeApplied   = "applied"
	OutcomeDominated = "dominated"
	OutcomeRejected  = "rejected"
)

// Result contains the outcome of a scenario run.
type Result struct {
	Pass bool

	// Trace holds one event per operation of the declared-order run.
	Trace []TraceEvent

	// Records is the converged state, ordered by key.
	Records []RecordState

	// Orders counts the delivery orders checked for convergence, the
	// declared order included.
	Orders int

	Errors []string
}

// TraceEvent records what applying one operation did.
type TraceEvent struct {
	Index   int
	Op      string
	Outcome string
	Changed []string
	Error   string
}

// RecordState is one converged record.
type RecordState struct {
	Key     register.Key
	Visible bool
	Fields  ir.IRObject
}

// AddError marks the result failed.
func (r *Result) AddError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	r.Pass = false
}

// Find returns the converged state of a record.
func (r *Result) Find(k register.Key) (RecordState, bool) {
	for _, rec := range r.Records {
		if rec.Key == k {
			return rec, true
		}
	}
	return RecordState{}, false
}

func recordStates(regs *register.Store) []RecordState {
	out := make([]RecordState, 0, regs.Len())
	regs.Range(func(k register.Key, state register.State) bool {
		out = append(out, RecordState{Key: k, Visible: state.Visible(), Fields: state.Values()})
		return true
	})
	return out
}
