package fsm

// OutcomeKind says what the dispatcher does after a state returns.
type OutcomeKind int

const (
	// KindContinue ends the cycle in the current state.
	KindContinue OutcomeKind = iota
	// KindGoTo transfers control to another state within the same cycle.
	KindGoTo
	// KindPop removes the current state from the history stack and hands
	// the request to the state below it.
	KindPop
)

// Outcome is a state's verdict on the current dispatch cycle.
type Outcome struct {
	Kind OutcomeKind
	// Next names the target state for KindGoTo.
	Next string
	// ForceEntry runs the target's entry hook even when the target equals
	// the current state.
	ForceEntry bool
	// Commit persists the user record at the end of this invocation.
	Commit bool
}

// OK finishes the cycle and commits the user record.
func OK() Outcome { return Outcome{Kind: KindContinue, Commit: true} }

// Fault finishes the cycle without committing, leaving the stored record
// as it was before the faulty invocation.
func Fault() Outcome { return Outcome{Kind: KindContinue, Commit: false} }

// GoTo transfers control to the named state.
func GoTo(next string) Outcome {
	return Outcome{Kind: KindGoTo, Next: next, Commit: true}
}

// Reenter transfers control to the named state and runs its entry hook
// even when the user is already there.
func Reenter(next string) Outcome {
	return Outcome{Kind: KindGoTo, Next: next, ForceEntry: true, Commit: true}
}

// Back pops the current state and forwards the request to the previous
// one.
func Back() Outcome { return Outcome{Kind: KindPop, Commit: true} }
