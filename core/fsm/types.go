package fsm

import "context"

// State identifies a node of the machine.
type State string

// Event identifies an input that may trigger a transition.
type Event string

// Guard decides whether a transition is eligible for the extended state.
// Guards must not mutate ext or perform I/O. A non-nil error means the guard
// could not be evaluated at all and aborts Apply with ErrGuard.
type Guard[C any] func(ext C) (bool, error)

// Action runs a side effect on entry to a state or on a transition. The
// returned events are queued and applied before Apply returns. A non-nil
// error is converted to the definition's error event.
type Action[C any] func(ctx context.Context, ext C) ([]Event, error)

// Outcome classifies what Apply did with one event.
type Outcome string

const (
	// OutcomeFired means a transition was taken.
	OutcomeFired Outcome = "fired"
	// OutcomeIgnored means no transition is declared for the state and event.
	OutcomeIgnored Outcome = "ignored"
	// OutcomeRejected means a transition exists but its guard returned false.
	OutcomeRejected Outcome = "rejected"
)

// Step describes the processing of a single event.
type Step struct {
	Event Event
	From  State
	// Via is the choice pseudo-state passed through, empty otherwise.
	Via       State
	To        State
	Outcome   Outcome
	Synthetic bool
	// ActionErr holds the recovered action failure, if any.
	ActionErr error
}

// Instance is one running machine. It is not safe for concurrent use; the
// owner must serialize calls to Apply for the same instance.
type Instance[C any] struct {
	state State
	ext   C
}

// State returns the current state.
func (i *Instance[C]) State() State {
	return i.state
}

// Extended returns the extended state value.
func (i *Instance[C]) Extended() C {
	return i.ext
}
