package fsm

import "errors"

var (
	// ErrInvalidDefinition wraps every problem reported by Builder.Build.
	ErrInvalidDefinition = errors.New("fsm: invalid definition")
	// ErrGuard is returned by Apply when a guard could not be evaluated.
	ErrGuard = errors.New("fsm: guard evaluation failed")
	// ErrChainLimit is returned by Apply when actions emitted more follow-up
	// events than the definition allows for a single call.
	ErrChainLimit = errors.New("fsm: synthetic event chain limit exceeded")
	// ErrUnknownState is returned by Apply when an instance is in a state the
	// definition does not declare.
	ErrUnknownState = errors.New("fsm: unknown state")
)
