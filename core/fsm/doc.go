// Package fsm implements a small table-driven finite-state machine.
//
// A Definition is assembled once with a Builder and validated at build time:
// ambiguous transitions, choice states without a default branch and similar
// mistakes are reported by Build, never while events are processed. At
// runtime a Definition is shared by many Instances, each owning its current
// state and an extended state value of type C.
//
// Apply drains a per-call FIFO of events. Actions may return follow-up
// events which are appended to that queue; the number of such synthetic
// events per Apply is capped by MaxChain.
package fsm
