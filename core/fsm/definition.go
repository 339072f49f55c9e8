package fsm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Definition is a validated, immutable transition table. It is safe for
// concurrent use by any number of instances.
type Definition[C any] struct {
	initial     State
	terminal    State
	errorEvent  Event
	maxChain    int
	states      map[State]*stateDef[C]
	order       []State
	transitions []Transition[C]
	table       map[transitionKey]Transition[C]
}

// Result reports the outcome of one Apply call.
type Result struct {
	// State is the current state after the call.
	State State
	// Steps lists every processed event, the inbound one first.
	Steps []Step
}

// Initial returns the state new instances start in.
func (d *Definition[C]) Initial() State { return d.initial }

// Terminal returns the terminal state.
func (d *Definition[C]) Terminal() State { return d.terminal }

// MaxChain returns the synthetic event limit per Apply.
func (d *Definition[C]) MaxChain() int { return d.maxChain }

// IsTerminal reports whether s is the terminal state.
func (d *Definition[C]) IsTerminal(s State) bool { return s == d.terminal }

// IsChoice reports whether s is a choice pseudo-state.
func (d *Definition[C]) IsChoice(s State) bool {
	st, ok := d.states[s]
	return ok && st.choice
}

// States returns the declared states in declaration order.
func (d *Definition[C]) States() []State {
	return append([]State(nil), d.order...)
}

// NewInstance returns an instance positioned at the initial state.
func (d *Definition[C]) NewInstance(ext C) *Instance[C] {
	return &Instance[C]{state: d.initial, ext: ext}
}

type queued struct {
	event     Event
	synthetic bool
}

// Apply feeds ev to inst and drains every follow-up event emitted by the
// actions it triggers. Guard failures and chain overflows return an error;
// the instance is left in the state reached so far and should be discarded.
func (d *Definition[C]) Apply(ctx context.Context, inst *Instance[C], ev Event) (Result, error) {
	res := Result{State: inst.state}
	queue := []queued{{event: ev}}
	synthetic := 0

	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if next.synthetic {
			synthetic++
			if synthetic > d.maxChain {
				return res, fmt.Errorf("%w: more than %d follow-up events after %q", ErrChainLimit, d.maxChain, ev)
			}
		}

		step, emitted, err := d.step(ctx, inst, next.event)
		res.State = inst.state
		if err != nil {
			return res, err
		}
		step.Synthetic = next.synthetic
		res.Steps = append(res.Steps, step)

		if d.IsTerminal(inst.state) {
			break
		}
		for _, e := range emitted {
			queue = append(queue, queued{event: e, synthetic: true})
		}
	}
	return res, nil
}

func (d *Definition[C]) step(ctx context.Context, inst *Instance[C], ev Event) (Step, []Event, error) {
	from := inst.state
	step := Step{Event: ev, From: from, To: from}
	if _, ok := d.states[from]; !ok {
		return step, nil, fmt.Errorf("%w: %q", ErrUnknownState, from)
	}

	t, ok := d.table[transitionKey{from: from, event: ev}]
	if !ok {
		step.Outcome = OutcomeIgnored
		return step, nil, nil
	}
	if t.Guard != nil {
		pass, err := t.Guard(inst.ext)
		if err != nil {
			return step, nil, fmt.Errorf("%w: %s --%s--> %s: %w", ErrGuard, from, ev, t.To, err)
		}
		if !pass {
			step.Outcome = OutcomeRejected
			return step, nil, nil
		}
	}

	var actions []Action[C]
	if t.Action != nil {
		actions = append(actions, t.Action)
	}
	target := t.To
	if st := d.states[target]; st.choice {
		step.Via = target
		br, err := d.resolve(st, inst.ext)
		if err != nil {
			return step, nil, fmt.Errorf("%w: choice %s: %w", ErrGuard, target, err)
		}
		target = br.Target
		if br.Action != nil {
			actions = append(actions, br.Action)
		}
	}
	step.To = target
	step.Outcome = OutcomeFired

	var (
		emitted []Event
		errs    []error
	)
	run := func(a Action[C]) {
		out, err := d.invoke(ctx, a, inst.ext)
		if err != nil {
			errs = append(errs, err)
			if d.errorEvent != "" {
				emitted = append(emitted, d.errorEvent)
			}
			return
		}
		emitted = append(emitted, out...)
	}

	for _, a := range actions {
		run(a)
	}
	inst.state = target
	for _, a := range d.states[target].entry {
		run(a)
	}
	if len(errs) == 1 {
		step.ActionErr = errs[0]
	} else if len(errs) > 1 {
		step.ActionErr = errors.Join(errs...)
	}
	return step, emitted, nil
}

// resolve picks the first branch whose guard passes, or the default branch.
func (d *Definition[C]) resolve(st *stateDef[C], ext C) (Branch[C], error) {
	for _, br := range st.branches {
		if br.Guard == nil {
			return br, nil
		}
		pass, err := br.Guard(ext)
		if err != nil {
			return Branch[C]{}, err
		}
		if pass {
			return br, nil
		}
	}
	// Build guarantees a default branch.
	return st.branches[len(st.branches)-1], nil
}

func (d *Definition[C]) invoke(ctx context.Context, a Action[C], ext C) (out []Event, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("fsm: action panic: %v", r)
		}
	}()
	return a(ctx, ext)
}

// Describe renders the table in a stable, human-readable form.
func (d *Definition[C]) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "initial: %s\n", d.initial)
	fmt.Fprintf(&b, "terminal: %s\n", d.terminal)
	if d.errorEvent != "" {
		fmt.Fprintf(&b, "on action error: %s\n", d.errorEvent)
	}
	fmt.Fprintf(&b, "max chained events: %d\n", d.maxChain)
	for _, t := range d.transitions {
		guard := ""
		if t.Guard != nil {
			guard = " [guarded]"
		}
		fmt.Fprintf(&b, "%s --%s%s--> %s\n", t.From, t.Event, guard, t.To)
	}
	for _, s := range d.order {
		st := d.states[s]
		if !st.choice {
			continue
		}
		for i, br := range st.branches {
			label := fmt.Sprintf("#%d", i+1)
			if br.Guard == nil {
				label = "default"
			}
			fmt.Fprintf(&b, "%s (choice) --%s--> %s\n", s, label, br.Target)
		}
	}
	return b.String()
}
