package fsm

import (
	"errors"
	"fmt"
)

// DefaultMaxChain bounds the synthetic events processed by one Apply call
// when the builder does not set a limit.
const DefaultMaxChain = 16

// Transition declares an edge of the table. Guard and Action are optional.
type Transition[C any] struct {
	From   State
	Event  Event
	To     State
	Guard  Guard[C]
	Action Action[C]
}

// Branch is one outgoing route of a choice state. A Branch without a Guard
// is the default route; each choice needs exactly one, declared last.
type Branch[C any] struct {
	Target State
	Guard  Guard[C]
	Action Action[C]
}

type stateDef[C any] struct {
	name     State
	choice   bool
	entry    []Action[C]
	branches []Branch[C]
}

type transitionKey struct {
	from  State
	event Event
}

// Builder assembles a Definition. Methods record problems instead of failing
// so that Build can report all of them at once.
type Builder[C any] struct {
	initial     State
	terminal    State
	errorEvent  Event
	maxChain    int
	states      map[State]*stateDef[C]
	order       []State
	transitions []Transition[C]
	problems    []error
}

// NewBuilder returns an empty Builder.
func NewBuilder[C any]() *Builder[C] {
	return &Builder[C]{
		states: make(map[State]*stateDef[C]),
	}
}

// Initial sets the state new instances start in.
func (b *Builder[C]) Initial(s State) *Builder[C] {
	b.initial = s
	b.ensure(s)
	return b
}

// Terminal sets the state that ends an instance.
func (b *Builder[C]) Terminal(s State) *Builder[C] {
	b.terminal = s
	b.ensure(s)
	return b
}

// ErrorEvent sets the event queued whenever an action fails.
func (b *Builder[C]) ErrorEvent(e Event) *Builder[C] {
	b.errorEvent = e
	return b
}

// MaxChain sets how many synthetic events a single Apply may process.
func (b *Builder[C]) MaxChain(n int) *Builder[C] {
	b.maxChain = n
	return b
}

// State declares a regular state with optional entry actions, run in order.
func (b *Builder[C]) State(s State, entry ...Action[C]) *Builder[C] {
	st := b.ensure(s)
	if st.choice {
		b.problems = append(b.problems, fmt.Errorf("state %q declared both as choice and regular state", s))
		return b
	}
	for _, a := range entry {
		if a == nil {
			b.problems = append(b.problems, fmt.Errorf("state %q: nil entry action", s))
			continue
		}
		st.entry = append(st.entry, a)
	}
	return b
}

// Choice declares a choice pseudo-state. Branches are evaluated in
// declaration order when a transition targets s.
func (b *Builder[C]) Choice(s State, branches ...Branch[C]) *Builder[C] {
	if existing, ok := b.states[s]; ok && (!existing.choice || len(existing.branches) > 0 || len(existing.entry) > 0) {
		b.problems = append(b.problems, fmt.Errorf("choice %q declared twice", s))
		return b
	}
	st := b.ensure(s)
	st.choice = true
	st.branches = append(st.branches, branches...)
	return b
}

// Transition adds edges to the table.
func (b *Builder[C]) Transition(ts ...Transition[C]) *Builder[C] {
	b.transitions = append(b.transitions, ts...)
	return b
}

func (b *Builder[C]) ensure(s State) *stateDef[C] {
	if st, ok := b.states[s]; ok {
		return st
	}
	st := &stateDef[C]{name: s}
	b.states[s] = st
	b.order = append(b.order, s)
	return st
}

// Build validates the declarations and returns an immutable Definition.
func (b *Builder[C]) Build() (*Definition[C], error) {
	problems := append([]error(nil), b.problems...)
	report := func(format string, args ...any) {
		problems = append(problems, fmt.Errorf(format, args...))
	}

	if b.initial == "" {
		report("initial state is not set")
	} else if b.states[b.initial].choice {
		report("initial state %q cannot be a choice", b.initial)
	}
	if b.terminal == "" {
		report("terminal state is not set")
	} else if b.states[b.terminal].choice {
		report("terminal state %q cannot be a choice", b.terminal)
	}
	if b.initial != "" && b.initial == b.terminal {
		report("initial and terminal state are both %q", b.initial)
	}

	for _, s := range b.order {
		st := b.states[s]
		if s == "" {
			report("empty state name")
		}
		if !st.choice {
			continue
		}
		if len(st.branches) == 0 {
			report("choice %q has no branches", s)
			continue
		}
		defaults := 0
		for i, br := range st.branches {
			target, ok := b.states[br.Target]
			switch {
			case !ok:
				report("choice %q branch %d targets undeclared state %q", s, i, br.Target)
			case target.choice:
				report("choice %q branch %d targets another choice %q", s, i, br.Target)
			}
			if br.Guard == nil {
				defaults++
				if i != len(st.branches)-1 {
					report("choice %q default branch must be declared last", s)
				}
			}
		}
		if defaults == 0 {
			report("choice %q has no default branch", s)
		} else if defaults > 1 {
			report("choice %q has %d default branches", s, defaults)
		}
	}

	table := make(map[transitionKey]Transition[C], len(b.transitions))
	for _, t := range b.transitions {
		from, okFrom := b.states[t.From]
		_, okTo := b.states[t.To]
		switch {
		case t.Event == "":
			report("transition %q -> %q has no event", t.From, t.To)
			continue
		case !okFrom:
			report("transition %q --%s--> %q: undeclared source", t.From, t.Event, t.To)
			continue
		case !okTo:
			report("transition %q --%s--> %q: undeclared target", t.From, t.Event, t.To)
			continue
		case from.choice:
			report("transition %q --%s--> %q: choice states do not consume events", t.From, t.Event, t.To)
			continue
		case t.From == b.terminal:
			report("transition %q --%s--> %q: terminal state has no outgoing transitions", t.From, t.Event, t.To)
			continue
		}
		key := transitionKey{from: t.From, event: t.Event}
		if prev, dup := table[key]; dup {
			report("ambiguous transitions from %q on %q: %q and %q", t.From, t.Event, prev.To, t.To)
			continue
		}
		table[key] = t
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDefinition, errors.Join(problems...))
	}

	maxChain := b.maxChain
	if maxChain <= 0 {
		maxChain = DefaultMaxChain
	}
	states := make(map[State]*stateDef[C], len(b.states))
	for k, v := range b.states {
		cp := *v
		cp.entry = append([]Action[C](nil), v.entry...)
		cp.branches = append([]Branch[C](nil), v.branches...)
		states[k] = &cp
	}
	return &Definition[C]{
		initial:     b.initial,
		terminal:    b.terminal,
		errorEvent:  b.errorEvent,
		maxChain:    maxChain,
		states:      states,
		order:       append([]State(nil), b.order...),
		transitions: append([]Transition[C](nil), b.transitions...),
		table:       table,
	}, nil
}
