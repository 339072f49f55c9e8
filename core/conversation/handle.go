package conversation

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/m3rciful/fsmbot/core/dialog"
	"github.com/m3rciful/fsmbot/core/fsm"
)

type delivery struct {
	ctx  context.Context
	msg  dialog.Message
	done chan Outcome
}

// Handle is the registry entry of one conversation.
type Handle struct {
	key     dialog.Key
	id      string
	created time.Time

	state      atomic.Value
	lastActive atomic.Int64

	// Owned by the consumer goroutine.
	inst      *dialog.Instance
	delivered int

	mu      sync.Mutex
	mailbox []delivery
	running bool
	closed  bool
	// heir holds the reserved successor set by Registry.Remove while a
	// consumer was running.
	heir *Handle
}

func newHandle(key dialog.Key, id string, inst *dialog.Instance, now time.Time) *Handle {
	h := &Handle{key: key, id: id, created: now, inst: inst}
	h.state.Store(inst.State())
	h.lastActive.Store(now.UnixNano())
	return h
}

// Key returns the conversation key.
func (h *Handle) Key() dialog.Key { return h.key }

// ID returns the instance id. A conversation started again after it ended
// gets a different id.
func (h *Handle) ID() string { return h.id }

// CreatedAt returns when the handle was created.
func (h *Handle) CreatedAt() time.Time { return h.created }

// State returns the state after the last processed message.
func (h *Handle) State() fsm.State {
	s, _ := h.state.Load().(fsm.State)
	return s
}

// LastActive returns when a message was last queued or processed.
func (h *Handle) LastActive() time.Time {
	return time.Unix(0, h.lastActive.Load())
}

// Pending returns the number of queued messages.
func (h *Handle) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.mailbox)
}

// Retired reports whether the handle was removed from the registry.
func (h *Handle) Retired() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *Handle) touch(now time.Time) {
	h.lastActive.Store(now.UnixNano())
}

// push queues d. It reports false when the handle is retired, and spawn
// when the caller must start a consumer.
func (h *Handle) push(d delivery, now time.Time) (ok, spawn bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false, false
	}
	h.mailbox = append(h.mailbox, d)
	h.touch(now)
	if h.running {
		return true, false
	}
	h.running = true
	return true, true
}

// next pops the oldest delivery. When none is left the consumer slot is
// released in the same critical section.
func (h *Handle) next() (delivery, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || len(h.mailbox) == 0 {
		h.running = false
		return delivery{}, false
	}
	d := h.mailbox[0]
	h.mailbox[0] = delivery{}
	h.mailbox = h.mailbox[1:]
	return d, true
}

func (h *Handle) takeHeir() *Handle {
	h.mu.Lock()
	defer h.mu.Unlock()
	heir := h.heir
	h.heir = nil
	return heir
}
