package conversation

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/m3rciful/fsmbot/core/dialog"
)

// DefaultShards is used when NewRegistry gets a non-positive shard count.
const DefaultShards = 32

type shard struct {
	mu      sync.RWMutex
	handles map[dialog.Key]*Handle
}

// Registry maps conversation keys to live handles. Keys are spread over
// shards with independent locks; a shard lock is held only for map access
// and handle retirement.
//
// Lock order is shard, then handle.
type Registry struct {
	def    *dialog.Definition
	shards []*shard
	now    func() time.Time
	newID  func() string
}

// NewRegistry returns an empty registry creating instances of def.
func NewRegistry(def *dialog.Definition, shards int) *Registry {
	if shards <= 0 {
		shards = DefaultShards
	}
	r := &Registry{
		def:    def,
		shards: make([]*shard, shards),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for i := range r.shards {
		r.shards[i] = &shard{handles: make(map[dialog.Key]*Handle)}
	}
	return r
}

// Definition returns the machine definition used for new handles.
func (r *Registry) Definition() *dialog.Definition { return r.def }

func (r *Registry) shard(key dialog.Key) *shard {
	return r.shards[uint64(key)%uint64(len(r.shards))]
}

func (r *Registry) create(key dialog.Key) *Handle {
	inst := r.def.NewInstance(&dialog.Conversation{Key: key})
	return newHandle(key, r.newID(), inst, r.now())
}

// GetOrCreate returns the live handle for key, creating one at the initial
// state when none exists. Repeated calls return the same handle until it is
// retired.
func (r *Registry) GetOrCreate(key dialog.Key) *Handle {
	h, _ := r.getOrCreate(key)
	return h
}

func (r *Registry) getOrCreate(key dialog.Key) (*Handle, bool) {
	sh := r.shard(key)
	sh.mu.RLock()
	h, ok := sh.handles[key]
	sh.mu.RUnlock()
	if ok {
		return h, false
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()
	if h, ok := sh.handles[key]; ok {
		return h, false
	}
	h = r.create(key)
	sh.handles[key] = h
	return h, true
}

// Get returns the live handle for key.
func (r *Registry) Get(key dialog.Key) (*Handle, bool) {
	sh := r.shard(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	h, ok := sh.handles[key]
	return h, ok
}

// Remove retires the live handle for key and reports whether one existed.
// When a message is being processed at that moment it completes on the
// retired handle. Messages queued behind it, and any submitted until it
// completes, go to a fresh handle whose consumer starts only after the
// in-flight message is done.
func (r *Registry) Remove(key dialog.Key) bool {
	sh := r.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	h, ok := sh.handles[key]
	if !ok {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(sh.handles, key)
	h.closed = true
	if !h.running {
		return true
	}
	heir := r.create(key)
	heir.mailbox = h.mailbox
	heir.running = true
	h.mailbox = nil
	h.heir = heir
	sh.handles[key] = heir
	return true
}

// retire removes h if it is still the live handle for its key and marks it
// closed. Queued deliveries are moved to a new handle which replaces h and is
// returned with its consumer slot taken; the caller must start it. Retiring
// an already retired handle is a no-op.
func (r *Registry) retire(h *Handle) *Handle {
	sh := r.shard(h.key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	h.mu.Lock()
	defer h.mu.Unlock()

	if cur, ok := sh.handles[h.key]; ok && cur == h {
		delete(sh.handles, h.key)
	}
	h.closed = true
	h.running = false
	if len(h.mailbox) == 0 {
		return nil
	}
	next := r.create(h.key)
	next.mailbox = h.mailbox
	next.running = true
	h.mailbox = nil
	sh.handles[h.key] = next
	return next
}

// Sweep retires handles that have nothing queued, no running consumer and
// no activity since now-maxIdle. It returns the retired handles.
func (r *Registry) Sweep(now time.Time, maxIdle time.Duration) []*Handle {
	if maxIdle <= 0 {
		return nil
	}
	cutoff := now.Add(-maxIdle)
	var out []*Handle
	for _, sh := range r.shards {
		sh.mu.Lock()
		for key, h := range sh.handles {
			h.mu.Lock()
			idle := !h.running && len(h.mailbox) == 0 && h.LastActive().Before(cutoff)
			if idle {
				h.closed = true
				delete(sh.handles, key)
				out = append(out, h)
			}
			h.mu.Unlock()
		}
		sh.mu.Unlock()
	}
	return out
}

// Len returns the number of live conversations.
func (r *Registry) Len() int {
	n := 0
	for _, sh := range r.shards {
		sh.mu.RLock()
		n += len(sh.handles)
		sh.mu.RUnlock()
	}
	return n
}

// Keys returns the live conversation keys in ascending order.
func (r *Registry) Keys() []dialog.Key {
	var keys []dialog.Key
	for _, sh := range r.shards {
		sh.mu.RLock()
		for k := range sh.handles {
			keys = append(keys, k)
		}
		sh.mu.RUnlock()
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
