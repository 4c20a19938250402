package oauth

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// PendingRequest is an authorization flow waiting for its callback
type PendingRequest struct {
	Email     string
	Provider  string
	CreatedAt time.Time
}

// StateRegistry holds pending authorization requests keyed by a random
// state token. Entries older than the TTL are dropped by a sweep ticker.
type StateRegistry struct {
	mutex     sync.Mutex
	pending   map[string]PendingRequest
	ttl       time.Duration
	now       func() time.Time
	done      chan struct{}
	closeOnce sync.Once
}

// NewStateRegistry starts a registry that sweeps expired entries every
// sweepEvery. A non-positive sweepEvery disables the ticker; expired entries
// are still rejected by Take.
func NewStateRegistry(ttl, sweepEvery time.Duration) *StateRegistry {
	r := &StateRegistry{
		pending: make(map[string]PendingRequest),
		ttl:     ttl,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	if sweepEvery > 0 {
		go r.sweepLoop(sweepEvery)
	}
	return r
}

// Put registers a pending request and returns its state token
func (r *StateRegistry) Put(email, provider string) string {
	state := uuid.NewString()

	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.pending[state] = PendingRequest{Email: email, Provider: provider, CreatedAt: r.now()}
	return state
}

// Take removes and returns the request for state. A state can be taken once.
func (r *StateRegistry) Take(state string) (PendingRequest, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	req, ok := r.pending[state]
	if !ok {
		return PendingRequest{}, false
	}
	delete(r.pending, state)
	if r.expired(req) {
		return PendingRequest{}, false
	}
	return req, true
}

// Len returns the number of pending requests, expired or not
func (r *StateRegistry) Len() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.pending)
}

// Sweep drops expired requests and returns how many were removed
func (r *StateRegistry) Sweep() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	removed := 0
	for state, req := range r.pending {
		if r.expired(req) {
			delete(r.pending, state)
			removed++
		}
	}
	return removed
}

// Close stops the sweep ticker
func (r *StateRegistry) Close() {
	r.closeOnce.Do(func() { close(r.done) })
}

func (r *StateRegistry) expired(req PendingRequest) bool {
	return r.now().Sub(req.CreatedAt) > r.ttl
}

func (r *StateRegistry) sweepLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Sweep()
		case <-r.done:
			return
		}
	}
}
