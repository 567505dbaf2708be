// Package workers tracks live scrape workers per user. The registry is the
// single source of truth for "does this user have a scrape running": liveness
// is derived from worker handles rather than a mutable flag.
package workers

import (
	"sync"
	"time"

	"github.com/fairyhunter13/painpoint-analyzer/internal/observability"
)

// Handle identifies one background scrape worker. The launching goroutine
// calls Finish exactly once when the worker exits.
type Handle struct {
	JobID     string
	StartedAt time.Time

	reg    *Registry
	userID string
	once   sync.Once
	done   chan struct{}
}

// IsAlive reports whether the worker has not yet finished.
func (h *Handle) IsAlive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Finish marks the worker dead and removes it from the registry.
func (h *Handle) Finish() {
	h.once.Do(func() {
		close(h.done)
		h.reg.remove(h.userID, h)
	})
}

// Registry maps user ids to their live scrape worker handles.
type Registry struct {
	mu     sync.Mutex
	byUser map[string][]*Handle
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byUser: make(map[string][]*Handle)}
}

// Add registers a new worker for userID and returns its handle. Dead handles
// left by workers that never called Finish are pruned on the way in.
func (r *Registry) Add(userID, jobID string) *Handle {
	h := &Handle{
		JobID:     jobID,
		StartedAt: time.Now().UTC(),
		reg:       r,
		userID:    userID,
		done:      make(chan struct{}),
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	live := r.byUser[userID][:0]
	for _, prev := range r.byUser[userID] {
		if prev.IsAlive() {
			live = append(live, prev)
		}
	}
	r.byUser[userID] = append(live, h)
	observability.ScrapeWorkersLive.Inc()
	return h
}

func (r *Registry) remove(userID string, h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	handles := r.byUser[userID]
	for i, cur := range handles {
		if cur == h {
			r.byUser[userID] = append(handles[:i], handles[i+1:]...)
			break
		}
	}
	if len(r.byUser[userID]) == 0 {
		delete(r.byUser, userID)
	}
	observability.ScrapeWorkersLive.Dec()
}

// HasLive reports whether userID has at least one live scrape worker.
func (r *Registry) HasLive(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range r.byUser[userID] {
		if h.IsAlive() {
			return true
		}
	}
	return false
}

// Live returns the job ids of userID's live workers.
func (r *Registry) Live(userID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for _, h := range r.byUser[userID] {
		if h.IsAlive() {
			ids = append(ids, h.JobID)
		}
	}
	return ids
}
