// Package logbus is the in-process broadcast channel between job runners and
// live subscribers. Delivery is at-most-once and best-effort: each subscriber
// owns a bounded buffer and entries that arrive while it is full are dropped
// (drop-newest). Subscribers only see entries published after Subscribe
// returns; clients that need history fetch the job record once.
package logbus

import (
	"log/slog"
	"sync"

	"github.com/fairyhunter13/painpoint-analyzer/internal/domain"
)

// DefaultBuffer is the per-subscriber channel capacity when none is given.
const DefaultBuffer = 64

// Bus fans out job log entries by job id.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	buffer int
}

// Subscription is one subscriber's view of a job's log stream. Receive from C
// until it is closed or the subscriber is done, then call Close.
type Subscription struct {
	C <-chan domain.LogEntry

	bus   *Bus
	jobID string
	ch    chan domain.LogEntry
	once  sync.Once
}

// New constructs a Bus with the given per-subscriber buffer capacity.
func New(buffer int) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Bus{subs: make(map[string]map[*Subscription]struct{}), buffer: buffer}
}

// Subscribe registers a new subscriber for jobID.
func (b *Bus) Subscribe(jobID string) *Subscription {
	ch := make(chan domain.LogEntry, b.buffer)
	sub := &Subscription{C: ch, bus: b, jobID: jobID, ch: ch}

	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subs[jobID]
	if !ok {
		set = make(map[*Subscription]struct{})
		b.subs[jobID] = set
	}
	set[sub] = struct{}{}
	return sub
}

// Close removes the subscription and closes its channel. Safe to call twice.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		if set, ok := s.bus.subs[s.jobID]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(s.bus.subs, s.jobID)
			}
		}
		s.bus.mu.Unlock()
		close(s.ch)
	})
}

// Publish delivers entry to every current subscriber of jobID. A subscriber
// whose buffer is full loses this entry; the publisher never blocks.
func (b *Bus) Publish(jobID string, entry domain.LogEntry) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs[jobID] {
		select {
		case sub.ch <- entry:
		default:
			slog.Warn("log subscriber buffer full, dropping entry",
				slog.String("job_id", jobID),
				slog.String("step", entry.Step))
		}
	}
}

// SubscriberCount reports the current number of subscribers for a job.
func (b *Bus) SubscriberCount(jobID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[jobID])
}
