// Package bus is the process-local, best-effort event fan-out used for
// low-latency SSE delivery. It is never the source of truth: a subscriber
// that falls behind or whose buffer fills simply drops events and relies on
// EventStore polling to recover, per §4.5.
package bus

import (
	"sync"

	"github.com/dinqhq/profile-engine/engine"
)

// subscriptionBuffer bounds how many undelivered events a slow subscriber
// can accumulate before publish starts silently dropping for it. This is
// deliberately small: the bus exists to cut SSE latency, not to replace
// EventStore as a buffer.
const subscriptionBuffer = 64

// Subscription is a live, best-effort feed of events for one job, obtained
// from Bus.Subscribe. Callers must call Close when done.
type Subscription struct {
	JobID string

	bus *Bus
	id  uint64
	ch  chan *engine.Event

	closeOnce sync.Once
}

// C returns the channel of delivered events. It is closed when the
// subscription is closed.
func (s *Subscription) C() <-chan *engine.Event { return s.ch }

// Close unregisters the subscription and closes its channel. Safe to call
// more than once.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.bus.unsubscribe(s.JobID, s.id)
		close(s.ch)
	})
}

// Bus is the in-process event bus: subscribe(job_id) -> Subscription,
// publish(event). Delivery is best-effort and non-blocking.
type Bus struct {
	mu     sync.Mutex
	subs   map[string]map[uint64]*Subscription
	nextID uint64
}

// New constructs an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[string]map[uint64]*Subscription)}
}

// Subscribe registers a new Subscription for jobID.
func (b *Bus) Subscribe(jobID string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &Subscription{
		JobID: jobID,
		bus:   b,
		id:    b.nextID,
		ch:    make(chan *engine.Event, subscriptionBuffer),
	}
	if b.subs[jobID] == nil {
		b.subs[jobID] = make(map[uint64]*Subscription)
	}
	b.subs[jobID][sub.id] = sub
	return sub
}

func (b *Bus) unsubscribe(jobID string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	byID := b.subs[jobID]
	if byID == nil {
		return
	}
	delete(byID, id)
	if len(byID) == 0 {
		delete(b.subs, jobID)
	}
}

// Publish delivers e to every current subscriber of e.JobID. Delivery never
// blocks: a subscriber whose buffer is full does not receive e and must
// recover via EventStore polling.
func (b *Bus) Publish(e *engine.Event) {
	b.mu.Lock()
	byID := b.subs[e.JobID]
	subs := make([]*Subscription, 0, len(byID))
	for _, s := range byID {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- e:
		default:
		}
	}
}
