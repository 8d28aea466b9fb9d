// Package sse implements the resumable SSESubscriber (§4.11): replay
// already-persisted events from a requested seq, then follow the live
// EventBus, backfilling any gap from the EventStore before emitting a bus
// event that skipped ahead, with a heartbeat for idle periods and a hard
// max-stream-duration bound.
package sse

import (
	"context"
	"time"

	"github.com/dinqhq/profile-engine/engine"
	"github.com/dinqhq/profile-engine/engine/backplane"
	"github.com/dinqhq/profile-engine/engine/bus"
	"github.com/dinqhq/profile-engine/engine/config"
	"github.com/dinqhq/profile-engine/engine/store"
)

// replayPageSize bounds how many events are paged from the EventStore per
// ListEvents call during replay or gap backfill.
const replayPageSize = 200

// Sink receives the serialized stream: one call per emitted Event, plus
// periodic Heartbeat calls when the stream is otherwise idle. A transport
// layer (HTTP/SSE framing, gRPC stream, ...) implements Sink; this package
// has no opinion on wire format, per the Non-goals.
type Sink interface {
	Event(*engine.Event) error
	Heartbeat() error
}

// Subscriber is the resumable SSESubscriber.
type Subscriber struct {
	Events    store.EventStore
	Bus       *bus.Bus
	Backplane backplane.Backplane // optional; nil disables cross-process following (§4.6)
	Config    config.Config
}

// New constructs a Subscriber. bp may be nil when no Backplane is deployed,
// in which case Stream follows only the in-process Bus plus replay.
func New(events store.EventStore, b *bus.Bus, bp backplane.Backplane, cfg config.Config) *Subscriber {
	return &Subscriber{Events: events, Bus: b, Backplane: bp, Config: cfg}
}

// Stream replays jobID's event log from afterSeq, then follows live events,
// until a terminal job.* event, ctx cancellation (client disconnect), or
// the configured max stream duration, whichever comes first.
func (s *Subscriber) Stream(ctx context.Context, jobID string, afterSeq int64, sink Sink) error {
	sub := s.Bus.Subscribe(jobID)
	defer sub.Close()

	// bpCh stays nil (and therefore never selectable) when no Backplane is
	// configured, which is the correct behavior: a nil channel in a select
	// simply never fires, so this degrades to bus-only following.
	var bpCh <-chan backplane.Notification
	if s.Backplane != nil {
		ch, err := s.Backplane.Subscribe(ctx, jobID)
		if err == nil {
			bpCh = ch
		}
		// A Subscribe error is treated the same as "no Backplane deployed":
		// correctness never depends on it, per §4.6.
	}

	lastEmitted, terminal, err := s.replay(ctx, jobID, afterSeq, sink)
	if err != nil {
		return err
	}
	if terminal {
		return nil
	}

	heartbeat := s.Config.SSEHeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	maxDuration := s.Config.SSEMaxDuration
	var deadline <-chan time.Time
	if maxDuration > 0 {
		timer := time.NewTimer(maxDuration)
		defer timer.Stop()
		deadline = timer.C
	}

	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return nil
		case <-ticker.C:
			if err := sink.Heartbeat(); err != nil {
				return err
			}
		case e, ok := <-sub.C():
			if !ok {
				return nil
			}
			ticker.Reset(heartbeat)
			newLast, terminal, err := s.observe(ctx, jobID, lastEmitted, e, sink)
			if err != nil {
				return err
			}
			lastEmitted = newLast
			if terminal {
				return nil
			}
		case n, ok := <-bpCh:
			if !ok {
				bpCh = nil
				continue
			}
			ticker.Reset(heartbeat)
			newLast, terminal, err := s.observeBackplane(ctx, jobID, lastEmitted, n, sink)
			if err != nil {
				return err
			}
			lastEmitted = newLast
			if terminal {
				return nil
			}
		}
	}
}

// observeBackplane handles a cross-process Notification: in ModeFull it is
// treated exactly like a live bus event (observe handles ordering/gaps); in
// ModeWakeup (Event == nil) there is no seq to compare against directly, so
// it always backfills from the EventStore, which is idempotent against
// lastEmitted and therefore safe to call on every wakeup.
func (s *Subscriber) observeBackplane(ctx context.Context, jobID string, lastEmitted int64, n backplane.Notification, sink Sink) (int64, bool, error) {
	if n.Event != nil {
		return s.observe(ctx, jobID, lastEmitted, n.Event, sink)
	}
	return s.replay(ctx, jobID, lastEmitted, sink)
}

// replay pages through already-persisted events with seq > afterSeq,
// emitting each to sink, and returns the highest seq emitted (or afterSeq
// if none were pending) plus whether a terminal job.* event was among them.
func (s *Subscriber) replay(ctx context.Context, jobID string, afterSeq int64, sink Sink) (int64, bool, error) {
	last := afterSeq
	for {
		events, err := s.Events.ListEvents(ctx, jobID, last, replayPageSize)
		if err != nil {
			return last, false, err
		}
		if len(events) == 0 {
			return last, false, nil
		}
		for _, e := range events {
			if err := sink.Event(e); err != nil {
				return last, false, err
			}
			last = e.Seq
			if isTerminalEvent(e.Type) {
				return last, true, nil
			}
		}
		if len(events) < replayPageSize {
			return last, false, nil
		}
	}
}

// observe handles one event received live from the bus: if it arrived in
// order it is emitted directly; if a gap is detected (e.Seq > lastEmitted
// + 1) the gap is backfilled from the EventStore first, per §4.11 step 3.
// Events with Seq <= lastEmitted are duplicates of the replay/live
// transition race and are silently dropped.
func (s *Subscriber) observe(ctx context.Context, jobID string, lastEmitted int64, e *engine.Event, sink Sink) (int64, bool, error) {
	if e.Seq <= lastEmitted {
		return lastEmitted, false, nil
	}
	if e.Seq == lastEmitted+1 {
		if err := sink.Event(e); err != nil {
			return lastEmitted, false, err
		}
		return e.Seq, isTerminalEvent(e.Type), nil
	}
	// Gap: backfill from the store, which also covers e itself since
	// ListEvents returns everything with seq > lastEmitted.
	return s.replay(ctx, jobID, lastEmitted, sink)
}

func isTerminalEvent(t engine.EventType) bool {
	switch t {
	case engine.EventJobCompleted, engine.EventJobFailed, engine.EventJobCancelled:
		return true
	default:
		return false
	}
}
