package bus

import (
	"context"

	"github.com/dinqhq/profile-engine/engine"
	"github.com/dinqhq/profile-engine/engine/backplane"
	"github.com/dinqhq/profile-engine/engine/store"
	"github.com/dinqhq/profile-engine/engine/telemetry"
)

// Publisher pairs an EventStore append with the best-effort Bus fan-out
// that makes it low-latency, so callers never forget one half of the pair.
// Backplane is optional (nil disables cross-process fan-out, per §4.6's
// "optional" contract) and is never allowed to fail a Publish call: an
// unreachable Backplane is logged and otherwise ignored, since correctness
// never depends on it.
type Publisher struct {
	Events    store.EventStore
	Bus       *Bus
	Backplane backplane.Backplane
	Logger    telemetry.Logger
}

// NewPublisher constructs a Publisher. backplane and logger may be nil.
func NewPublisher(events store.EventStore, b *Bus, bp backplane.Backplane, logger telemetry.Logger) *Publisher {
	return &Publisher{Events: events, Bus: b, Backplane: bp, Logger: logger}
}

// Publish appends an event and fans it out to live subscribers.
func (p *Publisher) Publish(ctx context.Context, jobID, cardID string, typ engine.EventType, payload map[string]any) (*engine.Event, error) {
	e, err := p.Events.AppendEvent(ctx, jobID, cardID, typ, payload)
	if err != nil {
		return nil, err
	}
	p.Bus.Publish(e)
	p.publishBackplane(ctx, jobID, e)
	return e, nil
}

func (p *Publisher) publishBackplane(ctx context.Context, jobID string, e *engine.Event) {
	if p.Backplane == nil {
		return
	}
	if err := p.Backplane.Publish(ctx, jobID, e); err != nil && p.Logger != nil {
		p.Logger.Error(ctx, "backplane publish failed, falling back to store polling", "job_id", jobID, "error", err)
	}
}

// PublishWithCardUpdate performs a card status transition and its
// accompanying event append atomically (via TransactionalEventStore) when
// the underlying store supports it, then fans the event out. Stores that
// don't implement TransactionalEventStore get a best-effort two-step
// fallback; every shipped store (store/memory, store/mongo) implements the
// transactional path, so this fallback exists only for third-party
// EventStore implementations.
func (p *Publisher) PublishWithCardUpdate(ctx context.Context, jobs store.JobStore, cardID string, update store.CardUpdate, jobID string, typ engine.EventType, payload map[string]any) (*engine.CardOutput, *engine.Event, error) {
	if tes, ok := p.Events.(store.TransactionalEventStore); ok {
		out, e, err := tes.AppendWithCardUpdate(ctx, jobs, cardID, update, jobID, typ, payload)
		if err != nil {
			return nil, nil, err
		}
		p.Bus.Publish(e)
		p.publishBackplane(ctx, jobID, e)
		return out, e, nil
	}
	out, err := jobs.UpdateCardStatus(ctx, cardID, update)
	if err != nil {
		return nil, nil, err
	}
	e, err := p.Publish(ctx, jobID, cardID, typ, payload)
	if err != nil {
		return nil, nil, err
	}
	return out, e, nil
}
