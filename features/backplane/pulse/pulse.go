// Package pulse implements the optional cross-process backplane.Backplane
// (§4.6) over Redis via goa.design/pulse streams. It mirrors the layering
// of the teacher's stream/pulse sink+subscriber: a low-level clients/pulse
// wrapper around the raw Pulse API, and this package translating to/from
// backplane.Notification.
package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dinqhq/profile-engine/engine"
	"github.com/dinqhq/profile-engine/engine/backplane"
	clientspulse "github.com/dinqhq/profile-engine/features/backplane/pulse/clients/pulse"
)

// defaultFullModeByteThreshold is the cutoff above which ModeFull silently
// degrades to a wakeup-shaped envelope for a single notification, per
// spec.md §4.6 ("full: publishes the entire event (if under a byte
// threshold)").
const defaultFullModeByteThreshold = 16 * 1024

const sinkName = "profile_engine_backplane"

// envelope is the wire payload published to a Pulse stream.
type envelope struct {
	JobID string        `json:"job_id"`
	Seq   int64         `json:"seq"`
	Event *engine.Event `json:"event,omitempty"`
}

// Options configures the Pulse-backed Backplane.
type Options struct {
	// Client is the Pulse client used to publish/consume. Required.
	Client clientspulse.Client
	// Mode selects full or wakeup publishing. Defaults to ModeWakeup, the
	// conservative choice.
	Mode backplane.Mode
	// FullModeByteThreshold overrides defaultFullModeByteThreshold.
	FullModeByteThreshold int
	// StreamPrefix namespaces Pulse stream names. Defaults to "job/".
	StreamPrefix string
}

// Backplane implements backplane.Backplane over Redis/Pulse streams, one
// stream per job, named StreamPrefix+jobID (mirroring the teacher's
// session-derived stream naming in stream/pulse.Sink).
type Backplane struct {
	client    clientspulse.Client
	mode      backplane.Mode
	threshold int
	prefix    string
}

// New constructs a Backplane. opts.Client is required.
func New(opts Options) (*Backplane, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	mode := opts.Mode
	if mode == "" {
		mode = backplane.ModeWakeup
	}
	threshold := opts.FullModeByteThreshold
	if threshold <= 0 {
		threshold = defaultFullModeByteThreshold
	}
	prefix := opts.StreamPrefix
	if prefix == "" {
		prefix = "job/"
	}
	return &Backplane{client: opts.Client, mode: mode, threshold: threshold, prefix: prefix}, nil
}

func (b *Backplane) streamName(jobID string) string { return b.prefix + jobID }

// Publish announces e on jobID's Pulse stream. In ModeWakeup, or in
// ModeFull when the marshaled event exceeds the byte threshold, only
// {job_id, seq} is published; receivers must read the event back from the
// EventStore, exactly as spec.md §4.6 describes.
func (b *Backplane) Publish(ctx context.Context, jobID string, e *engine.Event) error {
	env := envelope{JobID: jobID, Seq: e.Seq}
	if b.mode == backplane.ModeFull {
		env.Event = e
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("pulse backplane: marshal envelope: %w", err)
	}
	if env.Event != nil && len(payload) > b.threshold {
		env.Event = nil
		payload, err = json.Marshal(env)
		if err != nil {
			return fmt.Errorf("pulse backplane: marshal wakeup envelope: %w", err)
		}
	}
	stream, err := b.client.Stream(b.streamName(jobID))
	if err != nil {
		return fmt.Errorf("pulse backplane: open stream: %w", err)
	}
	_, err = stream.Add(ctx, string(e.Type), payload)
	return err
}

// Subscribe opens a Pulse consumer group on jobID's stream and decodes
// incoming envelopes into backplane.Notification. The returned channel is
// closed when ctx is done or the sink's underlying channel closes.
func (b *Backplane) Subscribe(ctx context.Context, jobID string) (<-chan backplane.Notification, error) {
	stream, err := b.client.Stream(b.streamName(jobID))
	if err != nil {
		return nil, fmt.Errorf("pulse backplane: open stream: %w", err)
	}
	sink, err := stream.NewSink(ctx, sinkName)
	if err != nil {
		return nil, fmt.Errorf("pulse backplane: new sink: %w", err)
	}

	out := make(chan backplane.Notification, 64)
	go b.consume(ctx, sink, out)
	return out, nil
}

func (b *Backplane) consume(ctx context.Context, sink clientspulse.Sink, out chan<- backplane.Notification) {
	defer close(out)
	defer sink.Close(context.Background())
	ch := sink.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal(evt.Payload, &env); err != nil {
				// Malformed payloads are dropped; the subscriber still has
				// EventStore polling as the source of truth.
				continue
			}
			n := backplane.Notification{JobID: env.JobID, Seq: env.Seq, Event: env.Event}
			select {
			case out <- n:
			case <-ctx.Done():
				return
			}
			_ = sink.Ack(ctx, evt)
		}
	}
}

// Close releases resources held by the Backplane's Pulse client.
func (b *Backplane) Close(ctx context.Context) error {
	return b.client.Close(ctx)
}
