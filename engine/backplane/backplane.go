// Package backplane defines the optional cross-process Backplane (§4.6):
// a best-effort publish-subscribe channel that lets an SSESubscriber
// running in one process learn about events appended by a Scheduler
// running in another, without ever being the source of truth — every
// Backplane implementation degrades silently to EventStore polling when
// unavailable.
package backplane

import (
	"context"

	"github.com/dinqhq/profile-engine/engine"
)

// Mode selects how much of an event the Backplane carries.
type Mode string

const (
	// ModeFull publishes the entire event, if under the implementation's
	// byte threshold.
	ModeFull Mode = "full"
	// ModeWakeup publishes only the (job_id, seq) pair; receivers must read
	// the event back from the EventStore.
	ModeWakeup Mode = "wakeup"
)

// Notification is what a Backplane delivers to a Subscribe call. Event is
// non-nil only in ModeFull (and only when the event fit under the
// implementation's size threshold); callers must treat a nil Event as
// "something new happened at or after Seq, go read the store".
type Notification struct {
	JobID string
	Seq   int64
	Event *engine.Event
}

// Backplane is the optional cross-process fan-out channel. Publish and
// Subscribe are both best-effort: an implementation that cannot reach its
// transport should return an error from Publish (callers log and continue)
// rather than block, and a Subscribe whose transport drops out should close
// its channel rather than hang.
type Backplane interface {
	// Publish announces e on jobID's channel, in whichever Mode this
	// Backplane was configured with.
	Publish(ctx context.Context, jobID string, e *engine.Event) error
	// Subscribe opens a feed of Notifications for jobID. The returned
	// channel is closed when ctx is done or the underlying transport is
	// torn down; callers should keep polling the EventStore independently
	// rather than assume this channel alone is sufficient.
	Subscribe(ctx context.Context, jobID string) (<-chan Notification, error)
	// Close releases resources held by the Backplane.
	Close(ctx context.Context) error
}
