package sse

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dinqhq/profile-engine/engine"
	"github.com/dinqhq/profile-engine/engine/bus"
	"github.com/dinqhq/profile-engine/engine/config"
	"github.com/dinqhq/profile-engine/engine/store/memory"
)

// recordingSink captures every Event/Heartbeat call, safe for concurrent use
// since Stream delivers from whichever goroutine observes the bus/ticker.
type recordingSink struct {
	mu         sync.Mutex
	events     []*engine.Event
	heartbeats int
}

func (s *recordingSink) Event(e *engine.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) Heartbeat() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heartbeats++
	return nil
}

func (s *recordingSink) seqs() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, len(s.events))
	for i, e := range s.events {
		out[i] = e.Seq
	}
	return out
}

// TestStreamReplaysFromAfterSeq is the core resume-correctness case: a
// client that reconnects with afterSeq=2 must receive only seq 3+, not a
// duplicate of what it already saw.
func TestStreamReplaysFromAfterSeq(t *testing.T) {
	t.Parallel()

	jobs := memory.New(nil)
	ctx := context.Background()
	job, err := jobs.CreateJob(ctx, "github", nil, nil, "user-1", "subject-1", nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := jobs.AppendEvent(ctx, job.ID, "", engine.EventCardProgress, nil)
		require.NoError(t, err)
	}
	_, err = jobs.AppendEvent(ctx, job.ID, "", engine.EventJobCompleted, nil)
	require.NoError(t, err)

	sub := New(jobs, bus.New(), nil, config.Config{})
	sink := &recordingSink{}

	err = sub.Stream(context.Background(), job.ID, 2, sink)
	require.NoError(t, err)

	assert.Equal(t, []int64{3, 4}, sink.seqs(), "resume from afterSeq=2 must replay only events after it")
}

// TestStreamTerminatesOnTerminalEvent ensures a fully-replayed, already-
// terminal job's stream returns promptly without falling through to the
// live-follow loop (which would otherwise hang waiting on the bus/ticker).
func TestStreamTerminatesOnTerminalEvent(t *testing.T) {
	t.Parallel()

	jobs := memory.New(nil)
	ctx := context.Background()
	job, err := jobs.CreateJob(ctx, "github", nil, nil, "user-1", "subject-1", nil)
	require.NoError(t, err)
	_, err = jobs.AppendEvent(ctx, job.ID, "", engine.EventJobFailed, nil)
	require.NoError(t, err)

	sub := New(jobs, bus.New(), nil, config.Config{})
	sink := &recordingSink{}

	done := make(chan error, 1)
	go func() { done <- sub.Stream(context.Background(), job.ID, 0, sink) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Stream did not return after replaying a terminal event")
	}
	assert.Equal(t, []int64{1}, sink.seqs())
}

// TestStreamFollowsLiveBusAfterReplay confirms that once replay catches up
// with no terminal event, new events published to the Bus are still
// delivered, in order, until the terminal event arrives.
func TestStreamFollowsLiveBusAfterReplay(t *testing.T) {
	t.Parallel()

	jobs := memory.New(nil)
	b := bus.New()
	ctx := context.Background()
	job, err := jobs.CreateJob(ctx, "github", nil, nil, "user-1", "subject-1", nil)
	require.NoError(t, err)
	_, err = jobs.AppendEvent(ctx, job.ID, "", engine.EventCardProgress, nil)
	require.NoError(t, err)

	sub := New(jobs, b, nil, config.Config{SSEHeartbeatInterval: 50 * time.Millisecond})
	sink := &recordingSink{}

	done := make(chan error, 1)
	go func() { done <- sub.Stream(context.Background(), job.ID, 0, sink) }()

	// Give Stream time to subscribe to the bus before publishing live events.
	time.Sleep(20 * time.Millisecond)

	e2, err := jobs.AppendEvent(ctx, job.ID, "", engine.EventCardProgress, nil)
	require.NoError(t, err)
	b.Publish(e2)

	e3, err := jobs.AppendEvent(ctx, job.ID, "", engine.EventJobCompleted, nil)
	require.NoError(t, err)
	b.Publish(e3)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Stream did not terminate after a live terminal event")
	}
	assert.Equal(t, []int64{1, 2, 3}, sink.seqs())
}

// TestStreamBackfillsGapFromLiveBus exercises the gap-detection path: a live
// bus event arriving out of order (seq 3 when only seq 1 was ever emitted)
// must trigger a backfill read from the EventStore rather than emitting 3
// directly and silently skipping 2.
func TestStreamBackfillsGapFromLiveBus(t *testing.T) {
	t.Parallel()

	jobs := memory.New(nil)
	b := bus.New()
	ctx := context.Background()
	job, err := jobs.CreateJob(ctx, "github", nil, nil, "user-1", "subject-1", nil)
	require.NoError(t, err)
	e1, err := jobs.AppendEvent(ctx, job.ID, "", engine.EventCardProgress, nil)
	require.NoError(t, err)
	_ = e1

	sub := New(jobs, b, nil, config.Config{SSEHeartbeatInterval: 50 * time.Millisecond})
	sink := &recordingSink{}

	done := make(chan error, 1)
	go func() { done <- sub.Stream(context.Background(), job.ID, 0, sink) }()
	time.Sleep(20 * time.Millisecond)

	// Persist two more events directly (as a concurrent writer would) but
	// only publish the last one on the bus, simulating a missed/dropped
	// delivery of the intermediate event.
	_, err = jobs.AppendEvent(ctx, job.ID, "", engine.EventCardProgress, nil)
	require.NoError(t, err)
	e3, err := jobs.AppendEvent(ctx, job.ID, "", engine.EventJobCompleted, nil)
	require.NoError(t, err)
	b.Publish(e3)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Stream did not terminate after the backfilled terminal event")
	}
	assert.Equal(t, []int64{1, 2, 3}, sink.seqs(), "the dropped seq 2 must be backfilled, not skipped")
}
