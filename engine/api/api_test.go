package api

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dinqhq/profile-engine/engine"
	"github.com/dinqhq/profile-engine/engine/bus"
	"github.com/dinqhq/profile-engine/engine/clock"
	"github.com/dinqhq/profile-engine/engine/config"
	"github.com/dinqhq/profile-engine/engine/executor"
	"github.com/dinqhq/profile-engine/engine/rules"
	"github.com/dinqhq/profile-engine/engine/scheduler"
	"github.com/dinqhq/profile-engine/engine/sse"
	"github.com/dinqhq/profile-engine/engine/store"
	"github.com/dinqhq/profile-engine/engine/store/memory"
	"github.com/dinqhq/profile-engine/engine/telemetry"
)

type collectingSink struct {
	mu     sync.Mutex
	events []*engine.Event
}

func (s *collectingSink) Event(e *engine.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *collectingSink) Heartbeat() error { return nil }

func (s *collectingSink) types() []engine.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]engine.EventType, len(s.events))
	for i, e := range s.events {
		out[i] = e.Type
	}
	return out
}

func newTestAPI(t *testing.T, planner rules.Planner) (*API, *memory.Store, *bus.Bus) {
	t.Helper()

	mem := memory.New(nil)
	b := bus.New()
	pub := bus.NewPublisher(mem, b, nil, telemetry.NewNoopLogger())

	reg := executor.NewRegistry()
	reg.Register("profile", func(ctx context.Context, hc *executor.HandlerContext) (engine.CardOutput, error) {
		return engine.CardOutput{Data: map[string]any{"name": "octocat"}}, nil
	})

	exec := &executor.Executor{
		Registry:  reg,
		Jobs:      mem,
		Artifacts: mem,
		Publisher: pub,
		Config:    config.Config{},
		Clock:     clock.Real(),
		Logger:    telemetry.NewNoopLogger(),
		Metrics:   telemetry.NewNoopMetrics(),
		Tracer:    telemetry.NewNoopTracer(),
	}

	cfg := config.Config{MaxWorkers: 4, PollInterval: 5 * time.Millisecond}
	sched := scheduler.New(mem, exec, pub, cfg, clock.Real(), telemetry.NewNoopLogger(), telemetry.NewNoopMetrics())

	rulesEngine := rules.New()
	rulesEngine.Register("fixture", planner)

	sub := sse.New(mem, b, nil, cfg)

	return New(rulesEngine, mem, sched, sub), mem, b
}

func singleCardPlan() []store.CardDescriptor {
	return []store.CardDescriptor{{CardType: "profile"}}
}

// TestAPICreateJobRunsToCompletionAndStreams exercises the full Job API
// surface end-to-end against the in-process store/scheduler/sse stack:
// CreateJob plans and persists, a real Scheduler drains it to completion,
// and StreamEvents replays the resulting event log from scratch.
func TestAPICreateJobRunsToCompletionAndStreams(t *testing.T) {
	t.Parallel()

	a, _, _ := newTestAPI(t, singleCardPlan)

	job, err := a.CreateJob(context.Background(), "fixture", map[string]string{"content": "octocat"}, nil, "user-1", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, job.SubjectKey)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	go func() { _ = a.Scheduler.Run(ctx) }()

	require.Eventually(t, func() bool {
		snap, err := a.GetJobSnapshot(context.Background(), job.ID)
		require.NoError(t, err)
		return snap != nil && snap.Job.Status == engine.JobCompleted
	}, 250*time.Millisecond, 5*time.Millisecond)

	snap, err := a.GetJobSnapshot(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, snap.Cards, 1)
	assert.Equal(t, "octocat", snap.Cards[0].Output.Data["name"])

	sink := &collectingSink{}
	require.NoError(t, a.StreamEvents(context.Background(), job.ID, 0, sink))
	assert.Contains(t, sink.types(), engine.EventJobCompleted)
}

// TestAPIGetJobSnapshotUnknownJobReturnsNil confirms the documented
// (nil, nil) contract for a job id that does not exist.
func TestAPIGetJobSnapshotUnknownJobReturnsNil(t *testing.T) {
	t.Parallel()

	a, _, _ := newTestAPI(t, singleCardPlan)
	snap, err := a.GetJobSnapshot(context.Background(), "does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, snap)
}

// TestAPICancelJobStopsBeforeCompletion verifies CancelJob reaches the
// scheduler and marks the job cancelled rather than completed.
func TestAPICancelJobStopsBeforeCompletion(t *testing.T) {
	t.Parallel()

	blocked := make(chan struct{})
	a, _, _ := newTestAPI(t, func() []store.CardDescriptor {
		return []store.CardDescriptor{{CardType: "blocker"}}
	})

	reg := executor.NewRegistry()
	reg.Register("blocker", func(ctx context.Context, hc *executor.HandlerContext) (engine.CardOutput, error) {
		<-blocked
		<-ctx.Done()
		return engine.CardOutput{}, ctx.Err()
	})
	// Swap in a registry with the blocking handler: rebuild the API's
	// Scheduler's Executor directly since newTestAPI only wires "profile".
	sched := a.Scheduler.(*scheduler.Engine)
	sched.Executor.Registry = reg

	job, err := a.CreateJob(context.Background(), "fixture", nil, nil, "user-1", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	go func() { _ = a.Scheduler.Run(ctx) }()
	close(blocked)

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, a.CancelJob(context.Background(), job.ID))
	time.Sleep(20 * time.Millisecond)

	snap, err := a.GetJobSnapshot(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.JobCancelled, snap.Job.Status)
}
