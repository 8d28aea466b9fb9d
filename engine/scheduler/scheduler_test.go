package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dinqhq/profile-engine/engine"
	"github.com/dinqhq/profile-engine/engine/bus"
	"github.com/dinqhq/profile-engine/engine/clock"
	"github.com/dinqhq/profile-engine/engine/config"
	"github.com/dinqhq/profile-engine/engine/executor"
	"github.com/dinqhq/profile-engine/engine/store"
	"github.com/dinqhq/profile-engine/engine/store/memory"
	"github.com/dinqhq/profile-engine/engine/telemetry"
)

func newTestExecutor(jobs store.JobStore, artifacts store.ArtifactStore, pub *bus.Publisher, reg *executor.Registry) *executor.Executor {
	return &executor.Executor{
		Registry:  reg,
		Jobs:      jobs,
		Artifacts: artifacts,
		Publisher: pub,
		Config:    config.Config{},
		Clock:     clock.Real(),
		Logger:    telemetry.NewNoopLogger(),
		Metrics:   telemetry.NewNoopMetrics(),
		Tracer:    telemetry.NewNoopTracer(),
	}
}

// TestEngineRespectsConcurrencyCap drives enough "work" cards through a
// single concurrency group to guarantee overlap, and asserts the number
// observed running at once never exceeds the configured group cap even
// though the worker pool itself has far more capacity.
func TestEngineRespectsConcurrencyCap(t *testing.T) {
	t.Parallel()

	const groupCap = 2
	const numCards = 6

	var (
		mu      sync.Mutex
		current int
		maxSeen int
	)

	reg := executor.NewRegistry()
	reg.Register("work", func(ctx context.Context, hc *executor.HandlerContext) (engine.CardOutput, error) {
		mu.Lock()
		current++
		if current > maxSeen {
			maxSeen = current
		}
		mu.Unlock()

		time.Sleep(30 * time.Millisecond)

		mu.Lock()
		current--
		mu.Unlock()
		return engine.CardOutput{Data: map[string]any{"ok": true}}, nil
	})

	jobs := memory.New(nil)
	pub := bus.NewPublisher(jobs, bus.New(), nil, telemetry.NewNoopLogger())

	descs := make([]store.CardDescriptor, 0, numCards)
	for i := 0; i < numCards; i++ {
		descs = append(descs, store.CardDescriptor{CardType: "work", ConcurrencyGroup: "scrape"})
	}
	_, err := jobs.CreateJob(context.Background(), "github", nil, nil, "user-1", "subject-1", descs)
	require.NoError(t, err)

	exec := newTestExecutor(jobs, jobs, pub, reg)
	cfg := config.Config{
		MaxWorkers:      10,
		PollInterval:    5 * time.Millisecond,
		ConcurrencyCaps: map[string]int{"scrape": groupCap},
	}
	eng := New(jobs, exec, pub, cfg, clock.Real(), telemetry.NewNoopLogger(), telemetry.NewNoopMetrics())

	ctx, cancel := context.WithTimeout(context.Background(), 400*time.Millisecond)
	defer cancel()
	_ = eng.Run(ctx)

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, maxSeen, 1, "at least one card should have run")
	assert.LessOrEqual(t, maxSeen, groupCap, "observed concurrency must never exceed the configured group cap")
}

// TestEngineDispatchesReadyCardsInPriorityOrder pins the worker pool to a
// single slot so dispatch order is fully deterministic, then asserts cards
// are claimed and executed in (priority asc) order.
func TestEngineDispatchesReadyCardsInPriorityOrder(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		order []string
	)

	reg := executor.NewRegistry()
	reg.Register("work", func(ctx context.Context, hc *executor.HandlerContext) (engine.CardOutput, error) {
		mu.Lock()
		order = append(order, hc.Card.CardType+":"+hc.Card.Input["label"])
		mu.Unlock()
		return engine.CardOutput{}, nil
	})

	jobs := memory.New(nil)
	pub := bus.NewPublisher(jobs, bus.New(), nil, telemetry.NewNoopLogger())

	_, err := jobs.CreateJob(context.Background(), "github", nil, nil, "user-1", "subject-1", []store.CardDescriptor{
		{CardType: "work", Priority: 5, Input: map[string]string{"label": "low"}},
		{CardType: "work", Priority: 0, Input: map[string]string{"label": "high"}},
		{CardType: "work", Priority: 1, Input: map[string]string{"label": "mid"}},
	})
	require.NoError(t, err)

	exec := newTestExecutor(jobs, jobs, pub, reg)
	cfg := config.Config{MaxWorkers: 1, PollInterval: 5 * time.Millisecond}
	eng := New(jobs, exec, pub, cfg, clock.Real(), telemetry.NewNoopLogger(), telemetry.NewNoopMetrics())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = eng.Run(ctx)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 3)
	assert.Equal(t, []string{"work:high", "work:mid", "work:low"}, order)
}

// TestEngineCancelJobMarksPendingCardsCancelled exercises CancelJob against
// a job with an unstarted dependent card: the dependent must transition to
// cancelled and the job itself to JobCancelled, without ever running.
func TestEngineCancelJobMarksPendingCardsCancelled(t *testing.T) {
	t.Parallel()

	var ran int32

	reg := executor.NewRegistry()
	reg.Register("blocker", func(ctx context.Context, hc *executor.HandlerContext) (engine.CardOutput, error) {
		<-ctx.Done()
		return engine.CardOutput{}, ctx.Err()
	})
	reg.Register("dependent", func(ctx context.Context, hc *executor.HandlerContext) (engine.CardOutput, error) {
		atomic.AddInt32(&ran, 1)
		return engine.CardOutput{}, nil
	})

	jobs := memory.New(nil)
	pub := bus.NewPublisher(jobs, bus.New(), nil, telemetry.NewNoopLogger())

	job, err := jobs.CreateJob(context.Background(), "github", nil, nil, "user-1", "subject-1", []store.CardDescriptor{
		{CardType: "blocker"},
		{CardType: "dependent", DependsOn: []string{"blocker"}},
	})
	require.NoError(t, err)

	exec := newTestExecutor(jobs, jobs, pub, reg)
	cfg := config.Config{MaxWorkers: 2, PollInterval: 5 * time.Millisecond}
	eng := New(jobs, exec, pub, cfg, clock.Real(), telemetry.NewNoopLogger(), telemetry.NewNoopMetrics())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = eng.Run(ctx) }()

	// Give the blocker card time to be claimed and start running.
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, eng.CancelJob(context.Background(), job.ID))
	time.Sleep(20 * time.Millisecond)

	cards, err := jobs.ListCardsForJob(context.Background(), job.ID)
	require.NoError(t, err)
	for _, c := range cards {
		assert.Equal(t, engine.CardCancelled, c.Status, "card %s must be cancelled, not left pending/running", c.CardType)
	}
	got, err := jobs.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.JobCancelled, got.Status)
	assert.Equal(t, int32(0), atomic.LoadInt32(&ran), "the dependent card must never run once its job is cancelled")
}
