// Package temporal is the Temporal-backed alternate engine named in §4.7
// and wired in the domain stack as go.temporal.io/sdk's home: "Scheduler
// (C12), alternate engine: scheduler/temporal". Like engine/scheduler.Engine
// it satisfies engine/api.Scheduler. It runs the identical claim/dispatch/retry logic as
// engine/scheduler.Engine — this package never reimplements that logic, it
// wraps it — only the polling driver changes, from an in-process ticker to
// a long-running Temporal workflow that executes pollActivity on a
// cadence, giving poll-loop durability, retries, and observability through
// Temporal's own worker/workflow history instead of the in-process Engine's
// goroutine ticker.
//
// Adapted from the teacher's runtime/agent/engine/temporal adapter, trimmed
// from its generic multi-workflow agent-runtime engine.Engine contract
// (registered per-agent workflows, tool-call activities, query handlers,
// OTEL interceptors, signal channels) down to the single long-running
// "poll and dispatch" workflow this domain needs; see DESIGN.md for what
// was dropped and why.
package temporal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/dinqhq/profile-engine/engine/scheduler"
	"github.com/dinqhq/profile-engine/engine/telemetry"
)

const (
	pollWorkflowName = "profile_engine.scheduler.poll"
	pollActivityName = "profile_engine.scheduler.poll_once"
	pollWorkflowID   = "profile-engine-scheduler-poll"

	// iterationsPerRun bounds the poll workflow's event history: Temporal
	// workflows that run indefinitely must periodically continue-as-new, per
	// the SDK's documented pattern for long-running workflows.
	iterationsPerRun = 500
)

// Options configures the Temporal-backed alternate Engine.
type Options struct {
	// Client is a pre-configured Temporal client. If nil, New dials one from
	// ClientOptions.
	Client client.Client
	// ClientOptions configures the client New dials when Client is nil.
	ClientOptions client.Options
	// TaskQueue is the worker's task queue; required.
	TaskQueue string
	// PollInterval is how often the poll workflow schedules a pollActivity
	// call, mirroring config.Config.PollInterval's role for the in-process
	// Engine.
	PollInterval time.Duration
	// WorkerOptions is forwarded to worker.New.
	WorkerOptions worker.Options

	Logger  telemetry.Logger
	Metrics telemetry.Metrics
}

// Engine is the Temporal-backed alternate to scheduler.Engine. It satisfies
// the same Scheduler contract api.API depends on (Run, CancelJob — see
// engine/api.Scheduler), so either engine can be dropped in without the
// rest of the Job API changing.
type Engine struct {
	inner *scheduler.Engine
	opts  Options

	client      client.Client
	ownedClient bool
	worker      worker.Worker
}

// New constructs a temporal-backed Engine wrapping inner. pollActivity
// calls inner.PollOnce directly, so claim/dispatch/retry behavior is
// identical to the in-process Engine; only the polling cadence's driver
// differs.
func New(inner *scheduler.Engine, opts Options) (*Engine, error) {
	if inner == nil {
		return nil, fmt.Errorf("temporal: inner scheduler.Engine is required")
	}
	if opts.TaskQueue == "" {
		return nil, fmt.Errorf("temporal: TaskQueue is required")
	}
	opts.PollInterval = normalizePollInterval(opts.PollInterval)

	e := &Engine{inner: inner, opts: opts}
	if opts.Client != nil {
		e.client = opts.Client
		return e, nil
	}
	cli, err := client.Dial(opts.ClientOptions)
	if err != nil {
		return nil, fmt.Errorf("temporal: dialing client: %w", err)
	}
	e.client = cli
	e.ownedClient = true
	return e, nil
}

// Run registers the poll workflow and activity on a worker for
// opts.TaskQueue, starts it, ensures the singleton poll workflow is
// executing, and blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.worker = worker.New(e.client, e.opts.TaskQueue, e.opts.WorkerOptions)
	e.worker.RegisterActivityWithOptions(e.pollActivity, activity.RegisterOptions{Name: pollActivityName})
	e.worker.RegisterWorkflowWithOptions(e.pollWorkflow, workflow.RegisterOptions{Name: pollWorkflowName})

	if err := e.worker.Start(); err != nil {
		return fmt.Errorf("temporal: starting worker: %w", err)
	}
	defer e.worker.Stop()

	if err := e.ensurePollWorkflowRunning(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	return ctx.Err()
}

// CancelJob delegates directly to the wrapped in-process Engine: it fires
// that Engine's per-job engine/cancel.Source, which reaches handlers
// dispatched by this process's pollActivity, and marks the job's
// non-terminal cards and the job itself cancelled in the store. No Temporal
// signal is sent, so a handler running in another process is not
// interrupted by the token.
func (e *Engine) CancelJob(ctx context.Context, jobID string) error {
	return e.inner.CancelJob(ctx, jobID)
}

// Close stops the worker (if started) and releases the client, if this
// Engine dialed it itself.
func (e *Engine) Close() {
	if e.worker != nil {
		e.worker.Stop()
	}
	if e.ownedClient && e.client != nil {
		e.client.Close()
	}
}

func (e *Engine) ensurePollWorkflowRunning(ctx context.Context) error {
	_, err := e.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        pollWorkflowID,
		TaskQueue: e.opts.TaskQueue,
	}, pollWorkflowName, e.opts.PollInterval)
	if err != nil && !isAlreadyStarted(err) {
		return fmt.Errorf("temporal: starting poll workflow: %w", err)
	}
	return nil
}

// normalizePollInterval applies PollInterval's default, mirroring
// config.Config's own zero-value defaulting conventions elsewhere in this
// module.
func normalizePollInterval(d time.Duration) time.Duration {
	if d <= 0 {
		return 2 * time.Second
	}
	return d
}

// isAlreadyStarted reports whether err is Temporal's "workflow execution
// already started" error, which ensurePollWorkflowRunning treats as success
// (another process's Engine already has the singleton poll workflow
// running), not a failure. String-matched rather than type-asserted
// against go.temporal.io/api/serviceerror to avoid pulling in a direct
// dependency on that module for a single error check.
func isAlreadyStarted(err error) bool {
	return err != nil && strings.Contains(err.Error(), "already started")
}

// pollActivity is the Temporal Activity that runs exactly one
// scheduler.Engine.PollOnce pass: the same claim/dispatch/retry logic the
// in-process Engine's ticker drives, now executed as a Temporal activity
// with the task queue's own visibility and retry semantics wrapped around
// it (the activity itself has no retries configured — pollActivity's own
// claim step is already idempotent and safe to re-run from the next
// workflow tick, so a failed activity attempt is logged and skipped rather
// than retried within the same tick).
func (e *Engine) pollActivity(ctx context.Context) (int, error) {
	return e.inner.PollOnce(ctx)
}

// pollWorkflow is the long-running workflow that drives pollActivity on a
// cadence. It continues-as-new every iterationsPerRun ticks to keep its
// event history bounded, per Temporal's documented pattern for
// indefinitely long-running workflows.
func (e *Engine) pollWorkflow(ctx workflow.Context, interval time.Duration) error {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: interval + 10*time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	}
	actx := workflow.WithActivityOptions(ctx, ao)

	logger := workflow.GetLogger(ctx)
	for i := 0; i < iterationsPerRun; i++ {
		var claimed int
		if err := workflow.ExecuteActivity(actx, pollActivityName).Get(actx, &claimed); err != nil {
			logger.Error("poll activity failed", "error", err)
		}
		if err := workflow.Sleep(ctx, interval); err != nil {
			return err
		}
	}
	return workflow.NewContinueAsNewError(ctx, pollWorkflowName, interval)
}
