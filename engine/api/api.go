// Package api is the Job API (§6.1): the single entry point a transport
// layer (HTTP handler, gRPC service, CLI) calls to create jobs, read their
// current snapshot, cancel them, and stream their event log. It lives one
// level below the root engine package (rather than inside it, as package
// engine itself) because every one of its dependencies — engine/rules,
// engine/store, engine/scheduler, engine/sse — already imports engine for
// the domain types; declaring API in package engine directly would create
// an import cycle. Every other behavior package in this module (bus,
// executor, scheduler, sse, ...) follows the same "root engine holds only
// domain types, behavior lives in a sibling package" layout, so this is
// consistent with the rest of the tree, not a one-off.
package api

import (
	"context"
	"fmt"

	"github.com/dinqhq/profile-engine/engine"
	"github.com/dinqhq/profile-engine/engine/rules"
	"github.com/dinqhq/profile-engine/engine/sse"
	"github.com/dinqhq/profile-engine/engine/store"
)

// Scheduler is the subset of behavior API needs from a job engine. Both
// scheduler.Engine (the in-process worker pool) and scheduler/temporal's
// Temporal-backed Engine satisfy it, so API is agnostic to which one is
// polling Jobs.
type Scheduler interface {
	// Run polls Jobs for ready cards and dispatches them until ctx is done.
	Run(ctx context.Context) error
	// CancelJob cooperatively cancels every non-terminal card of jobID and
	// transitions the job to JobCancelled.
	CancelJob(ctx context.Context, jobID string) error
}

// API composes the RulesEngine, JobStore, Scheduler, and sse.Subscriber
// construction named in §6.1: CreateJob plans and persists, the Scheduler
// (run independently by the caller) dispatches, and
// GetJobSnapshot/CancelJob/StreamEvents read and control a job in flight.
type API struct {
	Rules      *rules.Engine
	Jobs       store.JobStore
	Scheduler  Scheduler
	Subscriber *sse.Subscriber
}

// New wires an API from its constituent pieces. jobs and the store backing
// sub should be the same instance (conventionally also the same instance
// Scheduler was constructed against), so a card completion observed via
// StreamEvents always reflects what GetJobSnapshot would return.
func New(rulesEngine *rules.Engine, jobs store.JobStore, sched Scheduler, sub *sse.Subscriber) *API {
	return &API{Rules: rulesEngine, Jobs: jobs, Scheduler: sched, Subscriber: sub}
}

// JobSnapshot is the point-in-time read model returned by GetJobSnapshot: the
// Job row plus every Card belonging to it, enough for a client to render
// current progress without opening a stream.
type JobSnapshot struct {
	Job   *engine.Job
	Cards []*engine.Card
}

// CreateJob plans source's card DAG (optionally narrowed to
// requestedCards), derives the job's SubjectKey from (source, input) via
// rules.SubjectKey, and persists the job and its initial cards. The caller
// is responsible for running a Scheduler concurrently; CreateJob itself
// never blocks on execution.
func (a *API) CreateJob(ctx context.Context, source string, input, options map[string]string, userID string, requestedCards []string) (*engine.Job, error) {
	cards, err := a.Rules.Plan(source, requestedCards)
	if err != nil {
		return nil, fmt.Errorf("api: create job: %w", err)
	}
	subjectKey := rules.SubjectKey(source, input)
	job, err := a.Jobs.CreateJob(ctx, source, input, options, userID, subjectKey, cards)
	if err != nil {
		return nil, fmt.Errorf("api: create job: %w", err)
	}
	return job, nil
}

// GetJobSnapshot returns jobID's current Job row and full card list.
// Returns (nil, nil) if jobID does not exist.
func (a *API) GetJobSnapshot(ctx context.Context, jobID string) (*JobSnapshot, error) {
	job, err := a.Jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, nil
	}
	cards, err := a.Jobs.ListCardsForJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return &JobSnapshot{Job: job, Cards: cards}, nil
}

// CancelJob requests cooperative cancellation of jobID, delegating to the
// Scheduler so the cancellation token reaches any in-flight handler.
func (a *API) CancelJob(ctx context.Context, jobID string) error {
	return a.Scheduler.CancelJob(ctx, jobID)
}

// StreamEvents replays jobID's event log from afterSeq and follows live
// events until a terminal event, client disconnect, or the configured max
// stream duration, delegating to the Subscriber.
func (a *API) StreamEvents(ctx context.Context, jobID string, afterSeq int64, sink sse.Sink) error {
	return a.Subscriber.Stream(ctx, jobID, afterSeq, sink)
}
