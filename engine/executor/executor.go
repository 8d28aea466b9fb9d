// Package executor is the PipelineExecutor (§4.8): given a claimed Card, it
// loads the owning Job, dispatches by card_type to a registered
// CardHandler, applies the budgeting policy, and returns the card's output
// for the scheduler to persist and publish.
package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dinqhq/profile-engine/engine"
	"github.com/dinqhq/profile-engine/engine/bus"
	"github.com/dinqhq/profile-engine/engine/clock"
	"github.com/dinqhq/profile-engine/engine/config"
	"github.com/dinqhq/profile-engine/engine/fetch"
	"github.com/dinqhq/profile-engine/engine/jsonutil"
	"github.com/dinqhq/profile-engine/engine/llm"
	"github.com/dinqhq/profile-engine/engine/pipelineerr"
	"github.com/dinqhq/profile-engine/engine/store"
	"github.com/dinqhq/profile-engine/engine/telemetry"
)

// CardHandler executes one card given its HandlerContext, returning the
// card's output data (already merged/shaped; PruneEmpty and prefill-merge
// are applied by the caller).
type CardHandler func(ctx context.Context, hc *HandlerContext) (engine.CardOutput, error)

// Registry dispatches by card_type: an exact match wins; otherwise a
// "resource.*"-registered handler is used as the fallback for any card type
// with the resource. prefix, per §4.8's "dynamic dispatch by card_type"
// redesign note (this replaces the original's big if/elif chain keyed on
// source+card_type).
type Registry struct {
	handlers map[string]CardHandler
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry { return &Registry{handlers: make(map[string]CardHandler)} }

// Register installs h for the exact card type (or "resource.*" for the
// generic resource-node fallback).
func (r *Registry) Register(cardType string, h CardHandler) { r.handlers[cardType] = h }

// Lookup resolves the CardHandler for cardType.
func (r *Registry) Lookup(cardType string) (CardHandler, bool) {
	if h, ok := r.handlers[cardType]; ok {
		return h, true
	}
	if strings.HasPrefix(cardType, "resource.") {
		if h, ok := r.handlers["resource.*"]; ok {
			return h, true
		}
	}
	return nil, false
}

// HandlerContext is everything a CardHandler needs beyond its own (ctx,
// Card) pair: job identity, stores, the fetch/LLM abstractions, config, and
// telemetry.
type HandlerContext struct {
	Job  *engine.Job
	Card *engine.Card

	Jobs      store.JobStore
	Artifacts store.ArtifactStore
	Publisher *bus.Publisher

	Fetchers *fetch.Registry
	LLM      llm.ChatProvider

	Config config.Config
	Clock  clock.Clock

	Logger  telemetry.Logger
	Metrics telemetry.Metrics
	Tracer  telemetry.Tracer
}

// Progress emits a card.progress event, mirroring the original's progress()
// closure.
func (hc *HandlerContext) Progress(step, message string, data map[string]any) {
	payload := map[string]any{"card": hc.Card.CardType, "step": step, "message": message}
	if data != nil {
		payload["data"] = data
	}
	_, _ = hc.Publisher.Publish(context.Background(), hc.Job.ID, hc.Card.ID, engine.EventCardProgress, payload)
}

// Prefill records partial data against targetCardType's not-yet-completed
// output and emits card.prefill, per §4.8's atomic prefill semantics. The
// target card is resolved by scanning the job's cards for a matching
// card_type; if none is found (e.g. the card wasn't planned) this is a
// silent no-op, matching the original's best-effort _lookup_card_id.
func (hc *HandlerContext) Prefill(ctx context.Context, targetCardType string, data map[string]any) {
	cards, err := hc.Jobs.ListCardsForJob(ctx, hc.Job.ID)
	if err != nil {
		return
	}
	var targetID string
	for _, c := range cards {
		if c.CardType == targetCardType {
			targetID = c.ID
			break
		}
	}
	if targetID == "" {
		return
	}
	if err := hc.Jobs.RecordPrefill(ctx, targetID, data); err != nil {
		return
	}
	_, _ = hc.Publisher.Publish(ctx, hc.Job.ID, targetID, engine.EventCardPrefill, map[string]any{
		"card":    targetCardType,
		"payload": map[string]any{"data": data},
	})
}

// Executor is the concrete PipelineExecutor.
type Executor struct {
	Registry *Registry
	Jobs     store.JobStore

	Fetchers *fetch.Registry
	LLM      llm.ChatProvider

	Config config.Config
	Clock  clock.Clock

	Publisher *bus.Publisher
	Artifacts store.ArtifactStore

	Logger  telemetry.Logger
	Metrics telemetry.Metrics
	Tracer  telemetry.Tracer
}

// Result is what ExecuteCard returns for the scheduler to persist.
type Result struct {
	Output engine.CardOutput
	// DeferredCards are additional cards the handler wants enqueued (e.g.
	// resource.github.best_pr) because this card's budget ran low.
	DeferredCards []store.CardDescriptor
}

// ExecuteCard runs card to completion (or failure), honoring its soft
// budget (§4.8's budgeting policy): when the card's handler is still
// running past its soft budget, the executor does not forcibly stop it
// (only a hard timeout or job cancellation does that, both carried on ctx
// by the caller); the soft budget instead governs what individual
// handlers choose to skip, which they observe via hc.Clock/ctx directly.
func (e *Executor) ExecuteCard(ctx context.Context, job *engine.Job, card *engine.Card) (Result, error) {
	handler, ok := e.Registry.Lookup(card.CardType)
	if !ok {
		return Result{}, pipelineerr.New(pipelineerr.Internal, fmt.Sprintf("no handler registered for card type %q", card.CardType))
	}

	hc := &HandlerContext{
		Job: job, Card: card,
		Jobs: e.Jobs, Artifacts: e.Artifacts, Publisher: e.Publisher,
		Fetchers: e.Fetchers, LLM: e.LLM,
		Config: e.Config, Clock: e.Clock,
		Logger: e.Logger, Metrics: e.Metrics, Tracer: e.Tracer,
	}

	spanCtx, span := e.Tracer.Start(ctx, "executor.execute_card")
	defer span.End()

	start := hc.Clock.Now()
	out, err := handler(spanCtx, hc)
	elapsed := hc.Clock.Since(start)
	e.Metrics.RecordTimer("card_duration", elapsed, "card_type", card.CardType)

	if err != nil {
		span.RecordError(err)
		return Result{}, err
	}
	if pruned, ok := jsonutil.PruneEmpty(out.Data).(map[string]any); ok {
		out.Data = pruned
	} else {
		out.Data = nil
	}
	return Result{Output: out}, nil
}

// SoftBudgetExceeded reports whether elapsed has crossed cardType's soft
// budget, the signal handlers use to skip optional enrichment and fall back
// to a heuristic per §4.8.
func SoftBudgetExceeded(cfg config.Config, cardType string, elapsed time.Duration) bool {
	return elapsed >= cfg.CardBudget(cardType)
}
