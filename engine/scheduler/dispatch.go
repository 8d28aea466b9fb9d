package scheduler

import (
	"context"
	"time"

	"github.com/dinqhq/profile-engine/engine"
	"github.com/dinqhq/profile-engine/engine/cancel"
	"github.com/dinqhq/profile-engine/engine/pipelineerr"
	"github.com/dinqhq/profile-engine/engine/store"
)

// dispatch runs one claimed card to completion, applying the rate-limiter
// smoothing pass, the hard timeout, and the retry/cancellation decision,
// then persists and publishes the outcome.
func (e *Engine) dispatch(ctx context.Context, card *engine.Card) {
	job, err := e.Jobs.GetJob(ctx, card.JobID)
	if err != nil || job == nil {
		e.Logger.Error(ctx, "dispatch: job lookup failed", "job_id", card.JobID, "error", err)
		return
	}

	jobToken := e.sourceFor(ctx, job.ID).Token()
	if _, err := e.Publisher.Publish(ctx, job.ID, card.ID, engine.EventCardStarted, map[string]any{"card": card.CardType, "attempt": card.AttemptCount}); err != nil {
		e.Logger.Error(ctx, "publish card.started failed", "card_id", card.ID, "error", err)
	}

	if lim := e.rateLimiterFor(card.ConcurrencyGroup); lim != nil {
		if err := lim.Wait(jobToken); err != nil {
			e.finishCancelled(ctx, job.ID, card)
			return
		}
	}

	hardTimeout := e.Config.CardBudget(card.CardType) * hardTimeoutMultiplier
	cardCtx, cancelCard := context.WithTimeout(jobToken, hardTimeout)
	defer cancelCard()

	result, execErr := e.Executor.ExecuteCard(cardCtx, job, card)
	if execErr != nil {
		e.handleFailure(ctx, cardCtx, job.ID, card, execErr)
		return
	}

	update := store.CardUpdate{Status: engine.CardCompleted, Output: &result.Output}
	if _, _, err := e.Publisher.PublishWithCardUpdate(ctx, e.Jobs, card.ID, update, job.ID, engine.EventCardCompleted, map[string]any{
		"card": card.CardType,
		"data": result.Output.Data,
	}); err != nil {
		e.Logger.Error(ctx, "publish card.completed failed", "card_id", card.ID, "error", err)
	}
	e.Metrics.IncCounter("cards_completed", 1, "card_type", card.CardType)

	if len(result.DeferredCards) > 0 {
		if _, err := e.Jobs.CreateCards(ctx, job.ID, result.DeferredCards); err != nil {
			e.Logger.Error(ctx, "enqueue deferred cards failed", "job_id", job.ID, "error", err)
		}
	}
}

// handleFailure classifies execErr and either requeues the card for retry,
// marks it cancelled, or marks it terminally failed, per §4.7 step 4/5.
func (e *Engine) handleFailure(ctx, cardCtx context.Context, jobID string, card *engine.Card, execErr error) {
	if cancel.IsCancelled(cardCtx) || cardCtx.Err() == context.Canceled {
		e.finishCancelled(ctx, jobID, card)
		return
	}

	kind := kindFromPipelineErr(execErr)
	if cardCtx.Err() == context.DeadlineExceeded {
		kind = pipelineerr.Timeout
	}

	maxAttempts := e.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if kind.Retryable() && card.AttemptCount < maxAttempts {
		e.Metrics.IncCounter("cards_retried", 1, "card_type", card.CardType)
		delay := jitteredBackoff(card.AttemptCount)
		if kind == pipelineerr.UpstreamRateLimited {
			delay = jitteredBackoff(card.AttemptCount + 1)
		}
		select {
		case <-time.After(delay):
		case <-cardCtx.Done():
		}
		if _, err := e.Jobs.UpdateCardStatus(ctx, card.ID, store.CardUpdate{Status: engine.CardReady}); err != nil {
			e.Logger.Error(ctx, "requeue card for retry failed", "card_id", card.ID, "error", err)
		}
		return
	}

	update := store.CardUpdate{
		Status: engine.CardFailed,
		Err:    &store.CardError{Kind: string(kind), Message: execErr.Error()},
	}
	if _, _, err := e.Publisher.PublishWithCardUpdate(ctx, e.Jobs, card.ID, update, jobID, engine.EventCardFailed, map[string]any{
		"card": card.CardType, "error_kind": string(kind), "message": execErr.Error(),
	}); err != nil {
		e.Logger.Error(ctx, "publish card.failed failed", "card_id", card.ID, "error", err)
	}
	e.Metrics.IncCounter("cards_failed", 1, "card_type", card.CardType)
}

func (e *Engine) finishCancelled(ctx context.Context, jobID string, card *engine.Card) {
	update := store.CardUpdate{Status: engine.CardCancelled}
	if _, _, err := e.Publisher.PublishWithCardUpdate(ctx, e.Jobs, card.ID, update, jobID, engine.EventCardCancelled, map[string]any{"card": card.CardType}); err != nil {
		e.Logger.Error(ctx, "publish card.cancelled failed", "card_id", card.ID, "error", err)
	}
}
