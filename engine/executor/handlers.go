package executor

import (
	"context"
	"fmt"

	"github.com/dinqhq/profile-engine/engine"
	"github.com/dinqhq/profile-engine/engine/fetch"
	"github.com/dinqhq/profile-engine/engine/jsonutil"
	"github.com/dinqhq/profile-engine/engine/pipelineerr"
)

// resourceHandler is the generic "resource.*" CardHandler: it looks up the
// registered Fetcher for the card's exact type, runs it, and persists the
// result as an artifact of the same name. This is the only handler that
// performs external I/O, per §4.10.
func resourceHandler(ctx context.Context, hc *HandlerContext) (engine.CardOutput, error) {
	fetcher, ok := hc.Fetchers.Lookup(hc.Card.CardType)
	if !ok {
		return engine.CardOutput{}, pipelineerr.New(pipelineerr.Internal, fmt.Sprintf("no fetcher registered for %s", hc.Card.CardType))
	}

	fc := fetch.Context{
		Progress:     hc.Progress,
		Prefill:      func(targetCardType string, data map[string]any) { hc.Prefill(ctx, targetCardType, data) },
		SoftDeadline: hc.Clock.Now().Add(hc.Config.CardBudget(hc.Card.CardType)),
	}

	payload, err := fetcher(ctx, hc.Card.Input, fc)
	if err != nil {
		return engine.CardOutput{}, err
	}

	data := map[string]any(payload)
	if err := hc.Artifacts.SaveArtifact(ctx, hc.Job.ID, hc.Card.ID, hc.Card.CardType, data); err != nil {
		return engine.CardOutput{}, pipelineerr.Wrap(pipelineerr.Internal, "saving resource artifact", err)
	}
	hc.Progress("fetched", "resource fetched", nil)
	return engine.CardOutput{Data: data}, nil
}

// fullReportHandler assembles the terminal full_report card: every
// completed sibling user-facing card's output, keyed by card_type, pruned
// of empty values and persisted as the job's FullReportArtifactType
// artifact, matching the original's build_full_report assembly step.
func fullReportHandler(ctx context.Context, hc *HandlerContext) (engine.CardOutput, error) {
	cards, err := hc.Jobs.ListCardsForJob(ctx, hc.Job.ID)
	if err != nil {
		return engine.CardOutput{}, pipelineerr.Wrap(pipelineerr.Internal, "listing sibling cards", err)
	}

	merged := make(map[string]any)
	for _, c := range cards {
		if c.CardType == "full_report" || c.IsResourceNode() {
			continue
		}
		if c.Status != engine.CardCompleted {
			continue
		}
		merged[c.CardType] = c.Output.Data
	}

	pruned, _ := jsonutil.PruneEmpty(merged).(map[string]any)
	if err := hc.Artifacts.SaveArtifact(ctx, hc.Job.ID, hc.Card.ID, engine.FullReportArtifactType, pruned); err != nil {
		return engine.CardOutput{}, pipelineerr.Wrap(pipelineerr.Internal, "saving full_report artifact", err)
	}
	return engine.CardOutput{Data: pruned}, nil
}
