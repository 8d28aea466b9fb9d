package executor

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/dinqhq/profile-engine/engine"
	"github.com/dinqhq/profile-engine/engine/delta"
	"github.com/dinqhq/profile-engine/engine/llm"
	"github.com/dinqhq/profile-engine/engine/pipelineerr"
)

// userCardHandler is registered for every user-facing card_type. A card
// streams through the DeltaRouter when delta.GetSpec reports a Spec for
// (job.Source, card.CardType); otherwise it falls back to the plain
// derivation table, matching the original's "structured JSON completes
// non-streamed" rule in card_specs.py.
func userCardHandler(ctx context.Context, hc *HandlerContext) (engine.CardOutput, error) {
	if spec, ok := delta.GetSpec(hc.Job.Source, hc.Card.CardType); ok {
		return runLLMCard(ctx, hc, spec)
	}
	return genericDeriveHandler(ctx, hc)
}

// runLLMCard drives a streamed LLM-backed card: it issues the chat request,
// routes chunks through a delta.Emitter (which fans card.delta events out
// via hc.Publisher), and assembles the final CardOutput from the
// accumulated per-field text once the stream ends.
func runLLMCard(ctx context.Context, hc *HandlerContext, spec delta.Spec) (engine.CardOutput, error) {
	task := hc.Job.Source + "." + hc.Card.CardType
	llmCtx, cancel := context.WithTimeout(ctx, hc.Config.LLMTimeout(task))
	defer cancel()

	req := llm.Request{
		Task:     task,
		Messages: buildCardMessages(hc),
		Stream:   true,
	}
	result, err := hc.LLM.Chat(llmCtx, req)
	if err != nil {
		if pipelineerr.KindOf(err) != pipelineerr.Internal {
			return engine.CardOutput{}, err
		}
		return engine.CardOutput{}, pipelineerr.Wrap(pipelineerr.LLMInvalidResponse, "chat request failed", err)
	}

	streamState := make(map[string]string)
	emitter := delta.NewEmitter(func(d delta.Delta) {
		key := d.Field + "." + d.Section
		streamState[key] += d.Text
		_, _ = hc.Publisher.Publish(llmCtx, hc.Job.ID, hc.Card.ID, engine.EventCardDelta, map[string]any{
			"card":    d.Card,
			"field":   d.Field,
			"section": d.Section,
			"format":  d.Format,
			"delta":   d.Text,
		})
	}, hc.Card.CardType, spec)

	switch result.Kind {
	case llm.ResultStream:
		defer result.Stream.Close()
		for {
			chunk, err := result.Stream.Recv()
			if err != nil {
				if err == io.EOF {
					break
				}
				emitter.Flush()
				return engine.CardOutput{}, pipelineerr.Wrap(pipelineerr.UpstreamUnavailable, "stream read failed", err)
			}
			emitter.OnDelta(chunk)
		}
	case llm.ResultText:
		emitter.OnDelta(result.Text)
	default:
		emitter.Flush()
		return engine.CardOutput{}, pipelineerr.New(pipelineerr.LLMInvalidResponse, fmt.Sprintf("unexpected result kind %q for streamed card %s", result.Kind, hc.Card.CardType))
	}
	emitter.Flush()

	data := make(map[string]any, len(streamState))
	for key, text := range streamState {
		field := key
		if idx := strings.LastIndex(key, "."); idx >= 0 {
			field = key[:idx]
		}
		if existing, ok := data[field].(string); ok {
			data[field] = existing + text
		} else {
			data[field] = text
		}
	}
	return engine.CardOutput{Data: data, Stream: streamState}, nil
}

// buildCardMessages assembles the chat prompt for a streamed card. The
// pipeline's actual prompt copy lives with the provider adapters/fixtures;
// this is the generic shape every card shares: a system turn naming the
// section being written and a user turn carrying the card's planned input.
func buildCardMessages(hc *HandlerContext) []llm.Message {
	return []llm.Message{
		{
			Role: llm.RoleSystem,
			Text: fmt.Sprintf("You are writing the %q section of a %s analysis report. Respond in markdown.", hc.Card.CardType, hc.Job.Source),
		},
		{
			Role: llm.RoleUser,
			Text: fmt.Sprintf("Subject input: %v", hc.Card.Input),
		},
	}
}
