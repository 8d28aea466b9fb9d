// Package anthropic implements llm.ChatProvider on top of the Anthropic
// Claude Messages API, adapted from the teacher's richer
// features/model/anthropic.Client (which targets the full agent-runtime
// model.Request/Response/tool-calling surface) down to the simpler
// text-in/text-or-JSON-out contract this pipeline's enrichment cards need.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"io"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/dinqhq/profile-engine/engine/llm"
	"github.com/dinqhq/profile-engine/engine/pipelineerr"
)

// MessagesClient captures the subset of the Anthropic SDK client used by
// the adapter, so callers can pass either a real client or a mock in
// tests, mirroring features/model/anthropic.MessagesClient.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// Options configures the Anthropic provider.
type Options struct {
	// DefaultModel is used when a Request does not name a Model. Required.
	DefaultModel string
	// MaxTokens is the completion cap used when a Request does not set one.
	MaxTokens int
	// Temperature is used when a Request does not set one.
	Temperature float32
}

// Client implements llm.ChatProvider over Anthropic Claude Messages.
type Client struct {
	msg          MessagesClient
	defaultModel string
	maxTokens    int
	temperature  float32
}

// New builds a provider from an Anthropic Messages client.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("anthropic: default model identifier is required")
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Client{msg: msg, defaultModel: opts.DefaultModel, maxTokens: maxTokens, temperature: opts.Temperature}, nil
}

// NewFromAPIKey constructs a provider using the default Anthropic HTTP
// client, authenticated with apiKey; an empty apiKey is rejected.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, Options{DefaultModel: defaultModel})
}

// Chat implements llm.ChatProvider.
func (c *Client) Chat(ctx context.Context, req llm.Request) (llm.ChatResult, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return llm.ChatResult{}, pipelineerr.Wrap(pipelineerr.InvalidInput, "anthropic: preparing request", err)
	}

	if req.Stream {
		stream := c.msg.NewStreaming(ctx, params)
		if err := stream.Err(); err != nil {
			return llm.ChatResult{}, classifyErr(err)
		}
		return llm.ChatResult{Kind: llm.ResultStream, Stream: newStreamer(stream)}, nil
	}

	msg, err := c.msg.New(ctx, params)
	if err != nil {
		return llm.ChatResult{}, classifyErr(err)
	}
	text := extractText(msg)
	if !req.JSONMode {
		return llm.ChatResult{Kind: llm.ResultText, Text: text}, nil
	}
	obj, err := llm.RepairJSON(text)
	if err != nil {
		return llm.ChatResult{}, pipelineerr.Wrap(pipelineerr.LLMInvalidResponse, "anthropic: strict-json response", err)
	}
	return llm.ChatResult{Kind: llm.ResultJSON, JSON: obj}, nil
}

func (c *Client) prepareRequest(req llm.Request) (sdk.MessageNewParams, error) {
	if len(req.Messages) == 0 {
		return sdk.MessageNewParams{}, errors.New("messages are required")
	}
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	temp := req.Temperature
	if temp == 0 {
		temp = c.temperature
	}

	var system string
	var messages []sdk.MessageParam
	for _, m := range req.Messages {
		switch m.Role {
		case llm.RoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += m.Text
		case llm.RoleUser:
			messages = append(messages, sdk.NewUserMessage(sdk.NewTextBlock(m.Text)))
		case llm.RoleAssistant:
			messages = append(messages, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Text)))
		}
	}

	params := sdk.MessageNewParams{
		Model:       sdk.Model(model),
		MaxTokens:   int64(maxTokens),
		Temperature: sdk.Float(float64(temp)),
		Messages:    messages,
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}
	return params, nil
}

func extractText(msg *sdk.Message) string {
	if msg == nil {
		return ""
	}
	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return text
}

func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429:
			return pipelineerr.Wrap(pipelineerr.UpstreamRateLimited, "anthropic: rate limited", err)
		case 408, 504:
			return pipelineerr.Wrap(pipelineerr.Timeout, "anthropic: upstream timeout", err)
		default:
			if apiErr.StatusCode >= 500 {
				return pipelineerr.Wrap(pipelineerr.UpstreamUnavailable, "anthropic: server error", err)
			}
		}
	}
	return pipelineerr.Wrap(pipelineerr.Internal, fmt.Sprintf("anthropic: %v", err), err)
}

// streamer adapts an Anthropic SSE stream into an llm.Streamer, emitting
// only text_delta fragments (tool-use/thinking blocks never occur for this
// pipeline's plain-text enrichment prompts).
type streamer struct {
	stream *ssestream.Stream[sdk.MessageStreamEventUnion]
}

func newStreamer(stream *ssestream.Stream[sdk.MessageStreamEventUnion]) *streamer {
	return &streamer{stream: stream}
}

func (s *streamer) Recv() (string, error) {
	for s.stream.Next() {
		event := s.stream.Current()
		if delta, ok := event.AsAny().(sdk.ContentBlockDeltaEvent); ok {
			if text := delta.Delta.Text; text != "" {
				return text, nil
			}
			continue
		}
	}
	if err := s.stream.Err(); err != nil {
		return "", classifyErr(err)
	}
	return "", io.EOF
}

func (s *streamer) Close() error {
	return s.stream.Close()
}
