// Package openai implements llm.ChatProvider on top of the OpenAI Chat
// Completions API, adapted from the teacher's features/model/openai.Client.
// The teacher's adapter targets github.com/sashabaranov/go-openai and the
// full agent-runtime model.Request/Response/tool-calling surface; go.mod
// pins the official github.com/openai/openai-go SDK instead (it is the
// dependency actually declared by the teacher's go.mod, even though its
// checked-in source imports the community client — see DESIGN.md). Since
// openai-go shares its generator and request/response shape with
// anthropic-sdk-go, this adapter mirrors features/llm/anthropic structurally
// rather than the teacher's sashabaranov-specific code.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/shared"

	"github.com/dinqhq/profile-engine/engine/llm"
	"github.com/dinqhq/profile-engine/engine/pipelineerr"
)

// ChatCompletionsClient captures the subset of the OpenAI SDK client used by
// the adapter, mirroring features/model/openai.ChatClient.
type ChatCompletionsClient interface {
	New(ctx context.Context, body sdk.ChatCompletionNewParams, opts ...option.RequestOption) (*sdk.ChatCompletion, error)
	NewStreaming(ctx context.Context, body sdk.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.ChatCompletionChunk]
}

// Options configures the OpenAI provider.
type Options struct {
	// DefaultModel is used when a Request does not name a Model. Required.
	DefaultModel string
	// MaxTokens is the completion cap used when a Request does not set one.
	MaxTokens int
	// Temperature is used when a Request does not set one.
	Temperature float32
}

// Client implements llm.ChatProvider over OpenAI Chat Completions.
type Client struct {
	chat         ChatCompletionsClient
	defaultModel string
	maxTokens    int
	temperature  float32
}

// New builds a provider from an OpenAI chat completions client.
func New(chat ChatCompletionsClient, opts Options) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openai: chat completions client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("openai: default model identifier is required")
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Client{chat: chat, defaultModel: opts.DefaultModel, maxTokens: maxTokens, temperature: opts.Temperature}, nil
}

// NewFromAPIKey constructs a provider using the default OpenAI HTTP client,
// authenticated with apiKey; an empty apiKey is rejected.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	oc := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&oc.Chat.Completions, Options{DefaultModel: defaultModel})
}

// Chat implements llm.ChatProvider. Unlike the teacher's adapter (which
// rejects streaming outright with model.ErrStreamingUnsupported because it
// was never exercised against the real Chat Completions streaming API),
// this adapter supports req.Stream: the official SDK's NewStreaming path is
// exercised the same way features/llm/anthropic exercises Anthropic's.
func (c *Client) Chat(ctx context.Context, req llm.Request) (llm.ChatResult, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return llm.ChatResult{}, pipelineerr.Wrap(pipelineerr.InvalidInput, "openai: preparing request", err)
	}

	if req.Stream {
		stream := c.chat.NewStreaming(ctx, params)
		if err := stream.Err(); err != nil {
			return llm.ChatResult{}, classifyErr(err)
		}
		return llm.ChatResult{Kind: llm.ResultStream, Stream: newStreamer(stream)}, nil
	}

	resp, err := c.chat.New(ctx, params)
	if err != nil {
		return llm.ChatResult{}, classifyErr(err)
	}
	text := extractText(resp)
	if !req.JSONMode {
		return llm.ChatResult{Kind: llm.ResultText, Text: text}, nil
	}
	obj, err := llm.RepairJSON(text)
	if err != nil {
		return llm.ChatResult{}, pipelineerr.Wrap(pipelineerr.LLMInvalidResponse, "openai: strict-json response", err)
	}
	return llm.ChatResult{Kind: llm.ResultJSON, JSON: obj}, nil
}

func (c *Client) prepareRequest(req llm.Request) (sdk.ChatCompletionNewParams, error) {
	if len(req.Messages) == 0 {
		return sdk.ChatCompletionNewParams{}, errors.New("messages are required")
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

	messages := make([]sdk.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case llm.RoleSystem:
			messages = append(messages, sdk.SystemMessage(m.Text))
		case llm.RoleUser:
			messages = append(messages, sdk.UserMessage(m.Text))
		case llm.RoleAssistant:
			messages = append(messages, sdk.AssistantMessage(m.Text))
		}
	}

	params := sdk.ChatCompletionNewParams{
		Model:               shared.ChatModel(model),
		Messages:            messages,
		MaxCompletionTokens: sdk.Int(int64(maxTokens)),
		Temperature:         sdk.Float(float64(temp)),
	}
	if req.JSONMode {
		params.ResponseFormat = sdk.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	return params, nil
}

func extractText(resp *sdk.ChatCompletion) string {
	if resp == nil || len(resp.Choices) == 0 {
		return ""
	}
	return resp.Choices[0].Message.Content
}

func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429:
			return pipelineerr.Wrap(pipelineerr.UpstreamRateLimited, "openai: rate limited", err)
		case 408, 504:
			return pipelineerr.Wrap(pipelineerr.Timeout, "openai: upstream timeout", err)
		default:
			if apiErr.StatusCode >= 500 {
				return pipelineerr.Wrap(pipelineerr.UpstreamUnavailable, "openai: server error", err)
			}
		}
	}
	return pipelineerr.Wrap(pipelineerr.Internal, fmt.Sprintf("openai: %v", err), err)
}

// streamer adapts an OpenAI chat completion chunk stream into an
// llm.Streamer, emitting only non-empty delta content fragments.
type streamer struct {
	stream *ssestream.Stream[sdk.ChatCompletionChunk]
}

func newStreamer(stream *ssestream.Stream[sdk.ChatCompletionChunk]) *streamer {
	return &streamer{stream: stream}
}

func (s *streamer) Recv() (string, error) {
	for s.stream.Next() {
		chunk := s.stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		if text := chunk.Choices[0].Delta.Content; text != "" {
			return text, nil
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
