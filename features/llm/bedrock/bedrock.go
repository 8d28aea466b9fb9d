// Package bedrock implements llm.ChatProvider over the AWS Bedrock Converse
// API, adapted from the teacher's features/model/bedrock.Client. The
// teacher's adapter drives the full agent-runtime surface: tool-calling with
// name sanitization, cache checkpoints, and Claude "thinking" budgets. None
// of that is reachable from engine/llm.ChatProvider's plain text-in/
// text-or-JSON-or-stream-out contract, so this adapter keeps only the
// request/response plumbing (message encoding, inference config, error
// classification, event-stream-to-channel bridging) and drops tool
// configuration, cache checkpoints, and thinking entirely.
package bedrock

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/dinqhq/profile-engine/engine/llm"
	"github.com/dinqhq/profile-engine/engine/pipelineerr"
)

// RuntimeClient mirrors the subset of the AWS Bedrock runtime client
// required by the adapter, matching *bedrockruntime.Client so callers can
// pass either the real client or a mock in tests.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// Options configures the Bedrock provider.
type Options struct {
	// DefaultModel is used when a Request does not name a Model. Required.
	DefaultModel string
	// MaxTokens is the completion cap used when a Request does not set one.
	MaxTokens int
	// Temperature is used when a Request does not set one.
	Temperature float32
}

// Client implements llm.ChatProvider over AWS Bedrock Converse.
type Client struct {
	runtime      RuntimeClient
	defaultModel string
	maxTokens    int
	temperature  float32
}

// New builds a provider from a Bedrock runtime client.
func New(runtime RuntimeClient, opts Options) (*Client, error) {
	if runtime == nil {
		return nil, errors.New("bedrock: runtime client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("bedrock: default model identifier is required")
	}
	return &Client{runtime: runtime, defaultModel: opts.DefaultModel, maxTokens: opts.MaxTokens, temperature: opts.Temperature}, nil
}

// Chat implements llm.ChatProvider.
func (c *Client) Chat(ctx context.Context, req llm.Request) (llm.ChatResult, error) {
	modelID, messages, system, err := c.prepareRequest(req)
	if err != nil {
		return llm.ChatResult{}, pipelineerr.Wrap(pipelineerr.InvalidInput, "bedrock: preparing request", err)
	}
	inference := c.inferenceConfig(req.MaxTokens, req.Temperature)

	if req.Stream {
		input := &bedrockruntime.ConverseStreamInput{ModelId: aws.String(modelID), Messages: messages}
		if len(system) > 0 {
			input.System = system
		}
		input.InferenceConfig = inference
		out, err := c.runtime.ConverseStream(ctx, input)
		if err != nil {
			return llm.ChatResult{}, classifyErr(err)
		}
		stream := out.GetStream()
		if stream == nil {
			return llm.ChatResult{}, pipelineerr.Wrap(pipelineerr.Internal, "bedrock: stream output missing event stream", nil)
		}
		return llm.ChatResult{Kind: llm.ResultStream, Stream: newStreamer(ctx, stream)}, nil
	}

	input := &bedrockruntime.ConverseInput{ModelId: aws.String(modelID), Messages: messages}
	if len(system) > 0 {
		input.System = system
	}
	input.InferenceConfig = inference
	output, err := c.runtime.Converse(ctx, input)
	if err != nil {
		return llm.ChatResult{}, classifyErr(err)
	}
	text := extractText(output)
	if !req.JSONMode {
		return llm.ChatResult{Kind: llm.ResultText, Text: text}, nil
	}
	obj, err := llm.RepairJSON(text)
	if err != nil {
		return llm.ChatResult{}, pipelineerr.Wrap(pipelineerr.LLMInvalidResponse, "bedrock: strict-json response", err)
	}
	return llm.ChatResult{Kind: llm.ResultJSON, JSON: obj}, nil
}

func (c *Client) prepareRequest(req llm.Request) (string, []brtypes.Message, []brtypes.SystemContentBlock, error) {
	if len(req.Messages) == 0 {
		return "", nil, nil, errors.New("messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}

	var system []brtypes.SystemContentBlock
	var messages []brtypes.Message
	for _, m := range req.Messages {
		switch m.Role {
		case llm.RoleSystem:
			if m.Text != "" {
				system = append(system, &brtypes.SystemContentBlockMemberText{Value: m.Text})
			}
		case llm.RoleUser:
			messages = append(messages, brtypes.Message{
				Role:    brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: m.Text}},
			})
		case llm.RoleAssistant:
			messages = append(messages, brtypes.Message{
				Role:    brtypes.ConversationRoleAssistant,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: m.Text}},
			})
		}
	}
	if len(messages) == 0 {
		return "", nil, nil, errors.New("at least one user/assistant message is required")
	}
	return modelID, messages, system, nil
}

func (c *Client) inferenceConfig(maxTokens int, temp float32) *brtypes.InferenceConfiguration {
	tokens := maxTokens
	if tokens <= 0 {
		tokens = c.maxTokens
	}
	temperature := temp
	if temperature == 0 {
		temperature = c.temperature
	}
	var cfg brtypes.InferenceConfiguration
	if tokens > 0 {
		cfg.MaxTokens = aws.Int32(int32(tokens)) //nolint:gosec // bounded by caller-supplied request sizes
	}
	if temperature > 0 {
		cfg.Temperature = aws.Float32(temperature)
	}
	if cfg.MaxTokens == nil && cfg.Temperature == nil {
		return nil
	}
	return &cfg
}

func extractText(output *bedrockruntime.ConverseOutput) string {
	if output == nil {
		return ""
	}
	msg, ok := output.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return ""
	}
	var text string
	for _, block := range msg.Value.Content {
		if t, ok := block.(*brtypes.ContentBlockMemberText); ok {
			text += t.Value
		}
	}
	return text
}

// classifyErr maps Bedrock/Smithy errors to pipelineerr.Kind. Unlike the
// teacher's isRateLimited (a bool used only to decide whether to wrap
// model.ErrRateLimited), this distinguishes rate limiting from other
// throttling/HTTP conditions so callers get the full pipelineerr.Kind
// taxonomy, matching features/llm/anthropic and features/llm/openai.
func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			return pipelineerr.Wrap(pipelineerr.UpstreamRateLimited, "bedrock: throttled", err)
		case "ModelTimeoutException":
			return pipelineerr.Wrap(pipelineerr.Timeout, "bedrock: model timeout", err)
		case "ServiceUnavailableException", "InternalServerException":
			return pipelineerr.Wrap(pipelineerr.UpstreamUnavailable, "bedrock: server error", err)
		}
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		switch {
		case respErr.HTTPStatusCode() == 429:
			return pipelineerr.Wrap(pipelineerr.UpstreamRateLimited, "bedrock: throttled", err)
		case respErr.HTTPStatusCode() >= 500:
			return pipelineerr.Wrap(pipelineerr.UpstreamUnavailable, "bedrock: server error", err)
		}
	}
	return pipelineerr.Wrap(pipelineerr.Internal, fmt.Sprintf("bedrock: %v", err), err)
}

// streamer adapts a Bedrock ConverseStream event stream into an
// llm.Streamer, bridging the AWS SDK's event-channel shape onto Recv/Close
// the same way the teacher's bedrockStreamer does, but emitting only text
// deltas (no tool_use/reasoning blocks, which this provider never requests).
type streamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *bedrockruntime.ConverseStreamEventStream
	chunks chan string
	err    error
}

func newStreamer(ctx context.Context, stream *bedrockruntime.ConverseStreamEventStream) *streamer {
	cctx, cancel := context.WithCancel(ctx)
	s := &streamer{ctx: cctx, cancel: cancel, stream: stream, chunks: make(chan string, 32)}
	go s.run()
	return s
}

func (s *streamer) run() {
	defer close(s.chunks)
	for {
		select {
		case <-s.ctx.Done():
			return
		case event, ok := <-s.stream.Events():
			if !ok {
				if err := s.stream.Err(); err != nil {
					s.err = classifyErr(err)
				}
				return
			}
			delta, ok := event.(*brtypes.ConverseStreamOutputMemberContentBlockDelta)
			if !ok {
				continue
			}
			text, ok := delta.Value.Delta.(*brtypes.ContentBlockDeltaMemberText)
			if !ok || text.Value == "" {
				continue
			}
			select {
			case s.chunks <- text.Value:
			case <-s.ctx.Done():
				return
			}
		}
	}
}

func (s *streamer) Recv() (string, error) {
	chunk, ok := <-s.chunks
	if ok {
		return chunk, nil
	}
	if s.err != nil {
		return "", s.err
	}
	return "", io.EOF
}

func (s *streamer) Close() error {
	s.cancel()
	return s.stream.Close()
}
