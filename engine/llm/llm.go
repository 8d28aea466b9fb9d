// Package llm is the provider-agnostic ChatProvider abstraction used by
// LLM-backed cards (role_model, roast, summary, and the other enrichment
// cards derived from a resource.*.enrich/level artifact). Concrete adapters
// for Anthropic, OpenAI, and Bedrock live under features/llm/*.
package llm

import "context"

// Role identifies the speaker of a Message, mirroring the teacher's model
// package's ConversationRole without importing its fuller tool-calling part
// vocabulary, which this pipeline's derivation tasks don't need.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single chat turn. Unlike the teacher's agent-runtime
// Message, parts are not needed here: every enrichment task is plain text
// in, text-or-JSON out.
type Message struct {
	Role Role
	Text string
}

// ResultKind tags which field of ChatResult is populated, implementing the
// "tagged ChatResult variants" redesign note in place of a dynamically-typed
// return value.
type ResultKind string

const (
	// ResultText means Text holds the provider's plain-text completion.
	ResultText ResultKind = "text"
	// ResultJSON means JSON holds a parsed, schema-conforming object for a
	// strict-JSON task; providers that cannot produce valid JSON return
	// ErrInvalidJSON instead of a JSON-kind result.
	ResultJSON ResultKind = "json"
	// ResultStream means Stream holds an open Streamer; callers must drain
	// and Close it.
	ResultStream ResultKind = "stream"
)

// ChatResult is the tagged result of a ChatProvider call.
type ChatResult struct {
	Kind   ResultKind
	Text   string
	JSON   map[string]any
	Stream Streamer
}

// Streamer delivers incremental assistant text. Callers drain Recv until
// io.EOF, then Close.
type Streamer interface {
	// Recv returns the next text fragment, or io.EOF when the stream ends.
	Recv() (string, error)
	Close() error
}

// Request captures one ChatProvider invocation.
type Request struct {
	// Task names the logical enrichment task (e.g. "github.role_model"),
	// used by callers to select per-task timeouts/models via config.
	Task        string
	Messages    []Message
	Model       string
	Temperature float32
	MaxTokens   int
	// JSONMode requests a strict-JSON completion; providers that support it
	// natively use provider JSON mode, others rely on prompt instructions
	// plus the repair pass described below.
	JSONMode bool
	Stream   bool
}

// ChatProvider is the provider-agnostic interface card derivation code
// calls through. Implementations must honor ctx cancellation between
// network reads/stream chunks, per §5's suspension-point requirement.
type ChatProvider interface {
	Chat(ctx context.Context, req Request) (ChatResult, error)
}

// ErrInvalidJSON is returned (wrapped in pipelineerr.LLMInvalidResponse by
// callers) when a JSONMode request could not be parsed into valid JSON even
// after the repair pass.
var ErrInvalidJSON = errInvalidJSON{}

type errInvalidJSON struct{}

func (errInvalidJSON) Error() string { return "llm: invalid json response" }
