// Package pipelineerr defines the tagged error taxonomy the scheduler and
// executor use to decide retry, fallback, and job-failure behavior, replacing
// the exception-driven control flow of the source this pipeline is modeled
// on with explicit, inspectable error kinds.
package pipelineerr

import "fmt"

// Kind tags the category of a pipeline failure. Kinds are stable strings
// persisted on Card.ErrorKind and emitted in card.failed/job.failed payloads.
type Kind string

const (
	// InvalidInput means the request cannot be planned: a missing required
	// field or an unrecognized source. No job is created.
	InvalidInput Kind = "invalid_input"
	// ResolverAmbiguous means the input resolves to multiple candidates;
	// callers receive needs_confirmation and must resubmit with a stable id.
	ResolverAmbiguous Kind = "resolver_ambiguous"
	// UpstreamUnavailable means an external data source returned a
	// non-success status. Retryable.
	UpstreamUnavailable Kind = "upstream_unavailable"
	// UpstreamRateLimited means an explicit rate-limit signal was received.
	// Retryable with a longer backoff than UpstreamUnavailable.
	UpstreamRateLimited Kind = "upstream_rate_limited"
	// Timeout means a deadline was exceeded. Retryable for every card:
	// fetchers carry no idempotency declaration that would narrow this.
	Timeout Kind = "timeout"
	// LLMInvalidResponse means the model returned unparseable output for a
	// strict-JSON task. Non-retryable for the same call; the card uses its
	// deterministic fallback.
	LLMInvalidResponse Kind = "llm_invalid_response"
	// Internal means an unexpected programming error. Non-retryable;
	// propagates to job.failed.
	Internal Kind = "internal"
	// Cancelled means a cancellation token fired. Terminal.
	Cancelled Kind = "cancelled"
)

// Retryable reports whether the scheduler should consider retrying a card
// that failed with this kind, subject to the card's remaining attempt
// budget. This is the single source of truth referenced throughout the
// design: "only declared-retryable errors are retried".
func (k Kind) Retryable() bool {
	switch k {
	case UpstreamUnavailable, UpstreamRateLimited, Timeout:
		return true
	default:
		return false
	}
}

// Error is a tagged pipeline error: a Kind plus a human-readable message and
// an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error of the given kind, wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the Kind from err if it is (or wraps) a *Error, defaulting
// to Internal for unrecognized errors so callers always get a decision.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var pe *Error
	if ok := asError(err, &pe); ok {
		return pe.Kind
	}
	return Internal
}

func asError(err error, target **Error) bool {
	for err != nil {
		if pe, ok := err.(*Error); ok {
			*target = pe
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}
