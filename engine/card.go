package engine

import "time"

// CardStatus is the lifecycle state of a Card. Transitions form a DAG:
// pending -> ready -> running -> {completed, failed, cancelled, skipped}.
// Terminal states are sticky; a store must never transition out of one.
type CardStatus string

const (
	// CardPending is the initial status: one or more declared dependencies
	// have not yet completed.
	CardPending CardStatus = "pending"
	// CardReady is set once every dependency has completed (or is skipped);
	// the card is eligible for claiming. Plans carry no optional-dependency
	// flag, so a failed dependency leaves its dependents pending.
	CardReady CardStatus = "ready"
	// CardRunning is set when a worker claims the card.
	CardRunning CardStatus = "running"
	// CardCompleted is a terminal, successful status.
	CardCompleted CardStatus = "completed"
	// CardFailed is a terminal, unsuccessful status.
	CardFailed CardStatus = "failed"
	// CardCancelled is a terminal status set by job cancellation.
	CardCancelled CardStatus = "cancelled"
	// CardSkipped is a terminal status that satisfies a dependent's readiness
	// like CardCompleted does. No scheduler or store in this module assigns
	// it.
	CardSkipped CardStatus = "skipped"
)

// Terminal reports whether s is sticky.
func (s CardStatus) Terminal() bool {
	switch s {
	case CardCompleted, CardFailed, CardCancelled, CardSkipped:
		return true
	default:
		return false
	}
}

// CardOutput is the structured envelope persisted on a completed (or
// prefilled) card: a data payload plus an optional per-field streaming state.
//
// Stream is populated from the DeltaRouter's output (accumulated text per
// field and section) so a late subscriber that only reads
// the final snapshot still sees the full streamed text, not just Data.
type CardOutput struct {
	// Data is the card's structured result, consumed by the full_report
	// aggregation and by direct card readers.
	Data map[string]any
	// Stream holds, per streamed field, the concatenated text emitted via
	// card.delta for that field (keyed by "field.section").
	Stream map[string]string
}

// Card is a unit of work within a Job. A Card with a CardType prefixed
// "resource." is an internal resource-fetch DAG node; its output is consumed
// by one or more user-facing cards rather than shown directly.
type Card struct {
	// ID is the opaque card identifier, unique within the owning Job.
	ID string
	// JobID identifies the owning Job.
	JobID string
	// CardType is the plan-assigned type string; unique per job.
	CardType string
	// Status is the current lifecycle state.
	Status CardStatus
	// DependsOn lists the card-types (within the same job) that must
	// complete before this card becomes ready.
	DependsOn []string
	// Priority orders ready-card claiming: lower values are claimed first.
	// Zero is the default; positive values mark background/deferred work.
	Priority int
	// ConcurrencyGroup tags the shared-resource bucket this card's execution
	// counts against (e.g. "llm", "scrape:github"). Empty means unbounded.
	ConcurrencyGroup string
	// Input is the card-specific input mapping assembled by the plan.
	Input map[string]string
	// Output is the persisted result envelope, set on completion (and
	// possibly seeded earlier via prefill).
	Output CardOutput
	// ErrorKind classifies the most recent failure, if any.
	ErrorKind string
	// ErrorMessage is the most recent failure's human-readable message.
	ErrorMessage string
	// AttemptCount counts dispatch attempts, including the first.
	AttemptCount int
	// CreatedAt records when the card row was inserted (at job creation or
	// via a later CreateCards call).
	CreatedAt time.Time
	// StartedAt records the most recent claim time.
	StartedAt *time.Time
	// FinishedAt records the most recent terminal-transition time.
	FinishedAt *time.Time
}

// IsResourceNode reports whether the card is an internal resource-DAG node
// (CardType prefixed "resource.") rather than a user-facing card.
func (c Card) IsResourceNode() bool {
	return len(c.CardType) >= len(resourcePrefix) && c.CardType[:len(resourcePrefix)] == resourcePrefix
}

const resourcePrefix = "resource."
