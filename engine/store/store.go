// Package store defines the storage contracts the scheduler and executor run
// against: JobStore, ArtifactStore, and EventStore. Two implementations ship
// in this module — store/memory (single-process reference) and
// store/mongo (durable, multi-process) — both satisfying these same
// interfaces so callers are storage-agnostic.
package store

import (
	"context"
	"time"

	"github.com/dinqhq/profile-engine/engine"
)

// CardDescriptor is the RulesEngine's output shape for a single planned
// card, consumed by JobStore.CreateJob/CreateCards.
type CardDescriptor struct {
	CardType          string
	DependsOn         []string
	Priority          int
	ConcurrencyGroup  string
	Input             map[string]string
}

// CardUpdate carries the fields of a card status transition.
// Output and Err are mutually exclusive; nil Output/Err leaves the
// corresponding row field untouched.
type CardUpdate struct {
	Status engine.CardStatus
	Output *engine.CardOutput
	Err    *CardError
}

// CardError mirrors pipelineerr.Error's shape without importing it here,
// keeping this package's dependency surface limited to engine.
type CardError struct {
	Kind    string
	Message string
}

// ConcurrencyCaps maps a concurrency_group name to its maximum number of
// simultaneously running cards across all jobs.
type ConcurrencyCaps map[string]int

// JobStore owns Job and Card rows.
type JobStore interface {
	// CreateJob inserts a pending job and its initial cards atomically.
	CreateJob(ctx context.Context, source string, input, options map[string]string, userID, subjectKey string, cards []CardDescriptor) (*engine.Job, error)
	// GetJob fetches a job by id. Returns (nil, nil) if not found.
	GetJob(ctx context.Context, id string) (*engine.Job, error)
	// ListCardsForJob returns every card belonging to jobID.
	ListCardsForJob(ctx context.Context, jobID string) ([]*engine.Card, error)
	// ClaimReadyCards atomically marks up to limit ready cards as running,
	// respecting caps, ordered by (priority asc, created_at asc). Returns the
	// claimed set, which may be smaller than limit.
	ClaimReadyCards(ctx context.Context, workerID string, caps ConcurrencyCaps, limit int) ([]*engine.Card, error)
	// UpdateCardStatus transitions cardID to the given status. On a
	// completed transition, out.Data is merged over any previously-recorded
	// prefilled data (prefill loses on key conflicts) and the merged output
	// is returned.
	UpdateCardStatus(ctx context.Context, cardID string, update CardUpdate) (*engine.CardOutput, error)
	// CreateCards appends additional cards to an existing job (deferred
	// refinement, background cards).
	CreateCards(ctx context.Context, jobID string, cards []CardDescriptor) ([]*engine.Card, error)
	// RecordPrefill merges payload into the target card's recorded-but-not-
	// yet-completed output, per the atomic prefill semantics in §4.8.
	RecordPrefill(ctx context.Context, targetCardID string, data map[string]any) error
	// SetJobStatus transitions a job to a terminal or running status.
	SetJobStatus(ctx context.Context, jobID string, status engine.JobStatus) error
}

// ArtifactStore owns Artifact rows. Payloads are opaque; a (job, type) row
// may be overwritten once (write-then-stable).
type ArtifactStore interface {
	SaveArtifact(ctx context.Context, jobID, cardID, typ string, payload map[string]any) error
	GetArtifact(ctx context.Context, jobID, typ string) (*engine.Artifact, error)
}

// EventStore is the source of truth for streaming: an append-only,
// per-job-monotonic event log.
type EventStore interface {
	// AppendEvent assigns the next seq for jobID, persists the event, and
	// returns it. Implementations must make this atomic with any related
	// card-status transition passed via AppendWithCardUpdate (see
	// TransactionalEventStore) so a subscriber observing card.completed can
	// always replay the final payload.
	AppendEvent(ctx context.Context, jobID, cardID string, typ engine.EventType, payload map[string]any) (*engine.Event, error)
	// ListEvents returns up to limit events for jobID with seq > afterSeq,
	// ordered by seq ascending.
	ListEvents(ctx context.Context, jobID string, afterSeq int64, limit int) ([]*engine.Event, error)
}

// TransactionalEventStore is implemented by stores that can append an event
// atomically alongside a card status transition, per §4.4's requirement
// that a consumer observing card.completed can always replay its payload.
type TransactionalEventStore interface {
	EventStore
	// AppendWithCardUpdate performs update against jobStore and appends the
	// given event under the same Job row lock, returning the merged output
	// (if any) and the appended event.
	AppendWithCardUpdate(ctx context.Context, jobs JobStore, cardID string, update CardUpdate, jobID string, typ engine.EventType, payload map[string]any) (*engine.CardOutput, *engine.Event, error)
}

// ErrNotFound is returned by lookups for rows that do not exist, where the
// caller distinguishes "missing" from "storage error" (most Get-style
// methods instead return (nil, nil) per their doc comments above; this is
// reserved for operations — like CreateCards against a deleted job — that
// must fail loudly).
var ErrNotFound = notFoundError{}

type notFoundError struct{}

func (notFoundError) Error() string { return "store: not found" }

// Now is a function type for supplying timestamps. store/memory does not
// use it; it takes a clock.Clock instead.
type Now func() time.Time
