// Package memory is the single-process reference implementation of
// store.JobStore, store.ArtifactStore, and store.EventStore, backed by plain
// Go maps under one mutex. It mirrors the locking discipline of the
// original implementation's in-memory event bus: a single lock guards both
// the job/card rows and the event log so a card-status transition and its
// accompanying event append are always observed together.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dinqhq/profile-engine/engine"
	"github.com/dinqhq/profile-engine/engine/clock"
	"github.com/dinqhq/profile-engine/engine/jsonutil"
	"github.com/dinqhq/profile-engine/engine/store"
)

type jobRecord struct {
	job   *engine.Job
	cards map[string]*engine.Card
	// cardOrder preserves insertion order for deterministic iteration
	// independent of Go's randomized map iteration.
	cardOrder []string
	events    []*engine.Event
	nextSeq   int64
}

// Store is the in-memory reference implementation. Zero value is not usable;
// construct with New.
type Store struct {
	mu    sync.Mutex
	clock clock.Clock
	jobs  map[string]*jobRecord

	// runningByGroup tracks the store-wide count of running cards per
	// concurrency_group, across all jobs, enforcing §5's hard caps.
	runningByGroup map[string]int

	artifacts map[artifactKey]*engine.Artifact
}

type artifactKey struct {
	jobID string
	typ   string
}

// New constructs an empty Store. c defaults to clock.Real() if nil.
func New(c clock.Clock) *Store {
	if c == nil {
		c = clock.Real()
	}
	return &Store{
		clock:          c,
		jobs:           make(map[string]*jobRecord),
		runningByGroup: make(map[string]int),
		artifacts:      make(map[artifactKey]*engine.Artifact),
	}
}

var _ store.JobStore = (*Store)(nil)
var _ store.ArtifactStore = (*Store)(nil)
var _ store.TransactionalEventStore = (*Store)(nil)

// CreateJob implements store.JobStore.
func (s *Store) CreateJob(_ context.Context, source string, input, options map[string]string, userID, subjectKey string, cards []store.CardDescriptor) (*engine.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	job := &engine.Job{
		ID:         uuid.NewString(),
		Source:     source,
		Input:      input,
		Options:    options,
		UserID:     userID,
		SubjectKey: subjectKey,
		Status:     engine.JobPending,
		CreatedAt:  now,
	}
	rec := &jobRecord{job: job, cards: make(map[string]*engine.Card)}
	s.jobs[job.ID] = rec
	s.insertCardsLocked(rec, job.ID, cards, now)
	return job, nil
}

func (s *Store) insertCardsLocked(rec *jobRecord, jobID string, descs []store.CardDescriptor, now time.Time) []*engine.Card {
	created := make([]*engine.Card, 0, len(descs))
	for _, d := range descs {
		status := engine.CardPending
		if len(d.DependsOn) == 0 {
			status = engine.CardReady
		}
		c := &engine.Card{
			ID:                uuid.NewString(),
			JobID:             jobID,
			CardType:          d.CardType,
			Status:            status,
			DependsOn:         d.DependsOn,
			Priority:          d.Priority,
			ConcurrencyGroup:  d.ConcurrencyGroup,
			Input:             d.Input,
			CreatedAt:         now,
		}
		rec.cards[c.ID] = c
		rec.cardOrder = append(rec.cardOrder, c.ID)
		created = append(created, c)
	}
	s.recomputeReadinessLocked(rec)
	return created
}

// recomputeReadinessLocked promotes any pending card whose dependencies are
// all completed to ready. Called after every card-status transition and
// after card insertion.
func (s *Store) recomputeReadinessLocked(rec *jobRecord) {
	byType := make(map[string][]*engine.Card)
	for _, id := range rec.cardOrder {
		c := rec.cards[id]
		byType[c.CardType] = append(byType[c.CardType], c)
	}
	for _, id := range rec.cardOrder {
		c := rec.cards[id]
		if c.Status != engine.CardPending {
			continue
		}
		ready := true
		for _, dep := range c.DependsOn {
			deps := byType[dep]
			if len(deps) == 0 {
				ready = false
				break
			}
			for _, d := range deps {
				if d.Status != engine.CardCompleted && d.Status != engine.CardSkipped {
					ready = false
					break
				}
			}
			if !ready {
				break
			}
		}
		if ready {
			c.Status = engine.CardReady
		}
	}
}

// GetJob implements store.JobStore.
func (s *Store) GetJob(_ context.Context, id string) (*engine.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	j := *rec.job
	return &j, nil
}

// ListCardsForJob implements store.JobStore.
func (s *Store) ListCardsForJob(_ context.Context, jobID string) ([]*engine.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[jobID]
	if !ok {
		return nil, nil
	}
	out := make([]*engine.Card, 0, len(rec.cardOrder))
	for _, id := range rec.cardOrder {
		c := *rec.cards[id]
		out = append(out, &c)
	}
	return out, nil
}

// ClaimReadyCards implements store.JobStore. Ordering is (priority asc,
// created_at asc); group caps are enforced store-wide.
func (s *Store) ClaimReadyCards(_ context.Context, _ string, caps store.ConcurrencyCaps, limit int) ([]*engine.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []*engine.Card
	for _, rec := range s.jobs {
		if rec.job.Status != engine.JobPending && rec.job.Status != engine.JobRunning {
			continue
		}
		for _, id := range rec.cardOrder {
			c := rec.cards[id]
			if c.Status == engine.CardReady {
				candidates = append(candidates, c)
			}
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority < candidates[j].Priority
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})

	claimed := make([]*engine.Card, 0, limit)
	now := s.clock.Now()
	for _, c := range candidates {
		if len(claimed) >= limit {
			break
		}
		if cap, ok := caps[c.ConcurrencyGroup]; ok && cap > 0 {
			if s.runningByGroup[c.ConcurrencyGroup] >= cap {
				continue
			}
		}
		c.Status = engine.CardRunning
		c.StartedAt = &now
		c.AttemptCount++
		s.runningByGroup[c.ConcurrencyGroup]++
		if rec, ok := s.jobs[c.JobID]; ok && rec.job.Status == engine.JobPending {
			rec.job.Status = engine.JobRunning
		}
		cc := *c
		claimed = append(claimed, &cc)
	}
	return claimed, nil
}

// UpdateCardStatus implements store.JobStore.
func (s *Store) UpdateCardStatus(_ context.Context, cardID string, update store.CardUpdate) (*engine.CardOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateCardStatusLocked(cardID, update)
}

func (s *Store) updateCardStatusLocked(cardID string, update store.CardUpdate) (*engine.CardOutput, error) {
	rec, c := s.findCardLocked(cardID)
	if c == nil {
		return nil, fmt.Errorf("memory store: card %s: %w", cardID, store.ErrNotFound)
	}
	wasRunning := c.Status == engine.CardRunning
	c.Status = update.Status
	if update.Output != nil {
		merged := map[string]any{}
		for k, v := range c.Output.Data {
			merged[k] = v
		}
		for k, v := range update.Output.Data {
			merged[k] = v
		}
		c.Output = engine.CardOutput{Data: merged, Stream: update.Output.Stream}
		if pruned, ok := jsonutil.PruneEmpty(c.Output.Data).(map[string]any); ok {
			c.Output.Data = pruned
		} else {
			c.Output.Data = nil
		}
	}
	if update.Err != nil {
		c.ErrorKind = update.Err.Kind
		c.ErrorMessage = update.Err.Message
	}
	if c.Status == engine.CardRunning {
		c.AttemptCount++
	}
	if c.Status.Terminal() {
		now := s.clock.Now()
		c.FinishedAt = &now
	}
	if wasRunning && c.Status != engine.CardRunning {
		if n := s.runningByGroup[c.ConcurrencyGroup]; n > 0 {
			s.runningByGroup[c.ConcurrencyGroup] = n - 1
		}
	}
	if rec != nil {
		s.recomputeReadinessLocked(rec)
		s.maybeFinalizeJobLocked(rec)
	}
	out := c.Output
	return &out, nil
}

// maybeFinalizeJobLocked transitions the owning job to completed/failed once
// every non-skipped card is terminal, per §4.7 step 3.
func (s *Store) maybeFinalizeJobLocked(rec *jobRecord) {
	if rec.job.Status.Terminal() {
		return
	}
	allTerminal := true
	anyFailed := false
	for _, id := range rec.cardOrder {
		c := rec.cards[id]
		if !c.Status.Terminal() {
			allTerminal = false
			break
		}
		if c.Status == engine.CardFailed {
			anyFailed = true
		}
	}
	if !allTerminal {
		return
	}
	if anyFailed {
		rec.job.Status = engine.JobFailed
	} else {
		rec.job.Status = engine.JobCompleted
	}
}

func (s *Store) findCardLocked(cardID string) (*jobRecord, *engine.Card) {
	for _, rec := range s.jobs {
		if c, ok := rec.cards[cardID]; ok {
			return rec, c
		}
	}
	return nil, nil
}

// CreateCards implements store.JobStore.
func (s *Store) CreateCards(_ context.Context, jobID string, cards []store.CardDescriptor) ([]*engine.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("memory store: job %s: %w", jobID, store.ErrNotFound)
	}
	return s.insertCardsLocked(rec, jobID, cards, s.clock.Now()), nil
}

// RecordPrefill implements store.JobStore: merges data into the target
// card's output ahead of its own completion, without changing its status.
func (s *Store) RecordPrefill(_ context.Context, targetCardID string, data map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, c := s.findCardLocked(targetCardID)
	if c == nil {
		return fmt.Errorf("memory store: card %s: %w", targetCardID, store.ErrNotFound)
	}
	merged := map[string]any{}
	for k, v := range c.Output.Data {
		merged[k] = v
	}
	for k, v := range data {
		merged[k] = v
	}
	c.Output.Data = merged
	return nil
}

// SetJobStatus implements store.JobStore.
func (s *Store) SetJobStatus(_ context.Context, jobID string, status engine.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("memory store: job %s: %w", jobID, store.ErrNotFound)
	}
	rec.job.Status = status
	return nil
}

// SaveArtifact implements store.ArtifactStore.
func (s *Store) SaveArtifact(_ context.Context, jobID, _ string, typ string, payload map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts[artifactKey{jobID, typ}] = &engine.Artifact{
		JobID:     jobID,
		Type:      typ,
		Payload:   payload,
		CreatedAt: s.clock.Now(),
	}
	return nil
}

// GetArtifact implements store.ArtifactStore.
func (s *Store) GetArtifact(_ context.Context, jobID, typ string) (*engine.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.artifacts[artifactKey{jobID, typ}]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

// AppendEvent implements store.EventStore.
func (s *Store) AppendEvent(_ context.Context, jobID, cardID string, typ engine.EventType, payload map[string]any) (*engine.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("memory store: job %s: %w", jobID, store.ErrNotFound)
	}
	return s.appendEventLocked(rec, jobID, cardID, typ, payload), nil
}

func (s *Store) appendEventLocked(rec *jobRecord, jobID, cardID string, typ engine.EventType, payload map[string]any) *engine.Event {
	rec.nextSeq++
	e := &engine.Event{
		JobID:     jobID,
		Seq:       rec.nextSeq,
		CardID:    cardID,
		Type:      typ,
		Payload:   payload,
		EmittedAt: s.clock.Now(),
	}
	rec.events = append(rec.events, e)
	return e
}

// ListEvents implements store.EventStore.
func (s *Store) ListEvents(_ context.Context, jobID string, afterSeq int64, limit int) ([]*engine.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[jobID]
	if !ok {
		return nil, nil
	}
	out := make([]*engine.Event, 0, limit)
	for _, e := range rec.events {
		if e.Seq <= afterSeq {
			continue
		}
		cp := *e
		out = append(out, &cp)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// AppendWithCardUpdate implements store.TransactionalEventStore: the card
// transition and the event append happen under the same lock, so a reader
// that observes the appended event can always see the merged output.
func (s *Store) AppendWithCardUpdate(_ context.Context, jobs store.JobStore, cardID string, update store.CardUpdate, jobID string, typ engine.EventType, payload map[string]any) (*engine.CardOutput, *engine.Event, error) {
	if jobs != s {
		return nil, nil, fmt.Errorf("memory store: AppendWithCardUpdate requires the same store instance as JobStore")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out, err := s.updateCardStatusLocked(cardID, update)
	if err != nil {
		return nil, nil, err
	}
	rec, ok := s.jobs[jobID]
	if !ok {
		return nil, nil, fmt.Errorf("memory store: job %s: %w", jobID, store.ErrNotFound)
	}
	e := s.appendEventLocked(rec, jobID, cardID, typ, payload)
	return out, e, nil
}
