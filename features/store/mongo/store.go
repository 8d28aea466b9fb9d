package mongo

import (
	"context"
	"fmt"

	"github.com/dinqhq/profile-engine/engine"
	clientsmongo "github.com/dinqhq/profile-engine/features/store/mongo/clients/mongo"

	"github.com/dinqhq/profile-engine/engine/store"
)

// Store implements store.JobStore, store.ArtifactStore, and
// store.TransactionalEventStore by delegating to a clientsmongo.Client.
type Store struct {
	client clientsmongo.Client
}

// NewStore constructs a Store.
func NewStore(client clientsmongo.Client) *Store {
	return &Store{client: client}
}

func (s *Store) CreateJob(ctx context.Context, source string, input, options map[string]string, userID, subjectKey string, cards []store.CardDescriptor) (*engine.Job, error) {
	return s.client.CreateJob(ctx, source, input, options, userID, subjectKey, cards)
}

func (s *Store) GetJob(ctx context.Context, id string) (*engine.Job, error) {
	return s.client.GetJob(ctx, id)
}

func (s *Store) ListCardsForJob(ctx context.Context, jobID string) ([]*engine.Card, error) {
	return s.client.ListCardsForJob(ctx, jobID)
}

func (s *Store) ClaimReadyCards(ctx context.Context, workerID string, caps store.ConcurrencyCaps, limit int) ([]*engine.Card, error) {
	return s.client.ClaimReadyCards(ctx, workerID, caps, limit)
}

func (s *Store) UpdateCardStatus(ctx context.Context, cardID string, update store.CardUpdate) (*engine.CardOutput, error) {
	return s.client.UpdateCardStatus(ctx, cardID, update)
}

func (s *Store) CreateCards(ctx context.Context, jobID string, cards []store.CardDescriptor) ([]*engine.Card, error) {
	return s.client.CreateCards(ctx, jobID, cards)
}

func (s *Store) RecordPrefill(ctx context.Context, targetCardID string, data map[string]any) error {
	return s.client.RecordPrefill(ctx, targetCardID, data)
}

func (s *Store) SetJobStatus(ctx context.Context, jobID string, status engine.JobStatus) error {
	return s.client.SetJobStatus(ctx, jobID, status)
}

func (s *Store) SaveArtifact(ctx context.Context, jobID, cardID, typ string, payload map[string]any) error {
	return s.client.SaveArtifact(ctx, jobID, cardID, typ, payload)
}

func (s *Store) GetArtifact(ctx context.Context, jobID, typ string) (*engine.Artifact, error) {
	return s.client.GetArtifact(ctx, jobID, typ)
}

func (s *Store) AppendEvent(ctx context.Context, jobID, cardID string, typ engine.EventType, payload map[string]any) (*engine.Event, error) {
	return s.client.AppendEvent(ctx, jobID, cardID, typ, payload)
}

func (s *Store) ListEvents(ctx context.Context, jobID string, afterSeq int64, limit int) ([]*engine.Event, error) {
	return s.client.ListEvents(ctx, jobID, afterSeq, limit)
}

// AppendWithCardUpdate requires jobs to be this same Store instance, since
// the atomicity guarantee only holds across the one underlying client.
func (s *Store) AppendWithCardUpdate(ctx context.Context, jobs store.JobStore, cardID string, update store.CardUpdate, jobID string, typ engine.EventType, payload map[string]any) (*engine.CardOutput, *engine.Event, error) {
	if jobs != store.JobStore(s) {
		return nil, nil, fmt.Errorf("mongo store: AppendWithCardUpdate requires the same store instance as JobStore")
	}
	return s.client.AppendWithCardUpdate(ctx, cardID, update, jobID, typ, payload)
}
