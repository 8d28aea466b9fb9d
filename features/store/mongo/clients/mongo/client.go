// Package mongo implements the low-level MongoDB client backing the
// durable store/mongo implementation of store.JobStore, store.ArtifactStore,
// and store.TransactionalEventStore.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"goa.design/clue/health"

	"github.com/dinqhq/profile-engine/engine"
	"github.com/dinqhq/profile-engine/engine/store"
)

const (
	defaultDatabase        = "profile_engine"
	jobsCollection          = "jobs"
	cardsCollection         = "cards"
	artifactsCollection     = "artifacts"
	eventsCollection        = "job_events"
	defaultTimeout          = 5 * time.Second
	clientName              = "profile-engine-mongo"
	claimCandidateOverscan  = 4
)

// Client exposes the Mongo-backed operations consumed by store/mongo.Store.
// Its method set mirrors store.JobStore/ArtifactStore/TransactionalEventStore
// directly (minus the same-instance JobStore parameter, which the in-memory
// store needs and Mongo does not), so Store's forwarding is a thin pass-
// through, following the runlog/mongo Store<->Client split.
type Client interface {
	health.Pinger

	CreateJob(ctx context.Context, source string, input, options map[string]string, userID, subjectKey string, cards []store.CardDescriptor) (*engine.Job, error)
	GetJob(ctx context.Context, id string) (*engine.Job, error)
	ListCardsForJob(ctx context.Context, jobID string) ([]*engine.Card, error)
	ClaimReadyCards(ctx context.Context, workerID string, caps store.ConcurrencyCaps, limit int) ([]*engine.Card, error)
	UpdateCardStatus(ctx context.Context, cardID string, update store.CardUpdate) (*engine.CardOutput, error)
	CreateCards(ctx context.Context, jobID string, cards []store.CardDescriptor) ([]*engine.Card, error)
	RecordPrefill(ctx context.Context, targetCardID string, data map[string]any) error
	SetJobStatus(ctx context.Context, jobID string, status engine.JobStatus) error

	SaveArtifact(ctx context.Context, jobID, cardID, typ string, payload map[string]any) error
	GetArtifact(ctx context.Context, jobID, typ string) (*engine.Artifact, error)

	AppendEvent(ctx context.Context, jobID, cardID string, typ engine.EventType, payload map[string]any) (*engine.Event, error)
	ListEvents(ctx context.Context, jobID string, afterSeq int64, limit int) ([]*engine.Event, error)
	AppendWithCardUpdate(ctx context.Context, cardID string, update store.CardUpdate, jobID string, typ engine.EventType, payload map[string]any) (*engine.CardOutput, *engine.Event, error)
}

// Options configures the Mongo client implementation.
type Options struct {
	Client   *mongodriver.Client
	Database string
	Timeout  time.Duration
}

type client struct {
	mongo   *mongodriver.Client
	db      *mongodriver.Database
	jobs    *mongodriver.Collection
	cards   *mongodriver.Collection
	artifs  *mongodriver.Collection
	events  *mongodriver.Collection
	timeout time.Duration
}

// New returns a Client backed by the provided MongoDB client.
func New(opts Options) (Client, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	database := opts.Database
	if database == "" {
		database = defaultDatabase
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	db := opts.Client.Database(database)
	c := &client{
		mongo:   opts.Client,
		db:      db,
		jobs:    db.Collection(jobsCollection),
		cards:   db.Collection(cardsCollection),
		artifs:  db.Collection(artifactsCollection),
		events:  db.Collection(eventsCollection),
		timeout: timeout,
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := ensureIndexes(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *client) Name() string { return clientName }

func (c *client) Ping(ctx context.Context) error {
	return c.mongo.Ping(ctx, readpref.Primary())
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func ensureIndexes(ctx context.Context, c *client) error {
	if _, err := c.cards.Indexes().CreateMany(ctx, []mongodriver.IndexModel{
		{Keys: bson.D{{Key: "job_id", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "priority", Value: 1}, {Key: "created_at", Value: 1}}},
		{Keys: bson.D{{Key: "concurrency_group", Value: 1}, {Key: "status", Value: 1}}},
	}); err != nil {
		return err
	}
	if _, err := c.artifs.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys:    bson.D{{Key: "job_id", Value: 1}, {Key: "type", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return err
	}
	if _, err := c.events.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys:    bson.D{{Key: "job_id", Value: 1}, {Key: "seq", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return err
	}
	return nil
}

// --- documents ---

type jobDocument struct {
	ID         string            `bson:"_id"`
	Source     string            `bson:"source"`
	Input      map[string]string `bson:"input"`
	Options    map[string]string `bson:"options"`
	UserID     string            `bson:"user_id"`
	SubjectKey string            `bson:"subject_key"`
	Status     string            `bson:"status"`
	CreatedAt  time.Time         `bson:"created_at"`
	NextSeq    int64             `bson:"next_seq"`
}

func (d jobDocument) toDomain() *engine.Job {
	return &engine.Job{
		ID: d.ID, Source: d.Source, Input: d.Input, Options: d.Options,
		UserID: d.UserID, SubjectKey: d.SubjectKey,
		Status: engine.JobStatus(d.Status), CreatedAt: d.CreatedAt,
	}
}

type cardDocument struct {
	ID               string         `bson:"_id"`
	JobID            string         `bson:"job_id"`
	CardType         string         `bson:"card_type"`
	Status           string         `bson:"status"`
	DependsOn        []string       `bson:"depends_on"`
	Priority         int            `bson:"priority"`
	ConcurrencyGroup string         `bson:"concurrency_group"`
	Input            map[string]string `bson:"input"`
	OutputData       map[string]any `bson:"output_data,omitempty"`
	OutputStream     map[string]string `bson:"output_stream,omitempty"`
	ErrorKind        string         `bson:"error_kind,omitempty"`
	ErrorMessage     string         `bson:"error_message,omitempty"`
	AttemptCount     int            `bson:"attempt_count"`
	CreatedAt        time.Time      `bson:"created_at"`
	StartedAt        *time.Time     `bson:"started_at,omitempty"`
	FinishedAt       *time.Time     `bson:"finished_at,omitempty"`
}

func (d cardDocument) toDomain() *engine.Card {
	return &engine.Card{
		ID: d.ID, JobID: d.JobID, CardType: d.CardType, Status: engine.CardStatus(d.Status),
		DependsOn: d.DependsOn, Priority: d.Priority, ConcurrencyGroup: d.ConcurrencyGroup,
		Input: d.Input, Output: engine.CardOutput{Data: d.OutputData, Stream: d.OutputStream},
		ErrorKind: d.ErrorKind, ErrorMessage: d.ErrorMessage, AttemptCount: d.AttemptCount,
		CreatedAt: d.CreatedAt, StartedAt: d.StartedAt, FinishedAt: d.FinishedAt,
	}
}

type artifactDocument struct {
	ID        string         `bson:"_id"`
	JobID     string         `bson:"job_id"`
	Type      string         `bson:"type"`
	Payload   map[string]any `bson:"payload"`
	CreatedAt time.Time      `bson:"created_at"`
}

type eventDocument struct {
	ID        bson.ObjectID  `bson:"_id,omitempty"`
	JobID     string         `bson:"job_id"`
	Seq       int64          `bson:"seq"`
	CardID    string         `bson:"card_id"`
	Type      string         `bson:"type"`
	Payload   map[string]any `bson:"payload"`
	EmittedAt time.Time      `bson:"emitted_at"`
}

func (d eventDocument) toDomain() *engine.Event {
	return &engine.Event{
		JobID: d.JobID, Seq: d.Seq, CardID: d.CardID, Type: engine.EventType(d.Type),
		Payload: d.Payload, EmittedAt: d.EmittedAt,
	}
}

func artifactID(jobID, typ string) string { return jobID + "/" + typ }

// --- JobStore ---

func (c *client) CreateJob(ctx context.Context, source string, input, opts map[string]string, userID, subjectKey string, cards []store.CardDescriptor) (*engine.Job, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	now := time.Now().UTC()
	jobDoc := jobDocument{
		ID: bson.NewObjectID().Hex(), Source: source, Input: input, Options: opts,
		UserID: userID, SubjectKey: subjectKey, Status: string(engine.JobPending), CreatedAt: now,
	}
	cardDocs := make([]any, 0, len(cards))
	domainCards := make([]*engine.Card, 0, len(cards))
	for _, d := range cards {
		status := engine.CardPending
		if len(d.DependsOn) == 0 {
			status = engine.CardReady
		}
		cd := cardDocument{
			ID: bson.NewObjectID().Hex(), JobID: jobDoc.ID, CardType: d.CardType, Status: string(status),
			DependsOn: d.DependsOn, Priority: d.Priority, ConcurrencyGroup: d.ConcurrencyGroup,
			Input: d.Input, CreatedAt: now,
		}
		cardDocs = append(cardDocs, cd)
		domainCards = append(domainCards, cd.toDomain())
	}

	session, err := c.mongo.StartSession()
	if err != nil {
		return nil, err
	}
	defer session.EndSession(ctx)
	_, err = session.WithTransaction(ctx, func(sctx context.Context) (any, error) {
		if _, err := c.jobs.InsertOne(sctx, jobDoc); err != nil {
			return nil, err
		}
		if len(cardDocs) > 0 {
			if _, err := c.cards.InsertMany(sctx, cardDocs); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	_ = domainCards // returned separately via ListCardsForJob by callers that need them
	return jobDoc.toDomain(), nil
}

func (c *client) GetJob(ctx context.Context, id string) (*engine.Job, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	var doc jobDocument
	err := c.jobs.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc.toDomain(), nil
}

func (c *client) ListCardsForJob(ctx context.Context, jobID string) ([]*engine.Card, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	cur, err := c.cards.Find(ctx, bson.M{"job_id": jobID}, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []*engine.Card
	for cur.Next(ctx) {
		var doc cardDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toDomain())
	}
	return out, cur.Err()
}

// ClaimReadyCards uses a per-candidate FindOneAndUpdate conditioned on the
// card still being "ready", so a race between concurrent schedulers is
// resolved the same way spec.md §4.2 calls for: the loser's update matches
// no document and the card is simply skipped. The concurrency-group cap is
// enforced with a fresh count query per group at the start of the call, so
// under heavy multi-process contention the cap may be transiently exceeded
// by a small margin — a documented trade-off of a single-document-atomic
// claim versus the in-memory store's single mutex (see DESIGN.md).
func (c *client) ClaimReadyCards(ctx context.Context, _ string, caps store.ConcurrencyCaps, limit int) ([]*engine.Card, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	overscan := limit * claimCandidateOverscan
	if overscan <= 0 {
		overscan = claimCandidateOverscan
	}
	cur, err := c.cards.Find(ctx, bson.M{"status": string(engine.CardReady)},
		options.Find().SetSort(bson.D{{Key: "priority", Value: 1}, {Key: "created_at", Value: 1}}).SetLimit(int64(overscan)))
	if err != nil {
		return nil, err
	}
	var candidates []cardDocument
	for cur.Next(ctx) {
		var doc cardDocument
		if err := cur.Decode(&doc); err != nil {
			cur.Close(ctx)
			return nil, err
		}
		candidates = append(candidates, doc)
	}
	cur.Close(ctx)
	if err := cur.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority < candidates[j].Priority
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})

	runningByGroup := make(map[string]int64)
	for group := range caps {
		n, err := c.cards.CountDocuments(ctx, bson.M{"concurrency_group": group, "status": string(engine.CardRunning)})
		if err != nil {
			return nil, err
		}
		runningByGroup[group] = n
	}

	var claimed []*engine.Card
	now := time.Now().UTC()
	for _, cand := range candidates {
		if len(claimed) >= limit {
			break
		}
		if capN, ok := caps[cand.ConcurrencyGroup]; ok && capN > 0 {
			if runningByGroup[cand.ConcurrencyGroup] >= int64(capN) {
				continue
			}
		}
		job, err := c.GetJob(ctx, cand.JobID)
		if err != nil || job == nil || (job.Status != engine.JobPending && job.Status != engine.JobRunning) {
			continue
		}

		var updated cardDocument
		err = c.cards.FindOneAndUpdate(ctx,
			bson.M{"_id": cand.ID, "status": string(engine.CardReady)},
			bson.M{"$set": bson.M{"status": string(engine.CardRunning), "started_at": now}, "$inc": bson.M{"attempt_count": 1}},
			options.FindOneAndUpdate().SetReturnDocument(options.After),
		).Decode(&updated)
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			continue // lost the race to another claimer
		}
		if err != nil {
			return claimed, err
		}
		runningByGroup[cand.ConcurrencyGroup]++
		if job.Status == engine.JobPending {
			_, _ = c.jobs.UpdateOne(ctx, bson.M{"_id": cand.JobID}, bson.M{"$set": bson.M{"status": string(engine.JobRunning)}})
		}
		claimed = append(claimed, updated.toDomain())
	}
	return claimed, nil
}

func (c *client) UpdateCardStatus(ctx context.Context, cardID string, update store.CardUpdate) (*engine.CardOutput, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.updateCardStatus(ctx, cardID, update)
}

func (c *client) updateCardStatus(ctx context.Context, cardID string, update store.CardUpdate) (*engine.CardOutput, error) {
	var existing cardDocument
	if err := c.cards.FindOne(ctx, bson.M{"_id": cardID}).Decode(&existing); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, fmt.Errorf("mongo store: card %s: %w", cardID, store.ErrNotFound)
		}
		return nil, err
	}

	set := bson.M{"status": string(update.Status)}
	if update.Output != nil {
		merged := map[string]any{}
		for k, v := range existing.OutputData {
			merged[k] = v
		}
		for k, v := range update.Output.Data {
			merged[k] = v
		}
		set["output_data"] = merged
		set["output_stream"] = update.Output.Stream
		existing.OutputData = merged
	}
	if update.Err != nil {
		set["error_kind"] = update.Err.Kind
		set["error_message"] = update.Err.Message
	}
	if engine.CardStatus(update.Status).Terminal() {
		set["finished_at"] = time.Now().UTC()
	}

	var updated cardDocument
	err := c.cards.FindOneAndUpdate(ctx, bson.M{"_id": cardID}, bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&updated)
	if err != nil {
		return nil, err
	}

	if err := c.recomputeReadiness(ctx, updated.JobID); err != nil {
		return nil, err
	}
	if err := c.maybeFinalizeJob(ctx, updated.JobID); err != nil {
		return nil, err
	}
	out := engine.CardOutput{Data: updated.OutputData, Stream: updated.OutputStream}
	return &out, nil
}

// recomputeReadiness promotes any pending card in jobID whose dependencies
// are all completed (or skipped) to ready, mirroring store/memory's
// in-process readiness sweep.
func (c *client) recomputeReadiness(ctx context.Context, jobID string) error {
	cur, err := c.cards.Find(ctx, bson.M{"job_id": jobID})
	if err != nil {
		return err
	}
	var all []cardDocument
	for cur.Next(ctx) {
		var doc cardDocument
		if err := cur.Decode(&doc); err != nil {
			cur.Close(ctx)
			return err
		}
		all = append(all, doc)
	}
	cur.Close(ctx)
	if err := cur.Err(); err != nil {
		return err
	}

	byType := make(map[string][]cardDocument)
	for _, cd := range all {
		byType[cd.CardType] = append(byType[cd.CardType], cd)
	}
	for _, cd := range all {
		if cd.Status != string(engine.CardPending) {
			continue
		}
		ready := true
		for _, dep := range cd.DependsOn {
			deps, ok := byType[dep]
			if !ok || len(deps) == 0 {
				ready = false
				break
			}
			for _, d := range deps {
				if d.Status != string(engine.CardCompleted) && d.Status != string(engine.CardSkipped) {
					ready = false
					break
				}
			}
			if !ready {
				break
			}
		}
		if ready {
			if _, err := c.cards.UpdateOne(ctx, bson.M{"_id": cd.ID}, bson.M{"$set": bson.M{"status": string(engine.CardReady)}}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *client) maybeFinalizeJob(ctx context.Context, jobID string) error {
	job, err := c.GetJob(ctx, jobID)
	if err != nil || job == nil || job.Status.Terminal() {
		return err
	}
	cur, err := c.cards.Find(ctx, bson.M{"job_id": jobID})
	if err != nil {
		return err
	}
	allTerminal, anyFailed := true, false
	for cur.Next(ctx) {
		var doc cardDocument
		if err := cur.Decode(&doc); err != nil {
			cur.Close(ctx)
			return err
		}
		if !engine.CardStatus(doc.Status).Terminal() {
			allTerminal = false
			break
		}
		if doc.Status == string(engine.CardFailed) {
			anyFailed = true
		}
	}
	cur.Close(ctx)
	if err := cur.Err(); err != nil {
		return err
	}
	if !allTerminal {
		return nil
	}
	status := engine.JobCompleted
	if anyFailed {
		status = engine.JobFailed
	}
	_, err = c.jobs.UpdateOne(ctx, bson.M{"_id": jobID}, bson.M{"$set": bson.M{"status": string(status)}})
	return err
}

func (c *client) CreateCards(ctx context.Context, jobID string, cards []store.CardDescriptor) ([]*engine.Card, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var exists jobDocument
	if err := c.jobs.FindOne(ctx, bson.M{"_id": jobID}).Decode(&exists); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, fmt.Errorf("mongo store: job %s: %w", jobID, store.ErrNotFound)
		}
		return nil, err
	}

	now := time.Now().UTC()
	docs := make([]any, 0, len(cards))
	out := make([]*engine.Card, 0, len(cards))
	for _, d := range cards {
		status := engine.CardPending
		if len(d.DependsOn) == 0 {
			status = engine.CardReady
		}
		cd := cardDocument{
			ID: bson.NewObjectID().Hex(), JobID: jobID, CardType: d.CardType, Status: string(status),
			DependsOn: d.DependsOn, Priority: d.Priority, ConcurrencyGroup: d.ConcurrencyGroup,
			Input: d.Input, CreatedAt: now,
		}
		docs = append(docs, cd)
		out = append(out, cd.toDomain())
	}
	if len(docs) > 0 {
		if _, err := c.cards.InsertMany(ctx, docs); err != nil {
			return nil, err
		}
	}
	if err := c.recomputeReadiness(ctx, jobID); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) RecordPrefill(ctx context.Context, targetCardID string, data map[string]any) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	var existing cardDocument
	if err := c.cards.FindOne(ctx, bson.M{"_id": targetCardID}).Decode(&existing); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return fmt.Errorf("mongo store: card %s: %w", targetCardID, store.ErrNotFound)
		}
		return err
	}
	merged := map[string]any{}
	for k, v := range existing.OutputData {
		merged[k] = v
	}
	for k, v := range data {
		merged[k] = v
	}
	_, err := c.cards.UpdateOne(ctx, bson.M{"_id": targetCardID}, bson.M{"$set": bson.M{"output_data": merged}})
	return err
}

func (c *client) SetJobStatus(ctx context.Context, jobID string, status engine.JobStatus) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	res, err := c.jobs.UpdateOne(ctx, bson.M{"_id": jobID}, bson.M{"$set": bson.M{"status": string(status)}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("mongo store: job %s: %w", jobID, store.ErrNotFound)
	}
	return nil
}

// --- ArtifactStore ---

func (c *client) SaveArtifact(ctx context.Context, jobID, _ string, typ string, payload map[string]any) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	doc := artifactDocument{ID: artifactID(jobID, typ), JobID: jobID, Type: typ, Payload: payload, CreatedAt: time.Now().UTC()}
	_, err := c.artifs.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	return err
}

func (c *client) GetArtifact(ctx context.Context, jobID, typ string) (*engine.Artifact, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	var doc artifactDocument
	err := c.artifs.FindOne(ctx, bson.M{"_id": artifactID(jobID, typ)}).Decode(&doc)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &engine.Artifact{JobID: doc.JobID, Type: doc.Type, Payload: doc.Payload, CreatedAt: doc.CreatedAt}, nil
}

// --- EventStore ---

func (c *client) AppendEvent(ctx context.Context, jobID, cardID string, typ engine.EventType, payload map[string]any) (*engine.Event, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.appendEvent(ctx, jobID, cardID, typ, payload)
}

func (c *client) appendEvent(ctx context.Context, jobID, cardID string, typ engine.EventType, payload map[string]any) (*engine.Event, error) {
	var jobDoc jobDocument
	err := c.jobs.FindOneAndUpdate(ctx, bson.M{"_id": jobID}, bson.M{"$inc": bson.M{"next_seq": 1}},
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&jobDoc)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return nil, fmt.Errorf("mongo store: job %s: %w", jobID, store.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	doc := eventDocument{
		ID: bson.NewObjectID(), JobID: jobID, Seq: jobDoc.NextSeq, CardID: cardID,
		Type: string(typ), Payload: payload, EmittedAt: time.Now().UTC(),
	}
	if _, err := c.events.InsertOne(ctx, doc); err != nil {
		return nil, err
	}
	return doc.toDomain(), nil
}

func (c *client) ListEvents(ctx context.Context, jobID string, afterSeq int64, limit int) ([]*engine.Event, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	cur, err := c.events.Find(ctx, bson.M{"job_id": jobID, "seq": bson.M{"$gt": afterSeq}},
		options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}).SetLimit(int64(limit)))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []*engine.Event
	for cur.Next(ctx) {
		var doc eventDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toDomain())
	}
	return out, cur.Err()
}

// AppendWithCardUpdate performs the card update and the event's seq
// allocation + insert inside one Mongo transaction, satisfying §4.4's
// requirement that a consumer observing the event can always replay the
// card's final state.
func (c *client) AppendWithCardUpdate(ctx context.Context, cardID string, update store.CardUpdate, jobID string, typ engine.EventType, payload map[string]any) (*engine.CardOutput, *engine.Event, error) {
	return c.appendWithCardUpdate(ctx, cardID, update, jobID, typ, payload)
}

func (c *client) appendWithCardUpdate(ctx context.Context, cardID string, update store.CardUpdate, jobID string, typ engine.EventType, payload map[string]any) (*engine.CardOutput, *engine.Event, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	session, err := c.mongo.StartSession()
	if err != nil {
		return nil, nil, err
	}
	defer session.EndSession(ctx)

	type txResult struct {
		out *engine.CardOutput
		e   *engine.Event
	}
	res, err := session.WithTransaction(ctx, func(sctx context.Context) (any, error) {
		out, err := c.updateCardStatus(sctx, cardID, update)
		if err != nil {
			return nil, err
		}
		e, err := c.appendEvent(sctx, jobID, cardID, typ, payload)
		if err != nil {
			return nil, err
		}
		return txResult{out: out, e: e}, nil
	})
	if err != nil {
		return nil, nil, err
	}
	tr := res.(txResult)
	return tr.out, tr.e, nil
}
