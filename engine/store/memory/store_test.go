package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dinqhq/profile-engine/engine"
	"github.com/dinqhq/profile-engine/engine/store"
)

func TestAppendEventSeqIsContiguousPerJob(t *testing.T) {
	t.Parallel()

	s := New(nil)
	ctx := context.Background()

	job, err := s.CreateJob(ctx, "github", map[string]string{"content": "octocat"}, nil, "user-1", "subject-1", nil)
	require.NoError(t, err)

	var seqs []int64
	for i := 0; i < 5; i++ {
		e, err := s.AppendEvent(ctx, job.ID, "", engine.EventCardProgress, nil)
		require.NoError(t, err)
		seqs = append(seqs, e.Seq)
	}
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, seqs)

	events, err := s.ListEvents(ctx, job.ID, 0, 100)
	require.NoError(t, err)
	require.Len(t, events, 5)
	for i, e := range events {
		assert.Equal(t, int64(i+1), e.Seq)
	}
}

func TestAppendEventSeqIsIndependentPerJob(t *testing.T) {
	t.Parallel()

	s := New(nil)
	ctx := context.Background()

	jobA, err := s.CreateJob(ctx, "github", nil, nil, "user-1", "subject-a", nil)
	require.NoError(t, err)
	jobB, err := s.CreateJob(ctx, "github", nil, nil, "user-1", "subject-b", nil)
	require.NoError(t, err)

	_, err = s.AppendEvent(ctx, jobA.ID, "", engine.EventJobStarted, nil)
	require.NoError(t, err)
	eA, err := s.AppendEvent(ctx, jobA.ID, "", engine.EventJobCompleted, nil)
	require.NoError(t, err)
	eB, err := s.AppendEvent(ctx, jobB.ID, "", engine.EventJobStarted, nil)
	require.NoError(t, err)

	assert.Equal(t, int64(2), eA.Seq)
	assert.Equal(t, int64(1), eB.Seq, "jobB's sequence must not be affected by jobA's appends")
}

func TestListEventsFiltersByAfterSeq(t *testing.T) {
	t.Parallel()

	s := New(nil)
	ctx := context.Background()
	job, err := s.CreateJob(ctx, "github", nil, nil, "user-1", "subject-1", nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := s.AppendEvent(ctx, job.ID, "", engine.EventCardProgress, nil)
		require.NoError(t, err)
	}

	events, err := s.ListEvents(ctx, job.ID, 1, 100)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(2), events[0].Seq)
	assert.Equal(t, int64(3), events[1].Seq)
}

// TestUpdateCardStatusPrefillMerge exercises the atomic prefill semantics
// (§4.8): data recorded via RecordPrefill ahead of completion must survive
// into the card's final output, but the completing handler's own data wins
// on key conflicts.
func TestUpdateCardStatusPrefillMerge(t *testing.T) {
	t.Parallel()

	s := New(nil)
	ctx := context.Background()

	job, err := s.CreateJob(ctx, "linkedin", nil, nil, "user-1", "subject-1", []store.CardDescriptor{
		{CardType: "profile"},
	})
	require.NoError(t, err)

	cards, err := s.ListCardsForJob(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, cards, 1)
	cardID := cards[0].ID

	err = s.RecordPrefill(ctx, cardID, map[string]any{
		"name":   "octocat (fixture)",
		"avatar": "",
		"about":  "",
	})
	require.NoError(t, err)

	out, err := s.UpdateCardStatus(ctx, cardID, store.CardUpdate{
		Status: engine.CardCompleted,
		Output: &engine.CardOutput{Data: map[string]any{
			"name":   "octocat (fixture)",
			"avatar": "https://example.test/avatars/octocat.png",
		}},
	})
	require.NoError(t, err)

	assert.Equal(t, "octocat (fixture)", out.Data["name"])
	assert.Equal(t, "https://example.test/avatars/octocat.png", out.Data["avatar"], "completing data must win over prefilled data on conflict")
	_, hasEmptyAbout := out.Data["about"]
	assert.False(t, hasEmptyAbout, "empty prefilled fields are pruned")
}

func TestUpdateCardStatusMergesOverPriorOutput(t *testing.T) {
	t.Parallel()

	s := New(nil)
	ctx := context.Background()

	job, err := s.CreateJob(ctx, "github", nil, nil, "user-1", "subject-1", []store.CardDescriptor{
		{CardType: "profile"},
	})
	require.NoError(t, err)
	cards, err := s.ListCardsForJob(ctx, job.ID)
	require.NoError(t, err)
	cardID := cards[0].ID

	_, err = s.UpdateCardStatus(ctx, cardID, store.CardUpdate{
		Status: engine.CardRunning,
		Output: &engine.CardOutput{Data: map[string]any{"partial": "a"}},
	})
	require.NoError(t, err)

	out, err := s.UpdateCardStatus(ctx, cardID, store.CardUpdate{
		Status: engine.CardCompleted,
		Output: &engine.CardOutput{Data: map[string]any{"final": "b"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "a", out.Data["partial"])
	assert.Equal(t, "b", out.Data["final"])
}

func TestClaimReadyCardsHonorsConcurrencyCaps(t *testing.T) {
	t.Parallel()

	s := New(nil)
	ctx := context.Background()

	job, err := s.CreateJob(ctx, "github", nil, nil, "user-1", "subject-1", []store.CardDescriptor{
		{CardType: "resource.github.data", ConcurrencyGroup: "scrape"},
		{CardType: "resource.github.enrich", ConcurrencyGroup: "scrape"},
		{CardType: "resource.github.profile", ConcurrencyGroup: "scrape"},
	})
	require.NoError(t, err)
	_ = job

	claimed, err := s.ClaimReadyCards(ctx, "worker-1", store.ConcurrencyCaps{"scrape": 2}, 10)
	require.NoError(t, err)
	assert.Len(t, claimed, 2, "the cap of 2 for group scrape must not be exceeded even though 3 cards and a limit of 10 are available")

	// Releasing one (terminal transition) must free a slot for the third.
	_, err = s.UpdateCardStatus(ctx, claimed[0].ID, store.CardUpdate{Status: engine.CardCompleted})
	require.NoError(t, err)

	claimed2, err := s.ClaimReadyCards(ctx, "worker-1", store.ConcurrencyCaps{"scrape": 2}, 10)
	require.NoError(t, err)
	assert.Len(t, claimed2, 1)
}

func TestClaimReadyCardsOrdersByPriorityThenCreatedAt(t *testing.T) {
	t.Parallel()

	s := New(nil)
	ctx := context.Background()

	job, err := s.CreateJob(ctx, "github", nil, nil, "user-1", "subject-1", []store.CardDescriptor{
		{CardType: "low_priority", Priority: 5},
		{CardType: "high_priority", Priority: 0},
	})
	require.NoError(t, err)
	_ = job

	claimed, err := s.ClaimReadyCards(ctx, "worker-1", nil, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, "high_priority", claimed[0].CardType)
	assert.Equal(t, "low_priority", claimed[1].CardType)
}

func TestRecomputeReadinessPromotesPendingOnDependencyCompletion(t *testing.T) {
	t.Parallel()

	s := New(nil)
	ctx := context.Background()

	job, err := s.CreateJob(ctx, "github", nil, nil, "user-1", "subject-1", []store.CardDescriptor{
		{CardType: "resource.github.data"},
		{CardType: "profile", DependsOn: []string{"resource.github.data"}},
	})
	require.NoError(t, err)

	cards, err := s.ListCardsForJob(ctx, job.ID)
	require.NoError(t, err)
	byType := map[string]*engine.Card{}
	for _, c := range cards {
		byType[c.CardType] = c
	}
	assert.Equal(t, engine.CardReady, byType["resource.github.data"].Status)
	assert.Equal(t, engine.CardPending, byType["profile"].Status)

	_, err = s.UpdateCardStatus(ctx, byType["resource.github.data"].ID, store.CardUpdate{Status: engine.CardCompleted})
	require.NoError(t, err)

	cards, err = s.ListCardsForJob(ctx, job.ID)
	require.NoError(t, err)
	for _, c := range cards {
		if c.CardType == "profile" {
			assert.Equal(t, engine.CardReady, c.Status)
		}
	}
}

func TestMaybeFinalizeJobMarksFailedWhenAnyCardFails(t *testing.T) {
	t.Parallel()

	s := New(nil)
	ctx := context.Background()

	job, err := s.CreateJob(ctx, "github", nil, nil, "user-1", "subject-1", []store.CardDescriptor{
		{CardType: "a"},
		{CardType: "b"},
	})
	require.NoError(t, err)
	cards, err := s.ListCardsForJob(ctx, job.ID)
	require.NoError(t, err)

	_, err = s.UpdateCardStatus(ctx, cards[0].ID, store.CardUpdate{Status: engine.CardCompleted})
	require.NoError(t, err)
	_, err = s.UpdateCardStatus(ctx, cards[1].ID, store.CardUpdate{Status: engine.CardFailed, Err: &store.CardError{Kind: "internal", Message: "boom"}})
	require.NoError(t, err)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.JobFailed, got.Status)
}
