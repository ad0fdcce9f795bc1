package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/MattieTK/newsroom-polling/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPollStore(t *testing.T) *PollStore {
	t.Helper()
	store, err := OpenPollStore(Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func samplePoll() *models.Poll {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return &models.Poll{
		ID:        "p1",
		Question:  "Best season?",
		Status:    models.StatusPublished,
		CreatedAt: now,
		UpdatedAt: now,
		Answers: []models.Answer{
			{ID: "a1", PollID: "p1", Text: "Spring", DisplayOrder: 0},
			{ID: "a2", PollID: "p1", Text: "Summer", DisplayOrder: 1},
			{ID: "a3", PollID: "p1", Text: "Autumn", DisplayOrder: 2},
		},
	}
}

func vote(id, answerID, fp string) *models.Vote {
	return &models.Vote{ID: id, PollID: "p1", AnswerID: answerID, VoterFingerprint: fp, VotedAt: time.Now().UTC()}
}

func TestPollStore_EmptyStore(t *testing.T) {
	store := newPollStore(t)

	p, err := store.LoadPoll(context.Background())
	require.NoError(t, err)
	assert.Nil(t, p)

	counts, err := store.CountVotes(context.Background())
	require.NoError(t, err)
	assert.Zero(t, counts.Total)
}

func TestPollStore_CreateAndLoad(t *testing.T) {
	store := newPollStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreatePoll(ctx, samplePoll()))

	p, err := store.LoadPoll(ctx)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "Best season?", p.Question)
	require.Len(t, p.Answers, 3)
	for i, a := range p.Answers {
		assert.Equal(t, i, a.DisplayOrder)
	}
	assert.Equal(t, "Autumn", p.Answers[2].Text)
}

func TestPollStore_DuplicateAnswerTextRejected(t *testing.T) {
	store := newPollStore(t)
	p := samplePoll()
	p.Answers[1].Text = "Spring"

	assert.Error(t, store.CreatePoll(context.Background(), p))

	// 事务回滚，投票本身也没有写入
	loaded, err := store.LoadPoll(context.Background())
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestPollStore_InsertVoteCounts(t *testing.T) {
	store := newPollStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreatePoll(ctx, samplePoll()))

	counts, err := store.InsertVote(ctx, vote("v1", "a1", "fp1"))
	require.NoError(t, err)
	assert.EqualValues(t, 1, counts.Total)

	_, err = store.InsertVote(ctx, vote("v2", "a2", "fp2"))
	require.NoError(t, err)
	counts, err = store.InsertVote(ctx, vote("v3", "a2", "fp3"))
	require.NoError(t, err)

	assert.EqualValues(t, 3, counts.Total)
	assert.EqualValues(t, 1, counts.ByAnswer["a1"])
	assert.EqualValues(t, 2, counts.ByAnswer["a2"])
	assert.EqualValues(t, 0, counts.ByAnswer["a3"])
}

func TestPollStore_DuplicateFingerprint(t *testing.T) {
	store := newPollStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreatePoll(ctx, samplePoll()))

	_, err := store.InsertVote(ctx, vote("v1", "a1", "same"))
	require.NoError(t, err)

	_, err = store.InsertVote(ctx, vote("v2", "a2", "same"))
	assert.ErrorIs(t, err, ErrDuplicateFingerprint)

	counts, err := store.CountVotes(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, counts.Total)

	found, err := store.FindVote(ctx, "same")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "a1", found.AnswerID)

	missing, err := store.FindVote(ctx, "other")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestPollStore_ResetVotes(t *testing.T) {
	store := newPollStore(t)
	ctx := context.Background()
	p := samplePoll()
	require.NoError(t, store.CreatePoll(ctx, p))
	_, err := store.InsertVote(ctx, vote("v1", "a1", "fp1"))
	require.NoError(t, err)

	p.ResetCount = 1
	require.NoError(t, store.ResetVotes(ctx, p))

	counts, err := store.CountVotes(ctx)
	require.NoError(t, err)
	assert.Zero(t, counts.Total)

	loaded, err := store.LoadPoll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.ResetCount)
	assert.Len(t, loaded.Answers, 3)

	// 新纪元里同一指纹可以再次投票
	_, err = store.InsertVote(ctx, vote("v2", "a2", "fp1"))
	assert.NoError(t, err)
}

func TestPollStore_ReplaceAnswers(t *testing.T) {
	store := newPollStore(t)
	ctx := context.Background()
	p := samplePoll()
	p.Status = models.StatusDraft
	require.NoError(t, store.CreatePoll(ctx, p))

	p.Question = "Best month?"
	require.NoError(t, store.ReplaceAnswers(ctx, p, []models.Answer{
		{ID: "b1", PollID: "p1", Text: "May", DisplayOrder: 0},
		{ID: "b2", PollID: "p1", Text: "June", DisplayOrder: 1},
	}))

	loaded, err := store.LoadPoll(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Best month?", loaded.Question)
	require.Len(t, loaded.Answers, 2)
	assert.Equal(t, "b1", loaded.Answers[0].ID)
}

func TestPollStore_DeleteAll(t *testing.T) {
	store := newPollStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreatePoll(ctx, samplePoll()))
	_, err := store.InsertVote(ctx, vote("v1", "a1", "fp1"))
	require.NoError(t, err)

	require.NoError(t, store.DeleteAll(ctx))

	loaded, err := store.LoadPoll(ctx)
	require.NoError(t, err)
	assert.Nil(t, loaded)
	counts, err := store.CountVotes(ctx)
	require.NoError(t, err)
	assert.Zero(t, counts.Total)

	// 删除后可以重新创建同一个投票
	assert.NoError(t, store.CreatePoll(ctx, samplePoll()))
}

func TestPollStore_FilePersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "polls", "p1.db")
	ctx := context.Background()

	store, err := OpenPollStore(Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, store.CreatePoll(ctx, samplePoll()))
	_, err = store.InsertVote(ctx, vote("v1", "a3", "fp1"))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := OpenPollStore(Config{Path: path})
	require.NoError(t, err)
	defer reopened.Close()

	p, err := reopened.LoadPoll(ctx)
	require.NoError(t, err)
	require.NotNil(t, p)
	counts, err := reopened.CountVotes(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, counts.ByAnswer["a3"])
}

func TestIndexStore(t *testing.T) {
	store, err := OpenIndexStore(Config{})
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, store.Add(ctx, &models.IndexEntry{PollID: id, AddedAt: time.Now().UTC()}))
	}
	// 重复加入保持原位置
	require.NoError(t, store.Add(ctx, &models.IndexEntry{PollID: "c", AddedAt: time.Now().UTC()}))

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a", "b"}, ids)

	require.NoError(t, store.Remove(ctx, "a"))
	require.NoError(t, store.Remove(ctx, "a"))

	ids, err = store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b"}, ids)
}
