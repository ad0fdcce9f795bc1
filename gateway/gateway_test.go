package gateway

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MattieTK/newsroom-polling/cache"
	"github.com/MattieTK/newsroom-polling/poll"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGateway(t *testing.T, dataDir string) *Gateway {
	t.Helper()
	g, err := New(Config{DataDir: dataDir, Logger: zerolog.Nop()})
	require.NoError(t, err)
	return g
}

func TestKeyFor(t *testing.T) {
	assert.Equal(t, KeyFor("abc"), KeyFor("abc"))
	assert.NotEqual(t, KeyFor("abc"), KeyFor("abd"))
	assert.Len(t, KeyFor("abc"), len("poll-")+32)
}

func TestValidateID(t *testing.T) {
	for _, id := range []string{"a", "poll-1", "Poll_2", "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"} {
		assert.NoError(t, ValidateID(id), id)
	}
	for _, id := range []string{"", "has space", "../etc", "ünïcode", "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef0"} {
		err := ValidateID(id)
		assert.True(t, poll.IsKind(err, poll.KindValidation), id)
	}
}

func TestGateway_SameActorPerPoll(t *testing.T) {
	g := newGateway(t, "")
	defer g.Close()
	ctx := context.Background()

	a1, err := g.Poll(ctx, "alpha")
	require.NoError(t, err)
	a2, err := g.Poll(ctx, "alpha")
	require.NoError(t, err)
	b, err := g.Poll(ctx, "beta")
	require.NoError(t, err)

	assert.Same(t, a1, a2)
	assert.NotSame(t, a1, b)
	assert.Equal(t, 2, g.ActiveActors())
}

func TestGateway_IndexFollowsCreateAndDelete(t *testing.T) {
	g := newGateway(t, "")
	defer g.Close()
	ctx := context.Background()

	for _, id := range []string{"one", "two", "three"} {
		a, err := g.Poll(ctx, id)
		require.NoError(t, err)
		_, err = a.Create(ctx, id, "Question "+id+"?", []string{"A", "B"})
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		ids, err := g.List(ctx)
		return err == nil && len(ids) == 3
	}, 2*time.Second, 10*time.Millisecond)
	ids, err := g.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two", "three"}, ids)

	a, err := g.Poll(ctx, "two")
	require.NoError(t, err)
	require.NoError(t, a.Delete(ctx))

	require.Eventually(t, func() bool {
		ids, err := g.List(ctx)
		return err == nil && len(ids) == 2
	}, 2*time.Second, 10*time.Millisecond)
	ids, err = g.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "three"}, ids)
}

func TestGateway_PersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	g := newGateway(t, dir)
	a, err := g.Poll(ctx, "durable")
	require.NoError(t, err)
	view, err := a.Create(ctx, "durable", "Still here?", []string{"Yes", "No"})
	require.NoError(t, err)
	_, err = a.Publish(ctx)
	require.NoError(t, err)
	_, err = a.Vote(ctx, view.Answers[0].ID, "fp")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		ids, err := g.List(ctx)
		return err == nil && len(ids) == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, g.Close())

	_, err = os.Stat(filepath.Join(dir, "polls", KeyFor("durable")+".db"))
	require.NoError(t, err)

	g2 := newGateway(t, dir)
	defer g2.Close()
	a2, err := g2.Poll(ctx, "durable")
	require.NoError(t, err)

	got, err := a2.Get(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, got.TotalVotes)

	_, err = a2.Vote(ctx, view.Answers[1].ID, "fp")
	assert.True(t, poll.IsKind(err, poll.KindDuplicateVote))

	ids, err := g2.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"durable"}, ids)
}

func TestGateway_Close(t *testing.T) {
	g := newGateway(t, "")
	ctx := context.Background()
	a, err := g.Poll(ctx, "closing")
	require.NoError(t, err)

	require.NoError(t, g.Close())
	require.NoError(t, g.Close())

	select {
	case <-a.Done():
	case <-time.After(time.Second):
		t.Fatal("actor was not stopped")
	}

	_, err = g.Poll(ctx, "closing")
	assert.True(t, poll.IsKind(err, poll.KindUnavailable))
}

func concurrentPolls(t *testing.T, g *Gateway, pollID string, n int) []*poll.Actor {
	t.Helper()
	var wg sync.WaitGroup
	actors := make([]*poll.Actor, n)
	errs := make([]error, n)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			actors[i], errs[i] = g.Poll(context.Background(), pollID)
		}(i)
	}
	close(start)
	wg.Wait()
	for i, err := range errs {
		require.NoError(t, err, "caller %d", i)
	}
	return actors
}

func TestGateway_ConcurrentFirstAccess(t *testing.T) {
	g := newGateway(t, t.TempDir())
	defer g.Close()

	actors := concurrentPolls(t, g, "cold", 16)
	for _, a := range actors {
		assert.Same(t, actors[0], a)
	}
	assert.Equal(t, 1, g.ActiveActors())
}

func TestGateway_ConcurrentFirstAccessWithLeases(t *testing.T) {
	if testRedisAddr == "" {
		t.Skip("redis container not available")
	}
	client := redis.NewClient(&redis.Options{Addr: testRedisAddr})
	defer client.Close()

	g, err := New(Config{
		Leases: cache.NewLeaseManager(client, 90*time.Second),
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	defer g.Close()

	pollID := "embed-" + uuid.NewString()[:8]
	actors := concurrentPolls(t, g, pollID, 8)
	for _, a := range actors {
		assert.Same(t, actors[0], a)
	}

	// 租约属于这个进程，另一个网关拿不到
	other, err := New(Config{
		Leases: cache.NewLeaseManager(client, 90*time.Second),
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	defer other.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = other.Poll(ctx, pollID)
	assert.True(t, poll.IsKind(err, poll.KindUnavailable))
}

func TestGateway_EvictsIdleActors(t *testing.T) {
	dir := t.TempDir()
	clock := clockwork.NewFakeClock()
	g, err := New(Config{
		DataDir:     dir,
		Clock:       clock,
		IdleTimeout: time.Minute,
		Logger:      zerolog.Nop(),
	})
	require.NoError(t, err)
	defer g.Close()
	ctx := context.Background()

	ghost, err := g.Poll(ctx, "ghost")
	require.NoError(t, err)
	_, err = ghost.Get(ctx)
	assert.True(t, poll.IsKind(err, poll.KindNotFound))

	kept, err := g.Poll(ctx, "real")
	require.NoError(t, err)
	_, err = kept.Create(ctx, "real", "Kept?", []string{"Yes", "No"})
	require.NoError(t, err)
	require.Equal(t, 2, g.ActiveActors())

	clock.Advance(time.Minute)
	require.Eventually(t, func() bool { return g.ActiveActors() == 1 }, 2*time.Second, 10*time.Millisecond)

	select {
	case <-ghost.Done():
	case <-time.After(time.Second):
		t.Fatal("idle actor was not stopped")
	}
	_, err = os.Stat(filepath.Join(dir, "polls", KeyFor("ghost")+".db"))
	assert.True(t, os.IsNotExist(err), "empty store file removed")
	_, err = os.Stat(filepath.Join(dir, "polls", KeyFor("real")+".db"))
	assert.NoError(t, err)

	again, err := g.Poll(ctx, "real")
	require.NoError(t, err)
	assert.Same(t, kept, again)

	// 回收后再次访问会创建新的actor
	fresh, err := g.Poll(ctx, "ghost")
	require.NoError(t, err)
	assert.NotSame(t, ghost, fresh)
}
