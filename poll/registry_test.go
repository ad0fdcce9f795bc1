package poll

import (
	"testing"

	"github.com/MattieTK/newsroom-polling/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_AttachSendsSnapshotOnlyToNewcomer(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	first := newFakeSubscriber("first")
	second := newFakeSubscriber("second")

	require.NoError(t, r.Attach(first, SnapshotFrame(models.Tally{TotalVotes: 1})))
	require.NoError(t, r.Attach(second, SnapshotFrame(models.Tally{TotalVotes: 2})))

	assert.Len(t, first.received(), 1)
	require.Len(t, second.received(), 1)
	assert.Equal(t, models.Tally{TotalVotes: 2}, second.received()[0].Data)
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_AttachFailureNotAdded(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	sub := newFakeSubscriber("dead")
	sub.disconnect()

	assert.Error(t, r.Attach(sub, SnapshotFrame(models.Tally{})))
	assert.Zero(t, r.Len())
	assert.True(t, sub.isClosed())
}

func TestRegistry_BroadcastPrunesFailures(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	subs := []*fakeSubscriber{newFakeSubscriber("a"), newFakeSubscriber("b"), newFakeSubscriber("c")}
	for _, s := range subs {
		require.NoError(t, r.Attach(s, SnapshotFrame(models.Tally{})))
	}
	subs[1].disconnect()

	delivered, pruned := r.Broadcast(UpdateFrame(models.Tally{TotalVotes: 1}))
	assert.Equal(t, 2, delivered)
	assert.Equal(t, 1, pruned)
	assert.Equal(t, 2, r.Len())
	assert.True(t, subs[1].isClosed())

	// 后续广播不再尝试已移除的订阅者
	delivered, pruned = r.Broadcast(UpdateFrame(models.Tally{TotalVotes: 2}))
	assert.Equal(t, 2, delivered)
	assert.Zero(t, pruned)
	assert.Len(t, subs[0].received(), 3)
	assert.Len(t, subs[2].received(), 3)
}

func TestRegistry_KeepaliveAndCloseAll(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	a := newFakeSubscriber("a")
	require.NoError(t, r.Attach(a, SnapshotFrame(models.Tally{})))

	delivered, _ := r.Keepalive()
	assert.Equal(t, 1, delivered)
	frames := a.received()
	require.Len(t, frames, 2)
	assert.True(t, frames[1].IsComment())

	assert.True(t, r.Detach("a"))
	assert.False(t, r.Detach("a"))

	b := newFakeSubscriber("b")
	require.NoError(t, r.Attach(b, SnapshotFrame(models.Tally{})))
	assert.Equal(t, 1, r.CloseAll())
	assert.True(t, b.isClosed())
	assert.Zero(t, r.Len())
}
