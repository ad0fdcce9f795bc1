package poll

import (
	"context"
	"testing"

	"github.com/MattieTK/newsroom-polling/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActor_VoteMetrics(t *testing.T) {
	f := newActorFixture(t)
	ctx := context.Background()
	view := f.published(t)

	accepted := testutil.ToFloat64(metrics.VotesTotal.WithLabelValues(metrics.VoteAccepted))
	duplicate := testutil.ToFloat64(metrics.VotesTotal.WithLabelValues(metrics.VoteDuplicate))
	invalid := testutil.ToFloat64(metrics.VotesTotal.WithLabelValues(metrics.VoteInvalidAnswer))

	_, err := f.actor.Vote(ctx, view.Answers[0].ID, "m-1")
	require.NoError(t, err)
	_, err = f.actor.Vote(ctx, view.Answers[0].ID, "m-1")
	require.Error(t, err)
	_, err = f.actor.Vote(ctx, "nope", "m-2")
	require.Error(t, err)

	assert.Equal(t, accepted+1, testutil.ToFloat64(metrics.VotesTotal.WithLabelValues(metrics.VoteAccepted)))
	assert.Equal(t, duplicate+1, testutil.ToFloat64(metrics.VotesTotal.WithLabelValues(metrics.VoteDuplicate)))
	assert.Equal(t, invalid+1, testutil.ToFloat64(metrics.VotesTotal.WithLabelValues(metrics.VoteInvalidAnswer)))
}

func TestRegistry_SubscriberGauge(t *testing.T) {
	f := newActorFixture(t)
	ctx := context.Background()
	f.published(t)

	before := testutil.ToFloat64(metrics.Subscribers)
	sub := newFakeSubscriber("gauge")
	require.NoError(t, f.actor.Stream(ctx, sub))
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.Subscribers))

	require.NoError(t, f.actor.Detach(ctx, "gauge"))
	assert.Equal(t, before, testutil.ToFloat64(metrics.Subscribers))
}
