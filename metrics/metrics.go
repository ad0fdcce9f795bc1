package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 投票结果标签
const (
	VoteAccepted      = "accepted"
	VoteDuplicate     = "duplicate"
	VoteClosed        = "closed"
	VoteInvalidState  = "invalid_state"
	VoteInvalidAnswer = "invalid_answer"
	VoteError         = "error"
)

// Actor metrics
var (
	// VotesTotal 按结果统计的投票请求数
	VotesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poll_votes_total",
			Help: "Vote submissions by result",
		},
		[]string{"result"},
	)

	// OperationDuration actor命令从入队到完成的耗时
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "poll_operation_duration_seconds",
			Help:    "Poll actor operation duration in seconds",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"op"},
	)

	ActorsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "poll_actors_active",
			Help: "Number of resident poll actors",
		},
	)
)

// Streaming metrics
var (
	Subscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "poll_subscribers",
			Help: "Currently attached streaming subscribers across all polls",
		},
	)

	SubscribersPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "poll_subscribers_pruned_total",
			Help: "Subscribers removed after a failed delivery",
		},
	)
)

// EventsDropped 事件队列已满时丢弃的事件数
var EventsDropped = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "poll_events_dropped_total",
		Help: "Poll events dropped because the publish buffer was full",
	},
)
