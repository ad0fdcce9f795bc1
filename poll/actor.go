package poll

import (
	"context"
	"errors"
	"time"

	"github.com/MattieTK/newsroom-polling/actor"
	"github.com/MattieTK/newsroom-polling/database"
	"github.com/MattieTK/newsroom-polling/metrics"
	"github.com/MattieTK/newsroom-polling/models"
	"github.com/MattieTK/newsroom-polling/mq"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// DefaultKeepaliveInterval 保活帧的发送间隔
const DefaultKeepaliveInterval = 30 * time.Second

// Indexer 接收投票创建和删除的异步通知
type Indexer interface {
	AddAsync(pollID string)
	RemoveAsync(pollID string)
}

// Config 创建投票actor所需的依赖
type Config struct {
	Key               string
	Store             *database.PollStore
	Clock             clockwork.Clock
	KeepaliveInterval time.Duration
	MailboxSize       int
	Index             Indexer
	Events            mq.Publisher
	Logger            zerolog.Logger
}

// UpdateInput update 的可选字段，nil 表示不修改
type UpdateInput struct {
	Question *string
	Answers  []string
}

// Actor owns exactly one poll: its store, its subscribers and every mutation of either.
// All exported methods are executed one at a time through the mailbox.
type Actor struct {
	key      string
	mailbox  *actor.Mailbox
	store    *database.PollStore
	registry *Registry
	clock    clockwork.Clock
	index    Indexer
	events   mq.Publisher
	log      zerolog.Logger

	// 以下字段只在邮箱goroutine中读写
	poll   *models.Poll
	loaded bool
}

// NewActor 创建并启动一个投票actor
func NewActor(cfg Config) *Actor {
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	interval := cfg.KeepaliveInterval
	if interval <= 0 {
		interval = DefaultKeepaliveInterval
	}
	events := cfg.Events
	if events == nil {
		events = mq.NopPublisher{}
	}
	log := cfg.Logger.With().Str("poll_key", cfg.Key).Logger()

	a := &Actor{
		key:      cfg.Key,
		store:    cfg.Store,
		registry: NewRegistry(log),
		clock:    clock,
		index:    cfg.Index,
		events:   events,
		log:      log,
	}
	a.mailbox = actor.New(actor.Options{
		Name:         cfg.Key,
		Clock:        clock,
		MailboxSize:  cfg.MailboxSize,
		TickInterval: interval,
		OnTick:       a.keepalive,
		OnStop:       a.shutdown,
		Logger:       cfg.Logger,
	})
	metrics.ActorsActive.Inc()
	return a
}

// Key 返回actor的实例键
func (a *Actor) Key() string {
	return a.key
}

// Create 在草稿状态下原子地创建投票和全部选项
func (a *Actor) Create(ctx context.Context, id, question string, answers []string) (models.PollView, error) {
	var view models.PollView
	err := a.do(ctx, "create", func(ctx context.Context) error {
		existing, err := a.current(ctx)
		if err != nil {
			return err
		}
		if existing != nil {
			return AlreadyExists("poll %s already exists", existing.ID)
		}
		if id == "" {
			return Validation("poll id is required").WithContext("field", "id")
		}
		q, err := normalizeQuestion(question)
		if err != nil {
			return err
		}
		texts, err := normalizeAnswers(answers)
		if err != nil {
			return err
		}

		now := a.now()
		p := &models.Poll{
			ID:        id,
			Question:  q,
			Status:    models.StatusDraft,
			CreatedAt: now,
			UpdatedAt: now,
			Answers:   newAnswers(id, texts),
		}
		if err := a.store.CreatePoll(ctx, p); err != nil {
			a.invalidate()
			return Internal(err, "create poll")
		}
		a.poll = p

		view = models.BuildView(p, emptyCounts())
		if a.index != nil {
			a.index.AddAsync(p.ID)
		}
		a.publish(mq.EventPollCreated, p, 0, "")
		a.log.Info().Str("poll_id", p.ID).Int("answers", len(p.Answers)).Msg("投票已创建")
		return nil
	})
	return view, err
}

// Get 返回带实时票数的完整投影
func (a *Actor) Get(ctx context.Context) (models.PollView, error) {
	var view models.PollView
	err := a.do(ctx, "get", func(ctx context.Context) error {
		p, err := a.require(ctx)
		if err != nil {
			return err
		}
		counts, err := a.store.CountVotes(ctx)
		if err != nil {
			return Internal(err, "count votes")
		}
		view = models.BuildView(p, counts)
		return nil
	})
	return view, err
}

// Update 只允许在草稿状态下修改问题或整体替换选项
func (a *Actor) Update(ctx context.Context, in UpdateInput) (models.PollView, error) {
	var view models.PollView
	err := a.do(ctx, "update", func(ctx context.Context) error {
		p, err := a.require(ctx)
		if err != nil {
			return err
		}
		if !p.AllowsEdits() {
			return InvalidState("poll %s is %s; only draft polls can be updated", p.ID, p.Status).
				WithContext("status", p.Status)
		}
		if in.Question == nil && in.Answers == nil {
			counts, err := a.store.CountVotes(ctx)
			if err != nil {
				return Internal(err, "count votes")
			}
			view = models.BuildView(p, counts)
			return nil
		}

		next := *p
		if in.Question != nil {
			q, err := normalizeQuestion(*in.Question)
			if err != nil {
				return err
			}
			next.Question = q
		}
		var replacement []models.Answer
		if in.Answers != nil {
			texts, err := normalizeAnswers(in.Answers)
			if err != nil {
				return err
			}
			replacement = newAnswers(p.ID, texts)
		}
		next.UpdatedAt = a.now()

		if replacement != nil {
			err = a.store.ReplaceAnswers(ctx, &next, replacement)
		} else {
			err = a.store.SavePoll(ctx, &next)
		}
		if err != nil {
			a.invalidate()
			return Internal(err, "update poll")
		}
		a.poll = &next

		counts, err := a.store.CountVotes(ctx)
		if err != nil {
			return Internal(err, "count votes")
		}
		view = models.BuildView(&next, counts)
		return nil
	})
	return view, err
}

// Publish draft -> published
func (a *Actor) Publish(ctx context.Context) (models.PollView, error) {
	return a.transition(ctx, "publish", models.StatusDraft, models.StatusPublished, mq.EventPollPublished)
}

// Close published -> closed
func (a *Actor) Close(ctx context.Context) (models.PollView, error) {
	return a.transition(ctx, "close", models.StatusPublished, models.StatusClosed, mq.EventPollClosed)
}

func (a *Actor) transition(ctx context.Context, op string, from, to models.PollStatus, eventType string) (models.PollView, error) {
	var view models.PollView
	err := a.do(ctx, op, func(ctx context.Context) error {
		p, err := a.require(ctx)
		if err != nil {
			return err
		}
		if p.Status != from {
			return InvalidState("cannot %s a %s poll", op, p.Status).
				WithContext("status", p.Status).
				WithContext("required", from)
		}

		now := a.now()
		next := *p
		next.Status = to
		next.UpdatedAt = now
		switch to {
		case models.StatusPublished:
			next.PublishedAt = &now
		case models.StatusClosed:
			next.ClosedAt = &now
		}
		if err := a.store.SavePoll(ctx, &next); err != nil {
			a.invalidate()
			return Internal(err, "%s poll", op)
		}
		a.poll = &next

		counts, err := a.store.CountVotes(ctx)
		if err != nil {
			return Internal(err, "count votes")
		}
		view = models.BuildView(&next, counts)
		a.publish(eventType, &next, counts.Total, "")
		a.log.Info().Str("poll_id", next.ID).Str("status", string(to)).Msg("投票状态已变更")
		return nil
	})
	return view, err
}

// Reset 删除全部投票并开启新的去重纪元，任何状态下都允许
func (a *Actor) Reset(ctx context.Context) (models.PollView, error) {
	var view models.PollView
	err := a.do(ctx, "reset", func(ctx context.Context) error {
		p, err := a.require(ctx)
		if err != nil {
			return err
		}

		next := *p
		next.ResetCount++
		next.UpdatedAt = a.now()
		if err := a.store.ResetVotes(ctx, &next); err != nil {
			a.invalidate()
			return Internal(err, "reset votes")
		}
		a.poll = &next

		counts := emptyCounts()
		view = models.BuildView(&next, counts)
		a.registry.Broadcast(UpdateFrame(models.BuildTally(next.Answers, counts)))
		a.publish(mq.EventPollReset, &next, 0, "")
		a.log.Info().Str("poll_id", next.ID).Int("reset_count", next.ResetCount).Msg("投票已重置")
		return nil
	})
	return view, err
}

// Delete 删除投票的全部状态并关闭所有订阅者。投票不存在时同样成功。
func (a *Actor) Delete(ctx context.Context) error {
	return a.do(ctx, "delete", func(ctx context.Context) error {
		p, err := a.current(ctx)
		if err != nil {
			return err
		}
		if err := a.store.DeleteAll(ctx); err != nil {
			a.invalidate()
			return Internal(err, "delete poll")
		}
		a.poll = nil
		a.loaded = true

		closed := a.registry.CloseAll()
		if p != nil {
			if a.index != nil {
				a.index.RemoveAsync(p.ID)
			}
			a.publish(mq.EventPollDeleted, p, 0, "")
			a.log.Info().Str("poll_id", p.ID).Int("closed_subscribers", closed).Msg("投票已删除")
		}
		return nil
	})
}

// Vote 接受一票并在返回前同步广播新的计票。
// 前置条件依次检查：草稿、已关闭、选项不属于本投票、指纹已投过票。
func (a *Actor) Vote(ctx context.Context, answerID, fingerprint string) (models.Tally, error) {
	var tally models.Tally
	err := a.do(ctx, "vote", func(ctx context.Context) error {
		p, err := a.require(ctx)
		if err != nil {
			return err
		}
		switch p.Status {
		case models.StatusDraft:
			metrics.VotesTotal.WithLabelValues(metrics.VoteInvalidState).Inc()
			return InvalidState("poll %s is not published yet", p.ID).WithContext("status", p.Status)
		case models.StatusClosed:
			metrics.VotesTotal.WithLabelValues(metrics.VoteClosed).Inc()
			return newError(KindPollClosed, "poll %s is closed", p.ID)
		}
		if !hasAnswer(p, answerID) {
			metrics.VotesTotal.WithLabelValues(metrics.VoteInvalidAnswer).Inc()
			return newError(KindInvalidAnswer, "answer %q does not belong to poll %s", answerID, p.ID).
				WithContext("answerId", answerID)
		}
		if fingerprint == "" {
			return Validation("voter fingerprint is required").WithContext("field", "fingerprint")
		}

		prior, err := a.store.FindVote(ctx, fingerprint)
		if err != nil {
			metrics.VotesTotal.WithLabelValues(metrics.VoteError).Inc()
			return Internal(err, "look up prior vote")
		}
		if prior != nil {
			metrics.VotesTotal.WithLabelValues(metrics.VoteDuplicate).Inc()
			return newError(KindDuplicateVote, "this voter has already voted on poll %s", p.ID)
		}

		vote := &models.Vote{
			ID:               uuid.NewString(),
			PollID:           p.ID,
			AnswerID:         answerID,
			VoterFingerprint: fingerprint,
			VotedAt:          a.now(),
		}
		counts, err := a.store.InsertVote(ctx, vote)
		if errors.Is(err, database.ErrDuplicateFingerprint) {
			metrics.VotesTotal.WithLabelValues(metrics.VoteDuplicate).Inc()
			return newError(KindDuplicateVote, "this voter has already voted on poll %s", p.ID)
		}
		if err != nil {
			metrics.VotesTotal.WithLabelValues(metrics.VoteError).Inc()
			return Internal(err, "record vote")
		}
		metrics.VotesTotal.WithLabelValues(metrics.VoteAccepted).Inc()

		tally = models.BuildTally(p.Answers, counts)
		delivered, pruned := a.registry.Broadcast(UpdateFrame(tally))
		a.publish(mq.EventVoteAccepted, p, counts.Total, answerID)
		a.log.Debug().
			Str("poll_id", p.ID).
			Int64("total_votes", counts.Total).
			Int("delivered", delivered).
			Int("pruned", pruned).
			Msg("投票已接受")
		return nil
	})
	return tally, err
}

// CheckVoted 只读查询某个指纹是否已投票以及投给了哪个选项
func (a *Actor) CheckVoted(ctx context.Context, fingerprint string) (models.VoteStatus, error) {
	var status models.VoteStatus
	err := a.do(ctx, "check_voted", func(ctx context.Context) error {
		if _, err := a.require(ctx); err != nil {
			return err
		}
		if fingerprint == "" {
			return Validation("voter fingerprint is required").WithContext("field", "fingerprint")
		}
		vote, err := a.store.FindVote(ctx, fingerprint)
		if err != nil {
			return Internal(err, "look up vote")
		}
		if vote != nil {
			status = models.VoteStatus{HasVoted: true, AnswerID: vote.AnswerID}
		}
		return nil
	})
	return status, err
}

// Stream 注册订阅者并立即推送当前计票作为第一帧
func (a *Actor) Stream(ctx context.Context, sub Subscriber) error {
	return a.do(ctx, "stream", func(ctx context.Context) error {
		p, err := a.require(ctx)
		if err != nil {
			return err
		}
		counts, err := a.store.CountVotes(ctx)
		if err != nil {
			return Internal(err, "count votes")
		}
		if err := a.registry.Attach(sub, SnapshotFrame(models.BuildTally(p.Answers, counts))); err != nil {
			return Unavailable(err, "subscriber connection failed during attach")
		}
		return nil
	})
}

// Detach 移除订阅者。传输层在连接结束后调用，返回后actor不会再写这个订阅者。
func (a *Actor) Detach(ctx context.Context, subscriberID string) error {
	return a.do(ctx, "detach", func(context.Context) error {
		a.registry.Detach(subscriberID)
		return nil
	})
}

// SubscriberCount 当前订阅者数量
func (a *Actor) SubscriberCount(ctx context.Context) (int, error) {
	var n int
	err := a.do(ctx, "subscriber_count", func(context.Context) error {
		n = a.registry.Len()
		return nil
	})
	return n, err
}

// Idle 没有投票也没有订阅者时返回 true，网关据此回收actor
func (a *Actor) Idle(ctx context.Context) (bool, error) {
	var idle bool
	err := a.do(ctx, "idle", func(ctx context.Context) error {
		p, err := a.current(ctx)
		if err != nil {
			return err
		}
		idle = p == nil && a.registry.Len() == 0
		return nil
	})
	return idle, err
}

// Stop 关闭全部订阅者和存储，停止邮箱
func (a *Actor) Stop() {
	a.mailbox.Stop()
}

// Done 在actor停止后关闭
func (a *Actor) Done() <-chan struct{} {
	return a.mailbox.Done()
}

func (a *Actor) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	start := time.Now()
	err := a.mailbox.Do(ctx, op, func() error {
		// 命令一旦开始就执行到底，不受调用方取消的影响
		return fn(context.WithoutCancel(ctx))
	})
	metrics.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	return normalizeError(op, err)
}

func normalizeError(op string, err error) error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}
	var panicErr *actor.PanicError
	switch {
	case errors.Is(err, actor.ErrStopped):
		return Unavailable(err, "poll actor is stopped")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return Unavailable(err, "%s was not started", op)
	case errors.As(err, &panicErr):
		return Internal(err, "%s panicked", op)
	default:
		return Internal(err, "%s failed", op)
	}
}

// current 返回缓存的投票，必要时从存储加载；没有投票时返回 nil
func (a *Actor) current(ctx context.Context) (*models.Poll, error) {
	if !a.loaded {
		p, err := a.store.LoadPoll(ctx)
		if err != nil {
			return nil, Internal(err, "load poll")
		}
		a.poll = p
		a.loaded = true
	}
	return a.poll, nil
}

func (a *Actor) require(ctx context.Context) (*models.Poll, error) {
	p, err := a.current(ctx)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, NotFound("poll not found")
	}
	return p, nil
}

// invalidate 写入失败后丢弃缓存，下一次操作从存储重新加载
func (a *Actor) invalidate() {
	a.poll = nil
	a.loaded = false
}

func (a *Actor) keepalive() {
	if a.registry.Len() == 0 {
		return
	}
	delivered, pruned := a.registry.Keepalive()
	a.log.Debug().Int("delivered", delivered).Int("pruned", pruned).Msg("已发送保活帧")
}

func (a *Actor) shutdown() {
	closed := a.registry.CloseAll()
	if err := a.store.Close(); err != nil {
		a.log.Warn().Err(err).Msg("关闭存储失败")
	}
	metrics.ActorsActive.Dec()
	a.log.Debug().Int("closed_subscribers", closed).Msg("actor已停止")
}

func (a *Actor) publish(eventType string, p *models.Poll, totalVotes int64, answerID string) {
	a.events.Publish(mq.PollEvent{
		Type:       eventType,
		PollID:     p.ID,
		AnswerID:   answerID,
		TotalVotes: totalVotes,
		ResetCount: p.ResetCount,
		OccurredAt: a.now(),
	})
}

func (a *Actor) now() time.Time {
	return a.clock.Now().UTC()
}

func emptyCounts() models.VoteCounts {
	return models.VoteCounts{ByAnswer: map[string]int64{}}
}
