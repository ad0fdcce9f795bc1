package poll

import (
	"context"

	"github.com/MattieTK/newsroom-polling/actor"
	"github.com/MattieTK/newsroom-polling/database"
	"github.com/MattieTK/newsroom-polling/models"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// IndexKey 索引actor固定的实例键
const IndexKey = "index"

// IndexConfig 创建索引actor所需的依赖
type IndexConfig struct {
	Store       *database.IndexStore
	Clock       clockwork.Clock
	MailboxSize int
	Logger      zerolog.Logger
}

// IndexActor keeps the ordered list of every poll id. It is the same mailbox kind
// as a poll actor, addressed by IndexKey instead of a poll id.
type IndexActor struct {
	mailbox *actor.Mailbox
	store   *database.IndexStore
	clock   clockwork.Clock
	log     zerolog.Logger
}

// NewIndexActor 创建并启动索引actor
func NewIndexActor(cfg IndexConfig) *IndexActor {
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	ia := &IndexActor{
		store: cfg.Store,
		clock: clock,
		log:   cfg.Logger.With().Str("poll_key", IndexKey).Logger(),
	}
	ia.mailbox = actor.New(actor.Options{
		Name:        IndexKey,
		Clock:       clock,
		MailboxSize: cfg.MailboxSize,
		OnStop:      ia.shutdown,
		Logger:      cfg.Logger,
	})
	return ia
}

// Add 幂等加入索引
func (ia *IndexActor) Add(ctx context.Context, pollID string) error {
	return ia.do(ctx, "add_to_index", func(ctx context.Context) error {
		return ia.add(ctx, pollID)
	})
}

// Remove 幂等移出索引
func (ia *IndexActor) Remove(ctx context.Context, pollID string) error {
	return ia.do(ctx, "remove_from_index", func(ctx context.Context) error {
		return ia.remove(ctx, pollID)
	})
}

// List 按插入顺序返回全部投票ID
func (ia *IndexActor) List(ctx context.Context) ([]string, error) {
	var ids []string
	err := ia.do(ctx, "list_index", func(ctx context.Context) error {
		var err error
		ids, err = ia.store.List(ctx)
		if err != nil {
			return Internal(err, "list index")
		}
		return nil
	})
	return ids, err
}

// AddAsync 不等待结果，供投票actor在关键路径之外调用
func (ia *IndexActor) AddAsync(pollID string) {
	if !ia.mailbox.Post("add_to_index", func() error {
		return ia.add(context.Background(), pollID)
	}) {
		ia.log.Warn().Str("poll_id", pollID).Msg("索引已停止，忽略加入请求")
	}
}

// RemoveAsync 不等待结果
func (ia *IndexActor) RemoveAsync(pollID string) {
	if !ia.mailbox.Post("remove_from_index", func() error {
		return ia.remove(context.Background(), pollID)
	}) {
		ia.log.Warn().Str("poll_id", pollID).Msg("索引已停止，忽略移除请求")
	}
}

// Stop 停止索引actor并关闭存储
func (ia *IndexActor) Stop() {
	ia.mailbox.Stop()
}

func (ia *IndexActor) add(ctx context.Context, pollID string) error {
	if pollID == "" {
		return Validation("poll id is required")
	}
	entry := &models.IndexEntry{PollID: pollID, AddedAt: ia.clock.Now().UTC()}
	if err := ia.store.Add(ctx, entry); err != nil {
		return Internal(err, "add %s to index", pollID)
	}
	return nil
}

func (ia *IndexActor) remove(ctx context.Context, pollID string) error {
	if err := ia.store.Remove(ctx, pollID); err != nil {
		return Internal(err, "remove %s from index", pollID)
	}
	return nil
}

func (ia *IndexActor) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	err := ia.mailbox.Do(ctx, op, func() error {
		return fn(context.WithoutCancel(ctx))
	})
	return normalizeError(op, err)
}

func (ia *IndexActor) shutdown() {
	if err := ia.store.Close(); err != nil {
		ia.log.Warn().Err(err).Msg("关闭索引存储失败")
	}
}
