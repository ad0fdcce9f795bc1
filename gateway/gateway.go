// Package gateway 把投票ID映射到actor实例，按需懒加载actor并持有索引actor。
package gateway

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/MattieTK/newsroom-polling/cache"
	"github.com/MattieTK/newsroom-polling/database"
	"github.com/MattieTK/newsroom-polling/fingerprint"
	"github.com/MattieTK/newsroom-polling/mq"
	"github.com/MattieTK/newsroom-polling/poll"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Config 网关配置
type Config struct {
	// DataDir 为空时所有存储都放在内存中
	DataDir           string
	KeepaliveInterval time.Duration
	MailboxSize       int
	Clock             clockwork.Clock
	Events            mq.Publisher
	// IdleTimeout 之内没有被访问、也没有投票和订阅者的actor会被回收，0 表示不回收
	IdleTimeout time.Duration
	// Leases 为nil时不做跨进程的租约
	Leases *cache.LeaseManager
	Logger zerolog.Logger
}

// Gateway routes operations to the actor that owns a poll.
type Gateway struct {
	cfg    Config
	clock  clockwork.Clock
	index  *poll.IndexActor
	log    zerolog.Logger
	stopCh chan struct{}
	wg     sync.WaitGroup

	// spawning 保证同一个键同时只有一个goroutine在获取租约和打开存储
	spawning singleflight.Group

	mu       sync.Mutex
	actors   map[string]*poll.Actor
	leases   map[string]*cache.Lease
	lastUsed map[string]time.Time
	closed   bool
}

// KeyFor 由投票ID推导稳定的actor键
func KeyFor(pollID string) string {
	return "poll-" + fingerprint.SHA256Hex(pollID)[:32]
}

// ValidateID 检查客户端提供的投票ID
func ValidateID(pollID string) error {
	if !idPattern.MatchString(pollID) {
		return poll.Validation("poll id must be 1-64 characters of letters, digits, '-' or '_'").
			WithContext("field", "id")
	}
	return nil
}

// New 打开索引存储并启动索引actor
func New(cfg Config) (*Gateway, error) {
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.Events == nil {
		cfg.Events = mq.NopPublisher{}
	}

	indexStore, err := database.OpenIndexStore(database.Config{
		Path:   storePath(cfg.DataDir, "index.db"),
		Clock:  clock,
		Logger: &cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	g := &Gateway{
		cfg:   cfg,
		clock: clock,
		index: poll.NewIndexActor(poll.IndexConfig{
			Store:       indexStore,
			Clock:       clock,
			MailboxSize: cfg.MailboxSize,
			Logger:      cfg.Logger,
		}),
		log:    cfg.Logger.With().Str("component", "gateway").Logger(),
		stopCh: make(chan struct{}),
		actors:   make(map[string]*poll.Actor),
		leases:   make(map[string]*cache.Lease),
		lastUsed: make(map[string]time.Time),
	}

	if cfg.Leases != nil {
		g.wg.Add(1)
		go g.renewLeases()
	}
	if cfg.IdleTimeout > 0 {
		// ticker在启动goroutine之前创建，假时钟推进时不会错过
		ticker := clock.NewTicker(cfg.IdleTimeout)
		g.wg.Add(1)
		go g.sweepIdle(ticker)
	}
	return g, nil
}

// Poll 返回投票对应的actor，第一次访问时创建
func (g *Gateway) Poll(ctx context.Context, pollID string) (*poll.Actor, error) {
	if err := ValidateID(pollID); err != nil {
		return nil, err
	}
	key := KeyFor(pollID)

	if a, ok, err := g.lookup(key); ok || err != nil {
		return a, err
	}

	v, err, _ := g.spawning.Do(key, func() (interface{}, error) {
		return g.spawn(ctx, pollID, key)
	})
	if err != nil {
		return nil, err
	}
	return v.(*poll.Actor), nil
}

// lookup 命中时刷新最近访问时间
func (g *Gateway) lookup(key string) (*poll.Actor, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil, false, poll.Unavailable(nil, "gateway is shutting down")
	}
	a, ok := g.actors[key]
	if ok {
		g.lastUsed[key] = g.clock.Now()
	}
	return a, ok, nil
}

func (g *Gateway) spawn(ctx context.Context, pollID, key string) (*poll.Actor, error) {
	// 上一轮spawn可能刚刚结束
	if a, ok, err := g.lookup(key); ok || err != nil {
		return a, err
	}

	var lease *cache.Lease
	if g.cfg.Leases != nil {
		var err error
		lease, err = g.cfg.Leases.Acquire(ctx, key)
		if err != nil {
			if errors.Is(err, cache.ErrLockNotAcquired) {
				return nil, poll.Unavailable(err, "poll %s is owned by another instance", pollID)
			}
			return nil, poll.Unavailable(err, "acquire actor lease")
		}
	}

	store, err := database.OpenPollStore(database.Config{
		Path:   g.pollStorePath(key),
		Clock:  g.clock,
		Logger: &g.cfg.Logger,
	})
	if err != nil {
		g.releaseLease(lease)
		return nil, poll.Internal(err, "open poll store")
	}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		_ = store.Close()
		g.releaseLease(lease)
		return nil, poll.Unavailable(nil, "gateway is shutting down")
	}
	a := poll.NewActor(poll.Config{
		Key:               key,
		Store:             store,
		Clock:             g.clock,
		KeepaliveInterval: g.cfg.KeepaliveInterval,
		MailboxSize:       g.cfg.MailboxSize,
		Index:             g.index,
		Events:            g.cfg.Events,
		Logger:            g.cfg.Logger,
	})
	g.actors[key] = a
	g.lastUsed[key] = g.clock.Now()
	if lease != nil {
		g.leases[key] = lease
	}
	g.mu.Unlock()

	g.log.Debug().Str("poll_key", key).Msg("actor已创建")
	return a, nil
}

// Index 返回索引actor
func (g *Gateway) Index() *poll.IndexActor {
	return g.index
}

// List 按创建顺序返回所有投票ID
func (g *Gateway) List(ctx context.Context) ([]string, error) {
	return g.index.List(ctx)
}

// ActiveActors 当前驻留的actor数量
func (g *Gateway) ActiveActors() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.actors)
}

// SubscriberTotal 所有actor的订阅者总数
func (g *Gateway) SubscriberTotal(ctx context.Context) int {
	total := 0
	for _, a := range g.snapshot() {
		if n, err := a.SubscriberCount(ctx); err == nil {
			total += n
		}
	}
	return total
}

// Close 停止全部actor、释放租约并关闭索引
func (g *Gateway) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	actors := g.actors
	leases := g.leases
	g.actors = make(map[string]*poll.Actor)
	g.leases = make(map[string]*cache.Lease)
	g.lastUsed = make(map[string]time.Time)
	g.mu.Unlock()

	close(g.stopCh)
	g.wg.Wait()

	for _, a := range actors {
		a.Stop()
	}
	for _, lease := range leases {
		g.releaseLease(lease)
	}
	g.index.Stop()
	g.log.Info().Int("actors", len(actors)).Msg("网关已关闭")
	return nil
}

func (g *Gateway) snapshot() []*poll.Actor {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*poll.Actor, 0, len(g.actors))
	for _, a := range g.actors {
		out = append(out, a)
	}
	return out
}

// renewLeases 每 TTL/3 续期一次全部租约，续期失败的actor被驱逐
func (g *Gateway) renewLeases() {
	defer g.wg.Done()

	interval := g.cfg.Leases.TTL() / 3
	ticker := g.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-g.stopCh:
			return
		case <-ticker.Chan():
			g.extendAll(interval)
		}
	}
}

func (g *Gateway) extendAll(timeout time.Duration) {
	g.mu.Lock()
	leases := make(map[string]*cache.Lease, len(g.leases))
	for k, l := range g.leases {
		leases[k] = l
	}
	g.mu.Unlock()

	for key, lease := range leases {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		err := lease.Extend(ctx)
		cancel()
		if err != nil {
			g.log.Error().Err(err).Str("poll_key", key).Msg("租约续期失败，驱逐actor")
			g.evict(key)
		}
	}
}

func (g *Gateway) evict(key string) {
	g.mu.Lock()
	a := g.actors[key]
	delete(g.actors, key)
	delete(g.leases, key)
	delete(g.lastUsed, key)
	g.mu.Unlock()

	if a != nil {
		a.Stop()
	}
}

func (g *Gateway) sweepIdle(ticker clockwork.Ticker) {
	defer g.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-g.stopCh:
			return
		case <-ticker.Chan():
			g.evictIdle()
		}
	}
}

// evictIdle 回收长时间未访问、没有投票也没有订阅者的actor，并删除它的空存储文件
func (g *Gateway) evictIdle() {
	cutoff := g.clock.Now().Add(-g.cfg.IdleTimeout)

	g.mu.Lock()
	candidates := make(map[string]time.Time)
	for key, used := range g.lastUsed {
		if !used.After(cutoff) {
			candidates[key] = used
		}
	}
	g.mu.Unlock()

	for key, used := range candidates {
		a := g.actorFor(key)
		if a == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		idle, err := a.Idle(ctx)
		cancel()
		if err != nil || !idle {
			continue
		}

		g.mu.Lock()
		// 检查期间又被访问过的actor保留
		if g.closed || g.actors[key] != a || !g.lastUsed[key].Equal(used) {
			g.mu.Unlock()
			continue
		}
		delete(g.actors, key)
		delete(g.lastUsed, key)
		lease := g.leases[key]
		delete(g.leases, key)
		g.mu.Unlock()

		a.Stop()
		g.releaseLease(lease)
		g.removeStoreFiles(key)
		g.log.Debug().Str("poll_key", key).Msg("空闲actor已回收")
	}
}

func (g *Gateway) actorFor(key string) *poll.Actor {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.actors[key]
}

func (g *Gateway) pollStorePath(key string) string {
	return storePath(g.cfg.DataDir, filepath.Join("polls", key+".db"))
}

func (g *Gateway) removeStoreFiles(key string) {
	path := g.pollStorePath(key)
	if path == "" {
		return
	}
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := os.Remove(path + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
			g.log.Warn().Err(err).Str("path", path+suffix).Msg("删除存储文件失败")
		}
	}
}

func (g *Gateway) releaseLease(lease *cache.Lease) {
	if lease == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := lease.Release(ctx); err != nil {
		g.log.Warn().Err(err).Str("poll_key", lease.Key()).Msg("释放租约失败")
	}
}

func storePath(dataDir, name string) string {
	if dataDir == "" {
		return ""
	}
	return filepath.Join(dataDir, name)
}
