package mq

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/MattieTK/newsroom-polling/metrics"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultQueueName 事件队列的默认名称
const DefaultQueueName = "poll_events"

const (
	defaultBufferSize = 1024
	pushTimeout       = 2 * time.Second
	maxQueueLength    = 100000
)

// RedisPublisher 通过 LPUSH 把事件写入Redis列表，由后台goroutine异步发送
type RedisPublisher struct {
	client   redis.Cmdable
	queue    string
	buffer   chan PollEvent
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	log      zerolog.Logger
}

// NewRedisPublisher 创建并启动发布者
func NewRedisPublisher(client redis.Cmdable, queue string, log zerolog.Logger) *RedisPublisher {
	if queue == "" {
		queue = DefaultQueueName
	}
	p := &RedisPublisher{
		client:   client,
		queue:    queue,
		buffer:   make(chan PollEvent, defaultBufferSize),
		stopChan: make(chan struct{}),
		log:      log.With().Str("component", "event_publisher").Str("queue", queue).Logger(),
	}
	p.wg.Add(1)
	go p.sendLoop()
	return p
}

// Publish 非阻塞入队，缓冲区满时丢弃事件
func (p *RedisPublisher) Publish(event PollEvent) {
	select {
	case <-p.stopChan:
		return
	default:
	}

	select {
	case p.buffer <- event:
	default:
		metrics.EventsDropped.Inc()
		p.log.Warn().Str("type", event.Type).Str("poll_id", event.PollID).Msg("事件缓冲区已满，丢弃事件")
	}
}

// Close 停止发送循环，发送完缓冲区中剩余的事件
func (p *RedisPublisher) Close() error {
	p.stopOnce.Do(func() {
		close(p.stopChan)
	})
	p.wg.Wait()
	return nil
}

func (p *RedisPublisher) sendLoop() {
	defer p.wg.Done()
	for {
		select {
		case event := <-p.buffer:
			p.send(event)
		case <-p.stopChan:
			p.drain()
			return
		}
	}
}

func (p *RedisPublisher) drain() {
	for {
		select {
		case event := <-p.buffer:
			p.send(event)
		default:
			return
		}
	}
}

func (p *RedisPublisher) send(event PollEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		p.log.Error().Err(err).Msg("序列化事件失败")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
	defer cancel()

	pipe := p.client.TxPipeline()
	pipe.LPush(ctx, p.queue, data)
	// 没有消费者时防止列表无限增长
	pipe.LTrim(ctx, p.queue, 0, maxQueueLength-1)
	if _, err := pipe.Exec(ctx); err != nil {
		p.log.Warn().Err(err).Str("type", event.Type).Str("poll_id", event.PollID).Msg("发送事件到队列失败")
		return
	}
	p.log.Debug().Str("type", event.Type).Str("poll_id", event.PollID).Msg("事件已发送")
}
