// Package actor 提供串行邮箱：一个goroutine按到达顺序逐条执行命令，
// 周期性的tick也在同一个goroutine里处理。
package actor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// ErrStopped 邮箱已经停止，命令不会再被执行
var ErrStopped = errors.New("actor stopped")

const defaultMailboxSize = 64

// PanicError 命令执行过程中发生的panic
type PanicError struct {
	Op    string
	Value interface{}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("actor command %q panicked: %v", e.Op, e.Value)
}

type command struct {
	op    string
	fn    func() error
	reply chan error
	// slot 为 true 时命令占用了一个队列容量
	slot bool
}

// Options 配置一个邮箱
type Options struct {
	Name        string
	Clock       clockwork.Clock
	MailboxSize int
	// TickInterval 和 OnTick 同时设置时才会启动周期tick
	TickInterval time.Duration
	OnTick       func()
	// OnStop 在邮箱goroutine退出前执行
	OnStop func()
	Logger zerolog.Logger
}

// Mailbox is a single-goroutine command queue. Commands and ticks never run concurrently,
// and commands run in the order they were enqueued, whether they came from Do or Post.
type Mailbox struct {
	name string
	// slots 限制排队命令的数量，Do 在这里等待，Post 拿不到时越过限制直接排队
	slots  chan struct{}
	notify chan struct{}
	mu     sync.Mutex
	queue  []command

	ticker   clockwork.Ticker
	onTick   func()
	onStop   func()
	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	log      zerolog.Logger
}

// New 创建邮箱并启动处理goroutine
func New(opts Options) *Mailbox {
	size := opts.MailboxSize
	if size <= 0 {
		size = defaultMailboxSize
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	m := &Mailbox{
		name:   opts.Name,
		slots:  make(chan struct{}, size),
		notify: make(chan struct{}, 1),
		onTick: opts.OnTick,
		onStop: opts.OnStop,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
		log:    opts.Logger.With().Str("actor", opts.Name).Logger(),
	}
	// ticker在启动goroutine之前创建，测试里推进假时钟时不会错过
	if opts.TickInterval > 0 && opts.OnTick != nil {
		m.ticker = clock.NewTicker(opts.TickInterval)
	}

	go m.run()
	return m
}

// Name 返回邮箱名称
func (m *Mailbox) Name() string {
	return m.name
}

// Do 把命令放入队列并等待它执行完成。
// ctx 只约束入队这一步，命令一旦入队就会执行到底。
func (m *Mailbox) Do(ctx context.Context, op string, fn func() error) error {
	reply := make(chan error, 1)
	select {
	case m.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-m.stopCh:
		return ErrStopped
	}
	if !m.enqueue(command{op: op, fn: fn, reply: reply, slot: true}) {
		<-m.slots
		return ErrStopped
	}

	select {
	case err := <-reply:
		return err
	case <-m.done:
		select {
		case err := <-reply:
			return err
		default:
			return ErrStopped
		}
	}
}

// Post 异步投递命令，不等待结果，也不会阻塞调用方。
// 队列已满时命令仍然排在队尾，顺序不变。邮箱已停止时返回 false。
func (m *Mailbox) Post(op string, fn func() error) bool {
	cmd := command{op: op, fn: fn}
	select {
	case m.slots <- struct{}{}:
		cmd.slot = true
	default:
		m.log.Debug().Str("op", op).Msg("邮箱已满，异步命令超出容量排队")
	}
	if !m.enqueue(cmd) {
		if cmd.slot {
			<-m.slots
		}
		return false
	}
	return true
}

func (m *Mailbox) enqueue(cmd command) bool {
	m.mu.Lock()
	select {
	case <-m.stopCh:
		m.mu.Unlock()
		return false
	default:
	}
	m.queue = append(m.queue, cmd)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
	return true
}

// next 取出队首命令，more 表示队列里还有剩余
func (m *Mailbox) next() (cmd command, ok, more bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return command{}, false, false
	}
	cmd = m.queue[0]
	m.queue[0] = command{}
	m.queue = m.queue[1:]
	if len(m.queue) == 0 {
		m.queue = nil
	}
	return cmd, true, len(m.queue) > 0
}

// Stop 停止邮箱并等待goroutine退出。不能在命令内部调用。
func (m *Mailbox) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
	<-m.done
}

// Done 在邮箱goroutine退出后关闭
func (m *Mailbox) Done() <-chan struct{} {
	return m.done
}

func (m *Mailbox) run() {
	defer close(m.done)

	var tickCh <-chan time.Time
	if m.ticker != nil {
		tickCh = m.ticker.Chan()
		defer m.ticker.Stop()
	}

	for {
		select {
		case <-m.stopCh:
			m.shutdown()
			return
		case <-m.notify:
			// 每轮只执行一条命令，让tick和停止信号有机会插入
			cmd, ok, more := m.next()
			if more {
				select {
				case m.notify <- struct{}{}:
				default:
				}
			}
			if !ok {
				continue
			}
			if cmd.slot {
				<-m.slots
			}
			m.execute(cmd)
		case <-tickCh:
			if err := m.call("tick", func() error {
				m.onTick()
				return nil
			}); err != nil {
				m.log.Error().Err(err).Msg("tick执行失败")
			}
		}
	}
}

func (m *Mailbox) execute(cmd command) {
	err := m.call(cmd.op, cmd.fn)
	if cmd.reply != nil {
		cmd.reply <- err
		return
	}
	if err != nil {
		m.log.Warn().Err(err).Str("op", cmd.op).Msg("异步命令执行失败")
	}
}

func (m *Mailbox) call(op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().Str("op", op).Interface("panic", r).Msg("命令panic已恢复")
			err = &PanicError{Op: op, Value: r}
		}
	}()
	return fn()
}

func (m *Mailbox) shutdown() {
	if m.onStop == nil {
		return
	}
	if err := m.call("stop", func() error {
		m.onStop()
		return nil
	}); err != nil {
		m.log.Error().Err(err).Msg("停止回调失败")
	}
}
