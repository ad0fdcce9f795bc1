package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

const leasePrefix = "actor:lease:"

// LeaseManager 基于redsync的actor租约，保证同一个投票的存储只被一个进程打开
type LeaseManager struct {
	rs  *redsync.Redsync
	ttl time.Duration
}

// Lease 已持有的租约
type Lease struct {
	key   string
	mutex *redsync.Mutex
}

// NewLeaseManager 创建租约管理器
func NewLeaseManager(client redis.UniversalClient, ttl time.Duration) *LeaseManager {
	pool := goredis.NewPool(client)
	return &LeaseManager{
		rs:  redsync.New(pool),
		ttl: ttl,
	}
}

// TTL 租约有效期
func (m *LeaseManager) TTL() time.Duration {
	return m.ttl
}

// Acquire 获取actor键的租约，被其他进程持有时返回 ErrLockNotAcquired
func (m *LeaseManager) Acquire(ctx context.Context, key string) (*Lease, error) {
	mutex := m.rs.NewMutex(leasePrefix+key,
		redsync.WithExpiry(m.ttl),
		redsync.WithTries(3),
		redsync.WithRetryDelay(50*time.Millisecond),
		redsync.WithDriftFactor(0.01),
	)

	if err := mutex.LockContext(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("acquire lease %s: %w", key, ctx.Err())
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrLockNotAcquired, key, err)
	}

	return &Lease{key: key, mutex: mutex}, nil
}

// Key 租约对应的actor键
func (l *Lease) Key() string {
	return l.key
}

// Extend 续期租约
func (l *Lease) Extend(ctx context.Context) error {
	ok, err := l.mutex.ExtendContext(ctx)
	if err != nil {
		return fmt.Errorf("extend lease %s: %w", l.key, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrLeaseLost, l.key)
	}
	return nil
}

// Release 释放租约
func (l *Lease) Release(ctx context.Context) error {
	if _, err := l.mutex.UnlockContext(ctx); err != nil {
		return fmt.Errorf("release lease %s: %w", l.key, err)
	}
	return nil
}
