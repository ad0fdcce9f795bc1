package cache

import "errors"

var (
	// ErrRedisNotAvailable Redis未配置或无法连接
	ErrRedisNotAvailable = errors.New("redis not available")

	// ErrLockNotAcquired 租约已被其他进程持有
	ErrLockNotAcquired = errors.New("distributed lock not acquired")

	// ErrLeaseLost 续期失败，租约已过期或被抢占
	ErrLeaseLost = errors.New("lease lost")
)
