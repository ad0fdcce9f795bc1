package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig Redis连接配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// InitRedis 创建Redis客户端并检查连接。地址为空时返回 ErrRedisNotAvailable。
func InitRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, ErrRedisNotAvailable
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: ping %s: %v", ErrRedisNotAvailable, cfg.Addr, err)
	}

	return client, nil
}

// CloseRedis 关闭Redis客户端
func CloseRedis(client *redis.Client) error {
	if client == nil {
		return nil
	}
	return client.Close()
}

// Ping 检查Redis是否可用，供健康检查使用
func Ping(ctx context.Context, client redis.UniversalClient) error {
	if client == nil {
		return ErrRedisNotAvailable
	}
	return client.Ping(ctx).Err()
}
