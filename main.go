package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/MattieTK/newsroom-polling/cache"
	"github.com/MattieTK/newsroom-polling/config"
	"github.com/MattieTK/newsroom-polling/gateway"
	"github.com/MattieTK/newsroom-polling/handlers"
	"github.com/MattieTK/newsroom-polling/logging"
	"github.com/MattieTK/newsroom-polling/mq"
	"github.com/MattieTK/newsroom-polling/routes"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("加载配置失败")
	}

	logger := logging.InitLogger(cfg.LogLevel, cfg.LogFormat, "newsroom-polling")
	logger.Info().Str("env", cfg.AppEnv).Str("data_dir", cfg.DataDir).Msg("配置加载完成")

	clock := clockwork.NewRealClock()

	// Redis是可选的：限流、租约和事件队列在没有Redis时退化为单进程实现
	var (
		redisClient *redis.Client
		redisIface  redis.UniversalClient
		leases      *cache.LeaseManager
		publisher   mq.Publisher = mq.NopPublisher{}
		voteLimiter handlers.Limiter
	)
	local := handlers.NewLocalRateLimiter(cfg.VoteRateLimit, cfg.VoteRateBurst, clock)
	voteLimiter = local

	if cfg.RedisEnabled() {
		redisClient, err = cache.InitRedis(context.Background(), cache.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("Redis初始化失败，使用单进程模式")
			redisClient = nil
		}
	}
	if redisClient != nil {
		redisIface = redisClient
		leases = cache.NewLeaseManager(redisClient, cfg.LeaseTTL)
		publisher = mq.NewRedisPublisher(redisClient, cfg.EventQueue, logger)
		voteLimiter = &handlers.FallbackLimiter{
			Primary:  cache.NewTokenBucketRateLimiter(redisClient, "vote", cfg.VoteRateLimit, cfg.VoteRateBurst, clock),
			Fallback: local,
			Logger:   logger,
		}
		logger.Info().Str("addr", cfg.RedisAddr).Msg("Redis连接初始化成功")
	}

	gw, err := gateway.New(gateway.Config{
		DataDir:           cfg.DataDir,
		KeepaliveInterval: cfg.KeepaliveInterval,
		MailboxSize:       cfg.MailboxSize,
		IdleTimeout:       cfg.IdleTimeout,
		Clock:             clock,
		Events:            publisher,
		Leases:            leases,
		Logger:            logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("无法初始化投票网关")
	}

	h := handlers.NewHandler(handlers.Options{
		Gateway:         gw,
		FingerprintSalt: cfg.FingerprintSalt,
		WriteTimeout:    cfg.WriteTimeout,
		Redis:           redisIface,
		Clock:           clock,
		Logger:          logger,
	})

	router := routes.SetupRouter(h, routes.RouterConfig{
		AllowOrigins: cfg.AllowOrigins(),
		VoteLimiter:  voteLimiter,
		Logger:       logger,
	})
	srv := routes.StartServer(router, cfg.Port, logger)

	// 等待中断信号以优雅地关闭服务器
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("关闭服务器...")

	// 先关闭网关，结束所有长连接，否则Shutdown会一直等待SSE请求
	if err := gw.Close(); err != nil {
		logger.Error().Err(err).Msg("关闭网关失败")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		logger.Error().Err(err).Msg("服务器强制关闭")
	}

	if err := publisher.Close(); err != nil {
		logger.Warn().Err(err).Msg("关闭事件队列失败")
	}
	if redisClient != nil {
		_ = cache.CloseRedis(redisClient)
	}

	logger.Info().Msg("服务器优雅关闭")
}
