package handlers

import (
	"time"

	"github.com/MattieTK/newsroom-polling/gateway"
	"github.com/MattieTK/newsroom-polling/poll"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Options 处理程序的依赖
type Options struct {
	Gateway         *gateway.Gateway
	FingerprintSalt string
	// WriteTimeout 单次推送的写超时，超时视为连接已断开
	WriteTimeout time.Duration
	// Redis 可选，仅用于状态检查
	Redis   redis.UniversalClient
	Clock   clockwork.Clock
	Logger  zerolog.Logger
	Version string
}

// Handler holds the dependencies shared by every HTTP endpoint.
type Handler struct {
	gateway      *gateway.Gateway
	salt         string
	writeTimeout time.Duration
	redis        redis.UniversalClient
	clock        clockwork.Clock
	log          zerolog.Logger
	version      string
	startTime    time.Time
}

// NewHandler 创建处理程序
func NewHandler(opts Options) *Handler {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	version := opts.Version
	if version == "" {
		version = "0.1.0"
	}
	return &Handler{
		gateway:      opts.Gateway,
		salt:         opts.FingerprintSalt,
		writeTimeout: opts.WriteTimeout,
		redis:        opts.Redis,
		clock:        clock,
		log:          opts.Logger.With().Str("component", "http").Logger(),
		version:      version,
		startTime:    clock.Now(),
	}
}

// actorFor 按路径参数 :id 找到投票actor，失败时已写入错误响应
func (h *Handler) actorFor(c *gin.Context) (*poll.Actor, string, bool) {
	id := c.Param("id")
	a, err := h.gateway.Poll(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return nil, id, false
	}
	return a, id, true
}
