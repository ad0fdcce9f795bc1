package routes

import (
	"net/http"
	"time"

	"github.com/MattieTK/newsroom-polling/handlers"
	"github.com/MattieTK/newsroom-polling/logging"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterConfig 路由的可选依赖
type RouterConfig struct {
	AllowOrigins []string
	// VoteLimiter 为nil时不对投票限流
	VoteLimiter handlers.Limiter
	Logger      zerolog.Logger
}

// SetupRouter 设置和配置Gin路由
func SetupRouter(h *handlers.Handler, cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(logging.GinLogger(cfg.Logger), gin.Recovery())

	origins := cfg.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	// 配置CORS中间件
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", handlers.VoterTokenHeader},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: !containsWildcard(origins),
		MaxAge:           12 * time.Hour,
	}))

	api := router.Group("/api")
	{
		// 健康检查和指标端点
		api.GET("/health", h.HealthCheck)
		api.GET("/status", h.SystemStatus)
		api.GET("/metrics", handlers.MetricsHandler())

		// 投票管理端点
		polls := api.Group("/polls")
		{
			polls.POST("", h.CreatePoll)
			polls.GET("", h.GetPolls)
			polls.GET("/:id", h.GetPoll)
			polls.PUT("/:id", h.UpdatePoll)
			polls.DELETE("/:id", h.DeletePoll)

			// 生命周期
			polls.POST("/:id/publish", h.PublishPoll)
			polls.POST("/:id/close", h.ClosePoll)
			polls.POST("/:id/reset", h.ResetPollVotes)

			polls.POST("/:id/vote", handlers.VoteRateLimitMiddleware(cfg.VoteLimiter, cfg.Logger), h.SubmitVote)
			polls.GET("/:id/voted", h.CheckVoted)

			// 实时更新端点（SSE和WebSocket）
			polls.GET("/:id/live", h.StreamPoll)
			polls.GET("/:id/ws", h.HandleWebSocket)
		}
	}

	return router
}

// StartServer 在单独的goroutine中启动HTTP服务器
func StartServer(router http.Handler, port string, log zerolog.Logger) *http.Server {
	addr := ":" + port
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("服务器启动")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("服务器启动失败")
		}
	}()

	return srv
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}
