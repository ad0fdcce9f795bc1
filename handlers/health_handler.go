package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/MattieTK/newsroom-polling/cache"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SystemInfo contains basic system metrics and information
type SystemInfo struct {
	Status       string    `json:"status"`
	Version      string    `json:"version"`
	Uptime       string    `json:"uptime"`
	StartTime    time.Time `json:"start_time"`
	CurrentTime  time.Time `json:"current_time"`
	GoVersion    string    `json:"go_version"`
	NumGoroutine int       `json:"num_goroutine"`
	NumCPU       int       `json:"num_cpu"`
	ActiveActors int       `json:"active_actors"`
	Subscribers  int       `json:"subscribers"`
	IndexedPolls int       `json:"indexed_polls"`
	RedisStatus  string    `json:"redis_status"`
}

// HealthCheck 提供基本健康检查端点
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   h.clock.Now().UTC().Format(time.RFC3339),
	})
}

// SystemStatus 提供详细的系统状态信息
func (h *Handler) SystemStatus(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	indexed := 0
	if ids, err := h.gateway.List(ctx); err != nil {
		status = "degraded"
	} else {
		indexed = len(ids)
	}

	redisStatus := "disabled"
	if h.redis != nil {
		redisStatus = "ok"
		if err := cache.Ping(ctx, h.redis); err != nil {
			redisStatus = "error"
			status = "degraded"
		}
	}

	now := h.clock.Now()
	info := SystemInfo{
		Status:       status,
		Version:      h.version,
		Uptime:       now.Sub(h.startTime).String(),
		StartTime:    h.startTime,
		CurrentTime:  now,
		GoVersion:    runtime.Version(),
		NumGoroutine: runtime.NumGoroutine(),
		NumCPU:       runtime.NumCPU(),
		ActiveActors: h.gateway.ActiveActors(),
		Subscribers:  h.gateway.SubscriberTotal(ctx),
		IndexedPolls: indexed,
		RedisStatus:  redisStatus,
	}

	c.JSON(http.StatusOK, info)
}

// MetricsHandler 返回Prometheus格式的指标
func MetricsHandler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
