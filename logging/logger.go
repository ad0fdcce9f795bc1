package logging

import (
	"io"
	"os"
	"time"

	"github.com/MattieTK/newsroom-polling/fingerprint"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

// Logger 全局日志实例
var Logger = zerolog.Nop()

// InitLogger 初始化全局zerolog日志。format 为 json 或 console。
func InitLogger(level, format, service string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.DurationFieldUnit = time.Millisecond
	zerolog.DurationFieldInteger = true

	var out io.Writer = os.Stdout
	if format == "console" {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	Logger = zerolog.New(out).Level(lvl).With().
		Timestamp().
		Str("service", service).
		Logger()
	zlog.Logger = Logger
	return Logger
}

// GinLogger 以结构化方式记录每个请求，客户端IP只记录哈希
func GinLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		status := c.Writer.Status()
		evt := log.Info()
		switch {
		case status >= 500:
			evt = log.Error()
		case status >= 400:
			evt = log.Warn()
		}

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		evt.Str("method", c.Request.Method).
			Str("route", route).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("ip_hash", fingerprint.ShortHash(c.ClientIP())).
			Int("bytes", c.Writer.Size())
		if len(c.Errors) > 0 {
			evt.Str("errors", c.Errors.String())
		}
		evt.Msg("request")
	}
}
