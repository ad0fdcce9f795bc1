package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"SERVER_PORT" default:"8090"`
	DataDir   string `env:"DATA_DIR" default:"./data"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"console"`

	// REDIS_ADDR 为空时关闭限流、租约和事件队列的Redis实现
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" default:"0"`

	KeepaliveInterval time.Duration `env:"SSE_KEEPALIVE_INTERVAL" default:"30s"`
	WriteTimeout      time.Duration `env:"SSE_WRITE_TIMEOUT" default:"10s"`
	MailboxSize       int           `env:"ACTOR_MAILBOX_SIZE" default:"64"`
	LeaseTTL          time.Duration `env:"ACTOR_LEASE_TTL" default:"90s"`
	// 0 表示从不回收空闲actor
	IdleTimeout time.Duration `env:"ACTOR_IDLE_TIMEOUT" default:"10m"`

	VoteRateLimit float64 `env:"VOTE_RATE_LIMIT" default:"5"`
	VoteRateBurst int     `env:"VOTE_RATE_BURST" default:"10"`

	FingerprintSalt  string        `env:"FINGERPRINT_SALT"`
	EventQueue       string        `env:"EVENT_QUEUE" default:"poll_events"`
	CORSAllowOrigins string        `env:"CORS_ALLOW_ORIGINS" default:"*"`
	ShutdownTimeout  time.Duration `env:"SHUTDOWN_TIMEOUT" default:"5s"`
}

// Load 先读取 .env 文件（可选），再从环境变量填充配置
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Info().Msg("未找到 .env 文件，使用环境变量")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// IsProduction 是否运行在生产环境
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// RedisEnabled 是否配置了Redis
func (c *Config) RedisEnabled() bool {
	return c.RedisAddr != ""
}

// AllowOrigins 解析逗号分隔的CORS来源
func (c *Config) AllowOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.CORSAllowOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

func validate(cfg *Config) error {
	if cfg.Port == "" {
		return errors.New("SERVER_PORT is required")
	}
	if cfg.DataDir == "" {
		return errors.New("DATA_DIR is required")
	}
	if cfg.KeepaliveInterval <= 0 {
		return fmt.Errorf("SSE_KEEPALIVE_INTERVAL must be positive, got %s", cfg.KeepaliveInterval)
	}
	if cfg.WriteTimeout <= 0 {
		return fmt.Errorf("SSE_WRITE_TIMEOUT must be positive, got %s", cfg.WriteTimeout)
	}
	if cfg.MailboxSize <= 0 {
		return fmt.Errorf("ACTOR_MAILBOX_SIZE must be positive, got %d", cfg.MailboxSize)
	}
	if cfg.IdleTimeout < 0 {
		return fmt.Errorf("ACTOR_IDLE_TIMEOUT must not be negative, got %s", cfg.IdleTimeout)
	}
	if cfg.VoteRateLimit <= 0 || cfg.VoteRateBurst <= 0 {
		return errors.New("VOTE_RATE_LIMIT and VOTE_RATE_BURST must be positive")
	}
	if cfg.RedisEnabled() && cfg.LeaseTTL < 3*time.Second {
		return fmt.Errorf("ACTOR_LEASE_TTL must be at least 3s, got %s", cfg.LeaseTTL)
	}
	if cfg.IsProduction() && cfg.FingerprintSalt == "" {
		return errors.New("FINGERPRINT_SALT is required in production")
	}
	switch cfg.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", cfg.LogFormat)
	}
	return nil
}
