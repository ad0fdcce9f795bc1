package database

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Config 描述一个嵌入式存储的打开方式
type Config struct {
	// Path 为空时使用独立的内存数据库
	Path   string
	Clock  clockwork.Clock
	Logger *zerolog.Logger
	// SlowThreshold 慢SQL阈值，为0时使用默认值
	SlowThreshold time.Duration
}

// Open 打开一个私有的SQLite数据库并迁移给定的模型
func Open(cfg Config, models ...interface{}) (*gorm.DB, error) {
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	dsn, err := buildDSN(cfg.Path)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         newGormLogger(cfg),
		NowFunc:        func() time.Time { return clock.Now().UTC() },
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql handle: %w", err)
	}
	// 存储只被一个actor串行访问，单连接即可，同时保证内存库不会被回收
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	if len(models) > 0 {
		if err := db.AutoMigrate(models...); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("migrate store: %w", err)
		}
	}

	return db, nil
}

// Close 关闭数据库连接
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql handle: %w", err)
	}
	return sqlDB.Close()
}

func buildDSN(path string) (string, error) {
	if path == "" {
		return fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", uuid.NewString()), nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create store directory: %w", err)
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_synchronous=NORMAL", path), nil
}

func newGormLogger(cfg Config) logger.Interface {
	if cfg.Logger == nil {
		return logger.Default.LogMode(logger.Silent)
	}
	slow := cfg.SlowThreshold
	if slow == 0 {
		slow = 200 * time.Millisecond
	}
	level := logger.Warn
	if cfg.Logger.GetLevel() <= zerolog.DebugLevel {
		level = logger.Info
	}
	return logger.New(cfg.Logger, logger.Config{
		SlowThreshold:             slow,
		LogLevel:                  level,
		IgnoreRecordNotFoundError: true,
		ParameterizedQueries:      true,
		Colorful:                  false,
	})
}
