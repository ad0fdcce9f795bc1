package database

import (
	"context"
	"fmt"

	"github.com/MattieTK/newsroom-polling/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// IndexStore 保存所有投票ID的有序列表，只被索引actor访问
type IndexStore struct {
	db *gorm.DB
}

// OpenIndexStore 打开索引存储
func OpenIndexStore(cfg Config) (*IndexStore, error) {
	db, err := Open(cfg, &models.IndexEntry{})
	if err != nil {
		return nil, err
	}
	return &IndexStore{db: db}, nil
}

// Close 关闭底层连接
func (s *IndexStore) Close() error {
	return Close(s.db)
}

// Add 幂等插入，已存在时保持原有位置
func (s *IndexStore) Add(ctx context.Context, entry *models.IndexEntry) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "poll_id"}}, DoNothing: true}).
		Create(entry).Error
	if err != nil {
		return fmt.Errorf("add index entry: %w", err)
	}
	return nil
}

// Remove 幂等删除
func (s *IndexStore) Remove(ctx context.Context, pollID string) error {
	if err := s.db.WithContext(ctx).Where("poll_id = ?", pollID).Delete(&models.IndexEntry{}).Error; err != nil {
		return fmt.Errorf("remove index entry: %w", err)
	}
	return nil
}

// List 按插入顺序返回全部投票ID
func (s *IndexStore) List(ctx context.Context) ([]string, error) {
	ids := make([]string, 0)
	if err := s.db.WithContext(ctx).Model(&models.IndexEntry{}).Order("seq ASC").Pluck("poll_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("list index: %w", err)
	}
	return ids, nil
}
