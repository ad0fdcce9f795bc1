package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MattieTK/newsroom-polling/models"

	"gorm.io/gorm"
)

// ErrDuplicateFingerprint 唯一索引拒绝了重复的投票指纹
var ErrDuplicateFingerprint = errors.New("fingerprint already voted")

// PollStore 一个actor私有的投票存储，库中最多只有一个投票
type PollStore struct {
	db *gorm.DB
}

// OpenPollStore 打开并迁移单个投票的存储
func OpenPollStore(cfg Config) (*PollStore, error) {
	db, err := Open(cfg, &models.Poll{}, &models.Answer{}, &models.Vote{})
	if err != nil {
		return nil, err
	}
	return &PollStore{db: db}, nil
}

// Close 关闭底层连接
func (s *PollStore) Close() error {
	return Close(s.db)
}

// LoadPoll 读取投票及其按顺序排列的选项，不存在时返回 nil
func (s *PollStore) LoadPoll(ctx context.Context) (*models.Poll, error) {
	var poll models.Poll
	err := s.db.WithContext(ctx).
		Preload("Answers", func(db *gorm.DB) *gorm.DB {
			return db.Order("display_order ASC")
		}).
		Take(&poll).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load poll: %w", err)
	}
	return &poll, nil
}

// CreatePoll 在一个事务中写入投票和全部选项
func (s *PollStore) CreatePoll(ctx context.Context, poll *models.Poll) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Answers").Create(poll).Error; err != nil {
			return fmt.Errorf("insert poll: %w", err)
		}
		if len(poll.Answers) > 0 {
			if err := tx.Create(&poll.Answers).Error; err != nil {
				return fmt.Errorf("insert answers: %w", err)
			}
		}
		return nil
	})
}

// SavePoll 只更新投票本身的字段，不触碰选项
func (s *PollStore) SavePoll(ctx context.Context, poll *models.Poll) error {
	if err := s.db.WithContext(ctx).Omit("Answers").Save(poll).Error; err != nil {
		return fmt.Errorf("save poll: %w", err)
	}
	return nil
}

// ReplaceAnswers 丢弃旧的选项集合并写入新的选项，同时保存投票字段
func (s *PollStore) ReplaceAnswers(ctx context.Context, poll *models.Poll, answers []models.Answer) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("poll_id = ?", poll.ID).Delete(&models.Answer{}).Error; err != nil {
			return fmt.Errorf("delete answers: %w", err)
		}
		if err := tx.Create(&answers).Error; err != nil {
			return fmt.Errorf("insert answers: %w", err)
		}
		if err := tx.Omit("Answers").Save(poll).Error; err != nil {
			return fmt.Errorf("save poll: %w", err)
		}
		poll.Answers = answers
		return nil
	})
}

// FindVote 按指纹查找投票，没有时返回 nil
func (s *PollStore) FindVote(ctx context.Context, fingerprint string) (*models.Vote, error) {
	var vote models.Vote
	err := s.db.WithContext(ctx).Where("voter_fingerprint = ?", fingerprint).Take(&vote).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find vote: %w", err)
	}
	return &vote, nil
}

// InsertVote 写入投票并在同一事务中重新计票，返回的计数包含刚写入的这一票
func (s *PollStore) InsertVote(ctx context.Context, vote *models.Vote) (models.VoteCounts, error) {
	var counts models.VoteCounts
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(vote).Error; err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateFingerprint
			}
			return fmt.Errorf("insert vote: %w", err)
		}
		var err error
		counts, err = countVotes(tx)
		return err
	})
	return counts, err
}

// CountVotes 从投票表重新计算总数和每个选项的票数
func (s *PollStore) CountVotes(ctx context.Context) (models.VoteCounts, error) {
	return countVotes(s.db.WithContext(ctx))
}

// ResetVotes 删除全部投票并保存调用方已递增的 reset_count
func (s *PollStore) ResetVotes(ctx context.Context, poll *models.Poll) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		session := tx.Session(&gorm.Session{AllowGlobalUpdate: true})
		if err := session.Delete(&models.Vote{}).Error; err != nil {
			return fmt.Errorf("delete votes: %w", err)
		}
		if err := tx.Omit("Answers").Save(poll).Error; err != nil {
			return fmt.Errorf("save poll: %w", err)
		}
		return nil
	})
}

// DeleteAll 删除库中的投票、选项和投票记录
func (s *PollStore) DeleteAll(ctx context.Context) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		session := tx.Session(&gorm.Session{AllowGlobalUpdate: true})
		if err := session.Delete(&models.Vote{}).Error; err != nil {
			return fmt.Errorf("delete votes: %w", err)
		}
		if err := session.Delete(&models.Answer{}).Error; err != nil {
			return fmt.Errorf("delete answers: %w", err)
		}
		if err := session.Delete(&models.Poll{}).Error; err != nil {
			return fmt.Errorf("delete poll: %w", err)
		}
		return nil
	})
}

type answerCount struct {
	AnswerID string
	Votes    int64
}

func countVotes(db *gorm.DB) (models.VoteCounts, error) {
	var rows []answerCount
	if err := db.Model(&models.Vote{}).
		Select("answer_id, COUNT(*) AS votes").
		Group("answer_id").
		Scan(&rows).Error; err != nil {
		return models.VoteCounts{}, fmt.Errorf("count votes: %w", err)
	}

	var total int64
	if err := db.Model(&models.Vote{}).Count(&total).Error; err != nil {
		return models.VoteCounts{}, fmt.Errorf("count total votes: %w", err)
	}

	counts := models.VoteCounts{Total: total, ByAnswer: make(map[string]int64, len(rows))}
	for _, r := range rows {
		counts.ByAnswer[r.AnswerID] = r.Votes
	}
	return counts, nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
