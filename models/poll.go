package models

import (
	"time"
)

// PollStatus 投票的生命周期状态
type PollStatus string

const (
	StatusDraft     PollStatus = "draft"
	StatusPublished PollStatus = "published"
	StatusClosed    PollStatus = "closed"
)

// Poll represents the single poll owned by one actor store
type Poll struct {
	ID          string     `gorm:"primaryKey;size:64" json:"id"`
	Question    string     `gorm:"not null;size:2000" json:"question"`
	Status      PollStatus `gorm:"not null;default:draft;size:16" json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	PublishedAt *time.Time `json:"publishedAt,omitempty"`
	ClosedAt    *time.Time `json:"closedAt,omitempty"`
	ResetCount  int        `gorm:"not null;default:0" json:"resetCount"`
	Answers     []Answer   `gorm:"foreignKey:PollID" json:"answers"`
}

// Answer represents an option within a poll
type Answer struct {
	ID           string `gorm:"primaryKey;size:64" json:"id"`
	PollID       string `gorm:"not null;index;uniqueIndex:idx_answer_text,priority:1;uniqueIndex:idx_answer_order,priority:1;size:64" json:"pollId"`
	Text         string `gorm:"not null;uniqueIndex:idx_answer_text,priority:2;size:800" json:"text"`
	DisplayOrder int    `gorm:"not null;uniqueIndex:idx_answer_order,priority:2" json:"displayOrder"`
}

// Vote 一条已接受的投票记录，每个指纹在一个纪元内只能出现一次
type Vote struct {
	ID               string    `gorm:"primaryKey;size:64" json:"id"`
	PollID           string    `gorm:"not null;size:64" json:"pollId"`
	AnswerID         string    `gorm:"not null;index;size:64" json:"answerId"`
	VoterFingerprint string    `gorm:"not null;uniqueIndex;size:128" json:"-"`
	VotedAt          time.Time `gorm:"not null" json:"votedAt"`
}

// IndexEntry 索引存储中的一行，Seq 决定插入顺序
type IndexEntry struct {
	Seq     uint      `gorm:"primaryKey;autoIncrement"`
	PollID  string    `gorm:"not null;uniqueIndex;size:64"`
	AddedAt time.Time `gorm:"not null"`
}

// AllowsEdits 只有草稿可以修改问题和选项
func (p *Poll) AllowsEdits() bool {
	return p.Status == StatusDraft
}
