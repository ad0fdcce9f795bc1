package mq

import (
	"sync"
	"time"
)

// 投票事件类型
const (
	EventPollCreated   = "poll.created"
	EventPollPublished = "poll.published"
	EventPollClosed    = "poll.closed"
	EventPollReset     = "poll.reset"
	EventPollDeleted   = "poll.deleted"
	EventVoteAccepted  = "vote.accepted"
)

// PollEvent 投递给分析消费者的事件
type PollEvent struct {
	Type       string    `json:"type"`
	PollID     string    `json:"pollId"`
	AnswerID   string    `json:"answerId,omitempty"`
	TotalVotes int64     `json:"totalVotes"`
	ResetCount int       `json:"resetCount"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Publisher 事件发布接口。Publish 不能阻塞调用方，发布失败只记录不返回。
type Publisher interface {
	Publish(event PollEvent)
	Close() error
}

// NopPublisher 未配置Redis时使用
type NopPublisher struct{}

func (NopPublisher) Publish(PollEvent) {}

func (NopPublisher) Close() error { return nil }

// MemoryPublisher 把事件保存在内存中
type MemoryPublisher struct {
	mu     sync.Mutex
	events []PollEvent
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

func (p *MemoryPublisher) Publish(event PollEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *MemoryPublisher) Close() error { return nil }

// Events 返回已发布事件的副本
func (p *MemoryPublisher) Events() []PollEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PollEvent, len(p.events))
	copy(out, p.events)
	return out
}

// Types 返回已发布事件的类型序列
func (p *MemoryPublisher) Types() []string {
	events := p.Events()
	types := make([]string, len(events))
	for i, e := range events {
		types[i] = e.Type
	}
	return types
}
