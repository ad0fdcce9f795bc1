package models

import "time"

// AnswerTally 单个选项的实时计票
type AnswerTally struct {
	AnswerID   string  `json:"answerId"`
	Votes      int64   `json:"votes"`
	Percentage float64 `json:"percentage"`
}

// Tally 是推送给订阅者的计票快照
type Tally struct {
	TotalVotes int64         `json:"totalVotes"`
	Answers    []AnswerTally `json:"answers"`
}

// AnswerView 带票数的选项投影
type AnswerView struct {
	ID           string  `json:"id"`
	Text         string  `json:"text"`
	DisplayOrder int     `json:"displayOrder"`
	Votes        int64   `json:"votes"`
	Percentage   float64 `json:"percentage"`
}

// PollView is the full projection returned by get and the lifecycle operations
type PollView struct {
	ID          string       `json:"id"`
	Question    string       `json:"question"`
	Status      PollStatus   `json:"status"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
	PublishedAt *time.Time   `json:"publishedAt,omitempty"`
	ClosedAt    *time.Time   `json:"closedAt,omitempty"`
	ResetCount  int          `json:"resetCount"`
	TotalVotes  int64        `json:"totalVotes"`
	Answers     []AnswerView `json:"answers"`
}

// VoteStatus checkVoted 的结果
type VoteStatus struct {
	HasVoted bool   `json:"hasVoted"`
	AnswerID string `json:"answerId,omitempty"`
}

// VoteCounts 从投票表重新计算出的原始计数
type VoteCounts struct {
	Total    int64
	ByAnswer map[string]int64
}

// Percentage 计算百分比，总数为0时返回0
func Percentage(votes, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(votes) / float64(total) * 100
}

// BuildTally 按选项顺序组装计票快照
func BuildTally(answers []Answer, counts VoteCounts) Tally {
	tally := Tally{
		TotalVotes: counts.Total,
		Answers:    make([]AnswerTally, 0, len(answers)),
	}
	for _, a := range answers {
		votes := counts.ByAnswer[a.ID]
		tally.Answers = append(tally.Answers, AnswerTally{
			AnswerID:   a.ID,
			Votes:      votes,
			Percentage: Percentage(votes, counts.Total),
		})
	}
	return tally
}

// BuildView 组装完整的投票投影
func BuildView(p *Poll, counts VoteCounts) PollView {
	view := PollView{
		ID:          p.ID,
		Question:    p.Question,
		Status:      p.Status,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
		PublishedAt: p.PublishedAt,
		ClosedAt:    p.ClosedAt,
		ResetCount:  p.ResetCount,
		TotalVotes:  counts.Total,
		Answers:     make([]AnswerView, 0, len(p.Answers)),
	}
	for _, a := range p.Answers {
		votes := counts.ByAnswer[a.ID]
		view.Answers = append(view.Answers, AnswerView{
			ID:           a.ID,
			Text:         a.Text,
			DisplayOrder: a.DisplayOrder,
			Votes:        votes,
			Percentage:   Percentage(votes, counts.Total),
		})
	}
	return view
}
