package poll

import (
	"strings"
	"unicode/utf8"

	"github.com/MattieTK/newsroom-polling/models"

	"github.com/google/uuid"
)

const (
	MaxQuestionLength = 500
	MaxAnswerLength   = 200
	MinAnswers        = 2
	MaxAnswers        = 10
)

func normalizeQuestion(question string) (string, error) {
	q := strings.TrimSpace(question)
	n := utf8.RuneCountInString(q)
	if n == 0 {
		return "", Validation("question is required").WithContext("field", "question")
	}
	if n > MaxQuestionLength {
		return "", Validation("question must be at most %d characters", MaxQuestionLength).
			WithContext("field", "question").
			WithContext("length", n)
	}
	return q, nil
}

func normalizeAnswers(answers []string) ([]string, error) {
	if len(answers) < MinAnswers || len(answers) > MaxAnswers {
		return nil, Validation("a poll needs between %d and %d answers, got %d", MinAnswers, MaxAnswers, len(answers)).
			WithContext("field", "answers")
	}

	out := make([]string, 0, len(answers))
	seen := make(map[string]struct{}, len(answers))
	for i, raw := range answers {
		text := strings.TrimSpace(raw)
		n := utf8.RuneCountInString(text)
		if n == 0 {
			return nil, Validation("answer %d is empty", i).WithContext("field", "answers").WithContext("index", i)
		}
		if n > MaxAnswerLength {
			return nil, Validation("answer %d must be at most %d characters", i, MaxAnswerLength).
				WithContext("field", "answers").
				WithContext("index", i)
		}
		if _, dup := seen[text]; dup {
			return nil, Validation("answer %q appears more than once", text).WithContext("field", "answers").WithContext("index", i)
		}
		seen[text] = struct{}{}
		out = append(out, text)
	}
	return out, nil
}

// newAnswers 为每个选项分配新的ID和从0开始的顺序
func newAnswers(pollID string, texts []string) []models.Answer {
	answers := make([]models.Answer, len(texts))
	for i, text := range texts {
		answers[i] = models.Answer{
			ID:           uuid.NewString(),
			PollID:       pollID,
			Text:         text,
			DisplayOrder: i,
		}
	}
	return answers
}

func hasAnswer(p *models.Poll, answerID string) bool {
	for _, a := range p.Answers {
		if a.ID == answerID {
			return true
		}
	}
	return false
}
