package handlers

import (
	"context"
	"net/http"

	"github.com/MattieTK/newsroom-polling/gateway"
	"github.com/MattieTK/newsroom-polling/models"
	"github.com/MattieTK/newsroom-polling/poll"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CreatePollInput defines the expected input structure for creating a poll
type CreatePollInput struct {
	// ID 可选，为空时由服务端生成
	ID       string   `json:"id"`
	Question string   `json:"question"`
	Answers  []string `json:"answers"`
}

// UpdatePollInput 只在草稿状态下可用，未提供的字段保持不变
type UpdatePollInput struct {
	Question *string  `json:"question"`
	Answers  []string `json:"answers"`
}

// CreatePoll handles the creation of a new poll
func (h *Handler) CreatePoll(c *gin.Context) {
	var input CreatePollInput
	if err := c.ShouldBindJSON(&input); err != nil {
		h.badRequest(c, err)
		return
	}

	id := input.ID
	if id == "" {
		id = uuid.NewString()
	} else if err := gateway.ValidateID(id); err != nil {
		h.writeError(c, err)
		return
	}

	a, err := h.gateway.Poll(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}

	view, err := a.Create(c.Request.Context(), id, input.Question, input.Answers)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, view)
}

// GetPolls 从索引列出投票。include=summary 或 status 过滤时会逐个读取投票详情。
func (h *Handler) GetPolls(c *gin.Context) {
	ctx := c.Request.Context()
	ids, err := h.gateway.List(ctx)
	if err != nil {
		h.writeError(c, err)
		return
	}

	status := models.PollStatus(c.Query("status"))
	if c.Query("include") != "summary" && status == "" {
		c.JSON(http.StatusOK, gin.H{"ids": ids})
		return
	}

	polls := make([]models.PollView, 0, len(ids))
	for _, id := range ids {
		a, err := h.gateway.Poll(ctx, id)
		if err != nil {
			h.writeError(c, err)
			return
		}
		view, err := a.Get(ctx)
		if poll.IsKind(err, poll.KindNotFound) {
			// 索引是最终一致的，可能包含刚删除的投票
			continue
		}
		if err != nil {
			h.writeError(c, err)
			return
		}
		if status != "" && view.Status != status {
			continue
		}
		polls = append(polls, view)
	}

	c.JSON(http.StatusOK, gin.H{"polls": polls})
}

// GetPoll 获取带实时票数的投票详情
func (h *Handler) GetPoll(c *gin.Context) {
	a, _, ok := h.actorFor(c)
	if !ok {
		return
	}
	view, err := a.Get(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// UpdatePoll 修改草稿投票
func (h *Handler) UpdatePoll(c *gin.Context) {
	var input UpdatePollInput
	if err := c.ShouldBindJSON(&input); err != nil {
		h.badRequest(c, err)
		return
	}

	a, _, ok := h.actorFor(c)
	if !ok {
		return
	}
	view, err := a.Update(c.Request.Context(), poll.UpdateInput{
		Question: input.Question,
		Answers:  input.Answers,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// PublishPoll draft -> published
func (h *Handler) PublishPoll(c *gin.Context) {
	h.lifecycle(c, (*poll.Actor).Publish)
}

// ClosePoll published -> closed
func (h *Handler) ClosePoll(c *gin.Context) {
	h.lifecycle(c, (*poll.Actor).Close)
}

// ResetPollVotes 清空投票并开启新的去重纪元
func (h *Handler) ResetPollVotes(c *gin.Context) {
	h.lifecycle(c, (*poll.Actor).Reset)
}

func (h *Handler) lifecycle(c *gin.Context, op func(*poll.Actor, context.Context) (models.PollView, error)) {
	a, _, ok := h.actorFor(c)
	if !ok {
		return
	}
	view, err := op(a, c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// DeletePoll 删除投票，重复删除同样返回成功
func (h *Handler) DeletePoll(c *gin.Context) {
	a, id, ok := h.actorFor(c)
	if !ok {
		return
	}
	if err := a.Delete(c.Request.Context()); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "deleted": true})
}
