package handlers

import (
	"net/http"
	"strings"

	"github.com/MattieTK/newsroom-polling/fingerprint"
	"github.com/MattieTK/newsroom-polling/poll"

	"github.com/gin-gonic/gin"
)

// VoterTokenHeader 客户端可以用请求头代替请求体传递匿名令牌
const VoterTokenHeader = "X-Voter-Token"

// VoteRequest 投票请求结构
type VoteRequest struct {
	AnswerID string `json:"answerId"`
	// ClientToken 浏览器本地保存的匿名令牌，与IP一起生成投票者指纹
	ClientToken string `json:"clientToken"`
}

// SubmitVote 处理投票请求
func (h *Handler) SubmitVote(c *gin.Context) {
	var req VoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	if strings.TrimSpace(req.AnswerID) == "" {
		h.writeError(c, poll.Validation("answerId is required").WithContext("field", "answerId"))
		return
	}

	a, id, ok := h.actorFor(c)
	if !ok {
		return
	}

	fp := h.voterFingerprint(c, req.ClientToken)
	tally, err := a.Vote(c.Request.Context(), req.AnswerID, fp)
	if err != nil {
		h.writeError(c, err)
		return
	}

	h.log.Debug().
		Str("poll_id", id).
		Str("voter", fingerprint.ShortHash(fp)).
		Int64("total_votes", tally.TotalVotes).
		Msg("投票成功")
	c.JSON(http.StatusOK, gin.H{"success": true, "results": tally})
}

// CheckVoted 查询当前投票者是否已经投过票
func (h *Handler) CheckVoted(c *gin.Context) {
	a, _, ok := h.actorFor(c)
	if !ok {
		return
	}

	token := c.Query("clientToken")
	status, err := a.CheckVoted(c.Request.Context(), h.voterFingerprint(c, token))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *Handler) voterFingerprint(c *gin.Context, token string) string {
	if token == "" {
		token = c.GetHeader(VoterTokenHeader)
	}
	return fingerprint.Derive(c.ClientIP(), strings.TrimSpace(token), h.salt)
}
