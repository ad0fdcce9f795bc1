package handlers

import (
	"errors"
	"net/http"

	"github.com/MattieTK/newsroom-polling/poll"

	"github.com/gin-gonic/gin"
)

// ErrorResponse 统一的错误响应
type ErrorResponse struct {
	Error     string                 `json:"error"`
	Kind      poll.Kind              `json:"kind"`
	Retryable bool                   `json:"retryable"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// StatusFor 错误类别对应的HTTP状态码
func StatusFor(kind poll.Kind) int {
	switch kind {
	case poll.KindNotFound:
		return http.StatusNotFound
	case poll.KindAlreadyExists, poll.KindInvalidState, poll.KindDuplicateVote:
		return http.StatusConflict
	case poll.KindValidation, poll.KindInvalidAnswer:
		return http.StatusBadRequest
	case poll.KindPollClosed:
		return http.StatusForbidden
	case poll.KindUnavailable:
		return http.StatusServiceUnavailable
	case poll.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(c *gin.Context, err error) {
	var typed *poll.Error
	if !errors.As(err, &typed) {
		typed = poll.Internal(err, "unexpected error")
	}

	status := StatusFor(typed.Kind)
	resp := ErrorResponse{
		Error:     typed.Message,
		Kind:      typed.Kind,
		Retryable: typed.Retryable(),
	}
	if typed.Kind == poll.KindInternal {
		// 不把存储层的细节暴露给客户端
		resp.Error = "internal error"
		h.log.Error().Err(err).Str("route", c.FullPath()).Msg("请求处理失败")
	} else {
		resp.Details = typed.Context
	}

	_ = c.Error(err)
	c.AbortWithStatusJSON(status, resp)
}

func (h *Handler) badRequest(c *gin.Context, err error) {
	h.writeError(c, poll.Validation("invalid request body: %v", err))
}
