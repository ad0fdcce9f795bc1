package handlers

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MattieTK/newsroom-polling/poll"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

var errSubscriberClosed = errors.New("subscriber closed")

// sseSubscriber 把一条SSE连接包装成订阅者。
// Send 只会在actor的goroutine里被调用，处理函数在Detach返回之前不会退出。
type sseSubscriber struct {
	id      string
	writer  http.ResponseWriter
	rc      *http.ResponseController
	timeout time.Duration

	closed    atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

func newSSESubscriber(w http.ResponseWriter, timeout time.Duration) *sseSubscriber {
	return &sseSubscriber{
		id:      "sse-" + uuid.NewString(),
		writer:  w,
		rc:      http.NewResponseController(w),
		timeout: timeout,
		done:    make(chan struct{}),
	}
}

func (s *sseSubscriber) ID() string {
	return s.id
}

func (s *sseSubscriber) Send(frame poll.Frame) error {
	if s.closed.Load() {
		return errSubscriberClosed
	}
	payload, err := frame.EncodeSSE()
	if err != nil {
		return err
	}

	if s.timeout > 0 {
		// 不支持写超时的ResponseWriter直接忽略
		if err := s.rc.SetWriteDeadline(time.Now().Add(s.timeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return err
		}
	}
	if _, err := s.writer.Write(payload); err != nil {
		return err
	}
	return s.rc.Flush()
}

func (s *sseSubscriber) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.done)
	})
}

// StreamPoll 建立SSE连接：先推送当前计票，之后推送每次变化和保活注释
func (h *Handler) StreamPoll(c *gin.Context) {
	a, id, ok := h.actorFor(c)
	if !ok {
		return
	}

	// 设置SSE所需的HTTP头
	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no") // 禁用Nginx缓冲

	sub := newSSESubscriber(c.Writer, h.writeTimeout)
	if err := a.Stream(c.Request.Context(), sub); err != nil {
		header.Del("Content-Type")
		h.writeError(c, err)
		return
	}
	h.log.Debug().Str("poll_id", id).Str("subscriber", sub.ID()).Msg("SSE客户端已连接")

	select {
	case <-c.Request.Context().Done():
		h.log.Debug().Str("poll_id", id).Str("subscriber", sub.ID()).Msg("SSE客户端已断开连接")
	case <-sub.done:
		h.log.Debug().Str("poll_id", id).Str("subscriber", sub.ID()).Msg("服务端关闭SSE连接")
	}

	// Detach返回后actor不会再写这个连接
	sub.Close()
	if err := a.Detach(context.Background(), sub.ID()); err != nil && !poll.IsKind(err, poll.KindUnavailable) {
		h.log.Warn().Err(err).Str("subscriber", sub.ID()).Msg("注销SSE客户端失败")
	}
}
