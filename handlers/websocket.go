package handlers

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MattieTK/newsroom-polling/poll"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// EventSnapshot WebSocket消息中快照帧的事件名
	EventSnapshot = "snapshot"

	wsReadLimit = 512
	wsPongWait  = 2 * poll.DefaultKeepaliveInterval
)

// WSMessage 推送给WebSocket客户端的消息
type WSMessage struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// 定义WebSocket升级器
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 跨域由CORS中间件控制
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsSubscriber 与 sseSubscriber 相同的语义，保活帧映射为WebSocket ping
type wsSubscriber struct {
	id      string
	conn    *websocket.Conn
	timeout time.Duration

	closed    atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

func (s *wsSubscriber) ID() string {
	return s.id
}

func (s *wsSubscriber) Send(frame poll.Frame) error {
	if s.closed.Load() {
		return errSubscriberClosed
	}
	deadline := time.Now().Add(s.timeout)

	if frame.IsComment() {
		return s.conn.WriteControl(websocket.PingMessage, []byte(frame.Comment), deadline)
	}

	event := frame.Event
	if event == "" {
		event = EventSnapshot
	}
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return s.conn.WriteJSON(WSMessage{Event: event, Data: frame.Data})
}

func (s *wsSubscriber) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		close(s.done)
		_ = s.conn.Close()
	})
}

// HandleWebSocket 与 StreamPoll 推送相同的计票，供不支持EventSource的客户端使用
func (h *Handler) HandleWebSocket(c *gin.Context) {
	a, id, ok := h.actorFor(c)
	if !ok {
		return
	}
	// 升级之前确认投票存在，才能返回正常的HTTP错误
	if _, err := a.Get(c.Request.Context()); err != nil {
		h.writeError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("poll_id", id).Msg("WebSocket升级失败")
		return
	}

	timeout := h.writeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	sub := &wsSubscriber{
		id:      "ws-" + uuid.NewString(),
		conn:    conn,
		timeout: timeout,
		done:    make(chan struct{}),
	}

	if err := a.Stream(c.Request.Context(), sub); err != nil {
		h.log.Warn().Err(err).Str("poll_id", id).Msg("WebSocket订阅失败")
		sub.Close()
		return
	}
	h.log.Debug().Str("poll_id", id).Str("subscriber", sub.ID()).Msg("WebSocket客户端已连接")

	h.readPump(sub)

	sub.Close()
	if err := a.Detach(context.Background(), sub.ID()); err != nil && !poll.IsKind(err, poll.KindUnavailable) {
		h.log.Warn().Err(err).Str("subscriber", sub.ID()).Msg("注销WebSocket客户端失败")
	}
	h.log.Debug().Str("poll_id", id).Str("subscriber", sub.ID()).Msg("WebSocket客户端已断开连接")
}

// readPump 客户端只会发送控制帧，读取循环用来发现连接断开
func (h *Handler) readPump(sub *wsSubscriber) {
	conn := sub.conn
	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && !sub.closed.Load() {
				h.log.Debug().Err(err).Str("subscriber", sub.ID()).Msg("WebSocket读取错误")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	}
}
