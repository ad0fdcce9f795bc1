package poll

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/MattieTK/newsroom-polling/models"
)

const (
	// EventVoteUpdate 计票变化后推送的事件类型
	EventVoteUpdate = "vote-update"
	// CommentKeepalive 保活注释帧的内容
	CommentKeepalive = "keepalive"
)

// Frame 推送给订阅者的一帧。Event为空表示无类型的快照帧，Comment非空表示注释帧。
type Frame struct {
	Event   string
	Data    interface{}
	Comment string
}

// SnapshotFrame 连接建立后的第一帧
func SnapshotFrame(t models.Tally) Frame {
	return Frame{Data: t}
}

// UpdateFrame 计票变化帧
func UpdateFrame(t models.Tally) Frame {
	return Frame{Event: EventVoteUpdate, Data: t}
}

// KeepaliveFrame 保活帧
func KeepaliveFrame() Frame {
	return Frame{Comment: CommentKeepalive}
}

// IsComment 注释帧不携带数据
func (f Frame) IsComment() bool {
	return f.Comment != ""
}

// EncodeSSE 按 text/event-stream 格式编码
func (f Frame) EncodeSSE() ([]byte, error) {
	var buf bytes.Buffer
	if f.IsComment() {
		fmt.Fprintf(&buf, ": %s\n\n", f.Comment)
		return buf.Bytes(), nil
	}

	data, err := json.Marshal(f.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal frame data: %w", err)
	}
	if f.Event != "" {
		fmt.Fprintf(&buf, "event: %s\n", f.Event)
	}
	fmt.Fprintf(&buf, "data: %s\n\n", data)
	return buf.Bytes(), nil
}
