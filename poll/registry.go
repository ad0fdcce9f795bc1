package poll

import (
	"github.com/MattieTK/newsroom-polling/metrics"

	"github.com/rs/zerolog"
)

// Subscriber 一个长连接订阅者。Send 失败即视为连接已断开。
type Subscriber interface {
	ID() string
	Send(frame Frame) error
	// Close 通知传输层结束这条连接，可以被重复调用
	Close()
}

// Registry 一个投票的订阅者集合。
// 只允许在所属actor的goroutine中访问，因此不需要加锁。
type Registry struct {
	members map[string]Subscriber
	log     zerolog.Logger
}

// NewRegistry 创建空的订阅者集合
func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		members: make(map[string]Subscriber),
		log:     log,
	}
}

// Attach 先只向新订阅者推送快照，推送成功后才加入集合
func (r *Registry) Attach(sub Subscriber, snapshot Frame) error {
	if err := sub.Send(snapshot); err != nil {
		sub.Close()
		return err
	}
	if _, exists := r.members[sub.ID()]; !exists {
		metrics.Subscribers.Inc()
	}
	r.members[sub.ID()] = sub
	r.log.Debug().Str("subscriber", sub.ID()).Int("subscribers", len(r.members)).Msg("订阅者已加入")
	return nil
}

// Detach 移除订阅者，返回它是否在集合中
func (r *Registry) Detach(id string) bool {
	if _, ok := r.members[id]; !ok {
		return false
	}
	delete(r.members, id)
	metrics.Subscribers.Dec()
	r.log.Debug().Str("subscriber", id).Int("subscribers", len(r.members)).Msg("订阅者已离开")
	return true
}

// Broadcast 向所有成员投递一帧。投递失败的成员在遍历结束后统一移除并关闭。
func (r *Registry) Broadcast(frame Frame) (delivered, pruned int) {
	var failed []string
	for id, sub := range r.members {
		if err := sub.Send(frame); err != nil {
			r.log.Debug().Err(err).Str("subscriber", id).Msg("投递失败，标记移除")
			failed = append(failed, id)
			continue
		}
		delivered++
	}

	for _, id := range failed {
		sub := r.members[id]
		delete(r.members, id)
		sub.Close()
	}
	if len(failed) > 0 {
		metrics.Subscribers.Sub(float64(len(failed)))
		metrics.SubscribersPruned.Add(float64(len(failed)))
		r.log.Info().Int("pruned", len(failed)).Int("subscribers", len(r.members)).Msg("已清理断开的订阅者")
	}
	return delivered, len(failed)
}

// Keepalive 发送保活注释帧，失败处理与广播相同
func (r *Registry) Keepalive() (delivered, pruned int) {
	return r.Broadcast(KeepaliveFrame())
}

// CloseAll 关闭并移除所有订阅者
func (r *Registry) CloseAll() int {
	n := len(r.members)
	for id, sub := range r.members {
		delete(r.members, id)
		sub.Close()
	}
	metrics.Subscribers.Sub(float64(n))
	return n
}

// Len 当前订阅者数量
func (r *Registry) Len() int {
	return len(r.members)
}
