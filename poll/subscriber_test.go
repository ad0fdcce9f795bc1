package poll

import (
	"errors"
	"sync"
)

var errBrokenPipe = errors.New("broken pipe")

// fakeSubscriber 记录收到的帧，可以模拟连接断开
type fakeSubscriber struct {
	id string

	mu     sync.Mutex
	frames []Frame
	fail   bool
	closed bool
}

func newFakeSubscriber(id string) *fakeSubscriber {
	return &fakeSubscriber{id: id}
}

func (s *fakeSubscriber) ID() string { return s.id }

func (s *fakeSubscriber) Send(frame Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail || s.closed {
		return errBrokenPipe
	}
	s.frames = append(s.frames, frame)
	return nil
}

func (s *fakeSubscriber) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *fakeSubscriber) disconnect() {
	s.mu.Lock()
	s.fail = true
	s.mu.Unlock()
}

func (s *fakeSubscriber) received() []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Frame, len(s.frames))
	copy(out, s.frames)
	return out
}

func (s *fakeSubscriber) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
