package tracking

import (
	"context"
	"sync"

	"github.com/ignite/mailtrack/internal/broker"
)

// fakeSink records produced messages.
type fakeSink struct {
	mu       sync.Mutex
	messages []broker.Message
	err      error
	deadline bool
}

func (s *fakeSink) Produce(ctx context.Context, msg broker.Message) (broker.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, s.deadline = ctx.Deadline()
	if s.err != nil {
		return broker.Receipt{}, s.err
	}
	msg.Offset = int64(len(s.messages))
	s.messages = append(s.messages, msg)
	return broker.Receipt{Topic: msg.Topic, Offset: msg.Offset}, nil
}

func (s *fakeSink) Close() error { return nil }

func (s *fakeSink) produced() []broker.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]broker.Message(nil), s.messages...)
}

type pollItem struct {
	msg broker.Message
	err error
}

// fakeSource replays items in order, then blocks until ctx ends. onEmpty
// runs once when the items are exhausted.
type fakeSource struct {
	mu      sync.Mutex
	items   []pollItem
	acked   []broker.Message
	closed  int
	onEmpty func()
	drained bool
}

func newFakeSource(msgs ...broker.Message) *fakeSource {
	src := &fakeSource{}
	for _, m := range msgs {
		src.items = append(src.items, pollItem{msg: m})
	}
	return src
}

func (s *fakeSource) Poll(ctx context.Context) (broker.Message, error) {
	s.mu.Lock()
	if len(s.items) > 0 {
		item := s.items[0]
		s.items = s.items[1:]
		s.mu.Unlock()
		return item.msg, item.err
	}
	hook := s.onEmpty
	first := !s.drained
	s.drained = true
	s.mu.Unlock()

	if first && hook != nil {
		hook()
	}
	<-ctx.Done()
	return broker.Message{}, ctx.Err()
}

func (s *fakeSource) Ack(_ context.Context, msg broker.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acked = append(s.acked, msg)
	return nil
}

func (s *fakeSource) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *fakeSource) ackCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.acked)
}

func (s *fakeSource) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// fakePublisher records tracking endpoint calls.
type fakePublisher struct {
	mu      sync.Mutex
	opened  []TrackingEvent
	clicked []TrackingEvent
	err     error
}

func (p *fakePublisher) PublishOpened(_ context.Context, emailID, userAgent, ipAddress string) (broker.Receipt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return broker.Receipt{}, p.err
	}
	p.opened = append(p.opened, OpenedEvent(emailID, userAgent, ipAddress))
	return broker.Receipt{}, nil
}

func (p *fakePublisher) PublishClicked(_ context.Context, emailID, userAgent, ipAddress string, metadata map[string]string) (broker.Receipt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return broker.Receipt{}, p.err
	}
	p.clicked = append(p.clicked, ClickedEvent(emailID, userAgent, ipAddress, metadata))
	return broker.Receipt{}, nil
}
