package bus

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("bus closed")

// Hub is an in-process message exchange. Buses created from the same Hub
// see each other's messages, which lets several instances share one
// process in tests and single-node deployments.
type Hub struct {
	mu   sync.RWMutex
	subs map[string][]*memorySub
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string][]*memorySub)}
}

// Memory is a Bus connected to a Hub.
type Memory struct {
	hub *Hub

	mu     sync.Mutex
	closed bool
	own    []*memorySub
}

// NewMemory returns a Bus on a private Hub.
func NewMemory() *Memory { return NewHub().Bus() }

// Bus returns a new Bus attached to h.
func (h *Hub) Bus() *Memory { return &Memory{hub: h} }

// memorySub queues messages for one subscription. The queue is unbounded
// so Publish never waits on a handler, including a handler that publishes
// to its own topic.
type memorySub struct {
	topic string
	done  chan struct{}
	once  sync.Once

	mu     sync.Mutex
	queue  [][]byte
	notify chan struct{}
}

func newMemorySub(topic string) *memorySub {
	return &memorySub{
		topic:  topic,
		done:   make(chan struct{}),
		notify: make(chan struct{}, 1),
	}
}

func (s *memorySub) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *memorySub) push(data []byte) {
	s.mu.Lock()
	s.queue = append(s.queue, data)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// drain takes every queued message.
func (s *memorySub) drain() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.queue
	s.queue = nil
	return out
}

// Publish queues data for every subscriber of topic and returns without
// waiting for delivery.
func (m *Memory) Publish(_ context.Context, topic string, data []byte) error {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return ErrClosed
	}

	m.hub.mu.RLock()
	subs := append([]*memorySub(nil), m.hub.subs[topic]...)
	m.hub.mu.RUnlock()

	for _, s := range subs {
		s.push(append([]byte(nil), data...))
	}
	return nil
}

// Subscribe delivers every later message on topic to h, in publish order,
// until the bus is closed or ctx is done.
func (m *Memory) Subscribe(ctx context.Context, topic string, h Handler) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	s := newMemorySub(topic)
	m.own = append(m.own, s)
	m.mu.Unlock()

	m.hub.mu.Lock()
	m.hub.subs[topic] = append(m.hub.subs[topic], s)
	m.hub.mu.Unlock()

	go func() {
		defer m.hub.remove(s)
		for {
			select {
			case <-s.notify:
				for _, data := range s.drain() {
					select {
					case <-s.done:
						return
					default:
					}
					msgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), handlerTimeout)
					h(msgCtx, data)
					cancel()
				}
			case <-s.done:
				return
			case <-ctx.Done():
				s.stop()
				return
			}
		}
	}()
	return nil
}

// Close stops every subscription made through m.
func (m *Memory) Close(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for _, s := range m.own {
		s.stop()
	}
	return nil
}

func (h *Hub) remove(s *memorySub) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.subs[s.topic]
	for i, x := range subs {
		if x == s {
			h.subs[s.topic] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}
