package bridge

import (
	"context"
	"slices"
	"sync"

	"github.com/dmitrijs2005/goterm/internal/common"
	"github.com/dmitrijs2005/goterm/internal/logging"
)

const defaultSubscriberBuffer = 1024

type subscriber struct {
	ch      chan common.Event
	names   []string
	dropped int
}

func (s *subscriber) wants(name string) bool {
	return len(s.names) == 0 || slices.Contains(s.names, name)
}

// Hub fans events out to stream subscribers. Emit never blocks: a subscriber
// whose buffer is full loses the event and the drop is counted.
type Hub struct {
	mu     sync.Mutex
	subs   map[int]*subscriber
	next   int
	closed bool
	buffer int
	logger logging.Logger
}

func NewHub(buffer int, l logging.Logger) *Hub {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Hub{
		subs:   make(map[int]*subscriber),
		buffer: buffer,
		logger: l.With("module", "events"),
	}
}

func (h *Hub) Emit(name string, payload any) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, s := range h.subs {
		if !s.wants(name) {
			continue
		}
		select {
		case s.ch <- common.Event{Name: name, Payload: payload}:
		default:
			s.dropped++
			if s.dropped == 1 || s.dropped%100 == 0 {
				h.logger.Warn(context.Background(), "subscriber lagging, event dropped", "subscriber", id, "event", name, "dropped", s.dropped)
			}
		}
	}
}

// Subscribe registers a listener for the named events, or for all events when
// names is empty. The returned func unsubscribes and closes the channel.
func (h *Hub) Subscribe(names ...string) (<-chan common.Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan common.Event, h.buffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}

	id := h.next
	h.next++
	h.subs[id] = &subscriber{ch: ch, names: names}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if s, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(s.ch)
			}
		})
	}
}

// Close ends every subscription. Later Emit calls are dropped.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for id, s := range h.subs {
		delete(h.subs, id)
		close(s.ch)
	}
}
