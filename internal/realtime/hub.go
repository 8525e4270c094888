package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultBuffer is the per-subscriber queue length used when none is given.
	DefaultBuffer = 64
	// DefaultMirrorQueue is the number of events waiting for the mirror
	// before new ones are dropped.
	DefaultMirrorQueue = 1024

	mirrorTimeout = 2 * time.Second
)

// Mirror receives a copy of every published event. It is used to forward
// events to consumers outside this process.
type Mirror interface {
	Mirror(ctx context.Context, ev Event) error
}

// Hub is an in-memory publish/subscribe switch keyed by topic name.
// Publishing never blocks: a subscriber whose queue is full misses the event,
// and so does the mirror when its queue is full.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[*Subscription]struct{}
	buffer int
	now    func() time.Time

	mirror     Mirror
	mirrorSize int
	mirrorQ    chan mirrorJob // nil without a mirror; closed by Close
	mirrorDone chan struct{}
	closed     bool // guarded by mu
}

type mirrorJob struct {
	ctx context.Context
	ev  Event
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithBuffer sets the per-subscriber queue length.
func WithBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithMirror forwards every published event to m from a background
// goroutine. Call Close to flush it.
func WithMirror(m Mirror) HubOption {
	return func(h *Hub) { h.mirror = m }
}

// WithMirrorQueue sets how many events may wait for the mirror.
func WithMirrorQueue(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.mirrorSize = n
		}
	}
}

// NewHub returns an empty hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		topics:     make(map[string]map[*Subscription]struct{}),
		buffer:     DefaultBuffer,
		mirrorSize: DefaultMirrorQueue,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(h)
	}
	if h.mirror != nil {
		h.mirrorQ = make(chan mirrorJob, h.mirrorSize)
		h.mirrorDone = make(chan struct{})
		go h.runMirror()
	}
	return h
}

// Close stops the mirror after it has forwarded every queued event.
// Later publishes still reach local subscribers but are not mirrored.
// Close is idempotent.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	if h.mirrorQ != nil {
		close(h.mirrorQ)
	}
	h.mu.Unlock()
	if h.mirrorDone != nil {
		<-h.mirrorDone
	}
}

func (h *Hub) runMirror() {
	defer close(h.mirrorDone)
	for job := range h.mirrorQ {
		ctx, cancel := context.WithTimeout(job.ctx, mirrorTimeout)
		err := h.mirror.Mirror(ctx, job.ev)
		cancel()
		if err != nil {
			mirrorErrors.Inc()
			log.Warn().Err(err).Str("topic", job.ev.Topic).Msg("event mirror failed")
		}
	}
}

// Subscription is one consumer's view of the hub. It starts with no topics.
type Subscription struct {
	ID string

	hub    *Hub
	ch     chan Event
	topics map[string]struct{} // guarded by hub.mu
	once   sync.Once
}

// Subscribe registers a new consumer identified by id.
func (h *Hub) Subscribe(id string) *Subscription {
	return &Subscription{
		ID:     id,
		hub:    h,
		ch:     make(chan Event, h.buffer),
		topics: make(map[string]struct{}),
	}
}

// Events is the receive side of the subscriber queue. It is closed by Close.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Join adds topic to the subscription. Joining twice is a no-op.
func (s *Subscription) Join(topic string) {
	h := s.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if s.topics == nil {
		return // closed
	}
	set, ok := h.topics[topic]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.topics[topic] = set
	}
	set[s] = struct{}{}
	s.topics[topic] = struct{}{}
}

// Leave removes topic from the subscription.
func (s *Subscription) Leave(topic string) {
	h := s.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if s.topics == nil {
		return
	}
	h.detach(s, topic)
	delete(s.topics, topic)
}

// Joined reports whether the subscription currently receives topic.
func (s *Subscription) Joined(topic string) bool {
	s.hub.mu.RLock()
	defer s.hub.mu.RUnlock()
	_, ok := s.topics[topic]
	return ok
}

// Close detaches the subscription from every topic and closes its queue.
// Close is idempotent.
func (s *Subscription) Close() {
	s.once.Do(func() {
		h := s.hub
		h.mu.Lock()
		for t := range s.topics {
			h.detach(s, t)
		}
		s.topics = nil
		h.mu.Unlock()
		// No publisher can reach s once it is detached under the write lock.
		close(s.ch)
	})
}

// detach must be called with h.mu held for writing.
func (h *Hub) detach(s *Subscription, topic string) {
	set, ok := h.topics[topic]
	if !ok {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(h.topics, topic)
	}
}

// Subscribers returns how many consumers receive topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Publish delivers ev to every subscriber of ev.Topic and returns how many
// queues accepted it. At is stamped when unset. The mirror copy is queued,
// never awaited.
func (h *Hub) Publish(ctx context.Context, ev Event) int {
	if ev.At.IsZero() {
		ev.At = h.now()
	}
	eventsPublished.WithLabelValues(string(ev.Type)).Inc()

	delivered := 0
	h.mu.RLock()
	for s := range h.topics[ev.Topic] {
		select {
		case s.ch <- ev:
			delivered++
		default:
			eventsDropped.WithLabelValues(string(ev.Type)).Inc()
			log.Debug().
				Str("topic", ev.Topic).
				Str("type", string(ev.Type)).
				Str("subscriber", s.ID).
				Msg("subscriber queue full, event dropped")
		}
	}
	if h.mirrorQ != nil && !h.closed {
		// The request that published may end before the mirror runs.
		select {
		case h.mirrorQ <- mirrorJob{ctx: context.WithoutCancel(ctx), ev: ev}:
		default:
			mirrorDropped.Inc()
			log.Debug().Str("topic", ev.Topic).Msg("mirror queue full, event dropped")
		}
	}
	h.mu.RUnlock()
	return delivered
}
