// Package bus is the in-process broadcast bus that carries session
// notifications to presentation consumers.
//
// Publishers never block on subscribers: every subscription owns a buffered
// mailbox drained by its own goroutine, so a slow or failing handler only
// delays itself. Delivery order per subscription matches publish order.
package bus

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/bhandras/ussdpilot/pkg/logger"
)

// TopicSessionEvent carries Notification payloads for every session.
const TopicSessionEvent = "session_event"

const defaultMailboxSize = 1024

// Notification is the payload published on TopicSessionEvent.
type Notification struct {
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	SessionID string    `json:"sessionId"`
	State     string    `json:"state,omitempty"`
	At        time.Time `json:"at"`
}

// Handler consumes one published payload.
type Handler func(topic string, payload any)

type envelope struct {
	topic   string
	payload any
}

// Subscription is a handle returned by Subscribe.
type Subscription struct {
	id      uint64
	topic   string
	handler Handler
	mailbox chan envelope
	quit    chan struct{}
	done    chan struct{}
	once    sync.Once
	dropped atomic.Uint64
}

// Dropped reports how many payloads were discarded because the mailbox was
// full.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Bus fans published payloads out to topic subscribers.
type Bus struct {
	mu          sync.RWMutex
	subs        map[string]map[uint64]*Subscription
	nextID      uint64
	closed      bool
	mailboxSize int
	dropped     atomic.Uint64
}

// Option configures a Bus.
type Option func(*Bus)

// WithMailboxSize overrides the per-subscription buffer.
func WithMailboxSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.mailboxSize = n
		}
	}
}

// New creates an empty bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		subs:        make(map[string]map[uint64]*Subscription),
		mailboxSize: defaultMailboxSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers handler for topic. It returns nil once the bus is
// closed.
func (b *Bus) Subscribe(topic string, handler Handler) *Subscription {
	if handler == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.nextID++
	sub := &Subscription{
		id:      b.nextID,
		topic:   topic,
		handler: handler,
		mailbox: make(chan envelope, b.mailboxSize),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[uint64]*Subscription)
	}
	b.subs[topic][sub.id] = sub
	go sub.run()
	return sub
}

// Unsubscribe removes sub and waits for its in-flight handler to return.
// Payloads still queued for it are discarded.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	if m := b.subs[sub.topic]; m != nil {
		delete(m, sub.id)
		if len(m) == 0 {
			delete(b.subs, sub.topic)
		}
	}
	b.mu.Unlock()
	sub.stop()
}

// Publish delivers payload to every current subscriber of topic. It never
// blocks; a subscriber whose mailbox is full loses the payload.
func (b *Bus) Publish(topic string, payload any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs[topic] {
		select {
		case sub.mailbox <- envelope{topic: topic, payload: payload}:
		default:
			sub.dropped.Add(1)
			b.dropped.Add(1)
			logger.Warnf("[bus] mailbox full for subscriber %d on %q; dropping payload", sub.id, topic)
		}
	}
}

// Dropped returns how many payloads were dropped across all subscribers
// since the bus was created.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Subscribers returns the number of live subscriptions on topic.
func (b *Bus) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

// Close stops every subscription. Publish becomes a no-op afterwards.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	var all []*Subscription
	for _, m := range b.subs {
		for _, sub := range m {
			all = append(all, sub)
		}
	}
	b.subs = make(map[string]map[uint64]*Subscription)
	b.mu.Unlock()

	for _, sub := range all {
		sub.stop()
	}
}

func (s *Subscription) stop() {
	s.once.Do(func() { close(s.quit) })
	<-s.done
}

func (s *Subscription) run() {
	defer close(s.done)
	for {
		select {
		case <-s.quit:
			return
		case env := <-s.mailbox:
			s.deliver(env)
		}
	}
}

func (s *Subscription) deliver(env envelope) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[bus] subscriber %d panicked on %q: %v", s.id, env.topic, r)
		}
	}()
	s.handler(env.topic, env.payload)
}
