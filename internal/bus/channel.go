// Package bus provides event bus implementations for tierprice.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/opensource-finance/tierprice/internal/domain"
)

// ChannelBus implements EventBus using Go channels for a single tierprice
// process. Topics may be subscribed with NATS-style wildcards, and queue
// groups receive each message once.
type ChannelBus struct {
	mu         sync.RWMutex
	bufferSize int
	subs       map[string]*channelSubscription
	closed     bool

	dropped atomic.Int64
	turn    atomic.Uint64
}

type channelSubscription struct {
	id      string
	pattern string
	group   string
	handler domain.MessageHandler
	msgCh   chan *domain.Message
	ctx     context.Context
	cancel  context.CancelFunc
	bus     *ChannelBus
}

// NewChannelBus creates a new channel-based event bus.
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &ChannelBus{
		bufferSize: bufferSize,
		subs:       make(map[string]*channelSubscription),
	}
}

// Publish delivers a message to every matching plain subscriber and to one
// member of each matching queue group, without blocking. Messages for a
// subscriber whose buffer is full are dropped and counted.
func (b *ChannelBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if topic == "" {
		return fmt.Errorf("topic is required")
	}

	msg := newMessage(ctx, topic, payload)

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("bus is closed")
	}

	groups := make(map[string][]*channelSubscription)
	for _, sub := range b.subs {
		if !subjectMatches(sub.pattern, topic) {
			continue
		}
		if sub.group != "" {
			groups[sub.group] = append(groups[sub.group], sub)
			continue
		}
		b.deliver(sub, msg)
	}

	for _, members := range groups {
		b.deliver(members[b.turn.Add(1)%uint64(len(members))], msg)
	}

	return nil
}

func (b *ChannelBus) deliver(sub *channelSubscription, msg *domain.Message) {
	select {
	case sub.msgCh <- msg:
	default:
		b.dropped.Add(1)
		slog.Warn("event bus subscriber full, message dropped",
			"topic", msg.Topic,
			"subscription", sub.pattern,
			"group", sub.group,
		)
	}
}

// Subscribe registers a handler for a topic pattern.
func (b *ChannelBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	return b.subscribe(ctx, topic, "", handler)
}

// QueueSubscribe registers handler as a member of group; each message
// matching topic goes to one member.
func (b *ChannelBus) QueueSubscribe(ctx context.Context, topic, group string, handler domain.MessageHandler) (domain.Subscription, error) {
	if group == "" {
		return nil, fmt.Errorf("queue group is required")
	}
	return b.subscribe(ctx, topic, group, handler)
}

func (b *ChannelBus) subscribe(ctx context.Context, topic, group string, handler domain.MessageHandler) (domain.Subscription, error) {
	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("bus is closed")
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &channelSubscription{
		id:      uuid.New().String(),
		pattern: topic,
		group:   group,
		handler: handler,
		msgCh:   make(chan *domain.Message, b.bufferSize),
		ctx:     subCtx,
		cancel:  cancel,
		bus:     b,
	}
	b.subs[sub.id] = sub

	go sub.run()
	return sub, nil
}

func (s *channelSubscription) run() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.msgCh:
			if err := s.handler(handlerContext(s.ctx, msg), msg); err != nil {
				slog.Error("handler error",
					"topic", msg.Topic,
					"message_id", msg.ID,
					"error", err,
				)
			}
		}
	}
}

// Dropped returns how many messages were dropped on full subscriber buffers.
func (b *ChannelBus) Dropped() int64 {
	return b.dropped.Load()
}

// Ping checks bus health.
func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("bus is closed")
	}
	return nil
}

// Close stops every subscription.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	b.closed = true
	for _, sub := range b.subs {
		sub.cancel()
	}
	b.subs = make(map[string]*channelSubscription)
	return nil
}

// Unsubscribe stops receiving messages.
func (s *channelSubscription) Unsubscribe() error {
	s.cancel()
	s.bus.mu.Lock()
	delete(s.bus.subs, s.id)
	s.bus.mu.Unlock()
	return nil
}

// Topic returns the subscribed topic pattern.
func (s *channelSubscription) Topic() string {
	return s.pattern
}
