package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels or NATS.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// QueueSubscriber is implemented by buses that can share a topic across
// a named group, delivering each message to only one member.
type QueueSubscriber interface {
	QueueSubscribe(ctx context.Context, topic, group string, handler MessageHandler) (Subscription, error)
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message. Metadata carries the publisher's
// trace context.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string `envconfig:"TYPE"`

	// Channel settings
	ChannelBufferSize int `envconfig:"CHANNEL_BUFFER_SIZE"`

	// NATS settings
	NATSUrl           string `envconfig:"NATS_URL"`
	NATSToken         string `envconfig:"NATS_TOKEN"`
	NATSMaxReconnects int    `envconfig:"NATS_MAX_RECONNECTS"`
	NATSReconnectWait int    `envconfig:"NATS_RECONNECT_WAIT"` // seconds
}

// Standard topic names.
const (
	TopicAuditPricing    = "tierprice.audit.pricing"
	TopicAuditError      = "tierprice.audit.error"
	TopicAuditEvaluation = "tierprice.audit.evaluation"
	TopicCacheInvalidate = "tierprice.cache.invalidate"
)

// InvalidationScope names what a cache invalidation request targets.
type InvalidationScope string

const (
	InvalidateRules      InvalidationScope = "rules"
	InvalidateRuleTiers  InvalidationScope = "rule_tiers"
	InvalidateAssignment InvalidationScope = "assignment"
	InvalidateProduct    InvalidationScope = "product"
	InvalidateCustomer   InvalidationScope = "customer"
	InvalidateAll        InvalidationScope = "all"
)

// InvalidationRequest is published by write-side tooling after a rule,
// tier, assignment or product change.
type InvalidationRequest struct {
	Scope      InvalidationScope `json:"scope" validate:"required,oneof=rules rule_tiers assignment product customer all"`
	RuleID     string            `json:"ruleId,omitempty"`
	CustomerID string            `json:"customerId,omitempty"`
	ProductID  string            `json:"productId,omitempty"`
}
