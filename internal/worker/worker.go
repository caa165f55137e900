// Package worker consumes pricing events from the EventBus: it persists
// audit events and applies cache invalidation requests.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/go-playground/validator/v10"
	"github.com/opensource-finance/tierprice/internal/cache"
	"github.com/opensource-finance/tierprice/internal/domain"
	"go.uber.org/multierr"
)

// AuditTopics matches every audit topic.
const AuditTopics = "tierprice.audit.*"

// AuditGroup is the queue group shared by every process persisting audit
// events, so each event is written once.
const AuditGroup = "tierprice-audit"

// Worker processes audit and invalidation messages asynchronously.
type Worker struct {
	bus      domain.EventBus
	store    domain.RuleStore
	cache    *cache.PricingCache
	validate *validator.Validate

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc

	processed     atomic.Int64
	failed        atomic.Int64
	invalidations atomic.Int64
}

// Config selects which consumers a worker runs.
type Config struct {
	// PersistAudit stores audit events through the RuleStore.
	PersistAudit bool

	// ApplyInvalidations applies cache invalidation requests.
	ApplyInvalidations bool
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, store domain.RuleStore, pc *cache.PricingCache) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		store:    store,
		cache:    pc,
		validate: validator.New(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes the configured consumers.
func (w *Worker) Start(cfg Config) error {
	if cfg.PersistAudit {
		if w.store == nil {
			return fmt.Errorf("audit persistence requires a store")
		}
		if err := w.subscribe(AuditTopics, AuditGroup, w.handleAudit); err != nil {
			return err
		}
	}

	if cfg.ApplyInvalidations {
		if w.cache == nil {
			return fmt.Errorf("cache invalidation requires a cache")
		}
		if err := w.subscribe(domain.TopicCacheInvalidate, "", w.handleInvalidation); err != nil {
			return err
		}
	}

	slog.Info("worker started",
		"persist_audit", cfg.PersistAudit,
		"apply_invalidations", cfg.ApplyInvalidations,
	)
	return nil
}

// subscribe joins group when one is given and the bus supports queue
// groups; otherwise every message on topic is delivered.
func (w *Worker) subscribe(topic, group string, handler domain.MessageHandler) error {
	var (
		sub domain.Subscription
		err error
	)
	if qs, ok := w.bus.(domain.QueueSubscriber); ok && group != "" {
		sub, err = qs.QueueSubscribe(w.ctx, topic, group, handler)
	} else {
		sub, err = w.bus.Subscribe(w.ctx, topic, handler)
	}
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	slog.Info("worker subscribed", "topic", topic, "group", group)
	return nil
}

// handleAudit persists one audit event.
func (w *Worker) handleAudit(ctx context.Context, msg *domain.Message) error {
	var event domain.AuditEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		w.failed.Add(1)
		slog.Error("failed to parse audit event",
			"message_id", msg.ID,
			"topic", msg.Topic,
			"error", err,
		)
		return err
	}
	if event.ID == "" {
		event.ID = msg.ID
	}

	if err := w.store.SaveAuditLog(ctx, &event); err != nil {
		w.failed.Add(1)
		slog.Error("failed to save audit event",
			"audit_id", event.ID,
			"event_type", event.EventType,
			"error", err,
		)
		return err
	}

	w.processed.Add(1)
	slog.Debug("audit event saved",
		"audit_id", event.ID,
		"event_type", event.EventType,
	)
	return nil
}

// handleInvalidation applies one cache invalidation request.
func (w *Worker) handleInvalidation(ctx context.Context, msg *domain.Message) error {
	var req domain.InvalidationRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		w.failed.Add(1)
		slog.Error("failed to parse invalidation request",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	if err := w.validate.Struct(req); err != nil {
		w.failed.Add(1)
		slog.Error("invalid invalidation request",
			"message_id", msg.ID,
			"error", err,
		)
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}

	if err := w.cache.Invalidate(ctx, req); err != nil {
		w.failed.Add(1)
		slog.Error("cache invalidation failed",
			"scope", req.Scope,
			"error", err,
		)
		return err
	}

	w.invalidations.Add(1)
	slog.Info("cache invalidated",
		"scope", req.Scope,
		"rule_id", req.RuleID,
		"customer_id", req.CustomerID,
		"product_id", req.ProductID,
	)
	return nil
}

// Stop unsubscribes every consumer and returns the combined errors.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	subs := w.subscriptions
	w.subscriptions = nil
	w.mu.Unlock()

	var errs error
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("unsubscribe %s: %w", sub.Topic(), err))
		}
	}

	slog.Info("worker stopped")
	return errs
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Processed         int64    `json:"processed"`
	Failed            int64    `json:"failed"`
	Invalidations     int64    `json:"invalidations"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	w.mu.Unlock()

	return Stats{
		SubscriptionCount: len(topics),
		Topics:            topics,
		Processed:         w.processed.Load(),
		Failed:            w.failed.Load(),
		Invalidations:     w.invalidations.Load(),
	}
}
