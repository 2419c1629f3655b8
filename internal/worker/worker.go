// Package worker runs the background side of a fraudguard node: keeping
// the rule engine in sync with the repository and consuming transactions
// submitted over the event bus.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/opensource-finance/fraudguard/internal/domain"
)

// RuleLoader is the part of the rule engine the worker drives.
type RuleLoader interface {
	ReloadRules(rules []*domain.FraudRule) error
	RulesCount() int
}

// Processor decides a submitted transaction.
type Processor interface {
	Process(ctx context.Context, req *domain.TransactionRequest) (*domain.TransactionDecision, error)
}

// Config holds worker configuration.
type Config struct {
	// ReloadSchedule is a cron spec ("@every 1m", "*/5 * * * *").
	// Empty disables periodic reloads.
	ReloadSchedule string

	// ConsumeTransactions subscribes to TopicTransactionSubmitted.
	ConsumeTransactions bool
}

// Worker reloads rules on change events and on a schedule.
type Worker struct {
	bus       domain.EventBus
	repo      domain.Repository
	engine    RuleLoader
	processor Processor

	reloadMu   sync.Mutex
	reloads    atomic.Int64
	lastReload atomic.Pointer[time.Time]

	mu            sync.Mutex
	cron          *cron.Cron
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates a worker. processor may be nil when transactions are
// not consumed from the bus.
func NewWorker(bus domain.EventBus, repo domain.Repository, engine RuleLoader, processor Processor) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       bus,
		repo:      repo,
		engine:    engine,
		processor: processor,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start subscribes to the bus and starts the reload schedule.
func (w *Worker) Start(cfg Config) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	sub, err := w.bus.Subscribe(w.ctx, domain.TopicRulesChanged, w.handleRulesChanged)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", domain.TopicRulesChanged, err)
	}
	w.subscriptions = append(w.subscriptions, sub)

	if cfg.ConsumeTransactions {
		if w.processor == nil {
			return fmt.Errorf("transaction consumption requires a processor")
		}
		sub, err := w.bus.Subscribe(w.ctx, domain.TopicTransactionSubmitted, w.handleTransaction)
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", domain.TopicTransactionSubmitted, err)
		}
		w.subscriptions = append(w.subscriptions, sub)
	}

	if cfg.ReloadSchedule != "" {
		c := cron.New()
		if _, err := c.AddFunc(cfg.ReloadSchedule, w.scheduledReload); err != nil {
			return fmt.Errorf("invalid reload schedule %q: %w", cfg.ReloadSchedule, err)
		}
		c.Start()
		w.cron = c
	}

	slog.Info("worker started",
		"subscriptions", len(w.subscriptions),
		"reload_schedule", cfg.ReloadSchedule,
	)
	return nil
}

// Reload replaces the engine's rule set with the enabled rules in the
// repository. Concurrent calls are serialized so the newest listing wins.
func (w *Worker) Reload(ctx context.Context) error {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	rules, err := w.repo.ListRules(ctx, false)
	if err != nil {
		return fmt.Errorf("failed to list rules: %w", err)
	}
	if err := w.engine.ReloadRules(rules); err != nil {
		return fmt.Errorf("failed to reload rules: %w", err)
	}

	now := time.Now()
	w.lastReload.Store(&now)
	w.reloads.Add(1)

	slog.Debug("rules reloaded", "count", w.engine.RulesCount())
	return nil
}

func (w *Worker) scheduledReload() {
	if err := w.Reload(w.ctx); err != nil {
		slog.Error("scheduled rule reload failed", "error", err)
	}
}

func (w *Worker) handleRulesChanged(ctx context.Context, msg *domain.Message) error {
	var event domain.RulesChangedEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return fmt.Errorf("malformed rules-changed event: %w", err)
	}

	slog.Info("rules changed", "rule_id", event.RuleID, "action", event.Action, "message_id", msg.ID)
	return w.Reload(ctx)
}

func (w *Worker) handleTransaction(ctx context.Context, msg *domain.Message) error {
	var req domain.TransactionRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return fmt.Errorf("malformed transaction message: %w", err)
	}

	start := time.Now()
	decision, err := w.processor.Process(ctx, &req)
	if err != nil {
		return fmt.Errorf("failed to process submitted transaction: %w", err)
	}

	slog.Info("submitted transaction processed",
		"tx_id", decision.Transaction.ID,
		"status", decision.Transaction.Status,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Stop unsubscribes, stops the schedule and waits for a running
// scheduled reload to finish.
func (w *Worker) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe", "topic", sub.Topic(), "error", err)
		}
	}
	w.subscriptions = nil

	if w.cron != nil {
		<-w.cron.Stop().Done()
		w.cron = nil
	}

	slog.Info("worker stopped")
	return nil
}

// Stats describes the worker's current state.
type Stats struct {
	SubscriptionCount int        `json:"subscriptionCount"`
	Topics            []string   `json:"topics"`
	Reloads           int64      `json:"reloads"`
	LastReloadAt      *time.Time `json:"lastReloadAt,omitempty"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Reloads:           w.reloads.Load(),
		LastReloadAt:      w.lastReload.Load(),
	}
}
