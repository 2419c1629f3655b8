// Package decision turns rule results into a transaction decision and
// runs the evaluate-decide-persist-publish pipeline for one transaction.
package decision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/opensource-finance/fraudguard/internal/domain"
	"github.com/opensource-finance/fraudguard/internal/dsl"
	"github.com/opensource-finance/fraudguard/internal/repository"
	"github.com/opensource-finance/fraudguard/internal/rules"
)

var (
	// ErrUserNotFound is returned when the transaction's user does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrUserInactive is returned for transactions of deactivated users.
	ErrUserInactive = errors.New("user is inactive")
)

// Evaluator evaluates every loaded rule against a fact record.
type Evaluator interface {
	EvaluateAll(ctx context.Context, facts *dsl.Facts) []domain.RuleResult
}

// Recorder receives decision counts. Implemented by the metrics package.
type Recorder interface {
	ObserveDecision(status string)
}

// Processor evaluates transactions and records the outcome.
type Processor struct {
	evaluator       Evaluator
	repo            domain.Repository
	bus             domain.EventBus
	recorder        Recorder
	persistDeclined bool
	logger          *slog.Logger
}

// Option configures a Processor.
type Option func(*Processor)

// WithEventBus publishes decisions to bus.
func WithEventBus(bus domain.EventBus) Option {
	return func(p *Processor) { p.bus = bus }
}

// WithRecorder reports decision counts to r.
func WithRecorder(r Recorder) Option {
	return func(p *Processor) { p.recorder = r }
}

// WithPersistDeclined controls whether declined transactions are stored.
func WithPersistDeclined(persist bool) Option {
	return func(p *Processor) { p.persistDeclined = persist }
}

// NewProcessor creates a processor. Approved transactions are always stored.
func NewProcessor(evaluator Evaluator, repo domain.Repository, opts ...Option) *Processor {
	p := &Processor{
		evaluator: evaluator,
		repo:      repo,
		logger:    slog.Default().With("component", "decision"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Decide marks the transaction as fraud if any rule matched. Results keep
// their order.
func Decide(tx *domain.Transaction, results []domain.RuleResult) *domain.TransactionDecision {
	tx.IsFraud = false
	for _, r := range results {
		if r.Matched {
			tx.IsFraud = true
			break
		}
	}

	tx.Status = domain.StatusApproved
	if tx.IsFraud {
		tx.Status = domain.StatusDeclined
	}
	tx.RuleResults = results

	return &domain.TransactionDecision{
		Transaction: tx,
		RuleResults: results,
	}
}

// MatchedRules returns the IDs of the rules that matched, in order.
func MatchedRules(d *domain.TransactionDecision) []string {
	var ids []string
	for _, r := range d.RuleResults {
		if r.Matched {
			ids = append(ids, r.RuleID)
		}
	}
	return ids
}

// Process validates, evaluates, decides, stores and publishes one transaction.
func (p *Processor) Process(ctx context.Context, req *domain.TransactionRequest) (*domain.TransactionDecision, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	user, err := p.repo.GetUser(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if !user.IsActive {
		return nil, ErrUserInactive
	}

	tx := req.ToTransaction()
	tx.ID = uuid.New().String()

	results := p.evaluator.EvaluateAll(ctx, rules.FactsFor(tx, user))
	decision := Decide(tx, results)

	if !tx.IsFraud || p.persistDeclined {
		if err := p.repo.SaveTransaction(ctx, tx); err != nil {
			return nil, fmt.Errorf("failed to save transaction: %w", err)
		}
	}

	if p.recorder != nil {
		p.recorder.ObserveDecision(string(tx.Status))
	}
	p.publish(ctx, decision)

	p.logger.Debug("transaction decided",
		"tx_id", tx.ID,
		"status", tx.Status,
		"rules", len(results),
		"matched", MatchedRules(decision),
	)

	return decision, nil
}

// ProcessBatch processes items independently; one failure does not stop
// the others. Output order follows input order.
func (p *Processor) ProcessBatch(ctx context.Context, items []domain.TransactionRequest) *domain.BatchResponse {
	resp := &domain.BatchResponse{Items: make([]domain.BatchItem, len(items))}
	for i := range items {
		resp.Items[i].Index = i
		decision, err := p.Process(ctx, &items[i])
		if err != nil {
			resp.Items[i].Error = batchError(err)
			continue
		}
		resp.Items[i].Decision = decision
	}
	return resp
}

func batchError(err error) any {
	var verrs domain.ValidationErrors
	if errors.As(err, &verrs) {
		return verrs
	}
	return err.Error()
}

func (p *Processor) publish(ctx context.Context, decision *domain.TransactionDecision) {
	if p.bus == nil {
		return
	}

	payload, err := json.Marshal(decision)
	if err != nil {
		p.logger.Error("failed to marshal decision", "tx_id", decision.Transaction.ID, "error", err)
		return
	}

	if err := p.bus.Publish(ctx, domain.TopicTransactionEvaluated, payload); err != nil {
		p.logger.Warn("failed to publish decision", "tx_id", decision.Transaction.ID, "error", err)
	}
	if decision.Transaction.IsFraud {
		if err := p.bus.Publish(ctx, domain.TopicTransactionDeclined, payload); err != nil {
			p.logger.Warn("failed to publish decline", "tx_id", decision.Transaction.ID, "error", err)
		}
	}
}
