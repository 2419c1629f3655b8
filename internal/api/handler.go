package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-finance/fraudguard/internal/cache"
	"github.com/opensource-finance/fraudguard/internal/decision"
	"github.com/opensource-finance/fraudguard/internal/domain"
	"github.com/opensource-finance/fraudguard/internal/repository"
	"github.com/opensource-finance/fraudguard/internal/rules"
	"github.com/opensource-finance/fraudguard/internal/stats"
)

// Batch and listing bounds.
const (
	MaxBatchSize     = 500
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// Dependencies are the components the handlers call into. Cache, Bus and
// Metrics are optional.
type Dependencies struct {
	Repo       domain.Repository
	Cache      domain.Cache
	Validation *cache.ValidationCache
	Bus        domain.EventBus
	Engine     *rules.Engine
	Processor  *decision.Processor
	Stats      *stats.Service
	Metrics    MetricsSource
	Version    string

	// ConsumeTransactions reports that a worker evaluates transactions
	// published on the bus. Async submissions are refused without one.
	ConsumeTransactions bool
}

// Handler holds dependencies for API handlers.
type Handler struct {
	repo       domain.Repository
	cache      domain.Cache
	validation *cache.ValidationCache
	bus        domain.EventBus
	engine     *rules.Engine
	processor  *decision.Processor
	stats      *stats.Service
	version    string
	consumer   bool
}

// NewHandler creates a new API handler.
func NewHandler(deps Dependencies) *Handler {
	statsSvc := deps.Stats
	if statsSvc == nil && deps.Repo != nil {
		statsSvc = stats.NewService(deps.Repo)
	}
	return &Handler{
		repo:       deps.Repo,
		cache:      deps.Cache,
		validation: deps.Validation,
		bus:        deps.Bus,
		engine:     deps.Engine,
		processor:  deps.Processor,
		stats:      statsSvc,
		version:    deps.Version,
		consumer:   deps.ConsumeTransactions,
	}
}

// Health reports component health. A failing dependency degrades the
// status without failing the probe.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	components := map[string]string{}
	status := "healthy"

	check := func(name string, ping func(context.Context) error) {
		if err := ping(ctx); err != nil {
			components[name] = "unhealthy"
			status = "degraded"
			slog.Warn("health check failed", "component", name, "error", err)
			return
		}
		components[name] = "healthy"
	}

	if h.repo != nil {
		check("repository", h.repo.Ping)
	}
	if h.cache != nil {
		check("cache", h.cache.Ping)
	}
	if h.bus != nil {
		check("eventBus", h.bus.Ping)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":      status,
		"version":     h.version,
		"components":  components,
		"rulesLoaded": h.engine.RulesCount(),
		"backend":     h.engine.Backend(),
	})
}

// Ready returns 503 until the repository answers.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, r, http.StatusServiceUnavailable, CodeServiceUnavailable, "repository not available", nil)
		return
	}
	if err := h.repo.Ping(r.Context()); err != nil {
		writeError(w, r, http.StatusServiceUnavailable, CodeServiceUnavailable, "repository not reachable", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ready": "true"})
}

// ============================================================================
// USER HANDLERS
// ============================================================================

// CreateUser handles POST /users.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req domain.UserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, CodeBadRequest, err.Error(), nil)
		return
	}
	if err := req.Validate(); err != nil {
		writeValidation(w, r, err)
		return
	}

	user := req.ToUser()
	user.ID = uuid.New().String()

	if err := h.repo.SaveUser(r.Context(), user); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			writeError(w, r, http.StatusConflict, CodeEmailExists, "a user with this email already exists", nil)
			return
		}
		writeInternal(w, r, "failed to save user", err)
		return
	}

	slog.Info("user created", "user_id", user.ID)
	writeJSON(w, http.StatusCreated, user)
}

// GetUser handles GET /users/{id}.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.repo.GetUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, CodeUserNotFound, "user not found", nil)
			return
		}
		writeInternal(w, r, "failed to get user", err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// ============================================================================
// TRANSACTION HANDLERS
// ============================================================================

// SubmitTransaction handles POST /transactions. The transaction is
// evaluated inline unless ?async=true, in which case it is queued on the
// event bus for a consuming worker and 202 is returned. Without a consumer
// the async form answers 503.
func (h *Handler) SubmitTransaction(w http.ResponseWriter, r *http.Request) {
	var req domain.TransactionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, CodeBadRequest, err.Error(), nil)
		return
	}

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		h.enqueueTransaction(w, r, &req)
		return
	}

	result, err := h.processor.Process(r.Context(), &req)
	if err != nil {
		h.writeProcessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) enqueueTransaction(w http.ResponseWriter, r *http.Request, req *domain.TransactionRequest) {
	if err := req.Validate(); err != nil {
		writeValidation(w, r, err)
		return
	}
	if h.bus == nil {
		writeError(w, r, http.StatusServiceUnavailable, CodeServiceUnavailable, "event bus not available", nil)
		return
	}
	if !h.consumer {
		writeError(w, r, http.StatusServiceUnavailable, CodeServiceUnavailable,
			"async evaluation is disabled: set event_bus.consume_transactions", nil)
		return
	}

	payload, err := json.Marshal(req)
	if err != nil {
		writeInternal(w, r, "failed to encode transaction", err)
		return
	}
	if err := h.bus.Publish(r.Context(), domain.TopicTransactionSubmitted, payload); err != nil {
		writeInternal(w, r, "failed to queue transaction", err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "accepted",
		"traceId": GetTraceID(r.Context()),
	})
}

// BatchTransactions handles POST /transactions/batch. Items are decided
// independently and reported in request order.
func (h *Handler) BatchTransactions(w http.ResponseWriter, r *http.Request) {
	var req domain.BatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, CodeBadRequest, err.Error(), nil)
		return
	}
	if n := len(req.Items); n == 0 || n > MaxBatchSize {
		var errs domain.ValidationErrors
		errs.Add("items", "must contain between 1 and "+strconv.Itoa(MaxBatchSize)+" transactions")
		writeValidation(w, r, errs)
		return
	}

	writeJSON(w, http.StatusOK, h.processor.ProcessBatch(r.Context(), req.Items))
}

// GetTransaction handles GET /transactions/{id}.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.repo.GetTransaction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, CodeNotFound, "transaction not found", nil)
			return
		}
		writeInternal(w, r, "failed to get transaction", err)
		return
	}

	results := tx.RuleResults
	if results == nil {
		results = []domain.RuleResult{}
	}
	writeJSON(w, http.StatusOK, domain.TransactionDecision{Transaction: tx, RuleResults: results})
}

// ListTransactions handles GET /transactions?userId=&from=&to=&limit=.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, to, ok := parseWindow(w, r)
	if !ok {
		return
	}
	limit, ok := parseLimit(w, r, DefaultListLimit, MaxListLimit)
	if !ok {
		return
	}

	txs, err := h.repo.ListTransactions(r.Context(), domain.TransactionFilter{
		UserID: q.Get("userId"),
		From:   from,
		To:     to,
		Limit:  limit,
	})
	if err != nil {
		writeInternal(w, r, "failed to list transactions", err)
		return
	}
	if txs == nil {
		txs = []*domain.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

func (h *Handler) writeProcessError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case writeValidation(w, r, err):
	case errors.Is(err, decision.ErrUserNotFound):
		writeError(w, r, http.StatusNotFound, CodeUserNotFound, "user not found", nil)
	case errors.Is(err, decision.ErrUserInactive):
		writeError(w, r, http.StatusForbidden, CodeUserInactive, "user is inactive", nil)
	default:
		writeInternal(w, r, "transaction processing failed", err)
	}
}

// parseWindow reads optional RFC 3339 from/to query parameters.
func parseWindow(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	var from, to time.Time
	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"from", &from}, {"to", &to}} {
		raw := r.URL.Query().Get(p.name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, CodeBadRequest, p.name+" must be an RFC 3339 timestamp", nil)
			return from, to, false
		}
		*p.dst = t.UTC()
	}
	return from, to, true
}

func parseLimit(w http.ResponseWriter, r *http.Request, def, upper int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > upper {
		writeError(w, r, http.StatusBadRequest, CodeBadRequest, "limit must be between 1 and "+strconv.Itoa(upper), nil)
		return 0, false
	}
	return n, true
}
