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

	"github.com/opensource-finance/fraudguard/internal/domain"
	"github.com/opensource-finance/fraudguard/internal/dsl"
	"github.com/opensource-finance/fraudguard/internal/repository"
)

// ListRules handles GET /fraud-rules. Only enabled rules are returned
// unless ?includeDisabled=true.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	includeDisabled, _ := strconv.ParseBool(r.URL.Query().Get("includeDisabled"))

	stored, err := h.repo.ListRules(r.Context(), includeDisabled)
	if err != nil {
		writeInternal(w, r, "failed to list rules", err)
		return
	}
	if stored == nil {
		stored = []*domain.FraudRule{}
	}
	writeJSON(w, http.StatusOK, stored)
}

// GetRule handles GET /fraud-rules/{id}. Disabled rules are not found.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	rule, ok := h.enabledRule(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// CreateRule handles POST /fraud-rules. The rule is compiled before it is
// stored and is live on this node as soon as the response is sent.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req domain.RuleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, CodeBadRequest, err.Error(), nil)
		return
	}
	if err := req.Validate(); err != nil {
		writeValidation(w, r, err)
		return
	}

	now := time.Now().UTC()
	rule := &domain.FraudRule{
		ID:        uuid.New().String(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	req.Apply(rule)

	if !h.compileInto(w, r, rule) {
		return
	}

	if err := h.repo.CreateRule(r.Context(), rule); err != nil {
		h.writeRuleStoreError(w, r, err)
		return
	}

	h.applyRule(r.Context(), rule, "created")
	writeJSON(w, http.StatusCreated, rule)
}

// UpdateRule handles PUT /fraud-rules/{id}. An omitted description keeps
// the stored one.
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	rule, ok := h.enabledRule(w, r)
	if !ok {
		return
	}

	var req domain.RuleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, CodeBadRequest, err.Error(), nil)
		return
	}
	if err := req.Validate(); err != nil {
		writeValidation(w, r, err)
		return
	}

	description := rule.Description
	req.Apply(rule)
	if req.Description == nil {
		rule.Description = description
	}
	rule.UpdatedAt = time.Now().UTC()

	if !h.compileInto(w, r, rule) {
		return
	}

	if err := h.repo.UpdateRule(r.Context(), rule); err != nil {
		h.writeRuleStoreError(w, r, err)
		return
	}

	h.applyRule(r.Context(), rule, "updated")
	writeJSON(w, http.StatusOK, rule)
}

// DeleteRule handles DELETE /fraud-rules/{id} by disabling the rule.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	rule, ok := h.enabledRule(w, r)
	if !ok {
		return
	}

	if err := h.repo.DisableRule(r.Context(), rule.ID); err != nil {
		h.writeRuleStoreError(w, r, err)
		return
	}

	rule.Enabled = false
	h.applyRule(r.Context(), rule, "disabled")
	w.WriteHeader(http.StatusNoContent)
}

// ValidateRule handles POST /fraud-rules/validate. Invalid rules are a
// normal 200 response with isValid=false.
func (h *Handler) ValidateRule(w http.ResponseWriter, r *http.Request) {
	var req domain.ValidateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, CodeBadRequest, err.Error(), nil)
		return
	}
	if n := len([]rune(req.DSLExpression)); n < 1 || n > 2000 {
		var errs domain.ValidationErrors
		errs.Add("dslExpression", "must be between 1 and 2000 characters")
		writeValidation(w, r, errs)
		return
	}

	if cached, ok := h.validation.Get(r.Context(), req.DSLExpression); ok {
		w.Header().Set("X-Cache", "HIT")
		writeJSON(w, http.StatusOK, cached)
		return
	}

	resp := &domain.ValidateResponse{Errors: []domain.DSLError{}}
	normalized, perrs := dsl.Validate(req.DSLExpression)
	if len(perrs) == 0 {
		resp.IsValid = true
		resp.NormalizedExpression = &normalized
	} else {
		resp.Errors = dslErrors(perrs)
	}

	h.validation.Put(r.Context(), req.DSLExpression, resp)
	w.Header().Set("X-Cache", "MISS")
	writeJSON(w, http.StatusOK, resp)
}

// ReloadRules handles POST /fraud-rules/reload. The enabled rules are
// reloaded from the repository here and the other nodes are notified.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	stored, err := h.repo.ListRules(ctx, false)
	if err != nil {
		writeInternal(w, r, "failed to list rules", err)
		return
	}
	if err := h.engine.ReloadRules(stored); err != nil {
		writeInternal(w, r, "failed to reload rules", err)
		return
	}

	h.publishRulesChanged(ctx, "", "reload")
	slog.Info("rules reloaded from repository", "count", len(stored))
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   h.engine.RulesCount(),
	})
}

// enabledRule loads the rule named by the {id} URL parameter, replying 404
// when it is missing or disabled.
func (h *Handler) enabledRule(w http.ResponseWriter, r *http.Request) (*domain.FraudRule, bool) {
	rule, err := h.repo.GetRule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, CodeNotFound, "rule not found", nil)
			return nil, false
		}
		writeInternal(w, r, "failed to get rule", err)
		return nil, false
	}
	if !rule.Enabled {
		writeError(w, r, http.StatusNotFound, CodeNotFound, "rule not found", nil)
		return nil, false
	}
	return rule, true
}

// compileInto parses the rule and stores its JSON tree on it. On failure
// the DSL errors are written and false is returned.
func (h *Handler) compileInto(w http.ResponseWriter, r *http.Request, rule *domain.FraudRule) bool {
	expr, err := h.engine.ValidateRule(rule)
	if err != nil {
		if _, ok := dsl.AsParserError(err); ok {
			writeDSLErrors(w, r, err)
			return false
		}
		writeInternal(w, r, "failed to compile rule", err)
		return false
	}

	tree, err := dsl.ToJSON(expr)
	if err != nil {
		writeInternal(w, r, "failed to encode rule tree", err)
		return false
	}
	rule.DSLExpressionJSON = tree
	return true
}

func (h *Handler) writeRuleStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, repository.ErrConflict):
		writeError(w, r, http.StatusConflict, CodeRuleNameExists, "a rule with this name already exists", nil)
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, r, http.StatusNotFound, CodeNotFound, "rule not found", nil)
	default:
		writeInternal(w, r, "failed to store rule", err)
	}
}

// applyRule brings the local engine in line with a stored change and
// tells the other nodes about it.
func (h *Handler) applyRule(ctx context.Context, rule *domain.FraudRule, action string) {
	if err := h.engine.LoadRule(rule); err != nil {
		slog.Error("stored rule failed to load", "rule_id", rule.ID, "error", err)
	}
	h.publishRulesChanged(ctx, rule.ID, action)
	slog.Info("rule "+action, "rule_id", rule.ID, "name", rule.Name, "loaded", h.engine.RulesCount())
}

func (h *Handler) publishRulesChanged(ctx context.Context, ruleID, action string) {
	if h.bus == nil {
		return
	}
	payload, err := json.Marshal(domain.RulesChangedEvent{RuleID: ruleID, Action: action})
	if err != nil {
		return
	}
	if err := h.bus.Publish(ctx, domain.TopicRulesChanged, payload); err != nil {
		slog.Warn("failed to publish rules change", "rule_id", ruleID, "error", err)
	}
}
