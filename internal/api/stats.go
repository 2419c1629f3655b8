package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/fraudguard/internal/domain"
	"github.com/opensource-finance/fraudguard/internal/repository"
	"github.com/opensource-finance/fraudguard/internal/stats"
)

const (
	defaultStatsLimit = 20
	maxStatsLimit     = 100
)

// StatsOverview handles GET /stats/overview?from=&to=.
func (h *Handler) StatsOverview(w http.ResponseWriter, r *http.Request) {
	from, to, ok := parseWindow(w, r)
	if !ok {
		return
	}
	overview, err := h.stats.Overview(r.Context(), from, to)
	if err != nil {
		writeStatsError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

// StatsRuleMatches handles GET /stats/rules/matches?from=&to=&limit=.
func (h *Handler) StatsRuleMatches(w http.ResponseWriter, r *http.Request) {
	from, to, ok := parseWindow(w, r)
	if !ok {
		return
	}
	limit, ok := parseLimit(w, r, defaultStatsLimit, maxStatsLimit)
	if !ok {
		return
	}
	rows, err := h.stats.RuleMatches(r.Context(), from, to, limit)
	if err != nil {
		writeStatsError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": nonNil(rows)})
}

// StatsMerchantsRisk handles GET /stats/merchants/risk?from=&to=&limit=.
func (h *Handler) StatsMerchantsRisk(w http.ResponseWriter, r *http.Request) {
	from, to, ok := parseWindow(w, r)
	if !ok {
		return
	}
	limit, ok := parseLimit(w, r, defaultStatsLimit, maxStatsLimit)
	if !ok {
		return
	}
	rows, err := h.stats.Merchants(r.Context(), from, to, limit)
	if err != nil {
		writeStatsError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": nonNil(rows)})
}

// StatsTimeseries handles
// GET /stats/transactions/timeseries?from=&to=&groupBy=&channel=&timezone=.
func (h *Handler) StatsTimeseries(w http.ResponseWriter, r *http.Request) {
	from, to, ok := parseWindow(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	q := stats.TimeseriesQuery{
		From:    from,
		To:      to,
		GroupBy: domain.TimeseriesGrouping(query.Get("groupBy")),
		Channel: domain.Channel(query.Get("channel")),
	}
	if q.Channel != "" && !q.Channel.Valid() {
		writeError(w, r, http.StatusBadRequest, CodeBadRequest, "channel must be one of WEB, MOBILE, POS, OTHER", nil)
		return
	}
	if tz := query.Get("timezone"); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, CodeBadRequest, "unknown timezone "+tz, nil)
			return
		}
		q.Location = loc
	}

	series, err := h.stats.Timeseries(r.Context(), q)
	if err != nil {
		writeStatsError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, series)
}

// StatsUserRiskProfile handles GET /stats/users/{id}/risk-profile.
func (h *Handler) StatsUserRiskProfile(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	if _, err := h.repo.GetUser(r.Context(), userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, CodeUserNotFound, "user not found", nil)
			return
		}
		writeInternal(w, r, "failed to get user", err)
		return
	}

	profile, err := h.stats.UserRiskProfile(r.Context(), userID)
	if err != nil {
		writeStatsError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func writeStatsError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, stats.ErrInvalidWindow) || errors.Is(err, stats.ErrInvalidGrouping) {
		writeError(w, r, http.StatusUnprocessableEntity, CodeValidationFailed, err.Error(), nil)
		return
	}
	writeInternal(w, r, "failed to compute stats", err)
}

func nonNil[T any](rows []T) []T {
	if rows == nil {
		return []T{}
	}
	return rows
}
