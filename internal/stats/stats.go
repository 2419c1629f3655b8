// Package stats aggregates stored transactions into the reporting views
// served under /stats.
package stats

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/opensource-finance/fraudguard/internal/domain"
)

// MaxWindow is the widest from/to range a report accepts.
const MaxWindow = 90 * 24 * time.Hour

// DefaultWindow is used when the caller gives no range.
const DefaultWindow = 30 * 24 * time.Hour

// DefaultTimeseriesWindow is the timeseries range when from is not given.
const DefaultTimeseriesWindow = 7*24*time.Hour - time.Hour

const day = 24 * time.Hour

// Bucket width per grouping and the widest range it accepts.
var groupings = map[domain.TimeseriesGrouping]struct {
	width     time.Duration
	maxWindow time.Duration
}{
	domain.GroupByHour: {time.Hour, 7 * day},
	domain.GroupByDay:  {day, 90 * day},
	domain.GroupByWeek: {7 * day, 365 * day},
}

var (
	// ErrInvalidWindow is returned for reversed or oversized ranges.
	ErrInvalidWindow = errors.New("invalid time window")

	// ErrInvalidGrouping is returned for an unknown timeseries grouping.
	ErrInvalidGrouping = errors.New("invalid grouping")
)

// TimeseriesQuery selects a timeseries report. Zero From and To default
// to the week ending now, an empty GroupBy to days and a nil Location to
// UTC. An empty Channel covers all channels.
type TimeseriesQuery struct {
	From     time.Time
	To       time.Time
	GroupBy  domain.TimeseriesGrouping
	Channel  domain.Channel
	Location *time.Location
}

// Service reads transactions from the repository and aggregates them.
type Service struct {
	repo domain.Repository
	now  func() time.Time
}

// NewService creates a stats service.
func NewService(repo domain.Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Window resolves a [from, to) range, defaulting to the last 30 days.
func (s *Service) Window(from, to time.Time) (time.Time, time.Time, error) {
	if to.IsZero() {
		to = s.now().UTC()
	}
	if from.IsZero() {
		from = to.Add(-DefaultWindow)
	}
	if !from.Before(to) {
		return from, to, fmt.Errorf("%w: from must be before to", ErrInvalidWindow)
	}
	if to.Sub(from) > MaxWindow {
		return from, to, fmt.Errorf("%w: difference between from and to is bigger than 90 days", ErrInvalidWindow)
	}
	return from, to, nil
}

// Overview reports volume, GMV, approval rates and the ten riskiest
// merchants in the window.
func (s *Service) Overview(ctx context.Context, from, to time.Time) (*domain.StatsOverview, error) {
	from, to, err := s.Window(from, to)
	if err != nil {
		return nil, err
	}
	txs, err := s.repo.ListTransactions(ctx, domain.TransactionFilter{From: from, To: to})
	if err != nil {
		return nil, err
	}

	overview := &domain.StatsOverview{From: from, To: to, Volume: len(txs)}
	approved := 0
	for _, tx := range txs {
		overview.GMV += tx.Amount
		if tx.Status == domain.StatusApproved {
			approved++
		}
	}
	if len(txs) > 0 {
		overview.ApprovalRate = round2(float64(approved) / float64(len(txs)))
		overview.DeclineRate = round2(1 - overview.ApprovalRate)
	}
	overview.TopRiskMerchants = top(MerchantRisk(txs), 10)
	return overview, nil
}

// Merchants returns up to limit merchants ordered by decline rate.
func (s *Service) Merchants(ctx context.Context, from, to time.Time, limit int) ([]domain.MerchantRisk, error) {
	from, to, err := s.Window(from, to)
	if err != nil {
		return nil, err
	}
	txs, err := s.repo.ListTransactions(ctx, domain.TransactionFilter{From: from, To: to})
	if err != nil {
		return nil, err
	}
	return top(MerchantRisk(txs), limit), nil
}

// RuleMatches returns up to limit rules with their match counts.
func (s *Service) RuleMatches(ctx context.Context, from, to time.Time, limit int) ([]domain.RuleMatchStat, error) {
	from, to, err := s.Window(from, to)
	if err != nil {
		return nil, err
	}
	txs, err := s.repo.ListTransactions(ctx, domain.TransactionFilter{From: from, To: to})
	if err != nil {
		return nil, err
	}
	return top(RuleMatches(txs), limit), nil
}

// UserRiskProfile summarizes the user's last 24 hours, plus the decline
// rate over 30 days and the last time the user transacted.
func (s *Service) UserRiskProfile(ctx context.Context, userID string) (*domain.UserRiskProfile, error) {
	now := s.now().UTC()

	month, err := s.repo.ListTransactions(ctx, domain.TransactionFilter{
		UserID: userID,
		From:   now.Add(-30 * 24 * time.Hour),
		To:     now,
	})
	if err != nil {
		return nil, err
	}
	latest, err := s.repo.ListTransactions(ctx, domain.TransactionFilter{UserID: userID, Limit: 1})
	if err != nil {
		return nil, err
	}

	profile := &domain.UserRiskProfile{UserID: userID}
	if len(latest) > 0 {
		seen := latest[0].Timestamp
		profile.LastSeenAt = &seen
	}

	devices := map[string]struct{}{}
	ips := map[string]struct{}{}
	cities := map[string]struct{}{}
	declined := 0
	dayAgo := now.Add(-24 * time.Hour)

	for _, tx := range month {
		if tx.Status == domain.StatusDeclined {
			declined++
		}
		if tx.Timestamp.Before(dayAgo) {
			continue
		}
		profile.TxCount24h++
		profile.GMV24h += tx.Amount
		if tx.DeviceID != nil {
			devices[*tx.DeviceID] = struct{}{}
		}
		if tx.IPAddress != nil {
			ips[*tx.IPAddress] = struct{}{}
		}
		if tx.Location != nil && tx.Location.City != nil {
			cities[*tx.Location.City] = struct{}{}
		}
	}

	profile.DistinctDevices24h = len(devices)
	profile.DistinctIPs24h = len(ips)
	profile.DistinctCities24h = len(cities)
	if len(month) > 0 {
		profile.DeclineRate30d = round2(float64(declined) / float64(len(month)))
	}
	return profile, nil
}

// Timeseries reports volume, GMV and approvals per bucket. Each grouping
// caps the range: 7 days by hour, 90 by day and 365 by week.
func (s *Service) Timeseries(ctx context.Context, q TimeseriesQuery) (*domain.Timeseries, error) {
	if q.GroupBy == "" {
		q.GroupBy = domain.GroupByDay
	}
	g, ok := groupings[q.GroupBy]
	if !ok {
		return nil, fmt.Errorf("%w: groupBy must be hour, day or week, got %q", ErrInvalidGrouping, q.GroupBy)
	}

	from, to := q.From, q.To
	if to.IsZero() {
		to = s.now().UTC()
	}
	if from.IsZero() {
		from = to.Add(-DefaultTimeseriesWindow)
	}
	if !from.Before(to) {
		return nil, fmt.Errorf("%w: from must be before to", ErrInvalidWindow)
	}
	if to.Sub(from) > g.maxWindow {
		return nil, fmt.Errorf("%w: difference between from and to is bigger than %d days",
			ErrInvalidWindow, int(g.maxWindow/day))
	}

	txs, err := s.repo.ListTransactions(ctx, domain.TransactionFilter{Channel: q.Channel, From: from, To: to})
	if err != nil {
		return nil, err
	}

	loc := q.Location
	if loc == nil {
		loc = time.UTC
	}
	series := &domain.Timeseries{
		From:    from.In(loc),
		To:      to.In(loc),
		GroupBy: q.GroupBy,
		Points:  Buckets(txs, from, to, g.width),
	}
	if q.Channel != "" {
		ch := q.Channel
		series.Channel = &ch
	}
	for i := range series.Points {
		series.Points[i].BucketStart = series.Points[i].BucketStart.In(loc)
	}
	return series, nil
}

// Buckets splits [from, to) into buckets of width starting at from and
// aggregates txs into them. The last bucket may be cut short by to.
// Transactions outside the range are ignored.
func Buckets(txs []*domain.Transaction, from, to time.Time, width time.Duration) []domain.TimeseriesPoint {
	if width <= 0 || !from.Before(to) {
		return []domain.TimeseriesPoint{}
	}

	n := int((to.Sub(from) + width - 1) / width)
	points := make([]domain.TimeseriesPoint, n)
	for i := range points {
		points[i].BucketStart = from.Add(time.Duration(i) * width)
	}

	for _, tx := range txs {
		if tx.Timestamp.Before(from) || !tx.Timestamp.Before(to) {
			continue
		}
		p := &points[int(tx.Timestamp.Sub(from)/width)]
		p.TxCount++
		p.GMV += tx.Amount
		if tx.Status == domain.StatusApproved {
			p.Approved++
		}
	}

	for i := range points {
		if points[i].TxCount > 0 {
			points[i].ApprovalRate = round2(float64(points[i].Approved) / float64(points[i].TxCount))
		}
	}
	return points
}

// MerchantRisk groups transactions by merchant, sorted by decline rate
// descending. Transactions without a merchant are skipped.
func MerchantRisk(txs []*domain.Transaction) []domain.MerchantRisk {
	var rows []domain.MerchantRisk
	index := map[string]int{}
	declined := map[string]int{}

	for _, tx := range txs {
		if tx.MerchantID == nil {
			continue
		}
		id := *tx.MerchantID
		i, ok := index[id]
		if !ok {
			i = len(rows)
			index[id] = i
			rows = append(rows, domain.MerchantRisk{MerchantID: id, MerchantCategoryCode: tx.MerchantCategoryCode})
		}
		rows[i].TxCount++
		rows[i].GMV += tx.Amount
		if tx.Status == domain.StatusDeclined {
			declined[id]++
		}
	}

	for i := range rows {
		rows[i].DeclineRate = round2(float64(declined[rows[i].MerchantID]) / float64(rows[i].TxCount))
	}
	slices.SortStableFunc(rows, func(a, b domain.MerchantRisk) int {
		return cmp.Compare(b.DeclineRate, a.DeclineRate)
	})
	return rows
}

// RuleMatches counts, per rule, the transactions it matched and the
// distinct users and merchants involved. ShareOfDeclines is the fraction
// of all declined transactions the rule matched.
func RuleMatches(txs []*domain.Transaction) []domain.RuleMatchStat {
	type acc struct {
		stat      domain.RuleMatchStat
		users     map[string]struct{}
		merchants map[string]struct{}
		declines  int
	}

	var order []string
	byRule := map[string]*acc{}
	totalDeclines := 0

	for _, tx := range txs {
		isDeclined := tx.Status == domain.StatusDeclined
		if isDeclined {
			totalDeclines++
		}
		for _, r := range tx.RuleResults {
			a, ok := byRule[r.RuleID]
			if !ok {
				a = &acc{
					stat:      domain.RuleMatchStat{RuleID: r.RuleID, RuleName: r.RuleName},
					users:     map[string]struct{}{},
					merchants: map[string]struct{}{},
				}
				byRule[r.RuleID] = a
				order = append(order, r.RuleID)
			}
			if !r.Matched {
				continue
			}
			a.stat.Matches++
			a.users[tx.UserID] = struct{}{}
			if tx.MerchantID != nil {
				a.merchants[*tx.MerchantID] = struct{}{}
			}
			if isDeclined {
				a.declines++
			}
		}
	}

	out := make([]domain.RuleMatchStat, 0, len(order))
	for _, id := range order {
		a := byRule[id]
		a.stat.UniqueUsers = len(a.users)
		a.stat.UniqueMerchants = len(a.merchants)
		if totalDeclines > 0 {
			a.stat.ShareOfDeclines = round2(float64(a.declines) / float64(totalDeclines))
		}
		out = append(out, a.stat)
	}
	return out
}

func top[T any](rows []T, n int) []T {
	if n > 0 && len(rows) > n {
		return rows[:n]
	}
	if rows == nil {
		return []T{}
	}
	return rows
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
