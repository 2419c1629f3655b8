package domain

import "time"

// TransactionDecision is the evaluation outcome returned to the client.
// RuleResults follow rule priority order.
type TransactionDecision struct {
	Transaction *Transaction `json:"transaction"`
	RuleResults []RuleResult `json:"ruleResults"`
}

// BatchRequest carries several transactions for evaluation in one call.
type BatchRequest struct {
	Items []TransactionRequest `json:"items"`
}

// BatchItem is the per-transaction outcome of a batch. Exactly one of
// Decision and Error is set.
type BatchItem struct {
	Index    int                  `json:"index"`
	Decision *TransactionDecision `json:"decision,omitempty"`
	Error    any                  `json:"error,omitempty"`
}

// BatchResponse preserves the order of the request items.
type BatchResponse struct {
	Items []BatchItem `json:"items"`
}

// MerchantRisk summarizes one merchant's transactions.
type MerchantRisk struct {
	MerchantID           string  `json:"merchantId"`
	MerchantCategoryCode *string `json:"merchantCategoryCode,omitempty"`
	TxCount              int     `json:"txCount"`
	GMV                  float64 `json:"gmv"`
	DeclineRate          float64 `json:"declineRate"`
}

// StatsOverview aggregates transactions over a time window.
type StatsOverview struct {
	From             time.Time      `json:"from"`
	To               time.Time      `json:"to"`
	Volume           int            `json:"volume"`
	GMV              float64        `json:"gmv"`
	ApprovalRate     float64        `json:"approvalRate"`
	DeclineRate      float64        `json:"declineRate"`
	TopRiskMerchants []MerchantRisk `json:"topRiskMerchants"`
}

// RuleMatchStat counts how often a rule matched over a time window.
type RuleMatchStat struct {
	RuleID          string  `json:"ruleId"`
	RuleName        string  `json:"ruleName"`
	Matches         int     `json:"matches"`
	UniqueUsers     int     `json:"uniqueUsers"`
	UniqueMerchants int     `json:"uniqueMerchants"`
	ShareOfDeclines float64 `json:"shareOfDeclines"`
}

// UserRiskProfile summarizes a user's recent activity.
type UserRiskProfile struct {
	UserID             string     `json:"userId"`
	TxCount24h         int        `json:"txCount24h"`
	GMV24h             float64    `json:"gmv24h"`
	DistinctDevices24h int        `json:"distinctDevices24h"`
	DistinctIPs24h     int        `json:"distinctIps24h"`
	DistinctCities24h  int        `json:"distinctCities24h"`
	DeclineRate30d     float64    `json:"declineRate30d"`
	LastSeenAt         *time.Time `json:"lastSeenAt,omitempty"`
}

// TimeseriesGrouping is the bucket width of a timeseries report.
type TimeseriesGrouping string

const (
	GroupByHour TimeseriesGrouping = "hour"
	GroupByDay  TimeseriesGrouping = "day"
	GroupByWeek TimeseriesGrouping = "week"
)

// TimeseriesPoint aggregates the transactions whose timestamp falls in
// [BucketStart, BucketStart + width).
type TimeseriesPoint struct {
	BucketStart  time.Time `json:"bucketStart"`
	TxCount      int       `json:"txCount"`
	GMV          float64   `json:"gmv"`
	Approved     int       `json:"approved"`
	ApprovalRate float64   `json:"approvalRate"`
}

// Timeseries is a transaction report split into equal buckets starting at
// From. Empty buckets are included.
type Timeseries struct {
	From    time.Time          `json:"from"`
	To      time.Time          `json:"to"`
	GroupBy TimeseriesGrouping `json:"groupBy"`
	Channel *Channel           `json:"channel,omitempty"`
	Points  []TimeseriesPoint  `json:"points"`
}
