package domain

import (
	"net/netip"
	"regexp"
	"time"
)

// TransactionStatus is the decision recorded on a transaction.
type TransactionStatus string

const (
	StatusApproved TransactionStatus = "APPROVED"
	StatusDeclined TransactionStatus = "DECLINED"
)

// Channel is where the transaction originated.
type Channel string

const (
	ChannelWeb    Channel = "WEB"
	ChannelMobile Channel = "MOBILE"
	ChannelPOS    Channel = "POS"
	ChannelOther  Channel = "OTHER"
)

// Valid reports whether c is one of the known channels.
func (c Channel) Valid() bool {
	switch c {
	case ChannelWeb, ChannelMobile, ChannelPOS, ChannelOther:
		return true
	}
	return false
}

// Location is the optional geolocation of a transaction.
type Location struct {
	Country   *string  `json:"country,omitempty"`
	City      *string  `json:"city,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// Transaction represents an incoming transaction to be evaluated.
type Transaction struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`

	// Financial details
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`

	// Temporal
	Timestamp time.Time `json:"timestamp"`
	CreatedAt time.Time `json:"createdAt"`

	// Optional attributes, several of which rules can reference
	MerchantID           *string                `json:"merchantId,omitempty"`
	MerchantCategoryCode *string                `json:"merchantCategoryCode,omitempty"`
	IPAddress            *string                `json:"ipAddress,omitempty"`
	DeviceID             *string                `json:"deviceId,omitempty"`
	Channel              *Channel               `json:"channel,omitempty"`
	Location             *Location              `json:"location,omitempty"`
	Metadata             map[string]interface{} `json:"metadata,omitempty"`

	// Decision
	IsFraud     bool              `json:"isFraud"`
	Status      TransactionStatus `json:"status"`
	RuleResults []RuleResult      `json:"-"`
}

// TransactionRequest is the API request payload for transaction evaluation.
type TransactionRequest struct {
	UserID               string                 `json:"userId"`
	Amount               float64                `json:"amount"`
	Currency             string                 `json:"currency"`
	Timestamp            time.Time              `json:"timestamp"`
	MerchantID           *string                `json:"merchantId,omitempty"`
	MerchantCategoryCode *string                `json:"merchantCategoryCode,omitempty"`
	IPAddress            *string                `json:"ipAddress,omitempty"`
	DeviceID             *string                `json:"deviceId,omitempty"`
	Channel              *Channel               `json:"channel,omitempty"`
	Location             *Location              `json:"location,omitempty"`
	Metadata             map[string]interface{} `json:"metadata,omitempty"`
}

var (
	currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)
	mccPattern      = regexp.MustCompile(`^\d{4}$`)
	countryPattern  = regexp.MustCompile(`^[A-Z]{2}$`)
)

// Amount bounds accepted for a single transaction.
const (
	MinAmount = 0.01
	MaxAmount = 999999999.99
)

// Validate checks field constraints.
func (r *TransactionRequest) Validate() error {
	var errs ValidationErrors
	if r.UserID == "" {
		errs.Add("userId", "is required")
	}
	if r.Amount < MinAmount || r.Amount > MaxAmount {
		errs.Add("amount", "must be between 0.01 and 999999999.99")
	}
	if !currencyPattern.MatchString(r.Currency) {
		errs.Add("currency", "must be a three-letter ISO 4217 code")
	}
	if r.Timestamp.IsZero() {
		errs.Add("timestamp", "is required")
	}
	if r.MerchantID != nil && len(*r.MerchantID) > 64 {
		errs.Add("merchantId", "must be at most 64 characters")
	}
	if r.MerchantCategoryCode != nil && !mccPattern.MatchString(*r.MerchantCategoryCode) {
		errs.Add("merchantCategoryCode", "must be four digits")
	}
	if r.IPAddress != nil {
		if addr, err := netip.ParseAddr(*r.IPAddress); err != nil || !addr.Is4() {
			errs.Add("ipAddress", "must be an IPv4 address")
		}
	}
	if r.DeviceID != nil && len(*r.DeviceID) > 128 {
		errs.Add("deviceId", "must be at most 128 characters")
	}
	if r.Channel != nil && !r.Channel.Valid() {
		errs.Add("channel", "must be one of WEB, MOBILE, POS, OTHER")
	}
	if loc := r.Location; loc != nil {
		if loc.Country != nil && !countryPattern.MatchString(*loc.Country) {
			errs.Add("location.country", "must be an ISO 3166 alpha-2 code")
		}
		if loc.City != nil && len(*loc.City) > 128 {
			errs.Add("location.city", "must be at most 128 characters")
		}
		if (loc.Latitude == nil) != (loc.Longitude == nil) {
			errs.Add("location", "latitude and longitude must be set together")
		}
		if loc.Latitude != nil && (*loc.Latitude < -90 || *loc.Latitude > 90) {
			errs.Add("location.latitude", "must be between -90 and 90")
		}
		if loc.Longitude != nil && (*loc.Longitude < -180 || *loc.Longitude > 180) {
			errs.Add("location.longitude", "must be between -180 and 180")
		}
	}
	return errs.Err()
}

// ToTransaction converts a request to a Transaction domain object.
// The decision fields are filled in by the decision processor.
func (r *TransactionRequest) ToTransaction() *Transaction {
	return &Transaction{
		UserID:               r.UserID,
		Amount:               r.Amount,
		Currency:             r.Currency,
		Timestamp:            r.Timestamp.UTC(),
		CreatedAt:            time.Now().UTC(),
		MerchantID:           r.MerchantID,
		MerchantCategoryCode: r.MerchantCategoryCode,
		IPAddress:            r.IPAddress,
		DeviceID:             r.DeviceID,
		Channel:              r.Channel,
		Location:             r.Location,
		Metadata:             r.Metadata,
		Status:               StatusApproved,
	}
}
