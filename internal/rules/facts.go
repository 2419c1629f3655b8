package rules

import (
	"github.com/opensource-finance/fraudguard/internal/domain"
	"github.com/opensource-finance/fraudguard/internal/dsl"
)

// FactsFor builds the fact record for a transaction. user may be nil, in
// which case user.age and user.region are absent.
func FactsFor(tx *domain.Transaction, user *domain.User) *dsl.Facts {
	amount := tx.Amount
	currency := tx.Currency
	facts := &dsl.Facts{
		Amount:     &amount,
		Currency:   &currency,
		MerchantID: tx.MerchantID,
		IPAddress:  tx.IPAddress,
		DeviceID:   tx.DeviceID,
	}
	if user != nil {
		if user.Age != nil {
			age := float64(*user.Age)
			facts.UserAge = &age
		}
		facts.UserRegion = user.Region
	}
	return facts
}
