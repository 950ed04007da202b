package domain

import (
	"time"

	"github.com/shopspring/decimal"

	"taximeter/internal/meter"
)

// FareCategory is an operator-defined rate card. A trip is priced under
// exactly one category.
type FareCategory struct {
	ID                  string             `json:"id"`
	Name                string             `json:"name"`
	BasicFare           decimal.Decimal    `json:"basic_fare"`
	MinimumFare         decimal.Decimal    `json:"minimum_fare"`
	CostPerDistanceUnit decimal.Decimal    `json:"cost_per_distance_unit"`
	CostPerMinute       decimal.Decimal    `json:"cost_per_minute"`
	DecimalDigits       int32              `json:"decimal_digits"`
	CurrencySymbol      string             `json:"currency_symbol"`
	DistanceUnit        meter.DistanceUnit `json:"distance_unit"`
	CreatedAt           time.Time          `json:"created_at"`
	UpdatedAt           time.Time          `json:"updated_at"`
}

// Pricing returns the meter rate card for the category.
func (c FareCategory) Pricing() meter.Pricing {
	return meter.Pricing{
		BasicFare:           c.BasicFare,
		MinimumFare:         c.MinimumFare,
		CostPerDistanceUnit: c.CostPerDistanceUnit,
		CostPerMinute:       c.CostPerMinute,
		DecimalDigits:       c.DecimalDigits,
		CurrencySymbol:      c.CurrencySymbol,
		DistanceUnit:        c.DistanceUnit,
	}
}
