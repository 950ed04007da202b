package meter

import "github.com/shopspring/decimal"

// DistanceUnit is the unit in which a per-distance rate is expressed.
type DistanceUnit string

const (
	UnitKilometer DistanceUnit = "km"
	UnitMile      DistanceUnit = "mi"
)

// Valid reports whether u is a supported unit.
func (u DistanceUnit) Valid() bool {
	return u == UnitKilometer || u == UnitMile
}

// FromKm converts a distance in kilometres into u.
func (u DistanceUnit) FromKm(km float64) float64 {
	if u == UnitMile {
		return km * KmToMiles
	}
	return km
}

// Pricing is the rate card the meter applies on every tick.
type Pricing struct {
	BasicFare           decimal.Decimal
	MinimumFare         decimal.Decimal
	CostPerDistanceUnit decimal.Decimal
	CostPerMinute       decimal.Decimal
	DecimalDigits       int32
	CurrencySymbol      string
	DistanceUnit        DistanceUnit
}

// PricingFunc returns the pricing in force at the moment it is called.
type PricingFunc func() Pricing

var (
	// MinMultiplier and MaxMultiplier bound the dynamic multiplier.
	MinMultiplier = decimal.NewFromInt(1)
	MaxMultiplier = decimal.NewFromInt(4)
)

// ValidMultiplier reports whether m is within [MinMultiplier, MaxMultiplier].
func ValidMultiplier(m decimal.Decimal) bool {
	return m.GreaterThanOrEqual(MinMultiplier) && m.LessThanOrEqual(MaxMultiplier)
}

// Round rounds amount half-up to digits decimal places.
func Round(amount decimal.Decimal, digits int32) decimal.Decimal {
	return amount.Round(digits)
}
