package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MeterSnapshot is the live reading of an active trip as shown to the
// driver and passenger.
type MeterSnapshot struct {
	TripID         string          `json:"trip_id"`
	Status         TripStatus      `json:"status"`
	ElapsedSeconds int64           `json:"elapsed_seconds"`
	DistanceKm     float64         `json:"distance_km"`
	Distance       float64         `json:"distance"`
	DistanceUnit   string          `json:"distance_unit"`
	IsMoving       bool            `json:"is_moving"`
	SpeedKmh       float64         `json:"speed_kmh"`
	BasicFare      decimal.Decimal `json:"basic_fare"`
	DistanceCost   decimal.Decimal `json:"distance_cost"`
	TimeCost       decimal.Decimal `json:"time_cost"`
	TotalCost      decimal.Decimal `json:"total_cost"`
	Multiplier     decimal.Decimal `json:"multiplier"`
	// NextMultiplier is the multiplier the next tick applies. It differs from
	// Multiplier only between a change and the following tick.
	NextMultiplier decimal.Decimal `json:"next_multiplier"`
	CurrencySymbol string          `json:"currency_symbol"`
	DecimalDigits  int32           `json:"decimal_digits"`
	UpdatedAt      time.Time       `json:"updated_at"`
}
