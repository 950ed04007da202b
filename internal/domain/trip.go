package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TripStatus represents the current status of a trip.
type TripStatus string

const (
	TripStatusStarted TripStatus = "STARTED"
	TripStatusPaused  TripStatus = "PAUSED"
	TripStatusEnded   TripStatus = "ENDED"
)

// Trip is a metered journey of one taxi. While it is active the meter runs in
// memory; the final reading is written back when the trip ends.
type Trip struct {
	ID             string
	DriverID       string
	FareCategoryID string
	Status         TripStatus

	// Category is the rate card in force when the trip was last priced.
	Category   FareCategory
	Multiplier decimal.Decimal

	StartLat float64
	StartLng float64
	EndLat   float64
	EndLng   float64

	DistanceKm     float64
	ElapsedSeconds int64
	BasicFare      decimal.Decimal
	DistanceCost   decimal.Decimal
	TimeCost       decimal.Decimal
	TotalFare      decimal.Decimal

	StartedAt   time.Time
	EndedAt     time.Time
	PausedAt    time.Time     // When trip was paused
	TotalPaused time.Duration // Total time spent paused
}

// IsActive reports whether the trip still has a running meter.
func (t *Trip) IsActive() bool {
	return t.Status == TripStatusStarted || t.Status == TripStatusPaused
}

// Receipt is the customer-facing breakdown of a completed trip.
type Receipt struct {
	ID                    string
	TripID                string
	DriverID              string
	FareCategory          string
	CurrencySymbol        string
	DecimalDigits         int32
	DistanceUnit          string
	BasicFare             decimal.Decimal
	DistanceCost          decimal.Decimal
	TimeCost              decimal.Decimal
	Subtotal              decimal.Decimal
	MinimumFareAdjustment decimal.Decimal
	SurgeMultiplier       decimal.Decimal
	SurgeAmount           decimal.Decimal
	Rounding              decimal.Decimal
	TotalFare             decimal.Decimal
	Distance              float64 // In the category's distance unit
	Duration              time.Duration
	PausedDuration        time.Duration
	StartedAt             time.Time
	EndedAt               time.Time
	CreatedAt             time.Time
}
