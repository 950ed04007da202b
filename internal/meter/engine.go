// Package meter implements the fare meter: a deterministic state machine that
// accrues distance while the vehicle moves, accrues time on every one-second
// tick, and recomputes the trip total under the active pricing and multiplier.
package meter

import (
	"github.com/shopspring/decimal"
)

var sixty = decimal.NewFromInt(60)

// State is the running meter of a single trip. It is a value: every engine
// operation returns a new State and never mutates its input.
type State struct {
	AccumulatedDistanceKm float64         `json:"accumulated_distance_km"`
	ElapsedSeconds        int64           `json:"elapsed_seconds"`
	BasicFare             decimal.Decimal `json:"basic_fare"`
	DistanceCost          decimal.Decimal `json:"distance_cost"`
	TimeCost              decimal.Decimal `json:"time_cost"`
	TotalCost             decimal.Decimal `json:"total_cost"`
	DecimalDigits         int32           `json:"decimal_digits"`

	// LastKnown is the baseline for the next delta; nil before the first sample.
	LastKnown       *Sample `json:"last_known,omitempty"`
	IsMoving        bool    `json:"is_moving"`
	CurrentSpeedKmh float64 `json:"current_speed_kmh"`

	speeds     [SpeedWindowSize]float64
	speedCount int
}

// SpeedSamples returns the instantaneous speeds in the window, oldest first.
func (s State) SpeedSamples() []float64 {
	out := make([]float64, s.speedCount)
	copy(out, s.speeds[:s.speedCount])
	return out
}

// AverageSpeedKmh returns the mean of the speed window, or 0 when it is empty.
func (s State) AverageSpeedKmh() float64 {
	if s.speedCount == 0 {
		return 0
	}
	var sum float64
	for _, v := range s.speeds[:s.speedCount] {
		sum += v
	}
	return sum / float64(s.speedCount)
}

func (s State) pushSpeed(v float64) State {
	if s.speedCount < SpeedWindowSize {
		s.speeds[s.speedCount] = v
		s.speedCount++
		return s
	}
	copy(s.speeds[:], s.speeds[1:])
	s.speeds[SpeedWindowSize-1] = v
	return s
}

// Reading is the frozen result of a trip, produced by Stop.
type Reading struct {
	DistanceKm     float64         `json:"distance_km"`
	ElapsedSeconds int64           `json:"elapsed_seconds"`
	BasicFare      decimal.Decimal `json:"basic_fare"`
	DistanceCost   decimal.Decimal `json:"distance_cost"`
	TimeCost       decimal.Decimal `json:"time_cost"`
	TotalCost      decimal.Decimal `json:"total_cost"`
}

// Reset returns the initial state for a trip priced with p.
func Reset(p Pricing) State {
	return State{
		BasicFare:     p.BasicFare,
		DistanceCost:  decimal.Zero,
		TimeCost:      decimal.Zero,
		TotalCost:     p.BasicFare,
		DecimalDigits: p.DecimalDigits,
	}
}

// Restore rebuilds a state from a saved reading so a meter can continue
// after a restart. There is no baseline and the speed window is empty.
func Restore(r Reading, digits int32) State {
	return State{
		AccumulatedDistanceKm: r.DistanceKm,
		ElapsedSeconds:        r.ElapsedSeconds,
		BasicFare:             r.BasicFare,
		DistanceCost:          r.DistanceCost,
		TimeCost:              r.TimeCost,
		TotalCost:             r.TotalCost,
		DecimalDigits:         digits,
	}
}

// OnPositionSample folds a device sample into the state. The first sample
// only establishes the baseline, and a sample that is not later than the
// baseline leaves the state untouched.
func OnPositionSample(s State, sample Sample, _ Pricing) State {
	if s.LastKnown == nil {
		s.LastKnown = &sample
		return s
	}

	distance := DistanceKm(s.LastKnown.Position, sample.Position)
	speed, ok := SpeedKmh(distance, sample.Timestamp.Sub(s.LastKnown.Timestamp))
	if !ok {
		return s
	}

	s = s.pushSpeed(speed)
	s.CurrentSpeedKmh = speed
	s.IsMoving = s.AverageSpeedKmh() > MovingThresholdKmh
	if s.IsMoving {
		s.AccumulatedDistanceKm += distance
	}
	s.LastKnown = &sample
	return s
}

// OnTick advances the meter by one second and recomputes the total under the
// given pricing and multiplier.
func OnTick(s State, p Pricing, multiplier decimal.Decimal) State {
	s.ElapsedSeconds++
	s.TimeCost = s.TimeCost.Add(p.CostPerMinute.Div(sixty))

	units := decimal.NewFromFloat(p.DistanceUnit.FromKm(s.AccumulatedDistanceKm))
	s.DistanceCost = units.Mul(p.CostPerDistanceUnit)
	s.BasicFare = p.BasicFare
	s.DecimalDigits = p.DecimalDigits

	s.TotalCost = Total(p, s.BasicFare.Add(s.DistanceCost).Add(s.TimeCost), multiplier)
	return s
}

// Total applies the minimum fare floor to subtotal, scales it by multiplier
// and rounds to the pricing's precision.
func Total(p Pricing, subtotal, multiplier decimal.Decimal) decimal.Decimal {
	floored := decimal.Max(subtotal, p.MinimumFare)
	return Round(floored.Mul(multiplier), p.DecimalDigits)
}

// ClearBaseline drops the last known sample and the speed window so the next
// sample starts a fresh delta. Accumulated values are kept.
func ClearBaseline(s State) State {
	s.LastKnown = nil
	s.IsMoving = false
	s.CurrentSpeedKmh = 0
	s.speeds = [SpeedWindowSize]float64{}
	s.speedCount = 0
	return s
}

// Checkpoint returns the accumulators of s without rounding, so a meter
// restored from it continues exactly where s left off.
func Checkpoint(s State) Reading {
	return Reading{
		DistanceKm:     s.AccumulatedDistanceKm,
		ElapsedSeconds: s.ElapsedSeconds,
		BasicFare:      s.BasicFare,
		DistanceCost:   s.DistanceCost,
		TimeCost:       s.TimeCost,
		TotalCost:      s.TotalCost,
	}
}

// Stop freezes the state into a Reading with the breakdown rounded to the
// precision of the last tick.
func Stop(s State) Reading {
	return Reading{
		DistanceKm:     s.AccumulatedDistanceKm,
		ElapsedSeconds: s.ElapsedSeconds,
		BasicFare:      Round(s.BasicFare, s.DecimalDigits),
		DistanceCost:   Round(s.DistanceCost, s.DecimalDigits),
		TimeCost:       Round(s.TimeCost, s.DecimalDigits),
		TotalCost:      s.TotalCost,
	}
}
