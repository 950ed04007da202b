package meter

import (
	"math"
	"time"
)

const (
	// EarthRadiusKm is the mean Earth radius used for great-circle distances.
	EarthRadiusKm = 6371.0

	// KmToMiles converts kilometres to statute miles.
	KmToMiles = 0.621371

	// MovingThresholdKmh is the average speed above which the vehicle is moving.
	MovingThresholdKmh = 2.0

	// SpeedWindowSize is the number of instantaneous speeds averaged for classification.
	SpeedWindowSize = 3

	// MinSignificantMovementKm is the smallest displacement (10 m) the host treats
	// as a real change of the vehicle's live position.
	MinSignificantMovementKm = 0.010
)

// Position is a WGS84 coordinate in decimal degrees.
type Position struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Sample is a position reported by the device at a point in time.
type Sample struct {
	Position
	Timestamp time.Time `json:"timestamp"`
}

// DistanceKm returns the haversine distance between two positions in kilometres.
func DistanceKm(a, b Position) float64 {
	dLat := degreesToRadians(b.Lat - a.Lat)
	dLng := degreesToRadians(b.Lng - a.Lng)

	rLat1 := degreesToRadians(a.Lat)
	rLat2 := degreesToRadians(b.Lat)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return EarthRadiusKm * c
}

// SpeedKmh returns the speed needed to cover distanceKm in elapsed.
// ok is false when elapsed is zero or negative and no speed can be derived.
func SpeedKmh(distanceKm float64, elapsed time.Duration) (speed float64, ok bool) {
	if elapsed <= 0 {
		return 0, false
	}
	return distanceKm / elapsed.Hours(), true
}

// ValidPosition reports whether p lies within latitude/longitude bounds.
func ValidPosition(p Position) bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}
