package redis

import (
	"context"

	"github.com/redis/go-redis/v9"

	"taximeter/internal/domain"
)

const (
	idleTaxisKey   = "taxis:idle"
	onTripTaxisKey = "taxis:on_trip"
)

// DriverLocation represents a taxi's position.
type DriverLocation struct {
	DriverID string
	Lat      float64
	Lng      float64
}

// LocationStore keeps live taxi positions in two geo sets, one for idle taxis
// and one for taxis with a running meter. A taxi is a member of at most one.
type LocationStore struct {
	client *redis.Client
}

// NewLocationStore creates a new LocationStore.
func NewLocationStore(client *redis.Client) *LocationStore {
	return &LocationStore{client: client}
}

// SetIdle records the taxi as available at the given position.
func (s *LocationStore) SetIdle(ctx context.Context, driverID string, lat, lng float64) error {
	return s.move(ctx, driverID, lat, lng, idleTaxisKey, onTripTaxisKey)
}

// SetOnTrip records the taxi as metering a trip at the given position.
func (s *LocationStore) SetOnTrip(ctx context.Context, driverID string, lat, lng float64) error {
	return s.move(ctx, driverID, lat, lng, onTripTaxisKey, idleTaxisKey)
}

func (s *LocationStore) move(ctx context.Context, driverID string, lat, lng float64, to, from string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.GeoAdd(ctx, to, &redis.GeoLocation{
			Name:      driverID,
			Longitude: lng,
			Latitude:  lat,
		})
		pipe.ZRem(ctx, from, driverID)
		return nil
	})
	return err
}

// FindNearby returns taxis with the given status within radiusKm, nearest first.
func (s *LocationStore) FindNearby(ctx context.Context, status domain.DriverStatus, lat, lng, radiusKm float64) ([]DriverLocation, error) {
	key := idleTaxisKey
	if status == domain.DriverStatusOnTrip {
		key = onTripTaxisKey
	}

	results, err := s.client.GeoRadius(ctx, key, lng, lat, &redis.GeoRadiusQuery{
		Radius:    radiusKm,
		Unit:      "km",
		WithCoord: true,
		Sort:      "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}

	locations := make([]DriverLocation, 0, len(results))
	for _, r := range results {
		locations = append(locations, DriverLocation{
			DriverID: r.Name,
			Lat:      r.Latitude,
			Lng:      r.Longitude,
		})
	}

	return locations, nil
}

// CountNearby returns how many idle and on-trip taxis are within radiusKm.
func (s *LocationStore) CountNearby(ctx context.Context, lat, lng, radiusKm float64) (idle, onTrip int, err error) {
	idleTaxis, err := s.FindNearby(ctx, domain.DriverStatusIdle, lat, lng, radiusKm)
	if err != nil {
		return 0, 0, err
	}
	busyTaxis, err := s.FindNearby(ctx, domain.DriverStatusOnTrip, lat, lng, radiusKm)
	if err != nil {
		return 0, 0, err
	}
	return len(idleTaxis), len(busyTaxis), nil
}

// Remove takes the taxi out of both geo sets.
func (s *LocationStore) Remove(ctx context.Context, driverID string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, idleTaxisKey, driverID)
		pipe.ZRem(ctx, onTripTaxisKey, driverID)
		return nil
	})
	return err
}
