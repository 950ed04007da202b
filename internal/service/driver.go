package service

import (
	"context"

	"taximeter/internal/domain"
	"taximeter/internal/meter"
	"taximeter/internal/redis"
)

// DriverService tracks taxi presence for surge suggestions.
type DriverService struct {
	locationStore redis.LocationStoreInterface
	lockStore     redis.LockStoreInterface
}

// NewDriverService creates a new DriverService.
func NewDriverService(locationStore redis.LocationStoreInterface, lockStore redis.LockStoreInterface) *DriverService {
	return &DriverService{
		locationStore: locationStore,
		lockStore:     lockStore,
	}
}

// UpdateLocationRequest contains the parameters for updating a taxi location.
type UpdateLocationRequest struct {
	DriverID string
	Lat      float64
	Lng      float64
}

// UpdateLocation records the taxi's position. A taxi holding a trip stays in
// the on-trip set; any other taxi becomes idle.
func (s *DriverService) UpdateLocation(ctx context.Context, req UpdateLocationRequest) (domain.DriverStatus, error) {
	if req.DriverID == "" {
		return "", ErrInvalidDriverID
	}
	if !meter.ValidPosition(meter.Position{Lat: req.Lat, Lng: req.Lng}) {
		return "", ErrInvalidLocation
	}

	tripID, err := s.lockStore.DriverLockHolder(ctx, req.DriverID)
	if err != nil {
		return "", err
	}

	if tripID != "" {
		return domain.DriverStatusOnTrip, s.locationStore.SetOnTrip(ctx, req.DriverID, req.Lat, req.Lng)
	}
	return domain.DriverStatusIdle, s.locationStore.SetIdle(ctx, req.DriverID, req.Lat, req.Lng)
}

// SetDriverOffline removes the taxi from the location index.
func (s *DriverService) SetDriverOffline(ctx context.Context, driverID string) error {
	if driverID == "" {
		return ErrInvalidDriverID
	}

	tripID, err := s.lockStore.DriverLockHolder(ctx, driverID)
	if err != nil {
		return err
	}
	if tripID != "" {
		return ErrDriverHasActiveTrip
	}

	return s.locationStore.Remove(ctx, driverID)
}
