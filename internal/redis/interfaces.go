package redis

import (
	"context"
	"time"

	"taximeter/internal/domain"
)

// LocationStoreInterface defines the interface for taxi position operations.
type LocationStoreInterface interface {
	SetIdle(ctx context.Context, driverID string, lat, lng float64) error
	SetOnTrip(ctx context.Context, driverID string, lat, lng float64) error
	FindNearby(ctx context.Context, status domain.DriverStatus, lat, lng, radiusKm float64) ([]DriverLocation, error)
	CountNearby(ctx context.Context, lat, lng, radiusKm float64) (idle, onTrip int, err error)
	Remove(ctx context.Context, driverID string) error
}

// LockStoreInterface defines the interface for distributed locking.
type LockStoreInterface interface {
	AcquireDriverLock(ctx context.Context, driverID, tripID string, ttl time.Duration) (bool, error)
	ReleaseDriverLock(ctx context.Context, driverID, tripID string) error
	DriverLockHolder(ctx context.Context, driverID string) (string, error)
}

// CacheStoreInterface defines the interface for meter and receipt caching.
type CacheStoreInterface interface {
	SetMeter(ctx context.Context, snapshot *domain.MeterSnapshot, ttl time.Duration) error
	GetMeter(ctx context.Context, tripID string) (*domain.MeterSnapshot, error)
	DeleteMeter(ctx context.Context, tripID string) error
	SetReceipt(ctx context.Context, receipt *domain.Receipt) error
	GetReceipt(ctx context.Context, tripID string) (*domain.Receipt, error)
}

// Ensure concrete types implement interfaces.
var (
	_ LocationStoreInterface = (*LocationStore)(nil)
	_ LockStoreInterface     = (*LockStore)(nil)
	_ CacheStoreInterface    = (*CacheStore)(nil)
)
