package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"taximeter/internal/domain"
)

// Cache TTL constants
const (
	ReceiptCacheTTL = 24 * time.Hour // Receipts never change once issued
)

// Key prefixes
const (
	meterCachePrefix   = "meter:"
	receiptCachePrefix = "cache:receipt:"
)

// CacheStore keeps live meter snapshots and issued receipts in Redis.
type CacheStore struct {
	client *redis.Client
}

// NewCacheStore creates a new CacheStore.
func NewCacheStore(client *redis.Client) *CacheStore {
	return &CacheStore{client: client}
}

// SetMeter stores the latest snapshot of a running meter.
func (s *CacheStore) SetMeter(ctx context.Context, snapshot *domain.MeterSnapshot, ttl time.Duration) error {
	return s.setJSON(ctx, meterCachePrefix+snapshot.TripID, snapshot, ttl)
}

// GetMeter retrieves a meter snapshot. Returns nil on a cache miss.
func (s *CacheStore) GetMeter(ctx context.Context, tripID string) (*domain.MeterSnapshot, error) {
	var snapshot domain.MeterSnapshot
	found, err := s.getJSON(ctx, meterCachePrefix+tripID, &snapshot)
	if err != nil || !found {
		return nil, err
	}
	return &snapshot, nil
}

// DeleteMeter removes the snapshot of a trip whose meter stopped.
func (s *CacheStore) DeleteMeter(ctx context.Context, tripID string) error {
	return s.client.Del(ctx, meterCachePrefix+tripID).Err()
}

// SetReceipt caches an issued receipt.
func (s *CacheStore) SetReceipt(ctx context.Context, receipt *domain.Receipt) error {
	return s.setJSON(ctx, receiptCachePrefix+receipt.TripID, receipt, ReceiptCacheTTL)
}

// GetReceipt retrieves a cached receipt. Returns nil on a cache miss.
func (s *CacheStore) GetReceipt(ctx context.Context, tripID string) (*domain.Receipt, error) {
	var receipt domain.Receipt
	found, err := s.getJSON(ctx, receiptCachePrefix+tripID, &receipt)
	if err != nil || !found {
		return nil, err
	}
	return &receipt, nil
}

func (s *CacheStore) setJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, data, ttl).Err()
}

func (s *CacheStore) getJSON(ctx context.Context, key string, dst any) (bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil // Cache miss
		}
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, err
	}
	return true, nil
}
