package tests

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"taximeter/internal/domain"
	"taximeter/internal/redis"
	"taximeter/internal/repository"
)

// ──────────────────────────────────────────────
// MOCK TRIP REPOSITORY
// ──────────────────────────────────────────────

// MockTripRepository is a mock implementation of TripRepository.
// It stores copies so callers cannot mutate stored trips.
type MockTripRepository struct {
	mu    sync.RWMutex
	trips map[string]*domain.Trip

	// Counters
	CreateCallCount int32
	UpdateCallCount int32

	// Error injection
	CreateError error
	UpdateError error
}

// NewMockTripRepository creates a new mock trip repository.
func NewMockTripRepository() *MockTripRepository {
	return &MockTripRepository{
		trips: make(map[string]*domain.Trip),
	}
}

// AddTrip adds a trip to the mock repository.
func (m *MockTripRepository) AddTrip(trip *domain.Trip) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *trip
	m.trips[trip.ID] = &c
}

func (m *MockTripRepository) Create(ctx context.Context, trip *domain.Trip) error {
	atomic.AddInt32(&m.CreateCallCount, 1)
	if m.CreateError != nil {
		return m.CreateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *trip
	m.trips[trip.ID] = &c
	return nil
}

func (m *MockTripRepository) GetByID(ctx context.Context, id string) (*domain.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	trip, ok := m.trips[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *trip
	return &c, nil
}

func (m *MockTripRepository) GetAll(ctx context.Context) ([]*domain.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*domain.Trip, 0, len(m.trips))
	for _, t := range m.trips {
		c := *t
		result = append(result, &c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StartedAt.After(result[j].StartedAt) })
	return result, nil
}

func (m *MockTripRepository) GetActive(ctx context.Context) ([]*domain.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.Trip
	for _, t := range m.trips {
		if t.IsActive() {
			c := *t
			result = append(result, &c)
		}
	}
	return result, nil
}

func (m *MockTripRepository) GetActiveByDriverID(ctx context.Context, driverID string) (*domain.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.trips {
		if t.DriverID == driverID && t.IsActive() {
			c := *t
			return &c, nil
		}
	}
	return nil, nil // No active trip
}

func (m *MockTripRepository) Update(ctx context.Context, trip *domain.Trip) error {
	atomic.AddInt32(&m.UpdateCallCount, 1)
	if m.UpdateError != nil {
		return m.UpdateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.trips[trip.ID]; !ok {
		return repository.ErrNotFound
	}
	c := *trip
	m.trips[trip.ID] = &c
	return nil
}

// GetTrip returns a copy of the stored trip for assertions.
func (m *MockTripRepository) GetTrip(id string) *domain.Trip {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.trips[id]
	if !ok {
		return nil
	}
	c := *t
	return &c
}

// CountActiveTripsForDriver counts active trips for a driver.
func (m *MockTripRepository) CountActiveTripsForDriver(driverID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, t := range m.trips {
		if t.DriverID == driverID && t.IsActive() {
			count++
		}
	}
	return count
}

// ──────────────────────────────────────────────
// MOCK FARE CATEGORY REPOSITORY
// ──────────────────────────────────────────────

// MockFareCategoryRepository is a mock implementation of FareCategoryRepository.
type MockFareCategoryRepository struct {
	mu         sync.RWMutex
	categories map[string]*domain.FareCategory

	// Counters
	GetByIDCallCount int32

	// Error injection
	CreateError error
	GetAllError error
}

// NewMockFareCategoryRepository creates a new mock fare category repository.
func NewMockFareCategoryRepository() *MockFareCategoryRepository {
	return &MockFareCategoryRepository{
		categories: make(map[string]*domain.FareCategory),
	}
}

func (m *MockFareCategoryRepository) Create(ctx context.Context, category *domain.FareCategory) error {
	if m.CreateError != nil {
		return m.CreateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.categories {
		if c.Name == category.Name {
			return repository.ErrConflict
		}
	}
	c := *category
	m.categories[category.ID] = &c
	return nil
}

func (m *MockFareCategoryRepository) GetByID(ctx context.Context, id string) (*domain.FareCategory, error) {
	atomic.AddInt32(&m.GetByIDCallCount, 1)
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.categories[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MockFareCategoryRepository) GetAll(ctx context.Context) ([]*domain.FareCategory, error) {
	if m.GetAllError != nil {
		return nil, m.GetAllError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*domain.FareCategory, 0, len(m.categories))
	for _, c := range m.categories {
		cp := *c
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (m *MockFareCategoryRepository) Update(ctx context.Context, category *domain.FareCategory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.categories[category.ID]; !ok {
		return repository.ErrNotFound
	}
	c := *category
	m.categories[category.ID] = &c
	return nil
}

func (m *MockFareCategoryRepository) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.categories[id]; !ok {
		return repository.ErrNotFound
	}
	delete(m.categories, id)
	return nil
}

// CountCategories returns the number of stored categories.
func (m *MockFareCategoryRepository) CountCategories() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.categories)
}

// ──────────────────────────────────────────────
// MOCK LOCATION STORE
// ──────────────────────────────────────────────

// MockLocationStore is a mock implementation of LocationStore.
// It does no geo filtering: every taxi counts as nearby.
type MockLocationStore struct {
	mu     sync.RWMutex
	idle   map[string]redis.DriverLocation
	onTrip map[string]redis.DriverLocation

	// Counters
	SetOnTripCallCount int32

	// Error injection
	CountNearbyError error
	SetIdleError     error
}

// NewMockLocationStore creates a new mock location store.
func NewMockLocationStore() *MockLocationStore {
	return &MockLocationStore{
		idle:   make(map[string]redis.DriverLocation),
		onTrip: make(map[string]redis.DriverLocation),
	}
}

func (m *MockLocationStore) SetIdle(ctx context.Context, driverID string, lat, lng float64) error {
	if m.SetIdleError != nil {
		return m.SetIdleError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.onTrip, driverID)
	m.idle[driverID] = redis.DriverLocation{DriverID: driverID, Lat: lat, Lng: lng}
	return nil
}

func (m *MockLocationStore) SetOnTrip(ctx context.Context, driverID string, lat, lng float64) error {
	atomic.AddInt32(&m.SetOnTripCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.idle, driverID)
	m.onTrip[driverID] = redis.DriverLocation{DriverID: driverID, Lat: lat, Lng: lng}
	return nil
}

func (m *MockLocationStore) FindNearby(ctx context.Context, status domain.DriverStatus, lat, lng, radiusKm float64) ([]redis.DriverLocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := m.idle
	if status == domain.DriverStatusOnTrip {
		set = m.onTrip
	}
	result := make([]redis.DriverLocation, 0, len(set))
	for _, loc := range set {
		result = append(result, loc)
	}
	return result, nil
}

func (m *MockLocationStore) CountNearby(ctx context.Context, lat, lng, radiusKm float64) (int, int, error) {
	if m.CountNearbyError != nil {
		return 0, 0, m.CountNearbyError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.idle), len(m.onTrip), nil
}

func (m *MockLocationStore) Remove(ctx context.Context, driverID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.idle, driverID)
	delete(m.onTrip, driverID)
	return nil
}

// Status returns where the taxi is indexed, or OFFLINE.
func (m *MockLocationStore) Status(driverID string) domain.DriverStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.onTrip[driverID]; ok {
		return domain.DriverStatusOnTrip
	}
	if _, ok := m.idle[driverID]; ok {
		return domain.DriverStatusIdle
	}
	return domain.DriverStatusOffline
}

// Location returns the indexed position of a taxi.
func (m *MockLocationStore) Location(driverID string) (redis.DriverLocation, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if loc, ok := m.onTrip[driverID]; ok {
		return loc, true
	}
	loc, ok := m.idle[driverID]
	return loc, ok
}

// ──────────────────────────────────────────────
// MOCK LOCK STORE
// ──────────────────────────────────────────────

// MockLockStore is a mock implementation of LockStore.
type MockLockStore struct {
	mu    sync.Mutex
	locks map[string]string

	// Counters
	AcquireCallCount int32
	ReleaseCallCount int32

	// Error injection
	AcquireError error
}

// NewMockLockStore creates a new mock lock store.
func NewMockLockStore() *MockLockStore {
	return &MockLockStore{
		locks: make(map[string]string),
	}
}

func (m *MockLockStore) AcquireDriverLock(ctx context.Context, driverID, tripID string, ttl time.Duration) (bool, error) {
	atomic.AddInt32(&m.AcquireCallCount, 1)
	if m.AcquireError != nil {
		return false, m.AcquireError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, held := m.locks[driverID]; held {
		return false, nil // Lock still held.
	}
	m.locks[driverID] = tripID
	return true, nil
}

func (m *MockLockStore) ReleaseDriverLock(ctx context.Context, driverID, tripID string) error {
	atomic.AddInt32(&m.ReleaseCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks[driverID] == tripID {
		delete(m.locks, driverID)
	}
	return nil
}

func (m *MockLockStore) DriverLockHolder(ctx context.Context, driverID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.locks[driverID], nil
}

// IsLocked checks if a driver is locked (for test assertions).
func (m *MockLockStore) IsLocked(driverID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.locks[driverID]
	return ok
}

// ──────────────────────────────────────────────
// MOCK CACHE STORE
// ──────────────────────────────────────────────

// MockCacheStore is a mock implementation of CacheStore.
type MockCacheStore struct {
	mu       sync.RWMutex
	meters   map[string]domain.MeterSnapshot
	receipts map[string]domain.Receipt

	// Counters
	SetMeterCallCount int32

	// Error injection
	GetMeterError error
}

// NewMockCacheStore creates a new mock cache store.
func NewMockCacheStore() *MockCacheStore {
	return &MockCacheStore{
		meters:   make(map[string]domain.MeterSnapshot),
		receipts: make(map[string]domain.Receipt),
	}
}

func (m *MockCacheStore) SetMeter(ctx context.Context, snapshot *domain.MeterSnapshot, ttl time.Duration) error {
	atomic.AddInt32(&m.SetMeterCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.meters[snapshot.TripID] = *snapshot
	return nil
}

func (m *MockCacheStore) GetMeter(ctx context.Context, tripID string) (*domain.MeterSnapshot, error) {
	if m.GetMeterError != nil {
		return nil, m.GetMeterError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.meters[tripID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *MockCacheStore) DeleteMeter(ctx context.Context, tripID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.meters, tripID)
	return nil
}

func (m *MockCacheStore) SetReceipt(ctx context.Context, receipt *domain.Receipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.receipts[receipt.TripID] = *receipt
	return nil
}

func (m *MockCacheStore) GetReceipt(ctx context.Context, tripID string) (*domain.Receipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.receipts[tripID]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

// HasMeter reports whether a snapshot is cached for the trip.
func (m *MockCacheStore) HasMeter(tripID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.meters[tripID]
	return ok
}

// DropReceipt evicts a cached receipt.
func (m *MockCacheStore) DropReceipt(tripID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.receipts, tripID)
}

// ──────────────────────────────────────────────
// MOCK EVENT PUBLISHER
// ──────────────────────────────────────────────

// MockPublisher records published events.
type MockPublisher struct {
	mu     sync.Mutex
	events []domain.Event

	// Error injection
	PublishError error
}

// NewMockPublisher creates a new mock publisher.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) Publish(ctx context.Context, event domain.Event) error {
	if m.PublishError != nil {
		return m.PublishError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

// Types returns the types of published events in order.
func (m *MockPublisher) Types() []domain.EventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	types := make([]domain.EventType, len(m.events))
	for i, e := range m.events {
		types[i] = e.Type
	}
	return types
}

// ──────────────────────────────────────────────
// HELPER ERRORS
// ──────────────────────────────────────────────

var (
	ErrMockDBConstraint = errors.New("mock: unique constraint violation")
	ErrMockTimeout      = errors.New("mock: operation timeout")
)

// Ensure mocks implement interfaces.
var (
	_ repository.TripRepository         = (*MockTripRepository)(nil)
	_ repository.FareCategoryRepository = (*MockFareCategoryRepository)(nil)
	_ redis.LocationStoreInterface      = (*MockLocationStore)(nil)
	_ redis.LockStoreInterface          = (*MockLockStore)(nil)
	_ redis.CacheStoreInterface         = (*MockCacheStore)(nil)
)
