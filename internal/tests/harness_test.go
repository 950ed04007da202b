package tests

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"taximeter/internal/config"
	"taximeter/internal/domain"
	"taximeter/internal/logger"
	"taximeter/internal/meter"
	"taximeter/internal/service"
)

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// manualTickers hands out tick channels the test drives by hand.
type manualTickers struct {
	mu        sync.Mutex
	chans     []chan time.Time
	intervals []time.Duration
	stopped   int
}

func (m *manualTickers) ticker(interval time.Duration) (<-chan time.Time, func()) {
	ch := make(chan time.Time)
	m.mu.Lock()
	m.chans = append(m.chans, ch)
	m.intervals = append(m.intervals, interval)
	m.mu.Unlock()
	return ch, func() {
		m.mu.Lock()
		m.stopped++
		m.mu.Unlock()
	}
}

func (m *manualTickers) last() chan time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chans[len(m.chans)-1]
}

func (m *manualTickers) requestedIntervals() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Duration(nil), m.intervals...)
}

func (m *manualTickers) stoppedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}

type harness struct {
	svc        *service.TripService
	pricing    *service.PricingService
	trips      *MockTripRepository
	categories *MockFareCategoryRepository
	locations  *MockLocationStore
	locks      *MockLockStore
	cache      *MockCacheStore
	events     *MockPublisher
	clock      *fakeClock
	tickers    *manualTickers

	mu    sync.Mutex
	ticks map[string]chan time.Time
}

func surgeConfig() config.SurgeConfig {
	return config.SurgeConfig{
		RadiusKm:       3,
		LowSurgeRatio:  1.2,
		MedSurgeRatio:  1.5,
		HighSurgeRatio: 2.0,
		MaxSurge:       2.0,
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	log := logger.Discard()
	h := &harness{
		trips:      NewMockTripRepository(),
		categories: NewMockFareCategoryRepository(),
		locations:  NewMockLocationStore(),
		locks:      NewMockLockStore(),
		cache:      NewMockCacheStore(),
		events:     NewMockPublisher(),
		clock:      newFakeClock(),
		tickers:    &manualTickers{},
		ticks:      make(map[string]chan time.Time),
	}

	h.pricing = service.NewPricingService(h.categories, log)
	notifications := service.NewNotificationService(h.events, log)

	h.svc = service.NewTripService(service.TripServiceDeps{
		TripRepo:      h.trips,
		Pricing:       h.pricing,
		Surge:         service.NewSurgeService(h.locations, surgeConfig(), log),
		Locations:     h.locations,
		Locks:         h.locks,
		Cache:         h.cache,
		Receipts:      service.NewReceiptService(notifications),
		Notifications: notifications,
		Log:           log,
		Config: service.TripConfig{
			SnapshotTTL:   time.Minute,
			LockTTL:       time.Hour,
			MaxMultiplier: decimal.NewFromInt(4),
		},
		Ticker: h.tickers.ticker,
		Clock:  h.clock.Now,
	})
	t.Cleanup(h.svc.Shutdown)

	return h
}

func standardCategory() service.FareCategoryRequest {
	return service.FareCategoryRequest{
		Name:                "Standard",
		BasicFare:           decimal.NewFromInt(25),
		MinimumFare:         decimal.NewFromInt(80),
		CostPerDistanceUnit: decimal.NewFromInt(8),
		CostPerMinute:       decimal.NewFromInt(4),
		DecimalDigits:       2,
		CurrencySymbol:      "ETB",
		DistanceUnit:        meter.UnitKilometer,
	}
}

// cityCategory has no minimum fare so every accrual shows in the total.
func cityCategory() service.FareCategoryRequest {
	req := standardCategory()
	req.Name = "City"
	req.MinimumFare = decimal.Zero
	return req
}

func (h *harness) createCategory(t *testing.T, req service.FareCategoryRequest) *domain.FareCategory {
	t.Helper()
	c, err := h.pricing.Create(context.Background(), req)
	if err != nil {
		t.Fatalf("create category: %v", err)
	}
	return c
}

func (h *harness) startTrip(t *testing.T, req service.StartTripRequest) *domain.Trip {
	t.Helper()
	trip, err := h.svc.StartTrip(context.Background(), req)
	if err != nil {
		t.Fatalf("start trip: %v", err)
	}
	h.mu.Lock()
	h.ticks[trip.ID] = h.tickers.last()
	h.mu.Unlock()
	return trip
}

func (h *harness) tickChan(t *testing.T, tripID string) chan time.Time {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.ticks[tripID]
	if !ok {
		t.Fatalf("no ticker for trip %s", tripID)
	}
	return ch
}

// sendTick delivers one tick without waiting for its effect.
func (h *harness) sendTick(t *testing.T, tripID string) {
	t.Helper()
	select {
	case h.tickChan(t, tripID) <- h.clock.Now():
	case <-time.After(2 * time.Second):
		t.Fatal("meter did not take the tick")
	}
}

// tick delivers n ticks and waits for each to be applied. It returns the
// snapshot of the last one.
func (h *harness) tick(t *testing.T, tripID string, n int) domain.MeterSnapshot {
	t.Helper()

	updates, cancel, err := h.svc.WatchMeter(context.Background(), tripID)
	if err != nil {
		t.Fatalf("watch meter: %v", err)
	}
	defer cancel()

	var last domain.MeterSnapshot
	for i := 0; i < n; i++ {
		h.clock.Advance(time.Second)
		h.sendTick(t, tripID)
		select {
		case last = <-updates:
		case <-time.After(2 * time.Second):
			t.Fatalf("tick %d was not applied", i+1)
		}
	}
	return last
}

// drive reports samples every 36 s moving northwards by stepKm, i.e. at
// stepKm*100 km/h. The first sample is the baseline.
func (h *harness) drive(t *testing.T, tripID string, from meter.Position, stepKm float64, samples int) meter.Position {
	t.Helper()
	ts := h.clock.Now()
	pos := from
	for i := 0; i < samples; i++ {
		if i > 0 {
			pos = northOf(pos, stepKm)
			ts = ts.Add(36 * time.Second)
		}
		err := h.svc.RecordPosition(context.Background(), service.RecordPositionRequest{
			TripID:    tripID,
			Lat:       pos.Lat,
			Lng:       pos.Lng,
			Timestamp: ts,
		})
		if err != nil {
			t.Fatalf("record position: %v", err)
		}
	}
	return pos
}

// northOf returns the position km kilometres due north of p.
func northOf(p meter.Position, km float64) meter.Position {
	return meter.Position{Lat: p.Lat + km/(meter.EarthRadiusKm*3.141592653589793/180), Lng: p.Lng}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func ptr[T any](v T) *T {
	return &v
}

func assertMoney(t *testing.T, label string, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Round(2).Equal(dec(want)) {
		t.Errorf("%s: expected %s, got %s", label, want, got.String())
	}
}

var addisAbaba = meter.Position{Lat: 9.0054, Lng: 38.7636}
