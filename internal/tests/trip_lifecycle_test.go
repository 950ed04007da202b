package tests

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"taximeter/internal/domain"
	"taximeter/internal/repository"
	"taximeter/internal/service"
)

// ──────────────────────────────────────────────
// 1. STARTING A TRIP
// ──────────────────────────────────────────────

func TestStartTrip_MetersTickOncePerSecond(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	category := h.createCategory(t, standardCategory())
	h.startTrip(t, service.StartTripRequest{DriverID: "driver-1", FareCategoryID: category.ID})
	h.startTrip(t, service.StartTripRequest{DriverID: "driver-2", FareCategoryID: category.ID})

	intervals := h.tickers.requestedIntervals()
	if len(intervals) != 2 {
		t.Fatalf("expected 2 tickers, got %d", len(intervals))
	}
	for i, interval := range intervals {
		if interval != time.Second {
			t.Errorf("ticker %d: expected 1s interval, got %s", i, interval)
		}
	}
}

func TestStartTrip_MeterRunningAndTaxiOnTrip(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	category := h.createCategory(t, standardCategory())

	trip := h.startTrip(t, service.StartTripRequest{
		DriverID:       "driver-1",
		FareCategoryID: category.ID,
		Lat:            ptr(addisAbaba.Lat),
		Lng:            ptr(addisAbaba.Lng),
	})

	if trip.Status != domain.TripStatusStarted {
		t.Errorf("expected status %s, got %s", domain.TripStatusStarted, trip.Status)
	}
	assertMoney(t, "initial total", trip.TotalFare, "25.00")
	if !trip.Multiplier.Equal(decimal.NewFromInt(1)) {
		t.Errorf("expected multiplier 1 with no surge, got %s", trip.Multiplier)
	}
	if trip.Category.Name != "Standard" {
		t.Errorf("expected category snapshot Standard, got %q", trip.Category.Name)
	}

	if !h.locks.IsLocked("driver-1") {
		t.Error("expected driver lock to be held")
	}
	if got := h.locations.Status("driver-1"); got != domain.DriverStatusOnTrip {
		t.Errorf("expected taxi on trip, got %s", got)
	}
	if h.svc.ActiveCount() != 1 {
		t.Errorf("expected 1 running meter, got %d", h.svc.ActiveCount())
	}
	if stored := h.trips.GetTrip(trip.ID); stored == nil || stored.Status != domain.TripStatusStarted {
		t.Errorf("expected STARTED trip to be persisted, got %+v", stored)
	}

	types := h.events.Types()
	if len(types) != 1 || types[0] != domain.EventTypeTripStarted {
		t.Errorf("expected [trip.started], got %v", types)
	}
}

func TestStartTrip_DriverWithActiveTrip_Rejected(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	category := h.createCategory(t, standardCategory())
	h.startTrip(t, service.StartTripRequest{DriverID: "driver-1", FareCategoryID: category.ID})

	_, err := h.svc.StartTrip(context.Background(), service.StartTripRequest{
		DriverID:       "driver-1",
		FareCategoryID: category.ID,
	})
	if !errors.Is(err, service.ErrDriverHasActiveTrip) {
		t.Fatalf("expected ErrDriverHasActiveTrip, got %v", err)
	}

	if n := h.trips.CountActiveTripsForDriver("driver-1"); n != 1 {
		t.Errorf("expected 1 active trip, got %d", n)
	}
}

func TestStartTrip_LockHeldElsewhere_NoTripCreated(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	category := h.createCategory(t, standardCategory())
	_, _ = h.locks.AcquireDriverLock(context.Background(), "driver-1", "trip-on-other-instance", time.Hour)

	_, err := h.svc.StartTrip(context.Background(), service.StartTripRequest{
		DriverID:       "driver-1",
		FareCategoryID: category.ID,
	})
	if !errors.Is(err, service.ErrDriverHasActiveTrip) {
		t.Fatalf("expected ErrDriverHasActiveTrip, got %v", err)
	}
	if h.trips.CreateCallCount != 0 {
		t.Errorf("expected no trip to be created, got %d creates", h.trips.CreateCallCount)
	}
}

func TestStartTrip_CreateFails_ReleasesLock(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	category := h.createCategory(t, standardCategory())
	h.trips.CreateError = ErrMockDBConstraint

	_, err := h.svc.StartTrip(context.Background(), service.StartTripRequest{
		DriverID:       "driver-1",
		FareCategoryID: category.ID,
	})
	if !errors.Is(err, ErrMockDBConstraint) {
		t.Fatalf("expected database error, got %v", err)
	}
	if h.locks.IsLocked("driver-1") {
		t.Error("expected driver lock to be released")
	}
	if h.svc.ActiveCount() != 0 {
		t.Errorf("expected no running meter, got %d", h.svc.ActiveCount())
	}
}

func TestStartTrip_Validation(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	category := h.createCategory(t, standardCategory())

	testCases := []struct {
		name    string
		req     service.StartTripRequest
		wantErr error
	}{
		{
			name:    "missing driver",
			req:     service.StartTripRequest{FareCategoryID: category.ID},
			wantErr: service.ErrInvalidDriverID,
		},
		{
			name:    "missing category",
			req:     service.StartTripRequest{DriverID: "driver-1"},
			wantErr: service.ErrInvalidFareCategoryID,
		},
		{
			name:    "unknown category",
			req:     service.StartTripRequest{DriverID: "driver-1", FareCategoryID: "nope"},
			wantErr: repository.ErrNotFound,
		},
		{
			name:    "latitude without longitude",
			req:     service.StartTripRequest{DriverID: "driver-1", FareCategoryID: category.ID, Lat: ptr(9.0)},
			wantErr: service.ErrInvalidLocation,
		},
		{
			name: "latitude out of range",
			req: service.StartTripRequest{
				DriverID: "driver-1", FareCategoryID: category.ID, Lat: ptr(95.0), Lng: ptr(38.0),
			},
			wantErr: service.ErrInvalidLocation,
		},
		{
			name: "multiplier above maximum",
			req: service.StartTripRequest{
				DriverID: "driver-1", FareCategoryID: category.ID, Multiplier: ptr(dec("4.5")),
			},
			wantErr: service.ErrInvalidMultiplier,
		},
		{
			name: "multiplier below one",
			req: service.StartTripRequest{
				DriverID: "driver-1", FareCategoryID: category.ID, Multiplier: ptr(dec("0.9")),
			},
			wantErr: service.ErrInvalidMultiplier,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.svc.StartTrip(context.Background(), tc.req)
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}

	if h.svc.ActiveCount() != 0 {
		t.Errorf("expected no meters after rejected starts, got %d", h.svc.ActiveCount())
	}
}

func TestStartTrip_SurgeSuggestion(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	category := h.createCategory(t, standardCategory())

	// No idle taxis and two busy ones nearby.
	_ = h.locations.SetOnTrip(context.Background(), "busy-1", addisAbaba.Lat, addisAbaba.Lng)
	_ = h.locations.SetOnTrip(context.Background(), "busy-2", addisAbaba.Lat, addisAbaba.Lng)

	trip := h.startTrip(t, service.StartTripRequest{
		DriverID:       "driver-1",
		FareCategoryID: category.ID,
		Lat:            ptr(addisAbaba.Lat),
		Lng:            ptr(addisAbaba.Lng),
	})

	if !trip.Multiplier.Equal(decimal.NewFromInt(2)) {
		t.Errorf("expected surge multiplier 2, got %s", trip.Multiplier)
	}
}

func TestStartTrip_SurgeUnavailable_FailsOpen(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	category := h.createCategory(t, standardCategory())
	h.locations.CountNearbyError = ErrMockTimeout

	trip := h.startTrip(t, service.StartTripRequest{
		DriverID:       "driver-1",
		FareCategoryID: category.ID,
		Lat:            ptr(addisAbaba.Lat),
		Lng:            ptr(addisAbaba.Lng),
	})

	if !trip.Multiplier.Equal(decimal.NewFromInt(1)) {
		t.Errorf("expected multiplier 1 when surge is unavailable, got %s", trip.Multiplier)
	}
}

// ──────────────────────────────────────────────
// 2. METERING
// ──────────────────────────────────────────────

func TestMeter_IdleTimeBilledPerSecond(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	category := h.createCategory(t, standardCategory())
	trip := h.startTrip(t, service.StartTripRequest{DriverID: "driver-1", FareCategoryID: category.ID})

	snapshot := h.tick(t, trip.ID, 60)

	if snapshot.ElapsedSeconds != 60 {
		t.Errorf("expected 60 elapsed seconds, got %d", snapshot.ElapsedSeconds)
	}
	assertMoney(t, "time cost", snapshot.TimeCost, "4.00")
	// 25 + 4 is below the 80 minimum fare.
	assertMoney(t, "total", snapshot.TotalCost, "80.00")
	if snapshot.IsMoving {
		t.Error("expected idle meter")
	}
	if snapshot.CurrencySymbol != "ETB" {
		t.Errorf("expected currency ETB, got %q", snapshot.CurrencySymbol)
	}
	if !h.cache.HasMeter(trip.ID) {
		t.Error("expected snapshot to be cached")
	}
}

func TestMeter_DistanceAccruesWhileMoving(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	category := h.createCategory(t, cityCategory())
	trip := h.startTrip(t, service.StartTripRequest{DriverID: "driver-1", FareCategoryID: category.ID})

	// Three deltas of 0.36 km at 36 km/h.
	h.drive(t, trip.ID, addisAbaba, 0.36, 4)
	snapshot := h.tick(t, trip.ID, 1)

	if math.Abs(snapshot.DistanceKm-1.08) > 1e-6 {
		t.Errorf("expected 1.08 km, got %f", snapshot.DistanceKm)
	}
	if !snapshot.IsMoving {
		t.Error("expected meter to report moving")
	}
	if math.Abs(snapshot.SpeedKmh-36) > 1e-3 {
		t.Errorf("expected 36 km/h, got %f", snapshot.SpeedKmh)
	}
	assertMoney(t, "distance cost", snapshot.DistanceCost, "8.64")
	// 25 + 8.64 + 0.0667
	assertMoney(t, "total", snapshot.TotalCost, "33.71")
}

func TestMeter_SlowDriftIsNotCharged(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	category := h.createCategory(t, cityCategory())
	trip := h.startTrip(t, service.StartTripRequest{DriverID: "driver-1", FareCategoryID: category.ID})

	// 0.01 km every 36 s is 1 km/h, below the moving threshold.
	h.drive(t, trip.ID, addisAbaba, 0.01, 5)
	snapshot := h.tick(t, trip.ID, 1)

	if snapshot.DistanceKm != 0 {
		t.Errorf("expected no distance while crawling, got %f", snapshot.DistanceKm)
	}
	if snapshot.IsMoving {
		t.Error("expected meter to report stationary")
	}
}

func TestMeter_TotalNeverDecreasesUnderFixedPricing(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	category := h.createCategory(t, cityCategory())
	trip := h.startTrip(t, service.StartTripRequest{DriverID: "driver-1", FareCategoryID: category.ID})

	updates, cancel, err := h.svc.WatchMeter(context.Background(), trip.ID)
	if err != nil {
		t.Fatalf("watch meter: %v", err)
	}
	defer cancel()

	pos := addisAbaba
	previous := trip.TotalFare
	for i := 0; i < 30; i++ {
		if i%3 == 0 {
			pos = h.drive(t, trip.ID, pos, 0.2, 2)
		}
		h.clock.Advance(time.Second)
		h.sendTick(t, trip.ID)
		snapshot := <-updates
		if snapshot.TotalCost.LessThan(previous) {
			t.Fatalf("tick %d: total decreased from %s to %s", i+1, previous, snapshot.TotalCost)
		}
		previous = snapshot.TotalCost
	}
}

func TestMeter_MultiplierAppliesOnNextTick(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	category := h.createCategory(t, cityCategory())
	trip := h.startTrip(t, service.StartTripRequest{DriverID: "driver-1", FareCategoryID: category.ID})

	first := h.tick(t, trip.ID, 1)
	assertMoney(t, "total before", first.TotalCost, "25.07")

	snapshot, err := h.svc.SetMultiplier(context.Background(), service.SetMultiplierRequest{
		TripID:     trip.ID,
		Multiplier: decimal.NewFromInt(2),
	})
	if err != nil {
		t.Fatalf("set multiplier: %v", err)
	}
	// The reported multiplier stays the one behind the total until the next tick.
	if !snapshot.Multiplier.Equal(decimal.NewFromInt(1)) {
		t.Errorf("expected applied multiplier 1 in snapshot, got %s", snapshot.Multiplier)
	}
	if !snapshot.NextMultiplier.Equal(decimal.NewFromInt(2)) {
		t.Errorf("expected next multiplier 2 in snapshot, got %s", snapshot.NextMultiplier)
	}
	assertMoney(t, "total until next tick", snapshot.TotalCost, "25.07")

	live, err := h.svc.GetMeter(context.Background(), trip.ID)
	if err != nil {
		t.Fatalf("get meter: %v", err)
	}
	if !live.Multiplier.Equal(decimal.NewFromInt(1)) || !live.TotalCost.Equal(snapshot.TotalCost) {
		t.Errorf("expected live meter at multiplier 1 and %s, got %s and %s", snapshot.TotalCost, live.Multiplier, live.TotalCost)
	}

	second := h.tick(t, trip.ID, 1)
	// (25 + 2/15) * 2
	assertMoney(t, "total after", second.TotalCost, "50.27")
	if !second.Multiplier.Equal(decimal.NewFromInt(2)) {
		t.Errorf("expected applied multiplier 2 after tick, got %s", second.Multiplier)
	}

	if stored := h.trips.GetTrip(trip.ID); !stored.Multiplier.Equal(decimal.NewFromInt(2)) {
		t.Errorf("expected persisted multiplier 2, got %s", stored.Multiplier)
	}
}

func TestMeter_MinimumFareAppliedBeforeMultiplier(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	category := h.createCategory(t, standardCategory())
	trip := h.startTrip(t, service.StartTripRequest{
		DriverID:       "driver-1",
		FareCategoryID: category.ID,
		Multiplier:     ptr(decimal.NewFromInt(2)),
	})

	snapshot := h.tick(t, trip.ID, 1)
	assertMoney(t, "total", snapshot.TotalCost, "160.00")
}

func TestSetMultiplier_Rejected(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	category := h.createCategory(t, standardCategory())
	trip := h.startTrip(t, service.StartTripRequest{DriverID: "driver-1", FareCategoryID: category.ID})

	_, err := h.svc.SetMultiplier(context.Background(), service.SetMultiplierRequest{
		TripID:     trip.ID,
		Multiplier: dec("4.01"),
	})
	if !errors.Is(err, service.ErrInvalidMultiplier) {
		t.Errorf("expected ErrInvalidMultiplier, got %v", err)
	}

	_, err = h.svc.SetMultiplier(context.Background(), service.SetMultiplierRequest{
		TripID:     "unknown",
		Multiplier: decimal.NewFromInt(2),
	})
	if !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown trip, got %v", err)
	}
}

func TestMeter_CategoryUpdateAppliesOnNextTick(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	category := h.createCategory(t, cityCategory())
	trip := h.startTrip(t, service.StartTripRequest{DriverID: "driver-1", FareCategoryID: category.ID})

	h.tick(t, trip.ID, 1)

	req := cityCategory()
	req.CostPerMinute = decimal.NewFromInt(60)
	if _, err := h.pricing.Update(context.Background(), category.ID, req); err != nil {
		t.Fatalf("update category: %v", err)
	}

	snapshot := h.tick(t, trip.ID, 1)
	// 4/60 for the first second, then 1 per second.
	assertMoney(t, "time cost", snapshot.TimeCost, "1.07")
	assertMoney(t, "total", snapshot.TotalCost, "26.07")
}

func TestMeter_DeletedCategoryKeepsSnapshotRates(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	category := h.createCategory(t, cityCategory())
	trip := h.startTrip(t, service.StartTripRequest{DriverID: "driver-1", FareCategoryID: category.ID})

	h.tick(t, trip.ID, 1)
	if err := h.pricing.Delete(context.Background(), category.ID); err != nil {
		t.Fatalf("delete category: %v", err)
	}

	snapshot := h.tick(t, trip.ID, 1)
	assertMoney(t, "total", snapshot.TotalCost, "25.13")

	resp, err := h.svc.EndTrip(context.Background(), service.EndTripRequest{TripID: trip.ID})
	if err != nil {
		t.Fatalf("end trip: %v", err)
	}
	if resp.Receipt == nil || resp.Receipt.FareCategory != "City" {
		t.Errorf("expected receipt priced under City, got %+v", resp.Receipt)
	}
}

// ──────────────────────────────────────────────
// 3. PAUSE AND RESUME
// ──────────────────────────────────────────────

func TestPauseResume_NothingAccruesWhilePaused(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	category := h.createCategory(t, cityCategory())
	trip := h.startTrip(t, service.StartTripRequest{DriverID: "driver-1", FareCategoryID: category.ID})

	// 0.36 km before the pause.
	h.drive(t, trip.ID, addisAbaba, 0.36, 2)
	h.tick(t, trip.ID, 10)

	paused, err := h.svc.PauseTrip(context.Background(), service.PauseTripRequest{TripID: trip.ID})
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if paused.Status != domain.TripStatusPaused {
		t.Errorf("expected status %s, got %s", domain.TripStatusPaused, paused.Status)
	}

	h.clock.Advance(30 * time.Second)
	for i := 0; i < 3; i++ {
		h.sendTick(t, trip.ID)
	}
	h.drive(t, trip.ID, northOf(addisAbaba, 2), 0.36, 3)

	resumed, err := h.svc.ResumeTrip(context.Background(), service.ResumeTripRequest{TripID: trip.ID})
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.TotalPaused != 30*time.Second {
		t.Errorf("expected 30s paused, got %s", resumed.TotalPaused)
	}

	// The jump from the pre-pause position is not charged.
	h.drive(t, trip.ID, northOf(addisAbaba, 5), 0.36, 2)
	snapshot := h.tick(t, trip.ID, 1)

	if snapshot.ElapsedSeconds != 11 {
		t.Errorf("expected 11 elapsed seconds, got %d", snapshot.ElapsedSeconds)
	}
	if math.Abs(snapshot.DistanceKm-0.72) > 1e-6 {
		t.Errorf("expected 0.72 km, got %f", snapshot.DistanceKm)
	}

	types := h.events.Types()
	want := []domain.EventType{domain.EventTypeTripStarted, domain.EventTypeTripPaused, domain.EventTypeTripResumed}
	if len(types) != len(want) {
		t.Fatalf("expected events %v, got %v", want, types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], types[i])
		}
	}
}

func TestPauseResume_TicksDuringPauseNeverBilled(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	category := h.createCategory(t, cityCategory())
	trip := h.startTrip(t, service.StartTripRequest{DriverID: "driver-1", FareCategoryID: category.ID})
	h.tick(t, trip.ID, 3)

	for cycle := 1; cycle <= 5; cycle++ {
		if _, err := h.svc.PauseTrip(context.Background(), service.PauseTripRequest{TripID: trip.ID}); err != nil {
			t.Fatalf("pause %d: %v", cycle, err)
		}
		h.clock.Advance(5 * time.Second)
		// Taken by the meter loop, but possibly applied only after the resume.
		h.sendTick(t, trip.ID)
		h.sendTick(t, trip.ID)
		if _, err := h.svc.ResumeTrip(context.Background(), service.ResumeTripRequest{TripID: trip.ID}); err != nil {
			t.Fatalf("resume %d: %v", cycle, err)
		}

		snapshot := h.tick(t, trip.ID, 1)
		if want := int64(3 + cycle); snapshot.ElapsedSeconds != want {
			t.Fatalf("cycle %d: expected %d billed seconds, got %d", cycle, want, snapshot.ElapsedSeconds)
		}
	}
}

func TestPauseResume_InvalidTransitions(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	category := h.createCategory(t, standardCategory())
	trip := h.startTrip(t, service.StartTripRequest{DriverID: "driver-1", FareCategoryID: category.ID})

	if _, err := h.svc.ResumeTrip(context.Background(), service.ResumeTripRequest{TripID: trip.ID}); !errors.Is(err, service.ErrTripNotPaused) {
		t.Errorf("expected ErrTripNotPaused, got %v", err)
	}

	if _, err := h.svc.PauseTrip(context.Background(), service.PauseTripRequest{TripID: trip.ID}); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if _, err := h.svc.PauseTrip(context.Background(), service.PauseTripRequest{TripID: trip.ID}); !errors.Is(err, service.ErrTripNotStarted) {
		t.Errorf("expected ErrTripNotStarted, got %v", err)
	}
}

func TestEndTrip_WhilePaused_CountsPausedTime(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	category := h.createCategory(t, standardCategory())
	trip := h.startTrip(t, service.StartTripRequest{DriverID: "driver-1", FareCategoryID: category.ID})

	h.tick(t, trip.ID, 5)
	if _, err := h.svc.PauseTrip(context.Background(), service.PauseTripRequest{TripID: trip.ID}); err != nil {
		t.Fatalf("pause: %v", err)
	}
	h.clock.Advance(90 * time.Second)

	resp, err := h.svc.EndTrip(context.Background(), service.EndTripRequest{TripID: trip.ID})
	if err != nil {
		t.Fatalf("end trip: %v", err)
	}

	if resp.Trip.TotalPaused != 90*time.Second {
		t.Errorf("expected 90s paused, got %s", resp.Trip.TotalPaused)
	}
	if resp.Trip.ElapsedSeconds != 5 {
		t.Errorf("expected 5 billed seconds, got %d", resp.Trip.ElapsedSeconds)
	}
	if resp.Receipt.PausedDuration != 90*time.Second {
		t.Errorf("expected receipt to show 90s paused, got %s", resp.Receipt.PausedDuration)
	}
}

// ──────────────────────────────────────────────
// 4. ENDING A TRIP
// ──────────────────────────────────────────────

func TestEndTrip_FreezesReadingAndFreesTaxi(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	category := h.createCategory(t, standardCategory())
	trip := h.startTrip(t, service.StartTripRequest{
		DriverID:       "driver-1",
		FareCategoryID: category.ID,
		Lat:            ptr(addisAbaba.Lat),
		Lng:            ptr(addisAbaba.Lng),
	})

	updates, cancel, err := h.svc.WatchMeter(context.Background(), trip.ID)
	if err != nil {
		t.Fatalf("watch meter: %v", err)
	}
	defer cancel()

	h.tick(t, trip.ID, 60)

	end := northOf(addisAbaba, 2)
	resp, err := h.svc.EndTrip(context.Background(), service.EndTripRequest{
		TripID: trip.ID,
		Lat:    ptr(end.Lat),
		Lng:    ptr(end.Lng),
	})
	if err != nil {
		t.Fatalf("end trip: %v", err)
	}

	ended := resp.Trip
	if ended.Status != domain.TripStatusEnded {
		t.Errorf("expected status %s, got %s", domain.TripStatusEnded, ended.Status)
	}
	if ended.ElapsedSeconds != 60 {
		t.Errorf("expected 60 elapsed seconds, got %d", ended.ElapsedSeconds)
	}
	assertMoney(t, "time cost", ended.TimeCost, "4.00")
	assertMoney(t, "total fare", ended.TotalFare, "80.00")
	if ended.EndedAt.IsZero() {
		t.Error("expected EndedAt to be set")
	}

	stored := h.trips.GetTrip(trip.ID)
	if stored.Status != domain.TripStatusEnded || !stored.TotalFare.Equal(ended.TotalFare) {
		t.Errorf("expected final reading to be persisted, got %s %s", stored.Status, stored.TotalFare)
	}

	if h.locks.IsLocked("driver-1") {
		t.Error("expected driver lock to be released")
	}
	if got := h.locations.Status("driver-1"); got != domain.DriverStatusIdle {
		t.Errorf("expected taxi to be idle, got %s", got)
	}
	if loc, _ := h.locations.Location("driver-1"); loc.Lat != end.Lat {
		t.Errorf("expected taxi at drop-off, got (%f, %f)", loc.Lat, loc.Lng)
	}
	if h.cache.HasMeter(trip.ID) {
		t.Error("expected cached meter to be dropped")
	}
	if h.svc.ActiveCount() != 0 {
		t.Errorf("expected no running meters, got %d", h.svc.ActiveCount())
	}
	if h.tickers.stoppedCount() != 1 {
		t.Errorf("expected ticker to be stopped, got %d stops", h.tickers.stoppedCount())
	}

	receipt := resp.Receipt
	if receipt == nil {
		t.Fatal("expected a receipt")
	}
	assertMoney(t, "minimum adjustment", receipt.MinimumFareAdjustment, "51.00")
	sum := receipt.Subtotal.Add(receipt.MinimumFareAdjustment).Add(receipt.SurgeAmount).Add(receipt.Rounding)
	if !sum.Equal(receipt.TotalFare) {
		t.Errorf("expected receipt lines to sum to %s, got %s", receipt.TotalFare, sum)
	}

	var final domain.MeterSnapshot
	for s := range updates {
		final = s
	}
	if final.Status != domain.TripStatusEnded {
		t.Errorf("expected watchers to see the final ENDED snapshot, got %s", final.Status)
	}

	types := h.events.Types()
	want := []domain.EventType{domain.EventTypeTripStarted, domain.EventTypeTripCompleted, domain.EventTypeReceiptReady}
	if len(types) != len(want) {
		t.Fatalf("expected events %v, got %v", want, types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], types[i])
		}
	}
}

func TestEndTrip_EndedTripRejectsChanges(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	category := h.createCategory(t, standardCategory())
	trip := h.startTrip(t, service.StartTripRequest{DriverID: "driver-1", FareCategoryID: category.ID})

	first, err := h.svc.EndTrip(context.Background(), service.EndTripRequest{TripID: trip.ID})
	if err != nil {
		t.Fatalf("end trip: %v", err)
	}

	if _, err := h.svc.EndTrip(context.Background(), service.EndTripRequest{TripID: trip.ID}); !errors.Is(err, service.ErrTripAlreadyEnded) {
		t.Errorf("second end: expected ErrTripAlreadyEnded, got %v", err)
	}
	err = h.svc.RecordPosition(context.Background(), service.RecordPositionRequest{
		TripID: trip.ID,
		Lat:    addisAbaba.Lat,
		Lng:    addisAbaba.Lng,
	})
	if !errors.Is(err, service.ErrTripAlreadyEnded) {
		t.Errorf("position: expected ErrTripAlreadyEnded, got %v", err)
	}
	if _, err := h.svc.PauseTrip(context.Background(), service.PauseTripRequest{TripID: trip.ID}); !errors.Is(err, service.ErrTripAlreadyEnded) {
		t.Errorf("pause: expected ErrTripAlreadyEnded, got %v", err)
	}
	if _, _, err := h.svc.WatchMeter(context.Background(), trip.ID); !errors.Is(err, service.ErrTripAlreadyEnded) {
		t.Errorf("watch: expected ErrTripAlreadyEnded, got %v", err)
	}

	stored := h.trips.GetTrip(trip.ID)
	if !stored.TotalFare.Equal(first.Trip.TotalFare) {
		t.Errorf("expected fare to stay %s, got %s", first.Trip.TotalFare, stored.TotalFare)
	}
}

func TestEndTrip_PersistFailure_ReturnsError(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	category := h.createCategory(t, standardCategory())
	trip := h.startTrip(t, service.StartTripRequest{DriverID: "driver-1", FareCategoryID: category.ID})
	h.trips.UpdateError = ErrMockTimeout

	_, err := h.svc.EndTrip(context.Background(), service.EndTripRequest{TripID: trip.ID})
	if !errors.Is(err, ErrMockTimeout) {
		t.Fatalf("expected persistence error, got %v", err)
	}
}

// ──────────────────────────────────────────────
// 5. READING TRIPS, METERS AND RECEIPTS
// ──────────────────────────────────────────────

func TestGetTrip_ActiveReflectsLiveMeter(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	category := h.createCategory(t, cityCategory())
	trip := h.startTrip(t, service.StartTripRequest{DriverID: "driver-1", FareCategoryID: category.ID})
	h.tick(t, trip.ID, 30)

	got, err := h.svc.GetTrip(context.Background(), trip.ID)
	if err != nil {
		t.Fatalf("get trip: %v", err)
	}
	if got.ElapsedSeconds != 30 {
		t.Errorf("expected 30 elapsed seconds, got %d", got.ElapsedSeconds)
	}
	assertMoney(t, "total", got.TotalFare, "27.00")

	if stored := h.trips.GetTrip(trip.ID); stored.ElapsedSeconds != 0 {
		t.Errorf("expected the stored record to be untouched while running, got %d", stored.ElapsedSeconds)
	}
}

func TestGetMeter_Fallbacks(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	// Running on another instance: served from the shared cache.
	h.trips.AddTrip(&domain.Trip{ID: "remote", DriverID: "driver-2", Status: domain.TripStatusStarted})
	_ = h.cache.SetMeter(context.Background(), &domain.MeterSnapshot{
		TripID:         "remote",
		Status:         domain.TripStatusStarted,
		ElapsedSeconds: 42,
		TotalCost:      dec("27.80"),
	}, time.Minute)

	remote, err := h.svc.GetMeter(context.Background(), "remote")
	if err != nil {
		t.Fatalf("get remote meter: %v", err)
	}
	if remote.ElapsedSeconds != 42 {
		t.Errorf("expected cached snapshot, got %+v", remote)
	}

	// Ended with nothing cached: served from the record.
	h.trips.AddTrip(&domain.Trip{
		ID:             "done",
		DriverID:       "driver-3",
		Status:         domain.TripStatusEnded,
		ElapsedSeconds: 600,
		TotalFare:      dec("90.00"),
	})
	done, err := h.svc.GetMeter(context.Background(), "done")
	if err != nil {
		t.Fatalf("get ended meter: %v", err)
	}
	if done.Status != domain.TripStatusEnded || done.ElapsedSeconds != 600 {
		t.Errorf("expected final reading, got %+v", done)
	}
	assertMoney(t, "final total", done.TotalCost, "90.00")

	if _, err := h.svc.GetMeter(context.Background(), "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRecordPosition_RemoteTrip_NotActive(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.trips.AddTrip(&domain.Trip{ID: "remote", DriverID: "driver-2", Status: domain.TripStatusStarted})

	err := h.svc.RecordPosition(context.Background(), service.RecordPositionRequest{
		TripID: "remote",
		Lat:    addisAbaba.Lat,
		Lng:    addisAbaba.Lng,
	})
	if !errors.Is(err, service.ErrTripNotActive) {
		t.Errorf("expected ErrTripNotActive, got %v", err)
	}
}

func TestRecordPosition_SmallMovesNotWrittenToIndex(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	category := h.createCategory(t, standardCategory())
	trip := h.startTrip(t, service.StartTripRequest{
		DriverID:       "driver-1",
		FareCategoryID: category.ID,
		Lat:            ptr(addisAbaba.Lat),
		Lng:            ptr(addisAbaba.Lng),
	})
	before := h.locations.SetOnTripCallCount

	// Four 2 m steps stay within 10 m of the pickup.
	h.drive(t, trip.ID, addisAbaba, 0.002, 5)
	if got := h.locations.SetOnTripCallCount - before; got != 0 {
		t.Errorf("expected no index writes for sub-threshold moves, got %d", got)
	}

	h.drive(t, trip.ID, northOf(addisAbaba, 0.05), 0.002, 1)
	if got := h.locations.SetOnTripCallCount - before; got != 1 {
		t.Errorf("expected one index write after a 50 m move, got %d", got)
	}
}

func TestGetReceipt_RebuiltWhenEvicted(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	category := h.createCategory(t, standardCategory())
	trip := h.startTrip(t, service.StartTripRequest{DriverID: "driver-1", FareCategoryID: category.ID})

	if _, err := h.svc.GetReceipt(context.Background(), trip.ID); !errors.Is(err, service.ErrTripNotEnded) {
		t.Errorf("expected ErrTripNotEnded before the end, got %v", err)
	}

	h.tick(t, trip.ID, 3)
	resp, err := h.svc.EndTrip(context.Background(), service.EndTripRequest{TripID: trip.ID})
	if err != nil {
		t.Fatalf("end trip: %v", err)
	}

	cached, err := h.svc.GetReceipt(context.Background(), trip.ID)
	if err != nil {
		t.Fatalf("get cached receipt: %v", err)
	}
	if cached.ID != resp.Receipt.ID {
		t.Errorf("expected the issued receipt, got %s", cached.ID)
	}

	h.cache.DropReceipt(trip.ID)
	eventsBefore := len(h.events.Types())

	rebuilt, err := h.svc.GetReceipt(context.Background(), trip.ID)
	if err != nil {
		t.Fatalf("rebuild receipt: %v", err)
	}
	if !rebuilt.TotalFare.Equal(resp.Receipt.TotalFare) {
		t.Errorf("expected rebuilt total %s, got %s", resp.Receipt.TotalFare, rebuilt.TotalFare)
	}
	if len(h.events.Types()) != eventsBefore {
		t.Error("expected no event when a receipt is rebuilt")
	}

	text := h.svc.FormatReceipt(rebuilt)
	if text == "" {
		t.Error("expected formatted receipt")
	}
}

// ──────────────────────────────────────────────
// 6. RESTART AND SHUTDOWN
// ──────────────────────────────────────────────

func TestRestoreActive_ContinuesCachedMeter(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	category := h.createCategory(t, cityCategory())

	h.trips.AddTrip(&domain.Trip{
		ID:             "trip-1",
		DriverID:       "driver-1",
		FareCategoryID: category.ID,
		Status:         domain.TripStatusStarted,
		Category:       *category,
		Multiplier:     decimal.NewFromInt(1),
		BasicFare:      category.BasicFare,
		TotalFare:      category.BasicFare,
	})
	_ = h.cache.SetMeter(context.Background(), &domain.MeterSnapshot{
		TripID:         "trip-1",
		Status:         domain.TripStatusStarted,
		ElapsedSeconds: 120,
		BasicFare:      dec("25"),
		DistanceCost:   decimal.Zero,
		TimeCost:       dec("8"),
		TotalCost:      dec("49.50"),
		Multiplier:     dec("1.5"),
		DecimalDigits:  2,
	}, time.Minute)

	restored, err := h.svc.RestoreActive(context.Background())
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored != 1 {
		t.Fatalf("expected 1 restored meter, got %d", restored)
	}
	h.mu.Lock()
	h.ticks["trip-1"] = h.tickers.last()
	h.mu.Unlock()

	if !h.locks.IsLocked("driver-1") {
		t.Error("expected driver lock to be re-acquired")
	}

	snapshot := h.tick(t, "trip-1", 1)
	if snapshot.ElapsedSeconds != 121 {
		t.Errorf("expected meter to continue at 121 s, got %d", snapshot.ElapsedSeconds)
	}
	// (25 + 8 + 1/15) * 1.5
	assertMoney(t, "total", snapshot.TotalCost, "49.60")

	again, err := h.svc.RestoreActive(context.Background())
	if err != nil {
		t.Fatalf("second restore: %v", err)
	}
	if again != 0 {
		t.Errorf("expected running meters to be skipped, got %d", again)
	}
}

func TestShutdown_SavesMetersForRestore(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	category := h.createCategory(t, standardCategory())
	trip := h.startTrip(t, service.StartTripRequest{DriverID: "driver-1", FareCategoryID: category.ID})
	h.tick(t, trip.ID, 5)

	updates, _, err := h.svc.WatchMeter(context.Background(), trip.ID)
	if err != nil {
		t.Fatalf("watch meter: %v", err)
	}

	h.svc.Shutdown()

	if h.svc.ActiveCount() != 0 {
		t.Errorf("expected no running meters, got %d", h.svc.ActiveCount())
	}
	cached, err := h.cache.GetMeter(context.Background(), trip.ID)
	if err != nil || cached == nil {
		t.Fatalf("expected saved snapshot, got %v, %v", cached, err)
	}
	if cached.ElapsedSeconds != 5 {
		t.Errorf("expected 5 elapsed seconds saved, got %d", cached.ElapsedSeconds)
	}
	stored := h.trips.GetTrip(trip.ID)
	if stored.Status != domain.TripStatusStarted {
		t.Errorf("expected trip to stay %s, got %s", domain.TripStatusStarted, stored.Status)
	}
	if stored.ElapsedSeconds != 5 {
		t.Errorf("expected 5 elapsed seconds on the record, got %d", stored.ElapsedSeconds)
	}
	assertMoney(t, "stored total", stored.TotalFare, "80.00")

	for range updates {
	}

	err = h.svc.RecordPosition(context.Background(), service.RecordPositionRequest{
		TripID: trip.ID,
		Lat:    addisAbaba.Lat,
		Lng:    addisAbaba.Lng,
	})
	if !errors.Is(err, service.ErrTripNotActive) {
		t.Errorf("expected ErrTripNotActive after shutdown, got %v", err)
	}
}

func TestRestoreActive_ContinuesStoredMeterWithoutCache(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	category := h.createCategory(t, cityCategory())
	trip := h.startTrip(t, service.StartTripRequest{DriverID: "driver-1", FareCategoryID: category.ID})

	before := h.tick(t, trip.ID, 300)
	assertMoney(t, "total before shutdown", before.TotalCost, "45.00")

	h.svc.Shutdown()
	// The cached snapshot expired while no process ran the meter.
	if err := h.cache.DeleteMeter(context.Background(), trip.ID); err != nil {
		t.Fatalf("delete meter: %v", err)
	}

	restored, err := h.svc.RestoreActive(context.Background())
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored != 1 {
		t.Fatalf("expected 1 restored meter, got %d", restored)
	}
	h.mu.Lock()
	h.ticks[trip.ID] = h.tickers.last()
	h.mu.Unlock()

	live, err := h.svc.GetMeter(context.Background(), trip.ID)
	if err != nil {
		t.Fatalf("get meter: %v", err)
	}
	if live.ElapsedSeconds != 300 {
		t.Errorf("expected meter to resume at 300 s, got %d", live.ElapsedSeconds)
	}
	if live.TotalCost.LessThan(before.TotalCost) {
		t.Errorf("meter went backwards: %s -> %s", before.TotalCost, live.TotalCost)
	}

	after := h.tick(t, trip.ID, 1)
	if after.ElapsedSeconds != 301 {
		t.Errorf("expected 301 s, got %d", after.ElapsedSeconds)
	}
	// 25 + 301/15
	assertMoney(t, "total after restore", after.TotalCost, "45.07")
}

// ──────────────────────────────────────────────
// 7. CONCURRENCY
// ──────────────────────────────────────────────

func TestMeter_ConcurrentTicksPositionsAndReads(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	category := h.createCategory(t, cityCategory())
	trip := h.startTrip(t, service.StartTripRequest{DriverID: "driver-1", FareCategoryID: category.ID})

	const samples = 200
	var wg sync.WaitGroup
	errs := make(chan error, 2*samples)

	wg.Add(1)
	go func() {
		defer wg.Done()
		pos := addisAbaba
		ts := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
		for i := 0; i < samples; i++ {
			if i > 0 {
				pos = northOf(pos, 0.1)
				ts = ts.Add(10 * time.Second)
			}
			if err := h.svc.RecordPosition(context.Background(), service.RecordPositionRequest{
				TripID:    trip.ID,
				Lat:       pos.Lat,
				Lng:       pos.Lng,
				Timestamp: ts,
			}); err != nil {
				errs <- err
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < samples; i++ {
			if _, err := h.svc.GetMeter(context.Background(), trip.ID); err != nil {
				errs <- err
			}
		}
	}()

	snapshot := h.tick(t, trip.ID, samples)
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent call failed: %v", err)
	}

	if snapshot.ElapsedSeconds != samples {
		t.Errorf("expected %d elapsed seconds, got %d", samples, snapshot.ElapsedSeconds)
	}

	final, err := h.svc.GetMeter(context.Background(), trip.ID)
	if err != nil {
		t.Fatalf("get meter: %v", err)
	}
	// 199 deltas of 0.1 km at 36 km/h.
	if math.Abs(final.DistanceKm-19.9) > 1e-6 {
		t.Errorf("expected 19.9 km, got %f", final.DistanceKm)
	}
}

func TestStartTrip_ConcurrentStartsForOneDriver(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	category := h.createCategory(t, standardCategory())

	const attempts = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	started := 0
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.StartTrip(context.Background(), service.StartTripRequest{
				DriverID:       "driver-1",
				FareCategoryID: category.ID,
			})
			if err == nil {
				mu.Lock()
				started++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if started != 1 {
		t.Errorf("expected exactly 1 trip to start, got %d", started)
	}
	if n := h.trips.CountActiveTripsForDriver("driver-1"); n != 1 {
		t.Errorf("expected 1 active trip, got %d", n)
	}
}
