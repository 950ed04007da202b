package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"taximeter/internal/domain"
	"taximeter/internal/logger"
	"taximeter/internal/meter"
	"taximeter/internal/redis"
	"taximeter/internal/repository"
)

// TickerFunc starts a clock that delivers one value per interval. stop
// releases it.
type TickerFunc func(interval time.Duration) (ticks <-chan time.Time, stop func())

// NewTicker is the TickerFunc backed by time.Ticker.
func NewTicker(interval time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(interval)
	return t.C, t.Stop
}

// TripConfig holds the tunables of the trip lifecycle.
type TripConfig struct {
	SnapshotTTL   time.Duration
	LockTTL       time.Duration
	MaxMultiplier decimal.Decimal
}

// TripServiceDeps groups the collaborators of TripService.
type TripServiceDeps struct {
	TripRepo      repository.TripRepository
	Pricing       *PricingService
	Surge         *SurgeService
	Locations     redis.LocationStoreInterface
	Locks         redis.LockStoreInterface
	Cache         redis.CacheStoreInterface
	Receipts      *ReceiptService
	Notifications *NotificationService
	Log           *logger.Logger
	Config        TripConfig

	// Ticker defaults to NewTicker; Clock defaults to time.Now.
	Ticker TickerFunc
	Clock  func() time.Time
}

// TripService runs the meters of active trips and owns their lifecycle.
type TripService struct {
	tripRepo            repository.TripRepository
	pricingService      *PricingService
	surgeService        *SurgeService
	locationStore       redis.LocationStoreInterface
	lockStore           redis.LockStoreInterface
	cacheStore          redis.CacheStoreInterface
	receiptService      *ReceiptService
	notificationService *NotificationService
	log                 *logger.Logger
	cfg                 TripConfig
	ticker              TickerFunc
	now                 func() time.Time

	mu     sync.RWMutex
	active map[string]*activeTrip
}

// activeTrip is the in-memory half of a running trip. trip, live, watchers
// and closed are guarded by mu; runner and feed are safe on their own.
type activeTrip struct {
	runner   *meter.Runner
	feed     *meter.Feed
	stopTick func()

	// inflight counts tick publications still writing to the cache.
	inflight sync.WaitGroup

	mu       sync.Mutex
	trip     *domain.Trip
	live     *meter.Position
	watchers map[int]chan domain.MeterSnapshot
	nextID   int
	closed   bool
}

// NewTripService creates a new TripService.
func NewTripService(deps TripServiceDeps) *TripService {
	cfg := deps.Config
	if cfg.MaxMultiplier.IsZero() || cfg.MaxMultiplier.GreaterThan(meter.MaxMultiplier) {
		cfg.MaxMultiplier = meter.MaxMultiplier
	}

	ticker := deps.Ticker
	if ticker == nil {
		ticker = NewTicker
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	return &TripService{
		tripRepo:            deps.TripRepo,
		pricingService:      deps.Pricing,
		surgeService:        deps.Surge,
		locationStore:       deps.Locations,
		lockStore:           deps.Locks,
		cacheStore:          deps.Cache,
		receiptService:      deps.Receipts,
		notificationService: deps.Notifications,
		log:                 deps.Log,
		cfg:                 cfg,
		ticker:              ticker,
		now:                 clock,
		active:              make(map[string]*activeTrip),
	}
}

// StartTripRequest contains the parameters for starting a trip.
type StartTripRequest struct {
	DriverID       string
	FareCategoryID string

	// Multiplier is optional; without it a surge suggestion is used when a
	// start position is known, otherwise 1.0.
	Multiplier *decimal.Decimal
	Lat        *float64
	Lng        *float64
}

// StartTrip creates a trip in STARTED and starts its meter.
func (s *TripService) StartTrip(ctx context.Context, req StartTripRequest) (*domain.Trip, error) {
	if req.DriverID == "" {
		return nil, ErrInvalidDriverID
	}

	if req.FareCategoryID == "" {
		return nil, ErrInvalidFareCategoryID
	}

	var start *meter.Position
	if req.Lat != nil || req.Lng != nil {
		if req.Lat == nil || req.Lng == nil {
			return nil, ErrInvalidLocation
		}
		p := meter.Position{Lat: *req.Lat, Lng: *req.Lng}
		if !meter.ValidPosition(p) {
			return nil, ErrInvalidLocation
		}
		start = &p
	}

	category, err := s.pricingService.Get(ctx, req.FareCategoryID)
	if err != nil {
		return nil, err
	}

	multiplier, err := s.startingMultiplier(ctx, req.Multiplier, start)
	if err != nil {
		return nil, err
	}

	// Check if driver already has an active trip.
	existingTrip, err := s.tripRepo.GetActiveByDriverID(ctx, req.DriverID)
	if err != nil {
		return nil, err
	}

	if existingTrip != nil {
		return nil, ErrDriverHasActiveTrip
	}

	trip := &domain.Trip{
		ID:             uuid.New().String(),
		DriverID:       req.DriverID,
		FareCategoryID: category.ID,
		Status:         domain.TripStatusStarted,
		Category:       *category,
		Multiplier:     multiplier,
		BasicFare:      category.BasicFare,
		DistanceCost:   decimal.Zero,
		TimeCost:       decimal.Zero,
		TotalFare:      category.BasicFare,
		StartedAt:      s.now().UTC(),
	}
	if start != nil {
		trip.StartLat, trip.StartLng = start.Lat, start.Lng
		trip.EndLat, trip.EndLng = start.Lat, start.Lng
	}

	acquired, err := s.lockStore.AcquireDriverLock(ctx, req.DriverID, trip.ID, s.cfg.LockTTL)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, ErrDriverHasActiveTrip
	}

	if err := s.tripRepo.Create(ctx, trip); err != nil {
		_ = s.lockStore.ReleaseDriverLock(ctx, req.DriverID, trip.ID)
		return nil, err
	}

	started := *trip
	at := s.startMeter(trip, nil)
	if start != nil {
		s.updateLivePosition(ctx, at, *start)
	}

	s.log.WithTrip(started.ID).WithFields(map[string]interface{}{
		"driver_id":        started.DriverID,
		"fare_category_id": started.FareCategoryID,
		"multiplier":       started.Multiplier.String(),
	}).Info("Trip started")

	if s.notificationService != nil {
		_ = s.notificationService.NotifyTripStarted(ctx, &started)
	}

	return &started, nil
}

func (s *TripService) startingMultiplier(ctx context.Context, requested *decimal.Decimal, start *meter.Position) (decimal.Decimal, error) {
	if requested != nil {
		if err := s.validateMultiplier(*requested); err != nil {
			return decimal.Zero, err
		}
		return *requested, nil
	}

	if start != nil && s.surgeService != nil {
		quote := s.surgeService.GetMultiplier(ctx, start.Lat, start.Lng)
		if quote.Multiplier.GreaterThan(s.cfg.MaxMultiplier) {
			return s.cfg.MaxMultiplier, nil
		}
		return quote.Multiplier, nil
	}

	return meter.MinMultiplier, nil
}

func (s *TripService) validateMultiplier(m decimal.Decimal) error {
	if !meter.ValidMultiplier(m) || m.GreaterThan(s.cfg.MaxMultiplier) {
		return ErrInvalidMultiplier
	}
	return nil
}

// startMeter builds the runner of trip and registers it as active. initial
// continues a previous meter when non-nil.
func (s *TripService) startMeter(trip *domain.Trip, initial *meter.State) *activeTrip {
	at := &activeTrip{
		feed:     meter.NewFeed(),
		trip:     trip,
		watchers: make(map[int]chan domain.MeterSnapshot),
	}

	ticks, stop := s.ticker(meter.TickInterval)
	at.stopTick = stop
	at.runner = meter.NewRunner(meter.RunnerConfig{
		Pricing:    s.pricingService.PricingFor(trip.Category),
		Multiplier: trip.Multiplier,
		Source:     at.feed,
		Ticks:      ticks,
		Initial:    initial,
		OnTick:     s.onTick(at),
	})
	if trip.Status == domain.TripStatusPaused {
		at.runner.Pause()
	}

	s.mu.Lock()
	s.active[trip.ID] = at
	s.mu.Unlock()
	return at
}

// onTick publishes every new meter state to watchers and to the shared cache.
func (s *TripService) onTick(at *activeTrip) func(meter.State) {
	return func(state meter.State) {
		at.mu.Lock()
		if at.closed {
			at.mu.Unlock()
			return
		}
		snapshot := s.snapshotLocked(at, state)
		at.inflight.Add(1)
		at.mu.Unlock()
		defer at.inflight.Done()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := s.cacheStore.SetMeter(ctx, &snapshot, s.cfg.SnapshotTTL); err != nil {
			s.log.WithTrip(snapshot.TripID).WithError(err).Debug("Failed to cache meter snapshot")
		}

		at.mu.Lock()
		at.broadcastLocked(snapshot)
		at.mu.Unlock()
	}
}

func (s *TripService) snapshotLocked(at *activeTrip, state meter.State) domain.MeterSnapshot {
	p := s.pricingService.PricingFor(at.trip.Category)()
	return domain.MeterSnapshot{
		TripID:         at.trip.ID,
		Status:         at.trip.Status,
		ElapsedSeconds: state.ElapsedSeconds,
		DistanceKm:     state.AccumulatedDistanceKm,
		Distance:       p.DistanceUnit.FromKm(state.AccumulatedDistanceKm),
		DistanceUnit:   string(p.DistanceUnit),
		IsMoving:       state.IsMoving,
		SpeedKmh:       state.CurrentSpeedKmh,
		BasicFare:      state.BasicFare,
		DistanceCost:   state.DistanceCost,
		TimeCost:       state.TimeCost,
		TotalCost:      state.TotalCost,
		Multiplier:     at.runner.AppliedMultiplier(),
		NextMultiplier: at.trip.Multiplier,
		CurrencySymbol: p.CurrencySymbol,
		DecimalDigits:  state.DecimalDigits,
		UpdatedAt:      s.now().UTC(),
	}
}

// broadcastLocked hands snapshot to every watcher without blocking. A slow
// watcher only ever sees the latest snapshot.
func (at *activeTrip) broadcastLocked(snapshot domain.MeterSnapshot) {
	for _, ch := range at.watchers {
		select {
		case ch <- snapshot:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snapshot:
			default:
			}
		}
	}
}

// closeLocked stops further publications and hands the final snapshot to
// every watcher before closing it.
func (at *activeTrip) closeLocked(final domain.MeterSnapshot) {
	at.closed = true
	at.broadcastLocked(final)
	for id, ch := range at.watchers {
		close(ch)
		delete(at.watchers, id)
	}
}

// lookup returns the running trip, or explains why there is none.
func (s *TripService) lookup(ctx context.Context, tripID string) (*activeTrip, error) {
	s.mu.RLock()
	at, ok := s.active[tripID]
	s.mu.RUnlock()
	if ok {
		return at, nil
	}

	trip, err := s.tripRepo.GetByID(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if trip.Status == domain.TripStatusEnded {
		return nil, ErrTripAlreadyEnded
	}
	return nil, ErrTripNotActive
}

// RecordPositionRequest contains a device position for a running trip.
type RecordPositionRequest struct {
	TripID    string
	Lat       float64
	Lng       float64
	Timestamp time.Time
}

// RecordPosition feeds a device sample into the trip's meter.
func (s *TripService) RecordPosition(ctx context.Context, req RecordPositionRequest) error {
	if req.TripID == "" {
		return ErrInvalidTripID
	}

	pos := meter.Position{Lat: req.Lat, Lng: req.Lng}
	if !meter.ValidPosition(pos) {
		return ErrInvalidLocation
	}

	at, err := s.lookup(ctx, req.TripID)
	if err != nil {
		return err
	}

	ts := req.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	at.feed.Publish(meter.Sample{Position: pos, Timestamp: ts})

	s.updateLivePosition(ctx, at, pos)
	return nil
}

// updateLivePosition moves the taxi in the location index once it has moved
// at least meter.MinSignificantMovementKm from the last written position.
func (s *TripService) updateLivePosition(ctx context.Context, at *activeTrip, pos meter.Position) {
	at.mu.Lock()
	moved := at.live == nil || meter.DistanceKm(*at.live, pos) >= meter.MinSignificantMovementKm
	if moved {
		p := pos
		at.live = &p
	}
	at.trip.EndLat, at.trip.EndLng = pos.Lat, pos.Lng
	driverID := at.trip.DriverID
	at.mu.Unlock()

	if !moved {
		return
	}
	if err := s.locationStore.SetOnTrip(ctx, driverID, pos.Lat, pos.Lng); err != nil {
		s.log.WithError(err).WithField("driver_id", driverID).Warn("Failed to update live position")
	}
}

// SetMultiplierRequest contains the parameters for changing the multiplier.
type SetMultiplierRequest struct {
	TripID     string
	Multiplier decimal.Decimal
}

// SetMultiplier changes the dynamic multiplier of a running trip. The next
// tick applies it.
func (s *TripService) SetMultiplier(ctx context.Context, req SetMultiplierRequest) (*domain.MeterSnapshot, error) {
	if req.TripID == "" {
		return nil, ErrInvalidTripID
	}
	if err := s.validateMultiplier(req.Multiplier); err != nil {
		return nil, err
	}

	at, err := s.lookup(ctx, req.TripID)
	if err != nil {
		return nil, err
	}

	at.runner.SetMultiplier(req.Multiplier)

	at.mu.Lock()
	at.trip.Multiplier = req.Multiplier
	snapshot := s.snapshotLocked(at, at.runner.Snapshot())
	trip := *at.trip
	at.mu.Unlock()

	if err := s.tripRepo.Update(ctx, &trip); err != nil {
		return nil, err
	}

	s.log.WithTrip(trip.ID).WithField("multiplier", req.Multiplier.String()).Info("Multiplier changed")
	return &snapshot, nil
}

// PauseTripRequest contains the parameters for pausing a trip.
type PauseTripRequest struct {
	TripID string
}

// PauseTrip stops the meter without ending the trip.
func (s *TripService) PauseTrip(ctx context.Context, req PauseTripRequest) (*domain.Trip, error) {
	if req.TripID == "" {
		return nil, ErrInvalidTripID
	}

	at, err := s.lookup(ctx, req.TripID)
	if err != nil {
		return nil, err
	}

	at.mu.Lock()
	if at.trip.Status != domain.TripStatusStarted {
		at.mu.Unlock()
		return nil, ErrTripNotStarted
	}
	at.runner.Pause()
	at.trip.Status = domain.TripStatusPaused
	at.trip.PausedAt = s.now().UTC()
	trip := *at.trip
	at.mu.Unlock()

	if err := s.tripRepo.Update(ctx, &trip); err != nil {
		return nil, err
	}

	if s.notificationService != nil {
		_ = s.notificationService.NotifyTripPaused(ctx, &trip)
	}

	return &trip, nil
}

// ResumeTripRequest contains the parameters for resuming a trip.
type ResumeTripRequest struct {
	TripID string
}

// ResumeTrip restarts a paused meter. The next position sample becomes a new
// baseline so the gap is not charged as distance.
func (s *TripService) ResumeTrip(ctx context.Context, req ResumeTripRequest) (*domain.Trip, error) {
	if req.TripID == "" {
		return nil, ErrInvalidTripID
	}

	at, err := s.lookup(ctx, req.TripID)
	if err != nil {
		return nil, err
	}

	at.mu.Lock()
	if at.trip.Status != domain.TripStatusPaused {
		at.mu.Unlock()
		return nil, ErrTripNotPaused
	}
	now := s.now()
	if !at.trip.PausedAt.IsZero() {
		at.trip.TotalPaused += now.Sub(at.trip.PausedAt)
	}
	at.trip.Status = domain.TripStatusStarted
	at.trip.PausedAt = time.Time{}
	at.runner.Resume(now)
	trip := *at.trip
	at.mu.Unlock()

	if err := s.tripRepo.Update(ctx, &trip); err != nil {
		return nil, err
	}

	if s.notificationService != nil {
		_ = s.notificationService.NotifyTripResumed(ctx, &trip)
	}

	return &trip, nil
}

// GetMeter returns the live meter of a trip. Trips running on another
// instance are served from the shared cache, and ended trips from their
// final record.
func (s *TripService) GetMeter(ctx context.Context, tripID string) (*domain.MeterSnapshot, error) {
	if tripID == "" {
		return nil, ErrInvalidTripID
	}

	s.mu.RLock()
	at, ok := s.active[tripID]
	s.mu.RUnlock()
	if ok {
		state := at.runner.Snapshot()
		at.mu.Lock()
		snapshot := s.snapshotLocked(at, state)
		at.mu.Unlock()
		return &snapshot, nil
	}

	cached, err := s.cacheStore.GetMeter(ctx, tripID)
	if err == nil && cached != nil {
		return cached, nil
	}

	trip, err := s.tripRepo.GetByID(ctx, tripID)
	if err != nil {
		return nil, err
	}
	snapshot := snapshotFromTrip(trip)
	return &snapshot, nil
}

func snapshotFromTrip(trip *domain.Trip) domain.MeterSnapshot {
	p := trip.Category.Pricing()
	return domain.MeterSnapshot{
		TripID:         trip.ID,
		Status:         trip.Status,
		ElapsedSeconds: trip.ElapsedSeconds,
		DistanceKm:     trip.DistanceKm,
		Distance:       p.DistanceUnit.FromKm(trip.DistanceKm),
		DistanceUnit:   string(p.DistanceUnit),
		BasicFare:      trip.BasicFare,
		DistanceCost:   trip.DistanceCost,
		TimeCost:       trip.TimeCost,
		TotalCost:      trip.TotalFare,
		Multiplier:     trip.Multiplier,
		NextMultiplier: trip.Multiplier,
		CurrencySymbol: p.CurrencySymbol,
		DecimalDigits:  p.DecimalDigits,
		UpdatedAt:      trip.EndedAt,
	}
}

// WatchMeter subscribes to the snapshots of a running trip. The channel
// receives one snapshot per tick and is closed when the trip ends or cancel
// is called.
func (s *TripService) WatchMeter(ctx context.Context, tripID string) (<-chan domain.MeterSnapshot, func(), error) {
	if tripID == "" {
		return nil, nil, ErrInvalidTripID
	}

	at, err := s.lookup(ctx, tripID)
	if err != nil {
		return nil, nil, err
	}

	ch := make(chan domain.MeterSnapshot, 1)
	at.mu.Lock()
	id := at.nextID
	at.nextID++
	at.watchers[id] = ch
	at.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			at.mu.Lock()
			defer at.mu.Unlock()
			if c, ok := at.watchers[id]; ok {
				delete(at.watchers, id)
				close(c)
			}
		})
	}
	return ch, cancel, nil
}

// EndTripRequest contains the parameters for ending a trip.
type EndTripRequest struct {
	TripID string
	Lat    *float64
	Lng    *float64
}

// EndTripResponse contains the result of ending a trip.
type EndTripResponse struct {
	Trip    *domain.Trip
	Receipt *domain.Receipt
}

// EndTrip stops the meter, freezes its reading into the trip record and
// issues the receipt.
func (s *TripService) EndTrip(ctx context.Context, req EndTripRequest) (*EndTripResponse, error) {
	if req.TripID == "" {
		return nil, ErrInvalidTripID
	}

	var end *meter.Position
	if req.Lat != nil && req.Lng != nil {
		p := meter.Position{Lat: *req.Lat, Lng: *req.Lng}
		if !meter.ValidPosition(p) {
			return nil, ErrInvalidLocation
		}
		end = &p
	}

	s.mu.Lock()
	at, ok := s.active[req.TripID]
	delete(s.active, req.TripID)
	s.mu.Unlock()
	if !ok {
		_, err := s.lookup(ctx, req.TripID)
		return nil, err
	}

	reading := at.runner.Stop()
	at.stopTick()
	now := s.now().UTC()

	at.mu.Lock()
	trip := at.trip
	if end != nil {
		trip.EndLat, trip.EndLng = end.Lat, end.Lng
	}
	if trip.Status == domain.TripStatusPaused && !trip.PausedAt.IsZero() {
		trip.TotalPaused += now.Sub(trip.PausedAt)
		trip.PausedAt = time.Time{}
	}
	if current, ok := s.pricingService.Current(trip.FareCategoryID); ok {
		trip.Category = current
	}
	trip.Multiplier = at.runner.AppliedMultiplier()
	trip.Status = domain.TripStatusEnded
	trip.EndedAt = now
	applyReading(trip, reading)
	ended := *trip
	at.closeLocked(snapshotFromTrip(&ended))
	at.mu.Unlock()
	at.inflight.Wait()

	if err := s.tripRepo.Update(ctx, &ended); err != nil {
		s.log.WithTrip(ended.ID).WithError(err).Error("Failed to persist final reading")
		return nil, err
	}

	if err := s.lockStore.ReleaseDriverLock(ctx, ended.DriverID, ended.ID); err != nil {
		s.log.WithTrip(ended.ID).WithError(err).Warn("Failed to release driver lock")
	}
	if end != nil || ended.EndLat != 0 || ended.EndLng != 0 {
		if err := s.locationStore.SetIdle(ctx, ended.DriverID, ended.EndLat, ended.EndLng); err != nil {
			s.log.WithError(err).WithField("driver_id", ended.DriverID).Warn("Failed to mark taxi idle")
		}
	}
	if err := s.cacheStore.DeleteMeter(ctx, ended.ID); err != nil {
		s.log.WithTrip(ended.ID).WithError(err).Debug("Failed to drop cached meter")
	}

	s.log.WithTrip(ended.ID).WithFields(map[string]interface{}{
		"distance_km":     ended.DistanceKm,
		"elapsed_seconds": ended.ElapsedSeconds,
		"total_fare":      ended.TotalFare.String(),
	}).Info("Trip ended")

	if s.notificationService != nil {
		_ = s.notificationService.NotifyTripEnded(ctx, &ended)
	}

	var receipt *domain.Receipt
	if s.receiptService != nil {
		var err error
		receipt, err = s.receiptService.GenerateReceipt(ctx, &ended)
		if err != nil {
			s.log.WithTrip(ended.ID).WithError(err).Warn("Failed to generate receipt")
		} else if err := s.cacheStore.SetReceipt(ctx, receipt); err != nil {
			s.log.WithTrip(ended.ID).WithError(err).Debug("Failed to cache receipt")
		}
	}

	return &EndTripResponse{
		Trip:    &ended,
		Receipt: receipt,
	}, nil
}

// GetTrip retrieves a trip by ID. A running trip reflects its in-memory
// state.
func (s *TripService) GetTrip(ctx context.Context, tripID string) (*domain.Trip, error) {
	if tripID == "" {
		return nil, ErrInvalidTripID
	}

	s.mu.RLock()
	at, ok := s.active[tripID]
	s.mu.RUnlock()
	if ok {
		reading := meter.Stop(at.runner.Snapshot())
		at.mu.Lock()
		trip := *at.trip
		at.mu.Unlock()
		trip.DistanceKm = reading.DistanceKm
		trip.ElapsedSeconds = reading.ElapsedSeconds
		trip.BasicFare = reading.BasicFare
		trip.DistanceCost = reading.DistanceCost
		trip.TimeCost = reading.TimeCost
		trip.TotalFare = reading.TotalCost
		return &trip, nil
	}

	return s.tripRepo.GetByID(ctx, tripID)
}

// GetAllTrips retrieves all trips.
func (s *TripService) GetAllTrips(ctx context.Context) ([]*domain.Trip, error) {
	return s.tripRepo.GetAll(ctx)
}

// GetReceipt returns the receipt of an ended trip, rebuilding it when it is
// no longer cached.
func (s *TripService) GetReceipt(ctx context.Context, tripID string) (*domain.Receipt, error) {
	if tripID == "" {
		return nil, ErrInvalidTripID
	}

	if cached, err := s.cacheStore.GetReceipt(ctx, tripID); err == nil && cached != nil {
		return cached, nil
	}

	trip, err := s.GetTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if trip.Status != domain.TripStatusEnded {
		return nil, ErrTripNotEnded
	}

	receipt, err := s.receiptService.BuildReceipt(trip)
	if err != nil {
		return nil, err
	}
	if err := s.cacheStore.SetReceipt(ctx, receipt); err != nil {
		s.log.WithTrip(tripID).WithError(err).Debug("Failed to cache receipt")
	}
	return receipt, nil
}

// FormatReceipt renders a receipt as plain text.
func (s *TripService) FormatReceipt(receipt *domain.Receipt) string {
	return s.receiptService.FormatReceipt(receipt)
}

// applyReading copies the meter accumulators onto the trip record.
func applyReading(trip *domain.Trip, r meter.Reading) {
	trip.DistanceKm = r.DistanceKm
	trip.ElapsedSeconds = r.ElapsedSeconds
	trip.BasicFare = r.BasicFare
	trip.DistanceCost = r.DistanceCost
	trip.TimeCost = r.TimeCost
	trip.TotalFare = r.TotalCost
}

// RestoreActive restarts the meters of trips left running by a previous
// process. A meter continues from its stored record, or from the cached
// snapshot when that one is further along.
func (s *TripService) RestoreActive(ctx context.Context) (int, error) {
	trips, err := s.tripRepo.GetActive(ctx)
	if err != nil {
		return 0, err
	}

	restored := 0
	for _, trip := range trips {
		s.mu.RLock()
		_, running := s.active[trip.ID]
		s.mu.RUnlock()
		if running {
			continue
		}

		var initial *meter.State
		if trip.ElapsedSeconds > 0 {
			state := meter.Restore(meter.Reading{
				DistanceKm:     trip.DistanceKm,
				ElapsedSeconds: trip.ElapsedSeconds,
				BasicFare:      trip.BasicFare,
				DistanceCost:   trip.DistanceCost,
				TimeCost:       trip.TimeCost,
				TotalCost:      trip.TotalFare,
			}, trip.Category.DecimalDigits)
			initial = &state
		}

		snapshot, err := s.cacheStore.GetMeter(ctx, trip.ID)
		if err != nil {
			s.log.WithTrip(trip.ID).WithError(err).Warn("Cached meter unavailable, continuing from stored record")
		}
		if snapshot != nil && snapshot.ElapsedSeconds >= trip.ElapsedSeconds {
			state := meter.Restore(meter.Reading{
				DistanceKm:     snapshot.DistanceKm,
				ElapsedSeconds: snapshot.ElapsedSeconds,
				BasicFare:      snapshot.BasicFare,
				DistanceCost:   snapshot.DistanceCost,
				TimeCost:       snapshot.TimeCost,
				TotalCost:      snapshot.TotalCost,
			}, snapshot.DecimalDigits)
			initial = &state
			if next := snapshot.NextMultiplier; !next.IsZero() {
				trip.Multiplier = next
			} else if !snapshot.Multiplier.IsZero() {
				trip.Multiplier = snapshot.Multiplier
			}
		}

		if _, err := s.lockStore.AcquireDriverLock(ctx, trip.DriverID, trip.ID, s.cfg.LockTTL); err != nil {
			s.log.WithTrip(trip.ID).WithError(err).Warn("Failed to re-acquire driver lock")
		}

		s.startMeter(trip, initial)
		restored++
	}

	if restored > 0 {
		s.log.WithField("trips", restored).Info("Restored running meters")
	}
	return restored, nil
}

// Shutdown stops every running meter without ending its trip and saves the
// meter to the trip record and the shared cache, so another process can
// restore it.
func (s *TripService) Shutdown() {
	s.mu.Lock()
	trips := s.active
	s.active = make(map[string]*activeTrip)
	s.mu.Unlock()

	for _, at := range trips {
		at.runner.Stop()
		at.stopTick()

		state := at.runner.Snapshot()
		at.mu.Lock()
		snapshot := s.snapshotLocked(at, state)
		at.closeLocked(snapshot)
		trip := *at.trip
		at.mu.Unlock()
		at.inflight.Wait()

		applyReading(&trip, meter.Checkpoint(state))

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		if err := s.tripRepo.Update(ctx, &trip); err != nil {
			s.log.WithTrip(trip.ID).WithError(err).Warn("Failed to persist meter on shutdown")
		}
		if err := s.cacheStore.SetMeter(ctx, &snapshot, s.cfg.SnapshotTTL); err != nil {
			s.log.WithTrip(snapshot.TripID).WithError(err).Warn("Failed to save meter on shutdown")
		}
		cancel()
	}
}

// ActiveCount returns the number of meters running on this instance.
func (s *TripService) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.active)
}
