package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"taximeter/internal/config"
	"taximeter/internal/domain"
	"taximeter/internal/logger"
	"taximeter/internal/meter"
	"taximeter/internal/repository"
)

// PricingService manages fare categories and keeps the current rates in
// memory so running meters read them on every tick without a round trip.
type PricingService struct {
	repo repository.FareCategoryRepository
	log  *logger.Logger

	mu         sync.RWMutex
	categories map[string]domain.FareCategory
}

// NewPricingService creates a new PricingService.
func NewPricingService(repo repository.FareCategoryRepository, log *logger.Logger) *PricingService {
	return &PricingService{
		repo:       repo,
		log:        log,
		categories: make(map[string]domain.FareCategory),
	}
}

// FareCategoryRequest contains the editable fields of a fare category.
type FareCategoryRequest struct {
	Name                string
	BasicFare           decimal.Decimal
	MinimumFare         decimal.Decimal
	CostPerDistanceUnit decimal.Decimal
	CostPerMinute       decimal.Decimal
	DecimalDigits       int32
	CurrencySymbol      string
	DistanceUnit        meter.DistanceUnit
}

func (r FareCategoryRequest) validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidFareCategory)
	}
	for field, v := range map[string]decimal.Decimal{
		"basic fare":    r.BasicFare,
		"minimum fare":  r.MinimumFare,
		"distance rate": r.CostPerDistanceUnit,
		"minute rate":   r.CostPerMinute,
	} {
		if v.IsNegative() {
			return fmt.Errorf("%w: %s must not be negative", ErrInvalidFareCategory, field)
		}
	}
	if r.DecimalDigits < 0 || r.DecimalDigits > 2 {
		return fmt.Errorf("%w: decimal digits must be 0, 1 or 2", ErrInvalidFareCategory)
	}
	if !r.DistanceUnit.Valid() {
		return fmt.Errorf("%w: distance unit must be km or mi", ErrInvalidFareCategory)
	}
	return nil
}

// Load fills the in-memory cache from the repository.
func (s *PricingService) Load(ctx context.Context) error {
	categories, err := s.repo.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load fare categories: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.categories = make(map[string]domain.FareCategory, len(categories))
	for _, c := range categories {
		s.categories[c.ID] = *c
	}
	return nil
}

// SeedDefault creates the configured default category when none exist.
func (s *PricingService) SeedDefault(ctx context.Context, cfg config.MeterConfig) (*domain.FareCategory, error) {
	s.mu.RLock()
	empty := len(s.categories) == 0
	s.mu.RUnlock()
	if !empty {
		return nil, nil
	}

	category, err := s.Create(ctx, FareCategoryRequest{
		Name:                cfg.DefaultCategoryName,
		BasicFare:           decimal.NewFromFloat(cfg.DefaultBasicFare),
		MinimumFare:         decimal.NewFromFloat(cfg.DefaultMinimumFare),
		CostPerDistanceUnit: decimal.NewFromFloat(cfg.DefaultCostPerUnit),
		CostPerMinute:       decimal.NewFromFloat(cfg.DefaultCostPerMin),
		DecimalDigits:       int32(cfg.DefaultDigits),
		CurrencySymbol:      cfg.DefaultCurrency,
		DistanceUnit:        meter.DistanceUnit(cfg.DefaultDistanceUnit),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to seed default fare category: %w", err)
	}

	s.log.WithField("fare_category_id", category.ID).Info("Seeded default fare category")
	return category, nil
}

// Create validates and stores a new category.
func (s *PricingService) Create(ctx context.Context, req FareCategoryRequest) (*domain.FareCategory, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	category := &domain.FareCategory{ID: uuid.New().String(), CreatedAt: now}
	applyRequest(category, req, now)

	if err := s.repo.Create(ctx, category); err != nil {
		return nil, err
	}

	s.store(*category)
	return category, nil
}

// Update replaces the rates of a category. Running meters priced under it
// pick up the new rates on their next tick.
func (s *PricingService) Update(ctx context.Context, id string, req FareCategoryRequest) (*domain.FareCategory, error) {
	if id == "" {
		return nil, ErrInvalidFareCategoryID
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	category, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	applyRequest(category, req, time.Now().UTC())

	if err := s.repo.Update(ctx, category); err != nil {
		return nil, err
	}

	s.store(*category)
	s.log.WithField("fare_category_id", id).Info("Fare category updated")
	return category, nil
}

// Delete removes a category. Trips already priced under it keep their snapshot.
func (s *PricingService) Delete(ctx context.Context, id string) error {
	if id == "" {
		return ErrInvalidFareCategoryID
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.categories, id)
	s.mu.Unlock()
	return nil
}

// Get returns a category, preferring the in-memory copy.
func (s *PricingService) Get(ctx context.Context, id string) (*domain.FareCategory, error) {
	if id == "" {
		return nil, ErrInvalidFareCategoryID
	}
	if c, ok := s.Current(id); ok {
		return &c, nil
	}

	category, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.store(*category)
	return category, nil
}

// List returns all categories.
func (s *PricingService) List(ctx context.Context) ([]*domain.FareCategory, error) {
	return s.repo.GetAll(ctx)
}

// Current returns the cached category with the given ID.
func (s *PricingService) Current(id string) (domain.FareCategory, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.categories[id]
	return c, ok
}

// PricingFor returns a meter.PricingFunc that reads the latest rates of the
// category, falling back to snapshot once the category is gone.
func (s *PricingService) PricingFor(snapshot domain.FareCategory) meter.PricingFunc {
	return func() meter.Pricing {
		if c, ok := s.Current(snapshot.ID); ok {
			return c.Pricing()
		}
		return snapshot.Pricing()
	}
}

func (s *PricingService) store(c domain.FareCategory) {
	s.mu.Lock()
	s.categories[c.ID] = c
	s.mu.Unlock()
}

func applyRequest(c *domain.FareCategory, req FareCategoryRequest, now time.Time) {
	c.Name = strings.TrimSpace(req.Name)
	c.BasicFare = req.BasicFare
	c.MinimumFare = req.MinimumFare
	c.CostPerDistanceUnit = req.CostPerDistanceUnit
	c.CostPerMinute = req.CostPerMinute
	c.DecimalDigits = req.DecimalDigits
	c.CurrencySymbol = req.CurrencySymbol
	c.DistanceUnit = req.DistanceUnit
	c.UpdatedAt = now
}
