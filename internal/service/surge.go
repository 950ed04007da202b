package service

import (
	"context"
	"math"

	"github.com/shopspring/decimal"

	"taximeter/internal/config"
	"taximeter/internal/logger"
	"taximeter/internal/meter"
	"taximeter/internal/redis"
)

// SurgeService suggests a starting multiplier from taxi supply and demand
// around a point.
type SurgeService struct {
	locationStore redis.LocationStoreInterface
	cfg           config.SurgeConfig
	log           *logger.Logger
}

// NewSurgeService creates a new SurgeService.
func NewSurgeService(locationStore redis.LocationStoreInterface, cfg config.SurgeConfig, log *logger.Logger) *SurgeService {
	return &SurgeService{
		locationStore: locationStore,
		cfg:           cfg,
		log:           log,
	}
}

// SurgeQuote explains a suggested multiplier.
type SurgeQuote struct {
	Multiplier decimal.Decimal
	IdleTaxis  int
	BusyTaxis  int
}

// GetMultiplier suggests a multiplier for a trip starting at lat/lng.
// Supply is idle taxis within the radius and demand is taxis already on a
// trip there. Fails open to 1.0 when the location index is unavailable.
func (s *SurgeService) GetMultiplier(ctx context.Context, lat, lng float64) SurgeQuote {
	idle, busy, err := s.locationStore.CountNearby(ctx, lat, lng, s.cfg.RadiusKm)
	if err != nil {
		s.log.WithError(err).Warn("Surge lookup failed, using no surge")
		return SurgeQuote{Multiplier: meter.MinMultiplier}
	}

	m := s.calculateSurgeMultiplier(idle, busy)
	return SurgeQuote{
		Multiplier: decimal.NewFromFloat(m).Round(2),
		IdleTaxis:  idle,
		BusyTaxis:  busy,
	}
}

// calculateSurgeMultiplier determines the multiplier based on the demand/supply ratio.
func (s *SurgeService) calculateSurgeMultiplier(supply, demand int) float64 {
	maxSurge := math.Min(s.cfg.MaxSurge, meter.MaxMultiplier.InexactFloat64())

	if supply == 0 {
		if demand > 0 {
			return maxSurge
		}
		return 1.0
	}

	ratio := float64(demand) / float64(supply)

	switch {
	case ratio >= s.cfg.HighSurgeRatio:
		return maxSurge
	case ratio >= s.cfg.MedSurgeRatio:
		return math.Min(1.5, maxSurge)
	case ratio >= s.cfg.LowSurgeRatio:
		return math.Min(1.25, maxSurge)
	default:
		return 1.0
	}
}
