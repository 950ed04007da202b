package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"taximeter/internal/domain"
	"taximeter/internal/logger"
)

// EventPublisher delivers trip events to the bus.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

// NotificationService announces trip lifecycle changes on the event bus.
type NotificationService struct {
	publisher EventPublisher
	log       *logger.Logger
}

// NewNotificationService creates a new NotificationService.
func NewNotificationService(publisher EventPublisher, log *logger.Logger) *NotificationService {
	return &NotificationService{publisher: publisher, log: log}
}

// NotifyTripStarted announces a new running meter.
func (s *NotificationService) NotifyTripStarted(ctx context.Context, trip *domain.Trip) error {
	return s.send(ctx, domain.EventTypeTripStarted, trip, map[string]interface{}{
		"fare_category_id": trip.FareCategoryID,
		"multiplier":       trip.Multiplier.String(),
		"started_at":       trip.StartedAt,
	})
}

// NotifyTripPaused announces that the meter was paused.
func (s *NotificationService) NotifyTripPaused(ctx context.Context, trip *domain.Trip) error {
	return s.send(ctx, domain.EventTypeTripPaused, trip, map[string]interface{}{
		"paused_at": trip.PausedAt,
	})
}

// NotifyTripResumed announces that the meter was resumed.
func (s *NotificationService) NotifyTripResumed(ctx context.Context, trip *domain.Trip) error {
	return s.send(ctx, domain.EventTypeTripResumed, trip, map[string]interface{}{
		"total_paused_seconds": int64(trip.TotalPaused.Seconds()),
	})
}

// NotifyTripEnded announces the final reading of a trip.
func (s *NotificationService) NotifyTripEnded(ctx context.Context, trip *domain.Trip) error {
	return s.send(ctx, domain.EventTypeTripCompleted, trip, map[string]interface{}{
		"distance_km":     trip.DistanceKm,
		"elapsed_seconds": trip.ElapsedSeconds,
		"total_fare":      trip.TotalFare.String(),
		"currency_symbol": trip.Category.CurrencySymbol,
		"ended_at":        trip.EndedAt,
	})
}

// NotifyReceiptReady announces that the receipt can be fetched.
func (s *NotificationService) NotifyReceiptReady(ctx context.Context, receipt *domain.Receipt) error {
	event := domain.Event{
		ID:        uuid.New().String(),
		Type:      domain.EventTypeReceiptReady,
		TripID:    receipt.TripID,
		DriverID:  receipt.DriverID,
		Timestamp: time.Now().UTC(),
		Data: map[string]interface{}{
			"receipt_id": receipt.ID,
			"total_fare": receipt.TotalFare.String(),
		},
	}
	return s.publish(ctx, event)
}

func (s *NotificationService) send(ctx context.Context, eventType domain.EventType, trip *domain.Trip, data map[string]interface{}) error {
	return s.publish(ctx, domain.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		TripID:    trip.ID,
		DriverID:  trip.DriverID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	})
}

func (s *NotificationService) publish(ctx context.Context, event domain.Event) error {
	s.log.WithFields(map[string]interface{}{
		"event_type": event.Type,
		"trip_id":    event.TripID,
		"driver_id":  event.DriverID,
	}).Info("Trip event")

	if s.publisher == nil {
		return nil
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.log.WithError(err).WithField("event_type", event.Type).Warn("Failed to publish trip event")
		return err
	}
	return nil
}
