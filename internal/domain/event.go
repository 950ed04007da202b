package domain

import "time"

// EventType identifies a message on the event bus.
type EventType string

const (
	EventTypeTripStarted   EventType = "trip.started"
	EventTypeTripPaused    EventType = "trip.paused"
	EventTypeTripResumed   EventType = "trip.resumed"
	EventTypeTripCompleted EventType = "trip.completed"
	EventTypeReceiptReady  EventType = "receipt.ready"
	EventTypePosition      EventType = "position.reported"
)

// Event is the envelope published to and consumed from Kafka.
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	TripID    string                 `json:"trip_id,omitempty"`
	DriverID  string                 `json:"driver_id,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// PositionReport is a device sample for an active trip.
type PositionReport struct {
	TripID    string    `json:"trip_id"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Timestamp time.Time `json:"timestamp"`
}
