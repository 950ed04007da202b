package service

import "errors"

var (
	// ErrInvalidDriverID is returned when driver ID is empty.
	ErrInvalidDriverID = errors.New("invalid driver id")

	// ErrInvalidTripID is returned when trip ID is empty.
	ErrInvalidTripID = errors.New("invalid trip id")

	// ErrInvalidFareCategoryID is returned when fare category ID is empty.
	ErrInvalidFareCategoryID = errors.New("invalid fare category id")

	// ErrInvalidFareCategory is returned when a category's rates fail validation.
	ErrInvalidFareCategory = errors.New("invalid fare category")

	// ErrInvalidLocation is returned when location coordinates are invalid.
	ErrInvalidLocation = errors.New("invalid location")

	// ErrInvalidMultiplier is returned when a multiplier is outside the allowed range.
	ErrInvalidMultiplier = errors.New("invalid multiplier")

	// ErrDriverHasActiveTrip is returned when driver already has an active trip.
	ErrDriverHasActiveTrip = errors.New("driver already has an active trip")

	// ErrTripAlreadyEnded is returned when trying to change an already ended trip.
	ErrTripAlreadyEnded = errors.New("trip already ended")

	// ErrTripNotStarted is returned when trying to pause a trip that isn't running.
	ErrTripNotStarted = errors.New("trip not started")

	// ErrTripNotPaused is returned when trying to resume a trip that isn't paused.
	ErrTripNotPaused = errors.New("trip not paused")

	// ErrTripNotActive is returned when no meter is running for the trip on this instance.
	ErrTripNotActive = errors.New("trip has no running meter")

	// ErrTripNotEnded is returned when a receipt is requested before the trip ends.
	ErrTripNotEnded = errors.New("trip not ended")
)
