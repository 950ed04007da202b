package domain

// DriverStatus represents the presence of a taxi.
type DriverStatus string

const (
	DriverStatusIdle    DriverStatus = "IDLE"
	DriverStatusOnTrip  DriverStatus = "ON_TRIP"
	DriverStatusOffline DriverStatus = "OFFLINE"
)
