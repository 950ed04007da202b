package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"taximeter/internal/domain"
	"taximeter/internal/repository"
)

const tripColumns = `id, driver_id, fare_category_id, status, fare_snapshot, multiplier,
		start_lat, start_lng, end_lat, end_lng, distance_km, elapsed_seconds,
		basic_fare, distance_cost, time_cost, total_fare,
		started_at, ended_at, paused_at, total_paused_seconds`

// TripRepository is a PostgreSQL implementation of repository.TripRepository.
type TripRepository struct {
	q Querier
}

// NewTripRepository creates a new PostgreSQL trip repository.
func NewTripRepository(db *sql.DB) *TripRepository {
	return &TripRepository{q: db}
}

// Create persists a new trip.
func (r *TripRepository) Create(ctx context.Context, trip *domain.Trip) error {
	query := `
		INSERT INTO trips (` + tripColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`

	snapshot, err := json.Marshal(trip.Category)
	if err != nil {
		return fmt.Errorf("encode fare snapshot: %w", err)
	}

	_, err = r.q.ExecContext(ctx, query,
		trip.ID,
		trip.DriverID,
		trip.FareCategoryID,
		trip.Status,
		snapshot,
		trip.Multiplier,
		trip.StartLat,
		trip.StartLng,
		trip.EndLat,
		trip.EndLng,
		trip.DistanceKm,
		trip.ElapsedSeconds,
		trip.BasicFare,
		trip.DistanceCost,
		trip.TimeCost,
		trip.TotalFare,
		trip.StartedAt,
		nullTime(trip.EndedAt),
		nullTime(trip.PausedAt),
		int64(trip.TotalPaused.Seconds()),
	)
	return mapWriteError(err)
}

// GetByID retrieves a trip by ID.
func (r *TripRepository) GetByID(ctx context.Context, id string) (*domain.Trip, error) {
	query := `SELECT ` + tripColumns + ` FROM trips WHERE id = $1`

	trip, err := scanTrip(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return trip, nil
}

// GetAll retrieves the most recent trips.
func (r *TripRepository) GetAll(ctx context.Context) ([]*domain.Trip, error) {
	query := `SELECT ` + tripColumns + ` FROM trips ORDER BY started_at DESC LIMIT 100`
	return r.list(ctx, query)
}

// GetActive retrieves every trip that has not ended.
func (r *TripRepository) GetActive(ctx context.Context) ([]*domain.Trip, error) {
	query := `SELECT ` + tripColumns + ` FROM trips WHERE status != $1 ORDER BY started_at`
	return r.list(ctx, query, domain.TripStatusEnded)
}

func (r *TripRepository) list(ctx context.Context, query string, args ...any) ([]*domain.Trip, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trips []*domain.Trip
	for rows.Next() {
		trip, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		trips = append(trips, trip)
	}
	return trips, rows.Err()
}

// Update updates an existing trip.
func (r *TripRepository) Update(ctx context.Context, trip *domain.Trip) error {
	query := `
		UPDATE trips
		SET status = $1, fare_snapshot = $2, multiplier = $3, end_lat = $4, end_lng = $5,
			distance_km = $6, elapsed_seconds = $7, basic_fare = $8, distance_cost = $9, time_cost = $10,
			total_fare = $11, ended_at = $12, paused_at = $13, total_paused_seconds = $14
		WHERE id = $15
	`

	snapshot, err := json.Marshal(trip.Category)
	if err != nil {
		return fmt.Errorf("encode fare snapshot: %w", err)
	}

	result, err := r.q.ExecContext(ctx, query,
		trip.Status,
		snapshot,
		trip.Multiplier,
		trip.EndLat,
		trip.EndLng,
		trip.DistanceKm,
		trip.ElapsedSeconds,
		trip.BasicFare,
		trip.DistanceCost,
		trip.TimeCost,
		trip.TotalFare,
		nullTime(trip.EndedAt),
		nullTime(trip.PausedAt),
		int64(trip.TotalPaused.Seconds()),
		trip.ID,
	)
	if err != nil {
		return err
	}
	return requireRow(result)
}

// GetActiveByDriverID retrieves the active trip for a driver.
// Returns nil if no active trip exists.
func (r *TripRepository) GetActiveByDriverID(ctx context.Context, driverID string) (*domain.Trip, error) {
	query := `
		SELECT ` + tripColumns + `
		FROM trips
		WHERE driver_id = $1 AND status != $2
		LIMIT 1
	`

	trip, err := scanTrip(r.q.QueryRowContext(ctx, query, driverID, domain.TripStatusEnded))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return trip, nil
}

func scanTrip(s scanner) (*domain.Trip, error) {
	var trip domain.Trip
	var snapshot []byte
	var endedAt sql.NullTime
	var pausedAt sql.NullTime
	var totalPausedSeconds int64

	err := s.Scan(
		&trip.ID,
		&trip.DriverID,
		&trip.FareCategoryID,
		&trip.Status,
		&snapshot,
		&trip.Multiplier,
		&trip.StartLat,
		&trip.StartLng,
		&trip.EndLat,
		&trip.EndLng,
		&trip.DistanceKm,
		&trip.ElapsedSeconds,
		&trip.BasicFare,
		&trip.DistanceCost,
		&trip.TimeCost,
		&trip.TotalFare,
		&trip.StartedAt,
		&endedAt,
		&pausedAt,
		&totalPausedSeconds,
	)
	if err != nil {
		return nil, err
	}

	if len(snapshot) > 0 {
		if err := json.Unmarshal(snapshot, &trip.Category); err != nil {
			return nil, fmt.Errorf("decode fare snapshot: %w", err)
		}
	}
	if endedAt.Valid {
		trip.EndedAt = endedAt.Time
	}
	if pausedAt.Valid {
		trip.PausedAt = pausedAt.Time
	}
	trip.TotalPaused = time.Duration(totalPausedSeconds) * time.Second

	return &trip, nil
}

// Ensure TripRepository implements repository.TripRepository.
var _ repository.TripRepository = (*TripRepository)(nil)
