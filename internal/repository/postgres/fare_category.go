package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"taximeter/internal/domain"
	"taximeter/internal/repository"
)

const fareCategoryColumns = `id, name, basic_fare, minimum_fare, cost_per_distance_unit, cost_per_minute,
		decimal_digits, currency_symbol, distance_unit, created_at, updated_at`

// FareCategoryRepository is a PostgreSQL implementation of repository.FareCategoryRepository.
type FareCategoryRepository struct {
	q Querier
}

// NewFareCategoryRepository creates a new PostgreSQL fare category repository.
func NewFareCategoryRepository(db *sql.DB) *FareCategoryRepository {
	return &FareCategoryRepository{q: db}
}

// Create persists a new category.
func (r *FareCategoryRepository) Create(ctx context.Context, c *domain.FareCategory) error {
	query := `
		INSERT INTO fare_categories (` + fareCategoryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.q.ExecContext(ctx, query,
		c.ID,
		c.Name,
		c.BasicFare,
		c.MinimumFare,
		c.CostPerDistanceUnit,
		c.CostPerMinute,
		c.DecimalDigits,
		c.CurrencySymbol,
		c.DistanceUnit,
		c.CreatedAt,
		c.UpdatedAt,
	)
	return mapWriteError(err)
}

// GetByID retrieves a category by ID.
func (r *FareCategoryRepository) GetByID(ctx context.Context, id string) (*domain.FareCategory, error) {
	query := `SELECT ` + fareCategoryColumns + ` FROM fare_categories WHERE id = $1`

	c, err := scanFareCategory(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return c, nil
}

// GetAll retrieves all categories ordered by name.
func (r *FareCategoryRepository) GetAll(ctx context.Context) ([]*domain.FareCategory, error) {
	query := `SELECT ` + fareCategoryColumns + ` FROM fare_categories ORDER BY name`

	rows, err := r.q.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var categories []*domain.FareCategory
	for rows.Next() {
		c, err := scanFareCategory(rows)
		if err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// Update replaces the rates of an existing category.
func (r *FareCategoryRepository) Update(ctx context.Context, c *domain.FareCategory) error {
	query := `
		UPDATE fare_categories
		SET name = $1, basic_fare = $2, minimum_fare = $3, cost_per_distance_unit = $4, cost_per_minute = $5,
			decimal_digits = $6, currency_symbol = $7, distance_unit = $8, updated_at = $9
		WHERE id = $10
	`

	result, err := r.q.ExecContext(ctx, query,
		c.Name,
		c.BasicFare,
		c.MinimumFare,
		c.CostPerDistanceUnit,
		c.CostPerMinute,
		c.DecimalDigits,
		c.CurrencySymbol,
		c.DistanceUnit,
		c.UpdatedAt,
		c.ID,
	)
	if err != nil {
		return mapWriteError(err)
	}
	return requireRow(result)
}

// Delete removes a category.
func (r *FareCategoryRepository) Delete(ctx context.Context, id string) error {
	result, err := r.q.ExecContext(ctx, `DELETE FROM fare_categories WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(result)
}

func scanFareCategory(s scanner) (*domain.FareCategory, error) {
	var c domain.FareCategory
	err := s.Scan(
		&c.ID,
		&c.Name,
		&c.BasicFare,
		&c.MinimumFare,
		&c.CostPerDistanceUnit,
		&c.CostPerMinute,
		&c.DecimalDigits,
		&c.CurrencySymbol,
		&c.DistanceUnit,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// mapWriteError turns a unique violation into repository.ErrConflict.
func mapWriteError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return repository.ErrConflict
	}
	return err
}

// Ensure FareCategoryRepository implements repository.FareCategoryRepository.
var _ repository.FareCategoryRepository = (*FareCategoryRepository)(nil)
