package repository

import (
	"context"

	"taximeter/internal/domain"
)

// FareCategoryRepository defines the persistence operations for fare categories.
type FareCategoryRepository interface {
	// Create persists a new category.
	Create(ctx context.Context, category *domain.FareCategory) error

	// GetByID retrieves a category by ID.
	GetByID(ctx context.Context, id string) (*domain.FareCategory, error)

	// GetAll retrieves all categories ordered by name.
	GetAll(ctx context.Context) ([]*domain.FareCategory, error)

	// Update replaces the rates of an existing category.
	Update(ctx context.Context, category *domain.FareCategory) error

	// Delete removes a category.
	Delete(ctx context.Context, id string) error
}
