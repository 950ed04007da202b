package repository

import "errors"

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrConflict is returned when a unique constraint is violated.
	ErrConflict = errors.New("entity already exists")
)
