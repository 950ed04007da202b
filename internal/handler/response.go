package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"taximeter/internal/meter"
	"taximeter/internal/repository"
	"taximeter/internal/service"
)

const timeLayout = "2006-01-02T15:04:05Z07:00"

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// respondError sends an error response with the appropriate HTTP status code.
func respondError(c *gin.Context, err error) {
	code := mapErrorToHTTPStatus(err)
	if code == http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(code, ErrorResponse{Error: err.Error()})
}

// respondJSON sends a JSON response with the given status code.
func respondJSON(c *gin.Context, code int, data any) {
	c.JSON(code, data)
}

// mapErrorToHTTPStatus maps service/repository errors to HTTP status codes.
func mapErrorToHTTPStatus(err error) int {
	switch {
	// Not found errors
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound

	// Validation errors - Bad Request
	case errors.Is(err, service.ErrInvalidDriverID),
		errors.Is(err, service.ErrInvalidTripID),
		errors.Is(err, service.ErrInvalidFareCategoryID),
		errors.Is(err, service.ErrInvalidFareCategory),
		errors.Is(err, service.ErrInvalidLocation),
		errors.Is(err, service.ErrInvalidMultiplier):
		return http.StatusBadRequest

	// Conflict errors
	case errors.Is(err, repository.ErrConflict),
		errors.Is(err, service.ErrDriverHasActiveTrip),
		errors.Is(err, service.ErrTripAlreadyEnded),
		errors.Is(err, service.ErrTripNotStarted),
		errors.Is(err, service.ErrTripNotPaused),
		errors.Is(err, service.ErrTripNotEnded):
		return http.StatusConflict

	// The meter runs on another instance
	case errors.Is(err, service.ErrTripNotActive):
		return http.StatusServiceUnavailable

	// Default to internal server error
	default:
		return http.StatusInternalServerError
	}
}

// money rounds amount to the category precision for display.
func money(amount decimal.Decimal, digits int32) string {
	return meter.Round(amount, digits).StringFixed(digits)
}
