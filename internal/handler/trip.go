package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"taximeter/internal/domain"
	"taximeter/internal/service"
)

// TripHandler handles HTTP requests for trips.
type TripHandler struct {
	tripService *service.TripService
}

// NewTripHandler creates a new TripHandler.
func NewTripHandler(tripService *service.TripService) *TripHandler {
	return &TripHandler{tripService: tripService}
}

// StartTripRequest is the HTTP request body for starting a trip.
type StartTripRequest struct {
	DriverID       string           `json:"driver_id"`
	FareCategoryID string           `json:"fare_category_id"`
	Multiplier     *decimal.Decimal `json:"multiplier,omitempty"`
	Lat            *float64         `json:"lat,omitempty"`
	Lng            *float64         `json:"lng,omitempty"`
}

// PositionRequest is the HTTP request body for a device position sample.
type PositionRequest struct {
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Timestamp time.Time `json:"timestamp"`
}

// MultiplierRequest is the HTTP request body for changing the multiplier.
type MultiplierRequest struct {
	Multiplier decimal.Decimal `json:"multiplier"`
}

// EndTripRequest is the optional HTTP request body for ending a trip.
type EndTripRequest struct {
	Lat *float64 `json:"lat,omitempty"`
	Lng *float64 `json:"lng,omitempty"`
}

// TripResponse is the HTTP response for trip operations.
type TripResponse struct {
	TripID         string           `json:"trip_id"`
	DriverID       string           `json:"driver_id"`
	FareCategoryID string           `json:"fare_category_id"`
	FareCategory   string           `json:"fare_category"`
	Status         string           `json:"status"`
	Multiplier     string           `json:"multiplier"`
	CurrencySymbol string           `json:"currency_symbol"`
	DistanceKm     float64          `json:"distance_km"`
	Distance       float64          `json:"distance"`
	DistanceUnit   string           `json:"distance_unit"`
	ElapsedSeconds int64            `json:"elapsed_seconds"`
	BasicFare      string           `json:"basic_fare"`
	DistanceCost   string           `json:"distance_cost"`
	TimeCost       string           `json:"time_cost"`
	TotalFare      string           `json:"total_fare"`
	StartLat       float64          `json:"start_lat,omitempty"`
	StartLng       float64          `json:"start_lng,omitempty"`
	EndLat         float64          `json:"end_lat,omitempty"`
	EndLng         float64          `json:"end_lng,omitempty"`
	StartedAt      string           `json:"started_at"`
	EndedAt        string           `json:"ended_at,omitempty"`
	PausedAt       string           `json:"paused_at,omitempty"`
	TotalPaused    int64            `json:"total_paused_seconds,omitempty"`
	Receipt        *ReceiptResponse `json:"receipt,omitempty"`
}

// ReceiptResponse contains receipt details in the response.
type ReceiptResponse struct {
	ID                    string  `json:"id"`
	TripID                string  `json:"trip_id"`
	FareCategory          string  `json:"fare_category"`
	CurrencySymbol        string  `json:"currency_symbol"`
	BasicFare             string  `json:"basic_fare"`
	DistanceCost          string  `json:"distance_cost"`
	TimeCost              string  `json:"time_cost"`
	MinimumFareAdjustment string  `json:"minimum_fare_adjustment"`
	SurgeMultiplier       string  `json:"surge_multiplier"`
	SurgeAmount           string  `json:"surge_amount"`
	Rounding              string  `json:"rounding"`
	TotalFare             string  `json:"total_fare"`
	Distance              float64 `json:"distance"`
	DistanceUnit          string  `json:"distance_unit"`
	DurationSeconds       int64   `json:"duration_seconds"`
	PausedSeconds         int64   `json:"paused_seconds,omitempty"`
	StartedAt             string  `json:"started_at"`
	EndedAt               string  `json:"ended_at"`
}

// MeterResponse is the live meter as shown on the taximeter display.
type MeterResponse struct {
	TripID         string  `json:"trip_id"`
	Status         string  `json:"status"`
	ElapsedSeconds int64   `json:"elapsed_seconds"`
	Duration       string  `json:"duration"`
	Distance       float64 `json:"distance"`
	DistanceUnit   string  `json:"distance_unit"`
	IsMoving       bool    `json:"is_moving"`
	SpeedKmh       float64 `json:"speed_kmh"`
	BasicFare      string  `json:"basic_fare"`
	DistanceCost   string  `json:"distance_cost"`
	TimeCost       string  `json:"time_cost"`
	Total          string  `json:"total"`
	Multiplier     string  `json:"multiplier"`
	NextMultiplier string  `json:"next_multiplier"`
	CurrencySymbol string  `json:"currency_symbol"`
	UpdatedAt      string  `json:"updated_at"`
}

func toTripResponse(trip *domain.Trip) TripResponse {
	digits := trip.Category.DecimalDigits
	response := TripResponse{
		TripID:         trip.ID,
		DriverID:       trip.DriverID,
		FareCategoryID: trip.FareCategoryID,
		FareCategory:   trip.Category.Name,
		Status:         string(trip.Status),
		Multiplier:     trip.Multiplier.StringFixed(2),
		CurrencySymbol: trip.Category.CurrencySymbol,
		DistanceKm:     trip.DistanceKm,
		Distance:       trip.Category.DistanceUnit.FromKm(trip.DistanceKm),
		DistanceUnit:   string(trip.Category.DistanceUnit),
		ElapsedSeconds: trip.ElapsedSeconds,
		BasicFare:      money(trip.BasicFare, digits),
		DistanceCost:   money(trip.DistanceCost, digits),
		TimeCost:       money(trip.TimeCost, digits),
		TotalFare:      money(trip.TotalFare, digits),
		StartLat:       trip.StartLat,
		StartLng:       trip.StartLng,
		EndLat:         trip.EndLat,
		EndLng:         trip.EndLng,
		StartedAt:      trip.StartedAt.Format(timeLayout),
		TotalPaused:    int64(trip.TotalPaused.Seconds()),
	}

	if !trip.EndedAt.IsZero() {
		response.EndedAt = trip.EndedAt.Format(timeLayout)
	}

	if !trip.PausedAt.IsZero() {
		response.PausedAt = trip.PausedAt.Format(timeLayout)
	}

	return response
}

func toReceiptResponse(r *domain.Receipt) *ReceiptResponse {
	digits := r.DecimalDigits
	return &ReceiptResponse{
		ID:                    r.ID,
		TripID:                r.TripID,
		FareCategory:          r.FareCategory,
		CurrencySymbol:        r.CurrencySymbol,
		BasicFare:             money(r.BasicFare, digits),
		DistanceCost:          money(r.DistanceCost, digits),
		TimeCost:              money(r.TimeCost, digits),
		MinimumFareAdjustment: money(r.MinimumFareAdjustment, digits),
		SurgeMultiplier:       r.SurgeMultiplier.StringFixed(2),
		SurgeAmount:           money(r.SurgeAmount, digits),
		Rounding:              money(r.Rounding, digits),
		TotalFare:             money(r.TotalFare, digits),
		Distance:              r.Distance,
		DistanceUnit:          r.DistanceUnit,
		DurationSeconds:       int64(r.Duration.Seconds()),
		PausedSeconds:         int64(r.PausedDuration.Seconds()),
		StartedAt:             r.StartedAt.Format(timeLayout),
		EndedAt:               r.EndedAt.Format(timeLayout),
	}
}

func toMeterResponse(m *domain.MeterSnapshot) MeterResponse {
	next := m.NextMultiplier
	if next.IsZero() {
		next = m.Multiplier
	}
	return MeterResponse{
		TripID:         m.TripID,
		Status:         string(m.Status),
		ElapsedSeconds: m.ElapsedSeconds,
		Duration:       clock(m.ElapsedSeconds),
		Distance:       m.Distance,
		DistanceUnit:   m.DistanceUnit,
		IsMoving:       m.IsMoving,
		SpeedKmh:       m.SpeedKmh,
		BasicFare:      money(m.BasicFare, m.DecimalDigits),
		DistanceCost:   money(m.DistanceCost, m.DecimalDigits),
		TimeCost:       money(m.TimeCost, m.DecimalDigits),
		Total:          money(m.TotalCost, m.DecimalDigits),
		Multiplier:     m.Multiplier.StringFixed(2),
		NextMultiplier: next.StringFixed(2),
		CurrencySymbol: m.CurrencySymbol,
		UpdatedAt:      m.UpdatedAt.Format(timeLayout),
	}
}

// clock renders seconds as HH:MM:SS.
func clock(seconds int64) string {
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, (seconds%3600)/60, seconds%60)
}

// StartTrip handles POST /v1/trips
func (h *TripHandler) StartTrip(c *gin.Context) {
	var req StartTripRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	trip, err := h.tripService.StartTrip(c.Request.Context(), service.StartTripRequest{
		DriverID:       req.DriverID,
		FareCategoryID: req.FareCategoryID,
		Multiplier:     req.Multiplier,
		Lat:            req.Lat,
		Lng:            req.Lng,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusCreated, toTripResponse(trip))
}

// RecordPosition handles POST /v1/trips/:id/positions
func (h *TripHandler) RecordPosition(c *gin.Context) {
	tripID := c.Param("id")

	var req PositionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	err := h.tripService.RecordPosition(c.Request.Context(), service.RecordPositionRequest{
		TripID:    tripID,
		Lat:       req.Lat,
		Lng:       req.Lng,
		Timestamp: req.Timestamp,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusAccepted)
}

// SetMultiplier handles PUT /v1/trips/:id/multiplier
func (h *TripHandler) SetMultiplier(c *gin.Context) {
	tripID := c.Param("id")

	var req MultiplierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	snapshot, err := h.tripService.SetMultiplier(c.Request.Context(), service.SetMultiplierRequest{
		TripID:     tripID,
		Multiplier: req.Multiplier,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toMeterResponse(snapshot))
}

// EndTrip handles POST /v1/trips/:id/end
func (h *TripHandler) EndTrip(c *gin.Context) {
	tripID := c.Param("id")

	var req EndTripRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
			return
		}
	}

	result, err := h.tripService.EndTrip(c.Request.Context(), service.EndTripRequest{
		TripID: tripID,
		Lat:    req.Lat,
		Lng:    req.Lng,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	response := toTripResponse(result.Trip)
	if result.Receipt != nil {
		response.Receipt = toReceiptResponse(result.Receipt)
	}

	respondJSON(c, http.StatusOK, response)
}

// PauseTrip handles POST /v1/trips/:id/pause
func (h *TripHandler) PauseTrip(c *gin.Context) {
	tripID := c.Param("id")

	trip, err := h.tripService.PauseTrip(c.Request.Context(), service.PauseTripRequest{
		TripID: tripID,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toTripResponse(trip))
}

// ResumeTrip handles POST /v1/trips/:id/resume
func (h *TripHandler) ResumeTrip(c *gin.Context) {
	tripID := c.Param("id")

	trip, err := h.tripService.ResumeTrip(c.Request.Context(), service.ResumeTripRequest{
		TripID: tripID,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toTripResponse(trip))
}

// GetMeter handles GET /v1/trips/:id/meter
func (h *TripHandler) GetMeter(c *gin.Context) {
	snapshot, err := h.tripService.GetMeter(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toMeterResponse(snapshot))
}

// GetReceipt handles GET /v1/trips/:id/receipt. ?format=text returns the
// printable receipt.
func (h *TripHandler) GetReceipt(c *gin.Context) {
	receipt, err := h.tripService.GetReceipt(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	if c.Query("format") == "text" {
		c.String(http.StatusOK, h.tripService.FormatReceipt(receipt))
		return
	}

	respondJSON(c, http.StatusOK, toReceiptResponse(receipt))
}

// GetTrip handles GET /v1/trips/:id
func (h *TripHandler) GetTrip(c *gin.Context) {
	tripID := c.Param("id")

	trip, err := h.tripService.GetTrip(c.Request.Context(), tripID)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toTripResponse(trip))
}

// GetAll handles GET /v1/trips
func (h *TripHandler) GetAll(c *gin.Context) {
	trips, err := h.tripService.GetAllTrips(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	response := make([]TripResponse, 0, len(trips))
	for _, trip := range trips {
		response = append(response, toTripResponse(trip))
	}

	c.JSON(http.StatusOK, response)
}
