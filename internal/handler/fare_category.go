package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"taximeter/internal/domain"
	"taximeter/internal/meter"
	"taximeter/internal/service"
)

// FareCategoryHandler handles HTTP requests for fare categories.
type FareCategoryHandler struct {
	pricingService *service.PricingService
}

// NewFareCategoryHandler creates a new FareCategoryHandler.
func NewFareCategoryHandler(pricingService *service.PricingService) *FareCategoryHandler {
	return &FareCategoryHandler{pricingService: pricingService}
}

// FareCategoryRequest is the HTTP request body for creating or updating a
// fare category. Amounts may be sent as numbers or strings.
type FareCategoryRequest struct {
	Name                string             `json:"name"`
	BasicFare           decimal.Decimal    `json:"basic_fare"`
	MinimumFare         decimal.Decimal    `json:"minimum_fare"`
	CostPerDistanceUnit decimal.Decimal    `json:"cost_per_distance_unit"`
	CostPerMinute       decimal.Decimal    `json:"cost_per_minute"`
	DecimalDigits       int32              `json:"decimal_digits"`
	CurrencySymbol      string             `json:"currency_symbol"`
	DistanceUnit        meter.DistanceUnit `json:"distance_unit"`
}

func (r FareCategoryRequest) toService() service.FareCategoryRequest {
	unit := r.DistanceUnit
	if unit == "" {
		unit = meter.UnitKilometer
	}
	return service.FareCategoryRequest{
		Name:                r.Name,
		BasicFare:           r.BasicFare,
		MinimumFare:         r.MinimumFare,
		CostPerDistanceUnit: r.CostPerDistanceUnit,
		CostPerMinute:       r.CostPerMinute,
		DecimalDigits:       r.DecimalDigits,
		CurrencySymbol:      r.CurrencySymbol,
		DistanceUnit:        unit,
	}
}

// Create handles POST /v1/fare-categories
func (h *FareCategoryHandler) Create(c *gin.Context) {
	var req FareCategoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	category, err := h.pricingService.Create(c.Request.Context(), req.toService())
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusCreated, category)
}

// GetAll handles GET /v1/fare-categories
func (h *FareCategoryHandler) GetAll(c *gin.Context) {
	categories, err := h.pricingService.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	if categories == nil {
		categories = []*domain.FareCategory{}
	}
	respondJSON(c, http.StatusOK, categories)
}

// Get handles GET /v1/fare-categories/:id
func (h *FareCategoryHandler) Get(c *gin.Context) {
	category, err := h.pricingService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, category)
}

// Update handles PUT /v1/fare-categories/:id
func (h *FareCategoryHandler) Update(c *gin.Context) {
	var req FareCategoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	category, err := h.pricingService.Update(c.Request.Context(), c.Param("id"), req.toService())
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, category)
}

// Delete handles DELETE /v1/fare-categories/:id
func (h *FareCategoryHandler) Delete(c *gin.Context) {
	if err := h.pricingService.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
