package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"taximeter/internal/meter"
	"taximeter/internal/service"
)

// SurgeHandler serves multiplier suggestions.
type SurgeHandler struct {
	surgeService *service.SurgeService
}

// NewSurgeHandler creates a new SurgeHandler.
func NewSurgeHandler(surgeService *service.SurgeService) *SurgeHandler {
	return &SurgeHandler{surgeService: surgeService}
}

// SurgeResponse is the HTTP response for a multiplier suggestion.
type SurgeResponse struct {
	Multiplier string `json:"multiplier"`
	IdleTaxis  int    `json:"idle_taxis"`
	BusyTaxis  int    `json:"busy_taxis"`
}

// GetSurge handles GET /v1/surge?lat=&lng=
func (h *SurgeHandler) GetSurge(c *gin.Context) {
	lat, latErr := strconv.ParseFloat(c.Query("lat"), 64)
	lng, lngErr := strconv.ParseFloat(c.Query("lng"), 64)
	if latErr != nil || lngErr != nil || !meter.ValidPosition(meter.Position{Lat: lat, Lng: lng}) {
		respondError(c, service.ErrInvalidLocation)
		return
	}

	quote := h.surgeService.GetMultiplier(c.Request.Context(), lat, lng)
	respondJSON(c, http.StatusOK, SurgeResponse{
		Multiplier: quote.Multiplier.StringFixed(2),
		IdleTaxis:  quote.IdleTaxis,
		BusyTaxis:  quote.BusyTaxis,
	})
}
