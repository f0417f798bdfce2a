package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/turfgrid/turfgrid/internal/domain"
	"github.com/turfgrid/turfgrid/internal/dto"
	"github.com/turfgrid/turfgrid/internal/service"
	"github.com/turfgrid/turfgrid/pkg/response"
)

// AvailabilityHandler serves facility and snapshot read endpoints
type AvailabilityHandler struct {
	availability service.AvailabilityService
}

// NewAvailabilityHandler creates a new AvailabilityHandler
func NewAvailabilityHandler(availability service.AvailabilityService) *AvailabilityHandler {
	return &AvailabilityHandler{availability: availability}
}

// ListFacilities handles GET /api/v1/facilities
func (h *AvailabilityHandler) ListFacilities(c *gin.Context) {
	facilities, err := h.availability.ListFacilities(c.Request.Context())
	if err != nil {
		response.InternalError(c, err)
		return
	}

	out := make([]*dto.FacilityResponse, 0, len(facilities))
	for _, f := range facilities {
		out = append(out, dto.NewFacilityResponse(f))
	}
	response.Success(c, out)
}

// GetAvailability handles GET /api/v1/facilities/:id/availability?date=YYYY-MM-DD
func (h *AvailabilityHandler) GetAvailability(c *gin.Context) {
	date := c.Query("date")
	if date == "" {
		response.BadRequest(c, "date is required")
		return
	}

	topic := domain.NewTopic(c.Param("id"), date)
	snap, err := h.availability.Snapshot(c.Request.Context(), topic)
	if err != nil {
		switch {
		case domain.IsNotFoundError(err):
			response.NotFound(c, err.Error())
		case domain.IsValidationError(err):
			response.BadRequest(c, err.Error())
		default:
			response.InternalError(c, err)
		}
		return
	}

	response.Success(c, dto.NewAvailabilityResponse(snap))
}
