package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/turfgrid/turfgrid/internal/domain"
	"github.com/turfgrid/turfgrid/internal/dto"
	"github.com/turfgrid/turfgrid/internal/service"
	"github.com/turfgrid/turfgrid/pkg/response"
)

// ReservationHandler serves the reservation lifecycle endpoints
type ReservationHandler struct {
	coordinator service.ReservationCoordinator
}

// NewReservationHandler creates a new ReservationHandler
func NewReservationHandler(coordinator service.ReservationCoordinator) *ReservationHandler {
	return &ReservationHandler{coordinator: coordinator}
}

// Initiate handles POST /api/v1/reservations
func (h *ReservationHandler) Initiate(c *gin.Context) {
	req := &dto.InitiateReservationRequest{}
	if err := c.ShouldBindJSON(req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	slots, err := req.ParseSlots()
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	res, err := h.coordinator.Initiate(c.Request.Context(), &service.InitiateInput{
		FacilityID: req.FacilityID,
		Date:       req.Date,
		Slots:      slots,
		Customer: domain.Customer{
			Name:  req.Customer.Name,
			Phone: req.Customer.Phone,
			Email: req.Customer.Email,
		},
		OrderID: req.OrderID,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	response.Created(c, dto.NewReservationResponse(res))
}

// Commit handles POST /api/v1/reservations/commit.
// Conflicts are 409s carrying the typed reason; idempotent replays of the
// same payment reference return the original reservation.
func (h *ReservationHandler) Commit(c *gin.Context) {
	req := &dto.CommitReservationRequest{}
	if err := c.ShouldBindJSON(req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	candidate, err := req.ToCandidate()
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.coordinator.Commit(c.Request.Context(), candidate)
	if err != nil {
		h.writeError(c, err)
		return
	}

	if result.Conflicted() {
		response.Conflict(c, string(result.Reason), "requested slots are not available")
		return
	}

	resp := &dto.CommitResponse{Outcome: string(result.Outcome)}
	if result.Reservation != nil {
		resp.ReservationID = result.Reservation.ID
	}
	if result.Outcome == domain.CommitOutcomeCommitted {
		response.Created(c, resp)
		return
	}
	response.Success(c, resp)
}

// Get handles GET /api/v1/reservations/:id
func (h *ReservationHandler) Get(c *gin.Context) {
	res, err := h.coordinator.GetReservation(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, dto.NewReservationResponse(res))
}

// Cancel handles POST /api/v1/reservations/:id/cancel
func (h *ReservationHandler) Cancel(c *gin.Context) {
	res, err := h.coordinator.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, dto.NewReservationResponse(res))
}

func (h *ReservationHandler) writeError(c *gin.Context, err error) {
	switch {
	case domain.IsNotFoundError(err):
		response.NotFound(c, err.Error())
	case domain.IsValidationError(err):
		response.BadRequest(c, err.Error())
	case err == domain.ErrAlreadyConfirmed:
		response.Conflict(c, "ALREADY_CONFIRMED", err.Error())
	case err == domain.ErrNotPending:
		response.Conflict(c, "NOT_PENDING", err.Error())
	case err == domain.ErrFacilityInactive:
		response.Error(c, http.StatusUnprocessableEntity, "FACILITY_INACTIVE", err.Error(), "")
	default:
		response.InternalError(c, err)
	}
}
