package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/turfgrid/turfgrid/internal/domain"
	"github.com/turfgrid/turfgrid/internal/dto"
	"github.com/turfgrid/turfgrid/internal/repository"
	"github.com/turfgrid/turfgrid/internal/service"
	"github.com/turfgrid/turfgrid/pkg/response"
)

// AdminHandler serves administrative block and reconciliation endpoints
type AdminHandler struct {
	blocks         service.BlockService
	reconciliation repository.ReconciliationRepository
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(blocks service.BlockService, reconciliation repository.ReconciliationRepository) *AdminHandler {
	return &AdminHandler{blocks: blocks, reconciliation: reconciliation}
}

// BlockSlot handles POST /api/v1/admin/blocks/slots
func (h *AdminHandler) BlockSlot(c *gin.Context) {
	req := &dto.BlockSlotRequest{}
	if err := c.ShouldBindJSON(req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	slot, err := domain.ParseTimeRange(req.Slot)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	block, err := h.blocks.BlockSlot(c.Request.Context(), req.FacilityID, req.Date, slot, req.Reason)
	if err != nil {
		h.writeError(c, err)
		return
	}

	response.Created(c, dto.NewBlockedSlotResponse(block))
}

// UnblockSlot handles DELETE /api/v1/admin/blocks/slots/:id
func (h *AdminHandler) UnblockSlot(c *gin.Context) {
	block, err := h.blocks.UnblockSlot(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, dto.NewBlockedSlotResponse(block))
}

// ListBlockedSlots handles GET /api/v1/admin/blocks/slots
func (h *AdminHandler) ListBlockedSlots(c *gin.Context) {
	facilityID := c.Query("facility_id")
	date := c.Query("date")
	if facilityID == "" || date == "" {
		response.BadRequest(c, "facility_id and date are required")
		return
	}

	blocks, err := h.blocks.ListBlockedSlots(c.Request.Context(), facilityID, date)
	if err != nil {
		h.writeError(c, err)
		return
	}

	out := make([]*dto.BlockedSlotResponse, 0, len(blocks))
	for _, b := range blocks {
		out = append(out, dto.NewBlockedSlotResponse(b))
	}
	response.Success(c, out)
}

// BlockDate handles POST /api/v1/admin/blocks/dates
func (h *AdminHandler) BlockDate(c *gin.Context) {
	req := &dto.BlockDateRequest{}
	if err := c.ShouldBindJSON(req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	block, err := h.blocks.BlockDate(c.Request.Context(), req.Date, req.Reason)
	if err != nil {
		h.writeError(c, err)
		return
	}

	response.Created(c, dto.NewBlockedDateResponse(block))
}

// UnblockDate handles DELETE /api/v1/admin/blocks/dates/:date
func (h *AdminHandler) UnblockDate(c *gin.Context) {
	block, err := h.blocks.UnblockDate(c.Request.Context(), c.Param("date"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, dto.NewBlockedDateResponse(block))
}

// ListReconciliation handles GET /api/v1/admin/reconciliation
func (h *AdminHandler) ListReconciliation(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	entries, err := h.reconciliation.List(c.Request.Context(), limit, offset)
	if err != nil {
		response.InternalError(c, err)
		return
	}

	out := make([]*dto.ReconciliationEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, dto.NewReconciliationEntryResponse(e))
	}
	response.Success(c, out)
}

func (h *AdminHandler) writeError(c *gin.Context, err error) {
	switch {
	case domain.IsNotFoundError(err):
		response.NotFound(c, err.Error())
	case domain.IsValidationError(err):
		response.BadRequest(c, err.Error())
	default:
		response.InternalError(c, err)
	}
}
