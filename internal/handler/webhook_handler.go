package handler

import (
	"encoding/json"
	"errors"
	"io"

	"github.com/gin-gonic/gin"
	"github.com/turfgrid/turfgrid/internal/domain"
	"github.com/turfgrid/turfgrid/internal/dto"
	"github.com/turfgrid/turfgrid/internal/service"
	"github.com/turfgrid/turfgrid/pkg/logger"
	"github.com/turfgrid/turfgrid/pkg/response"
	"go.uber.org/zap"
)

// Webhook authentication headers
const (
	HeaderSignature = "X-Signature"
	HeaderTimestamp = "X-Timestamp"
)

// WebhookHandler receives payment provider notifications
type WebhookHandler struct {
	ingester service.ConfirmationIngester
	log      *logger.Logger
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(ingester service.ConfirmationIngester) *WebhookHandler {
	return &WebhookHandler{
		ingester: ingester,
		log:      logger.Get().With(zap.String("component", "webhook_handler")),
	}
}

// HandlePaymentWebhook handles POST /api/v1/webhooks/payment.
// The signature covers the raw body, so the body is read before decoding.
// A 2xx acknowledges the delivery; a 5xx asks the provider to redeliver.
func (h *WebhookHandler) HandlePaymentWebhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		response.BadRequest(c, "failed to read request body")
		return
	}

	signature := c.GetHeader(HeaderSignature)
	timestamp := c.GetHeader(HeaderTimestamp)
	if err := h.ingester.VerifySignature(timestamp, signature, body); err != nil {
		h.log.Warn("webhook rejected",
			zap.String("remote_addr", c.ClientIP()),
			zap.Error(err),
		)
		response.Unauthorized(c, err.Error())
		return
	}

	req := &dto.WebhookRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		response.BadRequest(c, "malformed webhook payload")
		return
	}
	if req.Event != "payment.captured" {
		// Acknowledge event types we do not act on
		response.Success(c, &dto.WebhookResponse{Outcome: "ignored"})
		return
	}

	event, err := req.ToEvent()
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.ingester.Ingest(c.Request.Context(), event)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrMissingBookingData):
			// Already recorded for reconciliation by the ingester
			response.BadRequest(c, err.Error())
		case errors.Is(err, domain.ErrMissingPaymentRef):
			response.BadRequest(c, err.Error())
		default:
			response.InternalError(c, err)
		}
		return
	}

	resp := &dto.WebhookResponse{
		Outcome: string(result.Outcome),
		Reason:  string(result.Reason),
	}
	if result.Reservation != nil {
		resp.ReservationID = result.Reservation.ID
	}
	response.Success(c, resp)
}
