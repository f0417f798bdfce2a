package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/turfgrid/turfgrid/internal/domain"
	"github.com/turfgrid/turfgrid/internal/dto"
	"github.com/turfgrid/turfgrid/internal/service"
)

// MockConfirmationIngester is a mock implementation of
// service.ConfirmationIngester for testing
type MockConfirmationIngester struct {
	VerifySignatureFunc func(timestamp, signature string, body []byte) error
	IngestFunc          func(ctx context.Context, event *service.WebhookEvent) (*domain.CommitResult, error)
}

func (m *MockConfirmationIngester) VerifySignature(timestamp, signature string, body []byte) error {
	if m.VerifySignatureFunc != nil {
		return m.VerifySignatureFunc(timestamp, signature, body)
	}
	return nil
}

func (m *MockConfirmationIngester) Ingest(ctx context.Context, event *service.WebhookEvent) (*domain.CommitResult, error) {
	if m.IngestFunc != nil {
		return m.IngestFunc(ctx, event)
	}
	return nil, nil
}

func setupWebhookRouter(handler *WebhookHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/webhooks/payment", handler.HandlePaymentWebhook)
	return router
}

func capturedBody(t *testing.T) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"event":       "payment.captured",
		"order_id":    "order_1",
		"payment_ref": "pay_1",
		"amount":      800,
		"metadata": map[string]interface{}{
			"facility_id": "cricket",
			"date":        "2025-01-10",
			"slots":       []string{"18:00-19:00"},
			"customer":    map[string]string{"name": "Asha", "phone": "9800000001"},
		},
	})
	if err != nil {
		t.Fatalf("failed to marshal body: %v", err)
	}
	return body
}

func postWebhook(router *gin.Engine, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderSignature, "sig")
	req.Header.Set(HeaderTimestamp, "1736500000")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeWebhookResponse(t *testing.T, body []byte) *dto.WebhookResponse {
	t.Helper()
	resp := struct {
		Data *dto.WebhookResponse `json:"data"`
	}{}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp.Data
}

func TestWebhookHandler_CommitsCapturedPayment(t *testing.T) {
	ingester := &MockConfirmationIngester{
		IngestFunc: func(ctx context.Context, event *service.WebhookEvent) (*domain.CommitResult, error) {
			if event.PaymentRef != "pay_1" {
				t.Errorf("unexpected payment ref: %s", event.PaymentRef)
			}
			return &domain.CommitResult{
				Outcome:     domain.CommitOutcomeCommitted,
				Reservation: pendingReservation("res_1"),
			}, nil
		},
	}
	router := setupWebhookRouter(NewWebhookHandler(ingester))

	w := postWebhook(router, capturedBody(t))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	resp := decodeWebhookResponse(t, w.Body.Bytes())
	if resp.Outcome != "committed" || resp.ReservationID != "res_1" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestWebhookHandler_RejectsInvalidSignature(t *testing.T) {
	ingester := &MockConfirmationIngester{
		VerifySignatureFunc: func(timestamp, signature string, body []byte) error {
			return domain.ErrInvalidSignature
		},
		IngestFunc: func(ctx context.Context, event *service.WebhookEvent) (*domain.CommitResult, error) {
			t.Error("ingest must not run on a rejected signature")
			return nil, nil
		},
	}
	router := setupWebhookRouter(NewWebhookHandler(ingester))

	w := postWebhook(router, capturedBody(t))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
	if code := decodeErrorCode(t, w.Body.Bytes()); code != "UNAUTHORIZED" {
		t.Errorf("expected UNAUTHORIZED, got %s", code)
	}
}

func TestWebhookHandler_AcknowledgesUnrelatedEvents(t *testing.T) {
	ingester := &MockConfirmationIngester{
		IngestFunc: func(ctx context.Context, event *service.WebhookEvent) (*domain.CommitResult, error) {
			t.Error("ingest must not run for unrelated events")
			return nil, nil
		},
	}
	router := setupWebhookRouter(NewWebhookHandler(ingester))

	w := postWebhook(router, []byte(`{"event":"payment.refunded","payment_ref":"pay_1"}`))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if resp := decodeWebhookResponse(t, w.Body.Bytes()); resp.Outcome != "ignored" {
		t.Errorf("expected ignored, got %s", resp.Outcome)
	}
}

func TestWebhookHandler_RejectsMalformedBody(t *testing.T) {
	router := setupWebhookRouter(NewWebhookHandler(&MockConfirmationIngester{}))

	w := postWebhook(router, []byte(`{"event":`))
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestWebhookHandler_RejectsBadSlotInMetadata(t *testing.T) {
	router := setupWebhookRouter(NewWebhookHandler(&MockConfirmationIngester{}))

	body := []byte(`{"event":"payment.captured","payment_ref":"pay_1","metadata":{"facility_id":"cricket","date":"2025-01-10","slots":["six pm"]}}`)
	w := postWebhook(router, body)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestWebhookHandler_RejectsPaymentWithoutBookingData(t *testing.T) {
	ingester := &MockConfirmationIngester{
		IngestFunc: func(ctx context.Context, event *service.WebhookEvent) (*domain.CommitResult, error) {
			return nil, domain.ErrMissingBookingData
		},
	}
	router := setupWebhookRouter(NewWebhookHandler(ingester))

	// 400, not 500: the ingester already logged the payment for
	// reconciliation and redelivering the same payload cannot resolve it
	w := postWebhook(router, capturedBody(t))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestWebhookHandler_CommitErrorAsksForRedelivery(t *testing.T) {
	ingester := &MockConfirmationIngester{
		IngestFunc: func(ctx context.Context, event *service.WebhookEvent) (*domain.CommitResult, error) {
			return nil, errors.New("database unavailable")
		},
	}
	router := setupWebhookRouter(NewWebhookHandler(ingester))

	w := postWebhook(router, capturedBody(t))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
}

func TestWebhookHandler_ConflictReturnsReason(t *testing.T) {
	ingester := &MockConfirmationIngester{
		IngestFunc: func(ctx context.Context, event *service.WebhookEvent) (*domain.CommitResult, error) {
			return &domain.CommitResult{
				Outcome: domain.CommitOutcomeConflict,
				Reason:  domain.ConflictSlotAlreadyBooked,
			}, nil
		},
	}
	router := setupWebhookRouter(NewWebhookHandler(ingester))

	w := postWebhook(router, capturedBody(t))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	resp := decodeWebhookResponse(t, w.Body.Bytes())
	if resp.Outcome != "conflict" || resp.Reason != "SlotAlreadyBooked" {
		t.Errorf("unexpected response: %+v", resp)
	}
}
