package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/turfgrid/turfgrid/internal/gateway"
	"github.com/turfgrid/turfgrid/pkg/config"
	"github.com/turfgrid/turfgrid/pkg/logger"
	"go.uber.org/zap"
)

// Handlers groups the HTTP handlers for router setup
type Handlers struct {
	Reservation  *ReservationHandler
	Webhook      *WebhookHandler
	Admin        *AdminHandler
	Availability *AvailabilityHandler
	Health       *HealthHandler
}

// NewRouter builds the gin engine with all routes registered
func NewRouter(cfg *config.Config, h *Handlers, gw *gateway.Gateway) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger())

	r.GET("/health/live", h.Health.Live)
	r.GET("/health/ready", h.Health.Ready)

	r.GET("/ws", gw.HandleConnection)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/facilities", h.Availability.ListFacilities)
		v1.GET("/facilities/:id/availability", h.Availability.GetAvailability)

		v1.POST("/reservations", h.Reservation.Initiate)
		v1.POST("/reservations/commit", h.Reservation.Commit)
		v1.GET("/reservations/:id", h.Reservation.Get)
		v1.POST("/reservations/:id/cancel", h.Reservation.Cancel)

		v1.POST("/webhooks/payment", h.Webhook.HandlePaymentWebhook)

		admin := v1.Group("/admin")
		{
			admin.POST("/blocks/slots", h.Admin.BlockSlot)
			admin.GET("/blocks/slots", h.Admin.ListBlockedSlots)
			admin.DELETE("/blocks/slots/:id", h.Admin.UnblockSlot)
			admin.POST("/blocks/dates", h.Admin.BlockDate)
			admin.DELETE("/blocks/dates/:date", h.Admin.UnblockDate)
			admin.GET("/reconciliation", h.Admin.ListReconciliation)
		}
	}

	return r
}

// requestLogger logs each request with latency and status
func requestLogger() gin.HandlerFunc {
	log := logger.Get().With(zap.String("component", "http"))
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		// Websocket upgrades log their own lifecycle
		if c.Writer.Status() == 101 {
			return
		}

		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
