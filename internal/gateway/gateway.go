package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/turfgrid/turfgrid/internal/broker"
	"github.com/turfgrid/turfgrid/internal/metrics"
	"github.com/turfgrid/turfgrid/pkg/logger"
	"go.uber.org/zap"
)

// Gateway upgrades HTTP requests to duplex connections and manages their
// lifecycle. One Gateway instance serves one process; it is wired
// explicitly, never shared through package state.
type Gateway struct {
	broker            *broker.SubscriptionBroker
	verifier          TokenVerifier
	metrics           *metrics.Metrics
	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration
	upgrader          websocket.Upgrader
	log               *logger.Logger

	mu      sync.Mutex
	clients map[string]*Client
}

// New creates a new Gateway
func New(
	b *broker.SubscriptionBroker,
	verifier TokenVerifier,
	m *metrics.Metrics,
	heartbeatInterval, heartbeatTimeout time.Duration,
) *Gateway {
	if heartbeatInterval <= 0 {
		heartbeatInterval = 30 * time.Second
	}
	if heartbeatTimeout <= 0 {
		heartbeatTimeout = 2 * heartbeatInterval
	}
	return &Gateway{
		broker:            b,
		verifier:          verifier,
		metrics:           m,
		heartbeatInterval: heartbeatInterval,
		heartbeatTimeout:  heartbeatTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser clients connect from the booking frontend; origin
			// policy is enforced at the edge
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[string]*Client),
		log:     logger.Get().With(zap.String("component", "gateway")),
	}
}

// HandleConnection upgrades the request and starts the connection pumps
func (g *Gateway) HandleConnection(c *gin.Context) {
	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := newClient(uuid.New().String(), conn, g)

	g.mu.Lock()
	g.clients[client.id] = client
	g.mu.Unlock()
	g.metrics.ActiveConnections.Add(c.Request.Context(), 1)

	g.log.Info("connection opened", zap.String("connection_id", client.id))

	go client.writePump()
	go client.readPump()
}

// ConnectionCount returns the number of open connections
func (g *Gateway) ConnectionCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.clients)
}

// Shutdown closes every open connection
func (g *Gateway) Shutdown(ctx context.Context) {
	g.mu.Lock()
	clients := make([]*Client, 0, len(g.clients))
	for _, c := range g.clients {
		clients = append(clients, c)
	}
	g.mu.Unlock()

	for _, c := range clients {
		c.sendSystemMessage("info", "server shutting down")
		c.close()
	}
}

func (g *Gateway) unregister(c *Client) {
	g.mu.Lock()
	_, existed := g.clients[c.id]
	delete(g.clients, c.id)
	g.mu.Unlock()

	if existed {
		g.metrics.ActiveConnections.Add(context.Background(), -1)
		g.log.Info("connection closed", zap.String("connection_id", c.id))
	}
}
