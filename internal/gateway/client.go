package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/turfgrid/turfgrid/internal/domain"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 4096
	sendBufferSize = 64
)

// Client is one duplex connection. It implements broker.Subscriber so
// topic broadcasts flow straight into its send queue.
type Client struct {
	id   string
	conn *websocket.Conn
	gw   *Gateway
	send chan *Frame

	mu            sync.Mutex
	authenticated bool
	subject       string
	topics        map[string]domain.Topic

	closeOnce sync.Once
}

func newClient(id string, conn *websocket.Conn, gw *Gateway) *Client {
	return &Client{
		id:     id,
		conn:   conn,
		gw:     gw,
		send:   make(chan *Frame, sendBufferSize),
		topics: make(map[string]domain.Topic),
	}
}

// ID returns the connection id
func (c *Client) ID() string {
	return c.id
}

// NotifySnapshot queues a slot_update broadcast
func (c *Client) NotifySnapshot(topic domain.Topic, snap *domain.AvailabilitySnapshot) {
	c.enqueue(TypeSlotUpdate, snapshotPayload(snap))
}

// NotifyChange queues a targeted event broadcast
func (c *Client) NotifyChange(topic domain.Topic, change *domain.StoreChange) {
	msgType, ok := changeMessageType(change.Kind)
	if !ok {
		return
	}
	c.enqueue(msgType, changePayload(change))
}

// enqueue builds a frame and queues it without blocking. A full queue
// means the connection is too slow to keep up; the frame is dropped and
// the client recovers on its next snapshot.
func (c *Client) enqueue(t MessageType, data interface{}) {
	frame, err := NewFrame(t, data)
	if err != nil {
		c.gw.log.Error("failed to build frame",
			zap.String("connection_id", c.id),
			zap.String("type", string(t)),
			zap.Error(err),
		)
		return
	}

	select {
	case c.send <- frame:
	default:
		c.gw.metrics.BroadcastsDropped.Inc(context.Background())
		c.gw.log.Warn("dropping frame on slow connection",
			zap.String("connection_id", c.id),
			zap.String("type", string(t)),
		)
	}
}

// readPump consumes inbound frames until the connection dies. Liveness is
// enforced with a read deadline refreshed by pong frames and any inbound
// traffic.
func (c *Client) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.gw.heartbeatTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.gw.heartbeatTimeout))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.gw.log.Debug("connection read error",
					zap.String("connection_id", c.id),
					zap.Error(err),
				)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(c.gw.heartbeatTimeout))

		frame, err := DecodeFrame(raw)
		if err != nil {
			c.sendSystemMessage("error", err.Error())
			continue
		}

		c.handleFrame(frame)
	}
}

// writePump flushes the send queue and emits protocol-level pings
func (c *Client) writePump() {
	ticker := time.NewTicker(c.gw.heartbeatInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleFrame(frame *Frame) {
	if frame.Type == TypeAuth {
		c.handleAuth(frame.Data)
		return
	}

	c.mu.Lock()
	authed := c.authenticated
	c.mu.Unlock()
	if !authed {
		c.sendSystemMessage("error", "authentication required")
		return
	}

	switch frame.Type {
	case TypePing:
		c.enqueue(TypePong, nil)
	case TypeSubscribeSlots:
		c.handleSubscribe(frame.Data)
	case TypeUnsubscribeSlots:
		c.handleUnsubscribe(frame.Data)
	case TypeRefreshSlots:
		c.handleRefresh(frame.Data)
	}
}

func (c *Client) handleAuth(data json.RawMessage) {
	payload := &AuthPayload{}
	if err := json.Unmarshal(data, payload); err != nil || payload.Token == "" {
		c.sendSystemMessage("error", "auth requires a token")
		return
	}

	subject, err := c.gw.verifier.Verify(payload.Token)
	if err != nil {
		c.sendSystemMessage("error", "authentication failed")
		c.gw.log.Warn("connection auth failed",
			zap.String("connection_id", c.id),
			zap.Error(err),
		)
		return
	}

	c.mu.Lock()
	c.authenticated = true
	c.subject = subject
	c.mu.Unlock()

	c.enqueue(TypeConnectionEstablished, &ConnectionEstablishedPayload{
		ConnectionID:      c.id,
		HeartbeatInterval: int(c.gw.heartbeatInterval.Seconds()),
	})

	c.gw.log.Info("connection authenticated",
		zap.String("connection_id", c.id),
		zap.String("subject", subject),
	)
}

func (c *Client) handleSubscribe(data json.RawMessage) {
	topic, ok := c.decodeTopic(data)
	if !ok {
		return
	}

	snap, err := c.gw.broker.Subscribe(context.Background(), c, topic)
	if err != nil {
		if domain.IsNotFoundError(err) {
			c.sendSystemMessage("error", "unknown facility")
		} else {
			c.sendSystemMessage("error", "subscription failed")
		}
		return
	}

	c.mu.Lock()
	c.topics[topic.String()] = topic
	c.mu.Unlock()

	c.enqueue(TypeSlotUpdate, snapshotPayload(snap))
}

func (c *Client) handleUnsubscribe(data json.RawMessage) {
	topic, ok := c.decodeTopic(data)
	if !ok {
		return
	}

	c.gw.broker.Unsubscribe(c, topic)

	c.mu.Lock()
	delete(c.topics, topic.String())
	c.mu.Unlock()
}

func (c *Client) handleRefresh(data json.RawMessage) {
	topic, ok := c.decodeTopic(data)
	if !ok {
		return
	}

	snap, err := c.gw.broker.Refresh(context.Background(), topic)
	if err != nil {
		c.sendSystemMessage("error", "refresh failed")
		return
	}
	c.enqueue(TypeSlotUpdate, snapshotPayload(snap))
}

func (c *Client) decodeTopic(data json.RawMessage) (domain.Topic, bool) {
	payload := &TopicPayload{}
	if err := json.Unmarshal(data, payload); err != nil {
		c.sendSystemMessage("error", "malformed topic payload")
		return domain.Topic{}, false
	}
	topic, err := payload.Topic()
	if err != nil {
		c.sendSystemMessage("error", err.Error())
		return domain.Topic{}, false
	}
	return topic, true
}

func (c *Client) sendSystemMessage(level, message string) {
	c.enqueue(TypeSystemMessage, &SystemMessagePayload{Level: level, Message: message})
}

// close tears the connection down exactly once
func (c *Client) close() {
	c.closeOnce.Do(func() {
		c.gw.broker.UnsubscribeAll(c)
		c.gw.unregister(c)
		c.conn.Close()
	})
}
