package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"harmonyshield/internal/auth"
	"harmonyshield/internal/config"
	"harmonyshield/internal/metrics"
)

const (
	channelPrefix = "realtime:"
	topicPrefix   = "table:"

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 512
)

// Operation is the kind of row change
type Operation string

const (
	OpInsert Operation = "INSERT"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
)

// Change tells subscribers that rows in a table changed. It is a reload
// trigger only and carries no row content.
type Change struct {
	Table   string    `json:"table"`
	Op      Operation `json:"op"`
	RowID   string    `json:"row_id,omitempty"`
	OwnerID string    `json:"owner_id,omitempty"`
	At      time.Time `json:"at"`
}

// Topic returns the subscription topic for a table
func Topic(table string) string {
	return topicPrefix + table
}

// Access decides which topics a non-admin session may subscribe to. Admins
// may subscribe to any topic.
type Access struct {
	// Public tables are visible to every session
	Public map[string]bool
	// Owned tables deliver only changes whose OwnerID is the session user
	Owned map[string]bool
}

// DefaultAccess opens the news feed to everyone and scopes per-user tables
// to their owners.
func DefaultAccess() Access {
	return Access{
		Public: map[string]bool{"news_articles": true},
		Owned: map[string]bool{
			"recovery_requests": true,
			"scam_reports":      true,
			"notifications":     true,
		},
	}
}

func (a Access) allows(topic string) bool {
	table, ok := strings.CutPrefix(topic, topicPrefix)
	if !ok {
		return false
	}
	return a.Public[table] || a.Owned[table]
}

// MessageType represents different types of real-time messages
type MessageType string

const (
	MessageTypeChange      MessageType = "change"
	MessageTypeSubscribe   MessageType = "subscribe"
	MessageTypeUnsubscribe MessageType = "unsubscribe"
	MessageTypeError       MessageType = "error"
)

// Message is the frame written to WebSocket clients
type Message struct {
	Type      MessageType `json:"type"`
	Topic     string      `json:"topic"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// SubscriptionRequest is sent by clients to change their topics
type SubscriptionRequest struct {
	Type   string   `json:"type"`
	Topics []string `json:"topics"`
}

// Publisher announces table changes
type Publisher interface {
	Publish(ctx context.Context, change Change) error
}

// envelope is what travels over Redis between instances
type envelope struct {
	Origin string `json:"origin"`
	Change Change `json:"change"`
}

// Hub maintains the set of active connections and broadcasts change messages
type Hub struct {
	instanceID string
	redis      *redis.Client
	logger     *zap.Logger
	upgrader   websocket.Upgrader
	access     Access

	mu        sync.RWMutex
	clients   map[*Client]bool
	listeners map[string][]func(Change)
}

// Client represents a WebSocket client connection
type Client struct {
	ID     string
	UserID string
	admin  bool
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte

	mu     sync.RWMutex
	topics map[string]bool
	closed bool
}

// NewHub creates a hub. A nil redis client keeps fan-out local to this instance.
func NewHub(cfg config.WebSocketConfig, rdb *redis.Client, logger *zap.Logger) *Hub {
	h := &Hub{
		instanceID: uuid.NewString(),
		redis:      rdb,
		logger:     logger.Named("realtime"),
		access:     DefaultAccess(),
		clients:    make(map[*Client]bool),
		listeners:  make(map[string][]func(Change)),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		for _, a := range allowed {
			if strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}

// Publish delivers a change to local subscribers and listeners, then fans it
// out to other instances through Redis.
func (h *Hub) Publish(ctx context.Context, change Change) error {
	if change.At.IsZero() {
		change.At = time.Now().UTC()
	}
	metrics.RealtimeChanges.WithLabelValues(change.Table).Inc()

	h.deliver(change)

	if h.redis == nil {
		return nil
	}

	data, err := json.Marshal(envelope{Origin: h.instanceID, Change: change})
	if err != nil {
		return fmt.Errorf("failed to marshal change: %w", err)
	}
	if err := h.redis.Publish(ctx, channelPrefix+change.Table, data).Err(); err != nil {
		return fmt.Errorf("failed to publish change: %w", err)
	}
	return nil
}

// Watch registers a server-side listener for changes on a table
func (h *Hub) Watch(table string, fn func(Change)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners[table] = append(h.listeners[table], fn)
}

// deliver sends a change to local clients subscribed to the table topic.
// Clients whose buffers are full are dropped.
func (h *Hub) deliver(change Change) {
	topic := Topic(change.Table)
	msg := Message{
		Type:      MessageTypeChange,
		Topic:     topic,
		Payload:   change,
		Timestamp: change.At,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to marshal change message", zap.Error(err))
		return
	}

	h.mu.RLock()
	listeners := append([]func(Change){}, h.listeners[change.Table]...)
	var slow []*Client
	for client := range h.clients {
		if !client.receives(topic, change) {
			continue
		}
		if !client.enqueue(data) {
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range slow {
		h.logger.Warn("Dropping slow realtime client", zap.String("client_id", client.ID))
		h.unregister(client)
	}

	for _, fn := range listeners {
		fn(change)
	}
}

// Run relays changes published by other instances until ctx is done
func (h *Hub) Run(ctx context.Context) {
	if h.redis == nil {
		<-ctx.Done()
		return
	}

	pubsub := h.redis.PSubscribe(ctx, channelPrefix+"*")
	defer pubsub.Close()

	h.logger.Info("Listening for realtime changes", zap.String("instance_id", h.instanceID))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				h.logger.Warn("Ignoring malformed realtime message", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			if env.Origin == h.instanceID {
				continue
			}
			h.deliver(env.Change)
		}
	}
}

// HandleWebSocket upgrades an authenticated request and starts the client pumps
func (h *Hub) HandleWebSocket(c *gin.Context) {
	session, ok := auth.SessionFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("Failed to upgrade connection", zap.Error(err))
		return
	}

	client := &Client{
		ID:     uuid.NewString(),
		UserID: session.UserID.String(),
		admin:  session.IsAdmin(),
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, 256),
		topics: make(map[string]bool),
	}
	for _, topic := range c.QueryArray("topic") {
		if client.permits(topic) {
			client.topics[topic] = true
		}
	}

	h.register(client)

	go client.writePump()
	go client.readPump()
}

// ConnectedClients returns the number of connected clients
func (h *Hub) ConnectedClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) register(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	n := len(h.clients)
	h.mu.Unlock()

	metrics.RealtimeClients.Set(float64(n))
	h.logger.Debug("Client connected", zap.String("client_id", client.ID), zap.String("user_id", client.UserID))
}

func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	_, ok := h.clients[client]
	delete(h.clients, client)
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		client.close()
		metrics.RealtimeClients.Set(float64(n))
		h.logger.Debug("Client disconnected", zap.String("client_id", client.ID))
	}
}

func (c *Client) permits(topic string) bool {
	return c.admin || c.hub.access.allows(topic)
}

// receives reports whether a change on topic is delivered to this client
func (c *Client) receives(topic string, change Change) bool {
	c.mu.RLock()
	subscribed := c.topics[topic]
	c.mu.RUnlock()
	if !subscribed {
		return false
	}
	if c.admin || !c.hub.access.Owned[change.Table] {
		return true
	}
	return change.OwnerID != "" && change.OwnerID == c.UserID
}

// enqueue queues a frame without blocking; false means the buffer is full
func (c *Client) enqueue(data []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump pumps subscription requests from the websocket connection to the client
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("WebSocket error", zap.Error(err))
			}
			return
		}

		var req SubscriptionRequest
		if err := json.Unmarshal(message, &req); err != nil {
			continue
		}
		c.handleSubscription(&req)
	}
}

// writePump pumps messages from the hub to the websocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

// handleSubscription applies a subscribe/unsubscribe request and acknowledges it
func (c *Client) handleSubscription(req *SubscriptionRequest) {
	var msgType MessageType
	rejected := []string{}
	c.mu.Lock()
	switch req.Type {
	case string(MessageTypeSubscribe):
		msgType = MessageTypeSubscribe
		for _, topic := range req.Topics {
			if !c.permits(topic) {
				rejected = append(rejected, topic)
				continue
			}
			c.topics[topic] = true
		}
	case string(MessageTypeUnsubscribe):
		msgType = MessageTypeUnsubscribe
		for _, topic := range req.Topics {
			delete(c.topics, topic)
		}
	default:
		msgType = MessageTypeError
	}
	topics := make([]string, 0, len(c.topics))
	for topic := range c.topics {
		topics = append(topics, topic)
	}
	c.mu.Unlock()

	data, _ := json.Marshal(Message{
		Type:      msgType,
		Topic:     "system",
		Payload:   gin.H{"topics": topics, "rejected": rejected},
		Timestamp: time.Now().UTC(),
	})
	if !c.enqueue(data) {
		c.hub.unregister(c)
	}
}
