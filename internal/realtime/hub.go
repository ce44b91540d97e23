// Package realtime pushes change notifications to a user's open websocket
// connections. With a Broker configured, messages go through Redis so that
// every API replica delivers to its own connections.
package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	mqcontracts "ironwill/contracts/mq"
	"ironwill/internal/model"
	"ironwill/pkg/metrics"
	"ironwill/pkg/trace"
)

const (
	pingInterval = 25 * time.Second
	writeTimeout = 10 * time.Second
)

// Message is the frame written to websocket clients.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type Client struct {
	UserID string
	conn   *websocket.Conn
	mu     sync.Mutex // gorilla 连接不支持并发写
	once   sync.Once
}

func NewClient(userID string, conn *websocket.Conn) *Client {
	return &Client{UserID: userID, conn: conn}
}

func (c *Client) write(msgType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(msgType, data)
}

// Broker carries messages between replicas.
type Broker interface {
	Publish(ctx context.Context, userID string, msg Message) error
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
	broker  Broker
	logger  *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{clients: make(map[string]map[*Client]struct{}), logger: logger}
}

func (h *Hub) WithBroker(b Broker) *Hub {
	h.broker = b
	return h
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if h.clients[c.UserID] == nil {
		h.clients[c.UserID] = make(map[*Client]struct{})
	}
	h.clients[c.UserID][c] = struct{}{}
	h.mu.Unlock()
	metrics.RealtimeConnections.Inc()
	h.logger.Debug("Realtime client registered", zap.String("user_id", c.UserID))
}

// Unregister is safe to call more than once per client.
func (h *Hub) Unregister(c *Client) {
	c.once.Do(func() {
		h.mu.Lock()
		if set := h.clients[c.UserID]; set != nil {
			delete(set, c)
			if len(set) == 0 {
				delete(h.clients, c.UserID)
			}
		}
		h.mu.Unlock()
		_ = c.conn.Close()
		metrics.RealtimeConnections.Dec()
		h.logger.Debug("Realtime client unregistered", zap.String("user_id", c.UserID))
	})
}

// Connections returns the number of open connections of userID on this replica.
func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// Broadcast writes msg to this replica's connections of userID.
func (h *Hub) Broadcast(userID string, msg Message) {
	raw, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to encode realtime message", zap.Error(err))
		return
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients[userID]))
	for c := range h.clients[userID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.write(websocket.TextMessage, raw); err != nil {
			h.logger.Debug("Realtime write failed, dropping client", zap.String("user_id", userID), zap.Error(err))
			h.Unregister(c)
		}
	}
}

// Publish routes through the broker when there is one, otherwise delivers locally.
func (h *Hub) Publish(ctx context.Context, userID string, msgType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("Failed to encode realtime payload", zap.String("type", msgType), zap.Error(err))
		return
	}
	msg := Message{Type: msgType, Data: data}

	if h.broker != nil {
		err := h.broker.Publish(ctx, userID, msg)
		if err == nil {
			return
		}
		h.logger.Warn("Realtime broker publish failed, delivering locally", zap.Error(err))
	}
	h.Broadcast(userID, msg)
}

// Serve runs the keepalive and read loops of c until the connection closes
// or ctx is done.
func (h *Hub) Serve(ctx context.Context, c *Client) {
	h.Register(c)
	defer h.Unregister(c)

	done := make(chan struct{})
	go func() {
		t := time.NewTicker(pingInterval)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				_ = c.conn.Close()
				return
			case <-t.C:
				if err := c.write(websocket.PingMessage, nil); err != nil {
					_ = c.conn.Close()
					return
				}
			}
		}
	}()
	defer close(done)

	// 读循环在客户端断开时结束
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// DailyLogChanged notifies the owner's connections after a write.
func (h *Hub) DailyLogChanged(ctx context.Context, log model.DailyLog, change string) {
	h.Publish(ctx, log.UserID, mqcontracts.RoutingKeyDailyLogChanged, mqcontracts.DailyLogChangedPayload{
		EventID:    uuid.NewString(),
		TraceID:    trace.FromContext(ctx),
		UserID:     log.UserID,
		LogID:      log.ID,
		LogDate:    log.LogDate,
		Change:     change,
		OccurredAt: time.Now().UTC(),
	})
}

// StatsUpdated notifies the owner's connections after a recompute.
func (h *Hub) StatsUpdated(ctx context.Context, p mqcontracts.StatsUpdatedPayload) {
	h.Publish(ctx, p.UserID, mqcontracts.RoutingKeyStatsUpdated, p)
}
