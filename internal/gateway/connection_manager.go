// Package gateway is the presentation channel: a WebSocket fan-out that
// pushes game events to overlay clients and routes their completion
// acknowledgments back to the game adapters.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/overlayworks/arcade/internal/events"
)

// Acknowledger receives the overlay's self-reported outcome for a session.
// Implemented by the game adapters; duplicates must be idempotent because
// the overlay delivers at-least-once.
type Acknowledger interface {
	AcknowledgeCompletion(sessionID string, observedOutcomeIndex int)
}

// ConnectionConfig holds WebSocket tuning.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns the production WebSocket settings.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// The overlay runs on the streamer's machine; restrict when
			// exposed beyond localhost.
			return true
		},
	}
}

// ConnectionManager fans events out to every connected overlay client.
// There is one logical overlay channel; multiple connections exist only for
// reconnects and preview windows.
type ConnectionManager struct {
	config   ConnectionConfig
	upgrader websocket.Upgrader

	mu          sync.RWMutex
	connections map[*Connection]bool
	acks        map[events.GameKind]Acknowledger

	broadcastCh chan events.Event
}

// Connection is one WebSocket client.
type Connection struct {
	ID      string
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *ConnectionManager

	ConnectedAt time.Time
	LastPing    time.Time
}

// NewConnectionManager creates a connection manager.
func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		config: config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		connections: make(map[*Connection]bool),
		acks:        make(map[events.GameKind]Acknowledger),
		broadcastCh: make(chan events.Event, 1000),
	}
}

// RegisterAcknowledger routes ack messages for a game kind to its adapter.
func (cm *ConnectionManager) RegisterAcknowledger(kind events.GameKind, a Acknowledger) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.acks[kind] = a
}

// Broadcast queues an event for delivery to all connected clients. Never
// blocks the caller; under backpressure the event is dropped with a warning
// (the overlay resyncs from the next queue:status snapshot).
func (cm *ConnectionManager) Broadcast(event events.Event) {
	select {
	case cm.broadcastCh <- event:
	default:
		log.Warn().Str("event", event.Name).Msg("broadcast channel full, dropping event")
	}
}

// Start processes broadcasts until ctx is done.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			cm.closeAll()
			return
		case event := <-cm.broadcastCh:
			cm.deliver(event)
		}
	}
}

// UpgradeConnection upgrades an HTTP request to a WebSocket client.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		Conn:        conn,
		Send:        make(chan []byte, 256),
		Manager:     cm,
		ConnectedAt: time.Now(),
		LastPing:    time.Now(),
	}

	cm.mu.Lock()
	cm.connections[connection] = true
	total := len(cm.connections)
	cm.mu.Unlock()

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Int("total_connections", total).
		Msg("overlay connected")
	return nil
}

func (cm *ConnectionManager) unregister(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if _, ok := cm.connections[conn]; ok {
		delete(cm.connections, conn)
		close(conn.Send)
		log.Info().Str("connection_id", conn.ID).Msg("overlay disconnected")
	}
}

func (cm *ConnectionManager) closeAll() {
	cm.mu.Lock()
	conns := make([]*Connection, 0, len(cm.connections))
	for conn := range cm.connections {
		conns = append(conns, conn)
	}
	cm.mu.Unlock()

	for _, conn := range conns {
		cm.unregister(conn)
		conn.Conn.Close()
	}
}

func (cm *ConnectionManager) deliver(event events.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("event", event.Name).Msg("marshal event for broadcast")
		return
	}

	// Sends happen under the read lock: unregister closes Send under the
	// write lock, so a channel can never be closed out from under a send.
	// Sends are non-blocking, so holding the lock across them is cheap.
	cm.mu.RLock()
	var evict []*Connection
	for conn := range cm.connections {
		select {
		case conn.Send <- data:
		default:
			evict = append(evict, conn)
		}
	}
	cm.mu.RUnlock()

	// Slow or dead clients are evicted rather than stalling the overlay.
	for _, conn := range evict {
		log.Warn().Str("connection_id", conn.ID).Msg("send buffer full, closing connection")
		cm.unregister(conn)
		conn.Conn.Close()
	}
}

// Stats returns connection statistics for the stats endpoint.
func (cm *ConnectionManager) Stats() map[string]any {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return map[string]any{
		"total_connections": len(cm.connections),
	}
}

// clientMessage is what overlay clients send upstream. The only message the
// core cares about is the completion acknowledgment.
type clientMessage struct {
	Type                 string          `json:"type"`
	GameKind             events.GameKind `json:"game_kind"`
	SessionID            string          `json:"session_id"`
	ObservedOutcomeIndex int             `json:"observed_outcome_index"`
}

func (cm *ConnectionManager) handleClientMessage(connID string, message []byte) {
	var msg clientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		log.Warn().Err(err).Str("connection_id", connID).Msg("malformed client message")
		return
	}

	switch msg.Type {
	case "ack":
		cm.mu.RLock()
		ack, ok := cm.acks[msg.GameKind]
		cm.mu.RUnlock()
		if !ok {
			log.Warn().Str("game_kind", string(msg.GameKind)).Msg("ack for unknown game kind")
			return
		}
		log.Debug().
			Str("session_id", msg.SessionID).
			Str("game_kind", string(msg.GameKind)).
			Int("observed", msg.ObservedOutcomeIndex).
			Msg("overlay acknowledgment received")
		ack.AcknowledgeCompletion(msg.SessionID, msg.ObservedOutcomeIndex)
	default:
		log.Debug().Str("type", msg.Type).Str("connection_id", connID).Msg("ignoring client message")
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregister(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("write to overlay failed")
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("ping failed")
				return
			}
			c.LastPing = time.Now()
		}
	}
}

func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		c.LastPing = time.Now()
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("unexpected close")
			}
			break
		}
		c.Manager.handleClientMessage(c.ID, message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}
