package gateway

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/checkpoint/go/internal/livesession/events"
	"github.com/mcdev12/checkpoint/go/internal/livesession/room"
	"github.com/rs/zerolog/log"
)

// ConnectionManager owns the live WebSocket connections and feeds their
// commands to the hub
type ConnectionManager struct {
	connections map[*Connection]struct{}
	mu          sync.RWMutex

	// Upgrader for WebSocket connections
	upgrader websocket.Upgrader

	config ConnectionConfig
	hub    *Hub
	clock  clockwork.Clock
}

// Connection is one participant's WebSocket. It implements room.Conn.
type Connection struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	manager *ConnectionManager

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once

	ConnectedAt time.Time
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration `yaml:"write_timeout"     env:"WS_WRITE_TIMEOUT"`
	ReadTimeout     time.Duration `yaml:"read_timeout"      env:"WS_READ_TIMEOUT"`
	PingInterval    time.Duration `yaml:"ping_interval"     env:"WS_PING_INTERVAL"`
	MaxMessageSize  int64         `yaml:"max_message_size"  env:"WS_MAX_MESSAGE_SIZE"`
	ReadBufferSize  int           `yaml:"read_buffer_size"  env:"WS_READ_BUFFER_SIZE"`
	WriteBufferSize int           `yaml:"write_buffer_size" env:"WS_WRITE_BUFFER_SIZE"`
	SendQueueSize   int           `yaml:"send_queue_size"   env:"WS_SEND_QUEUE_SIZE"`

	CheckOrigin func(r *http.Request) bool `yaml:"-"`
}

// JoinParams performs an implicit JOIN_SESSION right after the upgrade
type JoinParams struct {
	SessionID string
	UserID    string
	Role      string
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  64 * 1024, // checkpoints carry question text and options
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendQueueSize:   256,
		CheckOrigin: func(r *http.Request) bool {
			// Replaced by NewService when AllowedOrigins is restricted
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager. clock stamps
// ConnectedAt; socket deadlines always use wall time.
func NewConnectionManager(config ConnectionConfig, hub *Hub, clock clockwork.Clock) *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[*Connection]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config: config,
		hub:    hub,
		clock:  clock,
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket. join may be nil,
// in which case the client has to send JOIN_SESSION itself.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, join *JoinParams) error {
	ws, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		id:          uuid.New().String(),
		conn:        ws,
		send:        make(chan []byte, cm.config.SendQueueSize),
		manager:     cm,
		ConnectedAt: cm.clock.Now(),
	}

	cm.registerConnection(connection)

	log.Info().
		Str("connection_id", connection.id).
		Str("remote_addr", r.RemoteAddr).
		Msg("WebSocket connection established")

	// Join before the pumps start so the sync message is the first frame queued
	if join != nil {
		connection.apply(events.Command{
			Type:      events.CommandJoinSession,
			SessionID: join.SessionID,
			UserID:    join.UserID,
			Role:      join.Role,
		})
	}

	go connection.writePump()
	go connection.readPump()

	return nil
}

// registerConnection adds a connection to the manager
func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.connections[conn] = struct{}{}

	log.Debug().
		Str("connection_id", conn.id).
		Int("total_connections", len(cm.connections)).
		Msg("connection registered")
}

// unregisterConnection removes a connection from the manager and its room
func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	_, exists := cm.connections[conn]
	delete(cm.connections, conn)
	cm.mu.Unlock()

	if !exists {
		return
	}
	cm.hub.Disconnect(conn)

	log.Info().
		Str("connection_id", conn.id).
		Dur("connected_for", cm.clock.Since(conn.ConnectedAt)).
		Msg("connection unregistered")
}

// Count returns the number of open connections
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.connections)
}

// CloseAll closes every connection, used on shutdown
func (cm *ConnectionManager) CloseAll() {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.connections))
	for conn := range cm.connections {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()

	for _, conn := range conns {
		conn.Close()
	}
	log.Info().Int("connections", len(conns)).Msg("closed all WebSocket connections")
}

// ID returns the connection's unique identifier
func (c *Connection) ID() string { return c.id }

// Send queues a message without blocking. A peer that lets its queue fill up is
// too slow to keep a consistent view and gets disconnected.
func (c *Connection) Send(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return room.ErrConnClosed
	}

	select {
	case c.send <- msg:
		return nil
	default:
		go c.Close()
		return room.ErrSendQueueFull
	}
}

// Close shuts the connection down. Safe to call more than once.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.send)
		c.mu.Unlock()

		c.manager.unregisterConnection(c)
	})
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if !ok {
				// Channel was closed
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.id).
					Msg("failed to write message to WebSocket")
				c.Close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.id).
					Msg("failed to send ping")
				c.Close()
				return
			}
		}
	}
}

// readPump handles reading messages from the WebSocket connection
func (c *Connection) readPump() {
	defer func() {
		c.Close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.manager.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.id).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		c.handleClientMessage(message)
		c.conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
	}
}

// handleClientMessage decodes one inbound frame and applies it
func (c *Connection) handleClientMessage(message []byte) {
	log.Debug().
		Str("connection_id", c.id).
		Int("size", len(message)).
		Msg("received client message")

	cmd, err := events.DecodeCommand(message)
	if err != nil {
		c.reject(cmd, err)
		return
	}
	c.apply(cmd)
}

func (c *Connection) apply(cmd events.Command) {
	if err := c.manager.hub.Handle(c, cmd); err != nil {
		c.reject(cmd, err)
		return
	}

	// A join racing with Close may land after the disconnect cleanup ran
	if cmd.Type == events.CommandJoinSession && c.isClosed() {
		c.manager.hub.Disconnect(c)
	}
}

func (c *Connection) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// reject answers an invalid command to its originator only
func (c *Connection) reject(cmd events.Command, err error) {
	log.Warn().
		Err(err).
		Str("connection_id", c.id).
		Str("session_id", cmd.SessionID).
		Str("command", string(cmd.Type)).
		Msg("rejected client command")
	c.manager.hub.ReplyError(c, cmd, err)
}
