// Package gateway fans heat state out to judge tablets and spectator
// displays over WebSocket. Each connection attaches to one heat; the first
// connection for a heat opens the upstream change subscription and the last
// one leaving tears it down.
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
	"github.com/wavecrest/heatsync/internal/broadcast"
	"github.com/wavecrest/heatsync/internal/events"
	"github.com/wavecrest/heatsync/internal/metrics"
	"github.com/wavecrest/heatsync/internal/models"
	"github.com/wavecrest/heatsync/internal/remote"
)

// ConnectionManager owns the per-heat WebSocket connection pools.
type ConnectionManager struct {
	heatConnections map[string]map[*Connection]bool
	heatFeeds       map[string]remote.Unsubscribe
	mu              sync.RWMutex

	channel  *broadcast.Channel
	upgrader websocket.Upgrader
	config   ConnectionConfig

	broadcastCh chan broadcastMessage
}

// Connection is one WebSocket client attached to a heat.
type Connection struct {
	ID       string
	ClientID string
	HeatID   string
	Conn     *websocket.Conn
	Send     chan []byte
	Manager  *ConnectionManager

	ConnectedAt time.Time
	LastPing    time.Time
}

// ConnectionConfig holds WebSocket tuning knobs.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

type broadcastMessage struct {
	HeatID string
	Event  *HeatEvent
}

// DefaultConnectionConfig returns defaults suitable for judge tablets on
// flaky venue networks: generous read timeout, frequent pings.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

func NewConnectionManager(channel *broadcast.Channel, config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		heatConnections: make(map[string]map[*Connection]bool),
		heatFeeds:       make(map[string]remote.Unsubscribe),
		channel:         channel,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan broadcastMessage, 1000),
	}
}

// Start processes fan-out messages until the context is cancelled.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			cm.closeAll()
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// UpgradeConnection upgrades an HTTP request to WebSocket and attaches it to
// a heat pool. The client receives the current config snapshot first, then
// pushed events.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, clientID, heatID string) error {
	heatID = models.NormalizeHeatID(heatID)

	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		ClientID:    clientID,
		HeatID:      heatID,
		Conn:        conn,
		Send:        make(chan []byte, 256),
		Manager:     cm,
		ConnectedAt: time.Now(),
		LastPing:    time.Now(),
	}

	// The feed subscription lives as long as the pool, not the upgrade
	// request, so it must not inherit the request context.
	if err := cm.registerConnection(context.Background(), connection); err != nil {
		conn.Close()
		return err
	}

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("client_id", clientID).
		Str("heat_id", heatID).
		Msg("websocket connection established")
	return nil
}

// registerConnection adds a connection to its heat pool, opening the heat's
// upstream subscription when the pool was empty. The subscription delivers
// the config snapshot before any push, so the new client is seeded through
// the same path as live updates.
func (cm *ConnectionManager) registerConnection(ctx context.Context, conn *Connection) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	needFeed := cm.heatConnections[conn.HeatID] == nil
	if needFeed {
		cm.heatConnections[conn.HeatID] = make(map[*Connection]bool)
	}
	cm.heatConnections[conn.HeatID][conn] = true

	if needFeed {
		unsub, err := cm.channel.Subscribe(ctx, conn.HeatID, broadcast.Handlers{
			OnConfig: func(cfg models.HeatRealtimeConfig) { cm.enqueueConfig(cfg) },
			OnScore:  func(s models.Score) { cm.enqueueScore(s) },
			OnClosed: func(p events.HeatClosedPayload) { cm.enqueueClosed(p) },
		})
		if err != nil {
			delete(cm.heatConnections[conn.HeatID], conn)
			if len(cm.heatConnections[conn.HeatID]) == 0 {
				delete(cm.heatConnections, conn.HeatID)
			}
			return fmt.Errorf("subscribe heat feed: %w", err)
		}
		cm.heatFeeds[conn.HeatID] = unsub
	} else {
		// pool already live, seed just this client with the snapshot
		go cm.seedConnection(ctx, conn)
	}

	log.Debug().
		Str("connection_id", conn.ID).
		Str("heat_id", conn.HeatID).
		Int("pool_size", len(cm.heatConnections[conn.HeatID])).
		Msg("connection registered")
	return nil
}

func (cm *ConnectionManager) seedConnection(ctx context.Context, conn *Connection) {
	snap, err := cm.channel.Snapshot(ctx, conn.HeatID)
	if err != nil || snap == nil {
		return
	}
	event, err := configEvent(*snap, time.Now().UTC())
	if err != nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	select {
	case conn.Send <- data:
	default:
	}
}

func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	connections, exists := cm.heatConnections[conn.HeatID]
	if !exists {
		return
	}
	if _, exists := connections[conn]; !exists {
		return
	}
	delete(connections, conn)
	close(conn.Send)

	if len(connections) == 0 {
		delete(cm.heatConnections, conn.HeatID)
		if unsub, ok := cm.heatFeeds[conn.HeatID]; ok {
			unsub()
			delete(cm.heatFeeds, conn.HeatID)
		}
	}

	log.Info().
		Str("connection_id", conn.ID).
		Str("client_id", conn.ClientID).
		Str("heat_id", conn.HeatID).
		Msg("connection unregistered")
}

func (cm *ConnectionManager) enqueueConfig(cfg models.HeatRealtimeConfig) {
	event, err := configEvent(cfg, time.Now().UTC())
	if err != nil {
		log.Error().Err(err).Msg("failed to build config event")
		return
	}
	cm.Broadcast(cfg.HeatID, event)
}

// enqueueClosed delivers the close announcement to the closed heat's pool,
// followed by the activation of the next heat so those clients switch
// without polling.
func (cm *ConnectionManager) enqueueClosed(p events.HeatClosedPayload) {
	event, err := closedEvent(p)
	if err != nil {
		log.Error().Err(err).Msg("failed to build heat closed event")
		return
	}
	cm.Broadcast(p.HeatID, event)

	if p.NextHeatID == "" {
		return
	}
	activated, err := activatedEvent(p.HeatID, events.HeatActivatedPayload{
		HeatID:      p.NextHeatID,
		ActivatedAt: p.ClosedAt,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to build heat activated event")
		return
	}
	cm.Broadcast(p.HeatID, activated)
}

func (cm *ConnectionManager) enqueueScore(s models.Score) {
	event, err := scoreEvent(s)
	if err != nil {
		log.Error().Err(err).Msg("failed to build score event")
		return
	}
	cm.Broadcast(models.NormalizeHeatID(s.HeatID), event)
}

// Broadcast queues an event for every connection in a heat pool. Dropping on
// a full queue keeps a slow heat from stalling the others.
func (cm *ConnectionManager) Broadcast(heatID string, event *HeatEvent) {
	select {
	case cm.broadcastCh <- broadcastMessage{HeatID: models.NormalizeHeatID(heatID), Event: event}:
	default:
		log.Warn().Str("heat_id", heatID).Msg("broadcast channel full, dropping message")
	}
}

func (cm *ConnectionManager) handleBroadcast(message broadcastMessage) {
	cm.mu.RLock()
	connections, exists := cm.heatConnections[message.HeatID]
	if !exists {
		cm.mu.RUnlock()
		return
	}
	targets := make([]*Connection, 0, len(connections))
	for conn := range connections {
		targets = append(targets, conn)
	}
	cm.mu.RUnlock()

	data, err := json.Marshal(message.Event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	for _, conn := range targets {
		select {
		case conn.Send <- data:
		default:
			log.Warn().
				Str("connection_id", conn.ID).
				Str("client_id", conn.ClientID).
				Msg("connection send buffer full, closing connection")
			cm.unregisterConnection(conn)
			conn.Conn.Close()
		}
	}
	metrics.BroadcastEvents.WithLabelValues("gateway").Inc()

	log.Debug().
		Str("event_type", string(message.Event.Type)).
		Str("heat_id", message.HeatID).
		Int("connections", len(targets)).
		Msg("event broadcasted")
}

func (cm *ConnectionManager) closeAll() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	for heatID, connections := range cm.heatConnections {
		for conn := range connections {
			close(conn.Send)
			conn.Conn.Close()
		}
		delete(cm.heatConnections, heatID)
		if unsub, ok := cm.heatFeeds[heatID]; ok {
			unsub()
			delete(cm.heatFeeds, heatID)
		}
	}
}

// Stats reports active connection counts per heat.
func (cm *ConnectionManager) Stats() (total int, perHeat map[string]int) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	perHeat = make(map[string]int, len(cm.heatConnections))
	for heatID, connections := range cm.heatConnections {
		perHeat[heatID] = len(connections)
		total += len(connections)
	}
	return total, perHeat
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
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
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
			c.LastPing = time.Now()
		}
	}
}

func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
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
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected websocket close error")
			}
			break
		}
		log.Debug().
			Str("connection_id", c.ID).
			Str("client_id", c.ClientID).
			RawJSON("message", message).
			Msg("received client message")
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}
