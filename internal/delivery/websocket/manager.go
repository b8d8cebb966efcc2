package websocket

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/marko911/pulse-geyser/pkg/geyser"
)

// Manager tracks connected clients and fans messages out to them.
type Manager struct {
	mu           sync.RWMutex
	destinations map[string]*Destination
	bufferSize   int
	logger       *slog.Logger

	totalConnections  atomic.Int64
	messagesDelivered atomic.Int64
	messagesDropped   atomic.Int64
}

// ManagerConfig holds configuration for the WebSocket manager.
type ManagerConfig struct {
	// ClientBuffer is the per-client send buffer size.
	ClientBuffer int

	// Logger for connection events.
	Logger *slog.Logger
}

// NewManager creates a new WebSocket connection manager.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Manager{
		destinations: make(map[string]*Destination),
		bufferSize:   cfg.ClientBuffer,
		logger:       cfg.Logger.With("component", "websocket-manager"),
	}
}

// HandleConnection registers conn under clientID.
func (m *Manager) HandleConnection(ctx context.Context, clientID string, conn *websocket.Conn) *Destination {
	dest := NewDestination(DestinationConfig{
		ID:             clientID,
		Conn:           conn,
		SendBufferSize: m.bufferSize,
		OnClose:        m.handleDisconnect,
	})

	m.Register(clientID, dest)

	m.logger.Info("client connected",
		"client_id", clientID,
		"remote_addr", conn.RemoteAddr().String(),
	)

	return dest
}

// handleDisconnect runs from Destination.Close, which may be reached while
// the manager holds its lock, so cleanup happens on its own goroutine.
func (m *Manager) handleDisconnect(clientID string) {
	go func() {
		m.mu.Lock()
		delete(m.destinations, clientID)
		m.mu.Unlock()

		m.logger.Info("client disconnected", "client_id", clientID)
	}()
}

// Get retrieves a destination by client ID.
func (m *Manager) Get(clientID string) (*Destination, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	dest, ok := m.destinations[clientID]
	if !ok || dest.IsClosed() {
		return nil, false
	}
	return dest, true
}

// Register adds a destination, replacing any previous one with the same id.
func (m *Manager) Register(clientID string, dest *Destination) {
	m.mu.Lock()
	existing, hasExisting := m.destinations[clientID]
	m.destinations[clientID] = dest
	m.totalConnections.Add(1)
	m.mu.Unlock()

	// The replaced destination must not remove the new registration.
	if hasExisting && existing != nil {
		existing.detach()
		existing.Close()
	}
}

// Unregister removes a destination.
func (m *Manager) Unregister(clientID string) {
	m.mu.Lock()
	dest, ok := m.destinations[clientID]
	if ok {
		delete(m.destinations, clientID)
	}
	m.mu.Unlock()

	if ok && dest != nil {
		dest.detach()
		dest.Close()
	}
}

// ActiveCount returns the number of active connections.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.destinations)
}

// Broadcast queues message on every client subscribed to kind. It returns
// the number of clients the message was queued for.
func (m *Manager) Broadcast(kind geyser.EventKind, message []byte) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	queued := 0
	for _, dest := range m.destinations {
		if dest.IsClosed() || !dest.Wants(kind) {
			continue
		}
		if err := dest.Send(message); err != nil {
			m.messagesDropped.Add(1)
			continue
		}
		queued++
	}
	m.messagesDelivered.Add(int64(queued))
	return queued
}

// Stats returns manager statistics.
func (m *Manager) Stats() ManagerStats {
	return ManagerStats{
		TotalConnections:  m.totalConnections.Load(),
		ActiveConnections: int64(m.ActiveCount()),
		MessagesDelivered: m.messagesDelivered.Load(),
		MessagesDropped:   m.messagesDropped.Load(),
	}
}

// ManagerStats contains WebSocket manager statistics.
type ManagerStats struct {
	TotalConnections  int64 `json:"total_connections"`
	ActiveConnections int64 `json:"active_connections"`
	MessagesDelivered int64 `json:"messages_delivered"`
	MessagesDropped   int64 `json:"messages_dropped"`
}

// Close shuts down all connections.
func (m *Manager) Close() error {
	m.mu.Lock()
	dests := make([]*Destination, 0, len(m.destinations))
	for _, dest := range m.destinations {
		dests = append(dests, dest)
	}
	m.destinations = make(map[string]*Destination)
	m.mu.Unlock()

	for _, dest := range dests {
		dest.detach()
		dest.Close()
	}

	return nil
}
