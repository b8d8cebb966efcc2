// Package websocket streams canonical records to connected WebSocket
// clients.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/marko911/pulse-geyser/pkg/geyser"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024
)

var (
	errDestinationClosed = errors.New("destination closed")
	errBufferFull        = errors.New("send buffer full")
)

// Destination wraps one client connection. Outgoing messages go through a
// bounded buffer; a client that cannot keep up loses messages instead of
// stalling the broadcaster.
type Destination struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	mu     sync.RWMutex
	closed bool

	// nil means every kind.
	kinds map[geyser.EventKind]bool

	dropped atomic.Uint64

	onClose func(id string)
}

// DestinationConfig holds configuration for a WebSocket destination.
type DestinationConfig struct {
	ID             string
	Conn           *websocket.Conn
	SendBufferSize int
	OnClose        func(id string)
}

// NewDestination creates a new WebSocket destination.
func NewDestination(cfg DestinationConfig) *Destination {
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = 256
	}

	return &Destination{
		id:      cfg.ID,
		conn:    cfg.Conn,
		send:    make(chan []byte, cfg.SendBufferSize),
		done:    make(chan struct{}),
		onClose: cfg.OnClose,
	}
}

// ID returns the unique identifier for this destination.
func (d *Destination) ID() string {
	return d.id
}

// Wants reports whether the client subscribed to kind.
func (d *Destination) Wants(kind geyser.EventKind) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.kinds == nil || d.kinds[kind]
}

// Subscribe restricts delivery to kinds. An empty list restores every kind.
func (d *Destination) Subscribe(kinds []geyser.EventKind) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(kinds) == 0 {
		d.kinds = nil
		return
	}
	d.kinds = make(map[geyser.EventKind]bool, len(kinds))
	for _, k := range kinds {
		d.kinds[k] = true
	}
}

// Send queues msg without blocking.
func (d *Destination) Send(msg []byte) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return errDestinationClosed
	}

	select {
	case d.send <- msg:
		return nil
	default:
		d.dropped.Add(1)
		return errBufferFull
	}
}

// Dropped returns the number of messages lost to a full buffer.
func (d *Destination) Dropped() uint64 {
	return d.dropped.Load()
}

// Close releases resources associated with the destination.
func (d *Destination) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	onClose := d.onClose
	d.mu.Unlock()

	close(d.done)

	if onClose != nil {
		onClose(d.id)
	}

	return d.conn.Close()
}

// detach drops the close callback so a replaced or unregistered
// destination does not touch the manager again.
func (d *Destination) detach() {
	d.mu.Lock()
	d.onClose = nil
	d.mu.Unlock()
}

// IsClosed returns whether the destination has been closed.
func (d *Destination) IsClosed() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.closed
}

// Run starts the read and write pumps for the WebSocket connection.
// It blocks until the connection ends.
func (d *Destination) Run(ctx context.Context) {
	go d.writePump(ctx)
	d.readPump(ctx)
}

func (d *Destination) readPump(ctx context.Context) {
	defer d.Close()

	d.conn.SetReadLimit(maxMessageSize)
	d.conn.SetReadDeadline(time.Now().Add(pongWait))
	d.conn.SetPongHandler(func(string) error {
		d.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.done:
			return
		default:
		}

		_, message, err := d.conn.ReadMessage()
		if err != nil {
			return
		}
		d.handleMessage(message)
	}
}

func (d *Destination) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		d.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.done:
			return

		case message := <-d.send:
			d.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := d.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			d.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := d.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (d *Destination) handleMessage(message []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		d.sendControlMessage("error", nil, "invalid message")
		return
	}

	switch msg.Type {
	case "ping":
		d.sendControlMessage("pong", nil, "")
	case "subscribe":
		kinds := make([]geyser.EventKind, 0, len(msg.Kinds))
		for _, name := range msg.Kinds {
			k, err := geyser.ParseEventKind(name)
			if err != nil {
				d.sendControlMessage("error", nil, err.Error())
				return
			}
			kinds = append(kinds, k)
		}
		d.Subscribe(kinds)
		d.sendControlMessage("subscribed", msg.Kinds, "")
	}
}

func (d *Destination) sendControlMessage(msgType string, data any, errMsg string) {
	msg := ServerMessage{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Data:      data,
		Error:     errMsg,
	}
	if bytes, err := json.Marshal(msg); err == nil {
		select {
		case d.send <- bytes:
		default:
		}
	}
}

// ClientMessage represents an incoming message from a WebSocket client.
type ClientMessage struct {
	Type  string   `json:"type"`
	Kinds []string `json:"kinds,omitempty"`
}

// ServerMessage represents an outgoing message to a WebSocket client.
type ServerMessage struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
	Error     string    `json:"error,omitempty"`
}
