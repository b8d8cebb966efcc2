package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/marko911/pulse-geyser/pkg/geyser"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	return conn
}

func TestManager_RegisterAndGet(t *testing.T) {
	manager := NewManager(ManagerConfig{})
	ready := make(chan struct{})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		manager.HandleConnection(context.Background(), "client-1", conn)
		close(ready)
	}))
	defer server.Close()

	clientConn := dial(t, server)
	defer clientConn.Close()
	<-ready

	dest, ok := manager.Get("client-1")
	if !ok {
		t.Fatal("expected to find destination 'client-1'")
	}
	if dest.ID() != "client-1" {
		t.Errorf("expected ID 'client-1', got '%s'", dest.ID())
	}
	if manager.ActiveCount() != 1 {
		t.Errorf("expected 1 active connection, got %d", manager.ActiveCount())
	}
}

func TestManager_Unregister(t *testing.T) {
	manager := NewManager(ManagerConfig{})
	ready := make(chan *Destination, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, _ := upgrader.Upgrade(w, r, nil)
		ready <- manager.HandleConnection(context.Background(), "client-unreg", conn)
	}))
	defer server.Close()

	clientConn := dial(t, server)
	defer clientConn.Close()
	dest := <-ready

	manager.Unregister("client-unreg")

	if _, ok := manager.Get("client-unreg"); ok {
		t.Error("expected destination to be removed")
	}
	if !dest.IsClosed() {
		t.Error("expected destination to be closed")
	}
}

func TestManager_ReplaceExistingConnection(t *testing.T) {
	manager := NewManager(ManagerConfig{})
	dests := make(chan *Destination, 2)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, _ := upgrader.Upgrade(w, r, nil)
		dests <- manager.HandleConnection(context.Background(), "same-client", conn)
	}))
	defer server.Close()

	conn1 := dial(t, server)
	defer conn1.Close()
	first := <-dests

	conn2 := dial(t, server)
	defer conn2.Close()
	second := <-dests

	time.Sleep(50 * time.Millisecond)

	if !first.IsClosed() {
		t.Error("first destination should be closed after replacement")
	}
	got, ok := manager.Get("same-client")
	if !ok || got != second {
		t.Error("expected the second destination to stay registered")
	}
	if manager.ActiveCount() != 1 {
		t.Errorf("expected 1 active connection after replacement, got %d", manager.ActiveCount())
	}
	if manager.Stats().TotalConnections != 2 {
		t.Errorf("expected 2 total connections, got %d", manager.Stats().TotalConnections)
	}
}

func TestManager_BroadcastHonorsSubscriptions(t *testing.T) {
	manager := NewManager(ManagerConfig{ClientBuffer: 4})
	dests := make(chan *Destination, 2)

	var n int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, _ := upgrader.Upgrade(w, r, nil)
		n++
		dests <- manager.HandleConnection(context.Background(), []string{"a", "b"}[n-1], conn)
	}))
	defer server.Close()

	connA := dial(t, server)
	defer connA.Close()
	a := <-dests
	connB := dial(t, server)
	defer connB.Close()
	b := <-dests

	b.Subscribe([]geyser.EventKind{geyser.KindSlotStatus})

	if got := manager.Broadcast(geyser.KindEntry, []byte(`{}`)); got != 1 {
		t.Errorf("Broadcast(entry) queued for %d clients, want 1", got)
	}
	if got := manager.Broadcast(geyser.KindSlotStatus, []byte(`{}`)); got != 2 {
		t.Errorf("Broadcast(slot_status) queued for %d clients, want 2", got)
	}
	if len(a.send) != 2 || len(b.send) != 1 {
		t.Errorf("queued a=%d b=%d, want 2 and 1", len(a.send), len(b.send))
	}
}

func TestManager_BroadcastDropsWhenFull(t *testing.T) {
	manager := NewManager(ManagerConfig{ClientBuffer: 2})
	ready := make(chan *Destination, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, _ := upgrader.Upgrade(w, r, nil)
		// No write pump: the buffer only fills.
		ready <- manager.HandleConnection(context.Background(), "slow", conn)
	}))
	defer server.Close()

	clientConn := dial(t, server)
	defer clientConn.Close()
	dest := <-ready

	for i := 0; i < 5; i++ {
		manager.Broadcast(geyser.KindEntry, []byte(`{}`))
	}

	if dest.Dropped() != 3 {
		t.Errorf("Dropped() = %d, want 3", dest.Dropped())
	}
	stats := manager.Stats()
	if stats.MessagesDelivered != 2 || stats.MessagesDropped != 3 {
		t.Errorf("stats = %+v, want 2 delivered and 3 dropped", stats)
	}
}

func TestDestination_SubscribeMessage(t *testing.T) {
	ready := make(chan *Destination, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, _ := upgrader.Upgrade(w, r, nil)
		dest := NewDestination(DestinationConfig{ID: "sub", Conn: conn, SendBufferSize: 8})
		ready <- dest
		dest.Run(context.Background())
	}))
	defer server.Close()

	clientConn := dial(t, server)
	defer clientConn.Close()
	dest := <-ready

	if err := clientConn.WriteJSON(ClientMessage{Type: "subscribe", Kinds: []string{"block_metadata"}}); err != nil {
		t.Fatalf("write error: %v", err)
	}

	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := clientConn.ReadMessage()
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	var msg ServerMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if msg.Type != "subscribed" {
		t.Errorf("expected type 'subscribed', got '%s'", msg.Type)
	}

	if dest.Wants(geyser.KindEntry) {
		t.Error("expected entry to be filtered out")
	}
	if !dest.Wants(geyser.KindBlockMetadata) {
		t.Error("expected block_metadata to be wanted")
	}
}

func TestDestination_SubscribeUnknownKind(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, _ := upgrader.Upgrade(w, r, nil)
		NewDestination(DestinationConfig{ID: "bad", Conn: conn}).Run(context.Background())
	}))
	defer server.Close()

	clientConn := dial(t, server)
	defer clientConn.Close()

	if err := clientConn.WriteJSON(ClientMessage{Type: "subscribe", Kinds: []string{"votes"}}); err != nil {
		t.Fatalf("write error: %v", err)
	}

	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg ServerMessage
	if err := clientConn.ReadJSON(&msg); err != nil {
		t.Fatalf("read error: %v", err)
	}
	if msg.Type != "error" || msg.Error == "" {
		t.Errorf("expected error message, got %+v", msg)
	}
}

func TestManager_Close(t *testing.T) {
	manager := NewManager(ManagerConfig{})
	ready := make(chan *Destination, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, _ := upgrader.Upgrade(w, r, nil)
		ready <- manager.HandleConnection(context.Background(), "close-test", conn)
	}))
	defer server.Close()

	clientConn := dial(t, server)
	defer clientConn.Close()
	dest := <-ready

	if err := manager.Close(); err != nil {
		t.Fatalf("close error: %v", err)
	}
	if !dest.IsClosed() {
		t.Error("destination should be closed after manager.Close()")
	}
	if manager.ActiveCount() != 0 {
		t.Errorf("expected 0 active connections, got %d", manager.ActiveCount())
	}
	if err := dest.Send([]byte("x")); err == nil {
		t.Error("expected Send on closed destination to fail")
	}
}
