// Package solanaws feeds a plugin from a Solana RPC websocket endpoint.
// Slot and account subscriptions are turned into host notifications so a
// plugin can be exercised against a live cluster without a validator.
package solanaws

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gorilla/websocket"

	"github.com/marko911/pulse-geyser/pkg/geyser"
)

// Config holds Solana websocket source configuration.
type Config struct {
	// WebSocket endpoint (e.g. wss://api.mainnet-beta.solana.com)
	Endpoint string

	// Base58 account keys to subscribe to.
	Accounts []string

	// Commitment for account subscriptions. Defaults to "confirmed".
	Commitment string

	// Reconnect backoff bounds. Default 1s and 30s.
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// Source implements host.Source over slotSubscribe and accountSubscribe.
type Source struct {
	cfg    Config
	logger *slog.Logger

	// The RPC does not expose write versions, so a local counter stands in.
	writeVersion atomic.Uint64
}

// New creates a new Solana websocket source.
func New(cfg Config, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Commitment == "" {
		cfg.Commitment = "confirmed"
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	return &Source{
		cfg:    cfg,
		logger: logger.With("source", "solana-ws"),
	}
}

func (s *Source) Name() string {
	return "solana-ws:" + s.cfg.Endpoint
}

// Stream connects and streams notifications until ctx is cancelled,
// reconnecting with exponential backoff.
func (s *Source) Stream(ctx context.Context, envelopes chan<- geyser.Envelope) error {
	s.logger.Info("starting solana websocket source",
		"endpoint", s.cfg.Endpoint,
		"accounts", len(s.cfg.Accounts),
		"commitment", s.cfg.Commitment,
	)

	backoff := s.cfg.MinBackoff
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		streamed, err := s.connectAndStream(ctx, envelopes)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if streamed {
			backoff = s.cfg.MinBackoff
		}

		s.logger.Error("websocket error, reconnecting",
			"error", err,
			"backoff", backoff,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > s.cfg.MaxBackoff {
			backoff = s.cfg.MaxBackoff
		}
	}
}

// subscriptions tracks which account each subscription id belongs to.
type subscriptions struct {
	pending map[int]solana.PublicKey
	active  map[uint64]solana.PublicKey
}

// connectAndStream runs one connection. streamed reports whether any
// notification was delivered before the connection failed.
func (s *Source) connectAndStream(ctx context.Context, envelopes chan<- geyser.Envelope) (streamed bool, err error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsEndpoint(s.cfg.Endpoint), nil)
	if err != nil {
		return false, fmt.Errorf("dial failed: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	subs, err := s.subscribe(conn)
	if err != nil {
		return false, err
	}

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return streamed, fmt.Errorf("read error: %w", err)
		}

		env, ok := s.handleMessage(message, subs)
		if !ok {
			continue
		}
		select {
		case <-ctx.Done():
			return streamed, ctx.Err()
		case envelopes <- env:
			streamed = true
		}
	}
}

func (s *Source) subscribe(conn *websocket.Conn) (*subscriptions, error) {
	subs := &subscriptions{
		pending: make(map[int]solana.PublicKey),
		active:  make(map[uint64]solana.PublicKey),
	}

	if err := conn.WriteJSON(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "slotSubscribe",
	}); err != nil {
		return nil, fmt.Errorf("slot subscribe: %w", err)
	}

	for i, account := range s.cfg.Accounts {
		key, err := solana.PublicKeyFromBase58(account)
		if err != nil {
			return nil, fmt.Errorf("account %q: %w", account, err)
		}
		id := i + 2
		subs.pending[id] = key
		if err := conn.WriteJSON(map[string]any{
			"jsonrpc": "2.0",
			"id":      id,
			"method":  "accountSubscribe",
			"params": []any{
				account,
				map[string]any{"encoding": "base64", "commitment": s.cfg.Commitment},
			},
		}); err != nil {
			return nil, fmt.Errorf("account subscribe: %w", err)
		}
	}
	return subs, nil
}

type rpcMessage struct {
	ID     *int            `json:"id"`
	Result json.RawMessage `json:"result"`
	Method string          `json:"method"`
	Params struct {
		Result       json.RawMessage `json:"result"`
		Subscription uint64          `json:"subscription"`
	} `json:"params"`
}

// handleMessage turns one websocket message into an envelope. Replies and
// anything unrecognized yield ok=false.
func (s *Source) handleMessage(msg []byte, subs *subscriptions) (geyser.Envelope, bool) {
	var m rpcMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		s.logger.Debug("ignoring malformed message", "error", err)
		return geyser.Envelope{}, false
	}

	switch m.Method {
	case "":
		if m.ID != nil {
			s.handleReply(*m.ID, m.Result, subs)
		}
		return geyser.Envelope{}, false
	case "slotNotification":
		return s.handleSlotNotification(m.Params.Result)
	case "accountNotification":
		key, ok := subs.active[m.Params.Subscription]
		if !ok {
			s.logger.Debug("notification for unknown subscription", "subscription", m.Params.Subscription)
			return geyser.Envelope{}, false
		}
		return s.handleAccountNotification(key, m.Params.Result)
	}
	return geyser.Envelope{}, false
}

func (s *Source) handleReply(id int, result json.RawMessage, subs *subscriptions) {
	key, ok := subs.pending[id]
	if !ok {
		return
	}
	delete(subs.pending, id)

	var subID uint64
	if err := json.Unmarshal(result, &subID); err != nil {
		s.logger.Warn("account subscribe rejected", "account", key.String(), "reply", string(result))
		return
	}
	subs.active[subID] = key
	s.logger.Debug("account subscribed", "account", key.String(), "subscription", subID)
}

func (s *Source) handleSlotNotification(result json.RawMessage) (geyser.Envelope, bool) {
	var r struct {
		Slot   uint64 `json:"slot"`
		Parent uint64 `json:"parent"`
	}
	if err := json.Unmarshal(result, &r); err != nil {
		return geyser.Envelope{}, false
	}
	parent := r.Parent
	return geyser.SlotEnvelope(r.Slot, &parent, geyser.SlotProcessed, ""), true
}

func (s *Source) handleAccountNotification(key solana.PublicKey, result json.RawMessage) (geyser.Envelope, bool) {
	var r struct {
		Context struct {
			Slot uint64 `json:"slot"`
		} `json:"context"`
		Value struct {
			Lamports   uint64   `json:"lamports"`
			Owner      string   `json:"owner"`
			Data       []string `json:"data"`
			Executable bool     `json:"executable"`
			RentEpoch  uint64   `json:"rentEpoch"`
		} `json:"value"`
	}
	if err := json.Unmarshal(result, &r); err != nil {
		s.logger.Debug("ignoring malformed account notification", "error", err)
		return geyser.Envelope{}, false
	}

	owner, err := solana.PublicKeyFromBase58(r.Value.Owner)
	if err != nil {
		s.logger.Warn("bad account owner", "account", key.String(), "error", err)
		return geyser.Envelope{}, false
	}
	var data []byte
	if len(r.Value.Data) > 0 {
		if data, err = base64.StdEncoding.DecodeString(r.Value.Data[0]); err != nil {
			s.logger.Warn("bad account data", "account", key.String(), "error", err)
			return geyser.Envelope{}, false
		}
	}

	env, err := geyser.AccountEnvelope(geyser.AccountInfoV3{
		Pubkey:       key.Bytes(),
		Lamports:     r.Value.Lamports,
		Owner:        owner.Bytes(),
		Executable:   r.Value.Executable,
		RentEpoch:    r.Value.RentEpoch,
		Data:         data,
		WriteVersion: s.writeVersion.Add(1),
	}, r.Context.Slot, false)
	if err != nil {
		s.logger.Warn("encode account", "account", key.String(), "error", err)
		return geyser.Envelope{}, false
	}
	return env, true
}

// wsEndpoint maps http(s) URLs onto ws(s).
func wsEndpoint(endpoint string) string {
	switch {
	case strings.HasPrefix(endpoint, "https"):
		return "wss" + endpoint[5:]
	case strings.HasPrefix(endpoint, "http"):
		return "ws" + endpoint[4:]
	}
	return endpoint
}
