package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Stream consumes live trade events from the public CLOB market channel.
// It is an optional supplement to HTTP polling: streamed trades go
// through the same dedupe insert, so losing the socket only delays
// trades until the next poll.
type Stream struct {
	logger       *zap.Logger
	wsURL        string
	dialer       *websocket.Dialer
	pingInterval time.Duration

	connMu  sync.Mutex
	writeMu sync.Mutex
	conn    *websocket.Conn

	tradeCh chan Trade
	closeCh chan struct{}
}

// NewStream creates a live trade stream client.
func NewStream(wsURL string, logger *zap.Logger) *Stream {
	return &Stream{
		logger:       logger,
		wsURL:        wsURL,
		dialer:       websocket.DefaultDialer,
		pingInterval: 10 * time.Second,
		tradeCh:      make(chan Trade, 1024),
		closeCh:      make(chan struct{}),
	}
}

// Connect dials the market channel and subscribes to the given asset
// ids. The market channel is public; no credentials are needed.
func (s *Stream) Connect(ctx context.Context, assetIDs []string) error {
	s.connMu.Lock()
	connected := s.conn != nil
	s.connMu.Unlock()
	if connected {
		return fmt.Errorf("Connect: already connected")
	}

	conn, _, err := s.dialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return fmt.Errorf("Connect: %w", err)
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()

	sub := map[string]interface{}{
		"type":       "market",
		"assets_ids": assetIDs,
	}
	if err := s.writeJSON(sub); err != nil {
		_ = conn.Close()
		s.connMu.Lock()
		s.conn = nil
		s.connMu.Unlock()
		return fmt.Errorf("Connect subscribe: %w", err)
	}

	s.logger.Info("trade stream connected",
		zap.String("url", s.wsURL),
		zap.Int("assets", len(assetIDs)))

	go s.readLoop()
	go s.pingLoop()
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.closeCh:
		}
	}()
	return nil
}

// SubscribeAssets adds asset ids to the live subscription.
func (s *Stream) SubscribeAssets(assetIDs []string) error {
	return s.writeJSON(map[string]interface{}{
		"operation":  "subscribe",
		"assets_ids": assetIDs,
	})
}

// Trades returns the stream of normalized trades.
func (s *Stream) Trades() <-chan Trade {
	return s.tradeCh
}

// Close tears the connection down and stops the loops.
func (s *Stream) Close() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	select {
	case <-s.closeCh:
	default:
		close(s.closeCh)
	}

	var err error
	if s.conn != nil {
		err = s.conn.Close()
		s.conn = nil
	}
	return err
}

func (s *Stream) writeJSON(v interface{}) error {
	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteJSON(v)
}

func (s *Stream) pingLoop() {
	t := time.NewTicker(s.pingInterval)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			s.connMu.Lock()
			conn := s.conn
			s.connMu.Unlock()
			if conn != nil {
				s.writeMu.Lock()
				_ = conn.WriteMessage(websocket.TextMessage, []byte("PING"))
				s.writeMu.Unlock()
			}
		case <-s.closeCh:
			return
		}
	}
}

func (s *Stream) readLoop() {
	for {
		select {
		case <-s.closeCh:
			return
		default:
		}

		s.connMu.Lock()
		conn := s.conn
		s.connMu.Unlock()
		if conn == nil {
			return
		}

		_, frame, err := conn.ReadMessage()
		if err != nil {
			s.logger.Warn("trade stream read error", zap.Error(err))
			_ = s.Close()
			return
		}

		if string(frame) == "PONG" || string(frame) == "PING" {
			continue
		}
		s.emitFrame(frame)
	}
}

// wireTradeEvent is the market-channel trade payload. All numeric fields
// arrive as strings.
type wireTradeEvent struct {
	EventType       string `json:"event_type"`
	AssetID         string `json:"asset_id"`
	Price           string `json:"price"`
	Size            string `json:"size"`
	Side            string `json:"side"`
	TakerAddress    string `json:"taker_address"`
	MakerAddress    string `json:"maker_address"`
	Timestamp       string `json:"timestamp"`
	TransactionHash string `json:"transaction_hash"`
}

// emitFrame handles both single-object and batched array frames.
func (s *Stream) emitFrame(frame []byte) {
	trimmed := strings.TrimSpace(string(frame))
	if trimmed == "" {
		return
	}

	var events []json.RawMessage
	if trimmed[0] == '[' {
		if err := json.Unmarshal([]byte(trimmed), &events); err != nil {
			s.logger.Warn("trade stream bad frame", zap.Error(err))
			return
		}
	} else {
		events = []json.RawMessage{json.RawMessage(trimmed)}
	}

	for _, raw := range events {
		var event wireTradeEvent
		if err := json.Unmarshal(raw, &event); err != nil {
			continue
		}
		if event.EventType != "trade" {
			continue
		}
		trade, ok := normalizeStreamTrade(event)
		if !ok {
			continue
		}
		select {
		case s.tradeCh <- trade:
		default:
			s.logger.Warn("trade stream channel full, dropping trade",
				zap.String("asset", event.AssetID))
		}
	}
}

// normalizeStreamTrade maps a wire event into the shared trade shape.
// The taker is the aggressor; their address is the wallet of record.
func normalizeStreamTrade(event wireTradeEvent) (Trade, bool) {
	wallet := event.TakerAddress
	if wallet == "" {
		wallet = event.MakerAddress
	}
	tradedAt := parseTimestamp(event.Timestamp)
	if event.AssetID == "" || wallet == "" || tradedAt == nil {
		return Trade{}, false
	}

	side := strings.ToLower(event.Side)
	if side == "" {
		side = "unknown"
	}
	trade := Trade{
		MarketExternalID: event.AssetID,
		WalletAddress:    wallet,
		Side:             side,
		Shares:           parseDecimal(event.Size),
		Price:            parseDecimal(event.Price),
		TradedAt:         *tradedAt,
	}
	if event.TransactionHash != "" {
		hash := event.TransactionHash
		trade.TradeHash = &hash
	}
	return trade, true
}
