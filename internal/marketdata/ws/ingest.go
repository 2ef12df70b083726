// Package ws streams trade ticks from the exchange's public WebSocket feed.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"spikes-trader/internal/model"
)

const reconnectDelay = 3 * time.Second

// wireTick is the feed's JSON trade message.
type wireTick struct {
	Code    string `json:"code"`
	Price   int64  `json:"price"`
	Qty     int64  `json:"qty"`
	TickTS  int64  `json:"ts"` // epoch milliseconds, exchange clock
	MsgType string `json:"type"`
}

// IngestConfig holds configuration for the WS ingest.
type IngestConfig struct {
	FeedURL string
	Codes   []string
}

// Ingest connects to the public trade feed and pushes normalized ticks
// into a channel. It reconnects forever until its context is cancelled.
type Ingest struct {
	cfg IngestConfig

	// Optional metrics hooks
	OnReconnect func()
	OnConnected func()
}

// New creates a new Ingest instance.
func New(cfg IngestConfig) (*Ingest, error) {
	if cfg.FeedURL == "" {
		return nil, fmt.Errorf("ws ingest: feed URL not set")
	}
	if len(cfg.Codes) == 0 {
		return nil, fmt.Errorf("ws ingest: no instrument codes to subscribe")
	}
	return &Ingest{cfg: cfg}, nil
}

// Start streams ticks into tickCh. Blocks until ctx is cancelled.
func (ing *Ingest) Start(ctx context.Context, tickCh chan<- model.Tick) error {
	for {
		if err := ing.runOnce(ctx, tickCh); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("[ws] connection lost: %v, reconnecting in %s", err, reconnectDelay)
			if ing.OnReconnect != nil {
				ing.OnReconnect()
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectDelay):
		}
	}
}

func (ing *Ingest) runOnce(ctx context.Context, tickCh chan<- model.Tick) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, ing.cfg.FeedURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	sub := map[string]any{"action": "subscribe", "codes": ing.cfg.Codes}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	log.Printf("[ws] connected, subscribed codes=%v", ing.cfg.Codes)
	if ing.OnConnected != nil {
		ing.OnConnected()
	}

	// Unblock ReadMessage when the context is cancelled.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		var wt wireTick
		if err := json.Unmarshal(raw, &wt); err != nil {
			log.Printf("[ws] parse error: %v", err)
			continue
		}
		if wt.MsgType != "" && wt.MsgType != "trade" {
			continue
		}
		if wt.Code == "" || wt.Price <= 0 {
			continue
		}

		tick := model.Tick{
			Code:   wt.Code,
			Price:  wt.Price,
			Qty:    wt.Qty,
			TickTS: tsOrNow(wt.TickTS),
		}

		select {
		case tickCh <- tick:
		case <-ctx.Done():
			return ctx.Err()
		default:
			log.Println("[ws] tickCh full, dropping tick")
		}
	}
}

// tsOrNow converts the feed's epoch-millisecond stamp, falling back to the
// local clock when the feed omits it.
func tsOrNow(ms int64) time.Time {
	if ms > 0 {
		return time.Unix(0, ms*int64(time.Millisecond)).UTC()
	}
	return time.Now().UTC()
}
