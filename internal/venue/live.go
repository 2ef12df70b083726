package venue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pquerna/otp/totp"

	"spikes-trader/internal/model"
)

// LiveConfig configures the REST order-routing adapter.
type LiveConfig struct {
	BaseURL    string // e.g. "https://gw.example-broker.ru"
	APIKey     string
	ClientCode string
	TOTPSecret string        // base32 secret for session login
	Timeout    time.Duration // default 7s
}

// Live routes orders to the broker gateway over REST. Sessions are opened with
// a TOTP code and refreshed when the gateway reports them expired. Quote reads
// are best-effort: a failed request returns 0 and the caller skips the
// instrument for that event.
type Live struct {
	cfg  LiveConfig
	http *http.Client

	mu       sync.Mutex
	token    string
	tokenExp time.Time
}

// NewLive creates the adapter and opens the first session.
func NewLive(cfg LiveConfig) (*Live, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 7 * time.Second
	}
	l := &Live{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
	if err := l.login(); err != nil {
		return nil, fmt.Errorf("live venue: %w", err)
	}
	return l, nil
}

func (l *Live) login() error {
	code, err := totp.GenerateCode(l.cfg.TOTPSecret, time.Now())
	if err != nil {
		return fmt.Errorf("totp: %w", err)
	}
	body, _ := json.Marshal(map[string]string{
		"api_key":     l.cfg.APIKey,
		"client_code": l.cfg.ClientCode,
		"totp":        code,
	})
	var resp struct {
		Token     string `json:"token"`
		ExpiresIn int64  `json:"expires_in"` // seconds
	}
	if err := l.do(http.MethodPost, "/v1/session", body, &resp); err != nil {
		return err
	}
	l.mu.Lock()
	l.token = resp.Token
	l.tokenExp = time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	l.mu.Unlock()
	log.Printf("[live] session opened for %s", l.cfg.ClientCode)
	return nil
}

func (l *Live) sessionToken() string {
	l.mu.Lock()
	token, exp := l.token, l.tokenExp
	l.mu.Unlock()
	if token == "" || time.Until(exp) < time.Minute {
		if err := l.login(); err != nil {
			log.Printf("[live] session refresh failed: %v", err)
			return token
		}
		l.mu.Lock()
		token = l.token
		l.mu.Unlock()
	}
	return token
}

func (l *Live) do(method, path string, body []byte, out any) error {
	req, err := http.NewRequest(method, l.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", l.cfg.APIKey)
	if path != "/v1/session" {
		req.Header.Set("Authorization", "Bearer "+l.sessionToken())
	}

	resp, err := l.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

// SubmitOrder sends a limit order and returns the venue order id.
func (l *Live) SubmitOrder(o model.Order) (string, error) {
	body, _ := json.Marshal(o)
	var resp struct {
		OrderID string `json:"order_id"`
	}
	if err := l.do(http.MethodPost, "/v1/orders", body, &resp); err != nil {
		return "", err
	}
	return resp.OrderID, nil
}

// CancelOrder withdraws an order by id.
func (l *Live) CancelOrder(orderID string) error {
	return l.do(http.MethodDelete, "/v1/orders/"+url.PathEscape(orderID), nil, nil)
}

// ActiveOrders lists our resting orders for one instrument.
func (l *Live) ActiveOrders(code string) []model.Order {
	var out []model.Order
	if err := l.do(http.MethodGet, "/v1/orders?code="+url.QueryEscape(code), nil, &out); err != nil {
		log.Printf("[live] active orders %s: %v", code, err)
		return nil
	}
	return out
}

type quote struct {
	Last int64 `json:"last"`
	Bid  int64 `json:"bid"`
	Ask  int64 `json:"ask"`
}

func (l *Live) quote(code string) quote {
	var q quote
	if err := l.do(http.MethodGet, "/v1/quotes/"+url.PathEscape(code), nil, &q); err != nil {
		log.Printf("[live] quote %s: %v", code, err)
	}
	return q
}

// LastPrice returns the last trade price, 0 when unavailable.
func (l *Live) LastPrice(code string) int64 { return l.quote(code).Last }

// BestBid returns the best bid, 0 when unavailable.
func (l *Live) BestBid(code string) int64 { return l.quote(code).Bid }

// BestAsk returns the best ask, 0 when unavailable.
func (l *Live) BestAsk(code string) int64 { return l.quote(code).Ask }

// StreamFills connects to the private fill stream and delivers executions to
// h until ctx is cancelled. Reconnects with a flat backoff on any error.
func (l *Live) StreamFills(ctx context.Context, h FillHandler) {
	wsURL := strings.Replace(l.cfg.BaseURL, "http", "ws", 1) + "/v1/fills"

	for ctx.Err() == nil {
		if err := l.streamOnce(ctx, wsURL, h); err != nil && ctx.Err() == nil {
			log.Printf("[live] fill stream: %v, reconnecting", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(3 * time.Second):
		}
	}
}

func (l *Live) streamOnce(ctx context.Context, wsURL string, h FillHandler) error {
	header := http.Header{"Authorization": {"Bearer " + l.sessionToken()}}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return err
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		var msg struct {
			Order model.Order `json:"order"`
			Fill  model.Fill  `json:"fill"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		h(msg.Order, msg.Fill)
	}
}
