// Package redis publishes strategy events (own fills, active-trade snapshots)
// to Redis for downstream dashboards and operators.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"spikes-trader/internal/model"
)

const (
	fillStream       = "spikes:fills"
	tradesKey        = "latest:spikes:trades"
	grossKey         = "latest:spikes:gross"
	fillStreamMaxLen = 10000
	tradesTTL        = 30 * time.Minute

	// fills held locally while Redis is unreachable
	retryBufSize = 1024
)

// PublisherConfig configures the Redis publisher.
type PublisherConfig struct {
	Addr     string
	Password string
	DB       int
}

// Publisher writes fill events and registry snapshots to Redis. A bounded
// local buffer absorbs fills while the connection is down; the oldest entries
// are dropped once it overflows.
type Publisher struct {
	client *goredis.Client
	buf    []model.Fill
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// New creates a Publisher and pings the server.
func New(cfg PublisherConfig) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Publisher{client: client}, nil
}

// Run drains fillCh, publishing each fill to the fill stream. Blocks until
// ctx is cancelled or fillCh closes.
func (p *Publisher) Run(ctx context.Context, fillCh <-chan model.Fill) {
	for {
		select {
		case <-ctx.Done():
			return
		case fill, ok := <-fillCh:
			if !ok {
				return
			}
			p.publishFill(ctx, fill)
		}
	}
}

func (p *Publisher) publishFill(ctx context.Context, fill model.Fill) {
	p.buf = append(p.buf, fill)
	if len(p.buf) > retryBufSize {
		p.buf = p.buf[1:]
	}

	for len(p.buf) > 0 {
		next := p.buf[0]
		err := p.client.XAdd(ctx, &goredis.XAddArgs{
			Stream: fillStream,
			MaxLen: fillStreamMaxLen,
			Approx: true,
			Values: map[string]interface{}{
				"trade_id": next.TradeID,
				"order_id": next.OrderID,
				"strategy": next.Ref.Strategy,
				"role":     string(next.Ref.Role),
				"code":     next.Code,
				"side":     string(next.Side),
				"price":    strconv.FormatInt(next.Price, 10),
				"qty":      strconv.FormatInt(next.Qty, 10),
				"at":       next.At.Format(time.RFC3339Nano),
			},
		}).Err()
		if err != nil {
			log.Printf("[redis] fill publish failed (%d buffered): %v", len(p.buf), err)
			return
		}
		p.buf = p.buf[1:]
	}
}

// PublishActiveTrades stores the current registry snapshot under a latest-key
// with a TTL, for operator dashboards.
func (p *Publisher) PublishActiveTrades(ctx context.Context, trades any) {
	data, err := json.Marshal(trades)
	if err != nil {
		log.Printf("[redis] snapshot marshal: %v", err)
		return
	}
	if err := p.client.Set(ctx, tradesKey, data, tradesTTL).Err(); err != nil {
		log.Printf("[redis] snapshot publish failed: %v", err)
	}
}

// PublishGross stores the strategy's running gross.
func (p *Publisher) PublishGross(ctx context.Context, gross int64) {
	if err := p.client.Set(ctx, grossKey, gross, tradesTTL).Err(); err != nil {
		log.Printf("[redis] gross publish failed: %v", err)
	}
}

// Close releases the client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
