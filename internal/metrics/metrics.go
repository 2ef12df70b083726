// Package metrics exposes Prometheus metrics and a health endpoint for the
// strategy process.
package metrics

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the strategy process.
type Metrics struct {
	TicksTotal   prometheus.Counter
	DroppedTicks *prometheus.CounterVec // labels: subscriber
	FillsTotal   prometheus.Counter

	PreBarFires   prometheus.Counter
	EntryOrders   *prometheus.CounterVec // labels: bracket=near|far
	StopsPlaced   prometheus.Counter
	TimeExitsDone prometheus.Counter

	ActiveTrades prometheus.Gauge
	Gross        prometheus.Gauge

	JournalWriteDur prometheus.Histogram
}

// NewMetrics registers and returns all metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spikes_ticks_total",
			Help: "Total market trade ticks consumed",
		}),
		DroppedTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spikes_dropped_ticks_total",
			Help: "Ticks dropped per slow fan-out subscriber",
		}, []string{"subscriber"}),
		FillsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spikes_fills_total",
			Help: "Total own fills received",
		}),
		PreBarFires: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spikes_prebar_fires_total",
			Help: "Pre-bar signal firings",
		}),
		EntryOrders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spikes_entry_brackets_total",
			Help: "Entry brackets submitted (by bracket kind)",
		}, []string{"bracket"}),
		StopsPlaced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spikes_stops_placed_total",
			Help: "Stop orders submitted",
		}),
		TimeExitsDone: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spikes_time_exits_total",
			Help: "Trades closed by the time-based exit",
		}),
		ActiveTrades: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "spikes_active_trades",
			Help: "Open active trades",
		}),
		Gross: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "spikes_gross_minor_units",
			Help: "Running mark-to-market gross in minor price units",
		}),
		JournalWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "spikes_journal_write_duration_seconds",
			Help:    "SQLite journal insert latency",
			Buckets: prometheus.DefBuckets,
		}),
	}

	prometheus.MustRegister(
		m.TicksTotal,
		m.DroppedTicks,
		m.FillsTotal,
		m.PreBarFires,
		m.EntryOrders,
		m.StopsPlaced,
		m.TimeExitsDone,
		m.ActiveTrades,
		m.Gross,
		m.JournalWriteDur,
	)

	return m
}

// HealthStatus represents process health for the /healthz endpoint.
type HealthStatus struct {
	mu sync.RWMutex

	FeedConnected  bool      `json:"feed_connected"`
	LastTickTime   time.Time `json:"last_tick_time"`
	RedisConnected bool      `json:"redis_connected"`
	JournalOK      bool      `json:"journal_ok"`
	StrategyOn     bool      `json:"strategy_on"`
	StartedAt      time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now()}
}

func (h *HealthStatus) SetFeedConnected(v bool) {
	h.mu.Lock()
	h.FeedConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTickTime(t time.Time) {
	h.mu.Lock()
	h.LastTickTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetJournalOK(v bool) {
	h.mu.Lock()
	h.JournalOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetStrategyOn(v bool) {
	h.mu.Lock()
	h.StrategyOn = v
	h.mu.Unlock()
}

// CheckRedis pings Redis and records connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	err := rdb.Ping(ctx).Err()
	h.mu.Lock()
	h.RedisConnected = err == nil
	h.mu.Unlock()
}

// ServeHTTP handles /healthz.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := "healthy"
	code := http.StatusOK
	if !h.FeedConnected || !h.StrategyOn {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	tickAge := ""
	if !h.LastTickTime.IsZero() {
		tickAge = time.Since(h.LastTickTime).Round(time.Millisecond).String()
	}

	body := struct {
		Status         string `json:"status"`
		Uptime         string `json:"uptime"`
		FeedConnected  bool   `json:"feed_connected"`
		TickAge        string `json:"tick_age"`
		RedisConnected bool   `json:"redis_connected"`
		JournalOK      bool   `json:"journal_ok"`
		StrategyOn     bool   `json:"strategy_on"`
	}{
		Status:         status,
		Uptime:         time.Since(h.StartedAt).Round(time.Second).String(),
		FeedConnected:  h.FeedConnected,
		TickAge:        tickAge,
		RedisConnected: h.RedisConnected,
		JournalOK:      h.JournalOK,
		StrategyOn:     h.StrategyOn,
	}

	w.Header().Set("Content-Type", "application/json")
	if code != http.StatusOK {
		w.WriteHeader(code)
	}
	json.NewEncoder(w).Encode(body)
}

// Server exposes /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer creates the metrics HTTP server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", health)
	return &Server{
		addr: addr,
		srv:  &http.Server{Addr: addr, Handler: mux},
	}
}

// Start serves in a background goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] serving on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
