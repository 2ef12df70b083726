// Package spikes implements the spike-catching strategy core: symmetric
// buy/sell limit brackets around the last trade price, re-placed at every bar
// boundary, with a stop-loss and a time-based forced exit per entry fill.
package spikes

import (
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"spikes-trader/internal/model"
	"spikes-trader/internal/portfolio"
	"spikes-trader/internal/prebar"
	"spikes-trader/internal/sched"
	"spikes-trader/internal/sessiongate"
)

// Venue is the order-routing and quote port the strategy consumes. Submission
// and cancellation are fire-and-forget: the venue reports outcomes through the
// own-fill stream, never synchronously.
type Venue interface {
	SubmitOrder(o model.Order) (string, error)
	CancelOrder(orderID string) error
	ActiveOrders(code string) []model.Order
	LastPrice(code string) int64
	BestBid(code string) int64
	BestAsk(code string) int64
}

// Evening-only entry windows, minutes of day per venue mode.
const (
	eveningFromPrimary   = 1120
	eveningToPrimary     = 1150
	eveningFromSecondary = 990
	eveningToSecondary   = 1005
)

// closeEarlyBy is subtracted from the time-based exit instant so the closing
// order reaches the venue before the bar actually rolls.
const closeEarlyBy = 5 * time.Second

// Config carries all construction-time parameters of one strategy instance.
type Config struct {
	Name        string
	Instruments []model.Instrument
	BarMinutes  int
	Mode        sessiongate.Mode

	StopLossPct   float64
	TakeProfitPct float64
	DeltaPct      float64
	DeltaFarPct   float64

	// SingleFarCode is the instrument prefix that only ever receives the far
	// bracket treatment; the far bracket itself is skipped for it.
	SingleFarCode string

	EveningOnly bool
	BarsToClose int

	// NativeStops selects the execution mode where the venue can accept a
	// stop scheduled at the next bar boundary; otherwise stops are monitored
	// tick by tick.
	NativeStops bool
}

// Strategy is one spikes instance. A single mutex serializes clock ticks,
// trade ticks, own fills, and scheduled callbacks, which may arrive on timer
// goroutines.
type Strategy struct {
	mu      sync.Mutex
	cfg     Config
	venue   Venue
	sched   *sched.Scheduler
	det     *prebar.Detector
	book    *portfolio.Book
	reg     *Registry
	insts   map[string]*model.Instrument
	running bool
	log     *slog.Logger

	// Optional observation hooks, called with the strategy lock held.
	OnPreBarFired   func()
	OnEntryOrder    func(far bool)
	OnStopTriggered func()
	OnTimeExitDone  func()
}

// New validates the configuration and builds a Strategy. Every traded
// instrument must carry a tick size and both bracket volumes; a missing entry
// is a configuration error surfaced here, not a lookup failure mid-session.
func New(cfg Config, v Venue, sc *sched.Scheduler, logger *slog.Logger) (*Strategy, error) {
	if cfg.Name == "" {
		cfg.Name = "spikes"
	}
	if cfg.BarMinutes <= 0 {
		return nil, errf("bar length must be positive, got %d", cfg.BarMinutes)
	}
	if len(cfg.Instruments) == 0 {
		return nil, errf("no instruments configured")
	}
	insts := make(map[string]*model.Instrument, len(cfg.Instruments))
	codes := make([]string, 0, len(cfg.Instruments))
	for i := range cfg.Instruments {
		inst := &cfg.Instruments[i]
		if inst.TickSize <= 0 {
			return nil, errf("instrument %s: tick size missing", inst.Code)
		}
		if inst.BaseVol <= 0 {
			return nil, errf("instrument %s: base volume missing", inst.Code)
		}
		if inst.FarVol <= 0 {
			return nil, errf("instrument %s: far volume missing", inst.Code)
		}
		insts[inst.Code] = inst
		codes = append(codes, inst.Code)
	}

	return &Strategy{
		cfg:   cfg,
		venue: v,
		sched: sc,
		det: prebar.New(prebar.Config{
			BarMinutes: cfg.BarMinutes,
			Mode:       cfg.Mode,
		}),
		book:  portfolio.NewBook(codes),
		reg:   NewRegistry(),
		insts: insts,
		log:   logger.With(slog.String("strategy", cfg.Name)),
	}, nil
}

// Registry exposes the active-trade registry for observers.
func (s *Strategy) Registry() *Registry { return s.reg }

// Book exposes the position/gross book. Callers must treat it as read-only.
func (s *Strategy) Book() *portfolio.Book { return s.book }

// Start logs the run parameters and begins accepting events.
func (s *Strategy) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = true
	s.log.Info("strategy started",
		slog.Int("bar_minutes", s.cfg.BarMinutes),
		slog.Float64("delta_pct", s.cfg.DeltaPct),
		slog.Float64("delta_far_pct", s.cfg.DeltaFarPct),
		slog.Float64("stop_loss_pct", s.cfg.StopLossPct),
		slog.Float64("take_profit_pct", s.cfg.TakeProfitPct),
		slog.Int("bars_to_close", s.cfg.BarsToClose),
		slog.Bool("evening_only", s.cfg.EveningOnly),
	)
}

// Stop freezes event processing and cancels pending scheduled callbacks.
func (s *Strategy) Stop() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	s.sched.Stop()
	s.log.Info("strategy stopped", slog.Int64("gross", s.book.Gross()))
}

// OnClockTick consumes one exchange wall-clock tick. now is the exchange
// timestamp, elapsed the wall-clock delta since the previous tick. When the
// pre-bar instant is reached the far brackets are (re)placed.
func (s *Strategy) OnClockTick(now time.Time, elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	if !s.det.Observe(now, elapsed) {
		return
	}
	if s.OnPreBarFired != nil {
		s.OnPreBarFired()
	}
	s.log.Info("pre-bar", slog.Time("market_time", now))
	s.placeBrackets(now, true)
}

// OnBarClose consumes the plain bar-boundary event from the bar aggregation
// collaborator: stale near entries are withdrawn and the near brackets placed.
func (s *Strategy) OnBarClose(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.placeBrackets(now, false)
}

// placeBrackets withdraws stale unfilled entries of the matching role and
// submits the symmetric bracket per eligible instrument. Caller holds the lock.
func (s *Strategy) placeBrackets(now time.Time, far bool) {
	role := model.RoleEntry
	pct := s.cfg.DeltaPct
	if far {
		role = model.RoleEntryFar
		pct = s.cfg.DeltaFarPct
	}
	minute := sessiongate.MinuteOfDay(now)

	for i := range s.cfg.Instruments {
		inst := &s.cfg.Instruments[i]

		// stale entries go first, regardless of eligibility
		s.cancelEntries(inst.Code, role)

		if far && s.isSingleFar(inst.Code) {
			continue
		}
		if !s.eligible(inst.Code, minute) {
			continue
		}

		last := s.venue.LastPrice(inst.Code)
		if last <= 0 {
			// no trade data yet for this instrument; skip it, not the event
			continue
		}

		vol := inst.BaseVol
		if far {
			vol = inst.FarVol
		}
		delta := int64(math.Round(float64(last) * pct / 100))
		expiry := now.Add(time.Hour)

		s.submitEntry(inst, model.Buy, inst.ShrinkPrice(last-delta), vol, role, expiry)
		s.submitEntry(inst, model.Sell, inst.ShrinkPrice(last+delta), vol, role, expiry)

		if s.OnEntryOrder != nil {
			s.OnEntryOrder(far)
		}
	}
}

func (s *Strategy) submitEntry(inst *model.Instrument, side model.Side, price, vol int64, role model.Role, expiry time.Time) {
	o := model.Order{
		Code:      inst.Code,
		Side:      side,
		Price:     price,
		Qty:       vol,
		Ref:       model.OrderRef{Strategy: s.cfg.Name, Role: role},
		ExpiresAt: expiry,
	}
	if _, err := s.venue.SubmitOrder(o); err != nil {
		s.log.Error("entry order rejected",
			slog.String("code", inst.Code), slog.String("side", string(side)), slog.Any("err", err))
		return
	}
	s.log.Info("entry order registered",
		slog.String("code", inst.Code),
		slog.String("side", string(side)),
		slog.String("role", string(role)),
		slog.Int64("price", price),
		slog.Int64("volume", vol),
		slog.Int64("stop_at", inst.ShrinkPrice(s.stopFor(side, price))),
	)
}

// eligible applies the per-instrument entry filters shared by both brackets.
func (s *Strategy) eligible(code string, minute int) bool {
	if s.reg.HasInstrument(code) {
		return false
	}
	if !s.cfg.EveningOnly {
		return minute <= sessiongate.LastEntry
	}
	if s.cfg.Mode == sessiongate.Primary {
		return minute >= eveningFromPrimary && minute <= eveningToPrimary
	}
	if minute < eveningFromSecondary || minute > eveningToSecondary {
		return false
	}
	if s.book.Position(code) != 0 {
		return false
	}
	return !s.isSingleFar(code)
}

func (s *Strategy) isSingleFar(code string) bool {
	return s.cfg.SingleFarCode != "" && strings.HasPrefix(code, s.cfg.SingleFarCode)
}

// cancelEntries withdraws this strategy's active entry orders of one role.
func (s *Strategy) cancelEntries(code string, role model.Role) {
	for _, o := range s.venue.ActiveOrders(code) {
		if o.Ref.Strategy != s.cfg.Name || o.Ref.Role != role {
			continue
		}
		if err := s.venue.CancelOrder(o.ID); err != nil {
			// the order may have just filled or expired; not fatal
			s.log.Warn("cancel failed", slog.String("order", o.ID), slog.Any("err", err))
		}
	}
}

// stopFor returns the raw (un-shrunk) stop price for an entry at price.
func (s *Strategy) stopFor(side model.Side, price int64) int64 {
	f := 1 - s.cfg.StopLossPct/100
	if side == model.Sell {
		f = 1 + s.cfg.StopLossPct/100
	}
	return int64(math.Round(float64(price) * f))
}

func errf(format string, args ...any) error {
	return fmt.Errorf("spikes: "+format, args...)
}
