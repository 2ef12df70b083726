package spikes

import (
	"log/slog"
	"math"
	"time"

	"spikes-trader/internal/model"
	"spikes-trader/internal/prebar"
)

// OnOwnFill consumes one execution against our own orders. Entry fills open an
// ActiveTrade and arm its exits; a fully matched exit order of any role (stop,
// profit, or time) closes the trade and sweeps its sibling orders.
func (s *Strategy) OnOwnFill(order model.Order, fill model.Fill) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// net position moves on every own fill, whatever the order was for
	s.book.ApplyFill(fill.Code, fill.Side, fill.Qty)

	if order.Ref.Strategy != s.cfg.Name {
		return
	}

	switch {
	case order.Ref.IsEntry():
		s.openTrade(fill)
	case order.Ref.TradeID != "" && order.Status == model.OrderDone:
		s.closeTrade(order.Ref.TradeID, order.Ref.Role, order.Side)
	}
}

// openTrade builds the ActiveTrade for an entry fill and arms stop, profit,
// and time-based exits. Caller holds the lock.
func (s *Strategy) openTrade(fill model.Fill) {
	inst, ok := s.insts[fill.Code]
	if !ok {
		s.log.Error("entry fill for unknown instrument", slog.String("code", fill.Code))
		return
	}

	trade := &ActiveTrade{
		ID:         fill.TradeID,
		Code:       fill.Code,
		Dir:        fill.Side,
		EntryPrice: fill.Price,
		Volume:     fill.Qty,
		EntryAt:    fill.At,
		StopPrice:  inst.ShrinkPrice(s.stopFor(fill.Side, fill.Price)),
	}
	s.reg.Add(trade)

	s.log.Info("entered",
		slog.String("code", trade.Code),
		slog.String("trade_id", trade.ID),
		slog.String("dir", string(trade.Dir)),
		slog.Int64("price", trade.EntryPrice),
		slog.Int64("volume", trade.Volume),
		slog.Int64("stop", trade.StopPrice),
	)

	// with native venue stops the stop order goes out once, at the boundary
	// of the bar after entry; otherwise the tick monitor takes over
	if s.cfg.NativeStops {
		at := prebar.NextBarTime(fill.At, s.cfg.BarMinutes)
		s.sched.ScheduleAt(at, func() { s.placeScheduledStop(trade.ID) })
	}

	if s.cfg.TakeProfitPct > 0 {
		s.placeProfitOrder(trade)
	}

	if s.cfg.BarsToClose <= 0 {
		return
	}
	closeAt := s.closeTimeFor(fill.At)
	s.sched.ScheduleAt(closeAt, func() { s.closeByTime(trade.ID) })
	s.log.Info("time exit armed",
		slog.String("code", trade.Code),
		slog.String("trade_id", trade.ID),
		slog.Time("close_at", closeAt),
	)
}

// closeTimeFor returns the forced-exit instant: the boundary BarsToClose bars
// after timeFrom, pulled forward by closeEarlyBy.
func (s *Strategy) closeTimeFor(timeFrom time.Time) time.Time {
	t := prebar.NextBarTime(timeFrom, s.cfg.BarMinutes)
	t = t.Add(time.Duration(s.cfg.BarsToClose-1) * time.Duration(s.cfg.BarMinutes) * time.Minute)
	return t.Add(-closeEarlyBy)
}

// OnTick consumes one anonymous trade tick: mark the book, then, in the
// tick-monitoring execution mode, evaluate stop breaches for open trades on
// that instrument.
func (s *Strategy) OnTick(tick model.Tick) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.book.Tracks(tick.Code) {
		return
	}
	s.book.MarkPrice(tick.Code, tick.Price)

	if s.cfg.NativeStops {
		return
	}

	for _, trade := range s.reg.ForInstrument(tick.Code) {
		if trade.StopPlaced() {
			continue
		}
		breached := tick.Price <= trade.StopPrice
		if trade.Dir == model.Sell {
			breached = tick.Price >= trade.StopPrice
		}
		// stops stay inert until the bar after entry has opened
		if !breached || tick.TickTS.Before(prebar.NextBarTime(trade.EntryAt, s.cfg.BarMinutes)) {
			continue
		}
		if !trade.MarkStopPlaced() {
			continue
		}
		s.placeStopOrder(trade)
	}
}

// placeScheduledStop is the native-stop path: fired once by the scheduler at
// the bar boundary after entry.
func (s *Strategy) placeScheduledStop(tradeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	trade := s.reg.Get(tradeID)
	if trade == nil || !trade.MarkStopPlaced() {
		return
	}
	s.placeStopOrder(trade)
}

// placeStopOrder submits the protective order for a trade. Caller holds the
// lock and has already flipped the stop-placed flag.
func (s *Strategy) placeStopOrder(trade *ActiveTrade) {
	o := model.Order{
		Code:  trade.Code,
		Side:  trade.Dir.Opposite(),
		Price: trade.StopPrice,
		Qty:   trade.Volume,
		Ref: model.OrderRef{
			Strategy: s.cfg.Name,
			Role:     model.RoleStop,
			TradeID:  trade.ID,
		},
	}
	if _, err := s.venue.SubmitOrder(o); err != nil {
		s.log.Error("stop order rejected",
			slog.String("trade_id", trade.ID), slog.Any("err", err))
		return
	}
	if s.OnStopTriggered != nil {
		s.OnStopTriggered()
	}
	s.log.Info("stop activated",
		slog.String("code", trade.Code),
		slog.String("trade_id", trade.ID),
		slog.Int64("stop", trade.StopPrice),
	)
}

// placeProfitOrder submits the take-profit order for a fresh trade. Caller
// holds the lock.
func (s *Strategy) placeProfitOrder(trade *ActiveTrade) {
	inst := s.insts[trade.Code]
	f := 1 + s.cfg.TakeProfitPct/100
	if trade.Dir == model.Sell {
		f = 1 - s.cfg.TakeProfitPct/100
	}
	o := model.Order{
		Code:  trade.Code,
		Side:  trade.Dir.Opposite(),
		Price: inst.ShrinkPrice(int64(math.Round(float64(trade.EntryPrice) * f))),
		Qty:   trade.Volume,
		Ref: model.OrderRef{
			Strategy: s.cfg.Name,
			Role:     model.RoleProfit,
			TradeID:  trade.ID,
		},
	}
	if _, err := s.venue.SubmitOrder(o); err != nil {
		s.log.Error("profit order rejected",
			slog.String("trade_id", trade.ID), slog.Any("err", err))
		return
	}
	s.log.Info("profit order registered",
		slog.String("code", trade.Code),
		slog.String("trade_id", trade.ID),
		slog.Int64("price", o.Price),
	)
}

// closeByTime is the scheduled forced exit. Runs on a timer goroutine; a no-op
// when the trade already left the registry through another exit path.
func (s *Strategy) closeByTime(tradeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	trade := s.reg.Get(tradeID)
	if trade == nil {
		return
	}
	inst := s.insts[trade.Code]

	// one tick ahead of the opposing side of the book: passive, but first in
	// line for a fast fill
	var side model.Side
	var best int64
	if trade.Dir == model.Sell {
		side = model.Buy
		best = s.venue.BestBid(trade.Code)
	} else {
		side = model.Sell
		best = s.venue.BestAsk(trade.Code)
	}
	if best <= 0 {
		// quote unavailable; a zero book would price the exit below one tick
		s.log.Warn("time exit skipped, no quote",
			slog.String("code", trade.Code), slog.String("trade_id", trade.ID))
		return
	}
	price := inst.ShrinkPrice(best + inst.TickSize)
	if side == model.Sell {
		price = inst.ShrinkPrice(best - inst.TickSize)
	}

	o := model.Order{
		Code:  trade.Code,
		Side:  side,
		Price: price,
		Qty:   trade.Volume,
		Ref: model.OrderRef{
			Strategy: s.cfg.Name,
			Role:     model.RoleTimeExit,
			TradeID:  trade.ID,
		},
	}
	if _, err := s.venue.SubmitOrder(o); err != nil {
		s.log.Error("time exit order rejected",
			slog.String("trade_id", trade.ID), slog.Any("err", err))
		return
	}
	s.log.Info("time exit order registered",
		slog.String("code", trade.Code),
		slog.String("trade_id", trade.ID),
		slog.String("side", string(side)),
		slog.Int64("price", price),
	)
}

// closeTrade runs when an exit order (stop, profit, or time) has fully
// matched: drop the trade and withdraw whatever sibling orders are still
// resting, so a stopped-out trade cannot linger in the registry and feed a
// later scheduled exit against a flat book. Caller holds the lock.
func (s *Strategy) closeTrade(tradeID string, role model.Role, side model.Side) {
	trade := s.reg.Get(tradeID)
	if trade == nil {
		return
	}
	s.reg.Remove(tradeID)

	for _, o := range s.venue.ActiveOrders(trade.Code) {
		if o.Ref.Strategy == s.cfg.Name && o.Ref.TradeID == tradeID {
			// "not found" here just means it already left the book
			_ = s.venue.CancelOrder(o.ID)
		}
	}

	if role == model.RoleTimeExit && s.OnTimeExitDone != nil {
		s.OnTimeExitDone()
	}
	s.log.Info("exited",
		slog.String("code", trade.Code),
		slog.String("trade_id", tradeID),
		slog.String("role", string(role)),
		slog.String("side", string(side)),
	)
}
