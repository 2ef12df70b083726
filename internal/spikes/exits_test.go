package spikes

import (
	"testing"
	"time"

	"spikes-trader/internal/model"
)

func entryFill(id string, side model.Side, price, qty int64, at time.Time) (model.Order, model.Fill) {
	order := model.Order{
		ID:     "ord-entry",
		Code:   "SR",
		Side:   side,
		Price:  price,
		Qty:    qty,
		Status: model.OrderDone,
		Ref:    model.OrderRef{Strategy: "spikes", Role: model.RoleEntry},
	}
	fill := model.Fill{
		TradeID: id,
		OrderID: order.ID,
		Ref:     order.Ref,
		Code:    "SR",
		Side:    side,
		Price:   price,
		Qty:     qty,
		At:      at,
	}
	return order, fill
}

func TestOnOwnFill_CreatesActiveTradeWithStop(t *testing.T) {
	v := newFakeVenue()
	s, _ := newTestStrategy(t, testConfig(), v)

	var changes int
	s.Registry().OnChange = func() { changes++ }

	s.OnOwnFill(entryFill("t1", model.Buy, 1000, 1, monday(10, 0, 0)))

	trade := s.Registry().Get("t1")
	if trade == nil {
		t.Fatal("entry fill must create an ActiveTrade")
	}
	if trade.StopPrice != 990 {
		t.Errorf("buy at 1000, stop 1%%: want 990, got %d", trade.StopPrice)
	}
	if trade.StopPlaced() {
		t.Error("fresh trade must not have a stop placed")
	}
	if changes != 1 {
		t.Errorf("registry change must notify exactly once, got %d", changes)
	}
	if s.Book().Position("SR") != 1 {
		t.Errorf("fill must move net position, got %d", s.Book().Position("SR"))
	}
}

func TestOnOwnFill_SellStopAboveEntry(t *testing.T) {
	v := newFakeVenue()
	s, _ := newTestStrategy(t, testConfig(), v)

	s.OnOwnFill(entryFill("t1", model.Sell, 1000, 1, monday(10, 0, 0)))
	if got := s.Registry().Get("t1").StopPrice; got != 1010 {
		t.Errorf("sell at 1000, stop 1%%: want 1010, got %d", got)
	}
}

func TestOnOwnFill_IgnoresForeignOrders(t *testing.T) {
	v := newFakeVenue()
	s, _ := newTestStrategy(t, testConfig(), v)

	order, fill := entryFill("t1", model.Buy, 1000, 1, monday(10, 0, 0))
	order.Ref.Strategy = "otherbot"
	s.OnOwnFill(order, fill)

	if s.Registry().Len() != 0 {
		t.Error("another strategy's fill must not open a trade")
	}
	if s.Book().Position("SR") != 1 {
		t.Error("position accounting still applies to every own fill")
	}
}

func TestStopMonitor_OneBarGrace(t *testing.T) {
	v := newFakeVenue()
	s, _ := newTestStrategy(t, testConfig(), v)

	entryAt := monday(10, 0, 0)
	s.OnOwnFill(entryFill("t1", model.Buy, 1000, 1, entryAt))
	trade := s.Registry().Get("t1")

	// breach before the next bar boundary (10:05): inert
	s.OnTick(model.Tick{Code: "SR", Price: 989, TickTS: monday(10, 3, 0)})
	if trade.StopPlaced() {
		t.Fatal("stop must stay inert during the entry bar")
	}
	if len(v.ordersByRole(model.RoleStop)) != 0 {
		t.Fatal("no stop order during the grace bar")
	}

	// same breach after the boundary: fires
	s.OnTick(model.Tick{Code: "SR", Price: 989, TickTS: monday(10, 5, 1)})
	if !trade.StopPlaced() {
		t.Fatal("stop must fire after the grace bar")
	}
	stops := v.ordersByRole(model.RoleStop)
	if len(stops) != 1 {
		t.Fatalf("want one stop order, got %d", len(stops))
	}
	if stops[0].Side != model.Sell || stops[0].Price != 990 || stops[0].Ref.TradeID != "t1" {
		t.Errorf("wrong stop order %+v", stops[0])
	}

	// further breaches must not duplicate the stop
	s.OnTick(model.Tick{Code: "SR", Price: 985, TickTS: monday(10, 5, 2)})
	if len(v.ordersByRole(model.RoleStop)) != 1 {
		t.Error("stopOrderPlaced must guard against duplicate stops")
	}
}

func TestStopMonitor_NoBreachNoStop(t *testing.T) {
	v := newFakeVenue()
	s, _ := newTestStrategy(t, testConfig(), v)

	s.OnOwnFill(entryFill("t1", model.Buy, 1000, 1, monday(10, 0, 0)))
	s.OnTick(model.Tick{Code: "SR", Price: 991, TickTS: monday(10, 6, 0)})

	if s.Registry().Get("t1").StopPlaced() {
		t.Error("991 does not breach a 990 stop for a long")
	}
}

func TestStopMonitor_ShortDirection(t *testing.T) {
	v := newFakeVenue()
	s, _ := newTestStrategy(t, testConfig(), v)

	s.OnOwnFill(entryFill("t1", model.Sell, 1000, 1, monday(10, 0, 0)))
	s.OnTick(model.Tick{Code: "SR", Price: 1011, TickTS: monday(10, 6, 0)})

	stops := v.ordersByRole(model.RoleStop)
	if len(stops) != 1 || stops[0].Side != model.Buy || stops[0].Price != 1010 {
		t.Errorf("short stop should buy at 1010, got %v", stops)
	}
}

func TestNativeStops_ScheduledNotTickDriven(t *testing.T) {
	cfg := testConfig()
	cfg.NativeStops = true
	v := newFakeVenue()
	s, _ := newTestStrategy(t, cfg, v)

	// entry far in the past: the scheduled boundary is already due, so the
	// one-shot fires immediately on a timer goroutine
	s.OnOwnFill(entryFill("t1", model.Buy, 1000, 1, monday(10, 0, 0)))

	deadline := time.Now().Add(2 * time.Second)
	for len(v.ordersByRole(model.RoleStop)) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if len(v.ordersByRole(model.RoleStop)) != 1 {
		t.Fatal("native mode must submit the stop from the scheduled callback")
	}

	// tick monitoring is bypassed entirely: no second stop on breach
	s.OnTick(model.Tick{Code: "SR", Price: 900, TickTS: monday(10, 10, 0)})
	if len(v.ordersByRole(model.RoleStop)) != 1 {
		t.Error("tick path must not run in native-stop mode")
	}
}

func TestProfitOrder_PlacedOnEntry(t *testing.T) {
	cfg := testConfig()
	cfg.TakeProfitPct = 2
	v := newFakeVenue()
	s, _ := newTestStrategy(t, cfg, v)

	s.OnOwnFill(entryFill("t1", model.Buy, 1000, 1, monday(10, 0, 0)))

	profits := v.ordersByRole(model.RoleProfit)
	if len(profits) != 1 {
		t.Fatalf("want one profit order, got %d", len(profits))
	}
	if profits[0].Side != model.Sell || profits[0].Price != 1020 || profits[0].Ref.TradeID != "t1" {
		t.Errorf("wrong profit order %+v", profits[0])
	}
}

func TestCloseTimeFor(t *testing.T) {
	cfg := testConfig()
	cfg.BarsToClose = 2
	v := newFakeVenue()
	s, _ := newTestStrategy(t, cfg, v)

	// barsToClose=2 on a 5m timeframe from 10:00:00 -> 10:09:55
	got := s.closeTimeFor(monday(10, 0, 0))
	want := monday(10, 9, 55)
	if !got.Equal(want) {
		t.Errorf("want %v, got %v", want, got)
	}
}

func TestTimeExit_ArmedOnEntry(t *testing.T) {
	cfg := testConfig()
	cfg.BarsToClose = 2
	v := newFakeVenue()
	v.bid["SR"] = 998
	v.ask["SR"] = 1002
	s, _ := newTestStrategy(t, cfg, v)

	// the close instant is already due, so the one-shot fires right away
	s.OnOwnFill(entryFill("t1", model.Buy, 1000, 1, monday(10, 0, 0)))

	deadline := time.Now().Add(2 * time.Second)
	for len(v.ordersByRole(model.RoleTimeExit)) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	exits := v.ordersByRole(model.RoleTimeExit)
	if len(exits) != 1 {
		t.Fatal("entry with barsToClose > 0 must arm the time exit")
	}
	if exits[0].Side != model.Sell || exits[0].Price != 1001 {
		t.Errorf("long close should sell at 1001, got %+v", exits[0])
	}
}

func TestCloseByTime_SubmitsAheadOfBook(t *testing.T) {
	v := newFakeVenue()
	v.bid["SR"] = 998
	v.ask["SR"] = 1002
	s, _ := newTestStrategy(t, testConfig(), v)

	// long exits by selling one tick inside the ask
	s.OnOwnFill(entryFill("long", model.Buy, 1000, 3, monday(10, 0, 0)))
	s.closeByTime("long")

	exits := v.ordersByRole(model.RoleTimeExit)
	if len(exits) != 1 {
		t.Fatalf("want one exit order, got %d", len(exits))
	}
	if exits[0].Side != model.Sell || exits[0].Price != 1001 || exits[0].Qty != 3 {
		t.Errorf("long exit should sell 3 at 1001, got %+v", exits[0])
	}

	// short exits by buying one tick above the bid
	s.OnOwnFill(entryFill("short", model.Sell, 1000, 2, monday(10, 0, 0)))
	s.closeByTime("short")
	exits = v.ordersByRole(model.RoleTimeExit)
	if len(exits) != 2 || exits[1].Side != model.Buy || exits[1].Price != 999 {
		t.Errorf("short exit should buy at 999, got %+v", exits)
	}
}

func TestCloseByTime_NoopWhenTradeGone(t *testing.T) {
	v := newFakeVenue()
	v.bid["SR"] = 998
	v.ask["SR"] = 1002
	s, _ := newTestStrategy(t, testConfig(), v)

	s.OnOwnFill(entryFill("t1", model.Buy, 1000, 1, monday(10, 0, 0)))
	s.Registry().Remove("t1") // closed by another path

	s.closeByTime("t1")
	if len(v.ordersByRole(model.RoleTimeExit)) != 0 {
		t.Error("exit callback for a removed trade must be a no-op")
	}
	// and a second invocation stays silent too
	s.closeByTime("t1")
	if len(v.ordersByRole(model.RoleTimeExit)) != 0 {
		t.Error("repeat invocation must have no observable effect")
	}
}

func TestTimeExitMatch_RemovesTradeAndSweepsSiblings(t *testing.T) {
	v := newFakeVenue()
	v.bid["SR"] = 998
	v.ask["SR"] = 1002
	s, _ := newTestStrategy(t, testConfig(), v)

	s.OnOwnFill(entryFill("t1", model.Buy, 1000, 1, monday(10, 0, 0)))
	v.active["SR"] = []model.Order{
		{ID: "stop-1", Code: "SR", Ref: model.OrderRef{Strategy: "spikes", Role: model.RoleStop, TradeID: "t1"}},
		{ID: "unrelated", Code: "SR", Ref: model.OrderRef{Strategy: "spikes", Role: model.RoleStop, TradeID: "t2"}},
	}

	var changes int
	s.Registry().OnChange = func() { changes++ }

	exitOrder := model.Order{
		ID:     "exit-1",
		Code:   "SR",
		Side:   model.Sell,
		Qty:    1,
		Status: model.OrderDone,
		Ref:    model.OrderRef{Strategy: "spikes", Role: model.RoleTimeExit, TradeID: "t1"},
	}
	s.OnOwnFill(exitOrder, model.Fill{
		TradeID: "x1", OrderID: "exit-1", Ref: exitOrder.Ref,
		Code: "SR", Side: model.Sell, Price: 1001, Qty: 1, At: monday(10, 9, 56),
	})

	if s.Registry().Get("t1") != nil {
		t.Error("matched time exit must remove the trade")
	}
	if changes != 1 {
		t.Errorf("removal must notify once, got %d", changes)
	}
	if len(v.cancelled) != 1 || v.cancelled[0] != "stop-1" {
		t.Errorf("only t1's sibling stop should be cancelled, got %v", v.cancelled)
	}
	if s.Book().Position("SR") != 0 {
		t.Errorf("exit fill should flatten the position, got %d", s.Book().Position("SR"))
	}
}

func TestPartialTimeExit_KeepsTrade(t *testing.T) {
	v := newFakeVenue()
	s, _ := newTestStrategy(t, testConfig(), v)

	s.OnOwnFill(entryFill("t1", model.Buy, 1000, 2, monday(10, 0, 0)))

	partial := model.Order{
		ID:     "exit-1",
		Code:   "SR",
		Side:   model.Sell,
		Qty:    2,
		Status: model.OrderActive, // not fully matched yet
		Ref:    model.OrderRef{Strategy: "spikes", Role: model.RoleTimeExit, TradeID: "t1"},
	}
	s.OnOwnFill(partial, model.Fill{
		TradeID: "x1", OrderID: "exit-1", Ref: partial.Ref,
		Code: "SR", Side: model.Sell, Price: 1001, Qty: 1, At: monday(10, 9, 56),
	})

	if s.Registry().Get("t1") == nil {
		t.Error("a partial exit fill must not remove the trade")
	}
}

func TestStopFill_ClosesTradeAndDisarmsTimeExit(t *testing.T) {
	v := newFakeVenue()
	v.bid["SR"] = 988
	v.ask["SR"] = 992
	s, _ := newTestStrategy(t, testConfig(), v)

	s.OnOwnFill(entryFill("t1", model.Buy, 1000, 1, monday(10, 0, 0)))
	v.active["SR"] = []model.Order{
		{ID: "profit-1", Code: "SR", Ref: model.OrderRef{Strategy: "spikes", Role: model.RoleProfit, TradeID: "t1"}},
	}

	stop := model.Order{
		ID:     "stop-1",
		Code:   "SR",
		Side:   model.Sell,
		Qty:    1,
		Status: model.OrderDone,
		Ref:    model.OrderRef{Strategy: "spikes", Role: model.RoleStop, TradeID: "t1"},
	}
	s.OnOwnFill(stop, model.Fill{
		TradeID: "x1", OrderID: "stop-1", Ref: stop.Ref,
		Code: "SR", Side: model.Sell, Price: 990, Qty: 1, At: monday(10, 6, 0),
	})

	if s.Registry().Get("t1") != nil {
		t.Fatal("a matched stop must remove the trade")
	}
	if s.Registry().HasInstrument("SR") {
		t.Error("the instrument must become eligible again after the stop")
	}
	if len(v.cancelled) != 1 || v.cancelled[0] != "profit-1" {
		t.Errorf("the sibling profit order should be swept, got %v", v.cancelled)
	}
	if s.Book().Position("SR") != 0 {
		t.Errorf("stop fill should flatten the position, got %d", s.Book().Position("SR"))
	}

	// the scheduled close finds no trade and must stay silent: no closing
	// order against the now-flat book
	s.closeByTime("t1")
	if len(v.ordersByRole(model.RoleTimeExit)) != 0 {
		t.Error("time exit after a stop must be a no-op")
	}
}

func TestProfitFill_ClosesTrade(t *testing.T) {
	v := newFakeVenue()
	s, _ := newTestStrategy(t, testConfig(), v)

	s.OnOwnFill(entryFill("t1", model.Buy, 1000, 1, monday(10, 0, 0)))

	profit := model.Order{
		ID:     "profit-1",
		Code:   "SR",
		Side:   model.Sell,
		Qty:    1,
		Status: model.OrderDone,
		Ref:    model.OrderRef{Strategy: "spikes", Role: model.RoleProfit, TradeID: "t1"},
	}
	s.OnOwnFill(profit, model.Fill{
		TradeID: "x1", OrderID: "profit-1", Ref: profit.Ref,
		Code: "SR", Side: model.Sell, Price: 1020, Qty: 1, At: monday(10, 7, 0),
	})

	if s.Registry().Get("t1") != nil {
		t.Error("a matched profit order must remove the trade")
	}
}

func TestCloseByTime_SkipsWithoutQuote(t *testing.T) {
	v := newFakeVenue()
	s, _ := newTestStrategy(t, testConfig(), v)

	s.OnOwnFill(entryFill("t1", model.Buy, 1000, 1, monday(10, 0, 0)))

	// no bid/ask yet: the exit must not price off a zero book
	s.closeByTime("t1")
	if got := v.ordersByRole(model.RoleTimeExit); len(got) != 0 {
		t.Errorf("no exit order without a quote, got %+v", got)
	}
	if s.Registry().Get("t1") == nil {
		t.Error("the trade stays registered for a later exit path")
	}
}
