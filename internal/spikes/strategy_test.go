package spikes

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"spikes-trader/internal/model"
	"spikes-trader/internal/sched"
	"spikes-trader/internal/sessiongate"
)

// fakeVenue records submissions and cancellations and serves canned quotes.
type fakeVenue struct {
	mu        sync.Mutex
	submitted []model.Order
	cancelled []string
	active    map[string][]model.Order
	last      map[string]int64
	bid       map[string]int64
	ask       map[string]int64
	nextID    int
}

func newFakeVenue() *fakeVenue {
	return &fakeVenue{
		active: make(map[string][]model.Order),
		last:   make(map[string]int64),
		bid:    make(map[string]int64),
		ask:    make(map[string]int64),
	}
}

func (v *fakeVenue) SubmitOrder(o model.Order) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.nextID++
	o.ID = fmt.Sprintf("ord-%d", v.nextID)
	v.submitted = append(v.submitted, o)
	return o.ID, nil
}

func (v *fakeVenue) CancelOrder(id string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cancelled = append(v.cancelled, id)
	return nil
}

func (v *fakeVenue) ActiveOrders(code string) []model.Order {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.active[code]
}

func (v *fakeVenue) LastPrice(code string) int64 { v.mu.Lock(); defer v.mu.Unlock(); return v.last[code] }
func (v *fakeVenue) BestBid(code string) int64   { v.mu.Lock(); defer v.mu.Unlock(); return v.bid[code] }
func (v *fakeVenue) BestAsk(code string) int64   { v.mu.Lock(); defer v.mu.Unlock(); return v.ask[code] }

func (v *fakeVenue) orders() []model.Order {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]model.Order, len(v.submitted))
	copy(out, v.submitted)
	return out
}

func (v *fakeVenue) ordersByRole(role model.Role) []model.Order {
	var out []model.Order
	for _, o := range v.orders() {
		if o.Ref.Role == role {
			out = append(out, o)
		}
	}
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig() Config {
	return Config{
		Name: "spikes",
		Instruments: []model.Instrument{
			{Code: "SR", TickSize: 1, BaseVol: 1, FarVol: 2},
			{Code: "LK", TickSize: 1, BaseVol: 1, FarVol: 3},
		},
		BarMinutes:  5,
		Mode:        sessiongate.Primary,
		StopLossPct: 1,
		DeltaPct:    0.5,
		DeltaFarPct: 1.5,
		// no time-based close by default: the shared monday() timestamps are
		// in the past, and an armed close would fire its timer immediately
		BarsToClose: 0,
	}
}

func newTestStrategy(t *testing.T, cfg Config, v Venue) (*Strategy, *sched.Scheduler) {
	t.Helper()
	sc := sched.New(nil)
	t.Cleanup(sc.Stop)
	s, err := New(cfg, v, sc, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Start()
	return s, sc
}

// Monday morning exchange time, mid-session.
func monday(h, m, sec int) time.Time {
	return time.Date(2026, 3, 2, h, m, sec, 0, sessiongate.MSK)
}

func TestNew_FailsFastOnMissingVolumes(t *testing.T) {
	cfg := testConfig()
	cfg.Instruments[1].BaseVol = 0
	if _, err := New(cfg, newFakeVenue(), sched.New(nil), testLogger()); err == nil {
		t.Error("missing base volume must fail at construction")
	}

	cfg = testConfig()
	cfg.Instruments[0].FarVol = 0
	if _, err := New(cfg, newFakeVenue(), sched.New(nil), testLogger()); err == nil {
		t.Error("missing far volume must fail at construction")
	}

	cfg = testConfig()
	cfg.BarMinutes = 0
	if _, err := New(cfg, newFakeVenue(), sched.New(nil), testLogger()); err == nil {
		t.Error("zero timeframe must fail at construction")
	}
}

func TestOnBarClose_PlacesSymmetricBracket(t *testing.T) {
	v := newFakeVenue()
	v.last["SR"] = 1000
	v.last["LK"] = 50000
	s, _ := newTestStrategy(t, testConfig(), v)

	now := monday(11, 0, 0)
	s.OnBarClose(now)

	entries := v.ordersByRole(model.RoleEntry)
	if len(entries) != 4 {
		t.Fatalf("want 2 orders per instrument, got %d", len(entries))
	}

	var srBuy, srSell *model.Order
	for i := range entries {
		o := &entries[i]
		if o.Code != "SR" {
			continue
		}
		if o.Side == model.Buy {
			srBuy = o
		} else {
			srSell = o
		}
	}
	// deltaPct 0.5 on 1000 -> 5
	if srBuy == nil || srBuy.Price != 995 {
		t.Errorf("want SR buy at 995, got %+v", srBuy)
	}
	if srSell == nil || srSell.Price != 1005 {
		t.Errorf("want SR sell at 1005, got %+v", srSell)
	}
	if srBuy.Qty != 1 || srSell.Qty != 1 {
		t.Error("near bracket must use the base volume")
	}
	want := now.Add(time.Hour)
	if !srBuy.ExpiresAt.Equal(want) {
		t.Errorf("want +1h expiry %v, got %v", want, srBuy.ExpiresAt)
	}
}

func TestOnBarClose_CancelsStaleEntriesFirst(t *testing.T) {
	v := newFakeVenue()
	v.last["SR"] = 1000
	v.last["LK"] = 50000
	v.active["SR"] = []model.Order{
		{ID: "stale-1", Code: "SR", Ref: model.OrderRef{Strategy: "spikes", Role: model.RoleEntry}},
		{ID: "stop-1", Code: "SR", Ref: model.OrderRef{Strategy: "spikes", Role: model.RoleStop, TradeID: "t1"}},
		{ID: "other", Code: "SR", Ref: model.OrderRef{Strategy: "otherbot", Role: model.RoleEntry}},
	}
	s, _ := newTestStrategy(t, testConfig(), v)

	s.OnBarClose(monday(11, 0, 0))

	if len(v.cancelled) != 1 || v.cancelled[0] != "stale-1" {
		t.Errorf("only our stale near entry should be cancelled, got %v", v.cancelled)
	}
}

func TestPreBar_PlacesFarBracket(t *testing.T) {
	cfg := testConfig()
	cfg.SingleFarCode = "LK"
	v := newFakeVenue()
	v.last["SR"] = 1000
	v.last["LK"] = 50000
	s, _ := newTestStrategy(t, cfg, v)

	// pre-bar instant for the 11:05 boundary
	s.OnClockTick(monday(11, 4, 57).Add(600*time.Millisecond), 10*time.Second)

	far := v.ordersByRole(model.RoleEntryFar)
	if len(far) != 2 {
		t.Fatalf("want far bracket for SR only, got %d orders", len(far))
	}
	for _, o := range far {
		if o.Code != "SR" {
			t.Errorf("far bracket must skip the single-far-code instrument, got %s", o.Code)
		}
		if o.Qty != 2 {
			t.Errorf("far bracket must use the far volume, got %d", o.Qty)
		}
	}
	// deltaFarPct 1.5 on 1000 -> 15
	prices := map[int64]bool{}
	for _, o := range far {
		prices[o.Price] = true
	}
	if !prices[985] || !prices[1015] {
		t.Errorf("want far bracket 985/1015, got %v", prices)
	}
}

func TestPreBar_NotAtWrongInstant(t *testing.T) {
	v := newFakeVenue()
	v.last["SR"] = 1000
	s, _ := newTestStrategy(t, testConfig(), v)

	s.OnClockTick(monday(11, 2, 30), 10*time.Second)
	if len(v.orders()) != 0 {
		t.Error("no pre-bar work mid-bar")
	}
}

func TestEligibility_SkipsInstrumentWithOpenTrade(t *testing.T) {
	v := newFakeVenue()
	v.last["SR"] = 1000
	v.last["LK"] = 50000
	s, _ := newTestStrategy(t, testConfig(), v)

	s.Registry().Add(&ActiveTrade{ID: "t1", Code: "SR", Dir: model.Buy})
	s.OnBarClose(monday(11, 0, 0))

	for _, o := range v.orders() {
		if o.Code == "SR" {
			t.Errorf("SR has an open trade, no new entries allowed: %+v", o)
		}
	}
	if len(v.ordersByRole(model.RoleEntry)) != 2 {
		t.Error("LK should still receive its bracket")
	}
}

func TestEveningOnly_PrimaryWindow(t *testing.T) {
	cfg := testConfig()
	cfg.EveningOnly = true
	v := newFakeVenue()
	v.last["SR"] = 1000
	v.last["LK"] = 50000
	s, _ := newTestStrategy(t, cfg, v)

	s.OnBarClose(monday(18, 20, 0)) // minute 1100, before the window
	if len(v.orders()) != 0 {
		t.Fatal("minute 1100: no entries in evening-only mode")
	}

	s.OnBarClose(monday(18, 50, 0)) // minute 1130, inside the window
	if len(v.ordersByRole(model.RoleEntry)) != 4 {
		t.Errorf("minute 1130: want both brackets, got %d orders", len(v.orders()))
	}
}

func TestEveningOnly_SecondaryRequiresFlat(t *testing.T) {
	cfg := testConfig()
	cfg.EveningOnly = true
	cfg.Mode = sessiongate.Secondary
	cfg.SingleFarCode = "LK"
	v := newFakeVenue()
	v.last["SR"] = 1000
	v.last["LK"] = 50000
	s, _ := newTestStrategy(t, cfg, v)

	// open position on SR
	s.Book().ApplyFill("SR", model.Buy, 1)

	s.OnBarClose(monday(16, 35, 0)) // minute 995, inside the secondary window
	if len(v.orders()) != 0 {
		t.Errorf("non-flat SR and excluded LK: want no orders, got %v", v.orders())
	}

	// flatten and retry
	s.Book().ApplyFill("SR", model.Sell, 1)
	s.OnBarClose(monday(16, 35, 0))
	for _, o := range v.orders() {
		if o.Code != "SR" {
			t.Errorf("only SR is eligible, got %s", o.Code)
		}
	}
	if len(v.orders()) != 2 {
		t.Errorf("want SR bracket, got %d orders", len(v.orders()))
	}
}

func TestLateSession_NoEntriesAfter1420(t *testing.T) {
	v := newFakeVenue()
	v.last["SR"] = 1000
	v.last["LK"] = 50000
	s, _ := newTestStrategy(t, testConfig(), v)

	s.OnBarClose(monday(23, 45, 0)) // minute 1425
	if len(v.orders()) != 0 {
		t.Error("no entries after minute 1420")
	}
}

func TestZeroDelta_DegeneratesToLastPrice(t *testing.T) {
	cfg := testConfig()
	cfg.DeltaPct = 0
	v := newFakeVenue()
	v.last["SR"] = 1000
	v.last["LK"] = 50000
	s, _ := newTestStrategy(t, cfg, v)

	s.OnBarClose(monday(11, 0, 0))
	for _, o := range v.ordersByRole(model.RoleEntry) {
		if o.Code == "SR" && o.Price != 1000 {
			t.Errorf("zero delta places at last price, got %d", o.Price)
		}
	}
}

func TestStopped_IgnoresEvents(t *testing.T) {
	v := newFakeVenue()
	v.last["SR"] = 1000
	s, _ := newTestStrategy(t, testConfig(), v)
	s.Stop()

	s.OnBarClose(monday(11, 0, 0))
	s.OnClockTick(monday(11, 4, 57).Add(600*time.Millisecond), 10*time.Second)
	if len(v.orders()) != 0 {
		t.Error("a stopped strategy must not place orders")
	}
}
