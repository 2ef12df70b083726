// Package venue implements the order-routing port: a paper venue that matches
// resting limit orders against the public tick stream, a live REST adapter,
// and a SQLite fill journal.
package venue

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"spikes-trader/internal/model"
)

// FillHandler receives an own execution together with a snapshot of the order
// it ran against. Handlers are invoked outside the venue lock.
type FillHandler func(order model.Order, fill model.Fill)

// Paper simulates the venue: orders rest until an anonymous trade prints
// through their limit, then fill completely at the limit price. Quotes are
// synthesized one tick either side of the last trade.
type Paper struct {
	mu     sync.Mutex
	insts  map[string]*model.Instrument
	orders map[string]*model.Order
	last   map[string]int64
	bid    map[string]int64
	ask    map[string]int64

	onFill FillHandler
}

// NewPaper creates a paper venue for the given instrument set.
func NewPaper(insts []model.Instrument) *Paper {
	p := &Paper{
		insts:  make(map[string]*model.Instrument, len(insts)),
		orders: make(map[string]*model.Order),
		last:   make(map[string]int64, len(insts)),
		bid:    make(map[string]int64, len(insts)),
		ask:    make(map[string]int64, len(insts)),
	}
	for i := range insts {
		p.insts[insts[i].Code] = &insts[i]
	}
	return p
}

// SetFillHandler registers the own-fill consumer.
func (p *Paper) SetFillHandler(h FillHandler) {
	p.mu.Lock()
	p.onFill = h
	p.mu.Unlock()
}

// SubmitOrder accepts a limit order into the book. The returned id is the
// venue order id; execution is reported asynchronously via the fill handler.
func (p *Paper) SubmitOrder(o model.Order) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.insts[o.Code]; !ok {
		return "", fmt.Errorf("paper: unknown instrument %s", o.Code)
	}
	if o.Qty <= 0 {
		return "", fmt.Errorf("paper: non-positive volume %d", o.Qty)
	}
	o.ID = uuid.NewString()
	o.Status = model.OrderActive
	cp := o
	p.orders[o.ID] = &cp
	return o.ID, nil
}

// CancelOrder withdraws a resting order. Cancelling an order that is no
// longer active returns an error the caller may treat as benign.
func (p *Paper) CancelOrder(orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[orderID]
	if !ok {
		return fmt.Errorf("paper: order %s not active", orderID)
	}
	o.Status = model.OrderCancelled
	delete(p.orders, orderID)
	return nil
}

// ActiveOrders returns snapshots of the resting orders for one instrument.
func (p *Paper) ActiveOrders(code string) []model.Order {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []model.Order
	for _, o := range p.orders {
		if o.Code == code {
			out = append(out, *o)
		}
	}
	return out
}

// LastPrice returns the last trade price seen for code, 0 if none yet.
func (p *Paper) LastPrice(code string) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last[code]
}

// BestBid returns the synthesized best bid for code.
func (p *Paper) BestBid(code string) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bid[code]
}

// BestAsk returns the synthesized best ask for code.
func (p *Paper) BestAsk(code string) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ask[code]
}

// OnTick folds one anonymous trade into the book: quotes move, expired orders
// drop, and resting orders whose limit the print crossed are filled. Fills are
// delivered after the lock is released so a handler may call back into the
// venue or take its own locks.
func (p *Paper) OnTick(tick model.Tick) {
	type execution struct {
		order model.Order
		fill  model.Fill
	}

	p.mu.Lock()
	inst, ok := p.insts[tick.Code]
	if !ok {
		p.mu.Unlock()
		return
	}
	p.last[tick.Code] = tick.Price
	p.bid[tick.Code] = tick.Price - inst.TickSize
	p.ask[tick.Code] = tick.Price + inst.TickSize

	var execs []execution
	for id, o := range p.orders {
		if o.Code != tick.Code {
			continue
		}
		if !o.ExpiresAt.IsZero() && tick.TickTS.After(o.ExpiresAt) {
			o.Status = model.OrderCancelled
			delete(p.orders, id)
			continue
		}
		crossed := (o.Side == model.Buy && tick.Price <= o.Price) ||
			(o.Side == model.Sell && tick.Price >= o.Price)
		if !crossed {
			continue
		}
		o.FilledQty = o.Qty
		o.Status = model.OrderDone
		delete(p.orders, id)
		execs = append(execs, execution{
			order: *o,
			fill: model.Fill{
				TradeID: ulid.Make().String(),
				OrderID: o.ID,
				Ref:     o.Ref,
				Code:    o.Code,
				Side:    o.Side,
				Price:   o.Price,
				Qty:     o.Qty,
				At:      tick.TickTS,
			},
		})
	}
	h := p.onFill
	p.mu.Unlock()

	if h == nil {
		return
	}
	for _, e := range execs {
		h(e.order, e.fill)
	}
}
