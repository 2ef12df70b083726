package spikes

import (
	"sync"
	"time"

	"spikes-trader/internal/model"
)

// ActiveTrade is one entry fill awaiting an exit. The registry owns it; the
// stop monitor and the time-exit callback hold a reference and may flip the
// single mutable flag through MarkStopPlaced.
type ActiveTrade struct {
	ID         string     `json:"id"` // venue execution id of the entry fill
	Code       string     `json:"code"`
	Dir        model.Side `json:"dir"`
	EntryPrice int64      `json:"entry_price"`
	Volume     int64      `json:"volume"`
	EntryAt    time.Time  `json:"entry_at"` // exchange time
	StopPrice  int64      `json:"stop_price"`

	stopOrderPlaced bool
}

// MarkStopPlaced flips the stop-placed flag. It returns false when the flag
// was already set, so a stop order can never be submitted twice per trade.
func (t *ActiveTrade) MarkStopPlaced() bool {
	if t.stopOrderPlaced {
		return false
	}
	t.stopOrderPlaced = true
	return true
}

// StopPlaced reports whether a stop order has been submitted for this trade.
func (t *ActiveTrade) StopPlaced() bool { return t.stopOrderPlaced }

// Registry is the set of open ActiveTrades, keyed by venue trade id. Removal
// replaces the whole map so that a snapshot taken by a concurrent observer
// never sees a half-mutated collection.
type Registry struct {
	mu     sync.RWMutex
	trades map[string]*ActiveTrade

	// OnChange, when set, runs after every mutation (add or remove).
	OnChange func()
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{trades: make(map[string]*ActiveTrade)}
}

// Add inserts a trade and notifies.
func (r *Registry) Add(t *ActiveTrade) {
	r.mu.Lock()
	r.trades[t.ID] = t
	r.mu.Unlock()
	r.notify()
}

// Remove deletes the trade with the given id, rebuilding the map copy-on-write.
// It reports whether the trade was present; removing an absent trade is a
// no-op and does not notify.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	if _, ok := r.trades[id]; !ok {
		r.mu.Unlock()
		return false
	}
	next := make(map[string]*ActiveTrade, len(r.trades)-1)
	for k, v := range r.trades {
		if k != id {
			next[k] = v
		}
	}
	r.trades = next
	r.mu.Unlock()
	r.notify()
	return true
}

// Get returns the trade with the given id, or nil.
func (r *Registry) Get(id string) *ActiveTrade {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.trades[id]
}

// ForInstrument returns the open trades for one instrument code.
func (r *Registry) ForInstrument(code string) []*ActiveTrade {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*ActiveTrade
	for _, t := range r.trades {
		if t.Code == code {
			out = append(out, t)
		}
	}
	return out
}

// HasInstrument reports whether any open trade exists for code.
func (r *Registry) HasInstrument(code string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.trades {
		if t.Code == code {
			return true
		}
	}
	return false
}

// Len returns the number of open trades.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.trades)
}

// Snapshot returns a value copy of all open trades, safe to hand to observers.
func (r *Registry) Snapshot() []ActiveTrade {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ActiveTrade, 0, len(r.trades))
	for _, t := range r.trades {
		out = append(out, *t)
	}
	return out
}

func (r *Registry) notify() {
	if r.OnChange != nil {
		r.OnChange()
	}
}
