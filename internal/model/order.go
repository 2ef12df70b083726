package model

import "time"

// Side is the direction of an order or trade.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Role says what an order is for within one trade lifecycle. Orders and the
// trades they belong to are correlated through this structured key instead of
// parsing a free-text comment.
type Role string

const (
	RoleEntry    Role = "enter"
	RoleEntryFar Role = "enterF"
	RoleStop     Role = "stop"
	RoleProfit   Role = "profit"
	RoleTimeExit Role = "time"
)

// OrderRef correlates an order with the ActiveTrade it serves.
// Entry orders carry an empty TradeID (the trade does not exist yet).
type OrderRef struct {
	Strategy string `json:"strategy"`
	Role     Role   `json:"role"`
	TradeID  string `json:"trade_id,omitempty"`
}

// IsEntry reports whether the order opens a new trade (near or far bracket).
func (r OrderRef) IsEntry() bool {
	return r.Role == RoleEntry || r.Role == RoleEntryFar
}

// Order status values as reported by the venue.
const (
	OrderActive    = "ACTIVE"
	OrderDone      = "DONE"
	OrderCancelled = "CANCELLED"
)

// Order represents a venue order.
type Order struct {
	ID        string    `json:"id"` // assigned by the venue
	Code      string    `json:"code"`
	Side      Side      `json:"side"`
	Price     int64     `json:"price"` // limit price in minor units
	Qty       int64     `json:"qty"`
	FilledQty int64     `json:"filled_qty"`
	Ref       OrderRef  `json:"ref"`
	Status    string    `json:"status"`
	ExpiresAt time.Time `json:"expires_at,omitempty"` // zero = good till cancel
}
