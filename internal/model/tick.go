package model

import "time"

// Tick represents a single anonymous trade on the venue.
// Price is stored as int64 in minor price units to avoid float drift.
type Tick struct {
	Code   string    `json:"code"`
	Price  int64     `json:"price"`
	Qty    int64     `json:"qty"`
	TickTS time.Time `json:"tick_ts"` // exchange timestamp
}
