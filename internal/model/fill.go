package model

import "time"

// Fill represents one own execution against one of our orders.
// TradeID is the venue-assigned identifier of the execution itself and is
// what keys an ActiveTrade for the rest of its life.
type Fill struct {
	TradeID string    `json:"trade_id"`
	OrderID string    `json:"order_id"`
	Ref     OrderRef  `json:"ref"`
	Code    string    `json:"code"`
	Side    Side      `json:"side"`
	Price   int64     `json:"price"`
	Qty     int64     `json:"qty"`
	At      time.Time `json:"at"` // exchange time of the execution
}
