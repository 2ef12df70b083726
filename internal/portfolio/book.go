// Package portfolio tracks per-instrument net position and the running
// mark-to-market gross of one strategy instance.
package portfolio

import "spikes-trader/internal/model"

// Book holds net signed volume, last recorded trade price, and accumulated
// gross per instrument. It is owned by a single strategy instance, which
// serializes all access under its own lock; the Book itself holds no mutex.
type Book struct {
	positions map[string]int64
	lastPrice map[string]int64
	gross     int64
}

// NewBook creates a Book with zeroed entries for every given instrument code.
// Codes outside this set are rejected by the mutators.
func NewBook(codes []string) *Book {
	b := &Book{
		positions: make(map[string]int64, len(codes)),
		lastPrice: make(map[string]int64, len(codes)),
	}
	for _, c := range codes {
		b.positions[c] = 0
		b.lastPrice[c] = 0
	}
	return b
}

// Tracks reports whether code belongs to this book.
func (b *Book) Tracks(code string) bool {
	_, ok := b.positions[code]
	return ok
}

// ApplyFill adjusts the net position for one own execution.
func (b *Book) ApplyFill(code string, side model.Side, qty int64) {
	if !b.Tracks(code) {
		return
	}
	if side == model.Buy {
		b.positions[code] += qty
	} else {
		b.positions[code] -= qty
	}
}

// MarkPrice folds a trade tick into the running gross and records the price.
// The very first tick for an instrument only seeds the last price.
func (b *Book) MarkPrice(code string, price int64) {
	if !b.Tracks(code) {
		return
	}
	if last := b.lastPrice[code]; last != 0 {
		b.gross += (price - last) * b.positions[code]
	}
	b.lastPrice[code] = price
}

// Position returns the net signed volume for code.
func (b *Book) Position(code string) int64 { return b.positions[code] }

// LastPrice returns the last recorded trade price for code.
func (b *Book) LastPrice(code string) int64 { return b.lastPrice[code] }

// Gross returns the accumulated mark-to-market gross in minor units.
func (b *Book) Gross() int64 { return b.gross }
