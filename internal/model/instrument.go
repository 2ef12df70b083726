package model

// Instrument represents a tradeable futures contract.
type Instrument struct {
	Code     string `json:"code"`      // venue code, e.g. "SR", "LK", "Si"
	Name     string `json:"name"`      // human-readable name
	TickSize int64  `json:"tick_size"` // minimum price increment in minor units
	BaseVol  int64  `json:"base_vol"`  // near-bracket entry volume
	FarVol   int64  `json:"far_vol"`   // far-bracket entry volume
}

// ShrinkPrice rounds p to the nearest multiple of the instrument tick size.
func (i *Instrument) ShrinkPrice(p int64) int64 {
	t := i.TickSize
	if t <= 1 {
		return p
	}
	r := p % t
	if r*2 >= t {
		return p - r + t
	}
	return p - r
}
