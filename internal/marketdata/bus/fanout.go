// Package bus fans the single inbound tick stream out to every consumer:
// the strategy, the paper venue, and the event publisher.
package bus

import (
	"context"
	"log"
	"sync"

	"spikes-trader/internal/model"
)

// FanOut broadcasts ticks from one input channel to N named subscribers.
// A full subscriber channel drops the tick for that subscriber only, so a
// slow consumer can never stall the strategy's tick path.
type FanOut struct {
	mu      sync.RWMutex
	names   []string
	outputs []chan model.Tick
	bufSize int

	// OnDrop is called with the subscriber name when a tick is dropped.
	OnDrop func(subscriber string)
}

// New creates a FanOut whose subscriber channels hold bufSize ticks.
func New(bufSize int) *FanOut {
	return &FanOut{bufSize: bufSize}
}

// Subscribe registers a named consumer and returns its channel.
func (f *FanOut) Subscribe(name string) <-chan model.Tick {
	ch := make(chan model.Tick, f.bufSize)
	f.mu.Lock()
	f.names = append(f.names, name)
	f.outputs = append(f.outputs, ch)
	f.mu.Unlock()
	return ch
}

// Run pumps ticks from input to every subscriber until ctx is cancelled or
// input closes. Subscriber channels are closed on exit.
func (f *FanOut) Run(ctx context.Context, input <-chan model.Tick) {
	defer func() {
		f.mu.RLock()
		for _, ch := range f.outputs {
			close(ch)
		}
		f.mu.RUnlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-input:
			if !ok {
				return
			}
			f.mu.RLock()
			for i, ch := range f.outputs {
				select {
				case ch <- tick:
				default:
					if f.OnDrop != nil {
						f.OnDrop(f.names[i])
					} else {
						log.Printf("[bus] subscriber %s full, dropping %s tick", f.names[i], tick.Code)
					}
				}
			}
			f.mu.RUnlock()
		}
	}
}
