// Package replay reads recorded ticks from a JSONL file and emits them at
// configurable speed for paper-trading runs.
package replay

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"spikes-trader/internal/model"
)

// fileTick is one line of the recorded tick file.
type fileTick struct {
	Code  string `json:"code"`
	Price int64  `json:"price"`
	Qty   int64  `json:"qty"`
	TS    int64  `json:"ts"` // epoch milliseconds
}

// Replayer reads recorded ticks from a JSONL file and replays them
// at a configurable speed multiplier.
type Replayer struct {
	path string
}

// New creates a Replayer over the tick file at path.
func New(path string) *Replayer {
	return &Replayer{path: path}
}

// Run replays all ticks in file order, emitting them into outCh.
// speed controls the playback rate: 1.0 = real-time, 10.0 = 10x,
// 0 = as fast as possible.
func (r *Replayer) Run(ctx context.Context, speed float64, outCh chan<- model.Tick) error {
	f, err := os.Open(r.path)
	if err != nil {
		return fmt.Errorf("replay: open %s: %w", r.path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var prevTS time.Time
	emitted := 0
	line := 0

	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}

		var ft fileTick
		if err := json.Unmarshal(raw, &ft); err != nil {
			log.Printf("[replay] skipping malformed line %d: %v", line, err)
			continue
		}
		if ft.Code == "" || ft.Price <= 0 {
			continue
		}

		tick := model.Tick{
			Code:   ft.Code,
			Price:  ft.Price,
			Qty:    ft.Qty,
			TickTS: time.Unix(0, ft.TS*int64(time.Millisecond)).UTC(),
		}

		// Simulate time gaps between ticks
		if speed > 0 && !prevTS.IsZero() {
			gap := tick.TickTS.Sub(prevTS)
			if gap > 0 {
				scaledGap := time.Duration(float64(gap) / speed)
				// Cap max sleep to avoid very long waits on session gaps
				if scaledGap > 5*time.Second {
					scaledGap = 5 * time.Second
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(scaledGap):
				}
			}
		}
		prevTS = tick.TickTS

		select {
		case outCh <- tick:
			emitted++
		case <-ctx.Done():
			log.Printf("[replay] cancelled after %d ticks", emitted)
			return ctx.Err()
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("replay: read %s: %w", r.path, err)
	}

	log.Printf("[replay] done, emitted %d ticks", emitted)
	return nil
}
