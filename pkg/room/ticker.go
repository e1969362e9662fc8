// pkg/room/ticker.go
package room

import (
	"context"
	"time"

	"github.com/opd-ai/go-astroduel/pkg/logging"
)

// Ticker drives the room-independent periodic hazard advance: every
// interval, each live room's field moves by the real elapsed wall-clock
// delta and members get a position-only update. This keeps hazards moving
// smoothly between discrete turns.
type Ticker struct {
	registry *Registry
	interval time.Duration
	logger   *logging.Logger
	done     chan struct{}
	stopped  chan struct{}
}

// NewTicker creates a ticker for the given registry. Interval is typically
// 50ms (20 updates per second).
func NewTicker(registry *Registry, interval time.Duration, logger *logging.Logger) *Ticker {
	return &Ticker{
		registry: registry,
		interval: interval,
		logger:   logger,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Start launches the tick loop in its own goroutine.
func (t *Ticker) Start() {
	go t.run()
	t.logger.Info(context.Background(), "hazard ticker started", "interval", t.interval.String())
}

func (t *Ticker) run() {
	defer close(t.stopped)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case now := <-ticker.C:
			deltaMS := float64(now.Sub(last).Milliseconds())
			last = now
			for _, r := range t.registry.Rooms() {
				r.TickHazards(deltaMS, now.UnixMilli())
			}
		case <-t.done:
			return
		}
	}
}

// Stop halts the tick loop and waits for it to drain.
func (t *Ticker) Stop() {
	close(t.done)
	<-t.stopped
}
