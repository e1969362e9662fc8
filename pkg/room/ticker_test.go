package room

import (
	"testing"
	"time"

	"github.com/opd-ai/go-astroduel/pkg/logging"
	"github.com/opd-ai/go-astroduel/pkg/proto"
)

func TestTicker_BroadcastsHazardUpdates(t *testing.T) {
	reg, sink := newTestRegistry()
	reg.Join("conn-a", "alice", 0)
	reg.Join("conn-b", "bob", 0)
	sink.reset()

	ticker := NewTicker(reg, 5*time.Millisecond, logging.NewLogger())
	ticker.Start()

	deadline := time.After(2 * time.Second)
	for len(sink.messages(proto.HazardTick)) < 4 {
		select {
		case <-deadline:
			t.Fatal("ticker never delivered hazard updates")
		case <-time.After(5 * time.Millisecond):
		}
	}
	ticker.Stop()
}

func TestTicker_StopIsIdempotentForDrainedLoop(t *testing.T) {
	reg, _ := newTestRegistry()
	ticker := NewTicker(reg, time.Millisecond, logging.NewLogger())
	ticker.Start()

	done := make(chan struct{})
	go func() {
		ticker.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
}
