package room

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"

	"github.com/opd-ai/go-astroduel/pkg/event"
	"github.com/opd-ai/go-astroduel/pkg/logging"
)

// Stats observes room lifecycle events on the bus and keeps process-wide
// match counters. Handlers run synchronously inside the publishing room's
// lock, so they touch only atomics and the logger and never call back
// into a room.
type Stats struct {
	logger *logging.Logger

	playersJoined atomic.Int64
	playersLeft   atomic.Int64
	gamesStarted  atomic.Int64
	gamesFinished atomic.Int64
	draws         atomic.Int64
	turnsResolved atomic.Int64
}

// StatsSnapshot is the JSON shape served by Handler.
type StatsSnapshot struct {
	PlayersJoined int64 `json:"playersJoined"`
	PlayersLeft   int64 `json:"playersLeft"`
	GamesStarted  int64 `json:"gamesStarted"`
	GamesFinished int64 `json:"gamesFinished"`
	Draws         int64 `json:"draws"`
	TurnsResolved int64 `json:"turnsResolved"`
}

// NewStats subscribes a fresh Stats observer to the bus.
func NewStats(bus *event.Bus, logger *logging.Logger) *Stats {
	s := &Stats{logger: logger}
	bus.Subscribe(event.PlayerJoined, func(e event.Event) {
		s.playersJoined.Add(1)
	})
	bus.Subscribe(event.PlayerLeft, func(e event.Event) {
		s.playersLeft.Add(1)
	})
	bus.Subscribe(event.GameStarted, func(e event.Event) {
		s.gamesStarted.Add(1)
		s.logger.Info(context.Background(), "match started", "room_id", e.GetRoomID())
	})
	bus.Subscribe(event.TurnAdvanced, func(e event.Event) {
		s.turnsResolved.Add(1)
	})
	bus.Subscribe(event.GameEnded, func(e event.Event) {
		s.gamesFinished.Add(1)
		over, ok := e.(*event.GameOverEvent)
		if !ok {
			return
		}
		if over.WinnerSlot < 0 {
			s.draws.Add(1)
		}
		s.logger.Info(context.Background(), "match finished",
			"room_id", e.GetRoomID(),
			"winner_slot", over.WinnerSlot,
			"score_0", over.Scores[0],
			"score_1", over.Scores[1])
	})
	return s
}

// Snapshot returns the current counter values.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		PlayersJoined: s.playersJoined.Load(),
		PlayersLeft:   s.playersLeft.Load(),
		GamesStarted:  s.gamesStarted.Load(),
		GamesFinished: s.gamesFinished.Load(),
		Draws:         s.draws.Load(),
		TurnsResolved: s.turnsResolved.Load(),
	}
}

// Handler serves the counters as JSON, mounted next to the health
// endpoints.
func (s *Stats) Handler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.Snapshot()); err != nil {
		s.logger.Error(context.Background(), "failed to encode stats", err)
	}
}
