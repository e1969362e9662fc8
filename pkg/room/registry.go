// pkg/room/registry.go
package room

import (
	"context"
	"sync"

	"github.com/opd-ai/go-astroduel/pkg/config"
	"github.com/opd-ai/go-astroduel/pkg/event"
	"github.com/opd-ai/go-astroduel/pkg/logging"
	"github.com/opd-ai/go-astroduel/pkg/physics"
)

// Registry owns every live room for its lifetime. It is an explicit service
// instance handed to the gateway and the tick scheduler at construction;
// there is no process-wide room map.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*Room

	cfg      *config.GameConfig
	sink     Sink
	bus      *event.Bus
	recorder Recorder
	logger   *logging.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg *config.GameConfig, sink Sink, bus *event.Bus, recorder Recorder, logger *logging.Logger) *Registry {
	return &Registry{
		rooms:    make(map[string]*Room),
		cfg:      cfg,
		sink:     sink,
		bus:      bus,
		recorder: recorder,
		logger:   logger,
	}
}

// Join matchmakes a connection into a room with a free seat, creating a new
// room when none is open. A linear scan under the registry lock is fine at
// the scale of a handful of concurrent rooms.
func (reg *Registry) Join(connID, name string, userID int64) (*Room, int, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	for _, r := range reg.rooms {
		slot, err := r.Join(connID, name, userID)
		if err == nil {
			return r, slot, nil
		}
	}

	r := NewRoom(newRoomID(), reg.cfg.Rules,
		physics.Bounds{Width: reg.cfg.WorldWidth, Height: reg.cfg.WorldHeight},
		reg.sink, reg.bus, reg.recorder, reg.logger)
	reg.rooms[r.ID] = r
	reg.logger.Info(context.Background(), "created room", "room_id", r.ID)

	slot, err := r.Join(connID, name, userID)
	if err != nil {
		delete(reg.rooms, r.ID)
		return nil, -1, err
	}
	return r, slot, nil
}

// Get returns the room with the given id.
func (reg *Registry) Get(id string) (*Room, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r, ok := reg.rooms[id]
	return r, ok
}

// Leave removes the connection from its room and deletes the room once its
// last occupant is gone.
func (reg *Registry) Leave(roomID, connID string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, ok := reg.rooms[roomID]
	if !ok {
		return
	}
	if r.Leave(connID) {
		delete(reg.rooms, roomID)
		reg.logger.Info(context.Background(), "removed empty room", "room_id", roomID)
	}
}

// Rooms returns a snapshot of the live rooms.
func (reg *Registry) Rooms() []*Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	out := make([]*Room, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		out = append(out, r)
	}
	return out
}

// Count returns the number of live rooms.
func (reg *Registry) Count() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.rooms)
}
