// Package gateway is the realtime transport: it upgrades HTTP requests to
// websockets, screens every inbound frame, dispatches decoded messages into
// the room layer, and delivers outbound messages to connected clients. It is
// the room package's Sink implementation.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/opd-ai/go-astroduel/pkg/config"
	"github.com/opd-ai/go-astroduel/pkg/logging"
	"github.com/opd-ai/go-astroduel/pkg/proto"
	"github.com/opd-ai/go-astroduel/pkg/room"
	"github.com/opd-ai/go-astroduel/pkg/validation"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browser clients connect from arbitrary origins; auth happens at the
	// account layer, not the socket layer.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// connection is one websocket client with its outbound queue and, once the
// player has matchmade, its room binding.
type connection struct {
	id   string
	ws   *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	roomID string
	bound  bool
}

func (c *connection) bind(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roomID = roomID
	c.bound = true
}

func (c *connection) unbind() (roomID string, wasBound bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	roomID, wasBound = c.roomID, c.bound
	c.roomID, c.bound = "", false
	return roomID, wasBound
}

func (c *connection) binding() (roomID string, bound bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID, c.bound
}

// enqueue queues an outbound frame without blocking; a client that cannot
// drain its queue loses frames rather than stalling the room.
func (c *connection) enqueue(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Gateway owns every live websocket connection and routes traffic between
// them and the room registry.
type Gateway struct {
	registry  *room.Registry
	validator *validation.MessageValidator
	cfg       *config.GameConfig
	logger    *logging.Logger

	mu      sync.RWMutex
	conns   map[string]*connection
	running atomic.Bool
}

// NewGateway creates a gateway over the given registry. The registry must be
// constructed with this gateway as its sink, so construction is two-phase:
// build the gateway first, then the registry, then call SetRegistry.
func NewGateway(cfg *config.GameConfig, logger *logging.Logger) *Gateway {
	return &Gateway{
		validator: validation.NewMessageValidator(),
		cfg:       cfg,
		logger:    logger,
		conns:     make(map[string]*connection),
	}
}

// SetRegistry completes construction by attaching the room registry.
func (g *Gateway) SetRegistry(registry *room.Registry) {
	g.registry = registry
	g.running.Store(true)
}

// Running reports whether the gateway is accepting connections. Used by
// health checks.
func (g *Gateway) Running() bool {
	return g.running.Load()
}

// ConnectionCount returns the number of live websocket connections.
func (g *Gateway) ConnectionCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.conns)
}

// Send implements room.Sink: encode the message and queue it to the target
// connection. Unknown connections and full queues are logged and dropped.
func (g *Gateway) Send(connID string, kind proto.Kind, payload any) {
	data, err := proto.Encode(kind, payload)
	if err != nil {
		g.logger.Error(context.Background(), "failed to encode outbound message", err, "kind", string(kind))
		return
	}

	// The read lock is held through the enqueue so disconnect cannot close
	// the send channel mid-send.
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.conns[connID]
	if !ok {
		return
	}
	if !c.enqueue(data) {
		g.logger.Warn(context.Background(), "dropping outbound message, send queue full",
			"conn_id", connID, "kind", string(kind))
	}
}

// HandleWS is the websocket entry point, mounted at /ws.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if !g.running.Load() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Error(r.Context(), "websocket upgrade failed", err, "remote", r.RemoteAddr)
		return
	}

	c := &connection{
		id:   uuid.NewString(),
		ws:   ws,
		send: make(chan []byte, sendBuffer),
	}
	g.mu.Lock()
	g.conns[c.id] = c
	g.mu.Unlock()
	g.logger.Info(r.Context(), "client connected", "conn_id", c.id, "remote", r.RemoteAddr)

	go g.writePump(c)
	go g.readPump(c)
}

func (g *Gateway) writePump(c *connection) {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ping.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (g *Gateway) readPump(c *connection) {
	defer g.disconnect(c)

	c.ws.SetReadLimit(validation.MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		if err := g.validator.ValidateMessage(data, c.id); err != nil {
			g.logger.Warn(context.Background(), "rejected inbound frame", "conn_id", c.id, "error", err.Error())
			continue
		}
		env, err := proto.Decode(data)
		if err != nil {
			g.logger.Warn(context.Background(), "malformed inbound envelope", "conn_id", c.id, "error", err.Error())
			continue
		}
		if !proto.IsInbound(env.Type) {
			g.logger.Warn(context.Background(), "dropping non-inbound message kind", "conn_id", c.id, "kind", string(env.Type))
			continue
		}
		g.dispatch(c, env)
	}
}

// disconnect tears the connection down: leave the room (notifying the
// opponent), unregister, and stop the write pump.
func (g *Gateway) disconnect(c *connection) {
	c.ws.Close()

	if roomID, bound := c.unbind(); bound {
		g.registry.Leave(roomID, c.id)
	}

	g.mu.Lock()
	if _, ok := g.conns[c.id]; ok {
		delete(g.conns, c.id)
		close(c.send)
	}
	g.mu.Unlock()
	g.logger.Info(context.Background(), "client disconnected", "conn_id", c.id)
}

// dispatch routes one validated inbound envelope into the room layer. Every
// room-scoped message carries a room id that must match the connection's
// binding; mismatches are dropped.
func (g *Gateway) dispatch(c *connection, env proto.Envelope) {
	ctx := context.Background()

	switch env.Type {
	case proto.AutoJoin:
		g.handleAutoJoin(ctx, c, env)

	case proto.UpdatePosition:
		var p proto.MovePayload
		r, ok := g.roomFor(ctx, c, env, &p, func() string { return p.RoomID })
		if !ok {
			return
		}
		if err := validation.ValidatePose(p.X, p.Y, g.cfg.WorldWidth, g.cfg.WorldHeight); err != nil {
			g.logger.Warn(ctx, "rejected move", "conn_id", c.id, "error", err.Error())
			return
		}
		r.MovePlayer(c.id, p.Pose)

	case proto.FireBullet:
		var p proto.FirePayload
		r, ok := g.roomFor(ctx, c, env, &p, func() string { return p.RoomID })
		if !ok {
			return
		}
		r.FireBullet(c.id, p.Pose)

	case proto.BulletHit:
		var p proto.RoomRefPayload
		r, ok := g.roomFor(ctx, c, env, &p, func() string { return p.RoomID })
		if !ok {
			return
		}
		r.ReportBulletHit(c.id)

	case proto.BulletFlightEnd:
		var p proto.RoomRefPayload
		r, ok := g.roomFor(ctx, c, env, &p, func() string { return p.RoomID })
		if !ok {
			return
		}
		r.EndBulletFlight(c.id)

	case proto.HazardHit:
		var p proto.HazardHitPayload
		r, ok := g.roomFor(ctx, c, env, &p, func() string { return p.RoomID })
		if !ok {
			return
		}
		if err := validation.ValidateHazardID(p.HazardID, g.cfg.Rules.HazardCount); err != nil {
			g.logger.Warn(ctx, "rejected hazard hit", "conn_id", c.id, "error", err.Error())
			return
		}
		r.ReportHazardHit(c.id, p.HazardID)

	case proto.HazardCollision:
		var p proto.HazardCollisionPayload
		r, ok := g.roomFor(ctx, c, env, &p, func() string { return p.RoomID })
		if !ok {
			return
		}
		if err := validation.ValidateHazardID(p.HazardID, g.cfg.Rules.HazardCount); err != nil {
			g.logger.Warn(ctx, "rejected hazard collision", "conn_id", c.id, "error", err.Error())
			return
		}
		r.ReportHazardCollision(c.id, p.HazardID)

	case proto.FuelUsed:
		var p proto.FuelUsedPayload
		r, ok := g.roomFor(ctx, c, env, &p, func() string { return p.RoomID })
		if !ok {
			return
		}
		if err := validation.ValidateFuelAmount(p.Amount); err != nil {
			g.logger.Warn(ctx, "rejected fuel report", "conn_id", c.id, "error", err.Error())
			return
		}
		r.ApplyFuel(c.id, p.Amount)

	case proto.CollectPowerUp:
		var p proto.CollectPayload
		r, ok := g.roomFor(ctx, c, env, &p, func() string { return p.RoomID })
		if !ok {
			return
		}
		r.CollectPowerUp(c.id, p.PickupID)

	case proto.LeaveQueue:
		if roomID, bound := c.unbind(); bound {
			g.registry.Leave(roomID, c.id)
		}
	}
}

func (g *Gateway) handleAutoJoin(ctx context.Context, c *connection, env proto.Envelope) {
	if _, bound := c.binding(); bound {
		g.logger.Warn(ctx, "dropping duplicate autoJoin", "conn_id", c.id)
		return
	}

	var p proto.AutoJoinPayload
	if err := env.DecodePayload(&p); err != nil {
		g.logger.Warn(ctx, "malformed autoJoin payload", "conn_id", c.id, "error", err.Error())
		return
	}

	name := p.Username
	if name == "" {
		// Guests play without an account; they get a throwaway display name
		// and their matches are not persisted.
		name = fmt.Sprintf("guest-%s", c.id[:8])
		p.UserID = 0
	} else {
		sanitized, err := validation.ValidateUsername(name)
		if err != nil {
			g.logger.Warn(ctx, "rejected autoJoin username", "conn_id", c.id, "error", err.Error())
			return
		}
		name = sanitized
	}

	r, slot, err := g.registry.Join(c.id, name, p.UserID)
	if err != nil {
		g.logger.Error(ctx, "matchmaking failed", err, "conn_id", c.id)
		return
	}
	c.bind(r.ID)
	g.logger.Info(ctx, "player matchmade", "conn_id", c.id, "room_id", r.ID, "slot", slot, "name", name)
}

// roomFor decodes a room-scoped payload and resolves it to the connection's
// bound room, enforcing that the claimed room id matches the binding.
func (g *Gateway) roomFor(ctx context.Context, c *connection, env proto.Envelope, payload any, claimedID func() string) (*room.Room, bool) {
	if err := env.DecodePayload(payload); err != nil {
		g.logger.Warn(ctx, "malformed payload", "conn_id", c.id, "kind", string(env.Type), "error", err.Error())
		return nil, false
	}
	boundID, bound := c.binding()
	if !bound {
		g.logger.Warn(ctx, "dropping room message from unbound connection", "conn_id", c.id, "kind", string(env.Type))
		return nil, false
	}
	if claimed := claimedID(); claimed != boundID {
		g.logger.Warn(ctx, "dropping message with mismatched room id",
			"conn_id", c.id, "kind", string(env.Type), "claimed", claimed, "bound", boundID)
		return nil, false
	}
	r, ok := g.registry.Get(boundID)
	if !ok {
		return nil, false
	}
	return r, true
}

// Shutdown stops accepting connections and closes every live socket.
func (g *Gateway) Shutdown(ctx context.Context) {
	g.running.Store(false)
	g.validator.Close()

	g.mu.Lock()
	conns := make([]*connection, 0, len(g.conns))
	for _, c := range g.conns {
		conns = append(conns, c)
	}
	g.mu.Unlock()

	for _, c := range conns {
		c.ws.Close()
	}
	g.logger.Info(ctx, "gateway shut down", "closed_connections", len(conns))
}
