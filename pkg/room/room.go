// Package room implements the authoritative per-match state machine: player
// slots, scores, fuel, power-ups, the turn cycle, and the deterministic
// hazard field — plus the registry that owns every live room.
//
// Each room is guarded by its own mutex so concurrent rooms stay fully
// independent. Event-bus handlers fire while the room lock is held and must
// not call back into the room.
package room

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opd-ai/go-astroduel/pkg/config"
	"github.com/opd-ai/go-astroduel/pkg/event"
	"github.com/opd-ai/go-astroduel/pkg/hazard"
	"github.com/opd-ai/go-astroduel/pkg/logging"
	"github.com/opd-ai/go-astroduel/pkg/physics"
	"github.com/opd-ai/go-astroduel/pkg/proto"
)

// Status tracks the room lifecycle: WaitingForPlayers → InProgress → Finished.
type Status int

const (
	StatusWaiting Status = iota
	StatusInProgress
	StatusFinished
)

// PowerUpShield nullifies the next bullet hit against its holder.
const PowerUpShield = "shield"

// hazardSeedSuffix is appended to the room id to derive the field seed. The
// client uses the same derivation to rebuild the field locally.
const hazardSeedSuffix = "_hazardSeed"

// ErrRoomFull is returned when a third player tries to take a seat.
var ErrRoomFull = errors.New("room already has two players")

// Sink delivers outbound wire messages to connected clients. The transport
// gateway implements it; tests substitute a recorder.
type Sink interface {
	Send(connID string, kind proto.Kind, payload any)
}

// MatchResult is the durable outcome of a finished game.
type MatchResult struct {
	WinnerID    int64
	LoserID     int64
	WinnerScore int
	LoserScore  int
	Draw        bool
}

// Recorder persists completed matches. It is the room's only dependency on
// durable storage; failures are logged and never disturb in-memory flow.
type Recorder interface {
	CreateGameRecord(ctx context.Context, userID1, userID2 int64) (int64, error)
	RecordGameStats(ctx context.Context, gameID int64, result MatchResult) error
	SaveReplay(ctx context.Context, gameID int64, log []byte) error
}

// PlayerSlot is one of the two seats in a room.
type PlayerSlot struct {
	ConnID string
	Name   string
	UserID int64 // 0 marks a guest
	Index  int
}

// PowerUpInstance is an active power-up counting down in whole turns.
type PowerUpInstance struct {
	Type      string
	TurnsLeft int
}

type collisionKey struct {
	slot     int
	hazardID int
	turn     int
}

// Room is one isolated two-player match. All mutation goes through methods
// that take the room lock.
type Room struct {
	ID string

	mu     sync.Mutex
	rules  config.GameRules
	bounds physics.Bounds
	status Status

	slots   [2]*PlayerSlot
	scores  [2]int
	fuel    [2]float64
	active  [2]map[string]*PowerUpInstance
	pending []proto.Pickup
	lastPos [2]*proto.Pose

	turnOwner int
	turnCount int

	field  *hazard.Field
	replay *ReplayLog

	// Collision penalties are applied at most once per (slot, hazard, turn)
	// tuple; the turn count in the key retires stale entries naturally.
	collisionSeen map[collisionKey]struct{}

	sink     Sink
	bus      *event.Bus
	recorder Recorder
	logger   *logging.Logger
	rng      *rand.Rand
}

// NewRoom constructs a room with a freshly generated hazard field. The field
// seed is the room id plus a fixed suffix so clients can regenerate it.
func NewRoom(id string, rules config.GameRules, bounds physics.Bounds, sink Sink, bus *event.Bus, recorder Recorder, logger *logging.Logger) *Room {
	r := &Room{
		ID:            id,
		rules:         rules,
		bounds:        bounds,
		status:        StatusWaiting,
		turnOwner:     0,
		turnCount:     1,
		field:         hazard.NewField(id+hazardSeedSuffix, bounds, rules.HazardCount),
		replay:        NewReplayLog(),
		collisionSeen: make(map[collisionKey]struct{}),
		sink:          sink,
		bus:           bus,
		recorder:      recorder,
		logger:        logger,
		rng:           rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for i := range r.active {
		r.active[i] = make(map[string]*PowerUpInstance)
		r.fuel[i] = rules.StartingFuel
	}
	return r
}

// Status returns the current lifecycle state.
func (r *Room) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Occupancy returns the number of filled seats.
func (r *Room) Occupancy() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.occupancyLocked()
}

func (r *Room) occupancyLocked() int {
	n := 0
	for _, s := range r.slots {
		if s != nil {
			n++
		}
	}
	return n
}

// spawnPose returns the fixed starting pose for a slot: the players face
// each other across the field.
func spawnPose(slot int, bounds physics.Bounds) proto.Pose {
	if slot == 0 {
		return proto.Pose{X: 40, Y: bounds.Height / 2, Rotation: math.Pi / 2}
	}
	return proto.Pose{X: bounds.Width - 40, Y: bounds.Height / 2, Rotation: 3 * math.Pi / 2}
}

// Join seats a player in the lowest free slot and sends them the join
// snapshot. Filling the second seat starts the game, exactly once.
func (r *Room) Join(connID, name string, userID int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot := -1
	for i, s := range r.slots {
		if s == nil {
			slot = i
			break
		}
	}
	if slot < 0 || r.status == StatusFinished {
		return -1, ErrRoomFull
	}

	r.slots[slot] = &PlayerSlot{ConnID: connID, Name: name, UserID: userID, Index: slot}
	r.fuel[slot] = r.rules.StartingFuel

	r.sink.Send(connID, proto.RoomJoined, proto.RoomJoinedPayload{
		RoomID:     r.ID,
		SlotIndex:  slot,
		HazardSeed: r.field.Seed(),
		Spawn:      spawnPose(slot, r.bounds),
		State:      r.snapshotLocked(),
	})
	r.bus.Publish(event.NewPlayerEvent(event.PlayerJoined, r.ID, slot, name))

	if r.occupancyLocked() == 2 && r.status == StatusWaiting {
		r.status = StatusInProgress
		r.broadcastLocked(proto.GameStart, proto.GameStartPayload{StartingTurn: r.turnOwner})
		r.bus.Publish(&event.BaseEvent{EventType: event.GameStarted, RoomID: r.ID})
	}
	return slot, nil
}

// Leave removes the player bound to connID, notifies the remaining occupant,
// and reports whether the room is now empty. A disconnect mid-match does not
// forfeit: the survivor keeps the room until they leave too.
func (r *Room) Leave(connID string) (empty bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot, ok := r.resolveSlotLocked(connID)
	if !ok {
		return r.occupancyLocked() == 0
	}
	name := r.slots[slot].Name
	r.slots[slot] = nil

	r.broadcastLocked(proto.PlayerLeft, proto.PlayerLeftPayload{ConnectionID: connID, Name: name})
	r.bus.Publish(event.NewPlayerEvent(event.PlayerLeft, r.ID, slot, name))

	return r.occupancyLocked() == 0
}

// MovePlayer applies a proposed position from the turn owner. The fuel
// policy decides how an underfunded move is treated; an empty pool always
// blocks new attempts. The move is echoed to the opponent only.
func (r *Room) MovePlayer(connID string, pose proto.Pose) {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot, ok := r.authorizeLocked(connID, "move")
	if !ok {
		return
	}
	if r.fuel[slot] <= 0 {
		r.logger.Debug(context.Background(), "move blocked, fuel empty", "room_id", r.ID, "slot", slot)
		return
	}
	if r.rules.FuelPolicy == config.FuelPolicyStrict && r.fuel[slot] < r.rules.MoveFuelCost {
		r.logger.Debug(context.Background(), "move blocked, insufficient fuel", "room_id", r.ID, "slot", slot)
		return
	}

	r.fuel[slot] = math.Max(0, r.fuel[slot]-r.rules.MoveFuelCost)
	p := pose
	r.lastPos[slot] = &p

	if other := r.slots[1-slot]; other != nil {
		r.sink.Send(other.ConnID, proto.PlayerMoved, proto.PlayerMovedPayload{ConnectionID: connID, Pose: pose})
	}
	r.broadcastLocked(proto.FuelUpdate, proto.FuelPayload{Slot0: r.fuel[0], Slot1: r.fuel[1]})
}

// FireBullet broadcasts a bullet spawn from the turn owner to every member,
// the shooter included, so bullet indices stay consistent on both clients.
func (r *Room) FireBullet(connID string, pose proto.Pose) {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot, ok := r.authorizeLocked(connID, "fire")
	if !ok {
		return
	}
	r.broadcastLocked(proto.BulletFired, proto.BulletFiredPayload{Pose: pose, Owner: slot})
}

// ReportBulletHit resolves the shooter's bullet striking the opponent. An
// active shield absorbs the hit and is consumed regardless of turns left;
// otherwise the shooter collects the bullet bounty.
func (r *Room) ReportBulletHit(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	shooter, ok := r.authorizeLocked(connID, "bullet hit")
	if !ok {
		return
	}
	target := 1 - shooter

	if _, shielded := r.active[target][PowerUpShield]; shielded {
		delete(r.active[target], PowerUpShield)
		r.broadcastLocked(proto.PowerUpExpired, proto.PowerUpExpiredPayload{Slot: target, Type: PowerUpShield})
		r.bus.Publish(event.NewPowerUpEvent(event.PowerUpLapsed, r.ID, target, PowerUpShield))
		return
	}

	r.scores[shooter] += r.rules.BulletBounty
	r.broadcastScoresLocked(shooter)
}

// EndBulletFlight is the turn-advance trigger for a bullet that left bounds
// or struck the opponent.
func (r *Room) EndBulletFlight(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.authorizeLocked(connID, "bullet flight end"); !ok {
		return
	}
	r.progressTurnLocked()
}

// ReportHazardHit resolves the turn owner's bullet destroying a hazard
// unit. Either seat may report the hit, since both clients simulate the
// bullet locally; the bounty always goes to the turn owner, and RemoveByID
// makes the second report a no-op so only the first scores and advances
// the turn.
func (r *Room) ReportHazardHit(connID string, hazardID int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != StatusInProgress {
		return
	}
	if _, ok := r.resolveSlotLocked(connID); !ok {
		r.logger.Debug(context.Background(), "dropping hazard hit from unknown connection", "room_id", r.ID)
		return
	}
	if !r.field.RemoveByID(hazardID) {
		return
	}

	shooter := r.turnOwner
	r.scores[shooter] += r.rules.HazardBounty
	r.broadcastLocked(proto.HazardDestroyed, proto.HazardDestroyedPayload{HazardID: hazardID})
	r.broadcastScoresLocked(shooter)
	r.progressTurnLocked()
}

// ReportHazardCollision deducts the collision penalty from the reporting
// slot, at most once per (slot, hazard, turn) tuple. Either player may
// collide; the turn does not advance.
func (r *Room) ReportHazardCollision(connID string, hazardID int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != StatusInProgress {
		return
	}
	slot, ok := r.resolveSlotLocked(connID)
	if !ok {
		r.logger.Debug(context.Background(), "dropping hazard collision from unknown connection", "room_id", r.ID)
		return
	}

	key := collisionKey{slot: slot, hazardID: hazardID, turn: r.turnCount}
	if _, seen := r.collisionSeen[key]; seen {
		return
	}
	r.collisionSeen[key] = struct{}{}

	r.scores[slot] -= r.rules.CollisionPenalty
	if r.scores[slot] < 0 {
		r.scores[slot] = 0
	}
	r.broadcastScoresLocked(slot)
}

// CollectPowerUp claims a pending pickup for the reporting slot. The first
// accepted claim wins; the loser's duplicate report is a no-op.
func (r *Room) CollectPowerUp(connID string, pickupID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != StatusInProgress {
		return
	}
	slot, ok := r.resolveSlotLocked(connID)
	if !ok {
		return
	}

	idx := -1
	for i, p := range r.pending {
		if p.ID == pickupID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	pickup := r.pending[idx]
	r.pending = append(r.pending[:idx], r.pending[idx+1:]...)

	if pickup.Type == PowerUpShield {
		r.active[slot][PowerUpShield] = &PowerUpInstance{Type: PowerUpShield, TurnsLeft: r.rules.ShieldTurns}
	}

	r.broadcastLocked(proto.PowerUpRemoved, proto.PowerUpRemovedPayload{PickupID: pickupID, Slot: slot})
	r.bus.Publish(event.NewPowerUpEvent(event.PowerUpStored, r.ID, slot, pickup.Type))
}

// ApplyFuel deducts client-reported fuel burn from the turn owner's pool and
// broadcasts the new fuel state.
func (r *Room) ApplyFuel(connID string, amount float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot, ok := r.authorizeLocked(connID, "fuel burn")
	if !ok || amount <= 0 {
		return
	}
	r.fuel[slot] = math.Max(0, r.fuel[slot]-amount)
	r.broadcastLocked(proto.FuelUpdate, proto.FuelPayload{Slot0: r.fuel[0], Slot1: r.fuel[1]})
}

// TickHazards advances the field by real elapsed wall-clock time and
// broadcasts a position-only update. This runs between turns for rendering
// smoothness; the once-per-turn advance in progressTurn is the one that
// matters for collision authority.
func (r *Room) TickHazards(deltaMS float64, timestamp int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status == StatusFinished {
		return
	}
	r.field.Advance(deltaMS)
	r.broadcastLocked(proto.HazardTick, proto.HazardTickPayload{Hazards: r.field.Positions(), Timestamp: timestamp})
}

// Snapshot returns the reconnect-safe view of the room.
func (r *Room) Snapshot() proto.RoomState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// ReplayTurns returns the recorded per-turn history so far.
func (r *Room) ReplayTurns() []TurnSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.replay.Turns()
}

// TurnState returns the current turn owner and count.
func (r *Room) TurnState() (owner, count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.turnOwner, r.turnCount
}

// Scores returns both slots' scores.
func (r *Room) Scores() [2]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scores
}

// Fuel returns both slots' fuel pools.
func (r *Room) Fuel() [2]float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fuel
}

// ActivePowerUp returns the active instance of the given type for a slot.
func (r *Room) ActivePowerUp(slot int, powerUpType string) (PowerUpInstance, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if inst, ok := r.active[slot][powerUpType]; ok {
		return *inst, true
	}
	return PowerUpInstance{}, false
}

// PendingPickups returns the uncollected pickups in the world.
func (r *Room) PendingPickups() []proto.Pickup {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]proto.Pickup, len(r.pending))
	copy(out, r.pending)
	return out
}

// AddPendingPickup places a pickup into the world directly. Used by tests
// and by scripted scenarios; normal spawns happen on turn resolution.
func (r *Room) AddPendingPickup(p proto.Pickup) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = append(r.pending, p)
	r.broadcastLocked(proto.PowerUpSpawned, p)
}

// authorizeLocked resolves a connection to its slot and enforces turn
// ownership. Violations are dropped with a debug log rather than surfaced
// to the client.
func (r *Room) authorizeLocked(connID, action string) (int, bool) {
	if r.status != StatusInProgress {
		return -1, false
	}
	slot, ok := r.resolveSlotLocked(connID)
	if !ok {
		r.logger.Debug(context.Background(), "dropping action from unknown connection",
			"room_id", r.ID, "action", action)
		return -1, false
	}
	if slot != r.turnOwner {
		r.logger.Debug(context.Background(), "dropping out-of-turn action",
			"room_id", r.ID, "action", action, "slot", slot, "turn_owner", r.turnOwner)
		return -1, false
	}
	return slot, true
}

func (r *Room) resolveSlotLocked(connID string) (int, bool) {
	for i, s := range r.slots {
		if s != nil && s.ConnID == connID {
			return i, true
		}
	}
	return -1, false
}

// progressTurnLocked resolves the current turn: log it, age power-ups,
// advance the field by one simulated second, hand the turn over, refill the
// new owner's fuel, maybe spawn a pickup, and check for game end.
func (r *Room) progressTurnLocked() {
	if r.status != StatusInProgress {
		return
	}

	r.replay.Append(r.turnSnapshotLocked())

	for slot := range r.active {
		for typ, inst := range r.active[slot] {
			inst.TurnsLeft--
			if inst.TurnsLeft <= 0 {
				delete(r.active[slot], typ)
				r.broadcastLocked(proto.PowerUpExpired, proto.PowerUpExpiredPayload{Slot: slot, Type: typ})
				r.bus.Publish(event.NewPowerUpEvent(event.PowerUpLapsed, r.ID, slot, typ))
			}
		}
	}

	// Turns are logical, not time-based: every resolved turn advances the
	// field by the same fixed simulated duration.
	r.field.Advance(r.rules.TurnStepMillis)

	r.turnOwner = 1 - r.turnOwner
	r.turnCount++
	r.fuel[r.turnOwner] = r.rules.StartingFuel

	r.broadcastLocked(proto.TurnChange, proto.TurnChangePayload{
		CurrentTurn: r.turnOwner,
		TurnCount:   r.turnCount,
		Hazards:     r.field.Snapshot(),
		Fuel:        r.fuel,
	})
	r.bus.Publish(event.NewTurnEvent(r.ID, r.turnOwner, r.turnCount))

	if r.rng.Float64() < r.rules.PowerUpSpawnChance {
		pickup := proto.Pickup{
			ID:   uuid.NewString(),
			Type: PowerUpShield,
			X:    r.rng.Float64() * r.bounds.Width,
			Y:    r.rng.Float64() * r.bounds.Height,
		}
		r.pending = append(r.pending, pickup)
		r.broadcastLocked(proto.PowerUpSpawned, pickup)
	}

	if r.turnCount >= r.rules.TurnLimit {
		r.finishLocked()
	}
}

// finishLocked ends the game exactly once: broadcast the result, then hand
// the match off to persistence in the background so a slow database cannot
// stall the room.
func (r *Room) finishLocked() {
	r.status = StatusFinished

	winner := -1
	if r.scores[0] > r.scores[1] {
		winner = 0
	} else if r.scores[1] > r.scores[0] {
		winner = 1
	}

	var winnerName string
	var participants [2]string
	for i, s := range r.slots {
		if s != nil {
			participants[i] = s.Name
		}
	}
	if winner >= 0 {
		winnerName = participants[winner]
	}

	r.broadcastLocked(proto.GameOver, proto.GameOverPayload{
		WinnerName:   winnerName,
		Participants: participants,
		Scores:       proto.ScorePayload{Slot0: r.scores[0], Slot1: r.scores[1]},
	})
	r.bus.Publish(event.NewGameOverEvent(r.ID, winner, r.scores))

	r.persistLocked(winner)
}

// persistLocked snapshots everything persistence needs and writes it off the
// room's lock. Matches between two guests are not recorded.
func (r *Room) persistLocked(winner int) {
	if r.recorder == nil {
		return
	}
	var userIDs [2]int64
	for i, s := range r.slots {
		if s != nil {
			userIDs[i] = s.UserID
		}
	}
	if userIDs[0] == 0 && userIDs[1] == 0 {
		return
	}

	replayBlob, err := r.replay.Marshal()
	if err != nil {
		r.logger.Error(context.Background(), "failed to serialize replay log", err, "room_id", r.ID)
		replayBlob = nil
	}

	result := MatchResult{Draw: winner < 0}
	if winner >= 0 {
		result.WinnerID = userIDs[winner]
		result.LoserID = userIDs[1-winner]
		result.WinnerScore = r.scores[winner]
		result.LoserScore = r.scores[1-winner]
	} else {
		result.WinnerID = userIDs[0]
		result.LoserID = userIDs[1]
		result.WinnerScore = r.scores[0]
		result.LoserScore = r.scores[1]
	}

	roomID := r.ID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		gameID, err := r.recorder.CreateGameRecord(ctx, userIDs[0], userIDs[1])
		if err != nil {
			r.logger.Error(ctx, "failed to create game record", err, "room_id", roomID)
			return
		}
		if err := r.recorder.RecordGameStats(ctx, gameID, result); err != nil {
			r.logger.Error(ctx, "failed to record game stats", err, "room_id", roomID, "game_id", gameID)
		}
		if replayBlob != nil {
			if err := r.recorder.SaveReplay(ctx, gameID, replayBlob); err != nil {
				r.logger.Error(ctx, "failed to save replay", err, "room_id", roomID, "game_id", gameID)
			}
		}
	}()
}

func (r *Room) broadcastScoresLocked(changedSlot int) {
	r.broadcastLocked(proto.ScoreUpdate, proto.ScorePayload{Slot0: r.scores[0], Slot1: r.scores[1]})
	r.bus.Publish(event.NewScoreEvent(r.ID, changedSlot, r.scores[changedSlot]))
}

// broadcastLocked delivers a message to every currently seated connection.
// A player joining later does not retroactively receive it.
func (r *Room) broadcastLocked(kind proto.Kind, payload any) {
	for _, s := range r.slots {
		if s != nil {
			r.sink.Send(s.ConnID, kind, payload)
		}
	}
}

func (r *Room) snapshotLocked() proto.RoomState {
	state := proto.RoomState{
		TurnOwner:       r.turnOwner,
		TurnCount:       r.turnCount,
		Scores:          r.scores,
		Fuel:            r.fuel,
		Hazards:         r.field.Snapshot(),
		PendingPowerUps: append([]proto.Pickup(nil), r.pending...),
	}
	for i := range r.slots {
		state.Positions[i] = r.lastPos[i]
		state.ActivePowerUps[i] = make(map[string]int, len(r.active[i]))
		for typ, inst := range r.active[i] {
			state.ActivePowerUps[i][typ] = inst.TurnsLeft
		}
	}
	return state
}

func (r *Room) turnSnapshotLocked() TurnSnapshot {
	state := r.snapshotLocked()
	return TurnSnapshot{
		Turn:            r.turnCount,
		Scores:          state.Scores,
		Fuel:            state.Fuel,
		Hazards:         state.Hazards,
		Positions:       state.Positions,
		ActivePowerUps:  state.ActivePowerUps,
		PendingPowerUps: state.PendingPowerUps,
	}
}

// newRoomID generates a short random room identifier.
func newRoomID() string {
	return fmt.Sprintf("room-%s", uuid.NewString()[:8])
}
