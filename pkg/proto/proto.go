// Package proto defines the wire protocol between the game client and the
// room server: a closed set of message kinds, one payload schema per kind,
// and a JSON envelope carrying both. Keeping the set closed gives the
// gateway an exhaustive switch instead of duck-typed payload peeking.
package proto

import (
	"encoding/json"
	"fmt"

	"github.com/opd-ai/go-astroduel/pkg/hazard"
)

// Kind identifies a message type on the wire.
type Kind string

// Client → server messages.
const (
	AutoJoin        Kind = "autoJoin"
	UpdatePosition  Kind = "updatePosition"
	FireBullet      Kind = "fireBullet"
	BulletHit       Kind = "bulletHit"
	BulletFlightEnd Kind = "bulletFlightEnded"
	HazardHit       Kind = "hazardHit"
	HazardCollision Kind = "hazardCollision"
	FuelUsed        Kind = "fuelUsed"
	CollectPowerUp  Kind = "collectPowerUp"
	LeaveQueue      Kind = "leaveQueue"
)

// Server → client messages.
const (
	RoomJoined      Kind = "roomJoined"
	GameStart       Kind = "gameStart"
	PlayerMoved     Kind = "playerMoved"
	BulletFired     Kind = "bulletFired"
	TurnChange      Kind = "turnChange"
	HazardTick      Kind = "hazardTick"
	ScoreUpdate     Kind = "scoreUpdate"
	FuelUpdate      Kind = "fuelUpdate"
	PowerUpSpawned  Kind = "powerUpSpawned"
	PowerUpRemoved  Kind = "powerUpRemoved"
	PowerUpExpired  Kind = "powerUpExpired"
	HazardDestroyed Kind = "hazardDestroyed"
	PlayerLeft      Kind = "playerLeft"
	GameOver        Kind = "gameOver"
)

var inboundKinds = map[Kind]bool{
	AutoJoin:        true,
	UpdatePosition:  true,
	FireBullet:      true,
	BulletHit:       true,
	BulletFlightEnd: true,
	HazardHit:       true,
	HazardCollision: true,
	FuelUsed:        true,
	CollectPowerUp:  true,
	LeaveQueue:      true,
}

// IsInbound reports whether a kind is valid as a client → server message.
func IsInbound(k Kind) bool {
	return inboundKinds[k]
}

// Envelope is the outer frame of every message.
type Envelope struct {
	Type Kind            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Encode serializes a payload under the given kind.
func Encode(kind Kind, payload any) ([]byte, error) {
	var data json.RawMessage
	if payload != nil {
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", kind, err)
		}
	}
	return json.Marshal(Envelope{Type: kind, Data: data})
}

// Decode parses an envelope from raw bytes. The payload stays raw until the
// caller binds it with DecodePayload.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("malformed envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("envelope missing type")
	}
	return env, nil
}

// DecodePayload binds the envelope's payload to a concrete schema.
func (e Envelope) DecodePayload(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s: empty payload", e.Type)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%s: invalid payload: %w", e.Type, err)
	}
	return nil
}

// Pose is a player position and heading.
type Pose struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Rotation float64 `json:"rotation"`
}

// Pickup is a world-placed collectible, spawned but not yet collected.
type Pickup struct {
	ID   string  `json:"id"`
	Type string  `json:"type"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

// RoomState is the reconnect-safe snapshot sent on join and logged per turn.
type RoomState struct {
	TurnOwner       int                `json:"currentTurn"`
	TurnCount       int                `json:"turnCount"`
	Scores          [2]int             `json:"scores"`
	Fuel            [2]float64         `json:"fuel"`
	Hazards         []hazard.UnitState `json:"hazards"`
	Positions       [2]*Pose           `json:"playerPositions"`
	ActivePowerUps  [2]map[string]int  `json:"activePowerUps"`
	PendingPowerUps []Pickup           `json:"pendingPowerUps"`
}

// Client → server payloads.

// AutoJoinPayload asks the matchmaker for a seat. UserID 0 marks a guest.
type AutoJoinPayload struct {
	Username string `json:"username"`
	UserID   int64  `json:"userId"`
}

// MovePayload carries a proposed position for the acting player.
type MovePayload struct {
	RoomID string `json:"roomId"`
	Pose
}

// FirePayload carries a bullet spawn origin and heading.
type FirePayload struct {
	RoomID string `json:"roomId"`
	Pose
}

// RoomRefPayload is shared by messages that carry only a room reference.
type RoomRefPayload struct {
	RoomID string `json:"roomId"`
}

// HazardHitPayload reports a bullet striking a hazard unit.
type HazardHitPayload struct {
	RoomID      string `json:"roomId"`
	HazardID    int    `json:"hazardId"`
	ShooterSlot int    `json:"shooterSlot"`
	BulletIndex int    `json:"bulletIndex"`
}

// HazardCollisionPayload reports a ship colliding with a hazard unit.
type HazardCollisionPayload struct {
	RoomID   string `json:"roomId"`
	HazardID int    `json:"hazardId"`
}

// FuelUsedPayload reports fuel burned by the acting player.
type FuelUsedPayload struct {
	RoomID string  `json:"roomId"`
	Slot   int     `json:"slot"`
	Amount float64 `json:"amount"`
}

// CollectPayload claims a pending pickup. First accepted claim wins.
type CollectPayload struct {
	RoomID   string `json:"roomId"`
	PickupID string `json:"pickupId"`
}

// Server → client payloads.

// RoomJoinedPayload confirms a seat and carries everything the client needs
// to reconstruct the room, including the hazard seed for local prediction.
type RoomJoinedPayload struct {
	RoomID     string    `json:"roomId"`
	SlotIndex  int       `json:"slotIndex"`
	HazardSeed string    `json:"hazardSeed"`
	Spawn      Pose      `json:"spawn"`
	State      RoomState `json:"state"`
}

// GameStartPayload announces the match start and the opening turn owner.
type GameStartPayload struct {
	StartingTurn int `json:"startingTurn"`
}

// PlayerMovedPayload relays an opponent's accepted move.
type PlayerMovedPayload struct {
	ConnectionID string `json:"connectionId"`
	Pose
}

// BulletFiredPayload relays a bullet spawn to every room member, shooter
// included, so bullet indices stay consistent on both clients.
type BulletFiredPayload struct {
	Pose
	Owner int `json:"owner"`
}

// TurnChangePayload announces the new turn after a resolved one.
type TurnChangePayload struct {
	CurrentTurn int                `json:"currentTurn"`
	TurnCount   int                `json:"turnCount"`
	Hazards     []hazard.UnitState `json:"hazardState"`
	Fuel        [2]float64         `json:"fuel"`
}

// HazardTickPayload is the lightweight between-turns position update. It
// carries positions only; velocity, mass and radius travel in the full
// snapshot at turn boundaries.
type HazardTickPayload struct {
	Hazards   []hazard.UnitPosition `json:"hazardState"`
	Timestamp int64                 `json:"timestamp"`
}

// ScorePayload carries both slots' scores.
type ScorePayload struct {
	Slot0 int `json:"slot0"`
	Slot1 int `json:"slot1"`
}

// FuelPayload carries both slots' fuel pools.
type FuelPayload struct {
	Slot0 float64 `json:"slot0"`
	Slot1 float64 `json:"slot1"`
}

// PowerUpRemovedPayload announces a claimed pickup and its new owner.
type PowerUpRemovedPayload struct {
	PickupID string `json:"pickupId"`
	Slot     int    `json:"slot"`
}

// PowerUpExpiredPayload announces an active power-up leaving play.
type PowerUpExpiredPayload struct {
	Slot int    `json:"slot"`
	Type string `json:"type"`
}

// HazardDestroyedPayload announces a hazard removed by a confirmed hit.
type HazardDestroyedPayload struct {
	HazardID int `json:"hazardId"`
}

// PlayerLeftPayload tells the remaining player their opponent is gone.
type PlayerLeftPayload struct {
	ConnectionID string `json:"connectionId"`
	Name         string `json:"name"`
}

// GameOverPayload carries the final result. WinnerName is empty on a draw.
type GameOverPayload struct {
	WinnerName   string       `json:"winnerName"`
	Participants [2]string    `json:"participants"`
	Scores       ScorePayload `json:"scores"`
}
