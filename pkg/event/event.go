// pkg/event/event.go
package event

import (
	"sync"
)

// Type represents the type of event
type Type string

// Common event types
const (
	PlayerJoined  Type = "player_joined"
	PlayerLeft    Type = "player_left"
	GameStarted   Type = "game_started"
	TurnAdvanced  Type = "turn_advanced"
	ScoreChanged  Type = "score_changed"
	PowerUpStored Type = "power_up_collected"
	PowerUpLapsed Type = "power_up_expired"
	GameEnded     Type = "game_ended"
)

// Event is the base interface for all events
type Event interface {
	GetType() Type
	GetRoomID() string
}

// BaseEvent provides common functionality for all events
type BaseEvent struct {
	EventType Type
	RoomID    string
}

// GetType returns the event type
func (e *BaseEvent) GetType() Type {
	return e.EventType
}

// GetRoomID returns the id of the room the event originated from
func (e *BaseEvent) GetRoomID() string {
	return e.RoomID
}

// Handler is a function that handles events
type Handler func(Event)

// Bus manages event subscriptions and dispatching
type Bus struct {
	handlers map[Type][]Handler
	mu       sync.RWMutex
}

// NewEventBus creates a new event bus
func NewEventBus() *Bus {
	return &Bus{
		handlers: make(map[Type][]Handler),
	}
}

// Subscribe registers a handler for a specific event type
func (b *Bus) Subscribe(eventType Type, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Publish sends an event to all subscribed handlers
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	handlers, ok := b.handlers[event.GetType()]
	b.mu.RUnlock()

	if !ok {
		return
	}

	for _, handler := range handlers {
		handler(event)
	}
}

// Specific event implementations

// PlayerEvent describes a player entering or leaving a room
type PlayerEvent struct {
	BaseEvent
	SlotIndex int
	Name      string
}

// NewPlayerEvent creates a new player event
func NewPlayerEvent(eventType Type, roomID string, slotIndex int, name string) *PlayerEvent {
	return &PlayerEvent{
		BaseEvent: BaseEvent{EventType: eventType, RoomID: roomID},
		SlotIndex: slotIndex,
		Name:      name,
	}
}

// TurnEvent describes a resolved turn
type TurnEvent struct {
	BaseEvent
	TurnOwner int
	TurnCount int
}

// NewTurnEvent creates a new turn event
func NewTurnEvent(roomID string, turnOwner, turnCount int) *TurnEvent {
	return &TurnEvent{
		BaseEvent: BaseEvent{EventType: TurnAdvanced, RoomID: roomID},
		TurnOwner: turnOwner,
		TurnCount: turnCount,
	}
}

// ScoreEvent describes a score change for one slot
type ScoreEvent struct {
	BaseEvent
	SlotIndex int
	Score     int
}

// NewScoreEvent creates a new score event
func NewScoreEvent(roomID string, slotIndex, score int) *ScoreEvent {
	return &ScoreEvent{
		BaseEvent: BaseEvent{EventType: ScoreChanged, RoomID: roomID},
		SlotIndex: slotIndex,
		Score:     score,
	}
}

// PowerUpEvent describes a power-up being collected or expiring
type PowerUpEvent struct {
	BaseEvent
	SlotIndex   int
	PowerUpType string
}

// NewPowerUpEvent creates a new power-up event
func NewPowerUpEvent(eventType Type, roomID string, slotIndex int, powerUpType string) *PowerUpEvent {
	return &PowerUpEvent{
		BaseEvent:   BaseEvent{EventType: eventType, RoomID: roomID},
		SlotIndex:   slotIndex,
		PowerUpType: powerUpType,
	}
}

// GameOverEvent describes a finished match
type GameOverEvent struct {
	BaseEvent
	WinnerSlot int // -1 on a draw
	Scores     [2]int
}

// NewGameOverEvent creates a new game-over event
func NewGameOverEvent(roomID string, winnerSlot int, scores [2]int) *GameOverEvent {
	return &GameOverEvent{
		BaseEvent:  BaseEvent{EventType: GameEnded, RoomID: roomID},
		WinnerSlot: winnerSlot,
		Scores:     scores,
	}
}
