// pkg/room/replay.go
package room

import (
	"encoding/json"
	"fmt"

	"github.com/opd-ai/go-astroduel/pkg/hazard"
	"github.com/opd-ai/go-astroduel/pkg/proto"
)

// TurnSnapshot captures the full room state at the moment a turn resolved.
type TurnSnapshot struct {
	Turn            int                `json:"turn"`
	Scores          [2]int             `json:"scores"`
	Fuel            [2]float64         `json:"fuel"`
	Hazards         []hazard.UnitState `json:"hazards"`
	Positions       [2]*proto.Pose     `json:"playerPositions"`
	ActivePowerUps  [2]map[string]int  `json:"activePowerUps"`
	PendingPowerUps []proto.Pickup     `json:"pendingPowerUps"`
}

// ReplayLog is the append-only per-turn history of a match. It is persisted
// as a single serialized blob when the game ends. Not safe for concurrent
// use; the owning room serializes access.
type ReplayLog struct {
	turns []TurnSnapshot
}

// NewReplayLog creates an empty replay log.
func NewReplayLog() *ReplayLog {
	return &ReplayLog{}
}

// Append adds a snapshot to the end of the log.
func (l *ReplayLog) Append(s TurnSnapshot) {
	l.turns = append(l.turns, s)
}

// Len returns the number of recorded turns.
func (l *ReplayLog) Len() int {
	return len(l.turns)
}

// Turns returns a copy of the ordered snapshot sequence.
func (l *ReplayLog) Turns() []TurnSnapshot {
	out := make([]TurnSnapshot, len(l.turns))
	copy(out, l.turns)
	return out
}

// Marshal serializes the log for durable storage.
func (l *ReplayLog) Marshal() ([]byte, error) {
	data, err := json.Marshal(l.turns)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal replay log: %w", err)
	}
	return data, nil
}

// UnmarshalReplay decodes a previously marshaled replay log blob.
func UnmarshalReplay(data []byte) ([]TurnSnapshot, error) {
	var turns []TurnSnapshot
	if err := json.Unmarshal(data, &turns); err != nil {
		return nil, fmt.Errorf("failed to parse replay log: %w", err)
	}
	return turns, nil
}
