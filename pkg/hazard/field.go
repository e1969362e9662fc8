// Package hazard implements the deterministic moving-hazard field shared by
// both players of a room. The field is generated from a string seed so that
// the client can rebuild an identical local copy for prediction and
// rendering; only the server's copy is authoritative for collisions.
package hazard

import (
	"hash/fnv"
	"math/rand/v2"

	"github.com/opd-ai/go-astroduel/pkg/physics"
)

// DefaultCount is the number of units a freshly seeded field contains.
const DefaultCount = 10

// Generation ranges. Velocity components are drawn uniformly in
// [-VelocityRange/2, VelocityRange/2); mass and radius in
// [UnitPropertyMin, UnitPropertyMin+UnitPropertySpan).
const (
	VelocityRange    = 50.0
	UnitPropertyMin  = 20.0
	UnitPropertySpan = 30.0
)

// Unit is a single moving hazard. Position stays wrapped into
// [0,bounds) on both axes after every update.
type Unit struct {
	ID       int              `json:"id"`
	Position physics.Vector2D `json:"-"`
	Velocity physics.Vector2D `json:"-"`
	Mass     float64          `json:"mass"`
	Radius   float64          `json:"radius"`
}

// UnitState is the wire/replay representation of a unit, flattened the way
// the client expects it.
type UnitState struct {
	ID     int     `json:"id"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	VX     float64 `json:"vx"`
	VY     float64 `json:"vy"`
	Mass   float64 `json:"mass"`
	Radius float64 `json:"radius"`
}

// UnitPosition is the position-only projection of a unit used by the
// periodic tick broadcast. Velocity, mass and radius never change after
// generation, so clients only need them once per turn.
type UnitPosition struct {
	ID int     `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
}

// Field owns a set of hazard units. It is not safe for concurrent use;
// the owning room serializes access behind its own lock.
type Field struct {
	seed   string
	bounds physics.Bounds
	units  []*Unit
}

// NewField deterministically generates a field of count units from the given
// seed. The same seed and bounds always produce the same initial set.
func NewField(seed string, bounds physics.Bounds, count int) *Field {
	if count <= 0 {
		count = DefaultCount
	}
	f := &Field{
		seed:   seed,
		bounds: bounds,
		units:  make([]*Unit, 0, count),
	}
	rng := newSeededRNG(seed)
	for i := 0; i < count; i++ {
		// Draw order matters: the client consumes the same stream in the
		// same sequence (x, y, vx, vy, mass, radius).
		x := rng.Float64() * bounds.Width
		y := rng.Float64() * bounds.Height
		vx := (rng.Float64() - 0.5) * VelocityRange
		vy := (rng.Float64() - 0.5) * VelocityRange
		mass := UnitPropertyMin + rng.Float64()*UnitPropertySpan
		radius := UnitPropertyMin + rng.Float64()*UnitPropertySpan

		f.units = append(f.units, &Unit{
			ID:       i,
			Position: physics.Vector2D{X: x, Y: y},
			Velocity: physics.Vector2D{X: vx, Y: vy},
			Mass:     mass,
			Radius:   radius,
		})
	}
	return f
}

// newSeededRNG derives a reproducible PCG stream from a string seed.
func newSeededRNG(seed string) *rand.Rand {
	h := fnv.New64a()
	h.Write([]byte(seed))
	hi := h.Sum64()
	h.Write([]byte(seed))
	lo := h.Sum64()
	return rand.New(rand.NewPCG(hi, lo))
}

// Seed returns the seed the field was generated from.
func (f *Field) Seed() string {
	return f.seed
}

// Bounds returns the field's play area.
func (f *Field) Bounds() physics.Bounds {
	return f.bounds
}

// Len returns the number of live units.
func (f *Field) Len() int {
	return len(f.units)
}

// Advance moves every unit by velocity * deltaMS/1000 and wraps positions
// back into bounds. Units pass through each other; there is no unit-to-unit
// collision. A non-positive delta is a no-op.
func (f *Field) Advance(deltaMS float64) {
	if deltaMS <= 0 {
		return
	}
	dt := deltaMS / 1000
	for _, u := range f.units {
		u.Position = f.bounds.Wrap(u.Position.Add(u.Velocity.Scale(dt)))
	}
}

// RemoveByID removes the first unit with the given id and reports whether a
// removal occurred. Calling it again with the same id is a safe no-op, which
// makes duplicate hit reports from both clients idempotent.
func (f *Field) RemoveByID(id int) bool {
	for i, u := range f.units {
		if u.ID == id {
			f.units = append(f.units[:i], f.units[i+1:]...)
			return true
		}
	}
	return false
}

// Snapshot returns the state of every live unit in stable insertion order.
// It is a pure read used for wire serialization and replay logging.
func (f *Field) Snapshot() []UnitState {
	out := make([]UnitState, 0, len(f.units))
	for _, u := range f.units {
		out = append(out, UnitState{
			ID:     u.ID,
			X:      u.Position.X,
			Y:      u.Position.Y,
			VX:     u.Velocity.X,
			VY:     u.Velocity.Y,
			Mass:   u.Mass,
			Radius: u.Radius,
		})
	}
	return out
}

// Positions returns only the id and position of every live unit, in the
// same stable order as Snapshot.
func (f *Field) Positions() []UnitPosition {
	out := make([]UnitPosition, 0, len(f.units))
	for _, u := range f.units {
		out = append(out, UnitPosition{ID: u.ID, X: u.Position.X, Y: u.Position.Y})
	}
	return out
}
