// pkg/physics/vector.go
package physics

import "math"

// Vector2D represents a 2D vector with x and y components
type Vector2D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Add returns the sum of two vectors
func (v Vector2D) Add(other Vector2D) Vector2D {
	return Vector2D{
		X: v.X + other.X,
		Y: v.Y + other.Y,
	}
}

// Sub returns the difference between two vectors
func (v Vector2D) Sub(other Vector2D) Vector2D {
	return Vector2D{
		X: v.X - other.X,
		Y: v.Y - other.Y,
	}
}

// Scale multiplies the vector by a scalar value
func (v Vector2D) Scale(factor float64) Vector2D {
	return Vector2D{
		X: v.X * factor,
		Y: v.Y * factor,
	}
}

// Length returns the magnitude of the vector
func (v Vector2D) Length() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y)
}

// Distance returns the distance between two vectors
func (v Vector2D) Distance(other Vector2D) float64 {
	return v.Sub(other).Length()
}

// FromAngle creates a vector from an angle and magnitude
func FromAngle(angle float64, magnitude float64) Vector2D {
	return Vector2D{
		X: magnitude * math.Cos(angle),
		Y: magnitude * math.Sin(angle),
	}
}

// Bounds describes the rectangular play area. The field is toroidal:
// a position leaving one edge re-enters from the opposite one.
type Bounds struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Contains reports whether a position lies inside [0,Width) x [0,Height).
func (b Bounds) Contains(v Vector2D) bool {
	return v.X >= 0 && v.X < b.Width && v.Y >= 0 && v.Y < b.Height
}

// Wrap folds a position back into the play area, each axis independently.
// Per-tick displacements only ever leave the area by a fraction of a bound,
// so a single fold is the common case; larger jumps are reduced with
// math.Mod first.
func (b Bounds) Wrap(v Vector2D) Vector2D {
	v.X = wrapAxis(v.X, b.Width)
	v.Y = wrapAxis(v.Y, b.Height)
	return v
}

func wrapAxis(p, bound float64) float64 {
	if bound <= 0 {
		return p
	}
	if p < -bound || p >= 2*bound {
		p = math.Mod(p, bound)
	}
	if p < 0 {
		p += bound
	}
	if p >= bound {
		p -= bound
	}
	return p
}
