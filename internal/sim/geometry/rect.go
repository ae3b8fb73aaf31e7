package geometry

import "math"

// Rect is an axis-aligned rectangle in world units. Y grows downward.
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"width"`
	H float64 `json:"height"`
}

func (r Rect) MaxX() float64 { return r.X + r.W }
func (r Rect) MaxY() float64 { return r.Y + r.H }

func (r Rect) Center() (float64, float64) {
	return r.X + r.W/2, r.Y + r.H/2
}

func (r Rect) Empty() bool { return r.W <= 0 || r.H <= 0 }

// Translate returns r moved by (dx, dy).
func (r Rect) Translate(dx, dy float64) Rect {
	r.X += dx
	r.Y += dy
	return r
}

// Overlaps reports strict overlap; rectangles that only share an edge do not overlap.
func (r Rect) Overlaps(o Rect) bool {
	return r.X < o.MaxX() && o.X < r.MaxX() && r.Y < o.MaxY() && o.Y < r.MaxY()
}

// Touches is Overlaps with shared edges counted.
func (r Rect) Touches(o Rect) bool {
	return r.X <= o.MaxX() && o.X <= r.MaxX() && r.Y <= o.MaxY() && o.Y <= r.MaxY()
}

// Contains reports whether the point lies inside r, edges included.
func (r Rect) Contains(x, y float64) bool {
	return x >= r.X && x <= r.MaxX() && y >= r.Y && y <= r.MaxY()
}

// Union returns the smallest rectangle covering both.
func (r Rect) Union(o Rect) Rect {
	minX := math.Min(r.X, o.X)
	minY := math.Min(r.Y, o.Y)
	maxX := math.Max(r.MaxX(), o.MaxX())
	maxY := math.Max(r.MaxY(), o.MaxY())
	return Rect{X: minX, Y: minY, W: maxX - minX, H: maxY - minY}
}

// Gap returns the per-axis separation between r and o (0 on an axis where
// they overlap or touch).
func (r Rect) Gap(o Rect) (float64, float64) {
	dx := math.Max(0, math.Max(o.X-r.MaxX(), r.X-o.MaxX()))
	dy := math.Max(0, math.Max(o.Y-r.MaxY(), r.Y-o.MaxY()))
	return dx, dy
}
