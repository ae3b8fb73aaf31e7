// Package router builds a coarse cost-to-goal field over the static map. The
// field is a heuristic for the action search: a missing cell means no
// information, never "blocked".
package router

import (
	"math"
	"time"

	"tickpilot.dev/internal/planner/pq"
	"tickpilot.dev/internal/sim/geometry"
	"tickpilot.dev/internal/sim/tuning"
)

// Cell is a grid coordinate; (0,0) is the top-left cell of the map bounds.
type Cell struct {
	X, Y int
}

// Field is a sparse cell -> accumulated cost from the goal.
type Field struct {
	Granularity float64
	Origin      geometry.Rect
	// Complete is false when the deadline cut expansion short.
	Complete bool

	costs map[Cell]float64
}

// Cost returns the cost-to-goal of c, if the router reached it.
func (f *Field) Cost(c Cell) (float64, bool) {
	if f == nil {
		return 0, false
	}
	v, ok := f.costs[c]
	return v, ok
}

func (f *Field) Len() int {
	if f == nil {
		return 0
	}
	return len(f.costs)
}

// CellAt returns the cell containing the world point (x, y).
func (f *Field) CellAt(x, y float64) Cell {
	return Cell{
		X: int(math.Floor((x - f.Origin.X) / f.Granularity)),
		Y: int(math.Floor((y - f.Origin.Y) / f.Granularity)),
	}
}

// CellRect returns the world rectangle covered by c.
func (f *Field) CellRect(c Cell) geometry.Rect {
	g := f.Granularity
	return geometry.Rect{X: f.Origin.X + float64(c.X)*g, Y: f.Origin.Y + float64(c.Y)*g, W: g, H: g}
}

// Request describes one field build.
type Request struct {
	Env geometry.Environment
	// Obstacles are the collision boxes of every entity but the avatar.
	Obstacles []geometry.Rect

	GoalX, GoalY     float64
	AvatarX, AvatarY float64

	// Deadline is checked once per expansion; zero means none.
	Deadline time.Time
	Now      func() time.Time
}

type move struct {
	dx, dy int
	length float64
}

type grid struct {
	cfg   tuning.Router
	field *Field
	env   geometry.Environment
	obs   []geometry.Rect
	cols  int
	rows  int
	free  map[Cell]bool
	fall  map[Cell]int
}

// Build expands from the goal outward until the frontier comes within
// StopRadius cells of the avatar, the frontier is exhausted, or the deadline
// passes.
func Build(cfg tuning.Router, req Request) *Field {
	now := req.Now
	if now == nil {
		now = time.Now
	}
	bounds := req.Env.Bounds()
	f := &Field{Granularity: cfg.Granularity, Origin: bounds, costs: map[Cell]float64{}}
	g := &grid{
		cfg:   cfg,
		field: f,
		env:   req.Env,
		obs:   req.Obstacles,
		cols:  int(math.Ceil(bounds.W / cfg.Granularity)),
		rows:  int(math.Ceil(bounds.H / cfg.Granularity)),
		free:  map[Cell]bool{},
		fall:  map[Cell]int{},
	}

	moves := []move{
		{1, 0, 1}, {-1, 0, 1}, {0, 1, 1}, {0, -1, 1},
		{cfg.HopCells, 0, float64(cfg.HopCells)}, {-cfg.HopCells, 0, float64(cfg.HopCells)},
		{0, cfg.VerticalCells, float64(cfg.VerticalCells)}, {0, -cfg.VerticalCells, float64(cfg.VerticalCells)},
	}

	avatar := f.CellAt(req.AvatarX, req.AvatarY)
	goal := f.CellAt(req.GoalX, req.GoalY)
	open := pq.New[Cell]()
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			c := Cell{goal.X + dx, goal.Y + dy}
			if !g.inBounds(c) {
				continue
			}
			f.costs[c] = 0
			open.Push(c, 0)
		}
	}

	f.Complete = true
	for {
		c, cost, ok := open.Pop()
		if !ok {
			break
		}
		if best := f.costs[c]; cost > best {
			continue
		}
		if chebyshev(c, avatar) <= cfg.StopRadius {
			break
		}
		if !req.Deadline.IsZero() && !now().Before(req.Deadline) {
			f.Complete = false
			break
		}
		for _, m := range moves {
			n := Cell{c.X + m.dx, c.Y + m.dy}
			if !g.inBounds(n) || g.blocked(c, n) {
				continue
			}
			nc := cost + m.length + g.penalty(n)
			if prev, seen := f.costs[n]; seen && prev <= nc {
				continue
			}
			f.costs[n] = nc
			open.Push(n, nc)
		}
	}
	return f
}

func (g *grid) inBounds(c Cell) bool {
	return c.X >= 0 && c.Y >= 0 && c.X < g.cols && c.Y < g.rows
}

func (g *grid) blocked(a, b Cell) bool {
	swept := g.field.CellRect(a).Union(g.field.CellRect(b))
	if hitsAny(swept, g.env.StaticCollisions(swept)) {
		return true
	}
	return hitsAny(swept, g.obs)
}

func (g *grid) isFree(c Cell) bool {
	if !g.inBounds(c) {
		return false
	}
	if v, ok := g.free[c]; ok {
		return v
	}
	r := g.field.CellRect(c)
	v := !hitsAny(r, g.env.StaticCollisions(r))
	g.free[c] = v
	return v
}

// fallHeight counts unobstructed cells straight below c, up to
// FallProbeDepth. Only values known to be exact are memoized.
func (g *grid) fallHeight(c Cell) int {
	if v, ok := g.fall[c]; ok {
		return v
	}
	depth := g.cfg.FallProbeDepth
	var walked []Cell
	base := 0
	exact := true
	cur := c
	for {
		if len(walked) == depth {
			exact = false
			break
		}
		below := Cell{cur.X, cur.Y + 1}
		if v, ok := g.fall[below]; ok {
			walked = append(walked, cur)
			base = v + 1
			break
		}
		if !g.isFree(below) {
			walked = append(walked, cur)
			break
		}
		walked = append(walked, cur)
		cur = below
	}

	if !exact {
		g.fall[c] = depth
		return depth
	}
	// walked[i] sits len(walked)-1-i cells above the last walked cell.
	for i := len(walked) - 1; i >= 0; i-- {
		v := base + (len(walked) - 1 - i)
		if v > depth {
			v = depth
		}
		g.fall[walked[i]] = v
	}
	return g.fall[c]
}

func (g *grid) penalty(c Cell) float64 {
	h := g.fallHeight(c)
	if h == 0 {
		return 0
	}
	return math.Min(math.Pow(float64(h), g.cfg.HeightPenaltyExp), g.cfg.HeightPenaltyCap)
}

func hitsAny(r geometry.Rect, rects []geometry.Rect) bool {
	for _, o := range rects {
		if r.Overlaps(o) {
			return true
		}
	}
	return false
}

func chebyshev(a, b Cell) int {
	dx := a.X - b.X
	if dx < 0 {
		dx = -dx
	}
	dy := a.Y - b.Y
	if dy < 0 {
		dy = -dy
	}
	if dx > dy {
		return dx
	}
	return dy
}
