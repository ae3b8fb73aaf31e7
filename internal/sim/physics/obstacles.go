package physics

import (
	"tickpilot.dev/internal/sim/geometry"
	"tickpilot.dev/internal/sim/state"
)

// Obstacles is a frozen view of entity bodies. It implements
// geometry.DynamicQuery and is what lookahead searches use to hold other
// entities static.
type Obstacles struct {
	bodies []geometry.Body
}

// NewObstacles resolves the collision box of every entity in st except the
// ones listed in skip. A missing frame aborts the build.
func NewObstacles(env geometry.Environment, st state.GameState, skip ...string) (*Obstacles, error) {
	skipped := make(map[string]struct{}, len(skip))
	for _, id := range skip {
		skipped[id] = struct{}{}
	}
	o := &Obstacles{}
	for _, id := range st.SortedIDs() {
		if _, ok := skipped[id]; ok {
			continue
		}
		e := st.Entities[id]
		if e.ID == "" {
			e.ID = id
		}
		box, err := WorldBox(env, e)
		if err != nil {
			return nil, err
		}
		o.bodies = append(o.bodies, geometry.Body{ID: id, Box: box, Solid: e.Solid})
	}
	return o, nil
}

func (o *Obstacles) Bodies(region geometry.Rect, exclude map[string]struct{}) []geometry.Body {
	if o == nil {
		return nil
	}
	var out []geometry.Body
	for _, b := range o.bodies {
		if _, ok := exclude[b.ID]; ok {
			continue
		}
		if b.Box.Touches(region) {
			out = append(out, b)
		}
	}
	return out
}

// Boxes returns every body's box; used by the router to reject moves.
func (o *Obstacles) Boxes() []geometry.Rect {
	if o == nil {
		return nil
	}
	out := make([]geometry.Rect, 0, len(o.bodies))
	for _, b := range o.bodies {
		out = append(out, b.Box)
	}
	return out
}
