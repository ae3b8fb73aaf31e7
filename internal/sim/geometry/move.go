package geometry

import (
	"math"
	"sort"
)

// MoveResult is the outcome of resolving one tick of motion.
type MoveResult struct {
	X, Y float64
	// DX, DY are the displacements actually achieved.
	DX, DY float64
	// SolidGround is set when downward motion was stopped by something below.
	SolidGround bool
	// Collided lists entity ids that blocked the motion or overlap the final box, sorted.
	Collided []string
}

// Move resolves motion of an entity at (x, y) with velocity (vx, vy) and a
// collision box relative to its origin. The X axis is swept first, then Y,
// each clipped at the nearest blocking rectangle. Rectangles already
// overlapping the box do not block, so a stuck entity can move out.
func Move(env Environment, dyn DynamicQuery, x, y, vx, vy float64, box Rect, exclude map[string]struct{}) MoveResult {
	res := MoveResult{X: x, Y: y}
	hit := map[string]struct{}{}

	cur := box.Translate(x, y)
	if vx != 0 {
		dx := sweep(cur, vx, true, blockers(env, dyn, cur, cur.Translate(vx, 0), exclude), hit)
		cur = cur.Translate(dx, 0)
		res.DX = dx
	}
	if vy != 0 {
		dy := sweep(cur, vy, false, blockers(env, dyn, cur, cur.Translate(0, vy), exclude), hit)
		cur = cur.Translate(0, dy)
		res.DY = dy
		if vy > 0 && dy < vy {
			res.SolidGround = true
		}
	}
	res.X = x + res.DX
	res.Y = y + res.DY

	if dyn != nil {
		for _, b := range dyn.Bodies(cur, exclude) {
			if b.Box.Overlaps(cur) {
				hit[b.ID] = struct{}{}
			}
		}
	}
	if len(hit) > 0 {
		res.Collided = make([]string, 0, len(hit))
		for id := range hit {
			res.Collided = append(res.Collided, id)
		}
		sort.Strings(res.Collided)
	}
	return res
}

type blocker struct {
	rect Rect
	id   string
}

func blockers(env Environment, dyn DynamicQuery, from, to Rect, exclude map[string]struct{}) []blocker {
	region := from.Union(to)
	var out []blocker
	for _, r := range env.StaticCollisions(region) {
		out = append(out, blocker{rect: r})
	}
	if dyn != nil {
		for _, b := range dyn.Bodies(region, exclude) {
			if !b.Solid {
				continue
			}
			out = append(out, blocker{rect: b.Box, id: b.ID})
		}
	}
	return out
}

// eps absorbs float drift so that a box resting on a surface keeps resting
// on it instead of sinking into it.
const eps = 1e-6

// sweep returns the achievable displacement of cur along one axis and
// records the ids of entities sitting on the limiting edge.
func sweep(cur Rect, d float64, horizontal bool, obs []blocker, hit map[string]struct{}) float64 {
	best := d
	limit := make([]float64, len(obs))
	for i, o := range obs {
		limit[i] = d
		r := o.rect
		lo, hi, olo, ohi := cur.X, cur.MaxX(), r.X, r.MaxX()
		plo, phi, oplo, ophi := cur.Y, cur.MaxY(), r.Y, r.MaxY()
		if !horizontal {
			lo, hi, olo, ohi = cur.Y, cur.MaxY(), r.Y, r.MaxY()
			plo, phi, oplo, ophi = cur.X, cur.MaxX(), r.X, r.MaxX()
		}
		if !(oplo < phi-eps && plo < ophi-eps) {
			continue
		}
		if d > 0 && olo >= hi-eps && olo < hi+d {
			limit[i] = math.Max(0, olo-hi)
		}
		if d < 0 && ohi <= lo+eps && ohi > lo+d {
			limit[i] = math.Min(0, ohi-lo)
		}
		if (d > 0 && limit[i] < best) || (d < 0 && limit[i] > best) {
			best = limit[i]
		}
	}
	if best != d {
		for i, o := range obs {
			if o.id != "" && limit[i] == best {
				hit[o.id] = struct{}{}
			}
		}
	}
	return best
}
