// Package search finds a per-tick input sequence that moves the avatar's
// collision box over a target point. It expands macro-actions (one input held
// for a fixed number of ticks) best-first, replaying each through the physics
// simulator with every other entity held still.
package search

import (
	"math"
	"time"

	"tickpilot.dev/internal/planner/pq"
	"tickpilot.dev/internal/planner/router"
	"tickpilot.dev/internal/sim/geometry"
	"tickpilot.dev/internal/sim/physics"
	"tickpilot.dev/internal/sim/state"
	"tickpilot.dev/internal/sim/tuning"
)

type Outcome int

const (
	OutcomeFound Outcome = iota
	OutcomeTimeout
	OutcomeUnreachable
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFound:
		return "found"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeUnreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// Palette is the fixed set of inputs tried from every node, in expansion order.
var Palette = []state.Input{
	{},
	{Left: true},
	{Right: true},
	{Up: true},
	{Up: true, Left: true},
	{Up: true, Right: true},
}

// MacroAction is one input held for Repeat consecutive ticks.
type MacroAction struct {
	Input  state.Input
	Repeat int
}

type Request struct {
	Env       geometry.Environment
	Obstacles geometry.DynamicQuery
	Player    state.Entity
	Field     *router.Field

	TargetX, TargetY float64

	Deadline time.Time
	Now      func() time.Time
}

type Result struct {
	Outcome  Outcome
	Actions  []MacroAction
	Inputs   []state.Input
	Expanded int
}

type Searcher struct {
	cfg tuning.Search
	sim *physics.Simulator
}

func New(cfg tuning.Search, sim *physics.Simulator) *Searcher {
	return &Searcher{cfg: cfg, sim: sim}
}

type key struct {
	fine   bool
	qx, qy int
}

type node struct {
	player state.Entity
	ticks  int
	key    key
	action state.Input
	parent *node
}

// Run searches until a node whose box contains the target is popped, the
// frontier runs dry, or the deadline passes. The deadline is checked before
// each pop's goal test. A physics error aborts the search and is returned as
// is.
func (s *Searcher) Run(req Request) (Result, error) {
	now := req.Now
	if now == nil {
		now = time.Now
	}

	rootBox, err := physics.WorldBox(req.Env, req.Player)
	if err != nil {
		return Result{}, err
	}
	root := &node{player: req.Player, key: s.quantize(rootBox, req.TargetX, req.TargetY)}
	best := map[key]int{root.key: 0}
	open := pq.New[*node]()
	open.Push(root, 0)

	var res Result
	for {
		n, _, ok := open.Pop()
		if !ok {
			res.Outcome = OutcomeUnreachable
			return res, nil
		}
		if n.ticks > best[n.key] {
			continue
		}
		// An expired deadline wins over a goal node, even the root.
		if !req.Deadline.IsZero() && !now().Before(req.Deadline) {
			res.Outcome = OutcomeTimeout
			return res, nil
		}
		box, err := physics.WorldBox(req.Env, n.player)
		if err != nil {
			return Result{}, err
		}
		if box.Contains(req.TargetX, req.TargetY) {
			res.Outcome = OutcomeFound
			res.Actions, res.Inputs = s.unroll(n)
			return res, nil
		}
		res.Expanded++

		for _, in := range Palette {
			p := n.player
			for i := 0; i < s.cfg.Repeat; i++ {
				p, err = s.sim.StepPlayer(req.Env, req.Obstacles, p, in)
				if err != nil {
					return Result{}, err
				}
			}
			cbox, err := physics.WorldBox(req.Env, p)
			if err != nil {
				return Result{}, err
			}
			h, ok := s.heuristic(req.Field, cbox, req.TargetX, req.TargetY)
			if !ok {
				continue
			}
			child := &node{
				player: p,
				ticks:  n.ticks + s.cfg.Repeat,
				key:    s.quantize(cbox, req.TargetX, req.TargetY),
				action: in,
				parent: n,
			}
			if prev, seen := best[child.key]; seen && prev <= child.ticks {
				continue
			}
			best[child.key] = child.ticks
			open.Push(child, float64(child.ticks)+h)
		}
	}
}

func (s *Searcher) quantize(box geometry.Rect, tx, ty float64) key {
	cx, cy := box.Center()
	step, fine := s.cfg.CoarseStep, false
	if math.Hypot(tx-cx, ty-cy) < s.cfg.NearRadius {
		step, fine = s.cfg.FineStep, true
	}
	return key{fine: fine, qx: int(math.Floor(cx / step)), qy: int(math.Floor(cy / step))}
}

// heuristic returns false when the cost field has no coverage around box;
// such candidates are pruned.
func (s *Searcher) heuristic(f *router.Field, box geometry.Rect, tx, ty float64) (float64, bool) {
	cx, cy := box.Center()
	if d := math.Hypot(tx-cx, ty-cy); d < s.cfg.NearRadius {
		return d / s.cfg.NearScale, true
	}
	if f == nil {
		return 0, false
	}
	lo := f.CellAt(box.X, box.Y)
	hi := f.CellAt(box.MaxX(), box.MaxY())
	w := s.cfg.WindowCells
	found := false
	minCost := math.Inf(1)
	for y := lo.Y - w; y <= hi.Y+w; y++ {
		for x := lo.X - w; x <= hi.X+w; x++ {
			c := router.Cell{X: x, Y: y}
			cost, ok := f.Cost(c)
			if !ok {
				continue
			}
			gx, gy := box.Gap(f.CellRect(c))
			v := cost + (gx+gy)/f.Granularity
			if v < minCost {
				minCost, found = v, true
			}
		}
	}
	if !found {
		return 0, false
	}
	return s.cfg.HeuristicWeight * minCost, true
}

func (s *Searcher) unroll(n *node) ([]MacroAction, []state.Input) {
	var actions []MacroAction
	for ; n.parent != nil; n = n.parent {
		actions = append(actions, MacroAction{Input: n.action, Repeat: s.cfg.Repeat})
	}
	for i, j := 0, len(actions)-1; i < j; i, j = i+1, j-1 {
		actions[i], actions[j] = actions[j], actions[i]
	}
	inputs := make([]state.Input, 0, len(actions)*s.cfg.Repeat)
	for _, a := range actions {
		for i := 0; i < a.Repeat; i++ {
			inputs = append(inputs, a.Input)
		}
	}
	return actions, inputs
}
