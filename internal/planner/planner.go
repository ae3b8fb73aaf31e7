// Package planner answers "which inputs take the avatar to this point?" by
// running the coarse router and the action search under one deadline.
package planner

import (
	"fmt"
	"log"
	"time"

	"tickpilot.dev/internal/planner/router"
	"tickpilot.dev/internal/planner/search"
	"tickpilot.dev/internal/sim/geometry"
	"tickpilot.dev/internal/sim/physics"
	"tickpilot.dev/internal/sim/state"
	"tickpilot.dev/internal/sim/tuning"
)

// Route is the result of Navigate. Timeout and unreachable are the same
// "no path" answer to callers; Outcome tells them apart for logging.
type Route struct {
	TargetX, TargetY float64
	Inputs           []state.Input
	Outcome          search.Outcome
	Expanded         int
	FieldCells       int
	Elapsed          time.Duration
}

func (r Route) Found() bool { return r.Outcome == search.OutcomeFound }

type Config struct {
	Tuning tuning.Tuning
	Logger *log.Logger
}

type Planner struct {
	cfg    tuning.Tuning
	search *search.Searcher
	logger *log.Logger
	now    func() time.Time
}

func New(cfg Config) *Planner {
	return &Planner{
		cfg:    cfg.Tuning,
		search: search.New(cfg.Tuning.Search, physics.New(cfg.Tuning.Physics)),
		logger: cfg.Logger,
		now:    time.Now,
	}
}

// Navigate plans from st toward (tx, ty). Errors are reserved for states the
// simulator cannot run (no avatar, missing frame data).
func (p *Planner) Navigate(env geometry.Environment, st state.GameState, tx, ty float64) (Route, error) {
	start := p.now()
	deadline := start.Add(time.Duration(p.cfg.Search.TimeoutMs) * time.Millisecond)

	player, ok := st.Player()
	if !ok {
		return Route{}, physics.ErrNoPlayer
	}
	obs, err := physics.NewObstacles(env, st, st.PlayerKey())
	if err != nil {
		return Route{}, fmt.Errorf("navigate: %w", err)
	}
	box, err := physics.WorldBox(env, player)
	if err != nil {
		return Route{}, fmt.Errorf("navigate: %w", err)
	}
	ax, ay := box.Center()

	field := router.Build(p.cfg.Router, router.Request{
		Env:       env,
		Obstacles: obs.Boxes(),
		GoalX:     tx,
		GoalY:     ty,
		AvatarX:   ax,
		AvatarY:   ay,
		Deadline:  deadline,
		Now:       p.now,
	})
	res, err := p.search.Run(search.Request{
		Env:       env,
		Obstacles: obs,
		Player:    player,
		Field:     field,
		TargetX:   tx,
		TargetY:   ty,
		Deadline:  deadline,
		Now:       p.now,
	})
	if err != nil {
		return Route{}, fmt.Errorf("navigate: %w", err)
	}

	r := Route{
		TargetX:    tx,
		TargetY:    ty,
		Outcome:    res.Outcome,
		Expanded:   res.Expanded,
		FieldCells: field.Len(),
		Elapsed:    p.now().Sub(start),
	}
	if res.Outcome == search.OutcomeFound {
		r.Inputs = res.Inputs
	}
	if p.logger != nil {
		p.logger.Printf("navigate (%.1f,%.1f): %s, %d inputs, %d expanded, %d field cells, %s",
			tx, ty, r.Outcome, len(r.Inputs), r.Expanded, r.FieldCells, r.Elapsed)
	}
	return r, nil
}
