// Package physics replays the authoritative avatar physics one tick at a time.
// Every function here is pure: the result depends only on the environment,
// the state and the input passed in.
package physics

import (
	"errors"
	"fmt"
	"math"

	"tickpilot.dev/internal/sim/geometry"
	"tickpilot.dev/internal/sim/state"
	"tickpilot.dev/internal/sim/tuning"
)

var (
	ErrMissingFrame = errors.New("missing frame data")
	ErrNoPlayer     = errors.New("state has no player entity")
)

// MissingFrameError names the entity whose collision box could not be derived.
type MissingFrameError struct {
	EntityID   string
	FrameSet   string
	FrameState string
	Frame      int
}

func (e *MissingFrameError) Error() string {
	return fmt.Sprintf("entity %s: frame %s/%s/%d not loaded", e.EntityID, e.FrameSet, e.FrameState, e.Frame)
}

func (e *MissingFrameError) Unwrap() error { return ErrMissingFrame }

type Simulator struct {
	p tuning.Physics
}

func New(p tuning.Physics) *Simulator {
	return &Simulator{p: p}
}

// Tick advances st by one tick with the avatar driven by in. Other entities
// are carried over unchanged.
func (s *Simulator) Tick(env geometry.Environment, st state.GameState, in state.Input) (state.GameState, error) {
	p, ok := st.Player()
	if !ok {
		return state.GameState{}, ErrNoPlayer
	}
	obs, err := NewObstacles(env, st, st.PlayerKey())
	if err != nil {
		return state.GameState{}, err
	}
	next, err := s.StepPlayer(env, obs, p, in)
	if err != nil {
		return state.GameState{}, err
	}
	out := st.WithPlayer(next)
	out.Tick = st.Tick + 1
	return out, nil
}

// StepPlayer advances only the avatar against a fixed set of obstacles.
func (s *Simulator) StepPlayer(env geometry.Environment, dyn geometry.DynamicQuery, p state.Entity, in state.Input) (state.Entity, error) {
	if p.Motion == nil {
		return p, ErrNoPlayer
	}
	box, err := CollisionBox(env, p)
	if err != nil {
		return p, err
	}
	p = p.Clone()
	m := p.Motion

	s.horizontal(m, in)
	s.vertical(m, in)

	requested := m.JumpV
	res := geometry.Move(env, dyn, p.X, p.Y, m.MoveV, m.JumpV, box, map[string]struct{}{p.ID: {}})
	if requested < 0 && res.DY != requested {
		// Clipped while rising.
		m.JumpV = 0
	}
	p.X, p.Y = res.X, res.Y
	m.SolidGround = res.SolidGround
	switch {
	case !m.SolidGround:
		m.CanJump = false
	case !in.Up:
		m.CanJump = true
	}
	return p, nil
}

func (s *Simulator) horizontal(m *state.Motion, in state.Input) {
	switch {
	case in.Right && !in.Left:
		if m.MoveV < 0 {
			m.MoveV = 0
		}
		m.MoveV = math.Min(m.MoveV+s.p.MoveAccel, s.p.MoveCap)
	case in.Left && !in.Right:
		if m.MoveV > 0 {
			m.MoveV = 0
		}
		m.MoveV = math.Max(m.MoveV-s.p.MoveAccel, -s.p.MoveCap)
	case m.MoveV > 0:
		m.MoveV = math.Max(0, m.MoveV-s.p.MoveDecel)
	case m.MoveV < 0:
		m.MoveV = math.Min(0, m.MoveV+s.p.MoveDecel)
	}
}

func (s *Simulator) vertical(m *state.Motion, in state.Input) {
	if m.CanJump {
		m.JumpV = s.p.GroundPush
		if in.Up && m.JumpProgress < 0 {
			m.JumpProgress = 0
		}
	} else if !m.SolidGround {
		m.JumpV = math.Min(m.JumpV+s.p.Gravity, s.p.TerminalFall)
	}
	if m.JumpProgress < 0 {
		return
	}
	if !in.Up {
		m.JumpProgress = -1
		return
	}
	if m.JumpProgress < len(s.p.JumpCurve) {
		m.JumpV -= s.p.JumpCurve[m.JumpProgress] + s.p.Gravity
		m.JumpProgress++
	}
}

// CollisionBox resolves e's current frame to a world-space collision box offset.
func CollisionBox(env geometry.Environment, e state.Entity) (geometry.Rect, error) {
	box, ok := env.FrameBox(e.FrameSet, e.FrameState, e.Frame)
	if !ok {
		return geometry.Rect{}, &MissingFrameError{EntityID: e.ID, FrameSet: e.FrameSet, FrameState: e.FrameState, Frame: e.Frame}
	}
	return box, nil
}

// WorldBox is CollisionBox placed at the entity position.
func WorldBox(env geometry.Environment, e state.Entity) (geometry.Rect, error) {
	box, err := CollisionBox(env, e)
	if err != nil {
		return box, err
	}
	return box.Translate(e.X, e.Y), nil
}
