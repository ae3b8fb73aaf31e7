package physics

import (
	"errors"
	"reflect"
	"testing"

	"tickpilot.dev/internal/sim/geometry"
	"tickpilot.dev/internal/sim/simtest"
	"tickpilot.dev/internal/sim/state"
	"tickpilot.dev/internal/sim/tuning"
)

func room(t *testing.T) *geometry.TileMap {
	t.Helper()
	return simtest.Map(t, simtest.Room(t, 20, 26)...)
}

func run(t *testing.T, sim *Simulator, env geometry.Environment, st state.GameState, inputs ...state.Input) state.GameState {
	t.Helper()
	for i, in := range inputs {
		next, err := sim.Tick(env, st, in)
		if err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
		st = next
	}
	return st
}

func player(t *testing.T, st state.GameState) state.Entity {
	t.Helper()
	p, ok := st.Player()
	if !ok {
		t.Fatalf("state lost its player")
	}
	return p
}

func repeat(in state.Input, n int) []state.Input {
	out := make([]state.Input, n)
	for i := range out {
		out[i] = in
	}
	return out
}

var (
	none  = state.Input{}
	up    = state.Input{Up: true}
	left  = state.Input{Left: true}
	right = state.Input{Right: true}
)

func TestTick_DeterministicAndPure(t *testing.T) {
	env := room(t)
	sim := New(tuning.Defaults().Physics)
	st := simtest.State(3, simtest.Player(100, 500), simtest.Crate("crate", 200, 480))
	before := st.Clone()

	a, err := sim.Tick(env, st, state.Input{Up: true, Right: true})
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	b, err := sim.Tick(env, st, state.Input{Up: true, Right: true})
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("same inputs gave different states:\n%+v\n%+v", a, b)
	}
	if !reflect.DeepEqual(st, before) {
		t.Fatalf("input state was modified")
	}
	if a.Tick != 4 {
		t.Fatalf("tick: got %d want 4", a.Tick)
	}
	if !reflect.DeepEqual(a.Entities["crate"], st.Entities["crate"]) {
		t.Fatalf("non-avatar entity changed: %+v", a.Entities["crate"])
	}
}

func TestTick_WalkAcceleratesToCap(t *testing.T) {
	env := room(t)
	sim := New(tuning.Defaults().Physics)
	st := run(t, sim, env, simtest.State(0, simtest.Player(100, 500)), repeat(right, 10)...)
	p := player(t, st)
	if p.MoveV != 4 || p.X != 126 {
		t.Fatalf("after 10 ticks right: moveV=%v x=%v want 4 and 126", p.MoveV, p.X)
	}
	if p.Y != 500 || !p.SolidGround {
		t.Fatalf("walking should stay grounded: y=%v ground=%v", p.Y, p.SolidGround)
	}
}

func TestTick_ReversalResetsVelocity(t *testing.T) {
	env := room(t)
	sim := New(tuning.Defaults().Physics)
	pl := simtest.Player(100, 500)
	pl.MoveV = 3
	st := run(t, sim, env, simtest.State(0, pl), left)
	if p := player(t, st); p.MoveV != -0.5 || p.X != 99.5 {
		t.Fatalf("reversal: moveV=%v x=%v", p.MoveV, p.X)
	}
}

func TestTick_DecayClampsAtZero(t *testing.T) {
	env := room(t)
	sim := New(tuning.Defaults().Physics)
	for _, v := range []float64{0.3, -0.3} {
		pl := simtest.Player(100, 500)
		pl.MoveV = v
		st := run(t, sim, env, simtest.State(0, pl), none)
		if p := player(t, st); p.MoveV != 0 {
			t.Fatalf("decay from %v: got %v want 0", v, p.MoveV)
		}
	}
	pl := simtest.Player(100, 500)
	pl.MoveV = 2
	st := run(t, sim, env, simtest.State(0, pl), state.Input{Left: true, Right: true})
	if p := player(t, st); p.MoveV != 1.5 {
		t.Fatalf("left+right should decay: got %v", p.MoveV)
	}
}

func TestTick_JumpStart(t *testing.T) {
	env := room(t)
	sim := New(tuning.Defaults().Physics)
	st := run(t, sim, env, simtest.State(0, simtest.Player(100, 500)), up)
	p := player(t, st)
	if p.JumpV != -6 || p.Y != 494 {
		t.Fatalf("jump tick 1: jumpV=%v y=%v want -6 and 494", p.JumpV, p.Y)
	}
	if p.JumpProgress != 1 || p.CanJump || p.SolidGround {
		t.Fatalf("jump tick 1 flags: %+v", *p.Motion)
	}

	st = run(t, sim, env, st, up)
	if p := player(t, st); p.JumpV != -7 || p.Y != 487 || p.JumpProgress != 2 {
		t.Fatalf("jump tick 2: %+v y=%v", *p.Motion, p.Y)
	}
}

func TestTick_ReleaseEndsJumpCurve(t *testing.T) {
	env := room(t)
	sim := New(tuning.Defaults().Physics)
	st := run(t, sim, env, simtest.State(0, simtest.Player(100, 500)), up, none)
	p := player(t, st)
	if p.JumpProgress != -1 {
		t.Fatalf("progress after release: %d", p.JumpProgress)
	}
	if p.JumpV != -5.5 {
		t.Fatalf("only gravity after release: jumpV=%v", p.JumpV)
	}
}

func TestTick_JumpNeedsReleaseAfterLanding(t *testing.T) {
	env := room(t)
	sim := New(tuning.Defaults().Physics)
	pl := simtest.Player(100, 500)
	pl.CanJump = false

	st := run(t, sim, env, simtest.State(0, pl), up)
	if p := player(t, st); p.Y != 500 || p.CanJump {
		t.Fatalf("held up must not jump or latch: y=%v canJump=%v", p.Y, p.CanJump)
	}
	st = run(t, sim, env, st, none)
	if p := player(t, st); !p.CanJump {
		t.Fatalf("release on ground should latch canJump")
	}
	st = run(t, sim, env, st, up)
	if p := player(t, st); p.Y != 494 {
		t.Fatalf("jump after latch: y=%v", p.Y)
	}
}

func TestTick_CeilingClipStopsRise(t *testing.T) {
	rows := simtest.Room(t, 20, 26)
	// Row 22 spans y in [440, 460).
	rows[22] = rows[0]
	env := simtest.Map(t, rows...)
	sim := New(tuning.Defaults().Physics)

	st := run(t, sim, env, simtest.State(0, simtest.Player(100, 500)), up, up)
	p := player(t, st)
	if p.JumpV != 0 || p.Y != 492 {
		t.Fatalf("ceiling clip: jumpV=%v y=%v want 0 and 492", p.JumpV, p.Y)
	}
}

func TestTick_FallsUntilFloor(t *testing.T) {
	env := room(t)
	sim := New(tuning.Defaults().Physics)
	pl := simtest.Player(100, 300)
	pl.CanJump, pl.SolidGround, pl.JumpV = false, false, 0
	st := run(t, sim, env, simtest.State(0, pl), repeat(none, 60)...)
	p := player(t, st)
	if p.Y != 500 || !p.SolidGround || !p.CanJump {
		t.Fatalf("after falling: y=%v %+v", p.Y, *p.Motion)
	}
	if p.JumpV > tuning.Defaults().Physics.TerminalFall {
		t.Fatalf("fall speed above terminal: %v", p.JumpV)
	}
}

func TestTick_MissingFrame(t *testing.T) {
	env := room(t)
	sim := New(tuning.Defaults().Physics)

	pl := simtest.Player(100, 500)
	pl.FrameSet = "ghost"
	_, err := sim.Tick(env, simtest.State(0, pl), none)
	var mf *MissingFrameError
	if !errors.Is(err, ErrMissingFrame) || !errors.As(err, &mf) || mf.EntityID != "player" {
		t.Fatalf("player frame: got %v", err)
	}

	crate := simtest.Crate("crate", 200, 480)
	crate.FrameState = "broken"
	_, err = sim.Tick(env, simtest.State(0, simtest.Player(100, 500), crate), none)
	if !errors.As(err, &mf) || mf.EntityID != "crate" {
		t.Fatalf("other entity frame: got %v", err)
	}
}

func TestTick_NoPlayer(t *testing.T) {
	sim := New(tuning.Defaults().Physics)
	_, err := sim.Tick(room(t), simtest.State(0, simtest.Crate("crate", 0, 0)), none)
	if !errors.Is(err, ErrNoPlayer) {
		t.Fatalf("expected ErrNoPlayer, got %v", err)
	}
}
