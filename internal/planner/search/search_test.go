package search

import (
	"errors"
	"testing"
	"time"

	"tickpilot.dev/internal/planner/router"
	"tickpilot.dev/internal/sim/geometry"
	"tickpilot.dev/internal/sim/physics"
	"tickpilot.dev/internal/sim/simtest"
	"tickpilot.dev/internal/sim/state"
	"tickpilot.dev/internal/sim/tuning"
)

func request(t *testing.T, env geometry.Environment, st state.GameState, tx, ty float64) Request {
	t.Helper()
	p, ok := st.Player()
	if !ok {
		t.Fatalf("no player")
	}
	obs, err := physics.NewObstacles(env, st, st.PlayerKey())
	if err != nil {
		t.Fatalf("NewObstacles: %v", err)
	}
	box, err := physics.WorldBox(env, p)
	if err != nil {
		t.Fatalf("WorldBox: %v", err)
	}
	cx, cy := box.Center()
	field := router.Build(tuning.Defaults().Router, router.Request{
		Env: env, Obstacles: obs.Boxes(), GoalX: tx, GoalY: ty, AvatarX: cx, AvatarY: cy,
	})
	return Request{Env: env, Obstacles: obs, Player: p, Field: field, TargetX: tx, TargetY: ty}
}

func searcher() *Searcher {
	cfg := tuning.Defaults()
	return New(cfg.Search, physics.New(cfg.Physics))
}

func TestRun_StraightUpUsesOnlyUp(t *testing.T) {
	env := simtest.Map(t, simtest.Room(t, 20, 26)...)
	st := simtest.State(0, simtest.Player(100, 500))

	res, err := searcher().Run(request(t, env, st, 100, 400))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != OutcomeFound {
		t.Fatalf("outcome: %s after %d expansions", res.Outcome, res.Expanded)
	}
	if len(res.Inputs) == 0 {
		t.Fatalf("empty input sequence")
	}
	for i, in := range res.Inputs {
		if in != (state.Input{Up: true}) {
			t.Fatalf("input %d is %s, want up only", i, in)
		}
	}
	if len(res.Inputs) != len(res.Actions)*tuning.Defaults().Search.Repeat {
		t.Fatalf("unrolled %d inputs from %d actions", len(res.Inputs), len(res.Actions))
	}
}

func TestRun_EnclosedTargetIsUnreachable(t *testing.T) {
	rows := simtest.Room(t, 20, 26)
	for _, r := range []int{9, 10, 11} {
		b := []byte(rows[r])
		b[9], b[11] = '#', '#'
		if r != 10 {
			b[10] = '#'
		}
		rows[r] = string(b)
	}
	env := simtest.Map(t, rows...)
	st := simtest.State(0, simtest.Player(100, 500))

	res, err := searcher().Run(request(t, env, st, 210, 210))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != OutcomeUnreachable || len(res.Inputs) != 0 {
		t.Fatalf("got %s with %d inputs", res.Outcome, len(res.Inputs))
	}
}

func TestRun_DeadlineYieldsTimeout(t *testing.T) {
	env := simtest.Map(t, simtest.Room(t, 20, 26)...)
	st := simtest.State(0, simtest.Player(100, 500))
	req := request(t, env, st, 300, 300)
	at := time.Unix(50, 0)
	req.Deadline = at
	req.Now = func() time.Time { return at }

	res, err := searcher().Run(req)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != OutcomeTimeout || res.Inputs != nil || res.Expanded != 0 {
		t.Fatalf("got %+v", res)
	}
}

func TestRun_StartInsideTargetNeedsNoInput(t *testing.T) {
	env := simtest.Map(t, simtest.Room(t, 20, 26)...)
	st := simtest.State(0, simtest.Player(100, 500))
	res, err := searcher().Run(request(t, env, st, 100, 490))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != OutcomeFound || len(res.Inputs) != 0 {
		t.Fatalf("got %+v", res)
	}
}

func TestRun_ExpiredDeadlineBeatsGoalAtRoot(t *testing.T) {
	env := simtest.Map(t, simtest.Room(t, 20, 26)...)
	st := simtest.State(0, simtest.Player(100, 500))
	req := request(t, env, st, 100, 490)
	at := time.Unix(50, 0)
	req.Deadline = at
	req.Now = func() time.Time { return at.Add(time.Millisecond) }

	res, err := searcher().Run(req)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != OutcomeTimeout || res.Inputs != nil {
		t.Fatalf("got %+v", res)
	}
}

func TestRun_MissingFrameAborts(t *testing.T) {
	env := simtest.Map(t, simtest.Room(t, 20, 26)...)
	st := simtest.State(0, simtest.Player(100, 500))
	req := request(t, env, st, 100, 400)
	req.Player.FrameState = "dancing"

	_, err := searcher().Run(req)
	if !errors.Is(err, physics.ErrMissingFrame) {
		t.Fatalf("expected ErrMissingFrame, got %v", err)
	}
}

func TestOutcome_String(t *testing.T) {
	for o, want := range map[Outcome]string{OutcomeFound: "found", OutcomeTimeout: "timeout", OutcomeUnreachable: "unreachable", Outcome(9): "unknown"} {
		if o.String() != want {
			t.Fatalf("%d: got %q", o, o.String())
		}
	}
}
