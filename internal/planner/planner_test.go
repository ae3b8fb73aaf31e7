package planner

import (
	"bytes"
	"errors"
	"log"
	"strings"
	"testing"
	"time"

	"tickpilot.dev/internal/planner/search"
	"tickpilot.dev/internal/sim/physics"
	"tickpilot.dev/internal/sim/simtest"
	"tickpilot.dev/internal/sim/state"
	"tickpilot.dev/internal/sim/tuning"
)

func sealed(t *testing.T) []string {
	rows := simtest.Room(t, 20, 26)
	for _, r := range []int{9, 10, 11} {
		b := []byte(rows[r])
		b[9], b[11] = '#', '#'
		if r != 10 {
			b[10] = '#'
		}
		rows[r] = string(b)
	}
	return rows
}

func TestNavigate_ReplayEndsOnTarget(t *testing.T) {
	env := simtest.Map(t, simtest.Room(t, 20, 26)...)
	st := simtest.State(7, simtest.Player(100, 500), simtest.Crate("crate", 240, 480))
	var buf bytes.Buffer
	p := New(Config{Tuning: tuning.Defaults(), Logger: log.New(&buf, "", 0)})
	sim := physics.New(tuning.Defaults().Physics)

	targets := [][2]float64{{100, 400}, {160, 480}, {60, 470}}
	found := 0
	for _, tg := range targets {
		r, err := p.Navigate(env, st, tg[0], tg[1])
		if err != nil {
			t.Fatalf("Navigate(%v): %v", tg, err)
		}
		if !r.Found() {
			continue
		}
		found++
		cur := st
		for i, in := range r.Inputs {
			cur, err = sim.Tick(env, cur, in)
			if err != nil {
				t.Fatalf("replay tick %d: %v", i, err)
			}
		}
		pl, _ := cur.Player()
		box, err := physics.WorldBox(env, pl)
		if err != nil {
			t.Fatalf("WorldBox: %v", err)
		}
		if !box.Contains(tg[0], tg[1]) {
			t.Fatalf("target %v: final box %+v misses it", tg, box)
		}
		if cur.Tick != st.Tick+uint64(len(r.Inputs)) {
			t.Fatalf("tick after replay: %d", cur.Tick)
		}
	}
	if found == 0 {
		t.Fatalf("no target was reached")
	}
	if !strings.Contains(buf.String(), "navigate (100.0,400.0): found") {
		t.Fatalf("missing navigate log line:\n%s", buf.String())
	}
}

func TestNavigate_StraightUp(t *testing.T) {
	env := simtest.Map(t, simtest.Room(t, 20, 26)...)
	p := New(Config{Tuning: tuning.Defaults()})
	r, err := p.Navigate(env, simtest.State(0, simtest.Player(100, 500)), 100, 400)
	if err != nil {
		t.Fatalf("Navigate: %v", err)
	}
	if !r.Found() || len(r.Inputs) == 0 {
		t.Fatalf("got %s with %d inputs", r.Outcome, len(r.Inputs))
	}
	for _, in := range r.Inputs {
		if in != (state.Input{Up: true}) {
			t.Fatalf("unexpected input %s", in)
		}
	}
}

func TestNavigate_EnclosedTargetWithinDeadline(t *testing.T) {
	env := simtest.Map(t, sealed(t)...)
	p := New(Config{Tuning: tuning.Defaults()})
	r, err := p.Navigate(env, simtest.State(0, simtest.Player(100, 500)), 210, 210)
	if err != nil {
		t.Fatalf("Navigate: %v", err)
	}
	if r.Found() || r.Inputs != nil {
		t.Fatalf("expected no path, got %s with %d inputs", r.Outcome, len(r.Inputs))
	}
	if r.Elapsed > 2*time.Second {
		t.Fatalf("took %s", r.Elapsed)
	}
}

func TestNavigate_SharedDeadline(t *testing.T) {
	env := simtest.Map(t, simtest.Room(t, 20, 26)...)
	p := New(Config{Tuning: tuning.Defaults()})
	// Every call to the clock moves it a full second forward, so the router
	// spends the whole budget and the search sees an expired deadline.
	clock := time.Unix(0, 0)
	p.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	r, err := p.Navigate(env, simtest.State(0, simtest.Player(100, 500)), 300, 100)
	if err != nil {
		t.Fatalf("Navigate: %v", err)
	}
	if r.Outcome != search.OutcomeTimeout || r.Found() {
		t.Fatalf("got %s", r.Outcome)
	}
}

func TestNavigate_Errors(t *testing.T) {
	env := simtest.Map(t, simtest.Room(t, 20, 26)...)
	p := New(Config{Tuning: tuning.Defaults()})
	if _, err := p.Navigate(env, simtest.State(0, simtest.Crate("c", 40, 40)), 1, 1); !errors.Is(err, physics.ErrNoPlayer) {
		t.Fatalf("no player: %v", err)
	}
	pl := simtest.Player(100, 500)
	pl.FrameSet = "nope"
	if _, err := p.Navigate(env, simtest.State(0, pl), 1, 1); !errors.Is(err, physics.ErrMissingFrame) {
		t.Fatalf("missing frame: %v", err)
	}
}
