package pilot

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	plog "tickpilot.dev/internal/persistence/log"
	"tickpilot.dev/internal/persistence/snapshot"
	"tickpilot.dev/internal/planner"
	"tickpilot.dev/internal/sim/geometry"
	"tickpilot.dev/internal/sim/state"
	"tickpilot.dev/internal/timeline"
)

// Navigate plans a path to (x, y) from the shown state and, when one is
// found, simulates it into the timeline.
func (s *Session) Navigate(ctx context.Context, x, y float64) (planner.Route, error) {
	v, err := s.do(ctx, func() (any, error) { return s.navigate(x, y) })
	r, _ := v.(planner.Route)
	return r, err
}

func (s *Session) navigate(x, y float64) (planner.Route, error) {
	if s.coord == nil {
		return planner.Route{}, ErrNotReady
	}
	st := s.coord.State()
	route, err := s.planner.Navigate(s.env, st, x, y)
	if err != nil {
		return route, err
	}
	rec := plog.NewNavigationRecord(s.now(), st.Tick, route)
	for _, r := range s.cfg.Navigations {
		r.RecordNavigation(rec)
	}
	if !route.Found() {
		return route, nil
	}
	if err := s.coord.Simulate(route.Inputs...); err != nil {
		return route, fmt.Errorf("apply route: %w", err)
	}
	return route, nil
}

// Step applies one tick with in, live or speculative depending on the mode.
func (s *Session) Step(ctx context.Context, in state.Input) error {
	_, err := s.do(ctx, func() (any, error) {
		if s.coord == nil {
			return nil, ErrNotReady
		}
		return nil, s.coord.Step(in, s.now())
	})
	return err
}

// Simulate appends speculative ticks.
func (s *Session) Simulate(ctx context.Context, inputs ...state.Input) error {
	_, err := s.do(ctx, func() (any, error) {
		if s.coord == nil {
			return nil, ErrNotReady
		}
		return nil, s.coord.Simulate(inputs...)
	})
	return err
}

// Hold sets the input the live loop applies each tick.
func (s *Session) Hold(ctx context.Context, in state.Input) error {
	_, err := s.do(ctx, func() (any, error) {
		s.held = in
		return nil, nil
	})
	return err
}

func (s *Session) Rewind(ctx context.Context) (bool, error) {
	return s.move(ctx, (*timeline.Coordinator).Rewind)
}

func (s *Session) FastForward(ctx context.Context) (bool, error) {
	return s.move(ctx, (*timeline.Coordinator).FastForward)
}

func (s *Session) move(ctx context.Context, fn func(*timeline.Coordinator) bool) (bool, error) {
	v, err := s.do(ctx, func() (any, error) {
		if s.coord == nil {
			return false, ErrNotReady
		}
		return fn(s.coord), nil
	})
	moved, _ := v.(bool)
	return moved, err
}

// ReturnToLive discards speculation if confirm agrees. confirm runs on the
// control loop.
func (s *Session) ReturnToLive(ctx context.Context, confirm func() bool) (bool, error) {
	v, err := s.do(ctx, func() (any, error) {
		if s.coord == nil {
			return false, ErrNotReady
		}
		return s.coord.ReturnToLive(confirm), nil
	})
	ok, _ := v.(bool)
	return ok, err
}

// Commit runs one commit cycle now instead of waiting for the timer.
func (s *Session) Commit(ctx context.Context) (timeline.CommitResult, error) {
	v, err := s.do(ctx, func() (any, error) {
		if s.coord == nil {
			return timeline.CommitResult{}, ErrNotReady
		}
		return s.coord.Commit(s.now())
	})
	r, _ := v.(timeline.CommitResult)
	return r, err
}

func (s *Session) Status(ctx context.Context) (Status, error) {
	v, err := s.do(ctx, func() (any, error) { return s.status(), nil })
	st, _ := v.(Status)
	return st, err
}

// State returns the shown game state.
func (s *Session) State(ctx context.Context) (state.GameState, error) {
	v, err := s.do(ctx, func() (any, error) {
		if s.coord == nil {
			return state.GameState{}, ErrNotReady
		}
		return s.coord.State(), nil
	})
	st, _ := v.(state.GameState)
	return st, err
}

// Save writes the session to path, or to <DataDir>/sessions/<tick>.tl.zst
// when path is empty, and returns the path written.
func (s *Session) Save(ctx context.Context, path string) (string, error) {
	v, err := s.do(ctx, func() (any, error) { return s.save(path) })
	p, _ := v.(string)
	return p, err
}

func (s *Session) save(path string) (string, error) {
	if s.coord == nil {
		return "", ErrNotReady
	}
	sess := snapshot.Session{
		Map:     s.mapRaw,
		Entries: s.coord.Entries(),
		Cursor:  s.coord.Status().Cursor,
		Shown:   s.coord.State(),
	}
	if w, ok := s.coord.Window(); ok {
		sess.Window = &w
	}
	if path == "" {
		path = filepath.Join(s.cfg.DataDir, "sessions", fmt.Sprintf("%d%s", sess.Shown.Tick, snapshot.Ext))
	}
	v := snapshot.Encode(sess, s.now().UTC().Format(time.RFC3339Nano))
	if err := snapshot.WriteSession(path, v); err != nil {
		return "", fmt.Errorf("save session: %w", err)
	}
	for _, r := range s.cfg.Sessions {
		r.RecordSession(path, v.Header, sess.Cursor)
	}
	s.logf("saved session tick=%d entries=%d to %s", sess.Shown.Tick, len(sess.Entries), path)
	return path, nil
}

// Load replaces map, window and timeline with a saved session.
func (s *Session) Load(ctx context.Context, path string) error {
	_, err := s.do(ctx, func() (any, error) { return nil, s.load(path) })
	return err
}

func (s *Session) load(path string) error {
	v, err := snapshot.ReadSession(path)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	sess, err := snapshot.Decode(v)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	tm, err := geometry.DecodeTileMap(sess.Map)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}

	coord := s.newCoordinator(tm, sess.Shown)
	if sess.Window != nil {
		if err := coord.SetWindow(*sess.Window); err != nil {
			return err
		}
	}
	if err := coord.Restore(sess.Entries, sess.Cursor, sess.Shown); err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	s.env = tm
	s.mapRaw = sess.Map
	s.coord = coord
	s.logf("loaded session tick=%d entries=%d cursor=%d from %s", sess.Shown.Tick, len(sess.Entries), sess.Cursor, path)
	return nil
}
