// Package pilot runs the client side of a connection: it turns the peer's map
// and start state into a commit window and a timeline, ticks the live state,
// flushes speculation on a timer and serves UI requests. Everything that
// touches game state runs on the goroutine inside Run.
package pilot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"time"

	plog "tickpilot.dev/internal/persistence/log"
	"tickpilot.dev/internal/persistence/snapshot"
	"tickpilot.dev/internal/planner"
	"tickpilot.dev/internal/protocol"
	"tickpilot.dev/internal/sim/geometry"
	"tickpilot.dev/internal/sim/state"
	"tickpilot.dev/internal/sim/tuning"
	"tickpilot.dev/internal/timeline"
)

var (
	ErrNotReady = errors.New("waiting for map and start state")
	ErrStopped  = errors.New("session stopped")
)

// Conn is the transport to the authoritative peer. *ws.Client satisfies it.
type Conn interface {
	Inbox() <-chan []byte
	Send(msg any) error
}

type NavigationRecorder interface {
	RecordNavigation(rec plog.NavigationRecord)
}

type SessionRecorder interface {
	RecordSession(path string, h snapshot.Header, cursor int)
}

type Config struct {
	Tuning tuning.Tuning
	// Conn may be nil for an offline session that only reviews saved files.
	Conn    Conn
	DataDir string
	// DumpMaps writes every received map payload to <DataDir>/maps.
	DumpMaps bool
	// DumpTerminals writes every terminal data payload to <DataDir>/chall.
	DumpTerminals bool
	// LiveTicks steps the held input every tick while LIVE, as long as the
	// peer can already be at the next tick.
	LiveTicks bool

	Commits     []timeline.Recorder
	Navigations []NavigationRecorder
	Sessions    []SessionRecorder
	Logger      *log.Logger
}

type Status struct {
	Ready bool
	timeline.Status
	Bound   uint64
	Held    state.Input
	Dropped int
	// Terminals counts terminal data payloads received.
	Terminals int
	Online    bool
}

type Session struct {
	cfg       Config
	validator *protocol.Validator
	planner   *planner.Planner
	logger    *log.Logger
	now       func() time.Time

	reqs chan request
	done chan struct{}

	// Owned by the Run goroutine.
	online    bool
	mapRaw    json.RawMessage
	mapAt     time.Time
	env       *geometry.TileMap
	coord     *timeline.Coordinator
	held      state.Input
	dropped   int
	terminals int
}

type reply struct {
	v   any
	err error
}

type request struct {
	fn   func() (any, error)
	resp chan reply
}

func New(cfg Config) (*Session, error) {
	if err := cfg.Tuning.Validate(); err != nil {
		return nil, err
	}
	v, err := protocol.NewValidator()
	if err != nil {
		return nil, fmt.Errorf("protocol schemas: %w", err)
	}
	return &Session{
		cfg:       cfg,
		validator: v,
		planner:   planner.New(planner.Config{Tuning: cfg.Tuning, Logger: cfg.Logger}),
		logger:    cfg.Logger,
		now:       time.Now,
		reqs:      make(chan request),
		done:      make(chan struct{}),
		online:    cfg.Conn != nil,
	}, nil
}

// Run is the control loop. It returns when ctx ends.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.done)

	ticker := time.NewTicker(time.Second / time.Duration(s.cfg.Tuning.TickRateHz))
	defer ticker.Stop()
	commits := time.NewTicker(time.Duration(s.cfg.Tuning.Commit.EveryMs) * time.Millisecond)
	defer commits.Stop()

	var inbox <-chan []byte
	if s.cfg.Conn != nil {
		inbox = s.cfg.Conn.Inbox()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-inbox:
			if !ok {
				s.logf("connection closed; continuing offline")
				inbox = nil
				s.online = false
				continue
			}
			s.handleMessage(raw)
		case req := <-s.reqs:
			v, err := req.fn()
			req.resp <- reply{v: v, err: err}
		case <-ticker.C:
			s.liveTick()
		case <-commits.C:
			s.autoCommit()
		}
	}
}

func (s *Session) do(ctx context.Context, fn func() (any, error)) (any, error) {
	req := request{fn: fn, resp: make(chan reply, 1)}
	select {
	case s.reqs <- req:
	case <-s.done:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-req.resp:
		return r.v, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Session) handleMessage(raw []byte) {
	in, err := s.validator.Decode(raw)
	if err != nil {
		s.drop(protocol.CodeOf(err), err)
		return
	}
	switch in.Type {
	case protocol.TypeMap:
		s.onMap(in.Map)
	case protocol.TypeStartState:
		s.onStartState(in.StartState)
	case protocol.TypeTerminal:
		s.onTerminal(in.Terminal)
	}
}

func (s *Session) onMap(m *protocol.MapMsg) {
	at := s.now()
	if s.coord != nil {
		s.drop(protocol.CodeOutOfOrder, errors.New("map after start state"))
		return
	}
	s.dumpMap(at, m.Map)
	tm, err := geometry.DecodeTileMap(m.Map)
	if err != nil {
		s.drop(protocol.CodeBadMap, err)
		return
	}
	s.env = tm
	s.mapRaw = append(json.RawMessage(nil), m.Map...)
	s.mapAt = at
	s.logf("map %dx%d tiles of %gx%g", tm.Columns, tm.Rows, tm.TileW, tm.TileH)
}

func (s *Session) onStartState(m *protocol.StartStateMsg) {
	if s.env == nil {
		s.drop(protocol.CodeOutOfOrder, errors.New("start state before map"))
		return
	}
	if s.coord != nil {
		s.drop(protocol.CodeOutOfOrder, errors.New("duplicate start state"))
		return
	}
	st := m.GameState()
	coord := s.newCoordinator(s.env, st)
	w := timeline.CommitWindow{
		ServerStartTick:      st.Tick,
		ServerStartWallClock: s.mapAt,
		TicksPerSecond:       float64(s.cfg.Tuning.TickRateHz),
	}
	if err := coord.SetWindow(w); err != nil {
		s.drop(protocol.CodeInternal, err)
		return
	}
	s.coord = coord
	s.logf("start state tick=%d entities=%d", st.Tick, len(st.Entities))
}

func (s *Session) newCoordinator(env *geometry.TileMap, st state.GameState) *timeline.Coordinator {
	var sender timeline.Sender
	if s.cfg.Conn != nil {
		sender = s.cfg.Conn
	}
	return timeline.New(timeline.Config{
		Env:      env,
		Tuning:   s.cfg.Tuning,
		State:    st,
		Sender:   sender,
		Recorder: multiRecorder(s.cfg.Commits),
		Logger:   s.logger,
	})
}

func (s *Session) drop(code string, err error) {
	s.dropped++
	s.logf("drop message: code=%s: %v", code, err)
}

func (s *Session) dumpMap(at time.Time, raw json.RawMessage) {
	if !s.cfg.DumpMaps || s.cfg.DataDir == "" {
		return
	}
	path := filepath.Join(s.cfg.DataDir, "maps", fmt.Sprintf("%d.json", at.UnixNano()))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		s.logf("map dump: %v", err)
		return
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		s.logf("map dump: %v", err)
	}
}

var unsafeNameChars = regexp.MustCompile(`[/\\<>:"|?*.]`)

// onTerminal is accepted in any phase; it never touches game state.
func (s *Session) onTerminal(m *protocol.TerminalMsg) {
	s.logf("terminal challenge=%s event=%s", m.ChallengeID, m.EventType)
	if m.EventType != protocol.TerminalEventData {
		return
	}
	data, err := m.Payload()
	if err != nil {
		s.drop(protocol.CodeSchema, err)
		return
	}
	s.terminals++
	if !s.cfg.DumpTerminals || s.cfg.DataDir == "" {
		return
	}
	name := fmt.Sprintf("%s-%d.json", unsafeNameChars.ReplaceAllString(m.ChallengeID, "-"), s.now().UnixNano())
	path := filepath.Join(s.cfg.DataDir, "chall", name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		s.logf("terminal dump: %v", err)
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		s.logf("terminal dump: %v", err)
		return
	}
	s.logf("terminal dump %s (%d bytes)", path, len(data))
}

func (s *Session) liveTick() {
	if !s.cfg.LiveTicks || s.coord == nil || !s.online {
		return
	}
	st := s.coord.Status()
	if st.Mode != timeline.ModeLive {
		return
	}
	w, ok := s.coord.Window()
	now := s.now()
	if !ok || st.Tick >= w.MaxCommittableTick(now) {
		return
	}
	if err := s.coord.Step(s.held, now); err != nil {
		s.logf("live tick: %v", err)
	}
}

func (s *Session) autoCommit() {
	if s.coord == nil || s.coord.Status().Cursor == 0 {
		return
	}
	res, err := s.coord.Commit(s.now())
	if err != nil {
		s.logf("commit: %v", err)
		return
	}
	if res.Sent() {
		s.logf("commit ticks %d..%d: %d changes, bound=%d", res.FromTick, res.ToTick, len(res.Changes), res.Bound)
	}
}

func (s *Session) status() Status {
	st := Status{Ready: s.coord != nil, Held: s.held, Dropped: s.dropped, Terminals: s.terminals, Online: s.online}
	if s.coord != nil {
		st.Status = s.coord.Status()
		if w, ok := s.coord.Window(); ok {
			st.Bound = w.MaxCommittableTick(s.now())
		}
	}
	return st
}

func (s *Session) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

type multiRecorder []timeline.Recorder

func (m multiRecorder) RecordCommit(r timeline.CommitResult) {
	for _, rec := range m {
		if rec != nil {
			rec.RecordCommit(r)
		}
	}
}
