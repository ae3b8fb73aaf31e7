// Package timeline keeps the speculative history of locally simulated ticks
// and reconciles it with the authoritative peer.
//
// A Coordinator is owned by a single control loop and is not safe for
// concurrent use.
package timeline

import (
	"errors"
	"fmt"
	"log"
	"time"

	"tickpilot.dev/internal/protocol"
	"tickpilot.dev/internal/sim/geometry"
	"tickpilot.dev/internal/sim/physics"
	"tickpilot.dev/internal/sim/state"
	"tickpilot.dev/internal/sim/tuning"
)

type Mode int

const (
	ModeLive Mode = iota
	ModeSpeculating
	ModeCommitting
)

func (m Mode) String() string {
	switch m {
	case ModeLive:
		return "LIVE"
	case ModeSpeculating:
		return "SPECULATING"
	case ModeCommitting:
		return "COMMITTING"
	default:
		return "UNKNOWN"
	}
}

var (
	ErrNoWindow    = errors.New("commit window not set")
	ErrBadTimeline = errors.New("bad timeline")
)

// Entry is the state before a tick and the input applied to it.
type Entry struct {
	State state.GameState `json:"state" msgpack:"state"`
	Input state.Input     `json:"input" msgpack:"input"`
}

// Sender delivers an outbound message without waiting for an answer.
type Sender interface {
	Send(msg any) error
}

// Recorder observes every batch that leaves the coordinator.
type Recorder interface {
	RecordCommit(r CommitResult)
}

type CommitResult struct {
	At       time.Time
	Bound    uint64
	LiveTick uint64
	// Deferred is set when the live tick had not yet fallen below the bound.
	Deferred bool
	FromTick uint64
	ToTick   uint64
	Changes  []protocol.Change
	SendErr  error
}

func (r CommitResult) Sent() bool { return len(r.Changes) > 0 }

type Status struct {
	Mode   Mode
	Cursor int
	Len    int
	Tick   uint64
}

type Config struct {
	Env      geometry.Environment
	Tuning   tuning.Tuning
	State    state.GameState
	Sender   Sender
	Recorder Recorder
	Logger   *log.Logger
}

type Coordinator struct {
	env        geometry.Environment
	sim        *physics.Simulator
	maxChanges int
	sender     Sender
	recorder   Recorder
	logger     *log.Logger

	state   state.GameState
	entries []Entry
	cursor  int
	mode    Mode
	window  *CommitWindow
}

func New(cfg Config) *Coordinator {
	return &Coordinator{
		env:        cfg.Env,
		sim:        physics.New(cfg.Tuning.Physics),
		maxChanges: cfg.Tuning.Commit.MaxChanges,
		sender:     cfg.Sender,
		recorder:   cfg.Recorder,
		logger:     cfg.Logger,
		state:      cfg.State.Clone(),
		mode:       ModeLive,
	}
}

// SetWindow installs the commit window. It can be set only once.
func (c *Coordinator) SetWindow(w CommitWindow) error {
	if c.window != nil {
		return ErrWindowSet
	}
	c.window = &w
	return nil
}

func (c *Coordinator) Window() (CommitWindow, bool) {
	if c.window == nil {
		return CommitWindow{}, false
	}
	return *c.window, true
}

// State returns a copy of the state currently shown: the live state, or the
// snapshot under the cursor after a rewind.
func (c *Coordinator) State() state.GameState { return c.state.Clone() }

func (c *Coordinator) Env() geometry.Environment { return c.env }

func (c *Coordinator) Status() Status {
	return Status{Mode: c.mode, Cursor: c.cursor, Len: len(c.entries), Tick: c.state.Tick}
}

// Entries returns a copy of the speculative history.
func (c *Coordinator) Entries() []Entry {
	out := make([]Entry, len(c.entries))
	for i, e := range c.entries {
		out[i] = Entry{State: e.State.Clone(), Input: e.Input}
	}
	return out
}

// Step advances one live tick. While LIVE and the peer can already be at the
// current tick, the tick is applied and sent at once; otherwise it becomes
// speculative.
func (c *Coordinator) Step(in state.Input, now time.Time) error {
	if c.mode != ModeLive || c.window == nil || c.state.Tick >= c.window.MaxCommittableTick(now) {
		return c.speculate(in)
	}
	next, err := c.sim.Tick(c.env, c.state, in)
	if err != nil {
		return fmt.Errorf("step tick %d: %w", c.state.Tick, err)
	}
	res := CommitResult{
		At:       now,
		Bound:    c.window.MaxCommittableTick(now),
		LiveTick: c.state.Tick,
		FromTick: c.state.Tick,
		ToTick:   c.state.Tick,
		Changes:  []protocol.Change{{Inputs: in, State: state.Compute(next, c.state)}},
	}
	c.state = next
	c.send(&res)
	return nil
}

// Simulate appends speculative ticks, one per input. On error the ticks
// applied before the failing one are kept.
func (c *Coordinator) Simulate(inputs ...state.Input) error {
	for _, in := range inputs {
		if err := c.speculate(in); err != nil {
			return err
		}
	}
	return nil
}

// speculate applies in to the shown state. A tick applied from a rewound
// cursor discards every recorded entry from the cursor on.
func (c *Coordinator) speculate(in state.Input) error {
	next, err := c.sim.Tick(c.env, c.state, in)
	if err != nil {
		return fmt.Errorf("speculate tick %d: %w", c.state.Tick, err)
	}
	if c.cursor < len(c.entries) {
		c.entries = c.entries[:c.cursor]
	}
	c.entries = append(c.entries, Entry{State: c.state, Input: in})
	c.cursor = len(c.entries)
	c.state = next
	c.mode = ModeSpeculating
	return nil
}

// Rewind moves the cursor back one entry and shows its snapshot.
func (c *Coordinator) Rewind() bool {
	if len(c.entries) == 0 {
		return false
	}
	if c.cursor > 0 {
		c.cursor--
	}
	c.state = c.entries[c.cursor].State.Clone()
	return true
}

// FastForward moves the cursor forward one entry, stopping at the last one.
func (c *Coordinator) FastForward() bool {
	if len(c.entries) == 0 || c.cursor >= len(c.entries)-1 {
		return false
	}
	c.cursor++
	c.state = c.entries[c.cursor].State.Clone()
	return true
}

// ReturnToLive drops all speculation and resets to the first entry's
// snapshot. Because it is destructive it asks confirm first; a refusal
// leaves everything as it was.
func (c *Coordinator) ReturnToLive(confirm func() bool) bool {
	if len(c.entries) == 0 {
		c.mode = ModeLive
		return true
	}
	if confirm == nil || !confirm() {
		return false
	}
	c.state = c.entries[0].State.Clone()
	c.entries = nil
	c.cursor = 0
	c.mode = ModeLive
	return true
}

// Commit flushes the entries before the cursor once the peer can plausibly
// be past the shown tick. Otherwise it leaves the timeline alone and reports
// Deferred.
func (c *Coordinator) Commit(now time.Time) (CommitResult, error) {
	if c.window == nil {
		return CommitResult{}, ErrNoWindow
	}
	res := CommitResult{At: now, Bound: c.window.MaxCommittableTick(now), LiveTick: c.state.Tick}
	if c.cursor == 0 {
		return res, nil
	}
	if res.LiveTick >= res.Bound {
		res.Deferred = true
		c.record(res)
		return res, nil
	}

	c.mode = ModeCommitting
	n := c.cursor
	if c.maxChanges > 0 && n > c.maxChanges {
		n = c.maxChanges
	}
	res.Changes = make([]protocol.Change, 0, n)
	for i := 0; i < n; i++ {
		next := c.state
		if i+1 < len(c.entries) {
			next = c.entries[i+1].State
		}
		res.Changes = append(res.Changes, protocol.Change{
			Inputs: c.entries[i].Input,
			State:  state.Compute(next, c.entries[i].State),
		})
	}
	res.FromTick = c.entries[0].State.Tick
	res.ToTick = c.entries[n-1].State.Tick

	c.entries = append([]Entry(nil), c.entries[n:]...)
	c.cursor -= n
	if len(c.entries) == 0 {
		c.entries = nil
		c.mode = ModeLive
	} else {
		c.mode = ModeSpeculating
	}
	c.send(&res)
	return res, nil
}

func (c *Coordinator) send(res *CommitResult) {
	if c.sender != nil {
		if err := c.sender.Send(protocol.NewTicks(res.Changes)); err != nil {
			res.SendErr = err
			if c.logger != nil {
				c.logger.Printf("commit ticks %d..%d: send: %v", res.FromTick, res.ToTick, err)
			}
		}
	}
	c.record(*res)
}

func (c *Coordinator) record(res CommitResult) {
	if c.recorder != nil {
		c.recorder.RecordCommit(res)
	}
}

// Restore replaces the history, e.g. from a saved session. Entries must be
// strictly tick ordered and cursor within [0, len].
func (c *Coordinator) Restore(entries []Entry, cursor int, shown state.GameState) error {
	if cursor < 0 || cursor > len(entries) {
		return fmt.Errorf("%w: cursor %d outside [0,%d]", ErrBadTimeline, cursor, len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].State.Tick <= entries[i-1].State.Tick {
			return fmt.Errorf("%w: entry %d tick %d not after %d", ErrBadTimeline, i, entries[i].State.Tick, entries[i-1].State.Tick)
		}
	}
	c.entries = nil
	for _, e := range entries {
		c.entries = append(c.entries, Entry{State: e.State.Clone(), Input: e.Input})
	}
	c.cursor = cursor
	c.state = shown.Clone()
	c.mode = ModeLive
	if len(c.entries) > 0 {
		c.mode = ModeSpeculating
	}
	return nil
}
