package timeline

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"tickpilot.dev/internal/protocol"
	"tickpilot.dev/internal/sim/simtest"
	"tickpilot.dev/internal/sim/state"
	"tickpilot.dev/internal/sim/tuning"
)

type fakeSender struct {
	sent []protocol.TicksMsg
	err  error
}

func (f *fakeSender) Send(msg any) error {
	f.sent = append(f.sent, msg.(protocol.TicksMsg))
	return f.err
}

type fakeRecorder struct{ got []CommitResult }

func (f *fakeRecorder) RecordCommit(r CommitResult) { f.got = append(f.got, r) }

var (
	t0    = time.Unix(1_700_000_000, 0)
	up    = state.Input{Up: true}
	right = state.Input{Right: true}
)

func newCoordinator(t *testing.T, tn tuning.Tuning) (*Coordinator, *fakeSender, *fakeRecorder) {
	t.Helper()
	env := simtest.Map(t, simtest.Room(t, 20, 26)...)
	s, r := &fakeSender{}, &fakeRecorder{}
	c := New(Config{Env: env, Tuning: tn, State: simtest.State(100, simtest.Player(100, 500)), Sender: s, Recorder: r})
	if err := c.SetWindow(CommitWindow{ServerStartTick: 100, ServerStartWallClock: t0, TicksPerSecond: 60}); err != nil {
		t.Fatalf("SetWindow: %v", err)
	}
	return c, s, r
}

func TestMaxCommittableTick(t *testing.T) {
	w := CommitWindow{ServerStartTick: 100, ServerStartWallClock: t0, TicksPerSecond: 60}
	cases := map[time.Duration]uint64{
		-time.Second:            100,
		0:                       100,
		16 * time.Millisecond:   100,
		17 * time.Millisecond:   101,
		1500 * time.Millisecond: 190,
	}
	for d, want := range cases {
		if got := w.MaxCommittableTick(t0.Add(d)); got != want {
			t.Fatalf("after %s: got %d want %d", d, got, want)
		}
	}
}

func TestSetWindow_Once(t *testing.T) {
	c, _, _ := newCoordinator(t, tuning.Defaults())
	if err := c.SetWindow(CommitWindow{}); !errors.Is(err, ErrWindowSet) {
		t.Fatalf("second SetWindow: %v", err)
	}
	fresh := New(Config{Tuning: tuning.Defaults()})
	if _, err := fresh.Commit(t0); !errors.Is(err, ErrNoWindow) {
		t.Fatalf("commit without window: %v", err)
	}
}

func TestSimulate_TruncatesAfterCursor(t *testing.T) {
	c, _, _ := newCoordinator(t, tuning.Defaults())
	if err := c.Simulate(right, right, right, right, right, right); err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	before := c.Entries()
	for c.Status().Cursor > 2 {
		c.Rewind()
	}
	if err := c.Simulate(up); err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	got := c.Entries()
	if len(got) != 3 {
		t.Fatalf("len after truncation: %d", len(got))
	}
	if !reflect.DeepEqual(got[:2], before[:2]) {
		t.Fatalf("prefix changed")
	}
	if !reflect.DeepEqual(got[2].State, before[2].State) || got[2].Input != up {
		t.Fatalf("new entry: %+v", got[2])
	}
	st := c.Status()
	if st.Cursor != 3 || st.Mode != ModeSpeculating || st.Tick != 103 {
		t.Fatalf("status: %+v", st)
	}
}

func TestRewindFastForward_Clamp(t *testing.T) {
	c, _, _ := newCoordinator(t, tuning.Defaults())
	if c.Rewind() || c.FastForward() {
		t.Fatalf("rewind/fast-forward on empty timeline should do nothing")
	}
	_ = c.Simulate(right, right, right)
	entries := c.Entries()

	for i := 0; i < 10; i++ {
		c.Rewind()
	}
	if st := c.Status(); st.Cursor != 0 || !reflect.DeepEqual(c.State(), entries[0].State) {
		t.Fatalf("rewind clamp: %+v", st)
	}
	for i := 0; i < 10; i++ {
		c.FastForward()
	}
	if st := c.Status(); st.Cursor != 2 || st.Len != 3 || !reflect.DeepEqual(c.State(), entries[2].State) {
		t.Fatalf("fast-forward clamp: %+v", st)
	}
}

func TestReturnToLive(t *testing.T) {
	c, _, _ := newCoordinator(t, tuning.Defaults())
	_ = c.Simulate(up, up, up)
	first := c.Entries()[0].State
	shown := c.State()

	if c.ReturnToLive(func() bool { return false }) {
		t.Fatalf("refused confirmation returned true")
	}
	if st := c.Status(); st.Mode != ModeSpeculating || st.Len != 3 || !reflect.DeepEqual(c.State(), shown) {
		t.Fatalf("refusal changed state: %+v", st)
	}
	if !c.ReturnToLive(func() bool { return true }) {
		t.Fatalf("confirmed return failed")
	}
	if st := c.Status(); st.Mode != ModeLive || st.Len != 0 || st.Cursor != 0 || !reflect.DeepEqual(c.State(), first) {
		t.Fatalf("after confirm: %+v", st)
	}
}

func TestCommit_DeferredAtBound(t *testing.T) {
	c, s, r := newCoordinator(t, tuning.Defaults())
	_ = c.Simulate(right, right, right, right, right)
	before := c.Entries()

	// Bound is 103 after 50ms; the live tick is 105.
	res, err := c.Commit(t0.Add(50 * time.Millisecond))
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if !res.Deferred || res.Sent() || res.Bound != 103 {
		t.Fatalf("result: %+v", res)
	}
	if len(s.sent) != 0 {
		t.Fatalf("deferred commit sent something")
	}
	if len(r.got) != 1 || !r.got[0].Deferred {
		t.Fatalf("recorder: %+v", r.got)
	}
	if !reflect.DeepEqual(c.Entries(), before) || c.Status().Cursor != 5 {
		t.Fatalf("deferred commit changed the timeline")
	}
}

func TestCommit_FlushesUpToCursor(t *testing.T) {
	c, s, r := newCoordinator(t, tuning.Defaults())
	_ = c.Simulate(right, right, up, up, right)
	entries := c.Entries()
	c.Rewind()
	c.Rewind()
	shown := c.State()

	res, err := c.Commit(t0.Add(time.Second))
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if !res.Sent() || len(res.Changes) != 3 || res.FromTick != 100 || res.ToTick != 102 {
		t.Fatalf("result: %+v", res)
	}
	if len(s.sent) != 1 || s.sent[0].Type != protocol.TypeTicks || len(s.sent[0].Changes) != 3 {
		t.Fatalf("sent: %+v", s.sent)
	}
	if len(r.got) != 1 {
		t.Fatalf("recorder saw %d commits", len(r.got))
	}
	for i, ch := range res.Changes {
		if ch.Inputs != entries[i].Input {
			t.Fatalf("change %d input %s want %s", i, ch.Inputs, entries[i].Input)
		}
		// Each change leads from the next snapshot back to its own entry.
		back, err := state.Apply(entries[i+1].State, ch.State)
		if err != nil {
			t.Fatalf("change %d: %v", i, err)
		}
		if !reflect.DeepEqual(back, entries[i].State) {
			t.Fatalf("change %d: Apply(next, diff) tick=%d, want entry tick=%d", i, back.Tick, entries[i].State.Tick)
		}
	}
	st := c.Status()
	if st.Len != 2 || st.Cursor != 0 || st.Mode != ModeSpeculating || !reflect.DeepEqual(c.State(), shown) {
		t.Fatalf("after commit: %+v", st)
	}
	if !reflect.DeepEqual(c.Entries(), entries[3:]) {
		t.Fatalf("suffix after cursor changed")
	}
}

func TestCommit_AtHeadReturnsToLive(t *testing.T) {
	c, s, _ := newCoordinator(t, tuning.Defaults())
	_ = c.Simulate(up, up)
	live := c.State()
	entries := c.Entries()

	res, err := c.Commit(t0.Add(time.Second))
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if !reflect.DeepEqual(c.State(), live) {
		t.Fatalf("live state changed by commit")
	}
	// The last change leads from the live state back to the final entry.
	entry1 := res.Changes[1]
	if entry1.State.Tick == nil || *entry1.State.Tick != entries[1].State.Tick {
		t.Fatalf("last change tick: %+v", entry1.State)
	}
	back, err := state.Apply(live, entry1.State)
	if err != nil || !reflect.DeepEqual(back, entries[1].State) {
		t.Fatalf("Apply(live, last change) = %+v, %v", back, err)
	}
	if st := c.Status(); st.Mode != ModeLive || st.Len != 0 {
		t.Fatalf("status: %+v", st)
	}
	if len(s.sent) != 1 {
		t.Fatalf("sent %d messages", len(s.sent))
	}
}

func TestCommit_MaxChanges(t *testing.T) {
	tn := tuning.Defaults()
	tn.Commit.MaxChanges = 2
	c, _, _ := newCoordinator(t, tn)
	_ = c.Simulate(right, right, right, right, right)

	res, err := c.Commit(t0.Add(time.Second))
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if len(res.Changes) != 2 {
		t.Fatalf("changes: %d", len(res.Changes))
	}
	if st := c.Status(); st.Len != 3 || st.Cursor != 3 {
		t.Fatalf("status: %+v", st)
	}
}

func TestCommit_SendFailureStillDrops(t *testing.T) {
	c, s, r := newCoordinator(t, tuning.Defaults())
	s.err = errors.New("socket closed")
	_ = c.Simulate(up)
	res, err := c.Commit(t0.Add(time.Second))
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if res.SendErr == nil || len(r.got) != 1 || r.got[0].SendErr == nil {
		t.Fatalf("send error not reported: %+v", res)
	}
	if c.Status().Len != 0 {
		t.Fatalf("fire-and-forget commit kept entries")
	}
}

func TestStep_LiveSendsDirectly(t *testing.T) {
	c, s, _ := newCoordinator(t, tuning.Defaults())

	if err := c.Step(right, t0.Add(time.Second)); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if st := c.Status(); st.Mode != ModeLive || st.Len != 0 || st.Tick != 101 {
		t.Fatalf("live step: %+v", st)
	}
	if len(s.sent) != 1 || len(s.sent[0].Changes) != 1 || s.sent[0].Changes[0].Inputs != right {
		t.Fatalf("sent: %+v", s.sent)
	}
	if back, err := state.Apply(c.State(), s.sent[0].Changes[0].State); err != nil || back.Tick != 100 {
		t.Fatalf("step change does not lead back to tick 100: %+v, %v", back, err)
	}

	// The peer cannot be past tick 101 yet: the next step is speculative.
	if err := c.Step(right, t0); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if st := c.Status(); st.Mode != ModeSpeculating || st.Len != 1 || st.Tick != 102 {
		t.Fatalf("speculative step: %+v", st)
	}
	if len(s.sent) != 1 {
		t.Fatalf("speculative step sent a message")
	}
}

func TestSimulate_ErrorKeepsEarlierTicks(t *testing.T) {
	c, _, _ := newCoordinator(t, tuning.Defaults())
	_ = c.Simulate(right)
	st := c.State()
	crate := simtest.Crate("crate", 200, 480)
	crate.FrameSet = "missing"
	st.Entities["crate"] = crate
	if err := c.Restore(c.Entries(), 1, st); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if err := c.Simulate(right); err == nil {
		t.Fatalf("expected missing frame error")
	}
	if c.Status().Len != 1 {
		t.Fatalf("failed tick was recorded")
	}
}

func TestRestore_Validates(t *testing.T) {
	c, _, _ := newCoordinator(t, tuning.Defaults())
	_ = c.Simulate(up, up)
	entries := c.Entries()
	if err := c.Restore(entries, 3, c.State()); !errors.Is(err, ErrBadTimeline) {
		t.Fatalf("cursor out of range: %v", err)
	}
	swapped := []Entry{entries[1], entries[0]}
	if err := c.Restore(swapped, 0, c.State()); !errors.Is(err, ErrBadTimeline) {
		t.Fatalf("unordered entries: %v", err)
	}
	if err := c.Restore(nil, 0, entries[0].State); err != nil || c.Status().Mode != ModeLive {
		t.Fatalf("empty restore: %v %+v", err, c.Status())
	}
}
