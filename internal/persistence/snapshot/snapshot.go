// Package snapshot saves and restores a planning session: the map, the commit
// window and the speculative timeline.
package snapshot

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"

	"tickpilot.dev/internal/sim/state"
	"tickpilot.dev/internal/timeline"
)

const Version = 1

// Ext is the session file extension.
const Ext = ".tl.zst"

type Header struct {
	Version int    `json:"version" msgpack:"version"`
	Tick    uint64 `json:"tick" msgpack:"tick"`
	Entries int    `json:"entries" msgpack:"entries"`
	SavedAt string `json:"saved_at" msgpack:"saved_at"`
}

type SessionV1 struct {
	Header Header `msgpack:"header"`

	// Map is the raw map payload as the peer sent it.
	Map       []byte                `msgpack:"map"`
	HasWindow bool                  `msgpack:"has_window"`
	Window    timeline.CommitWindow `msgpack:"window"`
	Entries   []EntryV1             `msgpack:"entries"`
	Cursor    int                   `msgpack:"cursor"`
	Shown     StateV1               `msgpack:"shown"`
}

type EntryV1 struct {
	State StateV1  `msgpack:"state"`
	Keys  []string `msgpack:"keys,omitempty"`
}

type StateV1 struct {
	Tick     uint64     `msgpack:"tick"`
	PlayerID string     `msgpack:"player_id,omitempty"`
	Entities []EntityV1 `msgpack:"entities"`
}

type EntityV1 struct {
	Key        string    `msgpack:"key"`
	ID         string    `msgpack:"id"`
	Type       string    `msgpack:"type"`
	X          float64   `msgpack:"x"`
	Y          float64   `msgpack:"y"`
	FrameSet   string    `msgpack:"frame_set"`
	FrameState string    `msgpack:"frame_state"`
	Frame      int       `msgpack:"frame"`
	Solid      bool      `msgpack:"solid,omitempty"`
	Motion     *MotionV1 `msgpack:"motion,omitempty"`
}

type MotionV1 struct {
	MoveV        float64 `msgpack:"move_v"`
	JumpV        float64 `msgpack:"jump_v"`
	CanJump      bool    `msgpack:"can_jump"`
	JumpProgress int     `msgpack:"jump_progress"`
	SolidGround  bool    `msgpack:"solid_ground"`
}

// Session is the in-memory form of a saved session.
type Session struct {
	Map     json.RawMessage
	Window  *timeline.CommitWindow
	Entries []timeline.Entry
	Cursor  int
	Shown   state.GameState
}

func FromState(s state.GameState) StateV1 {
	out := StateV1{Tick: s.Tick, PlayerID: s.PlayerID, Entities: make([]EntityV1, 0, len(s.Entities))}
	for _, key := range s.SortedIDs() {
		e := s.Entities[key]
		ev := EntityV1{
			Key: key, ID: e.ID, Type: e.Type, X: e.X, Y: e.Y,
			FrameSet: e.FrameSet, FrameState: e.FrameState, Frame: e.Frame, Solid: e.Solid,
		}
		if e.Motion != nil {
			ev.Motion = &MotionV1{
				MoveV: e.MoveV, JumpV: e.JumpV, CanJump: e.CanJump,
				JumpProgress: e.JumpProgress, SolidGround: e.SolidGround,
			}
		}
		out.Entities = append(out.Entities, ev)
	}
	return out
}

func (s StateV1) GameState() state.GameState {
	out := state.GameState{Tick: s.Tick, PlayerID: s.PlayerID, Entities: make(map[string]state.Entity, len(s.Entities))}
	for _, ev := range s.Entities {
		e := state.Entity{
			ID: ev.ID, Type: ev.Type, X: ev.X, Y: ev.Y,
			FrameSet: ev.FrameSet, FrameState: ev.FrameState, Frame: ev.Frame, Solid: ev.Solid,
		}
		if ev.Motion != nil {
			e.Motion = &state.Motion{
				MoveV: ev.Motion.MoveV, JumpV: ev.Motion.JumpV, CanJump: ev.Motion.CanJump,
				JumpProgress: ev.Motion.JumpProgress, SolidGround: ev.Motion.SolidGround,
			}
		}
		out.Entities[ev.Key] = e
	}
	return out
}

func keysOf(in state.Input) []string {
	var out []string
	for k := range in.Keys() {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func inputOf(keys []string) state.Input {
	var in state.Input
	for _, k := range keys {
		switch k {
		case state.KeyUp:
			in.Up = true
		case state.KeyDown:
			in.Down = true
		case state.KeyLeft:
			in.Left = true
		case state.KeyRight:
			in.Right = true
		}
	}
	return in
}

// Encode converts s to its versioned file form.
func Encode(s Session, savedAt string) SessionV1 {
	v := SessionV1{
		Header: Header{Version: Version, Tick: s.Shown.Tick, Entries: len(s.Entries), SavedAt: savedAt},
		Map:    []byte(s.Map),
		Cursor: s.Cursor,
		Shown:  FromState(s.Shown),
	}
	if s.Window != nil {
		v.HasWindow = true
		v.Window = *s.Window
	}
	v.Entries = make([]EntryV1, 0, len(s.Entries))
	for _, e := range s.Entries {
		v.Entries = append(v.Entries, EntryV1{State: FromState(e.State), Keys: keysOf(e.Input)})
	}
	return v
}

// Decode converts a file form back, rejecting unknown versions.
func Decode(v SessionV1) (Session, error) {
	if v.Header.Version != Version {
		return Session{}, fmt.Errorf("unsupported session version %d", v.Header.Version)
	}
	s := Session{
		Map:    json.RawMessage(v.Map),
		Cursor: v.Cursor,
		Shown:  v.Shown.GameState(),
	}
	if v.HasWindow {
		w := v.Window
		s.Window = &w
	}
	for _, e := range v.Entries {
		s.Entries = append(s.Entries, timeline.Entry{State: e.State.GameState(), Input: inputOf(e.Keys)})
	}
	return s, nil
}

// WriteSession writes a JSON header line followed by the msgpack body, all
// inside one zstd stream.
func WriteSession(path string, v SessionV1) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, _ := json.Marshal(v.Header)
	if _, err := bw.Write(hb); err != nil {
		_ = enc.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		_ = enc.Close()
		return err
	}
	if err := msgpack.NewEncoder(bw).Encode(&v); err != nil {
		_ = enc.Close()
		return fmt.Errorf("msgpack encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

func ReadSession(path string) (SessionV1, error) {
	var v SessionV1
	f, err := os.Open(path)
	if err != nil {
		return v, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return v, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// The header line is for humans and tools; the body repeats it.
	if _, err := br.ReadBytes('\n'); err != nil {
		return v, fmt.Errorf("read header: %w", err)
	}
	if err := msgpack.NewDecoder(br).Decode(&v); err != nil {
		return v, fmt.Errorf("msgpack decode: %w", err)
	}
	return v, nil
}

// ReadHeader reads only the header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()
	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}
