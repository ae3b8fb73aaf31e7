package state

import (
	"encoding/json"
	"sort"
	"strings"
)

// Input is the set of intents held during one tick.
type Input struct {
	Up    bool
	Down  bool
	Left  bool
	Right bool
}

// Key names as they appear on the wire.
const (
	KeyUp    = "up"
	KeyDown  = "down"
	KeyLeft  = "left"
	KeyRight = "right"
)

// MarshalJSON emits only pressed keys, e.g. {"up":true}.
func (in Input) MarshalJSON() ([]byte, error) {
	return json.Marshal(in.Keys())
}

func (in *Input) UnmarshalJSON(b []byte) error {
	var m map[string]bool
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	*in = Input{Up: m[KeyUp], Down: m[KeyDown], Left: m[KeyLeft], Right: m[KeyRight]}
	return nil
}

// Keys returns the pressed keys as a name set.
func (in Input) Keys() map[string]bool {
	m := map[string]bool{}
	if in.Up {
		m[KeyUp] = true
	}
	if in.Down {
		m[KeyDown] = true
	}
	if in.Left {
		m[KeyLeft] = true
	}
	if in.Right {
		m[KeyRight] = true
	}
	return m
}

func (in Input) Empty() bool { return in == Input{} }

// String renders pressed keys joined by '+', or "none".
func (in Input) String() string {
	keys := in.Keys()
	if len(keys) == 0 {
		return "none"
	}
	names := make([]string, 0, len(keys))
	for k := range keys {
		names = append(names, k)
	}
	sort.Strings(names)
	return strings.Join(names, "+")
}

// ParseInput accepts the String form ("up+left", "none", "").
func ParseInput(s string) (Input, bool) {
	var in Input
	s = strings.TrimSpace(s)
	if s == "" || s == "none" {
		return in, true
	}
	for _, k := range strings.Split(s, "+") {
		switch k {
		case KeyUp:
			in.Up = true
		case KeyDown:
			in.Down = true
		case KeyLeft:
			in.Left = true
		case KeyRight:
			in.Right = true
		default:
			return Input{}, false
		}
	}
	return in, true
}
