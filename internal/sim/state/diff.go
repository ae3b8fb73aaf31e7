package state

import (
	"errors"
	"fmt"
	"math"
)

// EntityDiff maps field names to new values. A nil EntityDiff inside
// Diff.Entities marks a removed entity.
type EntityDiff map[string]any

// Diff is the minimal structural delta from one snapshot to another: applying
// Diff(a, b) to a yields b.
type Diff struct {
	Tick     *uint64               `json:"tick,omitempty" msgpack:"tick,omitempty"`
	PlayerID *string               `json:"playerID,omitempty" msgpack:"playerID,omitempty"`
	Entities map[string]EntityDiff `json:"entities,omitempty" msgpack:"entities,omitempty"`
}

func (d Diff) Empty() bool { return d.Tick == nil && d.PlayerID == nil && len(d.Entities) == 0 }

var ErrBadDiff = errors.New("bad diff")

type field struct {
	name   string
	motion bool
	get    func(e *Entity) any
	set    func(e *Entity, v any) error
}

// schema is the declared field table diffs are computed over. The "player"
// kind tag comes first so that Apply allocates Motion before its fields.
var schema = []field{
	{name: "player", get: func(e *Entity) any { return e.Motion != nil }, set: func(e *Entity, v any) error {
		b, err := asBool(v)
		if err != nil {
			return err
		}
		if b && e.Motion == nil {
			e.Motion = &Motion{JumpProgress: -1}
		}
		if !b {
			e.Motion = nil
		}
		return nil
	}},
	{name: "id", get: func(e *Entity) any { return e.ID }, set: func(e *Entity, v any) (err error) { e.ID, err = asString(v); return }},
	{name: "type", get: func(e *Entity) any { return e.Type }, set: func(e *Entity, v any) (err error) { e.Type, err = asString(v); return }},
	{name: "x", get: func(e *Entity) any { return e.X }, set: func(e *Entity, v any) (err error) { e.X, err = asFloat(v); return }},
	{name: "y", get: func(e *Entity) any { return e.Y }, set: func(e *Entity, v any) (err error) { e.Y, err = asFloat(v); return }},
	{name: "frameSet", get: func(e *Entity) any { return e.FrameSet }, set: func(e *Entity, v any) (err error) { e.FrameSet, err = asString(v); return }},
	{name: "frameState", get: func(e *Entity) any { return e.FrameState }, set: func(e *Entity, v any) (err error) { e.FrameState, err = asString(v); return }},
	{name: "frame", get: func(e *Entity) any { return e.Frame }, set: func(e *Entity, v any) (err error) { e.Frame, err = asInt(v); return }},
	{name: "solid", get: func(e *Entity) any { return e.Solid }, set: func(e *Entity, v any) (err error) { e.Solid, err = asBool(v); return }},

	{name: "moveV", motion: true, get: func(e *Entity) any { return e.MoveV }, set: func(e *Entity, v any) (err error) { e.MoveV, err = asFloat(v); return }},
	{name: "jumpV", motion: true, get: func(e *Entity) any { return e.JumpV }, set: func(e *Entity, v any) (err error) { e.JumpV, err = asFloat(v); return }},
	{name: "canJump", motion: true, get: func(e *Entity) any { return e.CanJump }, set: func(e *Entity, v any) (err error) { e.CanJump, err = asBool(v); return }},
	{name: "jumpProgress", motion: true, get: func(e *Entity) any { return e.JumpProgress }, set: func(e *Entity, v any) (err error) { e.JumpProgress, err = asInt(v); return }},
	{name: "solidGround", motion: true, get: func(e *Entity) any { return e.SolidGround }, set: func(e *Entity, v any) (err error) { e.SolidGround, err = asBool(v); return }},
}

// Compute returns the fields of b that differ from a.
func Compute(a, b GameState) Diff {
	var d Diff
	if a.Tick != b.Tick {
		t := b.Tick
		d.Tick = &t
	}
	if a.PlayerID != b.PlayerID {
		id := b.PlayerID
		d.PlayerID = &id
	}
	for _, id := range unionIDs(a, b) {
		ea, inA := a.Entities[id]
		eb, inB := b.Entities[id]
		var ed EntityDiff
		switch {
		case inA && !inB:
			ed = nil
		case !inA && inB:
			ed = EntityDiff{}
			for _, f := range schema {
				if f.motion && eb.Motion == nil {
					continue
				}
				ed[f.name] = f.get(&eb)
			}
		default:
			for _, f := range schema {
				if f.motion && eb.Motion == nil {
					continue
				}
				vb := f.get(&eb)
				// A kind change makes every motion field new.
				kindChanged := f.motion && ea.Motion == nil
				if !kindChanged && f.get(&ea) == vb {
					continue
				}
				if ed == nil {
					ed = EntityDiff{}
				}
				ed[f.name] = vb
			}
			if ed == nil {
				continue
			}
		}
		if d.Entities == nil {
			d.Entities = map[string]EntityDiff{}
		}
		d.Entities[id] = ed
	}
	return d
}

// Apply returns base with d applied. base is not modified.
func Apply(base GameState, d Diff) (GameState, error) {
	out := base.Clone()
	if d.Tick != nil {
		out.Tick = *d.Tick
	}
	if d.PlayerID != nil {
		out.PlayerID = *d.PlayerID
	}
	if len(d.Entities) > 0 && out.Entities == nil {
		out.Entities = map[string]Entity{}
	}
	for id, ed := range d.Entities {
		if ed == nil {
			delete(out.Entities, id)
			continue
		}
		e, ok := out.Entities[id]
		if !ok {
			e = Entity{ID: id}
		}
		for _, f := range schema {
			v, ok := ed[f.name]
			if !ok {
				continue
			}
			if f.motion && e.Motion == nil {
				return GameState{}, fmt.Errorf("%w: entity %s: field %s on non-player", ErrBadDiff, id, f.name)
			}
			if err := f.set(&e, v); err != nil {
				return GameState{}, fmt.Errorf("%w: entity %s: field %s: %v", ErrBadDiff, id, f.name, err)
			}
		}
		out.Entities[id] = e
	}
	return out, nil
}

func unionIDs(a, b GameState) []string {
	seen := make(map[string]Entity, len(a.Entities)+len(b.Entities))
	for id, e := range a.Entities {
		seen[id] = e
	}
	for id, e := range b.Entities {
		seen[id] = e
	}
	return GameState{Entities: seen}.SortedIDs()
}

func asFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	}
	if i, ok := integer(v); ok {
		return float64(i), nil
	}
	return 0, fmt.Errorf("want number, got %T", v)
}

func asInt(v any) (int, error) {
	if i, ok := integer(v); ok {
		return int(i), nil
	}
	f, ok := v.(float64)
	if ok && f == math.Trunc(f) {
		return int(f), nil
	}
	return 0, fmt.Errorf("want integer, got %T", v)
}

func integer(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	}
	return 0, false
}

func asBool(v any) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("want bool, got %T", v)
	}
	return b, nil
}

func asString(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("want string, got %T", v)
	}
	return s, nil
}
