// Package simtest builds small maps and states for tests in other packages.
package simtest

import (
	"testing"

	"tickpilot.dev/internal/sim/geometry"
	"tickpilot.dev/internal/sim/state"
)

// TileSize is the edge length of every tile produced by Map.
const TileSize = 20

// PlayerBox is the avatar collision box relative to its origin: the origin
// sits at the middle of the feet.
var PlayerBox = geometry.Rect{X: -8, Y: -32, W: 16, H: 32}

// CrateBox is the box of the "crate" frameset, origin at the top-left corner.
var CrateBox = geometry.Rect{W: 20, H: 20}

// Map builds a TileMap from rows where '#' is a solid tile and anything else
// is empty. It registers the "player" and "crate" framesets.
func Map(t testing.TB, rows ...string) *geometry.TileMap {
	t.Helper()
	if len(rows) == 0 {
		t.Fatalf("simtest.Map: no rows")
	}
	m := &geometry.TileMap{
		TileW:   TileSize,
		TileH:   TileSize,
		Columns: len(rows[0]),
		Rows:    len(rows),
		Tiles: []geometry.TileDef{
			{GID: 1, Collisions: []geometry.Rect{{W: TileSize, H: TileSize}}},
		},
		FrameSets: map[string]map[string][]geometry.FrameDef{
			"player": {"idle": {{W: 32, H: 32, Collisions: []geometry.Rect{PlayerBox}}}},
			"crate":  {"idle": {{W: 20, H: 20}}},
		},
	}
	data := make([]int, 0, m.Columns*m.Rows)
	for i, r := range rows {
		if len(r) != m.Columns {
			t.Fatalf("simtest.Map: row %d has %d columns, want %d", i, len(r), m.Columns)
		}
		for _, c := range r {
			if c == '#' {
				data = append(data, 1)
			} else {
				data = append(data, 0)
			}
		}
	}
	m.Layers = []geometry.Layer{{Name: "fg0", Data: data}}
	if err := m.Index(); err != nil {
		t.Fatalf("simtest.Map: %v", err)
	}
	return m
}

// Room returns a cols x rows map with a solid border.
func Room(t testing.TB, cols, rows int) []string {
	t.Helper()
	out := make([]string, rows)
	for r := 0; r < rows; r++ {
		b := make([]byte, cols)
		for c := 0; c < cols; c++ {
			if r == 0 || r == rows-1 || c == 0 || c == cols-1 {
				b[c] = '#'
			} else {
				b[c] = '.'
			}
		}
		out[r] = string(b)
	}
	return out
}

// Player returns an avatar standing still at (x, y), latched to jump.
func Player(x, y float64) state.Entity {
	return state.Entity{
		ID:         state.DefaultPlayerID,
		Type:       state.TypePlayer,
		X:          x,
		Y:          y,
		FrameSet:   "player",
		FrameState: "idle",
		Motion: &state.Motion{
			JumpV:        1,
			CanJump:      true,
			JumpProgress: -1,
			SolidGround:  true,
		},
	}
}

// Crate returns a solid static entity.
func Crate(id string, x, y float64) state.Entity {
	return state.Entity{ID: id, Type: "Crate", X: x, Y: y, FrameSet: "crate", FrameState: "idle", Solid: true}
}

// State assembles a GameState at tick from entities keyed by their ID.
func State(tick uint64, entities ...state.Entity) state.GameState {
	st := state.GameState{Tick: tick, Entities: map[string]state.Entity{}}
	for _, e := range entities {
		st.Entities[e.ID] = e
	}
	return st
}
