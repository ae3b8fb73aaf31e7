package geometry

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// TileDef is one tileset entry with its collision rectangles relative to the
// tile's top-left corner.
type TileDef struct {
	GID        int    `json:"gid"`
	Collisions []Rect `json:"collisions,omitempty"`
}

// Layer is a row-major grid of tile gids; 0 means empty.
type Layer struct {
	Name string `json:"name"`
	Data []int  `json:"data"`
}

// FrameDef is one animation frame. Collisions are relative to the entity origin.
type FrameDef struct {
	W          float64 `json:"tileW"`
	H          float64 `json:"tileH"`
	Collisions []Rect  `json:"collisions,omitempty"`
}

// TileMap is the map payload delivered by the peer, indexed for region queries.
type TileMap struct {
	TileW     float64                          `json:"tileW"`
	TileH     float64                          `json:"tileH"`
	Columns   int                              `json:"columns"`
	Rows      int                              `json:"rows"`
	Tiles     []TileDef                        `json:"tiles"`
	Layers    []Layer                          `json:"layers"`
	FrameSets map[string]map[string][]FrameDef `json:"framesets"`

	// cells[row*Columns+col] holds the world-space collision rects of that tile cell.
	cells [][]Rect
}

var ErrBadMap = errors.New("bad map")

// DecodeTileMap parses and indexes a map payload.
func DecodeTileMap(raw []byte) (*TileMap, error) {
	var m TileMap
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadMap, err)
	}
	if err := m.Index(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Index validates the map and builds the per-cell collision lookup. It must
// be called after constructing a TileMap by hand.
func (m *TileMap) Index() error {
	if m.TileW <= 0 || m.TileH <= 0 || m.Columns <= 0 || m.Rows <= 0 {
		return fmt.Errorf("%w: dimensions %vx%v tiles of %vx%v", ErrBadMap, m.Columns, m.Rows, m.TileW, m.TileH)
	}
	byGID := make(map[int][]Rect, len(m.Tiles))
	for _, t := range m.Tiles {
		byGID[t.GID] = t.Collisions
	}
	m.cells = make([][]Rect, m.Columns*m.Rows)
	for _, l := range m.Layers {
		if len(l.Data) != m.Columns*m.Rows {
			return fmt.Errorf("%w: layer %q has %d cells, want %d", ErrBadMap, l.Name, len(l.Data), m.Columns*m.Rows)
		}
		for i, gid := range l.Data {
			if gid == 0 {
				continue
			}
			ox := float64(i%m.Columns) * m.TileW
			oy := float64(i/m.Columns) * m.TileH
			for _, c := range byGID[gid] {
				m.cells[i] = append(m.cells[i], c.Translate(ox, oy))
			}
		}
	}
	return nil
}

func (m *TileMap) Bounds() Rect {
	return Rect{W: float64(m.Columns) * m.TileW, H: float64(m.Rows) * m.TileH}
}

func (m *TileMap) StaticCollisions(region Rect) []Rect {
	c0 := clampInt(int(math.Floor(region.X/m.TileW))-1, 0, m.Columns-1)
	c1 := clampInt(int(math.Floor(region.MaxX()/m.TileW))+1, 0, m.Columns-1)
	r0 := clampInt(int(math.Floor(region.Y/m.TileH))-1, 0, m.Rows-1)
	r1 := clampInt(int(math.Floor(region.MaxY()/m.TileH))+1, 0, m.Rows-1)
	var out []Rect
	for row := r0; row <= r1; row++ {
		for col := c0; col <= c1; col++ {
			for _, r := range m.cells[row*m.Columns+col] {
				if r.Touches(region) {
					out = append(out, r)
				}
			}
		}
	}
	return out
}

// FrameBox returns the bounding box of the frame's collision rectangles, or
// the whole frame when it declares none.
func (m *TileMap) FrameBox(frameSet, frameState string, frame int) (Rect, bool) {
	states, ok := m.FrameSets[frameSet]
	if !ok {
		return Rect{}, false
	}
	frames, ok := states[frameState]
	if !ok || frame < 0 || frame >= len(frames) {
		return Rect{}, false
	}
	f := frames[frame]
	if len(f.Collisions) == 0 {
		return Rect{W: f.W, H: f.H}, true
	}
	box := f.Collisions[0]
	for _, c := range f.Collisions[1:] {
		box = box.Union(c)
	}
	return box, true
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
