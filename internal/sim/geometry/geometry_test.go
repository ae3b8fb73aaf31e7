package geometry_test

import (
	"errors"
	"reflect"
	"testing"

	"tickpilot.dev/internal/sim/geometry"
	"tickpilot.dev/internal/sim/simtest"
)

type bodies []geometry.Body

func (b bodies) Bodies(region geometry.Rect, exclude map[string]struct{}) []geometry.Body {
	var out []geometry.Body
	for _, x := range b {
		if _, ok := exclude[x.ID]; ok {
			continue
		}
		if x.Box.Touches(region) {
			out = append(out, x)
		}
	}
	return out
}

func floorMap(t *testing.T) *geometry.TileMap {
	rows := simtest.Room(t, 20, 26)
	return simtest.Map(t, rows...)
}

func TestMove_FallStopsOnFloor(t *testing.T) {
	m := floorMap(t)
	res := geometry.Move(m, nil, 100, 490, 0, 12, simtest.PlayerBox, nil)
	if res.Y != 500 || res.DY != 10 {
		t.Fatalf("landing: got y=%v dy=%v want y=500 dy=10", res.Y, res.DY)
	}
	if !res.SolidGround {
		t.Fatalf("expected SolidGround after landing")
	}
}

func TestMove_RestingPushKeepsGround(t *testing.T) {
	m := floorMap(t)
	res := geometry.Move(m, nil, 100, 500, 0, 1, simtest.PlayerBox, nil)
	if res.Y != 500 || !res.SolidGround {
		t.Fatalf("resting: got y=%v ground=%v", res.Y, res.SolidGround)
	}
}

func TestMove_WallClipsHorizontalOnly(t *testing.T) {
	m := floorMap(t)
	// Right wall occupies x in [380, 400); the box spans x-8..x+8.
	res := geometry.Move(m, nil, 368, 500, 10, 1, simtest.PlayerBox, nil)
	if res.X != 372 {
		t.Fatalf("wall clip: got x=%v want 372", res.X)
	}
	if !res.SolidGround {
		t.Fatalf("floor contact lost while sliding into wall")
	}
}

func TestMove_SolidBodyBlocksAndIsReported(t *testing.T) {
	m := floorMap(t)
	dyn := bodies{
		{ID: "crate", Box: geometry.Rect{X: 120, Y: 480, W: 20, H: 20}, Solid: true},
		{ID: "coin", Box: geometry.Rect{X: 104, Y: 470, W: 4, H: 4}},
		{ID: "player", Box: geometry.Rect{X: 92, Y: 468, W: 16, H: 32}, Solid: true},
	}
	res := geometry.Move(m, dyn, 100, 500, 20, 1, simtest.PlayerBox, map[string]struct{}{"player": {}})
	if res.X != 112 {
		t.Fatalf("crate clip: got x=%v want 112", res.X)
	}
	if want := []string{"coin", "crate"}; !reflect.DeepEqual(res.Collided, want) {
		t.Fatalf("collided: got %v want %v", res.Collided, want)
	}
}

func TestMove_NoMotionNoCollision(t *testing.T) {
	m := floorMap(t)
	res := geometry.Move(m, nil, 100, 300, 0, 0, simtest.PlayerBox, nil)
	if res.X != 100 || res.Y != 300 || res.SolidGround || len(res.Collided) != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestDecodeTileMap_IndexesCollisionsAndFrames(t *testing.T) {
	raw := []byte(`{
	  "tileW": 10, "tileH": 10, "columns": 3, "rows": 2,
	  "tiles": [{"gid": 7, "collisions": [{"x": 0, "y": 5, "width": 10, "height": 5}]}],
	  "layers": [{"name": "fg0", "data": [0, 7, 0, 0, 0, 7]}],
	  "framesets": {"hero": {"run": [
	    {"tileW": 16, "tileH": 16},
	    {"tileW": 16, "tileH": 16, "collisions": [{"x": 2, "y": 0, "width": 4, "height": 8}, {"x": 6, "y": 4, "width": 4, "height": 8}]}
	  ]}}
	}`)
	m, err := geometry.DecodeTileMap(raw)
	if err != nil {
		t.Fatalf("DecodeTileMap: %v", err)
	}
	if got := m.Bounds(); got != (geometry.Rect{W: 30, H: 20}) {
		t.Fatalf("bounds: %+v", got)
	}
	got := m.StaticCollisions(m.Bounds())
	want := []geometry.Rect{{X: 10, Y: 5, W: 10, H: 5}, {X: 20, Y: 15, W: 10, H: 5}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("static collisions: got %+v want %+v", got, want)
	}
	if got := m.StaticCollisions(geometry.Rect{X: 0, Y: 0, W: 5, H: 5}); len(got) != 0 {
		t.Fatalf("expected no collisions in empty corner, got %+v", got)
	}

	box, ok := m.FrameBox("hero", "run", 0)
	if !ok || box != (geometry.Rect{W: 16, H: 16}) {
		t.Fatalf("frame 0 box: %+v ok=%v", box, ok)
	}
	box, ok = m.FrameBox("hero", "run", 1)
	if !ok || box != (geometry.Rect{X: 2, Y: 0, W: 8, H: 12}) {
		t.Fatalf("frame 1 box: %+v ok=%v", box, ok)
	}
	if _, ok := m.FrameBox("hero", "run", 2); ok {
		t.Fatalf("frame 2 should be missing")
	}
	if _, ok := m.FrameBox("ghost", "idle", 0); ok {
		t.Fatalf("unknown frameset should be missing")
	}
}

func TestDecodeTileMap_RejectsBadLayer(t *testing.T) {
	_, err := geometry.DecodeTileMap([]byte(`{"tileW":10,"tileH":10,"columns":2,"rows":2,"layers":[{"name":"x","data":[1]}]}`))
	if !errors.Is(err, geometry.ErrBadMap) {
		t.Fatalf("expected ErrBadMap, got %v", err)
	}
	_, err = geometry.DecodeTileMap([]byte(`not json`))
	if !errors.Is(err, geometry.ErrBadMap) {
		t.Fatalf("expected ErrBadMap for bad json, got %v", err)
	}
}
