package timeline

import (
	"errors"
	"math"
	"time"
)

var ErrWindowSet = errors.New("commit window already set")

// CommitWindow anchors the peer's tick clock: the peer was at ServerStartTick
// when ServerStartWallClock was observed locally.
type CommitWindow struct {
	ServerStartTick      uint64    `json:"serverStartTick" msgpack:"server_start_tick"`
	ServerStartWallClock time.Time `json:"serverStartWallClock" msgpack:"server_start_wall_clock"`
	TicksPerSecond       float64   `json:"ticksPerSecond" msgpack:"ticks_per_second"`
}

// MaxCommittableTick is the furthest tick the peer could plausibly have
// reached by now. It never goes below ServerStartTick.
func (w CommitWindow) MaxCommittableTick(now time.Time) uint64 {
	ms := float64(now.Sub(w.ServerStartWallClock)) / float64(time.Millisecond)
	if ms <= 0 {
		return w.ServerStartTick
	}
	return w.ServerStartTick + uint64(math.Floor(ms*w.TicksPerSecond/1000))
}
