package tuning

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	TickRateHz int `yaml:"tick_rate_hz"`

	Physics Physics `yaml:"physics"`
	Router  Router  `yaml:"router"`
	Search  Search  `yaml:"search"`
	Commit  Commit  `yaml:"commit"`
}

// Physics mirrors the authoritative simulator constants. Units are world
// units per tick.
type Physics struct {
	MoveAccel    float64   `yaml:"move_accel"`
	MoveDecel    float64   `yaml:"move_decel"`
	MoveCap      float64   `yaml:"move_cap"`
	Gravity      float64   `yaml:"gravity"`
	TerminalFall float64   `yaml:"terminal_fall"`
	GroundPush   float64   `yaml:"ground_push"`
	JumpCurve    []float64 `yaml:"jump_curve"`
}

type Router struct {
	Granularity      float64 `yaml:"granularity"`
	HopCells         int     `yaml:"hop_cells"`
	VerticalCells    int     `yaml:"vertical_cells"`
	FallProbeDepth   int     `yaml:"fall_probe_depth"`
	HeightPenaltyExp float64 `yaml:"height_penalty_exp"`
	HeightPenaltyCap float64 `yaml:"height_penalty_cap"`
	StopRadius       int     `yaml:"stop_radius"`
}

type Search struct {
	TimeoutMs       int     `yaml:"timeout_ms"`
	Repeat          int     `yaml:"repeat"`
	NearRadius      float64 `yaml:"near_radius"`
	CoarseStep      float64 `yaml:"coarse_step"`
	FineStep        float64 `yaml:"fine_step"`
	NearScale       float64 `yaml:"near_scale"`
	HeuristicWeight float64 `yaml:"heuristic_weight"`
	WindowCells     int     `yaml:"window_cells"`
}

type Commit struct {
	EveryMs int `yaml:"every_ms"`
	// MaxChanges caps the entries flushed per cycle; 0 means everything up to the cursor.
	MaxChanges int `yaml:"max_changes"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion: "1",
		TickRateHz:      60,
		Physics: Physics{
			MoveAccel:    0.5,
			MoveDecel:    0.5,
			MoveCap:      4,
			Gravity:      0.5,
			TerminalFall: 12,
			GroundPush:   1,
			JumpCurve:    []float64{6.5, 1, 1, 0.5, 0.5, 0.5, 0.25, 0.25, 0.25, 0.25},
		},
		Router: Router{
			Granularity:      16,
			HopCells:         12,
			VerticalCells:    4,
			FallProbeDepth:   16,
			HeightPenaltyExp: 1.7,
			HeightPenaltyCap: 32,
			StopRadius:       2,
		},
		Search: Search{
			TimeoutMs:       2000,
			Repeat:          5,
			NearRadius:      64,
			CoarseStep:      8,
			FineStep:        1,
			NearScale:       4,
			HeuristicWeight: 5.5,
			WindowCells:     3,
		},
		Commit: Commit{
			EveryMs: 250,
		},
	}
}

// Load reads a tuning file. Keys missing from the file keep their defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}
	check(t.TickRateHz > 0, "tick_rate_hz must be > 0")
	check(t.Physics.MoveCap > 0, "physics.move_cap must be > 0")
	check(t.Physics.MoveAccel > 0, "physics.move_accel must be > 0")
	check(t.Physics.MoveDecel > 0, "physics.move_decel must be > 0")
	check(t.Physics.TerminalFall > 0, "physics.terminal_fall must be > 0")
	check(t.Router.Granularity > 0, "router.granularity must be > 0")
	check(t.Router.FallProbeDepth >= 0, "router.fall_probe_depth must be >= 0")
	check(t.Search.Repeat > 0, "search.repeat must be > 0")
	check(t.Search.TimeoutMs > 0, "search.timeout_ms must be > 0")
	check(t.Search.CoarseStep > 0 && t.Search.FineStep > 0, "search quantization steps must be > 0")
	check(t.Search.NearScale > 0, "search.near_scale must be > 0")
	check(t.Commit.EveryMs > 0, "commit.every_ms must be > 0")
	check(t.Commit.MaxChanges >= 0, "commit.max_changes must be >= 0")
	return errors.Join(errs...)
}
