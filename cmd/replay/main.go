package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"tickpilot.dev/internal/persistence/snapshot"
	"tickpilot.dev/internal/sim/geometry"
	"tickpilot.dev/internal/sim/physics"
	"tickpilot.dev/internal/sim/state"
	"tickpilot.dev/internal/sim/tuning"
)

func main() {
	var (
		sessPath   = flag.String("session", "", "path to .tl.zst")
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml")
		printDiffs = flag.Bool("print", false, "print each tick's input and diff as JSON lines")
	)
	flag.Parse()

	if *sessPath == "" {
		fmt.Fprintln(os.Stderr, "missing -session")
		os.Exit(2)
	}

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintln(os.Stderr, "load tuning:", err)
			os.Exit(1)
		}
		tune = tuning.Defaults()
	}

	v, err := snapshot.ReadSession(*sessPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read session:", err)
		os.Exit(1)
	}
	sess, err := snapshot.Decode(v)
	if err != nil {
		fmt.Fprintln(os.Stderr, "decode session:", err)
		os.Exit(1)
	}
	fmt.Printf("session v%d tick=%d entries=%d cursor=%d saved=%s\n",
		v.Header.Version, v.Header.Tick, len(sess.Entries), sess.Cursor, v.Header.SavedAt)

	env, err := geometry.DecodeTileMap(sess.Map)
	if err != nil {
		fmt.Fprintln(os.Stderr, "map:", err)
		os.Exit(1)
	}

	checked, err := replay(physics.New(tune.Physics), env, sess, *printDiffs)
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	fmt.Printf("replay ok: checked=%d ticks\n", checked)
}

// replay steps every entry with its input and compares the result with the
// next recorded state. The last entry is checked against the shown state
// only when the cursor sits past it, since otherwise nothing recorded the
// state after it.
func replay(sim *physics.Simulator, env geometry.Environment, sess snapshot.Session, verbose bool) (int, error) {
	enc := json.NewEncoder(os.Stdout)
	checked := 0
	for i, e := range sess.Entries {
		var want state.GameState
		switch {
		case i+1 < len(sess.Entries):
			want = sess.Entries[i+1].State
		case sess.Cursor == len(sess.Entries):
			want = sess.Shown
		default:
			return checked, nil
		}
		got, err := sim.Tick(env, e.State, e.Input)
		if err != nil {
			return checked, fmt.Errorf("tick %d: %w", e.State.Tick, err)
		}
		if d := state.Compute(want, got); !d.Empty() {
			b, _ := json.Marshal(d)
			return checked, fmt.Errorf("mismatch at tick %d input %s: replayed differs by %s", e.State.Tick, e.Input, b)
		}
		checked++
		if verbose {
			_ = enc.Encode(struct {
				Tick   uint64      `json:"tick"`
				Inputs state.Input `json:"inputs"`
				State  state.Diff  `json:"state"`
			}{Tick: e.State.Tick, Inputs: e.Input, State: state.Compute(got, e.State)})
		}
	}
	return checked, nil
}
