package pilot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"tickpilot.dev/internal/sim/state"
)

var ErrQuit = errors.New("quit")

// Command is one parsed console line.
type Command struct {
	Name   string
	X, Y   float64
	Inputs []state.Input
	Path   string
}

const Help = `commands:
  nav X Y          plan to (X, Y) and simulate the route
  step [KEYS]      one tick with KEYS (e.g. up+right); live when LIVE
  sim KEYS...      append speculative ticks, one per argument
  hold [KEYS]      input applied by the live loop
  rewind | ff      move the timeline cursor
  commit           flush speculation now
  live             discard speculation and return to live
  status | state
  save [PATH] | load PATH
  quit`

func ParseCommand(line string) (Command, error) {
	f := strings.Fields(line)
	if len(f) == 0 {
		return Command{}, nil
	}
	cmd := Command{Name: strings.ToLower(f[0])}
	args := f[1:]
	switch cmd.Name {
	case "nav", "navigate":
		cmd.Name = "nav"
		if len(args) != 2 {
			return cmd, fmt.Errorf("usage: nav X Y")
		}
		var err error
		if cmd.X, err = strconv.ParseFloat(args[0], 64); err != nil {
			return cmd, fmt.Errorf("bad X: %w", err)
		}
		if cmd.Y, err = strconv.ParseFloat(args[1], 64); err != nil {
			return cmd, fmt.Errorf("bad Y: %w", err)
		}
	case "step", "hold":
		if len(args) > 1 {
			return cmd, fmt.Errorf("usage: %s [KEYS]", cmd.Name)
		}
		in, err := parseKeys(args)
		if err != nil {
			return cmd, err
		}
		cmd.Inputs = in
		if len(cmd.Inputs) == 0 {
			cmd.Inputs = []state.Input{{}}
		}
	case "sim", "simulate":
		cmd.Name = "sim"
		if len(args) == 0 {
			return cmd, fmt.Errorf("usage: sim KEYS...")
		}
		in, err := parseKeys(args)
		if err != nil {
			return cmd, err
		}
		cmd.Inputs = in
	case "save":
		if len(args) > 1 {
			return cmd, fmt.Errorf("usage: save [PATH]")
		}
		if len(args) == 1 {
			cmd.Path = args[0]
		}
	case "load":
		if len(args) != 1 {
			return cmd, fmt.Errorf("usage: load PATH")
		}
		cmd.Path = args[0]
	case "fastforward", "forward":
		cmd.Name = "ff"
	case "exit":
		cmd.Name = "quit"
	case "rewind", "ff", "commit", "live", "status", "state", "help", "quit":
	default:
		return cmd, fmt.Errorf("unknown command %q", f[0])
	}
	return cmd, nil
}

func parseKeys(args []string) ([]state.Input, error) {
	out := make([]state.Input, 0, len(args))
	for _, a := range args {
		in, ok := state.ParseInput(strings.ToLower(a))
		if !ok {
			return nil, fmt.Errorf("bad keys %q", a)
		}
		out = append(out, in)
	}
	return out, nil
}

// Exec runs cmd against s and writes a one-line result to out. confirm is
// asked before speculation is discarded. It returns ErrQuit for quit.
func (s *Session) Exec(ctx context.Context, cmd Command, out io.Writer, confirm func() bool) error {
	switch cmd.Name {
	case "":
		return nil
	case "help":
		fmt.Fprintln(out, Help)
	case "quit":
		return ErrQuit
	case "nav":
		r, err := s.Navigate(ctx, cmd.X, cmd.Y)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s: %d inputs, %d expanded, %s\n", r.Outcome, len(r.Inputs), r.Expanded, r.Elapsed)
	case "step":
		if err := s.Step(ctx, cmd.Inputs[0]); err != nil {
			return err
		}
		return s.printStatus(ctx, out)
	case "hold":
		if err := s.Hold(ctx, cmd.Inputs[0]); err != nil {
			return err
		}
		fmt.Fprintf(out, "holding %s\n", cmd.Inputs[0])
	case "sim":
		if err := s.Simulate(ctx, cmd.Inputs...); err != nil {
			return err
		}
		return s.printStatus(ctx, out)
	case "rewind", "ff":
		move := s.Rewind
		if cmd.Name == "ff" {
			move = s.FastForward
		}
		moved, err := move(ctx)
		if err != nil {
			return err
		}
		if !moved {
			fmt.Fprintln(out, "cursor did not move")
			return nil
		}
		return s.printStatus(ctx, out)
	case "commit":
		res, err := s.Commit(ctx)
		if err != nil {
			return err
		}
		switch {
		case res.Deferred:
			fmt.Fprintf(out, "deferred: shown tick %d, bound %d\n", res.LiveTick, res.Bound)
		case res.Sent():
			fmt.Fprintf(out, "sent ticks %d..%d (%d changes)\n", res.FromTick, res.ToTick, len(res.Changes))
		default:
			fmt.Fprintln(out, "nothing to commit")
		}
	case "live":
		ok, err := s.ReturnToLive(ctx, confirm)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(out, "kept speculation")
			return nil
		}
		return s.printStatus(ctx, out)
	case "status":
		return s.printStatus(ctx, out)
	case "state":
		st, err := s.State(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "tick %d\n", st.Tick)
		for _, e := range st.Entities {
			fmt.Fprintf(out, "  %s %s (%.2f, %.2f)", e.ID, e.Type, e.X, e.Y)
			if e.Motion != nil {
				fmt.Fprintf(out, " moveV=%.2f jumpV=%.2f canJump=%t", e.MoveV, e.JumpV, e.CanJump)
			}
			fmt.Fprintln(out)
		}
	case "save":
		p, err := s.Save(ctx, cmd.Path)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "saved %s\n", p)
	case "load":
		if err := s.Load(ctx, cmd.Path); err != nil {
			return err
		}
		return s.printStatus(ctx, out)
	default:
		return fmt.Errorf("unknown command %q", cmd.Name)
	}
	return nil
}

func (s *Session) printStatus(ctx context.Context, out io.Writer) error {
	st, err := s.Status(ctx)
	if err != nil {
		return err
	}
	if !st.Ready {
		fmt.Fprintf(out, "waiting for map and start state (dropped %d)\n", st.Dropped)
		return nil
	}
	fmt.Fprintf(out, "%s tick=%d cursor=%d/%d bound=%d held=%s online=%t\n",
		st.Mode, st.Tick, st.Cursor, st.Len, st.Bound, st.Held, st.Online)
	return nil
}
