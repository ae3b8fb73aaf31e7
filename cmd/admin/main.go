package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	plog "tickpilot.dev/internal/persistence/log"
	"tickpilot.dev/internal/persistence/snapshot"
	"tickpilot.dev/internal/sim/encoding"
	"tickpilot.dev/internal/sim/state"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "db":
			dbCmd(os.Args[2:])
			return
		case "session":
			sessionCmd(os.Args[2:])
			return
		case "commits":
			commitsCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	paths, err := sessionFiles(filepath.Join(*dataDir, "sessions"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, p := range paths {
		h, err := snapshot.ReadHeader(p)
		if err != nil {
			fmt.Printf("%s\tunreadable: %v\n", filepath.Base(p), err)
			continue
		}
		fmt.Printf("%s\ttick=%d entries=%d saved=%s\n", filepath.Base(p), h.Tick, h.Entries, h.SavedAt)
	}
}

func sessionCmd(args []string) {
	fs := flag.NewFlagSet("session", flag.ExitOnError)
	path := fs.String("path", "", "session file (.tl.zst)")
	verbose := fs.Bool("v", false, "print every entry")
	_ = fs.Parse(args)

	if strings.TrimSpace(*path) == "" {
		fmt.Fprintln(os.Stderr, "missing -path")
		os.Exit(2)
	}
	v, err := snapshot.ReadSession(*path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read session:", err)
		os.Exit(1)
	}
	sess, err := snapshot.Decode(v)
	if err != nil {
		fmt.Fprintln(os.Stderr, "decode session:", err)
		os.Exit(1)
	}

	inputs := make([]state.Input, 0, len(sess.Entries))
	for _, e := range sess.Entries {
		inputs = append(inputs, e.Input)
	}
	out := struct {
		snapshot.Header
		Cursor     int    `json:"cursor"`
		ShownTick  uint64 `json:"shown_tick"`
		HasWindow  bool   `json:"has_window"`
		StartTick  uint64 `json:"server_start_tick,omitempty"`
		MapBytes   int    `json:"map_bytes"`
		Inputs     string `json:"inputs"`
		Route      string `json:"route"`
	}{
		Header:     v.Header,
		Cursor:     sess.Cursor,
		ShownTick:  sess.Shown.Tick,
		HasWindow:  sess.Window != nil,
		MapBytes:   len(sess.Map),
		Inputs:     encoding.FormatInputs(inputs),
		Route:      encoding.EncodeInputs(inputs),
	}
	if sess.Window != nil {
		out.StartTick = sess.Window.ServerStartTick
	}
	printJSON(out)

	if *verbose {
		for i, e := range sess.Entries {
			mark := " "
			if i == sess.Cursor {
				mark = ">"
			}
			p, _ := e.State.Player()
			fmt.Printf("%s %d\t%s\t(%.2f, %.2f)\n", mark, e.State.Tick, e.Input, p.X, p.Y)
		}
	}
}

func commitsCmd(args []string) {
	fs := flag.NewFlagSet("commits", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	sinceTick := fs.Uint64("since_tick", 0, "only commits whose first tick is at or after this")
	deferred := fs.Bool("deferred", false, "include deferred cycles")
	_ = fs.Parse(args)

	recs, err := readCommits(filepath.Join(*dataDir, "commits"), *sinceTick, *deferred)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read commits:", err)
		os.Exit(1)
	}
	var ticks int
	for _, r := range recs {
		ticks += len(r.Changes)
		switch {
		case r.Deferred:
			fmt.Printf("%s\tdeferred\tshown=%d bound=%d\n", r.At, r.LiveTick, r.Bound)
		case r.SendErr != "":
			fmt.Printf("%s\tfailed\t%d..%d\t%s\n", r.At, r.FromTick, r.ToTick, r.SendErr)
		default:
			fmt.Printf("%s\tsent\t%d..%d\t%d changes\n", r.At, r.FromTick, r.ToTick, len(r.Changes))
		}
	}
	fmt.Printf("%d records, %d ticks\n", len(recs), ticks)
}

func readCommits(dir string, sinceTick uint64, withDeferred bool) ([]plog.CommitRecord, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl.zst") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var out []plog.CommitRecord
	for _, name := range names {
		f, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		dec, err := zstd.NewReader(f)
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		sc := bufio.NewScanner(dec)
		sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
		for sc.Scan() {
			var r plog.CommitRecord
			if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
				dec.Close()
				_ = f.Close()
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			if r.Deferred && !withDeferred {
				continue
			}
			if !r.Deferred && r.FromTick < sinceTick {
				continue
			}
			out = append(out, r)
		}
		err = sc.Err()
		dec.Close()
		_ = f.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func sessionFiles(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), snapshot.Ext) {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}
