package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"tickpilot.dev/internal/persistence/indexdb"
	"tickpilot.dev/internal/sim/encoding"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional; defaults to <data>/index/pilot.sqlite)")
	limit := fs.Int("limit", 20, "result limit (most recent rows)")
	outcome := fs.String("outcome", "", "outcome filter (navigations)")
	_ = fs.Parse(args)

	q := "sessions"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "pilot.sqlite")
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	idx, err := indexdb.OpenSQLite(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer idx.Close()
	ctx := context.Background()

	switch q {
	case "sessions":
		rows, err := idx.Sessions(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		for _, r := range tail(rows, *limit) {
			printJSON(r)
		}

	case "commits":
		rows, err := idx.Commits(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		for _, r := range tail(rows, *limit) {
			printJSON(r)
		}

	case "navigations":
		rows, err := idx.Navigations(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		var keep []indexdb.NavigationRow
		for _, r := range rows {
			if *outcome == "" || r.Outcome == *outcome {
				keep = append(keep, r)
			}
		}
		for _, r := range tail(keep, *limit) {
			out := struct {
				indexdb.NavigationRow
				RouteInputs string `json:"route_inputs,omitempty"`
			}{NavigationRow: r}
			if r.Route != "" {
				in, err := encoding.DecodeInputs(r.Route)
				if err != nil {
					out.RouteInputs = "bad route: " + err.Error()
				} else {
					out.RouteInputs = encoding.FormatInputs(in)
				}
			}
			printJSON(out)
		}

	case "tuning":
		digest, err := idx.Meta(ctx, "tuning_digest")
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		fmt.Println(digest)

	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q, "(sessions|commits|navigations|tuning)")
		os.Exit(2)
	}
}

func tail[T any](rows []T, n int) []T {
	if n <= 0 || len(rows) <= n {
		return rows
	}
	return rows[len(rows)-n:]
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
