package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"tickpilot.dev/internal/persistence/indexdb"
	plog "tickpilot.dev/internal/persistence/log"
	"tickpilot.dev/internal/pilot"
	"tickpilot.dev/internal/sim/state"
	"tickpilot.dev/internal/sim/tuning"
	"tickpilot.dev/internal/timeline"
	"tickpilot.dev/internal/transport/ws"
)

func main() {
	var (
		url        = flag.String("url", "ws://localhost:8080/v1/ws", "authoritative server ws url")
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		dumpMaps   = flag.Bool("dump_maps", false, "write every received map to <data>/maps")
		dumpChall  = flag.Bool("dump_chall", true, "write terminal data payloads to <data>/chall")
		auth       = flag.String("auth", "", "basic auth user:pass for the game server")
		live       = flag.Bool("live", true, "step the held input every tick while LIVE")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite index (commit/navigation logs are still written)")
		offline    = flag.Bool("offline", false, "do not connect; only load and review saved sessions")

		mapPath   = flag.String("map", "", "loopback: serve this map JSON from a local peer instead of dialing -url")
		startPath = flag.String("start", "", "loopback: start state JSON for the local peer")
	)
	flag.Parse()

	logger := log.New(os.Stderr, "[pilot] ", log.LstdFlags|log.Lmicroseconds)

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", *tuningPath)
		tune = tuning.Defaults()
	}

	ctx, cancel := signalContext()
	defer cancel()

	commitLog := plog.NewCommitLogger(*dataDir)
	defer commitLog.Close()
	navLog := plog.NewNavigationLogger(*dataDir)
	defer navLog.Close()

	cfg := pilot.Config{
		Tuning:        tune,
		DataDir:       *dataDir,
		DumpMaps:      *dumpMaps,
		DumpTerminals: *dumpChall,
		LiveTicks:     *live,
		Commits:       []timeline.Recorder{commitLog},
		Navigations:   []pilot.NavigationRecorder{navLog},
		Logger:        logger,
	}

	if !*disableDB {
		idx, err := indexdb.OpenSQLite(filepath.Join(*dataDir, "index", "pilot.sqlite"))
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer idx.Close()
		if digest, err := idx.UpsertTuning(tune); err != nil {
			logger.Printf("index: upsert tuning: %v", err)
		} else {
			logger.Printf("tuning digest %s", digest[:12])
		}
		cfg.Commits = append(cfg.Commits, idx)
		cfg.Navigations = append(cfg.Navigations, idx)
		cfg.Sessions = append(cfg.Sessions, idx)
	}

	if !*offline {
		target := *url
		if *mapPath != "" {
			addr, stop, err := serveLoopback(*mapPath, *startPath, logger)
			if err != nil {
				logger.Fatalf("loopback: %v", err)
			}
			defer stop()
			target = "ws://" + addr + "/v1/ws"
		}
		header, err := ws.BasicAuth(*auth)
		if err != nil {
			logger.Fatalf("%v", err)
		}
		dialCtx, dialCancel := context.WithTimeout(ctx, 10*time.Second)
		client, err := ws.Dial(dialCtx, ws.Config{URL: target, Header: header, Logger: logger})
		dialCancel()
		if err != nil {
			logger.Fatalf("dial %s: %v", target, err)
		}
		defer client.Close()
		cfg.Conn = client
		logger.Printf("connected to %s", target)
	}

	sess, err := pilot.New(cfg)
	if err != nil {
		logger.Fatalf("pilot: %v", err)
	}
	runErr := make(chan error, 1)
	go func() { runErr <- sess.Run(ctx) }()

	console(ctx, sess, os.Stdin, logger)
	cancel()
	if err := <-runErr; err != nil && !errors.Is(err, context.Canceled) {
		logger.Printf("run: %v", err)
	}
	if n := commitLog.Failures() + navLog.Failures(); n > 0 {
		logger.Printf("%d log writes failed", n)
	}
}

// console reads commands until quit, EOF or ctx ends.
func console(ctx context.Context, sess *pilot.Session, in *os.File, logger *log.Logger) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	// confirm runs on the session loop while console waits in Exec, so it
	// can take the next line itself.
	confirm := func() bool {
		fmt.Print("discard speculation? [y/N] ")
		select {
		case l, ok := <-lines:
			return ok && strings.EqualFold(strings.TrimSpace(l), "y")
		case <-ctx.Done():
			return false
		}
	}

	fmt.Println(pilot.Help)
	for {
		fmt.Print("> ")
		var line string
		select {
		case <-ctx.Done():
			return
		case l, ok := <-lines:
			if !ok {
				return
			}
			line = l
		}
		cmd, err := pilot.ParseCommand(line)
		if err != nil {
			fmt.Println(err)
			continue
		}
		if err := sess.Exec(ctx, cmd, os.Stdout, confirm); err != nil {
			if errors.Is(err, pilot.ErrQuit) {
				return
			}
			if errors.Is(err, pilot.ErrStopped) || errors.Is(err, context.Canceled) {
				logger.Printf("stopped")
				return
			}
			fmt.Println("error:", err)
		}
	}
}

// serveLoopback starts a local peer that sends the given map and start state.
func serveLoopback(mapPath, startPath string, logger *log.Logger) (string, func(), error) {
	if startPath == "" {
		return "", nil, fmt.Errorf("-map needs -start")
	}
	mapRaw, err := os.ReadFile(mapPath)
	if err != nil {
		return "", nil, err
	}
	if !json.Valid(mapRaw) {
		return "", nil, fmt.Errorf("%s: invalid json", mapPath)
	}
	b, err := os.ReadFile(startPath)
	if err != nil {
		return "", nil, err
	}
	var start state.GameState
	if err := json.Unmarshal(b, &start); err != nil {
		return "", nil, fmt.Errorf("%s: %w", startPath, err)
	}

	peer := ws.NewPeer(mapRaw, start, logger)
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/ws", peer.Handler())
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", nil, err
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("loopback serve: %v", err)
		}
	}()
	stop := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		if n := len(peer.Received()); n > 0 {
			logger.Printf("loopback peer received %d ticks batches", n)
		}
	}
	return ln.Addr().String(), stop, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
