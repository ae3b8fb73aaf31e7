package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	plog "tickpilot.dev/internal/persistence/log"
	"tickpilot.dev/internal/persistence/snapshot"
	"tickpilot.dev/internal/sim/tuning"
	"tickpilot.dev/internal/timeline"
)

// SQLiteIndex is a queryable secondary index of commits, navigations and
// saved sessions. Writes are queued and applied by one goroutine; the JSONL
// logs remain the source of truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropCommit     atomic.Uint64
	dropNavigation atomic.Uint64
	dropSession    atomic.Uint64
}

type Stats struct {
	DropCommitTotal     uint64
	DropNavigationTotal uint64
	DropSessionTotal    uint64
	QueueDepth          int
	QueueCapacity       int
}

type reqKind int

const (
	reqCommit reqKind = iota + 1
	reqNavigation
	reqSession
)

type req struct {
	kind reqKind

	commit     plog.CommitRecord
	navigation plog.NavigationRecord
	session    SessionRow
}

type CommitRow struct {
	ID       int64
	At       string
	Bound    uint64
	LiveTick uint64
	Deferred bool
	FromTick uint64
	ToTick   uint64
	Changes  int
	SendErr  string
}

type NavigationRow struct {
	ID        int64
	At        string
	Tick      uint64
	TargetX   float64
	TargetY   float64
	Outcome   string
	Inputs    int
	Expanded  int
	Cells     int
	ElapsedMs int64
	Route     string
}

type SessionRow struct {
	Path    string
	Tick    uint64
	Entries int
	Cursor  int
	SavedAt string
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 4096),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS tunings (
			digest TEXT PRIMARY KEY,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS commits (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			at TEXT NOT NULL,
			bound INTEGER NOT NULL,
			live_tick INTEGER NOT NULL,
			deferred INTEGER NOT NULL,
			from_tick INTEGER NOT NULL,
			to_tick INTEGER NOT NULL,
			changes INTEGER NOT NULL,
			send_err TEXT,
			raw_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_commits_from_tick ON commits(from_tick);`,
		`CREATE TABLE IF NOT EXISTS navigations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			at TEXT NOT NULL,
			tick INTEGER NOT NULL,
			target_x REAL NOT NULL,
			target_y REAL NOT NULL,
			outcome TEXT NOT NULL,
			inputs INTEGER NOT NULL,
			expanded INTEGER NOT NULL,
			cells INTEGER NOT NULL,
			elapsed_ms INTEGER NOT NULL,
			route TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_navigations_outcome ON navigations(outcome, tick);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			path TEXT PRIMARY KEY,
			tick INTEGER NOT NULL,
			entries INTEGER NOT NULL,
			cursor INTEGER NOT NULL,
			saved_at TEXT NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		DropCommitTotal:     s.dropCommit.Load(),
		DropNavigationTotal: s.dropNavigation.Load(),
		DropSessionTotal:    s.dropSession.Load(),
		QueueDepth:          len(s.ch),
		QueueCapacity:       cap(s.ch),
	}
}

func (s *SQLiteIndex) enqueue(r req, drops *atomic.Uint64) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		drops.Add(1)
	}
}

// RecordCommit indexes a commit attempt. Empty no-op commits are skipped.
func (s *SQLiteIndex) RecordCommit(r timeline.CommitResult) {
	if !r.Sent() && !r.Deferred {
		return
	}
	if s == nil {
		return
	}
	s.enqueue(req{kind: reqCommit, commit: plog.NewCommitRecord(r)}, &s.dropCommit)
}

func (s *SQLiteIndex) RecordNavigation(rec plog.NavigationRecord) {
	if s == nil {
		return
	}
	s.enqueue(req{kind: reqNavigation, navigation: rec}, &s.dropNavigation)
}

func (s *SQLiteIndex) RecordSession(path string, h snapshot.Header, cursor int) {
	if s == nil || path == "" {
		return
	}
	row := SessionRow{Path: path, Tick: h.Tick, Entries: h.Entries, Cursor: cursor, SavedAt: h.SavedAt}
	s.enqueue(req{kind: reqSession, session: row}, &s.dropSession)
}

// UpsertTuning stores the tuning actually applied, keyed by the digest of its
// canonical JSON, and returns that digest.
func (s *SQLiteIndex) UpsertTuning(tune tuning.Tuning) (string, error) {
	if s == nil {
		return "", nil
	}
	b, err := json.Marshal(tune)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	digest := hex.EncodeToString(sum[:])
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return "", err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('tuning_digest',?)`, digest); err != nil {
		return "", err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO tunings(digest,json,updated_at) VALUES(?,?,?)`, digest, string(b), now); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return digest, nil
}

func (s *SQLiteIndex) Meta(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key=?`, key).Scan(&v)
	return v, err
}

func (s *SQLiteIndex) Commits(ctx context.Context) ([]CommitRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id,at,bound,live_tick,deferred,from_tick,to_tick,changes,COALESCE(send_err,'') FROM commits ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CommitRow
	for rows.Next() {
		var r CommitRow
		var bound, live, from, to int64
		if err := rows.Scan(&r.ID, &r.At, &bound, &live, &r.Deferred, &from, &to, &r.Changes, &r.SendErr); err != nil {
			return nil, err
		}
		r.Bound, r.LiveTick, r.FromTick, r.ToTick = uint64(bound), uint64(live), uint64(from), uint64(to)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) Navigations(ctx context.Context) ([]NavigationRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id,at,tick,target_x,target_y,outcome,inputs,expanded,cells,elapsed_ms,route FROM navigations ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []NavigationRow
	for rows.Next() {
		var r NavigationRow
		var tick int64
		if err := rows.Scan(&r.ID, &r.At, &tick, &r.TargetX, &r.TargetY, &r.Outcome, &r.Inputs, &r.Expanded, &r.Cells, &r.ElapsedMs, &r.Route); err != nil {
			return nil, err
		}
		r.Tick = uint64(tick)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) Sessions(ctx context.Context) ([]SessionRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT path,tick,entries,cursor,saved_at FROM sessions ORDER BY tick, path`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SessionRow
	for rows.Next() {
		var r SessionRow
		var tick int64
		if err := rows.Scan(&r.Path, &tick, &r.Entries, &r.Cursor, &r.SavedAt); err != nil {
			return nil, err
		}
		r.Tick = uint64(tick)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	// Prepared statements (on db; executed within tx).
	insertCommit, _ := s.db.Prepare(`INSERT INTO commits(at,bound,live_tick,deferred,from_tick,to_tick,changes,send_err,raw_json) VALUES(?,?,?,?,?,?,?,?,?)`)
	insertNavigation, _ := s.db.Prepare(`INSERT INTO navigations(at,tick,target_x,target_y,outcome,inputs,expanded,cells,elapsed_ms,route) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	insertSession, _ := s.db.Prepare(`INSERT OR REPLACE INTO sessions(path,tick,entries,cursor,saved_at) VALUES(?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertCommit, insertNavigation, insertSession} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}
	exec := func(st *sql.Stmt, args ...any) {
		if st == nil || tx == nil {
			return
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return
		}
		opCount++
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqCommit:
			c := r.commit
			raw, _ := json.Marshal(c)
			var sendErr any
			if c.SendErr != "" {
				sendErr = c.SendErr
			}
			exec(insertCommit, c.At, int64(c.Bound), int64(c.LiveTick), c.Deferred, int64(c.FromTick), int64(c.ToTick), len(c.Changes), sendErr, string(raw))

		case reqNavigation:
			n := r.navigation
			exec(insertNavigation, n.At, int64(n.Tick), n.TargetX, n.TargetY, n.Outcome, n.Inputs, n.Expanded, n.Cells, n.ElapsedMs, n.Route)

		case reqSession:
			se := r.session
			exec(insertSession, se.Path, int64(se.Tick), se.Entries, se.Cursor, se.SavedAt)
		}
		flushIfNeeded()
	}

	commit()
}
