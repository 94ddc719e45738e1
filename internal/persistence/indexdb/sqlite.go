package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"voxelstream.io/internal/host"
	"voxelstream.io/internal/sim/catalogs"
	"voxelstream.io/internal/sim/tuning"
	"voxelstream.io/internal/sim/world/terrain/voxel"
)

// SQLiteIndex is a secondary read model of host activity. Writes are queued
// and applied by a single goroutine; when the queue is full they are dropped
// and counted.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	// mu orders sends against close(ch).
	mu     sync.RWMutex
	closed bool

	dropSession atomic.Uint64
	dropColumn  atomic.Uint64
	writeErrors atomic.Uint64
}

var _ host.Index = (*SQLiteIndex)(nil)

type reqKind int

const (
	reqSession reqKind = iota + 1
	reqColumn
)

type req struct {
	kind reqKind

	session host.SessionEvent
	column  host.ColumnEvent
}

type Stats struct {
	QueueDepth       int
	QueueCapacity    int
	DropSessionTotal uint64
	DropColumnTotal  uint64
	WriteErrorTotal  uint64
}

// ColumnRow is one served column.
type ColumnRow struct {
	Pos          voxel.ColumnPos
	Digest       string
	GeneratedAt  string
	LastServedAt string
	Serves       int64
}

type SessionRow struct {
	SessionID uint64
	Addr      string
	Kind      string
	At        string
	Requests  uint64
}

const queueSize = 65536

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
		ch: make(chan req, queueSize),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	// NORMAL is a decent durability/perf tradeoff for a secondary index.
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
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id INTEGER NOT NULL,
			addr TEXT NOT NULL,
			kind TEXT NOT NULL,
			at TEXT NOT NULL,
			requests INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_id ON sessions(session_id, seq);`,
		`CREATE TABLE IF NOT EXISTS columns (
			x INTEGER NOT NULL,
			z INTEGER NOT NULL,
			digest TEXT NOT NULL,
			generated_at TEXT NOT NULL,
			last_served_at TEXT NOT NULL,
			serves INTEGER NOT NULL,
			PRIMARY KEY (x, z)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes queued writes and closes the database.
func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) RecordSession(ev host.SessionEvent) {
	if s == nil {
		return
	}
	// Drop if the indexer falls behind; the host log remains the source of truth.
	if !s.enqueue(req{kind: reqSession, session: ev}) {
		s.dropSession.Add(1)
	}
}

func (s *SQLiteIndex) RecordColumn(ev host.ColumnEvent) {
	if s == nil {
		return
	}
	if !s.enqueue(req{kind: reqColumn, column: ev}) {
		s.dropColumn.Add(1)
	}
}

// enqueue reports false only when the queue is full. Requests after Close
// are ignored.
func (s *SQLiteIndex) enqueue(r req) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- r:
		return true
	default:
		return false
	}
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:       len(s.ch),
		QueueCapacity:    cap(s.ch),
		DropSessionTotal: s.dropSession.Load(),
		DropColumnTotal:  s.dropColumn.Load(),
		WriteErrorTotal:  s.writeErrors.Load(),
	}
}

// UpsertCatalogs stores the block definitions and the tuning actually applied,
// keyed by name with their digests.
func (s *SQLiteIndex) UpsertCatalogs(configDir string, cats *catalogs.Catalogs, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	if cats == nil {
		return errors.New("nil catalogs")
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)

	type kv struct {
		name   string
		digest string
		json   []byte
	}
	var rows []kv
	if configDir != "" {
		if b, err := os.ReadFile(filepath.Join(configDir, "blocks.json")); err == nil {
			rows = append(rows, kv{name: "blocks_defs", digest: cats.Blocks.Digest, json: b})
		}
	}
	if b, _ := json.Marshal(cats.Blocks.Palette); len(b) > 0 {
		rows = append(rows, kv{name: "blocks_palette", digest: digestOf(b), json: b})
	}
	// Tuning: store the values we actually apply (canonical JSON).
	if b, _ := json.Marshal(tune); len(b) > 0 {
		rows = append(rows, kv{name: "tuning", digest: digestOf(b), json: b})
	}

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if r.name == "" || r.digest == "" || len(r.json) == 0 {
			continue
		}
		if _, err := stmt.Exec(r.name, r.digest, string(r.json), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func digestOf(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// CatalogDigest returns the stored digest for name.
func (s *SQLiteIndex) CatalogDigest(name string) (string, bool, error) {
	var d string
	err := s.db.QueryRow(`SELECT digest FROM catalogs WHERE name=?`, name).Scan(&d)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return d, true, nil
}

func (s *SQLiteIndex) Column(pos voxel.ColumnPos) (ColumnRow, bool, error) {
	row := ColumnRow{Pos: pos}
	err := s.db.QueryRow(
		`SELECT digest,generated_at,last_served_at,serves FROM columns WHERE x=? AND z=?`,
		pos.X, pos.Z,
	).Scan(&row.Digest, &row.GeneratedAt, &row.LastServedAt, &row.Serves)
	if errors.Is(err, sql.ErrNoRows) {
		return ColumnRow{}, false, nil
	}
	if err != nil {
		return ColumnRow{}, false, err
	}
	return row, true, nil
}

// SessionEvents returns the events of one session in the order they were
// recorded.
func (s *SQLiteIndex) SessionEvents(sessionID uint64) ([]SessionRow, error) {
	rows, err := s.db.Query(
		`SELECT session_id,addr,kind,at,requests FROM sessions WHERE session_id=? ORDER BY seq`,
		int64(sessionID),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SessionRow
	for rows.Next() {
		var r SessionRow
		var id, requests int64
		if err := rows.Scan(&id, &r.Addr, &r.Kind, &r.At, &requests); err != nil {
			return nil, err
		}
		r.SessionID = uint64(id)
		r.Requests = uint64(requests)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	// Prepared statements (on db; executed within tx).
	insertSession, _ := s.db.Prepare(`INSERT INTO sessions(session_id,addr,kind,at,requests) VALUES(?,?,?,?,?)`)
	upsertColumn, _ := s.db.Prepare(`INSERT INTO columns(x,z,digest,generated_at,last_served_at,serves) VALUES(?,?,?,?,?,1)
		ON CONFLICT(x,z) DO UPDATE SET digest=excluded.digest, last_served_at=excluded.last_served_at, serves=serves+1`)
	defer func() {
		if insertSession != nil {
			_ = insertSession.Close()
		}
		if upsertColumn != nil {
			_ = upsertColumn.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			// If we can't start a tx, we can't do much; sleep a bit.
			s.writeErrors.Add(1)
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
		if err := tx.Commit(); err != nil {
			s.writeErrors.Add(1)
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		s.writeErrors.Add(1)
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

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqSession:
			ev := r.session
			if insertSession == nil {
				break
			}
			if _, err := tx.Stmt(insertSession).Exec(
				int64(ev.SessionID),
				ev.Addr,
				string(ev.Kind),
				ev.At.UTC().Format(time.RFC3339Nano),
				int64(ev.Requests),
			); err != nil {
				rollback()
				continue
			}
			opCount++

		case reqColumn:
			ev := r.column
			if upsertColumn == nil {
				break
			}
			at := ev.At.UTC().Format(time.RFC3339Nano)
			if _, err := tx.Stmt(upsertColumn).Exec(
				ev.Pos.X,
				ev.Pos.Z,
				fmt.Sprintf("%016x", ev.Digest),
				at,
				at,
			); err != nil {
				rollback()
				continue
			}
			opCount++
		}
		flushIfNeeded()
	}

	commit()
}
