package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"temporalsmith.dev/internal/recipe/book"
	"temporalsmith.dev/internal/recipe/loader"
	"temporalsmith.dev/internal/sim/catalogs"
	"temporalsmith.dev/internal/sim/tuning"
)

// tsFormat has fixed width so stored times order as text.
const tsFormat = "2006-01-02T15:04:05.000000000Z"

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropReload   atomic.Uint64
	dropSnapshot atomic.Uint64
	written      atomic.Uint64
}

type reqKind int

const (
	reqReload reqKind = iota + 1
	reqSnapshot
	reqPrune
	// reqSync is answered once everything queued before it is committed.
	reqSync
)

type req struct {
	kind reqKind

	reload   reloadRow
	snapshot snapshotRow
	keep     int
	done     chan struct{}
}

type reloadRow struct {
	ReloadID   string
	StartedAt  string
	FinishedAt string
	Digest     string
	Recipes    []recipeRow
	Failures   []failureRow
}

type recipeRow struct {
	ID          string
	Kind        string
	Category    string
	Group       string
	ResultItem  string
	ResultCount int
	Source      string
	PayloadLen  int
}

type failureRow struct {
	ID    string
	Error string
}

type snapshotRow struct {
	ReloadID string
	Path     string
}

// Stats reports queue pressure. Drops mean the index lags the reload log,
// which stays the source of truth.
type Stats struct {
	QueueDepth        int    `json:"queue_depth"`
	QueueCapacity     int    `json:"queue_capacity"`
	Written           uint64 `json:"written"`
	DropReloadTotal   uint64 `json:"drop_reload_total"`
	DropSnapshotTotal uint64 `json:"drop_snapshot_total"`
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
		ch: make(chan req, 256),
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
		"PRAGMA foreign_keys=ON;",
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
		`CREATE TABLE IF NOT EXISTS reloads (
			reload_id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL,
			digest TEXT NOT NULL,
			loaded INTEGER NOT NULL,
			failures INTEGER NOT NULL,
			snapshot_path TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_reloads_finished ON reloads(finished_at);`,
		`CREATE TABLE IF NOT EXISTS recipes (
			reload_id TEXT NOT NULL REFERENCES reloads(reload_id) ON DELETE CASCADE,
			id TEXT NOT NULL,
			kind TEXT NOT NULL,
			category TEXT NOT NULL,
			group_name TEXT NOT NULL,
			result_item TEXT NOT NULL,
			result_count INTEGER NOT NULL,
			source_sha256 TEXT NOT NULL,
			payload_len INTEGER NOT NULL,
			PRIMARY KEY (reload_id, id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_recipes_result ON recipes(result_item, reload_id);`,
		`CREATE TABLE IF NOT EXISTS failures (
			reload_id TEXT NOT NULL REFERENCES reloads(reload_id) ON DELETE CASCADE,
			id TEXT NOT NULL,
			error TEXT NOT NULL,
			PRIMARY KEY (reload_id, id)
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

// DB exposes the handle for read queries.
func (s *SQLiteIndex) DB() *sql.DB { return s.db }

func (s *SQLiteIndex) Stats() Stats {
	st := Stats{
		Written:           s.written.Load(),
		DropReloadTotal:   s.dropReload.Load(),
		DropSnapshotTotal: s.dropSnapshot.Load(),
	}
	if s.ch != nil {
		st.QueueDepth = len(s.ch)
		st.QueueCapacity = cap(s.ch)
	}
	return st
}

// RecordReload queues the rows for one installed book. It never blocks; a
// full queue drops the reload and counts it.
func (s *SQLiteIndex) RecordReload(bk *book.Book, b *loader.Batch) {
	if s == nil || s.closed.Load() {
		return
	}
	r := reloadRow{
		ReloadID:   b.ReloadID,
		StartedAt:  b.StartedAt.UTC().Format(tsFormat),
		FinishedAt: b.FinishedAt.UTC().Format(tsFormat),
		Digest:     bk.Digest(),
	}
	for _, e := range bk.Entries() {
		res := e.Recipe.ResultItem()
		r.Recipes = append(r.Recipes, recipeRow{
			ID:          e.ID,
			Kind:        string(e.Kind),
			Category:    e.Recipe.Category().String(),
			Group:       e.Recipe.Group(),
			ResultItem:  res.Item,
			ResultCount: res.Count,
			Source:      e.Source,
			PayloadLen:  len(e.Payload),
		})
	}
	for _, f := range b.Failures {
		r.Failures = append(r.Failures, failureRow{ID: f.ID, Error: f.Err.Error()})
	}
	select {
	case s.ch <- req{kind: reqReload, reload: r}:
	default:
		s.dropReload.Add(1)
	}
}

// RecordSnapshot attaches a written snapshot path to its reload row.
func (s *SQLiteIndex) RecordSnapshot(reloadID, path string) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: snapshotRow{ReloadID: reloadID, Path: path}}:
	default:
		s.dropSnapshot.Add(1)
	}
}

// Sync waits until everything queued so far is committed.
func (s *SQLiteIndex) Sync(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqSync, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Prune queues removal of all but the newest keep reloads and their rows.
func (s *SQLiteIndex) Prune(keep int) {
	if s == nil || s.closed.Load() || keep <= 0 {
		return
	}
	select {
	case s.ch <- req{kind: reqPrune, keep: keep}:
	default:
	}
}

// UpsertCatalogs stores the catalogs and tuning a book was built against.
func (s *SQLiteIndex) UpsertCatalogs(configDir string, cats *catalogs.Catalogs, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	type kv struct {
		name   string
		digest string
		json   []byte
	}
	var rows []kv
	names := make([]string, 0, len(cats.Digests))
	for name := range cats.Digests {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		b, err := os.ReadFile(filepath.Join(configDir, name))
		if err != nil {
			continue
		}
		rows = append(rows, kv{name: name, digest: cats.Digests[name], json: b})
	}
	if b, _ := json.Marshal(cats.Items.IDs()); len(b) > 0 {
		rows = append(rows, kv{name: "items_palette", digest: cats.Items.Digest(), json: b})
	}
	if b, _ := json.Marshal(cats.Blocks.IDs()); len(b) > 0 {
		rows = append(rows, kv{name: "blocks_palette", digest: cats.Blocks.Digest(), json: b})
	}
	{
		b, _ := json.Marshal(tune)
		digest := tune.Digest
		if digest == "" {
			digest = "defaults"
		}
		rows = append(rows, kv{name: "tuning", digest: digest, json: b})
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

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertReload, _ := s.db.Prepare(`INSERT OR REPLACE INTO reloads(reload_id,started_at,finished_at,digest,loaded,failures) VALUES(?,?,?,?,?,?)`)
	insertRecipe, _ := s.db.Prepare(`INSERT OR REPLACE INTO recipes(reload_id,id,kind,category,group_name,result_item,result_count,source_sha256,payload_len) VALUES(?,?,?,?,?,?,?,?,?)`)
	insertFailure, _ := s.db.Prepare(`INSERT OR REPLACE INTO failures(reload_id,id,error) VALUES(?,?,?)`)
	updateSnapshot, _ := s.db.Prepare(`UPDATE reloads SET snapshot_path=? WHERE reload_id=?`)
	prune, _ := s.db.Prepare(`DELETE FROM reloads WHERE reload_id NOT IN (SELECT reload_id FROM reloads ORDER BY finished_at DESC LIMIT ?)`)
	stmts := statements{insertReload, insertRecipe, insertFailure, updateSnapshot, prune}
	defer func() {
		for _, st := range []*sql.Stmt{insertReload, insertRecipe, insertFailure, updateSnapshot, prune} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	// One transaction per request: reloads are rare and each must land whole.
	for r := range s.ch {
		if r.kind == reqSync {
			close(r.done)
			continue
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			continue
		}
		if err := stmts.apply(tx, r); err != nil {
			_ = tx.Rollback()
			continue
		}
		if err := tx.Commit(); err == nil {
			s.written.Add(1)
		}
	}
}

type statements struct {
	insertReload, insertRecipe, insertFailure, updateSnapshot, prune *sql.Stmt
}

func (st statements) apply(tx *sql.Tx, r req) error {
	if st.insertReload == nil || st.insertRecipe == nil || st.insertFailure == nil || st.updateSnapshot == nil || st.prune == nil {
		return fmt.Errorf("statements not prepared")
	}
	switch r.kind {
	case reqReload:
		rl := r.reload
		if _, err := tx.Stmt(st.insertReload).Exec(rl.ReloadID, rl.StartedAt, rl.FinishedAt, rl.Digest, len(rl.Recipes), len(rl.Failures)); err != nil {
			return err
		}
		for _, rc := range rl.Recipes {
			if _, err := tx.Stmt(st.insertRecipe).Exec(rl.ReloadID, rc.ID, rc.Kind, rc.Category, rc.Group, rc.ResultItem, rc.ResultCount, rc.Source, rc.PayloadLen); err != nil {
				return err
			}
		}
		for _, f := range rl.Failures {
			if _, err := tx.Stmt(st.insertFailure).Exec(rl.ReloadID, f.ID, f.Error); err != nil {
				return err
			}
		}
	case reqSnapshot:
		if _, err := tx.Stmt(st.updateSnapshot).Exec(r.snapshot.Path, r.snapshot.ReloadID); err != nil {
			return err
		}
	case reqPrune:
		if _, err := tx.Stmt(st.prune).Exec(r.keep); err != nil {
			return err
		}
	}
	return nil
}

// ReloadSummary is one row of the reloads table.
type ReloadSummary struct {
	ReloadID     string `json:"reload_id"`
	FinishedAt   string `json:"finished_at"`
	Digest       string `json:"digest"`
	Loaded       int    `json:"loaded"`
	Failures     int    `json:"failures"`
	SnapshotPath string `json:"snapshot_path,omitempty"`
}

// Reloads lists the newest reloads first.
func Reloads(db *sql.DB, limit int) ([]ReloadSummary, error) {
	rows, err := db.Query(`SELECT reload_id,finished_at,digest,loaded,failures,COALESCE(snapshot_path,'') FROM reloads ORDER BY finished_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ReloadSummary
	for rows.Next() {
		var r ReloadSummary
		if err := rows.Scan(&r.ReloadID, &r.FinishedAt, &r.Digest, &r.Loaded, &r.Failures, &r.SnapshotPath); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LatestReloadID returns the newest reload id, or "" for an empty index.
func LatestReloadID(db *sql.DB) (string, error) {
	var id string
	err := db.QueryRow(`SELECT reload_id FROM reloads ORDER BY finished_at DESC LIMIT 1`).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return id, err
}

type FailureRow struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

func Failures(db *sql.DB, reloadID string) ([]FailureRow, error) {
	rows, err := db.Query(`SELECT id,error FROM failures WHERE reload_id=? ORDER BY id`, reloadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []FailureRow
	for rows.Next() {
		var r FailureRow
		if err := rows.Scan(&r.ID, &r.Error); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type RecipeRow struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Category    string `json:"category"`
	Group       string `json:"group,omitempty"`
	ResultItem  string `json:"result_item"`
	ResultCount int    `json:"result_count"`
}

// Recipes lists the recipes of a reload; a non-empty result filters by
// result item.
func Recipes(db *sql.DB, reloadID, result string) ([]RecipeRow, error) {
	q := `SELECT id,kind,category,group_name,result_item,result_count FROM recipes WHERE reload_id=?`
	args := []any{reloadID}
	if result != "" {
		q += ` AND result_item=?`
		args = append(args, result)
	}
	q += ` ORDER BY id`
	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RecipeRow
	for rows.Next() {
		var r RecipeRow
		if err := rows.Scan(&r.ID, &r.Kind, &r.Category, &r.Group, &r.ResultItem, &r.ResultCount); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
