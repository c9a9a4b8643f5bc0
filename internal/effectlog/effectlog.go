// Package effectlog persists effects to SQLite as they are emitted.
package effectlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	effects "github.com/mlld-lang/mlld-sub001/internal/effects"
	log "github.com/mlld-lang/mlld-sub001/internal/log"
)

const schema = `
CREATE TABLE IF NOT EXISTS effects (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	ts          INTEGER NOT NULL,
	kind        TEXT NOT NULL,
	text        TEXT NOT NULL,
	source      TEXT NOT NULL DEFAULT '',
	pipeline_id TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_effects_pipeline ON effects(pipeline_id, id);
`

// Filter narrows Query. Zero fields match everything.
type Filter struct {
	PipelineID string
	Source     string
	Kind       effects.Kind
	Since      time.Time
	Limit      int
}

// Store is an effects.Sink writing each effect in its own insert, so a
// crash mid-pipeline keeps everything produced up to that point.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// Open creates or opens the database at path. ":memory:" is accepted.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("effectlog: create directory: %w", err)
		}
		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("effectlog: open: %w", err)
	}
	// one connection keeps ":memory:" a single database
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("effectlog: init schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Emit implements effects.Sink. Write failures are logged, not returned.
func (s *Store) Emit(e effects.Effect) {
	if err := s.Append(context.Background(), e); err != nil {
		log.Warn("effect log write failed", "err", err)
	}
}

// Append inserts one effect.
func (s *Store) Append(ctx context.Context, e effects.Effect) error {
	ts := e.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO effects (ts, kind, text, source, pipeline_id) VALUES (?, ?, ?, ?, ?)`,
		ts.UnixNano(), string(e.Kind), e.Text, e.Source, e.PipelineID)
	return err
}

// Query returns matching effects in emission order.
func (s *Store) Query(ctx context.Context, f Filter) ([]effects.Effect, error) {
	var (
		where []string
		args  []any
	)
	if f.PipelineID != "" {
		where = append(where, "pipeline_id = ?")
		args = append(args, f.PipelineID)
	}
	if f.Source != "" {
		where = append(where, "source = ?")
		args = append(args, f.Source)
	}
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(f.Kind))
	}
	if !f.Since.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, f.Since.UnixNano())
	}
	q := "SELECT ts, kind, text, source, pipeline_id FROM effects"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY id"
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []effects.Effect
	for rows.Next() {
		var (
			e    effects.Effect
			ts   int64
			kind string
		)
		if err := rows.Scan(&ts, &kind, &e.Text, &e.Source, &e.PipelineID); err != nil {
			return nil, err
		}
		e.Kind = effects.Kind(kind)
		e.Time = time.Unix(0, ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune deletes effects older than d and reports how many went.
func (s *Store) Prune(ctx context.Context, d time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `DELETE FROM effects WHERE ts < ?`, time.Now().Add(-d).UnixNano())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) Close() error {
	return s.db.Close()
}
