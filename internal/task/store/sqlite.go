//go:build sqlite
// +build sqlite

package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"briefbot/internal/task"
	"briefbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// sqliteStore keeps each task as one row with the full record as JSON,
// plus indexed columns for status sweeps.
type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers; a single
	// connection also serializes same-id saves (last-writer-wins).
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	s := &sqliteStore{db: db, log: log}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Save(ctx context.Context, t *task.Task) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if t == nil || strings.TrimSpace(t.ID) == "" {
		return errors.New("save: task id required")
	}
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tasks(id, status, updated_at, record) VALUES(?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET status=excluded.status, updated_at=excluded.updated_at, record=excluded.record`,
		t.ID, string(t.Status), t.UpdatedAt.UTC().Format(time.RFC3339Nano), string(b),
	)
	return err
}

func (s *sqliteStore) SaveExisting(ctx context.Context, t *task.Task) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if t == nil || strings.TrimSpace(t.ID) == "" {
		return errors.New("save: task id required")
	}
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status=?, updated_at=?, record=? WHERE id=?`,
		string(t.Status), t.UpdatedAt.UTC().Format(time.RFC3339Nano), string(b), t.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) Load(ctx context.Context, id string) (*task.Task, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	var record string
	err := s.db.QueryRowContext(ctx, `SELECT record FROM tasks WHERE id = ?`, strings.TrimSpace(id)).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var t task.Task
	if err := json.Unmarshal([]byte(record), &t); err != nil {
		return nil, fmt.Errorf("corrupted record %q: %w", id, err)
	}
	t.Normalize()
	return &t, nil
}

func (s *sqliteStore) LoadAll(ctx context.Context) ([]*task.Task, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, record FROM tasks`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*task.Task
	skipped := 0
	for rows.Next() {
		var id, record string
		if err := rows.Scan(&id, &record); err != nil {
			skipped++
			continue
		}
		var t task.Task
		if err := json.Unmarshal([]byte(record), &t); err != nil || strings.TrimSpace(t.ID) == "" {
			skipped++
			continue
		}
		t.Normalize()
		out = append(out, &t)
	}
	if skipped > 0 {
		s.log.Warn("corrupted task records skipped during load", logx.Int("skipped", skipped), logx.Int("loaded", len(out)))
	}
	return out, rows.Err()
}

func (s *sqliteStore) Delete(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, strings.TrimSpace(id))
	return err
}

func (s *sqliteStore) Export(ctx context.Context) ([]byte, error) {
	return exportAll(ctx, s)
}

func (s *sqliteStore) Import(ctx context.Context, blob []byte) (ImportReport, error) {
	return importAll(ctx, s, blob)
}

func (s *sqliteStore) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM tasks WHERE status IN (?,?) AND updated_at < ?`,
		string(task.StatusCompleted), string(task.StatusFailed), cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
