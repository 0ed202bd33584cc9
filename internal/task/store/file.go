package store

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"briefbot/internal/task"
	"briefbot/pkg/logx"
)

// compactEvery bounds journal growth between snapshot compactions.
const compactEvery = 256

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.tasks.snapshot.jsonl (one task record per line)
//   - <prefix>.tasks.journal.jsonl  (append-only journal of save/delete ops)
//
// The journal is periodically compacted into the snapshot via a temp file
// and an atomic rename, so a reader never observes a half-written snapshot.
// Records that fail to decode during replay are skipped and logged, not
// fatal to loading the rest.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journalFile  *os.File

	tasks map[string]*task.Task

	writes int
}

type journalRecord struct {
	Op   string     `json:"op"` // "save" | "delete"
	ID   string     `json:"id,omitempty"`
	Task *task.Task `json:"task,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".tasks.snapshot.jsonl"
	journalPath := prefix + ".tasks.journal.jsonl"

	tasks := map[string]*task.Task{}
	skipped := 0
	skipped += replaySnapshot(snapPath, tasks)
	skipped += replayJournal(journalPath, tasks)
	if skipped > 0 {
		log.Warn("corrupted task records skipped during load", logx.Int("skipped", skipped), logx.Int("loaded", len(tasks)))
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}

	s := &fileStore{
		log:          log,
		snapshotPath: snapPath,
		journalFile:  jf,
		tasks:        tasks,
	}

	// Fold the replayed journal into a fresh snapshot right away so a crash
	// loop can't grow the journal without bound.
	s.mu.Lock()
	if err := s.compactLocked(); err != nil {
		log.Debug("startup compact failed", logx.Any("err", err))
	}
	s.mu.Unlock()

	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return nil
	}
	err := s.journalFile.Close()
	s.journalFile = nil
	return err
}

func (s *fileStore) Save(ctx context.Context, t *task.Task) error {
	_ = ctx
	if t == nil || strings.TrimSpace(t.ID) == "" {
		return errors.New("save: task id required")
	}
	cp := t.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(cp)
}

func (s *fileStore) SaveExisting(ctx context.Context, t *task.Task) error {
	_ = ctx
	if t == nil || strings.TrimSpace(t.ID) == "" {
		return errors.New("save: task id required")
	}
	cp := t.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[cp.ID]; !ok {
		return ErrNotFound
	}
	return s.saveLocked(cp)
}

func (s *fileStore) saveLocked(cp *task.Task) error {
	if s.journalFile == nil {
		return errors.New("task journal closed")
	}
	if err := json.NewEncoder(s.journalFile).Encode(journalRecord{Op: "save", Task: cp}); err != nil {
		return err
	}
	s.tasks[cp.ID] = cp
	s.bumpWritesLocked()
	return nil
}

func (s *fileStore) Load(ctx context.Context, id string) (*task.Task, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[strings.TrimSpace(id)]
	if !ok {
		return nil, ErrNotFound
	}
	return t.Clone(), nil
}

func (s *fileStore) LoadAll(ctx context.Context) ([]*task.Task, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*task.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.Clone())
	}
	return out, nil
}

func (s *fileStore) Delete(ctx context.Context, id string) error {
	_ = ctx
	id = strings.TrimSpace(id)
	if id == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return nil
	}
	if s.journalFile == nil {
		return errors.New("task journal closed")
	}
	if err := json.NewEncoder(s.journalFile).Encode(journalRecord{Op: "delete", ID: id}); err != nil {
		return err
	}
	delete(s.tasks, id)
	s.bumpWritesLocked()
	return nil
}

func (s *fileStore) Export(ctx context.Context) ([]byte, error) {
	return exportAll(ctx, s)
}

func (s *fileStore) Import(ctx context.Context, blob []byte) (ImportReport, error) {
	return importAll(ctx, s, blob)
}

func (s *fileStore) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, t := range s.tasks {
		if !sweepable(t, cutoff) {
			continue
		}
		if s.journalFile == nil {
			return removed, errors.New("task journal closed")
		}
		if err := json.NewEncoder(s.journalFile).Encode(journalRecord{Op: "delete", ID: id}); err != nil {
			return removed, err
		}
		delete(s.tasks, id)
		removed++
	}
	if removed > 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("sweep compact failed", logx.Any("err", err))
		}
	}
	return removed, nil
}

func (s *fileStore) bumpWritesLocked() {
	s.writes++
	if s.writes%compactEvery == 0 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("task compact failed", logx.Any("err", err))
		}
	}
}

// compactLocked writes the full state to a temp snapshot, fsyncs, renames it
// over the old snapshot, then truncates the journal.
func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	for _, t := range s.tasks {
		if err := enc.Encode(t); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if s.journalFile == nil {
		return nil
	}
	if err := s.journalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.journalFile.Seek(0, 2)
	return err
}

// replaySnapshot loads one task record per line, skipping lines that don't
// decode or fail validation. Returns the number of skipped lines.
func replaySnapshot(path string, out map[string]*task.Task) int {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()

	skipped := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var t task.Task
		if err := json.Unmarshal([]byte(line), &t); err != nil || strings.TrimSpace(t.ID) == "" {
			skipped++
			continue
		}
		t.Normalize()
		out[t.ID] = &t
	}
	return skipped
}

// replayJournal applies save/delete ops on top of the snapshot state.
func replayJournal(path string, out map[string]*task.Task) int {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()

	skipped := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var r journalRecord
		if err := json.Unmarshal([]byte(line), &r); err != nil {
			skipped++
			continue
		}
		switch r.Op {
		case "save":
			if r.Task == nil || strings.TrimSpace(r.Task.ID) == "" {
				skipped++
				continue
			}
			r.Task.Normalize()
			out[r.Task.ID] = r.Task
		case "delete":
			if r.ID == "" {
				skipped++
				continue
			}
			delete(out, r.ID)
		default:
			skipped++
		}
	}
	return skipped
}
