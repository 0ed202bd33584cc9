package store

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"briefbot/internal/task"
)

// memStore is a volatile in-process store for tests and dry runs.
type memStore struct {
	mu    sync.Mutex
	tasks map[string]*task.Task
}

func newMemory() Store {
	return &memStore{tasks: map[string]*task.Task{}}
}

// NewMemory returns a volatile store. Exported for tests of components that
// require a Store.
func NewMemory() Store { return newMemory() }

func (s *memStore) Save(ctx context.Context, t *task.Task) error {
	_ = ctx
	if t == nil || strings.TrimSpace(t.ID) == "" {
		return errors.New("save: task id required")
	}
	s.mu.Lock()
	s.tasks[t.ID] = t.Clone()
	s.mu.Unlock()
	return nil
}

func (s *memStore) SaveExisting(ctx context.Context, t *task.Task) error {
	_ = ctx
	if t == nil || strings.TrimSpace(t.ID) == "" {
		return errors.New("save: task id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.ID]; !ok {
		return ErrNotFound
	}
	s.tasks[t.ID] = t.Clone()
	return nil
}

func (s *memStore) Load(ctx context.Context, id string) (*task.Task, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[strings.TrimSpace(id)]
	if !ok {
		return nil, ErrNotFound
	}
	return t.Clone(), nil
}

func (s *memStore) LoadAll(ctx context.Context) ([]*task.Task, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*task.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.Clone())
	}
	return out, nil
}

func (s *memStore) Delete(ctx context.Context, id string) error {
	_ = ctx
	s.mu.Lock()
	delete(s.tasks, strings.TrimSpace(id))
	s.mu.Unlock()
	return nil
}

func (s *memStore) Export(ctx context.Context) ([]byte, error) {
	return exportAll(ctx, s)
}

func (s *memStore) Import(ctx context.Context, blob []byte) (ImportReport, error) {
	return importAll(ctx, s, blob)
}

func (s *memStore) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, t := range s.tasks {
		if sweepable(t, cutoff) {
			delete(s.tasks, id)
			removed++
		}
	}
	return removed, nil
}

func (s *memStore) Close() error { return nil }
