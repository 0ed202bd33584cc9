package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"briefbot/internal/eventbus"
	rtsup "briefbot/internal/runtime/supervisor"
	"briefbot/internal/task"
	"briefbot/internal/task/engine"
	"briefbot/internal/task/store"
	"briefbot/pkg/logx"
)

// retryEnqueueDelay is how long a due task waits after the engine queue
// rejected it full.
const retryEnqueueDelay = 5 * time.Second

// Service owns WHEN tasks fire. It keeps a store-backed in-memory fire
// index, sleeps until the earliest entry, and hands due tasks to the
// engine. Engine results flow back through onResult and re-arm the index.
type Service struct {
	mu  sync.Mutex
	cfg Config

	log logx.Logger
	bus eventbus.Bus

	store  store.Store
	engine *engine.Service

	entries map[string]entry
	// pendingPause parks a Pause() issued while the task was executing;
	// applied when the run's result arrives.
	pendingPause map[string]bool

	wake    chan struct{}
	sup     *rtsup.Supervisor
	started bool
}

func New(cfg Config, st store.Store, eng *engine.Service, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:          cfg.withDefaults(),
		log:          log,
		bus:          bus,
		store:        st,
		engine:       eng,
		entries:      map[string]entry{},
		pendingPause: map[string]bool{},
		wake:         make(chan struct{}, 1),
	}
	eng.SetResultHandler(s.onResult)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.mu.Unlock()
	s.kick()
}

// Start loads the stored records, heals stale Running statuses left by a
// crash, builds the fire index and starts the supervised loops. A
// store-wide load failure aborts the start.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	cfg := s.cfg
	s.mu.Unlock()

	tasks, err := s.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}

	now := time.Now().UTC()
	var indexed, healed int
	s.mu.Lock()
	for _, t := range tasks {
		if t.Status.Terminal() || t.Status == task.StatusPaused {
			continue
		}
		if t.Status == task.StatusRunning {
			// Interrupted mid-run by a crash or an abandoned drain.
			t.Status = task.StatusScheduled
			t.UpdatedAt = now
			if err := s.store.SaveExisting(ctx, t); err != nil {
				s.log.Warn("could not heal interrupted task",
					logx.String("task", t.ID), logx.Any("err", err))
			}
			healed++
		}
		next, ok := t.NextRun(now)
		if !ok {
			s.log.Warn("stored task has no next run; leaving unscheduled",
				logx.String("task", t.ID), logx.String("schedule", t.Schedule.String()))
			continue
		}
		s.entries[t.ID] = entry{at: s.spread(next)}
		indexed++
	}
	s.mu.Unlock()

	s.engine.Start(ctx)

	sup := rtsup.New(ctx, rtsup.WithLogger(s.log.With(logx.String("comp", "scheduler"))), rtsup.WithCancelOnError(false))
	s.mu.Lock()
	s.sup = sup
	s.started = true
	s.mu.Unlock()

	sup.GoRestart("fire-loop", s.loop)
	if cfg.Retention.Enabled {
		sup.GoRestart("retention", s.retentionLoop)
	}

	s.log.Info("scheduler started",
		logx.Int("tasks", len(tasks)),
		logx.Int("indexed", indexed),
		logx.Int("healed", healed))
	return nil
}

// Stop is two-phase: first the loops stop so nothing new fires, then the
// engine pool drains under the caller's deadline (or DrainTimeout when the
// context has none). Undrained tasks stay Running in the store and are
// healed on the next Start.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	sup := s.sup
	s.sup = nil
	cfg := s.cfg
	s.mu.Unlock()

	if sup != nil {
		sup.Cancel()
		_ = sup.Wait(context.Background())
	}

	drainCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		drainCtx, cancel = context.WithTimeout(ctx, cfg.DrainTimeout)
		defer cancel()
	}
	s.engine.Stop(drainCtx)
	s.log.Info("scheduler stopped")
}

// Schedule validates and persists a task record and arms its first fire.
// The task may come in without an id or timestamps; they are stamped here.
func (s *Service) Schedule(ctx context.Context, t *task.Task) (string, error) {
	if t == nil {
		return "", errors.New("nil task")
	}
	now := time.Now().UTC()
	if strings.TrimSpace(t.ID) == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	if t.Status == "" {
		t.Status = task.StatusScheduled
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return "", err
	}
	if err := s.store.Save(ctx, t); err != nil {
		return "", fmt.Errorf("persist task: %w", err)
	}

	if next, ok := t.NextRun(now); ok {
		s.arm(t.ID, s.spread(next), 0, false)
	}
	s.log.Info("task scheduled",
		logx.String("task", t.ID),
		logx.String("kind", string(t.Kind)),
		logx.String("schedule", t.Schedule.String()))
	return t.ID, nil
}

// Cancel removes the record permanently. An execution already in flight
// finishes, but its result write is discarded.
func (s *Service) Cancel(ctx context.Context, id string) error {
	if _, err := s.store.Load(ctx, id); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.entries, id)
	delete(s.pendingPause, id)
	s.mu.Unlock()
	s.engine.Forget(id)
	s.log.Info("task canceled", logx.String("task", id))
	return nil
}

// Pause parks the task. If it is executing right now the run finishes
// normally and the pause applies when its result lands.
func (s *Service) Pause(ctx context.Context, id string) error {
	t, err := s.store.Load(ctx, id)
	if err != nil {
		return err
	}
	switch t.Status {
	case task.StatusPaused:
		return nil
	case task.StatusCompleted, task.StatusFailed:
		return fmt.Errorf("task %s already finished (%s)", id, t.Status)
	case task.StatusRunning:
		s.mu.Lock()
		s.pendingPause[id] = true
		delete(s.entries, id)
		s.mu.Unlock()
		s.log.Info("pause deferred until the running execution finishes", logx.String("task", id))
		return nil
	}

	t.Status = task.StatusPaused
	t.UpdatedAt = time.Now().UTC()
	if err := s.store.SaveExisting(ctx, t); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
	s.log.Info("task paused", logx.String("task", id))
	return nil
}

// Resume returns a paused task to the schedule. The consecutive-failure
// counter resets so a fixed task gets its full failure budget back.
func (s *Service) Resume(ctx context.Context, id string) error {
	t, err := s.store.Load(ctx, id)
	if err != nil {
		return err
	}
	if t.Status != task.StatusPaused {
		return fmt.Errorf("task %s is not paused (%s)", id, t.Status)
	}
	now := time.Now().UTC()
	t.Status = task.StatusScheduled
	t.Metadata.ConsecutiveFailures = 0
	t.UpdatedAt = now
	if err := s.store.SaveExisting(ctx, t); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.pendingPause, id)
	s.mu.Unlock()
	if next, ok := t.NextRun(now); ok {
		s.arm(id, s.spread(next), 0, false)
	}
	s.log.Info("task resumed", logx.String("task", id))
	return nil
}

// Get returns one record with its derived next fire time.
func (s *Service) Get(ctx context.Context, id string) (TaskView, error) {
	t, err := s.store.Load(ctx, id)
	if err != nil {
		return TaskView{}, err
	}
	return s.view(t), nil
}

// List returns stored tasks, newest first. An empty scope matches all.
func (s *Service) List(ctx context.Context, scope string) ([]TaskView, error) {
	tasks, err := s.store.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	scope = strings.TrimSpace(scope)
	out := make([]TaskView, 0, len(tasks))
	for _, t := range tasks {
		if scope != "" && t.OwnerScope != scope {
			continue
		}
		out = append(out, s.view(t))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Task.CreatedAt.After(out[j].Task.CreatedAt)
	})
	return out, nil
}

func (s *Service) view(t *task.Task) TaskView {
	v := TaskView{Task: t}
	if next, ok := t.NextRun(time.Now().UTC()); ok {
		v.NextRun = next
	}
	return v
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{Enabled: s.cfg.Enabled, PollInterval: s.cfg.PollInterval}
	for id, e := range s.entries {
		snap.Entries = append(snap.Entries, EntryInfo{TaskID: id, At: e.at, Attempt: e.attempt, Retry: e.retry})
	}
	s.mu.Unlock()
	sort.Slice(snap.Entries, func(i, j int) bool { return snap.Entries[i].At.Before(snap.Entries[j].At) })
	snap.Engine = s.engine.Snapshot()
	return snap
}

// loop sleeps until the earliest index entry, capped by PollInterval, and
// wakes early on mutations. It never blocks on execution.
func (s *Service) loop(ctx context.Context) error {
	for {
		s.mu.Lock()
		sleep := s.cfg.PollInterval
		enabled := s.cfg.Enabled
		now := time.Now()
		for _, e := range s.entries {
			if d := e.at.Sub(now); d < sleep {
				sleep = d
			}
		}
		s.mu.Unlock()
		if sleep < 0 {
			sleep = 0
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-s.wake:
			timer.Stop()
			continue
		case <-timer.C:
		}
		if enabled {
			s.fireDue(ctx)
		}
	}
}

func (s *Service) fireDue(ctx context.Context) {
	now := time.Now()

	type dueEntry struct {
		id string
		e  entry
	}
	s.mu.Lock()
	var due []dueEntry
	for id, e := range s.entries {
		if !e.at.After(now) {
			due = append(due, dueEntry{id: id, e: e})
			delete(s.entries, id)
		}
	}
	s.mu.Unlock()
	sort.Slice(due, func(i, j int) bool { return due[i].e.at.Before(due[j].e.at) })

	for i, d := range due {
		id, e := d.id, d.e
		t, err := s.store.Load(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			// Transient store trouble must not lose the entry.
			s.log.Warn("could not load due task", logx.String("task", id), logx.Any("err", err))
			s.arm(id, now.Add(retryEnqueueDelay), e.attempt, e.retry)
			continue
		}
		if t.Status != task.StatusScheduled {
			continue
		}

		switch err := s.engine.Enqueue(t, e.attempt); {
		case err == nil:
		case errors.Is(err, engine.ErrOverlapSkip):
			// The previous run of this id is still going; its result will
			// re-arm the entry.
			s.log.Warn("skipping fire, task still running", logx.String("task", id))
		case errors.Is(err, engine.ErrQueueFull):
			s.log.Warn("engine queue full, delaying fire", logx.String("task", id))
			s.arm(id, now.Add(retryEnqueueDelay), e.attempt, e.retry)
		case errors.Is(err, engine.ErrStopping), errors.Is(err, engine.ErrStopped):
			for _, rest := range due[i:] {
				s.arm(rest.id, rest.e.at, rest.e.attempt, rest.e.retry)
			}
			return
		default:
			s.log.Error("could not enqueue task", logx.String("task", id), logx.Any("err", err))
			s.arm(id, now.Add(retryEnqueueDelay), e.attempt, e.retry)
		}
	}
}

// onResult consumes one engine result and re-arms the fire index.
func (s *Service) onResult(res engine.Result) {
	s.mu.Lock()
	paused := s.pendingPause[res.TaskID]
	delete(s.pendingPause, res.TaskID)
	s.mu.Unlock()

	if paused && res.Task != nil && !res.Task.Status.Terminal() {
		s.applyDeferredPause(res.Task)
		return
	}

	switch res.Outcome {
	case engine.OutcomeRetryPending:
		s.arm(res.TaskID, time.Now().Add(res.RetryDelay), res.Attempt+1, true)
		return
	case engine.OutcomePaused, engine.OutcomeDiscarded:
		return
	}

	t := res.Task
	if t == nil || t.Status != task.StatusScheduled {
		return
	}
	now := time.Now().UTC()
	if next, ok := t.NextRun(now); ok {
		s.arm(t.ID, s.spread(next), 0, false)
	}
}

func (s *Service) applyDeferredPause(t *task.Task) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	t = t.Clone()
	t.Status = task.StatusPaused
	t.UpdatedAt = time.Now().UTC()
	if err := s.store.SaveExisting(ctx, t); err != nil && !errors.Is(err, store.ErrNotFound) {
		s.log.Warn("could not apply deferred pause", logx.String("task", t.ID), logx.Any("err", err))
		return
	}
	s.log.Info("task paused", logx.String("task", t.ID))
}

func (s *Service) arm(id string, at time.Time, attempt int, retry bool) {
	s.mu.Lock()
	s.entries[id] = entry{at: at, attempt: attempt, retry: retry}
	s.mu.Unlock()
	s.kick()
}

// spread staggers a fire time by a bounded random delay so tasks sharing a
// slot don't stampede the summarizer.
func (s *Service) spread(at time.Time) time.Time {
	s.mu.Lock()
	spreadMax := s.cfg.FireSpread
	s.mu.Unlock()
	if spreadMax <= 0 {
		return at
	}
	return at.Add(time.Duration(rand.Int63n(int64(spreadMax))))
}

func (s *Service) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Service) retentionLoop(ctx context.Context) error {
	s.mu.Lock()
	cfg := s.cfg.Retention
	s.mu.Unlock()

	ticker := time.NewTicker(cfg.SweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		cutoff := time.Now().UTC().Add(-cfg.MaxAge)
		removed, err := s.store.Sweep(ctx, cutoff)
		if err != nil {
			s.log.Warn("retention sweep failed", logx.Any("err", err))
			continue
		}
		if removed > 0 {
			s.log.Info("retention sweep removed finished tasks", logx.Int("removed", removed))
			if s.bus != nil {
				s.bus.Publish(eventbus.Event{Type: eventbus.StoreSwept, Data: engine.SweepEvent{Removed: removed}})
			}
		}
	}
}
