package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"briefbot/internal/delivery"
	"briefbot/internal/eventbus"
	rtsup "briefbot/internal/runtime/supervisor"
	"briefbot/internal/summarize"
	"briefbot/internal/task"
	"briefbot/internal/task/store"
	"briefbot/pkg/logx"
)

// Service executes tasks on a bounded worker pool. The scheduler enqueues
// due tasks and consumes Results; the service owns the per-id run gates,
// persistence of execution state, retry decisions and the history ring.
type Service struct {
	mu  sync.Mutex
	cfg Config

	log logx.Logger
	bus eventbus.Bus

	store      store.Store
	summarizer summarize.Summarizer
	dispatcher *delivery.Dispatcher

	// onResult is consumed by the scheduler (retry entries, reindexing).
	onResult func(Result)

	q        chan job
	sup      *rtsup.Supervisor
	stopCh   chan struct{}
	stopDone chan struct{}

	inFlight int32

	stateMu sync.Mutex
	states  map[string]*RunState

	hmu     sync.Mutex
	history []HistoryItem
}

type job struct {
	t          *task.Task
	attempt    int
	enqueuedAt time.Time
	state      *RunState
}

func New(cfg Config, st store.Store, sum summarize.Summarizer, disp *delivery.Dispatcher, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:        cfg.withDefaults(),
		log:        log,
		bus:        bus,
		store:      st,
		summarizer: sum,
		dispatcher: disp,
		states:     map[string]*RunState{},
	}
}

// SetResultHandler installs the scheduler's result callback. Must be called
// before Start.
func (s *Service) SetResultHandler(fn func(Result)) {
	s.mu.Lock()
	s.onResult = fn
	s.mu.Unlock()
}

// Apply swaps runtime settings; a changed pool size restarts the workers.
func (s *Service) Apply(ctx context.Context, cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	running := s.stopCh != nil && s.stopDone == nil
	s.mu.Unlock()

	if !running {
		return
	}
	if prev.Workers != cfg.Workers || prev.QueueSize != cfg.QueueSize {
		s.Stop(ctx)
		s.Start(ctx)
	}
}

func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopCh != nil {
		done := s.stopDone
		s.mu.Unlock()
		if done != nil {
			select {
			case <-done:
			case <-ctx.Done():
				return
			}
			s.mu.Lock()
		} else {
			return
		}
		if s.stopCh != nil {
			s.mu.Unlock()
			return
		}
	}

	cfg := s.cfg
	s.q = make(chan job, cfg.QueueSize)
	s.stopCh = make(chan struct{})
	s.stopDone = nil
	queue := s.q
	stopCh := s.stopCh
	atomic.StoreInt32(&s.inFlight, 0)

	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "engine"))),
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	s.mu.Unlock()

	for i := 0; i < cfg.Workers; i++ {
		name := fmt.Sprintf("worker.%d", i)
		sup.GoRestart(name, func(c context.Context) error {
			s.worker(c, stopCh, queue)
			select {
			case <-stopCh:
				return context.Canceled
			default:
			}
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("worker exited unexpectedly")
		})
	}

	s.log.Info("task engine started", logx.Int("workers", cfg.Workers), logx.Int("queue", cap(queue)))
}

// Stop drains the pool: no new jobs are accepted, jobs already executing
// run to completion, and the wait is bounded by ctx. Jobs abandoned at the
// deadline stay Running in the store and are healed on the next start.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}

	done := make(chan struct{})
	s.stopDone = done
	close(s.stopCh)
	sup := s.sup
	s.mu.Unlock()

	go func() {
		if sup != nil {
			_ = sup.Wait(context.Background())
		}
		s.mu.Lock()
		s.q = nil
		s.stopCh = nil
		s.stopDone = nil
		s.sup = nil
		s.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("task engine stopped")
	case <-ctx.Done():
		if sup != nil {
			sup.Cancel()
		}
		s.log.Warn("task engine drain timed out; abandoning in-flight work", logx.Any("err", ctx.Err()))
	}
}

// Enqueue hands a due task to the pool without blocking.
//
// The per-id run gate is acquired here, not in the worker, so two
// simultaneous enqueues for one id resolve to exactly one execution and one
// ErrOverlapSkip.
func (s *Service) Enqueue(t *task.Task, attempt int) error {
	if t == nil || strings.TrimSpace(t.ID) == "" {
		return errors.New("task id required")
	}

	s.mu.Lock()
	q := s.q
	stopCh := s.stopCh
	stopping := s.stopDone != nil
	s.mu.Unlock()

	if q == nil || stopCh == nil {
		return ErrStopped
	}
	if stopping {
		return ErrStopping
	}

	st := s.stateFor(t.ID)
	if !st.tryAcquire() {
		s.publish(eventbus.TaskSkipped, TaskEvent{TaskID: t.ID, Kind: t.Kind, Attempt: attempt, Error: "overlap_skip"})
		return ErrOverlapSkip
	}

	j := job{t: t.Clone(), attempt: attempt, enqueuedAt: time.Now(), state: st}
	select {
	case q <- j:
		return nil
	default:
		st.release()
		return ErrQueueFull
	}
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg := s.cfg
	q := s.q
	s.mu.Unlock()

	snap := Snapshot{Workers: cfg.Workers, InFlight: int(atomic.LoadInt32(&s.inFlight))}
	if q != nil {
		snap.QueueLen = len(q)
		snap.QueueCap = cap(q)
	}
	snap.History = s.History()
	return snap
}

// History returns a copy of the execution history ring, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	out := make([]HistoryItem, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Service) stateFor(id string) *RunState {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	st := s.states[id]
	if st == nil {
		st = &RunState{}
		s.states[id] = st
	}
	return st
}

// forget drops the run gate of a deleted task.
func (s *Service) forget(id string) {
	s.stateMu.Lock()
	delete(s.states, id)
	s.stateMu.Unlock()
}

// Forget releases bookkeeping for a deleted task id.
func (s *Service) Forget(id string) { s.forget(id) }

func (s *Service) recordHistory(item HistoryItem) {
	s.mu.Lock()
	size := s.cfg.HistorySize
	s.mu.Unlock()

	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > size {
		s.history = s.history[len(s.history)-size:]
	}
	s.hmu.Unlock()
}

func (s *Service) publish(evType string, ev TaskEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: evType, Data: ev})
}

func (s *Service) emitResult(res Result) {
	s.mu.Lock()
	fn := s.onResult
	s.mu.Unlock()
	if fn != nil {
		fn(res)
	}
}
