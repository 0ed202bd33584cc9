package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"briefbot/internal/eventbus"
	"briefbot/internal/summarize"
	"briefbot/internal/task"
	"briefbot/internal/task/store"
	"briefbot/pkg/logx"
)

// SweepEvent is the payload of eventbus.StoreSwept.
type SweepEvent struct {
	TaskID  string `json:"task_id"`
	Removed int    `json:"removed"`
}

func (s *Service) worker(ctx context.Context, stopCh chan struct{}, queue chan job) {
	for {
		// Fast exit: a closed stop channel wins over a ready job.
		select {
		case <-stopCh:
			s.drainQueue(queue)
			return
		default:
		}

		select {
		case <-stopCh:
			s.drainQueue(queue)
			return
		case <-ctx.Done():
			s.drainQueue(queue)
			return
		case j := <-queue:
			atomic.AddInt32(&s.inFlight, 1)
			s.execOne(ctx, j)
			atomic.AddInt32(&s.inFlight, -1)
		}
	}
}

// drainQueue releases the run gates of jobs that were queued but never
// started. Their records stay Scheduled in the store and fire again on the
// next start.
func (s *Service) drainQueue(queue chan job) {
	for {
		select {
		case j := <-queue:
			j.state.release()
		default:
			return
		}
	}
}

func (s *Service) execOne(ctx context.Context, j job) {
	defer j.state.release()

	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	t := j.t
	started := time.Now().UTC()
	log := s.log.With(
		logx.String("task", t.ID),
		logx.String("kind", string(t.Kind)),
		logx.Int("attempt", j.attempt),
	)

	// Mark running before doing any work so a crash mid-run is visible and
	// healed on the next start. A missing record means the task was deleted
	// between enqueue and pickup.
	t.Status = task.StatusRunning
	t.Metadata.LastRunAt = &started
	t.UpdatedAt = started
	if err := s.store.SaveExisting(ctx, t); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.discard(j, started, 0)
			return
		}
		log.Warn("could not persist running state", logx.Any("err", err))
	}
	s.publish(eventbus.TaskStarted, TaskEvent{TaskID: t.ID, Kind: t.Kind, Attempt: j.attempt})

	runCtx := ctx
	cancel := func() {}
	if cfg.DefaultTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, cfg.DefaultTimeout)
	}
	defer cancel()
	artifact, runErr := s.run(runCtx, t, cfg)
	took := time.Since(started)

	res := Result{
		TaskID:   t.ID,
		Attempt:  j.attempt,
		Started:  started,
		Duration: took,
	}
	now := time.Now().UTC()
	t.Metadata.LastDuration = took
	t.UpdatedAt = now
	threshold := t.MaxConsecutiveFailures
	if threshold <= 0 {
		threshold = cfg.MaxConsecutiveFailures
	}
	recurring := t.Schedule.Kind != task.ScheduleOnce

	switch {
	case runErr == nil:
		// Deliver first; metadata reflects the run even if some
		// destinations fail, since the artifact itself was produced.
		rep := s.dispatcher.Dispatch(runCtx, t, artifact)
		res.Delivery = &rep

		t.Metadata.RunCount++
		t.Metadata.ConsecutiveFailures = 0
		t.Metadata.LastSuccessAt = &now
		t.Metadata.LastError = ""
		if recurring {
			t.Status = task.StatusScheduled
		} else {
			t.Status = task.StatusCompleted
		}
		res.Outcome = OutcomeSuccess
		log.Info("task run succeeded",
			logx.Duration("took", took),
			logx.Int("destinations", len(rep.Results)))

	case summarize.IsInsufficientInput(runErr):
		// Expected "nothing to report": counted as a failed run but never
		// retried and never advancing toward auto-pause.
		t.Metadata.RunCount++
		t.Metadata.FailureCount++
		t.Metadata.LastError = runErr.Error()
		if recurring {
			t.Status = task.StatusScheduled
		} else {
			t.Status = task.StatusCompleted
		}
		res.Outcome = OutcomeInsufficient
		res.Err = runErr.Error()
		log.Info("task run had insufficient input", logx.Duration("took", took))

	default:
		kind := classify(runErr)
		decision := policyFromConfig(cfg).Decide(j.attempt, kind)
		res.Err = runErr.Error()
		t.Metadata.LastError = runErr.Error()

		if decision.Retry {
			// The retry chain is in-memory scheduler state; the record
			// goes back to scheduled so a restart mid-chain just falls
			// back to the regular schedule.
			t.Status = task.StatusScheduled
			res.Outcome = OutcomeRetryPending
			res.RetryDelay = decision.Delay
			log.Warn("task run failed, retry pending",
				logx.Any("err", runErr),
				logx.Duration("delay", decision.Delay))
		} else {
			t.Metadata.RunCount++
			t.Metadata.FailureCount++
			t.Metadata.ConsecutiveFailures++
			switch {
			case !recurring:
				t.Status = task.StatusFailed
				res.Outcome = OutcomeFailed
			case t.Metadata.ConsecutiveFailures >= threshold:
				t.Status = task.StatusPaused
				res.Outcome = OutcomePaused
			default:
				t.Status = task.StatusScheduled
				res.Outcome = OutcomeFailed
			}
			log.Error("task run failed",
				logx.Any("err", runErr),
				logx.Int("consecutive", t.Metadata.ConsecutiveFailures),
				logx.String("status", string(t.Status)))
		}
	}

	// Late-write discard: a task deleted while running loses its result.
	if err := s.store.SaveExisting(ctx, t); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.discard(j, started, took)
			return
		}
		log.Error("could not persist run result", logx.Any("err", err))
	}

	res.Task = t.Clone()
	s.finish(res, t.Kind)

	if res.Outcome == OutcomePaused || (res.Outcome == OutcomeFailed && !recurring) {
		s.notifyFailure(ctx, t, log)
	}
	if t.Status.Terminal() || t.Status == task.StatusPaused {
		s.forget(t.ID)
	}
}

// run executes the task body and returns the artifact to deliver.
func (s *Service) run(ctx context.Context, t *task.Task, cfg Config) (a *summarize.Artifact, err error) {
	defer func() {
		if p := recover(); p != nil {
			a = nil
			err = fmt.Errorf("task panicked: %v", p)
		}
	}()

	switch t.Kind {
	case task.KindCleanup:
		return s.runCleanup(ctx, t, cfg)
	default:
		from, to := t.Window(time.Now().UTC())
		return s.summarizer.Summarize(ctx, t.SourceRef, summarize.Window{From: from, To: to}, summarize.Options{})
	}
}

// runCleanup sweeps terminal tasks past the retention horizon and reports
// the result as a regular deliverable artifact.
func (s *Service) runCleanup(ctx context.Context, t *task.Task, cfg Config) (*summarize.Artifact, error) {
	cutoff := time.Now().UTC().Add(-cfg.SweepMaxAge)
	removed, err := s.store.Sweep(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.StoreSwept, Data: SweepEvent{TaskID: t.ID, Removed: removed}})
	}
	now := time.Now().UTC()
	return &summarize.Artifact{
		Title:       "Retention sweep",
		Body:        fmt.Sprintf("Removed %d finished task(s) last updated before %s.", removed, cutoff.Format(time.RFC3339)),
		SourceRef:   t.SourceRef,
		ItemCount:   removed,
		GeneratedAt: now,
	}, nil
}

func (s *Service) discard(j job, started time.Time, took time.Duration) {
	res := Result{
		TaskID:   j.t.ID,
		Attempt:  j.attempt,
		Outcome:  OutcomeDiscarded,
		Started:  started,
		Duration: took,
	}
	s.log.Info("discarding result of deleted task", logx.String("task", j.t.ID))
	s.forget(j.t.ID)
	s.finish(res, j.t.Kind)
}

// finish records history, publishes the lifecycle event and hands the
// result to the scheduler.
func (s *Service) finish(res Result, kind task.Kind) {
	s.recordHistory(HistoryItem{
		TaskID:   res.TaskID,
		Kind:     kind,
		Attempt:  res.Attempt,
		Outcome:  res.Outcome,
		Started:  res.Started,
		Duration: res.Duration,
		Error:    res.Err,
	})

	ev := TaskEvent{
		TaskID:   res.TaskID,
		Kind:     kind,
		Attempt:  res.Attempt,
		Outcome:  res.Outcome,
		Duration: res.Duration,
		Error:    res.Err,
	}
	switch res.Outcome {
	case OutcomeSuccess, OutcomeInsufficient:
		s.publish(eventbus.TaskFinished, ev)
	case OutcomeRetryPending:
		s.publish(eventbus.TaskRetry, ev)
	case OutcomePaused:
		s.publish(eventbus.TaskPaused, ev)
	case OutcomeDiscarded:
		s.publish(eventbus.TaskSkipped, ev)
	default:
		s.publish(eventbus.TaskFailed, ev)
	}

	s.emitResult(res)
}

func (s *Service) notifyFailure(ctx context.Context, t *task.Task, log logx.Logger) {
	if s.dispatcher == nil || !s.dispatcher.FallbackConfigured() {
		return
	}
	reason := t.Metadata.LastError
	if reason == "" {
		reason = "repeated failures"
	}
	if err := s.dispatcher.NotifyFailure(ctx, t, reason); err != nil {
		log.Warn("could not send failure notice", logx.Any("err", err))
	}
}
