package engine

import (
	"sync"
	"time"

	"briefbot/internal/delivery"
	"briefbot/internal/task"
)

// Config controls the task execution engine.
type Config struct {
	Workers   int
	QueueSize int

	// DefaultTimeout bounds one execution (summarize + delivery); 0 disables.
	DefaultTimeout time.Duration

	HistorySize int

	// Retry policy defaults (per attempt chain, see RetryPolicy).
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	RetryJitter   float64 // 0.2 = 20%

	// MaxConsecutiveFailures is the auto-pause threshold fallback for
	// records that don't set their own.
	MaxConsecutiveFailures int

	// SweepMaxAge is the retention horizon used by cleanup-kind tasks.
	SweepMaxAge time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 200
	}
	if c.RetryMax <= 0 {
		c.RetryMax = 3
	}
	if c.RetryBase <= 0 {
		c.RetryBase = time.Second
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 5 * time.Minute
	}
	if c.RetryJitter <= 0 {
		c.RetryJitter = 0.2
	}
	if c.MaxConsecutiveFailures <= 0 {
		c.MaxConsecutiveFailures = task.DefaultMaxConsecutiveFailures
	}
	if c.SweepMaxAge <= 0 {
		c.SweepMaxAge = 30 * 24 * time.Hour
	}
	if c.DefaultTimeout < 0 {
		c.DefaultTimeout = 0
	}
	return c
}

// Outcome classifies one finished execution.
type Outcome string

const (
	// OutcomeSuccess: artifact produced, metadata updated, task rescheduled
	// or completed.
	OutcomeSuccess Outcome = "success"
	// OutcomeInsufficient: the summarizer had nothing to report. Expected,
	// non-retryable, no progress toward auto-pause.
	OutcomeInsufficient Outcome = "insufficient_input"
	// OutcomeRetryPending: a transient failure with retries remaining; the
	// scheduler owes a retry attempt after RetryDelay.
	OutcomeRetryPending Outcome = "retry_pending"
	// OutcomeFailed: retries exhausted, consecutive_failures advanced, task
	// still below the auto-pause threshold (or terminal for once tasks).
	OutcomeFailed Outcome = "failed"
	// OutcomePaused: retries exhausted at the auto-pause threshold.
	OutcomePaused Outcome = "paused"
	// OutcomeDiscarded: the task was deleted while running; the late result
	// write was dropped.
	OutcomeDiscarded Outcome = "discarded"
)

// Result is what one execution reports back to the scheduler.
type Result struct {
	Task    *task.Task // updated record (clone); nil when discarded
	TaskID  string
	Attempt int
	Outcome Outcome

	Started  time.Time
	Duration time.Duration
	Err      string

	// RetryDelay is set with OutcomeRetryPending.
	RetryDelay time.Duration

	// Delivery is set on success.
	Delivery *delivery.Report
}

// RunState gates concurrent executions of one task id: strictly serialized
// per id, unordered across ids.
type RunState struct {
	mu       sync.Mutex
	inflight bool
}

func (s *RunState) tryAcquire() bool {
	if s == nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight {
		return false
	}
	s.inflight = true
	return true
}

func (s *RunState) release() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.inflight = false
	s.mu.Unlock()
}

// HistoryItem is one ring-buffer entry for diagnostics.
type HistoryItem struct {
	TaskID   string        `json:"task_id"`
	Kind     task.Kind     `json:"kind"`
	Attempt  int           `json:"attempt"`
	Outcome  Outcome       `json:"outcome"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// TaskEvent is emitted on the event bus for task lifecycle events.
type TaskEvent struct {
	TaskID   string        `json:"task_id"`
	Kind     task.Kind     `json:"kind"`
	Attempt  int           `json:"attempt"`
	Outcome  Outcome       `json:"outcome,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// Snapshot is a lightweight diagnostics view.
type Snapshot struct {
	Workers  int           `json:"workers"`
	QueueLen int           `json:"queue_len"`
	QueueCap int           `json:"queue_cap"`
	InFlight int           `json:"in_flight"`
	History  []HistoryItem `json:"history"`
}
