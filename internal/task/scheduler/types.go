package scheduler

import (
	"time"

	"briefbot/internal/task"
	"briefbot/internal/task/engine"
)

// Config controls the timer loop.
type Config struct {
	Enabled bool

	// PollInterval caps the sleep between due checks; mutations wake the
	// loop earlier.
	PollInterval time.Duration
	// FireSpread staggers simultaneously due tasks by a random delay in
	// [0, FireSpread); 0 fires them all at once.
	FireSpread time.Duration
	// DrainTimeout bounds the phase-two engine drain during Stop when the
	// caller's context carries no deadline of its own.
	DrainTimeout time.Duration

	Retention RetentionConfig
}

// RetentionConfig controls the periodic sweep of terminal tasks.
type RetentionConfig struct {
	Enabled    bool
	MaxAge     time.Duration
	SweepEvery time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 30 * time.Second
	}
	if c.FireSpread < 0 {
		c.FireSpread = 0
	}
	if c.Retention.MaxAge <= 0 {
		c.Retention.MaxAge = 30 * 24 * time.Hour
	}
	if c.Retention.SweepEvery <= 0 {
		c.Retention.SweepEvery = time.Hour
	}
	return c
}

// entry is one parked fire: the regular next run, or a pending retry of a
// failed attempt chain. Retry entries live only in memory; a restart falls
// back to the schedule-derived time.
type entry struct {
	at      time.Time
	attempt int
	retry   bool
}

// TaskView is a stored record plus its derived next fire time.
type TaskView struct {
	Task *task.Task `json:"task"`
	// NextRun is zero for paused and terminal tasks.
	NextRun time.Time `json:"next_run"`
}

// EntryInfo is one fire-index row for diagnostics.
type EntryInfo struct {
	TaskID  string    `json:"task_id"`
	At      time.Time `json:"at"`
	Attempt int       `json:"attempt"`
	Retry   bool      `json:"retry,omitempty"`
}

// Snapshot is a diagnostics view of the scheduler and its engine.
type Snapshot struct {
	Enabled      bool            `json:"enabled"`
	PollInterval time.Duration   `json:"poll_interval"`
	Entries      []EntryInfo     `json:"entries"`
	Engine       engine.Snapshot `json:"engine"`
}
