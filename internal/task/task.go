package task

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is stamped on every persisted record so future readers can
// migrate or reject records they don't understand.
const SchemaVersion = 1

// DefaultMaxConsecutiveFailures is the auto-pause threshold applied when a
// record doesn't set its own.
const DefaultMaxConsecutiveFailures = 5

// Kind selects what an execution does.
type Kind string

const (
	// KindSummary summarizes the source's input window and delivers the artifact.
	KindSummary Kind = "summary"
	// KindCleanup sweeps terminal tasks past the retention horizon and
	// delivers a short purge report.
	KindCleanup Kind = "cleanup"
)

func (k Kind) Valid() bool { return k == KindSummary || k == KindCleanup }

// Status is the task lifecycle state.
//
// scheduled -> running -> scheduled   (recurring success, or retries pending)
// scheduled -> running -> completed   (once, success)
// scheduled -> running -> paused      (recurring, consecutive failures at threshold)
// scheduled -> running -> failed      (once, retries exhausted; terminal)
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusRunning, StatusPaused, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal statuses never fire again and are eligible for retention sweeps.
func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusFailed }

// Metadata is execution bookkeeping owned by the engine; callers read it,
// never write it.
type Metadata struct {
	RunCount            int `json:"run_count"`
	FailureCount        int `json:"failure_count"`
	ConsecutiveFailures int `json:"consecutive_failures"`

	LastRunAt     *time.Time    `json:"last_run_at,omitempty"`
	LastSuccessAt *time.Time    `json:"last_success_at,omitempty"`
	LastDuration  time.Duration `json:"last_duration,omitempty"`
	LastError     string        `json:"last_error,omitempty"`
}

// SuccessRate is derived, never stored. ok=false until the first run.
func (m Metadata) SuccessRate() (float64, bool) {
	if m.RunCount <= 0 {
		return 0, false
	}
	return float64(m.RunCount-m.FailureCount) / float64(m.RunCount), true
}

// Task is the aggregate record: identity, schedule, destinations, lifecycle
// state, and execution metadata.
type Task struct {
	SchemaVersion int    `json:"schema_version"`
	ID            string `json:"id"`
	Kind          Kind   `json:"kind"`

	// OwnerScope groups tasks by tenant (workspace/guild); used for listing.
	OwnerScope string `json:"owner_scope"`
	// SourceRef names the summarized resource (channel id, feed, ...).
	SourceRef string `json:"source_ref"`

	Schedule     Schedule      `json:"schedule"`
	Destinations []Destination `json:"destinations"`

	Status   Status   `json:"status"`
	Metadata Metadata `json:"metadata"`

	// MaxConsecutiveFailures is the auto-pause threshold (default 5).
	MaxConsecutiveFailures int `json:"max_consecutive_failures,omitempty"`

	// Lookback fixes the input window length; zero means "since the last
	// successful run".
	Lookback time.Duration `json:"lookback,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New builds a validated task record with a fresh id, scheduled and ready to
// persist.
func New(kind Kind, ownerScope, sourceRef string, sched Schedule, dests []Destination) (*Task, error) {
	now := time.Now().UTC()
	t := &Task{
		SchemaVersion:          SchemaVersion,
		ID:                     uuid.NewString(),
		Kind:                   kind,
		OwnerScope:             strings.TrimSpace(ownerScope),
		SourceRef:              strings.TrimSpace(sourceRef),
		Schedule:               sched,
		Destinations:           append([]Destination(nil), dests...),
		Status:                 StatusScheduled,
		MaxConsecutiveFailures: DefaultMaxConsecutiveFailures,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Validate checks the whole record. Used at construction, at Schedule()
// time, and per record on import.
func (t *Task) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return invalidf("id", "empty")
	}
	if !t.Kind.Valid() {
		return invalidf("kind", "unknown kind %q", string(t.Kind))
	}
	if !t.Status.Valid() {
		return invalidf("status", "unknown status %q", string(t.Status))
	}
	if err := t.Schedule.Validate(); err != nil {
		return err
	}
	if len(t.Destinations) == 0 {
		return invalidf("destinations", "at least one destination required")
	}
	for i, d := range t.Destinations {
		if err := d.Validate(); err != nil {
			return invalidf("destinations", "destination %d: %v", i, err)
		}
	}
	if t.MaxConsecutiveFailures < 0 {
		return invalidf("max_consecutive_failures", "must be >= 0")
	}
	if t.Lookback < 0 {
		return invalidf("lookback", "must be >= 0")
	}
	return nil
}

// Normalize fills defaults on records read from storage or import.
func (t *Task) Normalize() {
	if t.SchemaVersion == 0 {
		t.SchemaVersion = SchemaVersion
	}
	if t.MaxConsecutiveFailures <= 0 {
		t.MaxConsecutiveFailures = DefaultMaxConsecutiveFailures
	}
	if t.Status == "" {
		t.Status = StatusScheduled
	}
}

// NextRun derives the next fire time; never stored, so records can't drift
// from their schedule.
func (t *Task) NextRun(now time.Time) (time.Time, bool) {
	if t.Status.Terminal() || t.Status == StatusPaused {
		return time.Time{}, false
	}
	var last time.Time
	if t.Metadata.LastRunAt != nil {
		last = *t.Metadata.LastRunAt
	}
	if t.Schedule.Kind == ScheduleOnce {
		// Finishing a one-shot is terminal, so a once task that is still
		// schedulable never completed its run. An interrupted attempt stamps
		// LastRunAt before the work starts; keying off it here would strand
		// the owed fire after a crash-heal. Only a recorded success counts.
		last = time.Time{}
		if t.Metadata.LastSuccessAt != nil {
			last = *t.Metadata.LastSuccessAt
		}
	}
	return t.Schedule.Next(last, now)
}

// Window derives the input window for an execution ending at now: a fixed
// lookback when set, otherwise since the last successful run, otherwise
// since creation.
func (t *Task) Window(now time.Time) (from, to time.Time) {
	to = now
	if t.Lookback > 0 {
		return now.Add(-t.Lookback), to
	}
	if t.Metadata.LastSuccessAt != nil {
		return *t.Metadata.LastSuccessAt, to
	}
	return t.CreatedAt, to
}

// Clone returns a deep copy so store snapshots can't be mutated by callers.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	cp := *t
	cp.Destinations = append([]Destination(nil), t.Destinations...)
	if t.Metadata.LastRunAt != nil {
		v := *t.Metadata.LastRunAt
		cp.Metadata.LastRunAt = &v
	}
	if t.Metadata.LastSuccessAt != nil {
		v := *t.Metadata.LastSuccessAt
		cp.Metadata.LastSuccessAt = &v
	}
	return &cp
}
