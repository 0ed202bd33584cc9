package delivery

import (
	"time"

	"briefbot/internal/task"
)

// Config controls the dispatcher.
type Config struct {
	// RatePerSec throttles gateway posts across all tasks (0 = default 3).
	RatePerSec int
	// SendRetryMax is per-destination resend attempts after the first (0 = none).
	SendRetryMax int
	// WebhookTimeout bounds one webhook POST (0 = default 10s).
	WebhookTimeout time.Duration
	// FallbackChannel receives auto-pause failure notifications; empty
	// disables them.
	FallbackChannel string
}

// Result is the outcome of delivering to one destination.
type Result struct {
	Destination task.Destination `json:"destination"`
	Delivered   bool             `json:"delivered"`
	Skipped     bool             `json:"skipped"` // disabled destination
	Detail      string           `json:"detail,omitempty"`
	Chunks      int              `json:"chunks,omitempty"`
	Took        time.Duration    `json:"took,omitempty"`
}

// Report aggregates the fan-out for one artifact. The task counts as
// executed once the artifact exists; FullyDelivered is the separate
// per-destination sub-status.
type Report struct {
	Results []Result `json:"results"`
}

// FullyDelivered reports whether every enabled destination succeeded.
func (r Report) FullyDelivered() bool {
	for _, res := range r.Results {
		if res.Skipped {
			continue
		}
		if !res.Delivered {
			return false
		}
	}
	return true
}

// Failed returns the non-skipped destinations that did not deliver.
func (r Report) Failed() []Result {
	var out []Result
	for _, res := range r.Results {
		if !res.Skipped && !res.Delivered {
			out = append(out, res)
		}
	}
	return out
}

// DeliveryEvent is published on the event bus per destination attempt.
type DeliveryEvent struct {
	TaskID string        `json:"task_id"`
	Type   string        `json:"type"`
	Target string        `json:"target"`
	Detail string        `json:"detail,omitempty"`
	Took   time.Duration `json:"took"`
}
