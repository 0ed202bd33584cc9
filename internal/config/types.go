package config

type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Storage is the durable task store. Required for the daemon: the
	// scheduler refuses to start without a working store.
	Storage StorageConfig `json:"storage"`

	// Scheduler controls the timer loop (firing discipline, drain).
	Scheduler SchedulerConfig `json:"scheduler"`

	// Engine controls task execution (worker pool, retries, auto-pause).
	Engine EngineConfig `json:"engine"`

	// Delivery controls artifact fan-out (rate, send retries, webhooks).
	Delivery DeliveryConfig `json:"delivery"`

	Telegram   TelegramConfig   `json:"telegram"`
	Summarizer SummarizerConfig `json:"summarizer"`

	Retention RetentionConfig `json:"retention,omitempty"`
	Pprof     PprofConfig     `json:"pprof,omitempty"`
}

// StorageConfig controls the task store.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./briefbot_tasks" }
type StorageConfig struct {
	Driver      string `json:"driver"` // "file" | "sqlite" | "none"
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// SchedulerConfig controls the timer loop.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - poll_interval: "30s" (max sleep between due checks)
//   - fire_spread: "0s" (no stagger of simultaneously due tasks)
//   - drain_timeout: "30s" (phase-two shutdown wait)
type SchedulerConfig struct {
	Enabled      bool   `json:"enabled"`
	PollInterval string `json:"poll_interval,omitempty"`
	FireSpread   string `json:"fire_spread,omitempty"`
	DrainTimeout string `json:"drain_timeout,omitempty"`
}

// EngineConfig controls task execution.
//
// Defaults (when fields are omitted/zero):
//   - workers: 4
//   - history_size: 200
//   - retry_max: 3
//   - retry_base: "1s"
//   - retry_max_delay: "5m"
//   - max_consecutive_failures: 5
//   - default_timeout: "2m" ("0s" disables the per-run timeout)
type EngineConfig struct {
	Workers     int `json:"workers,omitempty"`
	HistorySize int `json:"history_size,omitempty"`

	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`

	MaxConsecutiveFailures int `json:"max_consecutive_failures,omitempty"`

	// DefaultTimeout bounds a single execution (summarize + delivery).
	DefaultTimeout string `json:"default_timeout,omitempty"`
}

// DeliveryConfig controls the dispatcher.
//
// Defaults:
//   - rate_per_sec: 3 (gateway posts)
//   - send_retry_max: 2 (per-destination attempts after the first)
//   - webhook_timeout: "10s"
type DeliveryConfig struct {
	RatePerSec     int    `json:"rate_per_sec,omitempty"`
	SendRetryMax   int    `json:"send_retry_max,omitempty"`
	WebhookTimeout string `json:"webhook_timeout,omitempty"`

	// FallbackChannel receives auto-pause failure notifications.
	// Empty disables them.
	FallbackChannel string `json:"fallback_channel,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

// SummarizerConfig points at the external summarizer endpoint.
// The prompt/model internals live behind that endpoint, not here.
type SummarizerConfig struct {
	BaseURL string `json:"base_url"`
	Token   string `json:"token,omitempty"` // optional bearer token (do not log)
	Timeout string `json:"timeout,omitempty"`
}

// RetentionConfig controls the terminal-task sweep.
//
// Defaults: max_age "720h", sweep_every "1h".
type RetentionConfig struct {
	Enabled    bool   `json:"enabled"`
	MaxAge     string `json:"max_age,omitempty"`
	SweepEvery string `json:"sweep_every,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// PprofConfig controls the optional pprof HTTP server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type PprofConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`   // default: "127.0.0.1:6060"
	Prefix        string `json:"prefix,omitempty"` // default: "/debug/pprof/"
	Token         string `json:"token,omitempty"`  // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	// Server timeouts (Go duration strings). WriteTimeout defaults to 0 (disabled)
	// so /profile (which can take 30s+) works reliably.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	// Runtime profiling rates. Leave 0 to keep Go defaults.
	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
	MemProfileRate       int `json:"mem_profile_rate,omitempty"`
}
