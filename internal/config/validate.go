package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate performs structural validation only: enums, duration strings,
// obviously broken values. Reachability of endpoints is a runtime concern.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}

	switch strings.TrimSpace(strings.ToLower(c.Storage.Driver)) {
	case "", "none", "file", "sqlite":
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
	}

	durations := []struct {
		path string
		raw  string
	}{
		{"storage.busy_timeout", c.Storage.BusyTimeout},
		{"scheduler.poll_interval", c.Scheduler.PollInterval},
		{"scheduler.fire_spread", c.Scheduler.FireSpread},
		{"scheduler.drain_timeout", c.Scheduler.DrainTimeout},
		{"engine.retry_base", c.Engine.RetryBase},
		{"engine.retry_max_delay", c.Engine.RetryMaxDelay},
		{"engine.default_timeout", c.Engine.DefaultTimeout},
		{"delivery.webhook_timeout", c.Delivery.WebhookTimeout},
		{"telegram.poll_timeout", c.Telegram.PollTimeout},
		{"summarizer.timeout", c.Summarizer.Timeout},
		{"retention.max_age", c.Retention.MaxAge},
		{"retention.sweep_every", c.Retention.SweepEvery},
		{"pprof.read_timeout", c.Pprof.ReadTimeout},
		{"pprof.write_timeout", c.Pprof.WriteTimeout},
		{"pprof.idle_timeout", c.Pprof.IdleTimeout},
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			return err
		}
	}

	if c.Engine.Workers < 0 {
		return fmt.Errorf("engine.workers: must be >= 0")
	}
	if c.Engine.RetryMax < 0 {
		return fmt.Errorf("engine.retry_max: must be >= 0")
	}
	if c.Engine.MaxConsecutiveFailures < 0 {
		return fmt.Errorf("engine.max_consecutive_failures: must be >= 0")
	}
	if c.Delivery.RatePerSec < 0 {
		return fmt.Errorf("delivery.rate_per_sec: must be >= 0")
	}
	if c.Delivery.SendRetryMax < 0 {
		return fmt.Errorf("delivery.send_retry_max: must be >= 0")
	}

	if s := strings.TrimSpace(c.Summarizer.BaseURL); s != "" {
		u, err := url.Parse(s)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("summarizer.base_url: not an absolute URL: %q", s)
		}
	}

	return nil
}
