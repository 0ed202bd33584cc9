package app

import (
	"strings"
	"time"

	"briefbot/internal/config"
	"briefbot/internal/delivery"
	"briefbot/internal/observability/pprof"
	"briefbot/internal/summarize"
	"briefbot/internal/task/engine"
	"briefbot/internal/task/scheduler"
	"briefbot/internal/task/store"
	"briefbot/internal/transport/telegram"
)

// The map* helpers translate the raw config document (duration strings,
// optional sections) into typed component configs. They are also run by the
// reload validator so a bad edit is rejected before anything applies it.

func mapStoreConfig(cfg *config.Config) (store.Config, error) {
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 0)
	if err != nil {
		return store.Config{}, err
	}
	return store.Config{
		Driver:      strings.TrimSpace(strings.ToLower(cfg.Storage.Driver)),
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	poll, err := config.ParseDurationOrDefault("scheduler.poll_interval", cfg.Scheduler.PollInterval, 30*time.Second)
	if err != nil {
		return scheduler.Config{}, err
	}
	spread, err := config.ParseDurationOrDefault("scheduler.fire_spread", cfg.Scheduler.FireSpread, 0)
	if err != nil {
		return scheduler.Config{}, err
	}
	drain, err := config.ParseDurationOrDefault("scheduler.drain_timeout", cfg.Scheduler.DrainTimeout, 30*time.Second)
	if err != nil {
		return scheduler.Config{}, err
	}
	maxAge, err := config.ParseDurationOrDefault("retention.max_age", cfg.Retention.MaxAge, 30*24*time.Hour)
	if err != nil {
		return scheduler.Config{}, err
	}
	every, err := config.ParseDurationOrDefault("retention.sweep_every", cfg.Retention.SweepEvery, time.Hour)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Enabled:      cfg.Scheduler.Enabled,
		PollInterval: poll,
		FireSpread:   spread,
		DrainTimeout: drain,
		Retention: scheduler.RetentionConfig{
			Enabled:    cfg.Retention.Enabled,
			MaxAge:     maxAge,
			SweepEvery: every,
		},
	}, nil
}

func mapEngineConfig(cfg *config.Config) (engine.Config, error) {
	base, err := config.ParseDurationOrDefault("engine.retry_base", cfg.Engine.RetryBase, time.Second)
	if err != nil {
		return engine.Config{}, err
	}
	maxDelay, err := config.ParseDurationOrDefault("engine.retry_max_delay", cfg.Engine.RetryMaxDelay, 5*time.Minute)
	if err != nil {
		return engine.Config{}, err
	}
	timeout, err := config.ParseDurationOrDefault("engine.default_timeout", cfg.Engine.DefaultTimeout, 2*time.Minute)
	if err != nil {
		return engine.Config{}, err
	}
	sweepAge, err := config.ParseDurationOrDefault("retention.max_age", cfg.Retention.MaxAge, 30*24*time.Hour)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		Workers:                cfg.Engine.Workers,
		HistorySize:            cfg.Engine.HistorySize,
		DefaultTimeout:         timeout,
		RetryMax:               cfg.Engine.RetryMax,
		RetryBase:              base,
		RetryMaxDelay:          maxDelay,
		MaxConsecutiveFailures: cfg.Engine.MaxConsecutiveFailures,
		SweepMaxAge:            sweepAge,
	}, nil
}

func mapDeliveryConfig(cfg *config.Config) (delivery.Config, error) {
	timeout, err := config.ParseDurationOrDefault("delivery.webhook_timeout", cfg.Delivery.WebhookTimeout, 10*time.Second)
	if err != nil {
		return delivery.Config{}, err
	}
	return delivery.Config{
		RatePerSec:      cfg.Delivery.RatePerSec,
		SendRetryMax:    cfg.Delivery.SendRetryMax,
		WebhookTimeout:  timeout,
		FallbackChannel: strings.TrimSpace(cfg.Delivery.FallbackChannel),
	}, nil
}

func mapGatewayConfig(cfg *config.Config) (telegram.Config, error) {
	timeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{Token: strings.TrimSpace(cfg.Telegram.Token), Timeout: timeout}, nil
}

func mapSummarizerConfig(cfg *config.Config) (summarize.ClientConfig, error) {
	timeout, err := config.ParseDurationOrDefault("summarizer.timeout", cfg.Summarizer.Timeout, 60*time.Second)
	if err != nil {
		return summarize.ClientConfig{}, err
	}
	return summarize.ClientConfig{
		BaseURL: strings.TrimSpace(cfg.Summarizer.BaseURL),
		Token:   cfg.Summarizer.Token,
		Timeout: timeout,
	}, nil
}

func mapPprofConfig(cfg *config.Config) (pprof.Config, error) {
	read, err := config.ParseDurationOrDefault("pprof.read_timeout", cfg.Pprof.ReadTimeout, 0)
	if err != nil {
		return pprof.Config{}, err
	}
	write, err := config.ParseDurationOrDefault("pprof.write_timeout", cfg.Pprof.WriteTimeout, 0)
	if err != nil {
		return pprof.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("pprof.idle_timeout", cfg.Pprof.IdleTimeout, 0)
	if err != nil {
		return pprof.Config{}, err
	}
	return pprof.Config{
		Enabled:              cfg.Pprof.Enabled,
		Addr:                 cfg.Pprof.Addr,
		Prefix:               cfg.Pprof.Prefix,
		Token:                cfg.Pprof.Token,
		AllowInsecure:        cfg.Pprof.AllowInsecure,
		ReadTimeout:          read,
		WriteTimeout:         write,
		IdleTimeout:          idle,
		MutexProfileFraction: cfg.Pprof.MutexProfileFraction,
		BlockProfileRate:     cfg.Pprof.BlockProfileRate,
		MemProfileRate:       cfg.Pprof.MemProfileRate,
	}, nil
}
