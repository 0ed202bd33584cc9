package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"briefbot/internal/config"
	"briefbot/internal/delivery"
	"briefbot/internal/eventbus"
	"briefbot/internal/observability/pprof"
	rtsup "briefbot/internal/runtime/supervisor"
	"briefbot/internal/summarize"
	"briefbot/internal/task/engine"
	"briefbot/internal/task/scheduler"
	"briefbot/internal/task/store"
	"briefbot/internal/transport/telegram"
	"briefbot/pkg/logx"
)

// App wires the daemon together: config manager, logging, store, gateway,
// dispatcher, engine, scheduler and the optional pprof server.
type App struct {
	cfgm *config.Manager

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store      store.Store
	gateway    *telegram.Gateway
	dispatcher *delivery.Dispatcher
	engine     *engine.Service
	sched      *scheduler.Service
	pprof      *pprof.Service

	sup *rtsup.Supervisor
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))
	bus := eventbus.New()

	// The daemon needs a durable store: the scheduler would otherwise
	// forget every task on restart.
	st, err := OpenStore(cfg, logSvc.Logger().With(logx.String("comp", "store")))
	if err != nil {
		_ = logSvc.Close()
		if errors.Is(err, store.ErrDisabled) {
			return nil, fmt.Errorf("storage.driver: the daemon requires a task store (file or sqlite)")
		}
		return nil, err
	}

	// Past this point the store and log service are open; release them on
	// any failed construction step.
	fail := func(err error) (*App, error) {
		_ = st.Close()
		_ = logSvc.Close()
		return nil, err
	}

	gwCfg, err := mapGatewayConfig(cfg)
	if err != nil {
		return fail(err)
	}
	gw, err := telegram.New(gwCfg, logSvc.Logger().With(logx.String("comp", "telegram")))
	if err != nil {
		return fail(err)
	}

	dlvCfg, err := mapDeliveryConfig(cfg)
	if err != nil {
		return fail(err)
	}
	disp := delivery.New(dlvCfg, gw, logSvc.Logger().With(logx.String("comp", "delivery")), bus)

	sumCfg, err := mapSummarizerConfig(cfg)
	if err != nil {
		return fail(err)
	}
	sum, err := summarize.NewClient(sumCfg, logSvc.Logger().With(logx.String("comp", "summarizer")))
	if err != nil {
		return fail(err)
	}

	engCfg, err := mapEngineConfig(cfg)
	if err != nil {
		return fail(err)
	}
	eng := engine.New(engCfg, st, sum, disp, logSvc.Logger().With(logx.String("comp", "engine")), bus)

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return fail(err)
	}
	sched := scheduler.New(schedCfg, st, eng, logSvc.Logger().With(logx.String("comp", "scheduler")), bus)

	ppCfg, err := mapPprofConfig(cfg)
	if err != nil {
		return fail(err)
	}
	pp := pprof.New(ppCfg, logSvc.Logger().With(logx.String("comp", "pprof")))

	return &App{
		cfgm:       cfgm,
		log:        log,
		logs:       logSvc,
		bus:        bus,
		store:      st,
		gateway:    gw,
		dispatcher: disp,
		engine:     eng,
		sched:      sched,
		pprof:      pp,
	}, nil
}

// OpenStore opens the configured task store. Shared with the one-shot
// export/import commands, which need the store without the rest of the app.
func OpenStore(cfg *config.Config, log logx.Logger) (store.Store, error) {
	sc, err := mapStoreConfig(cfg)
	if err != nil {
		return nil, err
	}
	return store.Open(sc, log)
}

// Scheduler exposes the task API for command surfaces.
func (a *App) Scheduler() *scheduler.Service { return a.sched }

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	runCtx := a.sup.Context()

	// Transactional reload: a config revision is rejected before anything
	// applies it.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		if _, err := mapSchedulerConfig(cfg); err != nil {
			return err
		}
		if _, err := mapEngineConfig(cfg); err != nil {
			return err
		}
		if _, err := mapDeliveryConfig(cfg); err != nil {
			return err
		}
		if _, err := mapPprofConfig(cfg); err != nil {
			return err
		}
		_, err := mapStoreConfig(cfg)
		return err
	})

	if err := a.sched.Start(runCtx); err != nil {
		return err
	}
	if a.pprof.Enabled() {
		a.pprof.Start(runCtx)
	}

	// Debug visibility into the in-process event stream.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case cfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts; only the latest revision matters.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							cfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyReload(c, lastApplied, cfg)
				lastApplied = cfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// applyReload hot-applies a validated config revision. Storage, telegram
// token and summarizer endpoint changes need a restart and only log a
// warning.
func (a *App) applyReload(ctx context.Context, prev, cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	if engCfg, err := mapEngineConfig(cfg); err == nil {
		a.engine.Apply(ctx, engCfg)
	} else {
		a.log.Warn("invalid engine config; keeping previous", logx.Any("err", err))
	}
	if schedCfg, err := mapSchedulerConfig(cfg); err == nil {
		a.sched.Apply(schedCfg)
	} else {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Any("err", err))
	}
	if dlvCfg, err := mapDeliveryConfig(cfg); err == nil {
		a.dispatcher.Apply(dlvCfg)
	} else {
		a.log.Warn("invalid delivery config; keeping previous", logx.Any("err", err))
	}
	if ppCfg, err := mapPprofConfig(cfg); err == nil {
		a.pprof.Reconfigure(ctx, ppCfg)
	} else {
		a.log.Warn("invalid pprof config; keeping previous", logx.Any("err", err))
	}

	if prev != nil {
		if prev.Storage != cfg.Storage {
			a.log.Warn("storage config changed; restart required for changes to take effect")
		}
		if prev.Telegram.Token != cfg.Telegram.Token {
			a.log.Warn("telegram token changed; restart required for changes to take effect")
		}
		if prev.Summarizer != cfg.Summarizer {
			a.log.Warn("summarizer config changed; restart required for changes to take effect")
		}
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.ConfigReloaded})
	a.log.Info("config reloaded")
}

// Done is closed when the run context unwinds (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")
	start := time.Now()

	// Scheduler first: it stops firing, then drains the engine pool.
	a.sched.Stop(ctx)
	a.pprof.Stop(ctx)
	_ = a.gateway.Stop(ctx)

	a.sup.Cancel()
	_ = a.sup.Wait(ctx)

	if err := a.store.Close(); err != nil {
		a.log.Warn("store close failed", logx.Any("err", err))
	}
	a.log.Info("stopped", logx.Duration("took", time.Since(start)))
	return a.logs.Close()
}
