package delivery

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"briefbot/internal/eventbus"
	"briefbot/internal/summarize"
	"briefbot/internal/task"
	"briefbot/internal/transport"
	"briefbot/internal/transport/telegram"
	"briefbot/pkg/logx"
)

// Dispatcher fans a finished artifact out to a task's destinations.
//
// Destinations are attempted independently and concurrently; one failing
// destination never fails the others or the task. Gateway posts share one
// token-bucket limiter so a burst of finishing tasks can't flood the
// platform.
type Dispatcher struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	gateway transport.Gateway
	http    *http.Client
	log     logx.Logger
	bus     eventbus.Bus
}

func New(cfg Config, gw transport.Gateway, log logx.Logger, bus eventbus.Bus) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{gateway: gw, log: log, bus: bus}
	d.Apply(cfg)
	return d
}

// Apply swaps runtime settings (rate, retries, timeouts). Safe during
// config hot-reload.
func (d *Dispatcher) Apply(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.WebhookTimeout <= 0 {
		cfg.WebhookTimeout = 10 * time.Second
	}
	d.mu.Lock()
	d.cfg = cfg
	d.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	d.http = &http.Client{Timeout: cfg.WebhookTimeout}
	d.mu.Unlock()
}

// FallbackConfigured reports whether auto-pause notifications have a target.
func (d *Dispatcher) FallbackConfigured() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg.FallbackChannel != ""
}

// Dispatch delivers the artifact to every enabled destination of t.
// Results keep the destination order of the task record.
func (d *Dispatcher) Dispatch(ctx context.Context, t *task.Task, a *summarize.Artifact) Report {
	results := make([]Result, len(t.Destinations))

	var wg sync.WaitGroup
	for i, dest := range t.Destinations {
		if !dest.Enabled {
			results[i] = Result{Destination: dest, Skipped: true}
			continue
		}
		wg.Add(1)
		go func(i int, dest task.Destination) {
			defer wg.Done()
			results[i] = d.deliverOne(ctx, t, dest, a)
		}(i, dest)
	}
	wg.Wait()

	rep := Report{Results: results}
	if failed := rep.Failed(); len(failed) > 0 {
		d.log.Warn("artifact partially delivered",
			logx.String("task", t.ID),
			logx.Int("destinations", len(results)),
			logx.Int("failed", len(failed)))
	}
	return rep
}

func (d *Dispatcher) deliverOne(ctx context.Context, t *task.Task, dest task.Destination, a *summarize.Artifact) Result {
	start := time.Now()
	res := Result{Destination: dest}

	var err error
	switch dest.Type {
	case task.DestChannelPost:
		res.Chunks, err = d.postChannel(ctx, dest, a)
	case task.DestWebhook:
		res.Chunks = 1
		err = d.postWebhook(ctx, t, dest, a)
	default:
		err = fmt.Errorf("unsupported destination type %q", dest.Type)
	}
	res.Took = time.Since(start)

	if err != nil {
		res.Detail = err.Error()
		d.log.Warn("delivery failed",
			logx.String("task", t.ID),
			logx.String("type", string(dest.Type)),
			logx.String("target", dest.Target),
			logx.Any("err", err))
		d.publish(eventbus.DeliveryFailed, t.ID, dest, err.Error(), res.Took)
		return res
	}

	res.Delivered = true
	d.log.Debug("delivery sent",
		logx.String("task", t.ID),
		logx.String("type", string(dest.Type)),
		logx.String("target", dest.Target),
		logx.Int("chunks", res.Chunks),
		logx.Duration("took", res.Took))
	d.publish(eventbus.DeliverySent, t.ID, dest, "", res.Took)
	return res
}

func (d *Dispatcher) postChannel(ctx context.Context, dest task.Destination, a *summarize.Artifact) (int, error) {
	ref, err := transport.ParseChannelRef(dest.Target)
	if err != nil {
		return 0, err
	}

	r := renderChannel(a, dest.Format, telegram.TextLimit)
	for _, chunk := range r.chunks {
		if err := d.sendChunk(ctx, ref, chunk, r.opt); err != nil {
			return len(r.chunks), err
		}
	}
	return len(r.chunks), nil
}

// sendChunk posts one chunk with rate limiting and bounded resend attempts.
func (d *Dispatcher) sendChunk(ctx context.Context, ref transport.ChannelRef, chunk string, opt *transport.PostOptions) error {
	d.mu.Lock()
	lim := d.limiter
	retry := d.cfg.SendRetryMax
	gw := d.gateway
	d.mu.Unlock()

	var last error
	for i := 0; i <= retry; i++ {
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return err
			}
		}
		if err := gw.Post(ctx, ref, chunk, opt); err == nil {
			return nil
		} else {
			last = err
		}
		if i == retry {
			break
		}
		delay := time.Duration(200+100*i) * time.Millisecond
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			if !tmr.Stop() {
				<-tmr.C
			}
			return ctx.Err()
		case <-tmr.C:
		}
	}
	return last
}

func (d *Dispatcher) postWebhook(ctx context.Context, t *task.Task, dest task.Destination, a *summarize.Artifact) error {
	contentType, body, err := webhookBody(a, dest.Format, t.ID, t.Kind)
	if err != nil {
		return err
	}
	d.mu.Lock()
	client := d.http
	retry := d.cfg.SendRetryMax
	d.mu.Unlock()

	var last error
	for i := 0; i <= retry; i++ {
		last = postOnce(ctx, client, dest.Target, contentType, body)
		if last == nil {
			return nil
		}
		if i == retry {
			break
		}
		delay := time.Duration(200+100*i) * time.Millisecond
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			if !tmr.Stop() {
				<-tmr.C
			}
			return ctx.Err()
		case <-tmr.C:
		}
	}
	return last
}

// NotifyFailure posts one auto-pause notice to the configured fallback
// channel. Best-effort: an error is logged by the caller, never retried
// into a second failure storm.
func (d *Dispatcher) NotifyFailure(ctx context.Context, t *task.Task, reason string) error {
	d.mu.Lock()
	target := d.cfg.FallbackChannel
	d.mu.Unlock()
	if target == "" {
		return nil
	}
	ref, err := transport.ParseChannelRef(target)
	if err != nil {
		return err
	}
	text := fmt.Sprintf("task %s (%s, source %s) paused after repeated failures: %s",
		t.ID, t.Kind, t.SourceRef, reason)
	return d.sendChunk(ctx, ref, text, &transport.PostOptions{DisablePreview: true})
}

func (d *Dispatcher) publish(evType, taskID string, dest task.Destination, detail string, took time.Duration) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(eventbus.Event{Type: evType, Data: DeliveryEvent{
		TaskID: taskID,
		Type:   string(dest.Type),
		Target: dest.Target,
		Detail: detail,
		Took:   took,
	}})
}
