package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"briefbot/internal/delivery"
	"briefbot/internal/summarize"
	"briefbot/internal/task"
	"briefbot/internal/task/store"
	"briefbot/internal/transport"
	"briefbot/pkg/logx"
)

type fakeSummarizer struct {
	fn func(ctx context.Context, sourceRef string, w summarize.Window) (*summarize.Artifact, error)
}

func (f *fakeSummarizer) Summarize(ctx context.Context, sourceRef string, w summarize.Window, _ summarize.Options) (*summarize.Artifact, error) {
	return f.fn(ctx, sourceRef, w)
}

type capturePost struct {
	Ref  transport.ChannelRef
	Text string
}

type captureGateway struct {
	mu    sync.Mutex
	posts []capturePost
}

func (g *captureGateway) Post(_ context.Context, ref transport.ChannelRef, content string, _ *transport.PostOptions) error {
	g.mu.Lock()
	g.posts = append(g.posts, capturePost{Ref: ref, Text: content})
	g.mu.Unlock()
	return nil
}

func (g *captureGateway) Stop(context.Context) error { return nil }

func (g *captureGateway) all() []capturePost {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]capturePost(nil), g.posts...)
}

type testEngine struct {
	svc     *Service
	store   store.Store
	gateway *captureGateway
	results chan Result
}

func newTestEngine(t *testing.T, cfg Config, sum summarize.Summarizer) *testEngine {
	t.Helper()
	st := store.NewMemory()
	gw := &captureGateway{}
	disp := delivery.New(delivery.Config{RatePerSec: 1000, FallbackChannel: "777"}, gw, logx.Nop(), nil)

	te := &testEngine{
		svc:     New(cfg, st, sum, disp, logx.Nop(), nil),
		store:   st,
		gateway: gw,
		results: make(chan Result, 16),
	}
	te.svc.SetResultHandler(func(r Result) { te.results <- r })
	ctx := context.Background()
	te.svc.Start(ctx)
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		te.svc.Stop(stopCtx)
	})
	return te
}

func (te *testEngine) wait(t *testing.T) Result {
	t.Helper()
	select {
	case r := <-te.results:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a result")
		return Result{}
	}
}

func dailyTask(t *testing.T) *task.Task {
	t.Helper()
	tk, err := task.New(task.KindSummary, "ws-1", "chan-42", task.Daily("09:00", "UTC"), []task.Destination{
		{Type: task.DestChannelPost, Target: "123", Format: task.FormatMarkdown, Enabled: true},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return tk
}

func mustSave(t *testing.T, st store.Store, tk *task.Task) {
	t.Helper()
	if err := st.Save(context.Background(), tk); err != nil {
		t.Fatalf("Save: %v", err)
	}
}

func TestEngineSuccessUpdatesMetadata(t *testing.T) {
	t.Parallel()

	sum := &fakeSummarizer{fn: func(_ context.Context, ref string, w summarize.Window) (*summarize.Artifact, error) {
		return &summarize.Artifact{Title: "Daily digest", Body: "all quiet", SourceRef: ref, ItemCount: 3}, nil
	}}
	te := newTestEngine(t, Config{Workers: 1}, sum)

	tk := dailyTask(t)
	mustSave(t, te.store, tk)

	if err := te.svc.Enqueue(tk, 0); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	res := te.wait(t)
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("outcome = %v, want success (err=%s)", res.Outcome, res.Err)
	}
	if res.Delivery == nil || !res.Delivery.FullyDelivered() {
		t.Fatalf("expected full delivery, got %+v", res.Delivery)
	}

	got, err := te.store.Load(context.Background(), tk.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Status != task.StatusScheduled {
		t.Fatalf("status = %v, want scheduled", got.Status)
	}
	if got.Metadata.RunCount != 1 || got.Metadata.FailureCount != 0 || got.Metadata.ConsecutiveFailures != 0 {
		t.Fatalf("metadata = %+v", got.Metadata)
	}
	if got.Metadata.LastSuccessAt == nil {
		t.Fatal("last_success_at not set")
	}

	posts := te.gateway.all()
	if len(posts) == 0 {
		t.Fatal("nothing posted to the gateway")
	}
	if posts[0].Ref.ChatID != 123 {
		t.Fatalf("posted to chat %d, want 123", posts[0].Ref.ChatID)
	}
	if !strings.Contains(posts[0].Text, "all quiet") {
		t.Fatalf("post missing body: %q", posts[0].Text)
	}
}

func TestEngineInsufficientInputNeverAdvancesAutoPause(t *testing.T) {
	t.Parallel()

	sum := &fakeSummarizer{fn: func(context.Context, string, summarize.Window) (*summarize.Artifact, error) {
		return nil, summarize.InsufficientInput("window is empty")
	}}
	te := newTestEngine(t, Config{Workers: 1}, sum)

	tk := dailyTask(t)
	mustSave(t, te.store, tk)

	for i := 0; i < 3; i++ {
		if err := te.svc.Enqueue(tk, 0); err != nil {
			t.Fatalf("Enqueue #%d: %v", i, err)
		}
		res := te.wait(t)
		if res.Outcome != OutcomeInsufficient {
			t.Fatalf("outcome = %v, want insufficient_input", res.Outcome)
		}
		tk = res.Task
	}

	got, err := te.store.Load(context.Background(), tk.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Status != task.StatusScheduled {
		t.Fatalf("status = %v, want scheduled", got.Status)
	}
	if got.Metadata.ConsecutiveFailures != 0 {
		t.Fatalf("consecutive_failures = %d, want 0", got.Metadata.ConsecutiveFailures)
	}
	if got.Metadata.RunCount != 3 || got.Metadata.FailureCount != 3 {
		t.Fatalf("metadata = %+v", got.Metadata)
	}
	if len(te.gateway.all()) != 0 {
		t.Fatal("insufficient input must not deliver anything")
	}
}

func TestEngineAutoPausesAtThreshold(t *testing.T) {
	t.Parallel()

	sum := &fakeSummarizer{fn: func(context.Context, string, summarize.Window) (*summarize.Artifact, error) {
		return nil, NoRetry(errors.New("source gone"))
	}}
	te := newTestEngine(t, Config{Workers: 1}, sum)

	tk := dailyTask(t)
	tk.MaxConsecutiveFailures = 2
	mustSave(t, te.store, tk)

	if err := te.svc.Enqueue(tk, 0); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	res := te.wait(t)
	if res.Outcome != OutcomeFailed {
		t.Fatalf("first run outcome = %v, want failed", res.Outcome)
	}
	if res.Task.Status != task.StatusScheduled {
		t.Fatalf("first run status = %v, want scheduled", res.Task.Status)
	}

	if err := te.svc.Enqueue(res.Task, 0); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	res = te.wait(t)
	if res.Outcome != OutcomePaused {
		t.Fatalf("second run outcome = %v, want paused", res.Outcome)
	}

	got, err := te.store.Load(context.Background(), tk.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Status != task.StatusPaused {
		t.Fatalf("status = %v, want paused", got.Status)
	}
	if got.Metadata.ConsecutiveFailures != 2 {
		t.Fatalf("consecutive_failures = %d, want 2", got.Metadata.ConsecutiveFailures)
	}

	// Exactly one failure notice to the fallback channel.
	var notices int
	for _, p := range te.gateway.all() {
		if p.Ref.ChatID == 777 {
			notices++
			if !strings.Contains(p.Text, "paused") {
				t.Fatalf("notice text: %q", p.Text)
			}
		}
	}
	if notices != 1 {
		t.Fatalf("fallback notices = %d, want 1", notices)
	}
}

func TestEngineOnceTaskFailsTerminally(t *testing.T) {
	t.Parallel()

	sum := &fakeSummarizer{fn: func(context.Context, string, summarize.Window) (*summarize.Artifact, error) {
		return nil, NoRetry(errors.New("bad request"))
	}}
	te := newTestEngine(t, Config{Workers: 1}, sum)

	tk, err := task.New(task.KindSummary, "ws-1", "chan-42", task.Once(time.Now().Add(time.Minute)), []task.Destination{
		{Type: task.DestChannelPost, Target: "123", Format: task.FormatMarkdown, Enabled: true},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	mustSave(t, te.store, tk)

	if err := te.svc.Enqueue(tk, 0); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	res := te.wait(t)
	if res.Outcome != OutcomeFailed {
		t.Fatalf("outcome = %v, want failed", res.Outcome)
	}

	got, err := te.store.Load(context.Background(), tk.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Status != task.StatusFailed {
		t.Fatalf("status = %v, want failed", got.Status)
	}
}

func TestEngineTransientFailureRequestsRetry(t *testing.T) {
	t.Parallel()

	sum := &fakeSummarizer{fn: func(context.Context, string, summarize.Window) (*summarize.Artifact, error) {
		return nil, summarize.Transient("upstream 503", errors.New("boom"))
	}}
	te := newTestEngine(t, Config{Workers: 1, RetryMax: 2, RetryBase: 10 * time.Millisecond}, sum)

	tk := dailyTask(t)
	mustSave(t, te.store, tk)

	if err := te.svc.Enqueue(tk, 0); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	res := te.wait(t)
	if res.Outcome != OutcomeRetryPending {
		t.Fatalf("outcome = %v, want retry_pending", res.Outcome)
	}
	if res.RetryDelay <= 0 {
		t.Fatalf("retry delay = %v, want > 0", res.RetryDelay)
	}
	// The chain hasn't finished: no accounting yet.
	if res.Task.Metadata.RunCount != 0 || res.Task.Metadata.ConsecutiveFailures != 0 {
		t.Fatalf("metadata advanced mid-chain: %+v", res.Task.Metadata)
	}

	// The scheduler replays the attempt chain until exhaustion.
	attempt := res.Attempt + 1
	for {
		if err := te.svc.Enqueue(res.Task, attempt); err != nil {
			t.Fatalf("Enqueue attempt %d: %v", attempt, err)
		}
		res = te.wait(t)
		if res.Outcome != OutcomeRetryPending {
			break
		}
		attempt = res.Attempt + 1
	}
	if res.Outcome != OutcomeFailed {
		t.Fatalf("final outcome = %v, want failed", res.Outcome)
	}
	if res.Task.Metadata.RunCount != 1 || res.Task.Metadata.ConsecutiveFailures != 1 {
		t.Fatalf("metadata after exhaustion: %+v", res.Task.Metadata)
	}
}

func TestEngineSerializesRunsPerTask(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	sum := &fakeSummarizer{fn: func(ctx context.Context, ref string, _ summarize.Window) (*summarize.Artifact, error) {
		close(started)
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return &summarize.Artifact{Body: "late", SourceRef: ref}, nil
	}}
	te := newTestEngine(t, Config{Workers: 2}, sum)

	tk := dailyTask(t)
	mustSave(t, te.store, tk)

	if err := te.svc.Enqueue(tk, 0); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	<-started

	if err := te.svc.Enqueue(tk, 0); err == nil || !errors.Is(err, ErrOverlapSkip) {
		t.Fatalf("second enqueue err = %v, want ErrOverlapSkip", err)
	}

	close(release)
	if res := te.wait(t); res.Outcome != OutcomeSuccess {
		t.Fatalf("outcome = %v, want success", res.Outcome)
	}

	// Gate is free again after the run finished.
	if err := te.svc.Enqueue(tk, 0); err != nil {
		t.Fatalf("enqueue after release: %v", err)
	}
	te.wait(t)
}

func TestEngineDiscardsResultOfDeletedTask(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	sum := &fakeSummarizer{fn: func(ctx context.Context, ref string, _ summarize.Window) (*summarize.Artifact, error) {
		close(started)
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return &summarize.Artifact{Body: "too late", SourceRef: ref}, nil
	}}
	te := newTestEngine(t, Config{Workers: 1}, sum)

	tk := dailyTask(t)
	mustSave(t, te.store, tk)

	if err := te.svc.Enqueue(tk, 0); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	<-started
	if err := te.store.Delete(context.Background(), tk.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	close(release)

	res := te.wait(t)
	if res.Outcome != OutcomeDiscarded {
		t.Fatalf("outcome = %v, want discarded", res.Outcome)
	}
	if _, err := te.store.Load(context.Background(), tk.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Load after delete: %v, want ErrNotFound", err)
	}
}

func TestEngineCleanupSweepsTerminalTasks(t *testing.T) {
	t.Parallel()

	te := newTestEngine(t, Config{Workers: 1, SweepMaxAge: time.Hour}, &fakeSummarizer{
		fn: func(context.Context, string, summarize.Window) (*summarize.Artifact, error) {
			t.Fatal("cleanup tasks must not summarize")
			return nil, nil
		},
	})

	// One old terminal task to sweep, one fresh terminal task to keep.
	old := dailyTask(t)
	old.Status = task.StatusCompleted
	old.UpdatedAt = time.Now().UTC().Add(-48 * time.Hour)
	mustSave(t, te.store, old)

	fresh := dailyTask(t)
	fresh.Status = task.StatusFailed
	fresh.UpdatedAt = time.Now().UTC()
	mustSave(t, te.store, fresh)

	cleanup, err := task.New(task.KindCleanup, "ops", "store", task.Daily("03:00", "UTC"), []task.Destination{
		{Type: task.DestChannelPost, Target: "555", Format: task.FormatMarkdown, Enabled: true},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	mustSave(t, te.store, cleanup)

	if err := te.svc.Enqueue(cleanup, 0); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	res := te.wait(t)
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("outcome = %v (err=%s), want success", res.Outcome, res.Err)
	}

	if _, err := te.store.Load(context.Background(), old.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("old terminal task should be swept, Load err = %v", err)
	}
	if _, err := te.store.Load(context.Background(), fresh.ID); err != nil {
		t.Fatalf("fresh terminal task should survive: %v", err)
	}

	posts := te.gateway.all()
	if len(posts) == 0 {
		t.Fatal("sweep report not delivered")
	}
	if !strings.Contains(posts[0].Text, "Removed 1") {
		t.Fatalf("sweep report text: %q", posts[0].Text)
	}
}

func TestEngineRejectsEnqueueAfterStop(t *testing.T) {
	t.Parallel()

	te := newTestEngine(t, Config{Workers: 1}, &fakeSummarizer{
		fn: func(_ context.Context, ref string, _ summarize.Window) (*summarize.Artifact, error) {
			return &summarize.Artifact{Body: "ok", SourceRef: ref}, nil
		},
	})

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	te.svc.Stop(stopCtx)

	tk := dailyTask(t)
	if err := te.svc.Enqueue(tk, 0); !errors.Is(err, ErrStopped) {
		t.Fatalf("Enqueue after stop = %v, want ErrStopped", err)
	}
}
