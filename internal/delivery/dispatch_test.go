package delivery

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"briefbot/internal/summarize"
	"briefbot/internal/task"
	"briefbot/internal/transport"
	"briefbot/pkg/logx"
)

// fakeGateway records posts and fails targets listed in failChats.
type fakeGateway struct {
	mu        sync.Mutex
	posts     map[int64][]string
	failChats map[int64]bool
}

func newFakeGateway(failChats ...int64) *fakeGateway {
	f := &fakeGateway{posts: map[int64][]string{}, failChats: map[int64]bool{}}
	for _, id := range failChats {
		f.failChats[id] = true
	}
	return f
}

func (f *fakeGateway) Post(ctx context.Context, to transport.ChannelRef, content string, opt *transport.PostOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failChats[to.ChatID] {
		return errors.New("gateway unavailable")
	}
	f.posts[to.ChatID] = append(f.posts[to.ChatID], content)
	return nil
}

func (f *fakeGateway) Stop(ctx context.Context) error { return nil }

func (f *fakeGateway) count(chatID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.posts[chatID])
}

func testArtifact() *summarize.Artifact {
	now := time.Now().UTC()
	return &summarize.Artifact{
		Title:       "Daily digest",
		Body:        "summary body",
		SourceRef:   "chan-1",
		Window:      summarize.Window{From: now.Add(-24 * time.Hour), To: now},
		GeneratedAt: now,
	}
}

func testTaskWith(dests ...task.Destination) *task.Task {
	tk, err := task.New(task.KindSummary, "ws-1", "chan-1", task.Daily("09:00", ""), dests)
	if err != nil {
		panic(err)
	}
	return tk
}

func TestDispatchIndependentDestinations(t *testing.T) {
	t.Parallel()

	var hookHits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("webhook content type = %q", r.Header.Get("Content-Type"))
		}
		hookHits++
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	gw := newFakeGateway(666) // chat 666 always fails
	d := New(Config{RatePerSec: 100}, gw, logx.Nop(), nil)

	tk := testTaskWith(
		task.Destination{Type: task.DestChannelPost, Target: "100", Format: task.FormatMarkdown, Enabled: true},
		task.Destination{Type: task.DestChannelPost, Target: "666", Format: task.FormatMarkdown, Enabled: true},
		task.Destination{Type: task.DestWebhook, Target: srv.URL, Format: task.FormatJSON, Enabled: true},
		task.Destination{Type: task.DestChannelPost, Target: "200", Format: task.FormatEmbed, Enabled: false},
	)

	rep := d.Dispatch(context.Background(), tk, testArtifact())

	if len(rep.Results) != 4 {
		t.Fatalf("results = %d, want 4", len(rep.Results))
	}
	if !rep.Results[0].Delivered || rep.Results[0].Skipped {
		t.Fatalf("dest 0 = %+v, want delivered", rep.Results[0])
	}
	if rep.Results[1].Delivered || rep.Results[1].Detail == "" {
		t.Fatalf("dest 1 = %+v, want failed with detail", rep.Results[1])
	}
	if !rep.Results[2].Delivered {
		t.Fatalf("dest 2 = %+v, want delivered", rep.Results[2])
	}
	if !rep.Results[3].Skipped {
		t.Fatalf("dest 3 = %+v, want skipped (disabled)", rep.Results[3])
	}
	if rep.FullyDelivered() {
		t.Fatal("FullyDelivered true despite one failure")
	}
	if gw.count(100) == 0 {
		t.Fatal("chat 100 received nothing")
	}
	if hookHits == 0 {
		t.Fatal("webhook received nothing")
	}
}

func TestDispatchRetriesThenSucceedsCount(t *testing.T) {
	t.Parallel()

	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := New(Config{RatePerSec: 100, SendRetryMax: 2}, newFakeGateway(), logx.Nop(), nil)
	tk := testTaskWith(task.Destination{Type: task.DestWebhook, Target: srv.URL, Format: task.FormatJSON, Enabled: true})

	rep := d.Dispatch(context.Background(), tk, testArtifact())
	if !rep.FullyDelivered() {
		t.Fatalf("report = %+v, want delivered after retries", rep.Results)
	}
	if attempts != 3 {
		t.Fatalf("webhook attempts = %d, want 3", attempts)
	}
}

func TestNotifyFailureUsesFallbackChannel(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	d := New(Config{RatePerSec: 100, FallbackChannel: "42"}, gw, logx.Nop(), nil)

	tk := testTaskWith(task.Destination{Type: task.DestChannelPost, Target: "100", Format: task.FormatMarkdown, Enabled: true})
	if err := d.NotifyFailure(context.Background(), tk, "5 consecutive failures"); err != nil {
		t.Fatalf("NotifyFailure: %v", err)
	}
	if gw.count(42) != 1 {
		t.Fatalf("fallback channel got %d posts, want 1", gw.count(42))
	}

	d.Apply(Config{RatePerSec: 100}) // no fallback configured
	if d.FallbackConfigured() {
		t.Fatal("FallbackConfigured = true with empty channel")
	}
	if err := d.NotifyFailure(context.Background(), tk, "x"); err != nil {
		t.Fatalf("NotifyFailure without fallback should be a no-op, got %v", err)
	}
	if gw.count(42) != 1 {
		t.Fatal("NotifyFailure posted without a configured fallback")
	}
}
