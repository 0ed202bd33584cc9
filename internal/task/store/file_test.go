package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"briefbot/internal/task"
	"briefbot/pkg/logx"
)

func newTestTask(t *testing.T, source string) *task.Task {
	t.Helper()
	tk, err := task.New(task.KindSummary, "ws-1", source,
		task.Daily("09:00", ""),
		[]task.Destination{{Type: task.DestChannelPost, Target: "chan-1", Format: task.FormatMarkdown, Enabled: true}},
	)
	if err != nil {
		t.Fatalf("task.New: %v", err)
	}
	return tk
}

func openTestFileStore(t *testing.T, dir string) Store {
	t.Helper()
	s, err := openFile(Config{Driver: "file", Path: filepath.Join(dir, "tasks")}, logx.Nop())
	if err != nil {
		t.Fatalf("openFile: %v", err)
	}
	return s
}

func TestFileStoreRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()

	s := openTestFileStore(t, dir)
	want := newTestTask(t, "chan-roundtrip")
	want.Metadata.RunCount = 3
	want.Metadata.FailureCount = 1
	now := time.Now().UTC().Truncate(time.Millisecond)
	want.Metadata.LastRunAt = &now
	if err := s.Save(ctx, want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopen so the record passes through snapshot/journal replay.
	s = openTestFileStore(t, dir)
	defer s.Close()

	got, err := s.Load(ctx, want.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round-trip mismatch:\n got=%+v\nwant=%+v", got, want)
	}
}

func TestFileStoreLoadAllSkipsCorruptedRecords(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()

	s := openTestFileStore(t, dir)
	ids := map[string]bool{}
	for i := 0; i < 4; i++ {
		tk := newTestTask(t, "chan-ok")
		if err := s.Save(ctx, tk); err != nil {
			t.Fatalf("Save: %v", err)
		}
		ids[tk.ID] = true
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Append one garbage line to the journal.
	jf, err := os.OpenFile(filepath.Join(dir, "tasks.tasks.journal.jsonl"), os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	if _, err := jf.WriteString("{\"op\":\"save\",\"task\":{\"id\"::::\n"); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	_ = jf.Close()

	s = openTestFileStore(t, dir)
	defer s.Close()

	all, err := s.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("LoadAll returned %d tasks, want 4", len(all))
	}
	for _, tk := range all {
		if !ids[tk.ID] {
			t.Fatalf("unexpected task id %q", tk.ID)
		}
	}
}

func TestFileStoreSaveExistingAfterDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := openTestFileStore(t, t.TempDir())
	defer s.Close()

	tk := newTestTask(t, "chan-del")
	if err := s.Save(ctx, tk); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.SaveExisting(ctx, tk); err != nil {
		t.Fatalf("SaveExisting while present: %v", err)
	}
	if err := s.Delete(ctx, tk.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	// A late result write for a deleted task is discarded.
	if err := s.SaveExisting(ctx, tk); err != ErrNotFound {
		t.Fatalf("SaveExisting after delete = %v, want ErrNotFound", err)
	}
	if _, err := s.Load(ctx, tk.ID); err != ErrNotFound {
		t.Fatalf("Load after delete = %v, want ErrNotFound", err)
	}
}

func TestFileStoreSweepRemovesTerminalOnly(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := openTestFileStore(t, t.TempDir())
	defer s.Close()

	old := time.Now().Add(-48 * time.Hour)

	completed := newTestTask(t, "chan-old")
	completed.Status = task.StatusCompleted
	completed.UpdatedAt = old
	scheduled := newTestTask(t, "chan-live")
	scheduled.UpdatedAt = old
	recent := newTestTask(t, "chan-recent")
	recent.Status = task.StatusFailed

	for _, tk := range []*task.Task{completed, scheduled, recent} {
		if err := s.Save(ctx, tk); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	n, err := s.Sweep(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("Sweep removed %d, want 1", n)
	}
	if _, err := s.Load(ctx, completed.ID); err != ErrNotFound {
		t.Fatalf("completed task survived sweep")
	}
	if _, err := s.Load(ctx, scheduled.ID); err != nil {
		t.Fatalf("scheduled task swept: %v", err)
	}
	if _, err := s.Load(ctx, recent.ID); err != nil {
		t.Fatalf("recent terminal task swept: %v", err)
	}
}

func TestExportImportPartial(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	src := NewMemory()
	a := newTestTask(t, "chan-a")
	b := newTestTask(t, "chan-b")
	for _, tk := range []*task.Task{a, b} {
		if err := src.Save(ctx, tk); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	blob, err := src.Export(ctx)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	// Break record b inside the blob: invalid destination type.
	var eb ExportBlob
	if err := json.Unmarshal(blob, &eb); err != nil {
		t.Fatalf("unmarshal blob: %v", err)
	}
	for _, tk := range eb.Tasks {
		if tk.ID == b.ID {
			tk.Destinations[0].Type = "pigeon"
		}
	}
	blob, err = json.Marshal(eb)
	if err != nil {
		t.Fatalf("marshal blob: %v", err)
	}

	dst := NewMemory()
	rep, err := dst.Import(ctx, blob)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if len(rep.Imported) != 1 || rep.Imported[0] != a.ID {
		t.Fatalf("Imported = %v, want [%s]", rep.Imported, a.ID)
	}
	if len(rep.Failed) != 1 || rep.Failed[0].ID != b.ID || rep.Failed[0].Reason == "" {
		t.Fatalf("Failed = %+v, want one entry for %s with a reason", rep.Failed, b.ID)
	}

	// Importing the same blob again fails on the id collision, not the whole call.
	rep, err = dst.Import(ctx, blob)
	if err != nil {
		t.Fatalf("second Import: %v", err)
	}
	if len(rep.Imported) != 0 || len(rep.Failed) != 2 {
		t.Fatalf("second import report = %+v, want 0 imported / 2 failed", rep)
	}
}
