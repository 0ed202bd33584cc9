package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"briefbot/internal/task"
)

// exportAll builds an ExportBlob from a store's current records.
// Output is ordered by id so repeated exports diff cleanly.
func exportAll(ctx context.Context, s Store) ([]byte, error) {
	tasks, err := s.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })

	blob := ExportBlob{
		SchemaVersion: task.SchemaVersion,
		ExportedAt:    time.Now().UTC(),
		Tasks:         tasks,
	}
	return json.MarshalIndent(blob, "", "  ")
}

// importAll applies an ExportBlob record by record. Records with a missing
// id, a colliding id, or a validation failure are reported and skipped;
// the rest are saved.
func importAll(ctx context.Context, s Store, blob []byte) (ImportReport, error) {
	var rep ImportReport

	var eb ExportBlob
	if err := json.Unmarshal(blob, &eb); err != nil {
		return rep, fmt.Errorf("import: invalid blob: %w", err)
	}
	if eb.SchemaVersion > task.SchemaVersion {
		return rep, fmt.Errorf("import: blob schema_version %d is newer than supported %d", eb.SchemaVersion, task.SchemaVersion)
	}

	for i, t := range eb.Tasks {
		if t == nil {
			rep.Failed = append(rep.Failed, ImportFailed{ID: fmt.Sprintf("#%d", i), Reason: "null record"})
			continue
		}
		id := strings.TrimSpace(t.ID)
		if id == "" {
			rep.Failed = append(rep.Failed, ImportFailed{ID: fmt.Sprintf("#%d", i), Reason: "missing id"})
			continue
		}
		t.Normalize()
		if err := t.Validate(); err != nil {
			rep.Failed = append(rep.Failed, ImportFailed{ID: id, Reason: err.Error()})
			continue
		}
		if _, err := s.Load(ctx, id); err == nil {
			rep.Failed = append(rep.Failed, ImportFailed{ID: id, Reason: "id already exists"})
			continue
		}
		if err := s.Save(ctx, t); err != nil {
			rep.Failed = append(rep.Failed, ImportFailed{ID: id, Reason: err.Error()})
			continue
		}
		rep.Imported = append(rep.Imported, id)
	}
	return rep, nil
}

// sweepable reports whether a record is past the retention cutoff.
func sweepable(t *task.Task, cutoff time.Time) bool {
	return t != nil && t.Status.Terminal() && t.UpdatedAt.Before(cutoff)
}
