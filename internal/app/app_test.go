package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"briefbot/internal/config"
	"briefbot/pkg/logx"
)

func writeConfig(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestNewReleasesStoreOnLaterFailure(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	storePath := filepath.Join(dir, "tasks.db")
	cfgPath := writeConfig(t, fmt.Sprintf(`
logging:
  level: error
storage:
  driver: file
  path: %s
telegram:
  token: ""
summarizer:
  base_url: http://127.0.0.1:1
`, storePath))

	// The empty token fails construction after the store is already open.
	if _, err := New(cfgPath); err == nil {
		t.Fatal("New succeeded without a telegram token")
	}

	// The failed build must not keep the store handle; a fresh open of the
	// same path works and accepts writes.
	cfg, err := config.NewManager(cfgPath).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	st, err := OpenStore(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("OpenStore after failed New: %v", err)
	}
	if _, err := st.LoadAll(context.Background()); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestNewRejectsDisabledStorage(t *testing.T) {
	t.Parallel()

	cfgPath := writeConfig(t, `
logging:
  level: error
storage:
  driver: none
telegram:
  token: "t"
summarizer:
  base_url: http://127.0.0.1:1
`)
	_, err := New(cfgPath)
	if err == nil {
		t.Fatal("New succeeded with storage disabled")
	}
}
