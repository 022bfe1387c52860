package config_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/livetutor/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
live:
  api_key: k
`

const watcherUpdatedYAML = `
server:
  log_level: debug
live:
  api_key: k
prompt:
  system_instruction: updated
`

const watcherInvalidYAML = `
server:
  log_level: bananas
live:
  api_key: k
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %q: %v", path, err)
	}
}

// bumpMtime moves the file's mtime forward so coarse filesystem clocks still
// register a change.
func bumpMtime(t *testing.T, path string) {
	t.Helper()
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

type changeRecorder struct {
	mu    sync.Mutex
	diffs []config.ConfigDiff
}

func (r *changeRecorder) onChange(_, _ *config.Config, d config.ConfigDiff) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.diffs = append(r.diffs, d)
}

func (r *changeRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.diffs)
}

func startWatcher(t *testing.T, path string, rec *changeRecorder) *config.Watcher {
	t.Helper()
	w, err := config.NewWatcher(path, rec.onChange, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = w.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return w
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, watcherValidYAML)

	w := startWatcher(t, path, &changeRecorder{})
	if got := w.Current().Server.LogLevel; got != config.LogInfo {
		t.Errorf("log level: got %q, want info", got)
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, watcherValidYAML)

	rec := &changeRecorder{}
	w := startWatcher(t, path, rec)

	writeFile(t, path, watcherUpdatedYAML)
	bumpMtime(t, path)

	deadline := time.Now().Add(3 * time.Second)
	for rec.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("change not detected")
		}
		time.Sleep(5 * time.Millisecond)
	}

	rec.mu.Lock()
	d := rec.diffs[0]
	rec.mu.Unlock()
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug || !d.PromptChanged {
		t.Errorf("diff: got %+v", d)
	}
	if got := w.Current().Prompt.SystemInstruction; got != "updated" {
		t.Errorf("current prompt: got %q", got)
	}
}

func TestWatcher_InvalidFileKeepsOldConfig(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, watcherValidYAML)

	rec := &changeRecorder{}
	w := startWatcher(t, path, rec)

	writeFile(t, path, watcherInvalidYAML)
	bumpMtime(t, path)
	time.Sleep(100 * time.Millisecond)

	if rec.count() != 0 {
		t.Errorf("onChange fired %d times for an invalid file", rec.count())
	}
	if got := w.Current().Server.LogLevel; got != config.LogInfo {
		t.Errorf("log level: got %q, want info", got)
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestWatcher_TouchWithoutContentChange(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, watcherValidYAML)

	rec := &changeRecorder{}
	startWatcher(t, path, rec)

	bumpMtime(t, path)
	time.Sleep(100 * time.Millisecond)

	if rec.count() != 0 {
		t.Errorf("onChange fired %d times for a touch", rec.count())
	}
}
