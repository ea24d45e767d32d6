package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"

	"github.com/logflow/bxes/pkg/codec"
	"github.com/logflow/bxes/pkg/testing/generators"
	"github.com/logflow/bxes/pkg/xes"
)

func TestWatcher_HandlesMatchingFiles(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "before.xes")
	if err := os.WriteFile(existing, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	w, err := NewWatcher(dir, ".xes", 20*time.Millisecond, logr.Discard())
	if err != nil {
		t.Fatalf("NewWatcher() error: %v", err)
	}

	var mu sync.Mutex
	seen := map[string]int{}
	got := make(chan string, 8)
	h := func(_ context.Context, path string) error {
		mu.Lock()
		seen[filepath.Base(path)]++
		mu.Unlock()
		got <- filepath.Base(path)
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, h) }()

	waitFor := func(name string) {
		t.Helper()
		deadline := time.After(5 * time.Second)
		for {
			select {
			case n := <-got:
				if n == name {
					return
				}
			case <-deadline:
				t.Fatalf("timed out waiting for %s", name)
			}
		}
	}

	waitFor("before.xes")

	if err := os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "new.XES"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	waitFor("new.XES")

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if seen["ignored.txt"] != 0 {
		t.Error("handler called for non-matching file")
	}
	if seen["before.xes"] != 1 {
		t.Errorf("before.xes handled %d times, want 1", seen["before.xes"])
	}
}

func TestNewWatcher_NotDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewWatcher(path, ".xes", time.Millisecond, logr.Discard()); err == nil {
		t.Error("NewWatcher(file) error = nil")
	}
}

func TestConverter_Handle(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()

	log := generators.NewLogGenerator(5).Generate(1)
	path := filepath.Join(in, "sample.xes")
	if err := xes.WriteFile(path, log, xes.WriteOptions{ExpandVariants: true}); err != nil {
		t.Fatalf("xes.WriteFile() error: %v", err)
	}

	c := &Converter{OutputDir: out, Version: 1, Collapse: true, Log: logr.Discard()}
	if err := c.Handle(context.Background(), path); err != nil {
		t.Fatalf("Handle() error: %v", err)
	}

	target := filepath.Join(out, "sample.bxes")
	if c.Output(path) != target {
		t.Errorf("Output() = %s, want %s", c.Output(path), target)
	}
	res, err := codec.ReadSingleFile(target)
	if err != nil {
		t.Fatalf("ReadSingleFile() error: %v", err)
	}
	if res.Log.TraceCount() != log.TraceCount() {
		t.Errorf("TraceCount() = %d, want %d", res.Log.TraceCount(), log.TraceCount())
	}
	if res.Log.EventCount() > log.EventCount() {
		t.Errorf("EventCount() = %d, collapsed log should not exceed %d", res.Log.EventCount(), log.EventCount())
	}
}

func TestConverter_InvalidInput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.xes")
	if err := os.WriteFile(path, []byte("<log><trace>"), 0644); err != nil {
		t.Fatal(err)
	}
	c := &Converter{Version: 1, Log: logr.Discard()}
	if err := c.Handle(context.Background(), path); err == nil {
		t.Error("Handle() error = nil, want parse error")
	}
	if _, err := os.Stat(c.Output(path)); !os.IsNotExist(err) {
		t.Errorf("output exists after failure: %v", err)
	}
}
