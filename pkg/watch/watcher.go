// Package watch converts XES files to bxes as they appear in a directory.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"

	"github.com/logflow/bxes/pkg/codec"
	"github.com/logflow/bxes/pkg/xes"
)

// Handler is called once per settled file.
type Handler func(ctx context.Context, path string) error

// Watcher monitors a directory and calls a handler for files with a matching
// suffix once they stop changing.
type Watcher struct {
	watcher  *fsnotify.Watcher
	dir      string
	suffix   string
	debounce time.Duration
	log      logr.Logger

	mu     sync.Mutex
	files  map[string]*fileState
	timers map[string]*time.Timer
	wg     sync.WaitGroup
}

type fileState struct {
	lastModified time.Time
	size         int64
	processing   bool
}

// NewWatcher creates a watcher on dir for files ending in suffix.
func NewWatcher(dir, suffix string, debounce time.Duration, log logr.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to stat directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", abs)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fsWatcher.Add(abs); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch directory: %w", err)
	}

	return &Watcher{
		watcher:  fsWatcher,
		dir:      abs,
		suffix:   strings.ToLower(suffix),
		debounce: debounce,
		log:      log,
		files:    make(map[string]*fileState),
		timers:   make(map[string]*time.Timer),
	}, nil
}

func (w *Watcher) matches(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), w.suffix)
}

// Run starts the watch loop. Files already present are handled first. Blocks
// until ctx is cancelled, then waits for running handlers.
func (w *Watcher) Run(ctx context.Context, h Handler) error {
	defer w.wg.Wait()
	defer w.watcher.Close()

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", w.dir, err)
	}
	for _, e := range entries {
		if !e.IsDir() && w.matches(e.Name()) {
			w.schedule(ctx, filepath.Join(w.dir, e.Name()), h)
		}
	}

	for {
		select {
		case <-ctx.Done():
			w.stopTimers()
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 || !w.matches(event.Name) {
				continue
			}
			w.schedule(ctx, event.Name, h)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Error(err, "watch error", "dir", w.dir)
		}
	}
}

// schedule debounces rapid changes of path.
func (w *Watcher) schedule(ctx context.Context, path string, h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.timers[path]; ok {
		if timer.Stop() {
			w.wg.Done()
		}
	}
	w.wg.Add(1)
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		defer w.wg.Done()
		w.handleChange(ctx, path, h)
	})
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, timer := range w.timers {
		if timer.Stop() {
			w.wg.Done()
		}
		delete(w.timers, path)
	}
}

func (w *Watcher) handleChange(ctx context.Context, path string, h Handler) {
	if ctx.Err() != nil {
		return
	}

	stat, err := os.Stat(path)
	if err != nil {
		w.log.V(1).Info("file vanished", "path", path)
		return
	}

	w.mu.Lock()
	state, ok := w.files[path]
	if !ok {
		state = &fileState{}
		w.files[path] = state
	}
	if state.processing || (ok && stat.ModTime().Equal(state.lastModified) && stat.Size() == state.size) {
		w.mu.Unlock()
		return
	}
	state.processing = true
	state.lastModified = stat.ModTime()
	state.size = stat.Size()
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		state.processing = false
		w.mu.Unlock()
	}()

	if err := h(ctx, path); err != nil {
		w.log.Error(err, "failed to handle file", "path", path)
	}
}

// Converter writes a single-file bxes log next to, or in OutputDir for,
// every XES file it is given.
type Converter struct {
	OutputDir string
	Version   uint32
	Collapse  bool
	Log       logr.Logger
}

// Output returns the bxes path for an XES input.
func (c *Converter) Output(in string) string {
	base := strings.TrimSuffix(filepath.Base(in), filepath.Ext(in)) + ".bxes"
	dir := c.OutputDir
	if dir == "" {
		dir = filepath.Dir(in)
	}
	return filepath.Join(dir, base)
}

// Handle converts path. It matches Handler.
func (c *Converter) Handle(ctx context.Context, path string) error {
	start := time.Now()
	log, err := xes.ReadFile(ctx, path, xes.ReadOptions{CollapseVariants: c.Collapse, Version: c.Version})
	if err != nil {
		return err
	}

	out := c.Output(path)
	if err := codec.WriteSingleFile(out, log, nil); err != nil {
		return err
	}
	c.Log.Info("converted", "input", path, "output", out,
		"variants", len(log.Variants), "events", log.EventCount(), "elapsed", time.Since(start))
	return nil
}
