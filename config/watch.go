package config

import (
	"context"
	"fmt"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/GoCodeAlone/fragments"
	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce collapses the burst of events editors produce for a single save.
const DefaultDebounce = 250 * time.Millisecond

// ChangeFunc receives every successfully reloaded configuration that differs from the
// previous one.
type ChangeFunc func(cfg HostConfig)

// Watcher reloads a config file when it changes on disk.
type Watcher struct {
	path     string
	current  HostConfig
	onChange ChangeFunc
	logger   fragments.Logger
	debounce time.Duration

	fs     *fsnotify.Watcher
	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex
}

// WatchOption configures a Watcher.
type WatchOption func(*Watcher)

// WithWatchLogger logs reloads and rejected configurations.
func WithWatchLogger(logger fragments.Logger) WatchOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithDebounce sets how long the watcher waits after the last filesystem event.
func WithDebounce(d time.Duration) WatchOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// Watch starts watching path. current is the configuration already in use; reloads
// equal to it, or failing to load or validate, do not reach onChange. The directory is
// watched rather than the file so that editors replacing the file are noticed.
func Watch(ctx context.Context, path string, current HostConfig, onChange ChangeFunc, opts ...WatchOption) (*Watcher, error) {
	if _, err := FormatOf(path); err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", path, err)
	}

	w := &Watcher{
		path:     abs,
		current:  current,
		onChange: onChange,
		logger:   fragments.NopLogger{},
		debounce: DefaultDebounce,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	w.fs, err = fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := w.fs.Add(filepath.Dir(abs)); err != nil {
		w.fs.Close()
		return nil, fmt.Errorf("failed to watch %q: %w", filepath.Dir(abs), err)
	}

	ctx, w.cancel = context.WithCancel(ctx)
	go w.loop(ctx)
	w.logger.Info("Watching configuration", "path", abs)
	return w, nil
}

// Current returns the last configuration accepted by the watcher.
func (w *Watcher) Current() HostConfig {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Close stops watching and waits for the watch loop to exit.
func (w *Watcher) Close() error {
	w.cancel()
	<-w.done
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)
	defer w.fs.Close()

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path || !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Error("Configuration watcher error", "path", w.path, "error", err)
		case <-fire:
			fire = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Error("Rejected configuration reload", "path", w.path, "error", err)
		return
	}

	w.mu.Lock()
	unchanged := reflect.DeepEqual(w.current, cfg)
	if !unchanged {
		w.current = cfg
	}
	w.mu.Unlock()

	if unchanged {
		w.logger.Debug("Configuration unchanged after reload", "path", w.path)
		return
	}
	w.logger.Info("Configuration reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(cfg)
	}
}
