package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// fingerprint identifies one version of the config file on disk.
type fingerprint struct {
	mtime time.Time
	hash  [sha256.Size]byte
}

// Watcher polls a config file and calls onChange when an edit produces a new
// valid configuration that differs from the current one. Invalid edits are
// logged and ignored. Edits that only touch comments or formatting update
// the fingerprint without a callback.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)
	log      *slog.Logger

	mu      sync.Mutex
	current *Config
	seen    fingerprint

	reload   chan struct{}
	done     chan struct{}
	exited   chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.log = l
		}
	}
}

// NewWatcher loads the file at path and starts polling it.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
		log:      slog.Default(),
		reload:   make(chan struct{}, 1),
		done:     make(chan struct{}),
		exited:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, fp, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current = cfg
	w.seen = fp

	go w.poll()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Reload asks for an immediate check that ignores the modification time,
// as on SIGHUP. It does not block; requests made while one is pending are
// merged.
func (w *Watcher) Reload() {
	select {
	case w.reload <- struct{}{}:
	default:
	}
}

// Stop stops polling and waits for an in-flight callback to return. It is
// safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
	<-w.exited
}

func (w *Watcher) poll() {
	defer close(w.exited)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.check(false)
		case <-w.reload:
			w.check(true)
		}
	}
}

// check reloads the file when its mtime moved, or unconditionally when
// forced, and reports a changed configuration.
func (w *Watcher) check(force bool) {
	info, err := os.Stat(w.path)
	if err != nil {
		w.log.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.seen.mtime)
	w.mu.Unlock()
	if unchanged && !force {
		return
	}

	cfg, fp, err := w.read()
	if err != nil {
		w.log.Warn("config watcher: keeping previous configuration", "path", w.path, "err", err)
		// A broken file is retried after its next modification.
		w.mu.Lock()
		w.seen.mtime = info.ModTime()
		w.mu.Unlock()
		return
	}

	w.mu.Lock()
	sameBytes := fp.hash == w.seen.hash
	w.seen = fp
	old := w.current
	if sameBytes || Diff(old, cfg).Empty() {
		w.mu.Unlock()
		return
	}
	w.current = cfg
	w.mu.Unlock()

	w.log.Info("config watcher: configuration reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
}

// read loads, fingerprints and parses the file.
func (w *Watcher) read() (*Config, fingerprint, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fingerprint{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fingerprint{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fingerprint{}, err
	}
	return cfg, fingerprint{mtime: info.ModTime(), hash: sha256.Sum256(data)}, nil
}
