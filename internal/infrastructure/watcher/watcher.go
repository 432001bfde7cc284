// Package watcher wraps fsnotify with debouncing for the local change feed
// that drives pushes to the document store. Editors produce bursts of
// writes per save; the debounce window collapses each burst into one event.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// EventType represents the type of file system event.
type EventType string

// Event types.
const (
	EventCreate EventType = "create"
	EventWrite  EventType = "write"
	EventRemove EventType = "remove"
	EventRename EventType = "rename"
)

// Event is a debounced file system event.
type Event struct {
	Path      string
	Type      EventType
	Timestamp time.Time
}

// Config holds watcher configuration.
type Config struct {
	DebounceDuration time.Duration
	BufferSize       int
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		DebounceDuration: 300 * time.Millisecond,
		BufferSize:       100,
	}
}

// Watcher monitors the agent configuration and workspace files. It wraps
// fsnotify with debouncing and filters out editor temp files.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	config    Config
	events    chan Event
	errors    chan error

	pending   map[string]pendingEvent
	pendingMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool
	mu     sync.Mutex
}

type pendingEvent struct {
	eventType EventType
	timestamp time.Time
}

// New creates a watcher with the given configuration.
func New(cfg Config) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 100
	}
	if cfg.DebounceDuration <= 0 {
		cfg.DebounceDuration = 300 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Watcher{
		fsWatcher: fsWatcher,
		config:    cfg,
		events:    make(chan Event, cfg.BufferSize),
		errors:    make(chan error, cfg.BufferSize),
		pending:   make(map[string]pendingEvent),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Watch starts watching the given files and directories. Paths that do not
// exist are skipped without error; the full sync pass picks up anything
// created later.
func (w *Watcher) Watch(ctx context.Context, paths ...string) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	for _, p := range paths {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			continue
		}
		if err := w.fsWatcher.Add(p); err != nil {
			return err
		}
	}

	w.wg.Add(1)
	go w.processEvents()

	w.wg.Add(1)
	go w.debounceProcessor()

	return nil
}

// Events returns the channel for receiving debounced events.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Errors returns the channel for receiving watcher errors.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Close stops the watcher and releases resources.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	w.cancel()
	err := w.fsWatcher.Close()
	w.wg.Wait()

	close(w.events)
	close(w.errors)

	return err
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}

			if ignoredPath(event.Name) {
				continue
			}

			eventType := convertEventType(event.Op)
			if eventType == "" {
				continue
			}

			w.pendingMu.Lock()
			w.pending[event.Name] = pendingEvent{
				eventType: eventType,
				timestamp: time.Now(),
			}
			w.pendingMu.Unlock()

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			default:
				// Drop error if channel is full
			}
		}
	}
}

func (w *Watcher) debounceProcessor() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.DebounceDuration / 2)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return

		case <-ticker.C:
			w.emitStableEvents()
		}
	}
}

// emitStableEvents flushes pending events that have gone quiet for a full
// debounce window.
func (w *Watcher) emitStableEvents() {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()

	now := time.Now()
	stable := make([]string, 0)

	for path, pending := range w.pending {
		if now.Sub(pending.timestamp) >= w.config.DebounceDuration {
			stable = append(stable, path)
		}
	}

	for _, path := range stable {
		pending := w.pending[path]
		delete(w.pending, path)

		event := Event{
			Path:      path,
			Type:      pending.eventType,
			Timestamp: pending.timestamp,
		}

		select {
		case w.events <- event:
		default:
			// Drop event if channel is full
		}
	}
}

// ignoredPath filters editor temp files and hidden files that never carry
// synced content.
func ignoredPath(path string) bool {
	base := filepath.Base(path)
	if base == ".env" {
		return false
	}
	if strings.HasPrefix(base, ".") {
		return true
	}
	if strings.HasSuffix(base, "~") || strings.HasSuffix(base, ".swp") || strings.HasSuffix(base, ".tmp") {
		return true
	}
	return false
}

func convertEventType(op fsnotify.Op) EventType {
	switch {
	case op.Has(fsnotify.Create):
		return EventCreate
	case op.Has(fsnotify.Write):
		return EventWrite
	case op.Has(fsnotify.Remove):
		return EventRemove
	case op.Has(fsnotify.Rename):
		return EventRename
	default:
		return ""
	}
}
