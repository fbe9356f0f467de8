// Package watcher reports changes to files in the upload directory.
package watcher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/The-Promised-Neverland/vsharing/pkg/logger"
)

const defaultDebounce = 250 * time.Millisecond

type Watcher struct {
	watchPath     string
	filterConfig  FilterConfig
	events        chan FileEvent
	fsWatcher     *fsnotify.Watcher
	debounceMap   map[string]*time.Timer
	debounceMu    sync.Mutex
	debounceDelay time.Duration
	log           *slog.Logger
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	stopOnce      sync.Once
}

func NewWatcher(ctx context.Context, watchPath string, filterConfig FilterConfig) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Watcher{
		watchPath:     watchPath,
		filterConfig:  filterConfig,
		events:        make(chan FileEvent, 100),
		fsWatcher:     fsWatcher,
		debounceMap:   make(map[string]*time.Timer),
		debounceDelay: defaultDebounce,
		log:           logger.Log.With("component", "watcher"),
		ctx:           ctx,
		cancel:        cancel,
	}, nil
}

func (w *Watcher) Start() error {
	if err := w.fsWatcher.Add(w.watchPath); err != nil {
		return err
	}
	w.log.Info("file watcher started", "path", w.watchPath)
	w.wg.Add(1)
	go w.eventLoop()
	return nil
}

// Stop closes the watcher. Events is closed once pending debounced events
// have been discarded.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		w.cancel()
		w.fsWatcher.Close()
		w.wg.Wait()
		w.debounceMu.Lock()
		for _, timer := range w.debounceMap {
			timer.Stop()
		}
		w.debounceMap = nil
		w.debounceMu.Unlock()
		close(w.events)
		w.log.Info("file watcher stopped")
	})
}

func (w *Watcher) Events() <-chan FileEvent {
	return w.events
}

func (w *Watcher) eventLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !w.filterConfig.ShouldProcess(event.Name) {
		return
	}
	var eventType EventType
	switch {
	case event.Has(fsnotify.Remove):
		eventType = EventRemove
	case event.Has(fsnotify.Rename):
		eventType = EventRename
	case event.Has(fsnotify.Create):
		eventType = EventCreate
	case event.Has(fsnotify.Write):
		eventType = EventWrite
	default:
		return
	}
	w.debounceEvent(eventType, event.Name)
}

// debounceEvent collapses bursts on one path into the last event.
func (w *Watcher) debounceEvent(eventType EventType, path string) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()
	if w.debounceMap == nil {
		return
	}
	if timer, exists := w.debounceMap[path]; exists {
		timer.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(w.debounceDelay, func() {
		w.debounceMu.Lock()
		defer w.debounceMu.Unlock()
		if w.debounceMap == nil || w.debounceMap[path] != timer {
			return
		}
		delete(w.debounceMap, path)
		select {
		case w.events <- FileEvent{Type: eventType, Path: path, Timestamp: time.Now()}:
		default:
			w.log.Warn("events channel full, dropping event", "path", path)
		}
	})
	w.debounceMap[path] = timer
}

// Forgetter drops store state for files that vanished from disk.
type Forgetter interface {
	Forget(id string)
}

// Sync forwards removals to f until the watcher stops.
func (w *Watcher) Sync(f Forgetter) {
	for event := range w.events {
		if !event.Gone() {
			continue
		}
		w.log.Info("upload removed from disk", "file_id", event.Name(), "event", event.Type)
		f.Forget(event.Name())
	}
}
