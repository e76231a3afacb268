package vault

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"engramd/internal/logging"
)

// =============================================================================
// HUMAN-EDIT WATCHER
// =============================================================================

// EditEvent reports a human edit to one summary artifact.
type EditEvent struct {
	File string
	At   time.Time
}

// Watcher monitors the four summary artifacts and emits an EditEvent
// only when a file's embedded checksum no longer matches its item body.
// The daemon's own writes keep the checksum consistent, so they never
// fire; a human edit leaves the checksum stale and does.
type Watcher struct {
	mu          sync.Mutex
	vault       *Vault
	watcher     *fsnotify.Watcher
	events      chan EditEvent
	debounceMap map[string]time.Time
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
}

// NewWatcher creates a Watcher for the vault's summary files.
func NewWatcher(v *Vault) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		vault:       v,
		watcher:     fsw,
		events:      make(chan EditEvent, 16),
		debounceMap: make(map[string]time.Time),
		debounceDur: 500 * time.Millisecond,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Events returns the edit event stream.
func (w *Watcher) Events() <-chan EditEvent {
	return w.events
}

// Start begins watching. Non-blocking; events flow until Stop or
// context cancellation.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	// Watch the vault root: the summary files live there and fsnotify
	// tracks directories more reliably than individual files.
	if err := w.watcher.Add(w.vault.Root()); err != nil {
		logging.Get(logging.CategoryVault).Warn("Vault watch failed (directory may not exist yet): %v", err)
	} else {
		logging.Vault("Watching vault summaries in %s", w.vault.Root())
	}

	go w.run(ctx)
	return nil
}

// Stop halts the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.watcher.Close(); err != nil {
		logging.Get(logging.CategoryVault).Error("Error closing vault watcher: %v", err)
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryVault).Error("Vault watcher error: %v", err)
		case <-ticker.C:
			w.processDebounced()
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}
	name := filepath.Base(event.Name)
	if !isSummaryFile(name) {
		return
	}

	logging.VaultDebug("Summary file touched: %s", name)
	w.mu.Lock()
	w.debounceMap[name] = time.Now()
	w.mu.Unlock()
}

// processDebounced checks files whose events have settled past the
// debounce window.
func (w *Watcher) processDebounced() {
	w.mu.Lock()
	now := time.Now()
	var settled []string
	for name, at := range w.debounceMap {
		if now.Sub(at) >= w.debounceDur {
			settled = append(settled, name)
			delete(w.debounceMap, name)
		}
	}
	w.mu.Unlock()

	for _, name := range settled {
		health, err := w.vault.VerifyFile(name)
		if err != nil {
			logging.Get(logging.CategoryVault).Warn("Verification of %s failed: %v", name, err)
			continue
		}
		if !health.Exists || health.Verified {
			continue
		}
		logging.Vault("Human edit detected in %s", name)
		select {
		case w.events <- EditEvent{File: name, At: now}:
		default:
		}
	}
}

func isSummaryFile(name string) bool {
	for _, f := range SummaryFiles {
		if f == name {
			return true
		}
	}
	return false
}
