package scenario

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/twinforge/twinforge/pkg/telemetry"
)

// Loader loads scenario manifests from a directory and keeps them cached.
// With Watch enabled, manifest edits trigger a debounced reload.
type Loader struct {
	dir    string
	logger *telemetry.Logger

	mu      sync.RWMutex
	cache   map[string]*Config
	watcher *fsnotify.Watcher
}

// NewLoader creates a loader over a manifest directory.
func NewLoader(dir string, logger *telemetry.Logger) *Loader {
	if logger == nil {
		logger = telemetry.NewTestLogger()
	}
	return &Loader{
		dir:    dir,
		logger: logger.WithComponent("scenario-loader"),
		cache:  make(map[string]*Config),
	}
}

// LoadAll loads every manifest in the directory and replaces the cache.
// A manifest that fails to parse is skipped with a warning so one bad file
// does not take down the rest.
func (l *Loader) LoadAll(ctx context.Context) (map[string]*Config, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("read scenario directory: %w", err)
	}

	loaded := make(map[string]*Config)
	for _, entry := range entries {
		if entry.IsDir() || !isManifest(entry.Name()) {
			continue
		}
		path := filepath.Join(l.dir, entry.Name())
		cfg, err := Load(path)
		if err != nil {
			l.logger.Warn("Skipping unreadable scenario manifest",
				"path", path, "error", err.Error())
			continue
		}
		if prior, ok := loaded[cfg.ScenarioID]; ok && prior != nil {
			l.logger.Warn("Duplicate scenario identifier, keeping first",
				"scenario_id", cfg.ScenarioID, "path", path)
			continue
		}
		loaded[cfg.ScenarioID] = cfg
	}

	l.mu.Lock()
	l.cache = loaded
	l.mu.Unlock()

	l.logger.Info("Scenario manifests loaded",
		"count", len(loaded), "dir", l.dir)
	return loaded, nil
}

// Get returns the cached snapshot for a scenario, or nil when unknown.
// Callers receive a clone so a reload cannot mutate an in-flight run.
func (l *Loader) Get(scenarioID string) *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	cfg, ok := l.cache[scenarioID]
	if !ok {
		return nil
	}
	return cfg.Clone()
}

// IDs returns the cached scenario identifiers in sorted order.
func (l *Loader) IDs() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := make([]string, 0, len(l.cache))
	for id := range l.cache {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Watch starts watching the manifest directory and triggers a debounced
// reload on changes. The optional callback runs after each reload.
func (l *Loader) Watch(ctx context.Context, onReload func(map[string]*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(l.dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch scenario directory: %w", err)
	}
	l.watcher = watcher

	go l.processEvents(ctx, onReload)

	l.logger.Info("Watching scenario directory", "dir", l.dir)
	return nil
}

func (l *Loader) processEvents(ctx context.Context, onReload func(map[string]*Config)) {
	var reloadTimer *time.Timer
	reloadDelay := 500 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			if l.watcher != nil {
				_ = l.watcher.Close()
			}
			return

		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if !isManifest(event.Name) {
				continue
			}
			l.logger.Debug("Scenario manifest changed",
				"file", event.Name, "op", event.Op.String())

			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(reloadDelay, func() {
				loaded, err := l.LoadAll(ctx)
				if err != nil {
					l.logger.Error(err, "Scenario reload failed")
					return
				}
				if onReload != nil {
					onReload(loaded)
				}
			})

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error(err, "Scenario watcher error")
		}
	}
}

// StopWatching stops the directory watcher.
func (l *Loader) StopWatching() error {
	if l.watcher != nil {
		return l.watcher.Close()
	}
	return nil
}

func isManifest(name string) bool {
	return strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")
}
