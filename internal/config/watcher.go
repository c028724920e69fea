package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"llm-relay/domain/llm"
)

const debounceInterval = 100 * time.Millisecond

// PricingWatcher hot-reloads a pricing overrides file. Edits apply without a
// restart; a file that fails to parse keeps the last good overrides in place.
//
// The parent directory is watched rather than the file itself, so
// atomic-rename writes (the usual editor and configmap behavior) keep
// triggering reloads.
type PricingWatcher struct {
	path    string
	apply   func(map[string]llm.ProviderPricing)
	watcher *fsnotify.Watcher

	mu            sync.Mutex
	debounceTimer *time.Timer

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewPricingWatcher loads the overrides once, hands them to apply, and
// starts watching for changes.
func NewPricingWatcher(path string, apply func(map[string]llm.ProviderPricing)) (*PricingWatcher, error) {
	overrides, err := LoadPricingOverrides(path)
	if err != nil {
		return nil, err
	}
	apply(overrides)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	w := &PricingWatcher{
		path:    path,
		apply:   apply,
		watcher: watcher,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}

	go w.run()

	logrus.WithField("file", path).Info("Watching pricing overrides")
	return w, nil
}

func (w *PricingWatcher) run() {
	defer close(w.doneCh)

	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logrus.WithError(err).Error("Pricing overrides watcher error")
		}
	}
}

// scheduleReload debounces rapid write bursts into one reload.
func (w *PricingWatcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(debounceInterval, w.reload)
}

func (w *PricingWatcher) reload() {
	overrides, err := LoadPricingOverrides(w.path)
	if err != nil {
		logrus.WithError(err).WithField("file", w.path).
			Warn("Pricing overrides reload failed, keeping previous values")
		return
	}

	w.apply(overrides)
	logrus.WithFields(logrus.Fields{
		"file":      w.path,
		"overrides": len(overrides),
	}).Info("Pricing overrides reloaded")
}

func (w *PricingWatcher) Stop() error {
	close(w.stopCh)
	<-w.doneCh

	w.mu.Lock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.mu.Unlock()

	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close file watcher: %w", err)
	}
	return nil
}

// LoadPricingOverrides parses a YAML map of provider id to per-1k rates.
func LoadPricingOverrides(path string) (map[string]llm.ProviderPricing, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pricing overrides: %w", err)
	}

	var raw map[string]PricingConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse pricing overrides: %w", err)
	}

	overrides := make(map[string]llm.ProviderPricing, len(raw))
	for id, p := range raw {
		overrides[id] = llm.ProviderPricing{
			InputCostPer1K:  p.InputCostPer1K,
			OutputCostPer1K: p.OutputCostPer1K,
		}
	}
	return overrides, nil
}
