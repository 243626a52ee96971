// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package watch triggers an action when files in a directory change.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/ryanuber/go-glob"
	"go.uber.org/zap"
)

// DefaultDebounce is the quiet period after the last event before the action runs.
const DefaultDebounce = 2 * time.Second

// Watcher watches a directory for changes of the files matching the patterns.
type Watcher struct {
	Dir string
	// Patterns are globs matched against the file base name.
	Patterns []string
	Debounce time.Duration
	Logger   *zap.Logger
}

func (w *Watcher) matches(path string) bool {
	name := filepath.Base(path)

	for _, pattern := range w.Patterns {
		if glob.Glob(pattern, name) {
			return true
		}
	}

	return false
}

// Run calls action after matching files were changed, until ctx is canceled.
//
// Events arriving while the action runs trigger another run afterwards. Errors returned
// by the action are logged.
//
//nolint:gocyclo
func (w *Watcher) Run(ctx context.Context, action func(context.Context) error) error {
	logger := w.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	debounce := w.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to watch: %w", err)
	}

	//nolint:errcheck
	defer watcher.Close()

	if err = watcher.Add(w.Dir); err != nil {
		return fmt.Errorf("failed to add dir watch: %w", err)
	}

	timer := time.NewTimer(debounce)
	timer.Stop()

	defer timer.Stop()

	const relevantOps = fsnotify.Create | fsnotify.Write | fsnotify.Remove | fsnotify.Rename

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if event.Op&relevantOps == 0 || !w.matches(event.Name) {
				continue
			}

			logger.Debug("change detected", zap.String("path", event.Name), zap.Stringer("op", event.Op))

			timer.Reset(debounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			return fmt.Errorf("failed to watch %q: %w", w.Dir, err)
		case <-timer.C:
			if err := action(ctx); err != nil {
				logger.Error("action failed", zap.Error(err))
			}
		}
	}
}
