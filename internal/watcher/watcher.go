// Package watcher triggers processing runs from filesystem activity. Events
// are debounced so a burst of writes from one download produces a single
// run, and an optional reconcile interval forces a full scan even when the
// filesystem stays quiet.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"playdeck/internal/config"
)

// Watcher owns the notify loop. The run callback performs one full
// processing pass; the watcher never processes individual paths because a
// pass is cheap once the caches are warm.
type Watcher struct {
	settings  config.WatcherSettings
	sourceDir string
	run       func(context.Context)
	log       zerolog.Logger
}

func New(settings config.WatcherSettings, sourceDir string, run func(context.Context), log zerolog.Logger) *Watcher {
	return &Watcher{
		settings:  settings,
		sourceDir: sourceDir,
		run:       run,
		log:       log,
	}
}

// Run watches until the context is canceled.
func (w *Watcher) Run(ctx context.Context) error {
	roots, err := w.resolveRoots()
	if err != nil {
		return err
	}

	notifier, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer notifier.Close()

	for _, root := range roots {
		if err := addRecursive(notifier, root); err != nil {
			return err
		}
	}
	w.log.Info().Strs("paths", roots).Msg("filesystem watcher started")

	debounce := w.settings.Debounce
	if debounce <= 0 {
		debounce = time.Second
	}
	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	var reconcile <-chan time.Time
	if w.settings.Reconcile > 0 {
		ticker := time.NewTicker(w.settings.Reconcile)
		defer ticker.Stop()
		reconcile = ticker.C
	}

	pending := 0
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-notifier.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Lstat(event.Name); err == nil && info.IsDir() {
					if err := addRecursive(notifier, event.Name); err != nil {
						w.log.Warn().Err(err).Str("path", event.Name).Msg("failed to watch new directory")
					}
					continue
				}
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if !w.matches(event.Name) {
				continue
			}
			pending++
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(debounce)

		case err, ok := <-notifier.Errors:
			if !ok {
				return nil
			}
			w.log.Warn().Err(err).Msg("watcher error")

		case <-timer.C:
			if pending > 0 {
				w.log.Info().Int("changes", pending).Msg("filesystem changes detected, running processor")
				pending = 0
				w.run(ctx)
			}

		case <-reconcile:
			w.log.Info().Msg("watcher reconcile, running full scan")
			w.run(ctx)
		}
	}
}

// matches applies the include globs (when set, at least one must match)
// then the ignore globs against both the basename and the full path.
func (w *Watcher) matches(path string) bool {
	basename := filepath.Base(path)
	if len(w.settings.Include) > 0 {
		included := false
		for _, glob := range w.settings.Include {
			if globMatches(glob, basename, path) {
				included = true
				break
			}
		}
		if !included {
			return false
		}
	}
	for _, glob := range w.settings.Ignore {
		if globMatches(glob, basename, path) {
			return false
		}
	}
	return true
}

func globMatches(glob, basename, path string) bool {
	if ok, err := filepath.Match(glob, basename); err == nil && ok {
		return true
	}
	if ok, err := filepath.Match(glob, path); err == nil && ok {
		return true
	}
	return false
}

// resolveRoots returns the configured watch paths, relative ones anchored at
// the source directory, falling back to the source directory itself.
func (w *Watcher) resolveRoots() ([]string, error) {
	raw := w.settings.Paths
	if len(raw) == 0 {
		raw = []string{w.sourceDir}
	}
	roots := make([]string, 0, len(raw))
	for _, path := range raw {
		if !filepath.IsAbs(path) {
			path = filepath.Join(w.sourceDir, path)
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("create watch path %s: %w", path, err)
		}
		roots = append(roots, path)
	}
	return roots, nil
}

func addRecursive(notifier *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !entry.IsDir() {
			return nil
		}
		return notifier.Add(path)
	})
}
