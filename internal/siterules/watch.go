package siterules

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/ytget/livecap/internal/logger"
)

// Watch reloads the rules whenever the file at path changes, until ctx is
// done. A script that fails to load is logged and the previous rules stay
// active. The directory is watched so editors that replace the file on
// save are picked up too.
func (r *Rules) Watch(ctx context.Context, path string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch rules: %w", err)
	}
	defer w.Close()

	target := filepath.Clean(path)
	if err := w.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch rules: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			src, err := os.ReadFile(target)
			if err != nil {
				log.Warn("rules reload skipped", logger.Fields{"script": target, "err": err})
				continue
			}
			if err := r.load(string(src)); err != nil {
				log.Warn("rules reload failed, keeping previous rules", logger.Fields{"script": target, "err": err})
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("rules watcher error", logger.Fields{"script": target, "err": err})
		}
	}
}
