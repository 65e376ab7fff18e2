package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"github.com/envirodiy/loggermodem/logging"
)

// reloadDelay is how long the file must stay quiet before it is re-read. Saving a file usually
// produces several events.
const reloadDelay = 100 * time.Millisecond

// Watch re-reads the config file whenever it changes and passes every valid result to onChange.
// Invalid edits are logged and skipped. It returns when ctx is done; a reload still pending then is
// dropped.
func Watch(ctx context.Context, filePath string, logger logging.Logger, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "creating config watcher")
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			logger.Debugw("closing config watcher failed", "error", err)
		}
	}()

	// Editors often replace the file, so watch the directory.
	if err := watcher.Add(filepath.Dir(filePath)); err != nil {
		return errors.Wrapf(err, "watching %q", filePath)
	}
	target := filepath.Clean(filePath)

	reload := func() {
		conf, err := Read(filePath)
		if err != nil {
			logger.Warnw("ignoring invalid config change", "path", filePath, "error", err)
			return
		}
		logger.Infow("config changed", "path", filePath)
		onChange(conf)
	}
	debounced := debounce.New(reloadDelay)
	defer debounced(func() {})

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			debounced(reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warnw("config watcher error", "error", err)
		}
	}
}
