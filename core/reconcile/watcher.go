package reconcile

import (
	"context"
	"time"

	"melodycommons/logger"

	"github.com/fsnotify/fsnotify"
)

// debounce window for filesystem events. Out-of-band deletions often arrive
// in bursts (rm of a whole directory); one sweep covers all of them.
const sweepDebounce = 2 * time.Second

// Watch observes the audio directory and triggers a sweep shortly after any
// file is removed or renamed out from under the library. Blocks until ctx is
// cancelled.
func (r *Reconciler) Watch(ctx context.Context, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return err
	}
	logger.Info("Watching audio directory for out-of-band deletions",
		logger.String("dir", dir))

	var timer *time.Timer
	sweepSoon := func() {
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(sweepDebounce, func() {
			if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
				logger.Error("Watcher-triggered sweep failed", logger.ErrorField(err))
			}
		})
	}
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				logger.Debug("Audio file removed out of band",
					logger.String("file", event.Name))
				sweepSoon()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Audio directory watcher error", logger.ErrorField(err))
		}
	}
}
