//go:build linux || darwin
// +build linux darwin

package supervisor

import (
	"context"
	"fmt"

	"github.com/fsnotify/fsnotify"
)

// Watch requests a restart whenever one of paths changes. Every path must be
// watchable at startup; later watcher errors are only logged.
func (s *Supervisor) Watch(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("new watcher: %w", err)
	}

	for _, v := range paths {
		if err := watcher.Add(v); err != nil {
			watcher.Close()
			return fmt.Errorf("add watch target %s: %w", v, err)
		}
	}

	logger := s.logger.Named("watch")
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !isRestartEvent(event) {
					continue
				}
				logger.Infof("received event %v, restarting command", event)
				s.RequestRestart(RestartSourceWatch)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Errorf("watch error: %v", err)
			}
		}
	}()

	logger.Infof("watching %v", paths)
	return nil
}

// isRestartEvent ignores pure attribute changes.
func isRestartEvent(event fsnotify.Event) bool {
	return event.Op != 0 && event.Op != fsnotify.Chmod
}
