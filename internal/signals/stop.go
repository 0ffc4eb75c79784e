// Package signals implements the stop-signal file that cancels a running
// weave process from another terminal (`weave stop`).
package signals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ErrStopRequested is the cancellation cause when the stop file appears.
var ErrStopRequested = errors.New("stop requested")

const stopFile = "stop"

// pollInterval backs up the watcher for filesystems that drop events.
var pollInterval = time.Second

// Dir returns the signal directory of a repository.
func Dir(repoRoot string) string {
	return filepath.Join(repoRoot, ".weave", "signals")
}

// StopPath returns the stop-signal file of a repository.
func StopPath(repoRoot string) string {
	return filepath.Join(Dir(repoRoot), stopFile)
}

// RequestStop writes the stop signal.
func RequestStop(repoRoot string) error {
	if err := os.MkdirAll(Dir(repoRoot), 0755); err != nil {
		return fmt.Errorf("create signal directory: %w", err)
	}
	stamp := time.Now().UTC().Format(time.RFC3339) + "\n"
	if err := os.WriteFile(StopPath(repoRoot), []byte(stamp), 0644); err != nil {
		return fmt.Errorf("write stop signal: %w", err)
	}
	return nil
}

// Clear removes a pending stop signal.
func Clear(repoRoot string) error {
	if err := os.Remove(StopPath(repoRoot)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear stop signal: %w", err)
	}
	return nil
}

// StopRequested reports whether the stop file exists.
func StopRequested(repoRoot string) bool {
	_, err := os.Stat(StopPath(repoRoot))
	return err == nil
}

// Watch returns a context cancelled with ErrStopRequested once the stop file
// is created. A stale stop file is cleared first. Call the returned function
// to release the watcher.
func Watch(ctx context.Context, repoRoot string, logger *slog.Logger) (context.Context, func(), error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if err := Clear(repoRoot); err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(Dir(repoRoot), 0755); err != nil {
		return nil, nil, fmt.Errorf("create signal directory: %w", err)
	}

	ctx, cancel := context.WithCancelCause(ctx)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("stop watcher unavailable, polling", "error", err)
		watcher = nil
	} else if err := watcher.Add(Dir(repoRoot)); err != nil {
		logger.Warn("stop watcher unavailable, polling", "error", err)
		watcher.Close()
		watcher = nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		var (
			events <-chan fsnotify.Event
			errs   <-chan error
		)
		if watcher != nil {
			events, errs = watcher.Events, watcher.Errors
		}
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					events = nil
					continue
				}
				if filepath.Base(ev.Name) == stopFile && ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
					logger.Info("stop signal received", "path", ev.Name)
					cancel(ErrStopRequested)
					return
				}
			case err, ok := <-errs:
				if !ok {
					errs = nil
					continue
				}
				logger.Warn("stop watcher error", "error", err)
			case <-ticker.C:
				if StopRequested(repoRoot) {
					logger.Info("stop signal received", "path", StopPath(repoRoot))
					cancel(ErrStopRequested)
					return
				}
			}
		}
	}()

	release := func() {
		cancel(context.Canceled)
		<-done
		if watcher != nil {
			watcher.Close()
		}
	}
	return ctx, release, nil
}
