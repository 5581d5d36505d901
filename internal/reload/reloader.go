// Package reload watches source paths and restarts workers when files
// change. Changes are batched per debounce window and published as one
// restart command on the control channel, so a reload is indistinguishable
// from a restart requested over the API.
package reload

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/procfleet/procfleet/internal/supervisor"
)

// Options configures a Reloader.
type Options struct {
	// Paths are the files or directories to watch.
	Paths []string
	// StartupFirst starts replacement processes before stopping old ones.
	StartupFirst bool
	// Debounce is how long to wait after the last change before
	// restarting. Default is 1500ms.
	Debounce time.Duration
}

// Reloader publishes restart commands when watched files change.
type Reloader struct {
	opts    Options
	control *supervisor.Pubsub
	watcher *fsnotify.Watcher
	logger  *slog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

// New creates a reloader publishing to the given control channel.
func New(opts Options, control *supervisor.Pubsub, logger *slog.Logger) *Reloader {
	if opts.Debounce <= 0 {
		opts.Debounce = 1500 * time.Millisecond
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Reloader{
		opts:    opts,
		control: control,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start begins watching the configured paths.
func (r *Reloader) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	r.watcher = watcher

	for _, path := range r.opts.Paths {
		if addErr := watcher.Add(path); addErr != nil {
			watcher.Close()
			return addErr
		}
	}

	r.logger.Info("Auto-reload watcher started",
		"paths", r.opts.Paths,
		"debounce", r.opts.Debounce)
	go r.watch()
	return nil
}

// Stop stops watching and cleans up resources.
func (r *Reloader) Stop() error {
	r.cancel()
	if r.watcher != nil {
		return r.watcher.Close()
	}
	return nil
}

// watch is the main loop that listens for file changes.
func (r *Reloader) watch() {
	var timer *time.Timer
	var timerC <-chan time.Time
	changed := make(map[string]bool)

	for {
		select {
		case <-r.ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			r.logger.Debug("Auto-reload watcher stopped")
			return

		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}

			// Writes, creates and renames all count: editors replace
			// files rather than writing in place.
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				r.logger.Debug("File change detected", "file", event.Name, "op", event.Op.String())
				changed[event.Name] = true

				if timer != nil {
					timer.Stop()
				}
				timer = time.NewTimer(r.opts.Debounce)
				timerC = timer.C
			}

		case <-timerC:
			r.publishRestart(changed)
			changed = make(map[string]bool)
			timerC = nil

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Warn("Auto-reload watcher error", "error", err)
		}
	}
}

// publishRestart sends one restart command covering all changed files.
func (r *Reloader) publishRestart(changed map[string]bool) {
	files := make([]string, 0, len(changed))
	for file := range changed {
		files = append(files, file)
	}
	sort.Strings(files)

	order := supervisor.ShutdownFirst
	if r.opts.StartupFirst {
		order = supervisor.StartupFirst
	}

	r.logger.Info("Files changed, restarting workers",
		"files", files,
		"order", order.String())
	r.control.Send(supervisor.RestartMessage(nil, strings.Join(files, ","), order))
}
