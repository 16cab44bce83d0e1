package conf

import (
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mvirtane/flowdsp-go/internal/logging"
)

// Watcher signals when the config file changes on disk, complementing
// SIGHUP and the control socket as a reload trigger.
type Watcher struct {
	watcher *fsnotify.Watcher
	path    string
	done    chan struct{}
	logger  *slog.Logger
}

// debounceWindow coalesces the event bursts editors produce on save.
const debounceWindow = 250 * time.Millisecond

// WatchFile watches path and calls onChange after each write to it.
func WatchFile(path string, onChange func()) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory: editors replace files on save, which drops a
	// watch held on the file itself.
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, err
	}
	w := &Watcher{
		watcher: fsw,
		path:    filepath.Clean(path),
		done:    make(chan struct{}),
		logger:  logging.ServiceLogger("conf").With("component", "watcher"),
	}
	go w.run(onChange)
	return w, nil
}

func (w *Watcher) run(onChange func()) {
	var last time.Time
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if time.Since(last) < debounceWindow {
				continue
			}
			last = time.Now()
			w.logger.Debug("config file changed on disk", "path", w.path)
			onChange()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)
		case <-w.done:
			return
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
