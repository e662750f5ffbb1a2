package config

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches dataDir/settings.json for edits and invokes onChange with
// the freshly reloaded Config, debounced so a burst of writes (editors that
// write-then-rename) triggers one reload, not several. Grounded on the
// teacher's skills.Manager file watcher (internal/skills/manager.go), same
// fsnotify.NewWatcher + debounced AfterFunc shape, generalized from a
// multi-path skill-source watch to a single settings file.
type Watcher struct {
	dataDir  string
	onChange func(*Config)
	logger   *slog.Logger
	debounce time.Duration
	watcher  *fsnotify.Watcher
	cancel   func()
	wg       sync.WaitGroup
}

// NewWatcher constructs a Watcher for dataDir/settings.json. onChange is
// called with the reloaded Config after each debounced settle; reload
// errors are logged and otherwise ignored so a momentarily invalid file
// (mid-write) never crashes the daemon.
func NewWatcher(dataDir string, onChange func(*Config), logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{dataDir: dataDir, onChange: onChange, logger: logger, debounce: 250 * time.Millisecond}
}

// Start begins watching until ctx is canceled or Close is called.
func (w *Watcher) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = watcher

	settingsPath := filepath.Join(w.dataDir, "settings.json")
	if err := watcher.Add(w.dataDir); err != nil {
		watcher.Close()
		return err
	}

	done := make(chan struct{})
	w.cancel = sync.OnceFunc(func() { close(done) })

	w.wg.Add(1)
	go w.loop(watcher, settingsPath, done)
	return nil
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Close() error {
	if w.cancel != nil {
		w.cancel()
	}
	var err error
	if w.watcher != nil {
		err = w.watcher.Close()
	}
	w.wg.Wait()
	return err
}

func (w *Watcher) loop(watcher *fsnotify.Watcher, settingsPath string, done chan struct{}) {
	defer w.wg.Done()

	var mu sync.Mutex
	var timer *time.Timer
	scheduleReload := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(w.debounce, func() {
			cfg, err := Load(w.dataDir)
			if err != nil {
				w.logger.Warn("config: reload after change failed", "error", err)
				return
			}
			if w.onChange != nil {
				w.onChange(cfg)
			}
		})
	}

	for {
		select {
		case <-done:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Name != settingsPath {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				scheduleReload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config: watch error", "error", err)
		}
	}
}
