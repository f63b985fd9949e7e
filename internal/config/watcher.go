package config

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Watcher monitors the .env file for changes and re-applies environment
// overrides onto the running config. SIGHUP handling calls Reload directly.
type Watcher struct {
	config      *Config
	envPath     string
	watcher     *fsnotify.Watcher
	stopChan    chan struct{}
	lastModTime time.Time
	mu          sync.Mutex
	onReload    func()
}

// NewWatcher creates a watcher for the config's .env file.
func NewWatcher(cfg *Config) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		config:   cfg,
		envPath:  EnvFilePath(cfg.DataDir),
		watcher:  watcher,
		stopChan: make(chan struct{}),
	}
	if stat, err := os.Stat(w.envPath); err == nil {
		w.lastModTime = stat.ModTime()
	}
	return w, nil
}

// SetReloadCallback sets a function invoked after each successful reload.
func (w *Watcher) SetReloadCallback(callback func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onReload = callback
}

// Start begins watching the directory containing .env. Watching the
// directory rather than the file survives editors that replace the file.
func (w *Watcher) Start() error {
	if err := w.watcher.Add(filepath.Dir(w.envPath)); err != nil {
		return err
	}
	go w.watchForChanges()
	log.Info().Str("env_path", w.envPath).Msg("Started watching config file for changes")
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() {
	select {
	case <-w.stopChan:
		return
	default:
		close(w.stopChan)
	}
	w.watcher.Close()
}

// Reload re-reads .env and re-applies environment overrides.
func (w *Watcher) Reload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := godotenv.Overload(w.envPath); err != nil {
		log.Warn().Err(err).Str("path", w.envPath).Msg("Failed to reload .env file")
		return
	}
	w.config.applyEnv()
	log.Info().Msg("Runtime configuration reloaded from .env")

	if w.onReload != nil {
		w.onReload()
	}
}

func (w *Watcher) watchForChanges() {
	// Editors fire bursts of events for one save; debounce them.
	var debounce *time.Timer

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.envPath {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(250*time.Millisecond, func() {
				stat, err := os.Stat(w.envPath)
				if err != nil {
					return
				}
				w.mu.Lock()
				unchanged := stat.ModTime().Equal(w.lastModTime)
				w.lastModTime = stat.ModTime()
				w.mu.Unlock()
				if unchanged {
					return
				}
				w.Reload()
			})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Config watcher error")

		case <-w.stopChan:
			return
		}
	}
}
