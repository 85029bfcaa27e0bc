package config

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// CredentialsFunc receives router credentials after the config file changed.
type CredentialsFunc func(username, password string)

// ConfigWatcher monitors the config file and hands changed router
// credentials to a callback. Other settings need a restart.
type ConfigWatcher struct {
	path        string
	opts        Options
	onChange    CredentialsFunc
	watcher     *fsnotify.Watcher
	stopChan    chan struct{}
	stopOnce    sync.Once
	debounce    time.Duration
	pollEvery   time.Duration
	mu          sync.Mutex
	lastModTime time.Time
	username    string
	password    string
}

// NewConfigWatcher creates a watcher for cfg.ConfigFile.
func NewConfigWatcher(cfg *Config, onChange CredentialsFunc) (*ConfigWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	cw := &ConfigWatcher{
		path:      cfg.ConfigFile,
		opts:      Options{ConfigFile: cfg.ConfigFile, EnvFile: cfg.EnvFile, HassIO: cfg.HassIO},
		onChange:  onChange,
		watcher:   watcher,
		stopChan:  make(chan struct{}),
		debounce:  100 * time.Millisecond,
		pollEvery: 5 * time.Second,
		username:  cfg.Username,
		password:  cfg.Password,
	}
	if stat, err := os.Stat(cw.path); err == nil {
		cw.lastModTime = stat.ModTime()
	}
	return cw, nil
}

// Start begins watching. Editors replace files, so the directory is watched.
func (cw *ConfigWatcher) Start() error {
	dir := filepath.Dir(cw.path)
	if err := cw.watcher.Add(dir); err != nil {
		log.Warn().Err(err).Str("path", dir).Msg("Failed to watch config directory, falling back to polling")
		go cw.pollForChanges()
		return nil
	}

	go cw.handleEvents(cw.watcher.Events, cw.watcher.Errors)
	log.Info().Str("path", cw.path).Msg("Started watching config file for changes")
	return nil
}

// Stop stops the watcher. It is safe to call more than once.
func (cw *ConfigWatcher) Stop() {
	cw.stopOnce.Do(func() {
		close(cw.stopChan)
		cw.watcher.Close()
	})
}

// ReloadConfig re-resolves the credentials now, e.g. on SIGHUP.
func (cw *ConfigWatcher) ReloadConfig() {
	cw.reload()
}

func (cw *ConfigWatcher) handleEvents(events <-chan fsnotify.Event, errs <-chan error) {
	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(cw.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			// Wait for the write to complete.
			time.Sleep(cw.debounce)
			log.Info().Str("event", event.Op.String()).Msg("Detected config file change")
			cw.reload()

		case err, ok := <-errs:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Config watcher error")

		case <-cw.stopChan:
			return
		}
	}
}

func (cw *ConfigWatcher) pollForChanges() {
	ticker := time.NewTicker(cw.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			stat, err := os.Stat(cw.path)
			if err != nil {
				continue
			}
			cw.mu.Lock()
			changed := stat.ModTime().After(cw.lastModTime)
			if changed {
				cw.lastModTime = stat.ModTime()
			}
			cw.mu.Unlock()
			if changed {
				log.Info().Msg("Detected config file change via polling")
				cw.reload()
			}

		case <-cw.stopChan:
			return
		}
	}
}

func (cw *ConfigWatcher) reload() {
	username, password, err := ReadCredentials(cw.opts)
	if err != nil {
		log.Error().Err(err).Str("path", cw.path).Msg("Failed to reload config file")
		return
	}

	cw.mu.Lock()
	var changes []string
	if username != cw.username {
		changes = append(changes, "username updated")
	}
	if password != cw.password {
		changes = append(changes, "password updated")
	}
	cw.username, cw.password = username, password
	cw.mu.Unlock()

	if len(changes) == 0 {
		log.Debug().Msg("No credential changes in config file, other settings apply after restart")
		return
	}

	log.Info().Strs("changes", changes).Msg("Applied config file changes to router credentials")
	if cw.onChange != nil {
		cw.onChange(username, password)
	}
}
