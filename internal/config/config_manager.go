package config

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/camerarecorder/streamrecorder/internal/logging"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Manager loads configuration from YAML with environment variable overrides,
// validates it, and supports hot reload via a filesystem watcher.
type Manager struct {
	lock            sync.RWMutex
	config          *Config
	configPath      string
	updateCallbacks []func(*Config)
	watcher         *fsnotify.Watcher
	watcherLock     sync.Mutex
	watcherStop     chan struct{}
	logger          *logging.Logger
}

// NewManager creates a configuration manager instance.
func NewManager() *Manager {
	return &Manager{
		logger: logging.GetLogger("config-manager"),
	}
}

// Load reads configuration from configPath, applying defaults and
// RECORDER-prefixed environment overrides, then validates the result.
func (m *Manager) Load(configPath string) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if err := validateConfigFile(configPath); err != nil {
		return fmt.Errorf("invalid configuration file: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))
	v.SetEnvPrefix("RECORDER")

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("cannot read configuration file %q: %w", configPath, err)
	}

	cfg := *defaultConfig()
	if err := v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	old := m.config
	m.config = &cfg
	m.configPath = configPath
	m.notifyLocked(old, &cfg)

	m.logger.WithFields(logging.Fields{"config_path": configPath}).Info("configuration loaded")
	return nil
}

func setDefaults(v *viper.Viper) {
	d := defaultConfig()
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("recording.directory", d.Recording.Directory)
	v.SetDefault("database.url", d.Database.URL)
	v.SetDefault("stream.default_source", d.Stream.DefaultSource)
	v.SetDefault("pipeline.ready_timeout_secs", d.Pipeline.ReadyTimeoutSecs)
	v.SetDefault("pipeline.keyframe_wait_secs", d.Pipeline.KeyframeWaitSecs)
	v.SetDefault("pipeline.stop_eos_wait_secs", d.Pipeline.StopEOSWaitSecs)
	v.SetDefault("pipeline.start_deadline_secs", d.Pipeline.StartDeadlineSecs)
	v.SetDefault("pipeline.stop_deadline_secs", d.Pipeline.StopDeadlineSecs)
	v.SetDefault("pipeline.branch_queue_capacity", d.Pipeline.BranchQueueCapacity)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.console_enabled", d.Logging.ConsoleEnabled)
	v.SetDefault("logging.max_file_size", d.Logging.MaxFileSize)
	v.SetDefault("logging.backup_count", d.Logging.BackupCount)
}

func validateConfigFile(path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return fmt.Errorf("configuration file does not exist: %q", path)
	}
	if err != nil {
		return fmt.Errorf("cannot stat configuration file %q: %w", path, err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("configuration file %q is empty", path)
	}
	return nil
}

// Config returns the currently loaded configuration.
func (m *Manager) Config() *Config {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.config
}

// OnUpdate registers a callback invoked (with the new config) every time the
// configuration is reloaded, either explicitly or via hot reload.
func (m *Manager) OnUpdate(cb func(*Config)) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.updateCallbacks = append(m.updateCallbacks, cb)
}

func (m *Manager) notifyLocked(old, updated *Config) {
	for _, cb := range m.updateCallbacks {
		cb(updated)
	}
	_ = old
}

// StartWatching begins watching configPath for changes and reloads the
// configuration whenever the file receives a write or create event. The
// watch is placed on the file itself, not its directory, so a save that
// replaces the file by renaming another file over it is not followed.
func (m *Manager) StartWatching() error {
	m.watcherLock.Lock()
	defer m.watcherLock.Unlock()

	if m.watcher != nil {
		return fmt.Errorf("config watcher already running")
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	path := m.configPath
	if err := w.Add(path); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to watch %q: %w", path, err)
	}

	m.watcher = w
	m.watcherStop = make(chan struct{})
	go m.watchLoop(w, m.watcherStop, path)
	return nil
}

func (m *Manager) watchLoop(w *fsnotify.Watcher, stop chan struct{}, path string) {
	for {
		select {
		case <-stop:
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if err := m.Load(path); err != nil {
					m.logger.WithError(err).Warn("hot reload failed, keeping previous configuration")
				}
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			m.logger.WithError(err).Warn("config watcher error")
		}
	}
}

// StopWatching stops the hot-reload file watcher, if running.
func (m *Manager) StopWatching() error {
	m.watcherLock.Lock()
	defer m.watcherLock.Unlock()

	if m.watcher == nil {
		return nil
	}
	close(m.watcherStop)
	err := m.watcher.Close()
	m.watcher = nil
	return err
}
