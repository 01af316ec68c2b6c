package logging

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Factory creates component-scoped loggers that share a single global
// level/format configuration, updated in place by ConfigureFactory.
type Factory struct {
	config *Config
	mu     sync.RWMutex
}

var (
	globalFactory     *Factory
	globalFactoryOnce sync.Once
)

// GetFactory returns the process-wide logger factory.
func GetFactory() *Factory {
	globalFactoryOnce.Do(func() {
		globalFactory = &Factory{
			config: &Config{Level: "info", Format: "text", ConsoleEnabled: true},
		}
	})
	return globalFactory
}

// ConfigureFactory updates the configuration new loggers are created with.
func ConfigureFactory(config *Config) {
	f := GetFactory()
	f.mu.Lock()
	defer f.mu.Unlock()
	if config != nil {
		f.config = config
	}
}

// CreateLogger builds a new logger for component using the factory's current config.
func (f *Factory) CreateLogger(component string) *Logger {
	f.mu.RLock()
	config := f.config
	f.mu.RUnlock()

	l := &Logger{Logger: logrus.New(), component: component}
	applyConfig(l, config)
	return l
}

func applyConfig(l *Logger, config *Config) {
	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)
	l.SetFormatter(consoleFormatter(config.Format))

	if !config.ConsoleEnabled && !config.FileEnabled {
		l.SetOutput(discard{})
	}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

// GetLogger is shorthand for GetFactory().CreateLogger(component).
func GetLogger(component string) *Logger {
	return GetFactory().CreateLogger(component)
}

// ConfigureGlobalLogging configures both the factory and the process-wide
// singleton logger returned by Default().
func ConfigureGlobalLogging(config *Config) error {
	ConfigureFactory(config)
	return SetupLogging(config)
}
