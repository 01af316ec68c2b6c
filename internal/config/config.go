// Package config loads and validates the service's YAML + environment
// configuration and supports hot reload of a subset of settings.
package config

import (
	"fmt"
	"time"
)

// Config represents the complete service configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Recording RecordingConfig `mapstructure:"recording"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Stream    StreamConfig    `mapstructure:"stream"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig is the HTTP control-plane bind address.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// RecordingConfig controls where recordings are written.
type RecordingConfig struct {
	Directory string `mapstructure:"directory"`
}

// DatabaseConfig is the metadata store connection string.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

// StreamConfig holds convenience defaults for stream connection.
type StreamConfig struct {
	DefaultSource string `mapstructure:"default_source"`
}

// PipelineConfig holds the pipeline and recording protocol's timing knobs.
type PipelineConfig struct {
	ReadyTimeoutSecs    int `mapstructure:"ready_timeout_secs"`
	KeyframeWaitSecs    int `mapstructure:"keyframe_wait_secs"`
	StopEOSWaitSecs     int `mapstructure:"stop_eos_wait_secs"`
	StartDeadlineSecs   int `mapstructure:"start_deadline_secs"`
	StopDeadlineSecs    int `mapstructure:"stop_deadline_secs"`
	BranchQueueCapacity int `mapstructure:"branch_queue_capacity"`
}

// LoggingConfig configures the structured logger (ambient stack).
type LoggingConfig struct {
	Level          string `mapstructure:"level"`
	Format         string `mapstructure:"format"`
	FileEnabled    bool   `mapstructure:"file_enabled"`
	FilePath       string `mapstructure:"file_path"`
	MaxFileSize    int    `mapstructure:"max_file_size"`
	BackupCount    int    `mapstructure:"backup_count"`
	ConsoleEnabled bool   `mapstructure:"console_enabled"`
}

// ReadyTimeout is the duration wait_ready blocks for.
func (p PipelineConfig) ReadyTimeout() time.Duration { return time.Duration(p.ReadyTimeoutSecs) * time.Second }

// KeyframeWait is the bounded wait for a keyframe-aligned branch link.
func (p PipelineConfig) KeyframeWait() time.Duration { return time.Duration(p.KeyframeWaitSecs) * time.Second }

// StopEOSWait is the bounded wait for a branch's file-sink EOS.
func (p PipelineConfig) StopEOSWait() time.Duration { return time.Duration(p.StopEOSWaitSecs) * time.Second }

// StartDeadline is the overall deadline for the recording start protocol.
func (p PipelineConfig) StartDeadline() time.Duration { return time.Duration(p.StartDeadlineSecs) * time.Second }

// StopDeadline is the overall deadline for the recording stop protocol.
func (p PipelineConfig) StopDeadline() time.Duration { return time.Duration(p.StopDeadlineSecs) * time.Second }

// String renders a short debug summary of the configuration.
func (c *Config) String() string {
	return fmt.Sprintf("Config{Server: %s:%d, Recording: %s, Database: %s}",
		c.Server.Host, c.Server.Port, c.Recording.Directory, c.Database.URL)
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 3000},
		Recording: RecordingConfig{
			Directory: "/var/lib/streamrecorder/recordings",
		},
		Database: DatabaseConfig{URL: "/var/lib/streamrecorder/recordings.db"},
		Pipeline: PipelineConfig{
			ReadyTimeoutSecs:    10,
			KeyframeWaitSecs:    5,
			StopEOSWaitSecs:     10,
			StartDeadlineSecs:   15,
			StopDeadlineSecs:    15,
			BranchQueueCapacity: 256,
		},
		Logging: LoggingConfig{
			Level:          "info",
			Format:         "text",
			ConsoleEnabled: true,
			MaxFileSize:    10,
			BackupCount:    5,
		},
	}
}
