package config

import (
	"fmt"
	"net"
	"path/filepath"
	"strings"
)

// validateConfig validates the complete configuration.
func validateConfig(config *Config) error {
	if err := validateServerConfig(&config.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := validateRecordingConfig(&config.Recording); err != nil {
		return fmt.Errorf("recording config: %w", err)
	}
	if err := validateDatabaseConfig(&config.Database); err != nil {
		return fmt.Errorf("database config: %w", err)
	}
	if err := validatePipelineConfig(&config.Pipeline); err != nil {
		return fmt.Errorf("pipeline config: %w", err)
	}
	if err := validateLoggingConfig(&config.Logging); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	return nil
}

func validateServerConfig(c *ServerConfig) error {
	if strings.TrimSpace(c.Host) == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if err := validateHost(c.Host); err != nil {
		return fmt.Errorf("invalid server host: %w", err)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535")
	}
	return nil
}

func validateHost(host string) error {
	if host == "0.0.0.0" || host == "localhost" {
		return nil
	}
	if net.ParseIP(host) != nil {
		return nil
	}
	if _, err := net.LookupHost(host); err == nil {
		return nil
	}
	// Accept unresolved hostnames too; DNS may not be available at load time.
	if strings.ContainsAny(host, " \t\n") {
		return fmt.Errorf("host %q contains whitespace", host)
	}
	return nil
}

func validateRecordingConfig(c *RecordingConfig) error {
	if strings.TrimSpace(c.Directory) == "" {
		return fmt.Errorf("recording directory cannot be empty")
	}
	if !filepath.IsAbs(c.Directory) {
		return fmt.Errorf("recording directory must be an absolute path, got %q", c.Directory)
	}
	return nil
}

func validateDatabaseConfig(c *DatabaseConfig) error {
	if strings.TrimSpace(c.URL) == "" {
		return fmt.Errorf("database url cannot be empty")
	}
	return nil
}

func validatePipelineConfig(c *PipelineConfig) error {
	if c.ReadyTimeoutSecs <= 0 {
		return fmt.Errorf("pipeline.ready_timeout_secs must be positive")
	}
	if c.KeyframeWaitSecs <= 0 {
		return fmt.Errorf("pipeline.keyframe_wait_secs must be positive")
	}
	if c.StopEOSWaitSecs <= 0 {
		return fmt.Errorf("pipeline.stop_eos_wait_secs must be positive")
	}
	if c.StartDeadlineSecs <= 0 {
		return fmt.Errorf("pipeline.start_deadline_secs must be positive")
	}
	if c.StopDeadlineSecs <= 0 {
		return fmt.Errorf("pipeline.stop_deadline_secs must be positive")
	}
	if c.BranchQueueCapacity <= 0 {
		return fmt.Errorf("pipeline.branch_queue_capacity must be positive")
	}
	return nil
}

func validateLoggingConfig(c *LoggingConfig) error {
	switch strings.ToLower(c.Level) {
	case "debug", "info", "warn", "warning", "error", "fatal", "panic", "trace":
	default:
		return fmt.Errorf("invalid logging level %q", c.Level)
	}
	if c.FileEnabled && strings.TrimSpace(c.FilePath) == "" {
		return fmt.Errorf("logging.file_path is required when file_enabled is true")
	}
	return nil
}
