// Package ffmpeg wraps an ffmpeg subprocess used as the MP4 muxer and
// file-sink for a recording branch: it accepts a raw Annex-B H.264
// elementary stream on stdin and remuxes it into a faststart,
// frag_keyframe-streamable MP4 file.
package ffmpeg

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/camerarecorder/streamrecorder/internal/logging"
)

// Muxer drives one ffmpeg subprocess for the lifetime of one recording.
type Muxer struct {
	outputPath string
	logger     *logging.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	started bool
	done    chan error

	// newCmd builds the subprocess command. Overridden in tests to avoid
	// depending on a real ffmpeg binary being installed.
	newCmd func(ctx context.Context, outputPath string) *exec.Cmd
}

// NewMuxer builds a Muxer that will write to outputPath once started.
func NewMuxer(outputPath string, logger *logging.Logger) *Muxer {
	return &Muxer{
		outputPath: outputPath,
		logger:     logger,
		newCmd: func(ctx context.Context, outputPath string) *exec.Cmd {
			return exec.CommandContext(ctx, "ffmpeg", buildArgs(outputPath)...)
		},
	}
}

// buildArgs mirrors the teacher's BuildCommand helper: assemble the
// argument list, then hand it to exec.CommandContext.
func buildArgs(outputPath string) []string {
	return []string{
		"-hide_banner", "-loglevel", "warning",
		"-f", "h264", "-i", "pipe:0",
		"-c", "copy",
		"-movflags", "+faststart+frag_keyframe+empty_moov",
		"-y",
		outputPath,
	}
}

// Start launches the ffmpeg subprocess. The caller is then expected to
// stream Annex-B bytes via Write and eventually call Stop.
func (m *Muxer) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return fmt.Errorf("ffmpeg muxer: already started")
	}

	if err := os.MkdirAll(filepath.Dir(m.outputPath), 0o755); err != nil {
		return fmt.Errorf("ffmpeg muxer: create output dir: %w", err)
	}

	cmd := m.newCmd(ctx, m.outputPath)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg muxer: stdin pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("ffmpeg muxer: start: %w", err)
	}

	m.cmd = cmd
	m.stdin = stdin
	m.started = true
	m.done = make(chan error, 1)

	go func() {
		m.done <- cmd.Wait()
	}()

	m.logger.WithFields(logging.Fields{
		"pid":         cmd.Process.Pid,
		"output_path": m.outputPath,
	}).Info("ffmpeg muxer started")

	return nil
}

// Write feeds one access unit's Annex-B bytes to ffmpeg's stdin.
func (m *Muxer) Write(p []byte) (int, error) {
	m.mu.Lock()
	stdin := m.stdin
	m.mu.Unlock()
	if stdin == nil {
		return 0, fmt.Errorf("ffmpeg muxer: not started")
	}
	return stdin.Write(p)
}

// Stop closes stdin so ffmpeg can flush its trailer and exit cleanly,
// waiting up to gracePeriod before escalating to SIGTERM and, after a
// further kill grace period, SIGKILL — the same
// terminate-then-wait-then-kill cleanup pattern the teacher's
// FFmpegManager.cleanupFFmpegProcess uses for its own subprocesses.
func (m *Muxer) Stop(ctx context.Context, gracePeriod time.Duration) error {
	m.mu.Lock()
	cmd := m.cmd
	stdin := m.stdin
	done := m.done
	m.mu.Unlock()

	if cmd == nil {
		return nil
	}

	if stdin != nil {
		_ = stdin.Close()
	}

	select {
	case err := <-done:
		return exitErr(err)
	case <-time.After(gracePeriod):
	}

	m.logger.WithField("pid", cmd.Process.Pid).Warn("ffmpeg did not exit after stdin close, sending SIGTERM")
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		m.logger.WithError(err).Warn("failed to send SIGTERM to ffmpeg")
	}

	select {
	case err := <-done:
		return exitErr(err)
	case <-time.After(gracePeriod):
	}

	m.logger.WithField("pid", cmd.Process.Pid).Error("ffmpeg did not respond to SIGTERM, sending SIGKILL")
	if err := cmd.Process.Kill(); err != nil {
		m.logger.WithError(err).Error("failed to SIGKILL ffmpeg")
	}

	select {
	case err := <-done:
		return exitErr(err)
	case <-ctx.Done():
		return fmt.Errorf("ffmpeg muxer: stop deadline exceeded: %w", ctx.Err())
	}
}

// exitErr treats a context-cancellation exit (which surfaces as "signal:
// killed" once we've sent SIGTERM/SIGKILL ourselves) as success, since the
// caller explicitly requested termination.
func exitErr(err error) error {
	if err == nil {
		return nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		if exitErr.ProcessState != nil && !exitErr.ProcessState.Exited() {
			return nil
		}
	}
	return fmt.Errorf("ffmpeg muxer: process exited with error: %w", err)
}

// PID returns the subprocess PID, or 0 if not started.
func (m *Muxer) PID() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cmd == nil || m.cmd.Process == nil {
		return 0
	}
	return m.cmd.Process.Pid
}
