package ffmpeg

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camerarecorder/streamrecorder/internal/logging"
)

// fakeMuxer wires Muxer to /bin/cat instead of ffmpeg so tests don't depend
// on a real ffmpeg binary: cat copies stdin to the output path verbatim.
func fakeMuxer(t *testing.T, outputPath string) *Muxer {
	t.Helper()
	m := NewMuxer(outputPath, logging.NewLogger("ffmpeg-test"))
	m.newCmd = func(ctx context.Context, outputPath string) *exec.Cmd {
		return exec.CommandContext(ctx, "sh", "-c", "cat > "+outputPath)
	}
	return m
}

func TestMuxerWritesThroughToOutputFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "segment.mp4")

	m := fakeMuxer(t, path)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, m.Start(ctx))
	_, err := m.Write([]byte("hello"))
	require.NoError(t, err)

	require.NoError(t, m.Stop(ctx, time.Second))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestMuxerStartTwiceFails(t *testing.T) {
	dir := t.TempDir()
	m := fakeMuxer(t, filepath.Join(dir, "segment.mp4"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Start(ctx))
	defer m.Stop(ctx, time.Second)

	assert.Error(t, m.Start(ctx))
}

func TestMuxerWriteBeforeStartFails(t *testing.T) {
	m := NewMuxer("/tmp/unused.mp4", logging.NewLogger("ffmpeg-test"))
	_, err := m.Write([]byte("x"))
	assert.Error(t, err)
}

func TestMuxerPIDAfterStart(t *testing.T) {
	dir := t.TempDir()
	m := fakeMuxer(t, filepath.Join(dir, "segment.mp4"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Start(ctx))
	defer m.Stop(ctx, time.Second)

	assert.Greater(t, m.PID(), 0)
}
