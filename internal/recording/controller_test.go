package recording

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camerarecorder/streamrecorder/internal/apierror"
	"github.com/camerarecorder/streamrecorder/internal/logging"
	"github.com/camerarecorder/streamrecorder/internal/pipeline"
	"github.com/camerarecorder/streamrecorder/internal/registry"
	"github.com/camerarecorder/streamrecorder/internal/store"
)

// fakeMuxer records everything written to it instead of shelling out to
// ffmpeg, so the protocol can be exercised without a real binary.
type fakeMuxer struct {
	mu      sync.Mutex
	started bool
	stopped bool
	written [][]byte
	failStart bool
}

func (f *fakeMuxer) Start(ctx context.Context) error {
	if f.failStart {
		return assertErr
	}
	f.mu.Lock()
	f.started = true
	f.mu.Unlock()
	return nil
}

func (f *fakeMuxer) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]byte(nil), p...)
	f.written = append(f.written, cp)
	return len(p), nil
}

func (f *fakeMuxer) Stop(ctx context.Context, gracePeriod time.Duration) error {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
	return nil
}

var assertErr = &fakeErr{"fake muxer start failure"}

type fakeErr struct{ s string }

func (e *fakeErr) Error() string { return e.s }

// fakeSource delivers one synthetic keyframe immediately on Connect (so
// Pipeline.Connect reaches Ready) and then keeps emitting keyframes on a
// short tick until Close, so that whenever the controller attaches a new
// branch it observes a keyframe within its wait window.
type fakeSource struct {
	stop chan struct{}
}

func (f *fakeSource) Connect(onAU func(pipeline.AccessUnit), onErr func(error)) error {
	f.stop = make(chan struct{})
	onAU(keyframeAU())
	go func() {
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				onAU(keyframeAU())
			case <-f.stop:
				return
			}
		}
	}()
	return nil
}

func (f *fakeSource) Close() error {
	if f.stop != nil {
		close(f.stop)
	}
	return nil
}

func keyframeAU() pipeline.AccessUnit {
	return pipeline.AccessUnit{NALUs: []pipeline.NALU{{0x05, 0xAA}}}
}

func newTestSession(t *testing.T) *registry.Session {
	t.Helper()
	logger := logging.NewLogger("recording-test")
	reg := registry.New(func(sessionID string, protocol pipeline.Protocol, source string) (*pipeline.Pipeline, error) {
		return pipeline.New(sessionID, &fakeSource{}, logger), nil
	}, logger)

	sess, err := reg.Create(pipeline.RTSP, "rtsp://example/stream")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, sess.Pipeline.Connect(ctx))
	return sess
}

func newTestRegistry(t *testing.T, logger *logging.Logger) *registry.Registry {
	t.Helper()
	return registry.New(func(sessionID string, protocol pipeline.Protocol, source string) (*pipeline.Pipeline, error) {
		return pipeline.New(sessionID, &fakeSource{}, logger), nil
	}, logger)
}

func newTestController(t *testing.T, factory func(string) muxer) (*Controller, *store.Store) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "recordings.db")
	logger := logging.NewLogger("recording-test")
	st, err := store.Open(dbPath, store.DefaultConfig(), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	cfg := Config{
		RecordingDir:        t.TempDir(),
		KeyframeWait:        200 * time.Millisecond,
		StopEOSWait:         time.Second,
		StartDeadline:       time.Second,
		StopDeadline:        time.Second,
		BranchQueueCapacity: 16,
	}
	reg := newTestRegistry(t, logger)
	return newController(cfg, st, reg, logger, factory), st
}

func TestStartFailsWithoutReadyPipeline(t *testing.T) {
	logger := logging.NewLogger("recording-test")
	reg := registry.New(func(sessionID string, protocol pipeline.Protocol, source string) (*pipeline.Pipeline, error) {
		return pipeline.New(sessionID, &fakeSource{}, logger), nil
	}, logger)
	sess, err := reg.Create(pipeline.RTSP, "rtsp://x")
	require.NoError(t, err)

	c, _ := newTestController(t, func(string) muxer { return &fakeMuxer{} })

	_, err = c.Start(context.Background(), sess)
	require.Error(t, err)
	assert.Equal(t, apierror.NotConnected, err.(*apierror.Error).ErrCode)
}

func TestStartAndStopHappyPath(t *testing.T) {
	sess := newTestSession(t)
	fm := &fakeMuxer{}
	c, st := newTestController(t, func(string) muxer { return fm })

	recordingID, err := c.Start(context.Background(), sess)
	require.NoError(t, err)
	assert.NotEmpty(t, recordingID)

	rec, err := st.Get(context.Background(), recordingID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusRecording, rec.Status)

	_, err = c.Stop(context.Background(), sess)
	require.NoError(t, err)
}

func TestStopWithoutActiveRecordingFails(t *testing.T) {
	sess := newTestSession(t)
	c, _ := newTestController(t, func(string) muxer { return &fakeMuxer{} })

	_, err := c.Stop(context.Background(), sess)
	require.Error(t, err)
	assert.Equal(t, apierror.NotRecording, err.(*apierror.Error).ErrCode)
}

func TestStartFailsWhenAlreadyRecording(t *testing.T) {
	sess := newTestSession(t)
	sess.SetActiveRecording("existing")

	c, _ := newTestController(t, func(string) muxer { return &fakeMuxer{} })
	_, err := c.Start(context.Background(), sess)
	require.Error(t, err)
	assert.Equal(t, apierror.AlreadyRecording, err.(*apierror.Error).ErrCode)
}

// TestConcurrentStartsAreSerialized exercises the per-session command
// mailbox directly: two goroutines racing Start against the same session
// must never both observe no active recording. Exactly one succeeds, and
// the other sees ALREADY_RECORDING rather than a second catalog row.
func TestConcurrentStartsAreSerialized(t *testing.T) {
	sess := newTestSession(t)
	c, _ := newTestController(t, func(string) muxer { return &fakeMuxer{} })

	var wg sync.WaitGroup
	results := make([]error, 2)
	wg.Add(2)
	for i := 0; i < 2; i++ {
		i := i
		go func() {
			defer wg.Done()
			_, results[i] = c.Start(context.Background(), sess)
		}()
	}
	wg.Wait()

	successes, alreadyRecording := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			successes++
		case err != nil && err.(*apierror.Error).ErrCode == apierror.AlreadyRecording:
			alreadyRecording++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, alreadyRecording)
}
