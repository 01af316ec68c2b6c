package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camerarecorder/streamrecorder/internal/bus"
	"github.com/camerarecorder/streamrecorder/internal/logging"
	"github.com/camerarecorder/streamrecorder/internal/pipeline"
	"github.com/camerarecorder/streamrecorder/internal/recording"
	"github.com/camerarecorder/streamrecorder/internal/registry"
	"github.com/camerarecorder/streamrecorder/internal/store"
)

// tickingSource emits a synthetic keyframe immediately and then every few
// milliseconds, so both Pipeline.Connect and any subsequently attached
// recording branch observe a keyframe within their wait windows.
type tickingSource struct {
	stop chan struct{}
}

func (t *tickingSource) Connect(onAU func(pipeline.AccessUnit), onErr func(error)) error {
	t.stop = make(chan struct{})
	au := pipeline.AccessUnit{NALUs: []pipeline.NALU{{0x05, 0xAA}}}
	onAU(au)
	go func() {
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				onAU(au)
			case <-t.stop:
				return
			}
		}
	}()
	return nil
}

func (t *tickingSource) Close() error {
	if t.stop != nil {
		close(t.stop)
	}
	return nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := logging.NewLogger("httpapi-test")

	reg := registry.New(func(sessionID string, protocol pipeline.Protocol, source string) (*pipeline.Pipeline, error) {
		return pipeline.New(sessionID, &tickingSource{}, logger), nil
	}, logger)

	dbPath := filepath.Join(t.TempDir(), "recordings.db")
	st, err := store.Open(dbPath, store.DefaultConfig(), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	rec := recording.New(recording.Config{
		RecordingDir:        t.TempDir(),
		KeyframeWait:        500 * time.Millisecond,
		StopEOSWait:         time.Second,
		StartDeadline:       time.Second,
		StopDeadline:        time.Second,
		BranchQueueCapacity: 16,
	}, st, reg, logger)

	sup := bus.New(reg, rec, logger)
	t.Cleanup(sup.Shutdown)

	return New(Config{
		Host:             "127.0.0.1",
		Port:             0,
		ReadyTimeout:     time.Second,
		ReadHeaderSecs:   5,
		WriteTimeoutSecs: 5,
		IdleTimeoutSecs:  30,
	}, reg, rec, st, sup, logger)
}

func doJSON(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rr := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rr, req)
	return rr
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)
	rr := doJSON(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "healthy")
}

func TestConnectStartStopLifecycle(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg binary not available for recording lifecycle test")
	}
	srv := newTestServer(t)

	connRR := doJSON(t, srv, http.MethodPost, "/api/v1/streams/connect", connectRequest{Protocol: "rtsp", URL: "rtsp://example/cam"})
	require.Equal(t, http.StatusAccepted, connRR.Code)

	var connResp map[string]string
	require.NoError(t, json.Unmarshal(connRR.Body.Bytes(), &connResp))
	streamID := connResp["stream_id"]
	require.NotEmpty(t, streamID)

	require.Eventually(t, func() bool {
		rr := doJSON(t, srv, http.MethodGet, "/api/v1/streams/"+streamID+"/status", nil)
		var st streamStatus
		_ = json.Unmarshal(rr.Body.Bytes(), &st)
		return st.IsConnected
	}, time.Second, 10*time.Millisecond)

	startRR := doJSON(t, srv, http.MethodPost, "/api/v1/recordings/"+streamID+"/start", nil)
	require.Equal(t, http.StatusAccepted, startRR.Code)
	var startResp map[string]string
	require.NoError(t, json.Unmarshal(startRR.Body.Bytes(), &startResp))
	recordingID := startResp["recording_id"]
	require.NotEmpty(t, recordingID)

	dupRR := doJSON(t, srv, http.MethodPost, "/api/v1/recordings/"+streamID+"/start", nil)
	assert.Equal(t, http.StatusConflict, dupRR.Code)

	stopRR := doJSON(t, srv, http.MethodPost, "/api/v1/recordings/"+streamID+"/stop", nil)
	assert.Equal(t, http.StatusOK, stopRR.Code)

	getRR := doJSON(t, srv, http.MethodGet, "/api/v1/recordings/"+recordingID, nil)
	assert.Equal(t, http.StatusOK, getRR.Code)

	listRR := doJSON(t, srv, http.MethodGet, "/api/v1/recordings", nil)
	assert.Equal(t, http.StatusOK, listRR.Code)
	var list []recordingSummary
	require.NoError(t, json.Unmarshal(listRR.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	delRR := doJSON(t, srv, http.MethodDelete, "/api/v1/recordings/"+recordingID, nil)
	assert.Equal(t, http.StatusNoContent, delRR.Code)
}

func TestStartOnUnknownStreamReturns404(t *testing.T) {
	srv := newTestServer(t)
	rr := doJSON(t, srv, http.MethodPost, "/api/v1/recordings/00000000-0000-0000-0000-000000000000/start", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestConnectRejectsUnknownProtocol(t *testing.T) {
	srv := newTestServer(t)
	rr := doJSON(t, srv, http.MethodPost, "/api/v1/streams/connect", connectRequest{Protocol: "sip", URL: "sip://x"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestGetUnknownRecordingReturns404(t *testing.T) {
	srv := newTestServer(t)
	rr := doJSON(t, srv, http.MethodGet, "/api/v1/recordings/nope", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestStreamsStatusAllEmpty(t *testing.T) {
	srv := newTestServer(t)
	rr := doJSON(t, srv, http.MethodGet, "/api/v1/streams/status", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Empty(t, body["streams"])
}
