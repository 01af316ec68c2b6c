package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/camerarecorder/streamrecorder/internal/apierror"
	"github.com/camerarecorder/streamrecorder/internal/pipeline"
	"github.com/camerarecorder/streamrecorder/internal/registry"
)

type connectRequest struct {
	Protocol string `json:"protocol"`
	URL      string `json:"url"`
}

// handleStreamsConnect implements POST /api/v1/streams/connect: it
// constructs the session and its Media Pipeline synchronously, then kicks
// off Connect (which may block on network I/O) in the background and
// returns 202 CONNECTING immediately.
func (s *Server) handleStreamsConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, s.logger, apierror.New(apierror.InvalidParameter, "malformed request body"))
		return
	}

	protocol, err := parseProtocol(req.Protocol)
	if err != nil {
		writeAPIError(w, s.logger, err)
		return
	}
	if req.URL == "" {
		writeAPIError(w, s.logger, apierror.New(apierror.InvalidParameter, "url is required"))
		return
	}

	sess, err := s.registry.Create(protocol, req.URL)
	if err != nil {
		writeAPIError(w, s.logger, err)
		return
	}

	s.supervisor.Supervise(sess.ID)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ReadyTimeout)
		defer cancel()
		if err := sess.Pipeline.Connect(ctx); err != nil {
			s.logger.WithError(err).WithField("session_id", sess.ID).Warn("stream failed to reach READY")
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"stream_id": sess.ID,
		"status":    "CONNECTING",
		"message":   "stream connection initiated",
	})
}

func parseProtocol(raw string) (pipeline.Protocol, error) {
	switch raw {
	case "rtsp", "RTSP":
		return pipeline.RTSP, nil
	case "webrtc", "WEBRTC":
		return pipeline.WebRTC, nil
	default:
		return "", apierror.New(apierror.InvalidParameter, "unsupported protocol: "+raw)
	}
}

// handleStreamsDisconnect implements POST /api/v1/streams/{id}/disconnect.
func (s *Server) handleStreamsDisconnect(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, ok := s.registry.Get(id)
	if !ok {
		writeAPIError(w, s.logger, apierror.New(apierror.ResourceNotFound, "unknown stream id"))
		return
	}

	go func() {
		if _, active := sess.ActiveRecording(); active {
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ReadyTimeout)
			if _, err := s.recorder.Stop(ctx, sess); err != nil {
				s.logger.WithError(err).WithField("session_id", id).Warn("failed to finalize recording on disconnect")
			}
			cancel()
		}
		_ = sess.Pipeline.Disconnect()
		s.supervisor.Unsupervise(id)
		s.registry.Remove(id)
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "DISCONNECTING",
		"message": "stream disconnection initiated",
	})
}

type streamStatus struct {
	IsConnected bool      `json:"is_connected"`
	Protocol    string    `json:"protocol"`
	URL         string    `json:"url"`
	IsRecording bool      `json:"is_recording"`
	ConnectedAt time.Time `json:"connected_at"`
}

func streamStatusOf(sess *registry.Session) streamStatus {
	_, recording := sess.ActiveRecording()
	return streamStatus{
		IsConnected: sess.Pipeline.State() == pipeline.Ready,
		Protocol:    string(sess.Protocol),
		URL:         sess.Source,
		IsRecording: recording,
		ConnectedAt: sess.CreatedAt,
	}
}

// handleStreamsStatusAll implements GET /api/v1/streams/status.
func (s *Server) handleStreamsStatusAll(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]streamStatus)
	for _, sess := range s.registry.List() {
		out[sess.ID] = streamStatusOf(sess)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"streams": out})
}

// handleStreamStatus implements GET /api/v1/streams/{id}/status.
func (s *Server) handleStreamStatus(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.registry.Get(r.PathValue("id"))
	if !ok {
		writeAPIError(w, s.logger, apierror.New(apierror.ResourceNotFound, "unknown stream id"))
		return
	}
	writeJSON(w, http.StatusOK, streamStatusOf(sess))
}

// handleStreamDebug implements GET /api/v1/streams/{id}/debug, adding the raw
// pipeline state and a minimal element list (branching point plus any
// attached recording branches) for operator troubleshooting.
func (s *Server) handleStreamDebug(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.registry.Get(r.PathValue("id"))
	if !ok {
		writeAPIError(w, s.logger, apierror.New(apierror.ResourceNotFound, "unknown stream id"))
		return
	}

	elements := []string{"source", "branching_point"}
	if _, active := sess.ActiveRecording(); active {
		elements = append(elements, "recording_branch")
	}

	body := map[string]interface{}{
		"is_connected":   sess.Pipeline.State() == pipeline.Ready,
		"protocol":       string(sess.Protocol),
		"url":            sess.Source,
		"is_recording":   func() bool { _, ok := sess.ActiveRecording(); return ok }(),
		"connected_at":   sess.CreatedAt,
		"pipeline_state": sess.Pipeline.State().String(),
		"pipeline_info": map[string]interface{}{
			"elements": elements,
		},
	}
	writeJSON(w, http.StatusOK, body)
}
